package wizard

import (
	"fmt"
	"strings"
)

// HouseholdType seeds the person list in the first step.
type HouseholdType string

const (
	HouseholdSingle HouseholdType = "single"
	HouseholdCouple HouseholdType = "couple"
	HouseholdFamily HouseholdType = "family"
	HouseholdUnborn HouseholdType = "unborn"
)

// ParseHouseholdType accepts the household type names case-insensitively.
func ParseHouseholdType(s string) (HouseholdType, error) {
	h := HouseholdType(strings.ToLower(strings.TrimSpace(s)))
	switch h {
	case HouseholdSingle, HouseholdCouple, HouseholdFamily, HouseholdUnborn:
		return h, nil
	}
	return "", fmt.Errorf("unknown household type %q", s)
}

// seed returns the default persons of a household type. refYear is used as
// the birth year of an unborn child.
func (h HouseholdType) seed(refYear int) []Person {
	var roles []Role
	switch h {
	case HouseholdSingle:
		roles = []Role{RoleAdult}
	case HouseholdCouple:
		roles = []Role{RoleAdult, RoleAdult}
	case HouseholdFamily:
		roles = []Role{RoleAdult, RoleAdult, RoleChild, RoleChild}
	case HouseholdUnborn:
		roles = []Role{RoleAdult, RoleChild}
	}

	persons := make([]Person, 0, len(roles))
	for i, role := range roles {
		persons = append(persons, newPerson(i+1, role))
	}
	if h == HouseholdUnborn {
		persons[len(persons)-1].BirthYear = refYear
	}
	return persons
}
