package wizard

import (
	"fmt"
	"slices"
	"time"

	"github.com/praemienvergleich/api/pkg/model"
)

// Role is the household position a person was seeded with. It decides the
// age group until a birth year is known.
type Role string

const (
	RoleAdult Role = "adult"
	RoleChild Role = "child"
)

var (
	childDeductibles = []int{0, 100, 200, 300, 400, 500, 600}
	adultDeductibles = []int{300, 500, 1000, 1500, 2000, 2500}
)

// Deductibles returns the selectable deductibles of an age group.
func Deductibles(group model.AgeGroup) []int {
	if group == model.AgeChild {
		return slices.Clone(childDeductibles)
	}
	return slices.Clone(adultDeductibles)
}

// DefaultDeductible is the preselected deductible of an age group.
func DefaultDeductible(group model.AgeGroup) int {
	if group == model.AgeChild {
		return childDeductibles[0]
	}
	return adultDeductibles[0]
}

// ValidDeductible reports whether d is selectable for group.
func ValidDeductible(group model.AgeGroup, d int) bool {
	if group == model.AgeChild {
		return slices.Contains(childDeductibles, d)
	}
	return slices.Contains(adultDeductibles, d)
}

// Person is one household member as entered in the personal-details step.
type Person struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Gender      string    `json:"gender,omitempty"`
	Name        string    `json:"name,omitempty"`
	BirthYear   int       `json:"birthYear,omitempty"`
	Deductible  int       `json:"deductible"`
	Accident    bool      `json:"accident"`
	NewResident bool      `json:"newResident,omitempty"`
	EntryDate   time.Time `json:"entryDate,omitzero"`
}

// AgeGroup derives the age class for the premium year refYear. It is never
// stored so it cannot drift from the birth year.
func (p Person) AgeGroup(refYear int) model.AgeGroup {
	if p.BirthYear == 0 {
		if p.Role == RoleChild {
			return model.AgeChild
		}
		return model.AgeAdult
	}
	return model.AgeGroupFor(p.BirthYear, refYear)
}

// Insured is the tariff-relevant view of p.
func (p Person) Insured(refYear int) model.InsuredPerson {
	return model.InsuredPerson{
		ID:                       p.ID,
		AgeGroup:                 p.AgeGroup(refYear),
		Deductible:               p.Deductible,
		AccidentCoverageIncluded: p.Accident,
	}
}

func (p Person) snapshot(refYear int) model.LeadPerson {
	lp := model.LeadPerson{
		Gender:      p.Gender,
		Name:        p.Name,
		BirthYear:   p.BirthYear,
		AgeGroup:    string(p.AgeGroup(refYear)),
		Deductible:  p.Deductible,
		Accident:    p.Accident,
		NewResident: p.NewResident,
	}
	if p.NewResident && !p.EntryDate.IsZero() {
		lp.EntryDate = p.EntryDate.Format(time.DateOnly)
	}
	return lp
}

func newPerson(n int, role Role) Person {
	group := model.AgeAdult
	if role == RoleChild {
		group = model.AgeChild
	}
	return Person{
		ID:         fmt.Sprintf("p%d", n),
		Role:       role,
		Deductible: DefaultDeductible(group),
		// Children are not covered by an employer's accident insurance.
		Accident: role == RoleChild,
	}
}

func validBirthYear(year, refYear int) bool {
	return year >= refYear-120 && year <= refYear
}
