package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cantons lists the 26 canton codes tariff files exist for.
var Cantons = []string{
	"AG", "AI", "AR", "BE", "BL", "BS", "FR", "GE", "GL", "GR", "JU", "LU", "NE",
	"NW", "OW", "SG", "SH", "SO", "SZ", "TG", "TI", "UR", "VD", "VS", "ZG", "ZH",
}

// PostalRegionEntry maps a postal code to a canton premium region.
type PostalRegionEntry struct {
	Canton   string `json:"canton" firestore:"canton"`
	Region   int    `json:"region" firestore:"region"`
	Locality string `json:"locality" firestore:"locality"`
}

// ModelType is the insurance model of a tariff.
type ModelType string

const (
	ModelStandard ModelType = "standard"
	ModelHausarzt ModelType = "hausarzt"
	ModelHMO      ModelType = "hmo"
	ModelTelmed   ModelType = "telmed"
	ModelOther    ModelType = "other"
)

// Valid reports whether m is one of the known model types.
func (m ModelType) Valid() bool {
	switch m {
	case ModelStandard, ModelHausarzt, ModelHMO, ModelTelmed, ModelOther:
		return true
	}
	return false
}

// TariffEntry is one insurer tariff inside a (canton, region, age group, accident, deductible) bucket.
type TariffEntry struct {
	InsurerID      int             `json:"insurerId"`
	InsurerName    string          `json:"insurerName"`
	TariffID       string          `json:"tariffId"`
	TariffName     string          `json:"tariffName"`
	ModelType      ModelType       `json:"modelType"`
	MonthlyPremium decimal.Decimal `json:"monthlyPremium"`
}

// AgeGroup is the premium age class.
type AgeGroup string

const (
	AgeChild      AgeGroup = "child"
	AgeYoungAdult AgeGroup = "youngAdult"
	AgeAdult      AgeGroup = "adult"
)

// AgeGroupFor derives the age class from a birth year relative to refYear.
func AgeGroupFor(birthYear, refYear int) AgeGroup {
	age := refYear - birthYear
	switch {
	case age <= 18:
		return AgeChild
	case age <= 25:
		return AgeYoungAdult
	default:
		return AgeAdult
	}
}

// InsuredPerson is the tariff-relevant view of one household member.
type InsuredPerson struct {
	ID                       string   `json:"id"`
	AgeGroup                 AgeGroup `json:"ageGroup"`
	Deductible               int      `json:"deductible"`
	AccidentCoverageIncluded bool     `json:"accidentCoverageIncluded"`
}

// InsurerOffer is the household price of one insurer able to cover every person.
type InsurerOffer struct {
	InsurerID         int             `json:"insurerId"`
	InsurerName       string          `json:"insurerName"`
	PerPersonCheapest []TariffEntry   `json:"perPersonCheapest"`
	PerPersonTariffs  [][]TariffEntry `json:"perPersonTariffs,omitempty"`
	TotalMonthly      decimal.Decimal `json:"totalMonthly"`
	TotalYearly       decimal.Decimal `json:"totalYearly"`
	YearlySavings     decimal.Decimal `json:"yearlySavings"`
	OfferedModelTypes []ModelType     `json:"offeredModelTypes"`
}

// LeadPerson is the stored snapshot of a household member.
type LeadPerson struct {
	Gender      string `json:"gender,omitempty" firestore:"gender,omitempty"`
	Name        string `json:"name,omitempty" firestore:"name,omitempty"`
	BirthYear   int    `json:"birthYear,omitempty" firestore:"birthYear,omitempty"`
	AgeGroup    string `json:"ageGroup,omitempty" firestore:"ageGroup,omitempty"`
	Deductible  int    `json:"deductible" firestore:"deductible"`
	Accident    bool   `json:"accident" firestore:"accident"`
	NewResident bool   `json:"newResident,omitempty" firestore:"newResident,omitempty"`
	EntryDate   string `json:"entryDate,omitempty" firestore:"entryDate,omitempty"`
}

// LeadOffer is the stored snapshot of the best offer shown to the visitor.
// Amounts are floats because Firestore cannot encode decimal.Decimal.
type LeadOffer struct {
	InsurerID     int     `json:"insurerId,omitempty" firestore:"insurerId,omitempty"`
	InsurerName   string  `json:"insurerName,omitempty" firestore:"insurerName,omitempty"`
	TotalMonthly  float64 `json:"totalMonthly,omitempty" firestore:"totalMonthly,omitempty"`
	TotalYearly   float64 `json:"totalYearly,omitempty" firestore:"totalYearly,omitempty"`
	YearlySavings float64 `json:"yearlySavings,omitempty" firestore:"yearlySavings,omitempty"`
}

// LeadContact holds the visitor's contact data.
type LeadContact struct {
	FirstName string `json:"firstName" firestore:"firstName"`
	LastName  string `json:"lastName" firestore:"lastName"`
	Email     string `json:"email,omitempty" firestore:"email,omitempty"`
	Phone     string `json:"phone,omitempty" firestore:"phone,omitempty"`
}

// LeadTracking carries attribution data forwarded to the ad platform.
type LeadTracking struct {
	ClientIP  string `json:"-" firestore:"clientIp,omitempty"`
	UserAgent string `json:"-" firestore:"userAgent,omitempty"`
	FBP       string `json:"fbp,omitempty" firestore:"fbp,omitempty"`
	FBC       string `json:"fbc,omitempty" firestore:"fbc,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty" firestore:"sourceUrl,omitempty"`
}

// Lead is the document stored in the `leads` collection.
type Lead struct {
	ID             string       `json:"id" firestore:"id"`
	CreatedAt      time.Time    `json:"createdAt" firestore:"createdAt"`
	Contact        LeadContact  `json:"contact" firestore:"contact"`
	HouseholdType  string       `json:"householdType,omitempty" firestore:"householdType,omitempty"`
	PostalCode     string       `json:"postalCode,omitempty" firestore:"postalCode,omitempty"`
	Canton         string       `json:"canton,omitempty" firestore:"canton,omitempty"`
	Region         int          `json:"region,omitempty" firestore:"region,omitempty"`
	Locality       string       `json:"locality,omitempty" firestore:"locality,omitempty"`
	Persons        []LeadPerson `json:"persons,omitempty" firestore:"persons,omitempty"`
	CurrentInsurer string       `json:"currentInsurer,omitempty" firestore:"currentInsurer,omitempty"`
	CurrentPremium float64      `json:"currentPremium,omitempty" firestore:"currentPremium,omitempty"`
	Preference     string       `json:"preference,omitempty" firestore:"preference,omitempty"`
	Extras         []string     `json:"extras,omitempty" firestore:"extras,omitempty"`
	TopOffer       *LeadOffer   `json:"topOffer,omitempty" firestore:"topOffer,omitempty"`
	Tracking       LeadTracking `json:"tracking" firestore:"tracking"`
	ConversionSent bool         `json:"conversionSent" firestore:"conversionSent"`
}
