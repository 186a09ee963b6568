package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/praemienvergleich/api/internal/business/compare"
	"github.com/praemienvergleich/api/internal/business/lead"
	"github.com/praemienvergleich/api/internal/business/region"
	"github.com/praemienvergleich/api/internal/business/tariff"
	"github.com/praemienvergleich/api/pkg/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var clock = func() time.Time { return time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC) }

type mockRegions struct {
	mu    sync.Mutex
	data  map[string][]model.PostalRegionEntry
	calls []string
}

func (m *mockRegions) Resolve(ctx context.Context, code string) ([]model.PostalRegionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, code)
	entries, ok := m.data[code]
	if !ok {
		return nil, fmt.Errorf("%s: %w", code, region.ErrNotFound)
	}
	return entries, nil
}

func (m *mockRegions) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type mockTariffs struct {
	tables map[string]tariff.CantonTable
	loads  int
}

func (m *mockTariffs) Load(ctx context.Context, canton string) (tariff.CantonTable, error) {
	m.loads++
	table, ok := m.tables[canton]
	if !ok {
		return nil, fmt.Errorf("%w for canton %s", tariff.ErrDataUnavailable, canton)
	}
	return table, nil
}

type mockLeads struct {
	got []lead.Submission
}

func (m *mockLeads) Submit(ctx context.Context, sub lead.Submission) (model.Lead, error) {
	m.got = append(m.got, sub)
	return model.Lead{ID: "lead-1"}, nil
}

func te(insurer int, name, tariffID string, mt model.ModelType, premium string) model.TariffEntry {
	return model.TariffEntry{
		InsurerID:      insurer,
		InsurerName:    name,
		TariffID:       tariffID,
		TariffName:     tariffID,
		ModelType:      mt,
		MonthlyPremium: decimal.RequireFromString(premium),
	}
}

func fixtures() (*mockRegions, *mockTariffs) {
	regions := &mockRegions{data: map[string][]model.PostalRegionEntry{
		"8001": {{Canton: "ZH", Region: 1, Locality: "Zürich"}},
		"1950": {
			{Canton: "VS", Region: 1, Locality: "Sion"},
			{Canton: "VS", Region: 2, Locality: "Bramois"},
		},
		"6500": {{Canton: "TI", Region: 1, Locality: "Bellinzona"}},
	}}
	tariffs := &mockTariffs{tables: map[string]tariff.CantonTable{
		"ZH": {
			"1": {
				"adult-false-300": {
					te(1, "Alpha", "A-STD", model.ModelStandard, "500"),
					te(1, "Alpha", "A-HMO", model.ModelHMO, "420"),
					te(2, "Beta", "B-TEL", model.ModelTelmed, "440"),
					te(3, "Gamma", "C-STD", model.ModelStandard, "520"),
				},
				"adult-false-2500": {
					te(1, "Alpha", "A-STD25", model.ModelStandard, "380"),
					te(2, "Beta", "B-STD25", model.ModelStandard, "360"),
				},
				"child-true-0": {
					te(1, "Alpha", "A-KID", model.ModelStandard, "120"),
					te(2, "Beta", "B-KID", model.ModelStandard, "110"),
				},
			},
		},
		"VS": {
			"1": {"adult-false-300": {te(4, "Delta", "D1", model.ModelStandard, "400")}},
			"2": {"adult-false-300": {te(4, "Delta", "D2", model.ModelStandard, "390")}},
		},
	}}
	return regions, tariffs
}

func newFlow(t *testing.T) (*Flow, *mockRegions, *mockTariffs, *mockLeads) {
	t.Helper()
	regions, tariffs := fixtures()
	leads := &mockLeads{}
	f := New(regions, tariffs, leads, WithClock(clock), WithDebounce(20*time.Millisecond))
	t.Cleanup(f.Close)
	return f, regions, tariffs, leads
}

func TestHouseholdSeeds(t *testing.T) {
	f, _, _, _ := newFlow(t)

	tests := []struct {
		household HouseholdType
		roles     []Role
	}{
		{HouseholdSingle, []Role{RoleAdult}},
		{HouseholdCouple, []Role{RoleAdult, RoleAdult}},
		{HouseholdFamily, []Role{RoleAdult, RoleAdult, RoleChild, RoleChild}},
		{HouseholdUnborn, []Role{RoleAdult, RoleChild}},
	}
	for _, tt := range tests {
		require.NoError(t, f.SetHousehold(tt.household))
		persons := f.Persons()
		require.Len(t, persons, len(tt.roles), tt.household)
		for i, p := range persons {
			assert.Equal(t, tt.roles[i], p.Role)
			assert.Equal(t, DefaultDeductible(p.AgeGroup(2026)), p.Deductible)
		}
	}

	persons := f.Persons()
	assert.Equal(t, 2026, persons[1].BirthYear, "unborn child is born in the premium year")
	assert.Equal(t, model.AgeChild, persons[1].AgeGroup(2026))
	assert.True(t, persons[1].Accident)
	assert.False(t, persons[0].Accident)

	assert.ErrorIs(t, f.SetHousehold("commune"), ErrInvalidInput)
}

func TestPostalCodeNotFoundBlocksFirstStep(t *testing.T) {
	f, _, _, _ := newFlow(t)
	require.NoError(t, f.SetHousehold(HouseholdSingle))

	err := f.ResolvePostalCode(context.Background(), "9999")
	require.ErrorIs(t, err, region.ErrNotFound)

	err = f.Next()
	require.ErrorIs(t, err, ErrStepIncomplete)
	assert.ErrorIs(t, err, region.ErrNotFound)
	assert.Equal(t, StepHousehold, f.Step())

	require.NoError(t, f.ResolvePostalCode(context.Background(), "8001"))
	require.NoError(t, f.Next())
	assert.Equal(t, StepPersonal, f.Step())
}

func TestFirstStepRequiresHousehold(t *testing.T) {
	f, _, _, _ := newFlow(t)
	require.NoError(t, f.ResolvePostalCode(context.Background(), "8001"))
	assert.ErrorIs(t, f.Next(), ErrNoHousehold)
}

func TestMultipleRegionsDefaultToFirst(t *testing.T) {
	f, _, _, _ := newFlow(t)
	require.NoError(t, f.SetHousehold(HouseholdSingle))
	require.NoError(t, f.ResolvePostalCode(context.Background(), "1950"))

	loc := f.Location()
	require.Len(t, loc.Options, 2)
	require.NotNil(t, loc.Selected)
	assert.Equal(t, "Sion", loc.Selected.Locality)

	require.NoError(t, f.UpdatePerson("p1", func(p *Person) { p.BirthYear = 1980 }))
	require.NoError(t, f.Next())
	require.NoError(t, f.Next())
	require.NoError(t, f.Calculate(context.Background()))
	assert.True(t, f.Results()[0].TotalMonthly.Equal(decimal.NewFromInt(400)))

	require.NoError(t, f.Back(StepHousehold))
	require.NoError(t, f.SelectRegion(1))
	assert.ErrorIs(t, f.SelectRegion(2), ErrInvalidInput)
	require.NoError(t, f.Next())
	require.NoError(t, f.Next())
	assert.ErrorIs(t, f.Next(), ErrNotCalculated, "region change drops the old calculation")
	require.NoError(t, f.Calculate(context.Background()))
	assert.True(t, f.Results()[0].TotalMonthly.Equal(decimal.NewFromInt(390)))
}

func TestPersonalStepValidation(t *testing.T) {
	f, _, _, _ := newFlow(t)
	require.NoError(t, f.SetHousehold(HouseholdCouple))
	require.NoError(t, f.ResolvePostalCode(context.Background(), "8001"))
	require.NoError(t, f.Next())

	err := f.Next()
	require.ErrorIs(t, err, ErrStepIncomplete)
	assert.ErrorIs(t, err, ErrBirthYear)

	require.NoError(t, f.UpdatePerson("p1", func(p *Person) { p.BirthYear = 1985 }))
	require.NoError(t, f.UpdatePerson("p2", func(p *Person) { p.BirthYear = 1987 }))
	require.NoError(t, f.Next())
	assert.Equal(t, StepCoverage, f.Step())

	assert.ErrorIs(t, f.UpdatePerson("p3", func(p *Person) {}), ErrUnknownPerson)
	assert.ErrorIs(t, f.UpdatePerson("p1", func(p *Person) { p.BirthYear = 1850 }), ErrBirthYear)
}

func TestAgeGroupChangeResetsDeductible(t *testing.T) {
	f, _, _, _ := newFlow(t)
	require.NoError(t, f.SetHousehold(HouseholdFamily))

	require.NoError(t, f.UpdatePerson("p3", func(p *Person) {
		p.BirthYear = 2016
		p.Deductible = 600
	}))
	assert.Equal(t, 600, f.Persons()[2].Deductible)

	// Same age group: an unavailable deductible is rejected.
	err := f.UpdatePerson("p3", func(p *Person) { p.Deductible = 1000 })
	assert.ErrorIs(t, err, ErrDeductible)
	assert.Equal(t, 600, f.Persons()[2].Deductible)

	// Moving to adult resets the child-only deductible.
	require.NoError(t, f.UpdatePerson("p3", func(p *Person) { p.BirthYear = 1990 }))
	p3 := f.Persons()[2]
	assert.Equal(t, model.AgeAdult, p3.AgeGroup(2026))
	assert.Equal(t, 300, p3.Deductible)

	// A deductible valid in both groups survives the change.
	require.NoError(t, f.UpdatePerson("p4", func(p *Person) {
		p.BirthYear = 2015
		p.Deductible = 500
	}))
	require.NoError(t, f.UpdatePerson("p4", func(p *Person) { p.BirthYear = 2003 }))
	assert.Equal(t, model.AgeYoungAdult, f.Persons()[3].AgeGroup(2026))
	assert.Equal(t, 500, f.Persons()[3].Deductible)
}

func TestAddRemovePerson(t *testing.T) {
	f, _, _, _ := newFlow(t)
	require.NoError(t, f.SetHousehold(HouseholdSingle))

	id, err := f.AddPerson(RoleChild)
	require.NoError(t, err)
	assert.Equal(t, "p2", id)
	assert.Len(t, f.Persons(), 2)

	require.NoError(t, f.RemovePerson("p1"))
	assert.ErrorIs(t, f.RemovePerson("p2"), ErrInvalidInput)
	assert.ErrorIs(t, f.RemovePerson("p9"), ErrUnknownPerson)
	_, err = f.AddPerson("grandparent")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func driveToCoverage(t *testing.T, f *Flow) {
	t.Helper()
	require.NoError(t, f.SetHousehold(HouseholdFamily))
	require.NoError(t, f.RemovePerson("p4"))
	require.NoError(t, f.ResolvePostalCode(context.Background(), "8001"))
	require.NoError(t, f.Next())
	require.NoError(t, f.UpdatePerson("p1", func(p *Person) { p.BirthYear = 1985; p.Name = "Anna" }))
	require.NoError(t, f.UpdatePerson("p2", func(p *Person) { p.BirthYear = 1984; p.Deductible = 2500 }))
	require.NoError(t, f.UpdatePerson("p3", func(p *Person) { p.BirthYear = 2018 }))
	require.NoError(t, f.Next())
}

func TestCalculateAndRefilter(t *testing.T) {
	f, _, tariffs, _ := newFlow(t)
	driveToCoverage(t, f)

	assert.Empty(t, f.Results(), "no results before calculate")
	require.NoError(t, f.SetCurrentInsurance("Gamma", decimal.NewFromInt(1000)))
	require.NoError(t, f.Calculate(context.Background()))

	results := f.Results()
	// Gamma lacks the 2500 and child buckets, so only Alpha and Beta cover everyone.
	require.Len(t, results, 2)
	assert.Equal(t, 2, results[0].InsurerID)
	assert.True(t, results[0].TotalMonthly.Equal(decimal.NewFromInt(910)), results[0].TotalMonthly.String())
	assert.Equal(t, 1, results[1].InsurerID)
	assert.True(t, results[1].TotalMonthly.Equal(decimal.NewFromInt(920)), results[1].TotalMonthly.String())
	assert.True(t, results[0].YearlySavings.Equal(decimal.NewFromInt(1080)))
	assert.True(t, results[1].YearlySavings.Equal(decimal.NewFromInt(960)))

	f.SetSortDescending(true)
	desc := f.Results()
	assert.Equal(t, 1, desc[0].InsurerID)
	assert.True(t, desc[1].YearlySavings.Equal(decimal.NewFromInt(1080)))
	best, ok := f.Best()
	require.True(t, ok)
	assert.Equal(t, 2, best.InsurerID)
	assert.Equal(t, 1, f.memo.Computations(), "sorting reuses the memoized aggregation")

	// Beta has no standard tariff for the first adult, so only Alpha remains.
	f.SetModelFilter(compare.Filter(model.ModelStandard))
	standard := f.Results()
	require.Len(t, standard, 1)
	assert.Equal(t, 1, standard[0].InsurerID)
	assert.True(t, standard[0].TotalMonthly.Equal(decimal.NewFromInt(1000)), standard[0].TotalMonthly.String())
	assert.True(t, standard[0].YearlySavings.IsZero())
	assert.Equal(t, 1, tariffs.loads, "re-filtering must not reload data")
}

func TestCalculateDataUnavailable(t *testing.T) {
	f, _, _, _ := newFlow(t)
	require.NoError(t, f.SetHousehold(HouseholdSingle))
	require.NoError(t, f.ResolvePostalCode(context.Background(), "6500"))
	require.NoError(t, f.Next())
	require.NoError(t, f.UpdatePerson("p1", func(p *Person) { p.BirthYear = 1970 }))
	require.NoError(t, f.Next())

	err := f.Calculate(context.Background())
	require.ErrorIs(t, err, tariff.ErrDataUnavailable)
	assert.ErrorIs(t, f.CalculationError(), tariff.ErrDataUnavailable)
	assert.Empty(t, f.Results())
	_, ok := f.Best()
	assert.False(t, ok)
}

func TestCalculateRequiresEarlierSteps(t *testing.T) {
	f, _, tariffs, _ := newFlow(t)
	require.NoError(t, f.SetHousehold(HouseholdSingle))

	err := f.Calculate(context.Background())
	assert.ErrorIs(t, err, ErrStepIncomplete)
	assert.Zero(t, tariffs.loads, "validation failures must not touch the data source")
}

func TestBackNavigation(t *testing.T) {
	f, _, _, _ := newFlow(t)
	driveToCoverage(t, f)

	assert.ErrorIs(t, f.Back(StepExtras), ErrNavigation)
	assert.ErrorIs(t, f.Back(StepCoverage), ErrNavigation)
	require.NoError(t, f.Back(StepPersonal))
	require.NoError(t, f.Back(StepHousehold))
	assert.ErrorIs(t, f.Back(0), ErrNavigation)

	require.NoError(t, f.Next())
	require.NoError(t, f.Next())
	require.NoError(t, f.Calculate(context.Background()))
	require.NoError(t, f.Next())
	assert.Equal(t, StepExtras, f.Step())
	assert.ErrorIs(t, f.Next(), ErrNavigation)
}

func TestSubmitHandsOverBestOffer(t *testing.T) {
	f, _, _, leads := newFlow(t)
	driveToCoverage(t, f)
	require.NoError(t, f.SetPreference(PreferRecommended))
	assert.ErrorIs(t, f.SetPreference("luxury"), ErrInvalidInput)
	require.NoError(t, f.Calculate(context.Background()))
	f.SetSortDescending(true)

	_, err := f.Submit(context.Background(), model.LeadContact{FirstName: "Anna"}, model.LeadTracking{})
	assert.ErrorIs(t, err, ErrNavigation)

	require.NoError(t, f.Next())
	f.SetExtras([]string{"dental", " ", "dental", "glasses"})
	l, err := f.Submit(context.Background(), model.LeadContact{FirstName: "Anna", LastName: "Muster", Email: "anna@example.ch"}, model.LeadTracking{FBP: "fb.1.123"})
	require.NoError(t, err)
	assert.Equal(t, "lead-1", l.ID)

	require.Len(t, leads.got, 1)
	sub := leads.got[0]
	assert.Equal(t, "family", sub.HouseholdType)
	assert.Equal(t, "8001", sub.PostalCode)
	require.NotNil(t, sub.Location)
	assert.Equal(t, "ZH", sub.Location.Canton)
	assert.Equal(t, "recommended", sub.Preference)
	assert.Equal(t, []string{"dental", "glasses"}, sub.Extras)
	require.Len(t, sub.Persons, 3)
	assert.Equal(t, "child", sub.Persons[2].AgeGroup)
	require.NotNil(t, sub.TopOffer)
	assert.Equal(t, 2, sub.TopOffer.InsurerID, "top offer ignores the display order")
	assert.Equal(t, "fb.1.123", sub.Tracking.FBP)
}

func TestTypePostalCodeDebounces(t *testing.T) {
	regions, tariffs := fixtures()
	done := make(chan error, 4)
	f := New(regions, tariffs, &mockLeads{},
		WithClock(clock),
		WithDebounce(30*time.Millisecond),
		WithLookupListener(func(err error) { done <- err }))
	defer f.Close()
	require.NoError(t, f.SetHousehold(HouseholdSingle))

	for _, input := range []string{"8", "80", "800", "8001"} {
		f.TypePostalCode(context.Background(), input)
		time.Sleep(5 * time.Millisecond)
	}
	assert.ErrorIs(t, f.Validate(StepHousehold), ErrNoRegion, "unresolved while typing")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("debounced lookup never ran")
	}
	assert.Equal(t, []string{"8001"}, regions.callLog())
	loc := f.Location()
	require.NotNil(t, loc.Selected)
	assert.Equal(t, "ZH", loc.Selected.Canton)
	assert.NoError(t, f.Validate(StepHousehold))
}

func TestReplacePersons(t *testing.T) {
	f, _, _, _ := newFlow(t)
	require.NoError(t, f.SetHousehold(HouseholdSingle))

	err := f.ReplacePersons([]Person{{BirthYear: 1990, Deductible: 2500}, {BirthYear: 2020, Deductible: 0, Accident: true}})
	require.NoError(t, err)
	persons := f.Persons()
	require.Len(t, persons, 2)
	assert.Equal(t, "p1", persons[0].ID)
	assert.Equal(t, RoleChild, persons[1].Role)

	err = f.ReplacePersons([]Person{{BirthYear: 2020, Deductible: 2500}})
	assert.ErrorIs(t, err, ErrDeductible)
	assert.ErrorIs(t, f.ReplacePersons(nil), ErrInvalidInput)
	assert.True(t, errors.Is(f.ReplacePersons([]Person{{BirthYear: 3000, Deductible: 300}}), ErrBirthYear))
}

func TestReplacePersonsKeepsIDsUnique(t *testing.T) {
	f, _, _, _ := newFlow(t)
	require.NoError(t, f.SetHousehold(HouseholdSingle))

	require.NoError(t, f.ReplacePersons([]Person{{ID: "p2", BirthYear: 1980, Deductible: 300}}))
	id, err := f.AddPerson(RoleAdult)
	require.NoError(t, err)
	assert.NotEqual(t, "p2", id)

	seen := map[string]bool{}
	for _, p := range f.Persons() {
		assert.False(t, seen[p.ID], "duplicate id %s", p.ID)
		seen[p.ID] = true
	}

	require.NoError(t, f.ReplacePersons([]Person{{BirthYear: 1980, Deductible: 300}, {ID: "p1", BirthYear: 1982, Deductible: 300}}))
	persons := f.Persons()
	require.Len(t, persons, 2)
	assert.NotEqual(t, persons[0].ID, persons[1].ID)
	assert.Equal(t, "p1", persons[1].ID)

	err = f.ReplacePersons([]Person{{ID: "p1", BirthYear: 1980, Deductible: 300}, {ID: "p1", BirthYear: 1982, Deductible: 300}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestReplacePersonsRejectsUnknownRole(t *testing.T) {
	f, _, _, _ := newFlow(t)
	require.NoError(t, f.SetHousehold(HouseholdSingle))

	err := f.ReplacePersons([]Person{{Role: "grandparent", BirthYear: 1950, Deductible: 300}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	require.NoError(t, f.ReplacePersons([]Person{{Role: RoleAdult, BirthYear: 1950, Deductible: 300}}))
}

type gatedTariffs struct {
	tables  map[string]tariff.CantonTable
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTariffs) Load(ctx context.Context, canton string) (tariff.CantonTable, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.tables[canton], nil
}

func TestCalculateDoesNotBlockEdits(t *testing.T) {
	regions, tariffs := fixtures()
	gated := &gatedTariffs{tables: tariffs.tables, entered: make(chan struct{}, 1), release: make(chan struct{})}
	f := New(regions, gated, &mockLeads{}, WithClock(clock), WithDebounce(20*time.Millisecond))
	t.Cleanup(f.Close)

	require.NoError(t, f.SetHousehold(HouseholdSingle))
	require.NoError(t, f.ResolvePostalCode(context.Background(), "8001"))
	require.NoError(t, f.UpdatePerson("p1", func(p *Person) { p.BirthYear = 1980 }))

	done := make(chan error, 1)
	go func() { done <- f.Calculate(context.Background()) }()
	<-gated.entered

	// Edits go through while the table is still loading.
	edited := make(chan error, 1)
	go func() { edited <- f.ResolvePostalCode(context.Background(), "1950") }()
	select {
	case err := <-edited:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("postal code lookup blocked behind the tariff load")
	}

	close(gated.release)
	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Empty(t, f.Results())
	assert.ErrorIs(t, f.Validate(StepCoverage), ErrNotCalculated)
	assert.Equal(t, "VS", f.Location().Selected.Canton)
}
