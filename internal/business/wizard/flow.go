// Package wizard implements the four-step premium calculator flow.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/praemienvergleich/api/internal/business/compare"
	"github.com/praemienvergleich/api/internal/business/lead"
	"github.com/praemienvergleich/api/internal/business/tariff"
	"github.com/praemienvergleich/api/pkg/debounce"
	"github.com/praemienvergleich/api/pkg/model"
	"github.com/shopspring/decimal"
)

// Step is a page of the calculator.
type Step int

const (
	StepHousehold Step = iota + 1
	StepPersonal
	StepCoverage
	StepExtras
)

func (s Step) String() string {
	switch s {
	case StepHousehold:
		return "household"
	case StepPersonal:
		return "personal"
	case StepCoverage:
		return "coverage"
	case StepExtras:
		return "extras"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Preference is the visitor's coarse wish. It is informational only.
type Preference string

const (
	PreferCheapest    Preference = "cheapest"
	PreferRecommended Preference = "recommended"
	PreferOffers      Preference = "offers"
)

var (
	// ErrStepIncomplete wraps the reason a step cannot be left forward.
	ErrStepIncomplete = errors.New("step incomplete")
	ErrNoRegion       = errors.New("no premium region selected")
	ErrNoHousehold    = errors.New("no household type selected")
	ErrNoPersons      = errors.New("household has no persons")
	ErrBirthYear      = errors.New("birth year missing or out of range")
	ErrDeductible     = errors.New("deductible not available for age group")
	ErrNotCalculated  = errors.New("premiums not calculated")
	ErrNavigation     = errors.New("navigation not allowed")
	ErrUnknownPerson  = errors.New("unknown person")
	ErrInvalidInput   = errors.New("invalid input")
	// ErrSuperseded is reported for a lookup or calculation overtaken by newer input.
	ErrSuperseded     = errors.New("superseded by newer input")
)

// RegionResolver resolves postal codes.
type RegionResolver interface {
	Resolve(ctx context.Context, postalCode string) ([]model.PostalRegionEntry, error)
}

// TariffLoader loads canton tariff tables.
type TariffLoader interface {
	Load(ctx context.Context, canton string) (tariff.CantonTable, error)
}

// LeadSubmitter receives the finished calculation.
type LeadSubmitter interface {
	Submit(ctx context.Context, sub lead.Submission) (model.Lead, error)
}

// Option configures a Flow.
type Option func(*Flow)

// WithClock sets the time source used for the premium year.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

// WithDebounce sets the quiet period of TypePostalCode.
func WithDebounce(d time.Duration) Option {
	return func(f *Flow) { f.typing = debounce.New(d) }
}

// WithLookupListener is called after every debounced postal-code lookup.
func WithLookupListener(fn func(error)) Option {
	return func(f *Flow) { f.onLookup = fn }
}

// Flow is one visitor's pass through the calculator. It is safe for use from
// the debounce timer and the caller at the same time.
type Flow struct {
	regions RegionResolver
	tariffs TariffLoader
	leads   LeadSubmitter

	now      func() time.Time
	typing   *debounce.Debouncer
	onLookup func(error)

	mu      sync.Mutex
	step    Step
	reached Step

	household  HouseholdType
	persons    []Person
	nextID     int
	postalCode string
	inputSeq   uint64
	locations  []model.PostalRegionEntry
	selected   int
	lookupErr  error

	currentInsurer string
	currentPremium decimal.Decimal
	preference     Preference

	generation uint64
	calculated bool
	calcErr    error
	raw        [][]model.TariffEntry
	filter     compare.Filter
	descending bool
	memo       compare.Memo

	extras []string
}

// New starts a flow at the household step.
func New(regions RegionResolver, tariffs TariffLoader, leads LeadSubmitter, opts ...Option) *Flow {
	f := &Flow{
		regions:    regions,
		tariffs:    tariffs,
		leads:      leads,
		now:        time.Now,
		typing:     debounce.New(300 * time.Millisecond),
		step:       StepHousehold,
		reached:    StepHousehold,
		selected:   -1,
		filter:     compare.FilterAll,
		preference: PreferCheapest,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Flow) refYear() int {
	return f.now().Year()
}

// Step returns the current step.
func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Next moves forward when the current step is complete.
func (f *Flow) Next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step == StepExtras {
		return fmt.Errorf("%w: already at the last step", ErrNavigation)
	}
	if err := f.validate(f.step); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStepIncomplete, f.step, err)
	}
	f.step++
	if f.step > f.reached {
		f.reached = f.step
	}
	return nil
}

// Back returns to an earlier step.
func (f *Flow) Back(to Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if to < StepHousehold || to >= f.step {
		return fmt.Errorf("%w: cannot go back from %s to %s", ErrNavigation, f.step, to)
	}
	f.step = to
	return nil
}

// Validate reports why step cannot be left forward, or nil.
func (f *Flow) Validate(step Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validate(step)
}

func (f *Flow) validate(step Step) error {
	switch step {
	case StepHousehold:
		if f.household == "" {
			return ErrNoHousehold
		}
		if f.lookupErr != nil {
			return f.lookupErr
		}
		if f.selected < 0 || f.selected >= len(f.locations) {
			return ErrNoRegion
		}
	case StepPersonal:
		if len(f.persons) == 0 {
			return ErrNoPersons
		}
		for _, p := range f.persons {
			if p.BirthYear == 0 {
				return fmt.Errorf("%w: %s", ErrBirthYear, p.ID)
			}
			if p.Deductible < 0 {
				return fmt.Errorf("%w: %s", ErrDeductible, p.ID)
			}
		}
	case StepCoverage:
		if !f.calculated {
			return ErrNotCalculated
		}
	}
	return nil
}

// invalidate drops results that depend on household, location or persons.
func (f *Flow) invalidate() {
	f.generation++
	f.calculated = false
	f.calcErr = nil
	f.raw = nil
	f.memo.Reset()
}

// SetHousehold picks the household type and seeds its persons, replacing any
// persons entered before.
func (f *Flow) SetHousehold(h HouseholdType) error {
	if _, err := ParseHouseholdType(string(h)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.household = h
	f.persons = h.seed(f.refYear())
	f.nextID = len(f.persons)
	f.invalidate()
	return nil
}

// Household returns the selected household type.
func (f *Flow) Household() HouseholdType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.household
}

// TypePostalCode records keyboard input. The lookup runs once the input has
// been stable for the debounce period; newer input supersedes pending lookups.
func (f *Flow) TypePostalCode(ctx context.Context, code string) {
	f.mu.Lock()
	f.inputSeq++
	seq := f.inputSeq
	f.postalCode = strings.TrimSpace(code)
	f.locations = nil
	f.selected = -1
	f.lookupErr = nil
	f.invalidate()
	f.mu.Unlock()

	f.typing.Schedule(func() {
		err := f.resolve(ctx, code, seq)
		if f.onLookup != nil {
			f.onLookup(err)
		}
	})
}

// ResolvePostalCode looks up code immediately and selects its first region.
// A not-found or unavailable lookup is recorded and blocks the first step.
func (f *Flow) ResolvePostalCode(ctx context.Context, code string) error {
	f.mu.Lock()
	f.inputSeq++
	seq := f.inputSeq
	f.mu.Unlock()
	return f.resolve(ctx, code, seq)
}

func (f *Flow) resolve(ctx context.Context, code string, seq uint64) error {
	code = strings.TrimSpace(code)
	entries, err := f.regions.Resolve(ctx, code)

	f.mu.Lock()
	defer f.mu.Unlock()
	if seq != f.inputSeq {
		return ErrSuperseded
	}
	f.postalCode = code
	f.invalidate()
	if err != nil {
		f.locations = nil
		f.selected = -1
		f.lookupErr = err
		return err
	}
	f.locations = entries
	f.selected = 0
	f.lookupErr = nil
	return nil
}

// SelectRegion picks one of several regions sharing the postal code.
func (f *Flow) SelectRegion(i int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.locations) {
		return fmt.Errorf("%w: region index %d of %d", ErrInvalidInput, i, len(f.locations))
	}
	if i != f.selected {
		f.selected = i
		f.invalidate()
	}
	return nil
}

// Location describes the resolved postal code.
type Location struct {
	PostalCode string                    `json:"postalCode"`
	Options    []model.PostalRegionEntry `json:"options"`
	Selected   *model.PostalRegionEntry  `json:"selected,omitempty"`
	Err        error                     `json:"-"`
}

// Location returns the postal code state of the first step.
func (f *Flow) Location() Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	loc := Location{
		PostalCode: f.postalCode,
		Options:    slices.Clone(f.locations),
		Err:        f.lookupErr,
	}
	if sel := f.selectedLocation(); sel != nil {
		loc.Selected = sel
	}
	return loc
}

func (f *Flow) selectedLocation() *model.PostalRegionEntry {
	if f.selected < 0 || f.selected >= len(f.locations) {
		return nil
	}
	e := f.locations[f.selected]
	return &e
}

// Persons returns a copy of the household members.
func (f *Flow) Persons() []Person {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.persons)
}

// AddPerson appends a member with the defaults of role and returns its id.
func (f *Flow) AddPerson(role Role) (string, error) {
	if role != RoleAdult && role != RoleChild {
		return "", fmt.Errorf("%w: role %q", ErrInvalidInput, role)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := newPerson(f.mintID(), role)
	f.persons = append(f.persons, p)
	f.invalidate()
	return p.ID, nil
}

// RemovePerson drops a member. The last person cannot be removed.
func (f *Flow) RemovePerson(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownPerson, id)
	}
	if len(f.persons) == 1 {
		return fmt.Errorf("%w: household needs at least one person", ErrInvalidInput)
	}
	f.persons = slices.Delete(f.persons, i, i+1)
	f.invalidate()
	return nil
}

// mintID returns the next "pN" number not used by any person.
func (f *Flow) mintID() int {
	for {
		f.nextID++
		if f.indexOf(fmt.Sprintf("p%d", f.nextID)) < 0 {
			return f.nextID
		}
	}
}

// UpdatePerson applies fn to a copy of the person and stores it when valid.
// When the change moves the person into another age group, a deductible that
// group does not offer is reset to the group default. Otherwise an invalid
// deductible is rejected.
func (f *Flow) UpdatePerson(id string, fn func(*Person)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownPerson, id)
	}
	refYear := f.refYear()
	before := f.persons[i]
	after := before
	fn(&after)
	after.ID = before.ID

	if after.BirthYear != 0 && !validBirthYear(after.BirthYear, refYear) {
		return fmt.Errorf("%w: %d", ErrBirthYear, after.BirthYear)
	}
	group := after.AgeGroup(refYear)
	if !ValidDeductible(group, after.Deductible) {
		if group == before.AgeGroup(refYear) {
			return fmt.Errorf("%w: %d for %s", ErrDeductible, after.Deductible, group)
		}
		after.Deductible = DefaultDeductible(group)
	}
	if !after.NewResident {
		after.EntryDate = time.Time{}
	}
	after.Gender = strings.TrimSpace(after.Gender)
	after.Name = strings.TrimSpace(after.Name)

	f.persons[i] = after
	f.invalidate()
	return nil
}

// ReplacePersons swaps the whole member list, validating each person the way
// UpdatePerson does. Missing ids are assigned.
func (f *Flow) ReplacePersons(persons []Person) error {
	if len(persons) == 0 {
		return fmt.Errorf("%w: household needs at least one person", ErrInvalidInput)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	refYear := f.refYear()
	out := make([]Person, len(persons))
	ids := make(map[string]struct{}, len(persons))
	for i, p := range persons {
		switch p.Role {
		case "", RoleAdult, RoleChild:
		default:
			return fmt.Errorf("%w: role %q", ErrInvalidInput, p.Role)
		}
		if p.ID != "" {
			if _, dup := ids[p.ID]; dup {
				return fmt.Errorf("%w: duplicate person id %s", ErrInvalidInput, p.ID)
			}
			ids[p.ID] = struct{}{}
		}
		if p.Role == "" {
			p.Role = RoleAdult
			if p.BirthYear != 0 && model.AgeGroupFor(p.BirthYear, refYear) == model.AgeChild {
				p.Role = RoleChild
			}
		}
		if p.BirthYear != 0 && !validBirthYear(p.BirthYear, refYear) {
			return fmt.Errorf("%w: person %d: %d", ErrBirthYear, i+1, p.BirthYear)
		}
		if group := p.AgeGroup(refYear); !ValidDeductible(group, p.Deductible) {
			return fmt.Errorf("%w: person %d: %d for %s", ErrDeductible, i+1, p.Deductible, group)
		}
		out[i] = p
	}
	f.persons = out
	f.nextID = 0
	for i := range f.persons {
		if f.persons[i].ID == "" {
			f.persons[i].ID = fmt.Sprintf("p%d", f.mintID())
		}
	}
	f.invalidate()
	return nil
}

func (f *Flow) indexOf(id string) int {
	for i, p := range f.persons {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// SetCurrentInsurance records what the household pays today. A zero premium
// means unknown.
func (f *Flow) SetCurrentInsurance(insurer string, monthlyPremium decimal.Decimal) error {
	if monthlyPremium.IsNegative() {
		return fmt.Errorf("%w: negative premium", ErrInvalidInput)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentInsurer = strings.TrimSpace(insurer)
	f.currentPremium = monthlyPremium
	return nil
}

// SetPreference records the visitor's preference.
func (f *Flow) SetPreference(p Preference) error {
	switch p {
	case PreferCheapest, PreferRecommended, PreferOffers:
	default:
		return fmt.Errorf("%w: preference %q", ErrInvalidInput, p)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preference = p
	return nil
}

// Calculate loads the canton table and extracts each person's tariff list.
// If the data cannot be loaded the flow shows an empty result and the error
// is returned for display.
func (f *Flow) Calculate(ctx context.Context) error {
	f.mu.Lock()
	for _, step := range []Step{StepHousehold, StepPersonal} {
		if err := f.validate(step); err != nil {
			f.mu.Unlock()
			return fmt.Errorf("%w: %s: %w", ErrStepIncomplete, step, err)
		}
	}
	loc := f.locations[f.selected]
	refYear := f.refYear()
	insured := make([]model.InsuredPerson, len(f.persons))
	for i, p := range f.persons {
		insured[i] = p.Insured(refYear)
	}
	f.invalidate()
	gen := f.generation
	f.mu.Unlock()

	// The table load may hit the network; edits made meanwhile win.
	table, err := f.tariffs.Load(ctx, loc.Canton)

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.generation {
		return ErrSuperseded
	}
	f.calculated = true
	if err != nil {
		f.calcErr = err
		return err
	}
	raw := make([][]model.TariffEntry, len(insured))
	for i, p := range insured {
		raw[i] = table.Entries(loc.Region, p)
	}
	f.raw = raw
	return nil
}

// CalculationError returns the error of the last Calculate, if any.
func (f *Flow) CalculationError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calcErr
}

// SetModelFilter changes the model filter of the result list.
func (f *Flow) SetModelFilter(filter compare.Filter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = filter
}

// SetSortDescending flips the display order of the result list.
func (f *Flow) SetSortDescending(desc bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.descending = desc
}

// Results returns the ranked offers in display order. It is empty before
// Calculate, after a failed load, and when no insurer covers everyone.
func (f *Flow) Results() []model.InsurerOffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return compare.Order(f.ranked(), f.descending)
}

// Best returns the cheapest offer regardless of the display order.
func (f *Flow) Best() (model.InsurerOffer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ranked := f.ranked()
	if len(ranked) == 0 {
		return model.InsurerOffer{}, false
	}
	return ranked[0], true
}

func (f *Flow) ranked() []model.InsurerOffer {
	if !f.calculated || f.raw == nil {
		return []model.InsurerOffer{}
	}
	return f.memo.Aggregate(f.raw, compare.Options{
		Filter:           f.filter,
		ReferencePremium: f.currentPremium,
	})
}

// SetExtras records the optional coverage wishes of the last step.
func (f *Flow) SetExtras(tags []string) {
	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" && !slices.Contains(clean, t) {
			clean = append(clean, t)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extras = clean
}

// Submit hands the finished calculation and the contact data to lead capture.
func (f *Flow) Submit(ctx context.Context, contact model.LeadContact, tracking model.LeadTracking) (model.Lead, error) {
	f.mu.Lock()
	if f.step != StepExtras {
		step := f.step
		f.mu.Unlock()
		return model.Lead{}, fmt.Errorf("%w: submit from %s", ErrNavigation, step)
	}
	refYear := f.refYear()
	sub := lead.Submission{
		Contact:        contact,
		HouseholdType:  string(f.household),
		PostalCode:     f.postalCode,
		Location:       f.selectedLocation(),
		CurrentInsurer: f.currentInsurer,
		CurrentPremium: f.currentPremium,
		Preference:     string(f.preference),
		Extras:         slices.Clone(f.extras),
		Tracking:       tracking,
	}
	for _, p := range f.persons {
		sub.Persons = append(sub.Persons, p.snapshot(refYear))
	}
	if ranked := f.ranked(); len(ranked) > 0 {
		best := ranked[0]
		sub.TopOffer = &best
	}
	f.mu.Unlock()

	return f.leads.Submit(ctx, sub)
}

// Close cancels a pending debounced lookup.
func (f *Flow) Close() {
	f.typing.Cancel()
}
