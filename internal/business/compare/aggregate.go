// Package compare ranks insurers by what they would cost a whole household.
package compare

import (
	"fmt"
	"sort"
	"strings"

	"github.com/praemienvergleich/api/pkg/model"
	"github.com/shopspring/decimal"
)

var twelve = decimal.NewFromInt(12)

// Filter restricts tariffs to one model type. FilterAll keeps everything.
type Filter string

const FilterAll Filter = "all"

// ParseFilter accepts "all", "" (treated as all), or a model type.
func ParseFilter(s string) (Filter, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == string(FilterAll) {
		return FilterAll, nil
	}
	if !model.ModelType(s).Valid() {
		return "", fmt.Errorf("unknown model filter %q", s)
	}
	return Filter(s), nil
}

func (f Filter) keep(e model.TariffEntry) bool {
	return f == "" || f == FilterAll || string(e.ModelType) == string(f)
}

func (f Filter) apply(entries []model.TariffEntry) []model.TariffEntry {
	out := make([]model.TariffEntry, 0, len(entries))
	for _, e := range entries {
		if f.keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// Options controls a single aggregation.
type Options struct {
	Filter Filter
	// ReferencePremium is the household's current monthly premium. Zero or
	// negative means unknown; savings are then measured against the most
	// expensive offer.
	ReferencePremium decimal.Decimal
}

// Aggregate computes one offer per insurer that has a matching tariff for
// every person, ranked cheapest first. lists holds one tariff list per
// insured person. The inputs are not modified.
func Aggregate(lists [][]model.TariffEntry, opts Options) []model.InsurerOffer {
	offers := []model.InsurerOffer{}
	if len(lists) == 0 {
		return offers
	}

	byPerson := make([]map[int][]model.TariffEntry, len(lists))
	for i, list := range lists {
		byPerson[i] = groupByInsurer(opts.Filter.apply(list))
	}

	common := make(map[int]struct{}, len(byPerson[0]))
	for id := range byPerson[0] {
		common[id] = struct{}{}
	}
	for _, person := range byPerson[1:] {
		for id := range common {
			if _, ok := person[id]; !ok {
				delete(common, id)
			}
		}
	}

	for id := range common {
		offers = append(offers, buildOffer(id, byPerson))
	}

	sort.Slice(offers, func(i, j int) bool {
		if c := offers[i].TotalMonthly.Cmp(offers[j].TotalMonthly); c != 0 {
			return c < 0
		}
		return offers[i].InsurerID < offers[j].InsurerID
	})

	applySavings(offers, opts.ReferencePremium)
	return offers
}

// groupByInsurer buckets entries per insurer, each bucket ordered by premium
// and then tariff id so the first entry is the deterministic cheapest.
func groupByInsurer(entries []model.TariffEntry) map[int][]model.TariffEntry {
	out := make(map[int][]model.TariffEntry)
	for _, e := range entries {
		out[e.InsurerID] = append(out[e.InsurerID], e)
	}
	for _, bucket := range out {
		sort.SliceStable(bucket, func(i, j int) bool {
			if c := bucket[i].MonthlyPremium.Cmp(bucket[j].MonthlyPremium); c != 0 {
				return c < 0
			}
			return bucket[i].TariffID < bucket[j].TariffID
		})
	}
	return out
}

func buildOffer(insurerID int, byPerson []map[int][]model.TariffEntry) model.InsurerOffer {
	offer := model.InsurerOffer{
		InsurerID:         insurerID,
		PerPersonCheapest: make([]model.TariffEntry, 0, len(byPerson)),
		PerPersonTariffs:  make([][]model.TariffEntry, 0, len(byPerson)),
	}
	seen := make(map[model.ModelType]struct{})
	total := decimal.Zero

	for _, person := range byPerson {
		tariffs := person[insurerID]
		cheapest := tariffs[0]
		if offer.InsurerName == "" {
			offer.InsurerName = cheapest.InsurerName
		}
		total = total.Add(cheapest.MonthlyPremium)
		offer.PerPersonCheapest = append(offer.PerPersonCheapest, cheapest)
		offer.PerPersonTariffs = append(offer.PerPersonTariffs, tariffs)
		for _, t := range tariffs {
			seen[t.ModelType] = struct{}{}
		}
	}

	offer.TotalMonthly = total.Round(2)
	offer.TotalYearly = offer.TotalMonthly.Mul(twelve).Round(2)
	offer.OfferedModelTypes = make([]model.ModelType, 0, len(seen))
	for mt := range seen {
		offer.OfferedModelTypes = append(offer.OfferedModelTypes, mt)
	}
	sort.Slice(offer.OfferedModelTypes, func(i, j int) bool {
		return offer.OfferedModelTypes[i] < offer.OfferedModelTypes[j]
	})
	return offer
}

// applySavings expects offers in ascending order.
func applySavings(offers []model.InsurerOffer, current decimal.Decimal) {
	if len(offers) == 0 {
		return
	}
	reference := current
	if !reference.IsPositive() {
		reference = offers[len(offers)-1].TotalMonthly
	}
	for i := range offers {
		savings := reference.Sub(offers[i].TotalMonthly).Mul(twelve).Round(0)
		if savings.IsNegative() {
			savings = decimal.Zero
		}
		offers[i].YearlySavings = savings
	}
}

// Order returns the offers for display. Descending reverses the ranking
// without touching the savings values.
func Order(offers []model.InsurerOffer, descending bool) []model.InsurerOffer {
	out := make([]model.InsurerOffer, len(offers))
	copy(out, offers)
	if descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}
