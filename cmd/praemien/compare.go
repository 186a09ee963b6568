package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/praemienvergleich/api/internal/business/compare"
	"github.com/praemienvergleich/api/internal/business/region"
	"github.com/praemienvergleich/api/internal/business/tariff"
	"github.com/praemienvergleich/api/internal/business/wizard"
	"github.com/praemienvergleich/api/internal/platform/dataset"
	"github.com/praemienvergleich/api/pkg/model"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cmpPostalCode  string
	cmpHousehold   string
	cmpRegionIndex int
	cmpBirthYears  []int
	cmpDeductibles []int
	cmpAccident    []bool
	cmpFilter      string
	cmpCurrent     string
	cmpDescending  bool
	cmpDetails     bool
	cmpTimeout     time.Duration
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare household premiums for a postal code",
	Long: `Runs the calculator for one household and prints the insurers able to
cover every person, cheapest first.

Example:
  praemien compare --plz 8001 --birth-year 1985 --birth-year 1987 --birth-year 2018 \
    --deductible 2500 --deductible 300 --model telmed --current 1050.40`,
	RunE: runCompare,
}

func init() {
	f := compareCmd.Flags()
	f.StringVar(&cmpPostalCode, "plz", "", "Swiss postal code")
	f.StringVar(&cmpHousehold, "household", "", "Household type (single, couple, family, unborn); inferred when empty")
	f.IntVar(&cmpRegionIndex, "region", 0, "Index of the region when the postal code spans several")
	f.IntSliceVar(&cmpBirthYears, "birth-year", nil, "Birth year per person (repeat for each person)")
	f.IntSliceVar(&cmpDeductibles, "deductible", nil, "Deductible per person, in birth-year order")
	f.BoolSliceVar(&cmpAccident, "accident", nil, "Accident coverage per person, in birth-year order")
	f.StringVar(&cmpFilter, "model", string(compare.FilterAll), "Model filter (all, standard, hausarzt, hmo, telmed, other)")
	f.StringVar(&cmpCurrent, "current", "", "Current monthly premium of the household in CHF")
	f.BoolVar(&cmpDescending, "desc", false, "List the most expensive offer first")
	f.BoolVar(&cmpDetails, "details", false, "Show every tariff per person")
	f.DurationVar(&cmpTimeout, "timeout", 30*time.Second, "Time limit for loading data")
	_ = compareCmd.MarkFlagRequired("plz")
	_ = compareCmd.MarkFlagRequired("birth-year")
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cmpTimeout)
	defer cancel()

	filter, err := compare.ParseFilter(cmpFilter)
	if err != nil {
		return err
	}
	current := decimal.Zero
	if cmpCurrent != "" {
		if current, err = decimal.NewFromString(cmpCurrent); err != nil {
			return fmt.Errorf("parse --current: %w", err)
		}
	}

	src := source()
	flow := wizard.New(region.NewLookup(src), tariff.NewStore(src), nil)
	defer flow.Close()

	refYear := time.Now().Year()
	persons := flagPersons(refYear)
	household, err := householdFor(cmpHousehold, persons, refYear)
	if err != nil {
		return err
	}
	if err := flow.SetHousehold(household); err != nil {
		return err
	}
	if err := flow.ReplacePersons(persons); err != nil {
		return err
	}
	if err := flow.ResolvePostalCode(ctx, cmpPostalCode); err != nil {
		if errors.Is(err, region.ErrNotFound) {
			return fmt.Errorf("postal code %s not found", cmpPostalCode)
		}
		return err
	}
	if err := flow.SelectRegion(cmpRegionIndex); err != nil {
		return err
	}
	if err := flow.SetCurrentInsurance("", current); err != nil {
		return err
	}
	flow.SetModelFilter(filter)
	flow.SetSortDescending(cmpDescending)

	calcErr := flow.Calculate(ctx)
	if calcErr != nil && !errors.Is(calcErr, dataset.ErrUnavailable) {
		return calcErr
	}
	loc := flow.Location()
	offers := flow.Results()
	logger.Debug("comparison done",
		zap.String("postalCode", loc.PostalCode),
		zap.Int("persons", len(persons)),
		zap.Int("offers", len(offers)))

	if jsonMode {
		out := map[string]any{"location": loc, "items": offers}
		if calcErr != nil {
			out["message"] = calcErr.Error()
		}
		return printJSON(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	if loc.Selected != nil {
		fmt.Fprintf(w, "%s %s (%s, region %d)\n", loc.PostalCode, loc.Selected.Locality, loc.Selected.Canton, loc.Selected.Region)
		if len(loc.Options) > 1 {
			fmt.Fprintf(w, "  %d regions share this postal code, use --region to pick another\n", len(loc.Options))
		}
	}
	if calcErr != nil {
		return calcErr
	}
	if len(offers) == 0 {
		fmt.Fprintln(w, "No insurer covers every person with these settings.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tINSURER\tMONTHLY\tYEARLY\tSAVINGS/YEAR\tMODELS")
	for i, o := range offers {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i+1, o.InsurerName,
			o.TotalMonthly.StringFixed(2), o.TotalYearly.StringFixed(2), o.YearlySavings.StringFixed(0),
			joinModels(o.OfferedModelTypes))
		if cmpDetails {
			for p, tariffs := range o.PerPersonTariffs {
				for _, t := range tariffs {
					fmt.Fprintf(tw, "\t  p%d %s\t%s\t\t\t%s\n", p+1, t.TariffName, t.MonthlyPremium.StringFixed(2), t.ModelType)
				}
			}
		}
	}
	return tw.Flush()
}

func flagPersons(refYear int) []wizard.Person {
	persons := make([]wizard.Person, 0, len(cmpBirthYears))
	for i, year := range cmpBirthYears {
		p := wizard.Person{ID: fmt.Sprintf("p%d", i+1), BirthYear: year}
		group := p.AgeGroup(refYear)
		p.Deductible = wizard.DefaultDeductible(group)
		if i < len(cmpDeductibles) {
			p.Deductible = cmpDeductibles[i]
		}
		p.Accident = group == model.AgeChild
		if i < len(cmpAccident) {
			p.Accident = cmpAccident[i]
		}
		persons = append(persons, p)
	}
	return persons
}

// householdFor parses name or, when empty, guesses the type from the persons.
func householdFor(name string, persons []wizard.Person, refYear int) (wizard.HouseholdType, error) {
	if name != "" {
		return wizard.ParseHouseholdType(name)
	}
	children := 0
	for _, p := range persons {
		if p.AgeGroup(refYear) == model.AgeChild {
			children++
		}
	}
	switch {
	case children > 0:
		return wizard.HouseholdFamily, nil
	case len(persons) == 2:
		return wizard.HouseholdCouple, nil
	default:
		return wizard.HouseholdSingle, nil
	}
}

func joinModels(types []model.ModelType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}
