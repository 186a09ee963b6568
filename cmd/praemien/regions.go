package main

import (
	"fmt"
	"regexp"
	"text/tabwriter"

	"github.com/praemienvergleich/api/internal/business/region"
	"github.com/spf13/cobra"
)

var (
	regionsLimit int
	postalCodeRe = regexp.MustCompile(`^\d{4}$`)
)

var regionsCmd = &cobra.Command{
	Use:   "regions [postal code or locality]",
	Short: "Resolve a postal code or search localities",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegions,
}

func init() {
	regionsCmd.Flags().IntVar(&regionsLimit, "limit", 20, "Maximum number of search results")
}

func runRegions(cmd *cobra.Command, args []string) error {
	lookup := region.NewLookup(source())
	query := args[0]

	var matches []region.Match
	if postalCodeRe.MatchString(query) {
		entries, err := lookup.Resolve(cmd.Context(), query)
		if err != nil {
			return err
		}
		for _, e := range entries {
			matches = append(matches, region.Match{PostalCode: query, PostalRegionEntry: e})
		}
	} else {
		var err error
		if matches, err = lookup.Search(cmd.Context(), query, regionsLimit); err != nil {
			return err
		}
	}

	if jsonMode {
		return printJSON(cmd.OutOrStdout(), matches)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLZ\tLOCALITY\tCANTON\tREGION")
	for _, m := range matches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", m.PostalCode, m.Locality, m.Canton, m.Region)
	}
	return tw.Flush()
}
