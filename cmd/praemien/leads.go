package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/praemienvergleich/api/internal/platform/config"
	firestoreclient "github.com/praemienvergleich/api/internal/platform/firestore"
	"github.com/praemienvergleich/api/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var leadsLimit int

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect stored leads",
	Long: `Reads the leads collection with the Firestore settings of the server
(FIREBASE_PROJECT_ID plus credentials, or FIRESTORE_EMULATOR_HOST).

Available subcommands:
  get  - Print one lead
  list - List the newest leads`,
}

var leadsGetCmd = &cobra.Command{
	Use:   "get [lead id]",
	Short: "Print one stored lead",
	Args:  cobra.ExactArgs(1),
	RunE:  runLeadsGet,
}

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the newest leads",
	RunE:  runLeadsList,
}

func init() {
	leadsListCmd.Flags().IntVar(&leadsLimit, "limit", 20, "Number of leads to list")
}

func openLeads(ctx context.Context) (*repository.LeadRepository, *firestore.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config load: %w", err)
	}
	client, credsSource, err := firestoreclient.New(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("firestore init: %w", err)
	}
	logger.Debug("connected to Firestore",
		zap.String("project", cfg.FirebaseProjectID),
		zap.String("credentials", credsSource))
	return repository.NewLeadRepository(client), client, nil
}

func runLeadsGet(cmd *cobra.Command, args []string) error {
	repo, client, err := openLeads(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	lead, err := repo.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), lead)
}

func runLeadsList(cmd *cobra.Command, args []string) error {
	repo, client, err := openLeads(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close()

	leads, err := repo.ListRecent(cmd.Context(), leadsLimit)
	if err != nil {
		return err
	}
	if jsonMode {
		return printJSON(cmd.OutOrStdout(), leads)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tID\tNAME\tPLZ\tTOP OFFER\tSENT")
	for _, l := range leads {
		top := "-"
		if l.TopOffer != nil {
			top = fmt.Sprintf("%s %.2f", l.TopOffer.InsurerName, l.TopOffer.TotalMonthly)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s\t%s\t%t\n",
			l.CreatedAt.Local().Format(time.DateTime), l.ID,
			l.Contact.FirstName, l.Contact.LastName, l.PostalCode, top, l.ConversionSent)
	}
	return tw.Flush()
}
