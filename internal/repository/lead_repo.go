package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/praemienvergleich/api/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const leadsCollection = "leads"

// ErrLeadNotFound is returned by Get for unknown ids.
var ErrLeadNotFound = errors.New("lead not found")

// LeadRepository handles Firestore read/write for leads.
type LeadRepository struct {
	client *firestore.Client
}

func NewLeadRepository(client *firestore.Client) *LeadRepository {
	return &LeadRepository{client: client}
}

// Create writes a new lead document keyed by its id. It fails if the id exists.
func (r *LeadRepository) Create(ctx context.Context, lead model.Lead) error {
	if lead.ID == "" {
		return fmt.Errorf("lead id is required")
	}
	ref := r.client.Collection(leadsCollection).Doc(lead.ID)
	if _, err := ref.Create(ctx, lead); err != nil {
		return fmt.Errorf("create lead %s: %w", lead.ID, err)
	}
	return nil
}

// MarkConversionSent flags the lead as reported to the ad platform.
func (r *LeadRepository) MarkConversionSent(ctx context.Context, id string) error {
	ref := r.client.Collection(leadsCollection).Doc(id)
	_, err := ref.Update(ctx, []firestore.Update{
		{Path: "conversionSent", Value: true},
		{Path: "conversionSentAt", Value: time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("mark conversion for lead %s: %w", id, err)
	}
	return nil
}

// Get loads one lead.
func (r *LeadRepository) Get(ctx context.Context, id string) (model.Lead, error) {
	snap, err := r.client.Collection(leadsCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return model.Lead{}, fmt.Errorf("%s: %w", id, ErrLeadNotFound)
	}
	if err != nil {
		return model.Lead{}, fmt.Errorf("get lead %s: %w", id, err)
	}
	var lead model.Lead
	if err := snap.DataTo(&lead); err != nil {
		return model.Lead{}, fmt.Errorf("decode lead %s: %w", id, err)
	}
	if lead.ID == "" {
		lead.ID = snap.Ref.ID
	}
	return lead, nil
}

// ListRecent returns the newest leads first.
func (r *LeadRepository) ListRecent(ctx context.Context, limit int) ([]model.Lead, error) {
	if limit <= 0 {
		limit = 20
	}
	iter := r.client.Collection(leadsCollection).
		OrderBy("createdAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var leads []model.Lead
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate leads: %w", err)
		}
		var lead model.Lead
		if err := doc.DataTo(&lead); err != nil {
			return nil, fmt.Errorf("decode lead %s: %w", doc.Ref.ID, err)
		}
		if lead.ID == "" {
			lead.ID = doc.Ref.ID
		}
		leads = append(leads, lead)
	}
	return leads, nil
}
