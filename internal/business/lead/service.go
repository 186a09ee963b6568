// Package lead stores contact requests from the calculator and reports them
// to the ad platform.
package lead

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/praemienvergleich/api/pkg/model"
	"github.com/praemienvergleich/api/pkg/util"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrInvalid wraps every validation failure of a submission.
	ErrInvalid = errors.New("invalid lead")
	// ErrPersist signals the lead could not be written; the visitor may retry.
	ErrPersist = errors.New("lead could not be saved")
)

// Store persists leads.
type Store interface {
	Create(ctx context.Context, lead model.Lead) error
	MarkConversionSent(ctx context.Context, id string) error
}

// ConversionTracker forwards a lead to the ad platform.
type ConversionTracker interface {
	TrackLead(ctx context.Context, lead model.Lead) error
}

// Submission is what the calculator hands over in its last step.
type Submission struct {
	Contact        model.LeadContact
	HouseholdType  string
	PostalCode     string
	Location       *model.PostalRegionEntry
	Persons        []model.LeadPerson
	CurrentInsurer string
	CurrentPremium decimal.Decimal
	Preference     string
	Extras         []string
	TopOffer       *model.InsurerOffer
	Tracking       model.LeadTracking
}

// Service validates, stores and reports leads.
type Service struct {
	store        Store
	tracker      ConversionTracker
	logger       *zap.Logger
	now          func() time.Time
	newID        func() string
	trackTimeout time.Duration
}

// NewService creates a lead service. tracker may be nil to skip conversion
// reporting.
func NewService(store Store, tracker ConversionTracker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:        store,
		tracker:      tracker,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        func() string { return uuid.NewString() },
		trackTimeout: 5 * time.Second,
	}
}

// Submit stores the lead and then reports it. A failed report is logged and
// does not fail the submission.
func (s *Service) Submit(ctx context.Context, sub Submission) (model.Lead, error) {
	lead, err := s.build(sub)
	if err != nil {
		return model.Lead{}, err
	}

	if err := s.store.Create(ctx, lead); err != nil {
		s.logger.Error("store lead", zap.String("leadId", lead.ID), zap.Error(err))
		return model.Lead{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	s.logger.Info("lead stored",
		zap.String("leadId", lead.ID),
		zap.String("canton", lead.Canton),
		zap.Int("persons", len(lead.Persons)))

	if s.tracker != nil {
		lead.ConversionSent = s.track(ctx, lead)
	}
	return lead, nil
}

func (s *Service) track(ctx context.Context, lead model.Lead) bool {
	// The visitor's request may end before the ad platform answers.
	trackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.trackTimeout)
	defer cancel()

	if err := s.tracker.TrackLead(trackCtx, lead); err != nil {
		s.logger.Warn("conversion event failed", zap.String("leadId", lead.ID), zap.Error(err))
		return false
	}
	if err := s.store.MarkConversionSent(trackCtx, lead.ID); err != nil {
		s.logger.Warn("mark conversion sent", zap.String("leadId", lead.ID), zap.Error(err))
	}
	return true
}

func (s *Service) build(sub Submission) (model.Lead, error) {
	contact := model.LeadContact{
		FirstName: util.CleanField(sub.Contact.FirstName),
		LastName:  util.CleanField(sub.Contact.LastName),
		Email:     util.NormalizeEmail(sub.Contact.Email),
		Phone:     util.CleanField(sub.Contact.Phone),
	}

	var problems []string
	if contact.FirstName == "" {
		problems = append(problems, "first name is required")
	}
	if contact.LastName == "" {
		problems = append(problems, "last name is required")
	}
	if contact.Email == "" && contact.Phone == "" {
		problems = append(problems, "email or phone is required")
	}
	if contact.Email != "" && !util.ValidEmail(contact.Email) {
		problems = append(problems, "email is invalid")
	}
	if contact.Phone != "" && len(util.NormalizePhone(contact.Phone)) < 9 {
		problems = append(problems, "phone is invalid")
	}
	if sub.CurrentPremium.IsNegative() {
		problems = append(problems, "current premium must not be negative")
	}
	if len(problems) > 0 {
		return model.Lead{}, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}

	lead := model.Lead{
		ID:             s.newID(),
		CreatedAt:      s.now(),
		Contact:        contact,
		HouseholdType:  sub.HouseholdType,
		PostalCode:     strings.TrimSpace(sub.PostalCode),
		Persons:        sub.Persons,
		CurrentInsurer: util.CleanField(sub.CurrentInsurer),
		CurrentPremium: sub.CurrentPremium.InexactFloat64(),
		Preference:     sub.Preference,
		Extras:         sub.Extras,
		Tracking:       sub.Tracking,
	}
	if sub.Location != nil {
		lead.Canton = sub.Location.Canton
		lead.Region = sub.Location.Region
		lead.Locality = sub.Location.Locality
	}
	if o := sub.TopOffer; o != nil {
		lead.TopOffer = &model.LeadOffer{
			InsurerID:     o.InsurerID,
			InsurerName:   o.InsurerName,
			TotalMonthly:  o.TotalMonthly.InexactFloat64(),
			TotalYearly:   o.TotalYearly.InexactFloat64(),
			YearlySavings: o.YearlySavings.InexactFloat64(),
		}
	}
	return lead, nil
}
