package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/praemienvergleich/api/internal/business/compare"
	"github.com/praemienvergleich/api/internal/business/lead"
	"github.com/praemienvergleich/api/internal/business/region"
	"github.com/praemienvergleich/api/internal/business/wizard"
	"github.com/praemienvergleich/api/internal/platform/dataset"
	"github.com/praemienvergleich/api/pkg/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RegionIndex resolves and searches postal codes.
type RegionIndex interface {
	wizard.RegionResolver
	Search(ctx context.Context, query string, limit int) ([]region.Match, error)
}

// Deps are the services behind the handlers.
type Deps struct {
	Regions RegionIndex
	Tariffs wizard.TariffLoader
	Leads   wizard.LeadSubmitter
	Logger  *zap.Logger
	Now     func() time.Time
}

// Router wires HTTP handlers.
type Router struct {
	regions RegionIndex
	tariffs wizard.TariffLoader
	leads   wizard.LeadSubmitter
	logger  *zap.Logger
	now     func() time.Time
	origins string
}

func NewRouter(deps Deps, allowedOrigins string) *gin.Engine {
	r := &Router{
		regions: deps.Regions,
		tariffs: deps.Tariffs,
		leads:   deps.Leads,
		logger:  deps.Logger,
		now:     deps.Now,
		origins: allowedOrigins,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), r.corsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.GET("/regions", r.searchRegions)
		api.GET("/regions/:postalCode", r.getRegions)
		api.POST("/premiums/compare", r.comparePremiums)
		api.POST("/leads", r.createLead)
	}

	return router
}

func (r *Router) corsMiddleware() gin.HandlerFunc {
	origins := strings.Split(r.origins, ",")
	trimmed := make([]string, 0, len(origins))
	for _, o := range origins {
		if t := strings.TrimSpace(o); t != "" {
			trimmed = append(trimmed, t)
		}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := "*"
		for _, o := range trimmed {
			if o == "*" || o == origin {
				allowed = origin
				break
			}
		}
		c.Header("Access-Control-Allow-Origin", allowed)
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (r *Router) getRegions(c *gin.Context) {
	entries, err := r.regions.Resolve(c.Request.Context(), c.Param("postalCode"))
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":    entries,
		"selected": entries[0],
	})
}

func (r *Router) searchRegions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative number"})
		return
	}
	items, err := r.regions.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type personReq struct {
	Role        string `json:"role"`
	Gender      string `json:"gender"`
	Name        string `json:"name"`
	BirthYear   int    `json:"birthYear"`
	Deductible  *int   `json:"deductible"`
	Accident    *bool  `json:"accident"`
	NewResident bool   `json:"newResident"`
	EntryDate   string `json:"entryDate"` // YYYY-MM-DD
}

type compareReq struct {
	Household      string          `json:"household"`
	PostalCode     string          `json:"postalCode"`
	RegionIndex    int             `json:"regionIndex"`
	Persons        []personReq     `json:"persons"`
	CurrentInsurer string          `json:"currentInsurer"`
	CurrentPremium decimal.Decimal `json:"currentPremium"`
	Preference     string          `json:"preference"`
	Filter         string          `json:"filter"`
	SortDescending bool            `json:"sortDescending"`
}

type leadReq struct {
	compareReq
	Contact   model.LeadContact `json:"contact"`
	Extras    []string          `json:"extras"`
	FBP       string            `json:"fbp"`
	FBC       string            `json:"fbc"`
	SourceURL string            `json:"sourceUrl"`
}

func (r *Router) comparePremiums(c *gin.Context) {
	var req compareReq
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	flow, err := r.runFlow(c.Request.Context(), req)
	if flow != nil {
		defer flow.Close()
	}
	if err != nil && !errors.Is(err, dataset.ErrUnavailable) {
		r.fail(c, err)
		return
	}

	resp := gin.H{
		"location": flow.Location(),
		"items":    flow.Results(),
	}
	if err != nil {
		resp["message"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) createLead(c *gin.Context) {
	var req leadReq
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	ctx := c.Request.Context()
	flow, err := r.runFlow(ctx, req.compareReq)
	if flow != nil {
		defer flow.Close()
	}
	// A lead is still worth keeping when the tariff data is down.
	if err != nil && !errors.Is(err, dataset.ErrUnavailable) {
		r.fail(c, err)
		return
	}
	for flow.Step() < wizard.StepExtras {
		if err := flow.Next(); err != nil {
			r.fail(c, err)
			return
		}
	}
	flow.SetExtras(req.Extras)

	stored, err := flow.Submit(ctx, req.Contact, model.LeadTracking{
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		FBP:       strings.TrimSpace(req.FBP),
		FBC:       strings.TrimSpace(req.FBC),
		SourceURL: strings.TrimSpace(req.SourceURL),
	})
	if err != nil {
		r.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": stored.ID})
}

// runFlow drives a calculator flow through its first three steps. The flow is
// returned together with a data-unavailable error so callers can still read
// its (empty) results.
func (r *Router) runFlow(ctx context.Context, req compareReq) (*wizard.Flow, error) {
	household := wizard.HouseholdSingle
	if req.Household != "" {
		h, err := wizard.ParseHouseholdType(req.Household)
		if err != nil {
			return nil, errors.Join(wizard.ErrInvalidInput, err)
		}
		household = h
	}
	filter, err := compare.ParseFilter(req.Filter)
	if err != nil {
		return nil, errors.Join(wizard.ErrInvalidInput, err)
	}

	flow := wizard.New(r.regions, r.tariffs, r.leads, wizard.WithClock(r.now))
	if err := flow.SetHousehold(household); err != nil {
		return flow, err
	}
	if len(req.Persons) > 0 {
		persons, err := r.persons(req.Persons)
		if err != nil {
			return flow, err
		}
		if err := flow.ReplacePersons(persons); err != nil {
			return flow, err
		}
	}
	if err := flow.ResolvePostalCode(ctx, req.PostalCode); err != nil {
		return flow, err
	}
	if req.RegionIndex != 0 {
		if err := flow.SelectRegion(req.RegionIndex); err != nil {
			return flow, err
		}
	}
	if err := flow.SetCurrentInsurance(req.CurrentInsurer, req.CurrentPremium); err != nil {
		return flow, err
	}
	if req.Preference != "" {
		if err := flow.SetPreference(wizard.Preference(req.Preference)); err != nil {
			return flow, err
		}
	}
	flow.SetModelFilter(filter)
	flow.SetSortDescending(req.SortDescending)
	return flow, flow.Calculate(ctx)
}

func (r *Router) persons(reqs []personReq) ([]wizard.Person, error) {
	refYear := r.now().Year()
	out := make([]wizard.Person, 0, len(reqs))
	for i, pr := range reqs {
		p := wizard.Person{
			ID:          "p" + strconv.Itoa(i+1),
			Role:        wizard.Role(pr.Role),
			Gender:      pr.Gender,
			Name:        strings.TrimSpace(pr.Name),
			BirthYear:   pr.BirthYear,
			NewResident: pr.NewResident,
		}
		group := p.AgeGroup(refYear)
		p.Deductible = wizard.DefaultDeductible(group)
		if pr.Deductible != nil {
			p.Deductible = *pr.Deductible
		}
		p.Accident = group == model.AgeChild
		if pr.Accident != nil {
			p.Accident = *pr.Accident
		}
		if pr.EntryDate != "" {
			d, err := time.Parse(time.DateOnly, pr.EntryDate)
			if err != nil {
				return nil, errors.Join(wizard.ErrInvalidInput, err)
			}
			p.EntryDate = d
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *Router) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, region.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, lead.ErrPersist):
		c.JSON(http.StatusBadGateway, gin.H{"error": "lead could not be saved", "detail": err.Error()})
	case errors.Is(err, dataset.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, lead.ErrInvalid),
		errors.Is(err, wizard.ErrInvalidInput),
		errors.Is(err, wizard.ErrStepIncomplete),
		errors.Is(err, wizard.ErrBirthYear),
		errors.Is(err, wizard.ErrDeductible),
		errors.Is(err, wizard.ErrNavigation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		r.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
