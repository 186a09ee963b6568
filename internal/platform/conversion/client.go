package conversion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/praemienvergleich/api/pkg/model"
	"github.com/praemienvergleich/api/pkg/util"
)

var (
	// ErrCircuitOpen signals the breaker is open after repeated 429 responses.
	ErrCircuitOpen = errors.New("conversions circuit open due to repeated rate limit errors")
	// ErrRejected signals a 4xx answer that retrying will not fix.
	ErrRejected = errors.New("conversion event rejected")
)

// HTTPClient matches net/http.Client Do signature for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client sends lead events to the Meta Conversions API with retry and
// circuit breaker support.
type Client struct {
	pixelID       string
	accessToken   string
	testEventCode string
	baseURL       string
	httpClient    HTTPClient
	mock          bool
	now           func() time.Time

	maxRetries       int
	breakerThreshold int
	retryDelay       time.Duration

	mu               sync.Mutex
	consecutiveLimit int
}

// Config defines settings for the conversions client.
type Config struct {
	PixelID       string
	AccessToken   string
	TestEventCode string
	BaseURL       string
	Mock          bool
	MaxRetries    int
	BreakerMax    int
	RetryDelay    time.Duration
}

// New creates a conversions client.
func New(httpClient HTTPClient, cfg Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://graph.facebook.com/v21.0"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	breaker := cfg.BreakerMax
	if breaker <= 0 {
		breaker = 5
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}

	return &Client{
		pixelID:          cfg.PixelID,
		accessToken:      cfg.AccessToken,
		testEventCode:    cfg.TestEventCode,
		baseURL:          base,
		httpClient:       httpClient,
		mock:             cfg.Mock,
		now:              time.Now,
		maxRetries:       maxRetries,
		breakerThreshold: breaker,
		retryDelay:       delay,
	}
}

// TrackLead reports a "Lead" event for the stored lead.
func (c *Client) TrackLead(ctx context.Context, lead model.Lead) error {
	if c.mock {
		return nil
	}
	if c.breakerOpen() {
		return ErrCircuitOpen
	}

	body, err := json.Marshal(buildPayload(lead, c.testEventCode, c.now()))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	params := url.Values{}
	params.Set("access_token", c.accessToken)
	endpoint := fmt.Sprintf("%s/%s/events?%s", c.baseURL, url.PathEscape(c.pixelID), params.Encode())

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request: %w", err)
			continue
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			c.resetLimit()
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			if c.recordLimit() {
				return ErrCircuitOpen
			}
			lastErr = fmt.Errorf("conversions status %d", resp.StatusCode)
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("conversions status %d: %s", resp.StatusCode, string(respBody))
		default:
			return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, string(respBody))
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no attempt made")
	}
	return fmt.Errorf("conversion event failed after retries: %w", lastErr)
}

func (c *Client) breakerOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveLimit >= c.breakerThreshold
}

// recordLimit counts a 429 and reports whether the breaker is now open.
func (c *Client) recordLimit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveLimit++
	return c.consecutiveLimit >= c.breakerThreshold
}

func (c *Client) resetLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveLimit = 0
}

type eventPayload struct {
	Data          []event `json:"data"`
	TestEventCode string  `json:"test_event_code,omitempty"`
}

type event struct {
	EventName      string     `json:"event_name"`
	EventTime      int64      `json:"event_time"`
	EventID        string     `json:"event_id"`
	ActionSource   string     `json:"action_source"`
	EventSourceURL string     `json:"event_source_url,omitempty"`
	UserData       userData   `json:"user_data"`
	CustomData     customData `json:"custom_data"`
}

type userData struct {
	Email           []string `json:"em,omitempty"`
	Phone           []string `json:"ph,omitempty"`
	FirstName       []string `json:"fn,omitempty"`
	LastName        []string `json:"ln,omitempty"`
	ZIP             []string `json:"zp,omitempty"`
	Country         []string `json:"country,omitempty"`
	ClientIP        string   `json:"client_ip_address,omitempty"`
	ClientUserAgent string   `json:"client_user_agent,omitempty"`
	FBP             string   `json:"fbp,omitempty"`
	FBC             string   `json:"fbc,omitempty"`
}

type customData struct {
	Currency string  `json:"currency"`
	Value    float64 `json:"value"`
	Insurer  string  `json:"content_name,omitempty"`
}

func buildPayload(lead model.Lead, testEventCode string, now time.Time) eventPayload {
	eventTime := lead.CreatedAt
	if eventTime.IsZero() {
		eventTime = now
	}
	ud := userData{
		Email:           nonEmpty(util.HashEmail(lead.Contact.Email)),
		Phone:           nonEmpty(util.HashPhone(lead.Contact.Phone)),
		FirstName:       nonEmpty(util.HashString(lead.Contact.FirstName)),
		LastName:        nonEmpty(util.HashString(lead.Contact.LastName)),
		ZIP:             nonEmpty(util.HashString(lead.PostalCode)),
		Country:         nonEmpty(util.HashString("ch")),
		ClientIP:        lead.Tracking.ClientIP,
		ClientUserAgent: lead.Tracking.UserAgent,
		FBP:             lead.Tracking.FBP,
		FBC:             lead.Tracking.FBC,
	}
	cd := customData{Currency: "CHF"}
	if lead.TopOffer != nil {
		cd.Value = lead.TopOffer.TotalYearly
		cd.Insurer = lead.TopOffer.InsurerName
	}
	return eventPayload{
		Data: []event{{
			EventName:      "Lead",
			EventTime:      eventTime.Unix(),
			EventID:        lead.ID,
			ActionSource:   "website",
			EventSourceURL: lead.Tracking.SourceURL,
			UserData:       ud,
			CustomData:     cd,
		}},
		TestEventCode: testEventCode,
	}
}

func nonEmpty(hash string) []string {
	if hash == "" {
		return nil
	}
	return []string{hash}
}
