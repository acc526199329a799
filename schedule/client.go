// Copyright (c) ChatCore Authors.
// Licensed under the MIT License.

// Package schedule is the client for the external scheduling service.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xpio/chatcore/types"
)

// Slot is one bookable window.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label,omitempty"`
}

// AvailabilityRequest narrows the availability query. Zero values mean "any".
type AvailabilityRequest struct {
	Date    string `json:"date,omitempty"`    // YYYY-MM-DD
	Service string `json:"service,omitempty"` // service identifier
}

// Availability is the scheduling service's answer.
type Availability struct {
	Slots []Slot `json:"slots"`
}

// Config holds client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client queries the scheduling service over HTTP.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewClient creates a scheduling client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "schedule_client")),
	}
}

// CheckAvailability returns bookable slots matching the request.
func (c *Client) CheckAvailability(ctx context.Context, req AvailabilityRequest) (*Availability, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/availability"
	q := url.Values{}
	if req.Date != "" {
		q.Set("date", req.Date)
	}
	if req.Service != "" {
		q.Set("service", req.Service)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamUnavailable,
			"scheduling service unreachable").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return nil, types.NewError(types.ErrUpstreamUnavailable,
			fmt.Sprintf("scheduling service error: status=%d", resp.StatusCode)).
			WithRetryable(true)
	default:
		return nil, types.NewError(types.ErrValidation,
			fmt.Sprintf("scheduling service rejected query: status=%d", resp.StatusCode))
	}

	var avail Availability
	if err := json.NewDecoder(resp.Body).Decode(&avail); err != nil {
		return nil, types.NewError(types.ErrUpstreamUnavailable,
			"scheduling service returned malformed response").WithCause(err).WithRetryable(true)
	}
	return &avail, nil
}
