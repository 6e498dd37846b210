// Package hass is a minimal Home Assistant REST client covering the three
// calls the assistant needs: read entity states, call a service, and fetch
// sensor history for a date range. Everything else the API offers is out of
// reach on purpose.
package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"

	wardenotel "github.com/homewarden/warden/internal/otel"
)

var tracer = wardenotel.Tracer("github.com/homewarden/warden/internal/hass")

// DefaultTimeout bounds every platform API call.
const DefaultTimeout = 10 * time.Second

// MaxHistoryEntries caps a single history response. The platform can return
// thousands of points for a busy sensor; the prompt only needs a sample.
const MaxHistoryEntries = 100

var (
	// ErrUnauthorized means the platform rejected the bearer token.
	ErrUnauthorized = errors.New("platform rejected credentials")
	// ErrUnavailable means the platform could not be reached.
	ErrUnavailable = errors.New("platform unavailable")
)

// EntityState is one entity's current state as reported by the platform.
type EntityState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
	LastChanged time.Time              `json:"last_changed,omitempty"`
}

// HistoryPoint is one recorded state change of an entity.
type HistoryPoint struct {
	State       string    `json:"state"`
	LastChanged time.Time `json:"last_changed"`
}

// Client talks to a Home Assistant instance over its REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (used in tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a platform client for the given base URL and bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetStates returns the current state of every entity the platform exposes.
// Callers filter against their allowlist; this method does not.
func (c *Client) GetStates(ctx context.Context) ([]EntityState, error) {
	ctx, span := tracer.Start(ctx, "hass.get_states")
	defer span.End()

	body, err := c.get(ctx, "/api/states")
	if err != nil {
		return nil, err
	}

	var states []EntityState
	if err := json.Unmarshal(body, &states); err != nil {
		return nil, fmt.Errorf("decoding states response: %w", err)
	}
	span.SetAttributes(attribute.Int("hass.entities", len(states)))
	return states, nil
}

// CallService invokes domain/service on the given entity. The caller is
// responsible for allowlist checks; this is the last hop before the device.
func (c *Client) CallService(ctx context.Context, domain, service, entityID string) error {
	ctx, span := tracer.Start(ctx, "hass.call_service")
	defer span.End()
	span.SetAttributes(
		attribute.String("hass.domain", domain),
		attribute.String("hass.service", service),
		attribute.String("hass.entity_id", entityID),
	)

	payload, err := json.Marshal(map[string]string{"entity_id": entityID})
	if err != nil {
		return fmt.Errorf("encoding service payload: %w", err)
	}

	endpoint := fmt.Sprintf("/api/services/%s/%s", url.PathEscape(domain), url.PathEscape(service))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building service request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("calling %s/%s on %s: %w", domain, service, entityID, err)
	}
	return nil
}

// GetHistory returns recorded state changes for one entity between start and
// end, oldest first, capped at MaxHistoryEntries.
func (c *Client) GetHistory(ctx context.Context, entityID string, start, end time.Time) ([]HistoryPoint, error) {
	ctx, span := tracer.Start(ctx, "hass.get_history")
	defer span.End()
	span.SetAttributes(attribute.String("hass.entity_id", entityID))

	endpoint := fmt.Sprintf("/api/history/period/%s?filter_entity_id=%s&end_time=%s",
		url.PathEscape(start.UTC().Format(time.RFC3339)),
		url.QueryEscape(entityID),
		url.QueryEscape(end.UTC().Format(time.RFC3339)))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	// The API nests results as one list per requested entity.
	var nested [][]HistoryPoint
	if err := json.Unmarshal(body, &nested); err != nil {
		return nil, fmt.Errorf("decoding history response: %w", err)
	}

	var points []HistoryPoint
	for _, series := range nested {
		points = append(points, series...)
	}
	if len(points) > MaxHistoryEntries {
		points = points[:MaxHistoryEntries]
	}
	span.SetAttributes(attribute.Int("hass.history_points", len(points)))
	return points, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("platform returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
