// Package syncclient is the HTTP client for the traceability API. It only
// knows the remote contract: one REST resource per entity collection plus
// the delta counter endpoint. Business validation lives server-side; this
// package just decodes success envelopes and structured errors.
package syncclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// Client is an HTTP client for the traceability server.
type Client struct {
	BaseURL  string
	APIKey   string
	DeviceID string
	HTTP     *http.Client
}

// New creates a new API client.
func New(baseURL, apiKey, deviceID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a structured server rejection: a 4xx with a machine-readable
// code (validation, conflict, referential). These are terminal for the
// operation that triggered them; anything else is treated as transient.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// IsStructured reports whether err is a structured server rejection that
// must not be retried automatically.
func IsStructured(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Code != "" {
		return apiErr, true
	}
	return nil, false
}

// EntityData is the data section of a successful entity response. Only the
// id matters to the sync engine; the rest of the payload is opaque.
type EntityData struct {
	ID     string          `json:"id"`
	Fields json.RawMessage `json:"-"`
}

// envelope is the standard success wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// DeltaCount is one collection counter from the delta endpoint.
type DeltaCount struct {
	Collection string `json:"collection"`
	Count      int64  `json:"count"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON("GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Create posts a new entity to its collection and returns the assigned
// server id.
func (c *Client) Create(collection string, payload json.RawMessage) (*EntityData, error) {
	return c.doEntity("POST", fmt.Sprintf("/v1/%s", collection), payload)
}

// Update patches an existing entity by server id.
func (c *Client) Update(collection, serverID string, payload json.RawMessage) (*EntityData, error) {
	return c.doEntity("PATCH", fmt.Sprintf("/v1/%s/%s", collection, serverID), payload)
}

// Delete removes an entity by server id.
func (c *Client) Delete(collection, serverID string) error {
	return c.doJSON("DELETE", fmt.Sprintf("/v1/%s/%s", collection, serverID), nil, nil)
}

// List fetches the current server state of a collection, used to refresh
// stale local mirrors before a push.
func (c *Client) List(collection string) ([]EntityData, error) {
	var env envelope
	if err := c.doJSON("GET", fmt.Sprintf("/v1/%s", collection), nil, &env); err != nil {
		return nil, err
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal %s list: %w", collection, err)
	}
	out := make([]EntityData, 0, len(raw))
	for _, r := range raw {
		var d EntityData
		if err := json.Unmarshal(r, &d); err != nil {
			return nil, fmt.Errorf("unmarshal %s entity: %w", collection, err)
		}
		d.Fields = r
		out = append(out, d)
	}
	return out, nil
}

// Deltas fetches the per-collection change counters.
func (c *Client) Deltas() ([]DeltaCount, error) {
	var resp []DeltaCount
	if err := c.doJSON("GET", "/v1/deltas", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) doEntity(method, path string, payload json.RawMessage) (*EntityData, error) {
	var env envelope
	if err := c.doJSON(method, path, payload, &env); err != nil {
		return nil, err
	}
	var d EntityData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("unmarshal entity data: %w", err)
		}
		d.Fields = env.Data
	}
	return &d, nil
}

// doJSON executes an authenticated request with a JSON body and decodes the
// response into result (when non-nil).
func (c *Client) doJSON(method, path string, body json.RawMessage, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.DeviceID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		structured := json.Unmarshal(respBody, &apiErr) == nil && apiErr.Code != ""
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
		}
		if structured {
			apiErr.Status = resp.StatusCode
			return &apiErr
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
