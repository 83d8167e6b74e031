// Package client is a thin HTTP client for the agrotrace API, used by
// the smoke CLI and suitable for integration tooling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a running agrotrace-api instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures Client.
type Option func(*Client)

// WithToken sets the bearer token attached to mutating requests.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client for the given base URL (for example http://localhost:8080).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Product mirrors the API product representation.
type Product struct {
	ID           uint64 `json:"id"`
	Name         string `json:"name"`
	Origin       string `json:"origin"`
	HarvestDate  int64  `json:"harvest_date"`
	CurrentOwner string `json:"current_owner"`
}

// History mirrors the API provenance view.
type History struct {
	ID               uint64   `json:"id"`
	Name             string   `json:"name"`
	Origin           string   `json:"origin"`
	HarvestDate      int64    `json:"harvest_date"`
	CurrentOwner     string   `json:"current_owner"`
	QualityChecks    []string `json:"quality_checks"`
	OwnershipHistory []string `json:"ownership_history"`
	LocationHistory  []string `json:"location_history"`
}

// RoleRequest mirrors the API role request representation.
type RoleRequest struct {
	ID        uint64 `json:"id"`
	Requester string `json:"requester"`
	Role      string `json:"role"`
	Status    string `json:"status"`
}

// APIError carries the HTTP status and server-reported message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (c *Client) RegisterProduct(ctx context.Context, name, origin string, harvestDate time.Time) (Product, error) {
	var p Product
	err := c.call(ctx, http.MethodPost, "/v1/products", map[string]any{
		"name":         name,
		"origin":       origin,
		"harvest_date": harvestDate.Unix(),
	}, &p)
	return p, err
}

func (c *Client) TransferOwnership(ctx context.Context, productID uint64, newOwner string) (Product, error) {
	var p Product
	err := c.call(ctx, http.MethodPost, fmt.Sprintf("/v1/products/%d/transfer", productID), map[string]any{
		"new_owner": newOwner,
	}, &p)
	return p, err
}

func (c *Client) UpdateLocation(ctx context.Context, productID uint64, location string) error {
	return c.call(ctx, http.MethodPost, fmt.Sprintf("/v1/products/%d/location", productID), map[string]any{
		"location": location,
	}, nil)
}

func (c *Client) History(ctx context.Context, productID uint64) (History, error) {
	var h History
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/v1/products/%d/history", productID), nil, &h)
	return h, err
}

func (c *Client) SubmitRoleRequest(ctx context.Context, role, justification string) (RoleRequest, error) {
	var r RoleRequest
	err := c.call(ctx, http.MethodPost, "/v1/role-requests", map[string]any{
		"role":          role,
		"justification": justification,
	}, &r)
	return r, err
}

func (c *Client) ProcessRoleRequest(ctx context.Context, requestID uint64, approve bool) (RoleRequest, error) {
	var r RoleRequest
	err := c.call(ctx, http.MethodPost, fmt.Sprintf("/v1/role-requests/%d/process", requestID), map[string]any{
		"approve": approve,
	}, &r)
	return r, err
}

func (c *Client) HasRole(ctx context.Context, principal, role string) (bool, error) {
	q := url.Values{"principal": {principal}, "role": {role}}
	var out struct {
		HasRole bool `json:"has_role"`
	}
	err := c.call(ctx, http.MethodGet, "/v1/roles/check?"+q.Encode(), nil, &out)
	return out.HasRole, err
}

func (c *Client) ProductCount(ctx context.Context) (uint64, error) {
	var out struct {
		Count uint64 `json:"count"`
	}
	err := c.call(ctx, http.MethodGet, "/v1/products/count", nil, &out)
	return out.Count, err
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = strconv.Itoa(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
