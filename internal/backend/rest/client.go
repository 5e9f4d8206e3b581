// Package rest talks to a hosted PostgREST/GoTrue style backend over HTTP.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront/internal/backend"
	"storefront/internal/util"
)

// Config configures the client.
type Config struct {
	URL     string
	AnonKey string
	Timeout time.Duration
	// Optional, mostly for tests.
	HTTPClient *http.Client
}

// Client implements backend.Client. The zero token means anonymous access.
type Client struct {
	restPrefix string
	authPrefix string
	anonKey    string
	http       *http.Client
	token      string
}

// New creates a client for the backend at cfg.URL.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("backend URL is required")
	}
	if cfg.AnonKey == "" {
		return nil, fmt.Errorf("backend anon key is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	trimmed := strings.TrimRight(cfg.URL, "/")
	return &Client{
		restPrefix: trimmed + "/rest/v1",
		authPrefix: trimmed + "/auth/v1",
		anonKey:    cfg.AnonKey,
		http:       hc,
	}, nil
}

// WithToken returns a data service acting as the token's user.
func (c *Client) WithToken(accessToken string) backend.DataService {
	clone := *c
	clone.token = accessToken
	return &clone
}

func (c *Client) Select(ctx context.Context, q backend.Query, dest any) error {
	if q.Table == "" {
		return fmt.Errorf("table is required")
	}
	params, err := encodeFilters(q.Filters)
	if err != nil {
		return err
	}
	params.Set("select", "*")
	if len(q.Order) > 0 {
		params.Set("order", encodeOrder(q.Order))
	}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", q.Limit))
	}

	body, err := c.do(ctx, "select", q.Table, http.MethodGet, c.tableURL(q.Table, params), nil, nil)
	if err != nil {
		return err
	}
	return backend.DecodeJSON(body, dest)
}

func (c *Client) Insert(ctx context.Context, table string, rows any, dest any) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to marshal rows: %w", err)
	}
	prefer := "return=minimal"
	if dest != nil {
		prefer = "return=representation"
	}

	body, err := c.do(ctx, "insert", table, http.MethodPost, c.tableURL(table, nil), payload,
		map[string]string{"Prefer": prefer})
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	return backend.DecodeJSON(body, dest)
}

func (c *Client) Update(ctx context.Context, table string, patch map[string]any, filters []backend.Filter) error {
	if len(filters) == 0 {
		return fmt.Errorf("refusing unfiltered update of %s", table)
	}
	params, err := encodeFilters(filters)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to marshal patch: %w", err)
	}

	_, err = c.do(ctx, "update", table, http.MethodPatch, c.tableURL(table, params), payload,
		map[string]string{"Prefer": "return=minimal"})
	return err
}

func (c *Client) Delete(ctx context.Context, table string, filters []backend.Filter) error {
	if len(filters) == 0 {
		return fmt.Errorf("refusing unfiltered delete of %s", table)
	}
	params, err := encodeFilters(filters)
	if err != nil {
		return err
	}

	_, err = c.do(ctx, "delete", table, http.MethodDelete, c.tableURL(table, params), nil,
		map[string]string{"Prefer": "return=minimal"})
	return err
}

func (c *Client) tableURL(table string, params url.Values) string {
	u := c.restPrefix + "/" + url.PathEscape(table)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// do performs one request and returns the response body of a 2xx reply.
func (c *Client) do(ctx context.Context, op, table, method, rawURL string, payload []byte, headers map[string]string) ([]byte, error) {
	ctx, span := util.StartSpan(ctx, "RestClient."+op)
	start := time.Now()

	body, err := c.send(ctx, method, rawURL, payload, headers)

	util.BackendRequestDuration.WithLabelValues(op, table).Observe(time.Since(start).Seconds())
	if err != nil {
		util.BackendErrorsTotal.WithLabelValues(op, table).Inc()
	}
	util.EndSpan(span, err)
	return body, err
}

func (c *Client) send(ctx context.Context, method, rawURL string, payload []byte, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.anonKey)
	bearer := c.anonKey
	if c.token != "" {
		bearer = c.token
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseError(resp.StatusCode, body)
	}
	return body, nil
}

// parseError understands both PostgREST (code/message) and GoTrue
// (error/error_description/msg) error bodies.
func parseError(status int, body []byte) error {
	var raw struct {
		Code             any    `json:"code"`
		Message          string `json:"message"`
		Details          string `json:"details"`
		Hint             string `json:"hint"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
		ErrorCode        string `json:"error_code"`
	}
	_ = json.Unmarshal(body, &raw)

	be := &backend.Error{Status: status, Details: raw.Details, Hint: raw.Hint}
	if s, ok := raw.Code.(string); ok {
		be.Code = s
	}
	if raw.ErrorCode != "" {
		be.Code = raw.ErrorCode
	}
	if be.Code == "" {
		be.Code = raw.Error
	}

	switch {
	case raw.Message != "":
		be.Message = raw.Message
	case raw.ErrorDescription != "":
		be.Message = raw.ErrorDescription
	case raw.Msg != "":
		be.Message = raw.Msg
	case raw.Error != "":
		be.Message = raw.Error
	default:
		be.Message = strings.TrimSpace(string(body))
		if be.Message == "" {
			be.Message = http.StatusText(status)
		}
	}
	return be
}
