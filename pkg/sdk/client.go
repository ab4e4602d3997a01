package nova

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	methodPrefix = "named_query_"
	countSuffix  = ".count"
)

// Client calls the remote methods of a nova server.
type Client struct {
	baseURL *url.URL
	apiKey  string
	connID  string
	http    *http.Client
	obs     *observer
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("nova: server address required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("nova: parse server address: %w", err)
	}

	cfg := &clientConfig{}
	for _, o := range opts {
		o.apply(cfg)
	}
	hc := cfg.httpClient
	if hc == nil {
		hc = http.DefaultClient
	}
	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL: u,
		apiKey:  cfg.apiKey,
		connID:  cfg.connectionID,
		http:    hc,
		obs:     obs,
	}, nil
}

// NamedQuery returns a handle on the exposed query name.
func (c *Client) NamedQuery(name string) *NamedQuery {
	return &NamedQuery{client: c, name: name, params: map[string]any{}}
}

// HealthStatus is the server's health report.
type HealthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health fetches GET /health. An unhealthy server is not an error.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var out HealthStatus
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.JoinPath("health").String(), http.NoBody)
	if err != nil {
		return out, fmt.Errorf("nova: health: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("nova: health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("nova: health: decode: %w", err)
	}
	return out, nil
}

// Call invokes a remote method and decodes its result into out (may be nil).
func (c *Client) Call(ctx context.Context, method string, params map[string]any, out any) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("nova: encode params: %w", err)
	}
	endpoint := c.baseURL.JoinPath("methods", method).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("nova: %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.connID != "" {
		req.Header.Set("X-Connection-ID", c.connID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("nova: %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("nova: %s: decode response: %w", method, err)
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("nova: %s: decode result: %w", method, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	e := &Error{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, e); err != nil || e.Code == "" {
		e.Code = "http_error"
		e.Message = strings.TrimSpace(string(data))
	}
	return e
}

func (c *Client) call(ctx context.Context, op, query, method string, params map[string]any, out any) (err error) {
	start := time.Now()
	defer func() { c.obs.observe(op, query, start, err) }()
	return c.Call(ctx, method, params, out)
}
