// Package client provides the MedLedger Go SDK for appending and querying
// medical records on a MedLedger service.
package client

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
)

// Record is the payload for AddRecord.
type Record struct {
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name"`
	Age         int    `json:"age"`
	Diagnosis   string `json:"diagnosis"`
	Treatment   string `json:"treatment"`
	Doctor      string `json:"doctor"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// Receipt identifies the block a record was sealed into.
type Receipt struct {
	ReceiptID   string `json:"receipt_id"`
	Index       int    `json:"index"`
	Fingerprint string `json:"fingerprint"`
}

// Projection is one stored record annotated with its block linkage. Fields
// beyond the linkage metadata stay schema-free, mirroring the service.
type Projection map[string]any

// Stats summarises the chain as reported by GET /api/v1/chain.
type Stats struct {
	Blocks  int  `json:"blocks"`
	Records int  `json:"records"`
	Valid   bool `json:"valid"`
}

// Issue is one integrity problem found during verification.
type Issue struct {
	Index   int    `json:"block_index"`
	Problem string `json:"issue"`
}

// BlockView is the linkage metadata of one block, payload omitted.
type BlockView struct {
	Index           int    `json:"index"`
	Timestamp       string `json:"timestamp"`
	Fingerprint     string `json:"fingerprint"`
	PrevFingerprint string `json:"previous_fingerprint"`
	Nonce           uint64 `json:"nonce"`
}

// Block is one full block including its payload.
type Block struct {
	Index           int            `json:"index"`
	Timestamp       string         `json:"timestamp"`
	Payload         map[string]any `json:"payload"`
	PrevFingerprint string         `json:"previous_fingerprint"`
	Nonce           uint64         `json:"nonce"`
	Fingerprint     string         `json:"fingerprint"`
}

// Snapshot is the full ordered block sequence, portable between services.
type Snapshot struct {
	Blocks []Block `json:"blocks"`
}

// Client is the MedLedger SDK entry point.
type Client struct {
	base       string
	httpClient *http.Client

	// token state, guarded by mu
	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time // zero = token was set manually (no auto-refresh)
	apiKey      string
	writer      string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a pre-obtained writer token to every request.
// The token is treated as long-lived and will not be auto-refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		c.tokenExpiry = time.Time{}
		return nil
	}
}

// WithAPIKey stores an API key so the client can exchange it for writer
// tokens on demand, refreshing automatically near expiry. writer names the
// appending party recorded in token claims; it may be empty.
func WithAPIKey(apiKey, writer string) Option {
	return func(c *Client) error {
		c.apiKey = apiKey
		c.writer = writer
		return nil
	}
}

// New creates a new MedLedger SDK Client connected to base.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithAPIKey(apiKey, "ward-3"),
//	)
func New(base string, opts ...Option) (*Client, error) {
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// AddRecord appends one medical record and returns its block receipt.
func (c *Client) AddRecord(ctx context.Context, rec Record) (*Receipt, error) {
	body, err := c.doJSON(ctx, http.MethodPost, "/api/v1/records", rec, true)
	if err != nil {
		return nil, err
	}

	var receipt Receipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &receipt, nil
}

// Records returns all stored record projections, oldest first. Pass a
// non-empty patientID to filter to one patient.
func (c *Client) Records(ctx context.Context, patientID string) ([]Projection, error) {
	path := "/api/v1/records"
	if patientID != "" {
		path += "?patient_id=" + url.QueryEscape(patientID)
	}

	body, err := c.doJSON(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Records []Projection `json:"records"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return wrapper.Records, nil
}

// Verify asks the service to walk the full chain. A nil issue slice means
// the chain is intact.
func (c *Client) Verify(ctx context.Context) ([]Issue, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/api/v1/chain/verify", nil, false)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Valid  bool    `json:"valid"`
		Issues []Issue `json:"issues"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	if resp.Valid {
		return nil, nil
	}
	return resp.Issues, nil
}

// Stats fetches the chain summary.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/api/v1/chain", nil, false)
	if err != nil {
		return nil, err
	}

	var stats Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &stats, nil
}

// Latest fetches the tip block's linkage metadata.
func (c *Client) Latest(ctx context.Context) (*BlockView, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/api/v1/chain/latest", nil, false)
	if err != nil {
		return nil, err
	}

	var view BlockView
	if err := json.Unmarshal(body, &view); err != nil {
		return nil, fmt.Errorf("decode block view: %w", err)
	}
	return &view, nil
}

// Block fetches one full block by index.
func (c *Client) Block(ctx context.Context, index int) (*Block, error) {
	body, err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/v1/chain/blocks/%d", index), nil, false)
	if err != nil {
		return nil, err
	}

	var block Block
	if err := json.Unmarshal(body, &block); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	return &block, nil
}

// ExportSnapshot downloads the full chain as a portable snapshot.
func (c *Client) ExportSnapshot(ctx context.Context) (*Snapshot, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/api/v1/chain/snapshot", nil, true)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// ImportSnapshot uploads a snapshot, replacing the service's live chain.
// The service verifies before swapping; a tampered snapshot is rejected.
func (c *Client) ImportSnapshot(ctx context.Context, snap Snapshot) (*Stats, error) {
	body, err := c.doJSON(ctx, http.MethodPost, "/api/v1/chain/snapshot", snap, true)
	if err != nil {
		return nil, err
	}

	var stats Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &stats, nil
}

// ExportCSV streams the record export into w.
func (c *Client) ExportCSV(ctx context.Context, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/records/export", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("server error %d", resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read export: %w", err)
	}
	return nil
}

// FetchToken exchanges the configured API key for a writer token, caches it,
// and returns it. Requires WithAPIKey.
func (c *Client) FetchToken(ctx context.Context) (string, error) {
	token, expiry, err := c.fetchTokenRaw(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.bearerToken = token
	c.tokenExpiry = expiry
	c.mu.Unlock()
	return token, nil
}

// fetchTokenRaw fetches a fresh token without touching cached state.
func (c *Client) fetchTokenRaw(ctx context.Context) (token string, expiry time.Time, err error) {
	if c.apiKey == "" {
		return "", time.Time{}, errors.New("no API key configured, use WithAPIKey or WithBearerToken")
	}

	payload, _ := json.Marshal(map[string]string{"api_key": c.apiKey, "writer": c.writer})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/auth/token", bytes.NewReader(payload))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", time.Time{}, fmt.Errorf("token endpoint error %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}

	// Refresh 60 s before actual expiry to avoid clock-skew failures.
	const refreshBuffer = 60 * time.Second
	exp := time.Now().Add(time.Duration(parsed.ExpiresIn)*time.Second - refreshBuffer)
	return parsed.Token, exp, nil
}

// ensureToken returns a valid bearer token, fetching a new one if the cached
// token is absent or approaching expiry. Returns "" when the client carries
// no credentials at all, which is fine against an open-mode service.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// tokenExpiry.IsZero() means the token was set manually via
	// WithBearerToken and should never be auto-refreshed.
	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		return c.bearerToken, nil
	}
	if c.apiKey == "" {
		return "", nil
	}

	token, expiry, err := c.fetchTokenRaw(ctx)
	if err != nil {
		return "", err
	}
	c.bearerToken = token
	c.tokenExpiry = expiry
	return token, nil
}

// doJSON executes a JSON request against the service. authed requests carry
// the writer token when the client has credentials.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody any, authed bool) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if authed {
		token, err := c.ensureToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("obtain writer token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("not found: %s", path)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("unauthorized: %s", string(body))
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
