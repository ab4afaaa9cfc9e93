// Package client is a thin HTTP client for the issuance API, used by deedctl.
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
	"strings"
	"time"

	"titledeed/internal/deed/ledger"
	"titledeed/internal/deed/models"
	id "titledeed/pkg/domain"
)

// IssueResponse mirrors the issuance response body.
type IssueResponse struct {
	ApplicationID   int64  `json:"application_id"`
	DeedNumber      string `json:"deed_number"`
	TransactionHash string `json:"transaction_hash"`
	Message         string `json:"message"`
}

// ReconcileResponse mirrors the reconcile response body.
type ReconcileResponse struct {
	Attempt *models.Attempt        `json:"attempt"`
	Outcome string                 `json:"ledger_outcome"`
	Result  *models.IssuanceResult `json:"result,omitempty"`
}

type attemptsResponse struct {
	Attempts []*models.Attempt `json:"attempts"`
	Count    int               `json:"count"`
}

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status      int
	Code        string
	Description string
	Details     map[string]any
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Description)
	}
	return fmt.Sprintf("%s (%d)", e.Code, e.Status)
}

// Retryable reports the server's retry hint.
func (e *APIError) Retryable() bool {
	v, _ := e.Details["retryable"].(bool)
	return v
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// issuance waits for ledger confirmation
		http: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Issue(ctx context.Context, applicationID id.ApplicationID) (*IssueResponse, error) {
	var out IssueResponse
	err := c.do(ctx, http.MethodPost, "/v1/title-deeds", map[string]int64{"application_id": int64(applicationID)}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListAttempts(ctx context.Context, states []models.State, limit int) ([]*models.Attempt, error) {
	q := url.Values{}
	if len(states) > 0 {
		names := make([]string, len(states))
		for i, s := range states {
			names[i] = string(s)
		}
		q.Set("state", strings.Join(names, ","))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/issuances"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out attemptsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Attempts, nil
}

func (c *Client) Reconcile(ctx context.Context, txHash id.TxHash) (*ReconcileResponse, error) {
	var out ReconcileResponse
	if err := c.do(ctx, http.MethodPost, "/v1/issuances/"+txHash.String()+"/reconcile", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RetryCommit(ctx context.Context, txHash id.TxHash) (*IssueResponse, error) {
	var out IssueResponse
	if err := c.do(ctx, http.MethodPost, "/v1/issuances/"+txHash.String()+"/retry-commit", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Attestation(ctx context.Context, deed id.DeedNumber) (*ledger.TitleDeedView, error) {
	var out ledger.TitleDeedView
	if err := c.do(ctx, http.MethodGet, "/v1/title-deeds/"+deed.String()+"/attestation", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, raw []byte) error {
	apiErr := &APIError{Status: status, Code: http.StatusText(status)}
	var envelope map[string]any
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return apiErr
	}
	if code, ok := envelope["error"].(string); ok {
		apiErr.Code = code
	}
	if desc, ok := envelope["error_description"].(string); ok {
		apiErr.Description = desc
	}
	delete(envelope, "error")
	delete(envelope, "error_description")
	if len(envelope) > 0 {
		apiErr.Details = envelope
	}
	return apiErr
}
