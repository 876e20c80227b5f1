// Package remote provides the HTTP client for the remote onboarding API:
// test-account provisioning, KYC sessions, account reset/disable, and the
// account snapshot that feeds the account-state provider.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"payments-onboarding/internal/onboarding"
)

// Client is an HTTP client for the remote onboarding API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// InitTestAccount provisions a test account for a business location.
// Creation completes asynchronously on the remote side.
func (c *Client) InitTestAccount(ctx context.Context, req onboarding.InitTestAccountRequest) (*onboarding.InitTestAccountResult, error) {
	var resp onboarding.InitTestAccountResult
	if err := c.post(ctx, "/onboarding/test_account/init", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateKYCSession opens a hosted identity-verification session.
func (c *Client) CreateKYCSession(ctx context.Context, req onboarding.CreateKYCSessionRequest) (*onboarding.KYCSession, error) {
	var resp onboarding.KYCSession
	if err := c.post(ctx, "/onboarding/kyc/session", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FinishKYCSession submits a hosted session's outcome.
func (c *Client) FinishKYCSession(ctx context.Context, req onboarding.FinishKYCSessionRequest) (*onboarding.KYCSessionResult, error) {
	var resp onboarding.KYCSessionResult
	if err := c.post(ctx, "/onboarding/kyc/session/finish", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DisableTestAccount transitions the remote test account toward live.
func (c *Client) DisableTestAccount(ctx context.Context) error {
	return c.post(ctx, "/onboarding/test_account/disable", struct{}{}, nil)
}

// ResetAccount deletes the remote account so onboarding can start over.
func (c *Client) ResetAccount(ctx context.Context) error {
	return c.post(ctx, "/onboarding/reset", struct{}{}, nil)
}

// GetAccount fetches the current account snapshot.
func (c *Client) GetAccount(ctx context.Context) (*AccountSnapshot, error) {
	var resp AccountSnapshot
	if err := c.get(ctx, "/onboarding/account", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return newAPIError(resp.StatusCode, body)
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshaling response: %w", err)
		}
	}
	return nil
}
