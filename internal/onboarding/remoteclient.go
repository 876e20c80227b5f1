package onboarding

import "context"

// InitTestAccountRequest asks the remote onboarding API to provision a
// test account for a business location.
type InitTestAccountRequest struct {
	Location string `json:"country"`
	Source   string `json:"source,omitempty"`
}

// InitTestAccountResult is what the remote API returns for a test-account
// init. Creation completes asynchronously on the remote side, so the local
// step only moves to started.
type InitTestAccountResult struct {
	AccountID string         `json:"account_id"`
	TestMode  bool           `json:"test_mode"`
	Data      map[string]any `json:"data,omitempty"`
}

// CreateKYCSessionRequest opens a hosted identity-verification session.
type CreateKYCSessionRequest struct {
	Location       string         `json:"country"`
	SelfAssessment map[string]any `json:"self_assessment,omitempty"`
	Source         string         `json:"source,omitempty"`
}

// KYCSession is the hosted verification session handed back to the UI.
type KYCSession struct {
	SessionID    string         `json:"session_id"`
	ClientSecret string         `json:"client_secret"`
	ExpiresAt    int64          `json:"expires_at"`
	Data         map[string]any `json:"data,omitempty"`
}

// FinishKYCSessionRequest submits the outcome of a hosted session.
type FinishKYCSessionRequest struct {
	Location  string         `json:"country"`
	SessionID string         `json:"session_id"`
	Result    map[string]any `json:"result,omitempty"`
}

// KYCSessionResult is the remote API's verdict on a finished session.
type KYCSessionResult struct {
	AccountID string         `json:"account_id"`
	Completed bool           `json:"completed"`
	Data      map[string]any `json:"data,omitempty"`
}

// RemoteOnboardingClient is the synchronous remote onboarding API the
// executor calls under the lease. Calls are non-idempotent and slow; the
// engine never retries them.
type RemoteOnboardingClient interface {
	InitTestAccount(ctx context.Context, req InitTestAccountRequest) (*InitTestAccountResult, error)
	CreateKYCSession(ctx context.Context, req CreateKYCSessionRequest) (*KYCSession, error)
	FinishKYCSession(ctx context.Context, req FinishKYCSessionRequest) (*KYCSessionResult, error)
	DisableTestAccount(ctx context.Context) error
	ResetAccount(ctx context.Context) error
}

// RemoteErrorDetailer lets transport errors carry a sanitized detail that
// the executor records into step progress. Errors that do not implement it
// are recorded with a generic code.
type RemoteErrorDetailer interface {
	RemoteErrorDetail() ErrorDetail
}
