package remote

import (
	"encoding/json"
	"fmt"

	"payments-onboarding/internal/onboarding"
)

// APIError is a remote onboarding API failure. It carries the sanitized
// {code, message} pair the engine records into step progress.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// RemoteErrorDetail implements onboarding.RemoteErrorDetailer.
func (e *APIError) RemoteErrorDetail() onboarding.ErrorDetail {
	code := e.Code
	if code == "" {
		code = "remote_request_failed"
	}
	return onboarding.ErrorDetail{
		Code:    code,
		Message: e.Message,
		Context: map[string]any{"http_status": e.StatusCode},
	}
}

// newAPIError parses an error response body, tolerating non-JSON payloads.
func newAPIError(status int, body []byte) *APIError {
	apiErr := APIError{StatusCode: status}
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = string(body)
	}
	apiErr.StatusCode = status
	return &apiErr
}

// AccountSnapshot is the remote account's observable state at one point in
// time. Field pointers distinguish "known false" from "not reported".
type AccountSnapshot struct {
	Exists    bool  `json:"exists"`
	Connected *bool `json:"connected,omitempty"`
	Valid     *bool `json:"valid,omitempty"`
	Working   *bool `json:"working,omitempty"`
	Test      *bool `json:"test,omitempty"`
	Sandbox   *bool `json:"sandbox,omitempty"`
	Live      *bool `json:"live,omitempty"`

	PlatformConnected *bool `json:"platform_connected,omitempty"`
	PlatformOwner     *bool `json:"platform_owner,omitempty"`
}

func truth(v *bool) onboarding.Truth {
	if v == nil {
		return onboarding.TruthUnknown
	}
	return onboarding.TruthOf(*v)
}
