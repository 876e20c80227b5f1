package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payments-onboarding/internal/onboarding"
)

func TestInitTestAccount_DecodesResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/onboarding/test_account/init", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"account_id": "acct_1", "test_mode": true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.InitTestAccount(context.Background(), onboarding.InitTestAccountRequest{Location: "US"})
	require.NoError(t, err)
	assert.Equal(t, "acct_1", result.AccountID)
	assert.True(t, result.TestMode)
}

func TestErrorResponse_BecomesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"code": "invalid_country", "message": "country not supported"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.CreateKYCSession(context.Background(), onboarding.CreateKYCSessionRequest{Location: "XX"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "invalid_country", apiErr.Code)

	detail := apiErr.RemoteErrorDetail()
	assert.Equal(t, "invalid_country", detail.Code)
	assert.Equal(t, "country not supported", detail.Message)
	assert.Equal(t, http.StatusUnprocessableEntity, detail.Context["http_status"])
}

func TestErrorResponse_ToleratesNonJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.ResetAccount(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "upstream exploded", apiErr.Message)

	detail := apiErr.RemoteErrorDetail()
	assert.Equal(t, "remote_request_failed", detail.Code)
}

func TestAccountState_UnreportedFieldsAreUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"exists": true, "valid": true, "test": false}`))
	}))
	defer server.Close()

	account := NewAccountState(NewClient(server.URL))
	ctx := context.Background()

	assert.Equal(t, onboarding.TruthTrue, account.HasAccount(ctx))
	assert.Equal(t, onboarding.TruthTrue, account.IsValid(ctx))
	assert.Equal(t, onboarding.TruthFalse, account.IsTest(ctx))
	assert.Equal(t, onboarding.TruthUnknown, account.IsWorking(ctx))
	assert.Equal(t, onboarding.TruthUnknown, account.IsLive(ctx))
}

func TestAccountState_FetchFailureIsUnknownNotFalse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	account := NewAccountState(NewClient(server.URL))
	ctx := context.Background()

	assert.Equal(t, onboarding.TruthUnknown, account.HasAccount(ctx))
	assert.Equal(t, onboarding.TruthUnknown, account.IsValid(ctx))
}

func TestConnectionState_ReadsPlatformFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"exists": false, "platform_connected": true, "platform_owner": true}`))
	}))
	defer server.Close()

	account := NewAccountState(NewClient(server.URL))
	conn := NewConnectionState(account)
	ctx := context.Background()

	assert.Equal(t, onboarding.TruthTrue, conn.IsConnected(ctx))
	assert.Equal(t, onboarding.TruthTrue, conn.HasOwner(ctx))
}

func TestAccountState_CachesSnapshotBriefly(t *testing.T) {
	var fetches int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"exists": true}`))
	}))
	defer server.Close()

	account := NewAccountState(NewClient(server.URL))
	ctx := context.Background()

	account.HasAccount(ctx)
	account.IsValid(ctx)
	account.IsLive(ctx)
	assert.Equal(t, 1, fetches, "predicates within the TTL share one snapshot")

	account.Invalidate()
	account.HasAccount(ctx)
	assert.Equal(t, 2, fetches)
}
