package onboarding_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"payments-onboarding/internal/onboarding"
	"payments-onboarding/internal/store"
)

// fakeAccount is a scriptable AccountStateProvider.
type fakeAccount struct {
	has, connected, valid, working, test, sandbox, live onboarding.Truth
}

func (f *fakeAccount) HasAccount(context.Context) onboarding.Truth  { return f.has }
func (f *fakeAccount) IsConnected(context.Context) onboarding.Truth { return f.connected }
func (f *fakeAccount) IsValid(context.Context) onboarding.Truth     { return f.valid }
func (f *fakeAccount) IsWorking(context.Context) onboarding.Truth   { return f.working }
func (f *fakeAccount) IsTest(context.Context) onboarding.Truth      { return f.test }
func (f *fakeAccount) IsSandbox(context.Context) onboarding.Truth   { return f.sandbox }
func (f *fakeAccount) IsLive(context.Context) onboarding.Truth      { return f.live }

// noAccount returns a provider that definitely has no account.
func noAccount() *fakeAccount {
	return &fakeAccount{
		has: onboarding.TruthFalse, connected: onboarding.TruthFalse,
		valid: onboarding.TruthFalse, working: onboarding.TruthFalse,
		test: onboarding.TruthFalse, sandbox: onboarding.TruthFalse,
		live: onboarding.TruthFalse,
	}
}

// testAccountState returns a provider with a valid working test account.
func testAccountState() *fakeAccount {
	a := noAccount()
	a.has = onboarding.TruthTrue
	a.test = onboarding.TruthTrue
	a.valid = onboarding.TruthTrue
	a.working = onboarding.TruthTrue
	a.connected = onboarding.TruthTrue
	return a
}

// liveAccountState returns a provider with a valid connected live account.
func liveAccountState() *fakeAccount {
	a := noAccount()
	a.has = onboarding.TruthTrue
	a.live = onboarding.TruthTrue
	a.valid = onboarding.TruthTrue
	a.working = onboarding.TruthTrue
	a.connected = onboarding.TruthTrue
	return a
}

// fakeConnection is a scriptable ConnectionStateProvider.
type fakeConnection struct {
	connected, owner onboarding.Truth
}

func (f *fakeConnection) IsConnected(context.Context) onboarding.Truth { return f.connected }
func (f *fakeConnection) HasOwner(context.Context) onboarding.Truth    { return f.owner }

func connectedPlatform() *fakeConnection {
	return &fakeConnection{connected: onboarding.TruthTrue, owner: onboarding.TruthTrue}
}

func disconnectedPlatform() *fakeConnection {
	return &fakeConnection{connected: onboarding.TruthFalse, owner: onboarding.TruthFalse}
}

// fakeRemote records calls and fails on demand.
type fakeRemote struct {
	initErr    error
	createErr  error
	finishErr  error
	disableErr error
	resetErr   error

	calls []string
}

func (f *fakeRemote) InitTestAccount(_ context.Context, req onboarding.InitTestAccountRequest) (*onboarding.InitTestAccountResult, error) {
	f.calls = append(f.calls, "init_test_account")
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &onboarding.InitTestAccountResult{AccountID: "acct_test_1", TestMode: true}, nil
}

func (f *fakeRemote) CreateKYCSession(_ context.Context, req onboarding.CreateKYCSessionRequest) (*onboarding.KYCSession, error) {
	f.calls = append(f.calls, "create_kyc_session")
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &onboarding.KYCSession{SessionID: "kyc_1", ClientSecret: "secret"}, nil
}

func (f *fakeRemote) FinishKYCSession(_ context.Context, req onboarding.FinishKYCSessionRequest) (*onboarding.KYCSessionResult, error) {
	f.calls = append(f.calls, "finish_kyc_session")
	if f.finishErr != nil {
		return nil, f.finishErr
	}
	return &onboarding.KYCSessionResult{AccountID: "acct_1", Completed: true}, nil
}

func (f *fakeRemote) DisableTestAccount(context.Context) error {
	f.calls = append(f.calls, "disable_test_account")
	return f.disableErr
}

func (f *fakeRemote) ResetAccount(context.Context) error {
	f.calls = append(f.calls, "reset_account")
	return f.resetErr
}

// fakeIntegration is a scriptable Integration gate.
type fakeIntegration struct {
	active  bool
	version string
}

func (f *fakeIntegration) Active(context.Context) bool    { return f.active }
func (f *fakeIntegration) Version(context.Context) string { return f.version }

// recordingEvents captures telemetry events.
type recordingEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEvents) Record(_ context.Context, event string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEvents) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

// env bundles an executor over the in-memory store with its fakes.
type env struct {
	executor *onboarding.Executor
	resolver *onboarding.Resolver
	store    *store.MemoryStore
	account  *fakeAccount
	conn     *fakeConnection
	remote   *fakeRemote
	events   *recordingEvents
}

func newEnv(t *testing.T, account *fakeAccount, conn *fakeConnection) *env {
	t.Helper()
	mem := store.NewMemoryStore()
	rem := &fakeRemote{}
	rec := &recordingEvents{}
	executor, err := onboarding.NewExecutor(onboarding.ExecutorConfig{
		Store:          mem,
		Locks:          mem,
		Account:        account,
		Connection:     conn,
		Remote:         rem,
		Events:         rec,
		Integration:    &fakeIntegration{active: true, version: "8.1.0"},
		MinimumVersion: "8.0.0",
	})
	if err != nil {
		t.Fatalf("building executor: %v", err)
	}
	return &env{
		executor: executor,
		resolver: executor.Resolver(),
		store:    mem,
		account:  account,
		conn:     conn,
		remote:   rem,
		events:   rec,
	}
}

// setProgress writes raw step progress directly into the store.
func (e *env) setProgress(t *testing.T, location string, step onboarding.StepID, progress onboarding.StepProgress) {
	t.Helper()
	err := e.store.UpdateStep(context.Background(), location, step, func(p *onboarding.StepProgress) error {
		*p = progress
		return nil
	})
	if err != nil {
		t.Fatalf("seeding progress for %s/%s: %v", location, step, err)
	}
}

var errRemoteDown = errors.New("connection refused")
