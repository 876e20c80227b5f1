package remote

import (
	"context"
	"log"
	"sync"
	"time"

	"payments-onboarding/internal/onboarding"
)

// snapshotTTL bounds how stale a cached account snapshot may get before
// the next predicate call refetches it.
const snapshotTTL = 5 * time.Second

// AccountState adapts the remote account snapshot to the engine's
// account-state and connection-state provider interfaces. A fetch failure
// yields TruthUnknown for every predicate; the resolver decides fallbacks.
type AccountState struct {
	client *Client

	mu        sync.Mutex
	snapshot  *AccountSnapshot
	fetchedAt time.Time
	now       func() time.Time
}

// NewAccountState creates a provider over the remote client.
func NewAccountState(client *Client) *AccountState {
	return &AccountState{client: client, now: time.Now}
}

// Invalidate drops the cached snapshot so the next predicate refetches.
func (a *AccountState) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshot = nil
}

func (a *AccountState) current(ctx context.Context) *AccountSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.snapshot != nil && a.now().Sub(a.fetchedAt) < snapshotTTL {
		return a.snapshot
	}
	snapshot, err := a.client.GetAccount(ctx)
	if err != nil {
		log.Printf("fetching account snapshot: %v", err)
		return nil
	}
	a.snapshot = snapshot
	a.fetchedAt = a.now()
	return snapshot
}

// HasAccount reports whether a processor account exists.
func (a *AccountState) HasAccount(ctx context.Context) onboarding.Truth {
	s := a.current(ctx)
	if s == nil {
		return onboarding.TruthUnknown
	}
	return onboarding.TruthOf(s.Exists)
}

// IsConnected reports whether the account is connected to the processor.
func (a *AccountState) IsConnected(ctx context.Context) onboarding.Truth {
	return a.predicate(ctx, func(s *AccountSnapshot) *bool { return s.Connected })
}

// IsValid reports whether the account passed validity checks.
func (a *AccountState) IsValid(ctx context.Context) onboarding.Truth {
	return a.predicate(ctx, func(s *AccountSnapshot) *bool { return s.Valid })
}

// IsWorking reports whether the account is operational.
func (a *AccountState) IsWorking(ctx context.Context) onboarding.Truth {
	return a.predicate(ctx, func(s *AccountSnapshot) *bool { return s.Working })
}

// IsTest reports whether the account is a test account.
func (a *AccountState) IsTest(ctx context.Context) onboarding.Truth {
	return a.predicate(ctx, func(s *AccountSnapshot) *bool { return s.Test })
}

// IsSandbox reports whether the account is a sandbox account.
func (a *AccountState) IsSandbox(ctx context.Context) onboarding.Truth {
	return a.predicate(ctx, func(s *AccountSnapshot) *bool { return s.Sandbox })
}

// IsLive reports whether the account is a live account.
func (a *AccountState) IsLive(ctx context.Context) onboarding.Truth {
	return a.predicate(ctx, func(s *AccountSnapshot) *bool { return s.Live })
}

func (a *AccountState) predicate(ctx context.Context, field func(*AccountSnapshot) *bool) onboarding.Truth {
	s := a.current(ctx)
	if s == nil {
		return onboarding.TruthUnknown
	}
	return truth(field(s))
}

// ConnectionState adapts the platform identity connection fields of the
// account snapshot.
type ConnectionState struct {
	account *AccountState
}

// NewConnectionState creates a connection provider sharing the account
// snapshot cache.
func NewConnectionState(account *AccountState) *ConnectionState {
	return &ConnectionState{account: account}
}

// IsConnected reports whether the platform connection is established.
func (c *ConnectionState) IsConnected(ctx context.Context) onboarding.Truth {
	return c.account.predicate(ctx, func(s *AccountSnapshot) *bool { return s.PlatformConnected })
}

// HasOwner reports whether the connection has a confirmed owner.
func (c *ConnectionState) HasOwner(ctx context.Context) onboarding.Truth {
	return c.account.predicate(ctx, func(s *AccountSnapshot) *bool { return s.PlatformOwner })
}
