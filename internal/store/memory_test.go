package store

import (
	"context"
	"testing"
	"time"

	"payments-onboarding/internal/onboarding"
)

func TestMemoryStore_UpdateAndGetAreIsolated(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	err := m.UpdateStep(ctx, "US", onboarding.StepPaymentMethods, func(p *onboarding.StepProgress) error {
		p.Statuses = map[onboarding.Status]int64{onboarding.StatusStarted: 1700000000}
		p.Data = map[string]any{"payment_methods": []string{"card"}}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateStep returned error: %v", err)
	}

	progress, err := m.GetStep(ctx, "US", onboarding.StepPaymentMethods)
	if err != nil {
		t.Fatalf("GetStep returned error: %v", err)
	}

	// Mutating the returned copy must not touch the stored record.
	progress.Statuses[onboarding.StatusCompleted] = 1
	progress.Data["payment_methods"] = nil

	stored, err := m.GetStep(ctx, "US", onboarding.StepPaymentMethods)
	if err != nil {
		t.Fatalf("GetStep returned error: %v", err)
	}
	if stored.Has(onboarding.StatusCompleted) {
		t.Error("stored progress was mutated through a returned copy")
	}
}

func TestMemoryStore_ResetClearsEveryLocation(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	for _, loc := range []string{"US", "DE"} {
		err := m.UpdateStep(ctx, loc, onboarding.StepTestAccount, func(p *onboarding.StepProgress) error {
			p.Statuses = map[onboarding.Status]int64{onboarding.StatusStarted: 1}
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateStep returned error: %v", err)
		}
	}

	if err := m.Reset(ctx); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	locations, err := m.Locations(ctx)
	if err != nil {
		t.Fatalf("Locations returned error: %v", err)
	}
	if len(locations) != 0 {
		t.Errorf("expected no locations after reset, got %v", locations)
	}
}

func TestMemoryStore_LeaseLifecycle(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	token, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	if _, err := m.Acquire(ctx); err != onboarding.ErrLeaseHeld {
		t.Fatalf("expected ErrLeaseHeld on second acquire, got %v", err)
	}

	// Releasing with the wrong token is a no-op.
	if err := m.Release(ctx, "not-the-token"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if locked, _ := m.IsLocked(ctx); !locked {
		t.Fatal("lease should still be held after a mismatched release")
	}

	if err := m.Release(ctx, token); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if locked, _ := m.IsLocked(ctx); locked {
		t.Fatal("lease should be free after release")
	}
}

func TestMemoryStore_ExpiredLeaseIsUnlocked(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	current := time.Unix(1700000000, 0)
	m.now = func() time.Time { return current }

	if _, err := m.Acquire(ctx); err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}

	// A crashed holder never releases; the lease simply expires.
	current = current.Add(DefaultLeaseTTL + time.Second)

	if locked, _ := m.IsLocked(ctx); locked {
		t.Fatal("expired lease should report unlocked")
	}
	if _, err := m.Acquire(ctx); err != nil {
		t.Fatalf("expected acquire to replace the expired lease, got %v", err)
	}
}
