package onboarding

import (
	"context"
	"errors"
)

// StepProgress is the persisted unit of mutation for one (location, step).
type StepProgress struct {
	// Statuses maps a stored status marker to the unix timestamp it was
	// last set. Absence means the marker was never set or was cleared;
	// not_started is never stored.
	Statuses map[Status]int64 `json:"statuses"`
	// Data is the step-specific payload, merged (not replaced) on save.
	Data map[string]any `json:"data"`
	// Error is the most recent failure or block reason, overwritten on
	// every failure so only the latest is retained.
	Error *ErrorDetail `json:"error,omitempty"`
}

// StatusAt returns the timestamp the marker was set, if present.
func (p *StepProgress) StatusAt(s Status) (int64, bool) {
	ts, ok := p.Statuses[s]
	return ts, ok
}

// Has reports whether the marker is currently set.
func (p *StepProgress) Has(s Status) bool {
	_, ok := p.Statuses[s]
	return ok
}

// mark sets a status marker at ts. Setting failed clears blocked and vice
// versa; the two are mutually exclusive.
func (p *StepProgress) mark(s Status, ts int64) {
	if p.Statuses == nil {
		p.Statuses = make(map[Status]int64)
	}
	switch s {
	case StatusFailed:
		delete(p.Statuses, StatusBlocked)
	case StatusBlocked:
		delete(p.Statuses, StatusFailed)
	}
	p.Statuses[s] = ts
}

// clear removes a status marker if present.
func (p *StepProgress) clear(s Status) {
	delete(p.Statuses, s)
}

// mergeData merges payload into the step data, field by field.
func (p *StepProgress) mergeData(payload map[string]any) {
	if len(payload) == 0 {
		return
	}
	if p.Data == nil {
		p.Data = make(map[string]any, len(payload))
	}
	for k, v := range payload {
		p.Data[k] = v
	}
}

// ProgressStore persists step progress keyed by (location, step). The
// engine never touches storage directly; every write goes through
// UpdateStep so implementations can make the read-modify-write atomic.
type ProgressStore interface {
	// GetStep returns the stored progress, or a zero StepProgress when
	// nothing was recorded yet.
	GetStep(ctx context.Context, location string, step StepID) (StepProgress, error)
	// UpdateStep applies mutate to the stored progress under an atomic
	// read-modify-write, creating the record when absent.
	UpdateStep(ctx context.Context, location string, step StepID, mutate func(*StepProgress) error) error
	// DeleteStep removes one step record entirely.
	DeleteStep(ctx context.Context, location string, step StepID) error
	// Locations lists every location with recorded progress.
	Locations(ctx context.Context) ([]string, error)
	// Reset deletes the whole onboarding document, all locations included.
	Reset(ctx context.Context) error

	// SetTestMode persists the cached test-mode flag for the site.
	SetTestMode(ctx context.Context, enabled bool) error
	// TestMode reads the cached test-mode flag; false when never set.
	TestMode(ctx context.Context) (bool, error)
	// ClearTestMode removes the cached test-mode flag.
	ClearTestMode(ctx context.Context) error
}

// ErrLeaseHeld is returned by LockManager.Acquire when a live lease exists.
var ErrLeaseHeld = errors.New("onboarding lease already held")

// LockManager serializes mutating onboarding actions behind a single
// site-wide lease. A lease carries a token and a TTL; an expired lease is
// treated as unlocked, so a crashed holder cannot wedge the flow forever.
type LockManager interface {
	// IsLocked reports whether a live (unexpired) lease exists.
	IsLocked(ctx context.Context) (bool, error)
	// Acquire takes the lease and returns its token, or ErrLeaseHeld when
	// a live lease is already present.
	Acquire(ctx context.Context) (token string, err error)
	// Release frees the lease identified by token. Releasing an expired,
	// replaced, or already-released lease is a no-op.
	Release(ctx context.Context, token string) error
}
