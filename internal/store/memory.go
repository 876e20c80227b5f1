package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"payments-onboarding/internal/onboarding"
)

// MemoryStore is an in-memory ProgressStore and LockManager. It backs mock
// mode and the engine tests.
type MemoryStore struct {
	mu       sync.Mutex
	steps    map[string]map[onboarding.StepID]onboarding.StepProgress
	testMode *bool

	leaseToken   string
	leaseExpires time.Time
	leaseTTL     time.Duration
	now          func() time.Time
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		steps:    make(map[string]map[onboarding.StepID]onboarding.StepProgress),
		leaseTTL: DefaultLeaseTTL,
		now:      time.Now,
	}
}

func copyProgress(p onboarding.StepProgress) onboarding.StepProgress {
	out := onboarding.StepProgress{}
	if p.Statuses != nil {
		out.Statuses = make(map[onboarding.Status]int64, len(p.Statuses))
		for k, v := range p.Statuses {
			out.Statuses[k] = v
		}
	}
	if p.Data != nil {
		out.Data = make(map[string]any, len(p.Data))
		for k, v := range p.Data {
			out.Data[k] = v
		}
	}
	if p.Error != nil {
		detail := *p.Error
		out.Error = &detail
	}
	return out
}

// GetStep returns a copy of the stored progress, or a zero StepProgress.
func (m *MemoryStore) GetStep(_ context.Context, location string, step onboarding.StepID) (onboarding.StepProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if loc, ok := m.steps[location]; ok {
		if p, ok := loc[step]; ok {
			return copyProgress(p), nil
		}
	}
	return onboarding.StepProgress{}, nil
}

// UpdateStep applies mutate under the store mutex.
func (m *MemoryStore) UpdateStep(_ context.Context, location string, step onboarding.StepID, mutate func(*onboarding.StepProgress) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.steps[location]
	if !ok {
		loc = make(map[onboarding.StepID]onboarding.StepProgress)
		m.steps[location] = loc
	}
	progress := copyProgress(loc[step])
	if err := mutate(&progress); err != nil {
		return err
	}
	loc[step] = progress
	return nil
}

// DeleteStep removes one step record.
func (m *MemoryStore) DeleteStep(_ context.Context, location string, step onboarding.StepID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if loc, ok := m.steps[location]; ok {
		delete(loc, step)
		if len(loc) == 0 {
			delete(m.steps, location)
		}
	}
	return nil
}

// Locations lists every location with recorded progress.
func (m *MemoryStore) Locations(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	locations := make([]string, 0, len(m.steps))
	for loc := range m.steps {
		locations = append(locations, loc)
	}
	return locations, nil
}

// Reset deletes the whole document.
func (m *MemoryStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = make(map[string]map[onboarding.StepID]onboarding.StepProgress)
	return nil
}

// SetTestMode persists the cached test-mode flag.
func (m *MemoryStore) SetTestMode(_ context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.testMode = &enabled
	return nil
}

// TestMode reads the cached test-mode flag.
func (m *MemoryStore) TestMode(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.testMode == nil {
		return false, nil
	}
	return *m.testMode, nil
}

// ClearTestMode removes the cached test-mode flag.
func (m *MemoryStore) ClearTestMode(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.testMode = nil
	return nil
}

// IsLocked reports whether a live lease exists.
func (m *MemoryStore) IsLocked(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaseToken != "" && m.now().Before(m.leaseExpires), nil
}

// Acquire takes the lease or returns onboarding.ErrLeaseHeld.
func (m *MemoryStore) Acquire(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaseToken != "" && m.now().Before(m.leaseExpires) {
		return "", onboarding.ErrLeaseHeld
	}
	m.leaseToken = uuid.NewString()
	m.leaseExpires = m.now().Add(m.leaseTTL)
	return m.leaseToken, nil
}

// Release frees the lease when token matches; otherwise a no-op.
func (m *MemoryStore) Release(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaseToken == token {
		m.leaseToken = ""
		m.leaseExpires = time.Time{}
	}
	return nil
}
