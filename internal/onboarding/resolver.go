package onboarding

import (
	"context"
	"fmt"
	"time"
)

// testAccountStartTimeout is how long a test_account step may sit in
// started with no account before the resolver assumes the remote creation
// call silently died and wipes the step back to not_started.
const testAccountStartTimeout = 60 * time.Second

// Resolver computes the canonical status of a step from a waterfall of
// signals: the dependency gate, remote account truth (auto-completion),
// trust-adjusted stored markers, and the start-timeout self-heal. Rules
// run in a fixed order; the first decisive rule wins.
type Resolver struct {
	store   ProgressStore
	account AccountStateProvider
	conn    ConnectionStateProvider
	events  EventRecorder
	now     func() time.Time

	rules []resolveRule
}

// NewResolver builds a resolver over the given capabilities.
func NewResolver(store ProgressStore, account AccountStateProvider, conn ConnectionStateProvider, events EventRecorder) *Resolver {
	r := &Resolver{
		store:   store,
		account: account,
		conn:    conn,
		events:  events,
		now:     time.Now,
	}
	r.rules = []resolveRule{
		{name: "auto_complete", apply: r.ruleAutoComplete},
		{name: "stored_completed", apply: r.ruleStoredCompleted},
		{name: "stored_blocked", apply: r.ruleStoredBlocked},
		{name: "stored_failed", apply: r.ruleStoredFailed},
		{name: "start_timeout", apply: r.ruleStartTimeout},
		{name: "started", apply: r.ruleStarted},
	}
	return r
}

// resolveRule is one named rule of the waterfall. It either decides the
// status (decided=true) or passes to the next rule.
type resolveRule struct {
	name  string
	apply func(ctx context.Context, rc *resolution) (status Status, decided bool, err error)
}

// resolution carries the per-call state shared by the rules.
type resolution struct {
	step     StepID
	location string
	progress StepProgress
	// requirementsMet gates the richer signals: when false, auto-completion
	// and stored completed/blocked/failed are all suppressed and only
	// started/not_started may surface.
	requirementsMet bool
}

// Resolve returns the canonical status for (step, location). Unknown step
// ids are a caller error, not a status.
func (r *Resolver) Resolve(ctx context.Context, step StepID, location string) (Status, error) {
	if !ValidStep(step) {
		return "", errUnknownStep(step)
	}

	met, err := r.RequirementsMet(ctx, step, location)
	if err != nil {
		return "", err
	}

	progress, err := r.store.GetStep(ctx, location, step)
	if err != nil {
		return "", fmt.Errorf("reading progress for %s/%s: %w", location, step, err)
	}

	rc := &resolution{
		step:            step,
		location:        location,
		progress:        progress,
		requirementsMet: met,
	}
	for _, rule := range r.rules {
		status, decided, ruleErr := rule.apply(ctx, rc)
		if ruleErr != nil {
			return "", fmt.Errorf("resolve rule %s for %s/%s: %w", rule.name, location, step, ruleErr)
		}
		if decided {
			return status, nil
		}
	}
	return StatusNotStarted, nil
}

// RequirementsMet reports whether every prerequisite of step currently
// resolves to completed.
func (r *Resolver) RequirementsMet(ctx context.Context, step StepID, location string) (bool, error) {
	for _, req := range RequiredSteps(step) {
		status, err := r.Resolve(ctx, req, location)
		if err != nil {
			return false, err
		}
		if status != StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// ruleAutoComplete derives completed from remote account truth rather than
// the store. Only a definitely-true predicate satisfies auto-completion;
// an unknown answer never does.
func (r *Resolver) ruleAutoComplete(ctx context.Context, rc *resolution) (Status, bool, error) {
	if !rc.requirementsMet {
		return "", false, nil
	}
	switch rc.step {
	case StepPaymentMethods:
		// A valid connected account makes configuring methods again moot.
		if r.account.IsConnected(ctx).True() && r.account.IsValid(ctx).True() {
			return StatusCompleted, true, nil
		}
	case StepWPCOMConnection:
		if r.conn.IsConnected(ctx).True() && r.conn.HasOwner(ctx).True() {
			return StatusCompleted, true, nil
		}
	case StepTestAccount:
		testKind := r.account.IsTest(ctx).True() || r.account.IsSandbox(ctx).True()
		if testKind && r.account.IsValid(ctx).True() && r.account.IsWorking(ctx).True() {
			// The remote side may have finished asynchronously after a
			// webhook this session missed; persist the completion so the
			// stored view heals too.
			if err := r.writeBackCompleted(ctx, rc); err != nil {
				return "", false, err
			}
			return StatusCompleted, true, nil
		}
	case StepBusinessVerification:
		if r.account.IsValid(ctx).True() && r.account.IsLive(ctx).True() {
			return StatusCompleted, true, nil
		}
	}
	return "", false, nil
}

func (r *Resolver) writeBackCompleted(ctx context.Context, rc *resolution) error {
	ts := r.now().Unix()
	err := r.store.UpdateStep(ctx, rc.location, rc.step, func(p *StepProgress) error {
		p.mark(StatusCompleted, ts)
		p.clear(StatusFailed)
		p.clear(StatusBlocked)
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing back completed: %w", err)
	}
	return nil
}

// ruleStoredCompleted honors a stored completed marker subject to
// per-step trust rules.
func (r *Resolver) ruleStoredCompleted(ctx context.Context, rc *resolution) (Status, bool, error) {
	if !rc.requirementsMet || !rc.progress.Has(StatusCompleted) {
		return "", false, nil
	}
	switch rc.step {
	case StepWPCOMConnection:
		// The connection is too security-critical to trust stale state;
		// it must auto-complete freshly every time.
		return "", false, nil
	case StepTestAccount:
		// Guard the test-to-live switch: a currently invalid test account
		// invalidates the stored completion. Unknown validity does not.
		invalidTest := r.account.IsTest(ctx).True() && !r.account.IsValid(ctx).OrElse(true)
		if invalidTest {
			return "", false, nil
		}
	case StepBusinessVerification:
		live := r.account.IsLive(ctx).True() || r.account.IsSandbox(ctx).True()
		if !(r.account.IsValid(ctx).True() && live) {
			return "", false, nil
		}
	}
	return StatusCompleted, true, nil
}

func (r *Resolver) ruleStoredBlocked(ctx context.Context, rc *resolution) (Status, bool, error) {
	if rc.requirementsMet && rc.progress.Has(StatusBlocked) {
		return StatusBlocked, true, nil
	}
	return "", false, nil
}

func (r *Resolver) ruleStoredFailed(ctx context.Context, rc *resolution) (Status, bool, error) {
	if rc.requirementsMet && rc.progress.Has(StatusFailed) {
		return StatusFailed, true, nil
	}
	return "", false, nil
}

// ruleStartTimeout self-heals a test_account stuck in started: if the
// remote account-creation call silently never completed, the step is wiped
// back to not_started so the merchant can retry. Runs even when
// requirements are unmet since it only ever produces not_started.
func (r *Resolver) ruleStartTimeout(ctx context.Context, rc *resolution) (Status, bool, error) {
	if rc.step != StepTestAccount {
		return "", false, nil
	}
	startedAt, ok := rc.progress.StatusAt(StatusStarted)
	if !ok {
		return "", false, nil
	}
	if r.now().Unix()-startedAt <= int64(testAccountStartTimeout/time.Second) {
		return "", false, nil
	}
	// Only wipe when we know no account exists; an unknown answer must
	// not destroy progress.
	if r.account.HasAccount(ctx).OrElse(true) {
		return "", false, nil
	}
	err := r.store.UpdateStep(ctx, rc.location, rc.step, func(p *StepProgress) error {
		p.Statuses = nil
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("wiping timed-out start: %w", err)
	}
	r.events.Record(ctx, "test_account_timeout", map[string]any{
		"location":   rc.location,
		"started_at": startedAt,
	})
	return StatusNotStarted, true, nil
}

func (r *Resolver) ruleStarted(ctx context.Context, rc *resolution) (Status, bool, error) {
	if rc.progress.Has(StatusStarted) {
		return StatusStarted, true, nil
	}
	return "", false, nil
}
