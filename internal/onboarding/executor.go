package onboarding

import (
	"context"
	"errors"
	"fmt"
	"time"

	goversion "github.com/hashicorp/go-version"
)

// ActionResult reports a status transition produced by a verb.
type ActionResult struct {
	Success        bool   `json:"success"`
	PreviousStatus Status `json:"previous_status"`
	CurrentStatus  Status `json:"current_status"`
}

// CheckResult is the read-only view of a step returned by Check.
type CheckResult struct {
	Status Status         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
	Error  *ErrorDetail   `json:"error,omitempty"`
}

// ExecutorConfig wires the executor's capabilities.
type ExecutorConfig struct {
	Store       ProgressStore
	Locks       LockManager
	Account     AccountStateProvider
	Connection  ConnectionStateProvider
	Remote      RemoteOnboardingClient
	Events      EventRecorder
	Integration Integration
	// MinimumVersion is the lowest integration version mutating verbs
	// accept, e.g. "8.0.0".
	MinimumVersion string
}

// Executor implements the onboarding step lifecycle verbs. Every mutating
// verb runs the shared acceptability gate, optimistically clears a previous
// failed marker, mutates progress (locally or around one remote call under
// the lease), and records a telemetry event.
type Executor struct {
	store      ProgressStore
	locks      LockManager
	account    AccountStateProvider
	remote     RemoteOnboardingClient
	events     EventRecorder
	integ      Integration
	minVersion *goversion.Version
	resolver   *Resolver
	now        func() time.Time
}

// NewExecutor builds an executor and its resolver from cfg.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	min, err := goversion.NewVersion(cfg.MinimumVersion)
	if err != nil {
		return nil, fmt.Errorf("parsing minimum version %q: %w", cfg.MinimumVersion, err)
	}
	return &Executor{
		store:      cfg.Store,
		locks:      cfg.Locks,
		account:    cfg.Account,
		remote:     cfg.Remote,
		events:     cfg.Events,
		integ:      cfg.Integration,
		minVersion: min,
		resolver:   NewResolver(cfg.Store, cfg.Account, cfg.Connection, cfg.Events),
		now:        time.Now,
	}, nil
}

// Resolver exposes the executor's status resolver for read-only callers.
func (e *Executor) Resolver() *Resolver { return e.resolver }

// ---------------------------------------------------------------------------
// Acceptability gate
// ---------------------------------------------------------------------------

// acceptSession is the gate shared by every mutating verb: the integration
// must be active and compatible, and the lease must be free.
func (e *Executor) acceptSession(ctx context.Context) error {
	if !e.integ.Active(ctx) {
		return &NotAcceptableError{Detail: ErrorDetail{
			Code:    "integration_inactive",
			Message: "the payments integration is not active",
		}}
	}
	current, err := goversion.NewVersion(e.integ.Version(ctx))
	if err != nil || current.LessThan(e.minVersion) {
		return &NotAcceptableError{Detail: ErrorDetail{
			Code:    "integration_outdated",
			Message: fmt.Sprintf("the payments integration must be at least version %s", e.minVersion),
		}}
	}
	locked, err := e.locks.IsLocked(ctx)
	if err != nil {
		return fmt.Errorf("checking onboarding lease: %w", err)
	}
	if locked {
		return errLocked()
	}
	return nil
}

// acceptStep extends the session gate for step-scoped verbs: the step id
// must be valid, its requirements met, and it must not resolve to blocked.
// A blocked step surfaces the stored error payload so the caller can show
// the block reason.
func (e *Executor) acceptStep(ctx context.Context, step StepID, location string) error {
	if err := e.acceptSession(ctx); err != nil {
		return err
	}
	if !ValidStep(step) {
		return errUnknownStep(step)
	}
	met, err := e.resolver.RequirementsMet(ctx, step, location)
	if err != nil {
		return err
	}
	if !met {
		return &NotAcceptableError{Detail: ErrorDetail{
			Code:    "requirements_not_met",
			Message: fmt.Sprintf("step %s requires %v to be completed first", step, RequiredSteps(step)),
		}}
	}
	status, err := e.resolver.Resolve(ctx, step, location)
	if err != nil {
		return err
	}
	if status == StatusBlocked {
		detail := ErrorDetail{
			Code:    "step_blocked",
			Message: fmt.Sprintf("step %s is blocked", step),
		}
		if progress, getErr := e.store.GetStep(ctx, location, step); getErr == nil && progress.Error != nil {
			detail = *progress.Error
		}
		return &NotAcceptableError{Detail: detail}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Local verbs
// ---------------------------------------------------------------------------

// Start marks a step started. Idempotent unless overwrite is set: a second
// start keeps the original timestamp.
func (e *Executor) Start(ctx context.Context, step StepID, location, source string, overwrite bool) (*ActionResult, error) {
	if err := e.acceptStep(ctx, step, location); err != nil {
		return nil, err
	}
	previous, err := e.resolver.Resolve(ctx, step, location)
	if err != nil {
		return nil, err
	}
	ts := e.now().Unix()
	err = e.store.UpdateStep(ctx, location, step, func(p *StepProgress) error {
		p.clear(StatusFailed)
		if overwrite || !p.Has(StatusStarted) {
			p.mark(StatusStarted, ts)
		}
		if source != "" {
			p.mergeData(map[string]any{"source": source})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("starting %s/%s: %w", location, step, err)
	}
	current, err := e.resolver.Resolve(ctx, step, location)
	if err != nil {
		return nil, err
	}
	e.events.Record(ctx, "step_started", map[string]any{
		"step": string(step), "location": location, "source": source,
	})
	return &ActionResult{Success: true, PreviousStatus: previous, CurrentStatus: current}, nil
}

// Save merges recognized data fields into the step. A payload with no
// recognized field for this step is a caller error.
func (e *Executor) Save(ctx context.Context, step StepID, location string, payload map[string]any) (*ActionResult, error) {
	if err := e.acceptStep(ctx, step, location); err != nil {
		return nil, err
	}
	recognized := filterRecognized(step, payload)
	if len(recognized) == 0 {
		return nil, &ArgumentError{Detail: ErrorDetail{
			Code:    "invalid_save_payload",
			Message: fmt.Sprintf("save for step %s requires at least one of %v", step, recognizedSaveFields[step]),
		}}
	}
	previous, err := e.resolver.Resolve(ctx, step, location)
	if err != nil {
		return nil, err
	}
	err = e.store.UpdateStep(ctx, location, step, func(p *StepProgress) error {
		p.clear(StatusFailed)
		p.mergeData(recognized)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("saving %s/%s: %w", location, step, err)
	}
	current, err := e.resolver.Resolve(ctx, step, location)
	if err != nil {
		return nil, err
	}
	e.events.Record(ctx, "step_save", map[string]any{
		"step": string(step), "location": location, "fields": keysOf(recognized),
	})
	return &ActionResult{Success: true, PreviousStatus: previous, CurrentStatus: current}, nil
}

// Finish marks a step completed. Idempotent unless overwrite is set.
func (e *Executor) Finish(ctx context.Context, step StepID, location, source string, overwrite bool) (*ActionResult, error) {
	if err := e.acceptStep(ctx, step, location); err != nil {
		return nil, err
	}
	previous, err := e.resolver.Resolve(ctx, step, location)
	if err != nil {
		return nil, err
	}
	ts := e.now().Unix()
	err = e.store.UpdateStep(ctx, location, step, func(p *StepProgress) error {
		p.clear(StatusFailed)
		if overwrite || !p.Has(StatusCompleted) {
			p.mark(StatusCompleted, ts)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("finishing %s/%s: %w", location, step, err)
	}
	current, err := e.resolver.Resolve(ctx, step, location)
	if err != nil {
		return nil, err
	}
	e.events.Record(ctx, "step_completed", map[string]any{
		"step": string(step), "location": location, "source": source,
	})
	return &ActionResult{Success: true, PreviousStatus: previous, CurrentStatus: current}, nil
}

// Clean destroys the stored progress for one step.
func (e *Executor) Clean(ctx context.Context, step StepID, location string) (*ActionResult, error) {
	if err := e.acceptStep(ctx, step, location); err != nil {
		return nil, err
	}
	previous, err := e.resolver.Resolve(ctx, step, location)
	if err != nil {
		return nil, err
	}
	if err := e.store.DeleteStep(ctx, location, step); err != nil {
		return nil, fmt.Errorf("cleaning %s/%s: %w", location, step, err)
	}
	current, err := e.resolver.Resolve(ctx, step, location)
	if err != nil {
		return nil, err
	}
	e.events.Record(ctx, "step_cleaned", map[string]any{
		"step": string(step), "location": location,
	})
	return &ActionResult{Success: true, PreviousStatus: previous, CurrentStatus: current}, nil
}

// Check is the read-only view of a step. It is not gated by the lease, so
// it may observe a transient state while a locked mutation is in flight.
func (e *Executor) Check(ctx context.Context, step StepID, location string) (*CheckResult, error) {
	if !ValidStep(step) {
		return nil, errUnknownStep(step)
	}
	status, err := e.resolver.Resolve(ctx, step, location)
	if err != nil {
		return nil, err
	}
	progress, err := e.store.GetStep(ctx, location, step)
	if err != nil {
		return nil, fmt.Errorf("reading progress for %s/%s: %w", location, step, err)
	}
	return &CheckResult{Status: status, Data: progress.Data, Error: progress.Error}, nil
}

// ---------------------------------------------------------------------------
// Remote verbs
// ---------------------------------------------------------------------------

// InitializeTestAccount provisions a test account for the location. An
// existing non-test account makes the request moot: the verb refuses, and
// force-marks the step completed so the stored view matches reality.
func (e *Executor) InitializeTestAccount(ctx context.Context, location, source string) (*InitTestAccountResult, error) {
	if err := e.acceptStep(ctx, StepTestAccount, location); err != nil {
		return nil, err
	}
	if e.account.HasAccount(ctx).True() && !e.isTestKind(ctx) {
		ts := e.now().Unix()
		markErr := e.store.UpdateStep(ctx, location, StepTestAccount, func(p *StepProgress) error {
			p.mark(StatusCompleted, ts)
			p.clear(StatusFailed)
			p.clear(StatusBlocked)
			return nil
		})
		if markErr != nil {
			return nil, fmt.Errorf("marking test account completed: %w", markErr)
		}
		return nil, &NotAcceptableError{Detail: ErrorDetail{
			Code:    "account_already_exists",
			Message: "a live account already exists; a test account cannot be created over it",
		}}
	}
	if err := e.clearFailed(ctx, location, StepTestAccount); err != nil {
		return nil, err
	}

	token, err := e.acquireLease(ctx)
	if err != nil {
		return nil, err
	}
	defer e.releaseLease(ctx, token)

	result, err := e.remote.InitTestAccount(ctx, InitTestAccountRequest{Location: location, Source: source})
	if err != nil {
		return nil, e.recordRemoteFailure(ctx, StepTestAccount, location, err)
	}

	ts := e.now().Unix()
	err = e.store.UpdateStep(ctx, location, StepTestAccount, func(p *StepProgress) error {
		// Account creation finishes asynchronously on the remote side;
		// the step stays started until the resolver observes the account.
		p.mark(StatusStarted, ts)
		p.mergeData(result.Data)
		if result.AccountID != "" {
			p.mergeData(map[string]any{"account_id": result.AccountID})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording test account init: %w", err)
	}
	if err := e.store.SetTestMode(ctx, true); err != nil {
		return nil, fmt.Errorf("setting test mode: %w", err)
	}
	e.events.Record(ctx, "test_account_init", map[string]any{
		"location": location, "source": source,
	})
	return result, nil
}

// CreateKYCSession opens a hosted identity-verification session. A valid
// live account already satisfies verification, so the verb refuses before
// taking the lease.
func (e *Executor) CreateKYCSession(ctx context.Context, location string, selfAssessment map[string]any, source string) (*KYCSession, error) {
	if err := e.acceptStep(ctx, StepBusinessVerification, location); err != nil {
		return nil, err
	}
	if e.account.HasAccount(ctx).True() && e.account.IsValid(ctx).True() && e.account.IsLive(ctx).True() {
		return nil, &NotAcceptableError{Detail: ErrorDetail{
			Code:    "account_already_exists",
			Message: "a valid live account already exists; verification is already complete",
		}}
	}
	if err := e.clearFailed(ctx, location, StepBusinessVerification); err != nil {
		return nil, err
	}

	token, err := e.acquireLease(ctx)
	if err != nil {
		return nil, err
	}
	defer e.releaseLease(ctx, token)

	session, err := e.remote.CreateKYCSession(ctx, CreateKYCSessionRequest{
		Location:       location,
		SelfAssessment: selfAssessment,
		Source:         source,
	})
	if err != nil {
		return nil, e.recordRemoteFailure(ctx, StepBusinessVerification, location, err)
	}

	ts := e.now().Unix()
	err = e.store.UpdateStep(ctx, location, StepBusinessVerification, func(p *StepProgress) error {
		p.mark(StatusStarted, ts)
		if len(selfAssessment) > 0 {
			p.mergeData(map[string]any{"self_assessment": selfAssessment})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording kyc session start: %w", err)
	}
	e.events.Record(ctx, "kyc_session_created", map[string]any{
		"location": location, "source": source,
	})
	return session, nil
}

// FinishKYCSession submits a hosted session's outcome and completes the
// business verification step.
func (e *Executor) FinishKYCSession(ctx context.Context, location, sessionID string, result map[string]any) (*KYCSessionResult, error) {
	if err := e.acceptStep(ctx, StepBusinessVerification, location); err != nil {
		return nil, err
	}
	if err := e.clearFailed(ctx, location, StepBusinessVerification); err != nil {
		return nil, err
	}

	token, err := e.acquireLease(ctx)
	if err != nil {
		return nil, err
	}
	defer e.releaseLease(ctx, token)

	verdict, err := e.remote.FinishKYCSession(ctx, FinishKYCSessionRequest{
		Location:  location,
		SessionID: sessionID,
		Result:    result,
	})
	if err != nil {
		return nil, e.recordRemoteFailure(ctx, StepBusinessVerification, location, err)
	}

	ts := e.now().Unix()
	err = e.store.UpdateStep(ctx, location, StepBusinessVerification, func(p *StepProgress) error {
		p.mark(StatusCompleted, ts)
		p.mergeData(verdict.Data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording kyc session finish: %w", err)
	}
	e.events.Record(ctx, "kyc_session_finished", map[string]any{
		"location": location, "completed": verdict.Completed,
	})
	return verdict, nil
}

// DisableTestAccount transitions a test or sandbox account toward the live
// flow. Payment-method selections survive; identity verification must be
// redone from scratch.
func (e *Executor) DisableTestAccount(ctx context.Context, location, source string) (*ActionResult, error) {
	if err := e.acceptSession(ctx); err != nil {
		return nil, err
	}
	if !e.isTestKind(ctx) {
		return nil, &NotAcceptableError{Detail: ErrorDetail{
			Code:    "no_test_account",
			Message: "there is no test or sandbox account to disable",
		}}
	}
	if err := e.clearFailed(ctx, location, StepTestAccount); err != nil {
		return nil, err
	}

	token, err := e.acquireLease(ctx)
	if err != nil {
		return nil, err
	}
	defer e.releaseLease(ctx, token)

	if err := e.remote.DisableTestAccount(ctx); err != nil {
		return nil, e.recordRemoteFailure(ctx, StepTestAccount, location, err)
	}

	ts := e.now().Unix()
	for _, step := range []StepID{StepPaymentMethods, StepTestAccount} {
		err = e.store.UpdateStep(ctx, location, step, func(p *StepProgress) error {
			p.mark(StatusCompleted, ts)
			p.clear(StatusFailed)
			p.clear(StatusBlocked)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("marking %s completed: %w", step, err)
		}
	}
	err = e.store.UpdateStep(ctx, location, StepBusinessVerification, func(p *StepProgress) error {
		p.clear(StatusBlocked)
		p.clear(StatusFailed)
		p.Data = nil
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resetting business verification: %w", err)
	}
	if err := e.store.SetTestMode(ctx, false); err != nil {
		return nil, fmt.Errorf("clearing test mode: %w", err)
	}
	e.events.Record(ctx, "test_account_disabled", map[string]any{
		"location": location, "source": source,
	})
	return &ActionResult{Success: true, PreviousStatus: StatusCompleted, CurrentStatus: StatusCompleted}, nil
}

// Reset wipes the whole onboarding session: every location, every step,
// and the cached test-mode flag. When an account exists the remote reset
// endpoint runs first; the local wipe happens regardless of its outcome.
func (e *Executor) Reset(ctx context.Context, location, source string) error {
	if err := e.acceptSession(ctx); err != nil {
		return err
	}

	token, err := e.acquireLease(ctx)
	if err != nil {
		return err
	}
	defer e.releaseLease(ctx, token)

	var remoteErr error
	if e.account.HasAccount(ctx).OrElse(false) {
		remoteErr = e.remote.ResetAccount(ctx)
	}

	if err := e.store.Reset(ctx); err != nil {
		return fmt.Errorf("resetting onboarding progress: %w", err)
	}
	if err := e.store.ClearTestMode(ctx); err != nil {
		return fmt.Errorf("clearing test mode: %w", err)
	}
	e.events.Record(ctx, "onboarding_reset", map[string]any{
		"location": location, "source": source, "remote_failed": remoteErr != nil,
	})
	if remoteErr != nil {
		return &RemoteDependencyError{Detail: remoteErrorDetail(remoteErr), Err: remoteErr}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (e *Executor) isTestKind(ctx context.Context) bool {
	return e.account.IsTest(ctx).True() || e.account.IsSandbox(ctx).True()
}

func (e *Executor) clearFailed(ctx context.Context, location string, step StepID) error {
	// A retry is assumed to be the reason the verb was called again.
	err := e.store.UpdateStep(ctx, location, step, func(p *StepProgress) error {
		p.clear(StatusFailed)
		return nil
	})
	if err != nil {
		return fmt.Errorf("clearing failed marker for %s/%s: %w", location, step, err)
	}
	return nil
}

func (e *Executor) acquireLease(ctx context.Context) (string, error) {
	token, err := e.locks.Acquire(ctx)
	if errors.Is(err, ErrLeaseHeld) {
		return "", errLocked()
	}
	if err != nil {
		return "", fmt.Errorf("acquiring onboarding lease: %w", err)
	}
	return token, nil
}

func (e *Executor) releaseLease(ctx context.Context, token string) {
	if err := e.locks.Release(ctx, token); err != nil {
		// The lease expires on its own; a failed release only delays that.
		e.events.Record(ctx, "lease_release_failed", map[string]any{"error": err.Error()})
	}
}

// recordRemoteFailure marks the step failed with a sanitized detail, then
// returns the typed error. The stored marker and the returned error are
// two independent effects: the marker survives for later check calls.
func (e *Executor) recordRemoteFailure(ctx context.Context, step StepID, location string, remoteErr error) error {
	detail := remoteErrorDetail(remoteErr)
	ts := e.now().Unix()
	err := e.store.UpdateStep(ctx, location, step, func(p *StepProgress) error {
		p.mark(StatusFailed, ts)
		p.Error = &detail
		return nil
	})
	if err != nil {
		// Remote already failed; surface the store failure alongside it.
		return fmt.Errorf("recording remote failure (%v): %w", remoteErr, err)
	}
	e.events.Record(ctx, "step_failed", map[string]any{
		"step": string(step), "location": location, "code": detail.Code,
	})
	return &RemoteDependencyError{Detail: detail, Err: remoteErr}
}

func remoteErrorDetail(err error) ErrorDetail {
	var detailer RemoteErrorDetailer
	if errors.As(err, &detailer) {
		return detailer.RemoteErrorDetail()
	}
	return ErrorDetail{
		Code:    "remote_request_failed",
		Message: err.Error(),
	}
}

func filterRecognized(step StepID, payload map[string]any) map[string]any {
	recognized := make(map[string]any)
	for _, field := range recognizedSaveFields[step] {
		if v, ok := payload[field]; ok {
			recognized[field] = v
		}
	}
	return recognized
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
