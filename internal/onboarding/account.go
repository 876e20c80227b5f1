package onboarding

import "context"

// Truth is a tri-state answer from an account predicate. Remote account
// truth can be temporarily unobservable (stale cache, gateway not yet
// initialized), and the caller decides the fallback rather than the
// provider silently defaulting.
type Truth int

const (
	TruthUnknown Truth = iota
	TruthFalse
	TruthTrue
)

// Known reports whether the predicate produced a definite answer.
func (t Truth) Known() bool { return t != TruthUnknown }

// True reports a definite yes. Unknown is not true.
func (t Truth) True() bool { return t == TruthTrue }

// OrElse collapses the tri-state to a bool, substituting fallback when the
// answer is unknown.
func (t Truth) OrElse(fallback bool) bool {
	if t == TruthUnknown {
		return fallback
	}
	return t == TruthTrue
}

// TruthOf lifts a known bool into a Truth.
func TruthOf(v bool) Truth {
	if v {
		return TruthTrue
	}
	return TruthFalse
}

// AccountStateProvider exposes the remote processor account's predicates.
// Backed by the host's local gateway object; supplied by the host
// application, not implemented here.
type AccountStateProvider interface {
	// HasAccount reports whether any processor account exists at all.
	HasAccount(ctx context.Context) Truth
	// IsConnected reports whether the account is connected to the processor.
	IsConnected(ctx context.Context) Truth
	// IsValid reports whether the account passed the processor's validity checks.
	IsValid(ctx context.Context) Truth
	// IsWorking reports whether the account is operational (can take actions).
	IsWorking(ctx context.Context) Truth
	// IsTest reports whether the account is a test account.
	IsTest(ctx context.Context) Truth
	// IsSandbox reports whether the account is a sandbox account.
	IsSandbox(ctx context.Context) Truth
	// IsLive reports whether the account is a live account.
	IsLive(ctx context.Context) Truth
}

// ConnectionStateProvider exposes the platform identity connection used by
// the wpcom_connection step.
type ConnectionStateProvider interface {
	// IsConnected reports whether the platform connection is established.
	IsConnected(ctx context.Context) Truth
	// HasOwner reports whether the connection has a confirmed owner.
	HasOwner(ctx context.Context) Truth
}

// Integration gates all mutating verbs on the processor integration being
// installed, active, and at a minimum compatible version.
type Integration interface {
	Active(ctx context.Context) bool
	Version(ctx context.Context) string
}

// EventRecorder is a fire-and-forget telemetry sink. Implementations must
// never block or fail the calling action.
type EventRecorder interface {
	Record(ctx context.Context, event string, props map[string]any)
}
