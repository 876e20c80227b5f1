// Package onboarding implements the step state machine and account-state
// reconciliation engine that drives activation of a payment-processing
// account: resolving a canonical status per step from stored markers and
// remote account truth, and serializing mutating actions behind a
// site-wide lease.
package onboarding

// StepID identifies one unit of the fixed onboarding sequence.
type StepID string

const (
	StepPaymentMethods       StepID = "payment_methods"
	StepWPCOMConnection      StepID = "wpcom_connection"
	StepTestAccount          StepID = "test_account"
	StepBusinessVerification StepID = "business_verification"
)

// Steps lists every valid step id in flow order.
var Steps = []StepID{
	StepPaymentMethods,
	StepWPCOMConnection,
	StepTestAccount,
	StepBusinessVerification,
}

// requiredSteps is the fixed dependency table. A step resolves against its
// richer signals only once every required step resolves to completed.
var requiredSteps = map[StepID][]StepID{
	StepPaymentMethods:       nil,
	StepWPCOMConnection:      nil,
	StepTestAccount:          {StepWPCOMConnection},
	StepBusinessVerification: {StepWPCOMConnection},
}

// ValidStep reports whether id is one of the four known step ids.
func ValidStep(id StepID) bool {
	_, ok := requiredSteps[id]
	return ok
}

// RequiredSteps returns the prerequisite steps for id.
func RequiredSteps(id StepID) []StepID {
	return requiredSteps[id]
}

// Status is the canonical resolved status of a step.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusStarted    Status = "started"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
)

// recognizedSaveFields lists the data fields save accepts per step. A save
// payload must carry at least one of these or it is rejected.
var recognizedSaveFields = map[StepID][]string{
	StepPaymentMethods:       {"payment_methods"},
	StepWPCOMConnection:      {"source"},
	StepTestAccount:          {"source"},
	StepBusinessVerification: {"self_assessment", "sub_steps"},
}
