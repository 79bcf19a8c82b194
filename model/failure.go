package model

import "time"

// FailureClass is the deterministic classification of an execution
// failure. Each class carries fixed retry/repair eligibility that must
// not be overridden per call.
type FailureClass string

const (
	// FailureValidation is a deterministic internal validation failure.
	FailureValidation FailureClass = "VALIDATION_FAILURE"
	// FailureAuthz is an identity or policy failure.
	FailureAuthz FailureClass = "AUTHZ_FAILURE"
	// FailureRailReject is an explicit negative decision from the rail.
	FailureRailReject FailureClass = "RAIL_REJECT"
	// FailureTimeout means the rail outcome is unknown. It is neither a
	// success nor a failure and must be reconciled, never guessed.
	FailureTimeout FailureClass = "TIMEOUT"
	// FailureTransport means the request never provably reached the rail.
	FailureTransport FailureClass = "TRANSPORT_ERROR"
	// FailureSystem is an internal crash before any external side effect.
	FailureSystem FailureClass = "SYSTEM_FAILURE"
)

// RetryEligibility is the fixed retry/repair policy of a failure class.
type RetryEligibility struct {
	RetryAllowed   bool   `json:"retry_allowed"`
	RepairRequired bool   `json:"repair_required"`
	Reason         string `json:"reason"`
}

// TimeoutClarification documents why TIMEOUT is repair-only: the rail may
// have processed the request successfully, failed, or never received it.
const TimeoutClarification = "TIMEOUT represents unknown external state requiring reconciliation, not failure"

var failureClassEligibility = map[FailureClass]RetryEligibility{
	FailureValidation: {
		RetryAllowed:   false,
		RepairRequired: false,
		Reason:         "deterministic internal validation failure; retry would produce same result",
	},
	FailureAuthz: {
		RetryAllowed:   false,
		RepairRequired: false,
		Reason:         "identity or policy failure; retry without remediation is futile",
	},
	FailureRailReject: {
		RetryAllowed:   false,
		RepairRequired: false,
		Reason:         "external system explicitly rejected; retry would be re-rejected",
	},
	FailureTimeout: {
		RetryAllowed:   false,
		RepairRequired: true,
		Reason:         TimeoutClarification,
	},
	FailureTransport: {
		RetryAllowed:   true,
		RepairRequired: false,
		Reason:         "no delivery guarantee; safe to retry under same idempotency key",
	},
	FailureSystem: {
		RetryAllowed:   true,
		RepairRequired: false,
		Reason:         "crash before external side-effect; safe to retry",
	},
}

// Eligibility returns the fixed eligibility of a failure class.
func (f FailureClass) Eligibility() RetryEligibility {
	return failureClassEligibility[f]
}

// Retryable reports whether the class allows retry under the same
// idempotency key.
func (f FailureClass) Retryable() bool {
	return failureClassEligibility[f].RetryAllowed
}

// RequiresRepair reports whether the class must go through the repair
// workflow instead of retry.
func (f FailureClass) RequiresRepair() bool {
	return failureClassEligibility[f].RepairRequired
}

// FailureClassification is the transient result of classifying one
// failure. Consumed immediately by the retry evaluator or the repair
// workflow; never persisted on its own.
type FailureClassification struct {
	FailureClass FailureClass     `json:"failure_class"`
	Eligibility  RetryEligibility `json:"eligibility"`
	ErrorCode    string           `json:"error_code,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	ClassifiedAt time.Time        `json:"classified_at"`
}

// RetryDecision is the transient outcome of one retry evaluation. It is
// logged for audit and never stored as authoritative state.
type RetryDecision struct {
	ShouldRetry    bool   `json:"should_retry"`
	ShouldRepair   bool   `json:"should_repair"`
	Reason         string `json:"reason"`
	InstructionID  string `json:"instruction_id"`
	IdempotencyKey string `json:"idempotency_key"`
}
