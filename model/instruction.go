package model

// Instruction states as reported by the Financial Core. The outbox core
// consumes these read-only; COMPLETED and FAILED are terminal and
// irreversible.
const (
	InstructionStateReceived   = "RECEIVED"
	InstructionStateAuthorized = "AUTHORIZED"
	InstructionStateExecuting  = "EXECUTING"
	InstructionStateCompleted  = "COMPLETED"
	InstructionStateFailed     = "FAILED"
)

// InstructionState is the Financial Core's answer to a state query. The
// core is the single source of truth for "is this instruction done".
type InstructionState struct {
	InstructionID string `json:"instruction_id"`
	State         string `json:"state"`
	IsTerminal    bool   `json:"is_terminal"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// TransitionRequest asks the Financial Core to move an instruction to a
// terminal state. It is advisory: the core may reject it.
type TransitionRequest struct {
	InstructionID string `json:"instruction_id"`
	TargetState   string `json:"target_state"`
	Reason        string `json:"reason,omitempty"`
}

// TransitionResponse reports whether the Financial Core accepted an
// advisory transition request.
type TransitionResponse struct {
	Accepted        bool   `json:"accepted"`
	InstructionID   string `json:"instruction_id"`
	NewState        string `json:"new_state,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}
