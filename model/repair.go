package model

import (
	"encoding/json"
	"time"
)

// ReconciliationStatus enumerates the five possible answers from querying
// the external rail about an ambiguous attempt.
type ReconciliationStatus string

const (
	// ReconciliationConfirmedSuccess means the rail executed the payment.
	ReconciliationConfirmedSuccess ReconciliationStatus = "CONFIRMED_SUCCESS"
	// ReconciliationConfirmedFailure means the rail rejected or failed it.
	ReconciliationConfirmedFailure ReconciliationStatus = "CONFIRMED_FAILURE"
	// ReconciliationNotFound means the rail has no record of the request.
	ReconciliationNotFound ReconciliationStatus = "NOT_FOUND"
	// ReconciliationStillPending means the rail is still processing.
	ReconciliationStillPending ReconciliationStatus = "STILL_PENDING"
	// ReconciliationRailUnavailable means the query itself failed. This is
	// an unresolved outcome, never a confirmed failure.
	ReconciliationRailUnavailable ReconciliationStatus = "RAIL_UNAVAILABLE"
)

// ReconciliationResult is the tagged outcome of a rail status query.
// RailReference is only meaningful for CONFIRMED_SUCCESS and
// FailureReason only for CONFIRMED_FAILURE.
type ReconciliationResult struct {
	Status        ReconciliationStatus `json:"status"`
	RailReference string               `json:"rail_reference,omitempty"`
	FailureReason string               `json:"failure_reason,omitempty"`
	Details       string               `json:"details,omitempty"`
}

// Resolved reports whether the result determines a terminal outcome.
// STILL_PENDING and RAIL_UNAVAILABLE leave the instruction open for a
// later repair cycle.
func (r ReconciliationResult) Resolved() bool {
	switch r.Status {
	case ReconciliationConfirmedSuccess, ReconciliationConfirmedFailure, ReconciliationNotFound:
		return true
	case ReconciliationStillPending, ReconciliationRailUnavailable:
		return false
	}
	return false
}

func (r ReconciliationResult) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// RepairContext identifies the ambiguous attempt a repair cycle is
// reconciling.
type RepairContext struct {
	InstructionID         string `json:"instruction_id"`
	OutboxID              string `json:"outbox_id"`
	AttemptID             string `json:"attempt_id"`
	RailID                string `json:"rail_id"`
	OriginalRailReference string `json:"original_rail_reference,omitempty"`
	RequestID             string `json:"request_id"`
}

// RepairEvent is one immutable, append-only record of a reconciliation
// cycle. A later cycle appends a new event rather than correcting an old
// one.
type RepairEvent struct {
	RepairEventID         string               `json:"repair_event_id"`
	InstructionID         string               `json:"instruction_id"`
	AttemptID             string               `json:"attempt_id"`
	RailID                string               `json:"rail_id"`
	ReconciliationResult  ReconciliationResult `json:"reconciliation_result"`
	RecommendedTransition string               `json:"recommended_transition,omitempty"`
	RequestID             string               `json:"request_id,omitempty"`
	CreatedAt             time.Time            `json:"created_at"`
}

// RepairOutcome is what a repair cycle reports back to its caller.
type RepairOutcome struct {
	Resolved              bool                 `json:"resolved"`
	ReconciliationResult  ReconciliationResult `json:"reconciliation_result"`
	RecommendedTransition string               `json:"recommended_transition,omitempty"`
	RepairEventID         string               `json:"repair_event_id"`
	RepairedAt            time.Time            `json:"repaired_at"`
}
