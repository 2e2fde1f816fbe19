// Package orchestrator drives the order saga: three sequential backend steps
// with persisted progress and reverse-order compensation on failure.
package orchestrator

import (
	"time"

	"github.com/orderlink/orderlink/internal/backend"
)

// Order statuses. COMPLETED and FAILED are terminal; a terminal order never
// transitions again.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Saga step names, in execution order.
const (
	StepWarehouse = "WAREHOUSE"
	StepLogistics = "LOGISTICS"
	StepLegacy    = "LEGACY_REGISTRATION"
)

// Step outcome statuses. Saga log entries only ever carry COMPLETED; FAILED
// marks compensation results and the metrics label for failed steps.
const (
	StepCompleted = "COMPLETED"
	StepFailed    = "FAILED"
)

// CompensationResult records the outcome of undoing a completed step. A
// failed compensation is logged here but never fails the order further.
type CompensationResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	At     string `json:"at"`
}

// SagaStep is one append-only entry in an order's saga log. Only completed
// steps are recorded; array order reflects execution order and drives
// reverse-order compensation. The step that failed is identified on the Order
// itself, never in the log.
type SagaStep struct {
	Step         string              `json:"step"`
	Status       string              `json:"status"`
	Data         map[string]any      `json:"data,omitempty"`
	Compensation *CompensationResult `json:"compensation,omitempty"`
	At           string              `json:"at"`
}

// Order is the saga aggregate. It is owned exclusively by the orchestrator
// and persisted after every state transition. FailedStep and Error are set
// exactly when Status is FAILED.
type Order struct {
	ID          string             `json:"id"`
	ClientID    string             `json:"clientId"`
	Items       []backend.LineItem `json:"items"`
	Destination string             `json:"destination"`
	Status      string             `json:"status"`
	SagaLog     []SagaStep         `json:"sagaLog"`
	FailedStep  string             `json:"failedStep,omitempty"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// Terminal reports whether the order reached an absorbing state.
func (o *Order) Terminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusFailed
}
