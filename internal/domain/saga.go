package domain

import "time"

// Completion saga step names, in execution order. There is no compensation:
// every step is either idempotent or guarded, so a retry of the whole saga
// converges instead of rolling back.
const (
	StepRetrievePayment       = "retrieve_payment"
	StepResolveCart           = "resolve_cart"
	StepApplyShippingMethod   = "apply_shipping_method"
	StepOpenPaymentCollection = "open_payment_collection"
	StepOpenPaymentSession    = "open_payment_session"
	StepCompleteCart          = "complete_cart"
)

// SagaStepStatus represents the status of a saga step.
type SagaStepStatus string

const (
	SagaStepPending   SagaStepStatus = "pending"
	SagaStepCompleted SagaStepStatus = "completed"
	SagaStepFailed    SagaStepStatus = "failed"
	SagaStepSkipped   SagaStepStatus = "skipped"
)

// SagaStep records the outcome of a single step of the completion saga,
// kept for structured logging and failure events.
type SagaStep struct {
	Name       string         `json:"name"`
	Status     SagaStepStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
	ExecutedAt time.Time      `json:"executed_at"`
}

// NewSagaStep creates a pending saga step.
func NewSagaStep(name string) SagaStep {
	return SagaStep{
		Name:       name,
		Status:     SagaStepPending,
		ExecutedAt: time.Now().UTC(),
	}
}

// Complete marks the step as successfully executed.
func (s *SagaStep) Complete() {
	s.Status = SagaStepCompleted
	s.ExecutedAt = time.Now().UTC()
}

// Skip marks the step as not applicable for this completion.
func (s *SagaStep) Skip() {
	s.Status = SagaStepSkipped
	s.ExecutedAt = time.Now().UTC()
}

// Fail marks the step as failed with the given error.
func (s *SagaStep) Fail(err error) {
	s.Status = SagaStepFailed
	if err != nil {
		s.Error = err.Error()
	}
	s.ExecutedAt = time.Now().UTC()
}
