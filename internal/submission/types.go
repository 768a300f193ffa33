package submission

import (
	"encoding/json"
	"fmt"
)

// ValidationError reports a failed eligibility verification. The
// upstream message is preserved verbatim for the notification.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("eligibility verification failed: %s", e.Message)
}

// SubmissionError reports a failed prior-auth submission. Form state
// is preserved so the user can correct and retry.
type SubmissionError struct {
	Message string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed: %s", e.Message)
}

// Outcome is the result of a successful eligibility or prior-auth call
type Outcome struct {
	Reference string `json:"reference,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
}

// envelope is the payer gateway response wrapper. The spelling of
// isSuccessfull matches the upstream contract.
type envelope struct {
	IsSuccessfull bool            `json:"isSuccessfull"`
	DynamicResult json.RawMessage `json:"dynamicResult"`
	ErrorMessage  string          `json:"errorMessage"`
}
