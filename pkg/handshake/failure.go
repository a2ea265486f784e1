package handshake

import "fmt"

// FailureKind classifies how a callback attempt failed.
type FailureKind string

const (
	// FailureInvalidState means the state parameter was missing or did
	// not decode. Always terminal.
	FailureInvalidState FailureKind = "invalid_state"

	// FailureCorrelation means the correlation token in the state did
	// not match the one bound to the challenge. Always terminal.
	FailureCorrelation FailureKind = "correlation_failed"

	// FailureMissingTicket means the callback carried no ticket. Always
	// terminal; no validation call is made.
	FailureMissingTicket FailureKind = "missing_ticket"

	// FailureMissingPrincipal means the CAS server rejected the ticket
	// without a typed failure.
	FailureMissingPrincipal FailureKind = "missing_principal"

	// FailureValidation wraps an error from the validator or from the
	// creating-ticket event.
	FailureValidation FailureKind = "validation_failed"
)

// Remote reports whether the kind belongs to the remote-failure class
// that is offered to the RemoteFailure event handler. Integrity failures
// (invalid state, correlation mismatch, missing ticket) indicate an
// expired or forged callback and are never handler-recoverable.
func (k FailureKind) Remote() bool {
	return k == FailureMissingPrincipal || k == FailureValidation
}

// FailureError is the typed error surfaced for a failed callback.
type FailureError struct {
	Kind FailureKind
	Err  error
}

func (e *FailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("handshake: %s", e.Kind)
}

func (e *FailureError) Unwrap() error { return e.Err }
