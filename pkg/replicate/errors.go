package replicate

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode categorizes replication failures.
type ErrorCode string

const (
	// CodeAuthorization indicates an access gate denial or a rejected
	// credential. Never retried automatically.
	CodeAuthorization ErrorCode = "AUTHORIZATION_DENIED"

	// CodeTransport indicates a network or protocol failure talking to a
	// remote side. Safe to retry the whole run: sync state is unchanged.
	CodeTransport ErrorCode = "TRANSPORT_FAILED"

	// CodeApply indicates a target-side write failure while applying a
	// delta. The run aborts before checkpoints advance, so a retry
	// re-derives and re-applies the same changes idempotently.
	CodeApply ErrorCode = "APPLY_FAILED"
)

// Error is a replication failure with a machine-checkable code.
type Error struct {
	Code     ErrorCode
	Message  string
	Endpoint string
	Model    string
	// Status is the HTTP-equivalent status for authorization and
	// transport failures, zero otherwise.
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Endpoint != "" && e.Model != "" {
		return fmt.Sprintf("%s: %s (endpoint=%s, model=%s)", e.Code, msg, e.Endpoint, e.Model)
	}
	if e.Endpoint != "" {
		return fmt.Sprintf("%s: %s (endpoint=%s)", e.Code, msg, e.Endpoint)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewAuthorizationError reports a denied principal. The status defaults to
// 401, matching the wire behavior of the networked side.
func NewAuthorizationError(endpoint, model, message string) *Error {
	return &Error{
		Code:     CodeAuthorization,
		Message:  message,
		Endpoint: endpoint,
		Model:    model,
		Status:   http.StatusUnauthorized,
	}
}

// NewTransportError wraps a network-level failure against an endpoint.
func NewTransportError(endpoint string, status int, err error) *Error {
	return &Error{
		Code:     CodeTransport,
		Endpoint: endpoint,
		Status:   status,
		Err:      err,
	}
}

// NewApplyError wraps a target-side write failure.
func NewApplyError(endpoint, model string, err error) *Error {
	return &Error{
		Code:     CodeApply,
		Endpoint: endpoint,
		Model:    model,
		Err:      err,
	}
}

// IsAuthorization reports whether err is an access denial.
func IsAuthorization(err error) bool {
	return hasCode(err, CodeAuthorization)
}

// IsTransport reports whether err is a retryable transport failure.
func IsTransport(err error) bool {
	return hasCode(err, CodeTransport)
}

// IsApply reports whether err is a target-side write failure.
func IsApply(err error) bool {
	return hasCode(err, CodeApply)
}

func hasCode(err error, code ErrorCode) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
