package utils

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidPage         = errors.New("invalid page parameter")
	ErrInvalidPageSize     = errors.New("invalid page size parameter")
	ErrDatabaseError       = errors.New("database error")
	ErrNotFound            = errors.New("resource not found")
	ErrForbidden           = errors.New("forbidden")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrEmailAlreadyExists  = errors.New("email or phone already registered")
	ErrConcurrencyConflict = errors.New("concurrent update, resource already processed")
	ErrInsufficientEscrow  = errors.New("insufficient escrow balance")
	ErrKYCRequired         = errors.New("verified KYC required")
	ErrSettlementPending   = errors.New("settlement pending gateway confirmation")
	ErrInvalidResetToken   = errors.New("invalid or expired reset token")
)

// ValidationError rejects input before any state change.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type TransitionReason string

const (
	ReasonWrongRole      TransitionReason = "wrong_role"
	ReasonWrongState     TransitionReason = "wrong_state"
	ReasonDeadlinePassed TransitionReason = "deadline_passed"
	ReasonNotDue         TransitionReason = "not_due"
)

// StateTransitionError is returned when a guard rejects a transition. The
// resource is left untouched.
type StateTransitionError struct {
	Resource string
	Action   string
	From     string
	Reason   TransitionReason
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s from %s: %s", e.Resource, e.Action, e.From, e.Reason)
}

// GatewayError wraps a payment provider failure for one payment reference.
type GatewayError struct {
	Op        string
	Reference string
	Reason    string
	Attempts  int
	Terminal  bool
	Err       error
}

func (e *GatewayError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "gateway %s %s failed", e.Op, e.Reference)
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Terminal {
		b.WriteString(" (giving up)")
	}
	return b.String()
}

func (e *GatewayError) Unwrap() error { return e.Err }

func IsTransitionReason(err error, reason TransitionReason) bool {
	var te *StateTransitionError
	return errors.As(err, &te) && te.Reason == reason
}
