/*
errors.go - Payment pipeline error types

PURPOSE:
  Go errors here are fatal or caller errors only. Business-rule failures on
  a payment are ValidationIssues, never errors.

ERROR CATEGORIES:
  1. Configuration errors - Abort the batch (ErrNoMaxWeeklyAmount)
  2. Not found errors - Unknown payment / bank account
  3. Transition errors - Operator actions not allowed in the current state

SEE ALSO:
  - generic/errors.go: Engine-level sentinel errors
  - validation.go: Business-rule issues
*/
package payments

import (
	"errors"
	"fmt"

	"github.com/warp/payment-reconciler/generic"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNoMaxWeeklyAmount is returned when no maximum weekly benefit is
	// configured for a date. It is a configuration error and fatal.
	ErrNoMaxWeeklyAmount = errors.New("no maximum weekly benefit amount configured")

	ErrPaymentNotFound     = fmt.Errorf("payment %w", generic.ErrEntityNotFound)
	ErrBankAccountNotFound = fmt.Errorf("bank account %w", generic.ErrEntityNotFound)

	// ErrInvalidTransition is returned when an operator action does not
	// apply to the entity's current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidWritebackStatus is returned when a status description is
	// empty or longer than the external column allows.
	ErrInvalidWritebackStatus = errors.New("invalid writeback status")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// TransitionError names the rejected transition.
type TransitionError struct {
	Entity generic.EntityRef
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %q to %q", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// MaxWeeklyAmountError carries the date that has no configured amount.
type MaxWeeklyAmountError struct {
	AsOf generic.TimePoint
}

func (e *MaxWeeklyAmountError) Error() string {
	return fmt.Sprintf("no maximum weekly benefit amount effective on %s", e.AsOf)
}

func (e *MaxWeeklyAmountError) Unwrap() error {
	return ErrNoMaxWeeklyAmount
}
