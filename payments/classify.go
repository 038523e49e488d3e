package payments

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/payment-reconciler/generic"
)

// =============================================================================
// TRANSACTION CLASSIFIER
// =============================================================================
//
// Rules, first match wins:
//
//	amount missing or unparseable                         -> UNKNOWN
//	amount == 0                                           -> ZERO_DOLLAR
//	reason "Automatic Alternate Payment" AND payee id is
//	  "Tax Identification Number" AND type "PaymentOut"   -> EMPLOYER_REIMBURSEMENT
//	type in the overpayment family                        -> OVERPAYMENT
//	type "PaymentOut Cancellation" AND amount < 0         -> CANCELLATION
//	type "PaymentOut" AND amount > 0                      -> STANDARD
//	anything else                                         -> UNKNOWN
//
// A negative "PaymentOut" is UNKNOWN, not CANCELLATION. That asymmetry is
// observed behavior of the source system and is kept as-is.

const (
	EventTypePaymentOut             = "PaymentOut"
	EventTypePaymentOutCancellation = "PaymentOut Cancellation"
	EventReasonAutoAlternatePayment = "Automatic Alternate Payment"
	PayeeIdentifierTaxID            = "Tax Identification Number"
)

// overpaymentEventTypes is the overpayment family. Their event reason is
// usually the "Unknown" sentinel and is not consulted.
var overpaymentEventTypes = map[string]bool{
	"Overpayment":                  true,
	"Overpayment Actual Recovery":  true,
	"Overpayment Recovery":         true,
	"Overpayment Adjustment":       true,
	"Overpayment Recovery Reverse": true,
}

// ClassificationInput is the tuple classification depends on.
type ClassificationInput struct {
	Amount          string
	EventType       string
	EventReason     string
	PayeeIdentifier string
}

func (in ClassificationInput) String() string {
	return fmt.Sprintf("amount=%q event_type=%q event_reason=%q payee_identifier=%q",
		in.Amount, in.EventType, in.EventReason, in.PayeeIdentifier)
}

// Classify assigns exactly one transaction type. It is total and pure.
func Classify(in ClassificationInput) TransactionType {
	amount, ok := generic.ParseDecimal(in.Amount)
	if !ok {
		return TransactionUnknown
	}

	switch {
	case amount.IsZero():
		return TransactionZeroDollar
	case in.EventReason == EventReasonAutoAlternatePayment &&
		in.PayeeIdentifier == PayeeIdentifierTaxID &&
		in.EventType == EventTypePaymentOut:
		return TransactionEmployerReimbursement
	case overpaymentEventTypes[in.EventType]:
		return TransactionOverpayment
	case in.EventType == EventTypePaymentOutCancellation && amount.LessThan(decimal.Zero):
		return TransactionCancellation
	case in.EventType == EventTypePaymentOut && amount.GreaterThan(decimal.Zero):
		return TransactionStandard
	default:
		return TransactionUnknown
	}
}
