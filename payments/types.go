// Package payments implements the benefit-payment reconciliation core.
// It correlates extract records into payment candidates, validates and
// classifies them, manages EFT prenotes, enforces the maximum weekly
// benefit across claims, and reports outcomes back to the system of record.
// State is kept in the generic append-only state ledger.
package payments

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payment-reconciler/generic"
)

// =============================================================================
// ENTITY KINDS - one state log family each
// =============================================================================

const (
	EntityPayment     generic.EntityKind = "payment"
	EntityBankAccount generic.EntityKind = "bank_account"
)

// =============================================================================
// COMPOSITE KEY
// =============================================================================

// CompositeKey is the (C, I) pair that correlates one payment's records
// across the extract files of a batch.
type CompositeKey struct {
	C string
	I string
}

func (k CompositeKey) String() string { return k.C + "," + k.I }
func (k CompositeKey) IsZero() bool   { return k.C == "" || k.I == "" }

// =============================================================================
// PAYMENT METHOD
// =============================================================================

type PaymentMethod string

const (
	PaymentMethodACH     PaymentMethod = "Elec Funds Transfer"
	PaymentMethodCheck   PaymentMethod = "Check"
	PaymentMethodUnknown PaymentMethod = ""
)

// ParsePaymentMethod maps an extract value to a method, Unknown otherwise.
func ParsePaymentMethod(s string) PaymentMethod {
	switch strings.TrimSpace(s) {
	case string(PaymentMethodACH):
		return PaymentMethodACH
	case string(PaymentMethodCheck):
		return PaymentMethodCheck
	default:
		return PaymentMethodUnknown
	}
}

// =============================================================================
// TRANSACTION TYPE
// =============================================================================

type TransactionType string

const (
	TransactionStandard              TransactionType = "STANDARD"
	TransactionZeroDollar            TransactionType = "ZERO_DOLLAR"
	TransactionOverpayment           TransactionType = "OVERPAYMENT"
	TransactionCancellation          TransactionType = "CANCELLATION"
	TransactionEmployerReimbursement TransactionType = "EMPLOYER_REIMBURSEMENT"
	TransactionUnknown               TransactionType = "UNKNOWN"
)

// RequiresDisbursement reports whether money will actually be sent, which
// is what makes method-specific (address / bank) fields mandatory.
func (t TransactionType) RequiresDisbursement() bool {
	return t == TransactionStandard
}

// =============================================================================
// ACCOUNT TYPE / PRENOTE
// =============================================================================

type AccountType string

const (
	AccountChecking AccountType = "Checking"
	AccountSavings  AccountType = "Savings"
)

type PrenoteState string

const (
	PrenotePendingPrePub  PrenoteState = "PENDING_PRE_PUB"
	PrenotePendingWithPub PrenoteState = "PENDING_WITH_PUB"
	PrenoteApproved       PrenoteState = "APPROVED"
	PrenoteRejected       PrenoteState = "REJECTED"
)

// BankAccount is an employee's EFT destination ("PubEft").
// Matching key: (RoutingNumber, AccountNumber, AccountType) per employee.
type BankAccount struct {
	ID                string
	EmployeeID        string
	RoutingNumber     string
	AccountNumber     string
	AccountType       AccountType
	PrenoteState      PrenoteState
	PrenoteSentAt     *time.Time
	PrenoteApprovedAt *time.Time
	CreatedAt         time.Time
}

func (b *BankAccount) Ref() generic.EntityRef {
	return generic.EntityRef{Kind: EntityBankAccount, ID: b.ID}
}

// =============================================================================
// CLAIMANT RECORDS
// =============================================================================

type Employee struct {
	ID            string
	TaxIdentifier string
	FirstName     string
	LastName      string
	CreatedAt     time.Time
}

// Claim is one absence case belonging to an employee.
type Claim struct {
	ID            string
	AbsenceCaseID string
	EmployeeID    string
	CreatedAt     time.Time
}

// =============================================================================
// BATCH
// =============================================================================

// Batch is one extract file set, committed together with its payments.
type Batch struct {
	ID          string
	Timestamp   string // file set prefix, e.g. 2024-01-15-10-30-00
	Fingerprint string
	CreatedAt   time.Time
}

// =============================================================================
// PAYMENT - Durable record of one disbursement attempt
// =============================================================================

type Payment struct {
	ID              string
	BatchID         string
	Key             CompositeKey
	EmployeeID      string // empty when the claimant could not be resolved
	ClaimID         string // empty when the claim could not be resolved
	AbsenceCaseID   string
	LeaveRequestID  string
	AbsenceReason   string
	Amount          decimal.Decimal
	Period          generic.Period
	PaymentDate     generic.TimePoint
	Method          PaymentMethod
	BankAccountID   string
	TransactionType TransactionType
	IsAdhoc         bool
	Details         []PaymentDetail
	CreatedAt       time.Time
}

func (p *Payment) Ref() generic.EntityRef {
	return generic.EntityRef{Kind: EntityPayment, ID: p.ID}
}

// PaymentDetail is one pay period line of a payment.
type PaymentDetail struct {
	ID        string
	PaymentID string
	Period    generic.Period
	Amount    decimal.Decimal
}
