package payments

import (
	"context"

	"github.com/warp/payment-reconciler/generic"
)

// =============================================================================
// REPOSITORY - Relational persistence for the pipeline
// =============================================================================

// Repository persists payments, claimants, bank accounts and batches, and
// carries the state log (generic.Store) so one transaction covers both.
//
// Find* methods return (nil, nil) when nothing matches; Get* methods return
// a not-found error.
type Repository interface {
	generic.Store

	SaveBatch(ctx context.Context, batch *Batch) error
	FindBatchByFingerprint(ctx context.Context, fingerprint string) (*Batch, error)

	SaveEmployee(ctx context.Context, employee *Employee) error
	FindEmployeeByTaxIdentifier(ctx context.Context, taxIdentifier string) (*Employee, error)
	SaveClaim(ctx context.Context, claim *Claim) error
	FindClaimByAbsenceCaseID(ctx context.Context, absenceCaseID string) (*Claim, error)

	// SavePayment inserts the payment and its detail rows.
	SavePayment(ctx context.Context, payment *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	FindPaymentsByCompositeKey(ctx context.Context, key CompositeKey) ([]Payment, error)
	ListPaymentsByEmployee(ctx context.Context, employeeID string) ([]Payment, error)

	// SaveBankAccount inserts or updates the account's prenote fields.
	SaveBankAccount(ctx context.Context, account *BankAccount) error
	GetBankAccount(ctx context.Context, id string) (*BankAccount, error)
	FindBankAccount(ctx context.Context, employeeID, routingNumber, accountNumber string, accountType AccountType) (*BankAccount, error)
}

// TxRepository runs fn inside one transaction. Every write made through the
// Repository passed to fn is rolled back when fn returns an error.
type TxRepository interface {
	Repository
	WithinTx(ctx context.Context, fn func(Repository) error) error
}
