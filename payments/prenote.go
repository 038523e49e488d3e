package payments

import (
	"context"
	"fmt"

	"github.com/warp/payment-reconciler/generic"
)

// =============================================================================
// EFT PRENOTE LIFECYCLE
// =============================================================================
//
//	(new) -> PENDING_PRE_PUB --sent--> PENDING_WITH_PUB --waited--> APPROVED
//	              |                          |
//	              +--------rejected----------+--> REJECTED
//
// A payment to a pending account fails restartable, except that an account
// pending with the bank for at least the waiting period is promoted to
// APPROVED on the spot. A payment to a REJECTED account fails for good.

// checkPrenote finds or creates the employee's bank account for the
// candidate's bank fields and applies the prenote rules to the payment.
func (s *Service) checkPrenote(ctx context.Context, tx Repository, ledger generic.StateLedger, employeeID string, candidate *PaymentCandidate, c *ValidationContainer) (*BankAccount, error) {
	routing := candidate.Field(FieldRoutingNumber)
	accountNumber := candidate.Field(FieldAccountNumber)
	accountType := AccountType(candidate.Field(FieldAccountType))

	account, err := tx.FindBankAccount(ctx, employeeID, routing, accountNumber, accountType)
	if err != nil {
		return nil, fmt.Errorf("find bank account: %w", err)
	}

	now := s.now().UTC()
	if account == nil {
		account = &BankAccount{
			ID:            s.newID(),
			EmployeeID:    employeeID,
			RoutingNumber: routing,
			AccountNumber: accountNumber,
			AccountType:   accountType,
			PrenoteState:  PrenotePendingPrePub,
			CreatedAt:     now,
		}
		if err := s.savePrenote(ctx, tx, ledger, account, "New EFT account, prenote not yet sent"); err != nil {
			return nil, err
		}
		c.Add(IssueEFTPrenotePending, "new EFT account "+account.ID+" awaiting prenote")
		return account, nil
	}

	switch account.PrenoteState {
	case PrenoteApproved:
	case PrenoteRejected:
		c.AddTerminal(IssueEFTPrenoteRejected, "EFT account "+account.ID+" was rejected by the bank")
	case PrenotePendingWithPub:
		if account.PrenoteSentAt != nil && now.Sub(*account.PrenoteSentAt) >= s.waitingPeriod {
			account.PrenoteState = PrenoteApproved
			account.PrenoteApprovedAt = &now
			if err := s.savePrenote(ctx, tx, ledger, account, "Prenote waiting period elapsed"); err != nil {
				return nil, err
			}
			break
		}
		c.Add(IssueEFTPrenotePending, "EFT account "+account.ID+" prenote is with the bank")
	default:
		c.Add(IssueEFTPrenotePending, "EFT account "+account.ID+" prenote not yet sent")
	}
	return account, nil
}

// savePrenote persists the account and records its state in the PRENOTE flow.
func (s *Service) savePrenote(ctx context.Context, tx Repository, ledger generic.StateLedger, account *BankAccount, message string) error {
	if err := tx.SaveBankAccount(ctx, account); err != nil {
		return fmt.Errorf("save bank account: %w", err)
	}
	_, err := ledger.Append(ctx, account.Ref(), FlowPrenote, generic.StateID(account.PrenoteState),
		generic.Outcome{OutcomeMessageKey: message})
	return err
}

// MarkPrenoteSent records that the prenote went to the bank.
func (s *Service) MarkPrenoteSent(ctx context.Context, accountID string) (*BankAccount, error) {
	return s.transitionPrenote(ctx, accountID, PrenotePendingWithPub, "Prenote sent",
		func(from PrenoteState) bool { return from == PrenotePendingPrePub })
}

// MarkPrenoteRejected records the bank's rejection of the account.
func (s *Service) MarkPrenoteRejected(ctx context.Context, accountID string) (*BankAccount, error) {
	return s.transitionPrenote(ctx, accountID, PrenoteRejected, "Prenote rejected by the bank",
		func(from PrenoteState) bool { return from != PrenoteRejected })
}

func (s *Service) transitionPrenote(ctx context.Context, accountID string, to PrenoteState, message string, allowed func(PrenoteState) bool) (*BankAccount, error) {
	var account *BankAccount
	err := s.withinTx(ctx, func(tx Repository, ledger generic.StateLedger) error {
		var err error
		account, err = tx.GetBankAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if !allowed(account.PrenoteState) {
			return &TransitionError{Entity: account.Ref(), From: string(account.PrenoteState), To: string(to)}
		}

		now := s.now().UTC()
		account.PrenoteState = to
		if to == PrenotePendingWithPub {
			account.PrenoteSentAt = &now
		}
		return s.savePrenote(ctx, tx, ledger, account, message)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}
