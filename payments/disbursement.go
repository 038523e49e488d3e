package payments

import (
	"context"

	"github.com/warp/payment-reconciler/generic"
)

// MarkSentToDisbursement hands a staged payment to disbursement.
func (s *Service) MarkSentToDisbursement(ctx context.Context, paymentID string) (*generic.StateLogEntry, error) {
	return s.advancePayment(ctx, paymentID, StateStagedForAudit, StateSentToDisbursement, "Sent to disbursement")
}

// MarkComplete records that the money reached the payee.
func (s *Service) MarkComplete(ctx context.Context, paymentID string) (*generic.StateLogEntry, error) {
	return s.advancePayment(ctx, paymentID, StateSentToDisbursement, StateComplete, "Payment complete")
}

func (s *Service) advancePayment(ctx context.Context, paymentID string, from, to generic.StateID, message string) (*generic.StateLogEntry, error) {
	var entry generic.StateLogEntry
	err := s.withinTx(ctx, func(tx Repository, ledger generic.StateLedger) error {
		payment, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		current, err := ledger.Current(ctx, payment.Ref(), FlowProcessing)
		if err != nil {
			return err
		}
		if current == nil || current.State != from {
			state := ""
			if current != nil {
				state = string(current.State)
			}
			return &TransitionError{Entity: payment.Ref(), From: state, To: string(to)}
		}

		entry, err = ledger.Append(ctx, payment.Ref(), FlowProcessing, to, generic.Outcome{OutcomeMessageKey: message})
		if err != nil {
			return err
		}
		_, err = emitWriteback(ctx, ledger, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
