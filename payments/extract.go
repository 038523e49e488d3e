/*
extract.go - Processing one extract batch

PURPOSE:
  Turns a batch's record streams into persisted Payments, each with a
  processing-flow entry and, where the source system should hear about it,
  a pending writeback entry.

ATOMICITY:
  The whole batch runs in one transaction. A Go error anywhere (store
  failure, not a business rule) rolls back every Payment, bank account and
  ledger entry created for the batch. Business-rule failures never abort:
  the payment is saved and routed to an error state.

PER CANDIDATE:
  1. Validate + classify (validators.go)
  2. Resolve employee by tax id and claim by absence case id
     (skipped after a universal failure)
  3. Resubmission check: an earlier payment with the same composite key
     whose processing state is not restartable blocks this one
  4. EFT prenote check for clean STANDARD ACH payments (prenote.go)
  5. Save payment; append processing state; emit writeback

RESULTING STATE:
  terminal issues  -> ERROR_NON_RESTARTABLE
  other issues     -> ERROR_RESTARTABLE
  STANDARD         -> POST_PROCESSING_CHECK (cap check comes later)
  other types      -> PROCESSED_<type>
*/
package payments

import (
	"context"
	"fmt"

	"github.com/warp/payment-reconciler/generic"
	"go.uber.org/zap"
)

// BatchReport counts outcomes for one batch. It is attached to the run log.
type BatchReport struct {
	BatchID          string                  `json:"batch_id"`
	Candidates       int                     `json:"candidates"`
	DuplicateKeys    int                     `json:"duplicate_keys"`
	States           map[generic.StateID]int `json:"states"`
	TransactionTypes map[TransactionType]int `json:"transaction_types"`
	Issues           map[IssueReason]int     `json:"issues"`
}

func newBatchReport(batchID string) *BatchReport {
	return &BatchReport{
		BatchID:          batchID,
		States:           make(map[generic.StateID]int),
		TransactionTypes: make(map[TransactionType]int),
		Issues:           make(map[IssueReason]int),
	}
}

func (r *BatchReport) record(candidate *PaymentCandidate, state generic.StateID) {
	r.Candidates++
	r.States[state]++
	r.TransactionTypes[candidate.TransactionType]++
	for _, reason := range candidate.Validation.Reasons() {
		r.Issues[reason]++
	}
}

// ProcessExtract runs one batch inside a single transaction.
func (s *Service) ProcessExtract(ctx context.Context, batch *Batch, streams ExtractStreams) (*BatchReport, error) {
	if batch.ID == "" {
		batch.ID = s.newID()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = s.now().UTC()
	}
	report := newBatchReport(batch.ID)

	err := s.withinTx(ctx, func(tx Repository, ledger generic.StateLedger) error {
		if err := tx.SaveBatch(ctx, batch); err != nil {
			return fmt.Errorf("save batch: %w", err)
		}

		result := Correlate(streams)
		report.DuplicateKeys = len(result.DuplicateKeys)
		for _, key := range result.DuplicateKeys {
			s.logger.Warn("duplicate composite key ignored", zap.String("batch", batch.Timestamp), zap.Stringer("key", key))
		}

		for _, candidate := range result.Candidates {
			state, err := s.processCandidate(ctx, tx, ledger, batch, candidate)
			if err != nil {
				return fmt.Errorf("payment %s: %w", candidate.Key, err)
			}
			report.record(candidate, state)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Service) processCandidate(ctx context.Context, tx Repository, ledger generic.StateLedger, batch *Batch, candidate *PaymentCandidate) (generic.StateID, error) {
	container := s.validator.Validate(candidate)
	payment := s.newPayment(batch, candidate)

	if !container.HasTerminalIssues() {
		if err := s.linkClaimant(ctx, tx, candidate, payment); err != nil {
			return "", err
		}
	}
	if !candidate.Key.IsZero() {
		if err := s.checkResubmission(ctx, tx, ledger, candidate.Key, container); err != nil {
			return "", err
		}
	}
	if !container.HasIssues() && payment.TransactionType == TransactionStandard && payment.Method == PaymentMethodACH {
		account, err := s.checkPrenote(ctx, tx, ledger, payment.EmployeeID, candidate, container)
		if err != nil {
			return "", err
		}
		payment.BankAccountID = account.ID
	}

	if err := tx.SavePayment(ctx, payment); err != nil {
		return "", fmt.Errorf("save payment: %w", err)
	}

	state, message := processingState(candidate)
	entry, err := ledger.Append(ctx, payment.Ref(), FlowProcessing, state, container.Outcome(message))
	if err != nil {
		return "", err
	}
	if _, err := emitWriteback(ctx, ledger, entry); err != nil {
		return "", err
	}

	s.logger.Debug("payment extracted",
		zap.String("payment", payment.ID),
		zap.Stringer("key", candidate.Key),
		zap.String("type", string(payment.TransactionType)),
		zap.String("state", string(state)),
		zap.Int("issues", len(container.Issues)),
	)
	return state, nil
}

func (s *Service) newPayment(batch *Batch, candidate *PaymentCandidate) *Payment {
	amount, _ := candidate.Amount()
	payment := &Payment{
		ID:              s.newID(),
		BatchID:         batch.ID,
		Key:             candidate.Key,
		AbsenceCaseID:   candidate.AbsenceCaseID(),
		LeaveRequestID:  candidate.LeaveRequestID(),
		AbsenceReason:   candidate.AbsenceReason(),
		Amount:          amount,
		Period:          candidate.Period(),
		PaymentDate:     candidate.PaymentDate(),
		Method:          candidate.Method(),
		TransactionType: candidate.TransactionType,
		IsAdhoc:         candidate.IsAdhoc(),
		CreatedAt:       s.now().UTC(),
	}
	for _, detail := range candidate.Details() {
		detail.ID = s.newID()
		detail.PaymentID = payment.ID
		payment.Details = append(payment.Details, detail)
	}
	return payment
}

// linkClaimant resolves the employee and claim. An unknown employee may be
// loaded before the next run; an unknown claim will not appear on its own.
func (s *Service) linkClaimant(ctx context.Context, tx Repository, candidate *PaymentCandidate, payment *Payment) error {
	c := candidate.Validation

	employee, err := tx.FindEmployeeByTaxIdentifier(ctx, candidate.TaxIdentifier())
	if err != nil {
		return fmt.Errorf("find employee: %w", err)
	}
	if employee == nil {
		c.Add(IssueMissingInDB, "employee: no employee with tax identifier "+maskTaxIdentifier(candidate.TaxIdentifier()))
	} else {
		payment.EmployeeID = employee.ID
	}

	claim, err := tx.FindClaimByAbsenceCaseID(ctx, candidate.AbsenceCaseID())
	if err != nil {
		return fmt.Errorf("find claim: %w", err)
	}
	switch {
	case claim == nil:
		c.AddTerminal(IssueMissingInDB, "claim: no claim with absence case id "+candidate.AbsenceCaseID())
	case employee != nil && claim.EmployeeID != "" && claim.EmployeeID != employee.ID:
		c.AddTerminal(IssueInvalidValue, "claim: "+candidate.AbsenceCaseID()+" belongs to a different employee")
	default:
		payment.ClaimID = claim.ID
	}
	return nil
}

func maskTaxIdentifier(tin string) string {
	if len(tin) <= 4 {
		return "****"
	}
	return "*****" + tin[len(tin)-4:]
}

// checkResubmission blocks a composite key whose earlier payment is not in
// a restartable state. The new payment is kept, in an error state, and is
// never merged with the earlier one.
func (s *Service) checkResubmission(ctx context.Context, tx Repository, ledger generic.StateLedger, key CompositeKey, c *ValidationContainer) error {
	prior, err := tx.FindPaymentsByCompositeKey(ctx, key)
	if err != nil {
		return fmt.Errorf("find prior payments: %w", err)
	}
	for i := range prior {
		current, err := ledger.Current(ctx, prior[i].Ref(), FlowProcessing)
		if err != nil {
			return err
		}
		if current != nil && !IsRestartable(current.State) {
			c.Add(IssueCurrentlyBeingProcessed, fmt.Sprintf("payment %s with key %s is in state %s",
				prior[i].ID, key, current.State))
			return nil
		}
	}
	return nil
}

func processingState(candidate *PaymentCandidate) (generic.StateID, string) {
	c := candidate.Validation
	switch {
	case c.HasTerminalIssues():
		return StateErrorNonRestartable, c.Summary()
	case c.HasIssues():
		return StateErrorRestartable, c.Summary()
	case candidate.TransactionType == TransactionStandard:
		return StatePostProcessingCheck, "Success"
	default:
		return processedStates[candidate.TransactionType], "Processed " + string(candidate.TransactionType)
	}
}
