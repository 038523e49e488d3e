/*
writeback.go - Reporting payment outcomes back to the system of record

PURPOSE:
  Every processing outcome the source system should hear about becomes a
  pending entry in the writeback flow. A later step delivers pending entries
  to a WritebackSink and marks them sent. The two flows are independent: a
  payment can be errored in processing and pending in writeback.

STATUS CODES:
  The external status column holds at most 30 characters; constructors
  reject longer codes. Active codes are visible progress in the source
  system; inactive ones are internal markers that update no column.

MAPPING (processing state -> status):
  ERROR_*                    -> by primary issue reason
                                (data issue / prenote / EFT error / validation)
  STAGED (cap passed)        -> Pending Payment Audit
  STAGED (cap exceeded)      -> Max Weekly Benefits Exceeded
  PROCESSED_*                -> Processed (inactive)
  SENT_TO_DISBURSEMENT       -> Sent to Disbursement (inactive)
  COMPLETE                   -> Paid
  POST_PROCESSING_CHECK      -> nothing yet

SEE ALSO:
  - flows.go: Writeback flow states
  - sink/: NATS and log sinks
*/
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/payment-reconciler/generic"
)

// =============================================================================
// WRITEBACK STATUS
// =============================================================================

const MaxWritebackCodeLength = 30

type WritebackStatus struct {
	ID     int
	Code   string
	Active bool
}

// NewWritebackStatus validates the code against the external column.
func NewWritebackStatus(id int, code string, active bool) (WritebackStatus, error) {
	if code == "" || len(code) > MaxWritebackCodeLength {
		return WritebackStatus{}, fmt.Errorf("%w: %q must be 1-%d characters", ErrInvalidWritebackStatus, code, MaxWritebackCodeLength)
	}
	return WritebackStatus{ID: id, Code: code, Active: active}, nil
}

func mustWritebackStatus(id int, code string, active bool) WritebackStatus {
	status, err := NewWritebackStatus(id, code, active)
	if err != nil {
		panic(err)
	}
	return status
}

var (
	WritebackPendingPaymentAudit      = mustWritebackStatus(1, "Pending Payment Audit", true)
	WritebackMaxWeeklyBenefitExceeded = mustWritebackStatus(2, "Max Weekly Benefits Exceeded", true)
	WritebackDataIssueInSystem        = mustWritebackStatus(3, "Data Issue in System", true)
	WritebackPendingPrenote           = mustWritebackStatus(4, "Pending Prenote", true)
	WritebackEFTAccountError          = mustWritebackStatus(5, "EFT Account Information Error", true)
	WritebackFailedValidation         = mustWritebackStatus(6, "Failed Automated Validation", true)
	WritebackProcessed                = mustWritebackStatus(7, "Processed", false)
	WritebackSentToDisbursement       = mustWritebackStatus(8, "Sent to Disbursement", false)
	WritebackPaid                     = mustWritebackStatus(9, "Paid", true)
)

var writebackStatuses = []WritebackStatus{
	WritebackPendingPaymentAudit,
	WritebackMaxWeeklyBenefitExceeded,
	WritebackDataIssueInSystem,
	WritebackPendingPrenote,
	WritebackEFTAccountError,
	WritebackFailedValidation,
	WritebackProcessed,
	WritebackSentToDisbursement,
	WritebackPaid,
}

// WritebackStatuses returns the closed set of status codes.
func WritebackStatuses() []WritebackStatus {
	return append([]WritebackStatus(nil), writebackStatuses...)
}

// =============================================================================
// EMITTER - processing state -> status
// =============================================================================

// WritebackStatusFor maps a processing entry to its status. ok is false for
// states that report nothing yet.
func WritebackStatusFor(entry generic.StateLogEntry) (status WritebackStatus, ok bool) {
	switch entry.State {
	case StateErrorRestartable, StateErrorNonRestartable:
		return errorStatus(IssueReason(entry.Outcome.String(OutcomeReasonKey))), true
	case StateStagedForAudit:
		if entry.Outcome.Bool(OutcomeCapExceededKey) {
			return WritebackMaxWeeklyBenefitExceeded, true
		}
		return WritebackPendingPaymentAudit, true
	case StateProcessedZeroPayment, StateProcessedOverpayment,
		StateProcessedCancellation, StateProcessedEmployerReimbursement:
		return WritebackProcessed, true
	case StateSentToDisbursement:
		return WritebackSentToDisbursement, true
	case StateComplete:
		return WritebackPaid, true
	default:
		return WritebackStatus{}, false
	}
}

func errorStatus(reason IssueReason) WritebackStatus {
	switch reason {
	case IssueUnexpectedPaymentType, IssueCurrentlyBeingProcessed, IssueMissingInDB:
		return WritebackDataIssueInSystem
	case IssueEFTPrenotePending:
		return WritebackPendingPrenote
	case IssueEFTPrenoteRejected:
		return WritebackEFTAccountError
	default:
		return WritebackFailedValidation
	}
}

// emitWriteback appends a pending writeback entry for the processing entry,
// if its state reports anything.
func emitWriteback(ctx context.Context, ledger generic.StateLedger, processing generic.StateLogEntry) (*generic.StateLogEntry, error) {
	status, ok := WritebackStatusFor(processing)
	if !ok {
		return nil, nil
	}
	entry, err := ledger.Append(ctx, processing.Entity, FlowWriteback, StateWritebackPending, generic.Outcome{
		OutcomeStatusKey:   status.Code,
		OutcomeActiveKey:   status.Active,
		"processing_state": string(processing.State),
		"processing_entry": string(processing.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("emit writeback for %s: %w", processing.Entity, err)
	}
	return &entry, nil
}

// =============================================================================
// SINK - downstream delivery
// =============================================================================

// WritebackRecord is what the source system receives for one payment.
type WritebackRecord struct {
	PaymentID     string    `json:"payment_id"`
	C             string    `json:"c"`
	I             string    `json:"i"`
	AbsenceCaseID string    `json:"absence_case_id,omitempty"`
	Status        string    `json:"status"`
	Active        bool      `json:"active"`
	Timestamp     time.Time `json:"timestamp"`
}

// WritebackSink delivers records downstream. Retries are the sink's concern.
type WritebackSink interface {
	Deliver(ctx context.Context, record WritebackRecord) error
}

// FlushReport counts delivered writeback records.
type FlushReport struct {
	Delivered int `json:"delivered"`
}

// FlushWriteback delivers every pending writeback entry and marks it sent.
// It runs outside any batch transaction: each entry is marked sent right
// after its delivery, so a sink failure leaves the rest pending for the
// next run.
func (s *Service) FlushWriteback(ctx context.Context, sink WritebackSink) (*FlushReport, error) {
	report := &FlushReport{}
	refs, err := s.ledger.EntitiesInState(ctx, EntityPayment, FlowWriteback, StateWritebackPending)
	if err != nil {
		return report, fmt.Errorf("list pending writeback: %w", err)
	}

	for _, ref := range refs {
		pending, err := s.ledger.Current(ctx, ref, FlowWriteback)
		if err != nil {
			return report, err
		}
		payment, err := s.repo.GetPayment(ctx, ref.ID)
		if err != nil {
			return report, err
		}

		record := WritebackRecord{
			PaymentID:     payment.ID,
			C:             payment.Key.C,
			I:             payment.Key.I,
			AbsenceCaseID: payment.AbsenceCaseID,
			Status:        pending.Outcome.String(OutcomeStatusKey),
			Active:        pending.Outcome.Bool(OutcomeActiveKey),
			Timestamp:     pending.CreatedAt,
		}
		if err := sink.Deliver(ctx, record); err != nil {
			return report, fmt.Errorf("deliver writeback for payment %s: %w", payment.ID, err)
		}

		if _, err := s.ledger.Append(ctx, ref, FlowWriteback, StateWritebackSent, generic.Outcome{
			OutcomeStatusKey: record.Status,
			OutcomeActiveKey: record.Active,
		}); err != nil {
			return report, err
		}
		report.Delivered++
	}
	return report, nil
}
