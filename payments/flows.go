package payments

import "github.com/warp/payment-reconciler/generic"

// =============================================================================
// FLOWS - Independent state machines per entity
// =============================================================================
//
// A payment lives in two flows at once:
//
//	processing: POST_PROCESSING_CHECK -> STAGED_FOR_PAYMENT_AUDIT_REPORT_SAMPLING
//	            -> SENT_TO_DISBURSEMENT -> COMPLETE
//	            or PROCESSED_* for types that never disburse
//	            or ERROR_RESTARTABLE / ERROR_NON_RESTARTABLE
//	writeback:  ADD_TO_FINEOS_WRITEBACK -> FINEOS_WRITEBACK_SENT (repeats)
//
// A bank account lives in the PRENOTE flow, one state per PrenoteState.

const (
	FlowProcessing generic.FlowID = "DELEGATED_PAYMENT"
	FlowWriteback  generic.FlowID = "DELEGATED_PAYMENT_WRITEBACK"
	FlowPrenote    generic.FlowID = "PRENOTE"
)

// Processing flow states.
const (
	StatePostProcessingCheck            generic.StateID = "DELEGATED_PAYMENT_POST_PROCESSING_CHECK"
	StateStagedForAudit                 generic.StateID = "DELEGATED_PAYMENT_STAGED_FOR_PAYMENT_AUDIT_REPORT_SAMPLING"
	StateProcessedZeroPayment           generic.StateID = "DELEGATED_PAYMENT_PROCESSED_ZERO_PAYMENT"
	StateProcessedOverpayment           generic.StateID = "DELEGATED_PAYMENT_PROCESSED_OVERPAYMENT"
	StateProcessedCancellation          generic.StateID = "DELEGATED_PAYMENT_PROCESSED_CANCELLATION"
	StateProcessedEmployerReimbursement generic.StateID = "DELEGATED_PAYMENT_PROCESSED_EMPLOYER_REIMBURSEMENT"
	StateErrorRestartable               generic.StateID = "DELEGATED_PAYMENT_ERROR_REPORT_RESTARTABLE"
	StateErrorNonRestartable            generic.StateID = "DELEGATED_PAYMENT_ERROR_REPORT_NON_RESTARTABLE"
	StateSentToDisbursement             generic.StateID = "DELEGATED_PAYMENT_SENT_TO_DISBURSEMENT"
	StateComplete                       generic.StateID = "DELEGATED_PAYMENT_COMPLETE"
)

// Writeback flow states.
const (
	StateWritebackPending generic.StateID = "DELEGATED_ADD_TO_FINEOS_WRITEBACK"
	StateWritebackSent    generic.StateID = "DELEGATED_FINEOS_WRITEBACK_SENT"
)

// restartableStates are the processing states a resubmitted composite key
// may replace. Any other current state means the earlier payment is still
// being processed (or is done) and blocks the new one.
var restartableStates = map[generic.StateID]bool{
	StateErrorRestartable: true,
}

func IsRestartable(state generic.StateID) bool { return restartableStates[state] }

// processedStates maps non-disbursing transaction types to their final state.
var processedStates = map[TransactionType]generic.StateID{
	TransactionZeroDollar:            StateProcessedZeroPayment,
	TransactionOverpayment:           StateProcessedOverpayment,
	TransactionCancellation:          StateProcessedCancellation,
	TransactionEmployerReimbursement: StateProcessedEmployerReimbursement,
}

// priorPaymentStates count as money already paid in cap calculations.
// Staged payments only count when they passed the cap.
var priorPaymentStates = map[generic.StateID]bool{
	StateStagedForAudit:     true,
	StateSentToDisbursement: true,
	StateComplete:           true,
}

// =============================================================================
// OUTCOME KEYS
// =============================================================================

const (
	OutcomeMessageKey     = "message"
	OutcomeRecordKey      = "record_key"
	OutcomeReasonKey      = "reason"
	OutcomeIssuesKey      = "validation_issues"
	OutcomeCapExceededKey = "maximum_weekly_benefit_exceeded"
	OutcomeCapDetailsKey  = "maximum_weekly_details"
	OutcomeStatusKey      = "writeback_status"
	OutcomeActiveKey      = "writeback_active"
	OutcomeDescriptionKey = "writeback_description"
)
