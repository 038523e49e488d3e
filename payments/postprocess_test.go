package payments_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payment-reconciler/generic"
	"github.com/warp/payment-reconciler/payments"
)

func (f *serviceFixture) postProcess(t *testing.T) *payments.PostProcessReport {
	t.Helper()
	report, err := f.service.PostProcess(context.Background())
	require.NoError(t, err)
	return report
}

// =============================================================================
// POST-PROCESSING
// =============================================================================

func TestPostProcess_StagesPayment(t *testing.T) {
	f := newFixture(t)
	f.process(t, "2021-01-12-09-00-00", row(checkHeader("1", "1", "850.00"), caseA))

	report := f.postProcess(t)

	assert.Equal(t, &payments.PostProcessReport{Employees: 1, Payments: 1, Staged: 1}, report)

	p := f.payment(t, "1", "1")
	entry := f.current(t, p, payments.FlowProcessing)
	assert.Equal(t, payments.StateStagedForAudit, entry.State)
	assert.False(t, entry.Outcome.Bool(payments.OutcomeCapExceededKey))

	writeback := f.current(t, p, payments.FlowWriteback)
	assert.Equal(t, payments.WritebackPendingPaymentAudit.Code, writeback.Outcome.String(payments.OutcomeStatusKey))

	// nothing left to do
	assert.Equal(t, &payments.PostProcessReport{}, f.postProcess(t))
}

func TestPostProcess_SameClaimBothPayable(t *testing.T) {
	// GIVEN: two $850 payments for the same week on the same claim
	f := newFixture(t)
	f.process(t, "2021-01-12-09-00-00",
		row(checkHeader("1", "1", "850.00"), caseA),
		row(checkHeader("1", "2", "850.00"), caseA),
	)

	// WHEN
	report := f.postProcess(t)

	// THEN
	assert.Equal(t, 0, report.CapExceeded)
	for _, i := range []string{"1", "2"} {
		entry := f.current(t, f.payment(t, "1", i), payments.FlowProcessing)
		assert.False(t, entry.Outcome.Bool(payments.OutcomeCapExceededKey), i)
	}
}

func TestPostProcess_DifferentClaimsCompete(t *testing.T) {
	// GIVEN: the same two payments on different claims
	f := newFixture(t)
	f.process(t, "2021-01-12-09-00-00",
		row(checkHeader("1", "1", "850.00"), caseA),
		row(checkHeader("1", "2", "850.00"), caseB),
	)

	// WHEN
	report := f.postProcess(t)

	// THEN: both are staged, the second one flagged
	assert.Equal(t, 2, report.Staged)
	assert.Equal(t, 1, report.CapExceeded)

	first := f.current(t, f.payment(t, "1", "1"), payments.FlowProcessing)
	assert.Equal(t, payments.StateStagedForAudit, first.State)
	assert.False(t, first.Outcome.Bool(payments.OutcomeCapExceededKey))

	second := f.payment(t, "1", "2")
	entry := f.current(t, second, payments.FlowProcessing)
	assert.Equal(t, payments.StateStagedForAudit, entry.State)
	assert.True(t, entry.Outcome.Bool(payments.OutcomeCapExceededKey))
	assert.Contains(t, entry.Outcome.String(payments.OutcomeMessageKey), "overlaps with claim(s) "+caseA)

	details, ok := entry.Outcome[payments.OutcomeCapDetailsKey].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, caseB, details["claim"])

	writeback := f.current(t, second, payments.FlowWriteback)
	assert.Equal(t, payments.WritebackMaxWeeklyBenefitExceeded.Code, writeback.Outcome.String(payments.OutcomeStatusKey))
}

func TestPostProcess_PriorBatchCounts(t *testing.T) {
	// GIVEN: claim A was paid the full week in an earlier batch
	f := newFixture(t)
	f.process(t, "2021-01-12-09-00-00", row(checkHeader("1", "1", "850.00"), caseA))
	f.postProcess(t)

	// WHEN: claim B asks for the same week
	f.clock.Advance(24 * time.Hour)
	f.process(t, "2021-01-13-09-00-00", row(checkHeader("1", "2", "850.00"), caseB))
	report := f.postProcess(t)

	// THEN
	assert.Equal(t, 1, report.CapExceeded)
	entry := f.current(t, f.payment(t, "1", "2"), payments.FlowProcessing)
	assert.True(t, entry.Outcome.Bool(payments.OutcomeCapExceededKey))
}

func TestPostProcess_ExceededPaymentsAreNotPrior(t *testing.T) {
	// GIVEN: claim B's payment was flagged over the cap
	f := newFixture(t)
	f.process(t, "2021-01-12-09-00-00",
		row(checkHeader("1", "1", "850.00"), caseA),
		row(checkHeader("1", "2", "850.00"), caseB),
	)
	f.postProcess(t)

	// WHEN: claim A is paid again for the same week
	f.clock.Advance(24 * time.Hour)
	f.process(t, "2021-01-13-09-00-00", row(checkHeader("1", "3", "850.00"), caseA))
	report := f.postProcess(t)

	// THEN: the flagged payment does not consume the week
	assert.Equal(t, 0, report.CapExceeded)
}

func TestPostProcess_AdhocExempt(t *testing.T) {
	f := newFixture(t)
	adhoc := checkHeader("1", "2", "850.00")
	adhoc[payments.FieldAmalgamation] = "Adhoc Payment"
	f.process(t, "2021-01-12-09-00-00",
		row(checkHeader("1", "1", "850.00"), caseA),
		row(adhoc, caseB),
	)

	report := f.postProcess(t)

	assert.Equal(t, 0, report.CapExceeded)
	assert.True(t, f.payment(t, "1", "2").IsAdhoc)
}

func TestPostProcess_OverpaymentOffsets(t *testing.T) {
	// GIVEN: claim B paid the full week, then $300 was recovered
	f := newFixture(t)
	f.process(t, "2021-01-12-09-00-00", row(checkHeader("1", "1", "850.00"), caseB))
	f.postProcess(t)

	recovery := baseHeader("1", "2", "-300.00")
	recovery[payments.FieldEventType] = "Overpayment"
	f.clock.Advance(time.Hour)
	f.process(t, "2021-01-12-10-00-00", row(recovery, caseB))
	assert.Equal(t, payments.StateProcessedOverpayment, f.current(t, f.payment(t, "1", "2"), payments.FlowProcessing).State)

	// WHEN: claim A asks for the recovered amount
	f.clock.Advance(time.Hour)
	f.process(t, "2021-01-12-11-00-00", row(checkHeader("1", "3", "300.00"), caseA))
	report := f.postProcess(t)

	// THEN
	assert.Equal(t, 0, report.CapExceeded)
}

func TestPostProcess_MissingCapConfigurationIsFatal(t *testing.T) {
	// GIVEN: a cap table that starts after the payment's week
	table := payments.NewEffectiveDatedTable([]payments.MaxWeeklyBenefitAmount{
		{EffectiveDate: date(2030, time.January, 1), Amount: money("1000.00")},
	})
	f := newFixtureWithRepo(t, nil, payments.Options{MaxWeekly: table})
	f.process(t, "2021-01-12-09-00-00", row(checkHeader("1", "1", "850.00"), caseA))

	// WHEN
	_, err := f.service.PostProcess(context.Background())

	// THEN: the error surfaces and the payment is left where it was
	require.Error(t, err)
	assert.True(t, errors.Is(err, payments.ErrNoMaxWeeklyAmount))
	assert.Equal(t, payments.StatePostProcessingCheck, f.current(t, f.payment(t, "1", "1"), payments.FlowProcessing).State)
}

// =============================================================================
// DISBURSEMENT
// =============================================================================

func TestDisbursement_Progression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.process(t, "2021-01-12-09-00-00", row(checkHeader("1", "1", "850.00"), caseA))
	f.postProcess(t)
	p := f.payment(t, "1", "1")

	sent, err := f.service.MarkSentToDisbursement(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.StateSentToDisbursement, sent.State)
	assert.Equal(t, payments.WritebackSentToDisbursement.Code,
		f.current(t, p, payments.FlowWriteback).Outcome.String(payments.OutcomeStatusKey))

	complete, err := f.service.MarkComplete(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.StateComplete, complete.State)
	assert.Equal(t, sent.ID, complete.PreviousID)
	assert.Equal(t, payments.WritebackPaid.Code,
		f.current(t, p, payments.FlowWriteback).Outcome.String(payments.OutcomeStatusKey))
}

func TestDisbursement_InvalidTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.process(t, "2021-01-12-09-00-00", row(checkHeader("1", "1", "850.00"), caseA))
	p := f.payment(t, "1", "1")

	// not staged yet
	_, err := f.service.MarkSentToDisbursement(ctx, p.ID)
	assert.ErrorIs(t, err, payments.ErrInvalidTransition)

	f.postProcess(t)

	// staged, not sent
	_, err = f.service.MarkComplete(ctx, p.ID)
	assert.ErrorIs(t, err, payments.ErrInvalidTransition)

	_, err = f.service.MarkSentToDisbursement(ctx, "no-such-payment")
	assert.True(t, generic.IsNotFound(err))
}

// =============================================================================
// WRITEBACK FLUSH
// =============================================================================

func TestFlushWriteback_DeliversPendingOnce(t *testing.T) {
	// GIVEN: a processed zero-dollar payment and a staged standard payment
	f := newFixture(t)
	ctx := context.Background()
	f.process(t, "2021-01-12-09-00-00",
		row(baseHeader("1", "1", "0.00"), caseA),
		row(checkHeader("1", "2", "850.00"), caseA),
	)
	f.postProcess(t)
	sink := &recordingSink{}

	// WHEN
	report, err := f.service.FlushWriteback(ctx, sink)

	// THEN: one record per payment, carrying its latest status
	require.NoError(t, err)
	assert.Equal(t, 2, report.Delivered)
	require.Len(t, sink.records, 2)

	byKey := make(map[string]payments.WritebackRecord)
	for _, r := range sink.records {
		byKey[r.I] = r
	}
	assert.Equal(t, payments.WritebackProcessed.Code, byKey["1"].Status)
	assert.False(t, byKey["1"].Active)
	assert.Equal(t, payments.WritebackPendingPaymentAudit.Code, byKey["2"].Status)
	assert.Equal(t, caseA, byKey["2"].AbsenceCaseID)

	assert.Equal(t, payments.StateWritebackSent, f.current(t, f.payment(t, "1", "2"), payments.FlowWriteback).State)

	// a second flush has nothing to send
	report, err = f.service.FlushWriteback(ctx, sink)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Delivered)
	assert.Len(t, sink.records, 2)
}

func TestFlushWriteback_SinkFailureLeavesEntriesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.process(t, "2021-01-12-09-00-00",
		row(baseHeader("1", "1", "0.00"), caseA),
		row(baseHeader("1", "2", "0.00"), caseA),
	)
	sinkErr := errors.New("broker unavailable")

	report, err := f.service.FlushWriteback(ctx, &recordingSink{err: sinkErr})

	require.Error(t, err)
	assert.ErrorIs(t, err, sinkErr)
	assert.Equal(t, 0, report.Delivered)

	pending, err := f.service.Ledger().EntitiesInState(ctx, payments.EntityPayment, payments.FlowWriteback, payments.StateWritebackPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	// the next flush picks them up
	report, err = f.service.FlushWriteback(ctx, &recordingSink{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Delivered)
}

func TestFlushWriteback_ProcessingAndWritebackAreIndependent(t *testing.T) {
	// GIVEN: an errored payment whose writeback was delivered
	f := newFixture(t)
	ctx := context.Background()
	h := checkHeader("1", "1", "850.00")
	delete(h, payments.FieldCity)
	f.process(t, "2021-01-12-09-00-00", row(h, caseA))
	_, err := f.service.FlushWriteback(ctx, &recordingSink{})
	require.NoError(t, err)

	// THEN: each flow keeps its own current state
	p := f.payment(t, "1", "1")
	assert.Equal(t, payments.StateErrorRestartable, f.current(t, p, payments.FlowProcessing).State)
	assert.Equal(t, payments.StateWritebackSent, f.current(t, p, payments.FlowWriteback).State)
}
