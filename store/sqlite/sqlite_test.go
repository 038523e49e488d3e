package sqlite_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payment-reconciler/generic"
	"github.com/warp/payment-reconciler/payments"
	"github.com/warp/payment-reconciler/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var baseTime = time.Date(2021, time.January, 12, 9, 0, 0, 0, time.UTC)

func entry(id string, entityID string, state generic.StateID, at time.Time) generic.StateLogEntry {
	return generic.StateLogEntry{
		ID:        generic.EntryID(id),
		Entity:    generic.EntityRef{Kind: payments.EntityPayment, ID: entityID},
		Flow:      payments.FlowProcessing,
		State:     state,
		Outcome:   generic.Outcome{payments.OutcomeMessageKey: string(state)},
		CreatedAt: at,
	}
}

func saveBatch(t *testing.T, store *sqlite.Store, id string) *payments.Batch {
	t.Helper()
	batch := &payments.Batch{ID: id, Timestamp: "2021-01-12-09-00-00", Fingerprint: "fp-" + id, CreatedAt: baseTime}
	require.NoError(t, store.SaveBatch(context.Background(), batch))
	return batch
}

// =============================================================================
// STATE LOG
// =============================================================================

func TestStateLog_LatestBreaksTiesByInsertion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// GIVEN: two entries with the same timestamp
	_, err := store.AppendState(ctx, entry("e1", "p1", payments.StatePostProcessingCheck, baseTime))
	require.NoError(t, err)
	_, err = store.AppendState(ctx, entry("e2", "p1", payments.StateStagedForAudit, baseTime))
	require.NoError(t, err)

	// WHEN
	latest, err := store.LatestState(ctx, generic.EntityRef{Kind: payments.EntityPayment, ID: "p1"}, payments.FlowProcessing)

	// THEN
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, generic.EntryID("e2"), latest.ID)
	assert.Equal(t, "DELEGATED_PAYMENT_STAGED_FOR_PAYMENT_AUDIT_REPORT_SAMPLING", latest.Outcome.String(payments.OutcomeMessageKey))
	assert.True(t, baseTime.Equal(latest.CreatedAt))
}

func TestStateLog_HistoryOldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ref := generic.EntityRef{Kind: payments.EntityPayment, ID: "p1"}

	_, err := store.AppendState(ctx, entry("e2", "p1", payments.StateStagedForAudit, baseTime.Add(time.Minute)))
	require.NoError(t, err)
	_, err = store.AppendState(ctx, entry("e1", "p1", payments.StatePostProcessingCheck, baseTime))
	require.NoError(t, err)

	history, err := store.StateHistory(ctx, ref, payments.FlowProcessing)

	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, generic.EntryID("e1"), history[0].ID)
	assert.Equal(t, generic.EntryID("e2"), history[1].ID)
}

func TestStateLog_EntitiesInState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, e := range []generic.StateLogEntry{
		entry("e1", "p1", payments.StatePostProcessingCheck, baseTime),
		entry("e2", "p2", payments.StatePostProcessingCheck, baseTime.Add(time.Second)),
		entry("e3", "p1", payments.StateStagedForAudit, baseTime.Add(2*time.Second)),
		entry("e4", "p3", payments.StatePostProcessingCheck, baseTime.Add(3*time.Second)),
	} {
		_, err := store.AppendState(ctx, e)
		require.NoError(t, err)
	}

	refs, err := store.EntitiesInState(ctx, payments.EntityPayment, payments.FlowProcessing, payments.StatePostProcessingCheck)

	require.NoError(t, err)
	assert.Equal(t, []generic.EntityRef{
		{Kind: payments.EntityPayment, ID: "p2"},
		{Kind: payments.EntityPayment, ID: "p3"},
	}, refs)
}

func TestStateLog_FlowsAreSeparate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ref := generic.EntityRef{Kind: payments.EntityPayment, ID: "p1"}

	_, err := store.AppendState(ctx, entry("e1", "p1", payments.StateErrorRestartable, baseTime))
	require.NoError(t, err)
	wb := entry("e2", "p1", payments.StateWritebackPending, baseTime.Add(time.Second))
	wb.Flow = payments.FlowWriteback
	_, err = store.AppendState(ctx, wb)
	require.NoError(t, err)

	latest, err := store.LatestState(ctx, ref, payments.FlowProcessing)
	require.NoError(t, err)
	assert.Equal(t, payments.StateErrorRestartable, latest.State)

	latest, err = store.LatestState(ctx, ref, payments.FlowPrenote)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestStateLog_DuplicateEntryID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.AppendState(ctx, entry("e1", "p1", payments.StatePostProcessingCheck, baseTime))
	require.NoError(t, err)
	_, err = store.AppendState(ctx, entry("e1", "p2", payments.StatePostProcessingCheck, baseTime))

	assert.ErrorIs(t, err, generic.ErrDuplicateEntry)
}

func TestStateLog_UnknownEntityKind(t *testing.T) {
	store := newTestStore(t)

	e := entry("e1", "x", payments.StatePostProcessingCheck, baseTime)
	e.Entity.Kind = "widget"
	_, err := store.AppendState(context.Background(), e)

	assert.ErrorIs(t, err, generic.ErrUnknownEntityKind)
}

func TestStateLog_BankAccountsHaveTheirOwnLog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := entry("e1", "acct-1", generic.StateID(payments.PrenotePendingPrePub), baseTime)
	e.Entity.Kind = payments.EntityBankAccount
	e.Flow = payments.FlowPrenote
	_, err := store.AppendState(ctx, e)
	require.NoError(t, err)

	refs, err := store.EntitiesInState(ctx, payments.EntityPayment, payments.FlowPrenote, generic.StateID(payments.PrenotePendingPrePub))
	require.NoError(t, err)
	assert.Empty(t, refs)

	refs, err = store.EntitiesInState(ctx, payments.EntityBankAccount, payments.FlowPrenote, generic.StateID(payments.PrenotePendingPrePub))
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithinTx_RollbackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(tx payments.Repository) error {
		if err := tx.SaveBatch(ctx, &payments.Batch{ID: "b1", Timestamp: "t", Fingerprint: "fp", CreatedAt: baseTime}); err != nil {
			return err
		}
		if _, err := tx.AppendState(ctx, entry("e1", "p1", payments.StatePostProcessingCheck, baseTime)); err != nil {
			return err
		}
		// reads inside the transaction see its writes
		batch, err := tx.FindBatchByFingerprint(ctx, "fp")
		if err != nil || batch == nil {
			return errors.New("batch not visible inside transaction")
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)

	batch, err := store.FindBatchByFingerprint(ctx, "fp")
	require.NoError(t, err)
	assert.Nil(t, batch)

	latest, err := store.LatestState(ctx, generic.EntityRef{Kind: payments.EntityPayment, ID: "p1"}, payments.FlowProcessing)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestWithinTx_Commit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx generic.Store) error {
		_, err := tx.AppendState(ctx, entry("e1", "p1", payments.StatePostProcessingCheck, baseTime))
		return err
	})
	require.NoError(t, err)

	latest, err := store.LatestState(ctx, generic.EntityRef{Kind: payments.EntityPayment, ID: "p1"}, payments.FlowProcessing)
	require.NoError(t, err)
	assert.NotNil(t, latest)
}

// =============================================================================
// PAYMENTS & CLAIMANTS
// =============================================================================

func TestPayments_SaveAndLoadWithDetails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	batch := saveBatch(t, store, "b1")

	week1 := generic.Period{Start: generic.NewTimePoint(2021, time.January, 4), End: generic.NewTimePoint(2021, time.January, 10)}
	week2 := generic.Period{Start: generic.NewTimePoint(2021, time.January, 11), End: generic.NewTimePoint(2021, time.January, 17)}
	p := &payments.Payment{
		ID:              "p1",
		BatchID:         batch.ID,
		Key:             payments.CompositeKey{C: "7326", I: "301"},
		EmployeeID:      "emp-1",
		ClaimID:         "claim-1",
		AbsenceCaseID:   "NTN-100-ABS-01",
		Amount:          decimal.RequireFromString("1700.00"),
		Period:          generic.Period{Start: week1.Start, End: week2.End},
		PaymentDate:     generic.NewTimePoint(2021, time.January, 18),
		Method:          payments.PaymentMethodACH,
		TransactionType: payments.TransactionStandard,
		IsAdhoc:         true,
		CreatedAt:       baseTime,
		Details: []payments.PaymentDetail{
			{ID: "d2", Period: week2, Amount: decimal.RequireFromString("850.00")},
			{ID: "d1", Period: week1, Amount: decimal.RequireFromString("850.00")},
		},
	}
	require.NoError(t, store.SavePayment(ctx, p))

	got, err := store.GetPayment(ctx, "p1")

	require.NoError(t, err)
	assert.Equal(t, p.Key, got.Key)
	assert.True(t, p.Amount.Equal(got.Amount))
	assert.Equal(t, p.Period, got.Period)
	assert.Equal(t, p.PaymentDate, got.PaymentDate)
	assert.Equal(t, payments.PaymentMethodACH, got.Method)
	assert.True(t, got.IsAdhoc)
	assert.Empty(t, got.BankAccountID)
	require.Len(t, got.Details, 2)
	assert.Equal(t, "d1", got.Details[0].ID, "details ordered by period")
	assert.Equal(t, "p1", got.Details[0].PaymentID)

	byKey, err := store.FindPaymentsByCompositeKey(ctx, p.Key)
	require.NoError(t, err)
	assert.Len(t, byKey, 1)

	byEmployee, err := store.ListPaymentsByEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, byEmployee, 1)
}

func TestPayments_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetPayment(context.Background(), "missing")

	assert.ErrorIs(t, err, payments.ErrPaymentNotFound)
	assert.True(t, generic.IsNotFound(err))
}

func TestPayments_KeyUniquePerBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	saveBatch(t, store, "b1")
	saveBatch(t, store, "b2")

	newPayment := func(id, batchID string) *payments.Payment {
		return &payments.Payment{
			ID: id, BatchID: batchID, Key: payments.CompositeKey{C: "1", I: "1"},
			Amount: decimal.Zero, TransactionType: payments.TransactionZeroDollar, CreatedAt: baseTime,
		}
	}

	require.NoError(t, store.SavePayment(ctx, newPayment("p1", "b1")))
	require.NoError(t, store.SavePayment(ctx, newPayment("p2", "b2")))
	err := store.SavePayment(ctx, newPayment("p3", "b1"))

	assert.ErrorIs(t, err, generic.ErrDuplicateEntry)

	list, err := store.FindPaymentsByCompositeKey(ctx, payments.CompositeKey{C: "1", I: "1"})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestBatches_FingerprintUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	saveBatch(t, store, "b1")

	err := store.SaveBatch(ctx, &payments.Batch{ID: "b2", Timestamp: "t", Fingerprint: "fp-b1", CreatedAt: baseTime})

	assert.ErrorIs(t, err, generic.ErrDuplicateEntry)
	found, err := store.FindBatchByFingerprint(ctx, "fp-b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", found.ID)
}

func TestEmployeesAndClaims(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEmployee(ctx, &payments.Employee{ID: "emp-1", TaxIdentifier: "123456789", CreatedAt: baseTime}))
	err := store.SaveEmployee(ctx, &payments.Employee{ID: "emp-2", TaxIdentifier: "123456789", CreatedAt: baseTime})
	assert.ErrorIs(t, err, generic.ErrDuplicateEntry)

	emp, err := store.FindEmployeeByTaxIdentifier(ctx, "123456789")
	require.NoError(t, err)
	assert.Equal(t, "emp-1", emp.ID)

	emp, err = store.FindEmployeeByTaxIdentifier(ctx, "000000000")
	require.NoError(t, err)
	assert.Nil(t, emp)

	require.NoError(t, store.SaveClaim(ctx, &payments.Claim{ID: "c1", AbsenceCaseID: "NTN-1", EmployeeID: "emp-1", CreatedAt: baseTime}))
	claim, err := store.FindClaimByAbsenceCaseID(ctx, "NTN-1")
	require.NoError(t, err)
	assert.Equal(t, "emp-1", claim.EmployeeID)

	claim, err = store.FindClaimByAbsenceCaseID(ctx, "NTN-2")
	require.NoError(t, err)
	assert.Nil(t, claim)
}

func TestBankAccounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	account := &payments.BankAccount{
		ID:            "acct-1",
		EmployeeID:    "emp-1",
		RoutingNumber: "011000015",
		AccountNumber: "000123456789",
		AccountType:   payments.AccountChecking,
		PrenoteState:  payments.PrenotePendingPrePub,
		CreatedAt:     baseTime,
	}
	require.NoError(t, store.SaveBankAccount(ctx, account))

	// update prenote fields in place
	sentAt := baseTime.Add(time.Hour)
	account.PrenoteState = payments.PrenotePendingWithPub
	account.PrenoteSentAt = &sentAt
	require.NoError(t, store.SaveBankAccount(ctx, account))

	found, err := store.FindBankAccount(ctx, "emp-1", "011000015", "000123456789", payments.AccountChecking)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, payments.PrenotePendingWithPub, found.PrenoteState)
	require.NotNil(t, found.PrenoteSentAt)
	assert.True(t, sentAt.Equal(*found.PrenoteSentAt))
	assert.Nil(t, found.PrenoteApprovedAt)

	// a savings account with the same numbers is a different account
	missing, err := store.FindBankAccount(ctx, "emp-1", "011000015", "000123456789", payments.AccountSavings)
	require.NoError(t, err)
	assert.Nil(t, missing)

	dup := *account
	dup.ID = "acct-2"
	assert.ErrorIs(t, store.SaveBankAccount(ctx, &dup), generic.ErrDuplicateEntry)

	_, err = store.GetBankAccount(ctx, "acct-9")
	assert.ErrorIs(t, err, payments.ErrBankAccountNotFound)
}

// =============================================================================
// RUN LOG & CAP TABLE
// =============================================================================

func TestRuns_SaveUpdateAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &payments.BatchRun{ID: "r1", BatchTimestamp: "2021-01-12-09-00-00", Status: payments.RunRunning, StartedAt: baseTime}
	second := &payments.BatchRun{ID: "r2", BatchTimestamp: "2021-01-13-09-00-00", Status: payments.RunRunning, StartedAt: baseTime.Add(24 * time.Hour)}
	require.NoError(t, store.SaveRun(ctx, first))
	require.NoError(t, store.SaveRun(ctx, second))

	finished := baseTime.Add(time.Minute)
	first.Status = payments.RunFailed
	first.Error = "boom"
	first.Report = json.RawMessage(`{"candidates":3}`)
	first.FinishedAt = &finished
	require.NoError(t, store.SaveRun(ctx, first))

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID, "most recent first")
	assert.Nil(t, runs[0].FinishedAt)
	assert.Equal(t, payments.RunFailed, runs[1].Status)
	assert.Equal(t, "boom", runs[1].Error)
	assert.JSONEq(t, `{"candidates":3}`, string(runs[1].Report))
	require.NotNil(t, runs[1].FinishedAt)

	limited, err := store.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMaxWeeklyBenefitAmounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveMaxWeeklyBenefitAmounts(ctx, payments.DefaultMaxWeeklyBenefitAmounts()))
	require.NoError(t, store.SaveMaxWeeklyBenefitAmounts(ctx, []payments.MaxWeeklyBenefitAmount{
		{EffectiveDate: generic.NewTimePoint(2021, time.January, 1), Amount: decimal.RequireFromString("855.00")},
	}))

	amounts, err := store.ListMaxWeeklyBenefitAmounts(ctx)

	require.NoError(t, err)
	require.Len(t, amounts, len(payments.DefaultMaxWeeklyBenefitAmounts()))
	assert.Equal(t, generic.NewTimePoint(2021, time.January, 1), amounts[0].EffectiveDate)
	assert.True(t, decimal.RequireFromString("855.00").Equal(amounts[0].Amount))
	assert.True(t, amounts[len(amounts)-1].EffectiveDate.After(amounts[0].EffectiveDate))
}
