package payments_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/payment-reconciler/generic"
	"github.com/warp/payment-reconciler/payments"
	"github.com/warp/payment-reconciler/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	testTIN     = "123456789"
	testRouting = "011000015"
	testAccount = "000123456789"
	caseA       = "NTN-100-ABS-01"
	caseB       = "NTN-200-ABS-01"
)

// week1 and week2 are consecutive 2021 pay periods (cap 850.00).
var (
	week1 = generic.Period{Start: date(2021, time.January, 4), End: date(2021, time.January, 10)}
	week2 = generic.Period{Start: date(2021, time.January, 11), End: date(2021, time.January, 17)}
)

func date(year int, month time.Month, day int) generic.TimePoint {
	return generic.NewTimePoint(year, month, day)
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// baseHeader is a clean PaymentOut header without any method fields.
func baseHeader(c, i, amount string) payments.RawRecord {
	return payments.RawRecord{
		payments.FieldC:               c,
		payments.FieldI:               i,
		payments.FieldTaxIdentifier:   testTIN,
		payments.FieldAmount:          amount,
		payments.FieldEventType:       payments.EventTypePaymentOut,
		payments.FieldEventReason:     "Automatic Main Payment",
		payments.FieldPayeeIdentifier: "Social Security Number",
		payments.FieldPeriodStart:     week1.Start.String(),
		payments.FieldPeriodEnd:       week1.End.String(),
		payments.FieldPaymentDate:     "2021-01-11",
		payments.FieldLeaveRequestID:  "LR-" + c + "-" + i,
	}
}

func achHeader(c, i, amount string) payments.RawRecord {
	h := baseHeader(c, i, amount)
	h[payments.FieldPaymentMethod] = string(payments.PaymentMethodACH)
	h[payments.FieldRoutingNumber] = testRouting
	h[payments.FieldAccountNumber] = testAccount
	h[payments.FieldAccountType] = string(payments.AccountChecking)
	return h
}

func checkHeader(c, i, amount string) payments.RawRecord {
	h := baseHeader(c, i, amount)
	h[payments.FieldPaymentMethod] = string(payments.PaymentMethodCheck)
	h[payments.FieldAddressLine1] = "1 Main St"
	h[payments.FieldCity] = "Boston"
	h[payments.FieldState] = "MA"
	h[payments.FieldPostalCode] = "02110"
	return h
}

func paymentDetail(c, i string, period generic.Period, amount string) payments.RawRecord {
	return payments.RawRecord{
		payments.FieldParentC:         c,
		payments.FieldParentI:         i,
		payments.FieldPeriodStart:     period.Start.String(),
		payments.FieldPeriodEnd:       period.End.String(),
		payments.FieldBalancingAmount: amount,
	}
}

func claimDetail(c, i, absenceCaseID string) payments.RawRecord {
	return payments.RawRecord{
		payments.FieldParentC:       c,
		payments.FieldParentI:       i,
		payments.FieldAbsenceCaseID: absenceCaseID,
	}
}

// extractRow is one payment's records across the extract files.
type extractRow struct {
	Header  payments.RawRecord
	Details []payments.RawRecord
	Claims  []payments.RawRecord
}

// row builds a complete one-week payment for the given header.
func row(header payments.RawRecord, absenceCaseID string) extractRow {
	c, i := header[payments.FieldC], header[payments.FieldI]
	return extractRow{
		Header:  header,
		Details: []payments.RawRecord{paymentDetail(c, i, week1, header[payments.FieldAmount])},
		Claims:  []payments.RawRecord{claimDetail(c, i, absenceCaseID)},
	}
}

func streamsOf(rows ...extractRow) payments.ExtractStreams {
	var streams payments.ExtractStreams
	for _, r := range rows {
		streams.Header = append(streams.Header, r.Header)
		streams.PaymentDetails = append(streams.PaymentDetails, r.Details...)
		streams.ClaimDetails = append(streams.ClaimDetails, r.Claims...)
	}
	return streams
}

func candidateOf(r extractRow) *payments.PaymentCandidate {
	result := payments.Correlate(streamsOf(r))
	return result.Candidates[0]
}

// standardPayment is a persisted-shape STANDARD payment for cap tests.
func standardPayment(id, absenceCaseID, amount string, period generic.Period) *payments.Payment {
	return &payments.Payment{
		ID:              id,
		ClaimID:         "claim-" + absenceCaseID,
		AbsenceCaseID:   absenceCaseID,
		Amount:          money(amount),
		Period:          period,
		TransactionType: payments.TransactionStandard,
	}
}

// =============================================================================
// SERVICE FIXTURE
// =============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sequentialIDs makes creation order and id order agree.
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%06d", n)
	}
}

type serviceFixture struct {
	store    *sqlite.Store
	service  *payments.Service
	clock    *testClock
	employee *payments.Employee
}

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newFixture(t *testing.T) *serviceFixture {
	return newFixtureWithRepo(t, nil, payments.Options{})
}

// newFixtureWithRepo builds a service over repo (the sqlite store when nil)
// with one employee holding claims caseA and caseB.
func newFixtureWithRepo(t *testing.T, wrap func(*sqlite.Store) payments.TxRepository, opts payments.Options) *serviceFixture {
	t.Helper()
	store := newTestStore(t)
	clock := &testClock{now: time.Date(2021, time.January, 12, 9, 0, 0, 0, time.UTC)}

	var repo payments.TxRepository = store
	if wrap != nil {
		repo = wrap(store)
	}
	opts.Now = clock.Now
	opts.NewID = sequentialIDs()
	service := payments.NewService(repo, opts)

	ctx := context.Background()
	employee := &payments.Employee{TaxIdentifier: testTIN, FirstName: "Ada", LastName: "Lovelace"}
	require.NoError(t, service.RegisterEmployee(ctx, employee))
	for _, caseID := range []string{caseA, caseB} {
		require.NoError(t, service.RegisterClaim(ctx, &payments.Claim{AbsenceCaseID: caseID, EmployeeID: employee.ID}))
	}

	return &serviceFixture{store: store, service: service, clock: clock, employee: employee}
}

func (f *serviceFixture) process(t *testing.T, timestamp string, rows ...extractRow) *payments.BatchReport {
	t.Helper()
	batch := &payments.Batch{Timestamp: timestamp, Fingerprint: "fp-" + timestamp}
	report, err := f.service.ProcessExtract(context.Background(), batch, streamsOf(rows...))
	require.NoError(t, err)
	return report
}

// payment returns the latest payment created for the composite key.
func (f *serviceFixture) payment(t *testing.T, c, i string) *payments.Payment {
	t.Helper()
	list, err := f.store.FindPaymentsByCompositeKey(context.Background(), payments.CompositeKey{C: c, I: i})
	require.NoError(t, err)
	require.NotEmpty(t, list, "no payment for %s,%s", c, i)
	return &list[len(list)-1]
}

func (f *serviceFixture) current(t *testing.T, p *payments.Payment, flow generic.FlowID) *generic.StateLogEntry {
	t.Helper()
	entry, err := f.service.Ledger().Current(context.Background(), p.Ref(), flow)
	require.NoError(t, err)
	require.NotNil(t, entry, "no %s entry for payment %s", flow, p.ID)
	return entry
}

// recordingSink keeps every delivered record and can be told to fail.
type recordingSink struct {
	mu      sync.Mutex
	records []payments.WritebackRecord
	err     error
}

func (s *recordingSink) Deliver(_ context.Context, record payments.WritebackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}
