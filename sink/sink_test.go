package sink_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payment-reconciler/payments"
	"github.com/warp/payment-reconciler/sink"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	messages []published
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{subject: subject, data: data})
	return nil
}

type flakySink struct {
	calls int
	err   error
}

func (s *flakySink) Deliver(context.Context, payments.WritebackRecord) error {
	s.calls++
	return s.err
}

func testRecord() payments.WritebackRecord {
	return payments.WritebackRecord{
		PaymentID:     "pay-1",
		C:             "7326",
		I:             "301",
		AbsenceCaseID: "NTN-100-ABS-01",
		Status:        payments.WritebackMaxWeeklyBenefitExceeded.Code,
		Active:        true,
		Timestamp:     time.Date(2021, 1, 12, 9, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// NATS SINK
// =============================================================================

func TestNATSSink_PublishesJSON(t *testing.T) {
	// GIVEN
	pub := &fakePublisher{}
	s := sink.NewNATSSink(pub, "payments.writeback")

	// WHEN
	err := s.Deliver(context.Background(), testRecord())

	// THEN
	require.NoError(t, err)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "payments.writeback", pub.messages[0].subject)

	var got payments.WritebackRecord
	require.NoError(t, json.Unmarshal(pub.messages[0].data, &got))
	assert.Equal(t, testRecord(), got)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(pub.messages[0].data, &raw))
	assert.Equal(t, "Max Weekly Benefits Exceeded", raw["status"])
	assert.Equal(t, true, raw["active"])
}

func TestNATSSink_PublishFailure(t *testing.T) {
	cause := errors.New("nats: connection closed")
	s := sink.NewNATSSink(&fakePublisher{err: cause}, "payments.writeback")

	err := s.Deliver(context.Background(), testRecord())

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "payments.writeback")
}

// =============================================================================
// CIRCUIT BREAKER
// =============================================================================

func TestBreakerSink_PassesThrough(t *testing.T) {
	next := &flakySink{}
	b := sink.NewBreakerSink(next, sink.DefaultBreakerConfig("writeback"), nil)

	require.NoError(t, b.Deliver(context.Background(), testRecord()))
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, "closed", b.State())
}

func TestBreakerSink_TripsAfterConsecutiveFailures(t *testing.T) {
	// GIVEN: a sink that always fails
	cause := errors.New("downstream 503")
	next := &flakySink{err: cause}
	core, logs := observer.New(zapcore.WarnLevel)
	b := sink.NewBreakerSink(next, sink.DefaultBreakerConfig("writeback"), zap.New(core))
	ctx := context.Background()

	// WHEN: three deliveries fail
	for i := 0; i < 3; i++ {
		err := b.Deliver(ctx, testRecord())
		assert.ErrorIs(t, err, cause)
	}

	// THEN: the breaker is open and stops calling the sink
	assert.Equal(t, "open", b.State())
	err := b.Deliver(ctx, testRecord())
	assert.ErrorIs(t, err, sink.ErrSinkUnavailable)
	assert.Equal(t, 3, next.calls)

	require.Equal(t, 1, logs.FilterMessage("writeback circuit breaker state changed").Len())
}

func TestBreakerSink_RecoversAfterTimeout(t *testing.T) {
	next := &flakySink{err: errors.New("down")}
	cfg := sink.DefaultBreakerConfig("writeback")
	cfg.ConsecutiveFailures = 1
	cfg.Timeout = 10 * time.Millisecond
	b := sink.NewBreakerSink(next, cfg, nil)
	ctx := context.Background()

	require.Error(t, b.Deliver(ctx, testRecord()))
	require.Equal(t, "open", b.State())

	time.Sleep(20 * time.Millisecond)
	next.err = nil

	require.NoError(t, b.Deliver(ctx, testRecord()))
	assert.Equal(t, "closed", b.State())
}

// =============================================================================
// LOG SINK
// =============================================================================

func TestLogSink_LogsRecord(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := sink.NewLogSink(zap.New(core))

	require.NoError(t, s.Deliver(context.Background(), testRecord()))

	entries := logs.FilterMessage("writeback").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "pay-1", fields["payment"])
	assert.Equal(t, "Max Weekly Benefits Exceeded", fields["status"])
	assert.Equal(t, true, fields["active"])
}

func TestLogSink_NilLogger(t *testing.T) {
	assert.NoError(t, sink.NewLogSink(nil).Deliver(context.Background(), testRecord()))
}
