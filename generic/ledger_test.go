package generic_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payment-reconciler/generic"
	"github.com/warp/payment-reconciler/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	flowTest generic.FlowID     = "TEST_FLOW"
	kindTest generic.EntityKind = "widget"
)

func ref(id string) generic.EntityRef {
	return generic.EntityRef{Kind: kindTest, ID: id}
}

// fixedClock returns a clock that advances one second per call.
func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		t := current
		current = current.Add(time.Second)
		return t
	}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("entry-%d", n)
	}
}

func newTestLedger() (*generic.DefaultStateLedger, *store.TxMemory) {
	mem := store.NewTxMemory()
	ledger := generic.NewStateLedger(mem)
	ledger.Now = fixedClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	ledger.NewID = sequentialIDs()
	return ledger, mem
}

// =============================================================================
// APPEND / CURRENT / HISTORY
// =============================================================================

func TestLedger_AppendLinksPrevious(t *testing.T) {
	// GIVEN: an entity with no history
	ledger, _ := newTestLedger()
	ctx := context.Background()

	// WHEN: two transitions are appended
	first, err := ledger.Append(ctx, ref("w1"), flowTest, "A", generic.Outcome{"message": "first"})
	require.NoError(t, err)
	second, err := ledger.Append(ctx, ref("w1"), flowTest, "B", nil)
	require.NoError(t, err)

	// THEN: the second links to the first and is current
	assert.Empty(t, first.PreviousID)
	assert.Equal(t, first.ID, second.PreviousID)

	current, err := ledger.Current(ctx, ref("w1"), flowTest)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, generic.StateID("B"), current.State)

	history, err := ledger.History(ctx, ref("w1"), flowTest)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Outcome.String("message"))
}

func TestLedger_CurrentNilForUnknownEntity(t *testing.T) {
	ledger, _ := newTestLedger()

	current, err := ledger.Current(context.Background(), ref("nobody"), flowTest)

	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestLedger_FlowsAreIndependent(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, err := ledger.Append(ctx, ref("w1"), flowTest, "A", nil)
	require.NoError(t, err)
	_, err = ledger.Append(ctx, ref("w1"), "OTHER_FLOW", "X", nil)
	require.NoError(t, err)

	current, err := ledger.Current(ctx, ref("w1"), flowTest)
	require.NoError(t, err)
	assert.Equal(t, generic.StateID("A"), current.State)
}

func TestLedger_RejectsIncompleteEntries(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	tests := []struct {
		name   string
		entity generic.EntityRef
		flow   generic.FlowID
		state  generic.StateID
	}{
		{"missing entity", generic.EntityRef{}, flowTest, "A"},
		{"missing flow", ref("w1"), "", "A"},
		{"missing state", ref("w1"), flowTest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.Append(ctx, tt.entity, tt.flow, tt.state, nil)

			assert.True(t, errors.Is(err, generic.ErrInvalidEntry))
			var invalid *generic.InvalidEntryError
			assert.True(t, errors.As(err, &invalid))
		})
	}
}

func TestLedger_ClockSkewDoesNotReorder(t *testing.T) {
	// GIVEN: a clock that goes backwards
	mem := store.NewMemory()
	ledger := generic.NewStateLedger(mem)
	times := []time.Time{
		time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC),
	}
	ledger.Now = func() time.Time {
		t := times[0]
		times = times[1:]
		return t
	}
	ctx := context.Background()

	// WHEN
	_, err := ledger.Append(ctx, ref("w1"), flowTest, "A", nil)
	require.NoError(t, err)
	second, err := ledger.Append(ctx, ref("w1"), flowTest, "B", nil)
	require.NoError(t, err)

	// THEN: the later append is still current (same timestamp, higher Seq)
	assert.Equal(t, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), second.CreatedAt)
	current, err := ledger.Current(ctx, ref("w1"), flowTest)
	require.NoError(t, err)
	assert.Equal(t, generic.StateID("B"), current.State)
}

func TestLedger_EntitiesInState(t *testing.T) {
	// GIVEN: three entities, one of which moved on
	ledger, _ := newTestLedger()
	ctx := context.Background()

	for _, id := range []string{"w1", "w2", "w3"} {
		_, err := ledger.Append(ctx, ref(id), flowTest, "PENDING", nil)
		require.NoError(t, err)
	}
	_, err := ledger.Append(ctx, ref("w2"), flowTest, "SENT", nil)
	require.NoError(t, err)

	// WHEN
	pending, err := ledger.EntitiesInState(ctx, kindTest, flowTest, "PENDING")
	require.NoError(t, err)

	// THEN: only the entities whose current state matches, in entry order
	assert.Equal(t, []generic.EntityRef{ref("w1"), ref("w3")}, pending)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestTxMemory_RollbackOnError(t *testing.T) {
	// GIVEN: one committed entry
	ledger, mem := newTestLedger()
	ctx := context.Background()
	_, err := ledger.Append(ctx, ref("w1"), flowTest, "A", nil)
	require.NoError(t, err)

	// WHEN: a transaction appends and then fails
	boom := errors.New("boom")
	err = mem.WithTx(ctx, func(tx generic.Store) error {
		if _, err := ledger.WithStore(tx).Append(ctx, ref("w1"), flowTest, "B", nil); err != nil {
			return err
		}
		return boom
	})

	// THEN: nothing from the transaction survives
	assert.ErrorIs(t, err, boom)
	history, err := ledger.History(ctx, ref("w1"), flowTest)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, generic.StateID("A"), history[0].State)
}

func TestMemory_DuplicateEntryID(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	entry := generic.StateLogEntry{ID: "dup", Entity: ref("w1"), Flow: flowTest, State: "A", CreatedAt: time.Now()}

	_, err := mem.AppendState(ctx, entry)
	require.NoError(t, err)
	_, err = mem.AppendState(ctx, entry)

	assert.ErrorIs(t, err, generic.ErrDuplicateEntry)
}
