// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/payment-reconciler/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	entries map[key][]generic.StateLogEntry
	ids     map[generic.EntryID]bool
	seq     int64
}

type key struct {
	Entity generic.EntityRef
	Flow   generic.FlowID
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[key][]generic.StateLogEntry),
		ids:     make(map[generic.EntryID]bool),
	}
}

// AppendState adds a single entry. Append-only.
func (m *Memory) AppendState(_ context.Context, entry generic.StateLogEntry) (generic.StateLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(entry)
}

func (m *Memory) appendLocked(entry generic.StateLogEntry) (generic.StateLogEntry, error) {
	if entry.ID != "" && m.ids[entry.ID] {
		return generic.StateLogEntry{}, generic.ErrDuplicateEntry
	}
	m.seq++
	entry.Seq = m.seq

	k := key{Entity: entry.Entity, Flow: entry.Flow}
	m.entries[k] = append(m.entries[k], entry)
	if entry.ID != "" {
		m.ids[entry.ID] = true
	}
	return entry, nil
}

func (m *Memory) LatestState(_ context.Context, entity generic.EntityRef, flow generic.FlowID) (*generic.StateLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestLocked(entity, flow), nil
}

func (m *Memory) latestLocked(entity generic.EntityRef, flow generic.FlowID) *generic.StateLogEntry {
	var latest *generic.StateLogEntry
	for _, e := range m.entries[key{Entity: entity, Flow: flow}] {
		if latest == nil || e.Later(*latest) {
			e := e
			latest = &e
		}
	}
	return latest
}

func (m *Memory) StateHistory(_ context.Context, entity generic.EntityRef, flow generic.FlowID) ([]generic.StateLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.historyLocked(entity, flow), nil
}

func (m *Memory) historyLocked(entity generic.EntityRef, flow generic.FlowID) []generic.StateLogEntry {
	entries := m.entries[key{Entity: entity, Flow: flow}]
	result := make([]generic.StateLogEntry, len(entries))
	copy(result, entries)
	sortEntries(result)
	return result
}

func (m *Memory) EntitiesInState(_ context.Context, kind generic.EntityKind, flow generic.FlowID, state generic.StateID) ([]generic.EntityRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entitiesInStateLocked(kind, flow, state), nil
}

func (m *Memory) entitiesInStateLocked(kind generic.EntityKind, flow generic.FlowID, state generic.StateID) []generic.EntityRef {
	var current []generic.StateLogEntry
	for k := range m.entries {
		if k.Entity.Kind != kind || k.Flow != flow {
			continue
		}
		latest := m.latestLocked(k.Entity, k.Flow)
		if latest != nil && latest.State == state {
			current = append(current, *latest)
		}
	}
	sortEntries(current)

	refs := make([]generic.EntityRef, len(current))
	for i, e := range current {
		refs[i] = e.Entity
	}
	return refs
}

func sortEntries(entries []generic.StateLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[j].Later(entries[i])
	})
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	entriesCopy := make(map[key][]generic.StateLogEntry, len(tm.entries))
	for k, v := range tm.entries {
		entriesCopy[k] = append([]generic.StateLogEntry{}, v...)
	}
	idsCopy := make(map[generic.EntryID]bool, len(tm.ids))
	for k, v := range tm.ids {
		idsCopy[k] = v
	}
	return memorySnapshot{entries: entriesCopy, ids: idsCopy, seq: tm.seq}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.entries = s.entries
	tm.ids = s.ids
	tm.seq = s.seq
}

type memorySnapshot struct {
	entries map[key][]generic.StateLogEntry
	ids     map[generic.EntryID]bool
	seq     int64
}

// txMemoryView operates on the parent without locking; WithTx holds the lock.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) AppendState(_ context.Context, entry generic.StateLogEntry) (generic.StateLogEntry, error) {
	return tv.parent.appendLocked(entry)
}

func (tv *txMemoryView) LatestState(_ context.Context, entity generic.EntityRef, flow generic.FlowID) (*generic.StateLogEntry, error) {
	return tv.parent.latestLocked(entity, flow), nil
}

func (tv *txMemoryView) StateHistory(_ context.Context, entity generic.EntityRef, flow generic.FlowID) ([]generic.StateLogEntry, error) {
	return tv.parent.historyLocked(entity, flow), nil
}

func (tv *txMemoryView) EntitiesInState(_ context.Context, kind generic.EntityKind, flow generic.FlowID, state generic.StateID) ([]generic.EntityRef, error) {
	return tv.parent.entitiesInStateLocked(kind, flow, state), nil
}
