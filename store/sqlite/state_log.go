package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/warp/payment-reconciler/generic"
	"github.com/warp/payment-reconciler/payments"
)

// =============================================================================
// STATE LOG (generic.Store interface)
// =============================================================================

// stateLogTables maps each entity kind to its append-only table.
var stateLogTables = map[generic.EntityKind]string{
	payments.EntityPayment:     "payment_state_log",
	payments.EntityBankAccount: "bank_account_state_log",
}

func stateLogTable(kind generic.EntityKind) (string, error) {
	table, ok := stateLogTables[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", generic.ErrUnknownEntityKind, kind)
	}
	return table, nil
}

// AppendState adds an entry to the entity kind's state log.
func (s *Store) AppendState(ctx context.Context, entry generic.StateLogEntry) (generic.StateLogEntry, error) {
	table, err := stateLogTable(entry.Entity.Kind)
	if err != nil {
		return generic.StateLogEntry{}, err
	}

	outcomeJSON, err := json.Marshal(entry.Outcome)
	if err != nil {
		return generic.StateLogEntry{}, fmt.Errorf("failed to encode outcome: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, entity_id, flow_id, state_id, outcome_json, previous_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, table)

	result, err := s.q.ExecContext(ctx, query,
		entry.ID,
		entry.Entity.ID,
		entry.Flow,
		entry.State,
		string(outcomeJSON),
		nullString(string(entry.PreviousID)),
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.StateLogEntry{}, generic.ErrDuplicateEntry
		}
		return generic.StateLogEntry{}, fmt.Errorf("failed to append state: %w", err)
	}

	entry.Seq, err = result.LastInsertId()
	if err != nil {
		return generic.StateLogEntry{}, err
	}
	return entry, nil
}

// LatestState returns the current entry for (entity, flow), or nil.
func (s *Store) LatestState(ctx context.Context, entity generic.EntityRef, flow generic.FlowID) (*generic.StateLogEntry, error) {
	table, err := stateLogTable(entity.Kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT seq, id, entity_id, flow_id, state_id, outcome_json, previous_id, created_at
		FROM %s
		WHERE entity_id = ? AND flow_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, table)

	entries, err := s.queryStateLog(ctx, entity.Kind, query, entity.ID, flow)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// StateHistory returns every entry for (entity, flow), oldest first.
func (s *Store) StateHistory(ctx context.Context, entity generic.EntityRef, flow generic.FlowID) ([]generic.StateLogEntry, error) {
	table, err := stateLogTable(entity.Kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT seq, id, entity_id, flow_id, state_id, outcome_json, previous_id, created_at
		FROM %s
		WHERE entity_id = ? AND flow_id = ?
		ORDER BY created_at ASC, seq ASC
	`, table)

	return s.queryStateLog(ctx, entity.Kind, query, entity.ID, flow)
}

// EntitiesInState returns entities whose latest entry in flow is state,
// ordered by when they entered it.
func (s *Store) EntitiesInState(ctx context.Context, kind generic.EntityKind, flow generic.FlowID, state generic.StateID) ([]generic.EntityRef, error) {
	table, err := stateLogTable(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT l.seq, l.id, l.entity_id, l.flow_id, l.state_id, l.outcome_json, l.previous_id, l.created_at
		FROM %[1]s l
		WHERE l.flow_id = ? AND l.state_id = ?
		AND NOT EXISTS (
			SELECT 1 FROM %[1]s n
			WHERE n.entity_id = l.entity_id AND n.flow_id = l.flow_id
			AND (n.created_at > l.created_at OR (n.created_at = l.created_at AND n.seq > l.seq))
		)
		ORDER BY l.created_at ASC, l.seq ASC
	`, table)

	entries, err := s.queryStateLog(ctx, kind, query, flow, state)
	if err != nil {
		return nil, err
	}

	refs := make([]generic.EntityRef, len(entries))
	for i, e := range entries {
		refs[i] = e.Entity
	}
	return refs, nil
}

func (s *Store) queryStateLog(ctx context.Context, kind generic.EntityKind, query string, args ...any) ([]generic.StateLogEntry, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []generic.StateLogEntry
	for rows.Next() {
		var e generic.StateLogEntry
		var outcomeJSON, previousID sql.NullString
		var createdAt string
		if err := rows.Scan(
			&e.Seq, &e.ID, &e.Entity.ID, &e.Flow, &e.State,
			&outcomeJSON, &previousID, &createdAt,
		); err != nil {
			return nil, err
		}

		e.Entity.Kind = kind
		e.PreviousID = generic.EntryID(previousID.String)
		e.CreatedAt = parseTime(createdAt)
		if outcomeJSON.Valid && outcomeJSON.String != "null" {
			if err := json.Unmarshal([]byte(outcomeJSON.String), &e.Outcome); err != nil {
				return nil, fmt.Errorf("failed to decode outcome of %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
