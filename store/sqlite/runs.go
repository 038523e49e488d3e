package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/warp/payment-reconciler/generic"
	"github.com/warp/payment-reconciler/payments"
)

// =============================================================================
// BATCH RUN LOG
// =============================================================================

// SaveRun inserts or updates a batch run.
func (s *Store) SaveRun(ctx context.Context, r *payments.BatchRun) error {
	query := `
		INSERT INTO batch_runs (id, batch_timestamp, fingerprint, status, report_json, error,
			started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			batch_timestamp = excluded.batch_timestamp,
			fingerprint = excluded.fingerprint,
			status = excluded.status,
			report_json = excluded.report_json,
			error = excluded.error,
			finished_at = excluded.finished_at
	`

	var report sql.NullString
	if len(r.Report) > 0 {
		report = sql.NullString{String: string(r.Report), Valid: true}
	}

	_, err := s.q.ExecContext(ctx, query,
		r.ID, nullString(r.BatchTimestamp), nullString(r.Fingerprint), string(r.Status),
		report, nullString(r.Error), formatTime(r.StartedAt), formatTimePtr(r.FinishedAt),
	)
	return err
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]payments.BatchRun, error) {
	query := `
		SELECT id, batch_timestamp, fingerprint, status, report_json, error, started_at, finished_at
		FROM batch_runs
		ORDER BY started_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []payments.BatchRun
	for rows.Next() {
		var r payments.BatchRun
		var batchTimestamp, fingerprint, report, runErr, finishedAt sql.NullString
		var status, startedAt string
		if err := rows.Scan(
			&r.ID, &batchTimestamp, &fingerprint, &status, &report, &runErr, &startedAt, &finishedAt,
		); err != nil {
			return nil, err
		}

		r.BatchTimestamp = batchTimestamp.String
		r.Fingerprint = fingerprint.String
		r.Status = payments.RunStatus(status)
		if report.Valid {
			r.Report = json.RawMessage(report.String)
		}
		r.Error = runErr.String
		r.StartedAt = parseTime(startedAt)
		r.FinishedAt = parseTimePtr(finishedAt)
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// =============================================================================
// MAXIMUM WEEKLY BENEFIT TABLE
// =============================================================================

// SaveMaxWeeklyBenefitAmounts upserts the effective-dated entries.
func (s *Store) SaveMaxWeeklyBenefitAmounts(ctx context.Context, amounts []payments.MaxWeeklyBenefitAmount) error {
	return s.withTx(ctx, func(tx *Store) error {
		for _, a := range amounts {
			_, err := tx.q.ExecContext(ctx, `
				INSERT INTO maximum_weekly_benefit_amounts (effective_date, amount)
				VALUES (?, ?)
				ON CONFLICT(effective_date) DO UPDATE SET amount = excluded.amount
			`, formatDate(a.EffectiveDate), a.Amount.String())
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ListMaxWeeklyBenefitAmounts returns the table ascending by effective date.
func (s *Store) ListMaxWeeklyBenefitAmounts(ctx context.Context) ([]payments.MaxWeeklyBenefitAmount, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT effective_date, amount
		FROM maximum_weekly_benefit_amounts
		ORDER BY effective_date ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var amounts []payments.MaxWeeklyBenefitAmount
	for rows.Next() {
		var date sql.NullString
		var amount string
		if err := rows.Scan(&date, &amount); err != nil {
			return nil, err
		}
		amounts = append(amounts, payments.MaxWeeklyBenefitAmount{
			EffectiveDate: parseDate(date),
			Amount:        generic.MustParseDecimal(amount),
		})
	}
	return amounts, rows.Err()
}
