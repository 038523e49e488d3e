package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/payment-reconciler/generic"
	"github.com/warp/payment-reconciler/payments"
)

// =============================================================================
// BATCHES
// =============================================================================

// SaveBatch inserts a batch. A fingerprint can only be committed once.
func (s *Store) SaveBatch(ctx context.Context, batch *payments.Batch) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO batches (id, timestamp, fingerprint, created_at)
		VALUES (?, ?, ?, ?)
	`, batch.ID, batch.Timestamp, batch.Fingerprint, formatTime(batch.CreatedAt))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("batch %s: %w", batch.Fingerprint, generic.ErrDuplicateEntry)
	}
	return err
}

// FindBatchByFingerprint returns the committed batch with fingerprint, or nil.
func (s *Store) FindBatchByFingerprint(ctx context.Context, fingerprint string) (*payments.Batch, error) {
	var b payments.Batch
	var createdAt string
	err := s.q.QueryRowContext(ctx,
		"SELECT id, timestamp, fingerprint, created_at FROM batches WHERE fingerprint = ?",
		fingerprint,
	).Scan(&b.ID, &b.Timestamp, &b.Fingerprint, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.CreatedAt = parseTime(createdAt)
	return &b, nil
}

// =============================================================================
// EMPLOYEES & CLAIMS
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, emp *payments.Employee) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO employees (id, tax_identifier, first_name, last_name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tax_identifier = excluded.tax_identifier,
			first_name = excluded.first_name,
			last_name = excluded.last_name
	`, emp.ID, emp.TaxIdentifier, emp.FirstName, emp.LastName, formatTime(emp.CreatedAt))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("employee tax identifier: %w", generic.ErrDuplicateEntry)
	}
	return err
}

func (s *Store) FindEmployeeByTaxIdentifier(ctx context.Context, taxIdentifier string) (*payments.Employee, error) {
	var emp payments.Employee
	var firstName, lastName sql.NullString
	var createdAt string
	err := s.q.QueryRowContext(ctx,
		"SELECT id, tax_identifier, first_name, last_name, created_at FROM employees WHERE tax_identifier = ?",
		taxIdentifier,
	).Scan(&emp.ID, &emp.TaxIdentifier, &firstName, &lastName, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	emp.FirstName = firstName.String
	emp.LastName = lastName.String
	emp.CreatedAt = parseTime(createdAt)
	return &emp, nil
}

func (s *Store) SaveClaim(ctx context.Context, claim *payments.Claim) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO claims (id, absence_case_id, employee_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			absence_case_id = excluded.absence_case_id,
			employee_id = excluded.employee_id
	`, claim.ID, claim.AbsenceCaseID, nullString(claim.EmployeeID), formatTime(claim.CreatedAt))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("claim absence case id: %w", generic.ErrDuplicateEntry)
	}
	return err
}

func (s *Store) FindClaimByAbsenceCaseID(ctx context.Context, absenceCaseID string) (*payments.Claim, error) {
	var claim payments.Claim
	var employeeID sql.NullString
	var createdAt string
	err := s.q.QueryRowContext(ctx,
		"SELECT id, absence_case_id, employee_id, created_at FROM claims WHERE absence_case_id = ?",
		absenceCaseID,
	).Scan(&claim.ID, &claim.AbsenceCaseID, &employeeID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	claim.EmployeeID = employeeID.String
	claim.CreatedAt = parseTime(createdAt)
	return &claim, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// SavePayment inserts a payment and its detail rows. Payments are written
// once; their progress lives in the state log.
func (s *Store) SavePayment(ctx context.Context, p *payments.Payment) error {
	return s.withTx(ctx, func(tx *Store) error {
		_, err := tx.q.ExecContext(ctx, `
			INSERT INTO payments (id, batch_id, c, i, employee_id, claim_id, absence_case_id,
				leave_request_id, absence_reason, amount, period_start, period_end, payment_date,
				payment_method, bank_account_id, transaction_type, is_adhoc, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			p.ID, p.BatchID, p.Key.C, p.Key.I,
			nullString(p.EmployeeID), nullString(p.ClaimID), nullString(p.AbsenceCaseID),
			nullString(p.LeaveRequestID), nullString(p.AbsenceReason),
			p.Amount.String(),
			formatDate(p.Period.Start), formatDate(p.Period.End), formatDate(p.PaymentDate),
			nullString(string(p.Method)), nullString(p.BankAccountID),
			string(p.TransactionType), p.IsAdhoc, formatTime(p.CreatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("payment %s: %w", p.ID, generic.ErrDuplicateEntry)
			}
			return fmt.Errorf("failed to insert payment: %w", err)
		}

		for _, d := range p.Details {
			_, err := tx.q.ExecContext(ctx, `
				INSERT INTO payment_details (id, payment_id, period_start, period_end, amount)
				VALUES (?, ?, ?, ?, ?)
			`, d.ID, p.ID, formatDate(d.Period.Start), formatDate(d.Period.End), d.Amount.String())
			if err != nil {
				return fmt.Errorf("failed to insert payment detail: %w", err)
			}
		}
		return nil
	})
}

const paymentColumns = `
	id, batch_id, c, i, employee_id, claim_id, absence_case_id, leave_request_id,
	absence_reason, amount, period_start, period_end, payment_date, payment_method,
	bank_account_id, transaction_type, is_adhoc, created_at`

// GetPayment retrieves a payment with its details.
func (s *Store) GetPayment(ctx context.Context, id string) (*payments.Payment, error) {
	list, err := s.queryPayments(ctx, "SELECT"+paymentColumns+" FROM payments WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: %s", payments.ErrPaymentNotFound, id)
	}
	return &list[0], nil
}

// FindPaymentsByCompositeKey returns every payment ever created for key,
// oldest first.
func (s *Store) FindPaymentsByCompositeKey(ctx context.Context, key payments.CompositeKey) ([]payments.Payment, error) {
	return s.queryPayments(ctx,
		"SELECT"+paymentColumns+" FROM payments WHERE c = ? AND i = ? ORDER BY created_at, id",
		key.C, key.I)
}

// ListPaymentsByEmployee returns the employee's payments, oldest first.
func (s *Store) ListPaymentsByEmployee(ctx context.Context, employeeID string) ([]payments.Payment, error) {
	return s.queryPayments(ctx,
		"SELECT"+paymentColumns+" FROM payments WHERE employee_id = ? ORDER BY created_at, id",
		employeeID)
}

// queryPayments reads all rows before loading details: the pool has a
// single connection, and an open result set holds it.
func (s *Store) queryPayments(ctx context.Context, query string, args ...any) ([]payments.Payment, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var list []payments.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range list {
		details, err := s.paymentDetails(ctx, list[i].ID)
		if err != nil {
			return nil, err
		}
		list[i].Details = details
	}
	return list, nil
}

func scanPayment(rows *sql.Rows) (payments.Payment, error) {
	var p payments.Payment
	var employeeID, claimID, absenceCaseID, leaveRequestID, absenceReason sql.NullString
	var periodStart, periodEnd, paymentDate, method, bankAccountID sql.NullString
	var amount, transactionType, createdAt string

	if err := rows.Scan(
		&p.ID, &p.BatchID, &p.Key.C, &p.Key.I, &employeeID, &claimID, &absenceCaseID,
		&leaveRequestID, &absenceReason, &amount, &periodStart, &periodEnd, &paymentDate,
		&method, &bankAccountID, &transactionType, &p.IsAdhoc, &createdAt,
	); err != nil {
		return p, err
	}

	p.EmployeeID = employeeID.String
	p.ClaimID = claimID.String
	p.AbsenceCaseID = absenceCaseID.String
	p.LeaveRequestID = leaveRequestID.String
	p.AbsenceReason = absenceReason.String
	p.Amount = generic.MustParseDecimal(amount)
	p.Period = generic.Period{Start: parseDate(periodStart), End: parseDate(periodEnd)}
	p.PaymentDate = parseDate(paymentDate)
	p.Method = payments.PaymentMethod(method.String)
	p.BankAccountID = bankAccountID.String
	p.TransactionType = payments.TransactionType(transactionType)
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

func (s *Store) paymentDetails(ctx context.Context, paymentID string) ([]payments.PaymentDetail, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, payment_id, period_start, period_end, amount
		FROM payment_details
		WHERE payment_id = ?
		ORDER BY period_start, id
	`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []payments.PaymentDetail
	for rows.Next() {
		var d payments.PaymentDetail
		var start, end sql.NullString
		var amount string
		if err := rows.Scan(&d.ID, &d.PaymentID, &start, &end, &amount); err != nil {
			return nil, err
		}
		d.Period = generic.Period{Start: parseDate(start), End: parseDate(end)}
		d.Amount = generic.MustParseDecimal(amount)
		details = append(details, d)
	}
	return details, rows.Err()
}

// =============================================================================
// BANK ACCOUNTS
// =============================================================================

// SaveBankAccount inserts the account or updates its prenote fields.
func (s *Store) SaveBankAccount(ctx context.Context, a *payments.BankAccount) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO bank_accounts (id, employee_id, routing_number, account_number, account_type,
			prenote_state, prenote_sent_at, prenote_approved_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			prenote_state = excluded.prenote_state,
			prenote_sent_at = excluded.prenote_sent_at,
			prenote_approved_at = excluded.prenote_approved_at
	`,
		a.ID, a.EmployeeID, a.RoutingNumber, a.AccountNumber, string(a.AccountType),
		string(a.PrenoteState), formatTimePtr(a.PrenoteSentAt), formatTimePtr(a.PrenoteApprovedAt),
		formatTime(a.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("bank account: %w", generic.ErrDuplicateEntry)
	}
	return err
}

const bankAccountColumns = `
	id, employee_id, routing_number, account_number, account_type,
	prenote_state, prenote_sent_at, prenote_approved_at, created_at`

func (s *Store) GetBankAccount(ctx context.Context, id string) (*payments.BankAccount, error) {
	account, err := s.scanBankAccount(s.q.QueryRowContext(ctx,
		"SELECT"+bankAccountColumns+" FROM bank_accounts WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", payments.ErrBankAccountNotFound, id)
	}
	return account, err
}

func (s *Store) FindBankAccount(ctx context.Context, employeeID, routingNumber, accountNumber string, accountType payments.AccountType) (*payments.BankAccount, error) {
	account, err := s.scanBankAccount(s.q.QueryRowContext(ctx, `
		SELECT`+bankAccountColumns+`
		FROM bank_accounts
		WHERE employee_id = ? AND routing_number = ? AND account_number = ? AND account_type = ?
	`, employeeID, routingNumber, accountNumber, string(accountType)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return account, err
}

func (s *Store) scanBankAccount(row *sql.Row) (*payments.BankAccount, error) {
	var a payments.BankAccount
	var accountType, prenoteState, createdAt string
	var sentAt, approvedAt sql.NullString
	if err := row.Scan(
		&a.ID, &a.EmployeeID, &a.RoutingNumber, &a.AccountNumber, &accountType,
		&prenoteState, &sentAt, &approvedAt, &createdAt,
	); err != nil {
		return nil, err
	}
	a.AccountType = payments.AccountType(accountType)
	a.PrenoteState = payments.PrenoteState(prenoteState)
	a.PrenoteSentAt = parseTimePtr(sentAt)
	a.PrenoteApprovedAt = parseTimePtr(approvedAt)
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}
