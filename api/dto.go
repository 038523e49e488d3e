/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the payments domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Reference data:
    CreateEmployeeRequest, EmployeeDTO, CreateClaimRequest, ClaimDTO,
    MaxWeeklyBenefitDTO

  Payments:
    PaymentDTO, PaymentDetailDTO, StateLogEntryDTO, PaymentHistoryDTO

  Bank accounts:
    BankAccountDTO

  Runs:
    BatchRunDTO

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/warp/payment-reconciler/generic"
	"github.com/warp/payment-reconciler/payments"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// CreateEmployeeRequest registers a claimant.
type CreateEmployeeRequest struct {
	ID            string `json:"id,omitempty"`
	TaxIdentifier string `json:"tax_identifier"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
}

// EmployeeDTO represents an employee in API responses. The tax identifier
// is never echoed back.
type EmployeeDTO struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	CreatedAt string `json:"created_at"`
}

// CreateClaimRequest registers an absence case for an employee.
type CreateClaimRequest struct {
	ID            string `json:"id,omitempty"`
	AbsenceCaseID string `json:"absence_case_id"`
	EmployeeID    string `json:"employee_id"`
}

type ClaimDTO struct {
	ID            string `json:"id"`
	AbsenceCaseID string `json:"absence_case_id"`
	EmployeeID    string `json:"employee_id"`
	CreatedAt     string `json:"created_at"`
}

// PaymentDetailDTO is one pay period line.
type PaymentDetailDTO struct {
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	Amount      string `json:"amount"`
}

// PaymentDTO represents a payment in API responses.
type PaymentDTO struct {
	ID              string             `json:"id"`
	BatchID         string             `json:"batch_id"`
	C               string             `json:"c"`
	I               string             `json:"i"`
	EmployeeID      string             `json:"employee_id,omitempty"`
	ClaimID         string             `json:"claim_id,omitempty"`
	AbsenceCaseID   string             `json:"absence_case_id,omitempty"`
	Amount          string             `json:"amount"`
	PeriodStart     string             `json:"period_start,omitempty"`
	PeriodEnd       string             `json:"period_end,omitempty"`
	PaymentDate     string             `json:"payment_date,omitempty"`
	Method          string             `json:"method,omitempty"`
	BankAccountID   string             `json:"bank_account_id,omitempty"`
	TransactionType string             `json:"transaction_type"`
	IsAdhoc         bool               `json:"is_adhoc"`
	Details         []PaymentDetailDTO `json:"details"`
	CreatedAt       string             `json:"created_at"`
}

// StateLogEntryDTO is one ledger transition.
type StateLogEntryDTO struct {
	ID        string          `json:"id"`
	Flow      string          `json:"flow"`
	State     string          `json:"state"`
	Outcome   generic.Outcome `json:"outcome,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// PaymentHistoryDTO is a payment with both flows, oldest entry first.
type PaymentHistoryDTO struct {
	Payment    PaymentDTO         `json:"payment"`
	Processing []StateLogEntryDTO `json:"processing"`
	Writeback  []StateLogEntryDTO `json:"writeback"`
}

type BankAccountDTO struct {
	ID            string `json:"id"`
	EmployeeID    string `json:"employee_id"`
	RoutingNumber string `json:"routing_number"`
	AccountNumber string `json:"account_number"` // masked
	AccountType   string `json:"account_type"`
	PrenoteState  string `json:"prenote_state"`
	PrenoteSentAt string `json:"prenote_sent_at,omitempty"`
}

type BatchRunDTO struct {
	ID             string          `json:"id"`
	BatchTimestamp string          `json:"batch_timestamp"`
	Fingerprint    string          `json:"fingerprint,omitempty"`
	Status         string          `json:"status"`
	Report         json.RawMessage `json:"report,omitempty"`
	Error          string          `json:"error,omitempty"`
	StartedAt      string          `json:"started_at"`
	FinishedAt     string          `json:"finished_at,omitempty"`
}

// RunSummaryDTO is the response of POST /api/runs.
type RunSummaryDTO struct {
	Runs       []BatchRunDTO `json:"runs"`
	Incomplete []string      `json:"incomplete"`
	Delivered  int           `json:"writeback_delivered,omitempty"`
}

type MaxWeeklyBenefitDTO struct {
	EffectiveDate string `json:"effective_date"`
	Amount        string `json:"amount"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toEmployeeDTO(e *payments.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:        e.ID,
		FirstName: e.FirstName,
		LastName:  e.LastName,
		CreatedAt: formatTimestamp(e.CreatedAt),
	}
}

func toClaimDTO(c *payments.Claim) ClaimDTO {
	return ClaimDTO{
		ID:            c.ID,
		AbsenceCaseID: c.AbsenceCaseID,
		EmployeeID:    c.EmployeeID,
		CreatedAt:     formatTimestamp(c.CreatedAt),
	}
}

func toPaymentDTO(p *payments.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:              p.ID,
		BatchID:         p.BatchID,
		C:               p.Key.C,
		I:               p.Key.I,
		EmployeeID:      p.EmployeeID,
		ClaimID:         p.ClaimID,
		AbsenceCaseID:   p.AbsenceCaseID,
		Amount:          p.Amount.StringFixed(2),
		PeriodStart:     p.Period.Start.String(),
		PeriodEnd:       p.Period.End.String(),
		PaymentDate:     p.PaymentDate.String(),
		Method:          string(p.Method),
		BankAccountID:   p.BankAccountID,
		TransactionType: string(p.TransactionType),
		IsAdhoc:         p.IsAdhoc,
		Details:         make([]PaymentDetailDTO, 0, len(p.Details)),
		CreatedAt:       formatTimestamp(p.CreatedAt),
	}
	for _, d := range p.Details {
		dto.Details = append(dto.Details, PaymentDetailDTO{
			PeriodStart: d.Period.Start.String(),
			PeriodEnd:   d.Period.End.String(),
			Amount:      d.Amount.StringFixed(2),
		})
	}
	return dto
}

func toStateLogEntryDTOs(entries []generic.StateLogEntry) []StateLogEntryDTO {
	dtos := make([]StateLogEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, StateLogEntryDTO{
			ID:        string(e.ID),
			Flow:      string(e.Flow),
			State:     string(e.State),
			Outcome:   e.Outcome,
			CreatedAt: formatTimestamp(e.CreatedAt),
		})
	}
	return dtos
}

func toBankAccountDTO(a *payments.BankAccount) BankAccountDTO {
	dto := BankAccountDTO{
		ID:            a.ID,
		EmployeeID:    a.EmployeeID,
		RoutingNumber: a.RoutingNumber,
		AccountNumber: maskAccountNumber(a.AccountNumber),
		AccountType:   string(a.AccountType),
		PrenoteState:  string(a.PrenoteState),
	}
	if a.PrenoteSentAt != nil {
		dto.PrenoteSentAt = formatTimestamp(*a.PrenoteSentAt)
	}
	return dto
}

func maskAccountNumber(n string) string {
	if len(n) <= 4 {
		return n
	}
	masked := make([]byte, len(n))
	for i := range masked {
		masked[i] = '*'
	}
	copy(masked[len(n)-4:], n[len(n)-4:])
	return string(masked)
}

func toBatchRunDTO(r payments.BatchRun) BatchRunDTO {
	dto := BatchRunDTO{
		ID:             r.ID,
		BatchTimestamp: r.BatchTimestamp,
		Fingerprint:    r.Fingerprint,
		Status:         string(r.Status),
		Report:         r.Report,
		Error:          r.Error,
		StartedAt:      formatTimestamp(r.StartedAt),
	}
	if r.FinishedAt != nil {
		dto.FinishedAt = formatTimestamp(*r.FinishedAt)
	}
	return dto
}
