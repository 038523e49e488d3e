/*
handlers.go - HTTP API handlers for the payment pipeline

PURPOSE:
  Exposes operator actions on the payment pipeline via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the
  payments service and the batch runner.

ENDPOINTS:
  Health:
    GET    /api/health                              Liveness + database ping

  Runs:
    POST   /api/runs                                Run the pipeline now
    GET    /api/runs?limit=N                        Batch run history

  Payments:
    GET    /api/payments/{id}                       Payment + both flows
    POST   /api/payments/{id}/sent                  Staged -> sent to disbursement
    POST   /api/payments/{id}/complete              Sent -> complete

  Reference data:
    POST   /api/employees                           Register a claimant
    POST   /api/claims                              Register an absence case
    GET    /api/max-weekly-benefits                 Effective-dated caps
    GET    /api/lookups/{kind}                      Lookup table

  Bank accounts:
    POST   /api/bank-accounts/{id}/prenote-sent     Prenote went to the bank
    POST   /api/bank-accounts/{id}/prenote-rejected Bank rejected the account

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input
  - 404: Payment / bank account not found
  - 409: Invalid transition, duplicate, run already in progress
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Deploy behind the operator network.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/warp/payment-reconciler/generic"
	"github.com/warp/payment-reconciler/payments"
	"github.com/warp/payment-reconciler/pipeline"
	"go.uber.org/zap"
)

const defaultRunLimit = 50

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service   *payments.Service
	Runner    BatchRunner
	Runs      payments.RunLog
	MaxWeekly payments.MaxWeeklyBenefitStore
	Lookups   *payments.LookupRegistry
	DB        Pinger

	logger *zap.Logger
}

func NewHandler(service *payments.Service, runner BatchRunner, runs payments.RunLog, maxWeekly payments.MaxWeeklyBenefitStore, lookups *payments.LookupRegistry, db Pinger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service:   service,
		Runner:    runner,
		Runs:      runs,
		MaxWeekly: maxWeekly,
		Lookups:   lookups,
		DB:        db,
		logger:    logger,
	}
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports whether the database answers.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RUN ENDPOINTS
// =============================================================================

// TriggerRun runs the pipeline over the inbox now.
// POST /api/runs
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Runner.Run(r.Context())
	if err != nil {
		h.writeDomainError(w, "Run failed", err)
		return
	}

	resp := RunSummaryDTO{
		Runs:       make([]BatchRunDTO, 0, len(summary.Runs)),
		Incomplete: summary.Incomplete,
	}
	if resp.Incomplete == nil {
		resp.Incomplete = []string{}
	}
	for _, run := range summary.Runs {
		resp.Runs = append(resp.Runs, toBatchRunDTO(run))
	}
	if summary.Writeback != nil {
		resp.Delivered = summary.Writeback.Delivered
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRuns returns batch run history, newest first.
// GET /api/runs?limit=N
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit (use a positive integer)", err)
			return
		}
		limit = n
	}

	runs, err := h.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]BatchRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toBatchRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

// GetPayment returns a payment and its processing and writeback history.
// GET /api/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	history, err := h.Service.PaymentHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get payment", err)
		return
	}

	writeJSON(w, http.StatusOK, PaymentHistoryDTO{
		Payment:    toPaymentDTO(history.Payment),
		Processing: toStateLogEntryDTOs(history.Processing),
		Writeback:  toStateLogEntryDTOs(history.Writeback),
	})
}

// MarkPaymentSent moves a staged payment to disbursement.
// POST /api/payments/{id}/sent
func (h *Handler) MarkPaymentSent(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Service.MarkSentToDisbursement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to mark payment sent", err)
		return
	}
	writeJSON(w, http.StatusOK, toStateLogEntryDTOs([]generic.StateLogEntry{*entry})[0])
}

// MarkPaymentComplete records that the payee received the money.
// POST /api/payments/{id}/complete
func (h *Handler) MarkPaymentComplete(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Service.MarkComplete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to mark payment complete", err)
		return
	}
	writeJSON(w, http.StatusOK, toStateLogEntryDTOs([]generic.StateLogEntry{*entry})[0])
}

// =============================================================================
// REFERENCE DATA ENDPOINTS
// =============================================================================

// CreateEmployee registers a claimant.
// POST /api/employees
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tin := strings.ReplaceAll(strings.TrimSpace(req.TaxIdentifier), "-", "")
	if !payments.IsTaxIdentifier(tin) {
		writeError(w, http.StatusBadRequest, "Invalid tax_identifier (9 digits)", nil)
		return
	}

	emp := &payments.Employee{
		ID:            req.ID,
		TaxIdentifier: tin,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
	}
	if err := h.Service.RegisterEmployee(r.Context(), emp); err != nil {
		h.writeDomainError(w, "Failed to create employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// CreateClaim registers an absence case.
// POST /api/claims
func (h *Handler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	var req CreateClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.AbsenceCaseID) == "" || strings.TrimSpace(req.EmployeeID) == "" {
		writeError(w, http.StatusBadRequest, "absence_case_id and employee_id are required", nil)
		return
	}

	claim := &payments.Claim{
		ID:            req.ID,
		AbsenceCaseID: strings.TrimSpace(req.AbsenceCaseID),
		EmployeeID:    strings.TrimSpace(req.EmployeeID),
	}
	if err := h.Service.RegisterClaim(r.Context(), claim); err != nil {
		h.writeDomainError(w, "Failed to create claim", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClaimDTO(claim))
}

// ListMaxWeeklyBenefits returns the effective-dated cap table.
// GET /api/max-weekly-benefits
func (h *Handler) ListMaxWeeklyBenefits(w http.ResponseWriter, r *http.Request) {
	amounts, err := h.MaxWeekly.ListMaxWeeklyBenefitAmounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list maximum weekly benefits", err)
		return
	}

	dtos := make([]MaxWeeklyBenefitDTO, 0, len(amounts))
	for _, a := range amounts {
		dtos = append(dtos, MaxWeeklyBenefitDTO{
			EffectiveDate: a.EffectiveDate.String(),
			Amount:        a.Amount.StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLookup returns one lookup table.
// GET /api/lookups/{kind}
func (h *Handler) GetLookup(w http.ResponseWriter, r *http.Request) {
	kind := payments.LookupKind(chi.URLParam(r, "kind"))
	entries := h.Lookups.Entries(kind)
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "Unknown lookup", nil)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// =============================================================================
// BANK ACCOUNT ENDPOINTS
// =============================================================================

// MarkPrenoteSent records that the prenote went to the bank.
// POST /api/bank-accounts/{id}/prenote-sent
func (h *Handler) MarkPrenoteSent(w http.ResponseWriter, r *http.Request) {
	account, err := h.Service.MarkPrenoteSent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to mark prenote sent", err)
		return
	}
	writeJSON(w, http.StatusOK, toBankAccountDTO(account))
}

// MarkPrenoteRejected records the bank's rejection.
// POST /api/bank-accounts/{id}/prenote-rejected
func (h *Handler) MarkPrenoteRejected(w http.ResponseWriter, r *http.Request) {
	account, err := h.Service.MarkPrenoteRejected(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to mark prenote rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, toBankAccountDTO(account))
}

// =============================================================================
// HELPERS
// =============================================================================

// writeDomainError maps service errors to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, generic.ErrEntityNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, payments.ErrInvalidTransition),
		errors.Is(err, generic.ErrDuplicateEntry),
		errors.Is(err, pipeline.ErrRunInProgress):
		writeError(w, http.StatusConflict, message, err)
	default:
		h.logger.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
