/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the billing and allocation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the service
  layer.

ENDPOINTS:
  Payments:
    POST   /api/payments                 Record a payment
    PUT    /api/payments/{id}            Edit a payment
    DELETE /api/payments/{id}            Soft-delete a payment
    POST   /api/payments/bulk            Allocate a lump payment (FIFO/manual)

  Outflows:
    POST   /api/outflows/bulk            Multi-record bulk withdrawal

  Withdrawal ledger:
    POST   /api/withdrawals/{id}/reverse Reverse a withdrawal entry
    PUT    /api/withdrawals/{id}         Correct a withdrawal entry

  Reads:
    GET    /api/records/{id}             Record with counters and billing state
    GET    /api/records/{id}/ledger      Full withdrawal ledger for a record
    GET    /api/records/{id}/payments    Payments against a record
    GET    /api/customers/{id}/dues      Outstanding dues, oldest first
    GET    /api/customers/{id}/payments  Payments across a customer's records

REQUEST FLOW:
  1. Decode and validate the JSON body (go-playground/validator)
  2. Convert DTO strings to domain types (dates, decimals)
  3. Call the service layer
  4. Map the Result envelope / domain error to an HTTP status

ERROR HANDLING:
  - 400: Validation errors, overdrafts, allocation mismatches
  - 404: Unknown record/payment/entry
  - 409: Duplicate external payment reference
  - 429: Rate limit exceeded
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - service/: The orchestration this delegates to
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/godown/billing-engine/billing"
	"github.com/godown/billing-engine/service"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all API dependencies.
type Handler struct {
	Store       billing.TxStore
	Payments    *service.PaymentService
	Outflows    *service.BulkOutflowOrchestrator
	Withdrawals *service.WithdrawalService
	Logger      *zap.Logger

	validate *validator.Validate
}

func NewHandler(store billing.TxStore, payments *service.PaymentService, outflows *service.BulkOutflowOrchestrator, withdrawals *service.WithdrawalService, logger *zap.Logger) *Handler {
	return &Handler{
		Store:       store,
		Payments:    payments,
		Outflows:    outflows,
		Withdrawals: withdrawals,
		Logger:      logger,
		validate:    validator.New(),
	}
}

// decodeValid decodes the body into dst and runs struct validation.
func (h *Handler) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// CreatePayment handles POST /api/payments.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	res := h.Payments.CreatePayment(r.Context(), service.CreatePaymentInput{
		RecordID:    billing.RecordID(req.RecordID),
		Amount:      amount,
		Date:        date,
		Type:        billing.PaymentType(req.Type),
		Method:      req.Method,
		Notes:       req.Notes,
		ExternalRef: req.ExternalRef,
	})
	writeResult(w, res, http.StatusCreated)
}

// UpdatePayment handles PUT /api/payments/{id}.
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdatePaymentRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	res := h.Payments.UpdatePayment(r.Context(), billing.PaymentID(id), billing.PaymentFields{
		Amount: amount,
		Date:   date,
		Type:   billing.PaymentType(req.Type),
		Method: req.Method,
		Notes:  req.Notes,
	})
	writeResult(w, res, http.StatusOK)
}

// DeletePayment handles DELETE /api/payments/{id}.
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res := h.Payments.DeletePayment(r.Context(), billing.PaymentID(id))
	writeResult(w, res, http.StatusOK)
}

// BulkPayment handles POST /api/payments/bulk.
func (h *Handler) BulkPayment(w http.ResponseWriter, r *http.Request) {
	var req BulkPaymentRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	strategy := service.StrategyFIFO
	if req.Strategy == "manual" {
		strategy = service.StrategyManual
	}
	manual := make([]billing.ManualAllocation, 0, len(req.Allocations))
	for _, a := range req.Allocations {
		amt, err := parseAmount(a.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		manual = append(manual, billing.ManualAllocation{
			RecordID: billing.RecordID(a.RecordID),
			Amount:   amt,
		})
	}

	payType := billing.PaymentRent
	if req.Type != "" {
		payType = billing.PaymentType(req.Type)
	}

	res := h.Payments.ProcessBulk(r.Context(), service.BulkPaymentInput{
		CustomerID: billing.CustomerID(req.CustomerID),
		Total:      amount,
		Date:       date,
		Strategy:   strategy,
		Manual:     manual,
		Method:     req.Method,
		Type:       payType,
		Notes:      req.Notes,
	})
	writeResult(w, res, http.StatusOK)
}

// =============================================================================
// OUTFLOW HANDLERS
// =============================================================================

// BulkOutflow handles POST /api/outflows/bulk.
func (h *Handler) BulkOutflow(w http.ResponseWriter, r *http.Request) {
	var req BulkOutflowRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	finalRent, err := parseOptionalAmount(req.FinalRent)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	amountPaid, err := parseOptionalAmount(req.AmountPaid)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	recordIDs := make([]billing.RecordID, len(req.RecordIDs))
	for i, id := range req.RecordIDs {
		recordIDs[i] = billing.RecordID(id)
	}

	res := h.Outflows.ProcessBulkOutflow(r.Context(), service.BulkOutflowInput{
		CustomerID: billing.CustomerID(req.CustomerID),
		Commodity:  req.Commodity,
		TotalBags:  req.TotalBags,
		Date:       date,
		FinalRent:  finalRent,
		AmountPaid: amountPaid,
		RecordIDs:  recordIDs,
	})
	writeResult(w, res, http.StatusOK)
}

// =============================================================================
// WITHDRAWAL LEDGER HANDLERS
// =============================================================================

// ReverseWithdrawal handles POST /api/withdrawals/{id}/reverse.
func (h *Handler) ReverseWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res := h.Withdrawals.ReverseWithdrawal(r.Context(), billing.EntryID(id))
	writeResult(w, res, http.StatusOK)
}

// UpdateWithdrawal handles PUT /api/withdrawals/{id}.
func (h *Handler) UpdateWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateWithdrawalRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	rent, err := parseAmount(req.RentCollected)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	hamali, err := parseOptionalAmount(req.HamaliCharged)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	res := h.Withdrawals.UpdateWithdrawal(r.Context(), billing.EntryID(id), service.UpdateWithdrawalInput{
		Bags:          req.Bags,
		RentCollected: rent,
		HamaliCharged: hamali,
		Date:          date,
	})
	writeResult(w, res, http.StatusOK)
}

// =============================================================================
// READ HANDLERS
// =============================================================================

// GetRecord handles GET /api/records/{id}.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.Store.GetRecord(r.Context(), billing.RecordID(id))
	if err != nil {
		writeError(w, errorStatus(err), "failed to load record", err)
		return
	}
	if rec == nil || rec.IsDeleted() {
		writeError(w, http.StatusNotFound, "record not found", nil)
		return
	}

	payments, err := h.Store.PaymentsByRecord(r.Context(), rec.ID)
	if err != nil {
		writeError(w, errorStatus(err), "failed to load payments", err)
		return
	}
	paid := decimal.Zero
	for i := range payments {
		paid = paid.Add(payments[i].Amount)
	}
	outstanding := rec.TotalRentBilled.Add(rec.HamaliPayable).Sub(paid)

	dto := toRecordDTO(rec)
	dto.Outstanding = outstanding.StringFixed(2)
	writeJSON(w, http.StatusOK, dto)
}

// GetRecordLedger handles GET /api/records/{id}/ledger.
func (h *Handler) GetRecordLedger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.Store.GetRecord(r.Context(), billing.RecordID(id))
	if err != nil {
		writeError(w, errorStatus(err), "failed to load record", err)
		return
	}
	if rec == nil || rec.IsDeleted() {
		writeError(w, http.StatusNotFound, "record not found", nil)
		return
	}
	entries, err := h.Store.EntriesByRecord(r.Context(), rec.ID)
	if err != nil {
		writeError(w, errorStatus(err), "failed to load ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// GetRecordPayments handles GET /api/records/{id}/payments.
func (h *Handler) GetRecordPayments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.Store.GetRecord(r.Context(), billing.RecordID(id))
	if err != nil {
		writeError(w, errorStatus(err), "failed to load record", err)
		return
	}
	if rec == nil || rec.IsDeleted() {
		writeError(w, http.StatusNotFound, "record not found", nil)
		return
	}
	payments, err := h.Store.PaymentsByRecord(r.Context(), rec.ID)
	if err != nil {
		writeError(w, errorStatus(err), "failed to load payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// GetCustomerPayments handles GET /api/customers/{id}/payments.
func (h *Handler) GetCustomerPayments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	customer, err := h.Store.GetCustomer(r.Context(), billing.CustomerID(id))
	if err != nil {
		writeError(w, errorStatus(err), "failed to load customer", err)
		return
	}
	if customer == nil {
		writeError(w, http.StatusNotFound, "customer not found", nil)
		return
	}
	payments, err := h.Store.PaymentsByCustomer(r.Context(), customer.ID)
	if err != nil {
		writeError(w, errorStatus(err), "failed to load payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// GetCustomerDues handles GET /api/customers/{id}/dues.
func (h *Handler) GetCustomerDues(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	customer, err := h.Store.GetCustomer(r.Context(), billing.CustomerID(id))
	if err != nil {
		writeError(w, errorStatus(err), "failed to load customer", err)
		return
	}
	if customer == nil {
		writeError(w, http.StatusNotFound, "customer not found", nil)
		return
	}
	dues, err := h.Store.PendingDues(r.Context(), customer.ID)
	if err != nil {
		writeError(w, errorStatus(err), "failed to load dues", err)
		return
	}
	writeJSON(w, http.StatusOK, toDueDTOs(dues))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

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

// writeResult maps a service Result envelope onto HTTP. Service failures
// are client errors (the service layer already turned internal errors
// into generic messages), so they come back as 400.
func writeResult(w http.ResponseWriter, res service.Result, okStatus int) {
	if res.Success {
		writeJSON(w, okStatus, res)
		return
	}
	writeJSON(w, http.StatusBadRequest, res)
}

// errorStatus maps domain errors to HTTP status codes, for handlers that
// surface raw errors instead of Result envelopes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, billing.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrDuplicateExternalRef):
		return http.StatusConflict
	case errors.Is(err, billing.ErrRateLimited):
		return http.StatusTooManyRequests
	case billing.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
