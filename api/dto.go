/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO: Response types returned to clients

VALIDATION:
  Request types carry validator struct tags; handlers run them through a
  shared validator instance before touching domain logic. Money amounts
  travel as JSON strings to avoid float drift.

SEE ALSO:
  - handlers.go: Uses these types
  - service/payments.go: Result envelope the handlers wrap
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/godown/billing-engine/billing"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreatePaymentRequest records one payment against one record.
type CreatePaymentRequest struct {
	RecordID    string `json:"record_id" validate:"required"`
	Amount      string `json:"amount" validate:"required"`
	Date        string `json:"date" validate:"required"`
	Type        string `json:"type" validate:"required,oneof=rent hamali advance security_deposit other"`
	Method      string `json:"method,omitempty"`
	Notes       string `json:"notes,omitempty"`
	ExternalRef string `json:"external_ref,omitempty"`
}

// UpdatePaymentRequest replaces a payment's editable fields.
type UpdatePaymentRequest struct {
	Amount string `json:"amount" validate:"required"`
	Date   string `json:"date" validate:"required"`
	Type   string `json:"type" validate:"required,oneof=rent hamali advance security_deposit other"`
	Method string `json:"method,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// BulkPaymentRequest allocates one lump sum across a customer's open
// dues, FIFO by default or by explicit per-record amounts.
type BulkPaymentRequest struct {
	CustomerID  string                  `json:"customer_id" validate:"required"`
	Amount      string                  `json:"amount" validate:"required"`
	Date        string                  `json:"date" validate:"required"`
	Strategy    string                  `json:"strategy,omitempty" validate:"omitempty,oneof=fifo manual"`
	Allocations []ManualAllocationDTO   `json:"allocations,omitempty" validate:"dive"`
	Type        string                  `json:"type,omitempty" validate:"omitempty,oneof=rent hamali advance security_deposit other"`
	Method      string                  `json:"method,omitempty"`
	Notes       string                  `json:"notes,omitempty"`
}

// ManualAllocationDTO is one explicit slice of a bulk payment.
type ManualAllocationDTO struct {
	RecordID string `json:"record_id" validate:"required"`
	Amount   string `json:"amount" validate:"required"`
}

// BulkOutflowRequest withdraws bags across multiple records at once.
type BulkOutflowRequest struct {
	CustomerID string   `json:"customer_id" validate:"required"`
	Commodity  string   `json:"commodity" validate:"required"`
	TotalBags  int      `json:"total_bags" validate:"required,min=1"`
	Date       string   `json:"date" validate:"required"`
	FinalRent  string   `json:"final_rent,omitempty"`
	AmountPaid string   `json:"amount_paid,omitempty"`
	RecordIDs  []string `json:"record_ids,omitempty"`
}

// UpdateWithdrawalRequest carries the full corrected withdrawal entry.
type UpdateWithdrawalRequest struct {
	Bags          int    `json:"bags" validate:"required,min=1"`
	RentCollected string `json:"rent_collected" validate:"required"`
	HamaliCharged string `json:"hamali_charged,omitempty"`
	Date          string `json:"date" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// RecordDTO is a storage record in API responses.
type RecordDTO struct {
	ID              string  `json:"id"`
	CustomerID      string  `json:"customer_id"`
	Commodity       string  `json:"commodity"`
	LotID           string  `json:"lot_id,omitempty"`
	RecordNumber    string  `json:"record_number"`
	BagsIn          int     `json:"bags_in"`
	BagsStored      int     `json:"bags_stored"`
	BagsOut         int     `json:"bags_out"`
	TotalRentBilled string  `json:"total_rent_billed"`
	HamaliPayable   string  `json:"hamali_payable"`
	StorageStart    string  `json:"storage_start"`
	StorageEnd      *string `json:"storage_end,omitempty"`
	BillingCycle    string  `json:"billing_cycle,omitempty"`

	// Outstanding is rent billed + hamali - payments, filled on the
	// single-record read.
	Outstanding string `json:"outstanding,omitempty"`
}

// PaymentDTO is a payment in API responses.
type PaymentDTO struct {
	ID         string `json:"id"`
	RecordID   string `json:"record_id"`
	CustomerID string `json:"customer_id"`
	Amount     string `json:"amount"`
	Date       string `json:"date"`
	Type       string `json:"type"`
	Method     string `json:"method,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// EntryDTO is one withdrawal ledger row in API responses.
type EntryDTO struct {
	ID            string `json:"id"`
	RecordID      string `json:"record_id"`
	Kind          string `json:"kind"`
	Bags          int    `json:"bags"`
	RentCollected string `json:"rent_collected"`
	HamaliCharged string `json:"hamali_charged"`
	Date          string `json:"date"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	ReversesID    string `json:"reverses_id,omitempty"`
}

// DueDTO is one outstanding balance in API responses.
type DueDTO struct {
	RecordID     string `json:"record_id"`
	RecordNumber string `json:"record_number"`
	StorageStart string `json:"storage_start"`
	TotalDue     string `json:"total_due"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

const dateLayout = "2006-01-02"

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be YYYY-MM-DD", s)
	}
	return t, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q is not a valid number", s)
	}
	return d, nil
}

// parseOptionalAmount treats an empty string as zero.
func parseOptionalAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return parseAmount(s)
}

func toRecordDTO(r *billing.StorageRecord) RecordDTO {
	dto := RecordDTO{
		ID:              string(r.ID),
		CustomerID:      string(r.CustomerID),
		Commodity:       r.Commodity,
		LotID:           r.LotID,
		RecordNumber:    r.RecordNumber,
		BagsIn:          r.BagsIn,
		BagsStored:      r.BagsStored,
		BagsOut:         r.BagsOut,
		TotalRentBilled: r.TotalRentBilled.StringFixed(2),
		HamaliPayable:   r.HamaliPayable.StringFixed(2),
		StorageStart:    r.StorageStart.Format(dateLayout),
		BillingCycle:    r.BillingCycle,
	}
	if r.StorageEnd != nil {
		end := r.StorageEnd.Format(dateLayout)
		dto.StorageEnd = &end
	}
	return dto
}

func toPaymentDTO(p *billing.Payment) PaymentDTO {
	return PaymentDTO{
		ID:         string(p.ID),
		RecordID:   string(p.RecordID),
		CustomerID: string(p.CustomerID),
		Amount:     p.Amount.StringFixed(2),
		Date:       p.Date.Format(dateLayout),
		Type:       string(p.Type),
		Method:     p.Method,
		Notes:      p.Notes,
	}
}

func toPaymentDTOs(payments []billing.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, len(payments))
	for i := range payments {
		dtos[i] = toPaymentDTO(&payments[i])
	}
	return dtos
}

func toEntryDTOs(entries []billing.WithdrawalEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = EntryDTO{
			ID:            string(e.ID),
			RecordID:      string(e.RecordID),
			Kind:          string(e.Kind),
			Bags:          e.Bags,
			RentCollected: e.RentCollected.StringFixed(2),
			HamaliCharged: e.HamaliCharged.StringFixed(2),
			Date:          e.Date.Format(dateLayout),
			InvoiceNumber: e.InvoiceNumber,
			ReversesID:    string(e.ReversesID),
		}
	}
	return dtos
}

func toDueDTOs(dues []billing.RecordDue) []DueDTO {
	dtos := make([]DueDTO, len(dues))
	for i, d := range dues {
		dtos[i] = DueDTO{
			RecordID:     string(d.RecordID),
			RecordNumber: d.RecordNumber,
			StorageStart: d.StorageStart.Format(dateLayout),
			TotalDue:     d.TotalDue.StringFixed(2),
		}
	}
	return dtos
}
