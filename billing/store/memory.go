// Package store provides in-memory implementations of the billing
// persistence interfaces, used by tests and local development.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/godown/billing-engine/billing"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements billing.TxStore and billing.BulkPaymentExecutor in
// process. WithTx simulates transactions via snapshot + restore.
type Memory struct {
	mu        sync.RWMutex
	records   map[billing.RecordID]*billing.StorageRecord
	customers map[billing.CustomerID]*billing.Customer
	payments  map[billing.PaymentID]*billing.Payment
	entries   []billing.WithdrawalEntry
	invoiceNo int
}

func NewMemory() *Memory {
	return &Memory{
		records:   make(map[billing.RecordID]*billing.StorageRecord),
		customers: make(map[billing.CustomerID]*billing.Customer),
		payments:  make(map[billing.PaymentID]*billing.Payment),
	}
}

// SeedRecord inserts a record (test setup).
func (m *Memory) SeedRecord(rec billing.StorageRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := rec
	m.records[rec.ID] = &r
}

// SeedCustomer inserts a customer (test setup).
func (m *Memory) SeedCustomer(c billing.Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cc := c
	m.customers[c.ID] = &cc
}

// =============================================================================
// RECORD STORE
// =============================================================================

func (m *Memory) GetRecord(_ context.Context, id billing.RecordID) (*billing.StorageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *Memory) UpdateRecord(_ context.Context, id billing.RecordID, u billing.RecordUpdates) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateRecordLocked(id, u)
}

func (m *Memory) updateRecordLocked(id billing.RecordID, u billing.RecordUpdates) error {
	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("record %s: %w", id, billing.ErrNotFound)
	}
	rec.BagsStored = u.BagsStored
	rec.BagsOut = u.BagsOut
	rec.TotalRentBilled = u.TotalRentBilled
	rec.HamaliPayable = u.HamaliPayable
	rec.StorageEnd = u.StorageEnd
	rec.BillingCycle = u.BillingCycle
	return nil
}

func (m *Memory) OpenRecords(_ context.Context, customerID billing.CustomerID, commodity string) ([]billing.StorageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.StorageRecord
	for _, rec := range m.records {
		if rec.CustomerID == customerID && rec.Commodity == commodity &&
			rec.IsOpen() && !rec.IsDeleted() {
			result = append(result, *rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StorageStart.Before(result[j].StorageStart)
	})
	return result, nil
}

// =============================================================================
// CUSTOMER STORE
// =============================================================================

func (m *Memory) GetCustomer(_ context.Context, id billing.CustomerID) (*billing.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

func (m *Memory) InsertPayment(_ context.Context, p billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertPaymentLocked(p)
}

func (m *Memory) insertPaymentLocked(p billing.Payment) error {
	if _, exists := m.payments[p.ID]; exists {
		return fmt.Errorf("payment %s already exists: %w", p.ID, billing.ErrPersistence)
	}
	cp := p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.payments[p.ID] = &cp
	return nil
}

func (m *Memory) UpdatePayment(_ context.Context, id billing.PaymentID, f billing.PaymentFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok || p.IsDeleted() {
		return fmt.Errorf("payment %s: %w", id, billing.ErrNotFound)
	}
	p.Amount = f.Amount
	p.Date = f.Date
	p.Type = f.Type
	p.Method = f.Method
	p.Notes = f.Notes
	return nil
}

func (m *Memory) SoftDeletePayment(_ context.Context, id billing.PaymentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok || p.IsDeleted() {
		return fmt.Errorf("payment %s: %w", id, billing.ErrNotFound)
	}
	now := time.Now().UTC()
	p.DeletedAt = &now
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id billing.PaymentID) (*billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) PaymentsByRecord(_ context.Context, recordID billing.RecordID) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.Payment
	for _, p := range m.payments {
		if p.RecordID == recordID && !p.IsDeleted() {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

func (m *Memory) PaymentsByCustomer(_ context.Context, customerID billing.CustomerID) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.Payment
	for _, p := range m.payments {
		if p.CustomerID == customerID && !p.IsDeleted() {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

func (m *Memory) PendingDues(_ context.Context, customerID billing.CustomerID) ([]billing.RecordDue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var dues []billing.RecordDue
	for _, rec := range m.records {
		if rec.CustomerID != customerID || rec.IsDeleted() {
			continue
		}
		due := rec.TotalRentBilled.Add(rec.HamaliPayable)
		for _, p := range m.payments {
			if p.RecordID == rec.ID && !p.IsDeleted() {
				due = due.Sub(p.Amount)
			}
		}
		if due.IsPositive() {
			dues = append(dues, billing.RecordDue{
				RecordID:     rec.ID,
				RecordNumber: rec.RecordNumber,
				StorageStart: rec.StorageStart,
				TotalDue:     due,
			})
		}
	}
	sort.Slice(dues, func(i, j int) bool {
		return dues[i].StorageStart.Before(dues[j].StorageStart)
	})
	return dues, nil
}

func (m *Memory) ExternalRefExists(_ context.Context, ref string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.payments {
		if p.ExternalRef == ref && p.ExternalRef != "" {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) AppendEntry(_ context.Context, e billing.WithdrawalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(e)
}

func (m *Memory) appendEntryLocked(e billing.WithdrawalEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) GetEntry(_ context.Context, id billing.EntryID) (*billing.WithdrawalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.entries {
		if m.entries[i].ID == id {
			cp := m.entries[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) EntriesByRecord(_ context.Context, recordID billing.RecordID) ([]billing.WithdrawalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []billing.WithdrawalEntry
	for _, e := range m.entries {
		if e.RecordID == recordID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Memory) IsEntryReversed(_ context.Context, id billing.EntryID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.Kind == billing.EntryReversal && e.ReversesID == id {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// INVOICE SEQUENCE
// =============================================================================

func (m *Memory) NextInvoiceNumber(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoiceNo++
	return fmt.Sprintf("INV-%05d", m.invoiceNo), nil
}

// =============================================================================
// ATOMIC BULK PAYMENT
// =============================================================================

// ProcessBulkPayment inserts one payment per allocation, all-or-nothing.
func (m *Memory) ProcessBulkPayment(_ context.Context, req billing.BulkPaymentRequest) (billing.BulkPaymentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshotLocked()
	var ids []billing.PaymentID
	for _, a := range req.Allocations {
		if !a.Amount.IsPositive() {
			continue
		}
		rec, ok := m.records[a.RecordID]
		if !ok || rec.IsDeleted() {
			m.restoreLocked(snap)
			return billing.BulkPaymentResult{}, fmt.Errorf("record %s: %w", a.RecordID, billing.ErrNotFound)
		}
		id := billing.PaymentID(uuid.NewString())
		if err := m.insertPaymentLocked(billing.Payment{
			ID:         id,
			RecordID:   a.RecordID,
			CustomerID: req.CustomerID,
			Amount:     a.Amount,
			Date:       req.Date,
			Type:       req.Type,
			Method:     req.Method,
			Notes:      req.Notes,
		}); err != nil {
			m.restoreLocked(snap)
			return billing.BulkPaymentResult{}, err
		}
		ids = append(ids, id)
	}

	return billing.BulkPaymentResult{
		Success:    true,
		Message:    fmt.Sprintf("%d payments recorded", len(ids)),
		PaymentIDs: ids,
	}, nil
}

// =============================================================================
// TRANSACTIONS - snapshot + restore
// =============================================================================

type memorySnapshot struct {
	records   map[billing.RecordID]*billing.StorageRecord
	payments  map[billing.PaymentID]*billing.Payment
	entries   []billing.WithdrawalEntry
	invoiceNo int
}

func (m *Memory) snapshotLocked() memorySnapshot {
	recs := make(map[billing.RecordID]*billing.StorageRecord, len(m.records))
	for k, v := range m.records {
		cp := *v
		recs[k] = &cp
	}
	pays := make(map[billing.PaymentID]*billing.Payment, len(m.payments))
	for k, v := range m.payments {
		cp := *v
		pays[k] = &cp
	}
	ents := append([]billing.WithdrawalEntry{}, m.entries...)
	return memorySnapshot{records: recs, payments: pays, entries: ents, invoiceNo: m.invoiceNo}
}

func (m *Memory) restoreLocked(s memorySnapshot) {
	m.records = s.records
	m.payments = s.payments
	m.entries = s.entries
	m.invoiceNo = s.invoiceNo
}

// WithTx executes fn against a transactional view. On error the store is
// restored to its pre-transaction state.
func (m *Memory) WithTx(_ context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshotLocked()
	view := &txView{parent: m}
	if err := fn(view); err != nil {
		m.restoreLocked(snap)
		return err
	}
	return nil
}

// txView exposes the parent's state without re-locking; the parent mutex
// is held for the whole transaction.
type txView struct {
	parent *Memory
}

func (v *txView) GetRecord(_ context.Context, id billing.RecordID) (*billing.StorageRecord, error) {
	rec, ok := v.parent.records[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (v *txView) UpdateRecord(_ context.Context, id billing.RecordID, u billing.RecordUpdates) error {
	return v.parent.updateRecordLocked(id, u)
}

func (v *txView) OpenRecords(_ context.Context, customerID billing.CustomerID, commodity string) ([]billing.StorageRecord, error) {
	var result []billing.StorageRecord
	for _, rec := range v.parent.records {
		if rec.CustomerID == customerID && rec.Commodity == commodity &&
			rec.IsOpen() && !rec.IsDeleted() {
			result = append(result, *rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StorageStart.Before(result[j].StorageStart)
	})
	return result, nil
}

func (v *txView) GetCustomer(_ context.Context, id billing.CustomerID) (*billing.Customer, error) {
	c, ok := v.parent.customers[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (v *txView) InsertPayment(_ context.Context, p billing.Payment) error {
	return v.parent.insertPaymentLocked(p)
}

func (v *txView) UpdatePayment(_ context.Context, id billing.PaymentID, f billing.PaymentFields) error {
	p, ok := v.parent.payments[id]
	if !ok || p.IsDeleted() {
		return fmt.Errorf("payment %s: %w", id, billing.ErrNotFound)
	}
	p.Amount = f.Amount
	p.Date = f.Date
	p.Type = f.Type
	p.Method = f.Method
	p.Notes = f.Notes
	return nil
}

func (v *txView) SoftDeletePayment(_ context.Context, id billing.PaymentID) error {
	p, ok := v.parent.payments[id]
	if !ok || p.IsDeleted() {
		return fmt.Errorf("payment %s: %w", id, billing.ErrNotFound)
	}
	now := time.Now().UTC()
	p.DeletedAt = &now
	return nil
}

func (v *txView) GetPayment(_ context.Context, id billing.PaymentID) (*billing.Payment, error) {
	p, ok := v.parent.payments[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (v *txView) PaymentsByRecord(ctx context.Context, recordID billing.RecordID) ([]billing.Payment, error) {
	var result []billing.Payment
	for _, p := range v.parent.payments {
		if p.RecordID == recordID && !p.IsDeleted() {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

func (v *txView) PaymentsByCustomer(_ context.Context, customerID billing.CustomerID) ([]billing.Payment, error) {
	var result []billing.Payment
	for _, p := range v.parent.payments {
		if p.CustomerID == customerID && !p.IsDeleted() {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

func (v *txView) PendingDues(_ context.Context, customerID billing.CustomerID) ([]billing.RecordDue, error) {
	var dues []billing.RecordDue
	for _, rec := range v.parent.records {
		if rec.CustomerID != customerID || rec.IsDeleted() {
			continue
		}
		due := rec.TotalRentBilled.Add(rec.HamaliPayable)
		for _, p := range v.parent.payments {
			if p.RecordID == rec.ID && !p.IsDeleted() {
				due = due.Sub(p.Amount)
			}
		}
		if due.IsPositive() {
			dues = append(dues, billing.RecordDue{
				RecordID:     rec.ID,
				RecordNumber: rec.RecordNumber,
				StorageStart: rec.StorageStart,
				TotalDue:     due,
			})
		}
	}
	sort.Slice(dues, func(i, j int) bool {
		return dues[i].StorageStart.Before(dues[j].StorageStart)
	})
	return dues, nil
}

func (v *txView) ExternalRefExists(_ context.Context, ref string) (bool, error) {
	for _, p := range v.parent.payments {
		if p.ExternalRef == ref && p.ExternalRef != "" {
			return true, nil
		}
	}
	return false, nil
}

func (v *txView) AppendEntry(_ context.Context, e billing.WithdrawalEntry) error {
	return v.parent.appendEntryLocked(e)
}

func (v *txView) GetEntry(_ context.Context, id billing.EntryID) (*billing.WithdrawalEntry, error) {
	for i := range v.parent.entries {
		if v.parent.entries[i].ID == id {
			cp := v.parent.entries[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (v *txView) EntriesByRecord(_ context.Context, recordID billing.RecordID) ([]billing.WithdrawalEntry, error) {
	var result []billing.WithdrawalEntry
	for _, e := range v.parent.entries {
		if e.RecordID == recordID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (v *txView) IsEntryReversed(_ context.Context, id billing.EntryID) (bool, error) {
	for _, e := range v.parent.entries {
		if e.Kind == billing.EntryReversal && e.ReversesID == id {
			return true, nil
		}
	}
	return false, nil
}

func (v *txView) NextInvoiceNumber(_ context.Context) (string, error) {
	v.parent.invoiceNo++
	return fmt.Sprintf("INV-%05d", v.parent.invoiceNo), nil
}
