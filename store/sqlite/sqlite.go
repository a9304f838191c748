/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements billing.TxStore and billing.BulkPaymentExecutor using
  SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The withdrawal ledger is append-only:
  - No UPDATE statements on withdrawal_entries
  - No DELETE statements on withdrawal_entries
  - Corrections via reversal entries only

KEY TABLES:
  customers:          Customer identity for notifications and dues
  storage_records:    Bag counters and billing state per deposit
  payments:           Money received, soft-deleted only
  withdrawal_entries: Immutable withdrawal ledger
  invoice_sequence:   Monotonic invoice number counter

MONEY:
  Amounts are stored as TEXT and parsed with shopspring/decimal. REAL
  columns would reintroduce the float drift the engine exists to avoid.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

TRANSACTIONS:
  All query methods hang off an internal conn type that wraps either the
  *sql.DB or a *sql.Tx, so WithTx and ProcessBulkPayment reuse the exact
  same statements inside a transaction.

USAGE:
  store, err := sqlite.New("./data/godown.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/godown/billing-engine/billing"
)

// dbtx is the subset of *sql.DB and *sql.Tx the queries need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn carries every query method; it wraps the root DB outside a
// transaction and the *sql.Tx inside one.
type conn struct {
	db dbtx
}

// Store implements billing.TxStore and billing.BulkPaymentExecutor.
type Store struct {
	conn
	sqldb *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer at a time, and a shared pool over
	// ":memory:" would hand each connection its own empty database.
	db.SetMaxOpenConns(1)

	store := &Store{conn: conn{db: db}, sqldb: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqldb.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		village TEXT
	);

	CREATE TABLE IF NOT EXISTS storage_records (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		commodity TEXT NOT NULL,
		lot_id TEXT,
		record_number TEXT NOT NULL,
		bags_in INTEGER NOT NULL,
		bags_stored INTEGER NOT NULL,
		bags_out INTEGER NOT NULL,
		total_rent_billed TEXT NOT NULL,
		hamali_payable TEXT NOT NULL,
		storage_start TEXT NOT NULL,
		storage_end TEXT,
		billing_cycle TEXT,
		deleted_at TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (customer_id) REFERENCES customers(id)
	);
	CREATE INDEX IF NOT EXISTS idx_records_customer_commodity
		ON storage_records(customer_id, commodity, storage_start);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		date TEXT NOT NULL,
		type TEXT NOT NULL,
		method TEXT,
		notes TEXT,
		external_ref TEXT,
		deleted_at TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (record_id) REFERENCES storage_records(id)
	);
	CREATE INDEX IF NOT EXISTS idx_payments_record ON payments(record_id);
	CREATE INDEX IF NOT EXISTS idx_payments_customer ON payments(customer_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_external_ref
		ON payments(external_ref) WHERE external_ref != '' AND external_ref IS NOT NULL;

	-- Append-only: rows are never updated or deleted.
	CREATE TABLE IF NOT EXISTS withdrawal_entries (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		bags INTEGER NOT NULL,
		rent_collected TEXT NOT NULL,
		hamali_charged TEXT NOT NULL,
		date TEXT NOT NULL,
		invoice_number TEXT,
		reverses_id TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (record_id) REFERENCES storage_records(id)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_record ON withdrawal_entries(record_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_entries_reverses ON withdrawal_entries(reverses_id);

	CREATE TABLE IF NOT EXISTS invoice_sequence (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		next_number INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO invoice_sequence (id, next_number) VALUES (1, 1);
	`
	_, err := s.sqldb.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a transactional view of the store. fn returning
// an error rolls the transaction back; nil commits.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	tx, err := s.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&txStore{conn: conn{db: tx}}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore is the billing.Store view handed to WithTx callbacks.
type txStore struct {
	conn
}

// =============================================================================
// TIME / MONEY HELPERS
// =============================================================================

const timeLayout = time.RFC3339Nano

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := decodeTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func decodeMoney(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// =============================================================================
// RECORDS
// =============================================================================

const recordColumns = `id, customer_id, commodity, lot_id, record_number,
	bags_in, bags_stored, bags_out, total_rent_billed, hamali_payable,
	storage_start, storage_end, billing_cycle, deleted_at, created_at`

func (c *conn) GetRecord(ctx context.Context, id billing.RecordID) (*billing.StorageRecord, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM storage_records WHERE id = ?`, string(id))
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, nil
}

func (c *conn) UpdateRecord(ctx context.Context, id billing.RecordID, u billing.RecordUpdates) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE storage_records
		SET bags_stored = ?, bags_out = ?, total_rent_billed = ?,
		    hamali_payable = ?, storage_end = ?, billing_cycle = ?
		WHERE id = ? AND deleted_at IS NULL`,
		u.BagsStored, u.BagsOut,
		u.TotalRentBilled.String(), u.HamaliPayable.String(),
		encodeTimePtr(u.StorageEnd), u.BillingCycle,
		string(id))
	if err != nil {
		return fmt.Errorf("update record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: record %s", billing.ErrNotFound, id)
	}
	return nil
}

func (c *conn) OpenRecords(ctx context.Context, customerID billing.CustomerID, commodity string) ([]billing.StorageRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM storage_records
		WHERE customer_id = ? AND commodity = ?
		  AND storage_end IS NULL AND deleted_at IS NULL
		ORDER BY storage_start ASC, created_at ASC`,
		string(customerID), commodity)
	if err != nil {
		return nil, fmt.Errorf("open records for %s/%s: %w", customerID, commodity, err)
	}
	defer rows.Close()

	var records []billing.StorageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*billing.StorageRecord, error) {
	var (
		rec                  billing.StorageRecord
		id, customerID       string
		lotID, billingCycle  sql.NullString
		rentStr, hamaliStr   string
		startStr, createdStr string
		endStr, deletedStr   sql.NullString
	)
	err := row.Scan(&id, &customerID, &rec.Commodity, &lotID, &rec.RecordNumber,
		&rec.BagsIn, &rec.BagsStored, &rec.BagsOut, &rentStr, &hamaliStr,
		&startStr, &endStr, &billingCycle, &deletedStr, &createdStr)
	if err != nil {
		return nil, err
	}

	rec.ID = billing.RecordID(id)
	rec.CustomerID = billing.CustomerID(customerID)
	rec.LotID = lotID.String
	rec.BillingCycle = billingCycle.String

	if rec.TotalRentBilled, err = decodeMoney(rentStr); err != nil {
		return nil, fmt.Errorf("record %s: bad rent: %w", id, err)
	}
	if rec.HamaliPayable, err = decodeMoney(hamaliStr); err != nil {
		return nil, fmt.Errorf("record %s: bad hamali: %w", id, err)
	}
	if rec.StorageStart, err = decodeTime(startStr); err != nil {
		return nil, fmt.Errorf("record %s: bad storage_start: %w", id, err)
	}
	if rec.StorageEnd, err = decodeTimePtr(endStr); err != nil {
		return nil, fmt.Errorf("record %s: bad storage_end: %w", id, err)
	}
	if rec.DeletedAt, err = decodeTimePtr(deletedStr); err != nil {
		return nil, fmt.Errorf("record %s: bad deleted_at: %w", id, err)
	}
	if rec.CreatedAt, err = decodeTime(createdStr); err != nil {
		return nil, fmt.Errorf("record %s: bad created_at: %w", id, err)
	}
	return &rec, nil
}

// InsertRecord is used by inflow tooling and tests; the billing engine
// itself never creates records.
func (c *conn) InsertRecord(ctx context.Context, rec billing.StorageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO storage_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.ID), string(rec.CustomerID), rec.Commodity, rec.LotID, rec.RecordNumber,
		rec.BagsIn, rec.BagsStored, rec.BagsOut,
		rec.TotalRentBilled.String(), rec.HamaliPayable.String(),
		encodeTime(rec.StorageStart), encodeTimePtr(rec.StorageEnd), rec.BillingCycle,
		encodeTimePtr(rec.DeletedAt), encodeTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.ID, err)
	}
	return nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (c *conn) GetCustomer(ctx context.Context, id billing.CustomerID) (*billing.Customer, error) {
	var cust billing.Customer
	var cid string
	var phone, village sql.NullString
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, phone, village FROM customers WHERE id = ?`, string(id)).
		Scan(&cid, &cust.Name, &phone, &village)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get customer %s: %w", id, err)
	}
	cust.ID = billing.CustomerID(cid)
	cust.Phone = phone.String
	cust.Village = village.String
	return &cust, nil
}

// InsertCustomer is used by onboarding tooling and tests.
func (c *conn) InsertCustomer(ctx context.Context, cust billing.Customer) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO customers (id, name, phone, village) VALUES (?, ?, ?, ?)`,
		string(cust.ID), cust.Name, cust.Phone, cust.Village)
	if err != nil {
		return fmt.Errorf("insert customer %s: %w", cust.ID, err)
	}
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, record_id, customer_id, amount, date, type,
	method, notes, external_ref, deleted_at, created_at`

func (c *conn) InsertPayment(ctx context.Context, p billing.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.ID), string(p.RecordID), string(p.CustomerID),
		p.Amount.String(), encodeTime(p.Date), string(p.Type),
		p.Method, p.Notes, p.ExternalRef,
		encodeTimePtr(p.DeletedAt), encodeTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert payment %s: %w", p.ID, err)
	}
	return nil
}

func (c *conn) UpdatePayment(ctx context.Context, id billing.PaymentID, f billing.PaymentFields) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE payments
		SET amount = ?, date = ?, type = ?, method = ?, notes = ?
		WHERE id = ? AND deleted_at IS NULL`,
		f.Amount.String(), encodeTime(f.Date), string(f.Type), f.Method, f.Notes,
		string(id))
	if err != nil {
		return fmt.Errorf("update payment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: payment %s", billing.ErrNotFound, id)
	}
	return nil
}

func (c *conn) SoftDeletePayment(ctx context.Context, id billing.PaymentID) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE payments SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		encodeTime(time.Now()), string(id))
	if err != nil {
		return fmt.Errorf("delete payment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: payment %s", billing.ErrNotFound, id)
	}
	return nil
}

func (c *conn) GetPayment(ctx context.Context, id billing.PaymentID) (*billing.Payment, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`, string(id))
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", id, err)
	}
	return p, nil
}

func (c *conn) PaymentsByRecord(ctx context.Context, recordID billing.RecordID) ([]billing.Payment, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE record_id = ? AND deleted_at IS NULL
		ORDER BY date ASC, created_at ASC`,
		string(recordID))
	if err != nil {
		return nil, fmt.Errorf("payments for record %s: %w", recordID, err)
	}
	return collectPayments(rows)
}

func (c *conn) PaymentsByCustomer(ctx context.Context, customerID billing.CustomerID) ([]billing.Payment, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE customer_id = ? AND deleted_at IS NULL
		ORDER BY date ASC, created_at ASC`,
		string(customerID))
	if err != nil {
		return nil, fmt.Errorf("payments for customer %s: %w", customerID, err)
	}
	return collectPayments(rows)
}

func collectPayments(rows *sql.Rows) ([]billing.Payment, error) {
	defer rows.Close()

	var payments []billing.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func scanPayment(row rowScanner) (*billing.Payment, error) {
	var (
		p                    billing.Payment
		id, recordID, custID string
		amountStr, dateStr   string
		ptype, createdStr    string
		method, notes, ref   sql.NullString
		deletedStr           sql.NullString
	)
	err := row.Scan(&id, &recordID, &custID, &amountStr, &dateStr, &ptype,
		&method, &notes, &ref, &deletedStr, &createdStr)
	if err != nil {
		return nil, err
	}

	p.ID = billing.PaymentID(id)
	p.RecordID = billing.RecordID(recordID)
	p.CustomerID = billing.CustomerID(custID)
	p.Type = billing.PaymentType(ptype)
	p.Method = method.String
	p.Notes = notes.String
	p.ExternalRef = ref.String

	if p.Amount, err = decodeMoney(amountStr); err != nil {
		return nil, fmt.Errorf("payment %s: bad amount: %w", id, err)
	}
	if p.Date, err = decodeTime(dateStr); err != nil {
		return nil, fmt.Errorf("payment %s: bad date: %w", id, err)
	}
	if p.DeletedAt, err = decodeTimePtr(deletedStr); err != nil {
		return nil, fmt.Errorf("payment %s: bad deleted_at: %w", id, err)
	}
	if p.CreatedAt, err = decodeTime(createdStr); err != nil {
		return nil, fmt.Errorf("payment %s: bad created_at: %w", id, err)
	}
	return &p, nil
}

// PendingDues computes per-record balances: rent billed plus hamali
// payable minus live payments, oldest record first. SQLite cannot sum
// decimal TEXT, so the arithmetic happens in Go per record.
func (c *conn) PendingDues(ctx context.Context, customerID billing.CustomerID) ([]billing.RecordDue, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT r.id, r.record_number, r.storage_start,
		       r.total_rent_billed, r.hamali_payable
		FROM storage_records r
		WHERE r.customer_id = ? AND r.deleted_at IS NULL
		ORDER BY r.storage_start ASC, r.created_at ASC`,
		string(customerID))
	if err != nil {
		return nil, fmt.Errorf("dues for customer %s: %w", customerID, err)
	}
	defer rows.Close()

	type head struct {
		id        string
		number    string
		startStr  string
		rentStr   string
		hamaliStr string
	}
	var heads []head
	for rows.Next() {
		var h head
		if err := rows.Scan(&h.id, &h.number, &h.startStr, &h.rentStr, &h.hamaliStr); err != nil {
			return nil, err
		}
		heads = append(heads, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var dues []billing.RecordDue
	for _, h := range heads {
		rent, err := decodeMoney(h.rentStr)
		if err != nil {
			return nil, fmt.Errorf("record %s: bad rent: %w", h.id, err)
		}
		hamali, err := decodeMoney(h.hamaliStr)
		if err != nil {
			return nil, fmt.Errorf("record %s: bad hamali: %w", h.id, err)
		}
		start, err := decodeTime(h.startStr)
		if err != nil {
			return nil, fmt.Errorf("record %s: bad storage_start: %w", h.id, err)
		}

		paid, err := c.sumPayments(ctx, billing.RecordID(h.id))
		if err != nil {
			return nil, err
		}

		due := rent.Add(hamali).Sub(paid)
		if !due.IsPositive() {
			continue
		}
		dues = append(dues, billing.RecordDue{
			RecordID:     billing.RecordID(h.id),
			RecordNumber: h.number,
			StorageStart: start,
			TotalDue:     billing.RoundMoney(due),
		})
	}
	return dues, nil
}

func (c *conn) sumPayments(ctx context.Context, recordID billing.RecordID) (decimal.Decimal, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT amount FROM payments WHERE record_id = ? AND deleted_at IS NULL`,
		string(recordID))
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum payments for %s: %w", recordID, err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, err
		}
		amt, err := decodeMoney(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("record %s: bad payment amount: %w", recordID, err)
		}
		total = total.Add(amt)
	}
	return total, rows.Err()
}

func (c *conn) ExternalRefExists(ctx context.Context, ref string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM payments WHERE external_ref = ? AND deleted_at IS NULL`,
		ref).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("external ref lookup: %w", err)
	}
	return n > 0, nil
}

// =============================================================================
// WITHDRAWAL LEDGER (append-only)
// =============================================================================

const entryColumns = `id, record_id, kind, bags, rent_collected,
	hamali_charged, date, invoice_number, reverses_id, created_at`

func (c *conn) AppendEntry(ctx context.Context, e billing.WithdrawalEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO withdrawal_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.RecordID), string(e.Kind), e.Bags,
		e.RentCollected.String(), e.HamaliCharged.String(),
		encodeTime(e.Date), e.InvoiceNumber, string(e.ReversesID),
		encodeTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("append entry %s: %w", e.ID, err)
	}
	return nil
}

func (c *conn) GetEntry(ctx context.Context, id billing.EntryID) (*billing.WithdrawalEntry, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM withdrawal_entries WHERE id = ?`, string(id))
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}
	return e, nil
}

func (c *conn) EntriesByRecord(ctx context.Context, recordID billing.RecordID) ([]billing.WithdrawalEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM withdrawal_entries
		WHERE record_id = ? ORDER BY created_at ASC, id ASC`,
		string(recordID))
	if err != nil {
		return nil, fmt.Errorf("entries for record %s: %w", recordID, err)
	}
	defer rows.Close()

	var entries []billing.WithdrawalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (c *conn) IsEntryReversed(ctx context.Context, id billing.EntryID) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM withdrawal_entries WHERE reverses_id = ?`,
		string(id)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("reversal lookup for %s: %w", id, err)
	}
	return n > 0, nil
}

func scanEntry(row rowScanner) (*billing.WithdrawalEntry, error) {
	var (
		e                     billing.WithdrawalEntry
		id, recordID, kind    string
		rentStr, hamaliStr    string
		dateStr, createdStr   string
		invoiceNo, reversesID sql.NullString
	)
	err := row.Scan(&id, &recordID, &kind, &e.Bags, &rentStr, &hamaliStr,
		&dateStr, &invoiceNo, &reversesID, &createdStr)
	if err != nil {
		return nil, err
	}

	e.ID = billing.EntryID(id)
	e.RecordID = billing.RecordID(recordID)
	e.Kind = billing.EntryKind(kind)
	e.InvoiceNumber = invoiceNo.String
	e.ReversesID = billing.EntryID(reversesID.String)

	if e.RentCollected, err = decodeMoney(rentStr); err != nil {
		return nil, fmt.Errorf("entry %s: bad rent: %w", id, err)
	}
	if e.HamaliCharged, err = decodeMoney(hamaliStr); err != nil {
		return nil, fmt.Errorf("entry %s: bad hamali: %w", id, err)
	}
	if e.Date, err = decodeTime(dateStr); err != nil {
		return nil, fmt.Errorf("entry %s: bad date: %w", id, err)
	}
	if e.CreatedAt, err = decodeTime(createdStr); err != nil {
		return nil, fmt.Errorf("entry %s: bad created_at: %w", id, err)
	}
	return &e, nil
}

// =============================================================================
// INVOICE SEQUENCE
// =============================================================================

func (c *conn) NextInvoiceNumber(ctx context.Context) (string, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `
		UPDATE invoice_sequence SET next_number = next_number + 1
		WHERE id = 1
		RETURNING next_number - 1`).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("next invoice number: %w", err)
	}
	return fmt.Sprintf("INV-%05d", n), nil
}

// =============================================================================
// ATOMIC BULK PAYMENT
// =============================================================================

// ProcessBulkPayment writes one payment row per allocation in a single
// transaction. Any failure rolls back the whole batch.
func (s *Store) ProcessBulkPayment(ctx context.Context, req billing.BulkPaymentRequest) (billing.BulkPaymentResult, error) {
	var ids []billing.PaymentID
	err := s.WithTx(ctx, func(store billing.Store) error {
		for _, alloc := range req.Allocations {
			if !alloc.Amount.IsPositive() {
				continue
			}
			rec, err := store.GetRecord(ctx, alloc.RecordID)
			if err != nil {
				return err
			}
			if rec == nil || rec.IsDeleted() {
				return fmt.Errorf("%w: record %s", billing.ErrNotFound, alloc.RecordID)
			}

			id := billing.PaymentID(uuid.NewString())
			if err := store.InsertPayment(ctx, billing.Payment{
				ID:         id,
				RecordID:   alloc.RecordID,
				CustomerID: req.CustomerID,
				Amount:     alloc.Amount,
				Date:       req.Date,
				Type:       req.Type,
				Method:     req.Method,
				Notes:      req.Notes,
			}); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return billing.BulkPaymentResult{Success: false, Message: err.Error()}, err
	}
	return billing.BulkPaymentResult{
		Success:    true,
		Message:    fmt.Sprintf("%d payment(s) recorded", len(ids)),
		PaymentIDs: ids,
	}, nil
}
