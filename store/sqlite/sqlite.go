/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements accounting.TxStore using SQLite. The same schema works on
  PostgreSQL with minor dialect changes.

KEY TABLES:
  contacts:  Agents and named insureds, unique by (name, role)
  policies:  Policy terms, status and cancellation details
  invoices:  Installments; regenerated sets are soft-deleted (deleted = 1)
  payments:  Money received; removed only by a schedule change

STORAGE FORMATS:
  Money is stored as TEXT (decimal string) so no precision is lost.
  Dates are stored as TEXT in YYYY-MM-DD form, which sorts and compares
  correctly as strings.

INDEXES:
  - idx_invoices_policy_bill: active invoice lookups by bill date (hot path)
  - idx_payments_policy_date: balance calculation

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection so that
  ":memory:" databases survive across queries.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

USAGE:
  store, err := sqlite.New("./data/accounting.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := accounting.NewEngine(store)

SEE ALSO:
  - accounting/store.go: Interface definitions
  - accounting/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/policy-accounting/accounting"
)

// createdAtLayout is fixed width so string order matches time order.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements accounting.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(name, role)
	);

	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		policy_number TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		annual_premium TEXT NOT NULL,
		billing_schedule TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'Active',
		cancellation_date TEXT,
		cancellation_description TEXT,
		named_insured TEXT REFERENCES contacts(id),
		agent TEXT REFERENCES contacts(id),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_policies_status
		ON policies(status);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		policy_id TEXT NOT NULL REFERENCES policies(id),
		bill_date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		cancel_date TEXT NOT NULL,
		amount_due TEXT NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_policy_bill
		ON invoices(policy_id, deleted, bill_date);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		policy_id TEXT NOT NULL REFERENCES policies(id),
		contact_id TEXT REFERENCES contacts(id),
		amount_paid TEXT NOT NULL,
		transaction_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_policy_date
		ON payments(policy_id, transaction_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// STORE (accounting.Store interface)
// =============================================================================

func (s *Store) GetPolicy(ctx context.Context, id accounting.PolicyID) (*accounting.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPolicy(ctx, s.db, id)
}

func (s *Store) SavePolicy(ctx context.Context, p accounting.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePolicy(ctx, s.db, p)
}

func (s *Store) ListPolicies(ctx context.Context, filter accounting.PolicyFilter) ([]accounting.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPolicies(ctx, s.db, filter)
}

func (s *Store) GetContact(ctx context.Context, id accounting.ContactID) (*accounting.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getContact(ctx, s.db, id)
}

func (s *Store) FindContact(ctx context.Context, name string, role accounting.ContactRole) (*accounting.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findContact(ctx, s.db, name, role)
}

func (s *Store) SaveContact(ctx context.Context, c accounting.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveContact(ctx, s.db, c)
}

func (s *Store) ListInvoices(ctx context.Context, q accounting.InvoiceQuery) ([]accounting.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listInvoices(ctx, s.db, q)
}

// AddInvoices inserts a batch of invoices atomically.
func (s *Store) AddInvoices(ctx context.Context, invoices []accounting.Invoice) error {
	return s.WithTx(ctx, func(tx accounting.Store) error {
		return tx.AddInvoices(ctx, invoices)
	})
}

func (s *Store) SoftDeleteInvoices(ctx context.Context, policyID accounting.PolicyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return softDeleteInvoices(ctx, s.db, policyID)
}

func (s *Store) ListPayments(ctx context.Context, q accounting.PaymentQuery) ([]accounting.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPayments(ctx, s.db, q)
}

func (s *Store) AddPayment(ctx context.Context, p accounting.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addPayment(ctx, s.db, p)
}

func (s *Store) DeletePayments(ctx context.Context, policyID accounting.PolicyID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deletePayments(ctx, s.db, policyID)
}

// =============================================================================
// TRANSACTIONAL STORE (accounting.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store accounting.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetPolicy(ctx context.Context, id accounting.PolicyID) (*accounting.Policy, error) {
	return getPolicy(ctx, ts.tx, id)
}

func (ts *txStore) SavePolicy(ctx context.Context, p accounting.Policy) error {
	return savePolicy(ctx, ts.tx, p)
}

func (ts *txStore) ListPolicies(ctx context.Context, filter accounting.PolicyFilter) ([]accounting.Policy, error) {
	return listPolicies(ctx, ts.tx, filter)
}

func (ts *txStore) GetContact(ctx context.Context, id accounting.ContactID) (*accounting.Contact, error) {
	return getContact(ctx, ts.tx, id)
}

func (ts *txStore) FindContact(ctx context.Context, name string, role accounting.ContactRole) (*accounting.Contact, error) {
	return findContact(ctx, ts.tx, name, role)
}

func (ts *txStore) SaveContact(ctx context.Context, c accounting.Contact) error {
	return saveContact(ctx, ts.tx, c)
}

func (ts *txStore) ListInvoices(ctx context.Context, q accounting.InvoiceQuery) ([]accounting.Invoice, error) {
	return listInvoices(ctx, ts.tx, q)
}

func (ts *txStore) AddInvoices(ctx context.Context, invoices []accounting.Invoice) error {
	for _, inv := range invoices {
		if err := addInvoice(ctx, ts.tx, inv); err != nil {
			return err
		}
	}
	return nil
}

func (ts *txStore) SoftDeleteInvoices(ctx context.Context, policyID accounting.PolicyID) error {
	return softDeleteInvoices(ctx, ts.tx, policyID)
}

func (ts *txStore) ListPayments(ctx context.Context, q accounting.PaymentQuery) ([]accounting.Payment, error) {
	return listPayments(ctx, ts.tx, q)
}

func (ts *txStore) AddPayment(ctx context.Context, p accounting.Payment) error {
	return addPayment(ctx, ts.tx, p)
}

func (ts *txStore) DeletePayments(ctx context.Context, policyID accounting.PolicyID) (int, error) {
	return deletePayments(ctx, ts.tx, policyID)
}

// =============================================================================
// POLICIES
// =============================================================================

const policyColumns = `id, policy_number, effective_date, annual_premium, billing_schedule, status,
	cancellation_date, cancellation_description, named_insured, agent`

func getPolicy(ctx context.Context, q querier, id accounting.PolicyID) (*accounting.Policy, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+policyColumns+" FROM policies WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, accounting.PolicyNotFound(id)
	}
	p, err := scanPolicy(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func savePolicy(ctx context.Context, q querier, p accounting.Policy) error {
	query := `
		INSERT INTO policies (id, policy_number, effective_date, annual_premium, billing_schedule, status,
			cancellation_date, cancellation_description, named_insured, agent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			policy_number = excluded.policy_number,
			effective_date = excluded.effective_date,
			annual_premium = excluded.annual_premium,
			billing_schedule = excluded.billing_schedule,
			status = excluded.status,
			cancellation_date = excluded.cancellation_date,
			cancellation_description = excluded.cancellation_description,
			named_insured = excluded.named_insured,
			agent = excluded.agent,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(createdAtLayout)
	_, err := q.ExecContext(ctx, query,
		p.ID, p.Number, p.EffectiveDate.String(), p.AnnualPremium.String(),
		string(p.BillingSchedule), string(p.Status),
		nullDate(p.CancellationDate), nullString(p.CancellationDescription),
		nullContact(p.NamedInsured), nullContact(p.Agent),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

func listPolicies(ctx context.Context, q querier, filter accounting.PolicyFilter) ([]accounting.Policy, error) {
	query := "SELECT " + policyColumns + " FROM policies"
	var args []any
	if filter.Status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*filter.Status))
	}
	query += " ORDER BY policy_number"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var policies []accounting.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func scanPolicy(rows *sql.Rows) (accounting.Policy, error) {
	var (
		p                accounting.Policy
		effectiveDate    string
		premium          string
		schedule         string
		status           string
		cancellationDate sql.NullString
		description      sql.NullString
		namedInsured     sql.NullString
		agent            sql.NullString
	)

	err := rows.Scan(&p.ID, &p.Number, &effectiveDate, &premium, &schedule, &status,
		&cancellationDate, &description, &namedInsured, &agent)
	if err != nil {
		return p, fmt.Errorf("failed to scan policy: %w", err)
	}

	if p.EffectiveDate, err = accounting.ParseDate(effectiveDate); err != nil {
		return p, fmt.Errorf("policy %s: bad effective_date %q: %w", p.ID, effectiveDate, err)
	}
	if cancellationDate.Valid {
		d, err := accounting.ParseDate(cancellationDate.String)
		if err != nil {
			return p, fmt.Errorf("policy %s: bad cancellation_date %q: %w", p.ID, cancellationDate.String, err)
		}
		p.CancellationDate = &d
	}
	if p.AnnualPremium, err = decimal.NewFromString(premium); err != nil {
		return p, fmt.Errorf("policy %s: bad annual_premium %q: %w", p.ID, premium, err)
	}
	p.BillingSchedule = accounting.BillingSchedule(schedule)
	p.Status = accounting.PolicyStatus(status)
	p.CancellationDescription = description.String
	p.NamedInsured = contactRef(namedInsured)
	p.Agent = contactRef(agent)
	return p, nil
}

// =============================================================================
// CONTACTS
// =============================================================================

func getContact(ctx context.Context, q querier, id accounting.ContactID) (*accounting.Contact, error) {
	var c accounting.Contact
	err := q.QueryRowContext(ctx,
		"SELECT id, name, role FROM contacts WHERE id = ?", id,
	).Scan(&c.ID, &c.Name, &c.Role)

	if err == sql.ErrNoRows {
		return nil, accounting.ContactNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return &c, nil
}

func findContact(ctx context.Context, q querier, name string, role accounting.ContactRole) (*accounting.Contact, error) {
	var c accounting.Contact
	err := q.QueryRowContext(ctx,
		"SELECT id, name, role FROM contacts WHERE name = ? AND role = ?", name, string(role),
	).Scan(&c.ID, &c.Name, &c.Role)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find contact: %w", err)
	}
	return &c, nil
}

func saveContact(ctx context.Context, q querier, c accounting.Contact) error {
	query := `
		INSERT INTO contacts (id, name, role, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role
	`
	_, err := q.ExecContext(ctx, query, c.ID, c.Name, string(c.Role),
		time.Now().UTC().Format(createdAtLayout))
	if err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}
	return nil
}

// =============================================================================
// INVOICES
// =============================================================================

func listInvoices(ctx context.Context, q querier, iq accounting.InvoiceQuery) ([]accounting.Invoice, error) {
	var (
		where = []string{"policy_id = ?"}
		args  = []any{iq.PolicyID}
	)
	if !iq.IncludeDeleted {
		where = append(where, "deleted = 0")
	}
	if iq.BilledOnOrBefore != nil {
		where = append(where, "bill_date <= ?")
		args = append(args, iq.BilledOnOrBefore.String())
	}
	if iq.DueBefore != nil {
		where = append(where, "due_date < ?")
		args = append(args, iq.DueBefore.String())
	}
	if iq.CancelBefore != nil {
		where = append(where, "cancel_date < ?")
		args = append(args, iq.CancelBefore.String())
	}
	if iq.CancelOnOrBefore != nil {
		where = append(where, "cancel_date <= ?")
		args = append(args, iq.CancelOnOrBefore.String())
	}

	query := `
		SELECT id, policy_id, bill_date, due_date, cancel_date, amount_due, deleted
		FROM invoices
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY bill_date ASC, created_at ASC, rowid ASC
	`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []accounting.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func scanInvoice(rows *sql.Rows) (accounting.Invoice, error) {
	var (
		inv                       accounting.Invoice
		billDate, dueDate, cancel string
		amount                    string
		deleted                   int
	)
	if err := rows.Scan(&inv.ID, &inv.PolicyID, &billDate, &dueDate, &cancel, &amount, &deleted); err != nil {
		return inv, fmt.Errorf("failed to scan invoice: %w", err)
	}

	dates := []struct {
		raw string
		dst *accounting.Date
	}{
		{billDate, &inv.BillDate},
		{dueDate, &inv.DueDate},
		{cancel, &inv.CancelDate},
	}
	for _, d := range dates {
		parsed, err := accounting.ParseDate(d.raw)
		if err != nil {
			return inv, fmt.Errorf("invoice %s: bad date %q: %w", inv.ID, d.raw, err)
		}
		*d.dst = parsed
	}
	var err error
	if inv.AmountDue, err = decimal.NewFromString(amount); err != nil {
		return inv, fmt.Errorf("invoice %s: bad amount_due %q: %w", inv.ID, amount, err)
	}
	inv.Deleted = deleted != 0
	return inv, nil
}

func addInvoice(ctx context.Context, q querier, inv accounting.Invoice) error {
	query := `
		INSERT INTO invoices (id, policy_id, bill_date, due_date, cancel_date, amount_due, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		inv.ID, inv.PolicyID,
		inv.BillDate.String(), inv.DueDate.String(), inv.CancelDate.String(),
		inv.AmountDue.String(), boolInt(inv.Deleted),
		time.Now().UTC().Format(createdAtLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to add invoice: %w", err)
	}
	return nil
}

func softDeleteInvoices(ctx context.Context, q querier, policyID accounting.PolicyID) error {
	_, err := q.ExecContext(ctx, "UPDATE invoices SET deleted = 1 WHERE policy_id = ? AND deleted = 0", policyID)
	if err != nil {
		return fmt.Errorf("failed to soft-delete invoices: %w", err)
	}
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func listPayments(ctx context.Context, q querier, pq accounting.PaymentQuery) ([]accounting.Payment, error) {
	query := `
		SELECT id, policy_id, contact_id, amount_paid, transaction_date
		FROM payments
		WHERE policy_id = ?`
	args := []any{pq.PolicyID}
	if pq.OnOrBefore != nil {
		query += " AND transaction_date <= ?"
		args = append(args, pq.OnOrBefore.String())
	}
	query += " ORDER BY transaction_date ASC, created_at ASC, rowid ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []accounting.Payment
	for rows.Next() {
		var (
			p         accounting.Payment
			contactID sql.NullString
			amount    string
			date      string
		)
		if err := rows.Scan(&p.ID, &p.PolicyID, &contactID, &amount, &date); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		if p.TransactionDate, err = accounting.ParseDate(date); err != nil {
			return nil, fmt.Errorf("payment %s: bad transaction_date %q: %w", p.ID, date, err)
		}
		p.ContactID = contactRef(contactID)
		if p.AmountPaid, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("payment %s: bad amount_paid %q: %w", p.ID, amount, err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func addPayment(ctx context.Context, q querier, p accounting.Payment) error {
	query := `
		INSERT INTO payments (id, policy_id, contact_id, amount_paid, transaction_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		p.ID, p.PolicyID, nullContact(p.ContactID),
		p.AmountPaid.String(), p.TransactionDate.String(),
		time.Now().UTC().Format(createdAtLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to add payment: %w", err)
	}
	return nil
}

func deletePayments(ctx context.Context, q querier, policyID accounting.PolicyID) (int, error) {
	res, err := q.ExecContext(ctx, "DELETE FROM payments WHERE policy_id = ?", policyID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete payments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"payments", "invoices", "policies", "contacts"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d *accounting.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullContact(id *accounting.ContactID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func contactRef(s sql.NullString) *accounting.ContactID {
	if !s.Valid {
		return nil
	}
	id := accounting.ContactID(s.String)
	return &id
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
