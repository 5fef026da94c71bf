package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"invoicebridge/internal/common"
	"invoicebridge/internal/entity"
)

// Run statuses recorded in the audit trail.
const (
	RunStatusSubmitted    = "submitted"
	RunStatusDuplicate    = "duplicate"
	RunStatusFailed       = "failed"
	RunStatusAwaiting     = "awaiting_confirmation"
	RunStatusRejectedByOp = "rejected" // operator declined the staged vendor
)

// RunRecord is one processing run's audit row.
type RunRecord struct {
	ID            string
	Filename      string
	Status        string
	VendorID      int64
	BillID        int64
	InvoiceNumber string
	VendorName    string
	GrandTotal    entity.Cents
	Currency      string
	NeedsReview   bool
	Unresolved    []string
	ErrorCode     string
	ErrorDetail   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PendingConfirmation is a staged vendor decision awaiting the caller.
type PendingConfirmation struct {
	Token     string
	RunID     string
	Payload   []byte // serialized resume state
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Store provides audit persistence over an open database handle.
type Store struct {
	db     *sql.DB
	driver string
}

// NewStore wraps db. The driver name selects placeholder rebinding; pass
// "pgx" for Postgres, anything else means SQLite.
func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) q(query string) string {
	return rebind(s.driver, query)
}

// SaveRun inserts or fully replaces the run's audit row.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO runs (id, filename, status, vendor_id, bill_id, invoice_number,
		                  vendor_name, grand_total_cents, currency, needs_review,
		                  unresolved, error_code, error_detail, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		    status = EXCLUDED.status,
		    vendor_id = EXCLUDED.vendor_id,
		    bill_id = EXCLUDED.bill_id,
		    invoice_number = EXCLUDED.invoice_number,
		    vendor_name = EXCLUDED.vendor_name,
		    grand_total_cents = EXCLUDED.grand_total_cents,
		    currency = EXCLUDED.currency,
		    needs_review = EXCLUDED.needs_review,
		    unresolved = EXCLUDED.unresolved,
		    error_code = EXCLUDED.error_code,
		    error_detail = EXCLUDED.error_detail,
		    updated_at = EXCLUDED.updated_at`),
		rec.ID, rec.Filename, rec.Status, rec.VendorID, rec.BillID, rec.InvoiceNumber,
		rec.VendorName, int64(rec.GrandTotal), rec.Currency, rec.NeedsReview,
		strings.Join(rec.Unresolved, "\n"), rec.ErrorCode, rec.ErrorDetail,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	return nil
}

const runColumns = `id, filename, status, vendor_id, bill_id, invoice_number,
	vendor_name, grand_total_cents, currency, needs_review, unresolved,
	error_code, error_detail, created_at, updated_at`

func scanRun(row interface{ Scan(...any) error }) (RunRecord, error) {
	var rec RunRecord
	var total int64
	var unresolved string
	err := row.Scan(&rec.ID, &rec.Filename, &rec.Status, &rec.VendorID, &rec.BillID,
		&rec.InvoiceNumber, &rec.VendorName, &total, &rec.Currency, &rec.NeedsReview,
		&unresolved, &rec.ErrorCode, &rec.ErrorDetail, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return RunRecord{}, err
	}
	rec.GrandTotal = entity.Cents(total)
	if unresolved != "" {
		rec.Unresolved = strings.Split(unresolved, "\n")
	}
	return rec, nil
}

// GetRun fetches one run by identifier.
func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: run %s", common.ErrNotFound, id)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

// ListRuns returns runs with the given statuses, newest first. Empty
// statuses means all.
func (s *Store) ListRuns(ctx context.Context, statuses []string, limit int) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, st)
		}
		query += ` WHERE status IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveConfirmation stages a pending vendor decision.
func (s *Store) SaveConfirmation(ctx context.Context, pc PendingConfirmation) error {
	if pc.CreatedAt.IsZero() {
		pc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO confirmations (token, run_id, payload, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		pc.Token, pc.RunID, string(pc.Payload), pc.ExpiresAt, pc.CreatedAt)
	if err != nil {
		return fmt.Errorf("save confirmation %s: %w", pc.Token, err)
	}
	return nil
}

// TakeConfirmation removes and returns a staged confirmation. Expired or
// unknown tokens report NotFound; a token can be taken exactly once.
func (s *Store) TakeConfirmation(ctx context.Context, token string) (PendingConfirmation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PendingConfirmation{}, fmt.Errorf("take confirmation: %w", err)
	}
	defer tx.Rollback()

	var pc PendingConfirmation
	var payload string
	row := tx.QueryRowContext(ctx, s.q(`
		SELECT token, run_id, payload, expires_at, created_at
		FROM confirmations WHERE token = ?`), token)
	err = row.Scan(&pc.Token, &pc.RunID, &payload, &pc.ExpiresAt, &pc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingConfirmation{}, fmt.Errorf("%w: confirmation token", common.ErrNotFound)
	}
	if err != nil {
		return PendingConfirmation{}, fmt.Errorf("take confirmation: %w", err)
	}
	pc.Payload = []byte(payload)

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM confirmations WHERE token = ?`), token); err != nil {
		return PendingConfirmation{}, fmt.Errorf("take confirmation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return PendingConfirmation{}, fmt.Errorf("take confirmation: %w", err)
	}

	if time.Now().After(pc.ExpiresAt) {
		return PendingConfirmation{}, fmt.Errorf("%w: confirmation token expired", common.ErrNotFound)
	}
	return pc, nil
}

// PurgeExpiredConfirmations drops stale tokens; returns how many went.
func (s *Store) PurgeExpiredConfirmations(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM confirmations WHERE expires_at < ?`),
		time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge confirmations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
