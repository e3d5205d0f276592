// Package store is the pgx-backed persistence layer for jobs, transitions,
// invoices and the aggregates the lifecycle validators read.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"field-service-backend/internal/billing"
	"field-service-backend/internal/lifecycle"
	"field-service-backend/internal/models"
)

// advisoryClassInvoice is the pg_advisory_xact_lock classid for invoice
// numbering; the year is the second key.
const advisoryClassInvoice = 0x696e76 // "inv"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store wraps pgxpool for Postgres persistence. It implements
// lifecycle.Store and billing.InvoiceStore.
type Store struct {
	queries
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// txStore is the transactional view handed to lifecycle.WithTx callbacks.
type txStore struct {
	queries
	lockTimeout time.Duration
}

type queries struct {
	db querier
}

// New creates a pooled connection to Postgres. lockTimeout bounds how long
// row-lock and advisory-lock waits may block before surfacing a retryable
// error.
func New(ctx context.Context, dsn string, lockTimeout time.Duration) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Store{queries: queries{db: pool}, pool: pool, lockTimeout: lockTimeout}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// WithTx runs fn inside one transaction. The tx view's LockJob blocks
// concurrent transitions on the same job until commit or rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx lifecycle.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	if err := fn(&txStore{queries: queries{db: tx}, lockTimeout: s.lockTimeout}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// WithYearLock runs fn while holding the invoice-numbering advisory lock
// for the year. The lock is transaction-scoped, so acquisition and release
// happen on the same session, release is guaranteed even on error, and the
// writer handed to fn inserts on the transaction that holds the lock.
func (s *Store) WithYearLock(ctx context.Context, year int, fn func(tx billing.InvoiceWriter) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1, $2)", advisoryClassInvoice, year); err != nil {
		return fmt.Errorf("acquire year lock: %w", mapPgErr(err))
	}
	if err := fn(&queries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03": // lock_not_available
			return lifecycle.ErrLockTimeout
		case "23505":
			if pgErr.ConstraintName == "invoices_number_key" {
				return lifecycle.ErrDuplicateInvoiceNumber
			}
		}
	}
	return err
}

const jobColumns = `id, client_id, property_id, quote_id, status, last_state_change,
	scheduled_date, assigned_crew, jha_required, jha, jha_acknowledged_at,
	permit_required, permit_status, deposit_required, deposit_status,
	work_start_time, work_end_time, completion_checklist, invoice_id,
	payment_received_at, weather_hold_reason, created_at, updated_at`

// GetJob fetches a job by id.
func (q *queries) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := q.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// LockJob fetches the job under an exclusive row lock. Blocks other
// transition attempts on the same job; unrelated jobs are unaffected.
func (t *txStore) LockJob(ctx context.Context, jobID string) (models.Job, error) {
	row := t.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, jobID)
	return scanJob(row)
}

func scanJob(row pgx.Row) (models.Job, error) {
	var (
		job                          models.Job
		quoteID, invoiceID           *string
		crewJSON, jhaJSON, checkJSON []byte
	)
	err := row.Scan(
		&job.ID, &job.ClientID, &job.PropertyID, &quoteID, &job.Status, &job.LastStateChange,
		&job.ScheduledDate, &crewJSON, &job.JHARequired, &jhaJSON, &job.JHAAcknowledgedAt,
		&job.PermitRequired, &job.PermitStatus, &job.DepositRequired, &job.DepositStatus,
		&job.WorkStartTime, &job.WorkEndTime, &checkJSON, &invoiceID,
		&job.PaymentReceivedAt, &job.WeatherHoldReason, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, lifecycle.ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", mapPgErr(err))
	}
	job.QuoteID = quoteID
	job.InvoiceID = invoiceID
	if err := unmarshalInto(crewJSON, &job.AssignedCrew); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal assigned_crew: %w", err)
	}
	if err := unmarshalInto(jhaJSON, &job.JHA); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal jha: %w", err)
	}
	if err := unmarshalInto(checkJSON, &job.CompletionChecklist); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal completion_checklist: %w", err)
	}
	return job, nil
}

func unmarshalInto(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// SaveJob writes every mutable job field. Only the orchestrator calls this,
// and only while holding the row lock.
func (t *txStore) SaveJob(ctx context.Context, job models.Job) error {
	crewJSON, err := json.Marshal(job.AssignedCrew)
	if err != nil {
		return fmt.Errorf("marshal assigned_crew: %w", err)
	}
	jhaJSON, err := json.Marshal(job.JHA)
	if err != nil {
		return fmt.Errorf("marshal jha: %w", err)
	}
	checkJSON, err := json.Marshal(job.CompletionChecklist)
	if err != nil {
		return fmt.Errorf("marshal completion_checklist: %w", err)
	}
	_, err = t.db.Exec(ctx, `
		UPDATE jobs SET
			status = $2, last_state_change = $3, scheduled_date = $4,
			assigned_crew = $5, jha_required = $6, jha = $7, jha_acknowledged_at = $8,
			permit_required = $9, permit_status = $10, deposit_required = $11, deposit_status = $12,
			work_start_time = $13, work_end_time = $14, completion_checklist = $15,
			invoice_id = $16, payment_received_at = $17, weather_hold_reason = $18,
			updated_at = $19
		WHERE id = $1
	`, job.ID, job.Status, job.LastStateChange, job.ScheduledDate,
		crewJSON, job.JHARequired, jhaJSON, job.JHAAcknowledgedAt,
		job.PermitRequired, job.PermitStatus, job.DepositRequired, job.DepositStatus,
		job.WorkStartTime, job.WorkEndTime, checkJSON,
		job.InvoiceID, job.PaymentReceivedAt, job.WeatherHoldReason,
		job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", mapPgErr(err))
	}
	return nil
}

// AppendTransition inserts an audit row. Rows are never updated or deleted.
func (t *txStore) AppendTransition(ctx context.Context, rec models.StateTransition) error {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var from *string
	if rec.FromState != nil {
		v := string(*rec.FromState)
		from = &v
	}
	_, err = t.db.Exec(ctx, `
		INSERT INTO job_state_transitions (id, job_id, from_state, to_state, actor, actor_role, source, reason, notes, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.JobID, from, rec.ToState, rec.Actor, rec.ActorRole, rec.Source, rec.Reason, rec.Notes, metaJSON, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transition: %w", mapPgErr(err))
	}
	return nil
}

// History returns the job's transition log, newest first.
func (q *queries) History(ctx context.Context, jobID string) ([]models.StateTransition, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, job_id, from_state, to_state, actor, actor_role, source, reason, notes, metadata, created_at
		FROM job_state_transitions
		WHERE job_id = $1
		ORDER BY created_at DESC, id DESC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []models.StateTransition
	for rows.Next() {
		var (
			rec      models.StateTransition
			from     *string
			metaJSON []byte
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &from, &rec.ToState, &rec.Actor, &rec.ActorRole,
			&rec.Source, &rec.Reason, &rec.Notes, &metaJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if from != nil {
			s := models.Status(*from)
			rec.FromState = &s
		}
		if err := unmarshalInto(metaJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FormsForJob lists the forms attached to a job.
func (q *queries) FormsForJob(ctx context.Context, jobID string) ([]models.Form, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, job_id, name, status FROM job_forms WHERE job_id = $1 ORDER BY name
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query forms: %w", err)
	}
	defer rows.Close()

	var out []models.Form
	for rows.Next() {
		var f models.Form
		if err := rows.Scan(&f.ID, &f.JobID, &f.Name, &f.Status); err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetInvoice fetches an invoice by id.
func (q *queries) GetInvoice(ctx context.Context, id string) (models.Invoice, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, job_id, client_id, number, status, billing_name, billing_email, billing_address,
		       line_items, subtotal_cents, discount_cents, tax_cents, total_cents, issued_at, paid_at
		FROM invoices WHERE id = $1
	`, id)
	var (
		inv       models.Invoice
		itemsJSON []byte
	)
	err := row.Scan(&inv.ID, &inv.JobID, &inv.ClientID, &inv.Number, &inv.Status,
		&inv.BillingName, &inv.BillingEmail, &inv.BillingAddress,
		&itemsJSON, &inv.SubtotalCents, &inv.DiscountCents, &inv.TaxCents, &inv.TotalCents,
		&inv.IssuedAt, &inv.PaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Invoice{}, lifecycle.ErrNotFound
	}
	if err != nil {
		return models.Invoice{}, fmt.Errorf("scan invoice: %w", err)
	}
	if err := unmarshalInto(itemsJSON, &inv.LineItems); err != nil {
		return models.Invoice{}, fmt.Errorf("unmarshal line_items: %w", err)
	}
	return inv, nil
}

// GetQuote fetches a quote by id.
func (q *queries) GetQuote(ctx context.Context, id string) (models.Quote, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, job_id, line_items, stump_grinding_cents, add_on_cents, discount_cents, tax_rate_bps
		FROM quotes WHERE id = $1
	`, id)
	var (
		quote     models.Quote
		itemsJSON []byte
	)
	err := row.Scan(&quote.ID, &quote.JobID, &itemsJSON, &quote.StumpGrindingCents,
		&quote.AddOnCents, &quote.DiscountCents, &quote.TaxRateBasisPoints)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Quote{}, lifecycle.ErrNotFound
	}
	if err != nil {
		return models.Quote{}, fmt.Errorf("scan quote: %w", err)
	}
	if err := unmarshalInto(itemsJSON, &quote.LineItems); err != nil {
		return models.Quote{}, fmt.Errorf("unmarshal line_items: %w", err)
	}
	return quote, nil
}

// GetClient fetches a client by id.
func (q *queries) GetClient(ctx context.Context, id string) (models.Client, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, name, email, phone, category FROM clients WHERE id = $1
	`, id)
	var c models.Client
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Category)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Client{}, lifecycle.ErrNotFound
	}
	if err != nil {
		return models.Client{}, fmt.Errorf("scan client: %w", err)
	}
	return c, nil
}

// GetProperty fetches a property by id.
func (q *queries) GetProperty(ctx context.Context, id string) (models.Property, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, client_id, address FROM properties WHERE id = $1
	`, id)
	var p models.Property
	err := row.Scan(&p.ID, &p.ClientID, &p.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Property{}, lifecycle.ErrNotFound
	}
	if err != nil {
		return models.Property{}, fmt.Errorf("scan property: %w", err)
	}
	return p, nil
}

// CompletedJobCount counts the client's jobs that reached completion,
// including ones that moved on to invoiced or paid.
func (q *queries) CompletedJobCount(ctx context.Context, clientID string) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE client_id = $1 AND status IN ($2, $3, $4)
	`, clientID, models.StatusCompleted, models.StatusInvoiced, models.StatusPaid).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count completed jobs: %w", err)
	}
	return n, nil
}

// InvoiceNumbersForYear returns the invoice numbers issued for a year.
// Called by the allocator while it holds the year lock.
func (q *queries) InvoiceNumbersForYear(ctx context.Context, year int) ([]string, error) {
	rows, err := q.db.Query(ctx, `
		SELECT number FROM invoices WHERE number LIKE '%-' || $1::text || '-%'
	`, year)
	if err != nil {
		return nil, fmt.Errorf("query invoice numbers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan invoice number: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// SetWorkStart stamps the work start time if it is still unset.
func (s *Store) SetWorkStart(ctx context.Context, jobID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET work_start_time = $2, updated_at = NOW()
		WHERE id = $1 AND work_start_time IS NULL
	`, jobID, at)
	return err
}

// CreateInvoice inserts a draft invoice. A number collision surfaces as
// billing.ErrDuplicateNumber via the uniqueness backstop.
func (q *queries) CreateInvoice(ctx context.Context, inv models.Invoice) (models.Invoice, error) {
	itemsJSON, err := json.Marshal(inv.LineItems)
	if err != nil {
		return models.Invoice{}, fmt.Errorf("marshal line_items: %w", err)
	}
	_, err = q.db.Exec(ctx, `
		INSERT INTO invoices (id, job_id, client_id, number, status, billing_name, billing_email, billing_address,
			line_items, subtotal_cents, discount_cents, tax_cents, total_cents, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, inv.ID, inv.JobID, inv.ClientID, inv.Number, inv.Status,
		inv.BillingName, inv.BillingEmail, inv.BillingAddress,
		itemsJSON, inv.SubtotalCents, inv.DiscountCents, inv.TaxCents, inv.TotalCents, inv.IssuedAt)
	if err != nil {
		return models.Invoice{}, fmt.Errorf("insert invoice: %w", mapPgErr(err))
	}
	return inv, nil
}

// LinkInvoice points a job at its invoice.
func (s *Store) LinkInvoice(ctx context.Context, jobID, invoiceID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET invoice_id = $2, updated_at = NOW() WHERE id = $1
	`, jobID, invoiceID)
	return err
}

// UpdateInvoiceStatus flips an invoice's status, stamping paid_at when given.
func (s *Store) UpdateInvoiceStatus(ctx context.Context, invoiceID, status string, paidAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE invoices SET status = $2, paid_at = COALESCE($3, paid_at) WHERE id = $1
	`, invoiceID, status, paidAt)
	return err
}

// SetClientCategory updates the client's lifecycle category.
func (s *Store) SetClientCategory(ctx context.Context, clientID, category string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE clients SET category = $2 WHERE id = $1
	`, clientID, category)
	return err
}
