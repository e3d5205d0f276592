package lifecycle

import (
	"context"
	"errors"
	"time"

	"field-service-backend/internal/billing"
	"field-service-backend/internal/models"
)

// Sentinel errors the store implementations translate driver failures into.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrLockTimeout indicates a bounded lock wait expired. Nothing was
	// committed; callers may retry.
	ErrLockTimeout = errors.New("lock wait timed out")
	// ErrDuplicateInvoiceNumber indicates the invoice_number uniqueness
	// backstop rejected an insert. The allocator handles the retry.
	ErrDuplicateInvoiceNumber = billing.ErrDuplicateNumber
)

// Reader is the read-only view validators and the history endpoints use.
type Reader interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	FormsForJob(ctx context.Context, jobID string) ([]models.Form, error)
	GetInvoice(ctx context.Context, id string) (models.Invoice, error)
	GetQuote(ctx context.Context, id string) (models.Quote, error)
	GetClient(ctx context.Context, id string) (models.Client, error)
	GetProperty(ctx context.Context, id string) (models.Property, error)
	History(ctx context.Context, jobID string) ([]models.StateTransition, error)
	CompletedJobCount(ctx context.Context, clientID string) (int, error)
}

// Tx is the transactional view the orchestrator writes through. Everything
// called on a Tx happens on one database transaction; LockJob blocks
// concurrent transitions on the same job until commit or rollback.
type Tx interface {
	Reader
	LockJob(ctx context.Context, jobID string) (models.Job, error)
	SaveJob(ctx context.Context, job models.Job) error
	AppendTransition(ctx context.Context, rec models.StateTransition) error
}

// Store is the full persistence surface of the lifecycle core. The methods
// outside WithTx run in their own implicit transactions; automation triggers
// use them after the state change has committed.
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	SetWorkStart(ctx context.Context, jobID string, at time.Time) error
	LinkInvoice(ctx context.Context, jobID, invoiceID string) error
	UpdateInvoiceStatus(ctx context.Context, invoiceID, status string, paidAt *time.Time) error
	SetClientCategory(ctx context.Context, clientID, category string) error
}
