// Package billing owns invoice numbering and invoice pricing math.
package billing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"field-service-backend/internal/models"
)

// ErrDuplicateNumber is returned by InvoiceWriter implementations when an
// insert trips the invoice-number uniqueness constraint.
var ErrDuplicateNumber = errors.New("duplicate invoice number")

// InvoiceWriter is the slice of the store the allocator needs: the numbers
// already issued for a year, and the insert that consumes the next one.
type InvoiceWriter interface {
	InvoiceNumbersForYear(ctx context.Context, year int) ([]string, error)
	CreateInvoice(ctx context.Context, inv models.Invoice) (models.Invoice, error)
}

// YearLocker serializes invoice-number allocation per calendar year. The
// writer handed to fn must be bound to the same session that holds the lock,
// so the max-sequence scan and the insert that uses it are atomic with
// respect to other allocations. Tying the lock to a single transaction
// (pg_advisory_xact_lock) satisfies the same-session requirement by
// construction and guarantees release even on error.
type YearLocker interface {
	WithYearLock(ctx context.Context, year int, fn func(tx InvoiceWriter) error) error
}

// InvoiceStore is what the allocator needs from persistence: the locked
// allocation path plus an unlocked writer for the degraded fallback.
type InvoiceStore interface {
	YearLocker
	InvoiceWriter
}

// Allocator issues invoices with numbers of the form PREFIX-YEAR-NNNN.
// Within a year the sequence is strictly increasing while the locked path is
// healthy; when the store's locked path is unavailable it degrades to a
// timestamp-derived suffix so invoice creation is never blocked by numbering.
type Allocator struct {
	prefix string
	store  InvoiceStore
	log    *zap.Logger
	now    func() time.Time
}

// NewAllocator builds an allocator with the given number prefix.
func NewAllocator(prefix string, store InvoiceStore, log *zap.Logger) *Allocator {
	return &Allocator{
		prefix: prefix,
		store:  store,
		log:    log,
		now:    time.Now,
	}
}

// Issue assigns the next number for the current year and persists the
// invoice inside the same locked transaction, so concurrent allocations can
// neither collide nor read a stale maximum. On any failure in the locked
// path it falls back to a timestamp-derived number, created without the
// lock, and reports degraded=true.
func (a *Allocator) Issue(ctx context.Context, inv models.Invoice) (created models.Invoice, degraded bool, err error) {
	year := a.now().UTC().Year()

	err = a.store.WithYearLock(ctx, year, func(tx InvoiceWriter) error {
		existing, err := tx.InvoiceNumbersForYear(ctx, year)
		if err != nil {
			return fmt.Errorf("scan invoice numbers: %w", err)
		}
		inv.Number = fmt.Sprintf("%s-%d-%04d", a.prefix, year, a.maxSequence(existing, year)+1)
		created, err = tx.CreateInvoice(ctx, inv)
		return err
	})
	if err == nil {
		return created, false, nil
	}
	a.log.Warn("invoice numbering degraded to timestamp fallback",
		zap.Int("year", year), zap.Error(err))

	// Fallback numbers can collide within a millisecond; the uniqueness
	// constraint is the backstop, and one retry with a fresh fallback covers
	// the collision before giving up.
	inv.Number = a.Fallback()
	created, err = a.store.CreateInvoice(ctx, inv)
	if errors.Is(err, ErrDuplicateNumber) {
		inv.Number = a.Fallback()
		created, err = a.store.CreateInvoice(ctx, inv)
	}
	if err != nil {
		return models.Invoice{}, true, fmt.Errorf("persist invoice with fallback number: %w", err)
	}
	return created, true, nil
}

// Fallback derives a number from the current timestamp. Non-monotonic, but
// never blocked by the store.
func (a *Allocator) Fallback() string {
	now := a.now().UTC()
	return fmt.Sprintf("%s-%d-%d", a.prefix, now.Year(), now.UnixMilli())
}

// maxSequence extracts the numeric suffixes of the year's numbers and
// returns the largest. Comparison is numeric, never lexicographic, so the
// sequence keeps ordering correctly past 9999. Suffixes wider than 9 digits
// are fallback timestamps, not sequence numbers, and must not advance the
// sequence.
func (a *Allocator) maxSequence(numbers []string, year int) int64 {
	pattern := regexp.MustCompile(fmt.Sprintf(`^%s-%d-(\d{4,9})$`, regexp.QuoteMeta(a.prefix), year))
	var max int64
	for _, n := range numbers {
		m := pattern.FindStringSubmatch(n)
		if m == nil {
			continue
		}
		seq, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		if seq > max {
			max = seq
		}
	}
	return max
}
