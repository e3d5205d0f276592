package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"field-service-backend/internal/billing"
	"field-service-backend/internal/models"
)

// fakeStore is an in-memory lifecycle.Store and billing.InvoiceStore. Row
// locking is a per-job mutex held for the duration of WithTx; writes are
// staged and applied only when the callback succeeds, mirroring the
// transactional store.
type fakeStore struct {
	mu         sync.Mutex
	jobs       map[string]models.Job
	history    map[string][]models.StateTransition
	forms      map[string][]models.Form
	invoices   map[string]models.Invoice
	numbers    map[string]bool
	quotes     map[string]models.Quote
	clients    map[string]models.Client
	properties map[string]models.Property

	jobLocks map[string]*sync.Mutex
	yearMu   sync.Mutex

	yearLockErr error
	saveErr     error
	invoiceErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:       map[string]models.Job{},
		history:    map[string][]models.StateTransition{},
		forms:      map[string][]models.Form{},
		invoices:   map[string]models.Invoice{},
		numbers:    map[string]bool{},
		quotes:     map[string]models.Quote{},
		clients:    map[string]models.Client{},
		properties: map[string]models.Property{},
		jobLocks:   map[string]*sync.Mutex{},
	}
}

func (f *fakeStore) putJob(job models.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	if _, ok := f.jobLocks[job.ID]; !ok {
		f.jobLocks[job.ID] = &sync.Mutex{}
	}
}

func (f *fakeStore) GetJob(_ context.Context, id string) (models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return job, nil
}

func (f *fakeStore) FormsForJob(_ context.Context, jobID string) ([]models.Form, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[jobID], nil
}

func (f *fakeStore) GetInvoice(_ context.Context, id string) (models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.invoiceErr != nil {
		return models.Invoice{}, f.invoiceErr
	}
	inv, ok := f.invoices[id]
	if !ok {
		return models.Invoice{}, ErrNotFound
	}
	return inv, nil
}

func (f *fakeStore) GetQuote(_ context.Context, id string) (models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[id]
	if !ok {
		return models.Quote{}, ErrNotFound
	}
	return q, nil
}

func (f *fakeStore) GetClient(_ context.Context, id string) (models.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	if !ok {
		return models.Client{}, ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) GetProperty(_ context.Context, id string) (models.Property, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.properties[id]
	if !ok {
		return models.Property{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) History(_ context.Context, jobID string) ([]models.StateTransition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	recs := f.history[jobID]
	// newest first
	out := make([]models.StateTransition, len(recs))
	for i, rec := range recs {
		out[len(recs)-1-i] = rec
	}
	return out, nil
}

func (f *fakeStore) CompletedJobCount(_ context.Context, clientID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, job := range f.jobs {
		if job.ClientID != clientID {
			continue
		}
		switch job.Status {
		case models.StatusCompleted, models.StatusInvoiced, models.StatusPaid:
			n++
		}
	}
	return n, nil
}

type fakeTx struct {
	store  *fakeStore
	locked *sync.Mutex

	stagedJob *models.Job
	stagedRec *models.StateTransition
}

func (f *fakeStore) WithTx(_ context.Context, fn func(tx Tx) error) error {
	tx := &fakeTx{store: f}
	err := fn(tx)
	if err == nil {
		f.mu.Lock()
		if tx.stagedJob != nil {
			f.jobs[tx.stagedJob.ID] = *tx.stagedJob
		}
		if tx.stagedRec != nil {
			f.history[tx.stagedRec.JobID] = append(f.history[tx.stagedRec.JobID], *tx.stagedRec)
		}
		f.mu.Unlock()
	}
	if tx.locked != nil {
		tx.locked.Unlock()
	}
	return err
}

func (t *fakeTx) LockJob(_ context.Context, jobID string) (models.Job, error) {
	t.store.mu.Lock()
	lock, ok := t.store.jobLocks[jobID]
	t.store.mu.Unlock()
	if !ok {
		return models.Job{}, ErrNotFound
	}
	lock.Lock()
	t.locked = lock

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	job, ok := t.store.jobs[jobID]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return job, nil
}

func (t *fakeTx) SaveJob(_ context.Context, job models.Job) error {
	if t.store.saveErr != nil {
		return t.store.saveErr
	}
	t.stagedJob = &job
	return nil
}

func (t *fakeTx) AppendTransition(_ context.Context, rec models.StateTransition) error {
	t.stagedRec = &rec
	return nil
}

func (t *fakeTx) GetJob(ctx context.Context, id string) (models.Job, error) {
	return t.store.GetJob(ctx, id)
}
func (t *fakeTx) FormsForJob(ctx context.Context, jobID string) ([]models.Form, error) {
	return t.store.FormsForJob(ctx, jobID)
}
func (t *fakeTx) GetInvoice(ctx context.Context, id string) (models.Invoice, error) {
	return t.store.GetInvoice(ctx, id)
}
func (t *fakeTx) GetQuote(ctx context.Context, id string) (models.Quote, error) {
	return t.store.GetQuote(ctx, id)
}
func (t *fakeTx) GetClient(ctx context.Context, id string) (models.Client, error) {
	return t.store.GetClient(ctx, id)
}
func (t *fakeTx) GetProperty(ctx context.Context, id string) (models.Property, error) {
	return t.store.GetProperty(ctx, id)
}
func (t *fakeTx) History(ctx context.Context, jobID string) ([]models.StateTransition, error) {
	return t.store.History(ctx, jobID)
}
func (t *fakeTx) CompletedJobCount(ctx context.Context, clientID string) (int, error) {
	return t.store.CompletedJobCount(ctx, clientID)
}

func (f *fakeStore) SetWorkStart(_ context.Context, jobID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.WorkStartTime == nil {
		job.WorkStartTime = &at
		f.jobs[jobID] = job
	}
	return nil
}

func (f *fakeStore) CreateInvoice(_ context.Context, inv models.Invoice) (models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.numbers[inv.Number] {
		return models.Invoice{}, ErrDuplicateInvoiceNumber
	}
	f.numbers[inv.Number] = true
	f.invoices[inv.ID] = inv
	return inv, nil
}

func (f *fakeStore) LinkInvoice(_ context.Context, jobID, invoiceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	job.InvoiceID = &invoiceID
	f.jobs[jobID] = job
	return nil
}

func (f *fakeStore) UpdateInvoiceStatus(_ context.Context, invoiceID, status string, paidAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return ErrNotFound
	}
	inv.Status = status
	if paidAt != nil {
		inv.PaidAt = paidAt
	}
	f.invoices[invoiceID] = inv
	return nil
}

func (f *fakeStore) SetClientCategory(_ context.Context, clientID, category string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[clientID]
	if !ok {
		return ErrNotFound
	}
	c.Category = category
	f.clients[clientID] = c
	return nil
}

// WithYearLock serializes allocation the way pg_advisory_xact_lock does:
// the scan and the insert both happen while yearMu is held.
func (f *fakeStore) WithYearLock(_ context.Context, _ int, fn func(tx billing.InvoiceWriter) error) error {
	if f.yearLockErr != nil {
		return f.yearLockErr
	}
	f.yearMu.Lock()
	defer f.yearMu.Unlock()
	return fn(f)
}

func (f *fakeStore) InvoiceNumbersForYear(_ context.Context, _ int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.numbers))
	for n := range f.numbers {
		out = append(out, n)
	}
	return out, nil
}

// fakeNotifier records crew/client notices.
type fakeNotifier struct {
	mu      sync.Mutex
	crew    []string
	clients []string
	err     error
}

func (n *fakeNotifier) NotifyCrew(_ context.Context, member string, _ models.Job, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.crew = append(n.crew, member)
	return nil
}

func (n *fakeNotifier) NotifyClient(_ context.Context, clientID string, _ models.Job, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.clients = append(n.clients, clientID)
	return nil
}

// fakeReminders records scheduled invoices.
type fakeReminders struct {
	mu       sync.Mutex
	invoices []models.Invoice
}

func (r *fakeReminders) ScheduleReminders(_ context.Context, inv models.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoices = append(r.invoices, inv)
	return nil
}

// fakeSink records published events.
type fakeSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *fakeSink) Publish(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, evt)
	return nil
}

var errStoreDown = errors.New("store down")
