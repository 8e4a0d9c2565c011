package txservice

import (
	"context"
	"sync"

	"altarath/pos/internal/domain"
)

// Fake is an in-memory Client used by tests and dev mode. It records every
// accepted checkout exactly once per reference number, mirroring the
// backend's idempotency guarantee.
type Fake struct {
	mu sync.Mutex

	CheckoutErr error
	LookupErr   error
	RefundErr   error
	BillHTML    string

	checkouts map[string]domain.Transaction
	order     []string
	records   map[string][]TransactionRecord
	refunds   []domain.RefundRequest
}

func NewFake() *Fake {
	return &Fake{
		checkouts: map[string]domain.Transaction{},
		records:   map[string][]TransactionRecord{},
	}
}

func (f *Fake) SubmitCheckout(_ context.Context, tx domain.Transaction) (*domain.CheckoutConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CheckoutErr != nil {
		return nil, f.CheckoutErr
	}

	if _, seen := f.checkouts[tx.ReferenceNumber]; !seen {
		f.checkouts[tx.ReferenceNumber] = tx
		f.order = append(f.order, tx.ReferenceNumber)
	}
	return &domain.CheckoutConfirmation{ReferenceNumber: tx.ReferenceNumber, BillHTML: f.BillHTML}, nil
}

func (f *Fake) FindTransactions(_ context.Context, referenceNumber string) ([]TransactionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LookupErr != nil {
		return nil, f.LookupErr
	}
	return f.records[referenceNumber], nil
}

func (f *Fake) SubmitRefund(_ context.Context, req domain.RefundRequest) (*domain.RefundConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	f.refunds = append(f.refunds, req)
	return &domain.RefundConfirmation{ReferenceNumber: "R" + req.OriginalReferenceNumber}, nil
}

// SetRecords seeds lookup results for a reference number.
func (f *Fake) SetRecords(referenceNumber string, records []TransactionRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[referenceNumber] = records
}

// Checkouts returns accepted checkouts in first-seen order.
func (f *Fake) Checkouts() []domain.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Transaction, 0, len(f.order))
	for _, ref := range f.order {
		out = append(out, f.checkouts[ref])
	}
	return out
}

func (f *Fake) Refunds() []domain.RefundRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RefundRequest, len(f.refunds))
	copy(out, f.refunds)
	return out
}

// SetCheckoutErr swaps the injected checkout failure under the lock.
func (f *Fake) SetCheckoutErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CheckoutErr = err
}

func (f *Fake) SetRefundErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RefundErr = err
}
