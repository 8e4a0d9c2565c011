// Package checkout turns a validated cart into a submitted transaction. The
// terminal never blocks a walk-in sale on backend availability: after the
// bounded retry is exhausted, the sale lands in the durable offline queue
// and the operator still gets a receipt.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"altarath/pos/internal/cart"
	"altarath/pos/internal/catalog"
	"altarath/pos/internal/domain"
	"altarath/pos/internal/receipt"
	"altarath/pos/internal/stockgate"
	"altarath/pos/internal/store"
	"altarath/pos/internal/tradein"
	"altarath/pos/internal/txservice"
)

// ErrEmptyCart rejects a checkout with no lines before any reference is
// assigned or any network call made.
var ErrEmptyCart = errors.New("cart is empty")

// StockViolationError carries every offending line at once so the operator
// can fix the whole cart in one pass.
type StockViolationError struct {
	Violations []domain.StockViolation
}

func (e *StockViolationError) Error() string {
	keys := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		keys = append(keys, fmt.Sprintf("%s (%s)", v.LineKey, v.Reason))
	}
	return "stock check failed: " + strings.Join(keys, ", ")
}

// RetryPolicy bounds the synchronous submission attempts before the sale
// degrades to the offline queue.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: time.Second}

type Orchestrator struct {
	client     txservice.Client
	repo       store.Repository
	lookup     catalog.Lookup
	renderer   *receipt.Renderer
	retry      RetryPolicy
	locationID string
	shopID     string
	log        *logrus.Entry
	now        func() time.Time
}

func NewOrchestrator(client txservice.Client, repo store.Repository, lookup catalog.Lookup,
	renderer *receipt.Renderer, retry RetryPolicy, locationID, shopID string, log *logrus.Entry) *Orchestrator {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	return &Orchestrator{
		client:     client,
		repo:       repo,
		lookup:     lookup,
		renderer:   renderer,
		retry:      retry,
		locationID: locationID,
		shopID:     shopID,
		log:        log,
		now:        time.Now,
	}
}

// Submit runs the checkout for the session's cart and trade-in ledger.
// On acceptance (online or offline) both are cleared; the previous sale can
// no longer be cancelled from the terminal.
func (o *Orchestrator) Submit(ctx context.Context, sess *cart.Session, ledger *tradein.Ledger, cashierID, paymentMethod string) (*domain.CheckoutResult, error) {
	lines := sess.Lines()
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	if violations := stockgate.Validate(ctx, lines, o.lookup); len(violations) > 0 {
		return nil, &StockViolationError{Violations: violations}
	}

	now := o.now().UTC()
	tx := o.buildTransaction(ctx, lines, ledger.Entries(), sess.Totals(ledger.Total()), cashierID, paymentMethod, now)

	log := o.log.WithFields(logrus.Fields{
		"reference": tx.ReferenceNumber,
		"cashier":   cashierID,
		"total":     tx.Totals.Total.String(),
	})

	confirmation, err := o.submitWithRetry(ctx, tx, log)
	if err == nil {
		billHTML := confirmation.BillHTML
		if billHTML == "" {
			billHTML, err = o.renderer.Receipt(tx, false)
			if err != nil {
				log.WithError(err).Warn("local receipt render failed")
			}
		}
		sess.Reset()
		ledger.Reset()
		log.Info("checkout submitted")
		return &domain.CheckoutResult{
			ReferenceNumber: tx.ReferenceNumber,
			Offline:         false,
			Total:           tx.Totals.Total,
			BillHTML:        billHTML,
		}, nil
	}

	if txservice.IsRejected(err) {
		// the backend refused the payload; queueing would never succeed
		log.WithError(err).Error("checkout rejected by backend")
		return nil, err
	}
	if ctx.Err() != nil {
		// the terminal itself gave up (shutdown), not the backend
		return nil, err
	}

	entry := domain.QueueEntry{
		ReferenceNumber: tx.ReferenceNumber,
		Payload:         tx,
		Status:          domain.QueuePendingSync,
		Attempts:        o.retry.Attempts,
		LastError:       err.Error(),
		CreatedAt:       now,
	}
	if qerr := o.repo.EnqueueTransaction(ctx, entry); qerr != nil && !errors.Is(qerr, store.ErrConflict) {
		return nil, errors.Wrap(qerr, "persist offline transaction")
	}

	billHTML, rerr := o.renderOffline(tx)
	if rerr != nil {
		log.WithError(rerr).Warn("offline bill render failed")
	}
	sess.Reset()
	ledger.Reset()
	log.WithError(err).Warn("backend unreachable, sale queued for sync")
	return &domain.CheckoutResult{
		ReferenceNumber: tx.ReferenceNumber,
		Offline:         true,
		Total:           tx.Totals.Total,
		BillHTML:        billHTML,
	}, nil
}

func (o *Orchestrator) submitWithRetry(ctx context.Context, tx domain.Transaction, log *logrus.Entry) (*domain.CheckoutConfirmation, error) {
	var lastErr error
	for attempt := 1; attempt <= o.retry.Attempts; attempt++ {
		confirmation, err := o.client.SubmitCheckout(ctx, tx)
		if err == nil {
			return confirmation, nil
		}
		if txservice.IsRejected(err) {
			return nil, err
		}
		lastErr = err
		log.WithError(err).WithField("attempt", attempt).Warn("checkout submission failed")

		if attempt == o.retry.Attempts {
			break
		}
		delay := o.retry.BaseDelay << (attempt - 1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (o *Orchestrator) buildTransaction(ctx context.Context, lines []domain.LineItem, entries []domain.TradeInEntry,
	totals domain.CartTotals, cashierID, paymentMethod string, now time.Time) domain.Transaction {
	tx := domain.Transaction{
		LocationID:    o.locationID,
		ShopID:        o.shopID,
		CashierID:     cashierID,
		PaymentMethod: paymentMethod,
		Totals:        totals,
		CreatedAt:     now,
	}

	batteryOnly := len(lines) > 0
	for _, l := range lines {
		if l.Category != domain.CategoryBattery {
			batteryOnly = false
		}
		description := l.Name
		if l.Details != "" {
			description = fmt.Sprintf("%s (%s)", l.Name, l.Details)
		}
		tx.Lines = append(tx.Lines, domain.TransactionLine{
			ProductID:    l.ProductID,
			Description:  description,
			Quantity:     l.Quantity,
			SellingPrice: l.UnitPrice,
			Source:       string(l.Category),
		})
	}

	for _, e := range entries {
		costPrice := e.Amount
		if p, err := o.repo.GetTradeInPrice(ctx, e.BatterySize, e.Condition); err == nil {
			costPrice = p.Amount
		}
		tx.TradeIns = append(tx.TradeIns, domain.TransactionTradeIn{
			ProductRef:   fmt.Sprintf("trade-in-%d-%s", e.BatterySize, e.Condition),
			Name:         fmt.Sprintf("Old battery %dAh (%s)", e.BatterySize, e.Condition),
			Quantity:     1,
			TradeInValue: e.Amount,
			Size:         e.BatterySize,
			Condition:    string(e.Condition),
			CostPrice:    costPrice,
		})
	}

	prefix := PrefixSale
	if batteryOnly {
		prefix = PrefixBattery
	}
	tx.ReferenceNumber = Reference(ctx, o.repo, o.locationID, prefix, now)
	return tx
}

func (o *Orchestrator) renderOffline(tx domain.Transaction) (string, error) {
	if tx.BatteryOnly() {
		return o.renderer.BatteryBill(tx)
	}
	return o.renderer.Receipt(tx, true)
}
