// Package refund drives the guarded workflow that reverses part of a past
// sale: receipt lookup, item selection, confirmation, cashier
// authorization, then the backend call. Warranty claims run the same
// machine but end in a local certificate instead of a refund submission.
package refund

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"altarath/pos/internal/checkout"
	"altarath/pos/internal/domain"
	"altarath/pos/internal/receipt"
	"altarath/pos/internal/store"
	"altarath/pos/internal/txservice"
)

type State string

const (
	StateSearch     State = "search"
	StateSelect     State = "select"
	StateConfirm    State = "confirm"
	StateAuthorize  State = "authorize"
	StateProcessing State = "processing"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
)

type Kind string

const (
	KindRefund   Kind = "refund"
	KindWarranty Kind = "warranty"
)

// tradeInMarker tags the accounting line a battery trade-in leaves on a
// bill. Such lines are not themselves refundable; their magnitude is
// reported as the sale's trade-in component.
const tradeInMarker = "discount on old battery"

var (
	ErrInvalidState         = errors.New("operation not allowed in current state")
	ErrReceiptNotFound      = errors.New("no transaction found for reference")
	ErrNoSelection          = errors.New("at least one item must be selected")
	ErrAuthorizationExpired = errors.New("authorization window expired")
)

// AuthorizationError means the keyed-in staff ID did not resolve against
// the roster. The dialog stays open; the state does not advance.
type AuthorizationError struct {
	StaffID string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("staff ID %q not recognised", e.StaffID)
}

// ProductNamer resolves display names for stored lines that carry only a
// product ID.
type ProductNamer interface {
	GetProductName(ctx context.Context, productID string) (string, error)
}

// Outcome is the terminal artifact of a completed session: the backend's
// refund reference, or a locally numbered warranty certificate.
type Outcome struct {
	ReferenceNumber string          `json:"reference_number"`
	Amount          decimal.Decimal `json:"amount"`
	Certificate     string          `json:"certificate,omitempty"`
}

type Config struct {
	Client               txservice.Client
	Repo                 store.Repository
	Renderer             *receipt.Renderer
	Namer                ProductNamer
	AuthorizationTimeout time.Duration
	LocationID           string
	ShopID               string
	Log                  *logrus.Entry
}

// Session is one refund or warranty workflow, independent of any open cart.
// At most one exists per terminal at a time.
type Session struct {
	mu sync.Mutex

	kind Kind
	cfg  Config
	now  func() time.Time

	state            State
	receipt          *domain.Receipt
	tradeInComponent decimal.Decimal
	selected         map[string]bool
	reason           string
	authDeadline     time.Time
	authorizedBy     *domain.StaffMember
	outcome          *Outcome
	failure          string
}

func NewSession(kind Kind, cfg Config) *Session {
	return &Session{
		kind:             kind,
		cfg:              cfg,
		now:              time.Now,
		state:            StateSearch,
		tradeInComponent: decimal.Zero,
		selected:         map[string]bool{},
	}
}

func (s *Session) Kind() Kind { return s.kind }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Receipt() *domain.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receipt == nil {
		return nil
	}
	r := *s.receipt
	return &r
}

// TradeInComponent is the magnitude of the original sale's trade-in line,
// informational only; it is not separately reversible here.
func (s *Session) TradeInComponent() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tradeInComponent
}

func (s *Session) Failure() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

func (s *Session) Outcome() *Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Search looks the reference up in the transaction service. Anything short
// of a usable result keeps the machine in Search.
func (s *Session) Search(ctx context.Context, referenceNumber string) error {
	s.mu.Lock()
	if s.state != StateSearch {
		s.mu.Unlock()
		return ErrInvalidState
	}
	s.mu.Unlock()

	records, err := s.cfg.Client.FindTransactions(ctx, referenceNumber)
	if err != nil {
		return errors.Wrap(err, "receipt lookup")
	}
	if len(records) == 0 {
		return ErrReceiptNotFound
	}

	record := records[0]
	for _, r := range records {
		if r.ReferenceNumber == referenceNumber {
			record = r
			break
		}
	}
	rec, tradeIn := s.buildReceipt(ctx, record)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSearch {
		return ErrInvalidState
	}
	s.receipt = &rec
	s.tradeInComponent = tradeIn
	s.selected = map[string]bool{}
	s.state = StateSelect
	return nil
}

func (s *Session) buildReceipt(ctx context.Context, record txservice.TransactionRecord) (domain.Receipt, decimal.Decimal) {
	rec := domain.Receipt{
		ReferenceNumber: record.ReferenceNumber,
		Date:            record.Date,
		Time:            record.Time,
		PaymentMethod:   record.PaymentMethod,
		Total:           record.Total,
	}

	tradeIn := decimal.Zero
	for i, item := range record.ItemsSold {
		name := item.Name
		id := item.ID
		if id == "" {
			id = item.ProductID
		}
		if id == "" {
			id = fmt.Sprintf("line-%d", i)
		}
		if name == "" && item.ProductID != "" && s.cfg.Namer != nil {
			resolved, err := s.cfg.Namer.GetProductName(ctx, item.ProductID)
			if err != nil {
				s.cfg.Log.WithError(err).WithField("product", item.ProductID).Warn("product name lookup failed")
			} else {
				name = resolved
			}
		}
		if name == "" {
			name = id
		}

		price := decimal.Zero
		if item.Price != nil {
			price = *item.Price
		} else if item.SellingPrice != nil {
			price = *item.SellingPrice
		}

		if strings.Contains(strings.ToLower(name), tradeInMarker) {
			qty := item.Quantity
			if qty < 1 {
				qty = 1
			}
			tradeIn = tradeIn.Add(price.Abs().Mul(decimal.NewFromInt(int64(qty))))
			continue
		}

		rec.Items = append(rec.Items, domain.ReceiptItem{
			ID:       id,
			Name:     name,
			Price:    price,
			Quantity: item.Quantity,
			Details:  item.Details,
		})
	}
	return rec, tradeIn
}

// SetSelection replaces the selected item set. Unknown IDs are rejected.
func (s *Session) SetSelection(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSelect && s.state != StateConfirm {
		return ErrInvalidState
	}

	known := map[string]bool{}
	for _, item := range s.receipt.Items {
		known[item.ID] = true
	}
	next := map[string]bool{}
	for _, id := range ids {
		if !known[id] {
			return errors.Errorf("item %s is not on the receipt", id)
		}
		next[id] = true
	}
	s.selected = next
	return nil
}

func (s *Session) SelectedItems() []domain.ReceiptItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedItemsLocked()
}

func (s *Session) selectedItemsLocked() []domain.ReceiptItem {
	if s.receipt == nil {
		return nil
	}
	items := make([]domain.ReceiptItem, 0, len(s.selected))
	for _, item := range s.receipt.Items {
		if s.selected[item.ID] {
			items = append(items, item)
		}
	}
	return items
}

// Amount is the refund/claim value of the current selection.
func (s *Session) Amount() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return amountOf(s.selectedItemsLocked())
}

func amountOf(items []domain.ReceiptItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// Confirm moves to the confirmation step. An empty selection is rejected
// and the state does not change.
func (s *Session) Confirm(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSelect {
		return ErrInvalidState
	}
	if len(s.selectedItemsLocked()) == 0 {
		return ErrNoSelection
	}
	s.reason = reason
	s.state = StateConfirm
	return nil
}

// BeginAuthorization opens the authorization window. If no valid staff ID
// arrives before the deadline the machine routes back to Confirm instead of
// leaving the terminal stuck.
func (s *Session) BeginAuthorization() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConfirm {
		return ErrInvalidState
	}
	s.state = StateAuthorize
	s.authDeadline = s.now().Add(s.cfg.AuthorizationTimeout)
	return nil
}

// Authorize resolves the staff ID against the roster and, on success, runs
// the terminal step: the refund submission, or local certificate
// generation for warranty claims.
func (s *Session) Authorize(ctx context.Context, staffID string) (*Outcome, error) {
	s.mu.Lock()
	if s.state != StateAuthorize {
		s.mu.Unlock()
		return nil, ErrInvalidState
	}
	if s.now().After(s.authDeadline) {
		s.state = StateConfirm
		s.mu.Unlock()
		return nil, ErrAuthorizationExpired
	}
	s.mu.Unlock()

	staff, err := s.cfg.Repo.GetStaffMember(ctx, staffID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &AuthorizationError{StaffID: staffID}
		}
		return nil, errors.Wrap(err, "staff lookup")
	}

	s.mu.Lock()
	if s.state != StateAuthorize {
		s.mu.Unlock()
		return nil, ErrInvalidState
	}
	s.authorizedBy = staff
	s.state = StateProcessing
	items := s.selectedItemsLocked()
	reason := s.reason
	original := s.receipt.ReferenceNumber
	s.mu.Unlock()

	outcome, err := s.finalize(ctx, original, items, reason, *staff)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		// back to Confirm via Failed; the selection survives so the
		// operator retries without re-searching
		s.state = StateFailed
		s.failure = err.Error()
		return nil, err
	}
	s.outcome = outcome
	s.state = StateComplete
	return outcome, nil
}

func (s *Session) finalize(ctx context.Context, originalReference string, items []domain.ReceiptItem, reason string, staff domain.StaffMember) (*Outcome, error) {
	amount := amountOf(items)
	now := s.now().UTC()
	log := s.cfg.Log.WithFields(logrus.Fields{
		"kind":     s.kind,
		"original": originalReference,
		"amount":   amount.String(),
		"staff":    staff.ID,
		"items":    len(items),
	})

	if s.kind == KindWarranty {
		claimRef := checkout.Reference(ctx, s.cfg.Repo, s.cfg.LocationID, checkout.PrefixWarranty, now)
		cert, err := s.cfg.Renderer.WarrantyCertificate(claimRef, originalReference, items, staff, now)
		if err != nil {
			return nil, errors.Wrap(err, "render warranty certificate")
		}
		log.WithField("claim", claimRef).Info("warranty claim completed")
		return &Outcome{ReferenceNumber: claimRef, Amount: amount, Certificate: cert}, nil
	}

	req := domain.RefundRequest{
		OriginalReferenceNumber: originalReference,
		RefundAmount:            amount,
		RefundItems:             items,
		Reason:                  reason,
		CashierID:               staff.ID,
		ShopID:                  s.cfg.ShopID,
		LocationID:              s.cfg.LocationID,
	}
	confirmation, err := s.cfg.Client.SubmitRefund(ctx, req)
	if err != nil {
		log.WithError(err).Warn("refund submission failed")
		return nil, err
	}

	cert, err := s.cfg.Renderer.RefundReceipt(req, *confirmation, staff, now)
	if err != nil {
		s.cfg.Log.WithError(err).Warn("refund receipt render failed")
	}
	log.WithField("refund", confirmation.ReferenceNumber).Info("refund completed")
	return &Outcome{ReferenceNumber: confirmation.ReferenceNumber, Amount: amount, Certificate: cert}, nil
}

// AcknowledgeFailure returns a failed session to Confirm for retry.
func (s *Session) AcknowledgeFailure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFailed {
		return ErrInvalidState
	}
	s.state = StateConfirm
	return nil
}

// Reset abandons the session back to Search.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateSearch
	s.receipt = nil
	s.tradeInComponent = decimal.Zero
	s.selected = map[string]bool{}
	s.reason = ""
	s.authorizedBy = nil
	s.outcome = nil
	s.failure = ""
}
