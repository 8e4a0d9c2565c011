// Package cart holds the active checkout session's line items and the
// pricing algorithm: subtotal, then discount, then trade-in, total floored
// at zero. Pure computation, no I/O.
package cart

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"altarath/pos/internal/domain"
)

// Session is one terminal's open cart. Exactly one exists per terminal at a
// time; it is discarded on successful checkout or explicit cancellation.
// Methods are safe for concurrent use by the HTTP layer.
type Session struct {
	mu       sync.Mutex
	lines    []domain.LineItem
	discount *domain.Discount
}

func NewSession() *Session {
	return &Session{}
}

// LineKey derives the cart row identity for a product with the given
// options. The same product with a different volume size or bottle variant
// is a distinct row.
func LineKey(productID, volumeSize string, variant domain.BottleVariant) string {
	key := productID
	if volumeSize != "" {
		key = fmt.Sprintf("%s-%s", key, volumeSize)
	}
	if variant != "" {
		key = fmt.Sprintf("%s-%s", key, variant)
	}
	return key
}

// AddLine merges into an existing row with the same line key, otherwise
// appends. Quantity defaults to 1 and is clamped to at least 1.
func (s *Session) AddLine(product domain.Product, quantity int, details string, variant domain.BottleVariant) domain.LineItem {
	if quantity < 1 {
		quantity = 1
	}
	if product.Category != domain.CategoryLubricant {
		variant = ""
	}
	key := LineKey(product.ID, product.VolumeSize, variant)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		if s.lines[i].LineKey == key {
			s.lines[i].Quantity += quantity
			return s.lines[i]
		}
	}

	line := domain.LineItem{
		LineKey:       key,
		ProductID:     product.ID,
		Name:          product.Name,
		UnitPrice:     product.Price,
		Quantity:      quantity,
		Category:      product.Category,
		Details:       details,
		BottleVariant: variant,
	}
	s.lines = append(s.lines, line)
	return line
}

// SetQuantity sets a row's quantity. Zero or below removes the row; that is
// the operator's "remove" gesture, not an error.
func (s *Session) SetQuantity(lineKey string, n int) {
	if n <= 0 {
		s.RemoveLine(lineKey)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.lines {
		if s.lines[i].LineKey == lineKey {
			s.lines[i].Quantity = n
			return
		}
	}
}

func (s *Session) RemoveLine(lineKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.lines {
		if s.lines[i].LineKey == lineKey {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			return
		}
	}
}

// ApplyDiscount replaces any existing discount. It does not touch trade-ins.
func (s *Session) ApplyDiscount(d domain.Discount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discount = &d
}

func (s *Session) ClearDiscount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discount = nil
}

func (s *Session) Discount() *domain.Discount {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discount == nil {
		return nil
	}
	d := *s.discount
	return &d
}

// Lines returns a copy of the cart rows in insertion order.
func (s *Session) Lines() []domain.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.LineItem, len(s.lines))
	copy(out, s.lines)
	return out
}

func (s *Session) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines) == 0
}

// Reset discards all rows and the discount. Called after a successful
// checkout or an explicit cancel.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
	s.discount = nil
}

// Totals prices the cart. A percentage discount deducts subtotal*value/100;
// a fixed discount deducts min(value, subtotal). The trade-in sum is
// subtracted after the discount and the total floors at zero: excess
// trade-in is not paid out as cash.
func (s *Session) Totals(tradeInAmount decimal.Decimal) domain.CartTotals {
	s.mu.Lock()
	defer s.mu.Unlock()

	subtotal := decimal.Zero
	for _, l := range s.lines {
		subtotal = subtotal.Add(l.LineTotal())
	}

	discountAmount := decimal.Zero
	if s.discount != nil {
		switch s.discount.Kind {
		case domain.DiscountPercentage:
			discountAmount = subtotal.Mul(s.discount.Value).Div(decimal.NewFromInt(100))
		case domain.DiscountAmount:
			discountAmount = s.discount.Value
			if discountAmount.GreaterThan(subtotal) {
				discountAmount = subtotal
			}
		}
		if discountAmount.IsNegative() {
			discountAmount = decimal.Zero
		}
	}

	total := subtotal.Sub(discountAmount).Sub(tradeInAmount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return domain.CartTotals{
		Subtotal:       subtotal,
		DiscountAmount: discountAmount,
		TradeInAmount:  tradeInAmount,
		Total:          total,
	}
}
