// Package tradein keeps the side ledger of battery trade-in entries for the
// active checkout session. The ledger's sum feeds the cart totals as a
// single deduction.
package tradein

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"altarath/pos/internal/domain"
)

// ErrEntryNotFound reports an ID that matches no ledger entry.
var ErrEntryNotFound = errors.New("trade-in entry not found")

// ValidationError names every offending field of a rejected entry at once,
// so the operator can fix the form in one pass.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid trade-in entry: %s", strings.Join(e.Fields, ", "))
}

func validate(entry domain.TradeInEntry) error {
	var fields []string
	if !domain.ValidBatterySize(entry.BatterySize) {
		fields = append(fields, "batterySize")
	}
	if !entry.Condition.Valid() {
		fields = append(fields, "condition")
	}
	if !entry.Amount.IsPositive() {
		fields = append(fields, "amount")
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Ledger holds the session's trade-in entries. Rejected operations leave it
// unchanged; there are no partial writes.
type Ledger struct {
	mu      sync.Mutex
	entries []domain.TradeInEntry
}

func NewLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) AddEntry(size int, condition domain.TradeInCondition, amount decimal.Decimal) (domain.TradeInEntry, error) {
	entry := domain.TradeInEntry{
		ID:          uuid.NewString(),
		BatterySize: size,
		Condition:   condition,
		Amount:      amount,
	}
	if err := validate(entry); err != nil {
		return domain.TradeInEntry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return entry, nil
}

func (l *Ledger) UpdateEntry(id string, size int, condition domain.TradeInCondition, amount decimal.Decimal) (domain.TradeInEntry, error) {
	updated := domain.TradeInEntry{
		ID:          id,
		BatterySize: size,
		Condition:   condition,
		Amount:      amount,
	}
	if err := validate(updated); err != nil {
		return domain.TradeInEntry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries[i] = updated
			return updated, nil
		}
	}
	return domain.TradeInEntry{}, fmt.Errorf("entry %s: %w", id, ErrEntryNotFound)
}

func (l *Ledger) RemoveEntry(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (l *Ledger) Entries() []domain.TradeInEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.TradeInEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Total is the cart's trade-in deduction.
func (l *Ledger) Total() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, e := range l.entries {
		total = total.Add(e.Amount)
	}
	return total
}

func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
