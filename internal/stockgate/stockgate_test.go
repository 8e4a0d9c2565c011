package stockgate

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altarath/pos/internal/catalog"
	"altarath/pos/internal/domain"
)

func line(key, productID string, qty int) domain.LineItem {
	return domain.LineItem{
		LineKey:   key,
		ProductID: productID,
		Name:      key,
		UnitPrice: decimal.NewFromInt(1),
		Quantity:  qty,
		Category:  domain.CategoryPart,
	}
}

func TestValidateCleanCart(t *testing.T) {
	lookup := catalog.Static{
		"p1": {CanSell: true, AvailableQuantity: 10},
		"p2": {CanSell: true, AvailableQuantity: 3},
	}
	lines := []domain.LineItem{line("l1", "p1", 2), line("l2", "p2", 3)}

	violations := Validate(context.Background(), lines, lookup)
	assert.Empty(t, violations)
}

func TestValidateInsufficientQuantityCarriesAvailable(t *testing.T) {
	lookup := catalog.Static{"p1": {CanSell: true, AvailableQuantity: 2}}
	violations := Validate(context.Background(), []domain.LineItem{line("l1", "p1", 5)}, lookup)

	require.Len(t, violations, 1)
	assert.Equal(t, domain.ViolationInsufficient, violations[0].Reason)
	assert.Equal(t, 2, violations[0].AvailableQuantity)
	assert.Equal(t, "l1", violations[0].LineKey)
}

func TestValidateCollectsEveryViolation(t *testing.T) {
	lookup := catalog.Static{
		"ok":      {CanSell: true, AvailableQuantity: 100},
		"low":     {CanSell: true, AvailableQuantity: 1},
		"blocked": {CanSell: false, AvailableQuantity: 7},
	}
	lines := []domain.LineItem{
		line("l1", "missing", 1),
		line("l2", "low", 4),
		line("l3", "blocked", 1),
		line("l4", "ok", 2),
	}

	violations := Validate(context.Background(), lines, lookup)
	require.Len(t, violations, 3, "no fail-fast short circuit")

	byKey := map[string]domain.StockViolation{}
	for _, v := range violations {
		byKey[v.LineKey] = v
	}
	assert.Equal(t, domain.ViolationNotFound, byKey["l1"].Reason)
	assert.Equal(t, domain.ViolationInsufficient, byKey["l2"].Reason)
	assert.Equal(t, 1, byKey["l2"].AvailableQuantity)
	assert.Equal(t, domain.ViolationUnavailable, byKey["l3"].Reason)
}

type failingLookup struct{}

func (failingLookup) GetProductAvailability(context.Context, string) (*domain.Availability, error) {
	return nil, errors.New("catalog down")
}

func TestValidateLookupFailureMarksUnavailable(t *testing.T) {
	violations := Validate(context.Background(), []domain.LineItem{line("l1", "p1", 1)}, failingLookup{})
	require.Len(t, violations, 1)
	assert.Equal(t, domain.ViolationUnavailable, violations[0].Reason)
}
