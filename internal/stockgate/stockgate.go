// Package stockgate checks every cart line against the catalog's reported
// availability before checkout. It is advisory-then-blocking: checkout must
// not proceed while violations remain, and all violations are collected so
// the operator can fix every line in one pass.
package stockgate

import (
	"context"

	"altarath/pos/internal/catalog"
	"altarath/pos/internal/domain"
)

// Validate inspects each line in turn and never short-circuits. A lookup
// failure counts as the product being unavailable rather than aborting the
// whole check.
func Validate(ctx context.Context, lines []domain.LineItem, lookup catalog.Lookup) []domain.StockViolation {
	violations := []domain.StockViolation{}
	for _, line := range lines {
		av, err := lookup.GetProductAvailability(ctx, line.ProductID)
		switch {
		case err != nil:
			violations = append(violations, domain.StockViolation{
				LineKey:   line.LineKey,
				ProductID: line.ProductID,
				Reason:    domain.ViolationUnavailable,
			})
		case av == nil:
			violations = append(violations, domain.StockViolation{
				LineKey:   line.LineKey,
				ProductID: line.ProductID,
				Reason:    domain.ViolationNotFound,
			})
		case !av.CanSell:
			violations = append(violations, domain.StockViolation{
				LineKey:           line.LineKey,
				ProductID:         line.ProductID,
				Reason:            domain.ViolationUnavailable,
				AvailableQuantity: av.AvailableQuantity,
			})
		case line.Quantity > av.AvailableQuantity:
			violations = append(violations, domain.StockViolation{
				LineKey:           line.LineKey,
				ProductID:         line.ProductID,
				Reason:            domain.ViolationInsufficient,
				AvailableQuantity: av.AvailableQuantity,
			})
		}
	}
	return violations
}
