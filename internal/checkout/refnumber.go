package checkout

import (
	"context"
	"fmt"
	"time"

	"altarath/pos/internal/store"
)

// Bill prefixes by document type.
const (
	PrefixSale     = "A"
	PrefixBattery  = "B"
	PrefixRefund   = "R"
	PrefixWarranty = "W"
)

// Reference builds the human-readable bill number
// <prefix><seq:2><month:2><year:2> from the store's per-location monthly
// sequence. When the sequence store is unreachable it falls back to a
// timestamp code: reference generation must never block a walk-in sale.
func Reference(ctx context.Context, repo store.Repository, locationID, prefix string, now time.Time) string {
	seq, err := repo.NextBillSequence(ctx, locationID, prefix, int(now.Month()), now.Year())
	if err != nil {
		return fmt.Sprintf("%s%s", prefix, now.Format("060102150405"))
	}
	return fmt.Sprintf("%s%02d%02d%02d", prefix, seq, int(now.Month()), now.Year()%100)
}
