package checkout

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altarath/pos/internal/cart"
	"altarath/pos/internal/catalog"
	"altarath/pos/internal/domain"
	"altarath/pos/internal/receipt"
	"altarath/pos/internal/store/memory"
	"altarath/pos/internal/tradein"
	"altarath/pos/internal/txservice"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testRenderer(t *testing.T) *receipt.Renderer {
	t.Helper()
	r, err := receipt.NewRenderer(receipt.ShopIdentity{Name: "Al Tarath Auto Care", Address: "Sohar"})
	require.NoError(t, err)
	return r
}

type fixture struct {
	orch   *Orchestrator
	client *txservice.Fake
	repo   *memory.Store
	sess   *cart.Session
	ledger *tradein.Ledger
}

func newFixture(t *testing.T, lookup catalog.Lookup) *fixture {
	t.Helper()
	client := txservice.NewFake()
	repo := memory.NewSeeded()
	retry := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
	orch := NewOrchestrator(client, repo, lookup, testRenderer(t), retry, "loc-1", "shop-1", testLog())
	orch.now = func() time.Time { return time.Date(2025, 8, 3, 14, 0, 0, 0, time.UTC) }
	return &fixture{
		orch:   orch,
		client: client,
		repo:   repo,
		sess:   cart.NewSession(),
		ledger: tradein.NewLedger(),
	}
}

func openLookup() catalog.Lookup {
	return catalog.Static{
		"lub-04": {CanSell: true, AvailableQuantity: 50},
		"bat-70": {CanSell: true, AvailableQuantity: 10},
	}
}

func TestSubmitEmptyCart(t *testing.T) {
	f := newFixture(t, openLookup())
	_, err := f.orch.Submit(context.Background(), f.sess, f.ledger, "0020", "cash")
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestSubmitBlockedByStockViolations(t *testing.T) {
	f := newFixture(t, catalog.Static{"lub-04": {CanSell: true, AvailableQuantity: 1}})
	f.sess.AddLine(domain.Product{ID: "lub-04", Name: "Shield Ultra", Category: domain.CategoryLubricant, Price: dec("10.000")}, 5, "", "")

	_, err := f.orch.Submit(context.Background(), f.sess, f.ledger, "0020", "cash")
	var verr *StockViolationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	assert.Equal(t, domain.ViolationInsufficient, verr.Violations[0].Reason)
	assert.Equal(t, 1, verr.Violations[0].AvailableQuantity)

	// blocked checkout leaves cart untouched and submits nothing
	assert.False(t, f.sess.Empty())
	assert.Empty(t, f.client.Checkouts())
}

func TestSubmitOnlineSuccess(t *testing.T) {
	f := newFixture(t, openLookup())
	f.sess.AddLine(domain.Product{ID: "lub-04", Name: "Shield Ultra 20W-50", Category: domain.CategoryLubricant, Price: dec("10.000"), VolumeSize: "4L"}, 2, "", domain.BottleClosed)

	result, err := f.orch.Submit(context.Background(), f.sess, f.ledger, "0020", "cash")
	require.NoError(t, err)
	assert.False(t, result.Offline)
	assert.Equal(t, "A010825", result.ReferenceNumber)
	assert.True(t, result.Total.Equal(dec("20.000")))
	assert.Contains(t, result.BillHTML, "A010825")

	require.Len(t, f.client.Checkouts(), 1)
	assert.True(t, f.sess.Empty())

	status, err := f.repo.QueueStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, status.Pending)
}

func TestBatteryOnlySaleUsesBPrefixAndServerBill(t *testing.T) {
	f := newFixture(t, openLookup())
	f.client.BillHTML = "<div>server battery bill</div>"
	f.sess.AddLine(domain.Product{ID: "bat-70", Name: "Battery NS70", Category: domain.CategoryBattery, Price: dec("50.000")}, 1, "", "")

	result, err := f.orch.Submit(context.Background(), f.sess, f.ledger, "0010", "cash")
	require.NoError(t, err)
	assert.Equal(t, "B010825", result.ReferenceNumber)
	assert.Equal(t, "<div>server battery bill</div>", result.BillHTML)
}

func TestMixedSaleUsesAPrefix(t *testing.T) {
	f := newFixture(t, openLookup())
	f.sess.AddLine(domain.Product{ID: "bat-70", Name: "Battery NS70", Category: domain.CategoryBattery, Price: dec("50.000")}, 1, "", "")
	f.sess.AddLine(domain.Product{ID: "lub-04", Name: "Shield Ultra", Category: domain.CategoryLubricant, Price: dec("10.000")}, 1, "", "")

	result, err := f.orch.Submit(context.Background(), f.sess, f.ledger, "0010", "cash")
	require.NoError(t, err)
	assert.Equal(t, "A010825", result.ReferenceNumber)
}

func TestSubmitCarriesTradeIns(t *testing.T) {
	f := newFixture(t, openLookup())
	f.sess.AddLine(domain.Product{ID: "bat-70", Name: "Battery NS70", Category: domain.CategoryBattery, Price: dec("50.000")}, 1, "", "")
	_, err := f.ledger.AddEntry(70, domain.ConditionScrap, dec("2.000"))
	require.NoError(t, err)

	result, err := f.orch.Submit(context.Background(), f.sess, f.ledger, "0010", "cash")
	require.NoError(t, err)
	assert.True(t, result.Total.Equal(dec("48.000")))

	submitted := f.client.Checkouts()
	require.Len(t, submitted, 1)
	require.Len(t, submitted[0].TradeIns, 1)
	ti := submitted[0].TradeIns[0]
	assert.Equal(t, 70, ti.Size)
	assert.Equal(t, "scrap", ti.Condition)
	assert.True(t, ti.TradeInValue.Equal(dec("2.000")))
	// cost price comes from the seeded price list, not the haggled amount
	assert.True(t, ti.CostPrice.Equal(dec("1.800")), "cost price %s", ti.CostPrice)

	assert.Empty(t, f.ledger.Entries())
}

func TestSubmitNetworkFailureGoesOffline(t *testing.T) {
	f := newFixture(t, openLookup())
	f.client.SetCheckoutErr(errors.New("dial tcp: connection refused"))
	f.sess.AddLine(domain.Product{ID: "lub-04", Name: "Shield Ultra", Category: domain.CategoryLubricant, Price: dec("10.000")}, 1, "", "")

	result, err := f.orch.Submit(context.Background(), f.sess, f.ledger, "0020", "cash")
	require.NoError(t, err, "offline degradation is success from the cashier's view")
	assert.True(t, result.Offline)
	assert.Contains(t, result.BillHTML, "OFFLINE")
	assert.True(t, f.sess.Empty(), "cart cleared optimistically")

	entry, err := f.repo.GetQueueEntry(context.Background(), result.ReferenceNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.QueuePendingSync, entry.Status)
	assert.Equal(t, 3, entry.Attempts)
	assert.NotEmpty(t, entry.LastError)
}

func TestSubmitBackendRejectedIsFatalAndNotQueued(t *testing.T) {
	f := newFixture(t, openLookup())
	f.client.SetCheckoutErr(&txservice.RejectedError{StatusCode: 422, Message: "unknown cashier"})
	f.sess.AddLine(domain.Product{ID: "lub-04", Name: "Shield Ultra", Category: domain.CategoryLubricant, Price: dec("10.000")}, 1, "", "")

	_, err := f.orch.Submit(context.Background(), f.sess, f.ledger, "9999", "cash")
	require.Error(t, err)
	assert.True(t, txservice.IsRejected(err))

	// not queued and the cart stays so the operator can correct it
	status, serr := f.repo.QueueStatus(context.Background())
	require.NoError(t, serr)
	assert.Equal(t, 0, status.Pending)
	assert.False(t, f.sess.Empty())
}

func TestOfflineSaleSyncsExactlyOnce(t *testing.T) {
	f := newFixture(t, openLookup())
	f.client.SetCheckoutErr(errors.New("backend down"))
	f.sess.AddLine(domain.Product{ID: "lub-04", Name: "Shield Ultra", Category: domain.CategoryLubricant, Price: dec("10.000")}, 1, "", "")

	result, err := f.orch.Submit(context.Background(), f.sess, f.ledger, "0020", "cash")
	require.NoError(t, err)
	require.True(t, result.Offline)

	syncer := NewSyncer(f.repo, f.client, time.Minute, testLog())

	// backend still down: entry stays pending, attempts grow
	synced, err := syncer.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, synced)

	f.client.SetCheckoutErr(nil)
	synced, err = syncer.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, synced)

	// a second pass finds nothing pending; the backend saw the sale once
	synced, err = syncer.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, synced)
	assert.Len(t, f.client.Checkouts(), 1)

	entry, err := f.repo.GetQueueEntry(context.Background(), result.ReferenceNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueSynced, entry.Status)
	assert.NotNil(t, entry.SyncedAt)
}

func TestSyncerLeavesRejectedEntriesQueued(t *testing.T) {
	f := newFixture(t, openLookup())
	f.client.SetCheckoutErr(errors.New("backend down"))
	f.sess.AddLine(domain.Product{ID: "lub-04", Name: "Shield Ultra", Category: domain.CategoryLubricant, Price: dec("10.000")}, 1, "", "")

	result, err := f.orch.Submit(context.Background(), f.sess, f.ledger, "0020", "cash")
	require.NoError(t, err)

	f.client.SetCheckoutErr(&txservice.RejectedError{StatusCode: 400, Message: "bad payload"})
	syncer := NewSyncer(f.repo, f.client, time.Minute, testLog())
	synced, err := syncer.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, synced)

	entry, err := f.repo.GetQueueEntry(context.Background(), result.ReferenceNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.QueuePendingSync, entry.Status)
	assert.Contains(t, entry.LastError, "bad payload")
}

func TestReferenceSequencesWithinMonth(t *testing.T) {
	f := newFixture(t, openLookup())

	for i := 0; i < 2; i++ {
		f.sess.AddLine(domain.Product{ID: "lub-04", Name: "Shield Ultra", Category: domain.CategoryLubricant, Price: dec("10.000")}, 1, "", "")
		result, err := f.orch.Submit(context.Background(), f.sess, f.ledger, "0020", "cash")
		require.NoError(t, err)
		if i == 1 {
			assert.Equal(t, "A020825", result.ReferenceNumber)
		}
	}
}

func TestRetryStopsEarlyOnContextCancel(t *testing.T) {
	f := newFixture(t, openLookup())
	f.orch.retry = RetryPolicy{Attempts: 5, BaseDelay: time.Hour}
	f.client.SetCheckoutErr(errors.New("backend down"))
	f.sess.AddLine(domain.Product{ID: "lub-04", Name: "Shield Ultra", Category: domain.CategoryLubricant, Price: dec("10.000")}, 1, "", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.orch.Submit(ctx, f.sess, f.ledger, "0020", "cash")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
