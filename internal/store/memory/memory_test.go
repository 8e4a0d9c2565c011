package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altarath/pos/internal/domain"
	"altarath/pos/internal/store"
)

func entry(ref string) domain.QueueEntry {
	return domain.QueueEntry{
		ReferenceNumber: ref,
		Payload:         domain.Transaction{ReferenceNumber: ref},
		Status:          domain.QueuePendingSync,
	}
}

func TestQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.EnqueueTransaction(ctx, entry("A010825")))
	require.NoError(t, s.EnqueueTransaction(ctx, entry("A020825")))

	// duplicate reference must not double-enqueue
	err := s.EnqueueTransaction(ctx, entry("A010825"))
	require.ErrorIs(t, err, store.ErrConflict)

	pending, err := s.PendingTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "A010825", pending[0].ReferenceNumber)

	require.NoError(t, s.RecordSyncAttempt(ctx, "A010825", "dial tcp: timeout"))
	got, err := s.GetQueueEntry(ctx, "A010825")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "dial tcp: timeout", got.LastError)

	now := time.Now().UTC()
	require.NoError(t, s.MarkSynced(ctx, "A010825", now))
	require.ErrorIs(t, s.MarkSynced(ctx, "A010825", now), store.ErrAlreadySynced)

	pending, err = s.PendingTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "A020825", pending[0].ReferenceNumber)

	status, err := s.QueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatus{Pending: 1, Synced: 1}, status)
}

func TestPurgeSynced(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.EnqueueTransaction(ctx, entry("A010825")))
	require.NoError(t, s.EnqueueTransaction(ctx, entry("A020825")))
	require.NoError(t, s.MarkSynced(ctx, "A010825", time.Now().UTC().Add(-48*time.Hour)))

	purged, err := s.PurgeSynced(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = s.GetQueueEntry(ctx, "A010825")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetQueueEntry(ctx, "A020825")
	assert.NoError(t, err)
}

func TestMarkSyncedUnknownReference(t *testing.T) {
	s := New()
	err := s.MarkSynced(context.Background(), "missing", time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNextBillSequenceIncrementsPerKey(t *testing.T) {
	ctx := context.Background()
	s := New()

	n1, err := s.NextBillSequence(ctx, "loc-1", "A", 8, 2025)
	require.NoError(t, err)
	n2, err := s.NextBillSequence(ctx, "loc-1", "A", 8, 2025)
	require.NoError(t, err)
	assert.Equal(t, 1, n1)
	assert.Equal(t, 2, n2)

	// different prefix, month, or location starts over
	n3, err := s.NextBillSequence(ctx, "loc-1", "B", 8, 2025)
	require.NoError(t, err)
	assert.Equal(t, 1, n3)

	n4, err := s.NextBillSequence(ctx, "loc-1", "A", 9, 2025)
	require.NoError(t, err)
	assert.Equal(t, 1, n4)

	n5, err := s.NextBillSequence(ctx, "loc-2", "A", 8, 2025)
	require.NoError(t, err)
	assert.Equal(t, 1, n5)
}

func TestSeededStaffRoster(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	m, err := s.GetStaffMember(ctx, "0010")
	require.NoError(t, err)
	assert.Equal(t, "Abul Hossain (foreman)", m.Name)

	_, err = s.GetStaffMember(ctx, "9999")
	assert.ErrorIs(t, err, store.ErrNotFound)

	staff, err := s.ListStaff(ctx)
	require.NoError(t, err)
	assert.Len(t, staff, 9)
}

func TestSeededTradeInPrices(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	p, err := s.GetTradeInPrice(ctx, 70, domain.ConditionResellable)
	require.NoError(t, err)
	assert.True(t, p.Amount.IsPositive())

	_, err = s.GetTradeInPrice(ctx, 55, domain.ConditionScrap)
	assert.ErrorIs(t, err, store.ErrNotFound)

	prices, err := s.ListTradeInPrices(ctx)
	require.NoError(t, err)
	assert.Len(t, prices, 12)
}

func TestUserAccounts(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.CreateUser(ctx, domain.UserAccount{Username: "nabil", Password: "hash", Role: "cashier", Active: true})
	require.NoError(t, err)
	require.ErrorIs(t, s.CreateUser(ctx, domain.UserAccount{Username: "nabil", Password: "hash", Role: "cashier"}), store.ErrConflict)
	require.ErrorIs(t, s.CreateUser(ctx, domain.UserAccount{Username: "", Password: "hash", Role: "cashier"}), store.ErrInvalidEntry)

	u, err := s.FindUserByUsername(ctx, "nabil")
	require.NoError(t, err)
	assert.Equal(t, "cashier", u.Role)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	require.NoError(t, s.UpdateUserPassword(ctx, "nabil", "newhash"))
	u, err = s.FindUserByUsername(ctx, "nabil")
	require.NoError(t, err)
	assert.Equal(t, "newhash", u.Password)

	require.ErrorIs(t, s.UpdateUserPassword(ctx, "ghost", "x"), store.ErrNotFound)
	require.ErrorIs(t, s.UpdateUserPassword(ctx, "nabil", ""), store.ErrInvalidEntry)
}
