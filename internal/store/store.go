package store

import (
	"context"
	"errors"
	"time"

	"altarath/pos/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrInvalidEntry  = errors.New("invalid entry")
	ErrAlreadySynced = errors.New("already synced")
)

// Repository is the terminal's durable local store: the offline transaction
// queue, per-location bill sequences, the staff roster, the trade-in price
// list, and terminal user accounts. It is not the transaction system of
// record; that lives behind the transaction service.
type Repository interface {
	// Offline queue. Enqueue is keyed by reference number and returns
	// ErrConflict on a duplicate; the queue must tolerate concurrent
	// append from checkout and scan/mark from the sync loop.
	EnqueueTransaction(ctx context.Context, entry domain.QueueEntry) error
	PendingTransactions(ctx context.Context) ([]domain.QueueEntry, error)
	GetQueueEntry(ctx context.Context, referenceNumber string) (*domain.QueueEntry, error)
	MarkSynced(ctx context.Context, referenceNumber string, at time.Time) error
	RecordSyncAttempt(ctx context.Context, referenceNumber string, lastError string) error
	PurgeSynced(ctx context.Context, olderThan time.Time) (int, error)
	QueueStatus(ctx context.Context) (domain.SyncStatus, error)

	// Bill sequences, one counter per location+prefix+month+year.
	NextBillSequence(ctx context.Context, locationID string, prefix string, month int, year int) (int, error)

	// Staff roster used at refund authorization time.
	GetStaffMember(ctx context.Context, id string) (*domain.StaffMember, error)
	ListStaff(ctx context.Context) ([]domain.StaffMember, error)

	// Trade-in price list.
	ListTradeInPrices(ctx context.Context) ([]domain.TradeInPrice, error)
	GetTradeInPrice(ctx context.Context, size int, condition domain.TradeInCondition) (*domain.TradeInPrice, error)

	// Terminal user accounts.
	FindUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
