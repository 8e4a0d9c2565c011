package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"altarath/pos/internal/domain"
	"altarath/pos/internal/store"
)

// Store is the in-memory Repository used for dev mode and tests. The
// postgres implementation is used whenever DATABASE_URL is set.
type Store struct {
	mu              sync.RWMutex
	queueByRef      map[string]domain.QueueEntry
	queueOrder      []string
	sequences       map[string]int
	staffByID       map[string]domain.StaffMember
	staffOrder      []string
	tradeInPrices   map[string]domain.TradeInPrice
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning printed to stdout.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()

	staff := []domain.StaffMember{
		{ID: "0010", Name: "Abul Hossain (foreman)"},
		{ID: "0020", Name: "Adnan"},
		{ID: "0030", Name: "Ashiq"},
		{ID: "0041", Name: "Badsha"},
		{ID: "0051", Name: "Abid"},
		{ID: "0062", Name: "Bellal"},
		{ID: "0073", Name: "Sakib"},
		{ID: "0084", Name: "Obaydul"},
		{ID: "0094", Name: "Nur Alom"},
	}
	for _, m := range staff {
		s.staffByID[m.ID] = m
		s.staffOrder = append(s.staffOrder, m.ID)
	}

	prices := []struct {
		size   int
		scrap  string
		resell string
	}{
		{40, "1.000", "3.000"},
		{50, "1.300", "3.800"},
		{60, "1.500", "4.500"},
		{70, "1.800", "5.500"},
		{80, "2.100", "6.500"},
		{100, "2.600", "8.000"},
	}
	for _, p := range prices {
		s.tradeInPrices[priceKey(p.size, domain.ConditionScrap)] = domain.TradeInPrice{
			BatterySize: p.size,
			Condition:   domain.ConditionScrap,
			Amount:      decimal.RequireFromString(p.scrap),
		}
		s.tradeInPrices[priceKey(p.size, domain.ConditionResellable)] = domain.TradeInPrice{
			BatterySize: p.size,
			Condition:   domain.ConditionResellable,
			Amount:      decimal.RequireFromString(p.resell),
		}
	}

	s.usersByUsername = seedUsers()
	return s
}

func New() *Store {
	return &Store{
		queueByRef:      map[string]domain.QueueEntry{},
		sequences:       map[string]int{},
		staffByID:       map[string]domain.StaffMember{},
		tradeInPrices:   map[string]domain.TradeInPrice{},
		usersByUsername: map[string]domain.UserAccount{},
	}
}

func priceKey(size int, condition domain.TradeInCondition) string {
	return fmt.Sprintf("%d:%s", size, condition)
}

func sequenceKey(locationID, prefix string, month, year int) string {
	return fmt.Sprintf("%s:%s:%02d:%02d", locationID, prefix, month, year%100)
}

func (s *Store) EnqueueTransaction(_ context.Context, entry domain.QueueEntry) error {
	if entry.ReferenceNumber == "" {
		return store.ErrInvalidEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.queueByRef[entry.ReferenceNumber]; exists {
		return store.ErrConflict
	}

	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	if entry.Status == "" {
		entry.Status = domain.QueuePendingSync
	}
	s.queueByRef[entry.ReferenceNumber] = entry
	s.queueOrder = append(s.queueOrder, entry.ReferenceNumber)
	return nil
}

func (s *Store) PendingTransactions(_ context.Context) ([]domain.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]domain.QueueEntry, 0, len(s.queueOrder))
	for _, ref := range s.queueOrder {
		if entry, ok := s.queueByRef[ref]; ok && entry.Status == domain.QueuePendingSync {
			pending = append(pending, entry)
		}
	}
	return pending, nil
}

func (s *Store) GetQueueEntry(_ context.Context, referenceNumber string) (*domain.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.queueByRef[referenceNumber]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &entry, nil
}

func (s *Store) MarkSynced(_ context.Context, referenceNumber string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.queueByRef[referenceNumber]
	if !ok {
		return store.ErrNotFound
	}
	if entry.Status == domain.QueueSynced {
		return store.ErrAlreadySynced
	}
	entry.Status = domain.QueueSynced
	entry.SyncedAt = &at
	entry.UpdatedAt = time.Now().UTC()
	s.queueByRef[referenceNumber] = entry
	return nil
}

func (s *Store) RecordSyncAttempt(_ context.Context, referenceNumber string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.queueByRef[referenceNumber]
	if !ok {
		return store.ErrNotFound
	}
	entry.Attempts++
	entry.LastError = lastError
	entry.UpdatedAt = time.Now().UTC()
	s.queueByRef[referenceNumber] = entry
	return nil
}

func (s *Store) PurgeSynced(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	kept := s.queueOrder[:0]
	for _, ref := range s.queueOrder {
		entry := s.queueByRef[ref]
		if entry.Status == domain.QueueSynced && entry.SyncedAt != nil && entry.SyncedAt.Before(olderThan) {
			delete(s.queueByRef, ref)
			purged++
			continue
		}
		kept = append(kept, ref)
	}
	s.queueOrder = kept
	return purged, nil
}

func (s *Store) QueueStatus(_ context.Context) (domain.SyncStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var status domain.SyncStatus
	for _, entry := range s.queueByRef {
		switch entry.Status {
		case domain.QueuePendingSync:
			status.Pending++
		case domain.QueueSynced:
			status.Synced++
		}
	}
	return status, nil
}

func (s *Store) NextBillSequence(_ context.Context, locationID string, prefix string, month int, year int) (int, error) {
	if locationID == "" || prefix == "" {
		return 0, store.ErrInvalidEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := sequenceKey(locationID, prefix, month, year)
	s.sequences[key]++
	return s.sequences[key], nil
}

func (s *Store) GetStaffMember(_ context.Context, id string) (*domain.StaffMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.staffByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (s *Store) ListStaff(_ context.Context) ([]domain.StaffMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]domain.StaffMember, 0, len(s.staffOrder))
	for _, id := range s.staffOrder {
		members = append(members, s.staffByID[id])
	}
	return members, nil
}

func (s *Store) ListTradeInPrices(_ context.Context) ([]domain.TradeInPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prices := make([]domain.TradeInPrice, 0, len(s.tradeInPrices))
	for _, p := range s.tradeInPrices {
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool {
		if prices[i].BatterySize != prices[j].BatterySize {
			return prices[i].BatterySize < prices[j].BatterySize
		}
		return prices[i].Condition < prices[j].Condition
	})
	return prices, nil
}

func (s *Store) GetTradeInPrice(_ context.Context, size int, condition domain.TradeInCondition) (*domain.TradeInPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.tradeInPrices[priceKey(size, condition)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) FindUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.usersByUsername[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalidEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	if password == "" {
		return store.ErrInvalidEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = password
	s.usersByUsername[username] = u
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}
