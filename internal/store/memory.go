package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]model.Account
	orders    []model.Order
	trades    []model.Trade
	snapshots []model.Snapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]model.Account),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, capital decimal.Decimal, strategyType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	id := uuid.New().String()
	s.accounts[id] = model.Account{
		ID:             id,
		TotalCash:      capital,
		AvailableCash:  capital,
		FrozenCash:     decimal.Zero,
		RealizedPnL:    decimal.Zero,
		InitialCapital: capital,
		StrategyType:   strategyType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return id, nil
}

func (s *MemoryStore) SaveAccount(_ context.Context, a model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[a.ID] = a
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return model.Account{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return a, nil
}

func (s *MemoryStore) RecordOrder(_ context.Context, o model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders = append(s.orders, o)
	return nil
}

func (s *MemoryStore) RecordTrade(_ context.Context, t model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.trades {
		if existing.ID == t.ID && existing.AccountID == t.AccountID {
			return fmt.Errorf("trade %s already recorded", t.ID)
		}
	}
	s.trades = append(s.trades, t)
	return nil
}

func (s *MemoryStore) ListOrders(_ context.Context, accountID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []model.Order
	for _, o := range s.orders {
		if o.AccountID == accountID {
			events = append(events, o)
		}
	}
	return latestOrders(events), nil
}

func (s *MemoryStore) ListTrades(_ context.Context, accountID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.Trade{}
	for _, t := range s.trades {
		if t.AccountID == accountID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation of the positions slice.
	snap.Positions = append([]model.Position(nil), snap.Positions...)
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *MemoryStore) LatestSnapshot(_ context.Context, accountID string) (model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.Snapshot
	for i := range s.snapshots {
		snap := &s.snapshots[i]
		if snap.AccountID == accountID && (latest == nil || snap.Seq > latest.Seq) {
			latest = snap
		}
	}
	if latest == nil {
		return model.Snapshot{}, fmt.Errorf("snapshot for %s: %w", accountID, ErrNotFound)
	}
	out := *latest
	out.Positions = append([]model.Position(nil), latest.Positions...)
	return out, nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context, accountID string) ([]model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.Snapshot{}
	for _, snap := range s.snapshots {
		if snap.AccountID == accountID {
			snap.Positions = append([]model.Position(nil), snap.Positions...)
			result = append(result, snap)
		}
	}
	return result, nil
}

func (s *MemoryStore) Close() error { return nil }
