package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/quantsim/sim-exchange/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for the
// account row and the latest snapshot, the two records the HTTP surface
// polls. The journal itself is never cached.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) CreateAccount(ctx context.Context, capital decimal.Decimal, strategyType string) (string, error) {
	return s.primary.CreateAccount(ctx, capital, strategyType)
}

func (s *CachedStore) SaveAccount(ctx context.Context, a model.Account) error {
	if err := s.primary.SaveAccount(ctx, a); err != nil {
		return err
	}
	s.cache(ctx, accountKey(a.ID), a)
	return nil
}

func (s *CachedStore) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	if err := s.primary.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	// Snapshots may arrive out of order on replay; let the next read decide.
	s.rdb.Del(ctx, snapshotKey(snap.AccountID))
	return nil
}

// --- Read-through ---

func (s *CachedStore) GetAccount(ctx context.Context, id string) (model.Account, error) {
	var a model.Account
	if s.lookup(ctx, accountKey(id), &a) {
		return a, nil
	}

	a, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return model.Account{}, err
	}
	s.cache(ctx, accountKey(id), a)
	return a, nil
}

func (s *CachedStore) LatestSnapshot(ctx context.Context, accountID string) (model.Snapshot, error) {
	var snap model.Snapshot
	if s.lookup(ctx, snapshotKey(accountID), &snap) {
		return snap, nil
	}

	snap, err := s.primary.LatestSnapshot(ctx, accountID)
	if err != nil {
		return model.Snapshot{}, err
	}
	s.cache(ctx, snapshotKey(accountID), snap)
	return snap, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) RecordOrder(ctx context.Context, o model.Order) error {
	return s.primary.RecordOrder(ctx, o)
}

func (s *CachedStore) RecordTrade(ctx context.Context, t model.Trade) error {
	return s.primary.RecordTrade(ctx, t)
}

func (s *CachedStore) ListOrders(ctx context.Context, accountID string) ([]model.Order, error) {
	return s.primary.ListOrders(ctx, accountID)
}

func (s *CachedStore) ListTrades(ctx context.Context, accountID string) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, accountID)
}

func (s *CachedStore) ListSnapshots(ctx context.Context, accountID string) ([]model.Snapshot, error) {
	return s.primary.ListSnapshots(ctx, accountID)
}

// Close closes the primary store and the Redis client.
func (s *CachedStore) Close() error {
	return multierr.Combine(s.primary.Close(), s.rdb.Close())
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func accountKey(id string) string  { return fmt.Sprintf("simx:account:%s", id) }
func snapshotKey(id string) string { return fmt.Sprintf("simx:snapshot:%s", id) }
