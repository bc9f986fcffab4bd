// Package store defines the persistence interface for the simulator.
// Implementations include SQLite via gorm (default, file based, backed up by
// Backups), PostgreSQL, a Redis read-through cache, and in-memory (for
// testing). Orders, trades and snapshots are append-only.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. It satisfies exchange.Journal and the
// controller's snapshot sink.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account with all capital available and
	// returns its generated id.
	CreateAccount(ctx context.Context, initialCapital decimal.Decimal, strategyType string) (string, error)

	// SaveAccount overwrites the current account row.
	SaveAccount(ctx context.Context, account model.Account) error

	// GetAccount retrieves an account by id.
	GetAccount(ctx context.Context, id string) (model.Account, error)

	// --- Append-only journal ---

	// RecordOrder appends the current state of an order.
	RecordOrder(ctx context.Context, order model.Order) error

	// RecordTrade appends an immutable fill.
	RecordTrade(ctx context.Context, trade model.Trade) error

	// ListOrders returns the latest recorded state of every order of the
	// account, in submission order.
	ListOrders(ctx context.Context, accountID string) ([]model.Order, error)

	// ListTrades returns the account's fills in execution order.
	ListTrades(ctx context.Context, accountID string) ([]model.Trade, error)

	// --- Snapshots ---

	// SaveSnapshot appends a ledger snapshot.
	SaveSnapshot(ctx context.Context, snap model.Snapshot) error

	// LatestSnapshot returns the highest-sequence snapshot of the account.
	LatestSnapshot(ctx context.Context, accountID string) (model.Snapshot, error)

	// ListSnapshots returns all snapshots of the account by sequence.
	ListSnapshots(ctx context.Context, accountID string) ([]model.Snapshot, error)

	// Close releases the underlying connection.
	Close() error
}

// latestOrders collapses an order event log into the last state per order,
// sorted by submission sequence.
func latestOrders(events []model.Order) []model.Order {
	idx := make(map[string]int, len(events))
	out := make([]model.Order, 0, len(events))
	for _, o := range events {
		if i, ok := idx[o.ID]; ok {
			out[i] = o
			continue
		}
		idx[o.ID] = len(out)
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
