package sim

import (
	"context"
	"fmt"

	"github.com/quantsim/sim-exchange/internal/model"
)

// Journal is the persisted history a resumed account is rebuilt from.
type Journal interface {
	LatestSnapshot(ctx context.Context, accountID string) (model.Snapshot, error)
	ListOrders(ctx context.Context, accountID string) ([]model.Order, error)
	ListTrades(ctx context.Context, accountID string) ([]model.Trade, error)
}

// Checkpoint is where a stored account left off: its latest snapshot plus
// the order and trade journal needed to continue numbering after it.
type Checkpoint struct {
	Snapshot model.Snapshot
	Orders   []model.Order
	Trades   []model.Trade
}

// LoadCheckpoint reads the resume state of accountID.
func LoadCheckpoint(ctx context.Context, j Journal, accountID string) (Checkpoint, error) {
	snap, err := j.LatestSnapshot(ctx, accountID)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load snapshot for %s: %w", accountID, err)
	}
	orders, err := j.ListOrders(ctx, accountID)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load orders for %s: %w", accountID, err)
	}
	trades, err := j.ListTrades(ctx, accountID)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load trades for %s: %w", accountID, err)
	}
	return Checkpoint{Snapshot: snap, Orders: orders, Trades: trades}, nil
}
