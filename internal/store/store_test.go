package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantsim/sim-exchange/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlStore, err := OpenSQLite(filepath.Join(t.TempDir(), "sim.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
}

func TestStore_AccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			id, err := s.CreateAccount(ctx, d("1000000"), "ma_cross")
			require.NoError(t, err)
			require.NotEmpty(t, id)

			a, err := s.GetAccount(ctx, id)
			require.NoError(t, err)
			assert.True(t, a.AvailableCash.Equal(d("1000000")))
			assert.True(t, a.FrozenCash.IsZero())
			assert.Equal(t, "ma_cross", a.StrategyType)

			a.AvailableCash = d("998994.99")
			a.FrozenCash = d("1005.01")
			a.UpdatedAt = t0
			require.NoError(t, s.SaveAccount(ctx, a))

			got, err := s.GetAccount(ctx, id)
			require.NoError(t, err)
			assert.True(t, got.AvailableCash.Equal(d("998994.99")), got.AvailableCash.String())
			assert.True(t, got.FrozenCash.Equal(d("1005.01")))
			assert.True(t, got.TotalCash.Equal(d("1000000")))
		})
	}
}

func TestStore_GetAccountNotFound(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.GetAccount(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_OrdersCollapseToLatestState(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			a := model.Order{
				ID: "O00000001", AccountID: "acct", Symbol: "600519.SH", Side: model.Buy,
				Type: model.Limit, Volume: 200, Price: d("10.50"), Status: model.StatusPending,
				Reserved: d("2105.00"), Seq: 1, SubmittedAt: t0, UpdatedAt: t0,
			}
			b := a
			b.ID, b.Seq = "O00000002", 2

			require.NoError(t, s.RecordOrder(ctx, a))
			require.NoError(t, s.RecordOrder(ctx, b))

			a.Status = model.StatusPartiallyFilled
			a.FilledVolume = 100
			a.AvgFillPrice = d("10.5")
			require.NoError(t, s.RecordOrder(ctx, a))
			a.Status = model.StatusFilled
			a.FilledVolume = 200
			require.NoError(t, s.RecordOrder(ctx, a))

			orders, err := s.ListOrders(ctx, "acct")
			require.NoError(t, err)
			require.Len(t, orders, 2)
			assert.Equal(t, "O00000001", orders[0].ID)
			assert.Equal(t, model.StatusFilled, orders[0].Status)
			assert.Equal(t, int64(200), orders[0].FilledVolume)
			assert.Equal(t, model.StatusPending, orders[1].Status)
			assert.True(t, orders[0].Price.Equal(d("10.50")))

			other, err := s.ListOrders(ctx, "other")
			require.NoError(t, err)
			assert.Empty(t, other)
		})
	}
}

func TestStore_TradesInExecutionOrder(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for i, id := range []string{"T00000001", "T00000002"} {
				require.NoError(t, s.RecordTrade(ctx, model.Trade{
					ID: id, OrderID: "O00000001", AccountID: "acct", Symbol: "000001.SZ",
					Side: model.Sell, Volume: 100, Price: d("11.00"),
					Commission: d("5"), StampTax: d("1.10"), RealizedPnL: d("43.90"),
					Timestamp: t0.Add(time.Duration(i) * time.Minute), Seq: int64(i + 1),
				}))
			}

			trades, err := s.ListTrades(ctx, "acct")
			require.NoError(t, err)
			require.Len(t, trades, 2)
			assert.Equal(t, "T00000001", trades[0].ID)
			assert.True(t, trades[1].Fees().Equal(d("6.10")))
			assert.True(t, trades[1].RealizedPnL.Equal(d("43.9")))
		})
	}
}

func TestStore_Snapshots(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.LatestSnapshot(ctx, "acct")
			assert.ErrorIs(t, err, ErrNotFound)

			for seq := int64(1); seq <= 3; seq++ {
				require.NoError(t, s.SaveSnapshot(ctx, model.Snapshot{
					AccountID: "acct",
					Seq:       seq,
					Timestamp: t0.Add(time.Duration(seq) * time.Hour),
					Account:   model.Account{ID: "acct", TotalCash: d("998000")},
					Positions: []model.Position{{Symbol: "000001.SZ", Volume: seq * 100, LastPrice: d("10")}},
				}))
			}

			latest, err := s.LatestSnapshot(ctx, "acct")
			require.NoError(t, err)
			assert.Equal(t, int64(3), latest.Seq)
			require.Len(t, latest.Positions, 1)
			assert.True(t, latest.TotalAssets().Equal(d("1001000")))

			all, err := s.ListSnapshots(ctx, "acct")
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, int64(1), all[0].Seq)
		})
	}
}
