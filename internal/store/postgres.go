package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/model"
)

// Schema is the PostgreSQL DDL applied by Migrate. Monetary columns are
// NUMERIC; orders are an event log keyed by a serial.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id              TEXT PRIMARY KEY,
	total_cash      NUMERIC NOT NULL,
	available_cash  NUMERIC NOT NULL,
	frozen_cash     NUMERIC NOT NULL,
	realized_pnl    NUMERIC NOT NULL,
	initial_capital NUMERIC NOT NULL,
	strategy_type   TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS order_events (
	event_id       BIGSERIAL PRIMARY KEY,
	order_id       TEXT NOT NULL,
	account_id     TEXT NOT NULL,
	symbol         TEXT NOT NULL,
	side           TEXT NOT NULL,
	order_type     TEXT NOT NULL,
	volume         BIGINT NOT NULL,
	filled_volume  BIGINT NOT NULL,
	price          NUMERIC NOT NULL,
	avg_fill_price NUMERIC NOT NULL,
	status         TEXT NOT NULL,
	reject_code    TEXT NOT NULL DEFAULT '',
	reject_detail  TEXT NOT NULL DEFAULT '',
	reserved       NUMERIC NOT NULL,
	seq            BIGINT NOT NULL,
	submitted_at   TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS order_events_account_idx ON order_events (account_id, event_id);

CREATE TABLE IF NOT EXISTS trades (
	id           TEXT NOT NULL,
	account_id   TEXT NOT NULL,
	order_id     TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	side         TEXT NOT NULL,
	volume       BIGINT NOT NULL,
	price        NUMERIC NOT NULL,
	commission   NUMERIC NOT NULL,
	transfer_fee NUMERIC NOT NULL,
	stamp_tax    NUMERIC NOT NULL,
	realized_pnl NUMERIC NOT NULL,
	executed_at  TIMESTAMPTZ NOT NULL,
	seq          BIGINT NOT NULL,
	PRIMARY KEY (account_id, id)
);

CREATE TABLE IF NOT EXISTS snapshots (
	account_id   TEXT NOT NULL,
	seq          BIGINT NOT NULL,
	taken_at     TIMESTAMPTZ NOT NULL,
	total_assets NUMERIC NOT NULL,
	account      JSONB NOT NULL,
	positions    JSONB NOT NULL,
	PRIMARY KEY (account_id, seq)
);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, capital decimal.Decimal, strategyType string) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, total_cash, available_cash, frozen_cash, realized_pnl, initial_capital, strategy_type, created_at, updated_at)
		 VALUES ($1, $2::NUMERIC, $2::NUMERIC, 0, 0, $2::NUMERIC, $3, $4, $4)`,
		id, capital.String(), strategyType, now,
	)
	if err != nil {
		return "", fmt.Errorf("create account: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) SaveAccount(ctx context.Context, a model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, total_cash, available_cash, frozen_cash, realized_pnl, initial_capital, strategy_type, created_at, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE
		 SET total_cash = EXCLUDED.total_cash,
		     available_cash = EXCLUDED.available_cash,
		     frozen_cash = EXCLUDED.frozen_cash,
		     realized_pnl = EXCLUDED.realized_pnl,
		     updated_at = EXCLUDED.updated_at`,
		a.ID, a.TotalCash.String(), a.AvailableCash.String(), a.FrozenCash.String(),
		a.RealizedPnL.String(), a.InitialCapital.String(),
		a.StrategyType, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (model.Account, error) {
	var a model.Account
	var total, avail, frozen, realized, initial string

	err := s.pool.QueryRow(ctx,
		`SELECT id, total_cash::TEXT, available_cash::TEXT, frozen_cash::TEXT,
		        realized_pnl::TEXT, initial_capital::TEXT,
		        strategy_type, created_at, updated_at
		 FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &total, &avail, &frozen,
			&realized, &initial,
			&a.StrategyType, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}

	a.TotalCash, _ = decimal.NewFromString(total)
	a.AvailableCash, _ = decimal.NewFromString(avail)
	a.FrozenCash, _ = decimal.NewFromString(frozen)
	a.RealizedPnL, _ = decimal.NewFromString(realized)
	a.InitialCapital, _ = decimal.NewFromString(initial)
	return a, nil
}

func (s *PostgresStore) RecordOrder(ctx context.Context, o model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO order_events (order_id, account_id, symbol, side, order_type, volume, filled_volume,
		                           price, avg_fill_price, status, reject_code, reject_detail, reserved,
		                           seq, submitted_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10, $11, $12, $13::NUMERIC, $14, $15, $16)`,
		o.ID, o.AccountID, o.Symbol, string(o.Side), string(o.Type), o.Volume, o.FilledVolume,
		o.Price.String(), o.AvgFillPrice.String(), string(o.Status), string(o.RejectCode), o.RejectDetail,
		o.Reserved.String(), o.Seq, o.SubmittedAt, o.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) RecordTrade(ctx context.Context, t model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, account_id, order_id, symbol, side, volume, price,
		                     commission, transfer_fee, stamp_tax, realized_pnl, executed_at, seq)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12, $13)`,
		t.ID, t.AccountID, t.OrderID, t.Symbol, string(t.Side), t.Volume, t.Price.String(),
		t.Commission.String(), t.TransferFee.String(), t.StampTax.String(), t.RealizedPnL.String(),
		t.Timestamp, t.Seq,
	)
	return err
}

func (s *PostgresStore) ListOrders(ctx context.Context, accountID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT order_id, account_id, symbol, side, order_type, volume, filled_volume,
		        price::TEXT, avg_fill_price::TEXT, status, reject_code, reject_detail,
		        reserved::TEXT, seq, submitted_at, updated_at
		 FROM order_events WHERE account_id = $1 ORDER BY event_id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}
	return latestOrders(events), nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, accountID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, order_id, symbol, side, volume, price::TEXT,
		        commission::TEXT, transfer_fee::TEXT, stamp_tax::TEXT, realized_pnl::TEXT,
		        executed_at, seq
		 FROM trades WHERE account_id = $1 ORDER BY seq`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	acct, err := json.Marshal(snap.Account)
	if err != nil {
		return err
	}
	positions, err := json.Marshal(snap.Positions)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO snapshots (account_id, seq, taken_at, total_assets, account, positions)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		snap.AccountID, snap.Seq, snap.Timestamp, snap.TotalAssets().String(), acct, positions,
	)
	return err
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, accountID string) (model.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, seq, taken_at, account, positions
		 FROM snapshots WHERE account_id = $1 ORDER BY seq DESC LIMIT 1`, accountID)
	if err != nil {
		return model.Snapshot{}, err
	}
	defer rows.Close()

	snaps, err := scanSnapshots(rows)
	if err != nil {
		return model.Snapshot{}, err
	}
	if len(snaps) == 0 {
		return model.Snapshot{}, fmt.Errorf("snapshot for %s: %w", accountID, ErrNotFound)
	}
	return snaps[0], nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, accountID string) ([]model.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, seq, taken_at, account, positions
		 FROM snapshots WHERE account_id = $1 ORDER BY seq`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// pgxRows is the subset of pgx.Rows the scan helpers read.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanOrders(rows pgxRows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var side, typ, status, code string
		var priceS, avgS, reservedS string

		if err := rows.Scan(&o.ID, &o.AccountID, &o.Symbol, &side, &typ, &o.Volume, &o.FilledVolume,
			&priceS, &avgS, &status, &code, &o.RejectDetail,
			&reservedS, &o.Seq, &o.SubmittedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}

		o.Side = model.Side(side)
		o.Type = model.OrderType(typ)
		o.Status = model.OrderStatus(status)
		o.RejectCode = model.RejectCode(code)
		o.Price, _ = decimal.NewFromString(priceS)
		o.AvgFillPrice, _ = decimal.NewFromString(avgS)
		o.Reserved, _ = decimal.NewFromString(reservedS)

		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanTrades(rows pgxRows) ([]model.Trade, error) {
	trades := []model.Trade{}
	for rows.Next() {
		var t model.Trade
		var side string
		var priceS, commS, transferS, stampS, realizedS string

		if err := rows.Scan(&t.ID, &t.AccountID, &t.OrderID, &t.Symbol, &side, &t.Volume, &priceS,
			&commS, &transferS, &stampS, &realizedS,
			&t.Timestamp, &t.Seq); err != nil {
			return nil, err
		}

		t.Side = model.Side(side)
		t.Price, _ = decimal.NewFromString(priceS)
		t.Commission, _ = decimal.NewFromString(commS)
		t.TransferFee, _ = decimal.NewFromString(transferS)
		t.StampTax, _ = decimal.NewFromString(stampS)
		t.RealizedPnL, _ = decimal.NewFromString(realizedS)

		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func scanSnapshots(rows pgxRows) ([]model.Snapshot, error) {
	snaps := []model.Snapshot{}
	for rows.Next() {
		var snap model.Snapshot
		var acct, positions []byte

		if err := rows.Scan(&snap.AccountID, &snap.Seq, &snap.Timestamp, &acct, &positions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(acct, &snap.Account); err != nil {
			return nil, fmt.Errorf("decode snapshot %s/%d account: %w", snap.AccountID, snap.Seq, err)
		}
		if err := json.Unmarshal(positions, &snap.Positions); err != nil {
			return nil, fmt.Errorf("decode snapshot %s/%d positions: %w", snap.AccountID, snap.Seq, err)
		}

		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
