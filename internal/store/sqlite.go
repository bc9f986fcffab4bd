package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantsim/sim-exchange/internal/model"
)

// SQLStore implements Store on a single-file SQLite database through gorm.
// Decimals are stored as TEXT so values round-trip exactly.
type SQLStore struct {
	db   *gorm.DB
	path string
}

type accountRow struct {
	ID             string          `gorm:"primaryKey"`
	TotalCash      decimal.Decimal `gorm:"type:text;not null"`
	AvailableCash  decimal.Decimal `gorm:"type:text;not null"`
	FrozenCash     decimal.Decimal `gorm:"type:text;not null"`
	RealizedPnL    decimal.Decimal `gorm:"type:text;not null"`
	InitialCapital decimal.Decimal `gorm:"type:text;not null"`
	StrategyType   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (accountRow) TableName() string { return "accounts" }

// orderRow is one entry of the order event log; an order appears once per
// status change.
type orderRow struct {
	EventID      uint   `gorm:"primaryKey;autoIncrement"`
	AccountID    string `gorm:"index:idx_orders_account_seq,priority:1;not null"`
	OrderID      string `gorm:"index;not null"`
	Symbol       string
	Side         string
	Type         string
	Volume       int64
	FilledVolume int64
	Price        decimal.Decimal `gorm:"type:text"`
	AvgFillPrice decimal.Decimal `gorm:"type:text"`
	Status       string
	RejectCode   string
	RejectDetail string
	Reserved     decimal.Decimal `gorm:"type:text"`
	Seq          int64           `gorm:"index:idx_orders_account_seq,priority:2"`
	SubmittedAt  time.Time
	UpdatedAt    time.Time
}

func (orderRow) TableName() string { return "orders" }

type tradeRow struct {
	AccountID   string `gorm:"primaryKey"`
	ID          string `gorm:"primaryKey"`
	OrderID     string `gorm:"index"`
	Symbol      string
	Side        string
	Volume      int64
	Price       decimal.Decimal `gorm:"type:text"`
	Commission  decimal.Decimal `gorm:"type:text"`
	TransferFee decimal.Decimal `gorm:"type:text"`
	StampTax    decimal.Decimal `gorm:"type:text"`
	RealizedPnL decimal.Decimal `gorm:"type:text"`
	Timestamp   time.Time
	Seq         int64 `gorm:"index"`
}

func (tradeRow) TableName() string { return "trades" }

type snapshotRow struct {
	AccountID   string `gorm:"primaryKey"`
	Seq         int64  `gorm:"primaryKey"`
	Timestamp   time.Time
	TotalAssets decimal.Decimal `gorm:"type:text"`
	Account     string          `gorm:"type:text"` // JSON
	Positions   string          `gorm:"type:text"` // JSON
}

func (snapshotRow) TableName() string { return "snapshots" }

// OpenSQLite opens (creating if needed) the database file at path and
// migrates the schema.
func OpenSQLite(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s, err := NewSQLStore(db)
	if err != nil {
		return nil, err
	}
	s.path = path
	return s, nil
}

// NewSQLStore wraps an open gorm connection and migrates the schema.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&accountRow{}, &orderRow{}, &tradeRow{}, &snapshotRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Path is the database file, empty when the store was built from a handle.
func (s *SQLStore) Path() string { return s.path }

func (s *SQLStore) CreateAccount(ctx context.Context, capital decimal.Decimal, strategyType string) (string, error) {
	now := time.Now().UTC()
	row := accountRow{
		ID:             uuid.New().String(),
		TotalCash:      capital,
		AvailableCash:  capital,
		FrozenCash:     decimal.Zero,
		RealizedPnL:    decimal.Zero,
		InitialCapital: capital,
		StrategyType:   strategyType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("create account: %w", err)
	}
	return row.ID, nil
}

func (s *SQLStore) SaveAccount(ctx context.Context, a model.Account) error {
	row := accountRow{
		ID:             a.ID,
		TotalCash:      a.TotalCash,
		AvailableCash:  a.AvailableCash,
		FrozenCash:     a.FrozenCash,
		RealizedPnL:    a.RealizedPnL,
		InitialCapital: a.InitialCapital,
		StrategyType:   a.StrategyType,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *SQLStore) GetAccount(ctx context.Context, id string) (model.Account, error) {
	var row accountRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Account{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return model.Account{
		ID:             row.ID,
		TotalCash:      row.TotalCash,
		AvailableCash:  row.AvailableCash,
		FrozenCash:     row.FrozenCash,
		RealizedPnL:    row.RealizedPnL,
		InitialCapital: row.InitialCapital,
		StrategyType:   row.StrategyType,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}, nil
}

func (s *SQLStore) RecordOrder(ctx context.Context, o model.Order) error {
	row := orderRow{
		AccountID:    o.AccountID,
		OrderID:      o.ID,
		Symbol:       o.Symbol,
		Side:         string(o.Side),
		Type:         string(o.Type),
		Volume:       o.Volume,
		FilledVolume: o.FilledVolume,
		Price:        o.Price,
		AvgFillPrice: o.AvgFillPrice,
		Status:       string(o.Status),
		RejectCode:   string(o.RejectCode),
		RejectDetail: o.RejectDetail,
		Reserved:     o.Reserved,
		Seq:          o.Seq,
		SubmittedAt:  o.SubmittedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *SQLStore) RecordTrade(ctx context.Context, t model.Trade) error {
	row := tradeRow{
		AccountID:   t.AccountID,
		ID:          t.ID,
		OrderID:     t.OrderID,
		Symbol:      t.Symbol,
		Side:        string(t.Side),
		Volume:      t.Volume,
		Price:       t.Price,
		Commission:  t.Commission,
		TransferFee: t.TransferFee,
		StampTax:    t.StampTax,
		RealizedPnL: t.RealizedPnL,
		Timestamp:   t.Timestamp,
		Seq:         t.Seq,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *SQLStore) ListOrders(ctx context.Context, accountID string) ([]model.Order, error) {
	var rows []orderRow
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("event_id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	events := make([]model.Order, 0, len(rows))
	for _, r := range rows {
		events = append(events, model.Order{
			ID:           r.OrderID,
			AccountID:    r.AccountID,
			Symbol:       r.Symbol,
			Side:         model.Side(r.Side),
			Type:         model.OrderType(r.Type),
			Volume:       r.Volume,
			FilledVolume: r.FilledVolume,
			Price:        r.Price,
			AvgFillPrice: r.AvgFillPrice,
			Status:       model.OrderStatus(r.Status),
			RejectCode:   model.RejectCode(r.RejectCode),
			RejectDetail: r.RejectDetail,
			Reserved:     r.Reserved,
			Seq:          r.Seq,
			SubmittedAt:  r.SubmittedAt,
			UpdatedAt:    r.UpdatedAt,
		})
	}
	return latestOrders(events), nil
}

func (s *SQLStore) ListTrades(ctx context.Context, accountID string) ([]model.Trade, error) {
	var rows []tradeRow
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("seq").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	trades := make([]model.Trade, 0, len(rows))
	for _, r := range rows {
		trades = append(trades, model.Trade{
			ID:          r.ID,
			OrderID:     r.OrderID,
			AccountID:   r.AccountID,
			Symbol:      r.Symbol,
			Side:        model.Side(r.Side),
			Volume:      r.Volume,
			Price:       r.Price,
			Commission:  r.Commission,
			TransferFee: r.TransferFee,
			StampTax:    r.StampTax,
			RealizedPnL: r.RealizedPnL,
			Timestamp:   r.Timestamp,
			Seq:         r.Seq,
		})
	}
	return trades, nil
}

func (s *SQLStore) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	acct, err := json.Marshal(snap.Account)
	if err != nil {
		return err
	}
	positions, err := json.Marshal(snap.Positions)
	if err != nil {
		return err
	}
	row := snapshotRow{
		AccountID:   snap.AccountID,
		Seq:         snap.Seq,
		Timestamp:   snap.Timestamp,
		TotalAssets: snap.TotalAssets(),
		Account:     string(acct),
		Positions:   string(positions),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *SQLStore) LatestSnapshot(ctx context.Context, accountID string) (model.Snapshot, error) {
	var row snapshotRow
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("seq DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Snapshot{}, fmt.Errorf("snapshot for %s: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("latest snapshot: %w", err)
	}
	return row.snapshot()
}

func (s *SQLStore) ListSnapshots(ctx context.Context, accountID string) ([]model.Snapshot, error) {
	var rows []snapshotRow
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("seq").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	snaps := make([]model.Snapshot, 0, len(rows))
	for _, r := range rows {
		snap, err := r.snapshot()
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r snapshotRow) snapshot() (model.Snapshot, error) {
	snap := model.Snapshot{AccountID: r.AccountID, Seq: r.Seq, Timestamp: r.Timestamp}
	if err := json.Unmarshal([]byte(r.Account), &snap.Account); err != nil {
		return model.Snapshot{}, fmt.Errorf("decode snapshot %s/%d account: %w", r.AccountID, r.Seq, err)
	}
	if err := json.Unmarshal([]byte(r.Positions), &snap.Positions); err != nil {
		return model.Snapshot{}, fmt.Errorf("decode snapshot %s/%d positions: %w", r.AccountID, r.Seq, err)
	}
	return snap, nil
}
