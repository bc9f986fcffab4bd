package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV period for a symbol. PrevClose is zero when unknown.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
	PrevClose decimal.Decimal `json:"prev_close"`
}

// Event reduces the bar to a trade price at its timestamp.
func (b Bar) Event() MarketEvent {
	return MarketEvent{
		Symbol:    b.Symbol,
		Timestamp: b.Timestamp,
		Price:     b.Close,
		Volume:    b.Volume,
		PrevClose: b.PrevClose,
	}
}

// Quote is a live last-trade observation.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
	PrevClose decimal.Decimal `json:"prev_close"`
	Timestamp time.Time       `json:"timestamp"`
}

// Event reduces the quote to a trade price at its timestamp.
func (q Quote) Event() MarketEvent {
	return MarketEvent{
		Symbol:    q.Symbol,
		Timestamp: q.Timestamp,
		Price:     q.Price,
		Volume:    q.Volume,
		PrevClose: q.PrevClose,
	}
}

// MarketEvent is "trade price for symbol at time T", the only shape of
// market data the engine consumes. Volume of zero means liquidity is not
// modeled for the event.
type MarketEvent struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
	PrevClose decimal.Decimal `json:"prev_close"`
}
