package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/quantsim/sim-exchange/internal/model"
	"github.com/quantsim/sim-exchange/internal/sim"
)

// MACross buys on a golden cross of the short over the long simple moving
// average when flat, and sells the available position on a death cross.
type MACross struct {
	short, long int
	sizer       Sizer
	closes      *history
}

// NewMACross creates a moving-average crossover strategy.
func NewMACross(short, long int, sizer Sizer) *MACross {
	return &MACross{short: short, long: long, sizer: sizer, closes: newHistory(long)}
}

// Decide implements sim.Strategy.
func (s *MACross) Decide(_ context.Context, h sim.Handle, _ time.Time, data map[string]model.MarketEvent) ([]model.Signal, error) {
	positions := positionsBySymbol(h)
	cash := h.AccountInfo().AvailableCash

	var signals []model.Signal
	for _, sym := range sortedSymbols(data) {
		ev := data[sym]
		closes := s.closes.push(sym, ev.Price)
		if len(closes) < s.long {
			continue
		}
		fast := last(talib.Sma(closes, s.short))
		slow := last(talib.Sma(closes, s.long))
		pos := positions[sym]

		switch {
		case fast > slow && pos.Volume == 0:
			if vol := s.sizer.Volume(cash, ev.Price); vol > 0 {
				slog.Debug("ma cross buy", "symbol", sym, "fast", fast, "slow", slow, "volume", vol)
				signals = append(signals, marketOrder(sym, model.Buy, vol))
				cash = cash.Sub(ev.Price.Mul(decimalFromInt(vol)))
			}
		case fast < slow && pos.AvailableVolume > 0:
			slog.Debug("ma cross sell", "symbol", sym, "fast", fast, "slow", slow, "volume", pos.AvailableVolume)
			signals = append(signals, marketOrder(sym, model.Sell, pos.AvailableVolume))
		}
	}
	return signals, nil
}

// RSI buys when the relative strength index drops below the oversold level
// while flat, and sells the available position above the overbought level.
type RSI struct {
	period               int
	oversold, overbought float64
	sizer                Sizer
	closes               *history
}

// NewRSI creates an RSI mean-reversion strategy.
func NewRSI(period int, oversold, overbought float64, sizer Sizer) *RSI {
	return &RSI{
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		sizer:      sizer,
		closes:     newHistory(period * 4),
	}
}

// Decide implements sim.Strategy.
func (s *RSI) Decide(_ context.Context, h sim.Handle, _ time.Time, data map[string]model.MarketEvent) ([]model.Signal, error) {
	positions := positionsBySymbol(h)
	cash := h.AccountInfo().AvailableCash

	var signals []model.Signal
	for _, sym := range sortedSymbols(data) {
		ev := data[sym]
		closes := s.closes.push(sym, ev.Price)
		if len(closes) <= s.period {
			continue
		}
		rsi := last(talib.Rsi(closes, s.period))
		pos := positions[sym]

		switch {
		case rsi < s.oversold && pos.Volume == 0:
			if vol := s.sizer.Volume(cash, ev.Price); vol > 0 {
				signals = append(signals, marketOrder(sym, model.Buy, vol))
				cash = cash.Sub(ev.Price.Mul(decimalFromInt(vol)))
			}
		case rsi > s.overbought && pos.AvailableVolume > 0:
			signals = append(signals, marketOrder(sym, model.Sell, pos.AvailableVolume))
		}
	}
	return signals, nil
}

func last(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return v[len(v)-1]
}
