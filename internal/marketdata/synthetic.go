package marketdata

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/calendar"
	"github.com/quantsim/sim-exchange/internal/fees"
	"github.com/quantsim/sim-exchange/internal/model"
)

// SyntheticQuotes produces deterministic pseudo-random quotes for offline
// development. Each call to Quotes advances every symbol one step of a
// random walk, kept inside the symbol's daily price band.
type SyntheticQuotes struct {
	Seed       int64
	Volatility float64 // per-step relative move; default 0.002
	Start      decimal.Decimal
	Volume     int64
	Now        func() time.Time

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]decimal.Decimal
	prev   map[string]decimal.Decimal
	day    time.Time
}

// Quotes returns one fresh quote per parseable symbol.
func (s *SyntheticQuotes) Quotes(_ context.Context, symbols []string) ([]model.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	now := s.Now()
	if day := calendar.StartOfDay(now); !day.Equal(s.day) {
		if !s.day.IsZero() {
			for sym, p := range s.prices {
				s.prev[sym] = p
			}
		}
		s.day = day
	}

	out := make([]model.Quote, 0, len(symbols))
	for _, raw := range symbols {
		sym, err := fees.ParseSymbol(raw)
		if err != nil {
			continue
		}
		price, ok := s.prices[raw]
		if !ok {
			price = s.Start.Mul(decimal.NewFromFloat(1 + s.rng.Float64()*0.5)).Round(2)
			s.prev[raw] = price
		}
		step := (s.rng.Float64() - 0.5) * 2 * s.Volatility
		price = price.Mul(decimal.NewFromFloat(1 + step)).Round(2)

		lo, hi := sym.PriceBand(s.prev[raw], false)
		price = decimal.Max(lo, decimal.Min(hi, price))
		if !price.IsPositive() {
			price = decimal.New(1, -2)
		}
		s.prices[raw] = price

		out = append(out, model.Quote{
			Symbol:    raw,
			Price:     price,
			Volume:    s.Volume,
			PrevClose: s.prev[raw],
			Timestamp: now,
		})
	}
	return out, nil
}

func (s *SyntheticQuotes) init() {
	if s.rng != nil {
		return
	}
	s.rng = rand.New(rand.NewSource(s.Seed))
	s.prices = make(map[string]decimal.Decimal)
	s.prev = make(map[string]decimal.Decimal)
	if s.Volatility <= 0 {
		s.Volatility = 0.002
	}
	if !s.Start.IsPositive() {
		s.Start = decimal.NewFromInt(10)
	}
	if s.Now == nil {
		s.Now = time.Now
	}
}

// SyntheticBars generates one daily bar per trading day in [start, end] for
// each symbol from a seeded random walk. The same seed always yields the
// same series.
func SyntheticBars(cal *calendar.Calendar, symbols []string, start, end time.Time, seed int64) *MemorySource {
	rng := rand.New(rand.NewSource(seed))
	src := NewMemorySource()
	days := cal.TradingDays(start, end)

	for _, raw := range symbols {
		sym, err := fees.ParseSymbol(raw)
		if err != nil {
			continue
		}
		prev := decimal.NewFromFloat(5 + rng.Float64()*45).Round(2)
		bars := make([]model.Bar, 0, len(days))
		for _, day := range days {
			lo, hi := sym.PriceBand(prev, false)
			move := (rng.Float64() - 0.5) * 0.06
			closePx := clamp(prev.Mul(decimal.NewFromFloat(1+move)).Round(2), lo, hi)
			openPx := clamp(prev.Mul(decimal.NewFromFloat(1+(rng.Float64()-0.5)*0.02)).Round(2), lo, hi)
			high := clamp(decimal.Max(openPx, closePx).Mul(decimal.NewFromFloat(1+rng.Float64()*0.01)).Round(2), lo, hi)
			low := clamp(decimal.Min(openPx, closePx).Mul(decimal.NewFromFloat(1-rng.Float64()*0.01)).Round(2), lo, hi)

			bars = append(bars, model.Bar{
				Symbol:    raw,
				Timestamp: cal.MarketClose(day),
				Open:      openPx,
				High:      high,
				Low:       low,
				Close:     closePx,
				Volume:    int64(100000 + rng.Intn(900000)),
				PrevClose: prev,
			})
			prev = closePx
		}
		src.AddBars(bars...)
	}
	return src
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	return decimal.Max(lo, decimal.Min(hi, v))
}
