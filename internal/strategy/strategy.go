// Package strategy holds sample trading strategies for the simulation
// controller. All of them trade market orders sized from available cash.
package strategy

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/model"
	"github.com/quantsim/sim-exchange/internal/sim"
)

// Options parameterizes the strategies built by New. Zero fields take the
// defaults of DefaultOptions.
type Options struct {
	ShortPeriod int     `yaml:"short_period" json:"short_period"`
	LongPeriod  int     `yaml:"long_period" json:"long_period"`
	RSIPeriod   int     `yaml:"rsi_period" json:"rsi_period"`
	Oversold    float64 `yaml:"oversold" json:"oversold"`
	Overbought  float64 `yaml:"overbought" json:"overbought"`
	Sizer       Sizer   `yaml:"-" json:"-"`
}

// DefaultOptions returns MA 5/20, RSI 14 with 30/70 thresholds and a 20%
// cash sizer.
func DefaultOptions() Options {
	return Options{
		ShortPeriod: 5,
		LongPeriod:  20,
		RSIPeriod:   14,
		Oversold:    30,
		Overbought:  70,
		Sizer:       Sizer{Fraction: decimal.NewFromFloat(0.2), LotSize: 100},
	}
}

// Names lists the strategies New understands.
var Names = []string{"ma_cross", "rsi", "buy_hold"}

// New builds a strategy by name.
func New(name string, opts Options) (sim.Strategy, error) {
	def := DefaultOptions()
	if opts.ShortPeriod <= 0 {
		opts.ShortPeriod = def.ShortPeriod
	}
	if opts.LongPeriod <= 0 {
		opts.LongPeriod = def.LongPeriod
	}
	if opts.RSIPeriod <= 0 {
		opts.RSIPeriod = def.RSIPeriod
	}
	if opts.Oversold <= 0 {
		opts.Oversold = def.Oversold
	}
	if opts.Overbought <= 0 {
		opts.Overbought = def.Overbought
	}
	if !opts.Sizer.Fraction.IsPositive() {
		opts.Sizer.Fraction = def.Sizer.Fraction
	}

	switch name {
	case "ma_cross":
		if opts.ShortPeriod >= opts.LongPeriod {
			return nil, fmt.Errorf("strategy: short period %d must be below long period %d", opts.ShortPeriod, opts.LongPeriod)
		}
		return NewMACross(opts.ShortPeriod, opts.LongPeriod, opts.Sizer), nil
	case "rsi":
		return NewRSI(opts.RSIPeriod, opts.Oversold, opts.Overbought, opts.Sizer), nil
	case "buy_hold":
		hold := opts.Sizer
		hold.Fraction = decimal.NewFromFloat(0.8)
		return NewBuyAndHold(hold), nil
	}
	return nil, fmt.Errorf("strategy: unknown strategy %q", name)
}

// Sizer converts a cash fraction into a lot-rounded volume.
type Sizer struct {
	Fraction    decimal.Decimal
	MaxNotional decimal.Decimal // optional cap, e.g. the risk order limit
	LotSize     int64
}

// Volume is the number of shares to buy at price with cash available.
func (s Sizer) Volume(cash, price decimal.Decimal) int64 {
	if !price.IsPositive() {
		return 0
	}
	budget := cash.Mul(s.Fraction)
	if s.MaxNotional.IsPositive() && budget.GreaterThan(s.MaxNotional) {
		budget = s.MaxNotional
	}
	lot := s.LotSize
	if lot <= 0 {
		lot = 100
	}
	vol := budget.Div(price).IntPart()
	return vol - vol%lot
}

// history is a bounded close-price series per symbol.
type history struct {
	max    int
	series map[string][]float64
}

func newHistory(max int) *history {
	return &history{max: max, series: make(map[string][]float64)}
}

func (h *history) push(symbol string, price decimal.Decimal) []float64 {
	s := append(h.series[symbol], price.InexactFloat64())
	if len(s) > h.max {
		s = s[len(s)-h.max:]
	}
	h.series[symbol] = s
	return s
}

// sortedSymbols gives strategies a deterministic iteration order.
func sortedSymbols(data map[string]model.MarketEvent) []string {
	out := make([]string, 0, len(data))
	for s := range data {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func positionsBySymbol(h sim.Handle) map[string]model.Position {
	out := make(map[string]model.Position)
	for _, p := range h.Positions() {
		out[p.Symbol] = p
	}
	return out
}

func marketOrder(symbol string, side model.Side, volume int64) model.Signal {
	return model.Signal{Symbol: symbol, Side: side, Type: model.Market, Volume: volume}
}
