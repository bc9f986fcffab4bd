package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantsim/sim-exchange/internal/calendar"
	"github.com/quantsim/sim-exchange/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(n int, hour int) time.Time {
	return time.Date(2024, 1, 1+n, hour, 0, 0, 0, calendar.Location)
}

func TestMaxDrawdown(t *testing.T) {
	assert.InDelta(t, 0.25, MaxDrawdown([]float64{100, 120, 90, 110, 95}), 1e-12)
	assert.Zero(t, MaxDrawdown([]float64{100, 101, 102}))
	assert.Zero(t, MaxDrawdown(nil))
}

func TestDailyCloses_KeepsLastPointPerDay(t *testing.T) {
	curve := []Point{
		{Time: day(1, 10), Equity: d("100")},
		{Time: day(1, 14), Equity: d("101")},
		{Time: day(2, 10), Equity: d("99")},
	}
	daily := DailyCloses(curve)
	require.Len(t, daily, 2)
	assert.True(t, daily[0].Equity.Equal(d("101")))
}

func TestAnalyze_Returns(t *testing.T) {
	a := New(d("1000000"))
	curve := []Point{
		{Time: day(1, 15), Equity: d("1000000")},
		{Time: day(2, 15), Equity: d("1010000")},
		{Time: day(3, 15), Equity: d("1005000")},
		{Time: day(4, 15), Equity: d("1020000")},
	}
	r := a.Analyze(curve, nil)

	assert.Equal(t, 4, r.TradingDays)
	assert.InDelta(t, 0.02, r.TotalReturn, 1e-12)
	assert.InDelta(t, math.Pow(1.02, 252.0/4)-1, r.AnnualizedReturn, 1e-9)
	assert.InDelta(t, 5000.0/1010000.0, r.MaxDrawdown, 1e-12)
	assert.Greater(t, r.SharpeRatio, 0.0)
	assert.InDelta(t, r.AnnualizedReturn/r.MaxDrawdown, r.CalmarRatio, 1e-9)
	assert.True(t, r.FinalEquity.Equal(d("1020000")))
}

func TestAnalyze_EmptyCurve(t *testing.T) {
	r := New(d("1000000")).Analyze(nil, nil)
	assert.Zero(t, r.TradingDays)
	assert.Zero(t, r.TotalReturn)
	assert.True(t, r.FinalEquity.Equal(d("1000000")))
}

func TestAnalyze_TradeStats(t *testing.T) {
	trades := []model.Trade{
		{Side: model.Buy, Commission: d("5")},
		{Side: model.Sell, RealizedPnL: d("43.9"), Commission: d("5"), StampTax: d("1.1")},
		{Side: model.Sell, RealizedPnL: d("100"), Commission: d("5")},
		{Side: model.Sell, RealizedPnL: d("-50"), Commission: d("5")},
	}
	r := New(d("1000000")).Analyze(nil, trades)

	assert.Equal(t, 4, r.TotalTrades)
	assert.Equal(t, 3, r.ClosingTrades)
	assert.Equal(t, 2, r.WinningTrades)
	assert.Equal(t, 1, r.LosingTrades)
	assert.InDelta(t, 2.0/3.0, r.WinRate, 1e-12)
	assert.InDelta(t, 71.95/50.0, r.ProfitLossRatio, 1e-9)
	assert.True(t, r.TotalFees.Equal(d("21.1")), r.TotalFees.String())
	assert.Contains(t, r.String(), "Win Rate")
}
