// Package marketdata provides historical bars and live quotes for the
// simulation controller: CSV files on disk, fixed in-memory series, and a
// seeded synthetic random walk for offline runs.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantsim/sim-exchange/internal/model"
)

// ErrNoData is returned when a source has nothing for the requested symbol.
var ErrNoData = errors.New("marketdata: no data")

// MemorySource serves fixed bars and quotes. Safe for concurrent use.
type MemorySource struct {
	mu     sync.RWMutex
	bars   map[string][]model.Bar
	quotes map[string]model.Quote
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		bars:   make(map[string][]model.Bar),
		quotes: make(map[string]model.Quote),
	}
}

// AddBars appends bars, keeping each symbol's series sorted by time.
func (m *MemorySource) AddBars(bars ...model.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	touched := make(map[string]bool)
	for _, b := range bars {
		m.bars[b.Symbol] = append(m.bars[b.Symbol], b)
		touched[b.Symbol] = true
	}
	for sym := range touched {
		series := m.bars[sym]
		sort.SliceStable(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
	}
}

// SetQuote replaces the latest quote for q.Symbol.
func (m *MemorySource) SetQuote(q model.Quote) {
	m.mu.Lock()
	m.quotes[q.Symbol] = q
	m.mu.Unlock()
}

// Bars returns symbol's bars with timestamps in [start, end].
func (m *MemorySource) Bars(_ context.Context, symbol string, start, end time.Time) ([]model.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	series, ok := m.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}
	return window(series, start, end), nil
}

// Quotes returns the latest quote of each symbol that has one.
func (m *MemorySource) Quotes(_ context.Context, symbols []string) ([]model.Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Quote, 0, len(symbols))
	for _, s := range symbols {
		if q, ok := m.quotes[s]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// window returns the bars of a time-sorted series inside [start, end]. A
// zero bound is open.
func window(series []model.Bar, start, end time.Time) []model.Bar {
	out := make([]model.Bar, 0, len(series))
	for _, b := range series {
		if !start.IsZero() && b.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}
