package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/calendar"
	"github.com/quantsim/sim-exchange/internal/metrics"
	"github.com/quantsim/sim-exchange/internal/model"
)

// CSVSource reads daily or intraday bars from <dir>/<symbol>.csv with the
// header date,open,high,low,close,volume[,prev_close]. Date-only rows are
// stamped at the market close of that day. Parsed files are kept in an LRU
// cache keyed by symbol.
type CSVSource struct {
	dir   string
	cal   *calendar.Calendar
	cache *lru.Cache
}

// NewCSVSource creates a source over dir caching up to cacheSize symbols.
func NewCSVSource(dir string, cal *calendar.Calendar, cacheSize int) (*CSVSource, error) {
	if cacheSize <= 0 {
		cacheSize = 64
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	if cal == nil {
		cal = calendar.New()
	}
	return &CSVSource{dir: dir, cal: cal, cache: cache}, nil
}

// Bars returns symbol's bars with timestamps in [start, end].
func (s *CSVSource) Bars(_ context.Context, symbol string, start, end time.Time) ([]model.Bar, error) {
	if cached, ok := s.cache.Get(symbol); ok {
		return window(cached.([]model.Bar), start, end), nil
	}

	path := filepath.Join(s.dir, symbol+".csv")
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		metrics.MarketDataErrors.Inc()
		return nil, fmt.Errorf("%w: %s", ErrNoData, path)
	}
	if err != nil {
		metrics.MarketDataErrors.Inc()
		return nil, err
	}
	defer f.Close()

	bars, err := s.parse(symbol, f)
	if err != nil {
		metrics.MarketDataErrors.Inc()
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	s.cache.Add(symbol, bars)
	return window(bars, start, end), nil
}

func (s *CSVSource) parse(symbol string, r io.Reader) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range []string{"date", "open", "high", "low", "close", "volume"} {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("missing column %q", c)
		}
	}
	prevCol, hasPrev := cols["prev_close"]

	var bars []model.Bar
	var last decimal.Decimal
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := s.timestamp(rec[cols["date"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		b := model.Bar{Symbol: symbol, Timestamp: ts}
		for name, dst := range map[string]*decimal.Decimal{
			"open": &b.Open, "high": &b.High, "low": &b.Low, "close": &b.Close,
		} {
			if *dst, err = decimal.NewFromString(rec[cols[name]]); err != nil {
				return nil, fmt.Errorf("line %d %s: %w", line, name, err)
			}
		}
		vol, err := strconv.ParseFloat(rec[cols["volume"]], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d volume: %w", line, err)
		}
		b.Volume = int64(vol)

		b.PrevClose = last
		if hasPrev && prevCol < len(rec) && rec[prevCol] != "" {
			if b.PrevClose, err = decimal.NewFromString(rec[prevCol]); err != nil {
				return nil, fmt.Errorf("line %d prev_close: %w", line, err)
			}
		}
		last = b.Close
		bars = append(bars, b)
	}
	return bars, nil
}

func (s *CSVSource) timestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.ParseInLocation(time.DateTime, v, calendar.Location); err == nil {
		return t, nil
	}
	day, err := calendar.ParseDate(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", v, err)
	}
	return s.cal.MarketClose(day), nil
}
