// Package calendar answers "is the exchange open" questions for the
// China A-share market: weekday trading days minus an injected holiday set,
// with a morning and an afternoon continuous session in exchange time (UTC+8).
package calendar

import (
	"sort"
	"time"
)

// Location is exchange-local time. A fixed zone keeps results identical
// on hosts without tzdata.
var Location = time.FixedZone("CST", 8*60*60)

type session struct {
	open, close time.Duration // offsets from local midnight, both inclusive
}

var sessions = []session{
	{open: 9*time.Hour + 30*time.Minute, close: 11*time.Hour + 30*time.Minute},
	{open: 13 * time.Hour, close: 15 * time.Hour},
}

// Calendar is read-only after construction apart from AddHoliday, which is
// meant for setup only.
type Calendar struct {
	holidays map[string]struct{}
}

// New creates a calendar with the given holidays. Only the date part of
// each holiday is used.
func New(holidays ...time.Time) *Calendar {
	c := &Calendar{holidays: make(map[string]struct{}, len(holidays))}
	for _, h := range holidays {
		c.AddHoliday(h)
	}
	return c
}

// AddHoliday marks the date of t as closed.
func (c *Calendar) AddHoliday(t time.Time) {
	c.holidays[dateKey(t)] = struct{}{}
}

// IsTradingDay reports whether the exchange opens on the date of t.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(Location)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, closed := c.holidays[dateKey(local)]
	return !closed
}

// IsTradingTime reports whether t falls inside a continuous session on a
// trading day. Session boundaries are inclusive.
func (c *Calendar) IsTradingTime(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	offset := sinceMidnight(t)
	for _, s := range sessions {
		if offset >= s.open && offset <= s.close {
			return true
		}
	}
	return false
}

// NextTradingDay returns local midnight of the first trading day strictly
// after the date of t.
func (c *Calendar) NextTradingDay(t time.Time) time.Time {
	d := StartOfDay(t).AddDate(0, 0, 1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// PrevTradingDay returns local midnight of the last trading day strictly
// before the date of t.
func (c *Calendar) PrevTradingDay(t time.Time) time.Time {
	d := StartOfDay(t).AddDate(0, 0, -1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// TradingDays lists local midnights of every trading day in [start, end].
func (c *Calendar) TradingDays(start, end time.Time) []time.Time {
	var days []time.Time
	last := StartOfDay(end)
	for d := StartOfDay(start); !d.After(last); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// MarketOpen is the morning session open on the date of t.
func (c *Calendar) MarketOpen(t time.Time) time.Time {
	return StartOfDay(t).Add(sessions[0].open)
}

// MarketClose is the afternoon session close on the date of t. Date-only
// daily bars are stamped at this instant.
func (c *Calendar) MarketClose(t time.Time) time.Time {
	return StartOfDay(t).Add(sessions[len(sessions)-1].close)
}

// TimeUntilOpen returns zero while trading, otherwise the wait until the
// next session opens.
func (c *Calendar) TimeUntilOpen(t time.Time) time.Duration {
	if c.IsTradingTime(t) {
		return 0
	}
	if c.IsTradingDay(t) {
		offset := sinceMidnight(t)
		for _, s := range sessions {
			if offset < s.open {
				return s.open - offset
			}
		}
	}
	return c.MarketOpen(c.NextTradingDay(t)).Sub(t)
}

// Holidays returns the configured holiday dates in ascending order.
func (c *Calendar) Holidays() []string {
	out := make([]string, 0, len(c.holidays))
	for k := range c.holidays {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// StartOfDay returns exchange-local midnight of the date of t.
func StartOfDay(t time.Time) time.Time {
	l := t.In(Location)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, Location)
}

// SameDay reports whether a and b fall on the same exchange-local date.
func SameDay(a, b time.Time) bool {
	return dateKey(a) == dateKey(b)
}

// ParseDate parses YYYY-MM-DD as an exchange-local date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, Location)
}

func sinceMidnight(t time.Time) time.Duration {
	return t.Sub(StartOfDay(t))
}

func dateKey(t time.Time) string {
	return t.In(Location).Format("2006-01-02")
}
