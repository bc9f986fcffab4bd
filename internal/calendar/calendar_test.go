package calendar

import (
	"testing"
	"time"
)

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, Location)
}

func TestIsTradingDay_Weekend(t *testing.T) {
	c := New()

	if !c.IsTradingDay(at(2024, 1, 5, 10, 0)) {
		t.Error("Friday should be a trading day")
	}
	if c.IsTradingDay(at(2024, 1, 6, 10, 0)) {
		t.Error("Saturday should not be a trading day")
	}
	if c.IsTradingDay(at(2024, 1, 7, 10, 0)) {
		t.Error("Sunday should not be a trading day")
	}
}

func TestIsTradingDay_Holiday(t *testing.T) {
	c := New(at(2024, 1, 1, 0, 0))

	if c.IsTradingDay(at(2024, 1, 1, 10, 0)) {
		t.Error("holiday should not be a trading day")
	}
	if !c.IsTradingDay(at(2024, 1, 2, 10, 0)) {
		t.Error("day after holiday should be a trading day")
	}
}

func TestIsTradingTime_SessionBoundaries(t *testing.T) {
	c := New()
	day := func(hh, mm int) time.Time { return at(2024, 1, 3, hh, mm) }

	cases := []struct {
		t    time.Time
		want bool
	}{
		{day(9, 29), false},
		{day(9, 30), true},
		{day(11, 30), true},
		{day(11, 31), false},
		{day(12, 0), false},
		{day(13, 0), true},
		{day(15, 0), true},
		{day(15, 1), false},
	}
	for _, tc := range cases {
		if got := c.IsTradingTime(tc.t); got != tc.want {
			t.Errorf("IsTradingTime(%s) = %v, want %v", tc.t.Format("15:04"), got, tc.want)
		}
	}
}

func TestIsTradingTime_UTCInput(t *testing.T) {
	c := New()
	// 02:00 UTC is 10:00 in exchange time.
	utc := time.Date(2024, 1, 3, 2, 0, 0, 0, time.UTC)
	if !c.IsTradingTime(utc) {
		t.Error("expected 02:00 UTC to be inside the morning session")
	}
}

func TestNextPrevTradingDay(t *testing.T) {
	c := New(at(2024, 1, 8, 0, 0)) // Monday holiday

	fri := at(2024, 1, 5, 14, 0)
	next := c.NextTradingDay(fri)
	if want := at(2024, 1, 9, 0, 0); !next.Equal(want) {
		t.Errorf("NextTradingDay = %s, want %s", next, want)
	}

	prev := c.PrevTradingDay(at(2024, 1, 9, 10, 0))
	if want := at(2024, 1, 5, 0, 0); !prev.Equal(want) {
		t.Errorf("PrevTradingDay = %s, want %s", prev, want)
	}
}

func TestTradingDays(t *testing.T) {
	c := New(at(2024, 1, 3, 0, 0))

	days := c.TradingDays(at(2024, 1, 1, 0, 0), at(2024, 1, 7, 0, 0))
	// Mon 1, Tue 2, (Wed 3 holiday), Thu 4, Fri 5.
	if len(days) != 4 {
		t.Fatalf("expected 4 trading days, got %d: %v", len(days), days)
	}
	if !days[2].Equal(at(2024, 1, 4, 0, 0)) {
		t.Errorf("third trading day = %s", days[2])
	}
}

func TestMarketOpenClose(t *testing.T) {
	c := New()
	d := at(2024, 1, 3, 8, 0)

	if got := c.MarketOpen(d); !got.Equal(at(2024, 1, 3, 9, 30)) {
		t.Errorf("MarketOpen = %s", got)
	}
	if got := c.MarketClose(d); !got.Equal(at(2024, 1, 3, 15, 0)) {
		t.Errorf("MarketClose = %s", got)
	}
}

func TestTimeUntilOpen(t *testing.T) {
	c := New()

	if got := c.TimeUntilOpen(at(2024, 1, 3, 10, 0)); got != 0 {
		t.Errorf("during session: got %s, want 0", got)
	}
	if got := c.TimeUntilOpen(at(2024, 1, 3, 9, 0)); got != 30*time.Minute {
		t.Errorf("before open: got %s, want 30m", got)
	}
	if got := c.TimeUntilOpen(at(2024, 1, 3, 12, 0)); got != time.Hour {
		t.Errorf("lunch break: got %s, want 1h", got)
	}
	// Friday after close waits until Monday 09:30.
	want := at(2024, 1, 8, 9, 30).Sub(at(2024, 1, 5, 16, 0))
	if got := c.TimeUntilOpen(at(2024, 1, 5, 16, 0)); got != want {
		t.Errorf("after Friday close: got %s, want %s", got, want)
	}
}
