package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/calendar"
	"github.com/quantsim/sim-exchange/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var day1 = time.Date(2024, 1, 2, 10, 0, 0, 0, calendar.Location)

func newLedger(t *testing.T, capital float64, opts Options) *Ledger {
	t.Helper()
	l, err := New(OpenAccount("acct-1", d(capital), "test", day1), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := l.RollDay(day1); err != nil {
		t.Fatalf("RollDay: %v", err)
	}
	return l
}

func buy(t *testing.T, l *Ledger, symbol string, vol int64, price, fee float64) Settlement {
	t.Helper()
	cost := d(price).Mul(decimal.NewFromInt(vol)).Add(d(fee))
	if err := l.Reserve(cost, day1); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	s, err := l.SettleFill(Fill{Symbol: symbol, Side: model.Buy, Volume: vol, Price: d(price), Fees: d(fee), Reserved: cost, At: day1})
	if err != nil {
		t.Fatalf("SettleFill buy: %v", err)
	}
	return s
}

func TestReserve_Exact(t *testing.T) {
	l := newLedger(t, 100000, DefaultOptions())

	if err := l.Reserve(d(1055), day1); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	a := l.View().Account
	if !a.AvailableCash.Equal(d(98945)) {
		t.Errorf("available = %s, want 98945", a.AvailableCash)
	}
	if !a.FrozenCash.Equal(d(1055)) {
		t.Errorf("frozen = %s, want 1055", a.FrozenCash)
	}
	if !a.TotalCash.Equal(d(100000)) {
		t.Errorf("total = %s, want 100000", a.TotalCash)
	}
}

func TestReserve_InsufficientFunds(t *testing.T) {
	l := newLedger(t, 1000, DefaultOptions())

	err := l.Reserve(d(1000.01), day1)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !l.View().Account.AvailableCash.Equal(d(1000)) {
		t.Error("failed reservation must not change state")
	}
}

func TestRelease_MoreThanFrozenIsInvariant(t *testing.T) {
	l := newLedger(t, 1000, DefaultOptions())
	if err := l.Reserve(d(100), day1); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(d(100.01), day1); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
	if err := l.Release(d(100), day1); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !l.View().Account.FrozenCash.IsZero() {
		t.Error("expected frozen cash back to zero")
	}
}

func TestSettleFill_BuyWeightedAverage(t *testing.T) {
	l := newLedger(t, 100000, Options{TPlusOne: false, LotSize: 100})

	buy(t, l, "000001", 100, 10, 5)
	s := buy(t, l, "000001", 300, 12, 5)

	if s.Position.Volume != 400 {
		t.Fatalf("volume = %d, want 400", s.Position.Volume)
	}
	// (100*10 + 300*12) / 400 = 11.5
	if !s.Position.AvgCost.Equal(d(11.5)) {
		t.Errorf("avg cost = %s, want 11.5", s.Position.AvgCost)
	}
	if s.Position.AvailableVolume != 400 {
		t.Errorf("available volume = %d, want 400 without T+1", s.Position.AvailableVolume)
	}
	a := l.View().Account
	// 100000 - 1005 - 3605
	if !a.TotalCash.Equal(d(95390)) || !a.AvailableCash.Equal(d(95390)) {
		t.Errorf("cash total=%s available=%s, want 95390", a.TotalCash, a.AvailableCash)
	}
}

func TestSettleFill_BuyRefundsUnusedReservation(t *testing.T) {
	l := newLedger(t, 10000, DefaultOptions())
	if err := l.Reserve(d(1100), day1); err != nil {
		t.Fatal(err)
	}
	if _, err := l.SettleFill(Fill{Symbol: "000001", Side: model.Buy, Volume: 100, Price: d(10), Fees: d(5), Reserved: d(1100), At: day1}); err != nil {
		t.Fatal(err)
	}
	a := l.View().Account
	if !a.FrozenCash.IsZero() {
		t.Errorf("frozen = %s, want 0", a.FrozenCash)
	}
	if !a.AvailableCash.Equal(d(8995)) {
		t.Errorf("available = %s, want 8995", a.AvailableCash)
	}
}

func TestSettleFill_TPlusOne(t *testing.T) {
	l := newLedger(t, 100000, DefaultOptions())
	buy(t, l, "600000", 100, 10, 5)

	p, _ := l.View().Position("600000")
	if p.AvailableVolume != 0 {
		t.Fatalf("bought shares must not be sellable same day, available=%d", p.AvailableVolume)
	}
	if err := l.FreezePosition("600000", 100, day1); !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("expected ErrInsufficientPosition, got %v", err)
	}

	rolled, err := l.RollDay(day1.AddDate(0, 0, 1))
	if err != nil || !rolled {
		t.Fatalf("RollDay: rolled=%v err=%v", rolled, err)
	}
	p, _ = l.View().Position("600000")
	if p.AvailableVolume != 100 {
		t.Errorf("available after roll = %d, want 100", p.AvailableVolume)
	}

	rolled, _ = l.RollDay(day1.AddDate(0, 0, 1).Add(time.Hour))
	if rolled {
		t.Error("second roll on same date should be a no-op")
	}
}

func TestSettleFill_SellRealizesPnL(t *testing.T) {
	l := newLedger(t, 1000000, DefaultOptions())
	buy(t, l, "000001", 100, 10.5, 5)
	if _, err := l.RollDay(day1.AddDate(0, 0, 1)); err != nil {
		t.Fatal(err)
	}
	if err := l.FreezePosition("000001", 100, day1); err != nil {
		t.Fatal(err)
	}

	// 100 @ 11.00: commission 5, stamp 1.10
	s, err := l.SettleFill(Fill{Symbol: "000001", Side: model.Sell, Volume: 100, Price: d(11), Fees: d(6.1), At: day1})
	if err != nil {
		t.Fatalf("SettleFill sell: %v", err)
	}
	if !s.Closed {
		t.Error("expected position closed")
	}
	// (11 - 10.5) * 100 - 6.1 = 43.9
	if !s.RealizedPnL.Equal(d(43.9)) {
		t.Errorf("realized = %s, want 43.9", s.RealizedPnL)
	}
	a := l.View().Account
	if !a.RealizedPnL.Equal(d(43.9)) {
		t.Errorf("account realized = %s, want 43.9", a.RealizedPnL)
	}
	// 1000000 - 1055 + 1093.9
	if !a.TotalCash.Equal(d(1000038.9)) {
		t.Errorf("total cash = %s, want 1000038.9", a.TotalCash)
	}
	if _, ok := l.View().Position("000001"); ok {
		t.Error("position should be removed at zero volume")
	}
}

func TestSettleFill_SellWithoutFreezeIsInvariant(t *testing.T) {
	l := newLedger(t, 100000, Options{TPlusOne: false, LotSize: 100})
	buy(t, l, "000001", 100, 10, 5)

	_, err := l.SettleFill(Fill{Symbol: "000001", Side: model.Sell, Volume: 100, Price: d(10), Fees: d(6), At: day1})
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
}

func TestUnfreezePosition(t *testing.T) {
	l := newLedger(t, 100000, Options{TPlusOne: false, LotSize: 100})
	buy(t, l, "000001", 200, 10, 5)

	if err := l.FreezePosition("000001", 100, day1); err != nil {
		t.Fatal(err)
	}
	p, _ := l.View().Position("000001")
	if p.AvailableVolume != 100 || p.FrozenVolume != 100 {
		t.Fatalf("after freeze available=%d frozen=%d", p.AvailableVolume, p.FrozenVolume)
	}
	if err := l.UnfreezePosition("000001", 100, day1); err != nil {
		t.Fatal(err)
	}
	p, _ = l.View().Position("000001")
	if p.AvailableVolume != 200 || p.FrozenVolume != 0 {
		t.Errorf("after unfreeze available=%d frozen=%d", p.AvailableVolume, p.FrozenVolume)
	}
}

func TestTotalAssets_UsesMarks(t *testing.T) {
	l := newLedger(t, 10000, DefaultOptions())
	buy(t, l, "000001", 100, 10, 5)

	if err := l.Mark(map[string]decimal.Decimal{"000001": d(12), "000002": d(99)}, day1); err != nil {
		t.Fatal(err)
	}
	// 8995 cash + 1200 marked
	if got := l.View().TotalAssets(); !got.Equal(d(10195)) {
		t.Errorf("total assets = %s, want 10195", got)
	}
}

func TestRestore_RoundTripAndCorruption(t *testing.T) {
	l := newLedger(t, 10000, DefaultOptions())
	buy(t, l, "000001", 100, 10, 5)
	snap := l.Snapshot(1, day1)

	r, err := Restore(snap, DefaultOptions())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !r.View().Account.TotalCash.Equal(l.View().Account.TotalCash) {
		t.Error("restored cash differs")
	}

	bad := snap
	bad.Account.AvailableCash = bad.Account.AvailableCash.Add(d(1))
	if _, err := Restore(bad, DefaultOptions()); !errors.Is(err, ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState, got %v", err)
	}

	odd := l.Snapshot(2, day1)
	odd.Positions[0].Volume = 150
	if _, err := Restore(odd, DefaultOptions()); !errors.Is(err, ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState for odd lot, got %v", err)
	}
}

func TestView_ConcurrentReadersSeeConsistentState(t *testing.T) {
	l := newLedger(t, 1000000, DefaultOptions())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				a := l.View().Account
				if !a.AvailableCash.Add(a.FrozenCash).Equal(a.TotalCash) {
					t.Error("torn read")
					return
				}
			}
		}()
	}
	for i := 0; i < 200; i++ {
		_ = l.Reserve(d(10), day1)
		_ = l.Release(d(10), day1)
	}
	close(stop)
	wg.Wait()
}
