package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/calendar"
	"github.com/quantsim/sim-exchange/internal/ledger"
	"github.com/quantsim/sim-exchange/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var now = time.Date(2024, 1, 2, 10, 0, 0, 0, calendar.Location)

// viewWith returns a ledger view holding capital cash and, optionally, one
// position bought at price.
func viewWith(t *testing.T, capital float64, symbol string, vol int64, price float64) *ledger.View {
	t.Helper()
	l, err := ledger.New(ledger.OpenAccount("a", d(capital), "test", now), ledger.Options{LotSize: 100})
	if err != nil {
		t.Fatal(err)
	}
	if vol > 0 {
		cost := d(price).Mul(decimal.NewFromInt(vol))
		if err := l.Reserve(cost, now); err != nil {
			t.Fatal(err)
		}
		if _, err := l.SettleFill(ledger.Fill{Symbol: symbol, Side: model.Buy, Volume: vol, Price: d(price), Reserved: cost, At: now}); err != nil {
			t.Fatal(err)
		}
	}
	return l.View()
}

func TestEvaluate_WithinLimits(t *testing.T) {
	m := NewManager(DefaultLimits())
	v := viewWith(t, 1000000, "", 0, 0)

	dec := m.Evaluate(Proposal{Symbol: "000001", Side: model.Buy, Volume: 100, Price: d(10.5)}, v)
	if !dec.Allowed {
		t.Errorf("expected allow, got %+v", dec)
	}
	if dec.Err() != nil {
		t.Errorf("Allow().Err() should be nil")
	}
}

func TestEvaluate_Disabled(t *testing.T) {
	limits := DefaultLimits()
	limits.Enabled = false
	m := NewManager(limits)
	v := viewWith(t, 1000, "", 0, 0)

	dec := m.Evaluate(Proposal{Symbol: "000001", Side: model.Buy, Volume: 100000, Price: d(100)}, v)
	if !dec.Allowed {
		t.Errorf("disabled manager must allow everything, got %+v", dec)
	}
}

func TestEvaluate_MaxOrderAmount(t *testing.T) {
	m := NewManager(DefaultLimits())
	v := viewWith(t, 10000000, "", 0, 0)

	// 5100 * 10 = 51000 > 50000
	dec := m.Evaluate(Proposal{Symbol: "000001", Side: model.Buy, Volume: 5100, Price: d(10)}, v)
	if dec.Allowed || dec.Reason != ReasonMaxOrderAmount {
		t.Fatalf("expected MAX_ORDER_AMOUNT, got %+v", dec)
	}
	if !errors.Is(dec.Err(), ErrMaxOrderAmount) {
		t.Errorf("expected ErrMaxOrderAmount, got %v", dec.Err())
	}
}

func TestEvaluate_Concentration(t *testing.T) {
	m := NewManager(DefaultLimits())
	// 100000 assets, already 25000 in 000001.
	v := viewWith(t, 100000, "000001", 2500, 10)

	dec := m.Evaluate(Proposal{Symbol: "000001", Side: model.Buy, Volume: 600, Price: d(10)}, v)
	if dec.Reason != ReasonPositionConcentration {
		t.Fatalf("expected POSITION_CONCENTRATION, got %+v", dec)
	}

	dec = m.Evaluate(Proposal{Symbol: "000002", Side: model.Buy, Volume: 600, Price: d(10)}, v)
	if !dec.Allowed {
		t.Errorf("other symbol should be allowed, got %+v", dec)
	}
}

func TestEvaluate_TotalExposure(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxSinglePositionPct = d(1)
	limits.MaxOrderAmount = decimal.Zero
	m := NewManager(limits)
	v := viewWith(t, 100000, "000001", 9000, 10)

	dec := m.Evaluate(Proposal{Symbol: "000002", Side: model.Buy, Volume: 600, Price: d(10)}, v)
	if dec.Reason != ReasonTotalExposure {
		t.Fatalf("expected TOTAL_EXPOSURE, got %+v", dec)
	}
}

func TestEvaluate_SellSkipsExposureChecks(t *testing.T) {
	m := NewManager(DefaultLimits())
	v := viewWith(t, 100000, "000001", 4000, 10)

	dec := m.Evaluate(Proposal{Symbol: "000001", Side: model.Sell, Volume: 1000, Price: d(10)}, v)
	if !dec.Allowed {
		t.Errorf("sell should be allowed, got %+v", dec)
	}
}

func TestEvaluate_DailyLossBreaker(t *testing.T) {
	m := NewManager(DefaultLimits())
	v := viewWith(t, 94000, "", 0, 0)

	m.SetDailyStart(d(100000))
	dec := m.Evaluate(Proposal{Symbol: "000001", Side: model.Sell, Volume: 100, Price: d(10)}, v)
	if dec.Reason != ReasonDailyLossLimit {
		t.Fatalf("expected DAILY_LOSS_LIMIT, got %+v", dec)
	}

	m.SetDailyStart(d(94000))
	if dec := m.Evaluate(Proposal{Symbol: "000001", Side: model.Buy, Volume: 100, Price: d(10)}, v); !dec.Allowed {
		t.Errorf("new day should reset breaker, got %+v", dec)
	}
}

func TestPositionAlerts(t *testing.T) {
	m := NewManager(DefaultLimits())
	l, _ := ledger.New(ledger.OpenAccount("a", d(100000), "test", now), ledger.Options{LotSize: 100})
	for _, sym := range []string{"000001", "000002", "000003"} {
		cost := d(1000)
		_ = l.Reserve(cost, now)
		if _, err := l.SettleFill(ledger.Fill{Symbol: sym, Side: model.Buy, Volume: 100, Price: d(10), Reserved: cost, At: now}); err != nil {
			t.Fatal(err)
		}
	}
	_ = l.Mark(map[string]decimal.Decimal{"000001": d(8.9), "000002": d(12.5), "000003": d(10.5)}, now)

	alerts := m.PositionAlerts(l.View())
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %+v", alerts)
	}
	if alerts[0].Symbol != "000001" || alerts[0].Kind != AlertStopLoss {
		t.Errorf("first alert = %+v, want stop loss on 000001", alerts[0])
	}
	if alerts[1].Symbol != "000002" || alerts[1].Kind != AlertTakeProfit {
		t.Errorf("second alert = %+v, want take profit on 000002", alerts[1])
	}
}
