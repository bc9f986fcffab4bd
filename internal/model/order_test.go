package model

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var at = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

func TestApplyFill_PartialThenFull(t *testing.T) {
	o := &Order{ID: "o1", Volume: 300, Status: StatusPending}

	if err := o.ApplyFill(100, d(10), at); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	if o.Status != StatusPartiallyFilled || o.Remaining() != 200 {
		t.Fatalf("status = %s remaining = %d", o.Status, o.Remaining())
	}

	if err := o.ApplyFill(200, d(10.3), at.Add(time.Minute)); err != nil {
		t.Fatalf("second fill: %v", err)
	}
	if o.Status != StatusFilled {
		t.Errorf("status = %s, want FILLED", o.Status)
	}
	// (100*10 + 200*10.3) / 300 = 10.2
	if !o.AvgFillPrice.Equal(d(10.2)) {
		t.Errorf("avg fill = %s, want 10.2", o.AvgFillPrice)
	}
	if !o.UpdatedAt.Equal(at.Add(time.Minute)) {
		t.Errorf("updated at = %s", o.UpdatedAt)
	}
}

func TestApplyFill_Overfill(t *testing.T) {
	o := &Order{ID: "o1", Volume: 100, Status: StatusPending}
	if err := o.ApplyFill(200, d(10), at); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if o.FilledVolume != 0 || o.Status != StatusPending {
		t.Errorf("order mutated: %+v", o)
	}
}

func TestTransition_TerminalIsFinal(t *testing.T) {
	for _, s := range []OrderStatus{StatusFilled, StatusRejected, StatusCancelled} {
		o := &Order{ID: "o1", Volume: 100, Status: s}
		if !s.Terminal() || s.Open() {
			t.Errorf("%s: terminal=%v open=%v", s, s.Terminal(), s.Open())
		}
		if err := o.Transition(StatusCancelled, at); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> CANCELLED: expected ErrInvalidTransition, got %v", s, err)
		}
	}
}

func TestTransition_PartialCannotBeRejected(t *testing.T) {
	o := &Order{ID: "o1", Volume: 100, Status: StatusPartiallyFilled}
	if err := o.Transition(StatusRejected, at); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if err := o.Transition(StatusCancelled, at); err != nil {
		t.Errorf("cancel partial: %v", err)
	}
}

func TestEnumsValid(t *testing.T) {
	if !Buy.Valid() || !Sell.Valid() || Side("HOLD").Valid() {
		t.Error("side validation wrong")
	}
	if !Market.Valid() || !Limit.Valid() || OrderType("STOP").Valid() {
		t.Error("order type validation wrong")
	}
}
