package exchange

import (
	"errors"
	"fmt"

	"github.com/quantsim/sim-exchange/internal/model"
	"github.com/quantsim/sim-exchange/internal/risk"
)

var (
	// ErrFatal wraps engine invariant violations. The run must stop: state
	// can no longer be trusted.
	ErrFatal = errors.New("exchange: fatal engine error")

	// ErrOrderNotFound is returned by Cancel and Order for unknown ids.
	ErrOrderNotFound = errors.New("exchange: order not found")

	// ErrMalformedOrder is returned for requests that cannot become an order
	// at all (unknown side or type, unparseable symbol). No order is created.
	ErrMalformedOrder = errors.New("exchange: malformed order")
)

// Rejection is the business outcome of a refused order. It is returned as
// an error value so callers can errors.As it and read the code.
type Rejection struct {
	OrderID string
	Code    model.RejectCode
	Risk    risk.Reason // set when Code is RISK_REJECTED
	Detail  string
}

func (r *Rejection) Error() string {
	if r.Risk != "" {
		return fmt.Sprintf("order %s rejected: %s (%s): %s", r.OrderID, r.Code, r.Risk, r.Detail)
	}
	return fmt.Sprintf("order %s rejected: %s: %s", r.OrderID, r.Code, r.Detail)
}

// IsRejection reports whether err is a rejection, returning it.
func IsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

func reject(code model.RejectCode, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Detail: fmt.Sprintf(format, args...)}
}
