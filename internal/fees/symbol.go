// Package fees holds the exchange cost rules: symbol classification into
// listing venue and board, per-fill commission and levies, and the daily
// price band used to validate limit prices.
package fees

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Exchange is the listing venue of a security.
type Exchange string

const (
	Shanghai Exchange = "SH"
	Shenzhen Exchange = "SZ"
	Beijing  Exchange = "BJ"
)

// Board refines the venue for price-band purposes.
type Board string

const (
	BoardMain    Board = "MAIN"
	BoardSTAR    Board = "STAR"    // Shanghai 688xxx
	BoardChiNext Board = "CHINEXT" // Shenzhen 300xxx/301xxx
	BoardBSE     Board = "BSE"
)

// symbolRegex accepts sh.600519, SH600519, 600519.SH and bare 600519.
var symbolRegex = regexp.MustCompile(`^(?:(SH|SZ|BJ)\.?)?(\d{6})(?:\.(SH|SZ|BJ))?$`)

var (
	ErrInvalidSymbol = errors.New("fees: invalid symbol")
	ErrUnknownVenue  = errors.New("fees: cannot infer listing venue")
)

// Symbol is a parsed security code.
type Symbol struct {
	Raw      string   `json:"raw"`
	Code     string   `json:"code"`
	Exchange Exchange `json:"exchange"`
	Board    Board    `json:"board"`
}

// ParseSymbol classifies a symbol. An explicit venue prefix or suffix wins;
// otherwise the venue is inferred from the leading digit of the code.
func ParseSymbol(raw string) (Symbol, error) {
	m := symbolRegex.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(raw)))
	if m == nil {
		return Symbol{}, fmt.Errorf("%w: %q (expected 600519, sh.600519 or 600519.SH)", ErrInvalidSymbol, raw)
	}
	prefix, code, suffix := m[1], m[2], m[3]
	if prefix != "" && suffix != "" && prefix != suffix {
		return Symbol{}, fmt.Errorf("%w: %q has conflicting venues", ErrInvalidSymbol, raw)
	}

	venue := Exchange(prefix)
	if venue == "" {
		venue = Exchange(suffix)
	}
	if venue == "" {
		switch code[0] {
		case '6', '9':
			venue = Shanghai
		case '0', '2', '3':
			venue = Shenzhen
		case '4', '8':
			venue = Beijing
		default:
			return Symbol{}, fmt.Errorf("%w: %s", ErrUnknownVenue, code)
		}
	}

	board := BoardMain
	switch {
	case venue == Beijing:
		board = BoardBSE
	case venue == Shanghai && strings.HasPrefix(code, "688"):
		board = BoardSTAR
	case venue == Shenzhen && (strings.HasPrefix(code, "300") || strings.HasPrefix(code, "301")):
		board = BoardChiNext
	}

	return Symbol{Raw: raw, Code: code, Exchange: venue, Board: board}, nil
}

// LimitPct is the daily move allowed from the previous close.
// Special-treatment names on the main board trade inside a 5% band.
func (s Symbol) LimitPct(specialTreatment bool) decimal.Decimal {
	switch s.Board {
	case BoardSTAR, BoardChiNext:
		return decimal.NewFromFloat(0.20)
	case BoardBSE:
		return decimal.NewFromFloat(0.30)
	}
	if specialTreatment {
		return decimal.NewFromFloat(0.05)
	}
	return decimal.NewFromFloat(0.10)
}

// PriceBand returns the inclusive [lower, upper] price limits for the day,
// rounded to the tick.
func (s Symbol) PriceBand(prevClose decimal.Decimal, specialTreatment bool) (decimal.Decimal, decimal.Decimal) {
	pct := s.LimitPct(specialTreatment)
	one := decimal.NewFromInt(1)
	upper := prevClose.Mul(one.Add(pct)).Round(2)
	lower := prevClose.Mul(one.Sub(pct)).Round(2)
	return lower, upper
}
