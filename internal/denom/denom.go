// Package denom is the denomination registry: static metadata per currency
// code. Pure lookup, no state beyond registration.
package denom

import (
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/credexnet/credex/internal/ledger"
)

// CXX is the internal floating unit of account.
const CXX = "CXX"

// XAU is the metal basket the daily offering prices contributions in.
const XAU = "XAU"

// Denomination describes one currency code.
type Denomination struct {
	Code        string
	Description string
	Precision   int32  // decimal places for display and rounding
	Locale      string // BCP 47 tag for formatted output
	RateSourced bool   // fetched from the market rate source daily
}

// Registry maps codes to their metadata.
type Registry struct {
	byCode map[string]Denomination
}

// Builtin returns the registry preloaded with the standard denominations.
// CXX is synthetic (never rate-sourced; its rate is 1 by definition) and
// XAU anchors the metal basket.
func Builtin() *Registry {
	r := &Registry{byCode: make(map[string]Denomination)}
	for _, d := range []Denomination{
		{Code: CXX, Description: "credex internal unit", Precision: 6, Locale: "en"},
		{Code: XAU, Description: "troy ounce of gold", Precision: 4, Locale: "en", RateSourced: true},
		{Code: "USD", Description: "United States dollar", Precision: 2, Locale: "en-US", RateSourced: true},
		{Code: "CAD", Description: "Canadian dollar", Precision: 2, Locale: "en-CA", RateSourced: true},
		{Code: "EUR", Description: "euro", Precision: 2, Locale: "de-DE", RateSourced: true},
		{Code: "ZWG", Description: "Zimbabwe gold", Precision: 2, Locale: "en-ZW", RateSourced: true},
	} {
		r.byCode[d.Code] = d
	}
	return r
}

// Register adds or replaces a denomination. CXX cannot be redefined.
func (r *Registry) Register(d Denomination) error {
	if d.Code == "" {
		return ledger.E(ledger.CodeValidation, "denomination code must not be empty")
	}
	if d.Code == CXX {
		return ledger.E(ledger.CodeValidation, "the internal unit cannot be redefined")
	}
	if _, err := language.Parse(d.Locale); d.Locale != "" && err != nil {
		return ledger.Wrap(ledger.CodeValidation, err, "denomination %s has a malformed locale %q", d.Code, d.Locale)
	}
	r.byCode[d.Code] = d
	return nil
}

// Get looks up a denomination by code.
func (r *Registry) Get(code string) (Denomination, bool) {
	d, ok := r.byCode[code]
	return d, ok
}

// Codes returns every registered code, sorted.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.byCode))
	for c := range r.byCode {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// RateSourcedCodes returns the codes the daily rebase must fetch rates for.
func (r *Registry) RateSourcedCodes() []string {
	var codes []string
	for _, c := range r.Codes() {
		if r.byCode[c].RateSourced {
			codes = append(codes, c)
		}
	}
	return codes
}

// Round rounds an amount to the denomination's precision.
func (r *Registry) Round(code string, amount decimal.Decimal) decimal.Decimal {
	d, ok := r.byCode[code]
	if !ok {
		return amount
	}
	return amount.Round(d.Precision)
}

// Format renders an amount in the denomination's locale, e.g.
// Format("USD", 1234.5) → "1,234.50" under en-US.
func (r *Registry) Format(code string, amount decimal.Decimal) string {
	d, ok := r.byCode[code]
	if !ok {
		return amount.String()
	}
	tag, err := language.Parse(d.Locale)
	if err != nil {
		tag = language.English
	}
	p := message.NewPrinter(tag)
	f, _ := amount.Round(d.Precision).Float64()
	return p.Sprintf("%v", number.Decimal(f,
		number.MinFractionDigits(int(d.Precision)),
		number.MaxFractionDigits(int(d.Precision))))
}
