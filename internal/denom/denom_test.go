package denom

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBuiltin(t *testing.T) {
	reg := Builtin()

	cxx, ok := reg.Get(CXX)
	require.True(t, ok)
	assert.False(t, cxx.RateSourced, "the internal unit is never rate-sourced")
	assert.Equal(t, int32(6), cxx.Precision)

	xau, ok := reg.Get(XAU)
	require.True(t, ok)
	assert.True(t, xau.RateSourced)

	_, ok = reg.Get("BTC")
	assert.False(t, ok)
}

func TestCodesSorted(t *testing.T) {
	reg := Builtin()
	assert.Equal(t, []string{"CAD", CXX, "EUR", "USD", XAU, "ZWG"}, reg.Codes())
	assert.Equal(t, []string{"CAD", "EUR", "USD", XAU, "ZWG"}, reg.RateSourcedCodes())
}

func TestRegister(t *testing.T) {
	reg := Builtin()

	err := reg.Register(Denomination{Code: "KES", Description: "Kenyan shilling", Precision: 2, Locale: "en-KE", RateSourced: true})
	require.NoError(t, err)
	d, ok := reg.Get("KES")
	require.True(t, ok)
	assert.Equal(t, "Kenyan shilling", d.Description)
	assert.Contains(t, reg.RateSourcedCodes(), "KES")

	assert.Error(t, reg.Register(Denomination{Code: CXX}), "the internal unit cannot be redefined")
	assert.Error(t, reg.Register(Denomination{Code: ""}))
	assert.Error(t, reg.Register(Denomination{Code: "BAD", Locale: "not a locale"}))
}

func TestRound(t *testing.T) {
	reg := Builtin()
	assert.True(t, reg.Round("USD", dec("1.239")).Equal(dec("1.24")))
	assert.True(t, reg.Round(XAU, dec("0.12349")).Equal(dec("0.1235")))
	// Unknown codes pass through untouched.
	assert.True(t, reg.Round("BTC", dec("1.239")).Equal(dec("1.239")))
}

func TestFormat(t *testing.T) {
	reg := Builtin()
	assert.Equal(t, "1,234.50", reg.Format("USD", dec("1234.5")))
	assert.Equal(t, "1.234,50", reg.Format("EUR", dec("1234.5")))
}
