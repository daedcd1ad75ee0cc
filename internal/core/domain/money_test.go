package domain

import (
	"errors"
	"math"
	"testing"

	"ledger-settlement-engine/pkg/apperror"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCurrency(t *testing.T) {
	tests := []struct {
		in      string
		want    Currency
		wantErr bool
	}{
		{"usd", "USD", false},
		{" EUR ", "EUR", false},
		{"US", "", true},
		{"U5D", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCurrency(tt.in)
			if tt.wantErr {
				assert.Equal(t, apperror.KindInvalidRequest, apperror.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewEntryAmount_RejectsNonPositive(t *testing.T) {
	_, err := NewEntryAmount(0, "USD")
	assert.Error(t, err)

	_, err = NewEntryAmount(-5, "USD")
	assert.Error(t, err)

	m, err := NewEntryAmount(5, "usd")
	require.NoError(t, err)
	assert.Equal(t, MustMoney(5, "USD"), m)
}

func TestMoney_AddSub(t *testing.T) {
	a := MustMoney(1000, "USD")
	b := MustMoney(250, "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(1250), sum.Amount)

	diff, err := b.Sub(a)
	require.NoError(t, err)
	assert.Equal(t, int64(-750), diff.Amount)
	assert.True(t, diff.IsNegative())
}

func TestMoney_CurrencyMismatch(t *testing.T) {
	_, err := MustMoney(1, "USD").Add(MustMoney(1, "EUR"))
	assert.True(t, errors.Is(err, apperror.ErrCurrencyMismatch("", "")))

	_, err = MustMoney(1, "USD").Cmp(MustMoney(1, "EUR"))
	assert.Equal(t, apperror.KindCurrencyMismatch, apperror.KindOf(err))
}

func TestMoney_Overflow(t *testing.T) {
	_, err := MustMoney(math.MaxInt64, "USD").Add(MustMoney(1, "USD"))
	assert.Error(t, err)

	_, err = MustMoney(0, "USD").Sub(MustMoney(math.MinInt64, "USD"))
	assert.Error(t, err)
}

func TestMoney_Cmp(t *testing.T) {
	c, err := MustMoney(5, "USD").Cmp(MustMoney(7, "USD"))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = MustMoney(7, "USD").Cmp(MustMoney(7, "USD"))
	require.NoError(t, err)
	assert.Equal(t, 0, c)
	assert.True(t, MustMoney(7, "USD").Equal(MustMoney(7, "USD")))
	assert.False(t, MustMoney(7, "USD").Equal(MustMoney(7, "EUR")))
}

func TestFromMajor_RoundsHalfToEven(t *testing.T) {
	tests := []struct {
		major    string
		currency string
		want     int64
	}{
		{"10.005", "USD", 1000},
		{"10.015", "USD", 1002},
		{"10.025", "USD", 1002},
		{"-0.125", "USD", -12},
		{"1234.5", "JPY", 1234},
		{"1235.5", "JPY", 1236},
		{"1.0005", "KWD", 1000},
	}

	for _, tt := range tests {
		t.Run(tt.major+tt.currency, func(t *testing.T) {
			m, err := FromMajor(decimal.RequireFromString(tt.major), tt.currency)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Amount)
		})
	}
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "12.34 USD", MustMoney(1234, "USD").String())
	assert.Equal(t, "500 JPY", MustMoney(500, "JPY").String())
	assert.Equal(t, "-0.050 BHD", MustMoney(-50, "BHD").String())
	assert.True(t, MustMoney(1234, "USD").Major().Equal(decimal.RequireFromString("12.34")))
}
