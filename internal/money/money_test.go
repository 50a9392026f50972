package money

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPercentFloors(t *testing.T) {
	require.Equal(t, Money(10000), Percent(50000, 20))
	require.Equal(t, Money(3333), Percent(33333, 10))
	require.Equal(t, Money(0), Percent(99, 1))
	require.Equal(t, Money(0), Percent(0, 50))
	require.Equal(t, Money(0), Percent(50000, 0))
}

func TestParseAmount(t *testing.T) {
	cases := map[string]struct {
		in   string
		want Money
		err  error
	}{
		"gateway format": {in: "50000.00", want: 50000},
		"plain integer":  {in: "40000", want: 40000},
		"padded":         {in: " 12500.0 ", want: 12500},
		"fraction":       {in: "100.50", err: ErrFractionalAmount},
		"negative":       {in: "-1.00", err: ErrNegativeAmount},
		"garbage":        {in: "abc", err: ErrInvalidAmount},
		"empty":          {in: "", err: ErrInvalidAmount},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseAmount(tc.in)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestSubFloorAndClamp(t *testing.T) {
	require.Equal(t, Money(0), SubFloor(10, 20))
	require.Equal(t, Money(5), SubFloor(20, 15))
	require.Equal(t, Money(0), Clamp(-5, 0, 10))
	require.Equal(t, Money(10), Clamp(50, 0, 10))
	require.Equal(t, Money(7), Clamp(7, 0, 10))
	require.Equal(t, "50000.00", FormatAmount(50000))
}

func TestRupiah(t *testing.T) {
	require.Equal(t, "Rp0", Rupiah(0))
	require.Equal(t, "Rp950", Rupiah(950))
	require.Equal(t, "Rp45.000", Rupiah(45000))
	require.Equal(t, "Rp1.250.000", Rupiah(1250000))
	require.Equal(t, "-Rp10.000", Rupiah(-10000))
}

func TestCheckedArithmetic(t *testing.T) {
	got, err := LineTotal(25000, 3)
	require.NoError(t, err)
	require.Equal(t, Money(75000), got)

	got, err = LineTotal(25000, 0)
	require.NoError(t, err)
	require.Zero(t, got)

	_, err = LineTotal(1<<62, 4)
	require.ErrorIs(t, err, ErrOverflow)

	_, err = Mul(-1, 2)
	require.ErrorIs(t, err, ErrNegativeAmount)

	got, err = Add(math.MaxInt64-1, 1)
	require.NoError(t, err)
	require.Equal(t, Money(math.MaxInt64), got)

	_, err = Add(math.MaxInt64, 1)
	require.ErrorIs(t, err, ErrOverflow)
}
