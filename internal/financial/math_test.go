package financial

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestDivideQuantitiesByZero(t *testing.T) {
	t.Parallel()

	_, ok := DivideQuantities(d("10"), decimal.Zero)
	if ok {
		t.Fatal("DivideQuantities by zero should return ok=false")
	}
}

func TestDivideQuantities(t *testing.T) {
	t.Parallel()

	got, ok := DivideQuantities(d("10"), d("4"))
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !got.Equal(d("2.5")) {
		t.Errorf("got %s, want 2.5", got)
	}
}

func TestCalculateMeanEmpty(t *testing.T) {
	t.Parallel()

	_, ok := CalculateMean(nil)
	if ok {
		t.Fatal("CalculateMean(nil) should return ok=false")
	}
}

func TestCalculateMean(t *testing.T) {
	t.Parallel()

	mean, ok := CalculateMean([]decimal.Decimal{d("1"), d("2"), d("3")})
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !mean.Equal(d("2")) {
		t.Errorf("got %s, want 2", mean)
	}
}

func TestCalculateStdDevEmpty(t *testing.T) {
	t.Parallel()

	_, ok := CalculateStdDev(nil)
	if ok {
		t.Fatal("CalculateStdDev(nil) should return ok=false")
	}
}

func TestCalculateStdDevKnownValue(t *testing.T) {
	t.Parallel()

	// Population stddev of {2,4,4,4,5,5,7,9} is 2.0
	xs := []decimal.Decimal{d("2"), d("4"), d("4"), d("4"), d("5"), d("5"), d("7"), d("9")}
	got, ok := CalculateStdDev(xs)
	if !ok {
		t.Fatal("expected ok=true")
	}
	want := d("2")
	diff := got.Sub(want).Abs()
	if diff.GreaterThan(d("0.001")) {
		t.Errorf("got %s, want ~2.0", got)
	}
}

func TestClampUnit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   decimal.Decimal
		want decimal.Decimal
	}{
		{d("-0.5"), decimal.Zero},
		{d("0.5"), d("0.5")},
		{d("1.5"), decimal.NewFromInt(1)},
	}

	for _, tt := range tests {
		if got := ClampUnit(tt.in); !got.Equal(tt.want) {
			t.Errorf("ClampUnit(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestCalculateMidPrice(t *testing.T) {
	t.Parallel()

	got := CalculateMidPrice(d("1.00"), d("1.02"), 2)
	if !got.Equal(d("1.01")) {
		t.Errorf("got %s, want 1.01", got)
	}
}
