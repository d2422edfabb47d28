package common

import "testing"

func TestAlignedToTick(t *testing.T) {
	cases := []struct {
		price, tick Price
		want        bool
	}{
		{100, 1, true},
		{100, 10, true},
		{105, 10, false},
		{100, 0, true},
		{100, -1, true},
	}
	for _, c := range cases {
		if got := c.price.AlignedToTick(c.tick); got != c.want {
			t.Errorf("Price(%d).AlignedToTick(%d) = %v, want %v", c.price, c.tick, got, c.want)
		}
	}
}

func TestQuantityIsZero(t *testing.T) {
	cases := []struct {
		qty  float64
		want bool
	}{
		{0, true},
		{0.00001, true},
		{-0.00001, true},
		{0.001, false},
		{-0.001, false},
	}
	for _, c := range cases {
		if got := QuantityIsZero(c.qty); got != c.want {
			t.Errorf("QuantityIsZero(%v) = %v, want %v", c.qty, got, c.want)
		}
	}
}

func TestNowNanos_IsMonotonicallyNonDecreasing(t *testing.T) {
	a := NowNanos()
	b := NowNanos()
	if b < a {
		t.Fatalf("NowNanos() went backwards: %d then %d", a, b)
	}
}
