package grid

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMultiplierWorkedExample(t *testing.T) {
	// entry 100 -> target 101 over 10s:
	// priceDistanceBps = 100, priceComponent = 0.6, timeComponent = 0.4
	got := Multiplier(d("100"), d("101"), 0, 10)
	if !got.Equal(d("111")) {
		t.Errorf("multiplier = %s, want 111", got)
	}
}

func TestMultiplierFloor(t *testing.T) {
	// Zero distance in both dimensions sits exactly on the floor.
	got := Multiplier(d("100"), d("100"), 50, 50)
	if !got.Equal(d("110")) {
		t.Errorf("multiplier = %s, want floor 110", got)
	}

	// Target time before entry time counts as zero time distance.
	got = Multiplier(d("100"), d("100"), 100, 50)
	if !got.Equal(d("110")) {
		t.Errorf("multiplier with past target = %s, want 110", got)
	}
}

func TestMultiplierCap(t *testing.T) {
	// Extreme tap: huge price distance, long expiry.
	got := Multiplier(d("100"), d("100000"), 0, 1_000_000)
	if !got.Equal(d("1000")) {
		t.Errorf("multiplier = %s, want cap 1000", got)
	}
}

func TestMultiplierSymmetricInPriceDirection(t *testing.T) {
	up := Multiplier(d("100"), d("105"), 0, 30)
	down := Multiplier(d("100"), d("95"), 0, 30)
	if !up.Equal(down) {
		t.Errorf("up %s != down %s for equal distance", up, down)
	}
}

func TestMultiplierMonotone(t *testing.T) {
	// Non-decreasing in price distance.
	prev := decimal.Zero
	for _, target := range []string{"100", "100.5", "101", "102", "105", "110", "150"} {
		m := Multiplier(d("100"), d(target), 0, 10)
		if m.LessThan(prev) {
			t.Errorf("multiplier decreased at target %s: %s < %s", target, m, prev)
		}
		prev = m
	}

	// Non-decreasing in time distance.
	prev = decimal.Zero
	for _, dt := range []int64{0, 1, 10, 60, 600, 3600} {
		m := Multiplier(d("100"), d("101"), 0, dt)
		if m.LessThan(prev) {
			t.Errorf("multiplier decreased at dt=%d: %s < %s", dt, m, prev)
		}
		prev = m
	}
}

func TestMultiplierAlwaysClamped(t *testing.T) {
	cases := []struct {
		entry, target string
		dt            int64
	}{
		{"100", "100", 0},
		{"0.00000001", "1000000", 86400},
		{"50000", "49500", 60},
		{"1", "2", 1 << 40},
	}
	for _, c := range cases {
		m := Multiplier(d(c.entry), d(c.target), 0, c.dt)
		if m.LessThan(d("110")) || m.GreaterThan(d("1000")) {
			t.Errorf("multiplier %s out of [110,1000] for %+v", m, c)
		}
	}
}
