package utils

import (
	"math/big"
	"testing"
)

func TestParseQuantityMicro(t *testing.T) {
	cases := map[string]int64{
		"1":        1_000_000,
		"0.000001": 1,
		"3.5":      3_500_000,
		"2.250000": 2_250_000,
		"0":        0,
		".5":       500_000,
	}
	for in, want := range cases {
		got, err := ParseQuantityMicro(in)
		if err != nil {
			t.Errorf("%q: %v", in, err)
			continue
		}
		if got.Int64() != want {
			t.Errorf("%q = %s, want %d", in, got, want)
		}
	}
	for _, bad := range []string{"", "-1", "+2", "1.2345678", "abc", "1.2.3"} {
		if _, err := ParseQuantityMicro(bad); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

func TestFormatQuantityMicro(t *testing.T) {
	cases := map[int64]string{
		1_000_000: "1.000000",
		1:         "0.000001",
		3_500_000: "3.500000",
		0:         "0.000000",
	}
	for in, want := range cases {
		if got := FormatQuantityMicro(big.NewInt(in)); got != want {
			t.Errorf("%d = %s, want %s", in, got, want)
		}
	}
}

func TestRoundTripQuantity(t *testing.T) {
	for _, micro := range []int64{0, 1, 999_999, 1_000_000, 123_456_789} {
		s := FormatQuantityMicro(big.NewInt(micro))
		back, err := ParseQuantityMicro(s)
		if err != nil {
			t.Fatalf("%d: %v", micro, err)
		}
		if back.Int64() != micro {
			t.Errorf("round trip %d -> %s -> %s", micro, s, back)
		}
	}
}

func TestMicroToCentsCeil(t *testing.T) {
	cases := map[int64]int64{
		10_000: 1, // exactly one cent
		10_001: 2, // any excess rounds up
		9_999:  1,
		1:      1,
		0:      0,
	}
	for micro, want := range cases {
		if got := MicroToCentsCeil(big.NewInt(micro)); got != want {
			t.Errorf("MicroToCentsCeil(%d) = %d, want %d", micro, got, want)
		}
	}
}

func TestCentsToMicro(t *testing.T) {
	if got := CentsToMicro(350); got.Int64() != 3_500_000 {
		t.Errorf("CentsToMicro(350) = %s", got)
	}
}
