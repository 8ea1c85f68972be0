package ledger

import (
	"errors"
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"125.50", 12550, false},
		{"0.01", 1, false},
		{"20", 2000, false},
		{"  7.5 ", 750, false},
		{"", 0, true},
		{"0", 0, true},
		{"0.00", 0, true},
		{"-5", 0, true},
		{"12.345", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("ParseAmount(%q): expected ErrInvalidAmount, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseAmount(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	cases := map[int64]string{
		12550: "125.50",
		1:     "0.01",
		2000:  "20.00",
		0:     "0.00",
		5:     "0.05",
	}
	for minor, want := range cases {
		if got := FormatAmount(minor); got != want {
			t.Fatalf("FormatAmount(%d) = %s, want %s", minor, got, want)
		}
	}
}

func TestNormalizeCurrency(t *testing.T) {
	if got, err := NormalizeCurrency(" usd "); err != nil || got != "USD" {
		t.Fatalf("unexpected: %q, %v", got, err)
	}
	for _, bad := range []string{"", "EU", "EURO", "US1"} {
		if _, err := NormalizeCurrency(bad); !errors.Is(err, ErrInvalidCurrency) {
			t.Fatalf("NormalizeCurrency(%q): expected ErrInvalidCurrency, got %v", bad, err)
		}
	}
}
