package accrual

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestResolveMaxWins(t *testing.T) {
	tests := []struct {
		name   string
		local  string
		remote string
		want   string
	}{
		{"local ahead", "5.5", "3.2", "5.5"},
		{"remote ahead", "1.1", "9.9", "9.9"},
		{"equal", "4", "4", "4"},
		{"both zero", "0", "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(decimal.RequireFromString(tt.local), decimal.RequireFromString(tt.remote))
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Resolve(%s, %s) = %s, want %s", tt.local, tt.remote, got, tt.want)
			}
		})
	}
}

func TestResolveIdempotent(t *testing.T) {
	for _, v := range []string{"0", "0.001", "123.456", "99999"} {
		x := decimal.RequireFromString(v)
		if got := Resolve(x, x); !got.Equal(x) {
			t.Errorf("Resolve(%s, %s) = %s, want %s", x, x, got, x)
		}
		// Repeated application never inflates
		if got := Resolve(Resolve(x, x), x); !got.Equal(x) {
			t.Errorf("repeated Resolve inflated %s to %s", x, got)
		}
	}
}
