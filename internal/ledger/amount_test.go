package ledger

import (
	"errors"
	"testing"

	"github.com/punchamoorthee/a2urelay/internal/domain"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"1.23456789", "1.2345678", false},
		{"1.0000000049", "1", false},
		{"0.5", "0.5", false},
		{"0.50", "0.5", false},
		{"3.14159269", "3.1415926", false},
		{"0.9999999999", "0.9999999", false},
		{"10", "10", false},
		{"1e-3", "0.001", false},
		{"0.0000001", "0.0000001", false},
		{"0.00000009", "", true},
		{"0", "", true},
		{"-1", "", true},
		{"abc", "", true},
		{"", "", true},
		{"922337203686", "", true},
	}
	for _, tt := range tests {
		got, err := FormatAmount(tt.in)
		if tt.wantErr {
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("FormatAmount(%q) err = %v, want validation error", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("FormatAmount(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("FormatAmount(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCoversPayment(t *testing.T) {
	fee := FeeAmount(100, 1)
	if fee.String() != "0.00001" {
		t.Fatalf("fee = %s", fee)
	}
	tests := []struct {
		balance, amount string
		covered, ok     bool
	}{
		{"1", "0.5", true, true},
		{"0.50001", "0.5", true, true},
		{"0.5", "0.5", false, true},
		{"", "0.5", false, false},
		{"n/a", "0.5", false, false},
	}
	for _, tt := range tests {
		covered, ok := CoversPayment(tt.balance, tt.amount, fee)
		if covered != tt.covered || ok != tt.ok {
			t.Errorf("CoversPayment(%q, %q) = %v, %v; want %v, %v", tt.balance, tt.amount, covered, ok, tt.covered, tt.ok)
		}
	}
}

func TestTruncateMemo(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"thanks", "thanks"},
		{"exactly-twenty-eight-bytes!!", "exactly-twenty-eight-bytes!!"},
		{"this memo is definitely longer than the limit", "this memo is definitely long"},
		// "é" is two bytes; byte 28 would split it.
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaé", "aaaaaaaaaaaaaaaaaaaaaaaaaaa"},
	}
	for _, tt := range tests {
		got := TruncateMemo(tt.in)
		if got != tt.want {
			t.Errorf("TruncateMemo(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if len(got) > MaxMemoBytes {
			t.Errorf("TruncateMemo(%q) is %d bytes", tt.in, len(got))
		}
	}
}
