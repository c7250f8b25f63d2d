package btc

import (
	"strings"
	"testing"
)

func TestNewReference(t *testing.T) {
	ref := NewReference("TXN")
	parts := strings.Split(ref, "-")
	if len(parts) != 3 {
		t.Fatalf("reference %q has %d parts, want 3", ref, len(parts))
	}
	if parts[0] != "TXN" {
		t.Fatalf("reference prefix = %q", parts[0])
	}
	if len(parts[1]) != 14 {
		t.Fatalf("reference timestamp %q has wrong length", parts[1])
	}
	if len(parts[2]) != 4 {
		t.Fatalf("reference suffix %q has wrong length", parts[2])
	}

	if ref := NewReference(""); !strings.HasPrefix(ref, "TXN-") {
		t.Fatalf("empty prefix produced %q", ref)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0712345678", "+254712345678"},
		{"254712345678", "+254712345678"},
		{"+254 712 345 678", "+254712345678"},
		{"12025550147", "+12025550147"},
		{"+1 (202) 555-0147", "+12025550147"},
		{"4915112345678", "+4915112345678"},
		{"12345", "12345"},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMaskPhone(t *testing.T) {
	if got := MaskPhone("+254712345678"); got != "*********5678" {
		t.Fatalf("MaskPhone = %q", got)
	}
	if got := MaskPhone("123"); got != "***" {
		t.Fatalf("MaskPhone(123) = %q", got)
	}
}
