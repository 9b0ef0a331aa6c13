package pnp

import (
	"errors"
	"testing"

	"github.com/ardnew/softpnp/pkg"
)

func TestParseEISAID(t *testing.T) {
	tests := []struct {
		in    string
		bytes [4]byte
	}{
		// PNP0501: P=16 N=14 P=16 -> 0b0_10000_01110_10000 = 0x41D0
		{"PNP0501", [4]byte{0x41, 0xD0, 0x05, 0x01}},
		{"CTL0031", [4]byte{0x0E, 0x8C, 0x00, 0x31}},
		{"pnp0b00", [4]byte{0x41, 0xD0, 0x0B, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, err := ParseEISAID(tt.in)
			if err != nil {
				t.Fatalf("ParseEISAID(%q) error = %v", tt.in, err)
			}
			if got := id.Bytes(); got != tt.bytes {
				t.Errorf("Bytes() = % X, want % X", got, tt.bytes)
			}
			if got := eisaIDFromBytes(tt.bytes[:]); got != id {
				t.Errorf("eisaIDFromBytes() = %v, want %v", got, id)
			}
		})
	}
}

func TestEISAID_String(t *testing.T) {
	id := EISAID{Vendor: MustVendorID("VEN"), Product: 0x0001}
	if got := id.String(); got != "VEN0001" {
		t.Errorf("String() = %q, want %q", got, "VEN0001")
	}
	if got := MustEISAID("pnp0501").String(); got != "PNP0501" {
		t.Errorf("String() = %q, want %q", got, "PNP0501")
	}
}

func TestParseEISAID_Invalid(t *testing.T) {
	for _, in := range []string{"", "PNP", "PNP050", "PN10501", "PNP05G1", "PNP05011"} {
		if _, err := ParseEISAID(in); !errors.Is(err, pkg.ErrInvalidArgument) {
			t.Errorf("ParseEISAID(%q) error = %v, want ErrInvalidArgument", in, err)
		}
	}
}

func TestEISAID_Text(t *testing.T) {
	id := MustEISAID("ABC1234")
	text, err := id.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}
	var got EISAID
	if err := got.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if got != id {
		t.Errorf("UnmarshalText() = %v, want %v", got, id)
	}
}
