package pnp

import (
	"fmt"
	"strconv"

	"github.com/ardnew/softpnp/pkg"
)

var errInvalidID = fmt.Errorf("%w: malformed identifier", pkg.ErrInvalidArgument)

// VendorID is a compressed three-letter EISA manufacturer code in bus
// byte order: the first identifier byte in the high half.
//
//	bit 15     reserved (0)
//	bits 14-10 first letter  ('A' = 1)
//	bits 9-5   second letter
//	bits 4-0   third letter
type VendorID uint16

// ParseVendorID compresses a three-letter manufacturer code such as "PNP".
func ParseVendorID(s string) (VendorID, error) {
	if len(s) != 3 {
		return 0, fmt.Errorf("vendor %q: want 3 letters: %w", s, errInvalidID)
	}
	var v VendorID
	for i := 0; i < 3; i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c < 'A' || c > 'Z' {
			return 0, fmt.Errorf("vendor %q: letter %q: %w", s, s[i], errInvalidID)
		}
		v = v<<5 | VendorID(c-'A'+1)
	}
	return v, nil
}

// MustVendorID is ParseVendorID for constants; it panics on error.
func MustVendorID(s string) VendorID {
	v, err := ParseVendorID(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the three-letter code.
func (v VendorID) String() string {
	return string([]byte{
		'A' - 1 + byte(v>>10&0x1F),
		'A' - 1 + byte(v>>5&0x1F),
		'A' - 1 + byte(v&0x1F),
	})
}

// EISAID is a device identifier: a manufacturer code and a 16-bit
// product number, as carried by the serial identifier, logical device
// and compatible device tags.
type EISAID struct {
	Vendor  VendorID
	Product uint16
}

// ParseEISAID parses a seven-character identifier such as "PNP0501".
func ParseEISAID(s string) (EISAID, error) {
	if len(s) != 7 {
		return EISAID{}, fmt.Errorf("id %q: want 7 characters: %w", s, errInvalidID)
	}
	vendor, err := ParseVendorID(s[:3])
	if err != nil {
		return EISAID{}, err
	}
	product, err := strconv.ParseUint(s[3:], 16, 16)
	if err != nil {
		return EISAID{}, fmt.Errorf("id %q: product: %w", s, errInvalidID)
	}
	return EISAID{Vendor: vendor, Product: uint16(product)}, nil
}

// MustEISAID is ParseEISAID for constants; it panics on error.
func MustEISAID(s string) EISAID {
	id, err := ParseEISAID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the seven-character form.
func (id EISAID) String() string {
	return fmt.Sprintf("%s%04X", id.Vendor, id.Product)
}

// MarshalText implements encoding.TextMarshaler.
func (id EISAID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *EISAID) UnmarshalText(text []byte) error {
	parsed, err := ParseEISAID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Bytes returns the four-byte wire form.
func (id EISAID) Bytes() [4]byte {
	return [4]byte{
		byte(id.Vendor >> 8),
		byte(id.Vendor),
		byte(id.Product >> 8),
		byte(id.Product),
	}
}

func eisaIDFromBytes(b []byte) EISAID {
	return EISAID{
		Vendor:  VendorID(b[0])<<8 | VendorID(b[1]),
		Product: uint16(b[2])<<8 | uint16(b[3]),
	}
}
