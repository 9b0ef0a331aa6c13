package hal

import (
	"context"
	"time"
)

// Fixed ISA Plug and Play port addresses.
const (
	AddressPort   uint16 = 0x279 // ADDRESS: selects a register, carries the key
	WriteDataPort uint16 = 0xA79 // WRITE_DATA: writes the selected register

	// The READ_DATA port is relocatable within this range.
	ReadPortMin uint16 = 0x203
	ReadPortMax uint16 = 0x3FF
)

// ReadPortValue returns the value written to the Set RD_DATA Port register
// to relocate the READ_DATA port to port.
func ReadPortValue(port uint16) uint8 {
	return uint8(port >> 2)
}

// ReadPortAddress returns the READ_DATA port selected by a Set RD_DATA
// Port register value. Address bits 0 and 1 are always set.
func ReadPortAddress(value uint8) uint16 {
	return uint16(value)<<2 | 0x03
}

// PortRange is a contiguous range of I/O ports.
type PortRange struct {
	Base uint16 `yaml:"base"`
	Size uint16 `yaml:"size"`
}

// Contains reports whether port lies within r.
func (r PortRange) Contains(port uint16) bool {
	return uint32(port) >= uint32(r.Base) && uint32(port) < uint32(r.Base)+uint32(r.Size)
}

// Overlaps reports whether r and o share at least one port.
// Empty ranges overlap nothing.
func (r PortRange) Overlaps(o PortRange) bool {
	if r.Size == 0 || o.Size == 0 {
		return false
	}
	return uint32(r.Base) < uint32(o.Base)+uint32(o.Size) &&
		uint32(o.Base) < uint32(r.Base)+uint32(r.Size)
}

// BusHAL defines the Hardware Abstraction Layer for an ISA Plug and Play
// bus controller.
//
// The HAL exposes only the three Plug and Play ports and a calibrated
// delay. Every protocol decision (key sequence, isolation, register
// layout) is made by the controller, so a HAL is little more than a
// port I/O primitive.
//
// Port accesses cannot fail individually on real hardware. HALs whose
// transport can fail (a file-backed port device, for example) latch the
// first failure and report it from Err.
type BusHAL interface {
	// Init prepares the transport. The context can cancel initialization.
	Init(ctx context.Context) error

	// Close releases all resources associated with the HAL.
	Close() error

	// WriteAddress writes v to the ADDRESS port.
	WriteAddress(v uint8)

	// WriteData writes v to the WRITE_DATA port.
	WriteData(v uint8)

	// ReadData reads one byte from the current READ_DATA port.
	// An undriven bus reads as 0xFF.
	ReadData() uint8

	// SetReadPort moves host-side reads to port. The controller programs
	// the cards separately through the Set RD_DATA Port register.
	SetReadPort(port uint16)

	// Delay waits at least d. Implementations choose between a busy
	// wait and a sleep as appropriate to their environment.
	Delay(d time.Duration)

	// Err returns the first transport failure since Init, if any.
	Err() error
}

// Ledger is the host's record of resources owned outside the Plug and
// Play subsystem. The controller only queries it, except for the read
// data port it claims for the duration of a scan and the transient
// interrupt and DMA probes.
type Ledger interface {
	// PortBusy reports whether any port in r is reserved by the host.
	PortBusy(r PortRange) bool

	// ClaimPort reserves r for the caller.
	ClaimPort(r PortRange, owner string) error

	// ReleasePort releases a range previously claimed with ClaimPort.
	ReleasePort(r PortRange)

	// AcquireIRQ claims an interrupt line; an error means it is owned.
	AcquireIRQ(irq uint8, owner string) error

	// ReleaseIRQ releases a line acquired with AcquireIRQ.
	ReleaseIRQ(irq uint8)

	// AcquireDMA claims a DMA channel; an error means it is owned.
	AcquireDMA(channel uint8, owner string) error

	// ReleaseDMA releases a channel acquired with AcquireDMA.
	ReleaseDMA(channel uint8)
}
