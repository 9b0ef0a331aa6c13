package pnp

import (
	"fmt"
	"time"
)

// Bus limits.
const (
	// MaxCards is the highest card select number the controller assigns.
	MaxCards = 10

	// Per logical device register slots.
	MaxPorts = 8
	MaxIRQs  = 2
	MaxDMAs  = 2
	MaxMems  = 4

	// DefaultMaxPasses bounds the auto-configuration search.
	DefaultMaxPasses = 20

	// HeaderSize is the length of the serial identifier: vendor (2),
	// device (2), serial number (4) and checksum (1).
	HeaderSize = 9

	// IdentityBits is the number of bits read per isolation pass.
	IdentityBits = HeaderSize * 8
)

// Card-level registers (ISA Plug and Play 1.0a, section 4.5).
const (
	RegSetReadPort     = 0x00
	RegSerialIsolation = 0x01
	RegConfigControl   = 0x02
	RegWake            = 0x03
	RegResourceData    = 0x04
	RegStatus          = 0x05
	RegCardSelect      = 0x06
	RegLogicalDevice   = 0x07
)

// Config Control register bits.
const (
	ControlReset      = 0x01
	ControlWaitForKey = 0x02
	ControlResetCSN   = 0x04
)

// Logical device registers.
const (
	RegActivate    = 0x30
	RegIORangeChk  = 0x31
	RegMemBase     = 0x40 // 24-bit memory descriptors, stride 8
	RegPortBase    = 0x60 // I/O base descriptors, stride 2
	RegIRQLevel    = 0x70 // interrupt level, stride 2
	RegIRQType     = 0x71 // interrupt type, stride 2
	RegDMAChannel  = 0x74 // DMA channel, stride 1
	RegMem32Base   = 0x76 // 32-bit memory descriptor 0
	RegDMADisabled = 0x04 // DMA channel value meaning "no channel"
)

// Status register bits.
const (
	StatusDataReady = 0x01
)

// Isolation bit encoding: a card driving a 1 bit answers the first read of
// a pair with 0x55 and the second with 0xAA.
const (
	isolationHigh = 0x55
	isolationLow  = 0xAA
)

// Key sequence.
const (
	keySeed   = 0x6A
	keyLength = 32
)

// Read port search. Ports 0x280..0x380 are skipped because some network
// cards hang when probed there.
const (
	ReadPortFirst     uint16 = 0x213
	ReadPortStep      uint16 = 32
	readPortAvoidLow  uint16 = 0x280
	readPortAvoidHigh uint16 = 0x380
)

// Protocol timing.
const (
	KeyDelay          = 1 * time.Millisecond
	ResetDelay        = 2 * time.Millisecond
	IsolationDelay    = 250 * time.Microsecond
	ReadPortDelay     = 1 * time.Millisecond
	StatusPollDelay   = 100 * time.Microsecond
	StatusPollLimit   = 20
	ActivateDelay     = 250 * time.Microsecond
	readPortSetupWait = 100 * time.Microsecond
)

// Priority ranks a dependent function. Lower is better.
type Priority uint8

// Dependent function priorities.
const (
	PriorityPreferred  Priority = 0
	PriorityAcceptable Priority = 1
	PriorityFunctional Priority = 2
	PriorityInvalid    Priority = 3
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityPreferred:
		return "preferred"
	case PriorityAcceptable:
		return "acceptable"
	case PriorityFunctional:
		return "functional"
	default:
		return "invalid"
	}
}

// Short resource tag types (bits 6..3 of the tag byte).
const (
	TagPnPVersion     = 0x01
	TagLogicalDevice  = 0x02
	TagCompatibleID   = 0x03
	TagIRQ            = 0x04
	TagDMA            = 0x05
	TagStartDependent = 0x06
	TagEndDependent   = 0x07
	TagIOPort         = 0x08
	TagFixedIOPort    = 0x09
	TagVendorShort    = 0x0E
	TagEnd            = 0x0F
)

// Long resource tag types (the whole tag byte).
const (
	TagMemRange      = 0x81
	TagANSIString    = 0x82
	TagUnicodeString = 0x83
	TagVendorLong    = 0x84
	TagMem32Range    = 0x85
	TagFixedMem32    = 0x86
)

// Payload lengths of fixed-size tags.
const (
	lenPnPVersion   = 2
	lenCompatibleID = 4
	lenDMA          = 2
	lenIOPort       = 7
	lenFixedIOPort  = 3
	lenEnd          = 1
	lenMemRange     = 9
	lenMem32Range   = 17
	lenFixedMem32   = 9
)

// I/O port option flags.
const (
	PortDecode16 = 0x01 // full 16-bit address decode
	PortFixed    = 0x80 // synthesized from a fixed I/O port tag
)

// IRQ option flags.
const (
	IRQHighEdge  = 0x01
	IRQLowEdge   = 0x02
	IRQHighLevel = 0x04
	IRQLowLevel  = 0x08
)

// DMA channel that cascades the two controllers; never assignable.
const dmaCascade = 4

// Memory option flags.
const (
	MemWritable    = 0x01
	MemCacheable   = 0x02
	MemRangeLength = 0x04 // limit register holds a length, not an upper bound
	MemFixed       = 0x80 // synthesized from a fixed 32-bit memory tag
)

// ResourceKind names one of the configurable resource kinds.
type ResourceKind uint8

// Resource kinds, in search order.
const (
	KindPort ResourceKind = iota
	KindIRQ
	KindDMA
	KindMem
)

// String returns the kind name.
func (k ResourceKind) String() string {
	switch k {
	case KindPort:
		return "port"
	case KindIRQ:
		return "irq"
	case KindDMA:
		return "dma"
	case KindMem:
		return "mem"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// DefaultIRQPreference orders interrupt lines by how rarely on-board
// devices use them.
var DefaultIRQPreference = []uint8{5, 10, 11, 12, 9, 14, 15, 7, 3, 4, 13, 0, 1, 6, 8, 2}
