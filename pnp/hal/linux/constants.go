package linux

import "time"

// =============================================================================
// System Paths
// =============================================================================

// DevPortPath is the character device exposing the I/O port space.
const DevPortPath = "/dev/port"

// ProcRoot is the default procfs mount point.
const ProcRoot = "/proc"

// Procfs files describing resources owned by other drivers.
const (
	procIOPorts    = "ioports"
	procInterrupts = "interrupts"
	procDMA        = "dma"
)

// =============================================================================
// Timing
// =============================================================================

// SpinThreshold is the longest delay served by a busy wait. Longer delays
// sleep; the scheduler's granularity makes short sleeps overshoot badly.
const SpinThreshold = 500 * time.Microsecond

// =============================================================================
// ISA Limits
// =============================================================================

// isaPortLimit bounds the port space ISA cards decode.
const isaPortLimit = 0x400

// Interrupt lines and DMA channels on the ISA bus.
const (
	isaIRQs = 16
	isaDMAs = 8
)

// HostOwner is the ledger owner recorded for resources found in procfs
// when the driver name is unknown.
const HostOwner = "host"
