// Package linux provides an ISA Plug and Play bus HAL for Linux using
// /dev/port.
//
// Each port access is a one-byte pread or pwrite at the port's offset in
// /dev/port, so the HAL needs no cgo and no inline assembly. The file is
// opened once in Init and held until Close.
//
// # Requirements
//
// Access to /dev/port requires CAP_SYS_RAWIO, which in practice means
// running as root. Kernels built without CONFIG_DEVPORT do not provide
// the device; Init then fails with the open error.
//
// # Host Resources
//
// [ScanProc] reads /proc/ioports, /proc/interrupts and /proc/dma and
// returns the ISA resources other drivers already hold. [Resources.Apply]
// records them in a [ledger.Table] so the controller steers around them.
//
// # Timing
//
// Delays up to [SpinThreshold] busy-wait on the monotonic clock; longer
// delays sleep.
package linux
