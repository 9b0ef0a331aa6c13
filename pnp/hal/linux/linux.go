//go:build linux

package linux

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/softpnp/pkg"
	"github.com/ardnew/softpnp/pnp/hal"
)

// =============================================================================
// BusHAL Implementation
// =============================================================================

// PortHAL implements the hal.BusHAL interface for Linux using /dev/port.
type PortHAL struct {
	path string

	mu       sync.Mutex
	fd       int
	open     bool
	readPort uint16
	err      error

	// one is the single-byte transfer buffer.
	one [1]byte
}

// NewPortHAL creates a HAL that accesses ports through the device at
// path. An empty path selects DevPortPath.
func NewPortHAL(path string) *PortHAL {
	if path == "" {
		path = DevPortPath
	}
	return &PortHAL{path: path, fd: -1}
}

// Compile-time interface check.
var _ hal.BusHAL = (*PortHAL)(nil)

// =============================================================================
// Lifecycle Methods
// =============================================================================

// Init opens the port device.
func (h *PortHAL) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.open {
		return pkg.ErrBusy
	}
	fd, err := unix.Open(h.path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", h.path, err)
	}
	h.fd = fd
	h.open = true
	h.err = nil

	pkg.LogDebug(pkg.ComponentHAL, "Linux port HAL initialized", "path", h.path)
	return nil
}

// Close closes the port device. Later accesses latch an error.
func (h *PortHAL) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.open {
		return nil
	}
	h.open = false
	err := unix.Close(h.fd)
	h.fd = -1
	pkg.LogDebug(pkg.ComponentHAL, "Linux port HAL closed")
	return err
}

// Err returns the first transport failure since Init.
func (h *PortHAL) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// =============================================================================
// Port Access
// =============================================================================

// WriteAddress writes v to the ADDRESS port.
func (h *PortHAL) WriteAddress(v uint8) {
	h.out(hal.AddressPort, v)
}

// WriteData writes v to the WRITE_DATA port.
func (h *PortHAL) WriteData(v uint8) {
	h.out(hal.WriteDataPort, v)
}

// ReadData reads the current READ_DATA port. A failed read returns 0xFF,
// as an undriven bus would.
func (h *PortHAL) ReadData() uint8 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.ready() {
		return 0xFF
	}
	n, err := unix.Pread(h.fd, h.one[:], int64(h.readPort))
	if err == nil && n != 1 {
		err = fmt.Errorf("short read at port 0x%03X", h.readPort)
	}
	if err != nil {
		h.latch(fmt.Errorf("read port 0x%03X: %w", h.readPort, err))
		return 0xFF
	}
	return h.one[0]
}

// SetReadPort moves reads to port.
func (h *PortHAL) SetReadPort(port uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readPort = port
}

func (h *PortHAL) out(port uint16, v uint8) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.ready() {
		return
	}
	h.one[0] = v
	n, err := unix.Pwrite(h.fd, h.one[:], int64(port))
	if err == nil && n != 1 {
		err = fmt.Errorf("short write at port 0x%03X", port)
	}
	if err != nil {
		h.latch(fmt.Errorf("write port 0x%03X: %w", port, err))
	}
}

// ready reports whether the device is usable, latching an error if it
// is not. The caller holds h.mu.
func (h *PortHAL) ready() bool {
	if h.open {
		return true
	}
	h.latch(fmt.Errorf("%s: %w", h.path, pkg.ErrNoDevice))
	return false
}

// latch records err unless an earlier failure is pending. The caller
// holds h.mu.
func (h *PortHAL) latch(err error) {
	if h.err == nil {
		h.err = err
		pkg.LogError(pkg.ComponentHAL, "port access failed", "error", err)
	}
}

// =============================================================================
// Timing
// =============================================================================

// Delay waits at least d.
func (h *PortHAL) Delay(d time.Duration) {
	if d <= 0 {
		return
	}
	if d > SpinThreshold {
		time.Sleep(d)
		return
	}
	for start := time.Now(); time.Since(start) < d; {
	}
}
