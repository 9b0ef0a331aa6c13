// Package ledger provides an in-memory host resource ledger implementing
// [hal.Ledger].
//
// A Table records the I/O port ranges, interrupt lines and DMA channels
// owned outside the Plug and Play subsystem: legacy on-board devices,
// drivers already loaded, and administrator reservations from
// configuration. The Plug and Play controller queries it while searching
// for a configuration; the driver that receives a finished configuration
// records its own claims here.
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ardnew/softpnp/pkg"
	"github.com/ardnew/softpnp/pnp/hal"
)

// Limits of the ISA interrupt and DMA spaces.
const (
	NumIRQs = 16
	NumDMAs = 8
)

type portClaim struct {
	hal.PortRange
	owner string
}

// Table is a host resource ledger. The zero value is not usable; call New.
// All methods are safe for concurrent use.
type Table struct {
	mu    sync.RWMutex
	ports []portClaim
	irqs  [NumIRQs]string
	dmas  [NumDMAs]string
}

// New returns an empty ledger.
func New() *Table {
	return &Table{}
}

// Compile-time interface check.
var _ hal.Ledger = (*Table)(nil)

// PortBusy reports whether any port in r is claimed.
func (t *Table) PortBusy(r hal.PortRange) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.portOwner(r) != ""
}

func (t *Table) portOwner(r hal.PortRange) string {
	for _, c := range t.ports {
		if c.Overlaps(r) {
			return c.owner
		}
	}
	return ""
}

// ClaimPort reserves r for owner. It fails with pkg.ErrBusy if any port
// in r is already claimed.
func (t *Table) ClaimPort(r hal.PortRange, owner string) error {
	if r.Size == 0 {
		return fmt.Errorf("claim port 0x%04X: %w", r.Base, pkg.ErrInvalidArgument)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if o := t.portOwner(r); o != "" {
		return fmt.Errorf("claim port 0x%04X+%d: owned by %s: %w", r.Base, r.Size, o, pkg.ErrBusy)
	}
	t.ports = append(t.ports, portClaim{PortRange: r, owner: owner})
	sort.Slice(t.ports, func(i, j int) bool { return t.ports[i].Base < t.ports[j].Base })
	pkg.LogDebug(pkg.ComponentLedger, "port claimed", "base", r.Base, "size", r.Size, "owner", owner)
	return nil
}

// ReleasePort releases the claim that exactly matches r.
func (t *Table) ReleasePort(r hal.PortRange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range t.ports {
		if c.PortRange == r {
			t.ports = append(t.ports[:i], t.ports[i+1:]...)
			pkg.LogDebug(pkg.ComponentLedger, "port released", "base", r.Base, "size", r.Size)
			return
		}
	}
}

// AcquireIRQ claims an interrupt line for owner.
func (t *Table) AcquireIRQ(irq uint8, owner string) error {
	if irq >= NumIRQs {
		return fmt.Errorf("acquire irq %d: %w", irq, pkg.ErrInvalidArgument)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if o := t.irqs[irq]; o != "" {
		return fmt.Errorf("acquire irq %d: owned by %s: %w", irq, o, pkg.ErrBusy)
	}
	t.irqs[irq] = owner
	return nil
}

// ReleaseIRQ releases an interrupt line.
func (t *Table) ReleaseIRQ(irq uint8) {
	if irq >= NumIRQs {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.irqs[irq] = ""
}

// AcquireDMA claims a DMA channel for owner.
func (t *Table) AcquireDMA(channel uint8, owner string) error {
	if channel >= NumDMAs {
		return fmt.Errorf("acquire dma %d: %w", channel, pkg.ErrInvalidArgument)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if o := t.dmas[channel]; o != "" {
		return fmt.Errorf("acquire dma %d: owned by %s: %w", channel, o, pkg.ErrBusy)
	}
	t.dmas[channel] = owner
	return nil
}

// ReleaseDMA releases a DMA channel.
func (t *Table) ReleaseDMA(channel uint8) {
	if channel >= NumDMAs {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dmas[channel] = ""
}

// IRQOwner returns the owner of an interrupt line, or "" if free.
func (t *Table) IRQOwner(irq uint8) string {
	if irq >= NumIRQs {
		return ""
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.irqs[irq]
}

// DMAOwner returns the owner of a DMA channel, or "" if free.
func (t *Table) DMAOwner(channel uint8) string {
	if channel >= NumDMAs {
		return ""
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dmas[channel]
}

// Reservations lists the I/O claims currently held, ordered by base.
func (t *Table) Reservations() []hal.PortRange {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]hal.PortRange, len(t.ports))
	for i, c := range t.ports {
		out[i] = c.PortRange
	}
	return out
}

// Reserve applies a set of host reservations, as loaded from
// configuration, to the ledger under the given owner name.
func (t *Table) Reserve(owner string, ports []hal.PortRange, irqs, dmas []uint8) error {
	for _, r := range ports {
		if err := t.ClaimPort(r, owner); err != nil {
			return err
		}
	}
	for _, irq := range irqs {
		if err := t.AcquireIRQ(irq, owner); err != nil {
			return err
		}
	}
	for _, ch := range dmas {
		if err := t.AcquireDMA(ch, owner); err != nil {
			return err
		}
	}
	pkg.LogInfo(pkg.ComponentLedger, "host reservations applied",
		"owner", owner, "ports", len(ports), "irqs", len(irqs), "dmas", len(dmas))
	return nil
}
