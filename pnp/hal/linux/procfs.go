package linux

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ardnew/softpnp/pkg"
	"github.com/ardnew/softpnp/pnp/hal"
	"github.com/ardnew/softpnp/pnp/ledger"
)

// =============================================================================
// Host Resources
// =============================================================================

// PortClaim is an I/O range held by a driver.
type PortClaim struct {
	hal.PortRange
	Owner string
}

// LineClaim is an interrupt line or DMA channel held by a driver.
type LineClaim struct {
	Line  uint8
	Owner string
}

// Resources lists the ISA resources held by other drivers.
type Resources struct {
	Ports []PortClaim
	IRQs  []LineClaim
	DMAs  []LineClaim
}

// ScanProc reads the resource files under root, normally ProcRoot. A
// missing file contributes nothing.
func ScanProc(root string) (*Resources, error) {
	var res Resources
	var err error

	if res.Ports, err = readProc(root, procIOPorts, parseIOPorts); err != nil {
		return nil, err
	}
	if res.IRQs, err = readProc(root, procInterrupts, parseInterrupts); err != nil {
		return nil, err
	}
	if res.DMAs, err = readProc(root, procDMA, parseDMA); err != nil {
		return nil, err
	}

	pkg.LogDebug(pkg.ComponentHAL, "host resources scanned",
		"ports", len(res.Ports), "irqs", len(res.IRQs), "dmas", len(res.DMAs))
	return &res, nil
}

func readProc[T any](root, name string, parse func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(filepath.Join(root, name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	out, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name(), err)
	}
	return out, nil
}

// Apply records every claim in l. Claims the ledger already holds are
// skipped.
func (r *Resources) Apply(l *ledger.Table) {
	for _, p := range r.Ports {
		if !l.PortBusy(p.PortRange) {
			_ = l.ClaimPort(p.PortRange, p.Owner)
		}
	}
	for _, q := range r.IRQs {
		_ = l.AcquireIRQ(q.Line, q.Owner)
	}
	for _, d := range r.DMAs {
		_ = l.AcquireDMA(d.Line, d.Owner)
	}
}

// =============================================================================
// Procfs Parsing
// =============================================================================

// parseIOPorts parses /proc/ioports. Entries nest by two-space indent;
// the outermost entry that names a device wins, and bus windows such as
// "PCI Bus 0000:00" are descended into instead. Only ranges starting in
// the ISA port space are kept.
func parseIOPorts(r io.Reader) ([]PortClaim, error) {
	var out []PortClaim
	taken := -1 // depth of the entry covering the current line

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimLeft(line, " ")
		if trimmed == "" {
			continue
		}
		depth := (len(line) - len(trimmed)) / 2

		span, name, ok := strings.Cut(trimmed, " : ")
		if !ok {
			continue
		}
		lo, hi, ok := strings.Cut(strings.TrimSpace(span), "-")
		if !ok {
			continue
		}
		base, err1 := strconv.ParseUint(lo, 16, 32)
		last, err2 := strconv.ParseUint(hi, 16, 32)
		if err1 != nil || err2 != nil || last < base {
			continue
		}

		if taken >= 0 && depth > taken {
			continue
		}
		taken = -1
		if isBusWindow(name) || base >= isaPortLimit {
			continue
		}
		last = min(last, isaPortLimit-1)
		out = append(out, PortClaim{
			PortRange: hal.PortRange{Base: uint16(base), Size: uint16(last - base + 1)},
			Owner:     strings.TrimSpace(name),
		})
		taken = depth
	}
	return out, scanner.Err()
}

func isBusWindow(name string) bool {
	return strings.HasPrefix(name, "PCI Bus") || strings.HasPrefix(name, "PCI conf")
}

// parseInterrupts parses /proc/interrupts. Rows are "N:" followed by one
// count per CPU, the controller, and the comma-separated handler names.
func parseInterrupts(r io.Reader) ([]LineClaim, error) {
	var out []LineClaim
	scanner := bufio.NewScanner(r)
	cpus := 0
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if cpus == 0 && strings.HasPrefix(fields[0], "CPU") {
			cpus = len(fields)
			continue
		}
		label, ok := strings.CutSuffix(fields[0], ":")
		if !ok {
			continue
		}
		irq, err := strconv.ParseUint(label, 10, 8)
		if err != nil || irq >= isaIRQs {
			continue
		}
		owner := HostOwner
		if rest := fields[1:]; cpus > 0 && len(rest) > cpus+2 {
			// counts, chip, hwirq-type, then the handlers.
			owner = strings.Join(rest[cpus+2:], " ")
		}
		out = append(out, LineClaim{Line: uint8(irq), Owner: owner})
	}
	return out, scanner.Err()
}

// parseDMA parses /proc/dma, whose rows are " N: owner".
func parseDMA(r io.Reader) ([]LineClaim, error) {
	var out []LineClaim
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		label, owner, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		ch, err := strconv.ParseUint(strings.TrimSpace(label), 10, 8)
		if err != nil || ch >= isaDMAs {
			continue
		}
		owner = strings.TrimSpace(owner)
		if owner == "" {
			owner = HostOwner
		}
		out = append(out, LineClaim{Line: uint8(ch), Owner: owner})
	}
	return out, scanner.Err()
}
