package ledger

import (
	"errors"
	"testing"

	"github.com/ardnew/softpnp/pkg"
	"github.com/ardnew/softpnp/pnp/hal"
)

func TestTable_ClaimPort(t *testing.T) {
	tbl := New()

	if err := tbl.ClaimPort(hal.PortRange{Base: 0x3F8, Size: 8}, "serial"); err != nil {
		t.Fatalf("ClaimPort: %v", err)
	}
	if !tbl.PortBusy(hal.PortRange{Base: 0x3FF, Size: 1}) {
		t.Error("PortBusy(0x3FF) = false, want true")
	}
	if tbl.PortBusy(hal.PortRange{Base: 0x400, Size: 1}) {
		t.Error("PortBusy(0x400) = true, want false")
	}

	err := tbl.ClaimPort(hal.PortRange{Base: 0x3FC, Size: 8}, "other")
	if !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("overlapping ClaimPort err = %v, want ErrBusy", err)
	}

	if err := tbl.ClaimPort(hal.PortRange{Base: 0x100}, "empty"); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Errorf("empty ClaimPort err = %v, want ErrInvalidArgument", err)
	}

	tbl.ReleasePort(hal.PortRange{Base: 0x3F8, Size: 8})
	if tbl.PortBusy(hal.PortRange{Base: 0x3F8, Size: 8}) {
		t.Error("port still busy after release")
	}
}

func TestTable_Reservations_Sorted(t *testing.T) {
	tbl := New()
	for _, r := range []hal.PortRange{{Base: 0x378, Size: 3}, {Base: 0x1F0, Size: 8}, {Base: 0x2F8, Size: 8}} {
		if err := tbl.ClaimPort(r, "host"); err != nil {
			t.Fatal(err)
		}
	}
	got := tbl.Reservations()
	if len(got) != 3 || got[0].Base != 0x1F0 || got[1].Base != 0x2F8 || got[2].Base != 0x378 {
		t.Errorf("Reservations() = %v, want ordered by base", got)
	}
}

func TestTable_IRQ(t *testing.T) {
	tbl := New()

	if err := tbl.AcquireIRQ(5, "sound"); err != nil {
		t.Fatalf("AcquireIRQ: %v", err)
	}
	if err := tbl.AcquireIRQ(5, "net"); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("second AcquireIRQ err = %v, want ErrBusy", err)
	}
	if got := tbl.IRQOwner(5); got != "sound" {
		t.Errorf("IRQOwner(5) = %q, want sound", got)
	}
	tbl.ReleaseIRQ(5)
	if got := tbl.IRQOwner(5); got != "" {
		t.Errorf("IRQOwner(5) after release = %q", got)
	}
	if err := tbl.AcquireIRQ(16, "bad"); !errors.Is(err, pkg.ErrInvalidArgument) {
		t.Errorf("AcquireIRQ(16) err = %v, want ErrInvalidArgument", err)
	}
}

func TestTable_DMA(t *testing.T) {
	tbl := New()

	if err := tbl.AcquireDMA(1, "sound"); err != nil {
		t.Fatalf("AcquireDMA: %v", err)
	}
	if err := tbl.AcquireDMA(1, "net"); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("second AcquireDMA err = %v, want ErrBusy", err)
	}
	tbl.ReleaseDMA(1)
	if got := tbl.DMAOwner(1); got != "" {
		t.Errorf("DMAOwner(1) after release = %q", got)
	}
}

func TestTable_Reserve(t *testing.T) {
	tbl := New()
	err := tbl.Reserve("config",
		[]hal.PortRange{{Base: 0x200, Size: 0x10}},
		[]uint8{3, 4},
		[]uint8{2})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !tbl.PortBusy(hal.PortRange{Base: 0x20F, Size: 1}) {
		t.Error("reserved port range not busy")
	}
	if tbl.IRQOwner(3) != "config" || tbl.IRQOwner(4) != "config" {
		t.Error("reserved irqs not owned")
	}
	if tbl.DMAOwner(2) != "config" {
		t.Error("reserved dma not owned")
	}
}
