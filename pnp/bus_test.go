package pnp_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ardnew/softpnp/pkg"
	"github.com/ardnew/softpnp/pnp"
	"github.com/ardnew/softpnp/pnp/hal"
	"github.com/ardnew/softpnp/pnp/hal/sim"
	"github.com/ardnew/softpnp/pnp/ledger"
)

// =============================================================================
// Helpers
// =============================================================================

var (
	vendorID   = pnp.MustEISAID("VEN0001")
	modemID    = pnp.MustEISAID("VEN0100")
	soundID    = pnp.MustEISAID("VEN0200")
	uartCompat = pnp.MustEISAID("PNP0501")
)

// modemCard is a single-function card with one port, one interrupt and
// an optional second port choice.
func modemCard(serial uint32) []byte {
	return pnp.NewBuilder(vendorID, serial).
		Version(0x10, 0x01).
		Name("Test Modem").
		Device(modemID, 0).
		Compatible(uartCompat).
		StartDependent(pnp.PriorityPreferred).
		Port(pnp.PortOption{Min: 0x3E8, Max: 0x3E8, Size: 8, Flags: pnp.PortFixed}).
		StartDependent(pnp.PriorityAcceptable).
		Port(pnp.PortOption{Min: 0x2E8, Max: 0x2E8, Size: 8, Flags: pnp.PortFixed}).
		EndDependent().
		IRQ(pnp.IRQOption{Map: 1<<3 | 1<<4 | 1<<5, Flags: pnp.IRQHighEdge}).
		Bytes()
}

// soundCard has two logical devices.
func soundCard(serial uint32) []byte {
	return pnp.NewBuilder(pnp.MustEISAID("CTL0031"), serial).
		Name("Test Audio").
		Device(soundID, 0).
		Port(pnp.PortOption{Min: 0x220, Max: 0x280, Align: 0x20, Size: 16}).
		IRQ(pnp.IRQOption{Map: 1<<5 | 1<<7 | 1<<10, Flags: pnp.IRQHighEdge}).
		DMA(pnp.DMAOption{Map: 1<<1 | 1<<3}).
		Device(pnp.MustEISAID("CTL7001"), 0).
		Port(pnp.PortOption{Min: 0x200, Max: 0x200, Size: 8, Flags: pnp.PortFixed}).
		Bytes()
}

func newBus(t *testing.T, l *ledger.Table, opts *pnp.Options, data ...[]byte) (*pnp.Controller, *sim.Bus) {
	t.Helper()
	bus := sim.New()
	for _, d := range data {
		bus.AddCard(sim.NewCard(d))
	}
	var lg hal.Ledger
	if l != nil {
		lg = l
	}
	c := pnp.New(bus, lg, opts)
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return c, bus
}

func build(t *testing.T, c *pnp.Controller) int {
	t.Helper()
	n, err := c.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return n
}

// =============================================================================
// Isolation and Catalogue
// =============================================================================

func TestBuild_AssignsCSNs(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		data := make([][]byte, n)
		for i := range data {
			data[i] = modemCard(0x1000 + uint32(i)*0x0101)
		}
		c, bus := newBus(t, nil, nil, data...)

		if got := build(t, c); got != n {
			t.Fatalf("%d cards: Build() = %d", n, got)
		}

		seen := make(map[uint8]bool)
		for _, sc := range bus.Cards() {
			csn := sc.CSN()
			if csn < 1 || int(csn) > n || seen[csn] {
				t.Errorf("%d cards: duplicate or out of range CSN %d", n, csn)
			}
			seen[csn] = true
			if sc.State() != sim.WaitForKey {
				t.Errorf("card %d state = %v, want %v", csn, sc.State(), sim.WaitForKey)
			}

			card, err := c.Card(int(csn))
			if err != nil {
				t.Fatalf("Card(%d) error = %v", csn, err)
			}
			if !bytes.Equal(card.Raw, sc.Data()) {
				t.Errorf("card %d raw data differs from the card's stream", csn)
			}
		}
	}
}

func TestBuild_DecodesCards(t *testing.T) {
	c, _ := newBus(t, nil, nil, modemCard(0xA5A5A5A5), soundCard(0x00000042))
	if got := build(t, c); got != 2 {
		t.Fatalf("Build() = %d, want 2", got)
	}

	card := c.FindDevice(pnp.MustVendorID("VEN"), 0x0001, 0)
	if card == nil {
		t.Fatal("FindDevice(VEN0001) = nil")
	}
	if card.Serial != 0xA5A5A5A5 || card.Name != "Test Modem" {
		t.Errorf("card = %08X %q", card.Serial, card.Name)
	}
	if card.Version != 0x10 || card.DataChecksum != 0 {
		t.Errorf("Version = 0x%02X, DataChecksum = 0x%02X", card.Version, card.DataChecksum)
	}
	if card.Fingerprint != pnp.Fingerprint(card.Raw) {
		t.Error("Fingerprint does not match Raw")
	}
	if c.FindDevice(pnp.MustVendorID("VEN"), 0x0001, 1) != nil {
		t.Error("FindDevice(VEN0001, 1) found a second card")
	}

	ld := c.FindLogicalDevice(nil, pnp.MustVendorID("PNP"), 0x0501, 0)
	if ld == nil || ld.ID != modemID || ld.CSN != card.CSN {
		t.Fatalf("FindLogicalDevice(PNP0501) = %+v", ld)
	}
	if got := ld.Positions(); len(got) != 2 {
		t.Errorf("Positions() = %v, want two positions", got)
	}

	audio := c.FindDevice(pnp.MustVendorID("CTL"), 0x0031, 0)
	if audio == nil || len(audio.Devices) != 2 {
		t.Fatalf("FindDevice(CTL0031) = %+v", audio)
	}
	if c.FindLogicalDevice(audio, pnp.MustVendorID("VEN"), 0x0100, 0) != nil {
		t.Error("FindLogicalDevice restricted to one card searched another")
	}
}

func TestBuild_EmptyBus(t *testing.T) {
	l := ledger.New()
	c, _ := newBus(t, l, nil)
	n, err := c.Build(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Build() = %d, %v, want 0, nil", n, err)
	}
	if c.ReadPort() != 0 {
		t.Errorf("ReadPort() = 0x%X, want 0", c.ReadPort())
	}
	if got := l.Reservations(); len(got) != 0 {
		t.Errorf("ledger still holds %v", got)
	}
}

func TestBuild_ReadPortFallback(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*sim.Bus, *ledger.Table)
		want  uint16
	}{
		{"first port", func(*sim.Bus, *ledger.Table) {}, 0x213},
		{"noisy port", func(b *sim.Bus, _ *ledger.Table) { b.SetNoisy(0x213) }, 0x233},
		{"reserved port", func(_ *sim.Bus, l *ledger.Table) {
			_ = l.ClaimPort(hal.PortRange{Base: 0x210, Size: 8}, "game")
		}, 0x233},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := ledger.New()
			c, bus := newBus(t, l, nil, modemCard(1), modemCard(2))
			tt.setup(bus, l)

			if got := build(t, c); got != 2 {
				t.Fatalf("Build() = %d, want 2", got)
			}
			if c.ReadPort() != tt.want {
				t.Errorf("ReadPort() = 0x%X, want 0x%X", c.ReadPort(), tt.want)
			}
			if !l.PortBusy(hal.PortRange{Base: tt.want, Size: 1}) {
				t.Error("read port not claimed in the ledger")
			}

			if err := c.Teardown(); err != nil {
				t.Fatalf("Teardown() error = %v", err)
			}
			if l.PortBusy(hal.PortRange{Base: tt.want, Size: 1}) {
				t.Error("Teardown left the read port claimed")
			}
			if len(c.Cards()) != 0 {
				t.Error("Teardown left cards in the catalogue")
			}
		})
	}
}

func TestBuild_Rescan(t *testing.T) {
	c, bus := newBus(t, nil, nil, modemCard(1))
	if got := build(t, c); got != 1 {
		t.Fatalf("Build() = %d, want 1", got)
	}
	bus.AddCard(sim.NewCard(soundCard(2)))
	if err := c.Teardown(); err != nil {
		t.Fatal(err)
	}
	if got := build(t, c); got != 2 {
		t.Errorf("second Build() = %d, want 2", got)
	}
}

func TestBuild_Truncated(t *testing.T) {
	data := modemCard(7)
	// Drop the end tag and its checksum so the card runs dry mid-stream.
	c, _ := newBus(t, nil, nil, data[:len(data)-2])

	if got := build(t, c); got != 1 {
		t.Fatalf("Build() = %d, want 1", got)
	}
	card, err := c.Card(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(card.Devices) != 1 || card.Devices[0].ID != modemID {
		t.Errorf("truncated card devices = %+v", card.Devices)
	}
}

func TestBuild_Cancelled(t *testing.T) {
	c, _ := newBus(t, nil, nil, modemCard(1), modemCard(2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := c.Build(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Build() error = %v, want context.Canceled", err)
	}
	if n != 0 || len(c.Cards()) != 0 {
		t.Errorf("Build() = %d cards after cancellation", n)
	}
}

func TestIsolate(t *testing.T) {
	c, bus := newBus(t, nil, &pnp.Options{MaxCards: 2}, modemCard(1), modemCard(2), modemCard(3))
	n, err := c.Isolate()
	if err != nil {
		t.Fatalf("Isolate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Isolate() = %d, want MaxCards 2", n)
	}
	unnumbered := 0
	for _, sc := range bus.Cards() {
		if sc.CSN() == 0 {
			unnumbered++
		}
	}
	if unnumbered != 1 {
		t.Errorf("%d cards without CSN, want 1", unnumbered)
	}
}

func TestCard_Errors(t *testing.T) {
	c, _ := newBus(t, nil, nil, modemCard(1))
	build(t, c)

	tests := []struct {
		csn int
		err error
	}{
		{0, pkg.ErrInvalidCSN},
		{pnp.MaxCards + 1, pkg.ErrInvalidCSN},
		{2, pkg.ErrNoDevice},
	}
	for _, tt := range tests {
		if _, err := c.Card(tt.csn); !errors.Is(err, tt.err) {
			t.Errorf("Card(%d) error = %v, want %v", tt.csn, err, tt.err)
		}
	}
	if err := c.Wake(11); !errors.Is(err, pkg.ErrInvalidCSN) {
		t.Errorf("Wake(11) error = %v, want ErrInvalidCSN", err)
	}
}

// =============================================================================
// Configuration and Commit
// =============================================================================

func TestConfigureActivate(t *testing.T) {
	l := ledger.New()
	if err := l.Reserve("legacy", []hal.PortRange{{Base: 0x3E8, Size: 8}}, []uint8{5}, nil); err != nil {
		t.Fatal(err)
	}
	c, bus := newBus(t, l, nil, modemCard(0x55))
	build(t, c)

	ld := c.FindLogicalDevice(nil, modemID.Vendor, modemID.Product, 0)
	if ld == nil {
		t.Fatal("modem not found")
	}
	if err := c.Activate(ld); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("Activate() before Configure error = %v, want ErrNotConfigured", err)
	}

	cfg, err := pnp.NewConfig(ld)
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Configure(cfg)
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if res.Ports[0].Value != 0x2E8 {
		t.Errorf("port = 0x%X, want 0x2E8", res.Ports[0].Value)
	}
	if res.IRQs[0].Value != 3 {
		t.Errorf("IRQ = %d, want 3", res.IRQs[0].Value)
	}

	if err := c.Activate(ld); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	sc := bus.Cards()[0]
	if !sc.Active(0) || !ld.Active() {
		t.Error("device not active after Activate")
	}
	if got := uint16(sc.Register(0, pnp.RegPortBase))<<8 | uint16(sc.Register(0, pnp.RegPortBase+1)); got != 0x2E8 {
		t.Errorf("card port register = 0x%04X, want 0x02E8", got)
	}
	if got := sc.Register(0, pnp.RegIRQLevel); got != 3 {
		t.Errorf("card IRQ register = %d, want 3", got)
	}
	if sc.State() != sim.WaitForKey {
		t.Errorf("card state = %v after Activate", sc.State())
	}

	if err := c.Activate(ld); !errors.Is(err, pkg.ErrActive) {
		t.Errorf("second Activate() error = %v, want ErrActive", err)
	}
	if err := c.Release(ld); !errors.Is(err, pkg.ErrActive) {
		t.Errorf("Release() of an active device error = %v, want ErrActive", err)
	}

	if err := c.Deactivate(ld); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if sc.Active(0) || ld.Active() {
		t.Error("device active after Deactivate")
	}
	if active, kept := c.DeviceState(ld); active || kept != res {
		t.Errorf("DeviceState() = %v, %p, want false, %p", active, kept, res)
	}
}

func TestDeviceState_Concurrent(t *testing.T) {
	c, _ := newBus(t, ledger.New(), nil, modemCard(0x56))
	build(t, c)
	ld := c.FindLogicalDevice(nil, modemID.Vendor, modemID.Product, 0)
	if ld == nil {
		t.Fatal("modem not found")
	}
	cfg, err := pnp.NewConfig(ld)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if active, res := c.DeviceState(ld); active && res == nil {
					t.Error("DeviceState() reports active without resources")
					return
				}
			}
		}()
	}
	defer func() {
		close(done)
		wg.Wait()
	}()

	for i := 0; i < 20; i++ {
		if _, err := c.Configure(cfg); err != nil {
			t.Fatalf("Configure() error = %v", err)
		}
		if err := c.Activate(ld); err != nil {
			t.Fatalf("Activate() error = %v", err)
		}
		if err := c.Deactivate(ld); err != nil {
			t.Fatalf("Deactivate() error = %v", err)
		}
	}
}

func TestConfigure_TwoCards(t *testing.T) {
	c, _ := newBus(t, nil, nil, soundCard(1), soundCard(2))
	build(t, c)

	var got []*pnp.Resources
	for i := 0; i < 2; i++ {
		ld := c.FindLogicalDevice(nil, soundID.Vendor, soundID.Product, i)
		if ld == nil {
			t.Fatalf("sound device %d not found", i)
		}
		cfg, err := pnp.NewConfig(ld)
		if err != nil {
			t.Fatal(err)
		}
		res, err := c.Configure(cfg)
		if err != nil {
			t.Fatalf("Configure(%d) error = %v", i, err)
		}
		got = append(got, res)
	}

	a, b := got[0], got[1]
	if a.Ports[0].Value == b.Ports[0].Value {
		t.Errorf("both cards at port 0x%X", a.Ports[0].Value)
	}
	if a.IRQs[0].Value == b.IRQs[0].Value {
		t.Errorf("both cards at IRQ %d", a.IRQs[0].Value)
	}
	if a.DMAs[0].Value == b.DMAs[0].Value {
		t.Errorf("both cards at DMA %d", a.DMAs[0].Value)
	}
}

func TestSession(t *testing.T) {
	c, bus := newBus(t, nil, nil, soundCard(9))
	build(t, c)

	sess, err := c.Begin(1, 1)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := c.Begin(1, 0); !errors.Is(err, pkg.ErrSessionOpen) {
		t.Errorf("nested Begin() error = %v, want ErrSessionOpen", err)
	}
	if _, err := c.Build(context.Background()); !errors.Is(err, pkg.ErrSessionOpen) {
		t.Errorf("Build() during a session error = %v, want ErrSessionOpen", err)
	}
	if err := c.Teardown(); !errors.Is(err, pkg.ErrSessionOpen) {
		t.Errorf("Teardown() during a session error = %v, want ErrSessionOpen", err)
	}

	if err := sess.WriteReg(0xF0, 0x5A); err != nil {
		t.Fatalf("WriteReg() error = %v", err)
	}
	v, err := sess.ReadReg(0xF0)
	if err != nil || v != 0x5A {
		t.Errorf("ReadReg() = 0x%02X, %v, want 0x5A", v, err)
	}
	if err := sess.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if err := sess.End(); err != nil {
		t.Errorf("second End() error = %v", err)
	}
	if err := sess.WriteReg(0xF0, 0); !errors.Is(err, pkg.ErrNoSession) {
		t.Errorf("WriteReg() after End error = %v, want ErrNoSession", err)
	}

	if got := bus.Cards()[0].Register(1, 0xF0); got != 0x5A {
		t.Errorf("logical device 1 register 0xF0 = 0x%02X, want 0x5A", got)
	}
	if got := bus.Cards()[0].Register(0, 0xF0); got != 0 {
		t.Errorf("logical device 0 register 0xF0 = 0x%02X, want 0", got)
	}

	tests := []struct {
		csn, logdev int
		err         error
	}{
		{0, 0, pkg.ErrInvalidCSN},
		{11, 0, pkg.ErrInvalidCSN},
		{1, -1, pkg.ErrInvalidIndex},
		{1, 256, pkg.ErrInvalidIndex},
	}
	for _, tt := range tests {
		if _, err := c.Begin(tt.csn, tt.logdev); !errors.Is(err, tt.err) {
			t.Errorf("Begin(%d, %d) error = %v, want %v", tt.csn, tt.logdev, err, tt.err)
		}
	}
}

func TestClosedBus(t *testing.T) {
	c, _ := newBus(t, nil, nil, modemCard(1))
	build(t, c)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(c.Cards()) != 0 {
		t.Error("Close left cards in the catalogue")
	}

	// The transport latches its error; it surfaces when the session ends.
	sess, err := c.Begin(1, 0)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if err := sess.End(); !errors.Is(err, sim.ErrClosed) {
		t.Errorf("End() error = %v, want sim.ErrClosed", err)
	}
}

// =============================================================================
// Snapshot
// =============================================================================

func TestSnapshot(t *testing.T) {
	c, _ := newBus(t, nil, nil, modemCard(0xCAFE), soundCard(0xBEEF))
	build(t, c)

	ld := c.FindLogicalDevice(nil, soundID.Vendor, soundID.Product, 0)
	cfg, err := pnp.NewConfig(ld)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Configure(cfg); err != nil {
		t.Fatal(err)
	}
	if err := c.Activate(ld); err != nil {
		t.Fatal(err)
	}

	snap := c.Snapshot()
	if snap.ReadPort != c.ReadPort() || len(snap.Cards) != 2 {
		t.Fatalf("Snapshot() = port 0x%X, %d cards", snap.ReadPort, len(snap.Cards))
	}

	data, err := pnp.MarshalSnapshot(snap)
	if err != nil {
		t.Fatalf("MarshalSnapshot() error = %v", err)
	}
	again, err := pnp.MarshalSnapshot(c.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Error("MarshalSnapshot is not deterministic")
	}

	got, err := pnp.UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot() error = %v", err)
	}
	for i, rec := range got.Cards {
		want := snap.Cards[i]
		if rec.ID != want.ID || rec.Serial != want.Serial || rec.Fingerprint != want.Fingerprint {
			t.Errorf("card %d record = %v %08X, want %v %08X", i, rec.ID, rec.Serial, want.ID, want.Serial)
		}
		card, err := rec.Decode()
		if err != nil {
			t.Fatalf("card %d Decode() error = %v", i, err)
		}
		live, _ := c.Card(rec.CSN)
		if len(card.Devices) != len(live.Devices) || !bytes.Equal(pnp.Encode(card), pnp.Encode(live)) {
			t.Errorf("card %d decoded from snapshot differs from the live card", i)
		}
	}

	var active *pnp.DeviceRecord
	for i := range got.Cards {
		for j := range got.Cards[i].Devices {
			if d := &got.Cards[i].Devices[j]; d.Active {
				active = d
			}
		}
	}
	if active == nil || active.ID != soundID || active.Resources == nil {
		t.Fatalf("active device record = %+v", active)
	}
	if active.Resources.IRQs[0].Value != ld.Resources().IRQs[0].Value {
		t.Errorf("recorded IRQ = %d, want %d", active.Resources.IRQs[0].Value, ld.Resources().IRQs[0].Value)
	}

	// Tampered data fails the fingerprint.
	rec := got.Cards[0]
	rec.Raw = append([]byte(nil), rec.Raw...)
	rec.Raw[len(rec.Raw)-3] ^= 0xFF
	if _, err := rec.Decode(); !errors.Is(err, pkg.ErrChecksum) {
		t.Errorf("tampered Decode() error = %v, want ErrChecksum", err)
	}
}

func TestFingerprint(t *testing.T) {
	a := modemCard(1)
	b := modemCard(2)
	if pnp.Fingerprint(a) != pnp.Fingerprint(append([]byte(nil), a...)) {
		t.Error("Fingerprint is not stable")
	}
	if pnp.Fingerprint(a) == pnp.Fingerprint(b) {
		t.Error("different cards share a fingerprint")
	}
}
