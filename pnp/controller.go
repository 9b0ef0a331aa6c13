package pnp

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/softpnp/pkg"
	"github.com/ardnew/softpnp/pnp/hal"
)

// DefaultOwner is the ledger owner name used for the read data port.
const DefaultOwner = "isapnp"

// Options tunes a Controller. The zero value selects the defaults.
type Options struct {
	// MaxCards bounds isolation. Values outside 1..MaxCards select MaxCards.
	MaxCards int

	// ReadPortFirst and ReadPortLast bound the read data port search.
	// Zero selects ReadPortFirst and hal.ReadPortMax.
	ReadPortFirst uint16
	ReadPortLast  uint16

	// MaxPasses bounds the auto-configuration search.
	MaxPasses int

	// IRQPreference is the order in which interrupt lines are tried.
	IRQPreference []uint8

	// Owner names this controller in the ledger.
	Owner string
}

func (o Options) withDefaults() Options {
	if o.MaxCards <= 0 || o.MaxCards > MaxCards {
		o.MaxCards = MaxCards
	}
	if o.ReadPortFirst == 0 {
		o.ReadPortFirst = ReadPortFirst
	}
	if o.ReadPortLast == 0 {
		o.ReadPortLast = hal.ReadPortMax
	}
	if o.MaxPasses <= 0 {
		o.MaxPasses = DefaultMaxPasses
	}
	if len(o.IRQPreference) == 0 {
		o.IRQPreference = DefaultIRQPreference
	}
	if o.Owner == "" {
		o.Owner = DefaultOwner
	}
	return o
}

// Controller drives one ISA Plug and Play bus. It owns the catalogue of
// cards found by Build and serializes register access through sessions.
type Controller struct {
	hal    hal.BusHAL
	ledger hal.Ledger
	opts   Options

	// session is held for the duration of any multi-step register
	// access: a scan, a configuration write or an explicit Begin/End.
	session sync.Mutex

	// Catalogue, written only by Build and Teardown.
	mu       sync.RWMutex
	cards    []*Card
	csnCount int

	// Read data port state, owned by the session holder.
	readPort        uint16
	readPortClaimed bool

	// dataSum folds every byte returned by ReadSerial.
	dataSum uint8
}

// New creates a controller for the bus behind h. The ledger l records
// host-owned resources; it may be nil, in which case nothing is reserved.
func New(h hal.BusHAL, l hal.Ledger, opts *Options) *Controller {
	var o Options
	if opts != nil {
		o = *opts
	}
	if l == nil {
		l = nopLedger{}
	}
	return &Controller{
		hal:    h,
		ledger: l,
		opts:   o.withDefaults(),
	}
}

// Options returns the effective options.
func (c *Controller) Options() Options {
	return c.opts
}

// Init prepares the transport.
func (c *Controller) Init(ctx context.Context) error {
	if err := c.hal.Init(ctx); err != nil {
		return pkg.NewError("init", -1, -1, err)
	}
	pkg.LogInfo(pkg.ComponentBus, "controller initialized")
	return nil
}

// Teardown discards the catalogue and releases the read data port so the
// controller can scan again. It fails with pkg.ErrSessionOpen while a
// session is open.
func (c *Controller) Teardown() error {
	if !c.session.TryLock() {
		return pkg.NewError("teardown", -1, -1, pkg.ErrSessionOpen)
	}
	defer c.session.Unlock()

	c.releaseReadPort()

	c.mu.Lock()
	c.cards = nil
	c.csnCount = 0
	c.mu.Unlock()

	pkg.LogDebug(pkg.ComponentRegistry, "catalogue cleared")
	return nil
}

// Close tears the controller down and closes the transport.
func (c *Controller) Close() error {
	if err := c.Teardown(); err != nil {
		return err
	}
	return c.hal.Close()
}

// ReadPort returns the read data port selected by the last scan, or 0.
func (c *Controller) ReadPort() uint16 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.readPortClaimed {
		return 0
	}
	return c.readPort
}

func indexError(i int) error {
	return fmt.Errorf("index %d: %w", i, pkg.ErrInvalidIndex)
}

func csnError(csn int) error {
	return fmt.Errorf("csn %d: %w", csn, pkg.ErrInvalidCSN)
}

// writeByte writes v to card register reg.
func (c *Controller) writeByte(reg, v uint8) {
	c.hal.WriteAddress(reg)
	c.hal.WriteData(v)
}

// writeWord writes v high byte first to registers reg and reg+1.
func (c *Controller) writeWord(reg uint8, v uint16) {
	c.writeByte(reg, uint8(v>>8))
	c.writeByte(reg+1, uint8(v))
}

// readByte reads card register reg through the read data port.
func (c *Controller) readByte(reg uint8) uint8 {
	c.hal.WriteAddress(reg)
	return c.hal.ReadData()
}

// nopLedger reserves nothing.
type nopLedger struct{}

func (nopLedger) PortBusy(hal.PortRange) bool           { return false }
func (nopLedger) ClaimPort(hal.PortRange, string) error { return nil }
func (nopLedger) ReleasePort(hal.PortRange)             {}
func (nopLedger) AcquireIRQ(uint8, string) error        { return nil }
func (nopLedger) ReleaseIRQ(uint8)                      {}
func (nopLedger) AcquireDMA(uint8, string) error        { return nil }
func (nopLedger) ReleaseDMA(uint8)                      {}
