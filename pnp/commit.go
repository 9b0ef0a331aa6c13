package pnp

import (
	"github.com/ardnew/softpnp/pkg"
)

// Session addresses one logical device for register access. Only one
// session may be open per controller; the bus keeps a single current
// card and logical device.
type Session struct {
	c      *Controller
	csn    int
	logdev int
	done   bool
}

// Begin opens a session on logical device logdev of card csn. It fails
// with pkg.ErrInvalidCSN outside 1..MaxCards and pkg.ErrSessionOpen if
// another session, scan or configuration write holds the bus.
func (c *Controller) Begin(csn, logdev int) (*Session, error) {
	if csn < 1 || csn > MaxCards {
		return nil, pkg.NewError("begin", csn, logdev, csnError(csn))
	}
	if logdev < 0 || logdev > 0xFF {
		return nil, pkg.NewError("begin", csn, logdev, indexError(logdev))
	}
	if !c.session.TryLock() {
		return nil, pkg.NewError("begin", csn, logdev, pkg.ErrSessionOpen)
	}

	c.waitForKey()
	c.key()
	c.writeByte(RegWake, uint8(csn))
	c.writeByte(RegLogicalDevice, uint8(logdev))

	pkg.LogDebug(pkg.ComponentCommit, "session opened", "csn", csn, "logdev", logdev)
	return &Session{c: c, csn: csn, logdev: logdev}, nil
}

// End returns the cards to Wait for Key and releases the bus. Calling End
// more than once is harmless.
func (s *Session) End() error {
	if s.done {
		return nil
	}
	s.done = true
	s.c.waitForKey()
	err := s.c.hal.Err()
	s.c.session.Unlock()
	pkg.LogDebug(pkg.ComponentCommit, "session closed", "csn", s.csn, "logdev", s.logdev)
	return err
}

// WriteReg writes v to register reg of the addressed logical device.
func (s *Session) WriteReg(reg, v uint8) error {
	if s.done {
		return pkg.NewError("write", s.csn, s.logdev, pkg.ErrNoSession)
	}
	s.c.writeByte(reg, v)
	return nil
}

// ReadReg reads register reg of the addressed logical device.
func (s *Session) ReadReg(reg uint8) (uint8, error) {
	if s.done {
		return 0, pkg.NewError("read", s.csn, s.logdev, pkg.ErrNoSession)
	}
	return s.c.readByte(reg), nil
}

// writeResources programs every register slot from res. Unused slots
// are written with their disabled value.
func (s *Session) writeResources(res *Resources) {
	c := s.c
	for i, a := range res.Ports {
		if i == MaxPorts {
			break
		}
		var base uint16
		if a.Used {
			base = uint16(a.Value)
		}
		c.writeWord(RegPortBase+uint8(i)*2, base)
	}
	for i, a := range res.IRQs {
		if i == MaxIRQs {
			break
		}
		var irq uint8
		if a.Used {
			irq = uint8(irqLine(a.Value))
		}
		c.writeByte(RegIRQLevel+uint8(i)*2, irq)
	}
	for i, a := range res.DMAs {
		if i == MaxDMAs {
			break
		}
		channel := uint8(RegDMADisabled)
		if a.Used {
			channel = uint8(a.Value)
		}
		c.writeByte(RegDMAChannel+uint8(i), channel)
	}
	for i, a := range res.Mems {
		if i == MaxMems {
			break
		}
		var base uint16
		if a.Used {
			base = uint16(a.Value >> 8)
		}
		c.writeWord(RegMemBase+uint8(i)*8, base)
	}
}

// Activate writes the device's committed resources and enables it. It
// fails with pkg.ErrNotConfigured before Configure and pkg.ErrActive if
// the device is already active.
func (c *Controller) Activate(ld *LogicalDevice) error {
	const op = "activate"
	if ld == nil {
		return pkg.NewError(op, -1, -1, pkg.ErrNoDevice)
	}
	c.mu.RLock()
	res, active := ld.resources, ld.active
	c.mu.RUnlock()
	switch {
	case active:
		return pkg.NewError(op, ld.CSN, ld.Number, pkg.ErrActive)
	case res == nil:
		return pkg.NewError(op, ld.CSN, ld.Number, pkg.ErrNotConfigured)
	}

	sess, err := c.Begin(ld.CSN, ld.Number)
	if err != nil {
		return pkg.NewError(op, ld.CSN, ld.Number, err)
	}
	sess.writeResources(res)
	c.writeByte(RegActivate, 1)
	c.hal.Delay(ActivateDelay)
	if err := sess.End(); err != nil {
		return pkg.NewError(op, ld.CSN, ld.Number, err)
	}

	c.mu.Lock()
	ld.active = true
	c.mu.Unlock()

	pkg.LogInfo(pkg.ComponentCommit, "device activated",
		"csn", ld.CSN, "logdev", ld.Number, "id", ld.ID.String())
	return nil
}

// Deactivate clears the device's activation bit. Its committed resources
// are kept so it can be activated again.
func (c *Controller) Deactivate(ld *LogicalDevice) error {
	const op = "deactivate"
	if ld == nil {
		return pkg.NewError(op, -1, -1, pkg.ErrNoDevice)
	}
	sess, err := c.Begin(ld.CSN, ld.Number)
	if err != nil {
		return pkg.NewError(op, ld.CSN, ld.Number, err)
	}
	c.writeByte(RegActivate, 0)
	if err := sess.End(); err != nil {
		return pkg.NewError(op, ld.CSN, ld.Number, err)
	}

	c.mu.Lock()
	ld.active = false
	c.mu.Unlock()

	pkg.LogInfo(pkg.ComponentCommit, "device deactivated", "csn", ld.CSN, "logdev", ld.Number)
	return nil
}

// Release drops the committed resources of an inactive device so other
// devices may use them.
func (c *Controller) Release(ld *LogicalDevice) error {
	const op = "release"
	if ld == nil {
		return pkg.NewError(op, -1, -1, pkg.ErrNoDevice)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ld.active {
		return pkg.NewError(op, ld.CSN, ld.Number, pkg.ErrActive)
	}
	ld.resources = nil
	return nil
}

// DeviceState returns whether ld is active and its committed resources,
// read under the controller lock.
func (c *Controller) DeviceState(ld *LogicalDevice) (active bool, res *Resources) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ld.active, ld.resources
}
