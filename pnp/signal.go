package pnp

import (
	"github.com/ardnew/softpnp/pkg"
	"github.com/ardnew/softpnp/pnp/hal"
)

// waitForKey returns every card to the Wait for Key state.
func (c *Controller) waitForKey() {
	c.writeByte(RegConfigControl, ControlWaitForKey)
}

// key sends the initiation key. The two leading zero writes reset the
// cards' key LFSR.
func (c *Controller) key() {
	c.hal.WriteAddress(0x00)
	c.hal.WriteAddress(0x00)
	for _, b := range InitiationKey {
		c.hal.WriteAddress(b)
	}
}

// Initiate moves every card out of Wait for Key and clears all card
// select numbers. Cards are left in the Sleep state.
//
// The caller must hold the bus; Build and Isolate call it internally.
func (c *Controller) Initiate() {
	c.waitForKey()
	c.key()
	c.writeByte(RegConfigControl, ControlResetCSN)
	c.hal.Delay(ResetDelay)
	c.waitForKey()
	c.key()
	pkg.LogDebug(pkg.ComponentBus, "initiation key sent")
}

// Wake selects the card with the given CSN. CSN 0 wakes every card that
// has not been assigned one and starts an isolation round.
func (c *Controller) Wake(csn int) error {
	if csn < 0 || csn > MaxCards {
		return csnError(csn)
	}
	c.writeByte(RegWake, uint8(csn))
	return nil
}

// setReadPort programs the cards and the transport with the current read
// data port.
func (c *Controller) setReadPort() {
	c.writeByte(RegSetReadPort, hal.ReadPortValue(c.readPort))
	c.hal.SetReadPort(c.readPort)
	c.hal.Delay(readPortSetupWait)
}

// releaseReadPort drops the ledger claim on the read data port.
func (c *Controller) releaseReadPort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readPortClaimed {
		c.ledger.ReleasePort(hal.PortRange{Base: c.readPort, Size: 1})
		c.readPortClaimed = false
	}
}

// nextReadPort claims the first usable read data port at or above from.
func (c *Controller) nextReadPort(from uint16) error {
	c.releaseReadPort()
	for port := from; port <= c.opts.ReadPortLast && port >= hal.ReadPortMin; port += ReadPortStep {
		if port >= readPortAvoidLow && port <= readPortAvoidHigh {
			continue
		}
		r := hal.PortRange{Base: port, Size: 1}
		if c.ledger.PortBusy(r) {
			continue
		}
		if err := c.ledger.ClaimPort(r, c.opts.Owner); err != nil {
			continue
		}
		c.mu.Lock()
		c.readPort = port
		c.readPortClaimed = true
		c.mu.Unlock()
		pkg.LogDebug(pkg.ComponentIsolate, "read port selected", "port", port)
		return nil
	}
	return pkg.ErrNoReadPort
}

// selectReadPort resets the bus, claims a read data port at or above
// from and opens an isolation round on it.
func (c *Controller) selectReadPort(from uint16) error {
	c.Initiate()
	c.writeByte(RegWake, 0)
	if err := c.nextReadPort(from); err != nil {
		c.waitForKey()
		return err
	}
	c.setReadPort()
	c.hal.Delay(ReadPortDelay)
	c.hal.WriteAddress(RegSerialIsolation)
	c.hal.Delay(ReadPortDelay)
	return nil
}

// readIsolationBit samples one identifier bit. A driving card answers
// the pair of reads with 0x55 then 0xAA.
func (c *Controller) readIsolationBit() uint8 {
	v1 := c.hal.ReadData()
	c.hal.Delay(IsolationDelay)
	v2 := c.hal.ReadData()
	c.hal.Delay(IsolationDelay)
	if v1 == isolationHigh && v2 == isolationLow {
		return 1
	}
	return 0
}

// isolationPass reads one 72-bit identifier and reports whether it carries
// a valid, non-zero checksum.
func (c *Controller) isolationPass() bool {
	sum := uint8(keySeed)
	var check uint8
	for i := 0; i < 64; i++ {
		sum = lfsrStep(sum, c.readIsolationBit())
	}
	for i := 0; i < 8; i++ {
		check |= c.readIsolationBit() << i
	}
	return sum != 0 && sum == check
}

// Isolate runs the isolation protocol and assigns card select numbers
// 1..n to the n cards found. The read data port chosen stays claimed in
// the ledger until Teardown.
//
// Isolate fails with pkg.ErrNoReadPort only when no read data port could
// be claimed at all; an empty bus yields zero cards once every port has
// been tried.
func (c *Controller) Isolate() (int, error) {
	if !c.session.TryLock() {
		return 0, pkg.NewError("isolate", -1, -1, pkg.ErrSessionOpen)
	}
	defer c.session.Unlock()
	n, err := c.isolate()
	if err != nil {
		return n, pkg.NewError("isolate", -1, -1, err)
	}
	return n, nil
}

func (c *Controller) isolate() (int, error) {
	c.mu.Lock()
	c.csnCount = 0
	c.mu.Unlock()

	port := c.opts.ReadPortFirst
	if err := c.selectReadPort(port); err != nil {
		return 0, err
	}

	csn := 0
	first := true
	for csn < c.opts.MaxCards {
		if c.isolationPass() {
			csn++
			c.writeByte(RegCardSelect, uint8(csn))
			c.hal.Delay(IsolationDelay)
			pkg.LogDebug(pkg.ComponentIsolate, "card isolated", "csn", csn, "port", c.readPort)
			first = false

			c.writeByte(RegWake, 0)
			c.setReadPort()
			c.hal.Delay(ReadPortDelay)
			c.hal.WriteAddress(RegSerialIsolation)
			c.hal.Delay(ReadPortDelay)
			continue
		}
		if !first {
			break
		}
		// Nothing answered on this port; some cards only drive certain
		// addresses.
		if err := c.selectReadPort(c.readPort + ReadPortStep); err != nil {
			pkg.LogInfo(pkg.ComponentIsolate, "no cards found")
			c.releaseReadPort()
			return 0, c.hal.Err()
		}
	}
	c.waitForKey()

	c.mu.Lock()
	c.csnCount = csn
	c.mu.Unlock()

	pkg.LogInfo(pkg.ComponentIsolate, "isolation complete", "cards", csn, "port", c.readPort)
	return csn, c.hal.Err()
}

// ReadSerial reads len(buf) bytes of resource data from the card selected
// by Wake, folding each into the rolling data checksum. A byte that never
// becomes ready ends the data with pkg.ErrEndOfData.
func (c *Controller) ReadSerial(buf []byte) error {
	for i := range buf {
		ready := false
		for try := 0; try < StatusPollLimit; try++ {
			if c.readByte(RegStatus)&StatusDataReady != 0 {
				ready = true
				break
			}
			c.hal.Delay(StatusPollDelay)
		}
		if !ready {
			return pkg.ErrEndOfData
		}
		buf[i] = c.readByte(RegResourceData)
		c.dataSum += buf[i]
	}
	return c.hal.Err()
}

// busReader feeds the decoder from the selected card, recording every
// byte read.
type busReader struct {
	c    *Controller
	card *Card
}

func (r *busReader) read(buf []byte) error {
	if err := r.c.ReadSerial(buf); err != nil {
		return err
	}
	r.card.Raw = append(r.card.Raw, buf...)
	return nil
}
