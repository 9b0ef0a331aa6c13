package pnp

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardnew/softpnp/pkg"
)

// Build scans the bus and replaces the catalogue with the cards found.
// It returns the number of cards catalogued. Cards whose serial
// identifier fails its checksum are skipped with a warning; a card whose
// resource data is malformed keeps the devices decoded before the fault.
//
// The context is checked between cards. A cancelled scan leaves the
// cards read so far in the catalogue.
func (c *Controller) Build(ctx context.Context) (int, error) {
	if !c.session.TryLock() {
		return 0, pkg.NewError("build", -1, -1, pkg.ErrSessionOpen)
	}
	defer c.session.Unlock()

	c.mu.Lock()
	c.cards = nil
	c.mu.Unlock()

	n, err := c.isolate()
	if err != nil {
		return 0, pkg.NewError("build", -1, -1, err)
	}

	c.waitForKey()
	c.key()
	defer c.waitForKey()

	var cards []*Card
	for csn := 1; csn <= n; csn++ {
		if err := ctx.Err(); err != nil {
			c.publish(cards)
			return len(cards), pkg.NewError("build", csn, -1, err)
		}
		card, err := c.readCard(csn)
		if err != nil {
			pkg.LogWarn(pkg.ComponentRegistry, "card skipped", "csn", csn, "error", err)
			continue
		}
		cards = append(cards, card)
	}
	c.publish(cards)

	pkg.LogInfo(pkg.ComponentRegistry, "bus scanned", "cards", len(cards))
	return len(cards), c.hal.Err()
}

func (c *Controller) publish(cards []*Card) {
	c.mu.Lock()
	c.cards = cards
	c.mu.Unlock()
}

// readCard wakes one card and reads its serial identifier and resources.
func (c *Controller) readCard(csn int) (*Card, error) {
	if err := c.Wake(csn); err != nil {
		return nil, err
	}

	var header [HeaderSize]byte
	if err := c.ReadSerial(header[:]); err != nil {
		return nil, pkg.NewError("read header", csn, -1, err)
	}
	card, err := DecodeHeader(header[:])
	if err != nil {
		return nil, pkg.NewError("read header", csn, -1, err)
	}
	card.CSN = csn
	card.Raw = append(card.Raw, header[:]...)

	c.dataSum = 0
	err = decodeTags(&busReader{c: c, card: card}, card)
	card.DataChecksum = c.dataSum
	card.Fingerprint = Fingerprint(card.Raw)

	switch {
	case err == nil:
		if card.DataChecksum != 0 {
			pkg.LogWarn(pkg.ComponentRegistry, "resource data checksum mismatch",
				"csn", csn, "sum", card.DataChecksum)
		}
	case errors.Is(err, pkg.ErrProtocol):
		pkg.LogWarn(pkg.ComponentRegistry, "resource data truncated",
			"csn", csn, "devices", len(card.Devices), "error", err)
	default:
		return nil, pkg.NewError("read resources", csn, -1, err)
	}

	pkg.LogDebug(pkg.ComponentRegistry, "card read",
		"csn", csn, "id", card.ID.String(), "serial", fmt.Sprintf("%08X", card.Serial),
		"devices", len(card.Devices))
	return card, nil
}

// Cards returns the catalogue in CSN order.
// The returned slice references internal storage; do not modify.
func (c *Controller) Cards() []*Card {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cards
}

// Card returns the catalogued card with the given CSN. It fails with
// pkg.ErrInvalidCSN outside 1..MaxCards and pkg.ErrNoDevice when no card
// holds the number.
func (c *Controller) Card(csn int) (*Card, error) {
	if csn < 1 || csn > MaxCards {
		return nil, csnError(csn)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, card := range c.cards {
		if card.CSN == csn {
			return card, nil
		}
	}
	return nil, fmt.Errorf("csn %d: %w", csn, pkg.ErrNoDevice)
}

// FindDevice returns the index-th card whose serial identifier carries
// vendor and device, or nil.
func (c *Controller) FindDevice(vendor VendorID, device uint16, index int) *Card {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, card := range c.cards {
		if card.ID.Vendor != vendor || card.ID.Product != device {
			continue
		}
		if index == 0 {
			return card
		}
		index--
	}
	return nil
}

// FindLogicalDevice returns the index-th logical device whose own id or
// one of whose compatible ids is vendor and function. A nil card searches
// every card in CSN order.
func (c *Controller) FindLogicalDevice(card *Card, vendor VendorID, function uint16, index int) *LogicalDevice {
	id := EISAID{Vendor: vendor, Product: function}

	c.mu.RLock()
	defer c.mu.RUnlock()
	cards := c.cards
	if card != nil {
		cards = []*Card{card}
	}
	for _, k := range cards {
		for _, ld := range k.Devices {
			if !ld.Matches(id) {
				continue
			}
			if index == 0 {
				return ld
			}
			index--
		}
	}
	return nil
}

// devices returns every logical device in the catalogue. The caller holds
// c.mu.
func (c *Controller) devices() []*LogicalDevice {
	var out []*LogicalDevice
	for _, card := range c.cards {
		out = append(out, card.Devices...)
	}
	return out
}
