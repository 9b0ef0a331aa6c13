package pnp

import (
	"github.com/ardnew/softpnp/pnp/hal"
)

// None marks an absent link in an option tree.
const None = -1

// PortOption is one candidate I/O range.
type PortOption struct {
	Min   uint16 // lowest legal base
	Max   uint16 // highest legal base
	Align uint16 // base step; 0 means only Min is legal
	Size  uint16 // number of ports decoded
	Flags uint8
}

// Fixed reports whether the option was declared with a fixed I/O tag.
func (p PortOption) Fixed() bool { return p.Flags&PortFixed != 0 }

// IRQOption is one candidate interrupt set.
type IRQOption struct {
	Map   uint16 // bit n set means line n is supported
	Flags uint8
}

// Supports reports whether irq is in the option's map.
func (q IRQOption) Supports(irq uint8) bool {
	return irq < 16 && q.Map&(1<<irq) != 0
}

// DMAOption is one candidate DMA channel set.
type DMAOption struct {
	Map   uint8 // bit n set means channel n is supported
	Flags uint8
}

// Supports reports whether channel is in the option's map and is not
// the cascade channel.
func (d DMAOption) Supports(channel uint8) bool {
	return channel < 8 && channel != dmaCascade && d.Map&(1<<channel) != 0
}

// MemOption is one candidate 24-bit memory window.
type MemOption struct {
	Min   uint32
	Max   uint32
	Align uint32
	Size  uint32
	Flags uint8
}

// Mem32Option is one candidate 32-bit memory window. Fixed windows have
// Min == Max and the MemFixed flag.
type Mem32Option struct {
	Min   uint32
	Max   uint32
	Align uint32
	Size  uint32
	Flags uint8
}

// OptionSet is one node of a logical device's option tree. Alt links to
// the next mutually exclusive set at the same position; Next links to the
// set at the following position, whose needs add to this one's. Both are
// indices into the device's Sets, or None.
type OptionSet struct {
	Priority  Priority
	Dependent bool
	Ports     []PortOption
	IRQs      []IRQOption
	DMAs      []DMAOption
	Mems      []MemOption
	Mem32s    []Mem32Option
	Alt       int
	Next      int
}

func newOptionSet(dependent bool, priority Priority) OptionSet {
	return OptionSet{Priority: priority, Dependent: dependent, Alt: None, Next: None}
}

// Empty reports whether the set declares no resources.
func (s *OptionSet) Empty() bool {
	return len(s.Ports) == 0 && len(s.IRQs) == 0 && len(s.DMAs) == 0 &&
		len(s.Mems) == 0 && len(s.Mem32s) == 0
}

func (s *OptionSet) count(kind ResourceKind) int {
	switch kind {
	case KindPort:
		return len(s.Ports)
	case KindIRQ:
		return len(s.IRQs)
	case KindDMA:
		return len(s.DMAs)
	case KindMem:
		return len(s.Mems)
	}
	return 0
}

// LogicalDevice is an independently configurable function of a card.
type LogicalDevice struct {
	Number     int
	ID         EISAID
	Compatible []EISAID
	Flags      uint16 // capability flags from the logical device tag
	Name       string

	// CSN identifies the owning card on its bus.
	CSN int

	// Sets is the option tree arena. Sets[0] is the first position when
	// the device declares any resources.
	Sets []OptionSet

	active    bool
	resources *Resources
}

// Active reports whether the device has been activated. It does not
// synchronize with the controller; use Controller.DeviceState while
// another goroutine may configure or activate the device.
func (d *LogicalDevice) Active() bool { return d.active }

// Resources returns the committed assignment, or nil if the device has
// not been configured. Like Active, it is for single-goroutine use.
func (d *LogicalDevice) Resources() *Resources { return d.resources }

// Matches reports whether id is the device's own id or one of its
// compatible ids.
func (d *LogicalDevice) Matches(id EISAID) bool {
	if d.ID == id {
		return true
	}
	for _, c := range d.Compatible {
		if c == id {
			return true
		}
	}
	return false
}

// Positions returns the index of the first set at each position of the
// option tree, in chain order.
func (d *LogicalDevice) Positions() []int {
	var out []int
	if len(d.Sets) == 0 {
		return out
	}
	for i := 0; i != None && len(out) <= len(d.Sets); i = d.Sets[i].Next {
		out = append(out, i)
	}
	return out
}

// Alternates returns the sets at the position starting with head.
func (d *LogicalDevice) Alternates(head int) []int {
	var out []int
	for i := head; i != None && len(out) <= len(d.Sets); i = d.Sets[i].Alt {
		out = append(out, i)
	}
	return out
}

// walk visits every set in tree order: positions in chain order, each
// position's alternates in list order.
func (d *LogicalDevice) walk(fn func(set *OptionSet) bool) {
	for _, head := range d.Positions() {
		for _, i := range d.Alternates(head) {
			if !fn(&d.Sets[i]) {
				return
			}
		}
	}
}

// FindPort returns the index-th port option in tree order.
func FindPort(d *LogicalDevice, index int) (PortOption, bool) {
	var out PortOption
	found := false
	d.walk(func(s *OptionSet) bool {
		if index < len(s.Ports) {
			out, found = s.Ports[index], true
			return false
		}
		index -= len(s.Ports)
		return true
	})
	return out, found
}

// FindIRQ returns the index-th interrupt option in tree order.
func FindIRQ(d *LogicalDevice, index int) (IRQOption, bool) {
	var out IRQOption
	found := false
	d.walk(func(s *OptionSet) bool {
		if index < len(s.IRQs) {
			out, found = s.IRQs[index], true
			return false
		}
		index -= len(s.IRQs)
		return true
	})
	return out, found
}

// FindDMA returns the index-th DMA option in tree order.
func FindDMA(d *LogicalDevice, index int) (DMAOption, bool) {
	var out DMAOption
	found := false
	d.walk(func(s *OptionSet) bool {
		if index < len(s.DMAs) {
			out, found = s.DMAs[index], true
			return false
		}
		index -= len(s.DMAs)
		return true
	})
	return out, found
}

// FindMem returns the index-th 24-bit memory option in tree order.
func FindMem(d *LogicalDevice, index int) (MemOption, bool) {
	var out MemOption
	found := false
	d.walk(func(s *OptionSet) bool {
		if index < len(s.Mems) {
			out, found = s.Mems[index], true
			return false
		}
		index -= len(s.Mems)
		return true
	})
	return out, found
}

// FindMem32 returns the index-th 32-bit memory option in tree order.
func FindMem32(d *LogicalDevice, index int) (Mem32Option, bool) {
	var out Mem32Option
	found := false
	d.walk(func(s *OptionSet) bool {
		if index < len(s.Mem32s) {
			out, found = s.Mem32s[index], true
			return false
		}
		index -= len(s.Mem32s)
		return true
	})
	return out, found
}

// Card is one physical card found by a bus scan.
type Card struct {
	CSN      int
	ID       EISAID
	Serial   uint32
	Checksum uint8 // serial identifier checksum (header byte 8)

	// DataChecksum is the sum of all resource data bytes; a card with a
	// correct end tag sums to zero.
	DataChecksum uint8

	// Version is the Plug and Play version (BCD) and VendorVersion the
	// card's own revision, both from the version tag.
	Version       uint8
	VendorVersion uint8

	Name    string
	Devices []*LogicalDevice

	// Raw holds the serial identifier and resource data as read.
	Raw []byte

	// Fingerprint is a keyed BLAKE3 hash of Raw.
	Fingerprint [32]byte
}

// Device returns the logical device with the given number.
func (c *Card) Device(number int) (*LogicalDevice, error) {
	if number < 0 || number >= len(c.Devices) {
		return nil, indexError(number)
	}
	return c.Devices[number], nil
}

// Assignment is the value chosen for one resource slot.
type Assignment struct {
	Value uint32 // port base, interrupt line, DMA channel or memory base
	Size  uint32 // range length for ports and memory
	Used  bool   // false when the selected option set needs no resource here
}

// Resources is a resolved assignment for every slot of a logical device.
type Resources struct {
	Ports []Assignment
	IRQs  []Assignment
	DMAs  []Assignment
	Mems  []Assignment
}

// PortRanges returns the used port assignments as ranges.
func (r *Resources) PortRanges() []hal.PortRange {
	var out []hal.PortRange
	for _, a := range r.Ports {
		if a.Used {
			out = append(out, hal.PortRange{Base: uint16(a.Value), Size: uint16(a.Size)})
		}
	}
	return out
}

func (r *Resources) usesIRQ(irq uint8) bool {
	for _, a := range r.IRQs {
		if a.Used && irqLine(a.Value) == irqLine(uint32(irq)) {
			return true
		}
	}
	return false
}

func (r *Resources) usesDMA(channel uint8) bool {
	for _, a := range r.DMAs {
		if a.Used && a.Value == uint32(channel) {
			return true
		}
	}
	return false
}
