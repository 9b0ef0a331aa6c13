package pnp

import (
	"fmt"
	"slices"

	"github.com/ardnew/softpnp/pkg"
	"github.com/ardnew/softpnp/pnp/hal"
)

// Slot is one configurable value of a logical device: a port base, an
// interrupt line, a DMA channel or a memory base. Auto slots are filled
// by Configure; the rest are pinned to Value.
type Slot struct {
	Value uint32
	Auto  bool
}

// slotPos locates the options that can fill a slot: the position in the
// option tree and the index within the selected set's list.
type slotPos struct {
	pos int
	idx int
}

// Config is the working record for configuring one logical device.
//
// Only the slots the device's option tree can fill are present. The
// disable lists name resources that must never be chosen even when the
// ledger reports them free. Memory has no disable list because memory
// windows are never checked for conflicts.
type Config struct {
	Device *LogicalDevice

	Ports []Slot
	IRQs  []Slot
	DMAs  []Slot
	Mems  []Slot

	DisabledPorts []hal.PortRange
	DisabledIRQs  []uint8
	DisabledDMAs  []uint8

	layout [numKinds][]slotPos
}

const numKinds = int(KindMem) + 1

var kindLimit = [numKinds]int{MaxPorts, MaxIRQs, MaxDMAs, MaxMems}

// NewConfig returns a configuration for ld with every slot Auto and
// empty disable lists.
func NewConfig(ld *LogicalDevice) (*Config, error) {
	if ld == nil {
		return nil, pkg.NewError("init", -1, -1, pkg.ErrNoDevice)
	}
	cfg := &Config{Device: ld}

	// Each position reserves, per kind, as many slots as its largest
	// alternate needs.
	for p, head := range ld.Positions() {
		var most [numKinds]int
		for _, i := range ld.Alternates(head) {
			for k := range numKinds {
				most[k] = max(most[k], ld.Sets[i].count(ResourceKind(k)))
			}
		}
		for k := range numKinds {
			for idx := 0; idx < most[k]; idx++ {
				if len(cfg.layout[k]) == kindLimit[k] {
					pkg.LogWarn(pkg.ComponentAutoConfig, "option ignored: no register slot",
						"csn", ld.CSN, "logdev", ld.Number, "kind", ResourceKind(k).String())
					break
				}
				cfg.layout[k] = append(cfg.layout[k], slotPos{pos: p, idx: idx})
			}
		}
	}

	cfg.Ports = autoSlots(len(cfg.layout[KindPort]))
	cfg.IRQs = autoSlots(len(cfg.layout[KindIRQ]))
	cfg.DMAs = autoSlots(len(cfg.layout[KindDMA]))
	cfg.Mems = autoSlots(len(cfg.layout[KindMem]))
	return cfg, nil
}

func autoSlots(n int) []Slot {
	s := make([]Slot, n)
	for i := range s {
		s[i].Auto = true
	}
	return s
}

func (cfg *Config) slots(kind ResourceKind) []Slot {
	switch kind {
	case KindPort:
		return cfg.Ports
	case KindIRQ:
		return cfg.IRQs
	case KindDMA:
		return cfg.DMAs
	default:
		return cfg.Mems
	}
}

func (cfg *Config) pin(kind ResourceKind, i int, v uint32) error {
	s := cfg.slots(kind)
	if i < 0 || i >= len(s) {
		return fmt.Errorf("%s slot: %w", kind, indexError(i))
	}
	s[i] = Slot{Value: v}
	return nil
}

// SetPort pins port slot i to base.
func (cfg *Config) SetPort(i int, base uint16) error { return cfg.pin(KindPort, i, uint32(base)) }

// SetIRQ pins interrupt slot i to irq.
func (cfg *Config) SetIRQ(i int, irq uint8) error { return cfg.pin(KindIRQ, i, uint32(irq)) }

// SetDMA pins DMA slot i to channel.
func (cfg *Config) SetDMA(i int, channel uint8) error { return cfg.pin(KindDMA, i, uint32(channel)) }

// SetMem pins memory slot i to base.
func (cfg *Config) SetMem(i int, base uint32) error { return cfg.pin(KindMem, i, base) }

// DisablePort excludes r from the search.
func (cfg *Config) DisablePort(r hal.PortRange) { cfg.DisabledPorts = append(cfg.DisabledPorts, r) }

// DisableIRQ excludes irq from the search.
func (cfg *Config) DisableIRQ(irq uint8) { cfg.DisabledIRQs = append(cfg.DisabledIRQs, irq) }

// DisableDMA excludes channel from the search.
func (cfg *Config) DisableDMA(channel uint8) { cfg.DisabledDMAs = append(cfg.DisabledDMAs, channel) }

// Configure searches for a conflict-free assignment for cfg.Device, writes
// it to the card's registers and records it on the device.
//
// Values are tried per slot in a fixed order: ports ascending from the
// option minimum by its alignment, interrupts by the controller's
// preference table, DMA channels ascending. When a slot runs out of
// candidates the search switches every slot at the same option tree
// position to that position's next alternate and starts a new pass.
//
// Configure fails with pkg.ErrNoCombination when an exhausted position
// has no further alternate, pkg.ErrNotConverged when the pass bound is
// reached, pkg.ErrConflict when a pinned value conflicts, and
// pkg.ErrActive when the device is active.
func (c *Controller) Configure(cfg *Config) (*Resources, error) {
	const op = "configure"
	if cfg == nil || cfg.Device == nil {
		return nil, pkg.NewError(op, -1, -1, pkg.ErrNoDevice)
	}
	ld := cfg.Device

	c.mu.RLock()
	active := ld.active
	c.mu.RUnlock()
	if active {
		return nil, pkg.NewError(op, ld.CSN, ld.Number, pkg.ErrActive)
	}

	s := c.newSearch(cfg)
	res, err := s.run()
	if err != nil {
		pkg.LogInfo(pkg.ComponentAutoConfig, "configuration failed",
			"csn", ld.CSN, "logdev", ld.Number, "error", err)
		return nil, pkg.NewError(op, ld.CSN, ld.Number, err)
	}

	sess, err := c.Begin(ld.CSN, ld.Number)
	if err != nil {
		return nil, pkg.NewError(op, ld.CSN, ld.Number, err)
	}
	sess.writeResources(res)
	if err := sess.End(); err != nil {
		return nil, pkg.NewError(op, ld.CSN, ld.Number, err)
	}

	c.mu.Lock()
	ld.resources = res
	c.mu.Unlock()

	pkg.LogInfo(pkg.ComponentAutoConfig, "device configured",
		"csn", ld.CSN, "logdev", ld.Number, "id", ld.ID.String())
	return res, nil
}

// slotState is the search state of one slot.
type slotState struct {
	slotPos
	pinned   bool
	used     bool // the selected set has an option for this slot
	resolved bool
	value    uint32
	size     uint32
	cursor   int // next candidate ordinal
}

func (st *slotState) holds() bool {
	return st.used && (st.pinned || st.resolved)
}

type search struct {
	c        *Controller
	cfg      *Config
	dev      *LogicalDevice
	heads    []int
	selected []int
	slots    [numKinds][]slotState

	// claimed holds the assignments of the bus's other configured devices.
	claimed []*Resources
}

func (c *Controller) newSearch(cfg *Config) *search {
	s := &search{c: c, cfg: cfg, dev: cfg.Device}
	s.heads = s.dev.Positions()
	s.selected = slices.Clone(s.heads)

	c.mu.RLock()
	for _, ld := range c.devices() {
		if ld != s.dev && ld.resources != nil {
			s.claimed = append(s.claimed, ld.resources)
		}
	}
	c.mu.RUnlock()

	for k := range numKinds {
		kind := ResourceKind(k)
		req := cfg.slots(kind)
		s.slots[k] = make([]slotState, len(cfg.layout[k]))
		for i := range s.slots[k] {
			st := &s.slots[k][i]
			st.slotPos = cfg.layout[k][i]
			if i < len(req) && !req[i].Auto {
				st.pinned = true
				st.used = true
				st.value = req[i].Value
			}
			s.mark(kind, st)
		}
	}
	return s
}

// mark refreshes a slot from the currently selected set at its position.
func (s *search) mark(kind ResourceKind, st *slotState) {
	set := &s.dev.Sets[s.selected[st.pos]]
	has := st.idx < set.count(kind)
	if st.pinned {
		st.size = 1
		if has {
			st.size = optionSize(set, kind, st.idx)
		}
		return
	}
	st.used = has
	st.resolved = false
	st.cursor = 0
	st.value = 0
	st.size = 0
}

func optionSize(set *OptionSet, kind ResourceKind, idx int) uint32 {
	switch kind {
	case KindPort:
		return uint32(set.Ports[idx].Size)
	case KindMem:
		return set.Mems[idx].Size
	}
	return 1
}

func (s *search) run() (*Resources, error) {
	for k := range numKinds {
		kind := ResourceKind(k)
		for i := range s.slots[k] {
			st := &s.slots[k][i]
			if st.pinned && s.conflict(kind, st, st.value, st.size) {
				return nil, fmt.Errorf("%s slot %d value 0x%X: %w", kind, i, st.value, pkg.ErrConflict)
			}
		}
	}

	if !s.searching() {
		return s.result(), nil
	}
	for pass := 0; pass < s.c.opts.MaxPasses; pass++ {
		done, err := s.pass()
		if err != nil {
			return nil, err
		}
		if done {
			pkg.LogDebug(pkg.ComponentAutoConfig, "search converged",
				"csn", s.dev.CSN, "logdev", s.dev.Number, "passes", pass+1)
			return s.result(), nil
		}
	}
	return nil, pkg.ErrNotConverged
}

// searching reports whether any slot is Auto.
func (s *search) searching() bool {
	for k := range numKinds {
		for i := range s.slots[k] {
			if !s.slots[k][i].pinned {
				return true
			}
		}
	}
	return false
}

// pass tries to resolve every open slot. It reports true when all slots
// hold values; otherwise one position has switched alternates.
func (s *search) pass() (bool, error) {
	for k := range numKinds {
		kind := ResourceKind(k)
		for i := range s.slots[k] {
			st := &s.slots[k][i]
			if st.pinned || !st.used || st.resolved {
				continue
			}
			if s.next(kind, st) {
				st.resolved = true
				continue
			}
			return false, s.switchAlternate(st.pos)
		}
	}
	return true, nil
}

// switchAlternate selects the next alternate at pos and reopens every
// Auto slot belonging to that position.
func (s *search) switchAlternate(pos int) error {
	alt := s.dev.Sets[s.selected[pos]].Alt
	if alt == None {
		return fmt.Errorf("position %d: %w", pos, pkg.ErrNoCombination)
	}
	s.selected[pos] = alt
	for k := range numKinds {
		for i := range s.slots[k] {
			if st := &s.slots[k][i]; st.pos == pos {
				s.mark(ResourceKind(k), st)
			}
		}
	}
	pkg.LogDebug(pkg.ComponentAutoConfig, "alternate selected",
		"csn", s.dev.CSN, "logdev", s.dev.Number, "position", pos, "set", alt)
	return nil
}

// next advances st to its next legal, conflict-free candidate.
func (s *search) next(kind ResourceKind, st *slotState) bool {
	set := &s.dev.Sets[s.selected[st.pos]]
	for {
		v, size, ok := s.candidate(set, kind, st.idx, st.cursor)
		if !ok {
			return false
		}
		st.cursor++
		if v == skip {
			continue
		}
		if !s.conflict(kind, st, v, size) {
			st.value, st.size = v, size
			return true
		}
	}
}

// skip marks a candidate ordinal that is not legal for the option.
const skip = ^uint32(0)

// candidate returns the ordinal-th value in the search order of option
// idx of set, or false when the order is exhausted.
func (s *search) candidate(set *OptionSet, kind ResourceKind, idx, ordinal int) (uint32, uint32, bool) {
	switch kind {
	case KindPort:
		o := set.Ports[idx]
		if o.Align == 0 {
			return uint32(o.Min), uint32(o.Size), ordinal == 0 && o.Min <= o.Max
		}
		base := uint32(o.Min) + uint32(ordinal)*uint32(o.Align)
		return base, uint32(o.Size), base <= uint32(o.Max)

	case KindIRQ:
		pref := s.c.opts.IRQPreference
		if ordinal >= len(pref) {
			return 0, 0, false
		}
		if !set.IRQs[idx].Supports(pref[ordinal]) {
			return skip, 0, true
		}
		return uint32(pref[ordinal]), 1, true

	case KindDMA:
		if ordinal >= 8 {
			return 0, 0, false
		}
		if !set.DMAs[idx].Supports(uint8(ordinal)) {
			return skip, 0, true
		}
		return uint32(ordinal), 1, true

	default:
		o := set.Mems[idx]
		if o.Align == 0 {
			return o.Min, o.Size, ordinal == 0 && o.Min <= o.Max
		}
		base := uint64(o.Min) + uint64(ordinal)*uint64(o.Align)
		return uint32(base), o.Size, base <= uint64(o.Max)
	}
}

// irqLine folds the cascaded line 2 onto line 9, which the card is
// programmed with instead.
func irqLine(v uint32) uint32 {
	if v == 2 {
		return 9
	}
	return v
}

// conflict reports whether v (of the given size) collides with a host
// reservation, a disable list entry, another configured device on this
// bus or another slot of this search.
func (s *search) conflict(kind ResourceKind, self *slotState, v, size uint32) bool {
	switch kind {
	case KindPort:
		r := hal.PortRange{Base: uint16(v), Size: uint16(size)}
		if s.c.ledger.PortBusy(r) {
			return true
		}
		for _, d := range s.cfg.DisabledPorts {
			if d.Overlaps(r) {
				return true
			}
		}
		for _, res := range s.claimed {
			for _, o := range res.PortRanges() {
				if o.Overlaps(r) {
					return true
				}
			}
		}
		for i := range s.slots[KindPort] {
			o := &s.slots[KindPort][i]
			if o != self && o.holds() &&
				r.Overlaps(hal.PortRange{Base: uint16(o.value), Size: uint16(o.size)}) {
				return true
			}
		}
		return false

	case KindIRQ:
		if slices.ContainsFunc(s.cfg.DisabledIRQs, func(d uint8) bool { return irqLine(uint32(d)) == irqLine(v) }) {
			return true
		}
		for _, res := range s.claimed {
			if res.usesIRQ(uint8(v)) {
				return true
			}
		}
		if s.sharedWithin(KindIRQ, self, irqLine(v), irqLine) {
			return true
		}
		// The ledger sees the line the card drives: 2 is wired as 9.
		line := uint8(irqLine(v))
		if err := s.c.ledger.AcquireIRQ(line, s.c.opts.Owner); err != nil {
			return true
		}
		s.c.ledger.ReleaseIRQ(line)
		return false

	case KindDMA:
		if slices.Contains(s.cfg.DisabledDMAs, uint8(v)) {
			return true
		}
		for _, res := range s.claimed {
			if res.usesDMA(uint8(v)) {
				return true
			}
		}
		if s.sharedWithin(KindDMA, self, v, nil) {
			return true
		}
		if err := s.c.ledger.AcquireDMA(uint8(v), s.c.opts.Owner); err != nil {
			return true
		}
		s.c.ledger.ReleaseDMA(uint8(v))
		return false

	default:
		// Memory windows are never checked against anything. Callers
		// that need overlap protection pin memory slots explicitly.
		return false
	}
}

// sharedWithin reports whether another held slot of kind has value v,
// after applying norm to its value when norm is non-nil.
func (s *search) sharedWithin(kind ResourceKind, self *slotState, v uint32, norm func(uint32) uint32) bool {
	for i := range s.slots[kind] {
		o := &s.slots[kind][i]
		if o == self || !o.holds() {
			continue
		}
		ov := o.value
		if norm != nil {
			ov = norm(ov)
		}
		if ov == v {
			return true
		}
	}
	return false
}

// result collects the slot values.
func (s *search) result() *Resources {
	collect := func(kind ResourceKind) []Assignment {
		out := make([]Assignment, len(s.slots[kind]))
		for i, st := range s.slots[kind] {
			if st.used {
				out[i] = Assignment{Value: st.value, Size: st.size, Used: true}
			}
		}
		return out
	}
	return &Resources{
		Ports: collect(KindPort),
		IRQs:  collect(KindIRQ),
		DMAs:  collect(KindDMA),
		Mems:  collect(KindMem),
	}
}
