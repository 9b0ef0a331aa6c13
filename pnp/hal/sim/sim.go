package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ardnew/softpnp/pkg"
	"github.com/ardnew/softpnp/pnp/hal"
)

// State is a card protocol state (ISA Plug and Play 1.0a, figure 2).
type State uint8

const (
	WaitForKey State = iota
	Sleep
	Isolation
	Config
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case WaitForKey:
		return "wait-for-key"
	case Sleep:
		return "sleep"
	case Isolation:
		return "isolation"
	case Config:
		return "config"
	default:
		return "unknown"
	}
}

// Card registers the simulator interprets.
const (
	regSetReadPort  = 0x00
	regIsolation    = 0x01
	regConfigCtl    = 0x02
	regWake         = 0x03
	regResourceData = 0x04
	regStatus       = 0x05
	regCardSelect   = 0x06
	regLogicalDev   = 0x07
	regFirstLogical = 0x30

	ctlReset      = 0x01
	ctlWaitForKey = 0x02
	ctlResetCSN   = 0x04
)

const (
	identityBits = 72
	keyLength    = 32
	undriven     = 0xFF
)

// ErrClosed is latched when the bus is used after Close.
var ErrClosed = errors.New("sim: bus closed")

// key is the initiation key as the cards' own LFSR generates it.
var key = func() [keyLength]byte {
	var k [keyLength]byte
	v := uint8(0x6A)
	for i := range k {
		k[i] = v
		v = v>>1 | (v^v>>1)&0x01<<7
	}
	return k
}()

// Card is a simulated Plug and Play card. Its data is the serial
// identifier followed by the resource data, exactly as read through the
// resource data register.
type Card struct {
	data []byte

	state  State
	csn    uint8
	logdev uint8
	ptr    int // next resource data byte
	bit    int // next isolation bit

	// regs holds the logical device registers 0x30..0xFF.
	regs map[uint8]*[256]uint8
}

// NewCard returns a card in the Wait for Key state.
func NewCard(data []byte) *Card {
	return &Card{data: append([]byte(nil), data...), regs: make(map[uint8]*[256]uint8)}
}

// State returns the card's protocol state.
func (c *Card) State() State { return c.state }

// CSN returns the card select number assigned to the card.
func (c *Card) CSN() uint8 { return c.csn }

// Data returns the card's serial identifier and resource data.
func (c *Card) Data() []byte { return c.data }

// Register returns the value last written to register reg of logical
// device logdev.
func (c *Card) Register(logdev, reg uint8) uint8 {
	if r, ok := c.regs[logdev]; ok {
		return r[reg]
	}
	return 0
}

// Active reports whether logical device logdev has its activation bit set.
func (c *Card) Active(logdev uint8) bool {
	return c.Register(logdev, regFirstLogical)&0x01 != 0
}

func (c *Card) idBit(i int) uint8 {
	if i >= identityBits || i/8 >= len(c.data) {
		return 0
	}
	return c.data[i/8] >> (i % 8) & 0x01
}

func (c *Card) writeReg(reg, v uint8) {
	r, ok := c.regs[c.logdev]
	if !ok {
		r = new([256]uint8)
		c.regs[c.logdev] = r
	}
	r[reg] = v
}

// Bus is a simulated ISA Plug and Play bus implementing [hal.BusHAL].
// Cards see every port write; reads return the wired-AND of the cards
// driving the current read data port, or 0xFF when nothing drives it.
type Bus struct {
	mu    sync.Mutex
	cards []*Card
	noisy map[uint16]bool

	address  uint8  // last ADDRESS port write
	keyPos   int    // initiation key bytes matched so far
	cardPort uint16 // read data port programmed into the cards
	hostPort uint16 // read data port the host samples

	isoSecond bool // next isolation read is the second of a pair
	isoDrive  bool

	elapsed time.Duration
	writes  int
	err     error
}

// New returns a bus carrying cards.
func New(cards ...*Card) *Bus {
	return &Bus{cards: cards, noisy: make(map[uint16]bool)}
}

// Compile-time interface check.
var _ hal.BusHAL = (*Bus)(nil)

// AddCard plugs c into the bus.
func (b *Bus) AddCard(c *Card) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cards = append(b.cards, c)
}

// Cards returns the cards on the bus in the order they were added.
func (b *Bus) Cards() []*Card {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Card(nil), b.cards...)
}

// SetNoisy makes reads from port return garbage, as when another device
// decodes it.
func (b *Bus) SetNoisy(port uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.noisy[port] = true
}

// Elapsed returns the total simulated delay.
func (b *Bus) Elapsed() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.elapsed
}

// Writes returns the number of WRITE_DATA accesses since New.
func (b *Bus) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// Init implements hal.BusHAL.
func (b *Bus) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = nil
	pkg.LogDebug(pkg.ComponentHAL, "simulated bus ready", "cards", len(b.cards))
	return nil
}

// Close implements hal.BusHAL. Later accesses latch ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = ErrClosed
	return nil
}

// Err implements hal.BusHAL.
func (b *Bus) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Delay implements hal.BusHAL. Simulated time advances without sleeping.
func (b *Bus) Delay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.elapsed += d
}

// SetReadPort implements hal.BusHAL.
func (b *Bus) SetReadPort(port uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hostPort = port
}

// WriteAddress implements hal.BusHAL. Cards waiting for the key compare
// each write against the initiation key.
func (b *Bus) WriteAddress(v uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return
	}
	b.address = v
	b.isoSecond = false

	switch {
	case v == key[b.keyPos]:
		b.keyPos++
	case v == key[0]:
		b.keyPos = 1
	default:
		b.keyPos = 0
	}
	if b.keyPos == keyLength {
		b.keyPos = 0
		for _, c := range b.cards {
			if c.state == WaitForKey {
				c.state = Sleep
			}
		}
	}
}

// WriteData implements hal.BusHAL.
func (b *Bus) WriteData(v uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return
	}
	b.writes++

	switch reg := b.address; reg {
	case regSetReadPort:
		b.cardPort = hal.ReadPortAddress(v)

	case regConfigCtl:
		for _, c := range b.cards {
			if c.state == WaitForKey {
				continue
			}
			if v&ctlReset != 0 {
				clear(c.regs)
			}
			if v&ctlResetCSN != 0 {
				c.csn = 0
			}
			if v&ctlWaitForKey != 0 {
				c.state = WaitForKey
			}
		}

	case regWake:
		for _, c := range b.cards {
			if c.state == WaitForKey {
				continue
			}
			switch {
			case c.csn == v && v == 0:
				c.state = Isolation
				c.bit = 0
			case c.csn == v:
				c.state = Config
				c.ptr = 0
			default:
				c.state = Sleep
			}
		}

	case regCardSelect:
		for _, c := range b.cards {
			switch c.state {
			case Isolation:
				c.csn = v
				c.state = Config
				c.ptr = 0
			case Config:
				c.csn = v
			}
		}

	case regLogicalDev:
		for _, c := range b.cards {
			if c.state == Config {
				c.logdev = v
			}
		}

	default:
		if reg < regFirstLogical {
			return
		}
		for _, c := range b.cards {
			if c.state == Config {
				c.writeReg(reg, v)
			}
		}
	}
}

// ReadData implements hal.BusHAL.
func (b *Bus) ReadData() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return undriven
	}
	if b.noisy[b.hostPort] {
		return 0x00
	}
	if b.hostPort == 0 || b.hostPort != b.cardPort {
		return undriven
	}

	if b.address == regIsolation {
		return b.isolationRead()
	}

	out := uint8(undriven)
	for _, c := range b.cards {
		if c.state == Config {
			out &= b.configRead(c)
		}
	}
	return out
}

// isolationRead models the isolation race. On the first read of each
// pair every isolating card with a 1 bit drives 0x55; a card with a 0 bit
// that sees the line driven drops to Sleep. The second read returns 0xAA
// if the line was driven, and every remaining card advances a bit.
func (b *Bus) isolationRead() uint8 {
	if b.isoSecond {
		b.isoSecond = false
		for _, c := range b.cards {
			if c.state == Isolation {
				c.bit++
			}
		}
		if b.isoDrive {
			return 0xAA
		}
		return undriven
	}

	b.isoSecond = true
	b.isoDrive = false
	for _, c := range b.cards {
		if c.state == Isolation && c.idBit(c.bit) == 1 {
			b.isoDrive = true
		}
	}
	if b.isoDrive {
		for _, c := range b.cards {
			if c.state == Isolation && c.idBit(c.bit) == 0 {
				c.state = Sleep
			}
		}
		return 0x55
	}
	return undriven
}

func (b *Bus) configRead(c *Card) uint8 {
	switch b.address {
	case regStatus:
		if c.ptr < len(c.data) {
			return 0x01
		}
		return 0x00
	case regResourceData:
		if c.ptr >= len(c.data) {
			return undriven
		}
		v := c.data[c.ptr]
		c.ptr++
		return v
	case regCardSelect:
		return c.csn
	case regLogicalDev:
		return c.logdev
	}
	if b.address >= regFirstLogical {
		return c.Register(c.logdev, b.address)
	}
	return undriven
}
