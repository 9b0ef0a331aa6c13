package pnp

import (
	"encoding/binary"
)

// Builder assembles a serial identifier and resource data stream tag by
// tag. Methods append in call order and return the builder for chaining.
type Builder struct {
	buf []byte
}

// NewBuilder starts a stream with the serial identifier for id and serial.
func NewBuilder(id EISAID, serial uint32) *Builder {
	b := &Builder{buf: make([]byte, HeaderSize, 64)}
	idb := id.Bytes()
	copy(b.buf[0:4], idb[:])
	binary.LittleEndian.PutUint32(b.buf[4:8], serial)
	b.buf[8] = Checksum(b.buf)
	return b
}

func (b *Builder) short(typ uint8, payload ...byte) *Builder {
	b.buf = append(b.buf, typ<<3|uint8(len(payload)))
	b.buf = append(b.buf, payload...)
	return b
}

func (b *Builder) long(typ uint8, payload []byte) *Builder {
	b.buf = append(b.buf, typ)
	b.buf = binary.LittleEndian.AppendUint16(b.buf, uint16(len(payload)))
	b.buf = append(b.buf, payload...)
	return b
}

// Version appends a Plug and Play version tag.
func (b *Builder) Version(version, vendor uint8) *Builder {
	return b.short(TagPnPVersion, version, vendor)
}

// Name appends an ANSI identifier string.
func (b *Builder) Name(s string) *Builder {
	return b.long(TagANSIString, []byte(s))
}

// Device appends a logical device id tag. The flags byte is extended to
// two bytes when the high byte is in use.
func (b *Builder) Device(id EISAID, flags uint16) *Builder {
	idb := id.Bytes()
	p := append(idb[:], uint8(flags))
	if flags > 0xFF {
		p = append(p, uint8(flags>>8))
	}
	return b.short(TagLogicalDevice, p...)
}

// Compatible appends a compatible device id tag.
func (b *Builder) Compatible(id EISAID) *Builder {
	idb := id.Bytes()
	return b.short(TagCompatibleID, idb[:]...)
}

// StartDependent opens a dependent function. The priority byte is
// omitted for PriorityAcceptable.
func (b *Builder) StartDependent(p Priority) *Builder {
	if p == PriorityAcceptable {
		return b.short(TagStartDependent)
	}
	return b.short(TagStartDependent, uint8(p))
}

// EndDependent closes the dependent functions.
func (b *Builder) EndDependent() *Builder {
	return b.short(TagEndDependent)
}

// IRQ appends an interrupt tag, omitting the flags byte for the default
// high edge type.
func (b *Builder) IRQ(o IRQOption) *Builder {
	if o.Flags == IRQHighEdge {
		return b.short(TagIRQ, uint8(o.Map), uint8(o.Map>>8))
	}
	return b.short(TagIRQ, uint8(o.Map), uint8(o.Map>>8), o.Flags)
}

// DMA appends a DMA tag.
func (b *Builder) DMA(o DMAOption) *Builder {
	return b.short(TagDMA, o.Map, o.Flags)
}

// Port appends an I/O port tag, or a fixed I/O port tag for fixed options.
func (b *Builder) Port(o PortOption) *Builder {
	if o.Fixed() {
		return b.short(TagFixedIOPort, uint8(o.Min), uint8(o.Min>>8)&0x03, uint8(o.Size))
	}
	return b.short(TagIOPort,
		o.Flags&PortDecode16,
		uint8(o.Min), uint8(o.Min>>8),
		uint8(o.Max), uint8(o.Max>>8),
		uint8(o.Align), uint8(o.Size))
}

// Mem appends a 24-bit memory range tag.
func (b *Builder) Mem(o MemOption) *Builder {
	align := o.Align
	if align == 0x10000 {
		align = 0
	}
	p := make([]byte, 0, lenMemRange)
	p = append(p, o.Flags)
	p = binary.LittleEndian.AppendUint16(p, uint16(o.Min>>8))
	p = binary.LittleEndian.AppendUint16(p, uint16(o.Max>>8))
	p = binary.LittleEndian.AppendUint16(p, uint16(align))
	p = binary.LittleEndian.AppendUint16(p, uint16(o.Size>>8))
	return b.long(TagMemRange, p)
}

// Mem32 appends a 32-bit memory range tag, or a fixed 32-bit memory tag
// for options carrying MemFixed.
func (b *Builder) Mem32(o Mem32Option) *Builder {
	if o.Flags&MemFixed != 0 {
		p := make([]byte, 0, lenFixedMem32)
		p = append(p, o.Flags&^MemFixed)
		p = binary.LittleEndian.AppendUint32(p, o.Min)
		p = binary.LittleEndian.AppendUint32(p, o.Size)
		return b.long(TagFixedMem32, p)
	}
	p := make([]byte, 0, lenMem32Range)
	p = append(p, o.Flags)
	p = binary.LittleEndian.AppendUint32(p, o.Min)
	p = binary.LittleEndian.AppendUint32(p, o.Max)
	p = binary.LittleEndian.AppendUint32(p, o.Align)
	p = binary.LittleEndian.AppendUint32(p, o.Size)
	return b.long(TagMem32Range, p)
}

// Vendor appends a vendor defined tag, short when the payload fits.
func (b *Builder) Vendor(data []byte) *Builder {
	if len(data) <= 7 {
		return b.short(TagVendorShort, data...)
	}
	return b.long(TagVendorLong, data)
}

// Raw appends bytes verbatim.
func (b *Builder) Raw(data ...byte) *Builder {
	b.buf = append(b.buf, data...)
	return b
}

// Set appends the resource tags of one option set.
func (b *Builder) Set(s *OptionSet) *Builder {
	for _, o := range s.IRQs {
		b.IRQ(o)
	}
	for _, o := range s.DMAs {
		b.DMA(o)
	}
	for _, o := range s.Ports {
		b.Port(o)
	}
	for _, o := range s.Mems {
		b.Mem(o)
	}
	for _, o := range s.Mem32s {
		b.Mem32(o)
	}
	return b
}

// Bytes appends the end tag with a checksum that makes the resource data
// sum to zero and returns the stream.
func (b *Builder) Bytes() []byte {
	b.buf = append(b.buf, TagEnd<<3|lenEnd)
	b.buf = append(b.buf, -sum8(b.buf[HeaderSize:]))
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	b.buf = b.buf[:len(b.buf)-2]
	return out
}

// Encode serializes card into the stream Decode accepts. Each dependent
// position is written as its alternates followed by one end dependent
// tag. Two dependent positions with no independent set between them
// cannot be told apart in the stream and decode as alternates of one
// position.
func Encode(card *Card) []byte {
	b := NewBuilder(card.ID, card.Serial)
	if card.Version != 0 || card.VendorVersion != 0 {
		b.Version(card.Version, card.VendorVersion)
	}
	if card.Name != "" {
		b.Name(card.Name)
	}
	for _, ld := range card.Devices {
		b.Device(ld.ID, ld.Flags)
		if ld.Name != "" {
			b.Name(ld.Name)
		}
		for _, id := range ld.Compatible {
			b.Compatible(id)
		}
		for _, head := range ld.Positions() {
			if !ld.Sets[head].Dependent {
				b.Set(&ld.Sets[head])
				continue
			}
			for _, i := range ld.Alternates(head) {
				b.StartDependent(ld.Sets[i].Priority)
				b.Set(&ld.Sets[i])
			}
			b.EndDependent()
		}
	}
	return b.Bytes()
}
