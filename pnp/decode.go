package pnp

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softpnp/pkg"
)

// tagReader supplies resource data bytes to the decoder.
type tagReader interface {
	read(buf []byte) error
}

// sliceReader reads from an in-memory stream.
type sliceReader struct {
	data []byte
	off  int
}

func (r *sliceReader) read(buf []byte) error {
	if r.off+len(buf) > len(r.data) {
		r.off = len(r.data)
		return pkg.ErrEndOfData
	}
	copy(buf, r.data[r.off:])
	r.off += len(buf)
	return nil
}

// decoder builds logical devices from a tag stream.
type decoder struct {
	r    tagReader
	card *Card
	dev  *LogicalDevice

	// cur is the set receiving resource tags, or None.
	cur int
	// inDependent is true between a start and an end dependent tag.
	inDependent bool

	buf [lenMem32Range]byte
}

// DecodeHeader parses a serial identifier into a card. It fails with
// pkg.ErrChecksum if the checksum byte does not match.
func DecodeHeader(header []byte) (*Card, error) {
	if len(header) < HeaderSize {
		return nil, pkg.ErrEndOfData
	}
	if !ValidHeader(header) {
		return nil, fmt.Errorf("header %X: %w", header[:HeaderSize], pkg.ErrChecksum)
	}
	return &Card{
		ID:       eisaIDFromBytes(header[0:4]),
		Serial:   binary.LittleEndian.Uint32(header[4:8]),
		Checksum: header[8],
	}, nil
}

// Decode parses a complete serial stream: the 9-byte serial identifier
// followed by the resource tags. Tags that cannot be parsed are skipped;
// an error is returned only for a bad header. A stream that ends before
// its end tag yields the devices parsed so far together with
// pkg.ErrEndOfData.
func Decode(data []byte) (*Card, error) {
	card, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	card.Raw = append([]byte(nil), data...)
	r := &sliceReader{data: data, off: HeaderSize}
	err = decodeTags(r, card)
	card.DataChecksum = sum8(data[HeaderSize:r.off])
	return card, err
}

func sum8(b []byte) uint8 {
	var s uint8
	for _, v := range b {
		s += v
	}
	return s
}

// decodeTags reads tags from r into card until the end tag.
func decodeTags(r tagReader, card *Card) error {
	d := &decoder{r: r, card: card, cur: None}
	return d.run()
}

func (d *decoder) run() error {
	for {
		var tag [1]byte
		if err := d.r.read(tag[:]); err != nil {
			return err
		}
		if tag[0] == 0 {
			return fmt.Errorf("tag 0x00: %w", pkg.ErrMalformedTag)
		}

		var typ uint8
		var size int
		if tag[0]&0x80 != 0 {
			var length [2]byte
			if err := d.r.read(length[:]); err != nil {
				return err
			}
			typ = tag[0]
			size = int(binary.LittleEndian.Uint16(length[:]))
			if typ == 0xFF && size == 0xFFFF {
				// An undriven bus reads all ones.
				return fmt.Errorf("tag 0xFF length 0xFFFF: %w", pkg.ErrMalformedTag)
			}
		} else {
			typ = tag[0] >> 3 & 0x0F
			size = int(tag[0] & 0x07)
		}

		done, err := d.tag(typ, size)
		if err != nil || done {
			return err
		}
	}
}

// payload reads exactly n bytes into the scratch buffer.
func (d *decoder) payload(n int) ([]byte, error) {
	b := d.buf[:n]
	return b, d.r.read(b)
}

// skip discards n payload bytes.
func (d *decoder) skip(n int) error {
	for n > 0 {
		chunk := min(n, len(d.buf))
		if err := d.r.read(d.buf[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// skipTag logs and discards a tag the decoder cannot use.
func (d *decoder) skipTag(typ uint8, size int, reason string) (bool, error) {
	pkg.LogDebug(pkg.ComponentDecode, "skipping tag",
		"csn", d.card.CSN, "type", fmt.Sprintf("0x%02X", typ), "size", size, "reason", reason)
	return false, d.skip(size)
}

// tag handles one tag. It reports true when the stream is finished.
func (d *decoder) tag(typ uint8, size int) (bool, error) {
	switch typ {
	case TagPnPVersion:
		if size != lenPnPVersion {
			return d.skipTag(typ, size, "length")
		}
		b, err := d.payload(size)
		if err != nil {
			return false, err
		}
		d.card.Version, d.card.VendorVersion = b[0], b[1]

	case TagLogicalDevice:
		if size < 5 || size > 6 {
			return d.skipTag(typ, size, "length")
		}
		b, err := d.payload(size)
		if err != nil {
			return false, err
		}
		d.startDevice(b)

	case TagCompatibleID:
		if d.dev == nil || size != lenCompatibleID {
			return d.skipTag(typ, size, "placement or length")
		}
		b, err := d.payload(size)
		if err != nil {
			return false, err
		}
		d.dev.Compatible = append(d.dev.Compatible, eisaIDFromBytes(b))

	case TagStartDependent:
		if d.dev == nil || size > 1 {
			return d.skipTag(typ, size, "placement or length")
		}
		priority := PriorityAcceptable
		if size == 1 {
			b, err := d.payload(size)
			if err != nil {
				return false, err
			}
			priority = Priority(b[0])
			if priority > PriorityFunctional {
				priority = PriorityInvalid
			}
		}
		d.startDependent(priority)

	case TagEndDependent:
		if d.dev == nil || size != 0 {
			return d.skipTag(typ, size, "placement or length")
		}
		if !d.inDependent {
			pkg.LogWarn(pkg.ComponentDecode, "unexpected end dependent tag",
				"csn", d.card.CSN, "logdev", d.dev.Number)
		}
		d.inDependent = false
		d.cur = None

	case TagIRQ, TagDMA, TagIOPort, TagFixedIOPort, TagMemRange, TagMem32Range, TagFixedMem32:
		return false, d.resource(typ, size)

	case TagANSIString:
		b := make([]byte, size)
		if err := d.r.read(b); err != nil {
			return false, err
		}
		name := trimName(b)
		if d.dev != nil {
			d.dev.Name = name
		} else {
			d.card.Name = name
		}

	case TagEnd:
		if size > 0 {
			if err := d.skip(size); err != nil {
				return true, err
			}
		}
		return true, nil

	default:
		// Vendor defined and Unicode strings land here too.
		return d.skipTag(typ, size, "unused type")
	}
	return false, nil
}

func trimName(b []byte) string {
	end := len(b)
	for end > 0 && (b[end-1] == 0 || b[end-1] == ' ') {
		end--
	}
	return string(b[:end])
}

func (d *decoder) startDevice(b []byte) {
	dev := &LogicalDevice{
		Number: len(d.card.Devices),
		ID:     eisaIDFromBytes(b[0:4]),
		Flags:  uint16(b[4]),
		CSN:    d.card.CSN,
	}
	if len(b) > 5 {
		dev.Flags |= uint16(b[5]) << 8
	}
	d.card.Devices = append(d.card.Devices, dev)
	d.dev = dev
	d.cur = None
	d.inDependent = false
	pkg.LogDebug(pkg.ComponentDecode, "logical device",
		"csn", d.card.CSN, "logdev", dev.Number, "id", dev.ID.String())
}

// tail returns the index of the first set at the last position, or None.
func (d *decoder) tail() int {
	pos := d.dev.Positions()
	if len(pos) == 0 {
		return None
	}
	return pos[len(pos)-1]
}

// appendPosition adds a new position at the end of the chain.
func (d *decoder) appendPosition(set OptionSet) int {
	idx := len(d.dev.Sets)
	if t := d.tail(); t != None {
		d.dev.Sets[t].Next = idx
	}
	d.dev.Sets = append(d.dev.Sets, set)
	return idx
}

// startDependent opens a dependent set. It becomes an alternate when
// the tail position is dependent, even if an end dependent tag closed
// it, and otherwise the first set of a new position.
func (d *decoder) startDependent(priority Priority) {
	set := newOptionSet(true, priority)
	if t := d.tail(); t != None && d.dev.Sets[t].Dependent {
		idx := len(d.dev.Sets)
		alts := d.dev.Alternates(t)
		d.dev.Sets[alts[len(alts)-1]].Alt = idx
		d.dev.Sets = append(d.dev.Sets, set)
		d.cur = idx
	} else {
		d.cur = d.appendPosition(set)
	}
	d.inDependent = true
}

// current returns the set receiving resource tags, opening an
// independent set at the end of the chain if none is open.
func (d *decoder) current() *OptionSet {
	if d.cur == None {
		d.cur = d.appendPosition(newOptionSet(false, PriorityPreferred))
	}
	return &d.dev.Sets[d.cur]
}

// resourceLen holds the legal payload length range per resource tag.
var resourceLen = map[uint8][2]int{
	TagIRQ:         {2, 3},
	TagDMA:         {lenDMA, lenDMA},
	TagIOPort:      {lenIOPort, lenIOPort},
	TagFixedIOPort: {lenFixedIOPort, lenFixedIOPort},
	TagMemRange:    {lenMemRange, lenMemRange},
	TagMem32Range:  {lenMem32Range, lenMem32Range},
	TagFixedMem32:  {lenFixedMem32, lenFixedMem32},
}

func (d *decoder) resource(typ uint8, size int) error {
	want := resourceLen[typ]
	if d.dev == nil || size < want[0] || size > want[1] {
		_, err := d.skipTag(typ, size, "placement or length")
		return err
	}
	b, err := d.payload(size)
	if err != nil {
		return err
	}
	set := d.current()

	switch typ {
	case TagIRQ:
		opt := IRQOption{Map: binary.LittleEndian.Uint16(b[0:2]), Flags: IRQHighEdge}
		if size == 3 {
			opt.Flags = b[2]
		}
		set.IRQs = append(set.IRQs, opt)

	case TagDMA:
		set.DMAs = append(set.DMAs, DMAOption{Map: b[0], Flags: b[1]})

	case TagIOPort:
		set.Ports = append(set.Ports, PortOption{
			Flags: b[0] & PortDecode16,
			Min:   binary.LittleEndian.Uint16(b[1:3]),
			Max:   binary.LittleEndian.Uint16(b[3:5]),
			Align: uint16(b[5]),
			Size:  uint16(b[6]),
		})

	case TagFixedIOPort:
		base := binary.LittleEndian.Uint16(b[0:2]) & 0x03FF
		set.Ports = append(set.Ports, PortOption{
			Flags: PortFixed,
			Min:   base,
			Max:   base,
			Size:  uint16(b[2]),
		})

	case TagMemRange:
		opt := MemOption{
			Flags: b[0],
			Min:   uint32(binary.LittleEndian.Uint16(b[1:3])) << 8,
			Max:   uint32(binary.LittleEndian.Uint16(b[3:5])) << 8,
			Align: uint32(binary.LittleEndian.Uint16(b[5:7])),
			Size:  uint32(binary.LittleEndian.Uint16(b[7:9])) << 8,
		}
		if opt.Align == 0 {
			opt.Align = 0x10000
		}
		set.Mems = append(set.Mems, opt)

	case TagMem32Range:
		set.Mem32s = append(set.Mem32s, Mem32Option{
			Flags: b[0] &^ MemFixed,
			Min:   binary.LittleEndian.Uint32(b[1:5]),
			Max:   binary.LittleEndian.Uint32(b[5:9]),
			Align: binary.LittleEndian.Uint32(b[9:13]),
			Size:  binary.LittleEndian.Uint32(b[13:17]),
		})

	case TagFixedMem32:
		base := binary.LittleEndian.Uint32(b[1:5])
		set.Mem32s = append(set.Mem32s, Mem32Option{
			Flags: b[0] | MemFixed,
			Min:   base,
			Max:   base,
			Size:  binary.LittleEndian.Uint32(b[5:9]),
		})
	}
	return nil
}
