package pnp

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/ardnew/softpnp/pkg"
)

// fingerprintKey is the BLAKE3 key for card fingerprints: the ASCII
// domain name zero-padded to 32 bytes.
var fingerprintKey = [32]byte{
	's', 'o', 'f', 't', 'p', 'n', 'p', '.', 'c', 'a', 'r', 'd', '.',
	'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't',
}

// Fingerprint returns the keyed BLAKE3 hash of a card's serial
// identifier and resource data. Two scans of an unchanged card produce
// the same fingerprint.
func Fingerprint(raw []byte) [32]byte {
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("pnp: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(raw)
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// Snapshot is a serializable record of a catalogue and the resources
// committed to its devices.
type Snapshot struct {
	ReadPort uint16       `cbor:"read_port"`
	Cards    []CardRecord `cbor:"cards"`
}

// CardRecord describes one card in a Snapshot.
type CardRecord struct {
	CSN         int            `cbor:"csn"`
	ID          EISAID         `cbor:"id"`
	Serial      uint32         `cbor:"serial"`
	Name        string         `cbor:"name,omitempty"`
	Fingerprint [32]byte       `cbor:"fingerprint"`
	Raw         []byte         `cbor:"raw"`
	Devices     []DeviceRecord `cbor:"devices"`
}

// DeviceRecord describes one logical device in a Snapshot.
type DeviceRecord struct {
	Number     int        `cbor:"number"`
	ID         EISAID     `cbor:"id"`
	Compatible []EISAID   `cbor:"compatible,omitempty"`
	Name       string     `cbor:"name,omitempty"`
	Active     bool       `cbor:"active"`
	Resources  *Resources `cbor:"resources,omitempty"`
}

var (
	snapshotEnc cbor.EncMode
	snapshotDec cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	snapshotEnc, err = encOptions.EncMode()
	if err != nil {
		panic("pnp: CBOR encoder initialization failed: " + err.Error())
	}

	snapshotDec, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("pnp: CBOR decoder initialization failed: " + err.Error())
	}
}

// Snapshot records the current catalogue.
func (c *Controller) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := &Snapshot{Cards: make([]CardRecord, 0, len(c.cards))}
	if c.readPortClaimed {
		s.ReadPort = c.readPort
	}
	for _, card := range c.cards {
		rec := CardRecord{
			CSN:         card.CSN,
			ID:          card.ID,
			Serial:      card.Serial,
			Name:        card.Name,
			Fingerprint: card.Fingerprint,
			Raw:         card.Raw,
		}
		for _, ld := range card.Devices {
			d := DeviceRecord{
				Number:     ld.Number,
				ID:         ld.ID,
				Compatible: ld.Compatible,
				Name:       ld.Name,
				Active:     ld.active,
			}
			if ld.resources != nil {
				r := *ld.resources
				d.Resources = &r
			}
			rec.Devices = append(rec.Devices, d)
		}
		s.Cards = append(s.Cards, rec)
	}
	return s
}

// MarshalSnapshot encodes s with CBOR core deterministic encoding. Equal
// snapshots encode to identical bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return snapshotEnc.Marshal(s)
}

// UnmarshalSnapshot decodes a snapshot produced by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := snapshotDec.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return &s, nil
}

// Decode rebuilds the card's option tree from its raw bytes. It fails
// with pkg.ErrChecksum if the fingerprint does not match the data.
func (r *CardRecord) Decode() (*Card, error) {
	if Fingerprint(r.Raw) != r.Fingerprint {
		return nil, fmt.Errorf("card %d fingerprint: %w", r.CSN, pkg.ErrChecksum)
	}
	card, err := Decode(r.Raw)
	if card == nil {
		return nil, err
	}
	card.CSN = r.CSN
	card.Fingerprint = r.Fingerprint
	for _, ld := range card.Devices {
		ld.CSN = r.CSN
	}
	return card, err
}
