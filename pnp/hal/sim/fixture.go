package sim

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ardnew/softpnp/pnp"
)

// Fixture describes a simulated bus in YAML.
//
//	noisy_ports: [0x213]
//	cards:
//	  - id: VEN0001
//	    serial: 1
//	    name: Example card
//	    devices:
//	      - id: VEN0001
//	        compatible: [PNP0501]
//	        positions:
//	          - irqs: [{lines: [3, 4]}]
//	          - dependent:
//	              - priority: preferred
//	                ports: [{min: 0x3F8, max: 0x3F8, size: 8}]
//	              - ports: [{min: 0x100, max: 0x3F8, align: 8, size: 8}]
//
// A card may instead give its complete serial stream as hex in data.
type Fixture struct {
	NoisyPorts []uint16      `yaml:"noisy_ports"`
	Cards      []CardFixture `yaml:"cards"`
}

// CardFixture describes one card.
type CardFixture struct {
	ID            string          `yaml:"id"`
	Serial        uint32          `yaml:"serial"`
	Name          string          `yaml:"name"`
	Version       uint8           `yaml:"version"`
	VendorVersion uint8           `yaml:"vendor_version"`
	Devices       []DeviceFixture `yaml:"devices"`

	// Data, when set, is the raw serial stream in hex and overrides every
	// other field.
	Data string `yaml:"data"`
}

// DeviceFixture describes one logical device.
type DeviceFixture struct {
	ID         string            `yaml:"id"`
	Flags      uint16            `yaml:"flags"`
	Name       string            `yaml:"name"`
	Compatible []string          `yaml:"compatible"`
	Positions  []PositionFixture `yaml:"positions"`
}

// PositionFixture is one option tree position: either independent
// resources inline, or a list of dependent alternates.
type PositionFixture struct {
	SetFixture `yaml:",inline"`
	Dependent  []SetFixture `yaml:"dependent"`
}

// SetFixture lists the resources of one option set.
type SetFixture struct {
	Priority string        `yaml:"priority"`
	Ports    []PortFixture `yaml:"ports"`
	IRQs     []IRQFixture  `yaml:"irqs"`
	DMAs     []DMAFixture  `yaml:"dmas"`
	Mems     []MemFixture  `yaml:"mems"`
}

// PortFixture is an I/O port option. Fixed options use the fixed I/O
// port tag and ignore Max and Align.
type PortFixture struct {
	Min      uint16 `yaml:"min"`
	Max      uint16 `yaml:"max"`
	Align    uint16 `yaml:"align"`
	Size     uint16 `yaml:"size"`
	Decode16 bool   `yaml:"decode16"`
	Fixed    bool   `yaml:"fixed"`
}

// IRQFixture is an interrupt option.
type IRQFixture struct {
	Lines []uint8 `yaml:"lines"`
	Flags uint8   `yaml:"flags"`
}

// DMAFixture is a DMA option.
type DMAFixture struct {
	Channels []uint8 `yaml:"channels"`
	Flags    uint8   `yaml:"flags"`
}

// MemFixture is a 24-bit memory option.
type MemFixture struct {
	Min   uint32 `yaml:"min"`
	Max   uint32 `yaml:"max"`
	Align uint32 `yaml:"align"`
	Size  uint32 `yaml:"size"`
	Flags uint8  `yaml:"flags"`
}

// LoadFixture reads a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture %s: %w", path, err)
	}
	f, err := ParseFixture(data)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return f, nil
}

// ParseFixture decodes a YAML fixture.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	return &f, nil
}

// Bus builds a simulated bus carrying the fixture's cards.
func (f *Fixture) Bus() (*Bus, error) {
	b := New()
	for i, cf := range f.Cards {
		data, err := cf.Encode()
		if err != nil {
			return nil, fmt.Errorf("card %d: %w", i, err)
		}
		b.AddCard(NewCard(data))
	}
	for _, p := range f.NoisyPorts {
		b.SetNoisy(p)
	}
	return b, nil
}

// Encode returns the card's serial stream.
func (cf *CardFixture) Encode() ([]byte, error) {
	if cf.Data != "" {
		data, err := hex.DecodeString(strings.Join(strings.Fields(cf.Data), ""))
		if err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
		return data, nil
	}

	id, err := pnp.ParseEISAID(cf.ID)
	if err != nil {
		return nil, err
	}
	b := pnp.NewBuilder(id, cf.Serial)
	if cf.Version != 0 || cf.VendorVersion != 0 {
		b.Version(cf.Version, cf.VendorVersion)
	}
	if cf.Name != "" {
		b.Name(cf.Name)
	}
	for _, df := range cf.Devices {
		if err := df.encode(b); err != nil {
			return nil, fmt.Errorf("device %s: %w", df.ID, err)
		}
	}
	return b.Bytes(), nil
}

func (df *DeviceFixture) encode(b *pnp.Builder) error {
	id, err := pnp.ParseEISAID(df.ID)
	if err != nil {
		return err
	}
	b.Device(id, df.Flags)
	if df.Name != "" {
		b.Name(df.Name)
	}
	for _, s := range df.Compatible {
		cid, err := pnp.ParseEISAID(s)
		if err != nil {
			return err
		}
		b.Compatible(cid)
	}
	for _, pf := range df.Positions {
		if len(pf.Dependent) == 0 {
			set := pf.SetFixture.optionSet()
			b.Set(&set)
			continue
		}
		for _, sf := range pf.Dependent {
			priority, err := parsePriority(sf.Priority)
			if err != nil {
				return err
			}
			set := sf.optionSet()
			b.StartDependent(priority)
			b.Set(&set)
		}
		b.EndDependent()
	}
	return nil
}

func parsePriority(s string) (pnp.Priority, error) {
	switch strings.ToLower(s) {
	case "", "acceptable":
		return pnp.PriorityAcceptable, nil
	case "preferred":
		return pnp.PriorityPreferred, nil
	case "functional":
		return pnp.PriorityFunctional, nil
	case "invalid":
		return pnp.PriorityInvalid, nil
	}
	return 0, fmt.Errorf("priority %q: unknown", s)
}

func (sf *SetFixture) optionSet() pnp.OptionSet {
	var set pnp.OptionSet
	for _, p := range sf.Ports {
		o := pnp.PortOption{Min: p.Min, Max: p.Max, Align: p.Align, Size: p.Size}
		if o.Max == 0 {
			o.Max = o.Min
		}
		if p.Decode16 {
			o.Flags |= pnp.PortDecode16
		}
		if p.Fixed {
			o = pnp.PortOption{Min: p.Min, Max: p.Min, Size: p.Size, Flags: pnp.PortFixed}
		}
		set.Ports = append(set.Ports, o)
	}
	for _, q := range sf.IRQs {
		o := pnp.IRQOption{Flags: q.Flags}
		if o.Flags == 0 {
			o.Flags = pnp.IRQHighEdge
		}
		for _, l := range q.Lines {
			o.Map |= 1 << l
		}
		set.IRQs = append(set.IRQs, o)
	}
	for _, d := range sf.DMAs {
		o := pnp.DMAOption{Flags: d.Flags}
		for _, ch := range d.Channels {
			o.Map |= 1 << ch
		}
		set.DMAs = append(set.DMAs, o)
	}
	for _, m := range sf.Mems {
		o := pnp.MemOption{Min: m.Min, Max: m.Max, Align: m.Align, Size: m.Size, Flags: m.Flags}
		if o.Max == 0 {
			o.Max = o.Min
		}
		if o.Align == 0 {
			o.Align = 0x10000
		}
		set.Mems = append(set.Mems, o)
	}
	return set
}
