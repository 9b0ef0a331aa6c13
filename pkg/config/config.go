package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/ardnew/softpnp/pnp"
	"github.com/ardnew/softpnp/pnp/hal"
	"github.com/ardnew/softpnp/pnp/ledger"
)

// EnvConfig names the environment variable Load reads the config path from.
const EnvConfig = "SOFTPNP_CONFIG"

// Config is the configuration of one Plug and Play controller.
type Config struct {
	// Bus configures the transport and the scan.
	Bus BusConfig `yaml:"bus"`

	// Search tunes the auto-configuration search.
	Search SearchConfig `yaml:"search"`

	// Reserve lists resources the host owns outside the subsystem.
	Reserve ReserveConfig `yaml:"reserve"`

	// Devices pins or restricts the configuration of specific logical
	// devices.
	Devices []DeviceConfig `yaml:"devices"`
}

// BusConfig configures the transport and the scan.
type BusConfig struct {
	// Device is the port device used by the Linux HAL.
	// Default: /dev/port
	Device string `yaml:"device"`

	// Proc is the procfs root scanned for resources other drivers hold.
	// Empty disables the scan.
	// Default: /proc
	Proc string `yaml:"proc"`

	// IDs is the PNP ID database used for naming devices. Empty searches
	// the standard locations.
	IDs string `yaml:"ids"`

	// MaxCards bounds isolation.
	// Default: 10
	MaxCards int `yaml:"max_cards"`

	// ReadPortFirst and ReadPortLast bound the read data port search.
	// Default: 0x213, 0x3FF
	ReadPortFirst uint16 `yaml:"read_port_first"`
	ReadPortLast  uint16 `yaml:"read_port_last"`

	// Owner is the ledger owner name for claims made by the controller.
	// Default: isapnp
	Owner string `yaml:"owner"`
}

// SearchConfig tunes the auto-configuration search.
type SearchConfig struct {
	// MaxPasses bounds the search.
	// Default: 20
	MaxPasses int `yaml:"max_passes"`

	// IRQPreference orders the interrupt lines tried.
	IRQPreference []uint8 `yaml:"irq_preference"`
}

// ReserveConfig lists host-owned resources.
type ReserveConfig struct {
	Ports []hal.PortRange `yaml:"ports"`
	IRQs  []uint8         `yaml:"irqs"`
	DMAs  []uint8         `yaml:"dmas"`
}

// DeviceConfig applies to the index-th logical device matching ID.
type DeviceConfig struct {
	ID    string `yaml:"id"`
	Index int    `yaml:"index"`

	// Pinned values, by slot. A zero entry leaves the slot Auto.
	Ports []uint16 `yaml:"ports"`
	IRQs  []uint8  `yaml:"irqs"`
	DMAs  []uint8  `yaml:"dmas"`
	Mems  []uint32 `yaml:"mems"`

	DisablePorts []hal.PortRange `yaml:"disable_ports"`
	DisableIRQs  []uint8         `yaml:"disable_irqs"`
	DisableDMAs  []uint8         `yaml:"disable_dmas"`

	// Skip leaves the device unconfigured.
	Skip bool `yaml:"skip"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Device:        "/dev/port",
			Proc:          "/proc",
			MaxCards:      pnp.MaxCards,
			ReadPortFirst: pnp.ReadPortFirst,
			ReadPortLast:  hal.ReadPortMax,
			Owner:         pnp.DefaultOwner,
		},
		Search: SearchConfig{
			MaxPasses:     pnp.DefaultMaxPasses,
			IRQPreference: slices.Clone(pnp.DefaultIRQPreference),
		},
	}
}

// Load loads configuration from the file named by SOFTPNP_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your config file, or use --config flag", EnvConfig)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over the defaults. ${HOME} and
// ${VAR:-default} patterns in path fields are expanded.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	c.Bus.Device = expandVars(c.Bus.Device)
	c.Bus.Proc = expandVars(c.Bus.Proc)
	c.Bus.IDs = expandVars(c.Bus.IDs)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Bus.MaxCards < 1 || c.Bus.MaxCards > pnp.MaxCards {
		errs = append(errs, fmt.Errorf("bus.max_cards must be within 1..%d", pnp.MaxCards))
	}
	for name, port := range map[string]uint16{
		"bus.read_port_first": c.Bus.ReadPortFirst,
		"bus.read_port_last":  c.Bus.ReadPortLast,
	} {
		if port < hal.ReadPortMin || port > hal.ReadPortMax {
			errs = append(errs, fmt.Errorf("%s 0x%X outside 0x%X..0x%X",
				name, port, hal.ReadPortMin, hal.ReadPortMax))
		}
	}
	if c.Bus.ReadPortFirst > c.Bus.ReadPortLast {
		errs = append(errs, errors.New("bus.read_port_first is above bus.read_port_last"))
	}
	if c.Bus.Owner == "" {
		errs = append(errs, errors.New("bus.owner is required"))
	}

	if c.Search.MaxPasses < 1 {
		errs = append(errs, errors.New("search.max_passes must be positive"))
	}
	errs = append(errs, checkLines("search.irq_preference", c.Search.IRQPreference, ledger.NumIRQs)...)
	if len(c.Search.IRQPreference) == 0 {
		errs = append(errs, errors.New("search.irq_preference is required"))
	}

	for i, r := range c.Reserve.Ports {
		if r.Size == 0 {
			errs = append(errs, fmt.Errorf("reserve.ports[%d] is empty", i))
		}
	}
	errs = append(errs, checkLines("reserve.irqs", c.Reserve.IRQs, ledger.NumIRQs)...)
	errs = append(errs, checkLines("reserve.dmas", c.Reserve.DMAs, ledger.NumDMAs)...)

	for i, d := range c.Devices {
		if _, err := pnp.ParseEISAID(d.ID); err != nil {
			errs = append(errs, fmt.Errorf("devices[%d].id: %w", i, err))
		}
		if d.Index < 0 {
			errs = append(errs, fmt.Errorf("devices[%d].index is negative", i))
		}
		if len(d.Ports) > pnp.MaxPorts || len(d.IRQs) > pnp.MaxIRQs ||
			len(d.DMAs) > pnp.MaxDMAs || len(d.Mems) > pnp.MaxMems {
			errs = append(errs, fmt.Errorf("devices[%d] pins more slots than a device has", i))
		}
		errs = append(errs, checkLines(fmt.Sprintf("devices[%d].irqs", i), d.IRQs, ledger.NumIRQs)...)
		errs = append(errs, checkLines(fmt.Sprintf("devices[%d].dmas", i), d.DMAs, ledger.NumDMAs)...)
	}

	return errors.Join(errs...)
}

func checkLines(field string, lines []uint8, limit int) []error {
	var errs []error
	for _, v := range lines {
		if int(v) >= limit {
			errs = append(errs, fmt.Errorf("%s: %d out of range", field, v))
		}
	}
	return errs
}

// Options derives controller options.
func (c *Config) Options() *pnp.Options {
	return &pnp.Options{
		MaxCards:      c.Bus.MaxCards,
		ReadPortFirst: c.Bus.ReadPortFirst,
		ReadPortLast:  c.Bus.ReadPortLast,
		MaxPasses:     c.Search.MaxPasses,
		IRQPreference: slices.Clone(c.Search.IRQPreference),
		Owner:         c.Bus.Owner,
	}
}

// Ledger returns a ledger holding the configured reservations.
func (c *Config) Ledger() (*ledger.Table, error) {
	l := ledger.New()
	if err := l.Reserve("config", c.Reserve.Ports, c.Reserve.IRQs, c.Reserve.DMAs); err != nil {
		return nil, err
	}
	return l, nil
}

// Device returns the entry for the index-th logical device with id, or
// nil.
func (c *Config) Device(id pnp.EISAID, index int) *DeviceConfig {
	for i := range c.Devices {
		d := &c.Devices[i]
		if parsed, err := pnp.ParseEISAID(d.ID); err == nil && parsed == id && d.Index == index {
			return d
		}
	}
	return nil
}

// Apply pins and restricts cfg as the entry describes. Pins beyond the
// slots the device has fail with pkg.ErrInvalidIndex.
func (d *DeviceConfig) Apply(cfg *pnp.Config) error {
	for i, v := range d.Ports {
		if v != 0 {
			if err := cfg.SetPort(i, v); err != nil {
				return err
			}
		}
	}
	for i, v := range d.IRQs {
		if v != 0 {
			if err := cfg.SetIRQ(i, v); err != nil {
				return err
			}
		}
	}
	for i, v := range d.DMAs {
		if v != 0 {
			if err := cfg.SetDMA(i, v); err != nil {
				return err
			}
		}
	}
	for i, v := range d.Mems {
		if v != 0 {
			if err := cfg.SetMem(i, v); err != nil {
				return err
			}
		}
	}
	for _, r := range d.DisablePorts {
		cfg.DisablePort(r)
	}
	for _, irq := range d.DisableIRQs {
		cfg.DisableIRQ(irq)
	}
	for _, ch := range d.DisableDMAs {
		cfg.DisableDMA(ch)
	}
	return nil
}
