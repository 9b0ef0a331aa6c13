package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/ardnew/softpnp/pkg"
	"github.com/ardnew/softpnp/pnp"
	"github.com/ardnew/softpnp/pnp/hal"
)

// =============================================================================
// Loading Tests
// =============================================================================

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Bus.ReadPortFirst != 0x213 || cfg.Bus.ReadPortLast != 0x3FF {
		t.Errorf("read port range = 0x%X..0x%X", cfg.Bus.ReadPortFirst, cfg.Bus.ReadPortLast)
	}
	if !slices.Equal(cfg.Search.IRQPreference, pnp.DefaultIRQPreference) {
		t.Errorf("IRQPreference = %v", cfg.Search.IRQPreference)
	}

	cfg.Search.IRQPreference[0] = 3
	if pnp.DefaultIRQPreference[0] != 5 {
		t.Error("Default shares the package preference slice")
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("SOFTPNP_TEST_ROOT", "/srv")
	path := filepath.Join(t.TempDir(), "softpnp.yaml")
	data := `
bus:
  proc: ${SOFTPNP_TEST_ROOT}/proc
  ids: ${SOFTPNP_TEST_UNSET:-/usr/share/pnp.ids}
  max_cards: 4
search:
  max_passes: 8
  irq_preference: [10, 11]
reserve:
  ports:
    - {base: 0x3F8, size: 8}
  irqs: [4]
  dmas: [2]
devices:
  - id: PNP0501
    ports: [0x2E8]
    irqs: [3]
    disable_dmas: [1]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	if cfg.Bus.Proc != "/srv/proc" {
		t.Errorf("Bus.Proc = %q, want /srv/proc", cfg.Bus.Proc)
	}
	if cfg.Bus.IDs != "/usr/share/pnp.ids" {
		t.Errorf("Bus.IDs = %q, want the fallback", cfg.Bus.IDs)
	}
	if cfg.Bus.Device != "/dev/port" {
		t.Errorf("Bus.Device = %q, want the default", cfg.Bus.Device)
	}
	if cfg.Bus.Owner != pnp.DefaultOwner {
		t.Errorf("Bus.Owner = %q", cfg.Bus.Owner)
	}

	opts := cfg.Options()
	if opts.MaxCards != 4 || opts.MaxPasses != 8 || !slices.Equal(opts.IRQPreference, []uint8{10, 11}) {
		t.Errorf("Options() = %+v", opts)
	}

	l, err := cfg.Ledger()
	if err != nil {
		t.Fatalf("Ledger() error = %v", err)
	}
	if !l.PortBusy(hal.PortRange{Base: 0x3FA, Size: 1}) || l.IRQOwner(4) == "" || l.DMAOwner(2) == "" {
		t.Error("reservations not recorded in the ledger")
	}
}

func TestLoad(t *testing.T) {
	t.Setenv(EnvConfig, "")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), EnvConfig) {
		t.Errorf("Load() without %s error = %v", EnvConfig, err)
	}

	path := filepath.Join(t.TempDir(), "softpnp.yaml")
	if err := os.WriteFile(path, []byte("bus:\n  owner: test\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfig, path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bus.Owner != "test" {
		t.Errorf("Bus.Owner = %q, want test", cfg.Bus.Owner)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadFile(missing) error = %v", err)
	}
	if _, err := Parse([]byte("bus: [1, 2")); err == nil {
		t.Error("Parse() accepted malformed YAML")
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"max cards", func(c *Config) { c.Bus.MaxCards = 0 }, "bus.max_cards"},
		{"too many cards", func(c *Config) { c.Bus.MaxCards = 11 }, "bus.max_cards"},
		{"read port low", func(c *Config) { c.Bus.ReadPortFirst = 0x100 }, "bus.read_port_first"},
		{"read port order", func(c *Config) { c.Bus.ReadPortLast = 0x210 }, "above"},
		{"owner", func(c *Config) { c.Bus.Owner = "" }, "bus.owner"},
		{"passes", func(c *Config) { c.Search.MaxPasses = 0 }, "search.max_passes"},
		{"preference range", func(c *Config) { c.Search.IRQPreference = []uint8{16} }, "search.irq_preference"},
		{"preference empty", func(c *Config) { c.Search.IRQPreference = nil }, "required"},
		{"empty reserve", func(c *Config) { c.Reserve.Ports = []hal.PortRange{{Base: 0x300}} }, "reserve.ports[0]"},
		{"reserve dma", func(c *Config) { c.Reserve.DMAs = []uint8{8} }, "reserve.dmas"},
		{"device id", func(c *Config) { c.Devices = []DeviceConfig{{ID: "bogus"}} }, "devices[0].id"},
		{"device slots", func(c *Config) {
			c.Devices = []DeviceConfig{{ID: "PNP0501", IRQs: []uint8{3, 4, 5}}}
		}, "slots"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidate_Joined(t *testing.T) {
	cfg := Default()
	cfg.Bus.Owner = ""
	cfg.Search.MaxPasses = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	if n := strings.Count(err.Error(), "\n") + 1; n != 2 {
		t.Errorf("Validate() reported %d errors, want 2: %v", n, err)
	}
}

// =============================================================================
// Device Tests
// =============================================================================

func testDevice(t *testing.T) *pnp.LogicalDevice {
	t.Helper()
	b := pnp.NewBuilder(pnp.MustEISAID("VEN0001"), 0x1).Device(pnp.MustEISAID("PNP0501"), 0)
	port := pnp.PortOption{Min: 0x100, Max: 0x3F8, Align: 8, Size: 8, Flags: pnp.PortDecode16}
	b.Port(port).Port(port)
	b.IRQ(pnp.IRQOption{Map: 1<<3 | 1<<4, Flags: pnp.IRQHighEdge})
	card, err := pnp.Decode(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	return card.Devices[0]
}

func TestDevice(t *testing.T) {
	cfg := Default()
	cfg.Devices = []DeviceConfig{
		{ID: "PNP0501", Index: 1, Skip: true},
		{ID: "PNP0501", Ports: []uint16{0x2E8}},
	}
	id := pnp.MustEISAID("PNP0501")

	if d := cfg.Device(id, 0); d == nil || d.Skip {
		t.Errorf("Device(PNP0501, 0) = %+v", d)
	}
	if d := cfg.Device(id, 1); d == nil || !d.Skip {
		t.Errorf("Device(PNP0501, 1) = %+v", d)
	}
	if d := cfg.Device(pnp.MustEISAID("PNP0400"), 0); d != nil {
		t.Errorf("Device(PNP0400, 0) = %+v, want nil", d)
	}
}

func TestDeviceConfig_Apply(t *testing.T) {
	ld := testDevice(t)
	cfg, err := pnp.NewConfig(ld)
	if err != nil {
		t.Fatal(err)
	}

	d := DeviceConfig{
		Ports:        []uint16{0, 0x2E8},
		IRQs:         []uint8{4},
		DisablePorts: []hal.PortRange{{Base: 0x3F8, Size: 8}},
		DisableIRQs:  []uint8{3},
		DisableDMAs:  []uint8{1},
	}
	if err := d.Apply(cfg); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !cfg.Ports[0].Auto || cfg.Ports[1].Auto || cfg.Ports[1].Value != 0x2E8 {
		t.Errorf("Ports = %+v", cfg.Ports)
	}
	if cfg.IRQs[0].Auto || cfg.IRQs[0].Value != 4 {
		t.Errorf("IRQs = %+v", cfg.IRQs)
	}
	if len(cfg.DisabledPorts) != 1 || len(cfg.DisabledIRQs) != 1 || len(cfg.DisabledDMAs) != 1 {
		t.Errorf("disable-lists = %v %v %v", cfg.DisabledPorts, cfg.DisabledIRQs, cfg.DisabledDMAs)
	}

	d = DeviceConfig{DMAs: []uint8{1}}
	if err := d.Apply(cfg); !errors.Is(err, pkg.ErrInvalidIndex) {
		t.Errorf("Apply() beyond the slots error = %v, want ErrInvalidIndex", err)
	}
}
