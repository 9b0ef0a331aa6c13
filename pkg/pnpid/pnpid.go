package pnpid

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ardnew/softpnp/pnp"
)

// DefaultPaths lists the standard locations for the PNP ID database.
var DefaultPaths = []string{
	"/usr/share/hwdata/pnp.ids",
	"/usr/share/misc/pnp.ids",
}

// Database caches vendor and device names from the PNP ID database.
type Database struct {
	vendors map[pnp.VendorID]string
	devices map[pnp.EISAID]string
	loaded  bool
	mu      sync.RWMutex
	paths   []string
}

// New creates a database that searches the default paths.
func New() *Database {
	return NewWithPaths(DefaultPaths)
}

// NewWithPaths creates a database that searches paths in order.
func NewWithPaths(paths []string) *Database {
	return &Database{
		vendors: make(map[pnp.VendorID]string),
		devices: make(map[pnp.EISAID]string),
		paths:   paths,
	}
}

// Load parses the first database file found. Later calls do nothing.
//
// Returns true if a database was loaded, now or earlier.
func (db *Database) Load() bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.loaded {
		return len(db.vendors)+len(db.devices) > 0
	}
	// Marked even on failure so missing files are not searched again.
	db.loaded = true

	for _, path := range db.paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		defer f.Close()
		return db.parse(f) == nil
	}
	return false
}

// Parse adds the entries read from r.
func (db *Database) Parse(r io.Reader) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.loaded = true
	return db.parse(r)
}

func (db *Database) parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		code, name, ok := strings.Cut(line, "\t")
		if !ok {
			code, name, ok = strings.Cut(line, " ")
			if !ok {
				continue
			}
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		switch len(code) {
		case 3:
			if v, err := pnp.ParseVendorID(code); err == nil {
				db.vendors[v] = name
			}
		case 7:
			if id, err := pnp.ParseEISAID(code); err == nil {
				db.devices[id] = name
			}
		}
	}
	return scanner.Err()
}

// LookupVendor returns the vendor name, or "".
func (db *Database) LookupVendor(v pnp.VendorID) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[v]
}

// LookupDevice returns the device name, or "".
func (db *Database) LookupDevice(id pnp.EISAID) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.devices[id]
}

// Describe returns the best available name for id: the device name, else
// the vendor name followed by the id, else "".
func (db *Database) Describe(id pnp.EISAID) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if name, ok := db.devices[id]; ok {
		return name
	}
	if vendor, ok := db.vendors[id.Vendor]; ok {
		return vendor + " " + id.String()
	}
	return ""
}

// DescribeDevice names a logical device by its own id, then by the first
// compatible id the database knows. Names found through a compatible id
// are marked as such.
func (db *Database) DescribeDevice(ld *pnp.LogicalDevice) string {
	if ld == nil {
		return ""
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	if name, ok := db.devices[ld.ID]; ok {
		return name
	}
	for _, id := range ld.Compatible {
		if name, ok := db.devices[id]; ok {
			return name + " (compatible)"
		}
	}
	return ""
}

// IsLoaded reports whether a load has been attempted.
func (db *Database) IsLoaded() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.loaded
}

// Len returns the number of vendor and device entries.
func (db *Database) Len() (vendors, devices int) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.vendors), len(db.devices)
}
