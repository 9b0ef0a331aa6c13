// Package pnpid provides access to the PNP ID database for looking up
// vendor and device names.
//
// The database is the hwdata pnp.ids file: one entry per line, a
// three-letter vendor code or a seven-character EISA device id, a tab,
// then the name. Lines starting with '#' are comments.
//
// # Usage
//
// Load the database once at startup:
//
//	db := pnpid.New()
//	db.Load()
//
// Then look up names:
//
//	vendor := db.LookupVendor(card.ID.Vendor)
//	name := db.Describe(card.ID)
//	function := db.DescribeDevice(ld) // falls back to compatible ids
//
// # Database Locations
//
// The package searches for the database in these locations:
//
//   - /usr/share/hwdata/pnp.ids
//   - /usr/share/misc/pnp.ids
//
// If no database file is found, lookups return empty strings.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package pnpid
