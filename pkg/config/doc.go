// Package config loads the YAML configuration of a Plug and Play
// controller.
//
// Configuration comes from a single file named by the SOFTPNP_CONFIG
// environment variable (via [Load]) or passed explicitly (via [LoadFile]).
// Values absent from the file keep their [Default].
//
// Path fields expand ${VAR} and ${VAR:-default} patterns after loading.
//
// Key exports:
//
//   - [Config] -- bus, search, reservation and per-device settings
//   - [Config.Options] -- controller options for [pnp.New]
//   - [Config.Ledger] -- a ledger holding the configured reservations
//   - [DeviceConfig.Apply] -- pins and disable-lists for one device
package config
