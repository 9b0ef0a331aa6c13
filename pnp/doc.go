// Package pnp implements an ISA Plug and Play configuration subsystem.
//
// It is platform-agnostic and interacts with the bus via the [hal.BusHAL]
// interface defined in the github.com/ardnew/softpnp/pnp/hal package. The
// HAL exposes only the three Plug and Play ports and a delay, so a
// platform provides port I/O and nothing else.
//
// # Architecture
//
// The subsystem is organized into layers, leaves first:
//
//   - Signaling sends the initiation key, wakes cards, reads resource
//     data and runs the isolation race that assigns card select numbers
//   - Decode and Encode translate between resource data streams and the
//     option tree of each logical device
//   - The registry (Build, FindDevice, FindLogicalDevice) catalogues the
//     cards found by one scan
//   - Configure searches for a conflict-free resource assignment,
//     switching between alternate dependent functions as needed
//   - Sessions (Begin, End) address one logical device; Activate and
//     Deactivate toggle it
//
// # Option Trees
//
// A logical device's resource options are stored in an arena of
// [OptionSet] values linked by index. Sets chained through Next are
// positions whose needs accumulate; sets linked through Alt are mutually
// exclusive alternates at one position. Independent resources occupy a
// position with a single set.
//
// # Example
//
//	ctl := pnp.New(bus, ledger.New(), nil)
//	if err := ctl.Init(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer ctl.Close()
//
//	if _, err := ctl.Build(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	ld := ctl.FindLogicalDevice(nil, pnp.MustVendorID("PNP"), 0x0501, 0)
//	cfg, _ := pnp.NewConfig(ld)
//	if _, err := ctl.Configure(cfg); err != nil {
//	    log.Fatal(err)
//	}
//	if err := ctl.Activate(ld); err != nil {
//	    log.Fatal(err)
//	}
//
// # Snapshots
//
// [Controller.Snapshot] records the catalogue and committed resources.
// [MarshalSnapshot] encodes it as deterministic CBOR and
// [EncodeSnapshotFile] frames it, optionally LZ4 or zstd compressed, for
// storage. Each card carries a keyed BLAKE3 [Fingerprint] of its raw
// data so a stored record can be checked before it is decoded again.
//
// # Memory Windows
//
// Memory slots are searched for legal bases only. They are never checked
// against the ledger, disable lists or other devices, so drivers that
// share the memory space should pin memory slots themselves.
package pnp
