// Package pkg provides shared utilities for the softpnp ISA Plug and Play
// stack.
//
// This package contains common functionality used by the bus controller,
// its hardware abstraction layers and the resource ledger:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Error kinds and sentinel causes
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentIsolate, "card isolated", "csn", 1)
//
// # Errors
//
// Every error belongs to one of four kinds ([ErrProtocol], [ErrResource],
// [ErrBusy], [ErrInvalidArgument]). Specific causes wrap their kind, so
// both match with errors.Is:
//
//	if errors.Is(err, pkg.ErrResource) {
//	    // leave the card inactive
//	}
//
// Operations that touch a particular card return an [*Error] carrying the
// operation name and the card's bus coordinates.
package pkg
