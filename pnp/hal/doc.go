// Package hal defines the Hardware Abstraction Layer for the ISA Plug and
// Play bus controller.
//
// The HAL is a transport capability: write a byte to the ADDRESS or
// WRITE_DATA port, read a byte from the relocatable READ_DATA port, and
// wait a minimum delay between accesses. The controller in
// [github.com/ardnew/softpnp/pnp] implements the whole protocol on top of
// it.
//
// # Interface Overview
//
// [BusHAL] is the bus transport. [Ledger] is the host's record of
// resources owned outside the subsystem: reserved port ranges and the
// interrupt lines and DMA channels other drivers hold. The controller
// probes interrupt and DMA availability with a transient acquire and
// release, exactly as a driver would.
//
// # Implementing a HAL
//
//  1. Create a type that implements all [BusHAL] methods
//  2. Map WriteAddress, WriteData and ReadData onto port I/O
//  3. Implement Delay with a busy wait for short intervals if the
//     platform sleep granularity is coarse
//  4. Latch transport failures and report them from Err
//
// A simulated bus with scriptable cards is available in
// [github.com/ardnew/softpnp/pnp/hal/sim]; a Linux HAL backed by /dev/port
// is in [github.com/ardnew/softpnp/pnp/hal/linux].
package hal
