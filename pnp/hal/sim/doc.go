// Package sim provides a simulated ISA Plug and Play bus for testing.
//
// This package implements the [hal.BusHAL] interface entirely in memory.
// Each [Card] runs the card side of the protocol: it watches the address
// port for the initiation key, joins the isolation race when woken with
// CSN 0, drops out when it loses a bit, accepts a card select number,
// serves its serial identifier and resource data through the status and
// resource data registers, and stores logical device register writes.
//
// # State Machine
//
//	Wait for Key --key--> Sleep --Wake(0), CSN 0--> Isolation
//	Isolation --lost bit--> Sleep
//	Isolation --CSN write--> Config
//	Sleep --Wake(CSN)--> Config --Wake(other)--> Sleep
//	any --Config Control bit 1--> Wait for Key
//
// # Fixtures
//
// Buses can be described in YAML and loaded with [LoadFixture]:
//
//	f, err := sim.LoadFixture("testdata/bus.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	bus, err := f.Bus()
//	ctl := pnp.New(bus, ledger.New(), nil)
//
// # Timing
//
// Delay advances a simulated clock and returns at once, so a full scan
// runs in microseconds. [Bus.Elapsed] reports the time a real bus would
// have taken.
package sim
