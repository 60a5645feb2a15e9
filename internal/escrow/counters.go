package escrow

import (
	"github.com/example/ride-escrow/internal/ledger"
)

const (
	globalRideCounter       = "ride_counter"
	globalTotalCompleted    = "total_completed"
	globalTotalRidesCreated = "total_rides_created"
	globalEscrowHeld        = "escrow_held"
)

// Counters are the platform-wide values kept in application global state.
type Counters struct {
	RideCounter       uint64 `json:"ride_counter"`
	TotalCompleted    uint64 `json:"total_completed"`
	TotalRidesCreated uint64 `json:"total_rides_created"`
	EscrowHeld        uint64 `json:"escrow_held"`
}

func loadCounters(app *ledger.AppTx) (Counters, error) {
	var c Counters
	var err error
	if c.RideCounter, err = app.GlobalUint(globalRideCounter); err != nil {
		return c, err
	}
	if c.TotalCompleted, err = app.GlobalUint(globalTotalCompleted); err != nil {
		return c, err
	}
	if c.TotalRidesCreated, err = app.GlobalUint(globalTotalRidesCreated); err != nil {
		return c, err
	}
	c.EscrowHeld, err = app.GlobalUint(globalEscrowHeld)
	return c, err
}

func saveCounters(app *ledger.AppTx, c Counters) {
	app.SetGlobalUint(globalRideCounter, c.RideCounter)
	app.SetGlobalUint(globalTotalCompleted, c.TotalCompleted)
	app.SetGlobalUint(globalTotalRidesCreated, c.TotalRidesCreated)
	app.SetGlobalUint(globalEscrowHeld, c.EscrowHeld)
}
