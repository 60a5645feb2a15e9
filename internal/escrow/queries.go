package escrow

import (
	"context"
	"fmt"

	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/models"
)

// RideView is a ride record together with its occupied slots and the
// amount escrowed for it.
type RideView struct {
	Ride
	Held       uint64      `json:"held"`
	Passengers []Passenger `json:"passengers"`
}

func (e *Escrow) AppID() uint64 { return e.appID }

func (e *Escrow) EscrowAddress() models.Address { return e.address }

func (e *Escrow) Penalty() uint64 { return e.penalty }

func (e *Escrow) MinBalance() uint64 { return e.minBalance }

func (e *Escrow) GetPlatformInfo() string { return PlatformInfo }

func (e *Escrow) GetRideCount(ctx context.Context) (uint64, error) {
	c, err := e.Counters(ctx)
	return c.RideCounter, err
}

func (e *Escrow) GetTotalCompleted(ctx context.Context) (uint64, error) {
	c, err := e.Counters(ctx)
	return c.TotalCompleted, err
}

func (e *Escrow) GetTotalRides(ctx context.Context) (uint64, error) {
	c, err := e.Counters(ctx)
	return c.TotalRidesCreated, err
}

func (e *Escrow) Counters(ctx context.Context) (Counters, error) {
	var c Counters
	err := e.read(ctx, func(s *session) error {
		c = s.counters
		return nil
	})
	if err != nil {
		return Counters{}, fmt.Errorf("read counters: %w", err)
	}
	return c, nil
}

func (e *Escrow) GetRide(ctx context.Context, rideID uint64) (RideView, error) {
	var v RideView
	err := e.read(ctx, func(s *session) error {
		r, err := s.ride(rideID)
		if err != nil {
			return err
		}
		ps, err := s.passengers(r)
		if err != nil {
			return err
		}
		v = RideView{Ride: *r, Held: r.held(), Passengers: ps}
		return nil
	})
	return v, err
}

// Balance is the escrow account's current balance.
func (e *Escrow) Balance(ctx context.Context) (uint64, error) {
	return e.ledger.Balance(ctx, e.address)
}

func (e *Escrow) read(ctx context.Context, fn func(s *session) error) error {
	return e.ledger.View(ctx, func(tx *ledger.Tx) error {
		s, err := e.session(tx)
		if err != nil {
			return err
		}
		return fn(s)
	})
}
