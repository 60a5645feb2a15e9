package escrow

import (
	"fmt"

	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/models"
)

// session is the state of one operation while its group is being built.
type session struct {
	tx       *ledger.Tx
	app      *ledger.AppTx
	counters Counters
	event    models.Event
}

// Passenger is an occupied slot of a ride.
type Passenger struct {
	Slot  uint64         `json:"slot"`
	Rider models.Address `json:"rider"`
}

func (s *session) ride(id uint64) (*Ride, error) {
	b, ok, err := s.app.BoxGet(rideKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRideNotFound, id)
	}
	return UnmarshalRide(id, b)
}

func (s *session) putRide(r *Ride) {
	b, _ := r.MarshalBinary()
	s.app.BoxPut(rideKey(r.ID), b)
}

func (s *session) passenger(rideID, slot uint64) (models.Address, bool, error) {
	b, ok, err := s.app.BoxGet(passengerKey(rideID, slot))
	if err != nil || !ok {
		return models.Address{}, false, err
	}
	a, err := decodeRider(rideID, slot, b)
	if err != nil {
		return models.Address{}, false, err
	}
	return a, true, nil
}

func (s *session) putPassenger(rideID, slot uint64, rider models.Address) {
	s.app.BoxPut(passengerKey(rideID, slot), rider[:])
}

func (s *session) deletePassenger(rideID, slot uint64) {
	s.app.BoxDelete(passengerKey(rideID, slot))
}

// passengers lists occupied slots in index order. Cancelled bookings leave
// gaps, so the whole capacity range is scanned.
func (s *session) passengers(r *Ride) ([]Passenger, error) {
	var out []Passenger
	for i := uint64(0); i < r.Seats; i++ {
		rider, ok, err := s.passenger(r.ID, i)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, Passenger{Slot: i, Rider: rider})
		}
	}
	return out, nil
}

func (s *session) findPassenger(r *Ride, rider models.Address) (uint64, bool, error) {
	for i := uint64(0); i < r.Seats; i++ {
		occupant, ok, err := s.passenger(r.ID, i)
		if err != nil {
			return 0, false, err
		}
		if ok && occupant == rider {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// freeSlot prefers index SeatsTaken and falls back to the lowest free index,
// so a slot vacated mid-list is reused instead of overwriting an occupant.
func (s *session) freeSlot(r *Ride) (uint64, error) {
	if r.SeatsTaken < r.Seats {
		_, taken, err := s.passenger(r.ID, r.SeatsTaken)
		if err != nil {
			return 0, err
		}
		if !taken {
			return r.SeatsTaken, nil
		}
	}
	for i := uint64(0); i < r.Seats; i++ {
		_, taken, err := s.passenger(r.ID, i)
		if err != nil {
			return 0, err
		}
		if !taken {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: ride %d reports %d of %d seats but has no free slot", ErrCorruptRecord, r.ID, r.SeatsTaken, r.Seats)
}

func addresses(ps []Passenger) []models.Address {
	out := make([]models.Address, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Rider)
	}
	return out
}
