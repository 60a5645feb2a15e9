package escrow

import (
	"encoding/binary"
	"fmt"

	"github.com/example/ride-escrow/internal/models"
)

const (
	MinSeats = 1
	MaxSeats = 6

	rideRecordSize      = 72
	passengerRecordSize = 32
)

// Ride is the per-ride record. Its stored form is a fixed 72-byte layout:
// driver(32) price(8) seats(8) seatsTaken(8) active(8) completed(8).
type Ride struct {
	ID         uint64         `json:"id"`
	Driver     models.Address `json:"driver"`
	Price      uint64         `json:"price"`
	Seats      uint64         `json:"seats"`
	SeatsTaken uint64         `json:"seats_taken"`
	Active     bool           `json:"active"`
	Completed  bool           `json:"completed"`
}

// held is the amount the escrow account owes this ride's riders.
func (r *Ride) held() uint64 {
	if !r.Active {
		return 0
	}
	return r.Price * r.SeatsTaken
}

func (r *Ride) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, rideRecordSize)
	b = append(b, r.Driver[:]...)
	b = binary.BigEndian.AppendUint64(b, r.Price)
	b = binary.BigEndian.AppendUint64(b, r.Seats)
	b = binary.BigEndian.AppendUint64(b, r.SeatsTaken)
	b = binary.BigEndian.AppendUint64(b, boolWord(r.Active))
	b = binary.BigEndian.AppendUint64(b, boolWord(r.Completed))
	return b, nil
}

// UnmarshalRide decodes a stored ride record.
func UnmarshalRide(id uint64, b []byte) (*Ride, error) {
	if len(b) != rideRecordSize {
		return nil, fmt.Errorf("%w: ride %d is %d bytes", ErrCorruptRecord, id, len(b))
	}
	r := &Ride{ID: id}
	copy(r.Driver[:], b[:32])
	r.Price = binary.BigEndian.Uint64(b[32:40])
	r.Seats = binary.BigEndian.Uint64(b[40:48])
	r.SeatsTaken = binary.BigEndian.Uint64(b[48:56])
	r.Active = binary.BigEndian.Uint64(b[56:64]) != 0
	r.Completed = binary.BigEndian.Uint64(b[64:72]) != 0
	if r.SeatsTaken > r.Seats {
		return nil, fmt.Errorf("%w: ride %d has %d of %d seats taken", ErrCorruptRecord, id, r.SeatsTaken, r.Seats)
	}
	return r, nil
}

func boolWord(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func rideKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte{'r'}, id)
}

func passengerKey(rideID, slot uint64) []byte {
	k := binary.BigEndian.AppendUint64([]byte{'p'}, rideID)
	return binary.BigEndian.AppendUint64(k, slot)
}

func decodeRider(rideID, slot uint64, b []byte) (models.Address, error) {
	var a models.Address
	if len(b) != passengerRecordSize {
		return a, fmt.Errorf("%w: passenger %d/%d is %d bytes", ErrCorruptRecord, rideID, slot, len(b))
	}
	copy(a[:], b)
	return a, nil
}
