package escrow

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/models"
)

func TestRideRecord_FixedLayout(t *testing.T) {
	r := &Ride{ID: 9, Driver: models.AddressFromSeed("d"), Price: 1_000_000, Seats: 4, SeatsTaken: 2, Active: true}
	b, err := r.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, 72)
	assert.Equal(t, r.Driver[:], b[:32])
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 1}, b[56:64], "active word")
	assert.Equal(t, make([]byte, 8), b[64:72], "completed word")

	back, err := UnmarshalRide(9, b)
	require.NoError(t, err)
	assert.Equal(t, r, back)
}

func TestUnmarshalRide_RejectsCorruptRecords(t *testing.T) {
	_, err := UnmarshalRide(1, make([]byte, 71))
	assert.ErrorIs(t, err, ErrCorruptRecord)

	r := &Ride{Seats: 2, SeatsTaken: 3}
	b, _ := r.MarshalBinary()
	_, err = UnmarshalRide(1, b)
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestBoxKeys(t *testing.T) {
	assert.Equal(t, []byte{'r', 0, 0, 0, 0, 0, 0, 1, 2}, rideKey(258))
	assert.Equal(t, []byte{'p', 0, 0, 0, 0, 0, 0, 0, 7, 0, 0, 0, 0, 0, 0, 0, 3}, passengerKey(7, 3))
}

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err    error
		kind   string
		domain bool
	}{
		{fmt.Errorf("%w: 4", ErrRideNotFound), "RideNotFound", true},
		{ErrSelfJoinForbidden, "SelfJoinForbidden", true},
		{fmt.Errorf("wrap: %w", ledger.ErrInsufficientFunds), "InsufficientFunds", true},
		{ErrCorruptRecord, "CorruptRecord", false},
		{fmt.Errorf("redis: connection refused"), "Internal", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, ErrorKind(tc.err), tc.err.Error())
		assert.Equal(t, tc.domain, IsDomainError(tc.err), tc.err.Error())
	}
	assert.Empty(t, ErrorKind(nil))
}
