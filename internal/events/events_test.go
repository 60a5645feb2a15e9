package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-escrow/internal/models"
)

type countingPublisher struct {
	calls int
	err   error
}

func (c *countingPublisher) Publish(context.Context, models.Event) error {
	c.calls++
	return c.err
}

func TestMulti_CallsEverySinkAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &countingPublisher{err: boom}
	b := &countingPublisher{}

	err := Multi{a, nil, b}.Publish(context.Background(), models.Event{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)

	assert.NoError(t, Multi{b}.Publish(context.Background(), models.Event{}))
}

func TestMessage_KeyedByRide(t *testing.T) {
	e := models.Event{
		ID:     "2Ab3",
		Type:   models.EventRideCompleted,
		AppID:  3,
		RideID: 17,
		Driver: models.AddressFromSeed("driver"),
		Payments: []models.Payment{
			{Sender: models.AppAddress(3), Receiver: models.AddressFromSeed("driver"), Amount: 3_000_000},
		},
		At: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	msg, err := message(e)
	require.NoError(t, err)
	assert.Equal(t, "3:17", string(msg.Key))
	assert.Equal(t, e.At, msg.Time)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "ride_completed", string(msg.Headers[0].Value))

	back, err := Decode(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, e, back)
}
