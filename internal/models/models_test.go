package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddress_TextRoundTrip(t *testing.T) {
	a := AddressFromSeed("driver-1")
	s := a.String()
	assert.Len(t, s, 58)

	parsed, err := ParseAddress(s)
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestParseAddress_RejectsBadInput(t *testing.T) {
	s := AddressFromSeed("rider").String()
	// change a key character so the checksum no longer matches
	repl := "A"
	if s[0] == 'A' {
		repl = "B"
	}
	_, err := ParseAddress(repl + s[1:])
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = ParseAddress("not-base32!")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = ParseAddress(s[:20])
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestAppAddress_IsDeterministicPerApp(t *testing.T) {
	assert.Equal(t, AppAddress(7), AppAddress(7))
	assert.NotEqual(t, AppAddress(7), AppAddress(8))
	assert.False(t, AppAddress(1).IsZero())
}

func TestAddress_JSONUsesTextForm(t *testing.T) {
	p := Payment{Sender: AddressFromSeed("a"), Receiver: AddressFromSeed("b"), Amount: 5}
	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), p.Sender.String())

	var back Payment
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, p, back)
}

func TestEvent_ParticipantsDeduplicated(t *testing.T) {
	driver := AddressFromSeed("driver")
	rider := AddressFromSeed("rider")
	e := Event{
		Type:   EventBookingCancelled,
		Actor:  rider,
		Driver: driver,
		Riders: []Address{rider, {}},
		At:     time.Now(),
	}
	assert.Equal(t, []Address{driver, rider}, e.Participants())
}

func TestResolveAddress(t *testing.T) {
	a, err := ResolveAddress("seed:alice")
	require.NoError(t, err)
	assert.Equal(t, AddressFromSeed("alice"), a)

	b, err := ResolveAddress(" " + a.String() + " ")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = ResolveAddress("seed:")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
