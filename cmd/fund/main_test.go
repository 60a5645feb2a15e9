package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-escrow/internal/models"
)

func TestParseArgs(t *testing.T) {
	rider := models.AddressFromSeed("rider")

	to, amount, err := parseArgs([]string{rider.String()})
	require.NoError(t, err)
	assert.Equal(t, rider, to)
	assert.Equal(t, uint64(10_000_000), amount)

	to, amount, err = parseArgs([]string{"seed:rider", "3"})
	require.NoError(t, err)
	assert.Equal(t, rider, to)
	assert.Equal(t, uint64(3_000_000), amount)

	for _, args := range [][]string{
		nil,
		{"seed:rider", "0"},
		{"seed:rider", "x"},
		{"not-an-address"},
		{"seed:rider", "18446744073709551615"},
		{"a", "b", "c"},
	} {
		_, _, err := parseArgs(args)
		assert.Error(t, err, "%v", args)
	}
}
