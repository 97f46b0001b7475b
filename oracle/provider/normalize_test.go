package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	price, confidence, err := Normalize(6500000, 50000, -2)
	require.NoError(t, err)
	assert.InDelta(t, 65000.0, price, 1e-9)
	assert.InDelta(t, 500.0, confidence, 1e-9)
}

func TestNormalizeRejectsOutOfRange(t *testing.T) {
	_, _, err := Normalize(0, 0, 0)
	assert.Error(t, err)

	_, _, err = Normalize(2_000_000, 0, 1)
	assert.Error(t, err)
}

func TestNormalizeNegativePrice(t *testing.T) {
	_, _, err := Normalize(-100, 0, 0)
	assert.Error(t, err)
}
