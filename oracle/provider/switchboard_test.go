package provider

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSwitchboardAccount(t *testing.T) {
	buf := make([]byte, 28)
	binary.LittleEndian.PutUint64(buf[0:8], 6500000)
	binary.LittleEndian.PutUint64(buf[8:16], 0)
	binary.LittleEndian.PutUint32(buf[16:20], 2)
	binary.LittleEndian.PutUint64(buf[20:28], 1700000000)

	mantissa, scale, roundOpenTS, err := decodeSwitchboardAccount(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(6500000), mantissa.Int64())
	assert.Equal(t, uint32(2), scale)
	assert.Equal(t, int64(1700000000), roundOpenTS)
}

func TestDecodeSwitchboardAccountTooShort(t *testing.T) {
	_, _, _, err := decodeSwitchboardAccount([]byte{1, 2, 3})
	assert.Error(t, err)
}
