package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONStrings_ValueAndScanRoundTrip(t *testing.T) {
	original := JSONStrings{"For", "Against", "Abstain"}
	value, err := original.Value()
	require.NoError(t, err)

	var scanned JSONStrings
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, original, scanned)
}

func TestJSONFloats_ValueAndScanRoundTrip(t *testing.T) {
	original := JSONFloats{184_321_656.84, 102_537.94, 82_161.17}
	value, err := original.Value()
	require.NoError(t, err)

	var scanned JSONFloats
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, original, scanned)
}

func TestJSONMap_NilValueProducesEmptyObject(t *testing.T) {
	var m JSONMap
	value, err := m.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), value)
}

func TestGroupItemList_ScanEmptyIsNoOp(t *testing.T) {
	items := GroupItemList{{Kind: GroupItemTopic, ExternalID: "1"}}
	require.NoError(t, items.Scan(""))
	assert.Len(t, items, 1, "scanning an empty string must leave existing items untouched")
}

func TestJSONRaw_MarshalNilIsJSONNull(t *testing.T) {
	var r JSONRaw
	out, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}
