package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadHashIgnoresKeyOrder(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": map[string]interface{}{"y": "2", "x": "1"}}
	b := map[string]interface{}{"a": map[string]interface{}{"x": "1", "y": "2"}, "b": 1}

	ha, err := PayloadHash(a)
	require.NoError(t, err)
	hb, err := PayloadHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)

	canonical, err := CanonicalJSON(b)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"x":"1","y":"2"},"b":1}`, string(canonical))
}

func TestPayloadHashDiffersOnContent(t *testing.T) {
	r1 := entryRequest("evt-1", "2024-01-10", lineReq("1000", 100, false), lineReq("4000", 100, true))
	r2 := entryRequest("evt-1", "2024-01-10", lineReq("1000", 101, false), lineReq("4000", 101, true))

	h1, err := PayloadHash(r1)
	require.NoError(t, err)
	h2, err := PayloadHash(r2)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestPayloadHashPreservesLargeNumbers(t *testing.T) {
	canonical, err := CanonicalJSON(map[string]int64{"amount": 9007199254740993})
	require.NoError(t, err)
	assert.Equal(t, `{"amount":9007199254740993}`, string(canonical))
}
