package idgen

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIDIsIncreasing(t *testing.T) {
	require.NoError(t, Init(7))

	prev := NextID()
	for i := 0; i < 1000; i++ {
		id := NextID()
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestInitRejectsOutOfRangeNode(t *testing.T) {
	assert.Error(t, Init(4096))
}

func TestNewUUID(t *testing.T) {
	_, err := uuid.Parse(NewUUID())
	assert.NoError(t, err)
	assert.NotEqual(t, NewUUID(), NewUUID())
}
