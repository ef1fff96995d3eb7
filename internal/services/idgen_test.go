package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflakeIDGenerator_Unique(t *testing.T) {
	gen, err := NewSnowflakeIDGenerator(1)
	require.NoError(t, err)

	const n = 10000
	seen := make(map[int64]struct{}, n)
	var last int64
	for i := 0; i < n; i++ {
		id := gen.NextExternalID()
		require.Positive(t, id)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %d after %d ids", id, i)
		require.Greater(t, id, last)
		seen[id] = struct{}{}
		last = id
	}
	assert.Len(t, seen, n)
}

func TestNewSnowflakeIDGenerator_InvalidNode(t *testing.T) {
	_, err := NewSnowflakeIDGenerator(1024)
	assert.Error(t, err)
}

func TestNewStateToken(t *testing.T) {
	a, b := NewStateToken(), NewStateToken()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}
