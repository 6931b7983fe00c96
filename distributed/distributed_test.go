package distributed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Run("Local", func(t *testing.T) {
		ctx, err := FromEnv(nil)
		require.NoError(t, err)
		assert.True(t, ctx.IsMainProcess())
		assert.Equal(t, 1, ctx.WorldSize())
		assert.NoError(t, ctx.Synchronize())
	})

	t.Run("Worker", func(t *testing.T) {
		t.Setenv("RANK", "2")
		t.Setenv("WORLD_SIZE", "4")
		ctx, err := FromEnv(nil)
		require.NoError(t, err)
		assert.False(t, ctx.IsMainProcess())
		assert.Equal(t, 2, ctx.Rank())
		assert.Equal(t, 4, ctx.WorldSize())
		assert.NoError(t, ctx.Synchronize())
	})

	t.Run("Main", func(t *testing.T) {
		t.Setenv("RANK", "0")
		ctx, err := FromEnv(nil)
		require.NoError(t, err)
		assert.True(t, ctx.IsMainProcess())
	})

	t.Run("Invalid", func(t *testing.T) {
		t.Setenv("RANK", "x")
		_, err := FromEnv(nil)
		assert.Error(t, err)

		t.Setenv("RANK", "3")
		t.Setenv("WORLD_SIZE", "2")
		_, err = FromEnv(nil)
		assert.Error(t, err)
	})
}
