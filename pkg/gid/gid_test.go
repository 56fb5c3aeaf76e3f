package gid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestCurrentIsStable(t *testing.T) {
	id := Current()
	assert.Positive(t, id)
	assert.Equal(t, id, Current())
}

func TestCurrentDiffersAcrossGoroutines(t *testing.T) {
	const workers = 8
	ids := make([]int64, workers)
	var g errgroup.Group
	for i := range workers {
		g.Go(func() error {
			ids[i] = Current()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := map[int64]bool{Current(): true}
	for _, id := range ids {
		assert.Positive(t, id)
		assert.False(t, seen[id], "id %d reported twice", id)
		seen[id] = true
	}
}
