package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/flux/internal/ir"
	"github.com/roach88/flux/internal/shard"
	"github.com/roach88/flux/internal/testutil"
)

// createTestRepo opens n shard databases under t.TempDir() behind a
// uniform partition table.
func createTestRepo(t *testing.T, n int) (*StateRepository, *shard.Table) {
	t.Helper()

	table, err := shard.NewUniformTable(n)
	require.NoError(t, err)

	dir := t.TempDir()
	specs := make([]ShardSpec, 0, n)
	for _, id := range table.Shards() {
		specs = append(specs, ShardSpec{ID: id, Path: filepath.Join(dir, fmt.Sprintf("shard-%d.db", id))})
	}

	shards, err := OpenShards(specs, WithClock(testutil.NewDeterministicClock()))
	require.NoError(t, err)
	t.Cleanup(func() { shards.Close() })

	repo, err := NewStateRepository(table, shards)
	require.NoError(t, err)
	return repo, table
}

// createTestStateMachine creates smID with the given states.
func createTestStateMachine(t *testing.T, repo *StateRepository, smID, name string, createdAt time.Time, states ...ir.State) {
	t.Helper()
	sm := ir.StateMachine{ID: smID, Name: name, Version: 1, CreatedAt: createdAt}
	require.NoError(t, repo.CreateStateMachine(context.Background(), sm, states))
}

// keysOnDifferentShards returns two state machine ids routed to different
// shards of table.
func keysOnDifferentShards(t *testing.T, table *shard.Table) (string, string) {
	t.Helper()
	first := "wf-0"
	home, err := table.Route(first)
	require.NoError(t, err)
	for i := 1; i < 1000; i++ {
		key := fmt.Sprintf("wf-%d", i)
		other, err := table.Route(key)
		require.NoError(t, err)
		if other != home {
			return first, key
		}
	}
	t.Fatal("no keys on different shards")
	return "", ""
}
