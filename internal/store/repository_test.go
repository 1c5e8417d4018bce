package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flux/internal/ir"
	"github.com/roach88/flux/internal/shard"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestUpdateStatusBulk_Scenario(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 4)

	createTestStateMachine(t, repo, "wf-1", "order", t0,
		ir.State{ID: 1, Name: "reserve", Status: ir.StatusRunning},
		ir.State{ID: 2, Name: "charge", Status: ir.StatusInitialized},
	)

	require.NoError(t, repo.UpdateStatusBulk(ctx, "wf-1", []int64{1, 2}, ir.StatusCompleted))

	states, err := repo.FindAllStatesForGivenStateIDs(ctx, "wf-1", []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, states, 2)
	for _, st := range states {
		assert.Equal(t, ir.StatusCompleted, st.Status, "state %d", st.ID)
	}
}

func TestUpdateStatusBulk_EmptySetIsNoop(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 1)

	createTestStateMachine(t, repo, "wf-1", "order", t0,
		ir.State{ID: 1, Name: "a", Status: ir.StatusRunning},
		ir.State{ID: 2, Name: "b", Status: ir.StatusInitialized},
	)
	before, err := repo.FindAllStatesForGivenStateIDs(ctx, "wf-1", []int64{1, 2})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStatusBulk(ctx, "wf-1", nil, ir.StatusCompleted))
	require.NoError(t, repo.UpdateStatusBulk(ctx, "wf-1", []int64{}, ir.StatusCompleted))
	require.NoError(t, repo.UpdateExecutionVersionBulk(ctx, "wf-1", nil, 9))

	after, err := repo.FindAllStatesForGivenStateIDs(ctx, "wf-1", []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUpdateStatusBulk_OnlyListedRows(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 1)

	createTestStateMachine(t, repo, "wf-1", "order", t0,
		ir.State{ID: 1, Name: "a", Status: ir.StatusRunning},
		ir.State{ID: 2, Name: "b", Status: ir.StatusRunning},
		ir.State{ID: 3, Name: "c", Status: ir.StatusRunning},
	)
	createTestStateMachine(t, repo, "wf-2", "order", t0,
		ir.State{ID: 1, Name: "a", Status: ir.StatusRunning},
		ir.State{ID: 2, Name: "b", Status: ir.StatusRunning},
	)

	require.NoError(t, repo.UpdateStatusBulk(ctx, "wf-1", []int64{1, 2}, ir.StatusCancelled))

	wf1, err := repo.FindAllStatesForGivenStateIDs(ctx, "wf-1", []int64{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, wf1, 3)
	assert.Equal(t, ir.StatusCancelled, wf1[0].Status)
	assert.Equal(t, ir.StatusCancelled, wf1[1].Status)
	assert.Equal(t, ir.StatusRunning, wf1[2].Status)

	wf2, err := repo.FindAllStatesForGivenStateIDs(ctx, "wf-2", []int64{1, 2})
	require.NoError(t, err)
	for _, st := range wf2 {
		assert.Equal(t, ir.StatusRunning, st.Status, "wf-2 state %d must be untouched", st.ID)
	}
}

func TestUpdateStatus_ClearStatus(t *testing.T) {
	ctx := context.Background()
	repo, table := createTestRepo(t, 1)

	createTestStateMachine(t, repo, "wf-1", "order", t0,
		ir.State{ID: 1, Name: "a", Status: ir.StatusErrored})

	require.NoError(t, repo.UpdateStatus(ctx, "wf-1", 1, ir.StatusNone))

	st, err := repo.FindByID(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusNone, st.Status)

	id, err := table.Route("wf-1")
	require.NoError(t, err)
	store, err := repo.shards.Get(id)
	require.NoError(t, err)

	var isNull bool
	err = store.DB(ReadOnly).QueryRow(
		"SELECT status IS NULL FROM states WHERE state_machine_id = ? AND id = ?", "wf-1", 1).Scan(&isNull)
	require.NoError(t, err)
	assert.True(t, isNull, "cleared status must be stored as NULL")
}

func TestUpdateRollbackStatus(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 2)

	createTestStateMachine(t, repo, "wf-1", "order", t0,
		ir.State{ID: 1, Name: "a", Status: ir.StatusErrored})

	require.NoError(t, repo.UpdateRollbackStatus(ctx, "wf-1", 1, ir.StatusRunning))
	st, err := repo.FindByID(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusRunning, st.RollbackStatus)
	assert.Equal(t, ir.StatusErrored, st.Status, "status axis is independent")

	require.NoError(t, repo.UpdateRollbackStatus(ctx, "wf-1", 1, ir.StatusNone))
	st, err = repo.FindByID(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusNone, st.RollbackStatus)
}

func TestIncrementRetryCount_Concurrent(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 2)

	createTestStateMachine(t, repo, "wf-1", "order", t0,
		ir.State{ID: 1, Name: "a", AttemptedNoOfRetries: 2},
		ir.State{ID: 2, Name: "b"},
	)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.IncrementRetryCount(ctx, "wf-1", 1))
		}()
	}
	wg.Wait()

	st, err := repo.FindByID(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2+n), st.AttemptedNoOfRetries)

	other, err := repo.FindByID(ctx, "wf-1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), other.AttemptedNoOfRetries)
}

func TestFindByID_NotFound(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 2)

	createTestStateMachine(t, repo, "wf-1", "order", t0, ir.State{ID: 1, Name: "a"})

	_, err := repo.FindByID(ctx, "wf-1", 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, IsStorageFailure(err))

	_, err = repo.FindByID(ctx, "wf-unknown", 1)
	assert.True(t, IsNotFound(err))

	_, err = repo.FindStateMachineByID(ctx, "wf-unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindAllStatesForGivenStateIDs_Subset(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 2)

	createTestStateMachine(t, repo, "wf-1", "order", t0,
		ir.State{ID: 1, Name: "a"},
		ir.State{ID: 2, Name: "b"},
		ir.State{ID: 3, Name: "c"},
	)

	states, err := repo.FindAllStatesForGivenStateIDs(ctx, "wf-1", []int64{3, 99, 1})
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, int64(1), states[0].ID)
	assert.Equal(t, int64(3), states[1].ID)

	none, err := repo.FindAllStatesForGivenStateIDs(ctx, "wf-1", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFindAllStates(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 2)

	createTestStateMachine(t, repo, "wf-1", "order", t0,
		ir.State{ID: 2, Name: "b"},
		ir.State{ID: 1, Name: "a"},
	)
	createTestStateMachine(t, repo, "wf-2", "order", t0, ir.State{ID: 1, Name: "other"})

	states, err := repo.FindAllStates(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "a", states[0].Name)
	assert.Equal(t, "b", states[1].Name)

	none, err := repo.FindAllStates(ctx, "wf-missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateState_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 2)

	createTestStateMachine(t, repo, "wf-1", "order", t0, ir.State{ID: 5, Name: "draft"})
	created, err := repo.FindByID(ctx, "wf-1", 5)
	require.NoError(t, err)

	want := ir.State{
		ID:                   5,
		StateMachineID:       "wf-1",
		Name:                 "charge",
		Version:              3,
		Description:          "charge the card",
		Task:                 "com.shop.Charge",
		Dependencies:         []string{"orderPlaced", "paymentAuthorized"},
		OutputEvent:          "charged",
		RetryCount:           5,
		Timeout:              30000,
		Status:               ir.StatusRunning,
		RollbackStatus:       ir.StatusInitialized,
		AttemptedNoOfRetries: 2,
		ExecutionVersion:     7,
		Replayable:           true,
	}
	require.NoError(t, repo.UpdateState(ctx, "wf-1", want))

	got, err := repo.FindByID(ctx, "wf-1", 5)
	require.NoError(t, err)

	assert.Equal(t, created.CreatedAt, got.CreatedAt, "created_at is immutable")
	assert.True(t, got.UpdatedAt.After(created.UpdatedAt))

	got.CreatedAt, got.UpdatedAt = time.Time{}, time.Time{}
	assert.Equal(t, want, got)
}

func TestUpdateState_NotFound(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 2)

	createTestStateMachine(t, repo, "wf-1", "order", t0, ir.State{ID: 1, Name: "a"})

	err := repo.UpdateState(ctx, "wf-1", ir.State{ID: 2, Name: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateExecutionVersion(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 2)

	createTestStateMachine(t, repo, "wf-1", "order", t0,
		ir.State{ID: 1, Name: "a"},
		ir.State{ID: 2, Name: "b"},
		ir.State{ID: 3, Name: "c"},
	)

	require.NoError(t, repo.UpdateExecutionVersion(ctx, "wf-1", 1, 4))
	require.NoError(t, repo.UpdateExecutionVersionBulk(ctx, "wf-1", []int64{2, 3}, 6))

	states, err := repo.FindAllStatesForGivenStateIDs(ctx, "wf-1", []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(4), states[0].ExecutionVersion)
	assert.Equal(t, int64(6), states[1].ExecutionVersion)
	assert.Equal(t, int64(6), states[2].ExecutionVersion)
}

func TestFindStatesByDependentEvent(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 2)

	createTestStateMachine(t, repo, "wf-1", "order", t0,
		ir.State{ID: 1, Name: "a", Dependencies: []string{"orderPlaced", "paymentDone"}},
		ir.State{ID: 2, Name: "b", Dependencies: []string{"orderPlacedV2"}},
		ir.State{ID: 3, Name: "c", Dependencies: []string{"shipped"}},
		ir.State{ID: 4, Name: "d"},
	)

	states, err := repo.FindStatesByDependentEvent(ctx, "wf-1", "orderPlaced")
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, int64(1), states[0].ID)
	assert.Equal(t, int64(2), states[1].ID)

	wildcard, err := repo.FindStatesByDependentEvent(ctx, "wf-1", "%")
	require.NoError(t, err)
	assert.Empty(t, wildcard, "wildcards in the event name match literally")

	empty, err := repo.FindStatesByDependentEvent(ctx, "wf-1", "")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFindStatesByDependentEvent_CaseSensitive(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 1)

	createTestStateMachine(t, repo, "wf-1", "order", t0,
		ir.State{ID: 1, Name: "a", Dependencies: []string{"orderPlaced"}},
		ir.State{ID: 2, Name: "b", Dependencies: []string{"OrderPlaced"}},
	)

	lower, err := repo.FindStatesByDependentEvent(ctx, "wf-1", "orderplaced")
	require.NoError(t, err)
	assert.Empty(t, lower)

	upper, err := repo.FindStatesByDependentEvent(ctx, "wf-1", "OrderPlaced")
	require.NoError(t, err)
	require.Len(t, upper, 1)
	assert.Equal(t, int64(2), upper[0].ID)
}

func TestFindStatesByDependentEvent_EscapedCharacters(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 1)

	createTestStateMachine(t, repo, "wf-1", "order", t0,
		ir.State{ID: 1, Name: "a", Dependencies: []string{`say "hi"`}},
		ir.State{ID: 2, Name: "b", Dependencies: []string{`C:\inbox`}},
		ir.State{ID: 3, Name: "c", Dependencies: []string{"caf\u00e9"}},
	)

	tests := []struct {
		event string
		want  int64
	}{
		{event: `say "hi"`, want: 1},
		{event: `"hi"`, want: 1},
		{event: `C:\inbox`, want: 2},
		{event: "cafe\u0301", want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			states, err := repo.FindStatesByDependentEvent(ctx, "wf-1", tt.event)
			require.NoError(t, err)
			require.Len(t, states, 1)
			assert.Equal(t, tt.want, states[0].ID)
		})
	}
}

func TestFindStatesByStatus_Filters(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 1)

	createTestStateMachine(t, repo, "wf-1", "order", t0,
		ir.State{ID: 1, Name: "reserve", Status: ir.StatusCompleted},
		ir.State{ID: 2, Name: "charge", Status: ir.StatusErrored},
		ir.State{ID: 3, Name: "ship"},
	)
	createTestStateMachine(t, repo, "wf-2", "refund", t0,
		ir.State{ID: 1, Name: "charge", Status: ir.StatusErrored})

	base := ir.FSMStatusCriteria{
		Shard:            0,
		StateMachineName: "order",
		FromTime:         t0.Add(-time.Hour),
		ToTime:           t0.Add(time.Hour),
	}

	all, err := repo.FindStatesByStatus(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, []ir.StateStatus{
		{StateMachineID: "wf-1", StateID: 1, Status: ir.StatusCompleted},
		{StateMachineID: "wf-1", StateID: 2, Status: ir.StatusErrored},
		{StateMachineID: "wf-1", StateID: 3, Status: ir.StatusNone},
	}, all)

	withStatuses := base
	withStatuses.Statuses = []ir.Status{ir.StatusErrored, ir.StatusCompleted}
	matched, err := repo.FindStatesByStatus(ctx, withStatuses)
	require.NoError(t, err)
	assert.Len(t, matched, 2)

	byName := base
	byName.StateName = "charge"
	named, err := repo.FindStatesByStatus(ctx, byName)
	require.NoError(t, err)
	assert.Equal(t, []ir.StateStatus{{StateMachineID: "wf-1", StateID: 2, Status: ir.StatusErrored}}, named)

	errored, err := repo.FindErroredStates(ctx, 0, "refund", base.FromTime, base.ToTime)
	require.NoError(t, err)
	assert.Equal(t, []ir.StateStatus{{StateMachineID: "wf-2", StateID: 1, Status: ir.StatusErrored}}, errored)
}

func TestFindStatesByStatus_InclusiveBounds(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 1)

	from := t0
	to := t0.Add(time.Minute)

	createTestStateMachine(t, repo, "wf-before", "order", from.Add(-time.Nanosecond), ir.State{ID: 1, Name: "a"})
	createTestStateMachine(t, repo, "wf-from", "order", from, ir.State{ID: 1, Name: "a"})
	createTestStateMachine(t, repo, "wf-to", "order", to, ir.State{ID: 1, Name: "a"})
	createTestStateMachine(t, repo, "wf-after", "order", to.Add(time.Nanosecond), ir.State{ID: 1, Name: "a"})

	found, err := repo.FindStatesByStatus(ctx, ir.FSMStatusCriteria{
		StateMachineName: "order",
		FromTime:         from,
		ToTime:           to,
	})
	require.NoError(t, err)

	var ids []string
	for _, ss := range found {
		ids = append(ids, ss.StateMachineID)
	}
	assert.Equal(t, []string{"wf-from", "wf-to"}, ids)
}

func TestFindStatesByStatus_UnknownShard(t *testing.T) {
	repo, _ := createTestRepo(t, 2)

	_, err := repo.FindStatesByStatus(context.Background(), ir.FSMStatusCriteria{Shard: 9, StateMachineName: "order"})
	assert.ErrorIs(t, err, shard.ErrUnknownShard)
}

func TestScanStatesByStatus_AllShards(t *testing.T) {
	ctx := context.Background()
	repo, table := createTestRepo(t, 4)

	a, b := keysOnDifferentShards(t, table)
	createTestStateMachine(t, repo, a, "order", t0, ir.State{ID: 1, Name: "x", Status: ir.StatusErrored})
	createTestStateMachine(t, repo, b, "order", t0,
		ir.State{ID: 2, Name: "x", Status: ir.StatusErrored},
		ir.State{ID: 1, Name: "y", Status: ir.StatusRunning},
	)

	found, err := repo.ScanStatesByStatus(ctx, ir.FSMStatusCriteria{
		StateMachineName: "order",
		FromTime:         t0,
		ToTime:           t0,
		Statuses:         []ir.Status{ir.StatusErrored},
	})
	require.NoError(t, err)

	want := []ir.StateStatus{
		{StateMachineID: a, StateID: 1, Status: ir.StatusErrored},
		{StateMachineID: b, StateID: 2, Status: ir.StatusErrored},
	}
	if a > b {
		want[0], want[1] = want[1], want[0]
	}
	assert.Equal(t, want, found)
}

func TestTx_CallerOwnsLifecycle(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 2)

	createTestStateMachine(t, repo, "wf-1", "order", t0,
		ir.State{ID: 1, Name: "a", Status: ir.StatusErrored, ExecutionVersion: 1},
		ir.State{ID: 2, Name: "b", Status: ir.StatusErrored, ExecutionVersion: 1},
	)

	tx, err := repo.Begin(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatusTx(ctx, tx, "wf-1", []int64{1, 2}, ir.StatusInitialized))
	require.NoError(t, repo.UpdateExecutionVersionTx(ctx, tx, "wf-1", []int64{1, 2}, 2))
	require.NoError(t, tx.Rollback())

	st, err := repo.FindByID(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusErrored, st.Status)
	assert.Equal(t, int64(1), st.ExecutionVersion)

	tx, err = repo.Begin(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatusTx(ctx, tx, "wf-1", []int64{1, 2}, ir.StatusInitialized))
	require.NoError(t, repo.UpdateExecutionVersionTx(ctx, tx, "wf-1", []int64{1, 2}, 2))
	require.NoError(t, repo.UpdateStatusTx(ctx, tx, "wf-1", nil, ir.StatusCompleted))

	// The repository never commits: nothing is visible before Commit.
	st, err = repo.FindByID(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusErrored, st.Status)

	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback(), "rollback after commit is a no-op")

	states, err := repo.FindAllStatesForGivenStateIDs(ctx, "wf-1", []int64{1, 2})
	require.NoError(t, err)
	for _, st := range states {
		assert.Equal(t, ir.StatusInitialized, st.Status)
		assert.Equal(t, int64(2), st.ExecutionVersion)
	}
}

func TestTx_IncrementExecutionVersion(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 2)

	createTestStateMachine(t, repo, "wf-1", "order", t0,
		ir.State{ID: 1, Name: "a", ExecutionVersion: 3},
		ir.State{ID: 2, Name: "b", ExecutionVersion: 7},
		ir.State{ID: 3, Name: "c", ExecutionVersion: 1},
	)

	tx, err := repo.Begin(ctx, "wf-1")
	require.NoError(t, err)
	defer tx.Rollback()

	require.NoError(t, repo.IncrementExecutionVersionTx(ctx, tx, "wf-1", []int64{1, 2}))
	require.NoError(t, repo.IncrementExecutionVersionTx(ctx, tx, "wf-1", nil))

	inTx, err := repo.FindAllStatesForGivenStateIDsTx(ctx, tx, "wf-1", []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, inTx, 2)
	assert.Equal(t, int64(4), inTx[0].ExecutionVersion)
	assert.Equal(t, int64(8), inTx[1].ExecutionVersion)

	outside, err := repo.FindByID(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), outside.ExecutionVersion, "uncommitted increment must not be visible")

	empty, err := repo.FindAllStatesForGivenStateIDsTx(ctx, tx, "wf-1", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, tx.Commit())

	states, err := repo.FindAllStatesForGivenStateIDs(ctx, "wf-1", []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(4), states[0].ExecutionVersion)
	assert.Equal(t, int64(8), states[1].ExecutionVersion)
	assert.Equal(t, int64(1), states[2].ExecutionVersion)
}

func TestTx_IncrementExecutionVersion_Concurrent(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 1)

	createTestStateMachine(t, repo, "wf-1", "order", t0,
		ir.State{ID: 1, Name: "a", ExecutionVersion: 1})

	const n = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := repo.Begin(ctx, "wf-1")
			if !assert.NoError(t, err) {
				return
			}
			defer tx.Rollback()
			if !assert.NoError(t, repo.IncrementExecutionVersionTx(ctx, tx, "wf-1", []int64{1})) {
				return
			}
			states, err := repo.FindAllStatesForGivenStateIDsTx(ctx, tx, "wf-1", []int64{1})
			if !assert.NoError(t, err) || !assert.Len(t, states, 1) {
				return
			}
			if !assert.NoError(t, tx.Commit()) {
				return
			}
			mu.Lock()
			seen[states[0].ExecutionVersion] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n, "every unit of work must observe its own version")
	st, err := repo.FindByID(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1+n), st.ExecutionVersion)
}

func TestTx_FindStatesCrossShardRejected(t *testing.T) {
	ctx := context.Background()
	repo, table := createTestRepo(t, 4)

	a, b := keysOnDifferentShards(t, table)
	createTestStateMachine(t, repo, a, "order", t0, ir.State{ID: 1, Name: "x"})

	tx, err := repo.Begin(ctx, a)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = repo.FindAllStatesForGivenStateIDsTx(ctx, tx, b, []int64{1})
	assert.ErrorIs(t, err, ErrCrossShard)
}

func TestTx_ReadDuringTxInMemory(t *testing.T) {
	table, err := shard.NewUniformTable(1)
	require.NoError(t, err)
	st, err := Open(":memory:", WithShard(table.Shards()[0]))
	require.NoError(t, err)
	shards, err := NewShards(st)
	require.NoError(t, err)
	t.Cleanup(func() { shards.Close() })
	repo, err := NewStateRepository(table, shards)
	require.NoError(t, err)

	createTestStateMachine(t, repo, "wf-1", "order", t0,
		ir.State{ID: 1, Name: "a", Status: ir.StatusErrored})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := repo.Begin(ctx, "wf-1")
	require.NoError(t, err)
	defer tx.Rollback()

	before, err := repo.FindByID(ctx, "wf-1", 1)
	require.NoError(t, err, "reads must not wait for the open Tx")
	assert.Equal(t, ir.StatusErrored, before.Status)

	require.NoError(t, repo.UpdateStatusTx(ctx, tx, "wf-1", []int64{1}, ir.StatusInitialized))

	// Once the Tx has written the table, a read returns promptly either
	// way: the committed row or a table-locked error.
	_, err = repo.FindByID(ctx, "wf-1", 1)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, ctx.Err())

	require.NoError(t, tx.Commit())

	after, err := repo.FindByID(ctx, "wf-1", 1)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusInitialized, after.Status)
}

func TestTx_CrossShardRejected(t *testing.T) {
	ctx := context.Background()
	repo, table := createTestRepo(t, 4)

	a, b := keysOnDifferentShards(t, table)
	createTestStateMachine(t, repo, a, "order", t0, ir.State{ID: 1, Name: "x"})
	createTestStateMachine(t, repo, b, "order", t0, ir.State{ID: 1, Name: "x"})

	tx, err := repo.Begin(ctx, a)
	require.NoError(t, err)
	defer tx.Rollback()

	err = repo.UpdateStatusTx(ctx, tx, b, []int64{1}, ir.StatusRunning)
	assert.ErrorIs(t, err, ErrCrossShard)
}

func TestInvalidKey(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 2)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, "", 1, ir.StatusRunning), shard.ErrInvalidKey)
	assert.ErrorIs(t, repo.UpdateStatusBulk(ctx, "  ", nil, ir.StatusRunning), shard.ErrInvalidKey)
	_, err := repo.FindByID(ctx, "", 1)
	assert.ErrorIs(t, err, shard.ErrInvalidKey)
}

func TestCreateStateMachine_DuplicateIsStorageFailure(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 2)

	createTestStateMachine(t, repo, "wf-1", "order", t0, ir.State{ID: 1, Name: "a"})

	err := repo.CreateStateMachine(ctx, ir.StateMachine{ID: "wf-1", Name: "order"}, nil)
	require.Error(t, err)
	assert.True(t, IsStorageFailure(err))

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "create state machine", se.Op)
}

func TestCreateStateMachine_StatesAtomic(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 2)

	err := repo.CreateStateMachine(ctx, ir.StateMachine{ID: "wf-1", Name: "order"}, []ir.State{
		{ID: 1, Name: "a"},
		{ID: 1, Name: "duplicate"},
	})
	require.True(t, IsStorageFailure(err))

	_, err = repo.FindStateMachineByID(ctx, "wf-1")
	assert.ErrorIs(t, err, ErrNotFound, "failed create must leave nothing behind")
}

func TestFindStateMachineByID(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 2)

	createTestStateMachine(t, repo, "wf-1", "order", t0)

	sm, err := repo.FindStateMachineByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "order", sm.Name)
	assert.Equal(t, int64(1), sm.Version)
	assert.True(t, t0.Equal(sm.CreatedAt))
	assert.Equal(t, ir.StatusNone, sm.Status)
}

func TestClosedShardIsStorageFailure(t *testing.T) {
	ctx := context.Background()
	repo, _ := createTestRepo(t, 1)

	createTestStateMachine(t, repo, "wf-1", "order", t0, ir.State{ID: 1, Name: "a"})
	require.NoError(t, repo.shards.Close())

	err := repo.UpdateStatus(ctx, "wf-1", 1, ir.StatusRunning)
	assert.True(t, IsStorageFailure(err))

	_, err = repo.FindByID(ctx, "wf-1", 1)
	assert.True(t, IsStorageFailure(err))
	assert.False(t, IsNotFound(err))
}

func TestNewStateRepository_MissingShard(t *testing.T) {
	table, err := shard.NewUniformTable(2)
	require.NoError(t, err)

	st, err := Open(":memory:", WithShard(0))
	require.NoError(t, err)
	defer st.Close()

	shards, err := NewShards(st)
	require.NoError(t, err)

	_, err = NewStateRepository(table, shards)
	assert.ErrorIs(t, err, shard.ErrUnknownShard)
}
