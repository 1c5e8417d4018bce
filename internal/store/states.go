package store

import (
	"context"
	"fmt"

	"github.com/roach88/flux/internal/ir"
	"github.com/roach88/flux/internal/queryir"
	"github.com/roach88/flux/internal/querysql"
)

// CreateStateMachine inserts a state machine and its states in one
// transaction on the shard sm.ID routes to. Each state's StateMachineID is
// set to sm.ID. Zero CreatedAt/UpdatedAt values are stamped with the store
// clock. A duplicate id is a *StorageError.
func (r *StateRepository) CreateStateMachine(ctx context.Context, sm ir.StateMachine, states []ir.State) error {
	const op = "create state machine"

	st, err := r.route(op, ir.FSMID(sm.ID))
	if err != nil {
		return err
	}

	now := st.clock.Now()
	if sm.CreatedAt.IsZero() {
		sm.CreatedAt = now
	}
	if sm.UpdatedAt.IsZero() {
		sm.UpdatedAt = sm.CreatedAt
	}

	tx, err := st.DB(ReadWrite).BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, st.shard, err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO state_machines
		(id, name, version, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		sm.ID,
		sm.Name,
		sm.Version,
		sm.Description,
		nullStatus(sm.Status),
		sm.CreatedAt.UnixNano(),
		sm.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return storageErr(op, st.shard, err)
	}

	for _, state := range states {
		state.StateMachineID = sm.ID
		if state.CreatedAt.IsZero() {
			state.CreatedAt = now
		}
		if state.UpdatedAt.IsZero() {
			state.UpdatedAt = state.CreatedAt
		}
		if err := insertState(ctx, tx, state); err != nil {
			return storageErr(op, st.shard, fmt.Errorf("state %d: %w", state.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr(op, st.shard, err)
	}

	r.logger.Debug("state machine created",
		"shard", st.shard,
		"state_machine_id", sm.ID,
		"name", sm.Name,
		"states", len(states))
	return nil
}

func insertState(ctx context.Context, db execer, s ir.State) error {
	deps, err := marshalDependencies(s.Dependencies)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO states
		(state_machine_id, id, name, version, description, task, dependencies, output_event,
		 retry_count, timeout, status, rollback_status, attempted_no_of_retries,
		 execution_version, replayable, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.StateMachineID,
		s.ID,
		s.Name,
		s.Version,
		s.Description,
		s.Task,
		deps,
		s.OutputEvent,
		s.RetryCount,
		s.Timeout,
		nullStatus(s.Status),
		nullStatus(s.RollbackStatus),
		s.AttemptedNoOfRetries,
		s.ExecutionVersion,
		boolInt(s.Replayable),
		s.CreatedAt.UnixNano(),
		s.UpdatedAt.UnixNano(),
	)
	return err
}

// UpdateState replaces every mutable field of the state (smID, state.ID).
// The identity columns and created_at are left untouched; updated_at is
// stamped with the store clock. Returns ErrNotFound if the row is absent.
func (r *StateRepository) UpdateState(ctx context.Context, smID string, state ir.State) error {
	const op = "update state"

	st, err := r.route(op, ir.FSMID(smID))
	if err != nil {
		return err
	}

	deps, err := marshalDependencies(state.Dependencies)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := st.updateStates(ctx, st.DB(ReadWrite), op, smID, []int64{state.ID},
		queryir.Set{Column: "name", Value: ir.IRString(state.Name)},
		queryir.Set{Column: "version", Value: ir.IRInt(state.Version)},
		queryir.Set{Column: "description", Value: ir.IRString(state.Description)},
		queryir.Set{Column: "task", Value: ir.IRString(state.Task)},
		queryir.Set{Column: "dependencies", Value: ir.IRString(deps)},
		queryir.Set{Column: "output_event", Value: ir.IRString(state.OutputEvent)},
		queryir.Set{Column: "retry_count", Value: ir.IRInt(state.RetryCount)},
		queryir.Set{Column: "timeout", Value: ir.IRInt(state.Timeout)},
		queryir.Set{Column: "status", Value: querysql.StatusValue(state.Status)},
		queryir.Set{Column: "rollback_status", Value: querysql.StatusValue(state.RollbackStatus)},
		queryir.Set{Column: "attempted_no_of_retries", Value: ir.IRInt(state.AttemptedNoOfRetries)},
		queryir.Set{Column: "execution_version", Value: ir.IRInt(state.ExecutionVersion)},
		queryir.Set{Column: "replayable", Value: ir.IRInt(boolInt(state.Replayable))},
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s/%d: %w", op, smID, state.ID, ErrNotFound)
	}
	return nil
}

// UpdateStatus sets the status of one state. ir.StatusNone clears it.
func (r *StateRepository) UpdateStatus(ctx context.Context, smID string, stateID int64, status ir.Status) error {
	return r.UpdateStatusBulk(ctx, smID, []int64{stateID}, status)
}

// UpdateStatusBulk sets the status of every listed state of smID in a
// single statement. Rows of smID not listed, and rows of other state
// machines with the same ids, are never touched. An empty stateIDs is a
// no-op.
func (r *StateRepository) UpdateStatusBulk(ctx context.Context, smID string, stateIDs []int64, status ir.Status) error {
	const op = "update status"
	_, err := r.mutate(ctx, op, smID, stateIDs, statusSet(status))
	return err
}

// UpdateRollbackStatus sets the rollback status of one state.
// ir.StatusNone clears it.
func (r *StateRepository) UpdateRollbackStatus(ctx context.Context, smID string, stateID int64, status ir.Status) error {
	const op = "update rollback status"
	_, err := r.mutate(ctx, op, smID, []int64{stateID},
		queryir.Set{Column: "rollback_status", Value: querysql.StatusValue(status)})
	return err
}

// IncrementRetryCount adds one to attempted_no_of_retries in storage.
// Concurrent calls never lose an increment.
func (r *StateRepository) IncrementRetryCount(ctx context.Context, smID string, stateID int64) error {
	const op = "increment retry count"
	_, err := r.mutate(ctx, op, smID, []int64{stateID},
		queryir.Increment{Column: "attempted_no_of_retries", By: 1})
	return err
}

// UpdateExecutionVersion sets the execution version of one state.
func (r *StateRepository) UpdateExecutionVersion(ctx context.Context, smID string, stateID int64, version int64) error {
	return r.UpdateExecutionVersionBulk(ctx, smID, []int64{stateID}, version)
}

// UpdateExecutionVersionBulk sets the execution version of every listed
// state of smID in a single statement. An empty stateIDs is a no-op.
func (r *StateRepository) UpdateExecutionVersionBulk(ctx context.Context, smID string, stateIDs []int64, version int64) error {
	const op = "update execution version"
	_, err := r.mutate(ctx, op, smID, stateIDs, executionVersionSet(version))
	return err
}

func statusSet(status ir.Status) queryir.Assignment {
	return queryir.Set{Column: "status", Value: querysql.StatusValue(status)}
}

func executionVersionSet(version int64) queryir.Assignment {
	return queryir.Set{Column: "execution_version", Value: ir.IRInt(version)}
}

// mutate routes smID and runs a state update on the writer connection.
func (r *StateRepository) mutate(ctx context.Context, op, smID string, ids []int64, set ...queryir.Assignment) (int64, error) {
	st, err := r.route(op, ir.FSMID(smID))
	if err != nil {
		return 0, err
	}
	n, err := st.updateStates(ctx, st.DB(ReadWrite), op, smID, ids, set...)
	if err != nil {
		return 0, err
	}
	if n == 0 && len(ids) > 0 {
		r.logger.Debug("update matched no rows", "op", op, "shard", st.shard, "state_machine_id", smID, "state_ids", ids)
	}
	return n, nil
}

// updateStates applies set to the listed states of smID. An empty id set
// returns before any query is built.
func (s *Store) updateStates(ctx context.Context, db execer, op, smID string, ids []int64, set ...queryir.Assignment) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.exec(ctx, db, op, querysql.StateUpdate(smID, ids, s.clock.Now(), set...))
}
