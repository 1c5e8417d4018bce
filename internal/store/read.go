package store

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/roach88/flux/internal/ir"
	"github.com/roach88/flux/internal/queryir"
	"github.com/roach88/flux/internal/querysql"
)

// FindStateMachineByID returns the state machine smID.
// Returns ErrNotFound if it does not exist.
func (r *StateRepository) FindStateMachineByID(ctx context.Context, smID string) (ir.StateMachine, error) {
	const op = "find state machine"

	st, err := r.route(op, ir.FSMID(smID))
	if err != nil {
		return ir.StateMachine{}, err
	}

	var found []ir.StateMachine
	err = st.query(ctx, st.DB(ReadOnly), op, querysql.StateMachineQuery(smID), func(rows *sql.Rows) error {
		sm, err := scanStateMachine(rows)
		if err != nil {
			return err
		}
		found = append(found, sm)
		return nil
	})
	if err != nil {
		return ir.StateMachine{}, err
	}
	if len(found) == 0 {
		return ir.StateMachine{}, fmt.Errorf("%s %s: %w", op, smID, ErrNotFound)
	}
	return found[0], nil
}

// FindByID returns the state (smID, id).
// Returns ErrNotFound, never a storage error, if it does not exist.
func (r *StateRepository) FindByID(ctx context.Context, smID string, id int64) (ir.State, error) {
	const op = "find state"

	st, err := r.route(op, ir.FSMID(smID))
	if err != nil {
		return ir.State{}, err
	}
	states, err := st.findStates(ctx, op, smID, []int64{id})
	if err != nil {
		return ir.State{}, err
	}
	if len(states) == 0 {
		return ir.State{}, fmt.Errorf("%s %s/%d: %w", op, smID, id, ErrNotFound)
	}
	return states[0], nil
}

// FindAllStates returns every state of smID ordered by id.
func (r *StateRepository) FindAllStates(ctx context.Context, smID string) ([]ir.State, error) {
	const op = "find all states"

	st, err := r.route(op, ir.FSMID(smID))
	if err != nil {
		return nil, err
	}
	return st.scanStates(ctx, op, querysql.StatesQuery(smID, nil))
}

// FindAllStatesForGivenStateIDs returns the states of smID whose id is in
// ids, ordered by id. Missing ids are skipped. Empty ids yields an empty
// result without touching storage.
func (r *StateRepository) FindAllStatesForGivenStateIDs(ctx context.Context, smID string, ids []int64) ([]ir.State, error) {
	const op = "find states"

	st, err := r.route(op, ir.FSMID(smID))
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []ir.State{}, nil
	}
	return st.findStates(ctx, op, smID, ids)
}

// FindStatesByDependentEvent returns the states of smID whose dependencies
// contain event as a substring, so "orderPlaced" also matches a dependency
// named "orderPlacedV2". An empty event matches nothing.
func (r *StateRepository) FindStatesByDependentEvent(ctx context.Context, smID, event string) ([]ir.State, error) {
	const op = "find states by dependent event"

	st, err := r.route(op, ir.FSMID(smID))
	if err != nil {
		return nil, err
	}
	if event == "" {
		return []ir.State{}, nil
	}
	return st.scanStates(ctx, op, querysql.DependentEventQuery(smID, event))
}

// FindStatesByStatus returns the (state machine, state, status) projection
// of states on the criteria's shard whose state machine has the criteria
// name and was created within [FromTime, ToTime], both bounds inclusive.
// StateName and Statuses filter only when non-empty.
func (r *StateRepository) FindStatesByStatus(ctx context.Context, c ir.FSMStatusCriteria) ([]ir.StateStatus, error) {
	const op = "find states by status"

	st, err := r.route(op, c)
	if err != nil {
		return nil, err
	}
	return st.findStatesByStatus(ctx, op, c)
}

// FindErroredStates is FindStatesByStatus fixed to the errored status.
func (r *StateRepository) FindErroredStates(ctx context.Context, shardID ir.ShardID, smName string, from, to time.Time) ([]ir.StateStatus, error) {
	return r.FindStatesByStatus(ctx, ir.FSMStatusCriteria{
		Shard:            shardID,
		StateMachineName: smName,
		FromTime:         from,
		ToTime:           to,
		Statuses:         []ir.Status{ir.StatusErrored},
	})
}

// ScanStatesByStatus runs FindStatesByStatus on every shard concurrently,
// ignoring the criteria's own shard, and merges the results ordered by
// (state machine id, state id).
func (r *StateRepository) ScanStatesByStatus(ctx context.Context, c ir.FSMStatusCriteria) ([]ir.StateStatus, error) {
	const op = "scan states by status"

	var (
		mu  sync.Mutex
		all []ir.StateStatus
	)
	err := r.shards.Each(ctx, func(ctx context.Context, st *Store) error {
		found, err := st.findStatesByStatus(ctx, op, c.OnShard(st.shard))
		if err != nil {
			return err
		}
		mu.Lock()
		all = append(all, found...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(all, func(a, b ir.StateStatus) int {
		return cmp.Or(
			cmp.Compare(a.StateMachineID, b.StateMachineID),
			cmp.Compare(a.StateID, b.StateID),
		)
	})
	if all == nil {
		all = []ir.StateStatus{}
	}
	return all, nil
}

func (s *Store) findStates(ctx context.Context, op, smID string, ids []int64) ([]ir.State, error) {
	return s.scanStates(ctx, op, querysql.StatesByIDQuery(smID, ids))
}

func (s *Store) scanStates(ctx context.Context, op string, q queryir.Select) ([]ir.State, error) {
	return s.scanStatesOn(ctx, s.DB(ReadOnly), op, q)
}

func (s *Store) scanStatesOn(ctx context.Context, db execer, op string, q queryir.Select) ([]ir.State, error) {
	states := []ir.State{}
	err := s.query(ctx, db, op, q, func(rows *sql.Rows) error {
		state, err := scanState(rows)
		if err != nil {
			return err
		}
		states = append(states, state)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

func (s *Store) findStatesByStatus(ctx context.Context, op string, c ir.FSMStatusCriteria) ([]ir.StateStatus, error) {
	out := []ir.StateStatus{}
	err := s.query(ctx, s.DB(ReadOnly), op, querysql.StatusQuery(c), func(rows *sql.Rows) error {
		ss, err := scanStateStatus(rows)
		if err != nil {
			return err
		}
		out = append(out, ss)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("status query",
		"shard", s.shard,
		"state_machine_name", c.StateMachineName,
		"statuses", c.Statuses,
		"rows", len(out))
	return out, nil
}
