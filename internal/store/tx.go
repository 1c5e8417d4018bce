package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/flux/internal/ir"
	"github.com/roach88/flux/internal/queryir"
	"github.com/roach88/flux/internal/querysql"
)

// Tx is a caller-owned unit of work on one shard.
//
// The repository never commits or rolls back a Tx; the caller that began it
// must call exactly one of Commit or Rollback. While a Tx is open it holds
// the shard's writer connection, so writes to the same shard outside the Tx
// wait for it to finish. Reads use the reader pool and never wait; on an
// in-memory shard a read of a table the Tx has written fails with a
// table-locked error until the Tx ends.
type Tx struct {
	tx    *sql.Tx
	store *Store
}

// Begin opens a unit of work on the shard smID routes to.
func (r *StateRepository) Begin(ctx context.Context, smID string) (*Tx, error) {
	const op = "begin"

	st, err := r.route(op, ir.FSMID(smID))
	if err != nil {
		return nil, err
	}
	tx, err := st.DB(ReadWrite).BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr(op, st.shard, err)
	}
	return &Tx{tx: tx, store: st}, nil
}

// Shard returns the shard the unit of work runs on.
func (t *Tx) Shard() ir.ShardID {
	return t.store.shard
}

// Commit commits the unit of work.
func (t *Tx) Commit() error {
	return storageErr("commit", t.store.shard, t.tx.Commit())
}

// Rollback aborts the unit of work. Rolling back a finished Tx is a no-op.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return storageErr("rollback", t.store.shard, err)
}

// UpdateStatusTx is UpdateStatusBulk inside a caller-owned unit of work.
func (r *StateRepository) UpdateStatusTx(ctx context.Context, tx *Tx, smID string, stateIDs []int64, status ir.Status) error {
	const op = "update status"
	return r.mutateTx(ctx, op, tx, smID, stateIDs, statusSet(status))
}

// UpdateExecutionVersionTx is UpdateExecutionVersionBulk inside a
// caller-owned unit of work.
func (r *StateRepository) UpdateExecutionVersionTx(ctx context.Context, tx *Tx, smID string, stateIDs []int64, version int64) error {
	const op = "update execution version"
	return r.mutateTx(ctx, op, tx, smID, stateIDs, executionVersionSet(version))
}

// IncrementExecutionVersionTx adds one to the execution version of the
// given states in storage, inside a caller-owned unit of work.
func (r *StateRepository) IncrementExecutionVersionTx(ctx context.Context, tx *Tx, smID string, stateIDs []int64) error {
	const op = "increment execution version"
	return r.mutateTx(ctx, op, tx, smID, stateIDs, queryir.Increment{Column: "execution_version", By: 1})
}

// FindAllStatesForGivenStateIDsTx reads states through the unit of work, so
// the result includes the Tx's own uncommitted writes.
func (r *StateRepository) FindAllStatesForGivenStateIDsTx(ctx context.Context, tx *Tx, smID string, ids []int64) ([]ir.State, error) {
	const op = "find states"

	st, err := r.txStore(op, tx, smID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []ir.State{}, nil
	}
	return st.scanStatesOn(ctx, tx.tx, op, querysql.StatesByIDQuery(smID, ids))
}

func (r *StateRepository) mutateTx(ctx context.Context, op string, tx *Tx, smID string, ids []int64, set queryir.Assignment) error {
	st, err := r.txStore(op, tx, smID)
	if err != nil {
		return err
	}
	_, err = st.updateStates(ctx, tx.tx, op, smID, ids, set)
	return err
}

// txStore routes smID and checks that it lives on the shard of tx.
func (r *StateRepository) txStore(op string, tx *Tx, smID string) (*Store, error) {
	if tx == nil {
		return nil, fmt.Errorf("%s: nil transaction", op)
	}
	st, err := r.route(op, ir.FSMID(smID))
	if err != nil {
		return nil, err
	}
	if st != tx.store {
		return nil, fmt.Errorf("%s %s: %w (%s, tx on %s)", op, smID, ErrCrossShard, st.shard, tx.store.shard)
	}
	return st, nil
}
