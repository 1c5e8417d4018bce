package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/flux/internal/ir"
)

// marshalDependencies converts dependencies to canonical JSON TEXT.
// A nil slice is stored as "[]".
func marshalDependencies(deps []string) (string, error) {
	if deps == nil {
		deps = []string{}
	}
	data, err := ir.MarshalCanonical(ir.StringValues(deps))
	if err != nil {
		return "", fmt.Errorf("marshal dependencies: %w", err)
	}
	return string(data), nil
}

// unmarshalDependencies parses the stored JSON array. An empty array
// decodes to nil so a round trip preserves a nil slice.
func unmarshalDependencies(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var arr ir.IRArray
	if err := arr.UnmarshalJSON([]byte(data)); err != nil {
		return nil, fmt.Errorf("unmarshal dependencies: %w", err)
	}
	deps := make([]string, 0, len(arr))
	for i, v := range arr {
		s, ok := v.(ir.IRString)
		if !ok {
			return nil, fmt.Errorf("unmarshal dependencies: element %d is %T", i, v)
		}
		deps = append(deps, string(s))
	}
	return deps, nil
}

// nullStatus maps the clear sentinel to SQL NULL.
func nullStatus(s ir.Status) sql.NullString {
	if s.IsNone() {
		return sql.NullString{}
	}
	return sql.NullString{String: string(s), Valid: true}
}

func statusFrom(ns sql.NullString) ir.Status {
	if !ns.Valid {
		return ir.StatusNone
	}
	return ir.Status(ns.String)
}

func timeFrom(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}

// scanState reads one row in querysql.StateColumns order.
func scanState(rows *sql.Rows) (ir.State, error) {
	var (
		st                   ir.State
		deps                 string
		status, rollback     sql.NullString
		replayable           int64
		createdAt, updatedAt int64
	)
	err := rows.Scan(
		&st.StateMachineID,
		&st.ID,
		&st.Name,
		&st.Version,
		&st.Description,
		&st.Task,
		&deps,
		&st.OutputEvent,
		&st.RetryCount,
		&st.Timeout,
		&status,
		&rollback,
		&st.AttemptedNoOfRetries,
		&st.ExecutionVersion,
		&replayable,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return ir.State{}, fmt.Errorf("scan state: %w", err)
	}

	st.Dependencies, err = unmarshalDependencies(deps)
	if err != nil {
		return ir.State{}, err
	}
	st.Status = statusFrom(status)
	st.RollbackStatus = statusFrom(rollback)
	st.Replayable = replayable != 0
	st.CreatedAt = timeFrom(createdAt)
	st.UpdatedAt = timeFrom(updatedAt)
	return st, nil
}

// scanStateMachine reads one row in querysql.StateMachineColumns order.
func scanStateMachine(rows *sql.Rows) (ir.StateMachine, error) {
	var (
		sm                   ir.StateMachine
		status               sql.NullString
		createdAt, updatedAt int64
	)
	err := rows.Scan(&sm.ID, &sm.Name, &sm.Version, &sm.Description, &status, &createdAt, &updatedAt)
	if err != nil {
		return ir.StateMachine{}, fmt.Errorf("scan state machine: %w", err)
	}
	sm.Status = statusFrom(status)
	sm.CreatedAt = timeFrom(createdAt)
	sm.UpdatedAt = timeFrom(updatedAt)
	return sm, nil
}

func scanStateStatus(rows *sql.Rows) (ir.StateStatus, error) {
	var (
		ss     ir.StateStatus
		status sql.NullString
	)
	if err := rows.Scan(&ss.StateMachineID, &ss.StateID, &status); err != nil {
		return ir.StateStatus{}, fmt.Errorf("scan state status: %w", err)
	}
	ss.Status = statusFrom(status)
	return ss, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
