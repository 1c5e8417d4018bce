package querysql

import (
	"math"
	"time"

	"github.com/roach88/flux/internal/ir"
	"github.com/roach88/flux/internal/queryir"
)

// Table names of the shard schema.
const (
	TableStateMachines = "state_machines"
	TableStates        = "states"
)

// StateColumns is the column order every state read selects and every
// state scan expects.
var StateColumns = []string{
	"state_machine_id",
	"id",
	"name",
	"version",
	"description",
	"task",
	"dependencies",
	"output_event",
	"retry_count",
	"timeout",
	"status",
	"rollback_status",
	"attempted_no_of_retries",
	"execution_version",
	"replayable",
	"created_at",
	"updated_at",
}

// StateMachineColumns is the column order of state machine reads.
var StateMachineColumns = []string{
	"id",
	"name",
	"version",
	"description",
	"status",
	"created_at",
	"updated_at",
}

var (
	minStoredTime = time.Unix(0, math.MinInt64)
	maxStoredTime = time.Unix(0, math.MaxInt64)
)

// TimeValue encodes a timestamp the way the schema stores it (unix nanos).
// Times outside the int64 nanosecond range (years 1677 to 2262) clamp to
// the nearest end, so an open-ended window such as year 9999 stays open.
func TimeValue(t time.Time) ir.IRValue {
	switch {
	case t.Before(minStoredTime):
		return ir.IRInt(math.MinInt64)
	case t.After(maxStoredTime):
		return ir.IRInt(math.MaxInt64)
	}
	return ir.IRInt(t.UnixNano())
}

// StatusValue encodes a status, mapping the clear sentinel to NULL.
func StatusValue(s ir.Status) ir.IRValue {
	if s.IsNone() {
		return ir.IRNull{}
	}
	return ir.IRString(s)
}

// IDFilter matches a single id with Equals and several ids with In.
// An empty ids slice yields an In that fails to compile with ErrEmptyIn.
func IDFilter(column string, ids []int64) queryir.Predicate {
	if len(ids) == 1 {
		return queryir.Equals{Field: column, Value: ir.IRInt(ids[0])}
	}
	return queryir.In{Field: column, Values: queryir.Int64s(ids)}
}

func ownedBy(smID string) queryir.Predicate {
	return queryir.Equals{Field: "state_machine_id", Value: ir.IRString(smID)}
}

// StatesQuery selects the full rows of a state machine's states matching
// filter (nil = all states), ordered by id.
func StatesQuery(smID string, filter queryir.Predicate) queryir.Select {
	return queryir.Select{
		From:    queryir.Table{Name: TableStates},
		Columns: StateColumns,
		Filter:  queryir.AllOf(ownedBy(smID), filter),
		OrderBy: []string{"id"},
	}
}

// StatesByIDQuery selects the states of smID whose id is in ids.
func StatesByIDQuery(smID string, ids []int64) queryir.Select {
	return StatesQuery(smID, IDFilter("id", ids))
}

// DependentEventQuery selects the states of smID whose serialized
// dependencies contain event as a substring. The event is encoded the way
// the dependency array stores it, so quotes, backslashes and unnormalized
// text match their stored form.
func DependentEventQuery(smID, event string) queryir.Select {
	return StatesQuery(smID, queryir.Contains{Field: "dependencies", Substring: storedText(event)})
}

// storedText returns s as it appears inside a canonical JSON string,
// without the surrounding quotes.
func storedText(s string) string {
	data, err := ir.MarshalCanonical(ir.IRString(s))
	if err != nil || len(data) < 2 {
		return s
	}
	return string(data[1 : len(data)-1])
}

// StateMachineQuery selects one state machine by id.
func StateMachineQuery(smID string) queryir.Select {
	return queryir.Select{
		From:    queryir.Table{Name: TableStateMachines},
		Columns: StateMachineColumns,
		Filter:  queryir.Equals{Field: "id", Value: ir.IRString(smID)},
	}
}

// StatusQuery builds the status projection for criteria.
//
// The state machine name and the inclusive creation window always apply.
// Window bounds go through TimeValue, so far-future or far-past bounds
// clamp instead of wrapping.
// The state name filter applies only when StateName is non-empty and the
// status filter only when Statuses is non-empty: an empty set means no
// status filter. Rows are ordered by (state_machine_id, id).
func StatusQuery(c ir.FSMStatusCriteria) queryir.Select {
	preds := []queryir.Predicate{
		queryir.Equals{Field: "sm.name", Value: ir.IRString(c.StateMachineName)},
		queryir.Between{Field: "sm.created_at", Low: TimeValue(c.FromTime), High: TimeValue(c.ToTime)},
	}
	if c.StateName != "" {
		preds = append(preds, queryir.Equals{Field: "s.name", Value: ir.IRString(c.StateName)})
	}
	if len(c.Statuses) > 0 {
		preds = append(preds, queryir.In{Field: "s.status", Values: queryir.Strings(c.Statuses)})
	}

	return queryir.Select{
		From: queryir.Table{Name: TableStates, Alias: "s"},
		Joins: []queryir.Join{{
			Table: queryir.Table{Name: TableStateMachines, Alias: "sm"},
			On:    queryir.ColumnEquals{Left: "sm.id", Right: "s.state_machine_id"},
		}},
		Columns: []string{"s.state_machine_id", "s.id", "s.status"},
		Filter:  queryir.AllOf(preds...),
		OrderBy: []string{"s.state_machine_id", "s.id"},
	}
}

// StateUpdate builds an update of the given states of smID.
// Every update also stamps updated_at. Callers short-circuit empty ids.
func StateUpdate(smID string, ids []int64, now time.Time, set ...queryir.Assignment) queryir.Update {
	assignments := append(append([]queryir.Assignment{}, set...),
		queryir.Set{Column: "updated_at", Value: TimeValue(now)})
	return queryir.Update{
		Table:  TableStates,
		Set:    assignments,
		Filter: queryir.AllOf(ownedBy(smID), IDFilter("id", ids)),
	}
}
