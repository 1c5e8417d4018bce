package ir

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle value of a State or a StateMachine.
//
// The set of values is closed, but flux never infers or validates
// transitions between them: it persists whatever value it is given.
// StatusNone is the "clear" sentinel and is persisted as SQL NULL.
type Status string

const (
	StatusNone        Status = ""
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusErrored     Status = "errored"
	StatusSidelined   Status = "sidelined"
	StatusUnsidelined Status = "unsidelined"
)

// AllStatuses lists every non-empty Status in declaration order.
var AllStatuses = []Status{
	StatusInitialized,
	StatusRunning,
	StatusCompleted,
	StatusCancelled,
	StatusErrored,
	StatusSidelined,
	StatusUnsidelined,
}

// String returns the raw status value.
func (s Status) String() string {
	return string(s)
}

// IsNone reports whether s is the clear sentinel.
func (s Status) IsNone() bool {
	return s == StatusNone
}

// ParseStatus converts user input into a Status.
// The empty string and "none" parse to StatusNone. Matching is case-insensitive.
func ParseStatus(raw string) (Status, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" || v == "none" {
		return StatusNone, nil
	}
	for _, s := range AllStatuses {
		if string(s) == v {
			return s, nil
		}
	}
	return StatusNone, fmt.Errorf("unknown status %q", raw)
}

// ParseStatuses parses a comma separated list of statuses.
// Empty input yields an empty (nil) slice, which callers treat as "no filter".
func ParseStatuses(raw string) ([]Status, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []Status
	for _, part := range strings.Split(raw, ",") {
		s, err := ParseStatus(part)
		if err != nil {
			return nil, err
		}
		if s.IsNone() {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// StateMachine is one running workflow instance.
// Immutable after creation as far as flux is concerned.
type StateMachine struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Version     int64     `json:"version"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ShardKey routes the state machine by its id.
func (sm StateMachine) ShardKey() ShardKey {
	return ShardKey{Key: sm.ID}
}

// State is one executable step inside a state machine instance.
//
// Mutable fields (everything except StateMachineID, ID and CreatedAt) are
// replaced wholesale by StateRepository.UpdateState.
type State struct {
	ID             int64  `json:"id"`
	StateMachineID string `json:"state_machine_id"`

	Name         string   `json:"name"`
	Version      int64    `json:"version"`
	Description  string   `json:"description,omitempty"`
	Task         string   `json:"task,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	OutputEvent  string   `json:"output_event,omitempty"`

	// RetryCount is the maximum number of retries allowed for the task.
	RetryCount int64 `json:"retry_count"`
	// Timeout is the task timeout in milliseconds.
	Timeout int64 `json:"timeout"`

	Status               Status `json:"status,omitempty"`
	RollbackStatus       Status `json:"rollback_status,omitempty"`
	AttemptedNoOfRetries int64  `json:"attempted_no_of_retries"`
	ExecutionVersion     int64  `json:"execution_version"`
	Replayable           bool   `json:"replayable"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ShardKey routes the state by its owning state machine.
func (s State) ShardKey() ShardKey {
	return ShardKey{Key: s.StateMachineID}
}

// DependsOn reports whether event is one of the state's dependencies.
func (s State) DependsOn(event string) bool {
	for _, d := range s.Dependencies {
		if d == event {
			return true
		}
	}
	return false
}

// StateStatus is the projection returned by status queries.
type StateStatus struct {
	StateMachineID string `json:"state_machine_id"`
	StateID        int64  `json:"state_id"`
	Status         Status `json:"status,omitempty"`
}

// FSMStatusCriteria selects states across the state machines of one shard.
//
// FromTime and ToTime bound the state machine creation time and are both
// inclusive. An empty StateName applies no name filter. An empty Statuses
// slice applies no status filter; it never means "match nothing".
type FSMStatusCriteria struct {
	Shard            ShardID   `json:"shard"`
	StateMachineName string    `json:"state_machine_name"`
	FromTime         time.Time `json:"from_time"`
	ToTime           time.Time `json:"to_time"`
	StateName        string    `json:"state_name,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

// ShardKey pins the criteria to its explicit shard.
func (c FSMStatusCriteria) ShardKey() ShardKey {
	return ShardKey{Shard: c.Shard, Pinned: true}
}

// OnShard returns a copy of the criteria pinned to another shard.
func (c FSMStatusCriteria) OnShard(id ShardID) FSMStatusCriteria {
	c.Shard = id
	return c
}
