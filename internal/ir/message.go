package ir

import (
	"encoding/json"
	"fmt"
)

// TaskExecutionMessage asks a remote execution node to run the task of a
// ready State. ID is unique per send attempt; IdempotencyKey is stable for
// the same logical request.
type TaskExecutionMessage struct {
	ID                   string   `json:"id"`
	StateMachineID       string   `json:"state_machine_id"`
	StateMachineName     string   `json:"state_machine_name"`
	StateID              int64    `json:"state_id"`
	TaskName             string   `json:"task_name"`
	ExecutionVersion     int64    `json:"execution_version"`
	RetryCount           int64    `json:"retry_count"`
	AttemptedNoOfRetries int64    `json:"attempted_no_of_retries"`
	Timeout              int64    `json:"timeout"`
	Events               IRObject `json:"events"`
}

// NewTaskExecutionMessage builds the message for a state that is ready to run.
func NewTaskExecutionMessage(id string, smName string, st State, events IRObject) TaskExecutionMessage {
	if events == nil {
		events = IRObject{}
	}
	return TaskExecutionMessage{
		ID:                   id,
		StateMachineID:       st.StateMachineID,
		StateMachineName:     smName,
		StateID:              st.ID,
		TaskName:             st.Task,
		ExecutionVersion:     st.ExecutionVersion,
		RetryCount:           st.RetryCount,
		AttemptedNoOfRetries: st.AttemptedNoOfRetries,
		Timeout:              st.Timeout,
		Events:               events,
	}
}

// ShardKey routes the message by its state machine.
func (m TaskExecutionMessage) ShardKey() ShardKey {
	return ShardKey{Key: m.StateMachineID}
}

func (m TaskExecutionMessage) body() IRObject {
	events := m.Events
	if events == nil {
		events = IRObject{}
	}
	return IRObject{
		"state_machine_id":        IRString(m.StateMachineID),
		"state_machine_name":      IRString(m.StateMachineName),
		"state_id":                IRInt(m.StateID),
		"task_name":               IRString(m.TaskName),
		"execution_version":       IRInt(m.ExecutionVersion),
		"retry_count":             IRInt(m.RetryCount),
		"attempted_no_of_retries": IRInt(m.AttemptedNoOfRetries),
		"timeout":                 IRInt(m.Timeout),
		"events":                  events,
	}
}

// Encode returns the canonical JSON wire form of the message.
func (m TaskExecutionMessage) Encode() ([]byte, error) {
	obj := m.body()
	obj["id"] = IRString(m.ID)
	obj["version"] = IRString(MessageVersion)
	data, err := MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", m.ID, err)
	}
	return data, nil
}

// IdempotencyKey identifies the logical request independently of ID:
// the same state, execution version, attempt and payload yield the same key,
// so a receiver can drop duplicates of a redelivered message.
func (m TaskExecutionMessage) IdempotencyKey() (string, error) {
	data, err := MarshalCanonical(m.body())
	if err != nil {
		return "", fmt.Errorf("idempotency key: %w", err)
	}
	return contentHash(DomainMessage, data), nil
}

// DecodeMessage parses the wire form produced by Encode.
func DecodeMessage(data []byte) (TaskExecutionMessage, error) {
	var m TaskExecutionMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return TaskExecutionMessage{}, fmt.Errorf("decode message: %w", err)
	}
	if m.Events == nil {
		m.Events = IRObject{}
	}
	return m, nil
}
