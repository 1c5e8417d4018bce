package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/flux/internal/ir"
)

// readInput reads the whole of path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// parseEvents parses an --events flag: a JSON object of event payloads.
func parseEvents(raw string) (ir.IRObject, error) {
	if raw == "" {
		return ir.IRObject{}, nil
	}
	v, err := ir.UnmarshalIRValue([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid --events JSON: %w", err)
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("invalid --events JSON: want an object, got %T", v)
	}
	return obj, nil
}

// stateMachineDocument is the input of the create command.
type stateMachineDocument struct {
	StateMachine ir.StateMachine `json:"state_machine"`
	States       []ir.State      `json:"states"`
}

func decodeStateMachine(data []byte) (stateMachineDocument, error) {
	var doc stateMachineDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("invalid state machine JSON: %w", err)
	}
	if doc.StateMachine.ID == "" {
		return doc, fmt.Errorf("invalid state machine JSON: state_machine.id is required")
	}
	if _, err := ir.ParseStatus(string(doc.StateMachine.Status)); err != nil {
		return doc, fmt.Errorf("invalid state machine JSON: %w", err)
	}
	for _, st := range doc.States {
		for _, s := range []ir.Status{st.Status, st.RollbackStatus} {
			if _, err := ir.ParseStatus(string(s)); err != nil {
				return doc, fmt.Errorf("invalid state machine JSON: state %d: %w", st.ID, err)
			}
		}
	}
	return doc, nil
}
