package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/flux/internal/ir"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	File string
}

// CreateResult is the output of the create command.
type CreateResult struct {
	StateMachineID string     `json:"state_machine_id"`
	Shard          ir.ShardID `json:"shard"`
	States         int        `json:"states"`
}

func (r CreateResult) String() string {
	return fmt.Sprintf("created %s on %s with %d states\n", r.StateMachineID, r.Shard, r.States)
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Persist a state machine and its states",
		Long: `Persist a state machine and its states from a JSON document:

  {"state_machine": {"id": "wf-1", "name": "order", "version": 1},
   "states": [{"id": 1, "name": "reserve", "task": "Reserve",
               "dependencies": ["orderPlaced"], "status": "initialized"}]}

Example:
  flux create --file ./wf-1.json
  cat wf-1.json | flux create --file -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "state machine JSON file, - for stdin (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runCreate(opts *CreateOptions, cmd *cobra.Command) error {
	data, err := readInput(cmd, opts.File)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read input", err)
	}
	doc, err := decodeStateMachine(data)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to decode input", err)
	}

	e, err := opts.openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	if err := e.repo.CreateStateMachine(ctx, doc.StateMachine, doc.States); err != nil {
		return failed("failed to create state machine", err)
	}
	sh, err := e.table.Route(doc.StateMachine.ID)
	if err != nil {
		return failed("failed to route state machine", err)
	}

	return opts.formatter(cmd).Success(CreateResult{
		StateMachineID: doc.StateMachine.ID,
		Shard:          sh,
		States:         len(doc.States),
	})
}
