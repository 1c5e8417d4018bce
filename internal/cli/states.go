package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/flux/internal/ir"
)

// StatesOptions holds flags for the states command.
type StatesOptions struct {
	*RootOptions
	IDs   []int64
	Event string
}

// StatesResult is the output of the states command.
type StatesResult struct {
	StateMachine ir.StateMachine `json:"state_machine"`
	States       []ir.State      `json:"states"`
}

func (r StatesResult) String() string {
	var b strings.Builder
	sm := r.StateMachine
	fmt.Fprintf(&b, "%s %s v%d %s\n", sm.ID, sm.Name, sm.Version, statusText(sm.Status))
	for _, s := range r.States {
		fmt.Fprintf(&b, "  %d\t%s\t%s\texec=%d\tretries=%d/%d\t%s\n",
			s.ID, s.Name, statusText(s.Status), s.ExecutionVersion,
			s.AttemptedNoOfRetries, s.RetryCount, s.Task)
	}
	return b.String()
}

func statusText(s ir.Status) string {
	if s.IsNone() {
		return "-"
	}
	return s.String()
}

// NewStatesCommand creates the states command.
func NewStatesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "states <state-machine-id>",
		Short: "Show a state machine and its states",
		Long: `Show a state machine and its states, all of them or only those selected
by --ids or by a dependent event.

Example:
  flux states wf-1
  flux states wf-1 --ids 1,3
  flux states wf-1 --event orderPlaced`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStates(opts, args[0], cmd)
		},
	}

	cmd.Flags().Int64SliceVar(&opts.IDs, "ids", nil, "only these state ids")
	cmd.Flags().StringVar(&opts.Event, "event", "", "only states depending on this event")
	cmd.MarkFlagsMutuallyExclusive("ids", "event")

	return cmd
}

func runStates(opts *StatesOptions, smID string, cmd *cobra.Command) error {
	e, err := opts.openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	sm, err := e.repo.FindStateMachineByID(ctx, smID)
	if err != nil {
		return failed("failed to find state machine", err)
	}

	var states []ir.State
	switch {
	case len(opts.IDs) > 0:
		states, err = e.repo.FindAllStatesForGivenStateIDs(ctx, smID, opts.IDs)
	case opts.Event != "":
		states, err = e.repo.FindStatesByDependentEvent(ctx, smID, opts.Event)
	default:
		states, err = e.repo.FindAllStates(ctx, smID)
	}
	if err != nil {
		return failed("failed to find states", err)
	}

	return opts.formatter(cmd).Success(StatesResult{StateMachine: sm, States: states})
}
