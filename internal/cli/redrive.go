package cli

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/flux/internal/dispatch"
	"github.com/roach88/flux/internal/ir"
	"github.com/roach88/flux/internal/store"
)

// RedriveOptions holds flags for the redrive command.
type RedriveOptions struct {
	*RootOptions
	Endpoint string
	IDs      []int64
	Events   string
}

// RedriveOutcome is the dispatch result of one redriven state.
type RedriveOutcome struct {
	StateID          int64  `json:"state_id"`
	MessageID        string `json:"message_id"`
	ExecutionVersion int64  `json:"execution_version"`
	Result           string `json:"result"`
	Error            string `json:"error,omitempty"`
}

// RedriveResult is the output of the redrive command.
type RedriveResult struct {
	StateMachineID string           `json:"state_machine_id"`
	Endpoint       string           `json:"endpoint"`
	Outcomes       []RedriveOutcome `json:"outcomes"`
}

func (r RedriveResult) String() string {
	var b strings.Builder
	for _, o := range r.Outcomes {
		fmt.Fprintf(&b, "%s/%d\texec=%d\t%s\t%s", r.StateMachineID, o.StateID, o.ExecutionVersion, o.Result, o.MessageID)
		if o.Error != "" {
			fmt.Fprintf(&b, "\t%s", o.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// NewRedriveCommand creates the redrive command.
func NewRedriveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RedriveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "redrive <state-machine-id>",
		Short: "Re-run states on a remote execution node",
		Long: `Re-run states of a state machine: in one transaction every state is set
back to initialized and its execution version is bumped, then a task
execution message per state is forwarded to the endpoint. States whose
message is not accepted are marked errored again.

The endpoint is an alias from the dispatch.endpoints config or an http(s)
URL.

Example:
  flux redrive wf-1 --ids 2,3 --endpoint node-7
  flux redrive wf-1 --ids 2 --endpoint http://10.0.0.7:8080 --events '{"orderPlaced":{"id":7}}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRedrive(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Endpoint, "endpoint", "", "execution node alias or URL (required)")
	cmd.Flags().Int64SliceVar(&opts.IDs, "ids", nil, "state ids to redrive (required)")
	cmd.Flags().StringVar(&opts.Events, "events", "", "event payloads as a JSON object")
	_ = cmd.MarkFlagRequired("endpoint")
	_ = cmd.MarkFlagRequired("ids")

	return cmd
}

func runRedrive(opts *RedriveOptions, smID string, cmd *cobra.Command) error {
	events, err := parseEvents(opts.Events)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid arguments", err)
	}

	e, err := opts.openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	d := dispatch.NewHTTPDispatcher(append(e.cfg.DispatcherOptions(), dispatch.WithLogger(e.logger))...)
	if _, err := d.Resolve(opts.Endpoint); err != nil {
		return WrapExitError(ExitCommandError, "invalid arguments", err)
	}

	ctx := cmd.Context()
	sm, err := e.repo.FindStateMachineByID(ctx, smID)
	if err != nil {
		return failed("failed to find state machine", err)
	}
	states, err := e.repo.FindAllStatesForGivenStateIDs(ctx, smID, opts.IDs)
	if err != nil {
		return failed("failed to find states", err)
	}
	if missing := missingIDs(opts.IDs, states); len(missing) > 0 {
		return WrapExitError(ExitFailure, "failed to find states",
			fmt.Errorf("%s: state ids %v: %w", smID, missing, store.ErrNotFound))
	}

	if err := resetForRedrive(cmd, e.repo, smID, states); err != nil {
		return failed("failed to reset states", err)
	}

	var (
		mu       sync.Mutex
		outcomes []RedriveOutcome
		failures []int64
	)
	pool := dispatch.NewPool(ctx, d, e.cfg.Dispatch.Concurrency, func(r dispatch.Result) {
		o := RedriveOutcome{
			StateID:          r.Message.StateID,
			MessageID:        r.Message.ID,
			ExecutionVersion: r.Message.ExecutionVersion,
			Result:           r.Code.String(),
		}
		if r.Err != nil {
			o.Error = r.Err.Error()
		}
		mu.Lock()
		outcomes = append(outcomes, o)
		if r.Code != dispatch.ResultOK {
			failures = append(failures, r.Message.StateID)
		}
		mu.Unlock()
	})
	for _, st := range states {
		msg := ir.NewTaskExecutionMessage(opts.messageIDs().Generate(), sm.Name, st, events)
		pool.Submit(opts.Endpoint, msg)
	}
	pool.Wait()

	slices.SortFunc(outcomes, func(a, b RedriveOutcome) int {
		return cmp.Compare(a.StateID, b.StateID)
	})

	if len(failures) > 0 {
		if err := e.repo.UpdateStatusBulk(ctx, smID, failures, ir.StatusErrored); err != nil {
			return failed("failed to mark undelivered states errored", err)
		}
		e.logger.Warn("redrive incomplete",
			"state_machine_id", smID,
			"failed", len(failures),
			"total", len(states))
	}

	if err := opts.formatter(cmd).Success(RedriveResult{
		StateMachineID: smID,
		Endpoint:       opts.Endpoint,
		Outcomes:       outcomes,
	}); err != nil {
		return err
	}
	if len(failures) > 0 {
		return &ExitError{
			Code:    ExitFailure,
			Message: fmt.Sprintf("%d of %d states not delivered", len(failures), len(states)),
			Silent:  true,
		}
	}
	return nil
}

// resetForRedrive sets states back to initialized and bumps each execution
// version in storage, all in one unit of work. states is replaced with the
// rows as committed, so concurrent redrives never reuse a version.
func resetForRedrive(cmd *cobra.Command, repo *store.StateRepository, smID string, states []ir.State) (err error) {
	ctx := cmd.Context()
	tx, err := repo.Begin(ctx, smID)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ids := make([]int64, 0, len(states))
	for _, st := range states {
		ids = append(ids, st.ID)
	}
	if err := repo.IncrementExecutionVersionTx(ctx, tx, smID, ids); err != nil {
		return err
	}
	if err := repo.UpdateStatusTx(ctx, tx, smID, ids, ir.StatusInitialized); err != nil {
		return err
	}
	reset, err := repo.FindAllStatesForGivenStateIDsTx(ctx, tx, smID, ids)
	if err != nil {
		return err
	}
	if len(reset) != len(states) {
		return fmt.Errorf("reset %s: read back %d of %d states: %w", smID, len(reset), len(states), store.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	copy(states, reset)
	return nil
}

func missingIDs(want []int64, found []ir.State) []int64 {
	var missing []int64
	for _, id := range want {
		if !slices.ContainsFunc(found, func(s ir.State) bool { return s.ID == id }) {
			missing = append(missing, id)
		}
	}
	return missing
}
