package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/flux/internal/ir"
)

// ErroredOptions holds flags for the errored command.
type ErroredOptions struct {
	*RootOptions
	Name     string
	Shard    int
	All      bool
	From     string
	To       string
	Since    time.Duration
	Statuses string
}

// ErroredResult is the output of the errored command.
type ErroredResult struct {
	Criteria ir.FSMStatusCriteria `json:"criteria"`
	States   []ir.StateStatus     `json:"states"`
}

func (r ErroredResult) String() string {
	var b strings.Builder
	for _, s := range r.States {
		fmt.Fprintf(&b, "%s\t%d\t%s\n", s.StateMachineID, s.StateID, statusText(s.Status))
	}
	fmt.Fprintf(&b, "%d states\n", len(r.States))
	return b.String()
}

// NewErroredCommand creates the errored command.
func NewErroredCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ErroredOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "errored",
		Short: "List errored states of a state machine type",
		Long: `List the states of the state machines named --name, created within a
time window, whose status is errored (or one of --status).

The window is [--from, --to], both inclusive, in RFC 3339. Without --from
it starts --since before --to; without --to it ends now. One shard is
queried (--shard) unless --all scans every shard.

Example:
  flux errored --name order --shard 0
  flux errored --name order --all --since 1h
  flux errored --name order --all --status errored,sidelined`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runErrored(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "state machine name (required)")
	cmd.Flags().IntVar(&opts.Shard, "shard", 0, "shard to query")
	cmd.Flags().BoolVar(&opts.All, "all", false, "query every shard")
	cmd.Flags().StringVar(&opts.From, "from", "", "window start (RFC 3339)")
	cmd.Flags().StringVar(&opts.To, "to", "", "window end (RFC 3339, default now)")
	cmd.Flags().DurationVar(&opts.Since, "since", 24*time.Hour, "window length when --from is not set")
	cmd.Flags().StringVar(&opts.Statuses, "status", string(ir.StatusErrored), "comma separated statuses")
	_ = cmd.MarkFlagRequired("name")
	cmd.MarkFlagsMutuallyExclusive("shard", "all")

	return cmd
}

func runErrored(opts *ErroredOptions, cmd *cobra.Command) error {
	criteria, err := opts.criteria(time.Now())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid arguments", err)
	}

	e, err := opts.openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := cmd.Context()
	var states []ir.StateStatus
	switch {
	case opts.All:
		states, err = e.repo.ScanStatesByStatus(ctx, criteria)
	case isOnlyErrored(criteria.Statuses):
		states, err = e.repo.FindErroredStates(ctx, criteria.Shard, criteria.StateMachineName,
			criteria.FromTime, criteria.ToTime)
	default:
		states, err = e.repo.FindStatesByStatus(ctx, criteria)
	}
	if err != nil {
		return failed("failed to find states", err)
	}

	return opts.formatter(cmd).Success(ErroredResult{Criteria: criteria, States: states})
}

func (o *ErroredOptions) criteria(now time.Time) (ir.FSMStatusCriteria, error) {
	statuses, err := ir.ParseStatuses(o.Statuses)
	if err != nil {
		return ir.FSMStatusCriteria{}, err
	}

	to := now.UTC()
	if o.To != "" {
		if to, err = time.Parse(time.RFC3339Nano, o.To); err != nil {
			return ir.FSMStatusCriteria{}, fmt.Errorf("--to: %w", err)
		}
	}
	from := to.Add(-o.Since)
	if o.From != "" {
		if from, err = time.Parse(time.RFC3339Nano, o.From); err != nil {
			return ir.FSMStatusCriteria{}, fmt.Errorf("--from: %w", err)
		}
	}
	if from.After(to) {
		return ir.FSMStatusCriteria{}, fmt.Errorf("window start %s is after end %s", from, to)
	}

	return ir.FSMStatusCriteria{
		Shard:            ir.ShardID(o.Shard),
		StateMachineName: o.Name,
		FromTime:         from,
		ToTime:           to,
		Statuses:         statuses,
	}, nil
}

func isOnlyErrored(statuses []ir.Status) bool {
	return len(statuses) == 1 && statuses[0] == ir.StatusErrored
}
