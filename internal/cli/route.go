package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/flux/internal/ir"
)

// Placement is where one state machine id lives.
type Placement struct {
	StateMachineID string     `json:"state_machine_id"`
	Bucket         int        `json:"bucket"`
	Shard          ir.ShardID `json:"shard"`
	Path           string     `json:"path"`
}

// RouteResult is the output of the route command.
type RouteResult struct {
	Placements []Placement `json:"placements"`
}

func (r RouteResult) String() string {
	var b strings.Builder
	for _, p := range r.Placements {
		fmt.Fprintf(&b, "%s\tbucket %d\t%s\t%s\n", p.StateMachineID, p.Bucket, p.Shard, p.Path)
	}
	return b.String()
}

// NewRouteCommand creates the route command.
func NewRouteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "route <state-machine-id>...",
		Short: "Show which shard state machine ids route to",
		Long: `Print the hash bucket, shard and database file every state machine id
routes to under the configured topology. No database is opened.

Example:
  flux route --config ./flux.yaml wf-1 wf-2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoute(rootOpts, args, cmd)
		},
	}
}

func runRoute(opts *RootOptions, ids []string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	table, err := cfg.Table()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid topology", err)
	}

	paths := make(map[ir.ShardID]string)
	for _, spec := range cfg.ShardSpecs() {
		paths[spec.ID] = spec.Path
	}

	var result RouteResult
	for _, id := range ids {
		bucket, err := table.Bucket(id)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to route "+id, err)
		}
		sh, err := table.Route(id)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to route "+id, err)
		}
		result.Placements = append(result.Placements, Placement{
			StateMachineID: id,
			Bucket:         bucket,
			Shard:          sh,
			Path:           paths[sh],
		})
	}

	return opts.formatter(cmd).Success(result)
}
