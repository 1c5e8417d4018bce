package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/flux/internal/config"
	"github.com/roach88/flux/internal/dispatch"
	"github.com/roach88/flux/internal/shard"
	"github.com/roach88/flux/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // path to the YAML config; empty uses config.Default()

	// MessageIDs overrides the message id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	MessageIDs dispatch.IDGenerator

	logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the flux CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flux",
		Short: "flux - sharded state machine store",
		Long: `Operate the sharded state machine store: route state machine ids to
shards, inspect and repair state, and forward task execution messages to
remote execution nodes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			opts.logger = newLogger(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to config file (default: single local shard)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewRouteCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewStatesCommand(opts))
	cmd.AddCommand(NewErroredCommand(opts))
	cmd.AddCommand(NewRedriveCommand(opts))
	cmd.AddCommand(NewForwardCommand(opts))

	return cmd
}

// Execute runs the CLI with args and returns the process exit code.
// Errors are reported through the output formatter.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return execute(ctx, &RootOptions{}, args, stdout, stderr)
}

func execute(ctx context.Context, opts *RootOptions, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	isExit := errors.As(err, &exitErr)
	if !isExit || !exitErr.Silent {
		out := &OutputFormatter{Format: opts.Format, Writer: stdout, ErrWriter: stderr, Verbose: opts.Verbose}
		if !slices.Contains(ValidFormats, out.Format) {
			out.Format = "text"
		}
		_ = out.Error(ErrorCode(err), err.Error(), nil)
	}
	if isExit {
		return exitErr.Code
	}
	// Flag and argument errors come from cobra itself.
	return ExitCommandError
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *RootOptions) log() *slog.Logger {
	if o.logger == nil {
		return slog.Default()
	}
	return o.logger
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) messageIDs() dispatch.IDGenerator {
	if o.MessageIDs == nil {
		return dispatch.UUIDv7Generator{}
	}
	return o.MessageIDs
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	if o.Config == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// env is an opened topology: the config, its partition table and the
// repository over every shard.
type env struct {
	cfg    *config.Config
	table  *shard.Table
	shards *store.Shards
	repo   *store.StateRepository
	logger *slog.Logger
}

// openEnv opens every shard database of the configured topology, creating
// missing parent directories.
func (o *RootOptions) openEnv() (*env, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	table, err := cfg.Table()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid topology", err)
	}

	logger := o.log()
	specs := cfg.ShardSpecs()
	for _, spec := range specs {
		if spec.Path == ":memory:" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(spec.Path), 0o755); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to create shard directory", err)
		}
	}

	logger.Debug("opening shards", "count", len(specs))
	shards, err := store.OpenShards(specs, store.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open shards", err)
	}
	repo, err := store.NewStateRepository(table, shards, store.WithRepositoryLogger(logger))
	if err != nil {
		shards.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open repository", err)
	}
	return &env{cfg: cfg, table: table, shards: shards, repo: repo, logger: logger}, nil
}

func (e *env) Close() {
	if err := e.shards.Close(); err != nil {
		e.logger.Error("error closing shards", "error", err)
	}
}

// failed maps a repository error onto an exit code: a missing record is
// an operation failure, anything else a command error.
func failed(message string, err error) error {
	if store.IsNotFound(err) {
		return WrapExitError(ExitFailure, message, err)
	}
	return WrapExitError(ExitCommandError, message, err)
}
