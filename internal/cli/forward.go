package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/flux/internal/dispatch"
	"github.com/roach88/flux/internal/ir"
)

// ForwardOptions holds flags for the forward command.
type ForwardOptions struct {
	*RootOptions
	Endpoint string
	File     string
}

// ForwardResult is the output of the forward command.
type ForwardResult struct {
	MessageID      string `json:"message_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Endpoint       string `json:"endpoint"`
	Result         string `json:"result"`
	Error          string `json:"error,omitempty"`
}

func (r ForwardResult) String() string {
	s := fmt.Sprintf("%s\t%s\t%s", r.MessageID, r.Endpoint, r.Result)
	if r.Error != "" {
		s += "\t" + r.Error
	}
	return s + "\n"
}

// NewForwardCommand creates the forward command.
func NewForwardCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ForwardOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "forward",
		Short: "Send a task execution message to an execution node",
		Long: `Send one task execution message, in its JSON wire form, to a remote
execution node and report the result: ok, rejected, delivery_failed or
timeout. A message without an id is given a fresh one.

No state is read or written.

Example:
  flux forward --endpoint node-7 --file ./message.json
  cat message.json | flux forward --endpoint http://10.0.0.7:8080 --file -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForward(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Endpoint, "endpoint", "", "execution node alias or URL (required)")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "message JSON file, - for stdin (required)")
	_ = cmd.MarkFlagRequired("endpoint")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runForward(opts *ForwardOptions, cmd *cobra.Command) error {
	data, err := readInput(cmd, opts.File)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read input", err)
	}
	msg, err := ir.DecodeMessage(data)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to decode input", err)
	}
	if msg.ID == "" {
		msg.ID = opts.messageIDs().Generate()
	}
	key, err := msg.IdempotencyKey()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode message", err)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	d := dispatch.NewHTTPDispatcher(append(cfg.DispatcherOptions(), dispatch.WithLogger(opts.log()))...)
	if _, err := d.Resolve(opts.Endpoint); err != nil {
		return WrapExitError(ExitCommandError, "invalid arguments", err)
	}

	code, err := d.Forward(cmd.Context(), opts.Endpoint, msg)
	result := ForwardResult{
		MessageID:      msg.ID,
		IdempotencyKey: key,
		Endpoint:       opts.Endpoint,
		Result:         code.String(),
	}
	if err != nil {
		result.Error = err.Error()
	}

	if err := opts.formatter(cmd).Success(result); err != nil {
		return err
	}
	if code != dispatch.ResultOK {
		return &ExitError{Code: ExitFailure, Message: "message not delivered", Err: err, Silent: true}
	}
	return nil
}
