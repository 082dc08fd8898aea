package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/opcore/runtime"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Eval    string
	Timeout time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [script.lua]",
		Short: "Run a script until its event loop drains",
		Long: `Run executes a Lua script, then drives pending ops until none keep the
loop alive. The exit code is 1 when the script raises an error it does not
handle.

Example:
  opcore run main.lua
  opcore run -e 'core.print(core.opSync("op_random_uuid"))'
  opcore run --config opcore.yaml --timeout 30s server.lua`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case opts.Eval != "" && len(args) == 1:
				return NewExitError(ExitCommandError, "pass a script or --eval, not both")
			case opts.Eval == "" && len(args) == 0:
				return NewExitError(ExitCommandError, "no script given")
			}
			return runScript(cmd, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.Eval, "eval", "e", "", "run this source instead of a file")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "abort the event loop after this long (0 waits forever)")

	return cmd
}

func runScript(cmd *cobra.Command, opts *RunOptions, args []string) error {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}

	rt, err := runtime.New(cfg, runtime.WithStdio(cmd.OutOrStdout(), cmd.ErrOrStderr()))
	if err != nil {
		return WrapExitError(ExitCommandError, "create runtime", err)
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	if opts.Eval != "" {
		err = rt.Run(ctx, "<eval>", opts.Eval)
	} else {
		err = rt.RunFile(ctx, args[0])
	}

	m := rt.Metrics()
	rt.Logger().Debug("script finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Uint64("ops", m.OpsDispatched),
		zap.Uint64("async", m.OpsDispatchedAsync))

	if err != nil {
		return WrapExitError(ExitFailure, "script failed", err)
	}
	return nil
}
