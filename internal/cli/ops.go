package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/runtime"
)

// NewOpsCommand creates the ops command.
func NewOpsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List the op table for the current config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.LoadConfig()
			if err != nil {
				return err
			}
			rt, err := runtime.New(cfg, runtime.WithLogger(zap.NewNop()))
			if err != nil {
				return WrapExitError(ExitCommandError, "create runtime", err)
			}
			defer rt.Close()

			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), rt.Ops())
			}
			return writeOps(cmd.OutOrStdout(), rt.Ops())
		},
	}
}

func writeOps(w io.Writer, entries []op.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tNAME")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", e.ID, e.Kind, e.Name)
	}
	return tw.Flush()
}

// NewConfigCommand creates the config command.
func NewConfigCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.LoadConfig()
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), cfg)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), cfg.String())
			return err
		},
	}
}
