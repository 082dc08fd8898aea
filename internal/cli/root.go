// Package cli implements the opcore command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/wippyai/opcore/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config  string
	Verbose bool
	Format  string // "text" | "json"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "opcore",
		Short: "Run Lua scripts on the opcore kernel",
		Long: `opcore runs Lua scripts against an op kernel: scripts call into Go through
sync and async ops, hold resources by id and await pending work on an event
loop.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewOpsCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewExploreCommand(opts))

	return cmd
}

// LoadConfig reads the --config file, or the defaults when none is given,
// and applies --verbose.
func (o *RootOptions) LoadConfig() (*config.Config, error) {
	cfg := config.Default()
	if o.Config != "" {
		loaded, err := config.Load(o.Config)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "load config", err)
		}
		cfg = loaded
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}
