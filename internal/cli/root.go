// Package cli is the node's command-line surface: config loading,
// wiring every internal package together, and process lifecycle
// (signals, exit codes per spec §6). Grounded on
// roach88-nysm/internal/cli's root-command-plus-subcommands
// structure (root.go carrying shared flags, one file per subcommand).
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds flags shared by every subcommand.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand builds the aquadoggo-node command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "aquadoggo-node",
		Short: "aquadoggo-node runs a content-addressed, append-only log network node",
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file (defaults built-in if omitted)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug-level logging")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewKeygenCommand(opts))

	return cmd
}
