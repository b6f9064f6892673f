package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/p2panda/aquadoggo/internal/config"
	"github.com/p2panda/aquadoggo/internal/crypto"
)

// NewKeygenCommand mints (or reports) the node's Ed25519 identity at
// the configured private_key_path, per spec §6 "private key file is
// 32 bytes of raw Ed25519 seed".
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create or display this node's private key file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			pub, _, err := crypto.LoadOrCreateKey(cfg.PrivateKeyPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "public_key: %s\nkey_file: %s\n", pub.String(), cfg.PrivateKeyPath)
			return nil
		},
	}
	return cmd
}
