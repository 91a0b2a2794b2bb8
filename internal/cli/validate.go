package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/k7/internal/loadtest/engine"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	var params paramFlags
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a test definition for errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := params.params()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(args[0], p)
			if err != nil {
				return err
			}
			eng, err := engine.NewEngine(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid: %d scenario(s), peak %d VUs, %s\n",
				args[0], len(cfg.Scenarios), eng.Plan().MaxVUs(), eng.Plan().TotalDuration())
			return nil
		},
	}
	params.register(cmd, true)
	return cmd
}
