package cli

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/k7/internal/loadtest/engine"
	"github.com/wesleyorama2/k7/internal/loadtest/output"
	"github.com/wesleyorama2/k7/internal/loadtest/scheduler"
)

type planOptions struct {
	*rootOptions
	params paramFlags
	json   bool
}

// planView is the JSON form of a plan.
type planView struct {
	Name          string             `json:"name"`
	MaxVUs        int                `json:"maxVUs"`
	TotalDuration time.Duration      `json:"totalDuration"`
	Windows       []scheduler.Window `json:"windows"`
	Steps         []scheduler.Step   `json:"steps"`
}

func newPlanCmd(root *rootOptions) *cobra.Command {
	opts := &planOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "plan <file>",
		Short: "Print the execution plan of a test without running it",
		Long: `Print the tag windows, the planned VU steps and the peak VU count of a
test. Nothing is sent to the target.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := opts.params.params()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(args[0], params)
			if err != nil {
				return err
			}
			eng, err := engine.NewEngine(cfg)
			if err != nil {
				return err
			}
			plan := eng.Plan()

			if opts.json {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(planView{
					Name:          cfg.Name,
					MaxVUs:        plan.MaxVUs(),
					TotalDuration: plan.TotalDuration(),
					Windows:       plan.Windows(nil),
					Steps:         plan.Steps(),
				})
			}
			output.NewConsole(output.Config{Writer: cmd.OutOrStdout()}).PrintPlan(cfg.Name, plan)
			return nil
		},
	}
	opts.params.register(cmd, true)
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the plan as JSON")
	return cmd
}
