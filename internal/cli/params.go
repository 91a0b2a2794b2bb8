package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/k7/internal/loadtest"
	"github.com/wesleyorama2/k7/internal/loadtest/config"
)

// paramFlags are the test parameter flags shared by commands that load a
// test definition.
type paramFlags struct {
	env      []string
	vus      int
	rampUp   string
	duration string
}

// register adds -e. With shortcuts it also adds --vus, --rampup and
// --duration.
func (p *paramFlags) register(cmd *cobra.Command, shortcuts bool) {
	cmd.Flags().StringArrayVarP(&p.env, "env", "e", nil, "Test parameter as KEY=VALUE (repeatable)")
	if !shortcuts {
		return
	}
	cmd.Flags().IntVar(&p.vus, "vus", 0, "Shortcut for -e VUS=N")
	cmd.Flags().StringVar(&p.rampUp, "rampup", "", "Shortcut for -e RAMPUP=D")
	cmd.Flags().StringVar(&p.duration, "duration", "", "Shortcut for -e DURATION=D")
}

// params returns the parsed parameters. Shortcut flags win over -e.
func (p *paramFlags) params() (config.Params, error) {
	params, err := config.ParseParams(p.env)
	if err != nil {
		return config.Params{}, &loadtest.ConfigurationError{Err: err}
	}
	if p.vus > 0 {
		params = params.With(config.ParamVUs, strconv.Itoa(p.vus))
	}
	if p.rampUp != "" {
		params = params.With(config.ParamRampUp, p.rampUp)
	}
	if p.duration != "" {
		params = params.With(config.ParamDuration, p.duration)
	}
	return params, nil
}

// loadConfig reads the test definition at path.
func loadConfig(path string, params config.Params) (*config.TestConfig, error) {
	cfg, err := config.LoadConfig(path, params)
	if err != nil {
		return nil, &loadtest.ConfigurationError{Err: err}
	}
	return cfg, nil
}
