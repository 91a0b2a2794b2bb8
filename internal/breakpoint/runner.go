package breakpoint

import (
	"context"
	"strconv"
	"time"

	"github.com/wesleyorama2/k7/internal/loadtest"
	"github.com/wesleyorama2/k7/internal/loadtest/config"
	"github.com/wesleyorama2/k7/internal/loadtest/engine"
)

// EngineRunner returns a Runner that loads the test definition at path
// with VUS set to the run's load and RAMPUP and DURATION set to rampUp
// and duration, then executes it. A run passes when the test passes.
// Configuration and setup errors stop the search.
func EngineRunner(path string, params config.Params, rampUp, duration time.Duration, opts ...engine.Option) Runner {
	params = params.
		With(config.ParamRampUp, rampUp.String()).
		With(config.ParamDuration, duration.String())

	return func(ctx context.Context, vus int) (bool, error) {
		cfg, err := config.LoadConfig(path, params.With(config.ParamVUs, strconv.Itoa(vus)))
		if err != nil {
			return false, &loadtest.ConfigurationError{Err: err}
		}
		eng, err := engine.NewEngine(cfg, opts...)
		if err != nil {
			return false, err
		}
		result, err := eng.Run(ctx)
		if err != nil {
			return false, err
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return result.Passed, nil
	}
}
