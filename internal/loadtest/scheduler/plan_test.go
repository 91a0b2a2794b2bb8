package scheduler_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/k7/internal/loadtest"
	"github.com/wesleyorama2/k7/internal/loadtest/executor"
	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
	"github.com/wesleyorama2/k7/internal/loadtest/scheduler"
)

// maxRPSSpecs mirrors the bundled backend max-rps test: a ramp to vus over
// rampUp followed by vus constant VUs for hold.
func maxRPSSpecs(vus int, rampUp, hold time.Duration) []scheduler.ScenarioSpec {
	return []scheduler.ScenarioSpec{
		{
			Scenario: &loadtest.Scenario{Name: "rampUp", Tags: metrics.Tags{metrics.TagRampUp: "true"}},
			Executor: &executor.Config{
				Type:   executor.TypeRampingVUs,
				Stages: []executor.Stage{{Duration: rampUp, Target: vus}},
			},
		},
		{
			Scenario:  &loadtest.Scenario{Name: "instantLoad", Tags: metrics.Tags{metrics.TagRampUp: "false"}},
			Executor:  executor.ConstantVUs("instantLoad", vus, hold),
			StartTime: rampUp,
		},
	}
}

func TestBuildPlan_MaxRPS(t *testing.T) {
	plan, err := scheduler.BuildPlan(maxRPSSpecs(450, 5*time.Second, 60*time.Second))
	require.NoError(t, err)

	steady := plan.Windows(metrics.Tags{metrics.TagRampUp: "false"})
	require.Len(t, steady, 1)
	assert.Equal(t, "instantLoad", steady[0].Scenario)
	assert.Equal(t, 5*time.Second, steady[0].Start)
	assert.Equal(t, 60*time.Second, steady[0].Duration())
	assert.Equal(t, 450, steady[0].FromVUs)

	ramp := plan.Windows(metrics.Tags{metrics.TagRampUp: "true"})
	require.Len(t, ramp, 1)
	assert.Equal(t, 5*time.Second, ramp[0].Duration())

	assert.LessOrEqual(t, plan.MaxVUs(), 450)
	assert.Equal(t, 450, plan.MaxVUs())
	assert.Equal(t, 65*time.Second, plan.TotalDuration())

	assert.Equal(t, 0, plan.VUsAt(0))
	assert.Equal(t, 225, plan.VUsAt(2500*time.Millisecond))
	assert.Equal(t, 450, plan.VUsAt(30*time.Second))
	assert.Equal(t, 0, plan.VUsAt(65*time.Second))
}

func TestBuildPlan_DerivedRampUpWindows(t *testing.T) {
	specs := []scheduler.ScenarioSpec{{
		Scenario: &loadtest.Scenario{Name: "ramping"},
		Executor: &executor.Config{
			Type: executor.TypeRampingVUs,
			Stages: []executor.Stage{
				{Duration: 5 * time.Second, Target: 10},
				{Duration: 10 * time.Second, Target: 20},
				{Duration: 60 * time.Second, Target: 20},
				{Duration: 30 * time.Second, Target: 20},
				{Duration: 5 * time.Second, Target: 0},
			},
		},
	}}
	plan, err := scheduler.BuildPlan(specs)
	require.NoError(t, err)

	windows := plan.Windows(nil)
	require.Len(t, windows, 3)
	assert.True(t, windows[0].RampUp)
	assert.Equal(t, 15*time.Second, windows[0].Duration())
	assert.False(t, windows[1].RampUp)
	assert.Equal(t, 90*time.Second, windows[1].Duration())
	assert.Equal(t, "false", windows[1].Tags[metrics.TagRampUp])
	assert.Equal(t, "ramping", windows[1].Tags[metrics.TagScenario])
	assert.True(t, windows[2].RampUp)

	assert.Equal(t, 20, plan.MaxVUs())
	steps := plan.Steps()
	assert.Equal(t, time.Duration(0), steps[0].Offset)
	assert.Equal(t, 0, steps[len(steps)-1].PlannedVUs)
	assert.Equal(t, 110*time.Second, steps[len(steps)-1].Offset)
}

func TestBuildPlan_OverlapCountsBothSides(t *testing.T) {
	specs := []scheduler.ScenarioSpec{
		{
			Scenario: &loadtest.Scenario{Name: "a"},
			Executor: executor.ConstantVUs("a", 10, 10*time.Second),
		},
		{
			Scenario:  &loadtest.Scenario{Name: "b"},
			Executor:  executor.ConstantVUs("b", 5, 10*time.Second),
			StartTime: 5 * time.Second,
		},
		{
			Scenario: &loadtest.Scenario{Name: "c"},
			Executor: &executor.Config{
				Type:   executor.TypeRampingArrivalRate,
				MaxVUs: 3,
				Stages: []executor.Stage{{Duration: 20 * time.Second, Target: 100}},
			},
		},
	}
	plan, err := scheduler.BuildPlan(specs)
	require.NoError(t, err)
	assert.Equal(t, 18, plan.MaxVUs())
	assert.Equal(t, 8, plan.VUsAt(12*time.Second))
}

func TestBuildPlan_Errors(t *testing.T) {
	tests := []struct {
		name  string
		specs []scheduler.ScenarioSpec
	}{
		{"empty", nil},
		{"negative start", []scheduler.ScenarioSpec{{
			Scenario:  &loadtest.Scenario{Name: "a"},
			Executor:  executor.ConstantVUs("a", 1, time.Second),
			StartTime: -time.Second,
		}}},
		{"unknown executor", []scheduler.ScenarioSpec{{
			Scenario: &loadtest.Scenario{Name: "a"},
			Executor: &executor.Config{Type: "per-vu-iterations"},
		}}},
		{"negative target", []scheduler.ScenarioSpec{{
			Scenario: &loadtest.Scenario{Name: "a"},
			Executor: &executor.Config{Type: executor.TypeRampingVUs, Stages: []executor.Stage{{Duration: time.Second, Target: -1}}},
		}}},
		{"duplicate", []scheduler.ScenarioSpec{
			{Scenario: &loadtest.Scenario{Name: "a"}, Executor: executor.ConstantVUs("a", 1, time.Second)},
			{Scenario: &loadtest.Scenario{Name: "a"}, Executor: executor.ConstantVUs("a", 1, time.Second)},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scheduler.BuildPlan(tt.specs)
			var cfgErr *loadtest.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}
