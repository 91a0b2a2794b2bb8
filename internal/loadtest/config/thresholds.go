package config

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/k7/internal/loadtest/threshold"
)

// Thresholds maps a metric key such as "http_req_duration{rampUp:false}"
// to its expressions.
type Thresholds map[string][]ThresholdSpec

// ThresholdSpec is one expression. It is written either as a bare string
// ("p(95)<1000") or as an object with abort options.
type ThresholdSpec struct {
	Threshold      string `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool   `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval string `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

type thresholdSpecFields ThresholdSpec

// UnmarshalYAML accepts a scalar expression or a mapping.
func (t *ThresholdSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*t = ThresholdSpec{Threshold: node.Value}
		return nil
	}
	var fields thresholdSpecFields
	if err := node.Decode(&fields); err != nil {
		return err
	}
	*t = ThresholdSpec(fields)
	return nil
}

// UnmarshalJSON accepts a string expression or an object.
func (t *ThresholdSpec) UnmarshalJSON(b []byte) error {
	var expr string
	if err := json.Unmarshal(b, &expr); err == nil {
		*t = ThresholdSpec{Threshold: expr}
		return nil
	}
	var fields thresholdSpecFields
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("threshold must be a string or an object: %w", err)
	}
	*t = ThresholdSpec(fields)
	return nil
}

// Definitions converts the thresholds into evaluator definitions, ordered
// by key so that summaries are stable.
func (t Thresholds) Definitions() ([]threshold.Definition, error) {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var defs []threshold.Definition
	for _, key := range keys {
		for _, spec := range t[key] {
			delay, err := ParseDurationString(spec.DelayAbortEval)
			if err != nil {
				return nil, fmt.Errorf("thresholds.%s: invalid delayAbortEval: %w", key, err)
			}
			defs = append(defs, threshold.Definition{
				Key:            key,
				Expression:     spec.Threshold,
				AbortOnFail:    spec.AbortOnFail,
				DelayAbortEval: delay,
			})
		}
	}
	return defs, nil
}
