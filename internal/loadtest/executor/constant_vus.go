package executor

import "time"

// ConstantVUs returns the config of a constant-vus executor: vus looping
// VUs for d.
//
// Use cases:
//   - Holding a steady load after a separate ramp-up scenario
//   - Soak tests
func ConstantVUs(name string, vus int, d time.Duration) *Config {
	return &Config{
		Name:     name,
		Type:     TypeConstantVUs,
		VUs:      vus,
		Duration: d,
	}
}
