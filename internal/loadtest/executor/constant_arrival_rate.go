package executor

import "time"

// ConstantArrivalRate returns the config of a constant-arrival-rate
// executor: rate iterations per timeUnit for d, with VUs allocated between
// preAllocated and maxVUs.
func ConstantArrivalRate(name string, rate float64, timeUnit, d time.Duration, preAllocated, maxVUs int) *Config {
	return &Config{
		Name:            name,
		Type:            TypeConstantArrivalRate,
		Rate:            rate,
		TimeUnit:        timeUnit,
		Duration:        d,
		PreAllocatedVUs: preAllocated,
		MaxVUs:          maxVUs,
	}
}
