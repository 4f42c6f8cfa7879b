// Package runner executes a measurement scenario.
//
// A scenario is an ordered list of actions. The runner executes them one
// after another against the same server and collects one [Outcome] per
// action into a [Report]:
//
//	r := runner.New(runner.Options{
//		Measurements: []runner.Measurement{latencyM, downloadM},
//		Retry:        runner.RetryPolicy{MaxAttempts: 2, DelayFunc: runner.ExponentialBackoff(100*time.Millisecond, 5*time.Second)},
//	})
//	report := r.Run(ctx)
//
// # Measurements
//
// A [Measurement] wraps one of the measurement engines. [Bandwidth],
// [Latency] and [Streaming] adapt the engines and build a fresh engine
// for every attempt, so a failed attempt can be retried.
//
// # Retries
//
// An attempt is retried when Run returns an error and the policy allows it.
// Results that merely report poor quality (loss, lag, low throughput) are
// not errors and are never retried.
//
// # Live status
//
// [Runner.Status] publishes the current action, its progress and the live
// value of the running engine (speed, latency) for progress lines and the
// dashboard.
package runner
