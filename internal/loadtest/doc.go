// Package loadtest drives an external load generator for one scenario at a
// time and turns its raw output into comparable metrics.
//
// # Drivers
//
// A Driver materializes the generator's configuration for a scenario and
// describes the process to start:
//
//   - K6Driver renders a k6 script with ramp, hold and ramp-down stages and
//     collects `--out json=` output.
//   - VegetaDriver writes an http targets file and pipes a constant-rate
//     attack through `vegeta encode -to=json`.
//
// Every process receives API_BASE, FRONTEND_BASE, API_TOKEN and SCENARIO_ID
// in its environment.
//
// # Running
//
//	runner, err := loadtest.NewRunner(loadtest.NewK6Driver(""), loadtest.NewExecutor(), loadtest.RunnerConfig{
//	    Target: loadtest.Target{BaseURL: "http://localhost:8080", APIPaths: []string{"/health"}},
//	}, logger)
//	defer runner.Close()
//
//	result := runner.Run(ctx, def)
//	if !result.Success {
//	    fmt.Println(result.Error)
//	}
//
// Run blocks until the process exits or the per-scenario deadline (ramp up,
// hold, ramp down plus a grace period) passes. Failures never panic or
// return errors; they come back as a ScenarioResult with Success false.
//
// # Parsing
//
// ParseK6 and ParseVegeta read line-delimited JSON. Malformed lines are
// skipped and counted. A source that cannot be read, or whose every line is
// malformed, yields a *ParseError. Percentiles index the ascending sample
// list at floor(n*p). Throughput divides by the configured hold duration.
//
// # Baseline framing
//
// CompareToBaseline reports response time and throughput ratios against the
// reference run along with a pass, degraded or fail status.
package loadtest
