package loadtest

// AutoScalingStatus is the outcome of the auto-scaling check.
type AutoScalingStatus string

const (
	AutoScalingTriggered    AutoScalingStatus = "triggered"
	AutoScalingNotTriggered AutoScalingStatus = "not_triggered"
	AutoScalingSkipped      AutoScalingStatus = "skipped"
	AutoScalingFailed       AutoScalingStatus = "failed"
)

// AutoScalingResult records whether a steep ramp made the target add
// replicas.
type AutoScalingResult struct {
	Status          AutoScalingStatus `json:"status"`
	ScenarioID      string            `json:"scenario_id,omitempty"`
	InitialReplicas *float64          `json:"initial_replicas,omitempty"`
	PeakReplicas    *float64          `json:"peak_replicas,omitempty"`
	Scenario        *ScenarioResult   `json:"scenario,omitempty"`
	Note            string            `json:"note,omitempty"`
}

// Triggered reports whether replicas increased during the run.
func (r *AutoScalingResult) Triggered() bool {
	return r != nil && r.Status == AutoScalingTriggered
}
