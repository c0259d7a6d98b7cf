// Package scenario defines the load profiles a capacity run executes.
package scenario

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Definition is a named load profile executed once per run.
type Definition struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	TargetUsers     int    `json:"target_users" yaml:"users"`
	DurationSeconds int    `json:"duration_seconds" yaml:"duration"`
	RampSeconds     int    `json:"ramp_seconds" yaml:"ramp_time"`
	Description     string `json:"description" yaml:"description"`
}

// Duration returns the hold phase length.
func (d Definition) Duration() time.Duration {
	return time.Duration(d.DurationSeconds) * time.Second
}

// Ramp returns the ramp-up length.
func (d Definition) Ramp() time.Duration {
	return time.Duration(d.RampSeconds) * time.Second
}

// TotalDuration is ramp up, hold, and ramp down.
func (d Definition) TotalDuration() time.Duration {
	return 2*d.Ramp() + d.Duration()
}

// RampRate is users added per second of ramp. A zero ramp counts as one second.
func (d Definition) RampRate() float64 {
	ramp := d.RampSeconds
	if ramp <= 0 {
		ramp = 1
	}
	return float64(d.TargetUsers) / float64(ramp)
}

// Validate checks a single definition.
func (d Definition) Validate() error {
	if d.ID == "" {
		return errors.New("scenario: id is required")
	}
	if d.TargetUsers <= 0 {
		return fmt.Errorf("scenario %s: target users must be positive, got %d", d.ID, d.TargetUsers)
	}
	if d.DurationSeconds <= 0 {
		return fmt.Errorf("scenario %s: duration must be positive, got %d", d.ID, d.DurationSeconds)
	}
	if d.RampSeconds < 0 {
		return fmt.Errorf("scenario %s: ramp time must not be negative, got %d", d.ID, d.RampSeconds)
	}
	return nil
}

// Table is an ordered set of definitions. Order is execution order.
type Table []Definition

// Validate checks every definition and rejects duplicate IDs.
func (t Table) Validate() error {
	if len(t) == 0 {
		return errors.New("scenario: table is empty")
	}
	seen := make(map[string]bool, len(t))
	for _, d := range t {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.ID] {
			return fmt.Errorf("scenario: duplicate id %q", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

// Smallest returns the definition with the lowest target users.
// Ties resolve to the earliest definition.
func (t Table) Smallest() (Definition, bool) {
	if len(t) == 0 {
		return Definition{}, false
	}
	best := t[0]
	for _, d := range t[1:] {
		if d.TargetUsers < best.TargetUsers {
			best = d
		}
	}
	return best, true
}

// Steepest returns the definition with the highest ramp rate, used to
// provoke scale-out.
func (t Table) Steepest() (Definition, bool) {
	if len(t) == 0 {
		return Definition{}, false
	}
	best := t[0]
	for _, d := range t[1:] {
		if d.RampRate() > best.RampRate() {
			best = d
		}
	}
	return best, true
}

// Get looks up a definition by ID.
func (t Table) Get(id string) (Definition, bool) {
	for _, d := range t {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}

// SortedByUsers returns a copy ordered by ascending target users.
func (t Table) SortedByUsers() Table {
	sorted := make(Table, len(t))
	copy(sorted, t)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TargetUsers < sorted[j].TargetUsers
	})
	return sorted
}

// Defaults returns the standard six-scenario capacity table.
func Defaults() Table {
	return Table{
		{
			ID:              "baseline",
			Name:            "Baseline",
			TargetUsers:     10,
			DurationSeconds: 120,
			RampSeconds:     30,
			Description:     "Low, steady load to establish reference response times",
		},
		{
			ID:              "target_load",
			Name:            "Target Load",
			TargetUsers:     50,
			DurationSeconds: 300,
			RampSeconds:     60,
			Description:     "Expected production concurrency",
		},
		{
			ID:              "stress_test",
			Name:            "Stress Test",
			TargetUsers:     100,
			DurationSeconds: 300,
			RampSeconds:     120,
			Description:     "Twice the expected concurrency",
		},
		{
			ID:              "spike_test",
			Name:            "Spike Test",
			TargetUsers:     200,
			DurationSeconds: 120,
			RampSeconds:     10,
			Description:     "Sudden burst of users with almost no ramp",
		},
		{
			ID:              "break_point",
			Name:            "Break Point",
			TargetUsers:     500,
			DurationSeconds: 300,
			RampSeconds:     180,
			Description:     "Push well past expected load to find the failure point",
		},
		{
			ID:              "sustained_load",
			Name:            "Sustained Load",
			TargetUsers:     75,
			DurationSeconds: 1800,
			RampSeconds:     120,
			Description:     "Above-target load held long enough to surface leaks",
		},
	}
}
