package scenario

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	table := Defaults()

	require.NoError(t, table.Validate())
	require.Len(t, table, 6)

	ids := make([]string, len(table))
	for i, d := range table {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"baseline", "target_load", "stress_test", "spike_test", "break_point", "sustained_load"}, ids)

	spike, ok := table.Get("spike_test")
	require.True(t, ok)
	assert.Equal(t, 200, spike.TargetUsers)
	assert.Equal(t, 10, spike.RampSeconds)
}

func TestDefinition_Durations(t *testing.T) {
	d := Definition{ID: "x", TargetUsers: 100, DurationSeconds: 300, RampSeconds: 120}

	assert.Equal(t, 5*time.Minute, d.Duration())
	assert.Equal(t, 2*time.Minute, d.Ramp())
	assert.Equal(t, 9*time.Minute, d.TotalDuration())
	assert.InDelta(t, 100.0/120.0, d.RampRate(), 1e-9)

	d.RampSeconds = 0
	assert.Equal(t, 100.0, d.RampRate())
}

func TestDefinition_Validate(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		ok   bool
	}{
		{"valid", Definition{ID: "a", TargetUsers: 1, DurationSeconds: 1}, true},
		{"missing id", Definition{TargetUsers: 1, DurationSeconds: 1}, false},
		{"zero users", Definition{ID: "a", DurationSeconds: 1}, false},
		{"zero duration", Definition{ID: "a", TargetUsers: 1}, false},
		{"negative ramp", Definition{ID: "a", TargetUsers: 1, DurationSeconds: 1, RampSeconds: -1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestTable_Validate(t *testing.T) {
	assert.Error(t, Table{}.Validate())

	dup := Table{
		{ID: "a", TargetUsers: 1, DurationSeconds: 1},
		{ID: "a", TargetUsers: 2, DurationSeconds: 1},
	}
	assert.ErrorContains(t, dup.Validate(), "duplicate")
}

func TestTable_Selection(t *testing.T) {
	table := Defaults()

	smallest, ok := table.Smallest()
	require.True(t, ok)
	assert.Equal(t, "baseline", smallest.ID)

	steepest, ok := table.Steepest()
	require.True(t, ok)
	assert.Equal(t, "spike_test", steepest.ID)

	sorted := table.SortedByUsers()
	for i := 1; i < len(sorted); i++ {
		assert.LessOrEqual(t, sorted[i-1].TargetUsers, sorted[i].TargetUsers)
	}
	assert.Equal(t, "baseline", table[0].ID, "SortedByUsers must not reorder the receiver")
	assert.Equal(t, "sustained_load", sorted[2].ID)

	_, ok = Table{}.Smallest()
	assert.False(t, ok)
	_, ok = table.Get("nope")
	assert.False(t, ok)
}

func TestDefinition_YAML(t *testing.T) {
	var table Table
	err := yaml.Unmarshal([]byte(`
- id: soak
  name: Soak
  users: 40
  duration: 3600
  ramp_time: 300
`), &table)

	require.NoError(t, err)
	require.Len(t, table, 1)
	assert.Equal(t, Definition{ID: "soak", Name: "Soak", TargetUsers: 40, DurationSeconds: 3600, RampSeconds: 300}, table[0])
}
