package tasks

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityNormalize(t *testing.T) {
	assert.Equal(t, PriorityHigh, PriorityHigh.Normalize())
	assert.Equal(t, PriorityLow, PriorityLow.Normalize())
	assert.Equal(t, PriorityNormal, Priority(7).Normalize())
	assert.Equal(t, PriorityNormal, Priority(-1).Normalize())
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
		ok   bool
	}{
		{"high", PriorityHigh, true},
		{"normal", PriorityNormal, true},
		{"default", PriorityNormal, true},
		{"", PriorityNormal, true},
		{"low", PriorityLow, true},
		{"urgent", PriorityNormal, false},
	}
	for _, tt := range tests {
		got, ok := ParsePriority(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateActive.Terminal())
	assert.False(t, StateRetrying.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCanceled.Terminal())
	assert.Equal(t, "unknown", State(42).String())
}

func TestTaskJSON(t *testing.T) {
	task := Task{
		ID:       "task_1",
		Priority: PriorityHigh,
		State:    StateRetrying,
		Attempts: 2,
		Metadata: map[string]any{"type": "email"},
	}

	data, err := json.Marshal(task)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"priority":"high"`)
	assert.Contains(t, string(data), `"state":"retrying"`)

	var decoded Task
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, PriorityHigh, decoded.Priority)
	assert.Equal(t, StateRetrying, decoded.State)
	assert.Equal(t, "email", decoded.Type())
}

func TestTaskType(t *testing.T) {
	assert.Equal(t, "unknown", Task{}.Type())
	assert.Equal(t, "unknown", Task{Metadata: map[string]any{"type": 3}}.Type())
	assert.Equal(t, "slow", Task{Metadata: map[string]any{"type": "slow"}}.Type())
}
