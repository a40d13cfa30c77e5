package queue

import (
	"math"
	"testing"
	"time"

	"github.com/guido-cesarano/goqueue/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(id string, p tasks.Priority) *job {
	return &job{task: tasks.Task{ID: id, Priority: p}}
}

func popIDs(p *pendingStore) []string {
	var ids []string
	for j := p.Pop(); j != nil; j = p.Pop() {
		ids = append(ids, j.task.ID)
	}
	return ids
}

func TestPendingStoreLanes(t *testing.T) {
	p := newPendingStore()
	p.Push(newJob("n1", tasks.PriorityNormal))
	p.Push(newJob("l1", tasks.PriorityLow))
	p.Push(newJob("h1", tasks.PriorityHigh))
	p.Push(newJob("n2", tasks.PriorityNormal))
	p.Push(newJob("h2", tasks.PriorityHigh))
	p.PushFront(newJob("r1", tasks.PriorityLow))
	p.PushFront(newJob("r2", tasks.PriorityNormal))

	assert.Equal(t, 7, p.Len())
	assert.Equal(t, []string{"r2", "r1", "h1", "h2", "n1", "l1", "n2"}, popIDs(p))
	assert.Equal(t, 0, p.Len())
	assert.Nil(t, p.Pop())
}

func TestPendingStoreRemove(t *testing.T) {
	p := newPendingStore()
	p.Push(newJob("a", tasks.PriorityNormal))
	p.Push(newJob("b", tasks.PriorityHigh))
	p.PushFront(newJob("c", tasks.PriorityNormal))

	require.NotNil(t, p.Get("b"))
	removed := p.Remove("b")
	require.NotNil(t, removed)
	assert.Equal(t, "b", removed.task.ID)
	assert.Nil(t, p.Remove("b"))
	assert.False(t, p.Has("b"))

	assert.NotNil(t, p.Remove("c"))
	assert.Equal(t, []string{"a"}, popIDs(p))
}

func TestPendingStoreDrain(t *testing.T) {
	p := newPendingStore()
	p.Push(newJob("a", tasks.PriorityNormal))
	p.Push(newJob("b", tasks.PriorityHigh))

	drained := p.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "b", drained[0].task.ID)
	assert.Equal(t, 0, p.Len())
	assert.False(t, p.Has("a"))

	p.Push(newJob("a", tasks.PriorityNormal))
	assert.Equal(t, []string{"a"}, popIDs(p))
}

func TestBackoff(t *testing.T) {
	fixed := FixedBackoff{Delay: 10}
	assert.EqualValues(t, 10, fixed.Next(1))
	assert.EqualValues(t, 10, fixed.Next(9))

	linear := LinearBackoff{Base: 100, Step: 50}
	assert.EqualValues(t, 100, linear.Next(1))
	assert.EqualValues(t, 200, linear.Next(3))
	assert.EqualValues(t, 100, linear.Next(0))

	exp := ExponentialBackoff{Base: 100, Max: 1000}
	assert.EqualValues(t, 100, exp.Next(1))
	assert.EqualValues(t, 200, exp.Next(2))
	assert.EqualValues(t, 800, exp.Next(4))
	assert.EqualValues(t, 1000, exp.Next(5))
	assert.EqualValues(t, 1000, exp.Next(100))
}

func TestExponentialBackoffSaturates(t *testing.T) {
	uncapped := ExponentialBackoff{Base: time.Hour}
	assert.Equal(t, time.Hour<<4, uncapped.Next(5))
	assert.Equal(t, time.Duration(math.MaxInt64), uncapped.Next(32))
	assert.Equal(t, time.Duration(math.MaxInt64), uncapped.Next(1000))

	capped := ExponentialBackoff{Base: time.Hour, Max: 24 * time.Hour}
	assert.Equal(t, 24*time.Hour, capped.Next(32))
}
