package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeqClock_Sequence(t *testing.T) {
	c := NewSeqClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())

	c.Reset()
	assert.Equal(t, int64(1), c.Next())
}

func TestSeqClock_Step(t *testing.T) {
	c := NewSeqClockFrom(100, 10)
	assert.Equal(t, int64(110), c.Next())
	assert.Equal(t, int64(120), c.Next())
	c.Reset()
	assert.Equal(t, int64(100), c.Current())
}

func TestSeqClock_ConcurrentUnique(t *testing.T) {
	c := NewSeqClock()
	const n = 200
	seen := make(chan int64, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- c.Next()
		}()
	}
	wg.Wait()
	close(seen)

	set := make(map[int64]bool)
	for v := range seen {
		set[v] = true
	}
	assert.Len(t, set, n)
	assert.Equal(t, int64(n), c.Current())
}

func TestLogBuilder_Example(t *testing.T) {
	l := ExampleLog(t)
	require.Equal(t, 6, l.Len())

	t1, ok := l.Trace("t1")
	require.True(t, ok)
	assert.Equal(t, []string{"a1", "a2", "b1"}, t1.Labels())
	assert.Equal(t, int64(1), t1.Events[0].Seq)

	t2, _ := l.Trace("t2")
	assert.Equal(t, int64(4), t2.Events[0].Seq)
	assert.Equal(t, "B", t2.Events[2].ComponentID)
}

func TestSplitStep(t *testing.T) {
	c, l := SplitStep("B:b1")
	assert.Equal(t, "B", c)
	assert.Equal(t, "b1", l)

	c, l = SplitStep("open")
	assert.Equal(t, "main", c)
	assert.Equal(t, "open", l)
}

func TestFixedRunIDs(t *testing.T) {
	g := NewFixedRunIDs("r1", "r2")
	assert.Equal(t, "r1", g.Generate())
	assert.Equal(t, "r2", g.Generate())
	assert.Equal(t, "r2", g.Generate())

	assert.Equal(t, "run-test", NewFixedRunIDs().Generate())
}
