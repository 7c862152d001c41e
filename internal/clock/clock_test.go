package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)
	assert.Equal(t, start, f.Now())

	early := f.After(time.Second)
	late := f.After(time.Minute)
	assert.Equal(t, 2, f.Waiters())

	f.Advance(500 * time.Millisecond)
	assert.Empty(t, early)

	f.Advance(500 * time.Millisecond)
	assert.Equal(t, start.Add(time.Second), <-early)
	assert.Equal(t, 1, f.Waiters())

	f.Set(start.Add(time.Hour))
	assert.Equal(t, start.Add(time.Hour), <-late)
	assert.Zero(t, f.Waiters())

	immediate := f.After(0)
	assert.Len(t, immediate, 1)
}

func TestReal(t *testing.T) {
	var c Clock = Real{}
	before := time.Now()
	assert.False(t, c.Now().Before(before))
	<-c.After(time.Millisecond)
}
