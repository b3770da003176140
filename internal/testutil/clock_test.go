package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSteppingClock(t *testing.T) {
	start := time.Unix(100, 0)
	c := NewSteppingClock(start, time.Second)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Second), c.Now())
	assert.Equal(t, start.Add(2*time.Second), c.Now())
}

func TestSteppingClock_Set(t *testing.T) {
	c := NewSteppingClock(time.Unix(100, 0), time.Second)
	c.Now()

	jump := time.Unix(500, 0)
	c.Set(jump)
	assert.Equal(t, jump, c.Now())
}
