package jobrunner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressThrottleFirstAndLastAlwaysAllowed(t *testing.T) {
	th := newProgressThrottle()
	assert.True(t, th.allow(0))
	assert.True(t, th.allow(100))
}

func TestProgressThrottleSuppressesRapidSmallDeltas(t *testing.T) {
	th := newProgressThrottle()
	assert.True(t, th.allow(1))
	assert.False(t, th.allow(2)) // <1s elapsed even though delta is 1%
}

func TestProgressThrottleAllowsAfterElapsedAndDelta(t *testing.T) {
	th := newProgressThrottle()
	a := assert.New(t)
	a.True(th.allow(1))

	th.mu.Lock()
	th.lastWrite = th.lastWrite.Add(-2 * time.Second)
	th.mu.Unlock()

	a.True(th.allow(5))
}
