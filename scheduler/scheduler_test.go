package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorBackoff_DoublesPerFailure(t *testing.T) {
	assert.Equal(t, 5*time.Second, errorBackoff(1))
	assert.Equal(t, 10*time.Second, errorBackoff(2))
	assert.Equal(t, 20*time.Second, errorBackoff(3))
}

func TestErrorBackoff_CapsAtFiveMinutes(t *testing.T) {
	assert.Equal(t, 5*time.Minute, errorBackoff(20))
}
