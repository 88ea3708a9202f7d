package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// A governor at speed 1 grows to ceil(1*1.2) = 2 after a successful window.
func TestGrowSpeed_S1Scenario(t *testing.T) {
	assert.Equal(t, uint64(2), growSpeed(1, 10_000_000))
}

func TestGrowSpeed_ClampsToMax(t *testing.T) {
	assert.Equal(t, uint64(100), growSpeed(95, 100))
}

func TestGrowSpeed_NeverZero(t *testing.T) {
	assert.Equal(t, uint64(1), growSpeed(0, 0))
}

func TestShrinkSpeed_FloorsAndClampsToMin(t *testing.T) {
	assert.Equal(t, uint64(2), shrinkSpeed(5, 1))
	assert.Equal(t, uint64(5), shrinkSpeed(6, 5))
}

func TestShrinkSpeed_NeverBelowMin(t *testing.T) {
	assert.Equal(t, uint64(1), shrinkSpeed(1, 1))
}
