package util

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffWithJitter(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	min := 100 * time.Millisecond
	max := 2 * time.Second

	for attempt := 0; attempt < 20; attempt++ {
		got := BackoffWithJitter(attempt, 2, min, max, 50*time.Millisecond, rng)
		assert.GreaterOrEqual(t, got, min, "attempt %d", attempt)
		assert.LessOrEqual(t, got, max, "attempt %d", attempt)
	}
}

func TestBackoffWithJitter_Grows(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	min := 10 * time.Millisecond
	max := time.Minute

	first := BackoffWithJitter(0, 2, min, max, time.Millisecond, rng)
	fifth := BackoffWithJitter(4, 2, min, max, time.Millisecond, rng)

	assert.LessOrEqual(t, first, 11*time.Millisecond)
	assert.GreaterOrEqual(t, fifth, 160*time.Millisecond)
}

func TestBackoffWithJitter_MaxNotAboveMin(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.Equal(t, time.Second, BackoffWithJitter(3, 2, time.Second, time.Second, 0, rng))
}
