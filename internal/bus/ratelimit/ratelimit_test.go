package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNopAllowsEverything(t *testing.T) {
	var l Limiter = Nop{}
	for range 100 {
		assert.True(t, l.Allow("tick"))
	}
}

func TestPerNameBurst(t *testing.T) {
	l := NewPerName(0.01, 2)

	assert.True(t, l.Allow("tick"))
	assert.True(t, l.Allow("tick"))
	assert.False(t, l.Allow("tick"), "burst exhausted")

	t.Run("names do not share buckets", func(t *testing.T) {
		assert.True(t, l.Allow("tock"))
	})
}

func TestPerNameUnlimitedDefault(t *testing.T) {
	l := NewPerName(0, 0)
	for range 100 {
		assert.True(t, l.Allow("tick"))
	}
}

func TestPerNameOverride(t *testing.T) {
	l := NewPerName(0.01, 1)
	l.SetLimit("hot", 0.01, 3)

	assert.True(t, l.Allow("hot"))
	assert.True(t, l.Allow("hot"))
	assert.True(t, l.Allow("hot"))
	assert.False(t, l.Allow("hot"))

	assert.True(t, l.Allow("cold"))
	assert.False(t, l.Allow("cold"), "default burst still applies elsewhere")

	t.Run("override replaces the bucket", func(t *testing.T) {
		l.SetLimit("hot", 0, 0)
		assert.True(t, l.Allow("hot"), "a non-positive rate admits everything")
	})
}
