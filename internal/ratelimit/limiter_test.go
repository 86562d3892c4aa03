package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowRespectsBurstThenDenies(t *testing.T) {
	l := NewLimiter(1, 2)

	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"), "burst of 2 exhausted")
}

func TestAllowIsIndependentPerKey(t *testing.T) {
	l := NewLimiter(1, 1)

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "a different key must have its own bucket")
}

func TestTokensReflectsConsumption(t *testing.T) {
	l := NewLimiter(1, 3)
	before := l.Tokens("k")
	l.Allow("k")
	after := l.Tokens("k")
	assert.Less(t, after, before)
}
