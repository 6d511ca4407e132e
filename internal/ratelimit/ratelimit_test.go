package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnlimitedAlwaysAllows(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	for i := 0; i < 1000; i++ {
		assert.True(t, r.Allow("e1", 0, now))
	}
}

func TestBucketExhaustsThenRefills(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	for i := 0; i < 5; i++ {
		assert.True(t, r.Allow("e1", 5, now), "burst capacity should admit up to the configured rate")
	}
	assert.False(t, r.Allow("e1", 5, now), "bucket should be exhausted within the same instant")

	later := now.Add(time.Second)
	assert.True(t, r.Allow("e1", 5, later), "one second later the bucket should have refilled")
}

func TestBucketsAreIndependentPerEndpoint(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	assert.True(t, r.Allow("e1", 1, now))
	assert.False(t, r.Allow("e1", 1, now))
	assert.True(t, r.Allow("e2", 1, now))
}
