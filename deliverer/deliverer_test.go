package deliverer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryableStatusCodes(t *testing.T) {
	retryableCodes := []int{408, 425, 429, 500, 502, 503, 504}
	for _, code := range retryableCodes {
		assert.True(t, retryable(code, nil), "status %d should be retryable", code)
	}

	nonRetryable := []int{400, 401, 403, 404, 409, 422}
	for _, code := range nonRetryable {
		assert.False(t, retryable(code, nil), "status %d should not be retryable", code)
	}

	assert.True(t, retryable(0, errors.New("connection reset")))
}

func TestSuccessRange(t *testing.T) {
	assert.True(t, success(200))
	assert.True(t, success(299))
	assert.False(t, success(199))
	assert.False(t, success(300))
	assert.False(t, success(503))
}

func TestBackoffDelayWithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialDelay = 2 * time.Second
	cfg.MaxDelay = 60 * time.Second

	for attempt := 1; attempt <= 10; attempt++ {
		base := float64(cfg.InitialDelay) * pow2(attempt-1)
		want := base
		if want > float64(cfg.MaxDelay) {
			want = float64(cfg.MaxDelay)
		}
		lower := time.Duration(0.8 * want)
		upper := time.Duration(1.2 * want)

		for i := 0; i < 20; i++ {
			d := backoffDelay(cfg, attempt)
			assert.GreaterOrEqual(t, d, lower)
			assert.LessOrEqual(t, d, upper)
		}
	}
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	cfg := DefaultConfig()
	d := backoffDelay(cfg, 20)
	assert.LessOrEqual(t, d, time.Duration(1.2*float64(cfg.MaxDelay)))
}
