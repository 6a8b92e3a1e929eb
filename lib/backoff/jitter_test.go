package backoff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJitterMs(t *testing.T) {
	for i := 0; i < 100; i++ {
		ms := JitterMs(300, 5_000, 2)
		assert.GreaterOrEqual(t, ms, 0)
		assert.Less(t, ms, 5_000)
	}
}

func TestJitterMs_CapsAtMax(t *testing.T) {
	ms := JitterMs(300, 1_000, 10)
	assert.Less(t, ms, 1_000)
}

func TestJitterMs_NegativeAttempts(t *testing.T) {
	assert.NotPanics(t, func() {
		JitterMs(300, 5_000, -1)
	})
}
