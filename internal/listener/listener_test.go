package listener

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(2 * time.Second)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 3*time.Second)
	}
	d := jitter(0)
	assert.GreaterOrEqual(t, d, 500*time.Millisecond)
	assert.Less(t, d, 1500*time.Millisecond)
}
