package testfixtures

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock(t *testing.T) {
	clock := NewClock(time.Time{})
	assert.True(t, clock.Now().Equal(ReferenceTime()))

	assert.Equal(t, ReferenceTime().Add(90*time.Minute), clock.Advance(90*time.Minute))

	later := ReferenceTime().Add(48 * time.Hour)
	clock.Set(later)
	assert.Equal(t, later, clock.Now())
}

func TestIDGenerator(t *testing.T) {
	gen := NewIDGenerator("")
	assert.Equal(t, "r-1", gen.Next())
	assert.Equal(t, "r-2", gen.Next())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gen.Next()
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(12), gen.Issued())
}
