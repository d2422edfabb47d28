package common

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDGenerator_NextStartsAfterStart(t *testing.T) {
	g := NewIDGenerator(41)
	assert.Equal(t, uint64(42), g.Next())
	assert.Equal(t, uint64(43), g.Next())
}

func TestIDGenerator_CurrentDoesNotConsume(t *testing.T) {
	g := NewIDGenerator(0)
	g.Next()
	assert.Equal(t, uint64(1), g.Current())
	assert.Equal(t, uint64(1), g.Current())
}

func TestIDGenerator_ResetResumesFromLast(t *testing.T) {
	g := NewIDGenerator(0)
	g.Next()
	g.Reset(100)
	assert.Equal(t, uint64(101), g.Next())
}

func TestIDGenerator_NextIsSafeForConcurrentUse(t *testing.T) {
	g := NewIDGenerator(0)
	var wg sync.WaitGroup
	seen := make(chan uint64, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- g.Next()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]bool)
	for id := range seen {
		assert.False(t, unique[id], "id %d handed out twice", id)
		unique[id] = true
	}
	assert.Len(t, unique, 100)
}
