package utilities

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDGenerator_Unique(t *testing.T) {
	g := NewIDGenerator(3)

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				id := g.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1600)
}

func TestIDGenerator_InvalidNodeFallsBack(t *testing.T) {
	g := NewIDGenerator(-5)
	require.NotNil(t, g)
	assert.NotEmpty(t, g.Next())
}

func TestIDGenerator_NilUsesKSUID(t *testing.T) {
	var g *IDGenerator
	assert.Len(t, g.Next(), 27)
}
