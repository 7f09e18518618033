// Package experience retains recent episodes and persists per-iteration reward rows.
package experience

import (
	"fmt"
	"sync"

	"github.com/GoSim-25-26J-441/agent-tuner/pkg/models"
)

// Buffer is a bounded FIFO of episodes. Adding past capacity evicts the oldest.
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	episodes []models.Episode
}

// NewBuffer creates a buffer holding at most capacity episodes
func NewBuffer(capacity int) (*Buffer, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("buffer capacity must be positive, got %d", capacity)
	}
	return &Buffer{
		capacity: capacity,
		episodes: make([]models.Episode, 0, capacity),
	}, nil
}

// Add appends episodes in order, then drops the oldest until the buffer fits
func (b *Buffer) Add(episodes []models.Episode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.episodes = append(b.episodes, episodes...)
	if over := len(b.episodes) - b.capacity; over > 0 {
		kept := make([]models.Episode, b.capacity)
		copy(kept, b.episodes[over:])
		b.episodes = kept
	}
}

// Len returns the number of retained episodes
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.episodes)
}

// Capacity returns the maximum number of retained episodes
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Snapshot returns the retained episodes, oldest first
func (b *Buffer) Snapshot() []models.Episode {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Episode, len(b.episodes))
	copy(out, b.episodes)
	return out
}
