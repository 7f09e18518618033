package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewEpisodeID returns a random UUID for a played game
func NewEpisodeID() string {
	return uuid.NewString()
}

// EpisodeIDFromSource returns a UUID drawn from a seeded source, so runs with the
// same seed label their episodes identically.
func EpisodeIDFromSource(r *RandSource) string {
	var b [16]byte
	for i := 0; i < 16; i += 8 {
		v := uint64(r.Int63())<<1 | uint64(r.Intn(2))
		for j := 0; j < 8; j++ {
			b[i+j] = byte(v >> (8 * j))
		}
	}
	id, err := uuid.FromBytes(b[:])
	if err != nil {
		return NewEpisodeID()
	}
	// Stamp version 4 / RFC 4122 variant bits
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id.String()
}

// GenerateRunID generates a run ID with a timestamp prefix
func GenerateRunID() string {
	timestamp := time.Now().Format("20060102-150405")
	b := make([]byte, 4)
	_, err := rand.Read(b)
	if err != nil {
		return fmt.Sprintf("run-%s-%s", timestamp, uuid.NewString()[:8])
	}
	return fmt.Sprintf("run-%s-%s", timestamp, hex.EncodeToString(b))
}
