package checkpoint

import "github.com/google/uuid"

// newID generates a process-unique, short opaque identifier: a
// UUIDv4 truncated to its first 8 hex characters.
//
// Collisions within a single process are astronomically unlikely at
// the checkpoint volumes this substrate targets (thousands, not
// billions, per session); a truncated UUID keeps ids short and
// readable in VisualizeTree output while reusing a well-tested id
// library rather than hand-rolling one from crypto/rand.
func newID() string {
	return uuid.New().String()[:8]
}
