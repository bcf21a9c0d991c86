// Package id provides unique identifier generation for generation jobs.
package id

import "github.com/google/uuid"

// Generate creates a new opaque job identifier.
// Format: gen-<uuid>. The prefix keeps job IDs recognizable in logs and
// queue keys without encoding any meaning.
func Generate() string {
	return "gen-" + uuid.NewString()
}
