package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestTokenMatches pins the two required failure paths: a length mismatch
// fails before the comparator runs, and an equal-length mismatch fails inside
// the constant-time comparison. Both must be plain mismatches, never panics.
func TestTokenMatches(t *testing.T) {
	tests := []struct {
		name     string
		supplied string
		secret   string
		want     bool
	}{
		{"exact match", "s3cret-token", "s3cret-token", true},
		{"equal-length mismatch", "s3cret-tokeX", "s3cret-token", false},
		{"equal-length mismatch at first byte", "X3cret-token", "s3cret-token", false},
		{"shorter supplied", "s3c", "s3cret-token", false},
		{"longer supplied", "s3cret-token-plus", "s3cret-token", false},
		{"empty supplied", "", "s3cret-token", false},
		{"empty secret never matches", "anything", "", false},
		{"both empty never match", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenMatches(tt.supplied, tt.secret))
		})
	}
}
