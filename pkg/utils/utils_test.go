package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidSlug(t *testing.T) {
	tests := []struct {
		slug string
		want bool
	}{
		{"acme", true},
		{"acme-books-2", true},
		{"a", false},
		{"-acme", false},
		{"Acme", false},
		{"acme books", false},
		{"", false},
		{"0b9e2a34-5f7c-4d1e-9a6b-3c2d1e0f4a5b", false},
		{"0b9e2a345f7c4d1e9a6b3c2d1e0f4a5b", false},
		{"0b9e2a34-5f7c-4d1e-9a6b", true},
	}
	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidSlug(tt.slug))
		})
	}
}

func TestNormalizeSlug(t *testing.T) {
	assert.Equal(t, "acme", NormalizeSlug("  ACME "))
}

func TestPublicIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := PublicID()
		_, dup := seen[id]
		assert.False(t, dup, "duplicate public id %s", id)
		seen[id] = struct{}{}
	}
}
