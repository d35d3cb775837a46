package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrimLower(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: nil,
		},
		{
			name:     "normalizes scope casing and whitespace",
			input:    []string{"  Content:Validate ", "admin:security"},
			expected: []string{"content:validate", "admin:security"},
		},
		{
			name:     "removes duplicates preserving order",
			input:    []string{"content:validate", "ADMIN:SECURITY", "content:validate"},
			expected: []string{"content:validate", "admin:security"},
		},
		{
			name:     "drops empty entries",
			input:    []string{"", "  ", "content:validate"},
			expected: []string{"content:validate"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrimLower(tt.input))
		})
	}
}
