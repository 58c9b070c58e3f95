package slack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercase",
			input:    "Budget HALTED for project",
			expected: "budget halted for project",
		},
		{
			name:     "collapse whitespace",
			input:    "circuit   opened\t\tagent\n\ndev",
			expected: "circuit opened agent dev",
		},
		{
			name:     "trim",
			input:    "  hello  ",
			expected: "hello",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "mixed case and whitespace",
			input:    "  ALERT:   agent   dev-1   Timed Out  ",
			expected: "alert: agent dev-1 timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, fingerprint(tt.input))
		})
	}
}
