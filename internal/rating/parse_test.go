package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRatings(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []int
	}{
		{
			name:     "bare list",
			input:    "[10,11,73,30,60]",
			expected: []int{10, 11, 73, 30, 60},
		},
		{
			name:     "whitespace inside",
			input:    "[ 10 , 11,\n73 ]",
			expected: []int{10, 11, 73},
		},
		{
			name:     "leading and trailing text",
			input:    "Here are the ratings:\n[50, 72, 0, 100]\nHope this helps!",
			expected: []int{50, 72, 0, 100},
		},
		{
			name:     "code fence",
			input:    "```python\n[1,2,3]\n```",
			expected: []int{1, 2, 3},
		},
		{
			name:     "last list wins",
			input:    "First try [1,2] no wait, [3,4,5]",
			expected: []int{3, 4, 5},
		},
		{
			name:     "malformed trailing group is ignored",
			input:    "[9,8,7] [see above]",
			expected: []int{9, 8, 7},
		},
		{
			name:     "empty list",
			input:    "[]",
			expected: []int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRatings(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseRatings_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty response", input: ""},
		{name: "no brackets", input: "10, 20, 30"},
		{name: "floats", input: "[10.5, 20]"},
		{name: "words", input: "[ten, twenty]"},
		{name: "trailing comma", input: "[10, 20,]"},
		{name: "unclosed", input: "[1, 2, 3"},
		{name: "out of range high", input: "[50, 101]"},
		{name: "out of range low", input: "[-1, 50]"},
		{name: "overflow", input: "[99999999999999999999999]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRatings(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestParseRatings_NoList(t *testing.T) {
	_, err := ParseRatings("I can't rate these.")
	assert.ErrorIs(t, err, ErrNoRatings)
}
