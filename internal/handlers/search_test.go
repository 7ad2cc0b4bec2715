package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"simple", "deploy pipeline", []string{"deploy", "pipeline"}},
		{"dedupes and lowercases", "Deploy DEPLOY deploy", []string{"deploy"}},
		{"drops stopwords and short words", "the a deployment of x", []string{"deployment"}},
		{"strips punctuation", "what's broken, exactly?", []string{"what", "broken", "exactly"}},
		{"caps at five tokens", "one two three four five six seven", []string{"one", "two", "three", "four", "five"}},
		{"empty", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenize(tt.input))
		})
	}
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Alice", sanitizeName("  Alice  "))
	assert.Equal(t, "AliceBob", sanitizeName("Alice\x00\tBob"))
	long := make([]byte, 150)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, sanitizeName(string(long)), 100)
}
