package urlstrategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCDNStrategy(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		key      string
		expected string
	}{
		{"base with slash", "https://cdn.example.com/", "u1/a.png", "https://cdn.example.com/u1/a.png"},
		{"base without slash", "https://cdn.example.com", "u1/a.png", "https://cdn.example.com/u1/a.png"},
		{"leading slash in key", "https://cdn.example.com", "/u1/a.png", "https://cdn.example.com/u1/a.png"},
		{"empty base", "", "u1/a.png", "u1/a.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NewCDNStrategy(tt.base).PublicURL(tt.key))
		})
	}
}

func TestNewURLStrategy(t *testing.T) {
	s, err := NewURLStrategy(Config{Type: StrategyTypeBucket, Endpoint: "https://storage.googleapis.com", Bucket: "assets"})
	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com/assets/u1/a.png", s.PublicURL("u1/a.png"))

	_, err = NewURLStrategy(Config{Type: StrategyTypeBucket})
	assert.Error(t, err)

	_, err = NewURLStrategy(Config{Type: "nope"})
	assert.Error(t, err)

	s, err = NewURLStrategy(Config{CDNBaseURL: "https://cdn.example.com"})
	require.NoError(t, err)
	assert.IsType(t, &CDNStrategy{}, s)
}
