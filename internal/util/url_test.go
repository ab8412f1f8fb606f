package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormaliseDomain(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"https://www.wired.com/story/some-piece", "wired.com"},
		{"wired.com", "wired.com"},
		{"WIRED.COM", "wired.com"},
		{"https://example.com:8443/path", "example.com"},
		{"news.example.com", "example.com"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormaliseDomain(tt.input))
		})
	}
}

func TestNormaliseURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"http://example.com/path", "https://example.com/path"},
		{"https://example.com/path", "https://example.com/path"},
		{"example.com/path", "https://example.com/path"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormaliseURL(tt.input))
		})
	}
}
