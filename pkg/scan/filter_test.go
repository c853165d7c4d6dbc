package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := map[string]string{
		"HTTP://Example.TEST":                 "http://example.test/",
		"https://example.test:443/a?b=1#frag": "https://example.test/a?b=1",
		"http://example.test:8080/x":          "http://example.test:8080/x",
		"http://[::1]:80/":                    "http://[::1]/",
	}
	for in, want := range tests {
		u, err := Canonicalize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, u.String(), in)
	}

	_, err := Canonicalize("")
	assert.ErrorIs(t, err, ErrInvalidURL)
	_, err = Canonicalize("no-scheme.test/path")
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestFilterAdmit(t *testing.T) {
	f, err := NewFilter([]string{"corp.example", "*.cdn.example"})
	require.NoError(t, err)

	tests := []struct {
		url   string
		admit bool
	}{
		{"http://example.test/a", true},
		{"https://phish.example.net/login", true},
		{"http://8.8.8.8/", true},
		{"chrome://extensions/", false},
		{"about:blank", false},
		{"file:///etc/passwd", false},
		{"http://localhost:3000/", false},
		{"http://127.0.0.1/", false},
		{"http://10.1.2.3/", false},
		{"http://192.168.0.1/admin", false},
		{"http://[::1]/", false},
		{"http://printer.local/", false},
		{"http://api.internal/", false},
		{"https://corp.example/", false},
		{"https://wiki.eu.corp.example/", false},
		{"https://img.cdn.example/", false},
		{"https://a.b.cdn.example/", true},
		{"https://notcorp.example/", true},
	}
	for _, tt := range tests {
		_, reason, err := f.Admit(tt.url)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.admit, reason == "", tt.url)
	}
}
