package permission

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		// Exact match
		{"foo", "foo", true},
		{"foo", "bar", false},
		{"foo", "foobar", false},

		// Wildcard only
		{"*", "anything", true},
		{"*", "", true},

		// Trailing wildcard
		{"git *", "git status", true},
		{"git *", "git commit -m x", true},
		{"git *", "git", false},

		// Leading wildcard
		{"*.go", "main.go", true},
		{"*.go", "main.py", false},

		// Middle wildcard
		{"git * --force", "git push --force", true},
		{"git * --force", "git push origin main --force", true},
		{"git * --force", "git push", false},

		// Multiple wildcards
		{"*test*", "run test suite", true},
		{"*test*", "testing", true},
		{"*test*", "foo", false},

		// Empty pattern
		{"", "", true},
		{"", "foo", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.value, func(t *testing.T) {
			if got := matchGlob(tt.pattern, tt.value); got != tt.want {
				t.Errorf("matchGlob(%q, %q) = %v, want %v", tt.pattern, tt.value, got, tt.want)
			}
		})
	}
}

func TestParseRule(t *testing.T) {
	tests := []struct {
		rule       string
		tool       string
		pattern    string
		hasPattern bool
	}{
		{"Bash(git *)", "Bash", "git *", true},
		{"Read", "Read", "", false},
		{"Edit(src/*.go)", "Edit", "src/*.go", true},
		{"Bash(echo (hi))", "Bash", "echo (hi)", true},
		{"Broken(", "Broken(", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			tool, pattern, hasPattern := parseRule(tt.rule)
			if tool != tt.tool || pattern != tt.pattern || hasPattern != tt.hasPattern {
				t.Errorf("parseRule(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.rule, tool, pattern, hasPattern, tt.tool, tt.pattern, tt.hasPattern)
			}
		})
	}
}

func TestRuleStoreGrantAndMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".helmsman", "permissions.yaml")
	store, err := NewRuleStore(path, "proj-1")
	require.NoError(t, err)

	req := Request{Tool: "bash", Kind: OpBash, Command: "git status"}
	assert.False(t, store.Matches(req))

	require.NoError(t, store.Grant("bash(git *)", 0))
	assert.True(t, store.Matches(req))
	assert.False(t, store.Matches(Request{Tool: "bash", Kind: OpBash, Command: "npm install"}))

	// Persisted set survives a reload.
	reloaded, err := NewRuleStore(path, "proj-1")
	require.NoError(t, err)
	assert.True(t, reloaded.Matches(req))
	assert.Equal(t, store.Version(), reloaded.Version())
}

func TestRuleStoreExpiry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "permissions.yaml")
	store, err := NewRuleStore(path, "proj-1")
	require.NoError(t, err)

	require.NoError(t, store.Grant("bash(ls *)", time.Nanosecond))
	time.Sleep(10 * time.Millisecond)
	assert.False(t, store.Matches(Request{Tool: "bash", Kind: OpBash, Command: "ls -la"}),
		"expired rule must not match")
}
