package executor

import (
	"testing"

	"github.com/helmsman-dev/helmsman/internal/todo"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		title string
		desc  string
		paths []string
		want  todo.Scenario
	}{
		{
			name:  "source file in title",
			title: "modify auth.rs",
			want:  todo.ScenarioCoding,
		},
		{
			name:  "documentation file",
			title: "update README.md",
			want:  todo.ScenarioNormal,
		},
		{
			name:  "direct question",
			title: "what version is this?",
			want:  todo.ScenarioFastPath,
		},
		{
			name:  "declared go paths",
			title: "add health check endpoint",
			paths: []string{"internal/server.go"},
			want:  todo.ScenarioCoding,
		},
		{
			name:  "coding signal without extension",
			title: "implement retry logic for the uploader",
			want:  todo.ScenarioCoding,
		},
		{
			name:  "config change",
			title: "bump the timeout in config.yaml",
			want:  todo.ScenarioNormal,
		},
		{
			name:  "question about a source file is still coding",
			title: "why does parser.go leak goroutines? fix it",
			want:  todo.ScenarioCoding,
		},
		{
			name:  "short command",
			title: "show git status",
			want:  todo.ScenarioFastPath,
		},
		{
			name:  "docs keyword",
			title: "rewrite the architecture docs section on caching",
			want:  todo.ScenarioNormal,
		},
		{
			name:  "ambiguous defaults to coding",
			title: "make the uploader faster and more reliable somehow",
			want:  todo.ScenarioCoding,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := &todo.Item{Title: tt.title, Description: tt.desc, AffectedPaths: tt.paths}
			if got := Classify(item); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.title, got, tt.want)
			}
		})
	}
}

// Classification is pure: the same input always yields the same answer.
func TestClassifyDeterministic(t *testing.T) {
	item := &todo.Item{
		Title:         "refactor the scheduler",
		Description:   "split scheduler.go into planner and runner",
		AffectedPaths: []string{"internal/scheduler/scheduler.go"},
	}
	first := Classify(item)
	for i := 0; i < 100; i++ {
		if got := Classify(item); got != first {
			t.Fatalf("classification changed between calls: %s then %s", first, got)
		}
	}
}
