package executor

import (
	"path/filepath"
	"strings"

	"github.com/helmsman-dev/helmsman/internal/todo"
)

// Classify assigns an execution scenario to a work item. It is a pure
// rule-based function of the item's text and declared paths; identical
// input always yields the identical scenario and there is no error path.
// Ambiguity resolves to the coding cycle because the test-first cycle is
// the safest default for anything that might touch source code.
func Classify(item *todo.Item) todo.Scenario {
	text := strings.ToLower(item.Title + " " + item.Description)

	exts := collectExtensions(item.AffectedPaths, text)
	if exts.source {
		return todo.ScenarioCoding
	}
	if isDirectQuestion(text) && !exts.docConfig {
		return todo.ScenarioFastPath
	}
	if exts.docConfig {
		return todo.ScenarioNormal
	}
	if hasAny(text, codingSignals) {
		return todo.ScenarioCoding
	}
	if hasAny(text, normalSignals) {
		return todo.ScenarioNormal
	}
	if isShortCommand(text) {
		return todo.ScenarioFastPath
	}
	return todo.ScenarioCoding
}

var sourceExtensions = map[string]struct{}{
	".go": {}, ".rs": {}, ".py": {}, ".js": {}, ".ts": {}, ".jsx": {}, ".tsx": {},
	".java": {}, ".kt": {}, ".swift": {}, ".rb": {}, ".php": {}, ".cs": {},
	".c": {}, ".h": {}, ".cc": {}, ".cpp": {}, ".hpp": {}, ".zig": {},
	".scala": {}, ".ex": {}, ".exs": {}, ".proto": {}, ".sql": {},
}

var docConfigExtensions = map[string]struct{}{
	".md": {}, ".txt": {}, ".rst": {}, ".adoc": {},
	".yaml": {}, ".yml": {}, ".json": {}, ".toml": {}, ".ini": {},
	".cfg": {}, ".conf": {}, ".env": {}, ".html": {}, ".css": {},
}

var codingSignals = []string{
	"implement", "refactor", "fix bug", "failing test", "unit test",
	"endpoint", "function", "compile", "api handler",
}

var normalSignals = []string{
	"readme", "document", "changelog", "docs", "rename file",
	"config", "comment", "typo",
}

var questionPrefixes = []string{
	"what", "why", "how", "which", "who", "when", "where",
	"is ", "are ", "does ", "do ", "can ", "should ",
}

type extensionScan struct {
	source    bool
	docConfig bool
}

func collectExtensions(paths []string, text string) extensionScan {
	var scan extensionScan
	note := func(ext string) {
		if _, ok := sourceExtensions[ext]; ok {
			scan.source = true
		}
		if _, ok := docConfigExtensions[ext]; ok {
			scan.docConfig = true
		}
	}
	for _, p := range paths {
		note(strings.ToLower(filepath.Ext(p)))
	}
	// Filenames mentioned inline count the same as declared paths.
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, ".,;:()[]'\"`")
		if strings.Contains(word, ".") {
			note(strings.ToLower(filepath.Ext(word)))
		}
	}
	return scan
}

func isDirectQuestion(text string) bool {
	trimmed := strings.TrimSpace(text)
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	for _, prefix := range questionPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// isShortCommand treats a terse imperative with no file or coding signal
// as a direct request for output rather than a change.
func isShortCommand(text string) bool {
	return len(strings.Fields(text)) <= 3
}

func hasAny(text string, signals []string) bool {
	for _, s := range signals {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}
