package permission

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Rule is one user-granted "always allow" grant, scoped to a pattern in
// the Claude settings format: "Read", "Bash(git *)", "Edit(src/*)".
type Rule struct {
	Pattern   string     `yaml:"pattern"`
	GrantedAt time.Time  `yaml:"granted_at"`
	ExpiresAt *time.Time `yaml:"expires_at,omitempty"`
}

// RuleSet is the persisted form. Version increments on every change so
// concurrent writers can detect stale saves.
type RuleSet struct {
	ProjectID string    `yaml:"project_id"`
	Version   int       `yaml:"version"`
	Rules     []Rule    `yaml:"rules"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// RuleStore keeps the active rule set in memory, persists it to a yaml
// file, and hot-reloads when the file changes on disk (e.g. edited by
// hand or synced from another host).
type RuleStore struct {
	mu   sync.RWMutex
	path string
	set  RuleSet
}

func NewRuleStore(path, projectID string) (*RuleStore, error) {
	s := &RuleStore{
		path: path,
		set:  RuleSet{ProjectID: projectID},
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

func (s *RuleStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return err
	}
	s.mu.Lock()
	s.set = set
	s.mu.Unlock()
	return nil
}

func (s *RuleStore) save() error {
	s.mu.Lock()
	s.set.Version++
	s.set.UpdatedAt = time.Now()
	data, err := yaml.Marshal(&s.set)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Grant adds an always-allow rule and persists the set.
func (s *RuleStore) Grant(pattern string, ttl time.Duration) error {
	rule := Rule{Pattern: pattern, GrantedAt: time.Now()}
	if ttl > 0 {
		expires := rule.GrantedAt.Add(ttl)
		rule.ExpiresAt = &expires
	}
	s.mu.Lock()
	s.set.Rules = append(s.set.Rules, rule)
	s.mu.Unlock()
	return s.save()
}

// Matches reports whether any live rule covers the request. Expired
// rules never match; they are pruned lazily on the next save.
func (s *RuleStore) Matches(req Request) bool {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rule := range s.set.Rules {
		if rule.ExpiresAt != nil && now.After(*rule.ExpiresAt) {
			continue
		}
		if matchRule(rule.Pattern, req) {
			return true
		}
	}
	return false
}

func (s *RuleStore) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Version
}

// Watch reloads the rule file when it changes on disk. It blocks until
// ctx is cancelled. The parent directory is watched because atomic
// writes replace the inode.
func (s *RuleStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	name := filepath.Base(s.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	const debounce = 100 * time.Millisecond
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if err := s.load(); err != nil {
					slog.Warn("failed to reload permission rules", "path", s.path, "error", err)
					return
				}
				slog.Info("permission rules reloaded", "path", s.path, "version", s.Version())
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("permission rule watcher error", "error", err)
		}
	}
}

// matchRule checks a "Tool" or "Tool(pattern)" rule against a request.
// Bash rules match the command line; path-taking tools match the target
// path.
func matchRule(rule string, req Request) bool {
	tool, pattern, hasPattern := parseRule(rule)
	if tool != req.Tool {
		return false
	}
	if !hasPattern {
		return true
	}
	if req.Kind == OpBash {
		return matchGlob(pattern, req.Command)
	}
	return matchGlob(pattern, req.TargetPath)
}

// parseRule splits "Bash(git *)" into ("Bash", "git *", true). A rule
// without a well-formed pattern suffix is treated as a bare tool name.
func parseRule(rule string) (tool, pattern string, hasPattern bool) {
	idx := strings.Index(rule, "(")
	if idx < 0 || !strings.HasSuffix(rule, ")") {
		return rule, "", false
	}
	return rule[:idx], rule[idx+1 : len(rule)-1], true
}

// matchGlob performs simple glob matching where "*" matches any sequence
// of characters and multiple wildcards are supported.
func matchGlob(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == "" {
		return value == ""
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	value = value[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(value, parts[i])
		if idx < 0 {
			return false
		}
		value = value[idx+len(parts[i]):]
	}
	return strings.HasSuffix(value, parts[len(parts)-1])
}
