package session

import "time"

// ProjectIdentity is a stable fingerprint of a working tree. Sessions
// carry it so a resumed conversation can never silently cross into a
// different project.
type ProjectIdentity struct {
	ProjectID   string `yaml:"project_id"`
	ProjectRoot string `yaml:"project_root"`
	Worktree    string `yaml:"worktree,omitempty"`
}

type HistoryEntry struct {
	Role    string    `yaml:"role"`
	Content string    `yaml:"content"`
	At      time.Time `yaml:"at"`
}

type Session struct {
	ID           string         `yaml:"id"`
	ProjectID    string         `yaml:"project_id"`
	ProjectRoot  string         `yaml:"project_root"`
	Worktree     string         `yaml:"worktree,omitempty"`
	CurrentStage string         `yaml:"current_stage,omitempty"`
	History      []HistoryEntry `yaml:"history,omitempty"`
	CreatedAt    time.Time      `yaml:"created_at"`
	UpdatedAt    time.Time      `yaml:"updated_at"`
}
