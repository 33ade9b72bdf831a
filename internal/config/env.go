package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3200"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".helmsman/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"helmsman/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

// RunEnv holds the knobs of the orchestration loop. The red-attempt limit
// is deliberately configurable rather than a constant: it controls when a
// stalling test-first cycle degrades to the normal cycle.
type RunEnv struct {
	// Model is passed through to the model CLI; empty uses its default.
	Model              string        `envconfig:"MODEL" default:""`
	RoundBudget        int           `envconfig:"ROUND_BUDGET" default:"16"`
	RedAttemptLimit    int           `envconfig:"RED_ATTEMPT_LIMIT" default:"2"`
	ToolRetryLimit     int           `envconfig:"TOOL_RETRY_LIMIT" default:"2"`
	LLMTimeout         time.Duration `envconfig:"LLM_TIMEOUT" default:"5m"`
	ToolTimeout        time.Duration `envconfig:"TOOL_TIMEOUT" default:"2m"`
	CompressThreshold  float64       `envconfig:"COMPRESS_THRESHOLD" default:"0.8"`
	ModelContextWindow int           `envconfig:"MODEL_CONTEXT_WINDOW" default:"200000"`
	// BlockingItems aborts the remainder of a run when an item marked
	// blocking fails, instead of continuing with the rest.
	BlockingItems bool `envconfig:"BLOCKING_ITEMS" default:"true"`
	// Interactive reports whether a confirmation channel exists for Ask
	// verdicts. Non-interactive callers fail fast instead of blocking.
	Interactive bool `envconfig:"INTERACTIVE" default:"true"`
}

type NotifyEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDSubject    string `envconfig:"VAPID_SUBJECT" default:"mailto:ops@helmsman.dev"`
}

type Env struct {
	BaseEnv
	StorageEnv
	RunEnv
	NotifyEnv
}

const namespace = "HELMSMAN"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelInfo
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
