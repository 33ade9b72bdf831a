package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"

	server "github.com/helmsman-dev/helmsman/internal"
	"github.com/helmsman-dev/helmsman/internal/config"
	"github.com/helmsman-dev/helmsman/internal/eventbus"
	"github.com/helmsman-dev/helmsman/internal/executor"
	"github.com/helmsman-dev/helmsman/internal/llm/claudecli"
	"github.com/helmsman-dev/helmsman/internal/notify"
	notifyrepo "github.com/helmsman-dev/helmsman/internal/notify/repositoryimpl"
	"github.com/helmsman-dev/helmsman/internal/permission"
	"github.com/helmsman-dev/helmsman/internal/session"
	sessionrepo "github.com/helmsman-dev/helmsman/internal/session/repositoryimpl"
	"github.com/helmsman-dev/helmsman/internal/todo"
	todorepo "github.com/helmsman-dev/helmsman/internal/todo/repositoryimpl"
	"github.com/helmsman-dev/helmsman/internal/tool"
	"github.com/helmsman-dev/helmsman/internal/tool/builtin"
	"github.com/helmsman-dev/helmsman/internal/workflow"
	"github.com/helmsman-dev/helmsman/pkg/clog"
	"github.com/helmsman-dev/helmsman/pkg/storage"
	"github.com/helmsman-dev/helmsman/pkg/worktree"
)

var (
	app = kingpin.New("helmsman", "Autonomous coding agent with staged execution and risk-gated tools")

	runCmd          = app.Command("run", "Execute one task")
	runInput        = runCmd.Arg("input", "Task description").Required().Strings()
	runContinue     = runCmd.Flag("continue", "Resume the most recent session of this project").Bool()
	runSession      = runCmd.Flag("session", "Resume a specific session by id").String()
	runCrossProject = runCmd.Flag("allow-cross-project-session", "Allow resuming a session that belongs to a different project").Bool()
	runWorktree     = runCmd.Flag("worktree", "Execute in an isolated git worktree instead of the primary checkout").Bool()

	serveCmd = app.Command("serve", "Start the observation server (event stream, push subscriptions)")
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}
	setupLogger(env)

	store, err := newStorage(env)
	if err != nil {
		slog.Error("failed to set up storage", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	switch command {
	case runCmd.FullCommand():
		if err := handleRun(ctx, env, store, strings.Join(*runInput, " ")); err != nil {
			os.Exit(1)
		}
	case serveCmd.FullCommand():
		handleServe(ctx, cancel, env, store)
	}
}

func setupLogger(env *config.Env) {
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))
}

func newStorage(env *config.Env) (storage.Storage, error) {
	switch env.StorageEnv.Type {
	case "s3":
		return storage.NewS3Storage(context.Background(), env.S3Bucket, env.S3Prefix, env.S3Region)
	default:
		return storage.NewLocalStorage(env.BaseDir)
	}
}

func handleRun(ctx context.Context, env *config.Env, store storage.Storage, input string) error {
	cwd, err := os.Getwd()
	if err != nil {
		slog.Error("failed to resolve working directory", "error", err)
		return err
	}

	identity, err := session.ResolveIdentity(ctx, cwd)
	if err != nil {
		slog.Error("failed to resolve project identity", "error", err)
		return err
	}

	sessions := session.NewRegistry(sessionrepo.NewYAMLRepository(store))
	sess, err := resolveSession(ctx, sessions, identity)
	if err != nil {
		slog.Error("failed to resolve session", "error", err)
		return err
	}

	workDir := identity.ProjectRoot
	if workDir == "" {
		workDir = cwd
	}
	wtPath := ""
	if *runWorktree {
		mgr, err := worktree.NewManager(identity.ProjectRoot)
		if err != nil {
			slog.Error("failed to set up worktree manager", "error", err)
			return err
		}
		wtPath, err = mgr.Create(ctx, sess.ID, "helmsman/"+sess.ID)
		if err != nil {
			slog.Error("failed to create worktree", "error", err)
			return err
		}
		workDir = wtPath
	}

	rules, err := permission.NewRuleStore(
		filepath.Join(identity.ProjectRoot, ".helmsman", "permissions.yaml"),
		identity.ProjectID,
	)
	if err != nil {
		slog.Error("failed to load permission rules", "error", err)
		return err
	}
	go func() {
		if err := rules.Watch(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("permission rule watcher stopped", "error", err)
		}
	}()
	gateway := permission.NewGateway(permission.DefaultPolicy(), rules)

	notifier := notify.NewNotifier(notifyrepo.NewYAMLRepository(store), &env.NotifyEnv)
	var confirmer permission.Confirmer
	if env.Interactive {
		confirmer = newTerminalConfirmer(os.Stdin, os.Stderr, notifier)
	}

	registry := tool.NewRegistry()
	builtin.RegisterAll(registry, workDir)

	bus := eventbus.New()
	subID, events := bus.Subscribe(256)
	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		renderEvents(os.Stderr, events)
	}()

	invoker := tool.NewInvoker(tool.InvokerConfig{
		Registry:  registry,
		Gateway:   gateway,
		Rules:     rules,
		Confirmer: confirmer,
		Bus:       bus,
		SessionID: sess.ID,
		Boundary: tool.Boundary{
			ProjectRoot: identity.ProjectRoot,
			Worktree:    wtPath,
			WorkingDir:  workDir,
		},
		Timeout: env.ToolTimeout,
	})

	bridge := tool.NewBridge(registry, invoker)
	mcpURL, err := bridge.Start(ctx)
	if err != nil {
		slog.Error("failed to start tool bridge", "error", err)
		return err
	}
	defer bridge.Close()

	client := claudecli.New(claudecli.Options{Model: env.Model, Cwd: workDir, MCPServerURL: mcpURL})
	todoStore := todo.NewStore(todorepo.NewYAMLRepository(store), sess.ID)
	exec := executor.New(client, invoker, registry, todoStore, bus, sess.ID, executor.Config{
		RoundBudget:     env.RoundBudget,
		RedAttemptLimit: env.RedAttemptLimit,
		ToolRetryLimit:  env.ToolRetryLimit,
		LLMTimeout:      env.LLMTimeout,
	})
	orch := workflow.NewOrchestrator(client, exec, todoStore, sessions, sess, bus, &env.RunEnv)

	report, runErr := orch.Run(ctx, input)
	bus.Unsubscribe(subID)
	<-renderDone

	report.Render(os.Stdout)
	if runErr != nil {
		return runErr
	}
	return nil
}

// resolveSession picks the session for this run: a named one, the most
// recent one of this project, or a fresh one.
func resolveSession(ctx context.Context, sessions *session.Registry, identity session.ProjectIdentity) (*session.Session, error) {
	if *runSession != "" || *runContinue {
		return sessions.Resume(ctx, session.ResumeCriteria{
			SessionID:         *runSession,
			AllowCrossProject: *runCrossProject,
		}, identity)
	}
	return sessions.Create(ctx, identity)
}

func handleServe(ctx context.Context, cancel context.CancelFunc, env *config.Env, store storage.Storage) {
	bus := eventbus.New()
	srv := server.NewServer(env, bus, notifyrepo.NewYAMLRepository(store))

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
