// Package tool defines the capability interface every tool implements
// and the invoker that guards each invocation with a permission verdict
// and, for destructive tools, a recorded compensation. New tools are
// added by implementing Tool and registering them, never by branching on
// a type tag.
package tool

import (
	"context"
	"sort"
	"sync"

	"github.com/helmsman-dev/helmsman/internal/llm"
	"github.com/helmsman-dev/helmsman/internal/permission"
	"github.com/helmsman-dev/helmsman/internal/saga"
)

// Result is what the model sees. Error is a model-visible failure (e.g.
// file not found); infrastructure failures are returned as Go errors
// from Invoke instead. Undo, when set, replaces the prepared
// compensation with one bound to what the call actually produced, such
// as the hash of a commit that now exists.
type Result struct {
	Output string
	Error  string
	Undo   saga.UndoAction
}

type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	// Classify maps the arguments onto the permission request fields:
	// the operation kind, the target path (empty for pure commands) and
	// the shell command (empty for non-shell tools).
	Classify(args map[string]any) (kind permission.OperationKind, targetPath, command string)
	Invoke(ctx context.Context, args map[string]any) (*Result, error)
}

// Undoable is implemented by mutating tools. PrepareUndo runs before the
// mutation and captures whatever the compensation needs (e.g. the prior
// file content). The captured action is recorded only once the call
// succeeds; a call that fails has nothing to compensate.
type Undoable interface {
	PrepareUndo(args map[string]any) (saga.UndoAction, error)
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	r.tools[t.Name()] = t
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Defs declares all registered tools to the model, in stable order.
func (r *Registry) Defs() []llm.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDef, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, llm.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
