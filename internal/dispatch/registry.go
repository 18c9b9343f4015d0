// Package dispatch invokes named actions, in process through a Registry or
// over the loopback HTTP server that exposes the same registry.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Action performs one named operation. The result, when non-nil, is returned
// to HTTP callers as JSON.
type Action func(ctx context.Context) (any, error)

// Logger is the logging surface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry maps action names to implementations. It satisfies the
// scheduler's Dispatcher. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register adds an action. Names are slash separated paths such as
// "refresh" or "scheduler/enable".
func (r *Registry) Register(name string, a Action) error {
	if err := validateName(name); err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("%w: %q has no implementation", ErrInvalidName, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateAction, name)
	}
	r.actions[name] = a
	return nil
}

func validateName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") || strings.Contains(name, "//") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Names lists the registered actions in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Run performs the named action and returns its result.
func (r *Registry) Run(ctx context.Context, name string) (any, error) {
	r.mu.RLock()
	a, ok := r.actions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return a(ctx)
}

// Invoke performs the named action and discards its result.
func (r *Registry) Invoke(ctx context.Context, name string) error {
	_, err := r.Run(ctx, name)
	return err
}
