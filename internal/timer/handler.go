// Package timer runs callback timers: named, persisted invocations of
// registered handlers, optionally periodic.
package timer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lalithlochan/courier/internal/store"
)

var (
	// ErrNotImplemented is returned by BaseHandler.
	ErrNotImplemented = errors.New("notification timer callback not implemented")

	// ErrUnknownHandler is returned when a class name has no registration.
	ErrUnknownHandler = errors.New("unknown timer handler")

	// ErrAbstractHandler is returned when an abstract class name is resolved.
	ErrAbstractHandler = errors.New("timer handler is abstract and cannot be instantiated")
)

// Handler is invoked when its timer comes due.
type Handler interface {
	NotificationTimerCallback(ctx context.Context, t store.Timer) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, t store.Timer) (Result, error)

// NotificationTimerCallback calls f.
func (f HandlerFunc) NotificationTimerCallback(ctx context.Context, t store.Timer) (Result, error) {
	return f(ctx, t)
}

// Result is what a handler reports back to the engine.
type Result struct {
	Errors           []string
	RescheduleInMins int
	ContextUpdate    map[string]any
}

// Map is the form persisted in Timer.Results.
func (r Result) Map() map[string]any {
	errs := make([]any, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, e)
	}
	m := map[string]any{
		"errors":             errs,
		"reschedule_in_mins": r.RescheduleInMins,
	}
	if r.ContextUpdate != nil {
		m["context_update"] = store.CopyMap(r.ContextUpdate)
	}
	return m
}

// BaseHandlerName is the class name of BaseHandler. It is registered as
// abstract in every Registry.
const BaseHandlerName = "timer.BaseHandler"

// BaseHandler is the handler every concrete handler is expected to replace.
type BaseHandler struct{}

// NotificationTimerCallback always fails with ErrNotImplemented.
func (BaseHandler) NotificationTimerCallback(context.Context, store.Timer) (Result, error) {
	return Result{}, ErrNotImplemented
}

// Constructor builds a handler. Dependencies are captured by the closure.
type Constructor func() (Handler, error)

// Registry maps persisted class names to constructors.
type Registry struct {
	mu       sync.RWMutex
	ctors    map[string]Constructor
	abstract map[string]bool
}

// NewRegistry creates a registry knowing only the abstract base handler.
func NewRegistry() *Registry {
	r := &Registry{
		ctors:    make(map[string]Constructor),
		abstract: make(map[string]bool),
	}
	r.RegisterAbstract(BaseHandlerName)
	return r
}

// Register binds name to ctor.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = ctor
	delete(r.abstract, name)
}

// RegisterHandler binds name to a shared handler instance.
func (r *Registry) RegisterHandler(name string, h Handler) {
	r.Register(name, func() (Handler, error) { return h, nil })
}

// RegisterAbstract marks name as known but not instantiable.
func (r *Registry) RegisterAbstract(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abstract[name] = true
	delete(r.ctors, name)
}

// Known reports whether name is registered, abstract or not.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[name]
	return ok || r.abstract[name]
}

// Names lists the concrete handler names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve instantiates the handler registered as name.
func (r *Registry) Resolve(name string) (Handler, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	abstract := r.abstract[name]
	r.mu.RUnlock()

	if abstract {
		return nil, fmt.Errorf("%w: %s", ErrAbstractHandler, name)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, name)
	}
	h, err := ctor()
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", name, err)
	}
	if h == nil {
		return nil, fmt.Errorf("instantiate %s: constructor returned no handler", name)
	}
	return h, nil
}
