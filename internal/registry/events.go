// File: internal/registry/events.go
package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OpKind names the guarded operation an interaction event describes.
type OpKind string

const (
	OpSet  OpKind = "set"
	OpCall OpKind = "call"
)

// EventPhase marks whether an event was emitted before or after the guarded
// operation ran.
type EventPhase string

const (
	PhaseStart EventPhase = "start"
	PhaseEnd   EventPhase = "end"
)

// InteractionEvent is the ephemeral notification emitted around every
// set/call. Start events snapshot the value/args about to be applied; end
// events carry the outcome and duration.
type InteractionEvent struct {
	ID          string
	Phase       EventPhase
	ComponentID string
	Key         string
	Op          OpKind
	Value       any
	Args        []any
	Success     bool
	Error       string
	Duration    time.Duration
	Time        time.Time
}

// Listener consumes interaction events. Listeners run synchronously on the
// mutating goroutine; a panicking listener is isolated and logged, never
// propagated to the caller.
type Listener func(InteractionEvent)

// Hooks are optional external callbacks run around mutation and invocation,
// used by the animation overlay to move a pointer toward the target before
// the mutation lands. Hooks are awaited, so their latency extends operation
// latency; implementations must bound their own execution time. A hook error
// is logged and swallowed; it never changes operation semantics.
type Hooks struct {
	PreSet   func(ctx context.Context, componentID, key string, value any) error
	PostSet  func(ctx context.Context, componentID, key string, value any) error
	PreCall  func(ctx context.Context, componentID, key string, args []any) error
	PostCall func(ctx context.Context, componentID, key string, args []any) error
}

// Notifier observes registration lifecycle on the controlled side so a
// transport can forward register/unregister notifications to its controller.
// Registered reports whether the component was added/replaced (true) or
// removed (false).
type Notifier func(componentID string, keys []string, description string, tags []string, registered bool)

// AddListener subscribes a listener to interaction events and returns an
// idempotent removal func.
func (r *Registry) AddListener(l Listener) (remove func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New().String()
	r.listeners[id] = l

	var removed bool
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if !removed {
			delete(r.listeners, id)
			removed = true
		}
	}
}

// SetHooks installs the external pre/post hooks. Passing the zero value
// clears them.
func (r *Registry) SetHooks(h Hooks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = h
}

// SetNotifier installs the registration-lifecycle notifier. onError, when
// non-nil, observes notifier panics; either way the failure is logged and
// swallowed so a broken notifier cannot break registration.
func (r *Registry) SetNotifier(n Notifier, onError func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = n
	r.notifierErr = onError
}

// emit fans one event out to every listener, isolating panics per listener.
func (r *Registry) emit(ev InteractionEvent) {
	r.mu.RLock()
	listeners := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.mu.RUnlock()

	for _, l := range listeners {
		r.safeNotifyListener(l, ev)
	}
}

func (r *Registry) safeNotifyListener(l Listener, ev InteractionEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("interaction listener panicked",
				zap.String("component", ev.ComponentID),
				zap.String("key", ev.Key),
				zap.Any("panic", rec))
		}
	}()
	l(ev)
}

// startEvent emits the start-phase event for one set/call and returns the
// correlated end-phase emitter.
func (r *Registry) startEvent(op OpKind, componentID, key string, value any, args []any) func(success bool, errMsg string) {
	ev := InteractionEvent{
		ID:          uuid.New().String(),
		Phase:       PhaseStart,
		ComponentID: componentID,
		Key:         key,
		Op:          op,
		Value:       value,
		Args:        args,
		Time:        time.Now().UTC(),
	}
	r.emit(ev)

	started := time.Now()
	return func(success bool, errMsg string) {
		end := ev
		end.Phase = PhaseEnd
		end.Success = success
		end.Error = errMsg
		end.Duration = time.Since(started)
		end.Time = time.Now().UTC()
		r.emit(end)
	}
}

// runHook awaits one optional hook, logging and swallowing failures.
func (r *Registry) runHook(ctx context.Context, name string, hook func(context.Context) error) {
	if hook == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("hook panicked", zap.String("hook", name), zap.Any("panic", rec))
		}
	}()
	if err := hook(ctx); err != nil {
		r.logger.Warn("hook failed", zap.String("hook", name), zap.Error(err))
	}
}

// notifyRegistration pushes one registration-lifecycle notification through
// the installed notifier, best effort.
func (r *Registry) notifyRegistration(id string, keys []string, description string, tags []string, registered bool) {
	r.mu.RLock()
	n := r.notifier
	onErr := r.notifierErr
	r.mu.RUnlock()
	if n == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			err := panicError(rec)
			r.logger.Warn("registration notifier failed",
				zap.String("component", id), zap.Error(err))
			if onErr != nil {
				onErr(err)
			}
		}
	}()
	n(id, keys, description, tags, registered)
}
