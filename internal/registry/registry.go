// File: internal/registry/registry.go
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dang-hai/agentpulse/api/schemas"
)

// Options carries the discovery metadata of a registration.
type Options struct {
	Description string
	Tags        []string
}

// Filter narrows list/discover output. Empty fields match everything.
type Filter struct {
	Tag string
	ID  string
}

// component is one registered bundle of bindings. The bindings map is a
// mutable cell: re-registration swaps the whole map so every subsequent
// access reads the freshest closures without the registry caching anything.
type component struct {
	id           string
	bindings     map[string]any
	description  string
	tags         []string
	registeredAt time.Time
}

func (c *component) hasTag(tag string) bool {
	for _, t := range c.tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (c *component) keys() []string {
	keys := make([]string, 0, len(c.bindings))
	for k := range c.bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Registry is the in-memory table owning all components and mediating every
// read, write, and invocation against them.
type Registry struct {
	mu         sync.RWMutex
	components map[string]*component
	listeners  map[string]Listener
	hooks      Hooks

	notifier    Notifier
	notifierErr func(error)

	logger *zap.Logger
}

// New constructs an empty registry. The composition point owns its lifetime
// and passes the handle to whatever needs it (transports, executors, tests).
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		components: make(map[string]*component),
		listeners:  make(map[string]Listener),
		logger:     logger.Named("registry"),
	}
}

// defaultRegistry supports hosts that want one process-wide table without
// threading a handle everywhere. Tests use ResetDefault for isolation.
var defaultRegistry atomic.Pointer[Registry]

// Default lazily constructs and returns the process-wide registry.
func Default() *Registry {
	if r := defaultRegistry.Load(); r != nil {
		return r
	}
	fresh := New(zap.L())
	if defaultRegistry.CompareAndSwap(nil, fresh) {
		return fresh
	}
	return defaultRegistry.Load()
}

// ResetDefault discards the process-wide registry. Test isolation only.
func ResetDefault() {
	defaultRegistry.Store(nil)
}

// Register upserts a component: an existing id has its bindings, description
// and tags replaced in place with no error and no duplicate identity. The
// returned closure unregisters the component and is safe to call more than
// once.
func (r *Registry) Register(id string, bindings map[string]any, opts Options) (func(), error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("component id must not be empty")
	}
	if bindings == nil {
		bindings = map[string]any{}
	}

	r.mu.Lock()
	existing, replaced := r.components[id]
	c := &component{
		id:           id,
		bindings:     bindings,
		description:  opts.Description,
		tags:         append([]string(nil), opts.Tags...),
		registeredAt: time.Now().UTC(),
	}
	if replaced {
		// Identity survives replacement; only the content is new.
		c.registeredAt = existing.registeredAt
	}
	r.components[id] = c
	r.mu.Unlock()

	r.logger.Debug("component registered",
		zap.String("id", id),
		zap.Int("bindings", len(bindings)),
		zap.Bool("replaced", replaced))
	r.notifyRegistration(id, c.keys(), c.description, c.tags, true)

	var once sync.Once
	return func() {
		once.Do(func() { r.Unregister(id) })
	}, nil
}

// Unregister removes a component. Removing an absent id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	_, existed := r.components[id]
	delete(r.components, id)
	r.mu.Unlock()

	if existed {
		r.logger.Debug("component unregistered", zap.String("id", id))
		r.notifyRegistration(id, nil, "", nil, false)
	}
}

// Has reports whether a component id is currently registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.components[id]
	return ok
}

// Clear drops every component.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.components = make(map[string]*component)
	r.mu.Unlock()
}

// List returns basic metadata for every registered component, optionally
// tag-filtered, sorted by id.
func (r *Registry) List(filter Filter) []schemas.ExposeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]schemas.ExposeInfo, 0, len(r.components))
	for _, c := range r.components {
		if !matches(c, filter) {
			continue
		}
		infos = append(infos, exposeInfo(c))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Discover returns list metadata plus a best-effort live state snapshot per
// component. A failed binding read becomes a placeholder string; it never
// fails the discovery.
func (r *Registry) Discover(filter Filter) []schemas.DiscoverInfo {
	r.mu.RLock()
	selected := make([]*component, 0, len(r.components))
	for _, c := range r.components {
		if matches(c, filter) {
			selected = append(selected, c)
		}
	}
	r.mu.RUnlock()

	infos := make([]schemas.DiscoverInfo, 0, len(selected))
	for _, c := range selected {
		infos = append(infos, schemas.DiscoverInfo{
			ExposeInfo: exposeInfo(c),
			State:      snapshot(c),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Get resolves the current value of one binding.
func (r *Registry) Get(id, key string) schemas.Result {
	binding, fail := r.lookup(id, key)
	if fail != nil {
		return *fail
	}
	value, err := Resolve(binding)
	if err != nil {
		return schemas.Failf("Failed to read '%s': %v", key, err)
	}
	return schemas.OK(value)
}

// Set writes one binding: accessors take the value directly; an action whose
// key follows the set-naming convention is called with the value as its
// single argument; anything else is not settable. Thrown errors become
// failure Results.
func (r *Registry) Set(ctx context.Context, id, key string, value any) schemas.Result {
	binding, fail := r.lookup(id, key)
	if fail != nil {
		return *fail
	}

	hooks := r.currentHooks()
	if hooks.PreSet != nil {
		r.runHook(ctx, "preSet", func(c context.Context) error { return hooks.PreSet(c, id, key, value) })
	}
	finish := r.startEvent(OpSet, id, key, value, nil)

	res := r.applySet(binding, key, value)

	finish(res.Success, res.Error)
	if hooks.PostSet != nil {
		r.runHook(ctx, "postSet", func(c context.Context) error { return hooks.PostSet(c, id, key, value) })
	}
	return res
}

func (r *Registry) applySet(binding any, key string, value any) schemas.Result {
	switch Classify(binding) {
	case KindAccessor:
		if err := safeSet(binding.(Accessor), value); err != nil {
			return schemas.Failf("Failed to set '%s': %v", key, err)
		}
		return schemas.Done()
	case KindAction:
		if !isConventionSetter(key) {
			return schemas.Failf("Binding '%s' is not settable", key)
		}
		if _, err := Invoke(binding, []any{value}); err != nil {
			return schemas.Failf("Failed to set '%s': %v", key, err)
		}
		return schemas.Done()
	default:
		return schemas.Failf("Binding '%s' is not settable", key)
	}
}

// Call invokes one action with positional args. Non-callable bindings and
// thrown/returned errors become failure Results.
func (r *Registry) Call(ctx context.Context, id, key string, args ...any) schemas.Result {
	binding, fail := r.lookup(id, key)
	if fail != nil {
		return *fail
	}

	kind := Classify(binding)
	if kind != KindAction {
		return schemas.Failf("Binding '%s' is not callable. It's a %s", key, kind)
	}

	hooks := r.currentHooks()
	if hooks.PreCall != nil {
		r.runHook(ctx, "preCall", func(c context.Context) error { return hooks.PreCall(c, id, key, args) })
	}
	finish := r.startEvent(OpCall, id, key, nil, args)

	value, err := Invoke(binding, args)
	var res schemas.Result
	if err != nil {
		res = schemas.Failf("Call to '%s' failed: %v", key, err)
	} else {
		res = schemas.OK(value)
	}

	finish(res.Success, res.Error)
	if hooks.PostCall != nil {
		r.runHook(ctx, "postCall", func(c context.Context) error { return hooks.PostCall(c, id, key, args) })
	}
	return res
}

// lookup fetches one binding, producing the standard not-found failures. The
// key-not-found message enumerates the available keys to aid the caller.
func (r *Registry) lookup(id, key string) (any, *schemas.Result) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.components[id]
	if !ok {
		fail := schemas.Failf("Component not found: %s", id)
		return nil, &fail
	}
	binding, ok := c.bindings[key]
	if !ok {
		fail := schemas.Failf("Key not found: %s. Available: %s", key, strings.Join(c.keys(), ", "))
		return nil, &fail
	}
	return binding, nil
}

func (r *Registry) currentHooks() Hooks {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hooks
}

func safeSet(a Accessor, value any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError(rec)
		}
	}()
	return a.Set(value)
}

func panicError(rec any) error {
	if err, ok := rec.(error); ok {
		return err
	}
	return fmt.Errorf("%v", rec)
}

func matches(c *component, f Filter) bool {
	if f.ID != "" && c.id != f.ID {
		return false
	}
	if f.Tag != "" && !c.hasTag(f.Tag) {
		return false
	}
	return true
}

func exposeInfo(c *component) schemas.ExposeInfo {
	return schemas.ExposeInfo{
		ID:           c.id,
		Keys:         c.keys(),
		Description:  c.description,
		Tags:         append([]string(nil), c.tags...),
		RegisteredAt: c.registeredAt,
	}
}

// snapshot resolves every binding of a component into a state map. Reads go
// through Resolve so a misbehaving binding degrades to a placeholder.
func snapshot(c *component) map[string]any {
	state := make(map[string]any, len(c.bindings))
	for key, binding := range c.bindings {
		value, err := Resolve(binding)
		if err != nil {
			state[key] = readErrorPlaceholder(err)
			continue
		}
		state[key] = value
	}
	return state
}
