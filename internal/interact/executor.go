// File: internal/interact/executor.go

// Package interact executes batched set/call sequences against one component
// and optionally observes the aftermath: a polled state condition, the log
// entries the run produced, a screenshot, and a final state snapshot.
package interact

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/dang-hai/agentpulse/api/schemas"
	"github.com/dang-hai/agentpulse/internal/registry"
)

const defaultPollInterval = 100 * time.Millisecond

// Backend is the slice of registry behavior the executor needs. A local
// registry satisfies it directly via RegistryBackend; a remote component
// table can be adapted over a transport client.
type Backend interface {
	Has(ctx context.Context, id string) bool
	Get(ctx context.Context, id, key string) schemas.Result
	Set(ctx context.Context, id, key string, value any) schemas.Result
	Call(ctx context.Context, id, key string, args ...any) schemas.Result
	State(ctx context.Context, id string) map[string]any
}

// RegistryBackend adapts a local registry to the Backend surface.
type RegistryBackend struct {
	Registry *registry.Registry
}

func (b RegistryBackend) Has(_ context.Context, id string) bool {
	return b.Registry.Has(id)
}

func (b RegistryBackend) Get(_ context.Context, id, key string) schemas.Result {
	return b.Registry.Get(id, key)
}

func (b RegistryBackend) Set(ctx context.Context, id, key string, value any) schemas.Result {
	return b.Registry.Set(ctx, id, key, value)
}

func (b RegistryBackend) Call(ctx context.Context, id, key string, args ...any) schemas.Result {
	return b.Registry.Call(ctx, id, key, args...)
}

// State returns the discover-style snapshot for one component, or nil when
// it is unknown.
func (b RegistryBackend) State(_ context.Context, id string) map[string]any {
	infos := b.Registry.Discover(registry.Filter{ID: id})
	if len(infos) == 0 {
		return nil
	}
	return infos[0].State
}

// ScreenshotFunc captures the current frame. Configured once at composition
// time; a nil func means screenshots are silently unavailable.
type ScreenshotFunc func(ctx context.Context) (*schemas.Screenshot, error)

// Options tunes one executor.
type Options struct {
	// PollInterval is the waitFor sampling period. Zero means 100ms.
	PollInterval time.Duration
	Screenshot   ScreenshotFunc
}

// Executor runs interact batches. Safe for concurrent use; log capture is
// scoped per Run, so overlapping runs never see each other's entries.
type Executor struct {
	backend      Backend
	logger       *zap.Logger
	pollInterval time.Duration
	screenshot   ScreenshotFunc
}

// New builds an executor over a backend.
func New(backend Backend, logger *zap.Logger, opts Options) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Executor{
		backend:      backend,
		logger:       logger.Named("interact"),
		pollInterval: interval,
		screenshot:   opts.Screenshot,
	}
}

// Run executes the batch in order. Every action's Result is kept even after
// a failure; overall success is the conjunction of the individual outcomes.
func (e *Executor) Run(ctx context.Context, params schemas.InteractParams) schemas.InteractResult {
	if !e.backend.Has(ctx, params.ID) {
		return schemas.InteractResult{
			Success: false,
			Results: []schemas.Result{},
			Error:   fmt.Sprintf("Component not found: %s", params.ID),
		}
	}

	logger, drain := e.captureLogger()
	logger.Info("interact started",
		zap.String("component", params.ID),
		zap.Int("actions", len(params.Actions)))

	results := make([]schemas.Result, 0, len(params.Actions))
	success := true
	for _, action := range params.Actions {
		for _, res := range e.runAction(ctx, logger, params.ID, action) {
			results = append(results, res)
			success = success && res.Success
		}
	}

	out := schemas.InteractResult{Success: success, Results: results}
	e.observe(ctx, logger, params, success, &out)

	out.State = e.backend.State(ctx, params.ID)
	if params.Observe != nil && params.Observe.Logs {
		out.Logs = drain()
	}
	return out
}

// runAction expands one action into its registry calls. A set action fans
// out to one call per key, applied in sorted key order so repeated runs are
// deterministic.
func (e *Executor) runAction(ctx context.Context, logger *zap.Logger, id string, action schemas.InteractAction) []schemas.Result {
	switch action.Type {
	case schemas.ActionSet:
		keys := make([]string, 0, len(action.Values))
		for k := range action.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		results := make([]schemas.Result, 0, len(keys))
		for _, key := range keys {
			res := e.backend.Set(ctx, id, key, action.Values[key])
			logResult(logger, "set", id, key, res)
			results = append(results, res)
		}
		return results

	case schemas.ActionCall:
		res := e.backend.Call(ctx, id, action.Key, action.Args...)
		logResult(logger, "call", id, action.Key, res)
		return []schemas.Result{res}

	default:
		res := schemas.Fail(fmt.Sprintf("Invalid action type: %s", action.Type))
		logResult(logger, string(action.Type), id, action.Key, res)
		return []schemas.Result{res}
	}
}

// observe applies the optional post-batch observation: waitFor polling,
// screenshot capture.
func (e *Executor) observe(ctx context.Context, logger *zap.Logger, params schemas.InteractParams, success bool, out *schemas.InteractResult) {
	obs := params.Observe
	if obs == nil {
		return
	}

	if obs.WaitFor != nil && success {
		e.waitFor(ctx, logger, params.ID, *obs.WaitFor)
	}

	if obs.Screenshot && e.screenshot != nil {
		shot, err := e.screenshot(ctx)
		if err != nil {
			logger.Warn("screenshot capture failed", zap.Error(err))
		} else {
			out.Screenshot = shot
		}
	}
}

// waitFor polls one key until it shallow-equals the target or the timeout
// elapses. A timeout is reported as a single warning entry and nothing else.
func (e *Executor) waitFor(ctx context.Context, logger *zap.Logger, id string, cond schemas.WaitFor) {
	timeout := time.Duration(cond.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)

	limiter := rate.NewLimiter(rate.Every(e.pollInterval), 1)
	for {
		res := e.backend.Get(ctx, id, cond.Key)
		if res.Success && shallowEqual(res.Value, cond.Becomes) {
			logger.Info("waitFor condition met",
				zap.String("component", id), zap.String("key", cond.Key))
			return
		}
		if time.Now().After(deadline) {
			logger.Warn("waitFor timed out",
				zap.String("component", id),
				zap.String("key", cond.Key),
				zap.Any("becomes", cond.Becomes),
				zap.Duration("timeout", timeout))
			return
		}
		if err := limiter.Wait(ctx); err != nil {
			logger.Warn("waitFor aborted", zap.Error(err))
			return
		}
	}
}

// captureLogger tees a fresh observer core into the executor's logger and
// returns a drain that converts everything captured so far.
func (e *Executor) captureLogger() (*zap.Logger, func() []schemas.TraceEntry) {
	captured, logs := observer.New(zapcore.DebugLevel)
	logger := e.logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, captured)
	}))
	drain := func() []schemas.TraceEntry {
		entries := logs.TakeAll()
		out := make([]schemas.TraceEntry, 0, len(entries))
		for _, entry := range entries {
			out = append(out, schemas.TraceEntry{
				Time:    entry.Time,
				Level:   entry.Level.String(),
				Message: entry.Message,
				Fields:  entry.ContextMap(),
			})
		}
		return out
	}
	return logger, drain
}

func logResult(logger *zap.Logger, op, id, key string, res schemas.Result) {
	if res.Success {
		logger.Info("action succeeded",
			zap.String("op", op), zap.String("component", id), zap.String("key", key))
		return
	}
	logger.Warn("action failed",
		zap.String("op", op), zap.String("component", id), zap.String("key", key),
		zap.String("error", res.Error))
}

// shallowEqual compares at primitive level only. JSON round-trips widen
// numbers to float64, so numeric operands are normalized before comparing;
// maps and slices never match.
func shallowEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		return ok && af == bf
	}
	switch a.(type) {
	case nil, bool, string:
		return a == b
	default:
		return false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
