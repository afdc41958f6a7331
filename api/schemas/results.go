// File: api/schemas/results.go
package schemas

import (
	"fmt"
	"time"
)

// Result is the uniform outcome of every read/write/invoke operation.
// Success carries a value (possibly nil for writes); failure carries a
// human-readable error string. The two are mutually exclusive; use the
// constructors rather than building literals.
type Result struct {
	Success bool   `json:"success"`
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK builds a success Result carrying a value.
func OK(value any) Result {
	return Result{Success: true, Value: value}
}

// Done builds a void success Result, used for writes.
func Done() Result {
	return Result{Success: true}
}

// Fail builds a failure Result.
func Fail(message string) Result {
	if message == "" {
		message = "unknown error"
	}
	return Result{Success: false, Error: message}
}

// Failf builds a failure Result from a format string.
func Failf(format string, args ...any) Result {
	return Fail(fmt.Sprintf(format, args...))
}

// ExposeInfo is the basic metadata for one registered component.
type ExposeInfo struct {
	ID           string    `json:"id"`
	Keys         []string  `json:"keys"`
	Description  string    `json:"description,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// DiscoverInfo extends ExposeInfo with a best-effort live state snapshot.
// Bindings whose read failed appear with an error placeholder string instead
// of failing the whole discovery.
type DiscoverInfo struct {
	ExposeInfo
	State map[string]any `json:"state"`
}

// ActionType discriminates the two kinds of batched interaction steps.
type ActionType string

const (
	ActionSet  ActionType = "set"
	ActionCall ActionType = "call"
)

// InteractAction is one step of a batched interaction. A set step carries
// one or more key/value pairs; a call step invokes a single action with
// optional positional args.
type InteractAction struct {
	Type ActionType `json:"type"`
	// Values holds the key/value pairs of a set step. Pairs are applied in
	// sorted key order so the sequence is deterministic.
	Values map[string]any `json:"values,omitempty"`
	// Key and Args describe a call step.
	Key  string `json:"key,omitempty"`
	Args []any  `json:"args,omitempty"`
}

// WaitFor describes the post-action polling condition of an interaction.
// Equality against Becomes is primitive-level (see the executor docs); a
// timeout is reported as a warning trace entry, not a failure.
type WaitFor struct {
	Key       string `json:"key"`
	Becomes   any    `json:"becomes"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

// Observe selects the execution evidence attached to an InteractResult.
type Observe struct {
	WaitFor    *WaitFor `json:"wait_for,omitempty"`
	Logs       bool     `json:"logs,omitempty"`
	Screenshot bool     `json:"screenshot,omitempty"`
}

// InteractParams is the full input of one batched interaction.
type InteractParams struct {
	ID      string           `json:"id"`
	Actions []InteractAction `json:"actions"`
	Observe *Observe         `json:"observe,omitempty"`
}

// TraceEntry is one captured log line scoped to a single interact call.
type TraceEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Screenshot is an opaque captured image. Data is raw encoded bytes in the
// named format.
type Screenshot struct {
	Data   []byte `json:"data"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Format string `json:"format,omitempty"`
}

// InteractResult aggregates the outcome of one batched interaction: every
// individual action Result in order, overall success (logical AND of the
// individual successes), and the requested observation evidence.
type InteractResult struct {
	Success    bool           `json:"success"`
	Results    []Result       `json:"results"`
	Error      string         `json:"error,omitempty"`
	Logs       []TraceEntry   `json:"logs,omitempty"`
	Screenshot *Screenshot    `json:"screenshot,omitempty"`
	State      map[string]any `json:"state,omitempty"`
}
