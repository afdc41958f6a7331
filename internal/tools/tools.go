// File: internal/tools/tools.go
package tools

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dang-hai/agentpulse/api/schemas"
)

// Tool names, as an agent loop addresses them.
const (
	ToolDiscover   = "discover"
	ToolExposeList = "expose_list"
	ToolExposeGet  = "expose_get"
	ToolExposeSet  = "expose_set"
	ToolExposeCall = "expose_call"
	ToolInteract   = "interact"
)

// Definition describes one tool to the consumer.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Toolset validates and executes tool invocations against a station. Every
// outcome is a Result: input that fails validation yields a structured
// "Invalid input" failure, never an error or a panic.
type Toolset struct {
	station Station
	logger  *zap.Logger
}

// NewToolset builds the tool surface over a station.
func NewToolset(station Station, logger *zap.Logger) *Toolset {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Toolset{station: station, logger: logger.Named("tools")}
}

// Definitions lists the available tools.
func (t *Toolset) Definitions() []Definition {
	return []Definition{
		{ToolDiscover, "List components with metadata and a live state snapshot. Optional filters: tag, id."},
		{ToolExposeList, "List registered components (metadata only). Optional filter: tag."},
		{ToolExposeGet, "Read one key of one component. Required: id, key."},
		{ToolExposeSet, "Write one key of one component. Required: id, key, value."},
		{ToolExposeCall, "Invoke one action of one component. Required: id, key. Optional: args."},
		{ToolInteract, "Run an ordered batch of set/call actions against one component, with optional waitFor/logs/screenshot observation. Required: id, actions."},
	}
}

// Invoke runs one named tool. input is the raw JSON the agent supplied.
func (t *Toolset) Invoke(ctx context.Context, name string, input []byte) schemas.Result {
	t.logger.Debug("tool invoked", zap.String("tool", name))
	switch name {
	case ToolDiscover:
		return t.discover(ctx, input)
	case ToolExposeList:
		return t.exposeList(ctx, input)
	case ToolExposeGet:
		return t.exposeGet(ctx, input)
	case ToolExposeSet:
		return t.exposeSet(ctx, input)
	case ToolExposeCall:
		return t.exposeCall(ctx, input)
	case ToolInteract:
		return t.interact(ctx, input)
	default:
		return schemas.Failf("Unknown tool: %s", name)
	}
}

type discoverInput struct {
	Tag string `json:"tag,omitempty"`
	ID  string `json:"id,omitempty"`
}

func (t *Toolset) discover(ctx context.Context, raw []byte) schemas.Result {
	var in discoverInput
	if res, ok := decodeInput(raw, &in); !ok {
		return res
	}
	infos, err := t.station.Discover(ctx, in.Tag, in.ID)
	if err != nil {
		return schemas.Fail(err.Error())
	}
	return schemas.OK(infos)
}

type listInput struct {
	Tag string `json:"tag,omitempty"`
}

func (t *Toolset) exposeList(ctx context.Context, raw []byte) schemas.Result {
	var in listInput
	if res, ok := decodeInput(raw, &in); !ok {
		return res
	}
	infos, err := t.station.List(ctx, in.Tag)
	if err != nil {
		return schemas.Fail(err.Error())
	}
	return schemas.OK(infos)
}

type keyedInput struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
	Args  []any  `json:"args,omitempty"`
}

func (in keyedInput) requireIDKey() string {
	var missing []string
	if strings.TrimSpace(in.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(in.Key) == "" {
		missing = append(missing, "key")
	}
	if len(missing) == 0 {
		return ""
	}
	return fmt.Sprintf("missing required field(s): %s", strings.Join(missing, ", "))
}

func (t *Toolset) exposeGet(ctx context.Context, raw []byte) schemas.Result {
	var in keyedInput
	if res, ok := decodeInput(raw, &in); !ok {
		return res
	}
	if msg := in.requireIDKey(); msg != "" {
		return invalidInput(msg)
	}
	res, err := t.station.Get(ctx, in.ID, in.Key)
	if err != nil {
		return schemas.Fail(err.Error())
	}
	return res
}

func (t *Toolset) exposeSet(ctx context.Context, raw []byte) schemas.Result {
	var in keyedInput
	if res, ok := decodeInput(raw, &in); !ok {
		return res
	}
	if msg := in.requireIDKey(); msg != "" {
		return invalidInput(msg)
	}
	res, err := t.station.Set(ctx, in.ID, in.Key, in.Value)
	if err != nil {
		return schemas.Fail(err.Error())
	}
	return res
}

func (t *Toolset) exposeCall(ctx context.Context, raw []byte) schemas.Result {
	var in keyedInput
	if res, ok := decodeInput(raw, &in); !ok {
		return res
	}
	if msg := in.requireIDKey(); msg != "" {
		return invalidInput(msg)
	}
	res, err := t.station.Call(ctx, in.ID, in.Key, in.Args...)
	if err != nil {
		return schemas.Fail(err.Error())
	}
	return res
}

func (t *Toolset) interact(ctx context.Context, raw []byte) schemas.Result {
	var in schemas.InteractParams
	if res, ok := decodeInput(raw, &in); !ok {
		return res
	}
	if strings.TrimSpace(in.ID) == "" {
		return invalidInput("missing required field(s): id")
	}
	for i, action := range in.Actions {
		switch action.Type {
		case schemas.ActionSet:
			if len(action.Values) == 0 {
				return invalidInput(fmt.Sprintf("actions[%d]: set requires values", i))
			}
		case schemas.ActionCall:
			if strings.TrimSpace(action.Key) == "" {
				return invalidInput(fmt.Sprintf("actions[%d]: call requires key", i))
			}
		default:
			return invalidInput(fmt.Sprintf("actions[%d]: unknown type %q", i, action.Type))
		}
	}
	out, err := t.station.Interact(ctx, in)
	if err != nil {
		return schemas.Fail(err.Error())
	}
	// The tool call itself succeeded; the batch outcome, including partial
	// failures, lives inside the InteractResult value.
	return schemas.OK(out)
}

// decodeInput unmarshals the raw tool input. A nil/empty payload decodes as
// all-defaults; malformed JSON yields the structured failure directly.
func decodeInput(raw []byte, out any) (schemas.Result, bool) {
	if len(raw) == 0 {
		return schemas.Result{}, true
	}
	if err := schemas.Codec.Unmarshal(raw, out); err != nil {
		return invalidInput(err.Error()), false
	}
	return schemas.Result{}, true
}

func invalidInput(detail string) schemas.Result {
	return schemas.Failf("Invalid input: %s", detail)
}
