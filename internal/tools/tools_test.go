// File: internal/tools/tools_test.go
package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dang-hai/agentpulse/api/schemas"
	"github.com/dang-hai/agentpulse/internal/interact"
	"github.com/dang-hai/agentpulse/internal/registry"
)

func newTestToolset(t *testing.T) *Toolset {
	t.Helper()
	reg := registry.New(zaptest.NewLogger(t))
	counter := 0
	_, err := reg.Register("counter", map[string]any{
		"count": registry.NewAccessor(
			func() any { return counter },
			func(v any) error {
				counter = int(v.(float64))
				return nil
			},
		),
		"increment": func() int { counter++; return counter },
	}, registry.Options{Tags: []string{"demo"}})
	require.NoError(t, err)

	station := NewLocalStation(reg, zaptest.NewLogger(t), interact.Options{})
	return NewToolset(station, zaptest.NewLogger(t))
}

func TestDefinitionsCoverEveryTool(t *testing.T) {
	ts := newTestToolset(t)
	defs := ts.Definitions()

	names := make(map[string]bool, len(defs))
	for _, def := range defs {
		assert.NotEmpty(t, def.Description)
		names[def.Name] = true
	}
	for _, want := range []string{ToolDiscover, ToolExposeList, ToolExposeGet, ToolExposeSet, ToolExposeCall, ToolInteract} {
		assert.True(t, names[want], "missing definition for %s", want)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	ts := newTestToolset(t)
	res := ts.Invoke(context.Background(), "teleport", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Unknown tool: teleport")
}

func TestInvokeMalformedInput(t *testing.T) {
	ts := newTestToolset(t)
	res := ts.Invoke(context.Background(), ToolExposeGet, []byte("{broken"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Invalid input")
}

func TestInvokeMissingRequiredFields(t *testing.T) {
	ts := newTestToolset(t)
	ctx := context.Background()

	for _, tool := range []string{ToolExposeGet, ToolExposeSet, ToolExposeCall} {
		res := ts.Invoke(ctx, tool, []byte(`{"id":"counter"}`))
		assert.False(t, res.Success, tool)
		assert.Contains(t, res.Error, "Invalid input", tool)
		assert.Contains(t, res.Error, "key", tool)
	}
}

func TestExposeListAndDiscover(t *testing.T) {
	ts := newTestToolset(t)
	ctx := context.Background()

	res := ts.Invoke(ctx, ToolExposeList, []byte(`{"tag":"demo"}`))
	require.True(t, res.Success)
	infos, ok := res.Value.([]schemas.ExposeInfo)
	require.True(t, ok)
	require.Len(t, infos, 1)
	assert.Equal(t, "counter", infos[0].ID)

	res = ts.Invoke(ctx, ToolExposeList, []byte(`{"tag":"nope"}`))
	require.True(t, res.Success)
	assert.Empty(t, res.Value.([]schemas.ExposeInfo))

	res = ts.Invoke(ctx, ToolDiscover, []byte(`{"id":"counter"}`))
	require.True(t, res.Success)
	snapshots, ok := res.Value.([]schemas.DiscoverInfo)
	require.True(t, ok)
	require.Len(t, snapshots, 1)
	assert.Equal(t, 0, snapshots[0].State["count"])
	assert.Equal(t, "[action]", snapshots[0].State["increment"])
}

func TestGetSetCallRoundTrip(t *testing.T) {
	ts := newTestToolset(t)
	ctx := context.Background()

	res := ts.Invoke(ctx, ToolExposeSet, []byte(`{"id":"counter","key":"count","value":41}`))
	require.True(t, res.Success, res.Error)

	res = ts.Invoke(ctx, ToolExposeCall, []byte(`{"id":"counter","key":"increment"}`))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 42, res.Value)

	res = ts.Invoke(ctx, ToolExposeGet, []byte(`{"id":"counter","key":"count"}`))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 42, res.Value)
}

func TestGetFailurePassesThrough(t *testing.T) {
	ts := newTestToolset(t)
	res := ts.Invoke(context.Background(), ToolExposeGet, []byte(`{"id":"ghost","key":"x"}`))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Component not found: ghost")
}

func TestInteractValidation(t *testing.T) {
	ts := newTestToolset(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"missing id", `{"actions":[]}`, "id"},
		{"set without values", `{"id":"counter","actions":[{"type":"set"}]}`, "set requires values"},
		{"call without key", `{"id":"counter","actions":[{"type":"call"}]}`, "call requires key"},
		{"unknown action type", `{"id":"counter","actions":[{"type":"dance"}]}`, "unknown type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ts.Invoke(ctx, ToolInteract, []byte(tc.input))
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, "Invalid input")
			assert.Contains(t, res.Error, tc.want)
		})
	}
}

func TestInteractRunsBatch(t *testing.T) {
	ts := newTestToolset(t)
	input := []byte(`{
		"id": "counter",
		"actions": [
			{"type": "set", "values": {"count": 10}},
			{"type": "call", "key": "increment"}
		],
		"observe": {"logs": true}
	}`)

	res := ts.Invoke(context.Background(), ToolInteract, input)
	require.True(t, res.Success, res.Error)

	out, ok := res.Value.(schemas.InteractResult)
	require.True(t, ok)
	assert.True(t, out.Success)
	require.Len(t, out.Results, 2)
	assert.Equal(t, 11, out.Results[1].Value)
	assert.NotEmpty(t, out.Logs)
	assert.Equal(t, 11, out.State["count"])
}

func TestInteractUnknownTargetReportedInsideResult(t *testing.T) {
	ts := newTestToolset(t)
	res := ts.Invoke(context.Background(), ToolInteract, []byte(`{"id":"ghost","actions":[]}`))
	require.True(t, res.Success, "the tool call itself succeeds")

	out, ok := res.Value.(schemas.InteractResult)
	require.True(t, ok)
	assert.False(t, out.Success)
	assert.Empty(t, out.Results)
	assert.Contains(t, out.Error, "Component not found: ghost")
}
