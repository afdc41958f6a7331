// File: cmd/cmd_test.go
package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dang-hai/agentpulse/internal/registry"
)

func TestParseValue(t *testing.T) {
	assert.Equal(t, float64(42), parseValue("42"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, nil, parseValue("null"))
	assert.Equal(t, []any{float64(1), float64(2)}, parseValue("[1,2]"))
	assert.Equal(t, "hello", parseValue("hello"), "non-JSON falls back to a plain string")
	assert.Equal(t, "quoted", parseValue(`"quoted"`))
}

func TestInteractInput(t *testing.T) {
	raw, err := interactInput([]string{`{"id":"x"}`}, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"x"}`, string(raw))

	_, err = interactInput(nil, "")
	assert.Error(t, err)

	_, err = interactInput(nil, "/definitely/not/here.json")
	assert.Error(t, err)
}

func TestExposeRuntime(t *testing.T) {
	reg := registry.New(zaptest.NewLogger(t))
	unregister, err := exposeRuntime(reg)
	require.NoError(t, err)
	defer unregister()

	require.True(t, reg.Has("runtime"))

	res := reg.Get("runtime", "uptime")
	require.True(t, res.Success)
	assert.NotEmpty(t, res.Value)

	res = reg.Call(context.Background(), "runtime", "ping")
	require.True(t, res.Success)
	assert.Equal(t, "pong", res.Value)

	// uptime rejects writes
	res = reg.Set(context.Background(), "runtime", "uptime", "0s")
	assert.False(t, res.Success)

	unregister()
	assert.False(t, reg.Has("runtime"))
}
