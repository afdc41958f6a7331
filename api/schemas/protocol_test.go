package schemas_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dang-hai/agentpulse/api/schemas"
)

func TestParseMessage_Classification(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		kind   schemas.MessageKind
		reason string
	}{
		{
			name: "well-formed request",
			raw:  `{"id":"r1","method":"get","params":{"id":"counter","key":"count"}}`,
			kind: schemas.KindRequest,
		},
		{
			name: "request with unknown method is still a request",
			raw:  `{"id":"r2","method":"explode"}`,
			kind: schemas.KindRequest,
		},
		{
			name: "well-formed result response",
			raw:  `{"id":"r3","result":{"success":true,"value":5}}`,
			kind: schemas.KindResponse,
		},
		{
			name: "null result still counts as present",
			raw:  `{"id":"r4","result":null}`,
			kind: schemas.KindResponse,
		},
		{
			name: "well-formed error response",
			raw:  `{"id":"r5","error":"Component not found: nope"}`,
			kind: schemas.KindResponse,
		},
		{
			name:   "both result and error",
			raw:    `{"id":"r6","result":1,"error":"boom"}`,
			kind:   schemas.KindInvalid,
			reason: "both",
		},
		{
			name:   "neither result nor error",
			raw:    `{"id":"r7"}`,
			kind:   schemas.KindInvalid,
			reason: "neither",
		},
		{
			name:   "missing correlation id",
			raw:    `{"method":"list"}`,
			kind:   schemas.KindInvalid,
			reason: "correlation id",
		},
		{
			name:   "request smuggling response fields",
			raw:    `{"id":"r8","method":"get","result":5}`,
			kind:   schemas.KindInvalid,
			reason: "response fields",
		},
		{
			name:   "not JSON at all",
			raw:    `garbage{`,
			kind:   schemas.KindInvalid,
			reason: "malformed JSON",
		},
		{
			name:   "empty method",
			raw:    `{"id":"r9","method":""}`,
			kind:   schemas.KindInvalid,
			reason: "empty method",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			parsed := schemas.ParseMessage([]byte(tc.raw))
			assert.Equal(t, tc.kind, parsed.Kind)
			switch tc.kind {
			case schemas.KindRequest:
				require.NotNil(t, parsed.Request)
				assert.Nil(t, parsed.Response)
			case schemas.KindResponse:
				require.NotNil(t, parsed.Response)
				assert.Nil(t, parsed.Request)
				assert.NoError(t, parsed.Response.Validate())
			case schemas.KindInvalid:
				assert.Contains(t, parsed.Reason, tc.reason)
			}
		})
	}
}

func TestResponse_DiscriminantInvariant(t *testing.T) {
	ok, err := schemas.NewResultResponse("c1", map[string]any{"success": true})
	require.NoError(t, err)
	assert.NoError(t, ok.Validate())

	// A nil result still serializes to a present field.
	void, err := schemas.NewResultResponse("c2", nil)
	require.NoError(t, err)
	assert.NoError(t, void.Validate())
	assert.Empty(t, void.Error)

	fail := schemas.NewErrorResponse("c3", "Key not found: x")
	assert.NoError(t, fail.Validate())
	assert.Empty(t, fail.Result)

	// Even an empty error message must keep the discriminant intact.
	coerced := schemas.NewErrorResponse("c4", "")
	assert.NoError(t, coerced.Validate())

	bad := schemas.Response{ID: "c5", Result: []byte(`1`), Error: "boom"}
	assert.Error(t, bad.Validate())
	neither := schemas.Response{ID: "c6"}
	assert.Error(t, neither.Validate())
}

func TestDecodeResult_RawPayloads(t *testing.T) {
	var infos []schemas.ExposeInfo
	raw := []byte(`[{"id":"lamp","keys":["on"],"registered_at":"2026-08-26T00:00:00Z"}]`)
	require.NoError(t, schemas.DecodeResult(raw, &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "lamp", infos[0].ID)

	// Void results come back as null or nothing at all; both leave the
	// target untouched.
	res := schemas.Result{Success: true}
	require.NoError(t, schemas.DecodeResult([]byte(`null`), &res))
	assert.True(t, res.Success)
	require.NoError(t, schemas.DecodeResult(nil, &res))
	assert.True(t, res.Success)

	assert.Error(t, schemas.DecodeResult([]byte(`{`), &res))
}

func TestNewRequest_GeneratesDistinctCorrelationIDs(t *testing.T) {
	a, err := schemas.NewRequest(schemas.MethodList, schemas.ListParams{})
	require.NoError(t, err)
	b, err := schemas.NewRequest(schemas.MethodList, schemas.ListParams{})
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, schemas.MethodList, a.Method)
}

func TestKnownMethod(t *testing.T) {
	for _, m := range schemas.Methods {
		assert.True(t, schemas.KnownMethod(m), string(m))
	}
	assert.False(t, schemas.KnownMethod("reboot"))
}

func TestResultConstructors(t *testing.T) {
	ok := schemas.OK(42)
	assert.True(t, ok.Success)
	assert.Empty(t, ok.Error)

	done := schemas.Done()
	assert.True(t, done.Success)
	assert.Nil(t, done.Value)

	fail := schemas.Failf("Component not found: %s", "ghost")
	assert.False(t, fail.Success)
	assert.Equal(t, "Component not found: ghost", fail.Error)
	assert.Nil(t, fail.Value)
}
