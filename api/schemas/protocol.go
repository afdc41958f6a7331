// File: api/schemas/protocol.go
package schemas

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// Codec is the JSON configuration shared by the protocol layer. It is a
// drop-in replacement for encoding/json with faster encode/decode paths.
var Codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Method identifies one of the fixed remote procedures.
type Method string

const (
	MethodList       Method = "list"
	MethodDiscover   Method = "discover"
	MethodGet        Method = "get"
	MethodSet        Method = "set"
	MethodCall       Method = "call"
	MethodRegister   Method = "register"
	MethodUnregister Method = "unregister"
)

// Methods lists every procedure a peer may invoke, in table order.
var Methods = []Method{
	MethodList, MethodDiscover, MethodGet, MethodSet, MethodCall,
	MethodRegister, MethodUnregister,
}

// KnownMethod reports whether m names a procedure in the fixed table.
func KnownMethod(m Method) bool {
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

// Request is the wire envelope for one procedure invocation. ID is the
// correlation id pairing the request with its eventual Response.
type Request struct {
	ID     string          `json:"id"`
	Method Method          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the wire envelope for the outcome of one Request. Exactly one
// of Result or Error is populated; the constructors below enforce this and
// ParseMessage rejects inbound payloads that violate it.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NewRequest builds a Request with a fresh correlation id and serialized
// params.
func NewRequest(method Method, params any) (Request, error) {
	raw, err := Codec.Marshal(params)
	if err != nil {
		return Request{}, fmt.Errorf("marshal params for %q: %w", method, err)
	}
	return Request{ID: uuid.New().String(), Method: method, Params: raw}, nil
}

// NewResultResponse builds a success Response carrying the serialized result.
func NewResultResponse(id string, result any) (Response, error) {
	raw, err := Codec.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("marshal result: %w", err)
	}
	return Response{ID: id, Result: raw}, nil
}

// NewErrorResponse builds a failure Response. An empty message is coerced to
// a generic one so the result/error discriminant always holds.
func NewErrorResponse(id, message string) Response {
	if message == "" {
		message = "unknown error"
	}
	return Response{ID: id, Error: message}
}

// Validate checks the result/error discriminant on a constructed Response.
func (r Response) Validate() error {
	hasResult := len(r.Result) > 0
	hasError := r.Error != ""
	switch {
	case r.ID == "":
		return fmt.Errorf("response missing correlation id")
	case hasResult && hasError:
		return fmt.Errorf("response %s carries both result and error", r.ID)
	case !hasResult && !hasError:
		return fmt.Errorf("response %s carries neither result nor error", r.ID)
	}
	return nil
}

// DecodeResult unmarshals the response result into out, or surfaces the
// remote error.
func (r Response) DecodeResult(out any) error {
	if r.Error != "" {
		return fmt.Errorf("remote error: %s", r.Error)
	}
	if err := Codec.Unmarshal(r.Result, out); err != nil {
		return fmt.Errorf("decode result for %s: %w", r.ID, err)
	}
	return nil
}

// DecodeResult unmarshals a raw result payload, as returned by a carrier's
// Request, into out. A serialized null leaves out untouched.
func DecodeResult(raw json.RawMessage, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := Codec.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// MessageKind classifies an inbound raw payload.
type MessageKind int

const (
	// KindInvalid marks a payload that is neither a well-formed Request nor
	// a well-formed Response.
	KindInvalid MessageKind = iota
	KindRequest
	KindResponse
)

func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// ParsedMessage is the outcome of classifying one inbound payload. Exactly
// one of Request/Response is non-nil for the corresponding kind; Reason is
// populated only for KindInvalid.
type ParsedMessage struct {
	Kind     MessageKind
	Request  *Request
	Response *Response
	Reason   string
}

// probe mirrors the union of Request and Response fields so a single
// unmarshal can drive classification. Pointer fields distinguish absent from
// zero-valued.
type probe struct {
	ID     *string         `json:"id"`
	Method *string         `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

// ParseMessage classifies a raw payload into exactly one of: well-formed
// Request, well-formed Response, or Invalid with a reason. It is the single
// trust-boundary parser; carriers must never hand-roll this classification.
func ParseMessage(raw []byte) ParsedMessage {
	var p probe
	if err := Codec.Unmarshal(raw, &p); err != nil {
		return ParsedMessage{Kind: KindInvalid, Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if p.ID == nil || *p.ID == "" {
		return ParsedMessage{Kind: KindInvalid, Reason: "missing correlation id"}
	}

	// A RawMessage decodes an explicit null to empty, so field presence has
	// to be probed at the key level. A serialized null result still counts
	// as present: the discriminant is about field presence, not value.
	var keys map[string]json.RawMessage
	if err := Codec.Unmarshal(raw, &keys); err != nil {
		return ParsedMessage{Kind: KindInvalid, Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	_, resultPresent := keys["result"]

	if p.Method != nil {
		if *p.Method == "" {
			return ParsedMessage{Kind: KindInvalid, Reason: "empty method"}
		}
		if resultPresent || p.Error != nil {
			return ParsedMessage{Kind: KindInvalid, Reason: "request carries response fields"}
		}
		return ParsedMessage{
			Kind:    KindRequest,
			Request: &Request{ID: *p.ID, Method: Method(*p.Method), Params: p.Params},
		}
	}

	hasResult := resultPresent
	hasError := p.Error != nil && *p.Error != ""
	switch {
	case hasResult && hasError:
		return ParsedMessage{Kind: KindInvalid, Reason: "response carries both result and error"}
	case !hasResult && !hasError:
		return ParsedMessage{Kind: KindInvalid, Reason: "payload is neither request nor response"}
	}
	if hasResult && len(p.Result) == 0 {
		p.Result = json.RawMessage("null")
	}
	resp := &Response{ID: *p.ID, Result: p.Result}
	if hasError {
		resp.Error = *p.Error
	}
	return ParsedMessage{Kind: KindResponse, Response: resp}
}

// -- Typed procedure inputs --

// ListParams filters list output by tag when non-empty.
type ListParams struct {
	Tag string `json:"tag,omitempty"`
}

// DiscoverParams filters discover output by tag and/or component id.
type DiscoverParams struct {
	Tag string `json:"tag,omitempty"`
	ID  string `json:"id,omitempty"`
}

// GetParams addresses one binding for a read.
type GetParams struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// SetParams addresses one binding for a write.
type SetParams struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// CallParams addresses one action for invocation with positional args.
type CallParams struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Args []any  `json:"args,omitempty"`
}

// RegisterParams is the notification a controlled peer sends to its
// controller when a component (re)registers. It carries binding names only;
// values stay on the controlled side.
type RegisterParams struct {
	ID          string   `json:"id"`
	Keys        []string `json:"keys"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// UnregisterParams is the notification for a component going away.
type UnregisterParams struct {
	ID string `json:"id"`
}

// Ack is the output of register/unregister.
type Ack struct {
	Success bool `json:"success"`
}
