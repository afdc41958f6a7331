// File: internal/transport/dispatcher.go
package transport

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dang-hai/agentpulse/api/schemas"
	"github.com/dang-hai/agentpulse/internal/registry"
)

// remotePlaceholder stands in for binding values mirrored from a controlled
// peer's register notification; the real values live on the other side.
const remotePlaceholder = "[remote]"

// Dispatcher executes inbound requests against a local registry. Every
// carrier funnels its "controlled side" traffic through here so protocol
// handling exists in exactly one place.
type Dispatcher struct {
	reg    *registry.Registry
	logger *zap.Logger
}

// NewDispatcher builds a dispatcher over reg.
func NewDispatcher(reg *registry.Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{reg: reg, logger: logger.Named("dispatch")}
}

// Dispatch runs one request and always produces a response: unknown methods
// and malformed params become error responses, never thrown failures that
// could kill the carrier.
func (d *Dispatcher) Dispatch(ctx context.Context, req schemas.Request) schemas.Response {
	result, err := d.execute(ctx, req)
	if err != nil {
		return schemas.NewErrorResponse(req.ID, err.Error())
	}
	resp, err := schemas.NewResultResponse(req.ID, result)
	if err != nil {
		d.logger.Error("failed to encode result", zap.String("method", string(req.Method)), zap.Error(err))
		return schemas.NewErrorResponse(req.ID, fmt.Sprintf("encode result: %v", err))
	}
	return resp
}

func (d *Dispatcher) execute(ctx context.Context, req schemas.Request) (any, error) {
	switch req.Method {
	case schemas.MethodList:
		var p schemas.ListParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		return d.reg.List(registry.Filter{Tag: p.Tag}), nil

	case schemas.MethodDiscover:
		var p schemas.DiscoverParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		return d.reg.Discover(registry.Filter{Tag: p.Tag, ID: p.ID}), nil

	case schemas.MethodGet:
		var p schemas.GetParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		return d.reg.Get(p.ID, p.Key), nil

	case schemas.MethodSet:
		var p schemas.SetParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		return d.reg.Set(ctx, p.ID, p.Key, p.Value), nil

	case schemas.MethodCall:
		var p schemas.CallParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		return d.reg.Call(ctx, p.ID, p.Key, p.Args...), nil

	case schemas.MethodRegister:
		var p schemas.RegisterParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		bindings := make(map[string]any, len(p.Keys))
		for _, key := range p.Keys {
			bindings[key] = remotePlaceholder
		}
		if _, err := d.reg.Register(p.ID, bindings, registry.Options{
			Description: p.Description,
			Tags:        p.Tags,
		}); err != nil {
			return nil, err
		}
		return schemas.Ack{Success: true}, nil

	case schemas.MethodUnregister:
		var p schemas.UnregisterParams
		if err := decodeParams(req, &p); err != nil {
			return nil, err
		}
		d.reg.Unregister(p.ID)
		return schemas.Ack{Success: true}, nil

	default:
		return nil, fmt.Errorf("unknown method: %s", req.Method)
	}
}

func decodeParams(req schemas.Request, out any) error {
	if len(req.Params) == 0 {
		return nil
	}
	if err := schemas.Codec.Unmarshal(req.Params, out); err != nil {
		return fmt.Errorf("invalid params for %s: %v", req.Method, err)
	}
	return nil
}

// HandleRaw classifies one inbound payload at the trust boundary. A request
// produces a serialized response and true; responses and invalid payloads
// produce (nil, false): the carrier routes responses through its pending
// table and drops invalid payloads after this method logs the reason.
func (d *Dispatcher) HandleRaw(ctx context.Context, raw []byte) ([]byte, bool) {
	parsed := schemas.ParseMessage(raw)
	switch parsed.Kind {
	case schemas.KindRequest:
		resp := d.Dispatch(ctx, *parsed.Request)
		out, err := schemas.Codec.Marshal(resp)
		if err != nil {
			d.logger.Error("failed to encode response", zap.String("id", resp.ID), zap.Error(err))
			return nil, false
		}
		return out, true
	case schemas.KindResponse:
		return nil, false
	default:
		d.logger.Warn("dropping invalid payload", zap.String("reason", parsed.Reason))
		return nil, false
	}
}
