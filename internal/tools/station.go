// File: internal/tools/station.go

// Package tools is the controller-facing surface an agent loop drives:
// a small set of named operations over a station, each validated before
// execution.
package tools

import (
	"context"

	"go.uber.org/zap"

	"github.com/dang-hai/agentpulse/api/schemas"
	"github.com/dang-hai/agentpulse/internal/interact"
	"github.com/dang-hai/agentpulse/internal/registry"
	"github.com/dang-hai/agentpulse/internal/transport"
)

// Station is everything the tool surface needs from the controlled side,
// whether it lives in-process or behind a carrier.
type Station interface {
	List(ctx context.Context, tag string) ([]schemas.ExposeInfo, error)
	Discover(ctx context.Context, tag, id string) ([]schemas.DiscoverInfo, error)
	Get(ctx context.Context, id, key string) (schemas.Result, error)
	Set(ctx context.Context, id, key string, value any) (schemas.Result, error)
	Call(ctx context.Context, id, key string, args ...any) (schemas.Result, error)
	Interact(ctx context.Context, params schemas.InteractParams) (schemas.InteractResult, error)
}

// LocalStation drives an in-process registry directly.
type LocalStation struct {
	reg      *registry.Registry
	executor *interact.Executor
}

var _ Station = (*LocalStation)(nil)

// NewLocalStation builds a station over an in-process registry.
func NewLocalStation(reg *registry.Registry, logger *zap.Logger, opts interact.Options) *LocalStation {
	return &LocalStation{
		reg:      reg,
		executor: interact.New(interact.RegistryBackend{Registry: reg}, logger, opts),
	}
}

func (s *LocalStation) List(_ context.Context, tag string) ([]schemas.ExposeInfo, error) {
	return s.reg.List(registry.Filter{Tag: tag}), nil
}

func (s *LocalStation) Discover(_ context.Context, tag, id string) ([]schemas.DiscoverInfo, error) {
	return s.reg.Discover(registry.Filter{Tag: tag, ID: id}), nil
}

func (s *LocalStation) Get(_ context.Context, id, key string) (schemas.Result, error) {
	return s.reg.Get(id, key), nil
}

func (s *LocalStation) Set(ctx context.Context, id, key string, value any) (schemas.Result, error) {
	return s.reg.Set(ctx, id, key, value), nil
}

func (s *LocalStation) Call(ctx context.Context, id, key string, args ...any) (schemas.Result, error) {
	return s.reg.Call(ctx, id, key, args...), nil
}

func (s *LocalStation) Interact(ctx context.Context, params schemas.InteractParams) (schemas.InteractResult, error) {
	return s.executor.Run(ctx, params), nil
}

// RemoteStation drives a controlled peer over a carrier. Interactions run
// through the same executor, with each registry call crossing the wire.
type RemoteStation struct {
	client   *transport.Client
	executor *interact.Executor
}

var _ Station = (*RemoteStation)(nil)

// NewRemoteStation builds a station over an already-connected client.
func NewRemoteStation(client *transport.Client, logger *zap.Logger, opts interact.Options) *RemoteStation {
	return &RemoteStation{
		client:   client,
		executor: interact.New(remoteBackend{client: client}, logger, opts),
	}
}

func (s *RemoteStation) List(ctx context.Context, tag string) ([]schemas.ExposeInfo, error) {
	return s.client.List(ctx, tag)
}

func (s *RemoteStation) Discover(ctx context.Context, tag, id string) ([]schemas.DiscoverInfo, error) {
	return s.client.Discover(ctx, tag, id)
}

func (s *RemoteStation) Get(ctx context.Context, id, key string) (schemas.Result, error) {
	return s.client.Get(ctx, id, key)
}

func (s *RemoteStation) Set(ctx context.Context, id, key string, value any) (schemas.Result, error) {
	return s.client.Set(ctx, id, key, value)
}

func (s *RemoteStation) Call(ctx context.Context, id, key string, args ...any) (schemas.Result, error) {
	return s.client.Call(ctx, id, key, args...)
}

func (s *RemoteStation) Interact(ctx context.Context, params schemas.InteractParams) (schemas.InteractResult, error) {
	return s.executor.Run(ctx, params), nil
}

// remoteBackend adapts the typed client to the executor's backend surface.
// Transport failures surface as failed Results so a dropped connection
// mid-batch reads like any other action failure.
type remoteBackend struct {
	client *transport.Client
}

func (b remoteBackend) Has(ctx context.Context, id string) bool {
	infos, err := b.client.List(ctx, "")
	if err != nil {
		return false
	}
	for _, info := range infos {
		if info.ID == id {
			return true
		}
	}
	return false
}

func (b remoteBackend) Get(ctx context.Context, id, key string) schemas.Result {
	return resultOrFail(b.client.Get(ctx, id, key))
}

func (b remoteBackend) Set(ctx context.Context, id, key string, value any) schemas.Result {
	return resultOrFail(b.client.Set(ctx, id, key, value))
}

func (b remoteBackend) Call(ctx context.Context, id, key string, args ...any) schemas.Result {
	return resultOrFail(b.client.Call(ctx, id, key, args...))
}

func (b remoteBackend) State(ctx context.Context, id string) map[string]any {
	infos, err := b.client.Discover(ctx, "", id)
	if err != nil || len(infos) == 0 {
		return nil
	}
	return infos[0].State
}

func resultOrFail(res schemas.Result, err error) schemas.Result {
	if err != nil {
		return schemas.Fail(err.Error())
	}
	return res
}
