// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dang-hai/agentpulse/api/schemas"
	"github.com/dang-hai/agentpulse/internal/observability"
	"github.com/dang-hai/agentpulse/internal/registry"
	"github.com/dang-hai/agentpulse/internal/transport"
)

// newServeCmd hosts a controlled-side registry behind one HTTP listener:
// a WebSocket endpoint for duplex controllers and an SSE pair for
// unary-request controllers.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Host a control registry over WebSocket and SSE",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			cfg := appConfig

			reg := registry.New(logger)
			dispatcher := transport.NewDispatcher(reg, logger)
			wsServer := transport.NewWebSocketServer(dispatcher, logger)
			sseServer := transport.NewSSEServer(dispatcher, logger)

			// Registration lifecycle notifications fan out to every
			// connected controller on both carriers.
			reg.SetNotifier(func(id string, keys []string, description string, tags []string, registered bool) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if registered {
					params := schemas.RegisterParams{ID: id, Keys: keys, Description: description, Tags: tags}
					_ = wsServer.NotifyAll(ctx, schemas.MethodRegister, params)
					_ = sseServer.NotifyAll(ctx, schemas.MethodRegister, params)
					return
				}
				params := schemas.UnregisterParams{ID: id}
				_ = wsServer.NotifyAll(ctx, schemas.MethodUnregister, params)
				_ = sseServer.NotifyAll(ctx, schemas.MethodUnregister, params)
			}, func(err error) {
				logger.Warn("registration notification failed", zap.Error(err))
			})

			unregisterRuntime, err := exposeRuntime(reg)
			if err != nil {
				return err
			}
			defer unregisterRuntime()

			r := chi.NewRouter()
			r.Use(middleware.Recoverer)
			r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("OK"))
			})
			r.Route(cfg.Server.BasePath, func(r chi.Router) {
				r.Handle("/ws", wsServer)
				sseServer.Mount(r)
			})

			srv := &http.Server{
				Addr:    cfg.Server.ListenAddr,
				Handler: r,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("control server listening",
					zap.String("addr", cfg.Server.ListenAddr),
					zap.String("base_path", cfg.Server.BasePath))
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				logger.Info("shutting down control server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				wsServer.Close()
				return srv.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}
}

// exposeRuntime registers the built-in runtime component so a freshly
// started host is immediately discoverable: an uptime reading, a live
// log-level accessor, and a ping action.
func exposeRuntime(reg *registry.Registry) (func(), error) {
	start := time.Now()
	return reg.Register("runtime", map[string]any{
		"uptime": registry.NewAccessor(
			func() any { return time.Since(start).Round(time.Millisecond).String() },
			func(any) error { return errors.New("uptime is read-only") },
		),
		"log_level": registry.NewAccessor(
			func() any { return observability.Level() },
			func(v any) error {
				s, ok := v.(string)
				if !ok {
					return errors.New("log_level must be a string")
				}
				return observability.SetLevel(s)
			},
		),
		"ping": func() string { return "pong" },
	}, registry.Options{
		Description: "Host process runtime controls",
		Tags:        []string{"system"},
	})
}
