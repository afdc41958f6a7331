// File: cmd/ctl.go
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dang-hai/agentpulse/api/schemas"
	"github.com/dang-hai/agentpulse/internal/interact"
	"github.com/dang-hai/agentpulse/internal/observability"
	"github.com/dang-hai/agentpulse/internal/tools"
	"github.com/dang-hai/agentpulse/internal/transport"
)

// newCtlCmd groups the controller-side commands. Each one dials the
// configured host over the WebSocket carrier, runs a single operation, and
// prints the outcome as JSON.
func newCtlCmd() *cobra.Command {
	ctlCmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running host: list, discover, get, set, call, interact",
	}

	var tag string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered components",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *transport.Client) error {
				infos, err := c.List(ctx, tag)
				if err != nil {
					return err
				}
				return printJSON(infos)
			})
		},
	}
	listCmd.Flags().StringVar(&tag, "tag", "", "only components carrying this tag")

	var discoverTag, discoverID string
	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "List components with a live state snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *transport.Client) error {
				infos, err := c.Discover(ctx, discoverTag, discoverID)
				if err != nil {
					return err
				}
				return printJSON(infos)
			})
		},
	}
	discoverCmd.Flags().StringVar(&discoverTag, "tag", "", "only components carrying this tag")
	discoverCmd.Flags().StringVar(&discoverID, "id", "", "only this component")

	getCmd := &cobra.Command{
		Use:   "get <id> <key>",
		Short: "Read one key of one component",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *transport.Client) error {
				res, err := c.Get(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <id> <key> <value>",
		Short: "Write one key of one component (value parsed as JSON, else taken as a string)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *transport.Client) error {
				res, err := c.Set(ctx, args[0], args[1], parseValue(args[2]))
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}

	callCmd := &cobra.Command{
		Use:   "call <id> <key> [args...]",
		Short: "Invoke one action of one component",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs := make([]any, 0, len(args)-2)
			for _, raw := range args[2:] {
				callArgs = append(callArgs, parseValue(raw))
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *transport.Client) error {
				res, err := c.Call(ctx, args[0], args[1], callArgs...)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}

	var interactFile string
	interactCmd := &cobra.Command{
		Use:   "interact [params-json]",
		Short: "Run a batched interaction against one component",
		Long: `Run a batched interaction. The parameter document is JSON, given inline
or via --file:

  {"id": "player", "actions": [{"type": "call", "key": "jump"}],
   "observe": {"wait_for": {"key": "grounded", "becomes": true, "timeout_ms": 2000}, "logs": true}}`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := interactInput(args, interactFile)
			if err != nil {
				return err
			}
			var params schemas.InteractParams
			if err := schemas.Codec.Unmarshal(raw, &params); err != nil {
				return fmt.Errorf("parse interact params: %w", err)
			}

			return withClient(cmd.Context(), func(ctx context.Context, c *transport.Client) error {
				station := tools.NewRemoteStation(c, observability.GetLogger(), interact.Options{
					PollInterval: appConfig.Interact.PollInterval,
				})
				out, err := station.Interact(ctx, params)
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	interactCmd.Flags().StringVar(&interactFile, "file", "", "read the parameter document from a file")

	ctlCmd.AddCommand(listCmd, discoverCmd, getCmd, setCmd, callCmd, interactCmd)
	return ctlCmd
}

// withClient dials the configured host, runs one operation under the request
// timeout, and tears the carrier down.
func withClient(parent context.Context, fn func(context.Context, *transport.Client) error) error {
	logger := observability.GetLogger()
	cfg := appConfig.Transport

	ws := transport.NewWebSocket(transport.WebSocketConfig{
		URL:                  cfg.URL,
		DialTimeout:          cfg.DialTimeout,
		Reconnect:            cfg.Reconnect,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, nil, logger)

	dialCtx, cancel := context.WithTimeout(parent, cfg.DialTimeout)
	defer cancel()
	if err := ws.Connect(dialCtx); err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.URL, err)
	}
	defer ws.Disconnect()

	ctx := parent
	if cfg.RequestTimeout > 0 {
		var cancelReq context.CancelFunc
		ctx, cancelReq = context.WithTimeout(parent, cfg.RequestTimeout)
		defer cancelReq()
	}

	if err := fn(ctx, transport.NewClient(ws)); err != nil {
		logger.Debug("control operation failed", zap.Error(err))
		return err
	}
	return nil
}

// parseValue interprets a CLI argument as JSON when possible, falling back
// to a plain string. "42" becomes a number, "true" a bool, "[1,2]" an array,
// "hello" a string.
func parseValue(raw string) any {
	var v any
	if err := schemas.Codec.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func interactInput(args []string, file string) ([]byte, error) {
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read params file: %w", err)
		}
		return raw, nil
	}
	if len(args) == 1 {
		return []byte(args[0]), nil
	}
	return nil, fmt.Errorf("interact requires a params document, inline or via --file")
}

func printJSON(v any) error {
	out, err := schemas.Codec.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
