package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"zimage/internal/mcpserver"
)

func newMCPCmd(a *app) *cobra.Command {
	var (
		transport string
		host      string
		port      int
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server on stdio or as a standalone SSE server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch transport {
			case "stdio":
				return a.serveMCPStdio(cmd.Context())
			case "sse":
				return a.serveMCPSSE(cmd.Context(), net.JoinHostPort(host, strconv.Itoa(port)))
			default:
				return usageError("unknown transport %q (want stdio or sse)", transport)
			}
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport: stdio|sse")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "SSE listen host")
	cmd.Flags().IntVar(&port, "port", 8000, "SSE listen port")
	return cmd
}

func (a *app) serveMCPStdio(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	svc, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer a.closeService(svc)
	s := mcpserver.New(svc, a.log.With().Str("component", "mcp").Logger(), Version)
	err = s.ServeStdio(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) serveMCPSSE(ctx context.Context, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	svc, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer a.closeService(svc)
	sse := mcpserver.New(svc, a.log.With().Str("component", "mcp").Logger(), Version).SSEHandler("", "")
	srv := &http.Server{Addr: addr, Handler: untilDone(ctx, sse)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", addr).Msg("mcp sse listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
