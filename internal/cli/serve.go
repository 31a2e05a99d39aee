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
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"zimage/internal/httpapi"
	"zimage/internal/mcpserver"
)

const shutdownTimeout = 5 * time.Second

var fnInterfaceAddrs = net.InterfaceAddrs

// listenAddr prefers explicit flags, then the configured address.
func listenAddr(configured, host string, port int, flagsSet bool) string {
	if configured != "" && !flagsSet {
		return configured
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// lanURLs turns interface addresses into URLs other machines can use.
// Loopback, link-local and multicast addresses are skipped.
func lanURLs(addrs []net.Addr, port string) []string {
	var out []string
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		default:
			continue
		}
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() || ip.IsMulticast() {
			continue
		}
		out = append(out, "http://"+net.JoinHostPort(ip.String(), port))
	}
	return out
}

// logLANURLs lists the network URLs when addr binds every interface.
func (a *app) logLANURLs(addr string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || (host != "" && host != "0.0.0.0" && host != "::") {
		return
	}
	addrs, err := fnInterfaceAddrs()
	if err != nil {
		a.log.Debug().Err(err).Msg("list interface addresses")
		return
	}
	a.log.Info().Str("url", "http://"+net.JoinHostPort("localhost", port)).Msg("local")
	for _, u := range lanURLs(addrs, port) {
		a.log.Info().Str("url", u).Msg("network")
	}
}

func newServeCmd(a *app) *cobra.Command {
	var (
		host    string
		port    int
		withMCP bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, generated images and the MCP SSE endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flagsSet := cmd.Flags().Changed("host") || cmd.Flags().Changed("port")
			return a.serve(cmd.Context(), listenAddr(a.cfg.Addr, host, port, flagsSet), withMCP)
		},
	}
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Listen host")
	cmd.Flags().IntVar(&port, "port", 8000, "Listen port")
	cmd.Flags().BoolVar(&withMCP, "mcp", true, "Mount the MCP SSE transport under /mcp")
	return cmd
}

func (a *app) serve(ctx context.Context, addr string, withMCP bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer a.closeService(svc)

	httpapi.SetLogger(a.log.With().Str("component", "http").Logger())
	httpapi.SetBaseContext(ctx)
	if len(a.cfg.CORSOrigins) > 0 {
		httpapi.SetCORSOptions(true, a.cfg.CORSOrigins, nil, nil)
	}
	var opts []httpapi.Option
	if withMCP {
		sse := mcpserver.New(svc, a.log.With().Str("component", "mcp").Logger(), Version).SSEHandler("/mcp", "")
		opts = append(opts, httpapi.WithMount("/mcp", untilDone(ctx, sse)))
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewMux(svc, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", addr).Bool("mcp", withMCP).Str("outputs", svc.OutputDir()).Msg("zimage listening")
		a.logLANURLs(addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			a.log.Warn().Err(err).Msg("graceful shutdown")
		}
		return nil
	})
	return g.Wait()
}

// untilDone cancels each request's context once ctx ends. Event streams only
// return when their request context does, and Shutdown waits for them.
func untilDone(ctx context.Context, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		h.ServeHTTP(w, r.WithContext(rctx))
	})
}
