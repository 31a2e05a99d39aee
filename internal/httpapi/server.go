// Package httpapi exposes the studio over HTTP.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zimage/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Models(ctx context.Context) types.ModelsResponse
	Loras(ctx context.Context) ([]types.Lora, error)
	UploadLora(ctx context.Context, filename, displayName, triggerWord string, r io.Reader) (*types.UploadLoraResponse, error)
	DeleteLora(ctx context.Context, id int64) error
	Generate(ctx context.Context, req types.GenerateRequest) (*types.GenerateResponse, error)
	History(ctx context.Context, limit, offset int) ([]types.HistoryItem, int, error)
	DeleteHistory(ctx context.Context, id int64) error
	Status() types.StatusResponse
	Ready() bool
	OutputDir() string
}

// Option adjusts the router built by NewMux.
type Option func(chi.Router)

// WithMount mounts h under pattern, e.g. the MCP SSE transport under /mcp.
func WithMount(pattern string, h http.Handler) Option {
	return func(r chi.Router) { r.Mount(pattern, h) }
}

func NewMux(svc Service, opts ...Option) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: orDefault(corsAllowedOrigins, []string{"*"}),
			AllowedMethods: orDefault(corsAllowedMethods, []string{"GET", "POST", "DELETE", "OPTIONS"}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Content-Type", "X-Log-Level"}),
			ExposedHeaders: []string{"X-Total-Count", "X-Page-Size", "X-Page-Offset"},
			MaxAge:         300,
		}))
	}

	a := &api{svc: svc}
	r.Get("/models", a.models)
	r.Route("/loras", func(r chi.Router) {
		r.Get("/", a.listLoras)
		r.Post("/", a.uploadLora)
		r.Delete("/{id}", a.deleteLora)
	})
	r.Post("/generate", a.generate)
	r.Route("/history", func(r chi.Router) {
		r.Get("/", a.history)
		r.Delete("/{id}", a.deleteHistory)
	})
	r.Get("/status", a.status)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unavailable"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Handle("/outputs/*", outputs(svc.OutputDir()))
	MountSwagger(r)

	for _, o := range opts {
		o(r)
	}
	return r
}

// outputs serves generated images without directory listings.
func outputs(dir string) http.Handler {
	fs := http.StripPrefix("/outputs/", http.FileServer(http.Dir(dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}
		fs.ServeHTTP(w, r)
	})
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
