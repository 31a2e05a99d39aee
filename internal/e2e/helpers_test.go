package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"zimage/internal/config"
	"zimage/internal/httpapi"
	"zimage/internal/mcpserver"
	"zimage/internal/pipeline"
	"zimage/internal/safetensors"
	"zimage/internal/studio"
)

// fakeRunner speaks the runner wire protocol and renders blank images.
type fakeRunner struct {
	mu          sync.Mutex
	calls       []string
	adapters    []string
	active      []string
	transformer string
	failNext    string
}

func (f *fakeRunner) record(r *http.Request) {
	f.mu.Lock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	f.mu.Unlock()
}

func (f *fakeRunner) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeRunner) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pipeline.RuntimeInfo{Name: "python", Version: "3.11.9"})
	})
	mux.HandleFunc("/v1/pipeline", func(w http.ResponseWriter, r *http.Request) { f.record(r) })
	mux.HandleFunc("/v1/pipeline/", func(w http.ResponseWriter, r *http.Request) { f.record(r) })
	mux.HandleFunc("/v1/memory/reclaim", func(w http.ResponseWriter, r *http.Request) { f.record(r) })
	mux.HandleFunc("/v1/transformer", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.transformer == "" {
			f.transformer = "base"
		}
		if r.Method == http.MethodPut {
			var body struct{ Component string }
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.transformer = body.Component
			f.adapters, f.active = nil, nil
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"component": f.transformer})
	})
	mux.HandleFunc("/v1/transformer/compile", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		_, _ = io.WriteString(w, `{"component":"compiled"}`)
	})
	mux.HandleFunc("/v1/adapters/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if _, err := safetensors.Read(r.Body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"bad adapter"}`)
			return
		}
		f.mu.Lock()
		f.adapters = append(f.adapters, strings.TrimPrefix(r.URL.Path, "/v1/adapters/"))
		f.mu.Unlock()
	})
	mux.HandleFunc("/v1/adapters", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			var body struct{ Names []string }
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.active = body.Names
		case http.MethodDelete:
			f.adapters, f.active = nil, nil
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string][]string{"names": f.adapters})
		}
	})
	mux.HandleFunc("/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		msg := f.failNext
		f.failNext = ""
		f.mu.Unlock()
		if msg != "" {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
			return
		}
		var req struct{ Width, Height int }
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "image/png")
		if err := png.Encode(w, image.NewRGBA(image.Rect(0, 0, req.Width, req.Height))); err != nil {
			t.Errorf("encode: %v", err)
		}
	})
	return mux
}

type stack struct {
	srv    *httptest.Server
	runner *fakeRunner
	studio *studio.Studio
	mcp    *mcpserver.Server
}

// newStack wires the real studio, store, manager and runner client to a fake
// runner, and serves the HTTP API with MCP mounted.
func newStack(t *testing.T) *stack {
	t.Helper()
	f := &fakeRunner{}
	runnerSrv := httptest.NewServer(f.handler(t))
	t.Cleanup(runnerSrv.Close)

	data := t.TempDir()
	t.Setenv(config.EnvDataDir, data)
	t.Setenv(config.EnvOutputDir, "")
	cfg := config.Config{DataDir: data, RunnerURL: runnerSrv.URL, DefaultPrecision: "q8"}
	s, err := studio.Open(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("open studio: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	m := mcpserver.New(s, zerolog.Nop(), "test")
	srv := httptest.NewServer(httpapi.NewMux(s, httpapi.WithMount("/mcp", m.SSEHandler("/mcp", ""))))
	t.Cleanup(srv.Close)
	return &stack{srv: srv, runner: f, studio: s, mcp: m}
}

func httpDo(t *testing.T, method, url, contentType string, body io.Reader) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func httpPostJSON(t *testing.T, url string, payload string) (*http.Response, []byte) {
	t.Helper()
	return httpDo(t, http.MethodPost, url, "application/json", strings.NewReader(payload))
}

// loraFile returns a minimal valid adapter file.
func loraFile(t *testing.T) []byte {
	t.Helper()
	f := &safetensors.File{
		Header: safetensors.Header{Tensors: map[string]safetensors.Tensor{
			"diffusion_model.layers.0.attn.lora_A.weight": {DType: "F32", Shape: []int64{1}, DataOffsets: [2]int64{0, 4}},
		}},
		Data: make([]byte, 4),
	}
	b, err := f.Bytes()
	if err != nil {
		t.Fatalf("encode lora: %v", err)
	}
	return b
}

func uploadLora(t *testing.T, url, filename string, content []byte) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = fw.Write(content)
	_ = mw.WriteField("display_name", "Style")
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return httpDo(t, http.MethodPost, url, mw.FormDataContentType(), &buf)
}
