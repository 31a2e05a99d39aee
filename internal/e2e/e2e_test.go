package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"zimage/pkg/types"
)

// TestE2E_GenerateHistoryAndOutputs drives one generation through the HTTP API
// and follows it into history and the served outputs.
func TestE2E_GenerateHistoryAndOutputs(t *testing.T) {
	st := newStack(t)

	resp, body := httpPostJSON(t, st.srv.URL+"/generate", `{"prompt":"a lighthouse at dusk","steps":4,"width":520,"height":260,"seed":42}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate: %d %s", resp.StatusCode, body)
	}
	var gen types.GenerateResponse
	if err := json.Unmarshal(body, &gen); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gen.Width != 512 || gen.Height != 256 || gen.Seed != 42 || gen.Precision != "q8" {
		t.Fatalf("unexpected response: %+v", gen)
	}
	if !strings.HasPrefix(gen.ImageURL, "/outputs/alighthouseatdusk_") {
		t.Fatalf("image url = %s", gen.ImageURL)
	}

	resp, img := httpDo(t, http.MethodGet, st.srv.URL+gen.ImageURL, "", nil)
	if resp.StatusCode != http.StatusOK || !bytes.HasPrefix(img, []byte("\x89PNG")) {
		t.Fatalf("outputs: %d, %d bytes", resp.StatusCode, len(img))
	}

	resp, body = httpDo(t, http.MethodGet, st.srv.URL+"/history", "", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Total-Count") != "1" {
		t.Fatalf("history: %d total=%q", resp.StatusCode, resp.Header.Get("X-Total-Count"))
	}
	var items []types.HistoryItem
	if err := json.Unmarshal(body, &items); err != nil || len(items) != 1 {
		t.Fatalf("history body: %v %s", err, body)
	}
	if items[0].ID != gen.ID || items[0].Status != "succeeded" || items[0].Model != "Disty0/Z-Image-Turbo-SDNQ-int8" {
		t.Fatalf("history item: %+v", items[0])
	}

	resp, _ = httpDo(t, http.MethodDelete, fmt.Sprintf("%s/history/%d", st.srv.URL, gen.ID), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete history: %d", resp.StatusCode)
	}
	if _, err := os.Stat(filepath.Join(st.studio.OutputDir(), strings.TrimPrefix(gen.ImageURL, "/outputs/"))); !os.IsNotExist(err) {
		t.Fatalf("image still on disk: %v", err)
	}
	resp, _ = httpDo(t, http.MethodGet, st.srv.URL+gen.ImageURL, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted image still served: %d", resp.StatusCode)
	}
	if st.runner.count("POST /v1/pipeline") != 1 {
		t.Fatalf("pipeline loads = %d, want 1", st.runner.count("POST /v1/pipeline"))
	}
}

// TestE2E_LoraLifecycle uploads a LoRA, generates with it and removes it.
func TestE2E_LoraLifecycle(t *testing.T) {
	st := newStack(t)

	resp, body := uploadLora(t, st.srv.URL+"/loras", "style.safetensors", loraFile(t))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: %d %s", resp.StatusCode, body)
	}
	var up types.UploadLoraResponse
	if err := json.Unmarshal(body, &up); err != nil || up.Filename != "style.safetensors" || up.DisplayName != "Style" {
		t.Fatalf("upload response: %v %s", err, body)
	}

	resp, body = uploadLora(t, st.srv.URL+"/loras", "broken.safetensors", []byte("not a safetensors file"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid upload: %d %s", resp.StatusCode, body)
	}

	resp, body = httpPostJSON(t, st.srv.URL+"/generate", `{"prompt":"fox","steps":2,"width":64,"height":64,"loras":[{"filename":"style.safetensors","strength":0.7}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate with lora: %d %s", resp.StatusCode, body)
	}
	if st.runner.count("PUT /v1/adapters") == 0 {
		t.Fatalf("adapter never reached the runner: %v", st.runner.calls)
	}

	resp, body = httpDo(t, http.MethodGet, st.srv.URL+"/history", "", nil)
	var items []types.HistoryItem
	if err := json.Unmarshal(body, &items); err != nil || len(items) != 1 || len(items[0].Loras) != 1 {
		t.Fatalf("history loras: %d %v %s", resp.StatusCode, err, body)
	}
	if l := items[0].Loras[0]; l.Filename != "style.safetensors" || l.Strength != 0.7 {
		t.Fatalf("history lora: %+v", l)
	}

	resp, body = httpPostJSON(t, st.srv.URL+"/generate", `{"prompt":"fox","loras":[{"filename":"nope.safetensors","strength":1}]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown lora: %d %s", resp.StatusCode, body)
	}

	resp, _ = httpDo(t, http.MethodDelete, fmt.Sprintf("%s/loras/%d", st.srv.URL, up.ID), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete lora: %d", resp.StatusCode)
	}
	resp, _ = httpDo(t, http.MethodDelete, fmt.Sprintf("%s/loras/%d", st.srv.URL, up.ID), "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: %d", resp.StatusCode)
	}
}

// TestE2E_RuntimeFailureIsRecorded checks a runner error surfaces as 500 and
// is stored as a failed row, which history listings skip.
func TestE2E_RuntimeFailureIsRecorded(t *testing.T) {
	st := newStack(t)
	st.runner.mu.Lock()
	st.runner.failNext = "CUDA out of memory"
	st.runner.mu.Unlock()

	resp, body := httpPostJSON(t, st.srv.URL+"/generate", `{"prompt":"fox","steps":2,"width":64,"height":64}`)
	if resp.StatusCode != http.StatusInternalServerError || !strings.Contains(string(body), "out of memory") {
		t.Fatalf("generate: %d %s", resp.StatusCode, body)
	}
	if _, total, err := st.studio.History(context.Background(), 10, 0); err != nil || total != 0 {
		t.Fatalf("failed row listed: %v %d", err, total)
	}

	resp, body = httpPostJSON(t, st.srv.URL+"/generate", `{"prompt":"fox","steps":2,"width":64,"height":64}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recovery generate: %d %s", resp.StatusCode, body)
	}
	var gen types.GenerateResponse
	if err := json.Unmarshal(body, &gen); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// The failed attempt took the first row id.
	if gen.ID != 2 {
		t.Fatalf("id = %d, want 2", gen.ID)
	}
}

// TestE2E_ValidationAndStatus covers rejected input and the status endpoints.
func TestE2E_ValidationAndStatus(t *testing.T) {
	st := newStack(t)
	for _, payload := range []string{
		`{"prompt":"x","steps":101}`,
		`{"prompt":"x","width":5000}`,
		`{"prompt":"x","precision":"q2"}`,
	} {
		resp, body := httpPostJSON(t, st.srv.URL+"/generate", payload)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: %d %s", payload, resp.StatusCode, body)
		}
	}
	if _, total, _ := st.studio.History(context.Background(), 10, 0); total != 0 {
		t.Fatalf("rejected requests were recorded: %d", total)
	}

	resp, body := httpDo(t, http.MethodGet, st.srv.URL+"/models", "", nil)
	var models types.ModelsResponse
	if resp.StatusCode != http.StatusOK || json.Unmarshal(body, &models) != nil || len(models.Models) == 0 {
		t.Fatalf("models: %d %s", resp.StatusCode, body)
	}
	resp, body = httpDo(t, http.MethodGet, st.srv.URL+"/status", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"state"`) {
		t.Fatalf("status: %d %s", resp.StatusCode, body)
	}
	resp, _ = httpDo(t, http.MethodGet, st.srv.URL+"/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
}

// TestE2E_MCPToolsShareTheStudio generates through the MCP tool and reads
// the result back over HTTP.
func TestE2E_MCPToolsShareTheStudio(t *testing.T) {
	st := newStack(t)
	msg := st.mcp.MCP().HandleMessage(context.Background(), json.RawMessage(
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"generate","arguments":{"prompt":"owl","steps":2,"width":64,"height":64,"seed":3}}}`))
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), "Image generated successfully") || !strings.Contains(string(b), "image/png") {
		t.Fatalf("tool result: %s", b)
	}
	resp, _ := httpDo(t, http.MethodGet, st.srv.URL+"/history", "", nil)
	if resp.Header.Get("X-Total-Count") != "1" {
		t.Fatalf("mcp generation not in history: %q", resp.Header.Get("X-Total-Count"))
	}

	msg = st.mcp.MCP().HandleMessage(context.Background(), json.RawMessage(
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"list_history","arguments":{}}}`))
	b, _ = json.Marshal(msg)
	if !strings.Contains(string(b), "History (0-1 of 1):") || !strings.Contains(string(b), "Prompt: owl") {
		t.Fatalf("list_history: %s", b)
	}
}
