package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultCallTimeout bounds calls made without a caller context.
const defaultCallTimeout = 30 * time.Second

// Error is a non-2xx answer from the runner. Message is the runner's own
// error text, kept verbatim so callers can classify it.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("runner: %d: %s", e.Status, e.Message)
}

type client struct {
	base string
	http *http.Client
}

type loadRequest struct {
	ModelID        string `json:"model_id"`
	Precision      string `json:"precision"`
	DType          string `json:"dtype"`
	LowCPUMemUsage bool   `json:"low_cpu_mem_usage"`
}

type generateRequest struct {
	Prompt        string  `json:"prompt"`
	Steps         int     `json:"steps"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	Seed          int64   `json:"seed"`
	GuidanceScale float64 `json:"guidance_scale"`
}

type componentBody struct {
	Component string `json:"component"`
}

type adaptersBody struct {
	Names   []string  `json:"names"`
	Weights []float64 `json:"weights,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
		msg := strings.TrimSpace(string(b))
		var eb errorBody
		if json.Unmarshal(b, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		if msg == "" {
			msg = resp.Status
		}
		return nil, &Error{Status: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

func (c *client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	resp, err := c.do(ctx, method, path, "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("runner %s %s: decode: %w", method, path, err)
	}
	return nil
}

func (c *client) postJSON(ctx context.Context, path string, in, out any) error {
	return c.sendJSON(ctx, http.MethodPost, path, in, out)
}

func (c *client) getJSON(ctx context.Context, path string, out any) error {
	return c.sendJSON(ctx, http.MethodGet, path, nil, out)
}
