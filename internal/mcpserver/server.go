// Package mcpserver exposes the studio as Model Context Protocol tools over
// stdio or SSE.
package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"zimage/pkg/types"
)

// Name is announced to clients during initialization.
const Name = "Z-Image Studio"

// Service is the part of the studio the tools use.
type Service interface {
	Generate(ctx context.Context, req types.GenerateRequest) (*types.GenerateResponse, error)
	Models(ctx context.Context) types.ModelsResponse
	History(ctx context.Context, limit, offset int) ([]types.HistoryItem, int, error)
}

type Server struct {
	svc Service
	log zerolog.Logger
	mcp *server.MCPServer
}

// New registers the generate, list_models and list_history tools.
func New(svc Service, log zerolog.Logger, version string) *Server {
	s := &Server{
		svc: svc,
		log: log,
		mcp: server.NewMCPServer(Name, version, server.WithToolCapabilities(false), server.WithRecovery()),
	}
	s.mcp.AddTool(mcp.NewTool("generate",
		mcp.WithDescription("Generate an image from a text prompt. Returns the path to the saved image and the image content."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Text describing the image")),
		mcp.WithNumber("steps", mcp.Description("Inference steps"), mcp.DefaultNumber(types.DefaultSteps)),
		mcp.WithNumber("width", mcp.Description("Width in pixels, rounded down to a multiple of 16"), mcp.DefaultNumber(types.DefaultWidth)),
		mcp.WithNumber("height", mcp.Description("Height in pixels, rounded down to a multiple of 16"), mcp.DefaultNumber(types.DefaultHeight)),
		mcp.WithNumber("seed", mcp.Description("Seed; omit for a random one")),
		mcp.WithString("precision", mcp.Description("Model precision; omit for the server default"), mcp.Enum("full", "q8", "q4")),
	), s.generate)
	s.mcp.AddTool(mcp.NewTool("list_models",
		mcp.WithDescription("List available image generation models and hardware recommendations."),
	), s.listModels)
	s.mcp.AddTool(mcp.NewTool("list_history",
		mcp.WithDescription("List recent image generations history."),
		mcp.WithNumber("limit", mcp.DefaultNumber(10)),
		mcp.WithNumber("offset", mcp.DefaultNumber(0)),
	), s.listHistory)
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio serves one client on in/out until ctx ends or in is closed.
// Logs must not go to out.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(s.log, "", 0))
	return stdio.Listen(ctx, in, out)
}

// SSEHandler returns the SSE transport. basePath is the prefix it is mounted
// under ("" when served at the root); baseURL, if set, makes the announced
// message endpoint absolute.
func (s *Server) SSEHandler(basePath, baseURL string) *server.SSEServer {
	opts := []server.SSEOption{server.WithStaticBasePath(strings.TrimRight(basePath, "/"))}
	if baseURL != "" {
		opts = append(opts, server.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}
	return server.NewSSEServer(s.mcp, opts...)
}

func (s *Server) generate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	prompt, _ := args["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return mcp.NewToolResultError("prompt is required"), nil
	}
	greq := types.GenerateRequest{
		Prompt:    prompt,
		Steps:     intArg(args, "steps", types.DefaultSteps),
		Width:     intArg(args, "width", types.DefaultWidth),
		Height:    intArg(args, "height", types.DefaultHeight),
		Precision: stringArg(args, "precision", ""),
	}
	if v, ok := number(args["seed"]); ok {
		seed := int64(v)
		greq.Seed = &seed
	}
	s.log.Info().Str("prompt", prompt).Msg("mcp generate")
	res, err := s.svc.Generate(ctx, greq)
	if err != nil {
		s.log.Error().Err(err).Msg("mcp generate failed")
		return mcp.NewToolResultError("Generation failed: " + err.Error()), nil
	}
	png, err := os.ReadFile(res.Path)
	if err != nil {
		return mcp.NewToolResultError("read image: " + err.Error()), nil
	}
	text := fmt.Sprintf("Image generated successfully in %.2fs.\nSaved to: %s", res.GenerationTime, res.Path)
	return mcp.NewToolResultImage(text, base64.StdEncoding.EncodeToString(png), "image/png"), nil
}

func (s *Server) listModels(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatModels(s.svc.Models(ctx))), nil
}

func formatModels(m types.ModelsResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Device: %s\n", strings.ToUpper(m.Device))
	if m.RAMGB != nil {
		fmt.Fprintf(&b, "RAM: %.1f GB\n", *m.RAMGB)
	}
	if m.VRAMGB != nil {
		fmt.Fprintf(&b, "VRAM: %.1f GB\n", *m.VRAMGB)
	}
	b.WriteString("\nAvailable Models:")
	for _, mi := range m.Models {
		rec := ""
		if mi.Recommended {
			rec = " (Recommended)"
		}
		fmt.Fprintf(&b, "\n- %s: %s%s", mi.ID, mi.HFModelID, rec)
	}
	return b.String()
}

func (s *Server) listHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	limit, offset := intArg(args, "limit", 10), intArg(args, "offset", 0)
	items, total, err := s.svc.History(ctx, limit, offset)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("No history found."), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "History (%d-%d of %d):", offset, offset+len(items), total)
	for _, it := range items {
		fmt.Fprintf(&b, "\nID: %d, Prompt: %s, File: %s, Time: %s", it.ID, it.Prompt, it.Filename, it.CreatedAt)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// number accepts the numeric shapes JSON decoding can produce.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func intArg(args map[string]any, key string, def int) int {
	if v, ok := number(args[key]); ok {
		return int(v)
	}
	return def
}

func stringArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}
