package studio

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"zimage/internal/config"
	"zimage/internal/device"
	"zimage/internal/manager"
	"zimage/internal/pipeline"
	"zimage/internal/safetensors"
	"zimage/internal/store"
	"zimage/pkg/types"
)

type fakeEngine struct {
	mu       sync.Mutex
	reqs     []manager.Request
	err      error
	closeErr error
	closed   bool
}

func (e *fakeEngine) DefaultPrecision() pipeline.Precision { return pipeline.Q8 }

func (e *fakeEngine) Generate(_ context.Context, req manager.Request) (*manager.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqs = append(e.reqs, req)
	if e.err != nil {
		return nil, e.err
	}
	seed := int64(42)
	if req.Seed != nil {
		seed = *req.Seed
	}
	prec := e.DefaultPrecision()
	if req.Precision != "" {
		prec = pipeline.Precision(req.Precision)
	}
	w, h := manager.Normalize(req.Width, req.Height)
	return &manager.Result{
		Image:     pipeline.Image{PNG: []byte("\x89PNG fake"), Width: w, Height: h},
		Seed:      seed,
		Precision: prec,
		ModelID:   prec.ModelID(),
		Steps:     req.Steps,
		Width:     w,
		Height:    h,
		Adapters:  len(req.Adapters),
	}, nil
}

func (e *fakeEngine) Models(context.Context) types.ModelsResponse {
	return types.ModelsResponse{Device: "cpu", DefaultPrecision: "q8"}
}
func (e *fakeEngine) Status() types.StatusResponse { return types.StatusResponse{State: "idle"} }
func (e *fakeEngine) Ready() bool                  { return true }
func (e *fakeEngine) Close(context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return e.closeErr
}

func (e *fakeEngine) requests() []manager.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]manager.Request(nil), e.reqs...)
}

type testStudio struct {
	*Studio
	engine *fakeEngine
	st     *store.Store
}

var fixedNow = time.Unix(1700000000, 0)

func newTestStudio(t *testing.T) *testStudio {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "zimage.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	eng := &fakeEngine{}
	s, err := New(Options{
		Paths: config.Paths{
			DataDir:   dir,
			OutputDir: filepath.Join(dir, "outputs"),
			LorasDir:  filepath.Join(dir, "loras"),
		},
		Engine: eng,
		Store:  st,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new studio: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return &testStudio{Studio: s, engine: eng, st: st}
}

func loraBytes(t *testing.T) []byte {
	t.Helper()
	f := &safetensors.File{
		Header: safetensors.Header{Tensors: map[string]safetensors.Tensor{
			"diffusion_model.layers.0.lora_A.weight": {DType: "F32", Shape: []int64{1}, DataOffsets: [2]int64{0, 4}},
		}},
		Data: make([]byte, 4),
	}
	b, err := f.Bytes()
	if err != nil {
		t.Fatalf("encode lora: %v", err)
	}
	return b
}

func (s *testStudio) upload(t *testing.T, name string) *types.UploadLoraResponse {
	t.Helper()
	res, err := s.UploadLora(context.Background(), name, "", "", bytes.NewReader(loraBytes(t)))
	if err != nil {
		t.Fatalf("upload %s: %v", name, err)
	}
	return res
}

func TestGenerateSavesImageAndHistory(t *testing.T) {
	s := newTestStudio(t)
	seed := int64(42)
	res, err := s.Generate(context.Background(), types.GenerateRequest{Prompt: "a red fox!", Steps: 4, Width: 1000, Height: 500, Seed: &seed, Precision: "q4"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.ImageURL != "/outputs/aredfox_1700000000.png" {
		t.Fatalf("image url = %s", res.ImageURL)
	}
	if res.Width != 992 || res.Height != 496 || res.Seed != 42 || res.Precision != "q4" {
		t.Fatalf("unexpected response: %+v", res)
	}
	if res.ModelID != pipeline.Q4.ModelID() {
		t.Fatalf("model id = %s", res.ModelID)
	}
	if _, err := os.Stat(filepath.Join(s.OutputDir(), "aredfox_1700000000.png")); err != nil {
		t.Fatalf("image not written: %v", err)
	}
	items, total, err := s.History(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != res.ID {
		t.Fatalf("history = %d %+v", total, items)
	}
	if items[0].Seed == nil || *items[0].Seed != 42 || items[0].Filename != "aredfox_1700000000.png" {
		t.Fatalf("history row = %+v", items[0])
	}
}

func TestGenerateAppliesDefaults(t *testing.T) {
	s := newTestStudio(t)
	if _, err := s.Generate(context.Background(), types.GenerateRequest{Prompt: "x"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	got := s.engine.requests()[0]
	if got.Steps != 9 || got.Width != 1280 || got.Height != 720 {
		t.Fatalf("defaults not applied: %+v", got)
	}
	if got.Precision != "" {
		t.Fatalf("precision = %q, want it left to the engine", got.Precision)
	}
	if got.Seed == nil || *got.Seed < 0 || *got.Seed > manager.MaxSeed {
		t.Fatalf("seed not drawn: %v", got.Seed)
	}
}

// stubCore is the smallest runtime a real manager accepts.
type stubCore struct{}

func (stubCore) To(context.Context, device.Kind) error { return nil }
func (stubCore) Generate(_ context.Context, p pipeline.Params) (pipeline.Image, error) {
	return pipeline.Image{PNG: []byte("\x89PNG stub"), Width: p.Width, Height: p.Height}, nil
}
func (stubCore) Close() error { return nil }

type cpuProber struct{}

func (cpuProber) Detect(context.Context) device.Info {
	return device.Info{Kind: device.CPU, RAMGB: 64}
}

// newManagerStudio wires a studio to a real manager over stubCore.
func newManagerStudio(t *testing.T, cfg manager.Config) *Studio {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "zimage.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	cfg.Builder = pipeline.BuilderFunc(func(context.Context, pipeline.Options) (pipeline.Core, error) {
		return stubCore{}, nil
	})
	cfg.Prober = cpuProber{}
	cfg.Logger = zerolog.Nop()
	cfg.ReclaimHost = func() {}
	cfg.Getenv = func(string) string { return "" }
	mgr := manager.New(cfg)
	s, err := New(Options{
		Paths: config.Paths{
			DataDir:   dir,
			OutputDir: filepath.Join(dir, "outputs"),
			LorasDir:  filepath.Join(dir, "loras"),
		},
		Engine: mgr,
		Store:  st,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new studio: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestGenerateUsesConfiguredDefaultPrecision(t *testing.T) {
	s := newManagerStudio(t, manager.Config{DefaultPrecision: pipeline.Full})
	res, err := s.Generate(context.Background(), types.GenerateRequest{Prompt: "fox", Steps: 2, Width: 64, Height: 64})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Precision != "full" || res.ModelID != pipeline.Full.ModelID() {
		t.Fatalf("precision = %s model = %s, want full", res.Precision, res.ModelID)
	}
}

func TestGenerateWithQuantizationDisabled(t *testing.T) {
	s := newManagerStudio(t, manager.Config{DisableQuantization: true})
	res, err := s.Generate(context.Background(), types.GenerateRequest{Prompt: "fox", Steps: 2, Width: 64, Height: 64})
	if err != nil {
		t.Fatalf("request without precision rejected: %v", err)
	}
	if res.Precision != "full" {
		t.Fatalf("precision = %s, want full", res.Precision)
	}
	_, err = s.Generate(context.Background(), types.GenerateRequest{Prompt: "fox", Steps: 2, Width: 64, Height: 64, Precision: "q8"})
	if !manager.IsConfiguration(err) {
		t.Fatalf("explicit q8 with quantization disabled: err = %v", err)
	}
}

func TestGenerateDoesNotClobberExistingImage(t *testing.T) {
	s := newTestStudio(t)
	a, err := s.Generate(context.Background(), types.GenerateRequest{Prompt: "same"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := s.Generate(context.Background(), types.GenerateRequest{Prompt: "same"})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if a.ImageURL == b.ImageURL || b.ImageURL != "/outputs/same_1700000000_1.png" {
		t.Fatalf("urls: %s %s", a.ImageURL, b.ImageURL)
	}
}

func TestGenerateFallbackStem(t *testing.T) {
	s := newTestStudio(t)
	res, err := s.Generate(context.Background(), types.GenerateRequest{Prompt: "!!! ???"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(res.ImageURL, "/outputs/image_") {
		t.Fatalf("url = %s", res.ImageURL)
	}
}

func TestGenerateResolvesLoras(t *testing.T) {
	s := newTestStudio(t)
	s.upload(t, "style.safetensors")
	res, err := s.Generate(context.Background(), types.GenerateRequest{
		Prompt: "fox",
		Loras:  []types.LoraInput{{Filename: "style.safetensors", Strength: 0.7}},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	req := s.engine.requests()[0]
	if len(req.Adapters) != 1 || req.Adapters[0].Path != filepath.Join(s.Paths().LorasDir, "style.safetensors") || req.Adapters[0].Strength != 0.7 {
		t.Fatalf("adapters = %+v", req.Adapters)
	}
	item, err := s.st.Generation(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("generation: %v", err)
	}
	if len(item.Loras) != 1 || item.Loras[0].Filename != "style.safetensors" || item.Loras[0].Strength != 0.7 {
		t.Fatalf("history loras = %+v", item.Loras)
	}
}

func TestGenerateRejectsUnknownLora(t *testing.T) {
	s := newTestStudio(t)
	_, err := s.Generate(context.Background(), types.GenerateRequest{Prompt: "fox", Loras: []types.LoraInput{{Filename: "nope.safetensors", Strength: 1}}})
	if !manager.IsConfiguration(err) {
		t.Fatalf("want configuration error, got %v", err)
	}
	if n := len(s.engine.requests()); n != 0 {
		t.Fatalf("engine called %d times", n)
	}
}

func TestGenerateRejectsFiveLoras(t *testing.T) {
	s := newTestStudio(t)
	var loras []types.LoraInput
	for i := 0; i < 5; i++ {
		loras = append(loras, types.LoraInput{Filename: "a.safetensors", Strength: 1})
	}
	_, err := s.Generate(context.Background(), types.GenerateRequest{Prompt: "fox", Loras: loras})
	if !manager.IsConfiguration(err) || !strings.Contains(err.Error(), "Maximum 4") {
		t.Fatalf("want max loras error, got %v", err)
	}
	if n := len(s.engine.requests()); n != 0 {
		t.Fatalf("engine called %d times", n)
	}
}

func TestGenerateMissingLoraFile(t *testing.T) {
	s := newTestStudio(t)
	s.upload(t, "gone.safetensors")
	if err := os.Remove(filepath.Join(s.Paths().LorasDir, "gone.safetensors")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_, err := s.Generate(context.Background(), types.GenerateRequest{Prompt: "fox", Loras: []types.LoraInput{{Filename: "gone.safetensors", Strength: 1}}})
	if err == nil || manager.IsConfiguration(err) || !strings.Contains(err.Error(), "missing on disk") {
		t.Fatalf("want missing-file error, got %v", err)
	}
}

func TestGenerateFailureIsRecorded(t *testing.T) {
	s := newTestStudio(t)
	s.engine.err = manager.ErrUnrecoverable(errors.New("CUDA out of memory"))
	req := types.GenerateRequest{Prompt: "fox", Width: 1279, Height: 719, Precision: "8-bit"}
	if _, err := s.Generate(context.Background(), req); err == nil {
		t.Fatalf("expected error")
	}
	items, total, err := s.History(context.Background(), 10, 0)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("failed rows must not be listed: %d %v %v", total, items, err)
	}
	row, err := s.st.Generation(context.Background(), 1)
	if err != nil {
		t.Fatalf("failed row missing: %v", err)
	}
	if row.Status != store.StatusFailed || !strings.Contains(row.ErrorMessage, "out of memory") {
		t.Fatalf("row = %+v", row)
	}
	if row.Precision != "q8" || row.Model != pipeline.Q8.ModelID() {
		t.Fatalf("precision = %q model = %q, want resolved q8", row.Precision, row.Model)
	}
	if row.Width != 1264 || row.Height != 704 {
		t.Fatalf("size = %dx%d, want 1264x704", row.Width, row.Height)
	}
	sent := s.engine.requests()[0]
	if row.Seed == nil || sent.Seed == nil || *row.Seed != *sent.Seed {
		t.Fatalf("seed = %v, engine ran %v", row.Seed, sent.Seed)
	}
}

func TestGenerateFailureRecordsEngineDefaultPrecision(t *testing.T) {
	s := newTestStudio(t)
	s.engine.err = manager.ErrUnrecoverable(errors.New("device lost"))
	if _, err := s.Generate(context.Background(), types.GenerateRequest{Prompt: "fox"}); err == nil {
		t.Fatalf("expected error")
	}
	row, err := s.st.Generation(context.Background(), 1)
	if err != nil {
		t.Fatalf("failed row missing: %v", err)
	}
	if row.Precision != string(s.engine.DefaultPrecision()) || row.Model != s.engine.DefaultPrecision().ModelID() {
		t.Fatalf("row = %+v", row)
	}
}

func TestConfigurationFailureIsNotRecorded(t *testing.T) {
	s := newTestStudio(t)
	s.engine.err = manager.ErrConfiguration("steps must be between 1 and 100")
	if _, err := s.Generate(context.Background(), types.GenerateRequest{Prompt: "fox"}); !manager.IsConfiguration(err) {
		t.Fatalf("err = %v", err)
	}
	if _, err := s.st.Generation(context.Background(), 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("rejected request recorded: %v", err)
	}
}

func TestUploadLora(t *testing.T) {
	s := newTestStudio(t)
	res, err := s.UploadLora(context.Background(), "../../evil/style.safetensors", "Style", "stl", bytes.NewReader(loraBytes(t)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Filename != "style.safetensors" || res.DisplayName != "Style" {
		t.Fatalf("response = %+v", res)
	}
	if _, err := os.Stat(filepath.Join(s.Paths().LorasDir, "style.safetensors")); err != nil {
		t.Fatalf("file not in loras dir: %v", err)
	}
	list, err := s.Loras(context.Background())
	if err != nil || len(list) != 1 {
		t.Fatalf("loras = %v %v", list, err)
	}
	if len(list[0].Hash) != 64 || list[0].TriggerWord != "stl" {
		t.Fatalf("record = %+v", list[0])
	}
}

func TestUploadLoraRejects(t *testing.T) {
	s := newTestStudio(t)
	if _, err := s.UploadLora(context.Background(), "weights.bin", "", "", bytes.NewReader(loraBytes(t))); !manager.IsConfiguration(err) {
		t.Fatalf("wrong extension accepted: %v", err)
	}
	if _, err := s.UploadLora(context.Background(), "junk.safetensors", "", "", strings.NewReader("not a safetensors file")); !manager.IsConfiguration(err) {
		t.Fatalf("junk accepted: %v", err)
	}
	entries, err := os.ReadDir(s.Paths().LorasDir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("leftover files: %v", entries)
	}
}

func TestDeleteLoraRemovesFile(t *testing.T) {
	s := newTestStudio(t)
	res := s.upload(t, "style.safetensors")
	if err := s.DeleteLora(context.Background(), res.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Paths().LorasDir, "style.safetensors")); !os.IsNotExist(err) {
		t.Fatalf("file still present: %v", err)
	}
	if err := s.DeleteLora(context.Background(), res.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestDeleteHistoryRemovesImage(t *testing.T) {
	s := newTestStudio(t)
	res, err := s.Generate(context.Background(), types.GenerateRequest{Prompt: "fox"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := s.DeleteHistory(context.Background(), res.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(res.Path); !os.IsNotExist(err) {
		t.Fatalf("image still present: %v", err)
	}
	if err := s.DeleteHistory(context.Background(), res.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestSyncLoras(t *testing.T) {
	s := newTestStudio(t)
	dir := s.Paths().LorasDir
	if err := os.WriteFile(filepath.Join(dir, "a.safetensors"), loraBytes(t), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	n, err := s.SyncLoras(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("first sync = %d %v", n, err)
	}
	n, err = s.SyncLoras(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second sync = %d %v", n, err)
	}
}

func TestCloseClosesEngine(t *testing.T) {
	s := newTestStudio(t)
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !s.engine.closed {
		t.Fatalf("engine not closed")
	}
}

func TestAbandonLogsCloseErrors(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "zimage.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	var buf bytes.Buffer
	eng := &fakeEngine{closeErr: errors.New("worker stuck")}
	abandon(context.Background(), zerolog.New(&buf), eng, st)
	if !eng.closed {
		t.Fatalf("engine not closed")
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "worker stuck") {
		t.Fatalf("close error not logged: %s", out)
	}
}

func TestOpenRejectsQuantizedDefaultWithoutQuantization(t *testing.T) {
	t.Setenv(config.EnvDataDir, "")
	t.Setenv(config.EnvOutputDir, "")
	cfg := config.Config{DataDir: t.TempDir(), DefaultPrecision: "q8", DisableQuantization: true}
	if _, err := Open(context.Background(), cfg, zerolog.Nop()); err == nil || !strings.Contains(err.Error(), "quantization") {
		t.Fatalf("err = %v", err)
	}
}
