// Package device probes the local compute device and derives the numeric
// format and memory-saving policy used when building a pipeline.
package device

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
)

// Kind identifies a device class.
type Kind string

const (
	MPS  Kind = "mps"
	CUDA Kind = "cuda"
	ROCm Kind = "rocm"
	XPU  Kind = "xpu"
	CPU  Kind = "cpu"
)

// EnvDevice forces the detected device kind.
const EnvDevice = "ZIMAGE_DEVICE"

// ParseKind validates a device name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case MPS, CUDA, ROCm, XPU, CPU:
		return k, nil
	}
	return "", fmt.Errorf("unknown device %q", s)
}

// Info is the result of a probe. Zero memory sizes mean unknown.
type Info struct {
	Kind          Kind    `json:"device"`
	Name          string  `json:"name,omitempty"`
	RAMGB         float64 `json:"ram_gb,omitempty"`
	VRAMGB        float64 `json:"vram_gb,omitempty"`
	BF16Supported bool    `json:"bf16_supported"`
}

// Runner executes a probe command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func totalRAMGB() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil || vm == nil {
		return 0
	}
	return float64(vm.Total) / (1 << 30)
}

// Prober detects the device. The zero value is not usable; call NewProber.
type Prober struct {
	run      Runner
	goos     string
	goarch   string
	ram      func() float64
	getenv   func(string) string
	timeout  time.Duration
	log      zerolog.Logger
	once     sync.Once
	detected Info
}

// ProberOption customizes a Prober. Mostly for tests.
type ProberOption func(*Prober)

func WithRunner(r Runner) ProberOption { return func(p *Prober) { p.run = r } }

func WithPlatform(goos, goarch string) ProberOption {
	return func(p *Prober) { p.goos, p.goarch = goos, goarch }
}

func WithRAM(f func() float64) ProberOption { return func(p *Prober) { p.ram = f } }

func WithEnv(f func(string) string) ProberOption { return func(p *Prober) { p.getenv = f } }

func WithLogger(l zerolog.Logger) ProberOption { return func(p *Prober) { p.log = l } }

func NewProber(opts ...ProberOption) *Prober {
	p := &Prober{
		run:     execRunner,
		goos:    runtime.GOOS,
		goarch:  runtime.GOARCH,
		ram:     totalRAMGB,
		getenv:  os.Getenv,
		timeout: 5 * time.Second,
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Detect probes once per Prober and caches the result.
func (p *Prober) Detect(ctx context.Context) Info {
	p.once.Do(func() {
		p.detected = p.probe(ctx)
		p.log.Info().
			Str("device", string(p.detected.Kind)).
			Str("name", p.detected.Name).
			Float64("ram_gb", p.detected.RAMGB).
			Float64("vram_gb", p.detected.VRAMGB).
			Bool("bf16", p.detected.BF16Supported).
			Msg("device detected")
	})
	return p.detected
}

func (p *Prober) probe(ctx context.Context) Info {
	info := Info{RAMGB: p.ram()}
	if forced := p.getenv(EnvDevice); forced != "" {
		k, err := ParseKind(forced)
		if err == nil {
			info.Kind = k
			p.fillAccelerator(ctx, &info)
			return info
		}
		p.log.Warn().Err(err).Msg("ignoring device override")
	}
	if p.goos == "darwin" && p.goarch == "arm64" {
		info.Kind = MPS
		info.Name = "Apple Silicon"
		info.BF16Supported = true
		return info
	}
	for _, k := range []Kind{CUDA, ROCm, XPU} {
		probe := Info{Kind: k, RAMGB: info.RAMGB}
		if p.fillAccelerator(ctx, &probe) {
			return probe
		}
	}
	info.Kind = CPU
	return info
}

// fillAccelerator queries the vendor tool for info.Kind and reports whether a device answered.
func (p *Prober) fillAccelerator(ctx context.Context, info *Info) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	switch info.Kind {
	case CUDA:
		out, err := p.run(ctx, "nvidia-smi", "--query-gpu=name,memory.total,compute_cap", "--format=csv,noheader,nounits")
		if err != nil {
			return false
		}
		name, vram, cc, ok := parseNvidiaSMI(out)
		if !ok {
			return false
		}
		info.Name = name
		info.VRAMGB = vram
		info.BF16Supported = cc >= 8
		return true
	case ROCm:
		out, err := p.run(ctx, "rocm-smi", "--showmeminfo", "vram", "--csv")
		if err != nil {
			return false
		}
		info.Name = "AMD GPU"
		info.VRAMGB = parseROCmVRAM(out)
		// bfloat16 needs MI200 or newer; the tool does not say, so stay conservative.
		info.BF16Supported = false
		return true
	case XPU:
		out, err := p.run(ctx, "xpu-smi", "discovery", "--dump", "1,2")
		if err != nil || len(bytes.TrimSpace(out)) == 0 {
			return false
		}
		info.Name = parseXPUName(out)
		// xpu-smi does not report bfloat16 support either.
		info.BF16Supported = false
		return true
	case MPS:
		info.Name = "Apple Silicon"
		info.BF16Supported = true
		return true
	}
	return false
}

// parseNvidiaSMI reads the first GPU line of
// `--query-gpu=name,memory.total,compute_cap --format=csv,noheader,nounits`.
func parseNvidiaSMI(out []byte) (name string, vramGB, computeCap float64, ok bool) {
	r := csv.NewReader(bytes.NewReader(out))
	r.TrimLeadingSpace = true
	rec, err := r.Read()
	if err != nil || len(rec) < 2 {
		return "", 0, 0, false
	}
	name = strings.TrimSpace(rec[0])
	if mib, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64); err == nil {
		vramGB = mib / 1024
	}
	if len(rec) > 2 {
		computeCap, _ = strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
	}
	return name, vramGB, computeCap, name != ""
}

// parseROCmVRAM reads "VRAM Total Memory (B)" from rocm-smi csv output.
func parseROCmVRAM(out []byte) float64 {
	r := csv.NewReader(bytes.NewReader(out))
	r.FieldsPerRecord = -1
	recs, err := r.ReadAll()
	if err != nil || len(recs) < 2 {
		return 0
	}
	col := -1
	for i, h := range recs[0] {
		if strings.Contains(h, "Total Memory") {
			col = i
			break
		}
	}
	if col < 0 || col >= len(recs[1]) {
		return 0
	}
	b, err := strconv.ParseFloat(strings.TrimSpace(recs[1][col]), 64)
	if err != nil {
		return 0
	}
	return b / (1 << 30)
}

func parseXPUName(out []byte) string {
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(strings.ToLower(line), "deviceid") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) >= 2 {
			return strings.Trim(strings.TrimSpace(parts[1]), `"`)
		}
	}
	return "Intel GPU"
}
