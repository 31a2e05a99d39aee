package manager

import (
	"strconv"
	"strings"

	"zimage/internal/device"
	"zimage/internal/pipeline"
)

// EnvEnableCompile forces the optimizing compile on when set to "1".
const EnvEnableCompile = "ZIMAGE_ENABLE_TORCH_COMPILE"

// CompileGate decides whether the optimizing compile may be attempted.
type CompileGate struct {
	// Override mirrors the persisted enable_torch_compile setting.
	Override bool
	Getenv   func(string) string
}

// Decide applies the policy in order, first match wins: explicit override,
// incompatible runtime version, unstable device class, default on.
func (g CompileGate) Decide(rt pipeline.RuntimeInfo, kind device.Kind) (bool, string) {
	if g.Getenv != nil && g.Getenv(EnvEnableCompile) == "1" {
		return true, "forced by " + EnvEnableCompile + " environment variable"
	}
	if g.Override {
		return true, "forced by enable_torch_compile setting"
	}
	if incompatibleRuntime(rt) {
		return false, "runtime " + rt.Name + " " + rt.Version + " is known to break compiled graphs"
	}
	if kind == device.ROCm {
		return false, "compile is experimental on rocm"
	}
	return true, "default"
}

// incompatibleRuntime reports Python 3.12 or newer.
func incompatibleRuntime(rt pipeline.RuntimeInfo) bool {
	if !strings.EqualFold(rt.Name, "python") && !strings.EqualFold(rt.Name, "cpython") {
		return false
	}
	major, minor, ok := majorMinor(rt.Version)
	if !ok {
		return false
	}
	return major > 3 || (major == 3 && minor >= 12)
}

func majorMinor(v string) (int, int, bool) {
	parts := strings.SplitN(strings.TrimPrefix(strings.TrimSpace(v), "v"), ".", 3)
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return major, minor, true
}
