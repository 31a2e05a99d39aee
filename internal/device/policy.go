package device

// DType is the numeric format a pipeline is loaded in.
type DType string

const (
	Float32  DType = "float32"
	BFloat16 DType = "bfloat16"
	Float16  DType = "float16"
)

// Memory thresholds, in GB.
const (
	fullModelRAMGB = 32
	slicingVRAMGB  = 12
)

// SelectDType picks the widest format the device handles well.
func SelectDType(info Info) DType {
	switch info.Kind {
	case CPU:
		return Float32
	case MPS:
		return BFloat16
	case CUDA, ROCm, XPU:
		if info.BF16Supported {
			return BFloat16
		}
		return Float16
	}
	return Float32
}

// LowCPUMemUsage reports whether to load weights in the memory-conservative
// mode. Only the full model on a host with plenty of RAM skips it.
func LowCPUMemUsage(fullModel bool, ramGB float64) bool {
	return !(fullModel && ramGB >= fullModelRAMGB)
}

// AttentionSlicing reports whether attention should be computed in slices.
func AttentionSlicing(info Info) bool {
	switch info.Kind {
	case CPU, MPS:
		return true
	case CUDA:
		// Unknown VRAM reads as zero and gets slicing.
		return info.VRAMGB < slicingVRAMGB
	}
	return true
}

// CPUOffload reports whether idle components should be parked in host memory.
func CPUOffload(info Info) bool { return info.Kind == CUDA }

// QuantizedMatmul reports whether integer matmul kernels are usable. ROCm is
// excluded until its kernels are stable.
func QuantizedMatmul(k Kind) bool { return k == CUDA || k == XPU }

// Accelerated reports whether the kind is anything but the CPU fallback.
func (k Kind) Accelerated() bool { return k != CPU && k != "" }
