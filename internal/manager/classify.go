package manager

import "strings"

// ErrorKind is the outcome class of an error raised while generating.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindConfiguration
	KindAdapterLoad
	KindRecoverableCompile
	KindUnrecoverable
	KindTooBusy
	KindDependencyUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConfiguration:
		return "configuration"
	case KindAdapterLoad:
		return "adapter_load"
	case KindRecoverableCompile:
		return "recoverable_compile"
	case KindTooBusy:
		return "too_busy"
	case KindDependencyUnavailable:
		return "dependency_unavailable"
	}
	return "unrecoverable"
}

// CompileFailurePhrases are fragments of errors the optimizing compiler
// raises on shape mismatches. They come from upstream error text, so the
// match is a heuristic; bump Version whenever the list changes.
var CompileFailurePhrases = struct {
	Version string
	// Fold phrases match case-insensitively.
	Fold []string
	// Exact phrases match as written.
	Exact []string
}{
	Version: "2025.1",
	Fold:    []string{"shape of the mask", "pow_by_natural", "sympy"},
	Exact:   []string{"indexed tensor", "does not match"},
}

// Classify maps err to its ErrorKind. Typed errors win over message matching.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case IsConfiguration(err):
		return KindConfiguration
	case IsAdapterLoad(err):
		return KindAdapterLoad
	case IsTooBusy(err):
		return KindTooBusy
	case IsDependencyUnavailable(err):
		return KindDependencyUnavailable
	case isCompileFailure(err.Error()):
		return KindRecoverableCompile
	}
	return KindUnrecoverable
}

func isCompileFailure(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range CompileFailurePhrases.Fold {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, p := range CompileFailurePhrases.Exact {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
