package pipeline

import (
	"fmt"
	"strings"
)

// Precision selects the numeric/quantization flavor of the model. It is the
// pipeline cache key.
type Precision string

const (
	Full Precision = "full"
	Q8   Precision = "q8"
	Q4   Precision = "q4"
)

// Precisions lists every precision in display order.
var Precisions = []Precision{Full, Q8, Q4}

var modelIDs = map[Precision]string{
	Full: "Tongyi-MAI/Z-Image-Turbo",
	Q8:   "Disty0/Z-Image-Turbo-SDNQ-int8",
	Q4:   "Disty0/Z-Image-Turbo-SDNQ-uint4-svd-r32",
}

// ParsePrecision accepts the canonical ids and the "8-bit"/"4-bit" aliases.
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "fp", "bf16":
		return Full, nil
	case "q8", "8-bit", "8bit", "int8":
		return Q8, nil
	case "q4", "4-bit", "4bit", "uint4":
		return Q4, nil
	}
	return "", fmt.Errorf("unknown precision %q (want full, q8 or q4)", s)
}

// ModelID returns the hub id of the weights for p.
func (p Precision) ModelID() string { return modelIDs[p] }

// Valid reports whether p is one of the known precisions.
func (p Precision) Valid() bool {
	_, ok := modelIDs[p]
	return ok
}

func (p Precision) String() string { return string(p) }
