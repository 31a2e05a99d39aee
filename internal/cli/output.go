package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"zimage/pkg/types"
)

var errUsage = errors.New("usage")

// usageError marks bad command-line input; MainWithArgs exits 2 on it.
func usageError(format string, a ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, a...))
}

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	errColor  = color.New(color.FgRed, color.Bold)
	headColor = color.New(color.FgCyan, color.Bold)
	dimColor  = color.New(color.FgHiBlack)
	recColor  = color.New(color.FgYellow)
)

func printError(w io.Writer, err error) {
	msg := strings.TrimPrefix(err.Error(), errUsage.Error()+": ")
	errColor.Fprint(w, "error: ")
	fmt.Fprintln(w, msg)
}

func printGenerated(w io.Writer, res *types.GenerateResponse, saved string) {
	okColor.Fprint(w, "Image saved to ")
	fmt.Fprintln(w, saved)
	dimColor.Fprintf(w, "%dx%d  seed %d  %s  %.2fs  %.1f KB\n",
		res.Width, res.Height, res.Seed, res.Precision, res.GenerationTime, res.FileSizeKB)
	if res.Retried {
		recColor.Fprintln(w, "compiled transformer failed; result came from the uncompiled retry")
	}
}

func printModels(w io.Writer, m types.ModelsResponse) {
	headColor.Fprintln(w, "Hardware")
	fmt.Fprintf(w, "  Device: %s\n", strings.ToUpper(m.Device))
	fmt.Fprintf(w, "  RAM:    %s\n", gb(m.RAMGB))
	fmt.Fprintf(w, "  VRAM:   %s\n", gb(m.VRAMGB))
	headColor.Fprintln(w, "Models")
	for _, mi := range m.Models {
		fmt.Fprintf(w, "  %-5s %s", mi.ID, mi.HFModelID)
		if mi.Recommended {
			recColor.Fprint(w, "  (recommended)")
		}
		if mi.ID == m.DefaultPrecision {
			dimColor.Fprint(w, "  default")
		}
		fmt.Fprintln(w)
	}
}

func gb(v *float64) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.1f GB", *v)
}

func printLoras(w io.Writer, loras []types.Lora) {
	if len(loras) == 0 {
		dimColor.Fprintln(w, "No LoRAs registered.")
		return
	}
	for _, l := range loras {
		fmt.Fprintf(w, "%4d  %-40s %s", l.ID, l.Filename, l.DisplayName)
		if l.TriggerWord != "" {
			dimColor.Fprintf(w, "  [%s]", l.TriggerWord)
		}
		fmt.Fprintln(w)
	}
}

func printHistory(w io.Writer, items []types.HistoryItem, total, offset int) {
	if len(items) == 0 {
		dimColor.Fprintln(w, "No history found.")
		return
	}
	headColor.Fprintf(w, "History (%d-%d of %d)\n", offset, offset+len(items), total)
	for _, it := range items {
		status := okColor.Sprint("ok")
		if it.Status != "" && it.Status != "succeeded" {
			status = errColor.Sprint(it.Status)
		}
		fmt.Fprintf(w, "%5d  %s  %-6s %s  %s\n", it.ID, it.CreatedAt, status, truncate(it.Prompt, 50), dimColor.Sprint(it.Filename))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
