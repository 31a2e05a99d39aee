package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"zimage/internal/manager"
	"zimage/pkg/types"
)

// parseLoraFlag reads "file[:strength]". The strength, when present, follows
// the last colon and must lie in [-1, 2].
func parseLoraFlag(s string) (types.LoraInput, error) {
	s = strings.TrimSpace(s)
	in := types.LoraInput{Filename: s, Strength: types.DefaultStrength}
	if i := strings.LastIndex(s, ":"); i > 0 {
		if v, err := strconv.ParseFloat(s[i+1:], 64); err == nil {
			in.Filename, in.Strength = s[:i], v
		}
	}
	if in.Filename == "" {
		return in, usageError("--lora: empty filename in %q", s)
	}
	if in.Strength < manager.MinStrength || in.Strength > manager.MaxStrength {
		return in, usageError("--lora %s: strength %g outside [%g, %g]", in.Filename, in.Strength, manager.MinStrength, manager.MaxStrength)
	}
	return in, nil
}

func newGenerateCmd(a *app) *cobra.Command {
	var (
		req    types.GenerateRequest
		seed   int64
		loras  []string
		output string
	)
	cmd := &cobra.Command{
		Use:     "generate PROMPT",
		Aliases: []string{"gen"},
		Short:   "Generate one image and record it in history",
		Example: "  zimage generate \"a lighthouse at dusk\" --steps 9 --lora watercolor.safetensors:0.8",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
				return usageError("generate takes exactly one non-empty PROMPT")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Prompt = args[0]
			if cmd.Flags().Changed("seed") {
				req.Seed = &seed
			}
			if len(loras) > manager.MaxAdapters {
				return usageError("at most %d --lora flags allowed", manager.MaxAdapters)
			}
			for _, l := range loras {
				in, err := parseLoraFlag(l)
				if err != nil {
					return err
				}
				req.Loras = append(req.Loras, in)
			}

			ctx := cmd.Context()
			svc, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer a.closeService(svc)

			res, err := svc.Generate(ctx, req)
			if err != nil {
				return err
			}
			saved := res.Path
			if output != "" {
				if err := copyFile(res.Path, output); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
				saved = output
			}
			printGenerated(cmd.OutOrStdout(), res, saved)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&req.Steps, "steps", types.DefaultSteps, "Inference steps (1-100)")
	f.IntVar(&req.Width, "width", types.DefaultWidth, "Width in pixels, rounded down to a multiple of 16")
	f.IntVar(&req.Height, "height", types.DefaultHeight, "Height in pixels, rounded down to a multiple of 16")
	f.Int64Var(&seed, "seed", 0, "Seed; random when omitted")
	f.StringVar(&req.Precision, "precision", "", "Model precision: full|q8|q4 (default: hardware recommendation)")
	f.StringArrayVar(&loras, "lora", nil, "Registered LoRA as file[:strength]; repeatable, up to 4")
	f.StringVarP(&output, "output", "o", "", "Also copy the image to this path")
	return cmd
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
