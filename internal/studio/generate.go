package studio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"zimage/internal/common/fsutil"
	"zimage/internal/manager"
	"zimage/internal/pipeline"
	"zimage/internal/store"
	"zimage/pkg/types"
)

const (
	stemChars    = 30
	stemFallback = "image"
)

type resolvedLora struct {
	input types.LoraInput
	id    int64
	path  string
}

// resolveLoras maps request filenames to registered files on disk.
func (s *Studio) resolveLoras(ctx context.Context, in []types.LoraInput) ([]resolvedLora, error) {
	if len(in) > manager.MaxAdapters {
		return nil, manager.ErrConfiguration("Maximum %d LoRAs allowed.", manager.MaxAdapters)
	}
	out := make([]resolvedLora, 0, len(in))
	for _, l := range in {
		rec, err := s.store.LoraByFilename(ctx, l.Filename)
		if errors.Is(err, store.ErrNotFound) {
			return nil, manager.ErrConfiguration("LoRA '%s' not found", l.Filename)
		}
		if err != nil {
			return nil, err
		}
		path := filepath.Join(s.paths.LorasDir, filepath.Base(rec.Filename))
		if !fsutil.PathExists(path) {
			return nil, fmt.Errorf("LoRA file missing on disk: %s", l.Filename)
		}
		out = append(out, resolvedLora{input: l, id: rec.ID, path: path})
	}
	return out, nil
}

// Generate runs one request end to end: LoRA resolution, generation on the
// device worker, saving the PNG and recording history.
func (s *Studio) Generate(ctx context.Context, req types.GenerateRequest) (*types.GenerateResponse, error) {
	req.ApplyDefaults()
	rid := uuid.NewString()
	log := s.log.With().Str("request_id", rid).Logger()

	loras, err := s.resolveLoras(ctx, req.Loras)
	if err != nil {
		return nil, err
	}
	if req.Seed == nil {
		seed, err := manager.RandomSeed()
		if err != nil {
			return nil, err
		}
		req.Seed = &seed
	}
	mreq := manager.Request{
		Prompt:    req.Prompt,
		Steps:     req.Steps,
		Width:     req.Width,
		Height:    req.Height,
		Seed:      req.Seed,
		Precision: req.Precision,
	}
	applied := make([]store.AppliedLora, 0, len(loras))
	inputs := make([]types.LoraInput, 0, len(loras))
	for _, l := range loras {
		mreq.Adapters = append(mreq.Adapters, manager.AdapterSpec{Path: l.path, Strength: l.input.Strength})
		applied = append(applied, store.AppliedLora{LoraID: l.id, Strength: l.input.Strength})
		inputs = append(inputs, l.input)
	}

	start := s.now()
	res, err := s.engine.Generate(ctx, mreq)
	if err != nil {
		s.recordFailure(ctx, req, applied, err)
		return nil, err
	}

	path, err := s.saveImage(req.Prompt, res.Image.PNG)
	if err != nil {
		return nil, err
	}
	took := s.now().Sub(start).Seconds()
	sizeKB := float64(len(res.Image.PNG)) / 1024
	width, height := res.Width, res.Height
	if res.Image.Width > 0 && res.Image.Height > 0 {
		width, height = res.Image.Width, res.Image.Height
	}
	seed := res.Seed
	id, err := s.store.AddGeneration(ctx, store.NewGeneration{
		Prompt:         req.Prompt,
		Steps:          res.Steps,
		Width:          width,
		Height:         height,
		Seed:           &seed,
		Model:          res.ModelID,
		Precision:      string(res.Precision),
		Status:         store.StatusSucceeded,
		Filename:       filepath.Base(path),
		GenerationTime: took,
		FileSizeKB:     sizeKB,
		Loras:          applied,
	})
	if err != nil {
		return nil, fmt.Errorf("record generation: %w", err)
	}
	log.Info().Int64("id", id).Str("file", filepath.Base(path)).Float64("seconds", took).Msg("image saved")

	return &types.GenerateResponse{
		ID:             id,
		ImageURL:       "/outputs/" + filepath.Base(path),
		GenerationTime: round(took, 2),
		Width:          width,
		Height:         height,
		FileSizeKB:     round(sizeKB, 1),
		Seed:           res.Seed,
		Precision:      string(res.Precision),
		ModelID:        res.ModelID,
		Loras:          inputs,
		Retried:        res.Retried,
		Path:           path,
	}, nil
}

// saveImage writes png as <sanitized prompt>_<unix>.png without clobbering.
func (s *Studio) saveImage(prompt string, png []byte) (string, error) {
	if len(png) == 0 {
		return "", errors.New("runtime returned an empty image")
	}
	stem := fsutil.SafeStem(prompt, stemChars, stemFallback) + "_" + strconv.FormatInt(s.now().Unix(), 10)
	path := fsutil.UniquePath(s.paths.OutputDir, stem, ".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	return path, nil
}

// recordFailure stores a failed row for requests that reached the device,
// with the values the device ran: normalized size and canonical precision.
// Rejections before queueing leave no trace.
func (s *Studio) recordFailure(ctx context.Context, req types.GenerateRequest, loras []store.AppliedLora, genErr error) {
	if manager.IsConfiguration(genErr) || manager.IsTooBusy(genErr) || errors.Is(genErr, context.Canceled) {
		return
	}
	prec := s.engine.DefaultPrecision()
	if req.Precision != "" {
		p, err := pipeline.ParsePrecision(req.Precision)
		if err != nil {
			return
		}
		prec = p
	}
	width, height := manager.Normalize(req.Width, req.Height)
	_, err := s.store.AddGeneration(context.WithoutCancel(ctx), store.NewGeneration{
		Prompt:       req.Prompt,
		Steps:        req.Steps,
		Width:        width,
		Height:       height,
		Seed:         req.Seed,
		Model:        prec.ModelID(),
		Precision:    string(prec),
		Status:       store.StatusFailed,
		ErrorMessage: genErr.Error(),
		Loras:        loras,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("record failed generation")
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
