package studio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"zimage/internal/manager"
	"zimage/internal/registry"
	"zimage/internal/safetensors"
	"zimage/internal/store"
	"zimage/pkg/types"
)

func (s *Studio) Loras(ctx context.Context) ([]types.Lora, error) {
	return s.store.Loras(ctx)
}

// uploadName strips any directory part a client sent along with the name.
func uploadName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// UploadLora stores r as a LoRA file and registers it. The data is streamed
// to a temporary file while hashed and only renamed into place once the
// safetensors header checks out. An existing file of the same name is
// replaced and its record refreshed.
func (s *Studio) UploadLora(ctx context.Context, filename, displayName, triggerWord string, r io.Reader) (*types.UploadLoraResponse, error) {
	name := uploadName(filename)
	if name == "" || !registry.IsAdapterFile(name) {
		return nil, manager.ErrConfiguration("Only .safetensors files are supported")
	}
	target := filepath.Join(s.paths.LorasDir, name)
	tmp := filepath.Join(s.paths.LorasDir, name+"."+uuid.NewString()+".tmp")

	hash, err := writeHashed(tmp, r)
	if err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	if _, err := safetensors.ValidateFile(tmp); err != nil {
		_ = os.Remove(tmp)
		return nil, manager.ErrConfiguration("invalid LoRA file %s: %v", name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	id, err := s.store.AddLora(ctx, store.NewLora{
		Filename:    name,
		DisplayName: strings.TrimSpace(displayName),
		TriggerWord: strings.TrimSpace(triggerWord),
		Hash:        hash,
	})
	if err != nil {
		return nil, err
	}
	rec, err := s.store.Lora(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("id", id).Str("file", name).Str("sha256", hash).Msg("lora uploaded")
	return &types.UploadLoraResponse{ID: id, Filename: name, DisplayName: rec.DisplayName}, nil
}

func writeHashed(path string, r io.Reader) (string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), r); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DeleteLora removes the record and then the file. A file that cannot be
// removed is logged; the record is already gone.
func (s *Studio) DeleteLora(ctx context.Context, id int64) error {
	rec, err := s.store.Lora(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteLora(ctx, id); err != nil {
		return err
	}
	path := filepath.Join(s.paths.LorasDir, filepath.Base(rec.Filename))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn().Err(err).Str("path", path).Msg("delete lora file")
	}
	return nil
}

// SyncLoras registers *.safetensors files in the LoRA directory that have no
// record yet and returns how many were added.
func (s *Studio) SyncLoras(ctx context.Context) (int, error) {
	files, err := registry.LoadDir(s.paths.LorasDir)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, f := range files {
		_, err := s.store.LoraByFilename(ctx, f.Filename)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return added, err
		}
		if _, err := s.store.AddLora(ctx, store.NewLora{Filename: f.Filename}); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
