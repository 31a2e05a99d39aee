package config

import (
	"os"
	"path/filepath"

	"zimage/internal/common/fsutil"
)

// AppName names the per-user data directory.
const AppName = "z-image-studio"

// Paths are the resolved on-disk locations. All directories exist once
// ResolvePaths returns.
type Paths struct {
	DataDir   string
	OutputDir string
	LorasDir  string
	DBPath    string
}

// ResolvePaths applies the precedence env > config > platform default for the
// data dir, and env > config > <data>/outputs for outputs. getenv defaults
// to os.Getenv.
func ResolvePaths(cfg Config, getenv func(string) string) (Paths, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	var p Paths
	data := getenv(EnvDataDir)
	if data == "" {
		data = cfg.DataDir
	}
	if data == "" {
		d, err := fsutil.UserDataDir(AppName, getenv)
		if err != nil {
			return p, err
		}
		data = d
	}
	var err error
	if p.DataDir, err = fsutil.ResolveDir(data); err != nil {
		return p, err
	}
	out := getenv(EnvOutputDir)
	if out == "" {
		out = cfg.OutputDir
	}
	if out == "" {
		out = filepath.Join(p.DataDir, "outputs")
	}
	if p.OutputDir, err = fsutil.ResolveDir(out); err != nil {
		return p, err
	}
	if p.LorasDir, err = fsutil.ResolveDir(filepath.Join(p.DataDir, "loras")); err != nil {
		return p, err
	}
	p.DBPath = filepath.Join(p.DataDir, "zimage.db")
	return p, nil
}
