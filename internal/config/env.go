package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings.
const (
	EnvDataDir       = "Z_IMAGE_STUDIO_DATA_DIR"
	EnvOutputDir     = "Z_IMAGE_STUDIO_OUTPUT_DIR"
	EnvEnableCompile = "ZIMAGE_ENABLE_TORCH_COMPILE"
	EnvRunnerBin     = "ZIMAGE_RUNNER_BIN"
	EnvRunnerURL     = "ZIMAGE_RUNNER_URL"
	EnvLogLevel      = "ZIMAGE_LOG_LEVEL"
	EnvAddr          = "ZIMAGE_ADDR"
	EnvMaxQueueDepth = "ZIMAGE_MAX_QUEUE_DEPTH"
)

// LoadDotEnv reads KEY=VALUE pairs from files into the process environment
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays environment overrides onto cfg. getenv defaults to os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.DataDir, EnvDataDir)
	set(&cfg.OutputDir, EnvOutputDir)
	set(&cfg.RunnerBin, EnvRunnerBin)
	set(&cfg.RunnerURL, EnvRunnerURL)
	set(&cfg.LogLevel, EnvLogLevel)
	set(&cfg.Addr, EnvAddr)
	if getenv(EnvEnableCompile) == "1" {
		cfg.EnableTorchCompile = true
	}
	if v := getenv(EnvMaxQueueDepth); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxQueueDepth = n
		}
	}
}
