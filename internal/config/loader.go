package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the studio.
// Zero values mean "unspecified" and are replaced by defaults by the caller.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	DataDir   string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	OutputDir string `json:"output_dir" yaml:"output_dir" toml:"output_dir"`

	// Runner: either a binary to spawn or the URL of a running one.
	RunnerBin       string   `json:"runner_bin" yaml:"runner_bin" toml:"runner_bin"`
	RunnerArgs      []string `json:"runner_args" yaml:"runner_args" toml:"runner_args"`
	RunnerURL       string   `json:"runner_url" yaml:"runner_url" toml:"runner_url"`
	RunnerPortStart int      `json:"runner_port_start" yaml:"runner_port_start" toml:"runner_port_start"`
	RunnerPortEnd   int      `json:"runner_port_end" yaml:"runner_port_end" toml:"runner_port_end"`

	DefaultPrecision    string `json:"default_precision" yaml:"default_precision" toml:"default_precision"`
	DisableQuantization bool   `json:"disable_quantization" yaml:"disable_quantization" toml:"disable_quantization"`
	EnableTorchCompile  bool   `json:"enable_torch_compile" yaml:"enable_torch_compile" toml:"enable_torch_compile"`
	// MaxQueueDepth bounds pending device work; 0 is unbounded.
	MaxQueueDepth int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`

	LogLevel    string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFile     string   `json:"log_file" yaml:"log_file" toml:"log_file"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// AppDir is the per-user directory holding the config file.
const AppDir = ".z-image-studio"

var defaultNames = []string{"config.yaml", "config.yml", "config.toml", "config.json"}

// FindDefault returns the first config file present under home/AppDir, or "".
func FindDefault(home string) string {
	for _, n := range defaultNames {
		p := filepath.Join(home, AppDir, n)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	return ""
}

// LoadOrDefault loads path when set, else the default file when one exists,
// else an empty Config. The returned string is the file actually read.
func LoadOrDefault(path string) (Config, string, error) {
	if path != "" {
		cfg, err := Load(path)
		return cfg, path, err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, "", nil
	}
	p := FindDefault(home)
	if p == "" {
		return Config{}, "", nil
	}
	cfg, err := Load(p)
	return cfg, p, err
}
