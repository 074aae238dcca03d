package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains input and output locations.
type Paths struct {
	Tokens string `toml:"tokens"`  // tokens.txt of the acoustic model
	ExpDir string `toml:"exp_dir"` // directory receiving otc-alignment-<test_set>.txt
	Store  string `toml:"store"`   // optional SQLite result store
}

// OTC contains the error-tolerance settings of the alignment graph.
type OTC struct {
	Token            string  `toml:"otc_token"`
	Placeholder      string  `toml:"placeholder"`
	AllowBypassArc   bool    `toml:"allow_bypass_arc"`
	AllowSelfLoopArc bool    `toml:"allow_self_loop_arc"`
	BypassWeight     float64 `toml:"bypass_weight"`
	SelfLoopWeight   float64 `toml:"self_loop_weight"`
	RegularWeight    float64 `toml:"regular_weight"`
}

// Decoding contains search and segmentation settings.
type Decoding struct {
	BeamSize          float64 `toml:"beam_size"`
	MinActiveStates   int     `toml:"min_active_states"`
	MaxActiveStates   int     `toml:"max_active_states"`
	SubsamplingFactor int     `toml:"subsampling_factor"`
	AllowTruncate     int     `toml:"allow_truncate"`
	NumWorkers        int     `toml:"num_workers"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics contains configuration for the prometheus textfile export.
type Metrics struct {
	Textfile string `toml:"textfile"`
}

// Config encapsulates all configuration values for otcalign.
type Config struct {
	Paths    Paths    `toml:"paths"`
	OTC      OTC      `toml:"otc"`
	Decoding Decoding `toml:"decoding"`
	Logging  Logging  `toml:"logging"`
	Metrics  Metrics  `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. It returns the
// config, the path that was resolved and whether a file existed there.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(defaultProjectConfig)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// OutputPath returns the alignment text file for a test set.
func (c *Config) OutputPath(testSet string) string {
	return filepath.Join(c.Paths.ExpDir, "otc-alignment-"+testSet+".txt")
}

// EnsureDirectories creates the experiment directory.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Paths.ExpDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Paths.ExpDir, err)
	}
	if strings.TrimSpace(c.Paths.Store) != "" {
		if err := os.MkdirAll(filepath.Dir(c.Paths.Store), 0o755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for command-line overrides.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
