// Package config resolves the settings shared by the covmap tools.
//
// Precedence, lowest to highest: defaults, config file, environment, flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/covmap/pkg/bitmap"
	"github.com/calvinalkan/covmap/pkg/covrt"
	"github.com/calvinalkan/covmap/pkg/shm"
)

// Error variables for configuration loading.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrNameEmpty          = errors.New("segment name cannot be empty")
	ErrInvalidSize        = errors.New("segment size must be a positive multiple of 8")
	ErrInvalidInterval    = errors.New("interval must be a positive number of seconds")
)

// Defaults.
const (
	DefaultName     = "LLVMCovmap"
	DefaultSize     = covrt.DefaultSize
	DefaultInterval = 10 * time.Second
)

// FileName is the project config file looked up in the working directory.
const FileName = ".covmap.json"

// Source names reported by print-config.
const (
	SourceDefault = "default"
	SourceFile    = "file"
	SourceEnv     = "env"
	SourceFlag    = "flag"
)

// Config holds the resolved settings.
type Config struct {
	Name     string
	Size     int
	Interval time.Duration
	Policy   bitmap.Policy
	Dir      string

	// EffectiveCwd is the absolute working directory (-C or os.Getwd).
	EffectiveCwd string

	// Sources tracks where each setting came from.
	Sources Sources
}

// Sources tracks which inputs contributed to a [Config].
type Sources struct {
	// File is the config file path if one was loaded.
	File string

	// Fields maps a setting name (name, size, interval, policy, dir) to one
	// of the Source* constants.
	Fields map[string]string
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Name:     DefaultName,
		Size:     DefaultSize,
		Interval: DefaultInterval,
		Policy:   bitmap.PolicyModulo,
		Dir:      shm.DefaultDir,
		Sources: Sources{Fields: map[string]string{
			"name":     SourceDefault,
			"size":     SourceDefault,
			"interval": SourceDefault,
			"policy":   SourceDefault,
			"dir":      SourceDefault,
		}},
	}
}

// Overrides holds flag values. Nil means the flag was not given.
type Overrides struct {
	Name     *string
	Size     *int
	Interval *int
	Policy   *string
	Dir      *string
}

// LoadInput holds the inputs for [Load].
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Env             map[string]string // environment variables
	Overrides       Overrides
}

// fileConfig is the on-disk JSONC shape. Pointers distinguish an absent key
// from an explicit zero value.
type fileConfig struct {
	Name     *string `json:"name"`
	Size     *int    `json:"size"`
	Interval *int    `json:"interval"`
	Policy   *string `json:"policy"`
	Dir      *string `json:"dir"`
}

// Load resolves the configuration. Invalid values from any source are
// reported as errors; nothing is partially applied.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return Config{}, fmt.Errorf("cannot resolve working directory: %w", err)
	}

	cfg := Default()
	cfg.EffectiveCwd = workDir

	fileCfg, path, err := loadProjectConfig(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.File = path

	err = cfg.apply(fileCfg, SourceFile)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	envCfg, err := fromEnv(input.Env)
	if err != nil {
		return Config{}, err
	}

	err = cfg.apply(envCfg, SourceEnv)
	if err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}

	flagCfg := fileConfig(input.Overrides)

	err = cfg.apply(flagCfg, SourceFlag)
	if err != nil {
		return Config{}, err
	}

	if !filepath.IsAbs(cfg.Dir) {
		cfg.Dir = filepath.Join(workDir, cfg.Dir)
	}

	return cfg, nil
}

// apply overlays the set fields of fc, validating each one.
func (c *Config) apply(fc fileConfig, source string) error {
	if fc.Name != nil {
		if *fc.Name == "" {
			return ErrNameEmpty
		}

		c.Name = *fc.Name
		c.Sources.Fields["name"] = source
	}

	if fc.Size != nil {
		err := ValidateSize(*fc.Size)
		if err != nil {
			return err
		}

		c.Size = *fc.Size
		c.Sources.Fields["size"] = source
	}

	if fc.Interval != nil {
		if *fc.Interval <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidInterval, *fc.Interval)
		}

		c.Interval = time.Duration(*fc.Interval) * time.Second
		c.Sources.Fields["interval"] = source
	}

	if fc.Policy != nil {
		policy, err := bitmap.ParsePolicy(*fc.Policy)
		if err != nil {
			return err
		}

		c.Policy = policy
		c.Sources.Fields["policy"] = source
	}

	if fc.Dir != nil && *fc.Dir != "" {
		c.Dir = *fc.Dir
		c.Sources.Fields["dir"] = source
	}

	return nil
}

// ValidateSize checks that size is a positive multiple of 8.
func ValidateSize(size int) error {
	if size <= 0 || size%8 != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	return nil
}

// fromEnv reads the runtime's environment variables, so a tool started in an
// instrumented environment agrees with the runtime on name and size.
func fromEnv(env map[string]string) (fileConfig, error) {
	var fc fileConfig

	if name := env[covrt.EnvName]; name != "" {
		fc.Name = &name
	}

	if raw := env[covrt.EnvSize]; raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return fileConfig{}, fmt.Errorf("%s=%q: %w", covrt.EnvSize, raw, ErrInvalidSize)
		}

		fc.Size = &size
	}

	if policy := env[covrt.EnvPolicy]; policy != "" {
		fc.Policy = &policy
	}

	if dir := env[covrt.EnvDir]; dir != "" {
		fc.Dir = &dir
	}

	return fc, nil
}

// loadProjectConfig loads .covmap.json from workDir or an explicit config file.
// Returns the config, the path if loaded, and any error.
func loadProjectConfig(workDir, configPath string) (fileConfig, string, error) {
	var cfgFile string

	var mustExist bool

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		_, statErr := os.Stat(cfgFile)
		if statErr != nil {
			return fileConfig{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	} else {
		cfgFile = filepath.Join(workDir, FileName)
	}

	data, err := os.ReadFile(cfgFile)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return fileConfig{}, "", nil
		}

		return fileConfig{}, "", fmt.Errorf("%w: %s", ErrConfigFileRead, cfgFile)
	}

	fc, err := parse(data)
	if err != nil {
		return fileConfig{}, "", fmt.Errorf("%w %s: %w", ErrConfigInvalid, cfgFile, err)
	}

	return fc, cfgFile, nil
}

func parse(data []byte) (fileConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var fc fileConfig

	err = json.Unmarshal(standardized, &fc)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return fc, nil
}
