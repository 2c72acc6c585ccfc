// SPDX-License-Identifier: MPL-2.0

// Package config loads coldwrap configuration: where intermediate build files
// live, where finished artifacts go, where launcher stubs are found, and the
// external tools used to shrink binaries.
//
// Configuration is resolved once, into an immutable Config value that is
// passed into every target constructor. There is no package-level mutable
// configuration state.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"coldwrap/internal/issue"
)

const (
	// AppName is the application name, used for config and cache dirs.
	AppName = "coldwrap"
	// ConfigFileName is the config file name without extension.
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "toml"
)

// Config is the resolved, immutable configuration for one build invocation.
type Config struct {
	// WorkPath holds intermediate build products (archives, guts records,
	// scratch stub copies).
	WorkPath string `mapstructure:"work_path"`
	// DistPath receives finished artifacts.
	DistPath string `mapstructure:"dist_path"`
	// StubDir is the root of the precompiled launcher stub tree, laid out
	// as <stub_dir>/<platform>/<variant>.
	StubDir string `mapstructure:"stub_dir"`
	// CacheDir backs the content cache for stripped/packed binaries.
	CacheDir string `mapstructure:"cache_dir"`
	// Platform selects the stub subdirectory (default: GOOS_GOARCH).
	Platform string `mapstructure:"platform"`
	// RuntimeLib is the runtime library name embedded in every package
	// archive trailer for the launcher to load.
	RuntimeLib string `mapstructure:"runtime_lib"`
	// StripCmd is the external strip tool (empty disables stripping).
	StripCmd string `mapstructure:"strip_cmd"`
	// PackCmd is the external executable packer (empty disables packing).
	PackCmd string `mapstructure:"pack_cmd"`
	// Verbose enables debug logging.
	Verbose bool `mapstructure:"verbose"`
}

// LoadOptions defines explicit configuration loading inputs.
type LoadOptions struct {
	// ConfigFilePath forces loading from a specific file when set.
	ConfigFilePath string
	// ConfigDirPath overrides the config directory lookup when set.
	ConfigDirPath string
}

// Provider loads configuration from explicit options.
type Provider interface {
	Load(ctx context.Context, opts LoadOptions) (*Config, error)
}

type fileProvider struct{}

// NewProvider creates the file-backed configuration provider.
func NewProvider() Provider {
	return &fileProvider{}
}

// Load reads configuration from the requested source.
func (p *fileProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	cfg, err := loadWithOptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns the built-in defaults. Paths are relative to the
// current working directory so a bare "coldwrap build" works without any
// config file.
func DefaultConfig() *Config {
	return &Config{
		WorkPath:   filepath.Join("build", AppName),
		DistPath:   "dist",
		Platform:   runtime.GOOS + "_" + runtime.GOARCH,
		RuntimeLib: "libcwrt.so",
	}
}

// ConfigDir returns the coldwrap configuration directory using the usual
// platform conventions: %APPDATA% on Windows, ~/Library/Application Support
// on macOS, $XDG_CONFIG_HOME (default ~/.config) elsewhere.
func ConfigDir() (string, error) {
	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(configDir, AppName), nil
}

// DefaultCacheDir returns the per-user content cache directory.
func DefaultCacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get cache directory: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("work_path", defaults.WorkPath)
	v.SetDefault("dist_path", defaults.DistPath)
	v.SetDefault("stub_dir", defaults.StubDir)
	v.SetDefault("cache_dir", defaults.CacheDir)
	v.SetDefault("platform", defaults.Platform)
	v.SetDefault("runtime_lib", defaults.RuntimeLib)
	v.SetDefault("strip_cmd", defaults.StripCmd)
	v.SetDefault("pack_cmd", defaults.PackCmd)
	v.SetDefault("verbose", defaults.Verbose)

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFilePath != "" {
		// An explicit --config flag is used exclusively; a missing file
		// is an error rather than a silent fallback.
		if !fileExists(opts.ConfigFilePath) {
			return nil, issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Run without --config to use defaults").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		v.SetConfigFile(opts.ConfigFilePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Check that the file contains valid TOML").
				Wrap(err).
				BuildError()
		}
	} else {
		cfgDir := opts.ConfigDirPath
		if cfgDir == "" {
			var err error
			cfgDir, err = ConfigDir()
			if err != nil {
				return nil, err
			}
		}
		path := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
		if fileExists(path) {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, issue.NewErrorContext().
					WithOperation("load configuration").
					WithResource(path).
					WithSuggestion("Check that the file contains valid TOML").
					Wrap(err).
					BuildError()
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, issue.WrapWithOperation(err, "decode configuration")
	}

	if cfg.CacheDir == "" {
		dir, err := DefaultCacheDir()
		if err != nil {
			return nil, err
		}
		cfg.CacheDir = dir
	}

	return &cfg, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
