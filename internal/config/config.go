// Package config loads cloudsync settings from defaults, an optional config
// file, CLOUDSYNC_* environment variables and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/biblemarker/cloudsync/internal/cloud"
	"github.com/biblemarker/cloudsync/internal/cloud/bounded"
	"github.com/biblemarker/cloudsync/internal/cloud/container"
	"github.com/biblemarker/cloudsync/internal/cloud/syncdir"
	"github.com/biblemarker/cloudsync/internal/logging"
)

// EnvPrefix prefixes every environment variable: CLOUDSYNC_DATA_DIR, ...
const EnvPrefix = "CLOUDSYNC"

// FileName is the config file base name, without extension.
const FileName = "cloudsync"

// Provider kinds.
const (
	ProviderExec   = "exec"
	ProviderStatic = "static"
)

type ProviderConfig struct {
	// Kind is "exec" or "static".
	Kind string `mapstructure:"kind" yaml:"kind" json:"kind"`
	// Command prints the container path; the container id is appended.
	Command []string `mapstructure:"command" yaml:"command" json:"command"`
	// IdentityCommand exits 0 when the user is signed in.
	IdentityCommand []string `mapstructure:"identity_command" yaml:"identity_command" json:"identity_command"`
	// ContainerPath and SignedIn answer for the static provider.
	ContainerPath string `mapstructure:"container_path" yaml:"container_path" json:"container_path"`
	SignedIn      bool   `mapstructure:"signed_in" yaml:"signed_in" json:"signed_in"`
}

type PlatformConfig struct {
	// CloudCapable overrides platform detection when set.
	CloudCapable *bool `mapstructure:"cloud_capable" yaml:"cloud_capable,omitempty" json:"cloud_capable,omitempty"`
	// WriteStrategy overrides the platform's write strategy: direct or staged.
	WriteStrategy string `mapstructure:"write_strategy" yaml:"write_strategy,omitempty" json:"write_strategy,omitempty"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level" json:"level"`    // error, warn, info, debug
	Format     string `mapstructure:"format" yaml:"format" json:"format"` // text, json
	File       string `mapstructure:"file" yaml:"file,omitempty" json:"file,omitempty"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size" json:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" json:"max_backups"`
}

type BridgeConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" json:"addr"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce" json:"debounce"`
}

// Config is the full cloudsync configuration.
type Config struct {
	AppName        string         `mapstructure:"app_name" yaml:"app_name" json:"app_name"`
	ContainerID    string         `mapstructure:"container_id" yaml:"container_id" json:"container_id"`
	DataDir        string         `mapstructure:"data_dir" yaml:"data_dir" json:"data_dir"`
	ResolveTimeout time.Duration  `mapstructure:"resolve_timeout" yaml:"resolve_timeout" json:"resolve_timeout"`
	SyncSuffix     string         `mapstructure:"sync_suffix" yaml:"sync_suffix" json:"sync_suffix"`
	FallbackRoot   string         `mapstructure:"fallback_root" yaml:"fallback_root" json:"fallback_root"`
	Provider       ProviderConfig `mapstructure:"provider" yaml:"provider" json:"provider"`
	Platform       PlatformConfig `mapstructure:"platform" yaml:"platform" json:"platform"`
	Log            LogConfig      `mapstructure:"log" yaml:"log" json:"log"`
	Bridge         BridgeConfig   `mapstructure:"bridge" yaml:"bridge" json:"bridge"`
	Watch          WatchConfig    `mapstructure:"watch" yaml:"watch" json:"watch"`
}

// DefaultDataDir returns the per-user application data directory.
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".biblemarker")
	}
	return filepath.Join(dir, "com.biblemarker.app")
}

// DefaultConfigDir returns the directory searched for cloudsync.yaml.
func DefaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cloudsync")
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "biblemarker")
	v.SetDefault("container_id", container.DefaultContainerID)
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("resolve_timeout", bounded.DefaultTimeout)
	v.SetDefault("sync_suffix", syncdir.DefaultSuffix)
	v.SetDefault("fallback_root", container.DefaultFallbackRoot())

	v.SetDefault("provider.kind", ProviderExec)
	v.SetDefault("provider.command", []string{"cloudsync-helper", "container-path"})
	v.SetDefault("provider.identity_command", []string{"cloudsync-helper", "signed-in"})
	v.SetDefault("provider.container_path", "")
	v.SetDefault("provider.signed_in", false)

	v.SetDefault("platform.write_strategy", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("bridge.addr", "127.0.0.1:7777")
	v.SetDefault("watch.debounce", syncdir.DefaultDebounce)
}

// New returns a viper instance with defaults, environment binding and the
// config file search path set up. An explicit file overrides the search.
func New(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// No default, so AutomaticEnv alone would never surface it to Unmarshal
	_ = v.BindEnv("platform.cloud_capable")

	if file != "" {
		v.SetConfigFile(file)
		return v
	}

	v.SetConfigName(FileName)
	if dir := DefaultConfigDir(); dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")
	return v
}

// ReadFile reads the config file if one is present. A missing file in the
// search path is not an error; a missing explicit file is.
func ReadFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		fieldsHook(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fieldsHook splits a string into whitespace-separated fields when the target
// is a string slice, so CLOUDSYNC_PROVIDER_COMMAND="helper path" works.
func fieldsHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
			return data, nil
		}
		return strings.Fields(data.(string)), nil
	}
}

// Validate checks values that cannot be decoded into something wrong.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AppName) == "" {
		errs = append(errs, errors.New("app_name must not be empty"))
	}
	if strings.TrimSpace(c.ContainerID) == "" {
		errs = append(errs, errors.New("container_id must not be empty"))
	}
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	if c.ResolveTimeout <= 0 {
		errs = append(errs, fmt.Errorf("resolve_timeout must be positive, got %s", c.ResolveTimeout))
	}
	switch c.Provider.Kind {
	case ProviderExec:
		if len(c.Provider.Command) == 0 {
			errs = append(errs, errors.New("provider.command must not be empty for the exec provider"))
		}
	case ProviderStatic:
	default:
		errs = append(errs, fmt.Errorf("unknown provider.kind %q (want exec or static)", c.Provider.Kind))
	}
	if c.Platform.WriteStrategy != "" {
		if _, err := cloud.ParseWriteStrategy(c.Platform.WriteStrategy); err != nil {
			errs = append(errs, fmt.Errorf("platform.write_strategy: %w", err))
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ResolvedPlatform applies the platform overrides to the detected platform.
func (c *Config) ResolvedPlatform() cloud.Platform {
	p := cloud.DetectPlatform()
	if c.Platform.CloudCapable != nil {
		p.CloudCapable = *c.Platform.CloudCapable
	}
	if s, err := cloud.ParseWriteStrategy(c.Platform.WriteStrategy); err == nil {
		p.Strategy = s
	}
	return p
}

// NewProvider builds the container provider selected by provider.kind.
func (c *Config) NewProvider() container.Provider {
	if c.Provider.Kind == ProviderStatic {
		return container.StaticProvider{
			Path:     c.Provider.ContainerPath,
			Identity: c.Provider.SignedIn,
		}
	}
	return container.ExecProvider{
		PathCommand:     c.Provider.Command,
		IdentityCommand: c.Provider.IdentityCommand,
		Timeout:         c.ResolveTimeout,
	}
}

// Logger builds the logger described by the log section.
func (c *Config) Logger() *logging.Logger {
	level, _ := logging.ParseLevel(c.Log.Level)
	return logging.New(logging.Options{
		Level:      level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
	})
}

// JournalPath is where migration attempts are recorded.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "migration.toml")
}
