// Package config loads the application and relay settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the whole settings file. Every field has a default, so a missing
// file is not an error.
type Config struct {
	// DataDir holds documents created without an explicit path.
	DataDir  string   `yaml:"data_dir" validate:"required"`
	LogLevel string   `yaml:"log_level" validate:"oneof=debug info warn error"`
	Relay    Relay    `yaml:"relay"`
	Editor   Editor   `yaml:"editor"`
	Autosave Autosave `yaml:"autosave"`
	Window   Window   `yaml:"window"`
}

// Relay configures both the client side of collaboration and the relay server.
type Relay struct {
	// Address is the websocket URL clients dial.
	Address string `yaml:"address" validate:"required,url"`
	// Listen is the address fumen-relay binds.
	Listen         string        `yaml:"listen" validate:"required"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	CursorInterval time.Duration `yaml:"cursor_interval" validate:"gt=0"`
}

// Editor holds timing of the board editor.
type Editor struct {
	SplashSettle time.Duration `yaml:"splash_settle" validate:"gte=0"`
	EditSettle   time.Duration `yaml:"edit_settle" validate:"gt=0"`
}

// Autosave schedules periodic saves of the open document.
type Autosave struct {
	Enabled bool `yaml:"enabled"`
	// Spec is a robfig/cron schedule, "@every 30s" by default.
	Spec string `yaml:"spec" validate:"required"`
}

// Window is the saved main window size.
type Window struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Default returns the built-in settings.
func Default() *Config {
	dataDir := "fumen"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, "fumen")
	}
	return &Config{
		DataDir:  dataDir,
		LogLevel: "info",
		Relay: Relay{
			Address:        "ws://localhost:8787/ws",
			Listen:         ":8787",
			RequestTimeout: 10 * time.Second,
			CursorInterval: 50 * time.Millisecond,
		},
		Editor: Editor{
			SplashSettle: 100 * time.Millisecond,
			EditSettle:   300 * time.Millisecond,
		},
		Autosave: Autosave{Enabled: true, Spec: "@every 30s"},
		Window:   Window{Width: 1280, Height: 800},
	}
}

// DefaultPath is ~/.config/fumen/config.yaml, or the platform equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "fumen", "config.yaml")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes c to path, creating the directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Logger builds the process logger at LogLevel. Debug uses the development
// encoder; every other level logs JSON to stderr.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	var zc zap.Config
	if level == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
