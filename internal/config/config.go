package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	appName   = "counterstats"
	envPrefix = "COUNTERSTATS"
)

type LogConfig struct {
	Level  string `json:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" mapstructure:"format" validate:"oneof=json console"`
}

type Config struct {
	DatabasePath  string    `json:"database_path" mapstructure:"database_path" validate:"required"`
	CostBackupDir string    `json:"cost_backup_dir" mapstructure:"cost_backup_dir" validate:"required"`
	ImportDir     string    `json:"import_dir" mapstructure:"import_dir"`
	ConvertDir    string    `json:"convert_dir" mapstructure:"convert_dir"`
	Concurrency   int       `json:"concurrency" mapstructure:"concurrency" validate:"gte=0"`
	LocalCurrency string    `json:"local_currency" mapstructure:"local_currency"`
	Log           LogConfig `json:"log" mapstructure:"log"`
}

// StateDir is where the database and cost backups live by default.
func StateDir() (string, error) {
	if base := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); base != "" {
		return filepath.Join(base, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local", "state", appName), nil
}

func DefaultConfig() Config {
	stateDir, err := StateDir()
	if err != nil {
		stateDir = "." + appName
	}
	return Config{
		DatabasePath:  filepath.Join(stateDir, appName+".db"),
		CostBackupDir: filepath.Join(stateDir, "cost_backups"),
		ImportDir:     filepath.Join(stateDir, "inbox"),
		ConvertDir:    filepath.Join(stateDir, "converted"),
		Concurrency:   runtime.NumCPU(),
		LocalCurrency: "CAD",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func ConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), appName)
	}
	if base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); base != "" {
		return filepath.Join(base, appName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", appName)
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "settings.json")
}

func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads the JSON file at path over the defaults, then applies
// COUNTERSTATS_* environment overrides such as COUNTERSTATS_LOG_LEVEL. A
// missing file is not an error.
func LoadFrom(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return DefaultConfig(), fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("config: decoding %s: %w", path, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return DefaultConfig(), err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("cost_backup_dir", cfg.CostBackupDir)
	v.SetDefault("import_dir", cfg.ImportDir)
	v.SetDefault("convert_dir", cfg.ConvertDir)
	v.SetDefault("concurrency", cfg.Concurrency)
	v.SetDefault("local_currency", cfg.LocalCurrency)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

func (c *Config) normalize() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.NumCPU()
	}
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

func Save(cfg Config) error {
	return SaveTo(ConfigPath(), cfg)
}

func SaveTo(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: creating config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshaling config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing config: %w", err)
	}
	return nil
}
