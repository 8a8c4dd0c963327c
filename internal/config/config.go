// Package config loads daemon configuration from defaults, an
// optional TOML file, FETCHD_* environment variables and flags, in
// that order of precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds application configuration.
type Config struct {
	Port            int
	DBPath          string
	ScriptsDir      string
	ScriptPrefix    string
	DownloadDir     string
	PollInterval    time.Duration
	RefreshInterval time.Duration
	Concurrency     int
	MaxRunDuration  time.Duration
	APIKey          string
	Development     bool
	Workers         map[string]string
	UpdateCommand   []string
	UpdateTimeout   time.Duration
}

// DefaultDBPath returns the default database path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "fetchd", "jobs.db")
}

// DefaultScriptsDir returns the default worker script directory using
// XDG_DATA_HOME.
func DefaultScriptsDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "fetchd", "scripts")
}

// DefaultDownloadDir returns the default download root; workers get a
// per-site subdirectory underneath it.
func DefaultDownloadDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Downloads")
}

func defaults() *Config {
	return &Config{
		Port:            9559,
		DBPath:          DefaultDBPath(),
		ScriptsDir:      DefaultScriptsDir(),
		ScriptPrefix:    "linksniff-",
		DownloadDir:     DefaultDownloadDir(),
		PollInterval:    5 * time.Second,
		RefreshInterval: time.Minute,
		Concurrency:     3,
		UpdateCommand:   []string{"pip", "install", "--upgrade", "yt-dlp"},
		UpdateTimeout:   5 * time.Minute,
	}
}

// duration lets TOML carry values like "30s".
type duration struct{ time.Duration }

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type fileToolUpdate struct {
	Command []string `toml:"command"`
	Timeout duration `toml:"timeout"`
}

type fileConfig struct {
	Port            *int              `toml:"port"`
	DB              *string           `toml:"db"`
	ScriptsDir      *string           `toml:"scripts_dir"`
	ScriptPrefix    *string           `toml:"script_prefix"`
	DownloadDir     *string           `toml:"download_dir"`
	PollInterval    *duration         `toml:"poll_interval"`
	RefreshInterval *duration         `toml:"refresh_interval"`
	Concurrency     *int              `toml:"concurrency"`
	MaxRunDuration  *duration         `toml:"max_run_duration"`
	APIKey          *string           `toml:"api_key"`
	Development     *bool             `toml:"development"`
	Workers         map[string]string `toml:"workers"`
	ToolUpdate      *fileToolUpdate   `toml:"tool_update"`
}

// Load builds a Config from the given command-line arguments.
func Load(args []string) (*Config, error) {
	cfg := defaults()

	fs := flag.NewFlagSet("fetchd", flag.ContinueOnError)
	configPath := fs.String("config", "", "TOML config file path")
	port := fs.Int("port", cfg.Port, "HTTP server port")
	dbPath := fs.String("db", cfg.DBPath, "SQLite database path")
	scriptsDir := fs.String("scripts-dir", cfg.ScriptsDir, "Worker script directory")
	downloadDir := fs.String("download-dir", cfg.DownloadDir, "Download root directory")
	pollInterval := fs.Duration("poll-interval", cfg.PollInterval, "Dispatcher poll interval")
	concurrency := fs.Int("concurrency", cfg.Concurrency, "Default global worker limit")
	dev := fs.Bool("dev", cfg.Development, "Development logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if err := cfg.applyFile(*configPath); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	// Explicitly set flags win over both file and environment.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "db":
			cfg.DBPath = *dbPath
		case "scripts-dir":
			cfg.ScriptsDir = *scriptsDir
		case "download-dir":
			cfg.DownloadDir = *downloadDir
		case "poll-interval":
			cfg.PollInterval = *pollInterval
		case "concurrency":
			cfg.Concurrency = *concurrency
		case "dev":
			cfg.Development = *dev
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if fc.Port != nil {
		c.Port = *fc.Port
	}
	if fc.DB != nil {
		c.DBPath = *fc.DB
	}
	if fc.ScriptsDir != nil {
		c.ScriptsDir = *fc.ScriptsDir
	}
	if fc.ScriptPrefix != nil {
		c.ScriptPrefix = *fc.ScriptPrefix
	}
	if fc.DownloadDir != nil {
		c.DownloadDir = *fc.DownloadDir
	}
	if fc.PollInterval != nil {
		c.PollInterval = fc.PollInterval.Duration
	}
	if fc.RefreshInterval != nil {
		c.RefreshInterval = fc.RefreshInterval.Duration
	}
	if fc.Concurrency != nil {
		c.Concurrency = *fc.Concurrency
	}
	if fc.MaxRunDuration != nil {
		c.MaxRunDuration = fc.MaxRunDuration.Duration
	}
	if fc.APIKey != nil {
		c.APIKey = *fc.APIKey
	}
	if fc.Development != nil {
		c.Development = *fc.Development
	}
	if len(fc.Workers) > 0 {
		c.Workers = fc.Workers
	}
	if fc.ToolUpdate != nil {
		if len(fc.ToolUpdate.Command) > 0 {
			c.UpdateCommand = fc.ToolUpdate.Command
		}
		if fc.ToolUpdate.Timeout.Duration > 0 {
			c.UpdateTimeout = fc.ToolUpdate.Timeout.Duration
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("FETCHD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Port = p
		}
	}
	if db := os.Getenv("FETCHD_DB"); db != "" {
		c.DBPath = db
	}
	if dir := os.Getenv("FETCHD_SCRIPTS_DIR"); dir != "" {
		c.ScriptsDir = dir
	}
	if dir := os.Getenv("FETCHD_DOWNLOAD_DIR"); dir != "" {
		c.DownloadDir = dir
	}
	if key := os.Getenv("FETCHD_API_KEY"); key != "" {
		c.APIKey = key
	}
}

// Validate enforces required values and reasonable limits.
func (c *Config) Validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("port must be > 0")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be > 0")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must be >= 0")
	}
	if c.ScriptPrefix == "" {
		return fmt.Errorf("script_prefix must not be empty")
	}
	return nil
}
