// Package config loads runtime configuration from .env, an optional YAML file
// and environment variables, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nstogner/autoassist/pkg/models/gemini"
)

// Store drivers.
const (
	StoreJSONL  = "jsonl"
	StoreSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	StoreDriver string `yaml:"store"`
	DataDir     string `yaml:"data_dir"`
	// DBPath defaults to <DataDir>/autoassist.db.
	DBPath string `yaml:"db_path"`
	// ImageDir defaults to <DataDir>/images.
	ImageDir string `yaml:"image_dir"`
	// UploadDir defaults to <DataDir>/uploads. Attachments and knowledge
	// files are only read from here.
	UploadDir string `yaml:"upload_dir"`
	Addr      string `yaml:"addr"`
	// AllowedOrigins are browser origins, besides loopback ones, that may
	// call the HTTP API.
	AllowedOrigins []string `yaml:"allowed_origins"`
	LogLevel       string   `yaml:"log_level"`
	LogFile        string   `yaml:"log_file"`
	AgentMode      bool     `yaml:"agent_mode"`

	// Assistants are seeds imported by "autoassist assistants import".
	Assistants []AssistantSeed `yaml:"assistants"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Model:       gemini.DefaultModel,
		StoreDriver: StoreJSONL,
		DataDir:     "./data",
		Addr:        "localhost:8080",
		LogLevel:    "INFO",
		LogFile:     "autoassist.log",
	}
}

// Load reads .env (if present), then the YAML file at path (or
// $AUTOASSIST_CONFIG), then environment variables, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("AUTOASSIST_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.fillDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s not found", path)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.APIKey = getEnv("GEMINI_API_KEY", c.APIKey)
	c.Model = getEnv("AUTOASSIST_MODEL", c.Model)
	c.StoreDriver = getEnv("AUTOASSIST_STORE", c.StoreDriver)
	c.DataDir = getEnv("AUTOASSIST_DATA_DIR", c.DataDir)
	c.DBPath = getEnv("AUTOASSIST_DB_PATH", c.DBPath)
	c.ImageDir = getEnv("AUTOASSIST_IMAGE_DIR", c.ImageDir)
	c.UploadDir = getEnv("AUTOASSIST_UPLOAD_DIR", c.UploadDir)
	if v, ok := os.LookupEnv("AUTOASSIST_ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}
	c.Addr = getEnv("AUTOASSIST_ADDR", c.Addr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("AUTOASSIST_LOG_FILE", c.LogFile)
	c.AgentMode = getEnvBool("AUTOASSIST_AGENT_MODE", c.AgentMode)
}

func (c *Config) fillDerived() {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "autoassist.db")
	}
	if c.ImageDir == "" {
		c.ImageDir = filepath.Join(c.DataDir, "images")
	}
	if c.UploadDir == "" {
		c.UploadDir = filepath.Join(c.DataDir, "uploads")
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreJSONL, StoreSQLite:
	default:
		return fmt.Errorf("AUTOASSIST_STORE must be %q or %q, got %q", StoreJSONL, StoreSQLite, c.StoreDriver)
	}
	if c.DataDir == "" {
		return fmt.Errorf("AUTOASSIST_DATA_DIR cannot be empty")
	}
	if c.Model == "" {
		return fmt.Errorf("AUTOASSIST_MODEL cannot be empty")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	for i, a := range c.Assistants {
		if strings.TrimSpace(a.Title) == "" {
			return fmt.Errorf("assistant seed %d has no title", i)
		}
	}
	return nil
}

// RequireAPIKey reports an error when no Gemini API key is configured.
func (c *Config) RequireAPIKey() error {
	if c.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}
	return nil
}

// ParseLevel maps TRACE, DEBUG, INFO, WARN and ERROR to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return gemini.LevelTrace, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// SetupLogging installs a text handler writing to w as the default logger.
func (c *Config) SetupLogging(w io.Writer) {
	level, _ := ParseLevel(c.LogLevel)
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	slog.Info("Logging initialized", "level", level)
}

// OpenLogFile opens LogFile for appending.
func (c *Config) OpenLogFile() (*os.File, error) {
	return os.OpenFile(c.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
