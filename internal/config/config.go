// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/moodlens/internal/history"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Camera   CameraConfig   `mapstructure:"camera" yaml:"camera"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// LLMProvider defines the supported vision model providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
)

// LLMConfig configures the external vision service.
type LLMConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
}

// PipelineConfig configures the capture-analyze-history pipeline.
type PipelineConfig struct {
	HistorySize int `mapstructure:"history_size" yaml:"history_size"`
	// ContinuousInterval is the period of the auto-capture loop while continuous mode is on.
	ContinuousInterval time.Duration `mapstructure:"continuous_interval" yaml:"continuous_interval"`
	// AnalysisTimeout bounds one analysis attempt end to end.
	AnalysisTimeout time.Duration `mapstructure:"analysis_timeout" yaml:"analysis_timeout"`
	MIMEType        string        `mapstructure:"mime_type" yaml:"mime_type"`
}

// CameraSource selects the FrameSource implementation.
type CameraSource string

const (
	CameraSourceNone     CameraSource = "none"
	CameraSourceFile     CameraSource = "file"
	CameraSourceSnapshot CameraSource = "snapshot"
	CameraSourceBrowser  CameraSource = "browser"
)

// CameraConfig configures the server-side frame source.
type CameraConfig struct {
	Source      CameraSource  `mapstructure:"source" yaml:"source"`
	Path        string        `mapstructure:"path" yaml:"path"`
	URL         string        `mapstructure:"url" yaml:"url"`
	JPEGQuality float64       `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
	Width       int           `mapstructure:"width" yaml:"width"`
	Height      int           `mapstructure:"height" yaml:"height"`
	Headless    bool          `mapstructure:"headless" yaml:"headless"`
	FakeDevice  bool          `mapstructure:"fake_device" yaml:"fake_device"`
	ChromeArgs  []string      `mapstructure:"chrome_args" yaml:"chrome_args"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// LockFile guards the device against a second moodlens process.
	LockFile string `mapstructure:"lock_file" yaml:"lock_file"`
}

// ServerConfig configures the HTTP/WebSocket presentation boundary.
type ServerConfig struct {
	ListenAddr           string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	CaptureRatePerMinute int           `mapstructure:"capture_rate_per_minute" yaml:"capture_rate_per_minute"`
	MaxFrameBytes        int64         `mapstructure:"max_frame_bytes" yaml:"max_frame_bytes"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseDriver selects the ResultStore backend.
type DatabaseDriver string

const (
	DriverNone     DatabaseDriver = "none"
	DriverPostgres DatabaseDriver = "postgres"
	DriverSQLite   DatabaseDriver = "sqlite"
)

// DatabaseConfig holds the persistence settings.
type DatabaseConfig struct {
	Driver     DatabaseDriver `mapstructure:"driver" yaml:"driver"`
	URL        string         `mapstructure:"url" yaml:"-"`
	SQLitePath string         `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "moodlens")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderGemini))
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "30s")
	v.SetDefault("llm.temperature", 0.4)

	// -- Pipeline --
	v.SetDefault("pipeline.history_size", 50)
	v.SetDefault("pipeline.continuous_interval", "5s")
	v.SetDefault("pipeline.analysis_timeout", "30s")
	v.SetDefault("pipeline.mime_type", "image/jpeg")

	// -- Camera --
	v.SetDefault("camera.source", string(CameraSourceNone))
	v.SetDefault("camera.jpeg_quality", 0.8)
	v.SetDefault("camera.width", 1280)
	v.SetDefault("camera.height", 720)
	v.SetDefault("camera.headless", true)
	v.SetDefault("camera.fake_device", false)
	v.SetDefault("camera.timeout", "15s")
	v.SetDefault("camera.lock_file", "moodlens-camera.lock")

	// -- Server --
	v.SetDefault("server.listen_addr", "127.0.0.1:8080")
	v.SetDefault("server.capture_rate_per_minute", 20)
	v.SetDefault("server.max_frame_bytes", 10<<20)
	v.SetDefault("server.shutdown_timeout", "10s")

	// -- Database --
	v.SetDefault("database.driver", string(DriverNone))
	v.SetDefault("database.sqlite_path", "moodlens.db")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("llm.api_key", "MOODLENS_LLM_API_KEY", "MOODLENS_GEMINI_API_KEY", "MOODLENS_OPENAI_API_KEY")
	_ = v.BindEnv("database.url", "MOODLENS_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Fall back to the provider's conventional variable when nothing else set the key.
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = providerKeyFromEnv(cfg.LLM.Provider)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func providerKeyFromEnv(p LLMProvider) string {
	switch p {
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	default:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
}

// Validate checks the configuration for required fields and sane values.
// The API key is checked when the client is built, so offline commands such as
// `history` and `config` work without one.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline configuration invalid: %w", err)
	}
	if err := c.Camera.Validate(); err != nil {
		return fmt.Errorf("camera configuration invalid: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration invalid: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the LLM configuration.
func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unsupported provider '%s'. Supported: [%s, %s]", l.Provider, ProviderGemini, ProviderOpenAI)
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	if l.APITimeout <= 0 {
		return fmt.Errorf("llm.api_timeout must be a positive duration")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0.0 and 2.0")
	}
	return nil
}

// Validate checks the pipeline configuration.
func (p *PipelineConfig) Validate() error {
	if p.HistorySize <= 0 || p.HistorySize > history.DefaultCapacity {
		return fmt.Errorf("pipeline.history_size must be between 1 and %d", history.DefaultCapacity)
	}
	if p.ContinuousInterval <= 0 {
		return fmt.Errorf("pipeline.continuous_interval must be a positive duration")
	}
	if p.AnalysisTimeout <= 0 {
		return fmt.Errorf("pipeline.analysis_timeout must be a positive duration")
	}
	if !strings.HasPrefix(p.MIMEType, "image/") {
		return fmt.Errorf("pipeline.mime_type must be an image MIME type")
	}
	return nil
}

// Validate checks the camera configuration for the selected source.
func (c *CameraConfig) Validate() error {
	switch c.Source {
	case CameraSourceNone, "":
	case CameraSourceFile:
		if c.Path == "" {
			return fmt.Errorf("camera.path is required for the file source")
		}
	case CameraSourceSnapshot:
		if c.URL == "" {
			return fmt.Errorf("camera.url is required for the snapshot source")
		}
	case CameraSourceBrowser:
		if c.Width <= 0 || c.Height <= 0 {
			return fmt.Errorf("camera.width and camera.height must be positive")
		}
	default:
		return fmt.Errorf("unsupported camera source '%s'", c.Source)
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 1 {
		return fmt.Errorf("camera.jpeg_quality must be in (0,1]")
	}
	return nil
}

// Validate checks the server configuration.
func (s *ServerConfig) Validate() error {
	if s.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if s.CaptureRatePerMinute <= 0 {
		return fmt.Errorf("server.capture_rate_per_minute must be a positive integer")
	}
	if s.MaxFrameBytes <= 0 {
		return fmt.Errorf("server.max_frame_bytes must be a positive integer")
	}
	return nil
}

// Validate checks the database configuration.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case DriverNone, "":
	case DriverPostgres:
		if d.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver. Ensure MOODLENS_DATABASE_URL is set")
		}
	case DriverSQLite:
		if d.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported database driver '%s'", d.Driver)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.LLM.APIKey != "" {
		c.LLM.APIKey = "********"
	}
	if c.Database.URL != "" {
		c.Database.URL = "********"
	}
	return c
}
