package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Mode constants
	ModeWeb   = "web"
	ModeStdio = "stdio"

	// Default values
	DefaultPort           = 8080
	DefaultHost           = "127.0.0.1"
	DefaultAPIBaseURL     = "http://127.0.0.1:5000"
	DefaultLogLevel       = "info"
	DefaultMaxFileSize    = 50 * 1024 * 1024 // 50MB
	DefaultSessionTTL     = 30 * time.Minute
	DefaultRequestTimeout = 0 // no client-side timeout

	// Directory permissions
	DefaultDirPerm = 0o750

	// EnvPrefix prefixes every environment variable
	EnvPrefix = "TAXDOC"
)

// ErrVersionRequested is returned by LoadFromFlags when --version is given
var ErrVersionRequested = errors.New("version requested")

// Config holds all configuration for the tax document client
type Config struct {
	// Front end configuration
	Mode string // "web" or "stdio"
	Host string
	Port int
	// APIKey, when set, is required in the x-api-key header of web requests
	APIKey       string
	SecureCookie bool
	SessionTTL   time.Duration

	// Processing API configuration
	APIBaseURL     string
	APIUsername    string
	APIPassword    string
	RequestTimeout time.Duration

	// PDF configuration
	PDFDirectory string
	MaxFileSize  int64 // Maximum PDF file size in bytes

	// Application configuration
	Version    string
	ServerName string
	LogLevel   string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		currentDir = "."
	}

	return &Config{
		Mode:           ModeWeb,
		Host:           DefaultHost,
		Port:           DefaultPort,
		SessionTTL:     DefaultSessionTTL,
		APIBaseURL:     DefaultAPIBaseURL,
		RequestTimeout: DefaultRequestTimeout,
		PDFDirectory:   currentDir,
		MaxFileSize:    DefaultMaxFileSize,
		Version:        "1.0.0",
		ServerName:     "taxdoc-client",
		LogLevel:       DefaultLogLevel,
	}
}

// LoadFromFlags parses command line flags and returns a configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	populateConfigFromViper(cfg)

	if cfg.PDFDirectory != "" {
		if expandedPath, err := filepath.Abs(cfg.PDFDirectory); err == nil {
			cfg.PDFDirectory = expandedPath
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// envKeyReplacer maps flag keys onto environment names, api-url becoming
// TAXDOC_API_URL
var envKeyReplacer = strings.NewReplacer("-", "_")

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(envKeyReplacer.Replace(key))
}

var keys = []string{
	"mode", "host", "port", "api-key", "secure-cookie", "session-ttl",
	"api-url", "api-username", "api-password", "timeout",
	"dir", "maxfilesize", "loglevel",
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("api-key", cfg.APIKey)
	viper.SetDefault("secure-cookie", cfg.SecureCookie)
	viper.SetDefault("session-ttl", cfg.SessionTTL)
	viper.SetDefault("api-url", cfg.APIBaseURL)
	viper.SetDefault("api-username", cfg.APIUsername)
	viper.SetDefault("api-password", cfg.APIPassword)
	viper.SetDefault("timeout", cfg.RequestTimeout)
	viper.SetDefault("dir", cfg.PDFDirectory)
	viper.SetDefault("maxfilesize", cfg.MaxFileSize)
	viper.SetDefault("loglevel", cfg.LogLevel)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("mode", cfg.Mode, "Front end: 'web' for the browser UI, 'stdio' for MCP standard I/O")
	pflag.String("host", cfg.Host, "Listen host address (web mode only)")
	pflag.Int("port", cfg.Port, "Listen port (web mode only)")
	pflag.String("api-key", cfg.APIKey, "Require this x-api-key header on web requests")
	pflag.Bool("secure-cookie", cfg.SecureCookie, "Mark the session cookie Secure (serve over HTTPS)")
	pflag.Duration("session-ttl", cfg.SessionTTL, "Evict browser sessions idle for longer than this (0 keeps them)")
	pflag.String("api-url", cfg.APIBaseURL, "Base URL of the tax document processing API")
	pflag.String("api-username", cfg.APIUsername, "Basic auth user for the processing API")
	pflag.String("api-password", cfg.APIPassword, "Basic auth password for the processing API")
	pflag.Duration("timeout", cfg.RequestTimeout, "Per-request timeout for processing API calls (0 disables)")
	pflag.String("dir", cfg.PDFDirectory, "Directory holding PDFs in stdio mode")
	pflag.Int64("maxfilesize", cfg.MaxFileSize, "Maximum PDF file size in bytes")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, key := range keys {
		_ = viper.BindPFlag(key, pflag.Lookup(key))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nTax document client - upload tax PDFs, review extractions, download the filled Form 1040\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --api-url=https://tax-api.example.com         # browser UI on 127.0.0.1:8080\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --host=0.0.0.0 --port=3000 --secure-cookie   # browser UI behind TLS proxy\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=stdio --dir=/path/to/pdfs              # MCP tools over stdio\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		for _, key := range keys {
			fmt.Fprintf(os.Stderr, "  %s\n", envName(key))
		}
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return ErrVersionRequested
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.APIKey = viper.GetString("api-key")
	cfg.SecureCookie = viper.GetBool("secure-cookie")
	cfg.SessionTTL = viper.GetDuration("session-ttl")
	cfg.APIBaseURL = viper.GetString("api-url")
	cfg.APIUsername = viper.GetString("api-username")
	cfg.APIPassword = viper.GetString("api-password")
	cfg.RequestTimeout = viper.GetDuration("timeout")
	cfg.PDFDirectory = viper.GetString("dir")
	cfg.MaxFileSize = viper.GetInt64("maxfilesize")
	cfg.LogLevel = viper.GetString("loglevel")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Mode != ModeWeb && c.Mode != ModeStdio {
		return errors.New("mode must be either 'web' or 'stdio'")
	}

	if c.Mode == ModeWeb && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	if c.APIBaseURL == "" {
		return errors.New("API base URL cannot be empty")
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid API base URL: %s", c.APIBaseURL)
	}
	if c.APIPassword != "" && c.APIUsername == "" {
		return errors.New("API password given without a username")
	}

	if c.RequestTimeout < 0 {
		return errors.New("request timeout cannot be negative")
	}
	if c.SessionTTL < 0 {
		return errors.New("session TTL cannot be negative")
	}

	if c.Mode == ModeStdio {
		if c.PDFDirectory == "" {
			return errors.New("PDF directory cannot be empty")
		}
		if _, err := os.Stat(c.PDFDirectory); os.IsNotExist(err) {
			if err := os.MkdirAll(c.PDFDirectory, DefaultDirPerm); err != nil {
				return fmt.Errorf("cannot create PDF directory %s: %w", c.PDFDirectory, err)
			}
		} else if err != nil {
			return fmt.Errorf("cannot access PDF directory %s: %w", c.PDFDirectory, err)
		}
	}

	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// Address returns the listen address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration. Secrets
// are masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, APIBaseURL: %s, APIUsername: %s, APIPassword: %s, "+
		"APIKey: %s, RequestTimeout: %s, SessionTTL: %s, PDFDirectory: %s, LogLevel: %s, MaxFileSize: %d}",
		c.Mode, c.Host, c.Port, c.APIBaseURL, c.APIUsername, mask(c.APIPassword),
		mask(c.APIKey), c.RequestTimeout, c.SessionTTL, c.PDFDirectory, c.LogLevel, c.MaxFileSize)
}

// IsWebMode returns true if the browser front end is selected
func (c *Config) IsWebMode() bool {
	return c.Mode == ModeWeb
}

// IsStdioMode returns true if the MCP front end is selected
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}
