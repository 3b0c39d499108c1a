package config

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Helper function to reset pflag.CommandLine for testing
func resetFlags() {
	pflag.CommandLine = pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	viper.Reset()
}

// Helper function to clear environment variables
func clearEnvVars() {
	for _, key := range keys {
		os.Unsetenv(envName(key))
	}
}

// withArgs runs LoadFromFlags against args with clean flag, viper and
// environment state
func withArgs(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	originalArgs := os.Args
	t.Cleanup(func() {
		os.Args = originalArgs
		resetFlags()
		clearEnvVars()
	})

	os.Args = append([]string{"taxdoc-client"}, args...)
	resetFlags()
	return LoadFromFlags()
}

func TestLoadFromFlags_DefaultConfig(t *testing.T) {
	clearEnvVars()
	cfg, err := withArgs(t)
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}

	if cfg.Mode != ModeWeb {
		t.Errorf("LoadFromFlags() Mode = %v, want %v", cfg.Mode, ModeWeb)
	}
	if cfg.Address() != "127.0.0.1:8080" {
		t.Errorf("LoadFromFlags() Address = %v, want %v", cfg.Address(), "127.0.0.1:8080")
	}
	if cfg.APIBaseURL != DefaultAPIBaseURL {
		t.Errorf("LoadFromFlags() APIBaseURL = %v, want %v", cfg.APIBaseURL, DefaultAPIBaseURL)
	}
	if cfg.SessionTTL != DefaultSessionTTL {
		t.Errorf("LoadFromFlags() SessionTTL = %v, want %v", cfg.SessionTTL, DefaultSessionTTL)
	}
	if cfg.RequestTimeout != 0 {
		t.Errorf("LoadFromFlags() RequestTimeout = %v, want 0", cfg.RequestTimeout)
	}
}

func TestLoadFromFlags_ValidFlags(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "stdio mode with directory",
			args: []string{"--mode=stdio", "--dir=" + tempDir},
			check: func(t *testing.T, cfg *Config) {
				if !cfg.IsStdioMode() {
					t.Errorf("Mode = %v, want stdio", cfg.Mode)
				}
				if cfg.PDFDirectory != tempDir {
					t.Errorf("PDFDirectory = %v, want %v", cfg.PDFDirectory, tempDir)
				}
			},
		},
		{
			name: "web listener",
			args: []string{"--host=0.0.0.0", "--port=3000", "--secure-cookie", "--api-key=k"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Address() != "0.0.0.0:3000" {
					t.Errorf("Address() = %v", cfg.Address())
				}
				if !cfg.SecureCookie || cfg.APIKey != "k" {
					t.Errorf("SecureCookie = %v, APIKey = %q", cfg.SecureCookie, cfg.APIKey)
				}
			},
		},
		{
			name: "processing API",
			args: []string{"--api-url=https://tax-api.example.com", "--api-username=u", "--api-password=p", "--timeout=45s"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.APIBaseURL != "https://tax-api.example.com" {
					t.Errorf("APIBaseURL = %v", cfg.APIBaseURL)
				}
				if cfg.APIUsername != "u" || cfg.APIPassword != "p" {
					t.Errorf("credentials = %q/%q", cfg.APIUsername, cfg.APIPassword)
				}
				if cfg.RequestTimeout != 45*time.Second {
					t.Errorf("RequestTimeout = %v, want 45s", cfg.RequestTimeout)
				}
			},
		},
		{
			name: "sessions and limits",
			args: []string{"--session-ttl=5m", "--maxfilesize=1024", "--loglevel=debug"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.SessionTTL != 5*time.Minute {
					t.Errorf("SessionTTL = %v, want 5m", cfg.SessionTTL)
				}
				if cfg.MaxFileSize != 1024 {
					t.Errorf("MaxFileSize = %v, want 1024", cfg.MaxFileSize)
				}
				if !cfg.IsDebug() {
					t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()
			cfg, err := withArgs(t, tt.args...)
			if err != nil {
				t.Fatalf("LoadFromFlags() unexpected error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadFromFlags_EnvironmentVariables(t *testing.T) {
	clearEnvVars()
	t.Setenv("TAXDOC_PORT", "9000")
	t.Setenv("TAXDOC_API_URL", "https://env.example.com")
	t.Setenv("TAXDOC_SESSION_TTL", "90s")
	t.Setenv("TAXDOC_LOGLEVEL", "warn")

	cfg, err := withArgs(t)
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("Port = %v, want 9000", cfg.Port)
	}
	if cfg.APIBaseURL != "https://env.example.com" {
		t.Errorf("APIBaseURL = %v, want https://env.example.com", cfg.APIBaseURL)
	}
	if cfg.SessionTTL != 90*time.Second {
		t.Errorf("SessionTTL = %v, want 90s", cfg.SessionTTL)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %v, want warn", cfg.LogLevel)
	}
}

func TestLoadFromFlags_FlagOverridesEnvironment(t *testing.T) {
	clearEnvVars()
	t.Setenv("TAXDOC_PORT", "9000")

	cfg, err := withArgs(t, "--port=9100")
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("Port = %v, want 9100", cfg.Port)
	}
}

func TestLoadFromFlags_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"mode", []string{"--mode=server"}, "mode must be"},
		{"port", []string{"--port=70000"}, "port must be"},
		{"log level", []string{"--loglevel=verbose"}, "invalid log level"},
		{"api url", []string{"--api-url=localhost:5000"}, "invalid API base URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()
			_, err := withArgs(t, tt.args...)
			if err == nil {
				t.Fatal("LoadFromFlags() expected error")
			}
			if !strings.Contains(err.Error(), "invalid configuration") || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadFromFlags() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFlags_VersionFlag(t *testing.T) {
	for _, flag := range []string{"--version", "-version", "-v"} {
		t.Run(flag, func(t *testing.T) {
			_, err := withArgs(t, flag)
			if !errors.Is(err, ErrVersionRequested) {
				t.Errorf("LoadFromFlags() error = %v, want ErrVersionRequested", err)
			}
		})
	}
}
