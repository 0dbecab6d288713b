package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "ORDER_INDEX"

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Log format constants
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// StoreSettings configures the SQLite primary store, which also holds the
// reconciliation ledger.
type StoreSettings struct {
	Path string `mapstructure:"path"`
}

// IndexSettings configures the search index.
type IndexSettings struct {
	Path     string        `mapstructure:"path"`
	Name     string        `mapstructure:"name"`
	Timeout  time.Duration `mapstructure:"timeout"`
	InMemory bool          `mapstructure:"in_memory"`
}

// ReconcileSettings configures the periodic reconciliation sweeper.
type ReconcileSettings struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	LockPath string        `mapstructure:"lock_path"`
}

// DispatchSettings configures the event dispatcher.
type DispatchSettings struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// LogSettings configures the process logger.
type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Settings application settings
type Settings struct {
	Transport string            `mapstructure:"transport"`
	Host      string            `mapstructure:"host"`
	Port      int               `mapstructure:"port"`
	Auth      AuthSettings      `mapstructure:"auth"`
	DataDir   string            `mapstructure:"data_dir"`
	Store     StoreSettings     `mapstructure:"store"`
	Index     IndexSettings     `mapstructure:"index"`
	Reconcile ReconcileSettings `mapstructure:"reconcile"`
	Dispatch  DispatchSettings  `mapstructure:"dispatch"`
	Log       LogSettings       `mapstructure:"log"`
}

// flagBindings maps settings keys to CLI flag names.
var flagBindings = map[string]string{
	"transport":            "transport",
	"host":                 "host",
	"port":                 "port",
	"auth.type":            "auth-type",
	"auth.basic.username":  "auth-basic-username",
	"auth.basic.password":  "auth-basic-password",
	"auth.api_keys":        "auth-api-keys",
	"data_dir":             "data-dir",
	"store.path":           "store-path",
	"index.path":           "index-path",
	"index.name":           "index-name",
	"index.timeout":        "index-timeout",
	"index.in_memory":      "index-in-memory",
	"reconcile.enabled":    "reconcile-enabled",
	"reconcile.interval":   "reconcile-interval",
	"reconcile.lock_path":  "reconcile-lock-path",
	"dispatch.buffer_size": "dispatch-buffer-size",
	"log.level":            "log-level",
	"log.format":           "log-format",
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("transport", "stdio")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("auth.type", AuthTypeNone)
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("store.path", "")
	v.SetDefault("index.path", "")
	v.SetDefault("index.name", "orders")
	v.SetDefault("index.timeout", 5*time.Second)
	v.SetDefault("index.in_memory", false)
	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.interval", time.Minute)
	v.SetDefault("reconcile.lock_path", "")
	v.SetDefault("dispatch.buffer_size", 64)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", LogFormatText)

	// Environment variables
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific env vars for nested config
	for key := range flagBindings {
		_ = v.BindEnv(key, envName(key))
	}

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	// Handle explicit parsing of API keys if provided via env var as comma-separated string
	apiKeysEnv := os.Getenv(envName("auth.api_keys"))
	if apiKeysEnv != "" {
		if len(settings.Auth.APIKeys) == 0 || (len(settings.Auth.APIKeys) == 1 && strings.Contains(settings.Auth.APIKeys[0], ",")) {
			settings.Auth.APIKeys = strings.Split(apiKeysEnv, ",")
		}
	}

	// Trim spaces from API keys
	for i := range settings.Auth.APIKeys {
		settings.Auth.APIKeys[i] = strings.TrimSpace(settings.Auth.APIKeys[i])
	}
	settings.Auth.APIKeys = filterEmptyStrings(settings.Auth.APIKeys)

	settings.resolvePaths()
	settings.Log.Level = strings.ToLower(strings.TrimSpace(settings.Log.Level))
	settings.Log.Format = strings.ToLower(strings.TrimSpace(settings.Log.Format))

	return &settings, nil
}

// resolvePaths expands ~ and derives unset file locations from the data dir.
func (s *Settings) resolvePaths() {
	s.DataDir = expandHomeDir(s.DataDir)
	s.Store.Path = expandHomeDir(s.Store.Path)
	s.Index.Path = expandHomeDir(s.Index.Path)
	s.Reconcile.LockPath = expandHomeDir(s.Reconcile.LockPath)

	if s.DataDir == "" {
		return
	}
	if s.Store.Path == "" {
		s.Store.Path = filepath.Join(s.DataDir, "orders.db")
	}
	if s.Index.Path == "" {
		s.Index.Path = filepath.Join(s.DataDir, "indexes")
	}
	if s.Reconcile.LockPath == "" {
		s.Reconcile.LockPath = filepath.Join(s.DataDir, "reconcile.lock")
	}
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// defaultDataDir returns the default base directory for persisted state
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".order-index"
	}
	return filepath.Join(home, ".order-index")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// filterEmptyStrings removes empty strings from a slice
func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete auth config.
func ValidateSettings(s *Settings) error {
	// Validate transport type
	switch s.Transport {
	case "stdio", "sse":
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	hasBasicCreds := s.Auth.Basic.Username != "" || s.Auth.Basic.Password != ""
	hasAPIKeys := len(s.Auth.APIKeys) > 0

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if s.Auth.Basic.Username == "" || s.Auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}

	if s.Store.Path == "" {
		return errors.New("store-path cannot be empty")
	}

	if err := validateIndexSettings(&s.Index); err != nil {
		return err
	}

	if err := validateReconcileSettings(&s.Reconcile); err != nil {
		return err
	}

	if s.Dispatch.BufferSize <= 0 {
		return errors.New("dispatch-buffer-size must be positive")
	}

	return validateLogSettings(&s.Log)
}

func validateIndexSettings(i *IndexSettings) error {
	if i.Name == "" {
		return errors.New("index-name cannot be empty")
	}
	if strings.ContainsAny(i.Name, `/\`) {
		return errors.New("index-name cannot contain path separators")
	}
	if i.Timeout <= 0 {
		return errors.New("index-timeout must be positive")
	}
	if !i.InMemory && i.Path == "" {
		return errors.New("index-path cannot be empty unless index-in-memory is set")
	}
	return nil
}

func validateReconcileSettings(r *ReconcileSettings) error {
	if !r.Enabled {
		return nil // No validation needed when disabled
	}
	if r.Interval <= 0 {
		return errors.New("reconcile-interval must be positive")
	}
	if r.LockPath == "" {
		return errors.New("reconcile-lock-path cannot be empty")
	}
	return nil
}

func validateLogSettings(l *LogSettings) error {
	if _, err := ParseLevel(l.Level); err != nil {
		return err
	}
	switch l.Format {
	case LogFormatText, LogFormatJSON, "":
		return nil
	default:
		return fmt.Errorf("log-format must be '%s' or '%s', got: %s", LogFormatText, LogFormatJSON, l.Format)
	}
}
