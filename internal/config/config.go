// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	App       AppConfig
	Logger    LoggerConfig
	Data      DataConfig
	Rules     RulesConfig
	Directory DirectoryConfig
	Admin     AdminConfig
	Tracker   TrackerConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// DataConfig holds persistent state storage configuration.
type DataConfig struct {
	// BasePath is the directory holding the badger database with the
	// invite ledger and snapshot records.
	BasePath string
}

// RulesConfig holds reward rule configuration.
type RulesConfig struct {
	// Path to the JSON rules file.
	Path string
	// WatchFile enables hot reload of the rules file (default: true).
	WatchFile bool
}

// DirectoryConfig holds guild directory (Discord-compatible REST API) configuration.
type DirectoryConfig struct {
	BaseURL string
	Token   string
	// RequestsPerSecond limits outbound directory calls (default: 10).
	RequestsPerSecond float64
	// Timeout for individual directory requests (default: 10s).
	Timeout time.Duration
}

// AdminConfig holds the admin HTTP surface configuration.
type AdminConfig struct {
	Port         string        // Admin API port (default: 8710)
	ReadTimeout  time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout time.Duration // HTTP write timeout (default: 15s)
	IdleTimeout  time.Duration // HTTP idle timeout (default: 60s)
}

// TrackerConfig holds the event pipeline configuration.
type TrackerConfig struct {
	// PollInterval between invite snapshot refreshes (default: 60s).
	PollInterval time.Duration
	// GuildIDs lists the guilds to track (comma-separated in env).
	GuildIDs []string
	// RetroactiveOnStart runs a full reconciliation pass at startup (default: true).
	RetroactiveOnStart bool
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	// Define command-line flags.
	env := flag.String("env", "", "Environment (development, staging, production)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	dataPath := flag.String("data-path", "", "Base path for persistent state storage")
	rulesPath := flag.String("rules-path", "", "Path to the reward rules JSON file")
	rulesWatch := flag.String("rules-watch", "", "Hot reload the rules file (default: true)")

	directoryURL := flag.String("directory-url", "", "Base URL of the guild directory API")
	directoryToken := flag.String("directory-token", "", "Auth token for the guild directory API")
	directoryTimeout := flag.String("directory-timeout", "", "Directory request timeout (default: 10s)")

	adminPort := flag.String("admin-port", "", "Admin API port (default: 8710)")
	readTimeout := flag.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := flag.String("write-timeout", "", "HTTP write timeout (default: 15s)")
	idleTimeout := flag.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")

	pollInterval := flag.String("poll-interval", "", "Invite snapshot poll interval (default: 60s)")
	guildIDs := flag.String("guilds", "", "Comma-separated guild IDs to track")
	retroactive := flag.String("retroactive-on-start", "", "Run a retroactive pass at startup (default: true)")

	envFile := flag.String("env-file", ".env", "Path to .env file")

	// Parse flags but don't exit on error - we want to handle it gracefully.
	flag.Parse()

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	// Build config with proper precedence.
	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Data: DataConfig{
			BasePath: getConfigValue(*dataPath, "DATA_PATH", ""),
		},
		Rules: RulesConfig{
			Path:      getConfigValue(*rulesPath, "RULES_PATH", ""),
			WatchFile: getBoolConfigValue(*rulesWatch, "RULES_WATCH", true),
		},
		Directory: DirectoryConfig{
			BaseURL:           getConfigValue(*directoryURL, "DIRECTORY_URL", ""),
			Token:             getConfigValue(*directoryToken, "DIRECTORY_TOKEN", ""),
			RequestsPerSecond: getFloatConfigValue("", "DIRECTORY_RPS", 10),
		},
		Admin: AdminConfig{
			Port: getConfigValue(*adminPort, "ADMIN_PORT", "8710"),
		},
		Tracker: TrackerConfig{
			GuildIDs:           splitList(getConfigValue(*guildIDs, "GUILD_IDS", "")),
			RetroactiveOnStart: getBoolConfigValue(*retroactive, "RETROACTIVE_ON_START", true),
		},
	}

	// Parse durations.
	var err error
	cfg.Directory.Timeout, err = parseDurationValue(*directoryTimeout, "DIRECTORY_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	cfg.Admin.ReadTimeout, err = parseDurationValue(*readTimeout, "ADMIN_READ_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	cfg.Admin.WriteTimeout, err = parseDurationValue(*writeTimeout, "ADMIN_WRITE_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	cfg.Admin.IdleTimeout, err = parseDurationValue(*idleTimeout, "ADMIN_IDLE_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	cfg.Tracker.PollInterval, err = parseDurationValue(*pollInterval, "POLL_INTERVAL", "60s")
	if err != nil {
		return nil, err
	}

	// Expand and validate paths.
	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}
	if err := cfg.expandRulesPath(); err != nil {
		return nil, fmt.Errorf("invalid rules path: %w", err)
	}

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Data.BasePath == "" {
		return errors.New("data base path cannot be empty after expansion")
	}

	if c.Directory.RequestsPerSecond <= 0 {
		return fmt.Errorf("invalid directory rate limit: %v (must be positive)", c.Directory.RequestsPerSecond)
	}

	if c.Tracker.PollInterval < time.Second {
		return fmt.Errorf("poll interval %s too short (minimum 1s)", c.Tracker.PollInterval)
	}

	// DirectoryConfig.BaseURL/Token may be empty in development - the fake
	// directory is used in tests and the tracker refuses to start without them.

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	// Expand tilde.
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Make absolute if needed.
	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandDataPath expands ~ and makes the path absolute.
func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "InviteWarden", "data")

	expanded, err := expandPath(c.Data.BasePath, defaultPath)
	if err != nil {
		return err
	}
	c.Data.BasePath = expanded
	return nil
}

// expandRulesPath expands ~ and makes the path absolute.
// Defaults to {data}/rules.json if not specified.
func (c *Config) expandRulesPath() error {
	defaultPath := filepath.Join(c.Data.BasePath, "rules.json")

	expanded, err := expandPath(c.Rules.Path, defaultPath)
	if err != nil {
		return err
	}
	c.Rules.Path = expanded
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getFloatConfigValue returns a float from flag, env var, or default.
func getFloatConfigValue(flagValue, envKey string, defaultValue float64) float64 {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result float64
	if _, err := fmt.Sscanf(strValue, "%g", &result); err != nil {
		return defaultValue
	}
	return result
}

// parseDurationValue resolves a duration setting with flag/env/default precedence.
func parseDurationValue(flagValue, envKey, defaultValue string) (time.Duration, error) {
	strValue := getConfigValue(flagValue, envKey, defaultValue)
	d, err := time.ParseDuration(strValue)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", strings.ToLower(strings.ReplaceAll(envKey, "_", " ")), strValue, err)
	}
	return d, nil
}

// splitList splits a comma-separated value into trimmed, non-empty elements.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=value.
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present.
		value = strings.Trim(value, `"'`)

		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
