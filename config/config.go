package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Host modes
const (
	HostModeDesktop = "desktop"
	HostModeBrowser = "browser"
)

// Injection strategies
const (
	InjectionDevTools  = "devtools"
	InjectionClipboard = "clipboard"
)

// DefaultPort is the well-known local control port
const DefaultPort = 3210

// GenerateAPIKey generates a secure random API key
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Config holds all configuration for the agent
type Config struct {
	// Server settings
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Authentication
	APIKey    string
	JWTSecret string

	// Security
	AllowedOrigins []string
	RateLimitRPS   int

	// Logging
	LogLevel string

	// Host integration
	HostMode           string
	InjectionStrategy  string
	DevToolsPort       int
	TargetProcess      string
	WindowPollAttempts int
	WindowPollDelay    time.Duration
	GameExecutables    []string
	KeyCommands        map[string]KeyCommand
	KeyCommandsFile    string

	// Monitoring
	PollInterval       time.Duration
	RecalibrationSlack int
	ResponseTimeout    time.Duration

	// Ground truth
	QuestSourceURL   string
	QuestSourceToken string
	QuestSourceFile  string
	QuestStaleAfter  time.Duration

	// State and scheduling
	StateDir    string
	AutoRunCron string

	// Channel client
	ChannelURL            string
	ChannelMaxReconnects  int
	ChannelBaseDelay      time.Duration
	ChannelConnectTimeout time.Duration

	// Setup mode
	SetupMode bool
	EnvFile   string
}

// KeyCommand is a pre-defined key combination delivered to the host window
type KeyCommand struct {
	Name        string `yaml:"-"`
	Command     string `yaml:"command"`
	Description string `yaml:"description"`
}

// DefaultKeyCommands returns the xdotool combos used by clipboard delivery
func DefaultKeyCommands(target string) map[string]KeyCommand {
	return map[string]KeyCommand{
		"focus": {
			Name:        "focus",
			Command:     fmt.Sprintf("xdotool search --onlyvisible --name %q windowactivate --sync", target),
			Description: "Bring the host window to the foreground",
		},
		"console": {
			Name:        "console",
			Command:     "xdotool key --clearmodifiers ctrl+shift+i",
			Description: "Open the host developer console",
		},
		"paste": {
			Name:        "paste",
			Command:     "xdotool key --clearmodifiers ctrl+v",
			Description: "Paste the clipboard into the focused input",
		},
		"submit": {
			Name:        "submit",
			Command:     "xdotool key --clearmodifiers Return",
			Description: "Submit the focused input",
		},
	}
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	envFile := getEnvFile()

	_ = godotenv.Load(envFile)

	target := getEnv("TARGET_PROCESS", "Discord")
	port := getEnvInt("PORT", DefaultPort)

	cfg := &Config{
		Port:                  port,
		Host:                  getEnv("HOST", "127.0.0.1"),
		ReadTimeout:           time.Duration(getEnvInt("READ_TIMEOUT_SECONDS", 30)) * time.Second,
		WriteTimeout:          time.Duration(getEnvInt("WRITE_TIMEOUT_SECONDS", 300)) * time.Second,
		APIKey:                getEnv("API_KEY", ""),
		JWTSecret:             getEnv("JWT_SECRET", ""),
		AllowedOrigins:        getEnvSlice("ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPS:          getEnvInt("RATE_LIMIT_RPS", 100),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		HostMode:              strings.ToLower(getEnv("HOST_MODE", HostModeDesktop)),
		InjectionStrategy:     strings.ToLower(getEnv("INJECTION_STRATEGY", InjectionDevTools)),
		DevToolsPort:          getEnvInt("DEVTOOLS_PORT", 9222),
		TargetProcess:         target,
		WindowPollAttempts:    getEnvInt("WINDOW_POLL_ATTEMPTS", 5),
		WindowPollDelay:       time.Duration(getEnvInt("WINDOW_POLL_DELAY_MS", 500)) * time.Millisecond,
		GameExecutables:       getEnvSlice("GAME_EXECUTABLES", nil),
		KeyCommands:           DefaultKeyCommands(target),
		KeyCommandsFile:       getEnv("KEY_COMMANDS_FILE", ""),
		PollInterval:          time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 3)) * time.Second,
		RecalibrationSlack:    getEnvInt("RECALIBRATION_SLACK_SECONDS", 5),
		ResponseTimeout:       time.Duration(getEnvInt("RESPONSE_TIMEOUT_SECONDS", 30)) * time.Second,
		QuestSourceURL:        getEnv("QUEST_SOURCE_URL", ""),
		QuestSourceToken:      getEnv("QUEST_SOURCE_TOKEN", ""),
		QuestSourceFile:       getEnv("QUEST_SOURCE_FILE", ""),
		QuestStaleAfter:       time.Duration(getEnvInt("QUEST_STALE_SECONDS", 120)) * time.Second,
		StateDir:              getEnv("STATE_DIR", defaultStateDir()),
		AutoRunCron:           getEnv("AUTO_RUN_CRON", ""),
		ChannelURL:            getEnv("CHANNEL_URL", fmt.Sprintf("ws://127.0.0.1:%d/ws", port)),
		ChannelMaxReconnects:  getEnvInt("CHANNEL_MAX_RECONNECTS", 5),
		ChannelBaseDelay:      time.Duration(getEnvInt("CHANNEL_BASE_DELAY_MS", 1000)) * time.Millisecond,
		ChannelConnectTimeout: time.Duration(getEnvInt("CHANNEL_CONNECT_TIMEOUT_SECONDS", 5)) * time.Second,
		SetupMode:             false,
		EnvFile:               envFile,
	}

	if cfg.KeyCommandsFile != "" {
		overrides, err := LoadKeyCommands(cfg.KeyCommandsFile)
		if err != nil {
			return nil, err
		}
		for name, cmd := range overrides {
			cfg.KeyCommands[name] = cmd
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Without an API key only the setup endpoints are served
	if cfg.APIKey == "" {
		cfg.SetupMode = true
		return cfg, nil
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = cfg.APIKey
	}

	return cfg, nil
}

// Validate checks enumerated and numeric settings
func (c *Config) Validate() error {
	switch c.HostMode {
	case HostModeDesktop, HostModeBrowser:
	default:
		return fmt.Errorf("HOST_MODE must be %q or %q, got %q", HostModeDesktop, HostModeBrowser, c.HostMode)
	}

	switch c.InjectionStrategy {
	case InjectionDevTools, InjectionClipboard:
	default:
		return fmt.Errorf("INJECTION_STRATEGY must be %q or %q, got %q", InjectionDevTools, InjectionClipboard, c.InjectionStrategy)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
	}
	if c.RecalibrationSlack <= 0 {
		return fmt.Errorf("RECALIBRATION_SLACK_SECONDS must be positive")
	}
	if c.ChannelMaxReconnects < 0 {
		return fmt.Errorf("CHANNEL_MAX_RECONNECTS must not be negative")
	}
	return nil
}

// getEnvFile returns the path to the .env file
func getEnvFile() string {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		return envFile
	}

	if _, err := os.Stat(".env"); err == nil {
		return ".env"
	}

	exe, err := os.Executable()
	if err == nil {
		envPath := filepath.Join(filepath.Dir(exe), ".env")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	return ".env"
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "questdeck")
	}
	return ".questdeck"
}

// SaveAPIKey saves the API key to the .env file
func (c *Config) SaveAPIKey(apiKey string) error {
	updates := map[string]string{"API_KEY": apiKey}
	if err := UpdateEnvFile(c.EnvFile, updates); err != nil {
		return err
	}

	c.APIKey = apiKey
	c.JWTSecret = apiKey
	c.SetupMode = false

	return nil
}

// UpdateEnvFile updates or adds environment variables in a .env file
func UpdateEnvFile(envFile string, updates map[string]string) error {
	existingContent := ""
	if data, err := os.ReadFile(envFile); err == nil {
		existingContent = string(data)
	}

	lines := strings.Split(existingContent, "\n")
	found := make(map[string]bool)

	for i, line := range lines {
		for key, value := range updates {
			if strings.HasPrefix(line, key+"=") {
				lines[i] = key + "=" + value
				found[key] = true
				break
			}
		}
	}

	// New keys go first so they are easy to spot
	var newLines []string
	for key, value := range updates {
		if !found[key] {
			newLines = append(newLines, key+"="+value)
		}
	}
	if len(newLines) > 0 {
		lines = append(newLines, lines...)
	}

	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}

	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(envFile, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write .env file: %w", err)
	}

	return nil
}

// LoadWithDefaults loads config with defaults for testing
func LoadWithDefaults() *Config {
	return &Config{
		Port:                  DefaultPort,
		Host:                  "127.0.0.1",
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          300 * time.Second,
		APIKey:                "test-api-key",
		JWTSecret:             "test-jwt-secret",
		AllowedOrigins:        []string{"*"},
		RateLimitRPS:          100,
		LogLevel:              "info",
		HostMode:              HostModeDesktop,
		InjectionStrategy:     InjectionDevTools,
		DevToolsPort:          9222,
		TargetProcess:         "Discord",
		WindowPollAttempts:    3,
		WindowPollDelay:       10 * time.Millisecond,
		KeyCommands:           DefaultKeyCommands("Discord"),
		PollInterval:          3 * time.Second,
		RecalibrationSlack:    5,
		ResponseTimeout:       30 * time.Second,
		QuestStaleAfter:       2 * time.Minute,
		StateDir:              os.TempDir(),
		ChannelURL:            fmt.Sprintf("ws://127.0.0.1:%d/ws", DefaultPort),
		ChannelMaxReconnects:  5,
		ChannelBaseDelay:      time.Second,
		ChannelConnectTimeout: 5 * time.Second,
	}
}

// Addr returns the server address string
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SpoofingSupported reports whether the host is a native app whose activity can be overridden
func (c *Config) SpoofingSupported() bool {
	return c.HostMode == HostModeDesktop
}

// GetKeyCommand returns a key command by name if it exists
func (c *Config) GetKeyCommand(name string) (KeyCommand, bool) {
	cmd, ok := c.KeyCommands[name]
	return cmd, ok
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
