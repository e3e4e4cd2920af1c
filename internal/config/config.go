package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port      int
	BindAddr  string
	Env       string
	Version   string
	LogLevel  string
	LogFormat string

	// CORS
	CORSAllowedOrigins []string

	// Bridge
	BridgeToken     string
	BridgeRateLimit float64 // requests per second on /v1, 0 disables
	BridgeBurst     int

	// SSH client
	SSHDialTimeout      time.Duration
	SSHHandshakeTimeout time.Duration
	SSHRetryAttempts    int
	SSHKnownHosts       string
	SSHRequireHostKey   bool

	// Sandbox SFTP server
	SandboxAddr     string
	SandboxRoot     string
	SandboxUser     string
	SandboxPassword string
	SandboxDataDir  string
}

func Load() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnvAsInt("PORT", 8765),
		BindAddr:            getEnv("BIND_ADDR", "127.0.0.1"),
		Env:                 getEnv("ENV", "development"),
		Version:             getEnv("VERSION", "0.1.0"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
		CORSAllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "tauri://localhost"}),
		BridgeToken:         getEnv("BRIDGE_TOKEN", ""),
		BridgeRateLimit:     getEnvAsFloat("BRIDGE_RATE_LIMIT", 20),
		BridgeBurst:         getEnvAsInt("BRIDGE_BURST", 40),
		SSHDialTimeout:      getEnvAsDuration("SSH_DIAL_TIMEOUT", 10*time.Second),
		SSHHandshakeTimeout: getEnvAsDuration("SSH_HANDSHAKE_TIMEOUT", 30*time.Second),
		SSHRetryAttempts:    getEnvAsInt("SSH_RETRY_ATTEMPTS", 1),
		SSHKnownHosts:       getEnv("SSH_KNOWN_HOSTS", ""),
		SSHRequireHostKey:   getEnvAsBool("SSH_REQUIRE_HOST_KEY", false),
		SandboxAddr:         getEnv("SANDBOX_ADDR", "127.0.0.1:2022"),
		SandboxRoot:         getEnv("SANDBOX_ROOT", ""),
		SandboxUser:         getEnv("SANDBOX_USER", "sandbox"),
		SandboxPassword:     getEnv("SANDBOX_PASSWORD", ""),
		SandboxDataDir:      getEnv("SANDBOX_DATA_DIR", ""),
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT out of range: %d", cfg.Port)
	}
	if cfg.BridgeBurst < 1 {
		cfg.BridgeBurst = 1
	}

	return cfg, nil
}

// Addr is the listen address of the bridge server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddr, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("15s") or plain seconds ("15").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var result []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
