// Package config loads platform configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"datalens/pkg/utils"
)

// Config holds all platform configuration
type Config struct {
	// Server configuration
	ServerAddress string `validate:"required"`
	Environment   string `validate:"required,oneof=development staging production"`

	// Embedded repository (SQLite catalog, graph cache, conversations)
	DBPath string `validate:"required"`

	// Remote columnar repository. An empty DSN disables the remote backend;
	// modules requiring it then fail capability resolution at startup.
	RemoteDSN           string
	RemoteNamespace     string
	RemoteSource        string
	RemoteSchemaVersion string

	// LLM provider (OpenAI-compatible chat completions)
	LLMEndpoint string
	LLMKey      string
	LLMModel    string
	LLMTimeout  time.Duration `validate:"gt=0"`

	// Module registry
	ModuleRoot string `validate:"required"`

	// Conversation store
	ConversationTTL        time.Duration `validate:"gt=0"`
	ConversationWindow     int           `validate:"gt=0"`
	ConversationPersistent bool

	// Deadlines
	QueryTimeout        time.Duration `validate:"gt=0"`
	GraphPersistTimeout time.Duration `validate:"gt=0"`

	// HTTP surface
	CORSOrigins      []string
	AssistantRateRPM int `validate:"gt=0"`

	// Feature flags
	EnableMetrics bool
}

// LoadConfig loads configuration from environment variables. A .env file in
// the working directory is read first when present so local development does
// not need exported variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerAddress: getEnv("APP_SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("APP_ENV", "development"),

		DBPath: getEnv("APP_DB_PATH", "datalens.db"),

		RemoteDSN:           getEnv("APP_REMOTE_DSN", ""),
		RemoteNamespace:     getEnv("APP_REMOTE_NAMESPACE", "NS_DP"),
		RemoteSource:        getEnv("APP_REMOTE_SOURCE", "sap_bdc"),
		RemoteSchemaVersion: getEnv("APP_REMOTE_SCHEMA_VERSION", "V1"),

		LLMEndpoint: getEnv("APP_LLM_ENDPOINT", ""),
		LLMKey:      getEnv("APP_LLM_KEY", ""),
		LLMModel:    getEnv("APP_LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:  getEnvDuration("APP_LLM_TIMEOUT", 60*time.Second),

		ModuleRoot: getEnv("APP_MODULE_ROOT", "./modules"),

		ConversationTTL:        getEnvDuration("APP_CONVERSATION_TTL", 24*time.Hour),
		ConversationWindow:     getEnvInt("APP_CONVERSATION_WINDOW", 10),
		ConversationPersistent: getEnvBool("APP_CONVERSATION_PERSISTENT", false),

		QueryTimeout:        getEnvDuration("APP_QUERY_TIMEOUT", 30*time.Second),
		GraphPersistTimeout: getEnvDuration("APP_GRAPH_PERSIST_TIMEOUT", 5*time.Second),

		CORSOrigins:      getEnvList("APP_CORS_ORIGINS", []string{"*"}),
		AssistantRateRPM: getEnvInt("APP_ASSISTANT_RATE_RPM", 60),

		EnableMetrics: getEnvBool("APP_ENABLE_METRICS", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load is an alias for LoadConfig
func Load() (*Config, error) {
	return LoadConfig()
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.RemoteDSN != "" {
		if c.RemoteNamespace == "" || c.RemoteSource == "" || c.RemoteSchemaVersion == "" {
			return fmt.Errorf("APP_REMOTE_NAMESPACE, APP_REMOTE_SOURCE and APP_REMOTE_SCHEMA_VERSION are required when APP_REMOTE_DSN is set")
		}
	}

	if c.LLMEndpoint == "" && c.IsProduction() {
		return fmt.Errorf("APP_LLM_ENDPOINT is required in production")
	}

	return nil
}

// RemoteEnabled reports whether a remote columnar backend is configured
func (c *Config) RemoteEnabled() bool {
	return c.RemoteDSN != ""
}

// LLMEnabled reports whether an LLM endpoint is configured
func (c *Config) LLMEnabled() bool {
	return c.LLMEndpoint != ""
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
