// Package config loads the router's settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
)

// Config is the full process configuration.
type Config struct {
	Addr        string
	Environment string
	CORSOrigins []string

	LLMProvider     string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	GeminiAPIKey    string
	// Model is the model or deployment name every agent runs on.
	Model string

	SearchIndexName   string
	ConnectionsFile   string
	CinemasSpec       string
	MaxToolIterations int

	SessionBackend      string
	ConversationBackend string
	RuntimeBackend      string

	Redis    RedisConfig
	Mongo    MongoConfig
	Postgres PostgresConfig

	AgentTimeout   time.Duration
	StoreTimeout   time.Duration
	LenientRouting bool

	MaxMessageLength int
	RateLimit        float64
	RateBurst        int
	MaxInFlight      int

	EventLogLimit     int
	TokenizerEncoding string
	TelemetryDisable  bool
}

// RedisConfig holds the Redis connection shared by the session and runtime stores.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	SessionTTL time.Duration
}

// MongoConfig holds the MongoDB connection shared by sessions and conversations.
type MongoConfig struct {
	URI                    string
	Database               string
	SessionCollection      string
	ConversationCollection string
}

// PostgresConfig holds the PostgreSQL connection of the conversation store.
type PostgresConfig struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Load reads the configuration from environment variables.
func Load() *Config {
	return &Config{
		Addr:        getEnv("ROUTER_ADDR", ":5000"),
		Environment: getEnv("ROUTER_ENV", "development"),
		CORSOrigins: getEnvList("ROUTER_CORS_ORIGINS", []string{"*"}),

		LLMProvider:     strings.ToLower(getEnv("ROUTER_LLM_PROVIDER", "openai")),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		Model:           getEnv("MODEL_DEPLOYMENT_NAME", "gpt-4o"),

		SearchIndexName:   getEnv("AZURE_SEARCH_INDEX_NAME", ""),
		ConnectionsFile:   getEnv("ROUTER_CONNECTIONS_FILE", ""),
		CinemasSpec:       getEnv("ROUTER_CINEMAS_SPEC", "assets/cinemasapi.json"),
		MaxToolIterations: getEnvInt("ROUTER_MAX_TOOL_ITERATIONS", 10),

		SessionBackend:      strings.ToLower(getEnv("ROUTER_SESSION_BACKEND", BackendMemory)),
		ConversationBackend: strings.ToLower(getEnv("ROUTER_CONVERSATION_BACKEND", BackendMemory)),
		RuntimeBackend:      strings.ToLower(getEnv("ROUTER_RUNTIME_BACKEND", BackendMemory)),

		Redis: RedisConfig{
			Addr:       getEnv("REDIS_ADDR", "localhost:6379"),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getEnvInt("REDIS_DB", 0),
			Prefix:     getEnv("REDIS_PREFIX", "ai-router:"),
			SessionTTL: getEnvDuration("REDIS_SESSION_TTL", 24*time.Hour),
		},
		Mongo: MongoConfig{
			URI:                    getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database:               getEnv("MONGODB_DB", "ai_router"),
			SessionCollection:      getEnv("MONGODB_SESSION_COLLECTION", "sessions"),
			ConversationCollection: getEnv("MONGODB_CONVERSATION_COLLECTION", "conversations"),
		},
		Postgres: PostgresConfig{
			DSN:      getEnv("POSTGRES_DSN", ""),
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			DBName:   getEnv("POSTGRES_DB", "ai_router"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},

		AgentTimeout:   getEnvDuration("ROUTER_AGENT_TIMEOUT", 2*time.Minute),
		StoreTimeout:   getEnvDuration("ROUTER_STORE_TIMEOUT", 10*time.Second),
		LenientRouting: getEnvBool("ROUTER_LENIENT_ROUTING", false),

		MaxMessageLength: getEnvInt("ROUTER_MAX_MESSAGE_LENGTH", 8000),
		RateLimit:        getEnvFloat("ROUTER_RATE_LIMIT", 0),
		RateBurst:        getEnvInt("ROUTER_RATE_BURST", 10),
		MaxInFlight:      getEnvInt("ROUTER_MAX_IN_FLIGHT", 0),

		EventLogLimit:     getEnvInt("ROUTER_EVENT_LOG_LIMIT", 1000),
		TokenizerEncoding: getEnv("ROUTER_TOKENIZER_ENCODING", ""),
		TelemetryDisable:  getEnvBool("ROUTER_TELEMETRY_DISABLE", false),
	}
}

// APIKey returns the key of the configured LLM provider.
func (c *Config) APIKey() string {
	switch c.LLMProvider {
	case "openai":
		return c.OpenAIAPIKey
	case "claude":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	}
	return ""
}

// Validate checks the configuration, including the settings of every
// selected backend.
func (c *Config) Validate() error {
	v := NewValidator()
	v.RequireNonEmpty("ROUTER_ADDR", c.Addr)
	v.RequireNonEmpty("ROUTER_CINEMAS_SPEC", c.CinemasSpec)
	v.RequirePositive("ROUTER_MAX_TOOL_ITERATIONS", c.MaxToolIterations)
	v.ValidateOneOf("ROUTER_SESSION_BACKEND", c.SessionBackend, BackendMemory, BackendRedis, BackendMongo)
	v.ValidateOneOf("ROUTER_CONVERSATION_BACKEND", c.ConversationBackend, BackendMemory, BackendMongo, BackendPostgres)
	v.ValidateOneOf("ROUTER_RUNTIME_BACKEND", c.RuntimeBackend, BackendMemory, BackendRedis)
	if c.SessionBackend != BackendMemory && c.RuntimeBackend == BackendMemory {
		v.Add("ROUTER_RUNTIME_BACKEND",
			"a durable session backend needs a durable runtime backend; stored agent handles would not survive a restart")
	}
	v.RequireNonNegative("ROUTER_AGENT_TIMEOUT", c.AgentTimeout.Seconds())
	v.RequireNonNegative("ROUTER_STORE_TIMEOUT", c.StoreTimeout.Seconds())

	errs := []error{v.Error()}
	errs = append(errs, ValidateLLMConfig(c.LLMProvider, c.APIKey(), c.Model))
	errs = append(errs, ValidateRateLimiterConfig(c.RateLimit, c.RateBurst, c.MaxInFlight))
	if c.SessionBackend == BackendRedis || c.RuntimeBackend == BackendRedis {
		errs = append(errs, ValidateRedisConfig(c.Redis.Addr, c.Redis.DB, c.Redis.Prefix))
	}
	if c.SessionBackend == BackendMongo {
		errs = append(errs, ValidateMongoDBConfig(c.Mongo.URI, c.Mongo.Database, c.Mongo.SessionCollection))
	}
	if c.ConversationBackend == BackendMongo {
		errs = append(errs, ValidateMongoDBConfig(c.Mongo.URI, c.Mongo.Database, c.Mongo.ConversationCollection))
	}
	if c.ConversationBackend == BackendPostgres && c.Postgres.DSN == "" {
		p := c.Postgres
		errs = append(errs, ValidatePostgresConfig(p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode))
	}
	return joinErrors(errs)
}

// Helper functions for environment variable reading

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
