// Package config provides environment configuration for the API server,
// the job worker and agentctl.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	CORSOrigins        []string

	// NATS settings. An empty URL runs with in-memory message log and job bus.
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Redis settings. An empty URL keeps the tool cache and job records in memory.
	RedisURL string

	// SQLite thread store
	SQLitePath string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// LLM settings
	AnthropicAPIKey      string
	OpenAIAPIKey         string
	DefaultLLM           string
	LLMModel             string
	LLMBaseURL           string
	LLMMaxTokens         int
	LLMRequestsPerMinute float64

	// Orchestrator
	OrchestratorMode string
	MaxToolHops      int
	MaxExecutionTime time.Duration
	HistoryMessages  int

	// Tools and backends
	WorkspaceDir     string
	TavilyAPIKey     string
	TavilyBaseURL    string
	FirecrawlAPIKey  string
	FirecrawlBaseURL string
	ToolsConfigPath  string
	PolicyFile       string
	ToolCacheTTL     time.Duration
	SessionIdleTTL   time.Duration
	MaintenanceSpec  string

	// Jobs
	JobWorkers int
	JobTTL     time.Duration
	JobAckWait time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration
	TurnRateLimit     int

	// Logging
	LogLevel  string
	LogFormat string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),
		CORSOrigins:        getListEnv("CORS_ORIGINS"),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		RedisURL: getEnv("REDIS_URL", ""),

		SQLitePath: getEnv("SQLITE_PATH", "agent-platform.db"),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),

		// LLM
		AnthropicAPIKey:      getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:           getEnv("DEFAULT_LLM", "anthropic"),
		LLMModel:             getEnv("LLM_MODEL", ""),
		LLMBaseURL:           getEnv("LLM_BASE_URL", ""),
		LLMMaxTokens:         getIntEnv("LLM_MAX_TOKENS", 4096),
		LLMRequestsPerMinute: getFloatEnv("LLM_REQUESTS_PER_MINUTE", 0),

		// Orchestrator
		OrchestratorMode: getEnv("ORCHESTRATOR_MODE", "phased"),
		MaxToolHops:      getIntEnv("MAX_TOOL_HOPS", 5),
		MaxExecutionTime: getDurationEnv("MAX_EXECUTION_TIME", 60*time.Second),
		HistoryMessages:  getIntEnv("HISTORY_MESSAGES", 20),

		// Tools
		WorkspaceDir:     getEnv("WORKSPACE_DIR", "workspace"),
		TavilyAPIKey:     getEnv("TAVILY_API_KEY", ""),
		TavilyBaseURL:    getEnv("TAVILY_BASE_URL", ""),
		FirecrawlAPIKey:  getEnv("FIRECRAWL_API_KEY", ""),
		FirecrawlBaseURL: getEnv("FIRECRAWL_BASE_URL", ""),
		ToolsConfigPath:  getEnv("TOOLS_CONFIG", ""),
		PolicyFile:       getEnv("POLICY_FILE", ""),
		ToolCacheTTL:     getDurationEnv("TOOL_CACHE_TTL", 5*time.Minute),
		SessionIdleTTL:   getDurationEnv("SESSION_IDLE_TTL", 30*time.Minute),
		MaintenanceSpec:  getEnv("MAINTENANCE_SCHEDULE", "@every 5m"),

		// Jobs
		JobWorkers: getIntEnv("JOB_WORKERS", 4),
		JobTTL:     getDurationEnv("JOB_TTL", 7*24*time.Hour),
		JobAckWait: getDurationEnv("JOB_ACK_WAIT", 5*time.Minute),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		TurnRateLimit:     getIntEnv("TURN_RATE_LIMIT", 20),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// APIKey returns the key of the configured default provider.
func (c *Config) APIKey() string {
	if c.DefaultLLM == "openai" {
		return c.OpenAIAPIKey
	}
	return c.AnthropicAPIKey
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
