// Package config provides the configuration schema, loader, and provider
// registry for a WhisperEngine character service.
//
// Configuration is environment-first: every value can come from environment
// variables (a .env file is honored when present), with an optional YAML
// file supplying the same settings for deployments that prefer files.
// Environment variables always win over YAML.
package config

import "fmt"

// LogLevel controls log verbosity for the character service.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration for one character service process.
type Config struct {
	Character  CharacterConfig  `yaml:"character"`
	Discord    DiscordConfig    `yaml:"discord"`
	LLM        LLMConfig        `yaml:"llm"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Detection  DetectionConfig  `yaml:"detection"`
	Empathy    EmpathyConfig    `yaml:"empathy"`
	Server     ServerConfig     `yaml:"server"`
}

// CharacterConfig identifies the persona this process serves.
type CharacterConfig struct {
	// Name is the character name (DISCORD_BOT_NAME or BOT_NAME).
	Name string `yaml:"name"`

	// PromptFile is an optional path to the persona system prompt
	// (BOT_SYSTEM_PROMPT_FILE). When set it overrides the stored persona.
	PromptFile string `yaml:"prompt_file"`
}

// DiscordConfig holds Discord gateway credentials.
type DiscordConfig struct {
	// Token is the bot token (DISCORD_BOT_TOKEN).
	Token string `yaml:"token"`
}

// EndpointConfig is the common block for one OpenAI-compatible endpoint.
type EndpointConfig struct {
	// BaseURL is the API root, e.g. "http://localhost:1234/v1".
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as a Bearer token. May be empty for local backends.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier requested from the endpoint.
	Model string `yaml:"model"`
}

// Configured reports whether the endpoint has a URL at all.
func (e EndpointConfig) Configured() bool { return e.BaseURL != "" }

// LLMConfig declares the chat endpoint plus the optional emotion and
// fact-extraction endpoints. Emotion and facts fall back to the chat
// endpoint's key when their own is empty.
type LLMConfig struct {
	Chat    EndpointConfig `yaml:"chat"`
	Emotion EndpointConfig `yaml:"emotion"`
	Facts   EndpointConfig `yaml:"facts"`
}

// EmbeddingsConfig selects the embedding backend.
type EmbeddingsConfig struct {
	// UseExternal selects the HTTP embedding endpoint over the local
	// embedder (USE_EXTERNAL_EMBEDDINGS).
	UseExternal bool `yaml:"use_external"`

	// BaseURL is the embedding endpoint (LLM_EMBEDDING_API_URL).
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates the embedding endpoint. May be empty.
	APIKey string `yaml:"api_key"`

	// Model is the embedding model name (LLM_EMBEDDING_MODEL_NAME).
	Model string `yaml:"model"`

	// Dimensions must match the vector collection schema. 0 means the
	// model's default.
	Dimensions int `yaml:"dimensions"`
}

// QdrantConfig locates the vector store.
type QdrantConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the gRPC address in host:port form.
func (q QdrantConfig) Addr() string { return fmt.Sprintf("%s:%d", q.Host, q.Port) }

// PostgresConfig locates the relational store.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN renders the pgx connection string.
func (p PostgresConfig) DSN() string {
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, sslmode)
}

// DetectionConfig holds the context switch detection thresholds, all in
// [0, 1]. Zero values select the built-in defaults.
type DetectionConfig struct {
	TopicShift       float64 `yaml:"topic_shift_threshold"`
	EmotionalShift   float64 `yaml:"emotional_shift_threshold"`
	ConversationMode float64 `yaml:"conversation_mode_threshold"`
	UrgencyChange    float64 `yaml:"urgency_change_threshold"`
}

// EmpathyConfig holds the empathy calibration learning parameters. Zero
// values select the built-in defaults.
type EmpathyConfig struct {
	MinInteractions        int     `yaml:"min_interactions"`
	EffectivenessThreshold float64 `yaml:"effectiveness_threshold"`
	LearningRate           float64 `yaml:"learning_rate"`
	ConfidenceThreshold    float64 `yaml:"confidence_threshold"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// HealthAddr is the TCP address for the health endpoint (e.g. ":9090").
	HealthAddr string `yaml:"health_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsLogging enables metrics emission (ENABLE_METRICS_LOGGING).
	MetricsLogging bool `yaml:"metrics_logging"`
}
