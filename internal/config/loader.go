package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration: defaults, then the optional YAML file at
// path (empty path skips the file), then environment variables on top.
// A .env file in the working directory is loaded into the environment
// first when present.
func Load(path string) (*Config, error) {
	// Best effort; absence of .env is the normal container case.
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeYAML(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies the environment on
// top, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := defaults()
	if err := decodeYAML(r, cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Qdrant:   QdrantConfig{Host: "localhost", Port: 6334},
		Postgres: PostgresConfig{Host: "localhost", Port: 5432, User: "whisperengine", Database: "whisperengine"},
		Server:   ServerConfig{HealthAddr: ":9090", LogLevel: LogInfo},
	}
}

// applyEnv overlays recognised environment variables onto cfg.
// Environment always wins over file values.
func applyEnv(cfg *Config) {
	envStr("DISCORD_BOT_NAME", &cfg.Character.Name)
	if cfg.Character.Name == "" {
		envStr("BOT_NAME", &cfg.Character.Name)
	}
	envStr("BOT_SYSTEM_PROMPT_FILE", &cfg.Character.PromptFile)
	envStr("DISCORD_BOT_TOKEN", &cfg.Discord.Token)

	envStr("LLM_CHAT_API_URL", &cfg.LLM.Chat.BaseURL)
	envStr("CHAT_MODEL_NAME", &cfg.LLM.Chat.Model)
	envStr("LLM_API_KEY", &cfg.LLM.Chat.APIKey)
	envStr("LLM_EMOTION_API_URL", &cfg.LLM.Emotion.BaseURL)
	envStr("LLM_EMOTION_API_KEY", &cfg.LLM.Emotion.APIKey)
	envStr("LLM_EMOTION_MODEL_NAME", &cfg.LLM.Emotion.Model)
	envStr("LLM_FACTS_API_URL", &cfg.LLM.Facts.BaseURL)
	envStr("LLM_FACTS_API_KEY", &cfg.LLM.Facts.APIKey)
	envStr("LLM_FACTS_MODEL_NAME", &cfg.LLM.Facts.Model)

	envBool("USE_EXTERNAL_EMBEDDINGS", &cfg.Embeddings.UseExternal)
	envStr("LLM_EMBEDDING_API_URL", &cfg.Embeddings.BaseURL)
	envStr("LLM_EMBEDDING_API_KEY", &cfg.Embeddings.APIKey)
	envStr("LLM_EMBEDDING_MODEL_NAME", &cfg.Embeddings.Model)
	envInt("LLM_EMBEDDING_DIMENSIONS", &cfg.Embeddings.Dimensions)

	envStr("QDRANT_HOST", &cfg.Qdrant.Host)
	envInt("QDRANT_PORT", &cfg.Qdrant.Port)

	envStr("POSTGRES_HOST", &cfg.Postgres.Host)
	envInt("POSTGRES_PORT", &cfg.Postgres.Port)
	envStr("POSTGRES_USER", &cfg.Postgres.User)
	envStr("POSTGRES_PASSWORD", &cfg.Postgres.Password)
	envStr("POSTGRES_DB", &cfg.Postgres.Database)
	envStr("POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)

	envFloat("PHASE3_TOPIC_SHIFT_THRESHOLD", &cfg.Detection.TopicShift)
	envFloat("PHASE3_EMOTIONAL_SHIFT_THRESHOLD", &cfg.Detection.EmotionalShift)
	envFloat("PHASE3_CONVERSATION_MODE_THRESHOLD", &cfg.Detection.ConversationMode)
	envFloat("PHASE3_URGENCY_CHANGE_THRESHOLD", &cfg.Detection.UrgencyChange)

	envInt("PHASE3_EMPATHY_MIN_INTERACTIONS", &cfg.Empathy.MinInteractions)
	envFloat("PHASE3_EMPATHY_EFFECTIVENESS_THRESHOLD", &cfg.Empathy.EffectivenessThreshold)
	envFloat("PHASE3_EMPATHY_LEARNING_RATE", &cfg.Empathy.LearningRate)
	envFloat("PHASE3_EMPATHY_CONFIDENCE_THRESHOLD", &cfg.Empathy.ConfidenceThreshold)

	envStr("HEALTH_SERVER_ADDR", &cfg.Server.HealthAddr)
	envBool("ENABLE_METRICS_LOGGING", &cfg.Server.MetricsLogging)
	var level string
	envStr("LOG_LEVEL", &level)
	if level != "" {
		cfg.Server.LogLevel = LogLevel(level)
	}
}

func envStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Character.Name == "" {
		errs = append(errs, errors.New("character.name is required (DISCORD_BOT_NAME or BOT_NAME)"))
	}
	if cfg.LLM.Chat.BaseURL == "" {
		errs = append(errs, errors.New("llm.chat.base_url is required (LLM_CHAT_API_URL)"))
	}
	if cfg.LLM.Chat.Model == "" {
		errs = append(errs, errors.New("llm.chat.model is required (CHAT_MODEL_NAME)"))
	}
	if cfg.Embeddings.UseExternal && cfg.Embeddings.BaseURL == "" {
		errs = append(errs, errors.New("embeddings.base_url is required when use_external is set (LLM_EMBEDDING_API_URL)"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	checkUnit := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s %.2f is out of range [0, 1]", name, v))
		}
	}
	checkUnit("detection.topic_shift_threshold", cfg.Detection.TopicShift)
	checkUnit("detection.emotional_shift_threshold", cfg.Detection.EmotionalShift)
	checkUnit("detection.conversation_mode_threshold", cfg.Detection.ConversationMode)
	checkUnit("detection.urgency_change_threshold", cfg.Detection.UrgencyChange)
	checkUnit("empathy.effectiveness_threshold", cfg.Empathy.EffectivenessThreshold)
	checkUnit("empathy.confidence_threshold", cfg.Empathy.ConfidenceThreshold)
	checkUnit("empathy.learning_rate", cfg.Empathy.LearningRate)

	if cfg.Empathy.MinInteractions < 0 {
		errs = append(errs, fmt.Errorf("empathy.min_interactions %d must not be negative", cfg.Empathy.MinInteractions))
	}
	if cfg.Qdrant.Port <= 0 || cfg.Qdrant.Port > 65535 {
		errs = append(errs, fmt.Errorf("qdrant.port %d is out of range", cfg.Qdrant.Port))
	}
	if cfg.Postgres.Port <= 0 || cfg.Postgres.Port > 65535 {
		errs = append(errs, fmt.Errorf("postgres.port %d is out of range", cfg.Postgres.Port))
	}

	return errors.Join(errs...)
}
