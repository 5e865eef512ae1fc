// Command whisperengine runs one character as a long-lived Discord service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whisperengine/whisperengine/internal/app"
	"github.com/whisperengine/whisperengine/internal/config"
	"github.com/whisperengine/whisperengine/internal/observe"
	"github.com/whisperengine/whisperengine/internal/resilience"
	"github.com/whisperengine/whisperengine/pkg/provider/embeddings"
	localembed "github.com/whisperengine/whisperengine/pkg/provider/embeddings/local"
	oaembed "github.com/whisperengine/whisperengine/pkg/provider/embeddings/openai"
	"github.com/whisperengine/whisperengine/pkg/provider/emotion"
	"github.com/whisperengine/whisperengine/pkg/provider/llm"
	oaillm "github.com/whisperengine/whisperengine/pkg/provider/llm/openai"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to an optional YAML configuration file (environment wins)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "whisperengine: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var logLevel slog.LevelVar
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel})))

	slog.Info("whisperengine starting",
		"character", cfg.Character.Name,
		"version", version,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Config hot-reload ─────────────────────────────────────────────────────
	// Only the log level applies live; everything else needs a restart.
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.LogLevelChanged {
				logLevel.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level updated", "level", d.NewLogLevel)
			}
			if d.DetectionChanged || d.EmpathyChanged || d.PromptFileChanged {
				slog.Warn("config changes pending that require a restart",
					"detection", d.DetectionChanged,
					"empathy", d.EmpathyChanged,
					"prompt_file", d.PromptFileChanged)
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "whisperengine-" + cfg.Character.Name,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("service ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in provider factories into reg.
// Every HTTP endpoint speaks the OpenAI-compatible API, so one factory per
// kind covers OpenAI, LM Studio, Ollama, and vLLM backends alike.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.EndpointConfig) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("openai", func(entry config.EmbeddingsConfig) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if entry.Dimensions > 0 {
			opts = append(opts, oaembed.WithDimensions(entry.Dimensions))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("local", func(entry config.EmbeddingsConfig) (embeddings.Provider, error) {
		return localembed.New(entry.Dimensions), nil
	})

	reg.RegisterEmotion("openai", func(entry config.EndpointConfig) (emotion.Analyzer, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		p, err := oaillm.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return emotion.NewClient(p), nil
	})
}

// buildProviders instantiates the configured providers and returns them in an
// [app.Providers] struct. The chat backend sits behind a circuit breaker so a
// flapping endpoint trips fast instead of eating the whole turn budget.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	chat, err := reg.CreateLLM("openai", cfg.LLM.Chat)
	if err != nil {
		return nil, fmt.Errorf("create chat provider: %w", err)
	}
	ps.Chat = resilience.NewLLMFallback(chat, "chat", resilience.FallbackConfig{})
	slog.Info("provider created", "kind", "chat", "model", chat.ModelID())

	embedName := "local"
	if cfg.Embeddings.UseExternal {
		embedName = "openai"
	}
	emb, err := reg.CreateEmbeddings(embedName, cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", embedName, err)
	}
	ps.Embeddings = emb
	slog.Info("provider created", "kind", "embeddings", "name", embedName)

	if cfg.LLM.Emotion.Configured() {
		entry := cfg.LLM.Emotion
		// The emotion endpoint inherits chat credentials and model when it
		// declares none of its own.
		if entry.APIKey == "" {
			entry.APIKey = cfg.LLM.Chat.APIKey
		}
		if entry.Model == "" {
			entry.Model = cfg.LLM.Chat.Model
		}
		analyzer, err := reg.CreateEmotion("openai", entry)
		if err != nil {
			return nil, fmt.Errorf("create emotion analyzer: %w", err)
		}
		ps.Emotion = analyzer
		slog.Info("provider created", "kind", "emotion", "model", entry.Model)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════════╗")
	fmt.Println("║       WhisperEngine — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════════╣")
	printRow("Character", cfg.Character.Name)
	printRow("Chat model", cfg.LLM.Chat.Model)
	if cfg.LLM.Emotion.Configured() {
		printRow("Emotion", "external analyzer")
	} else {
		printRow("Emotion", "lexicon only")
	}
	if cfg.Embeddings.UseExternal {
		printRow("Embeddings", "external / "+cfg.Embeddings.Model)
	} else {
		printRow("Embeddings", "local hash")
	}
	printRow("Qdrant", cfg.Qdrant.Addr())
	printRow("Postgres", fmt.Sprintf("%s:%d/%s", cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database))
	if cfg.Discord.Token != "" {
		printRow("Discord", "connected")
	} else {
		printRow("Discord", "(disabled)")
	}
	printRow("Health addr", cfg.Server.HealthAddr)
	fmt.Println("╚═══════════════════════════════════════════╝")
}

func printRow(key, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 23 {
		value = value[:20] + "…"
	}
	fmt.Printf("║  %-14s : %-23s ║\n", key, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
