// Package app wires all WhisperEngine subsystems into one running character
// service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run starts the adapters and blocks, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithKnowledgeStore, WithVectorStore). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/whisperengine/whisperengine/internal/boundary"
	"github.com/whisperengine/whisperengine/internal/character"
	"github.com/whisperengine/whisperengine/internal/config"
	"github.com/whisperengine/whisperengine/internal/contextswitch"
	"github.com/whisperengine/whisperengine/internal/discord"
	"github.com/whisperengine/whisperengine/internal/empathy"
	"github.com/whisperengine/whisperengine/internal/health"
	"github.com/whisperengine/whisperengine/internal/intelligence"
	"github.com/whisperengine/whisperengine/internal/observe"
	"github.com/whisperengine/whisperengine/internal/pipeline"
	"github.com/whisperengine/whisperengine/internal/prompt"
	"github.com/whisperengine/whisperengine/internal/selfknowledge"
	"github.com/whisperengine/whisperengine/internal/tokens"
	"github.com/whisperengine/whisperengine/pkg/memory"
	"github.com/whisperengine/whisperengine/pkg/memory/postgres"
	"github.com/whisperengine/whisperengine/pkg/memory/qdrant"
	"github.com/whisperengine/whisperengine/pkg/provider/embeddings"
	"github.com/whisperengine/whisperengine/pkg/provider/emotion"
	"github.com/whisperengine/whisperengine/pkg/provider/llm"
)

// validateTimeout bounds the startup probe against the chat backend.
const validateTimeout = 15 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Chat       llm.Provider
	Embeddings embeddings.Provider
	Emotion    emotion.Analyzer
}

// App owns all subsystem lifetimes for one character process.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	// Subsystems, initialised in New, torn down in Shutdown.
	knowledge  memory.KnowledgeStore
	vectors    memory.VectorStore
	char       *character.Character
	sessions   *boundary.Manager
	calibrator *empathy.Calibrator
	controller *pipeline.Controller
	bot        *discord.Bot
	healthSrv  *http.Server

	// checkers feed the readiness endpoint; populated as real backends
	// come up.
	checkers []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithKnowledgeStore injects a knowledge store instead of connecting to
// PostgreSQL.
func WithKnowledgeStore(s memory.KnowledgeStore) Option {
	return func(a *App) { a.knowledge = s }
}

// WithVectorStore injects a vector store instead of connecting to Qdrant.
func WithVectorStore(s memory.VectorStore) Option {
	return func(a *App) { a.vectors = s }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for the stores.
//
// New performs all initialisation synchronously: store connections, chat
// backend validation, persona loading, self-knowledge extraction, and
// pipeline assembly. A chat backend that fails validation aborts startup.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Chat == nil {
		return nil, errors.New("app: chat provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Knowledge store ───────────────────────────────────────────────
	if err := a.initKnowledge(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init knowledge store: %w", err)
	}

	// ── 2. Chat backend probe ────────────────────────────────────────────
	if err := a.validateChat(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: validate chat backend: %w", err)
	}

	// ── 3. Persona ───────────────────────────────────────────────────────
	char, err := character.Load(ctx, cfg.Character.Name, cfg.Character.PromptFile, a.knowledge, a.log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("app: load character: %w", err)
	}
	a.char = char

	// ── 4. Vector store ──────────────────────────────────────────────────
	if err := a.initVectors(); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init vector store: %w", err)
	}

	// ── 5. Self-knowledge ────────────────────────────────────────────────
	insights := a.initSelfKnowledge(ctx)

	// ── 6. Sessions, detection, empathy ──────────────────────────────────
	a.sessions = boundary.NewManager(
		boundary.WithSummarizer(&llmSummarizer{chat: providers.Chat, character: char.Name}),
	)
	detector := contextswitch.NewDetector(a.vectors, contextswitch.Thresholds{
		TopicShift:     cfg.Detection.TopicShift,
		EmotionalShift: cfg.Detection.EmotionalShift,
		Mode:           cfg.Detection.ConversationMode,
		Urgency:        cfg.Detection.UrgencyChange,
	})
	a.calibrator = empathy.NewCalibrator(
		empathy.WithLearningRate(cfg.Empathy.LearningRate),
		empathy.WithMinInteractions(cfg.Empathy.MinInteractions),
		empathy.WithConfidenceThreshold(cfg.Empathy.ConfidenceThreshold),
		empathy.WithEffectivenessThreshold(cfg.Empathy.EffectivenessThreshold),
	)
	metrics := observe.DefaultMetrics()
	orchestrator := intelligence.NewOrchestrator(
		providers.Emotion, emotion.NewLexicon(), detector, a.calibrator, insights, a.log,
		intelligence.WithMetrics(metrics))

	// ── 7. Turn pipeline ─────────────────────────────────────────────────
	controller, err := pipeline.New(pipeline.Config{
		Character:    char,
		Boundary:     a.sessions,
		Vectors:      a.vectors,
		Knowledge:    a.knowledge,
		Intelligence: orchestrator,
		Empathy:      a.calibrator,
		Assembler:    prompt.NewAssembler(tokens.NewCounter(cfg.LLM.Chat.Model)),
		Chat:         providers.Chat,
		Metrics:      metrics,
		Log:          a.log,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("app: build pipeline: %w", err)
	}
	a.controller = controller

	// ── 8. Health endpoint ───────────────────────────────────────────────
	a.initHealth(metrics)

	// ── 9. Discord adapter ───────────────────────────────────────────────
	if cfg.Discord.Token != "" {
		bot, err := discord.New(discord.Config{
			Token:         cfg.Discord.Token,
			CharacterName: char.Name,
		}, controller, a.log)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("app: connect discord: %w", err)
		}
		a.bot = bot
		a.closers = append(a.closers, bot.Close)
	}

	return a, nil
}

// Handler exposes the turn pipeline for platform adapters constructed
// outside the App (tests, alternative frontends).
func (a *App) Handler() *pipeline.Controller { return a.controller }

// Character returns the loaded persona.
func (a *App) Character() *character.Character { return a.char }

// initKnowledge connects to PostgreSQL unless a store was injected.
func (a *App) initKnowledge(ctx context.Context) error {
	if a.knowledge != nil {
		return nil
	}

	store, err := postgres.NewStore(ctx, a.cfg.Postgres.DSN())
	if err != nil {
		return err
	}
	a.knowledge = store
	a.checkers = append(a.checkers, health.Checker{Name: "postgres", Check: store.Ping})
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// validateChat probes the chat backend once. The service must not come up
// against an endpoint that cannot serve the configured model.
func (a *App) validateChat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	if err := a.providers.Chat.Validate(ctx); err != nil {
		return err
	}
	a.checkers = append(a.checkers, health.Checker{Name: "chat", Check: a.providers.Chat.Validate})
	a.log.Info("chat backend validated", "model", a.providers.Chat.ModelID())
	return nil
}

// initVectors connects to Qdrant unless a store was injected. The vector
// store is scoped to this character's collection.
func (a *App) initVectors() error {
	if a.vectors != nil {
		return nil
	}
	if a.providers.Embeddings == nil {
		return errors.New("embeddings provider is required for the vector store")
	}

	store, err := qdrant.NewStore(qdrant.Config{
		Host:      a.cfg.Qdrant.Host,
		Port:      a.cfg.Qdrant.Port,
		Character: a.char.NormalizedName,
	}, a.providers.Embeddings)
	if err != nil {
		return err
	}
	a.vectors = store
	a.checkers = append(a.checkers, health.Checker{Name: "qdrant", Check: store.Ping})
	a.closers = append(a.closers, store.Close)
	return nil
}

// initSelfKnowledge extracts the character profile and derives the trait
// graph. Self-knowledge is an enrichment: a failure here degrades the
// intelligence fan-out but never blocks startup.
func (a *App) initSelfKnowledge(ctx context.Context) intelligence.SelfKnowledge {
	profile, err := selfknowledge.NewExtractor(a.knowledge).Extract(ctx, a.char.NormalizedName)
	if err != nil {
		a.log.Warn("self-knowledge extraction failed, continuing without insights", "err", err)
		return nil
	}

	rels, err := selfknowledge.NewGraphBuilder(a.knowledge).Build(ctx, profile)
	if err != nil {
		a.log.Warn("trait graph build failed, continuing with profile only", "err", err)
	}

	a.log.Info("self-knowledge ready",
		"character", a.char.NormalizedName,
		"confidence", profile.Confidence,
		"relationships", len(rels))
	return &insightSource{
		discovery: selfknowledge.NewDiscovery(a.knowledge),
		profile:   profile,
		rels:      rels,
	}
}

// initHealth builds the health endpoint mux. The listener starts in Run.
func (a *App) initHealth(metrics *observe.Metrics) {
	addr := a.cfg.Server.HealthAddr
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	health.New(a.checkers...).Register(mux)
	if a.cfg.Server.MetricsLogging {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	a.healthSrv = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.closers = append(a.closers, a.healthSrv.Close)
}

// Run starts the health listener and the Discord adapter and blocks until
// ctx is cancelled. Returns ctx.Err() on a clean signal-driven exit.
func (a *App) Run(ctx context.Context) error {
	if a.healthSrv != nil {
		go func() {
			if err := a.healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("health listener failed", "addr", a.healthSrv.Addr, "err", err)
			}
		}()
		a.log.Info("health endpoint listening", "addr", a.healthSrv.Addr)
	}

	botDone := make(chan error, 1)
	if a.bot != nil {
		go func() { botDone <- a.bot.Run(ctx) }()
	}

	a.log.Info("character service running",
		"character", a.char.Name,
		"discord", a.bot != nil)
	<-ctx.Done()

	if a.bot != nil {
		<-botDone
	}
	return ctx.Err()
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// close releases whatever came up before a failed init step.
func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("cleanup error after failed start", "index", i, "err", err)
		}
	}
	a.closers = nil
}

// insightSource adapts the discovery service to the intelligence fan-out,
// which asks for insights without knowing about profiles or trait graphs.
type insightSource struct {
	discovery *selfknowledge.Discovery
	profile   *selfknowledge.Profile
	rels      []memory.TraitRelationship
}

var _ intelligence.SelfKnowledge = (*insightSource)(nil)

// Insights returns the character's motivation and behavior insights. The
// profile is extracted once at startup; per-kind results are cached inside
// the discovery service.
func (s *insightSource) Insights(ctx context.Context, _ string) []selfknowledge.Insight {
	out := s.discovery.Insights(ctx, s.profile, s.rels, selfknowledge.InsightMotivation)
	return append(out, s.discovery.Insights(ctx, s.profile, s.rels, selfknowledge.InsightBehavior)...)
}

// summaryTimeout bounds one background summarization call. Summaries run
// outside any turn, so they carry their own deadline.
const summaryTimeout = 30 * time.Second

// summaryMaxTokens keeps summaries short enough to fit the prompt's
// conversation-summary block.
const summaryMaxTokens = 200

// llmSummarizer condenses drained session topics into a short third-person
// summary via the chat backend.
type llmSummarizer struct {
	chat      llm.Provider
	character string
}

var _ boundary.Summarizer = (*llmSummarizer)(nil)

func (s *llmSummarizer) Summarize(topics []boundary.Topic) (string, error) {
	if len(topics) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Condense this conversation outline into at most three sentences. ")
	b.WriteString("Refer to the user in third person and keep emotional tone.\n")
	for _, t := range topics {
		fmt.Fprintf(&b, "- %s (%d messages, tone: %s)\n",
			strings.Join(t.Keywords, ", "), t.MessageCount, t.EmotionalTone)
	}

	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()

	resp, err := s.chat.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You summarize conversations for the character " + s.character + ".",
		Messages:     []llm.Message{{Role: "user", Content: b.String()}},
		MaxTokens:    summaryMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarize session: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Content), nil
}
