package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/ai-router/agent"
	"github.com/sweetpotato0/ai-router/config"
	"github.com/sweetpotato0/ai-router/connection"
	"github.com/sweetpotato0/ai-router/contrib/provider/claude"
	"github.com/sweetpotato0/ai-router/contrib/provider/gemini"
	"github.com/sweetpotato0/ai-router/contrib/provider/mock"
	"github.com/sweetpotato0/ai-router/contrib/provider/openai"
	"github.com/sweetpotato0/ai-router/contrib/session/inmemory"
	"github.com/sweetpotato0/ai-router/contrib/tokenizer/tiktoken"
	"github.com/sweetpotato0/ai-router/conversation"
	convstore "github.com/sweetpotato0/ai-router/conversation/store"
	"github.com/sweetpotato0/ai-router/eventlog"
	"github.com/sweetpotato0/ai-router/message"
	"github.com/sweetpotato0/ai-router/middleware"
	"github.com/sweetpotato0/ai-router/middleware/enricher"
	"github.com/sweetpotato0/ai-router/middleware/errorhandler"
	"github.com/sweetpotato0/ai-router/middleware/limiter"
	turnlog "github.com/sweetpotato0/ai-router/middleware/logger"
	"github.com/sweetpotato0/ai-router/middleware/validator"
	"github.com/sweetpotato0/ai-router/pkg/logging"
	"github.com/sweetpotato0/ai-router/router"
	"github.com/sweetpotato0/ai-router/runtime"
	runtimestore "github.com/sweetpotato0/ai-router/runtime/store"
	"github.com/sweetpotato0/ai-router/server"
	"github.com/sweetpotato0/ai-router/session"
	sessionstore "github.com/sweetpotato0/ai-router/session/store"
)

// app holds the wired components of one process.
type app struct {
	router      *router.Router
	transcripts *conversation.Log
	events      *eventlog.Log
	checks      map[string]server.HealthCheck
	closers     []func(context.Context) error
	logger      *slog.Logger
}

func (a *app) onClose(f func(context.Context) error) {
	a.closers = append(a.closers, f)
}

// Close releases every backend in reverse order of acquisition.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.logger != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

func build(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{
		checks: make(map[string]server.HealthCheck),
		logger: logging.WithComponent("main"),
	}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	llm, err := a.llm(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var registry connection.Registry = connection.Static{}
	if cfg.ConnectionsFile != "" {
		registry = connection.NewFileRegistry(cfg.ConnectionsFile)
	}

	runtimeOpts := []runtime.Option{
		runtime.WithConnections(registry),
		runtime.WithModel(cfg.Model),
		runtime.WithMaxIterations(cfg.MaxToolIterations),
	}
	if cfg.RuntimeBackend == config.BackendRedis {
		rs := runtimestore.NewRedisStore(&runtimestore.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix + "runtime:",
		})
		a.onClose(func(context.Context) error { return rs.Close() })
		a.checks["runtime_redis"] = rs.Ping
		runtimeOpts = append(runtimeOpts, runtime.WithStore(rs))
	}
	capability, err := runtime.New(llm, runtimeOpts...)
	if err != nil {
		return nil, err
	}

	sessions, err := a.sessionStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	conversations, err := a.conversationStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	eventOpts := []eventlog.Option{eventlog.WithLimit(cfg.EventLogLimit)}
	if cfg.TokenizerEncoding != "" {
		tok, err := tiktoken.New(cfg.TokenizerEncoding)
		if err != nil {
			a.logger.Warn("token counting disabled", "encoding", cfg.TokenizerEncoding, "error", err)
		} else {
			eventOpts = append(eventOpts, eventlog.WithTokenCounter(tok))
		}
	}
	a.events = eventlog.New(eventOpts...)

	specialists := router.NewSpecialists(router.SpecialistConfig{
		Model:       cfg.Model,
		IndexName:   cfg.SearchIndexName,
		CinemasSpec: cfg.CinemasSpec,
	})
	manager := session.NewManager(capability, sessions, specialists,
		session.WithEvents(a.events),
		session.WithTimeouts(cfg.AgentTimeout, cfg.StoreTimeout),
	)
	a.transcripts = conversation.NewLog(conversations, conversation.WithTimeout(cfg.StoreTimeout))

	chain := middleware.NewChain(
		errorhandler.NewErrorHandler(errorhandler.Classify),
		enricher.NewContextEnricher(enricher.TurnID),
		turnlog.NewTurnLogger(logging.WithComponent("turn")),
		validator.NewInputValidator(validator.NonEmpty, validator.MaxLength(cfg.MaxMessageLength)),
	)
	if cfg.RateLimit > 0 || cfg.MaxInFlight > 0 {
		chain.Add(limiter.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, int64(cfg.MaxInFlight)))
	}

	a.router = router.New(capability, manager, a.transcripts,
		router.WithEventLog(a.events),
		router.WithAgentTimeout(cfg.AgentTimeout),
		router.WithLenientRouting(cfg.LenientRouting),
		router.WithMiddleware(chain),
	)
	return a, nil
}

func (a *app) llm(ctx context.Context, cfg *config.Config) (agent.LLMClient, error) {
	switch cfg.LLMProvider {
	case "openai":
		c := openai.DefaultConfig().WithAPIKey(cfg.OpenAIAPIKey).WithModel(cfg.Model)
		if cfg.OpenAIBaseURL != "" {
			c.WithBaseURL(cfg.OpenAIBaseURL)
		}
		return openai.New(c), nil
	case "claude":
		c := claude.DefaultConfig(cfg.AnthropicAPIKey, "")
		c.Model = cfg.Model
		return claude.New(c), nil
	case "gemini":
		c := gemini.DefaultConfig(cfg.GeminiAPIKey)
		c.Model = cfg.Model
		p, err := gemini.New(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		a.onClose(func(context.Context) error { return p.Close() })
		return p, nil
	case "mock":
		return mock.NewStream(offline, 16), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
	}
}

// offline answers without a model: the routing coordinator delegates to no
// one and every other agent echoes its input.
func offline(ctx context.Context, req *agent.GenerateRequest) (*message.Message, error) {
	if strings.Contains(mock.SystemPrompt(req), "routing coordinator") {
		return mock.Text("{}"), nil
	}
	return mock.Echo(ctx, req)
}

func (a *app) sessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch cfg.SessionBackend {
	case config.BackendRedis:
		s := sessionstore.NewRedisStore(&sessionstore.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix + "session:",
			TTL:      cfg.Redis.SessionTTL,
		})
		a.onClose(func(context.Context) error { return s.Close() })
		a.checks["session_redis"] = s.Ping
		return s, nil
	case config.BackendMongo:
		s, err := sessionstore.NewMongoStore(ctx, &sessionstore.MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.SessionCollection,
		})
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		a.onClose(s.Close)
		a.checks["session_mongo"] = s.Ping
		return s, nil
	default:
		return inmemory.NewInMemoryStore(), nil
	}
}

func (a *app) conversationStore(ctx context.Context, cfg *config.Config) (conversation.Store, error) {
	switch cfg.ConversationBackend {
	case config.BackendMongo:
		s, err := convstore.NewMongoStore(ctx, &convstore.MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.ConversationCollection,
		})
		if err != nil {
			return nil, fmt.Errorf("conversation store: %w", err)
		}
		a.onClose(s.Close)
		a.checks["conversation_mongo"] = s.Ping
		return s, nil
	case config.BackendPostgres:
		p := cfg.Postgres
		s, err := convstore.NewPostgresStore(ctx, &convstore.PostgresConfig{
			DSN:      p.DSN,
			Host:     p.Host,
			Port:     p.Port,
			User:     p.User,
			Password: p.Password,
			DBName:   p.DBName,
			SSLMode:  p.SSLMode,
		})
		if err != nil {
			return nil, fmt.Errorf("conversation store: %w", err)
		}
		a.onClose(func(context.Context) error { return s.Close() })
		a.checks["conversation_postgres"] = s.Ping
		return s, nil
	default:
		return conversation.NewMemoryStore(), nil
	}
}
