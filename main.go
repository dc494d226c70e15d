package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/llm"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/repo"
	"github.com/Chative-core-poc-v1/assistant/internal/core"
	logx "github.com/Chative-core-poc-v1/assistant/pkg/logger"
	pkgredis "github.com/Chative-core-poc-v1/assistant/pkg/redis"
)

// AppConfig defines all configurable parameters of the assistant,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"APP_ENV" default:"development"`
	LogLevel    string           `envconfig:"LOG_LEVEL"`

	// Infrastructure
	Redis pkgredis.Config `ignored:"true"`

	// LLM provider
	LLM model.LLMConfig `ignored:"true"`

	// Pipeline stages
	Chat     model.ChatModelConfig `ignored:"true"`
	Thinking model.ThinkingConfig  `ignored:"true"`
	Memory   model.MemoryConfig    `ignored:"true"`
	Cache    model.CacheConfig     `ignored:"true"`
	Tools    model.ToolsConfig     `ignored:"true"`
	Pipeline model.PipelineConfig  `ignored:"true"`
}

// loadConfig processes every section on its own so the section tags are
// used as-is instead of being prefixed with the field name.
func loadConfig() (AppConfig, error) {
	var cfg AppConfig
	sections := []struct {
		prefix string
		spec   any
	}{
		{"", &cfg},
		{"redis", &cfg.Redis},
		{"", &cfg.LLM},
		{"", &cfg.Chat},
		{"", &cfg.Thinking},
		{"", &cfg.Memory},
		{"", &cfg.Cache},
		{"", &cfg.Tools},
		{"", &cfg.Pipeline},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.spec); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// newStores returns Redis-backed stores when REDIS_URL is set, in-process ones otherwise.
func newStores(ctx context.Context, cfg AppConfig) (graph.Dependencies, func(), error) {
	if !cfg.Redis.Enabled() {
		logx.Info().Msg("REDIS_URL not set - using in-process stores")
		return graph.Dependencies{
			Conversations: repo.NewMemoryConversationRepository(),
			Results:       repo.NewMemoryResultStore(cfg.Cache.MaxEntries),
			Stats:         repo.NewMemoryStatsStore(),
		}, func() {}, nil
	}

	rdb, err := cfg.Redis.NewContext(ctx)
	if err != nil {
		return graph.Dependencies{}, nil, fmt.Errorf("failed to initialise redis client: %w", err)
	}
	logx.Info().Msg("Connected to Redis successfully")

	prefix := cfg.Redis.KeyPrefix
	return graph.Dependencies{
		Conversations: repo.NewRedisConversationRepository(rdb, cfg.Memory.HistoryTTL, prefix),
		Results:       repo.NewRedisResultStore(rdb, prefix),
		Stats:         repo.NewRedisStatsStore(rdb, prefix),
	}, func() { _ = rdb.Close() }, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env file: %v\n", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to process environment config: %v\n", err)
		os.Exit(1)
	}
	logx.Init(logx.LoggerOpts{Environment: cfg.Environment, Level: cfg.LogLevel})

	deps, closeStores, err := newStores(ctx, cfg)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to set up stores")
	}
	defer closeStores()

	models, err := llm.NewChatModels(ctx, llm.ChatModelConfig{LLM: cfg.LLM, Chat: cfg.Chat})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create chat models")
	}
	deps.ChatModel = models.Chat
	deps.ToolModel = models.Tools

	runner, err := graph.BuildPipeline(ctx, graph.Config{
		Chat:      cfg.Chat,
		Thinking:  cfg.Thinking,
		Memory:    cfg.Memory,
		Cache:     cfg.Cache,
		Tools:     cfg.Tools,
		Pipeline:  cfg.Pipeline,
		ModelName: models.ModelName,
		Observe:   true,
	}, deps)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build pipeline")
	}
	defer runner.Close()

	go evictLoop(ctx, runner, 5*time.Minute)

	testQueries := []struct {
		description string
		request     model.ChatRequest
	}{
		{
			description: "Greeting",
			request:     model.ChatRequest{Message: "你好"},
		},
		{
			description: "Deep thinking with tools",
			request:     model.ChatRequest{Message: "请分析一下现在几点了，适合开始学习 Go 吗？", EnableDeepThinking: model.Bool(true)},
		},
		{
			description: "Follow-up question",
			request:     model.ChatRequest{Message: "为何 goroutine 比线程轻量？"},
		},
	}

	sessionID := "session-demo0001"
	for i, test := range testQueries {
		req := test.request
		req.SessionID = sessionID
		fmt.Printf("\nTest %d: %s\n", i+1, test.description)
		fmt.Printf("Query: %q\n", req.Message)

		out, err := runner.Execute(ctx, req, model.CallbackFunc(printEvent))
		if err != nil {
			logx.Error().Err(err).Int("test", i+1).Msg("Pipeline invocation failed")
			continue
		}
		if out.Quality != nil {
			fmt.Printf("\nQuality: %.2f  Route: %s\n", out.Quality.Overall, out.Route())
		}
		fmt.Println(strings.Repeat("-", 48))
	}

	stats, err := runner.SessionStats(ctx, sessionID)
	if err != nil {
		logx.Warn().Err(err).Msg("Failed to load session stats")
		return
	}
	fmt.Printf("Session %s holds %d messages\n", stats.SessionID, stats.MessageCount)
}

func printEvent(e model.Event) error {
	switch e.Kind {
	case model.EventStep:
		fmt.Printf("[%s] %s\n", e.Step.Title, e.Step.Content)
	case model.EventContent:
		fmt.Print(e.Content)
	case model.EventSuggestions:
		fmt.Printf("\nSuggestions: %s\n", strings.Join(e.Suggestions, " | "))
	case model.EventError:
		fmt.Printf("\nError: %s\n", e.Error)
	}
	return nil
}

func evictLoop(ctx context.Context, runner *graph.Runner, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshots, thoughts := runner.EvictExpired()
			logx.Debug().Int("snapshots", snapshots).Int("thoughts", thoughts).Msg("Evicted expired entries")
		}
	}
}
