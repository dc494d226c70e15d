package model

import "time"

// ================ Config ================

// LLMConfig selects and authenticates the completion provider.
type LLMConfig struct {
	Provider   string        `envconfig:"LLM_PROVIDER" default:"openai"`
	APIKey     string        `envconfig:"LLM_API_KEY"`
	BaseURL    string        `envconfig:"LLM_BASE_URL" default:"https://api.openai.com/v1"`
	Model      string        `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	Timeout    time.Duration `envconfig:"LLM_TIMEOUT" default:"120s"`
	MaxRetries int           `envconfig:"LLM_MAX_RETRIES" default:"2"`
}

type ChatModelConfig struct {
	MaxTokens   int     `envconfig:"CHAT_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"CHAT_TEMPERATURE" default:"0.7"`
}

type ThinkingConfig struct {
	MaxTokens      int           `envconfig:"THINKING_MAX_TOKENS" default:"4000"`
	Temperature    float32       `envconfig:"THINKING_TEMPERATURE" default:"0.7"`
	CacheTTL       time.Duration `envconfig:"THINKING_CACHE_TTL" default:"1h"`
	SweepThreshold int           `envconfig:"THINKING_CACHE_SWEEP_THRESHOLD" default:"100"`
	ReplayDelay    time.Duration `envconfig:"THINKING_REPLAY_DELAY" default:"50ms"`
}

type MemoryConfig struct {
	WindowSize         int           `envconfig:"MEMORY_WINDOW_SIZE" default:"10"`
	RelevanceThreshold float64       `envconfig:"MEMORY_RELEVANCE_THRESHOLD" default:"0.3"`
	MaxHistory         int           `envconfig:"MEMORY_MAX_HISTORY" default:"50"`
	KeepRecent         int           `envconfig:"MEMORY_KEEP_RECENT" default:"3"`
	CleanupKeepRecent  int           `envconfig:"MEMORY_CLEANUP_KEEP_RECENT" default:"5"`
	SnapshotTTL        time.Duration `envconfig:"MEMORY_SNAPSHOT_TTL" default:"1h"`
	HistoryTTL         time.Duration `envconfig:"MEMORY_HISTORY_TTL" default:"24h"`
}

type CacheConfig struct {
	Enabled    bool          `envconfig:"CACHE_ENABLED" default:"true"`
	TTL        time.Duration `envconfig:"CACHE_TTL" default:"30m"`
	MaxEntries int           `envconfig:"CACHE_MAX_ENTRIES" default:"1000"`
}

type ToolsConfig struct {
	MaxCalls int `envconfig:"TOOLS_MAX_CALLS" default:"5"`
}

type PipelineConfig struct {
	WorkerPoolSize   int           `envconfig:"PIPELINE_WORKER_POOL_SIZE" default:"64"`
	MaxMessageLength int           `envconfig:"PIPELINE_MAX_MESSAGE_LENGTH" default:"10000"`
	StatsTTL         time.Duration `envconfig:"PIPELINE_STATS_TTL" default:"24h"`
}

// Defaults mirror the envconfig defaults for callers that build configs in code.

func DefaultChatModelConfig() ChatModelConfig {
	return ChatModelConfig{MaxTokens: 2000, Temperature: 0.7}
}

func DefaultThinkingConfig() ThinkingConfig {
	return ThinkingConfig{
		MaxTokens:      4000,
		Temperature:    0.7,
		CacheTTL:       time.Hour,
		SweepThreshold: 100,
		ReplayDelay:    50 * time.Millisecond,
	}
}

func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		WindowSize:         10,
		RelevanceThreshold: 0.3,
		MaxHistory:         50,
		KeepRecent:         3,
		CleanupKeepRecent:  5,
		SnapshotTTL:        time.Hour,
		HistoryTTL:         24 * time.Hour,
	}
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Enabled: true, TTL: 30 * time.Minute, MaxEntries: 1000}
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{WorkerPoolSize: 64, MaxMessageLength: 10000, StatsTTL: 24 * time.Hour}
}
