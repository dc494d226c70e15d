// Package preprocess validates, normalizes and routes incoming chat requests.
package preprocess

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/assistant/internal/core/error"
	logx "github.com/Chative-core-poc-v1/assistant/pkg/logger"
)

const (
	DefaultMaxMessageLength = 10000
	simpleMaxRunes          = 20
	complexMinRunes         = 100
)

var (
	greetingKeywords = []string{"你好", "谢谢", "再见"}
	greetingWords    = map[string]bool{"hello": true, "hi": true, "hey": true, "thanks": true, "thank": true, "bye": true, "goodbye": true}
	complexKeywords  = []string{"分析", "比较", "解释", "如何", "为什么"}
)

type Config struct {
	Cache            model.CacheConfig
	MaxMessageLength int
}

type Preprocessor struct {
	results model.ResultStore
	cfg     Config
}

// NewPreprocessor builds a preprocessor. results may be nil, which disables
// the request cache.
func NewPreprocessor(results model.ResultStore, cfg Config) *Preprocessor {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	if results == nil {
		cfg.Cache.Enabled = false
	}
	return &Preprocessor{results: results, cfg: cfg}
}

// Validate rejects empty or oversized messages. Length is counted in runes.
func (p *Preprocessor) Validate(req model.ChatRequest) error {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return errx.InvalidRequestf("message must not be empty")
	}
	if n := utf8.RuneCountInString(msg); n > p.cfg.MaxMessageLength {
		return errx.InvalidRequestf("message too long: %d characters, max %d", n, p.cfg.MaxMessageLength)
	}
	return nil
}

// Preprocess validates and normalizes req, checks the request cache and picks a route.
func (p *Preprocessor) Preprocess(ctx context.Context, req model.ChatRequest) (*model.ProcessedRequest, error) {
	start := time.Now()
	if err := p.Validate(req); err != nil {
		logx.Warn().Err(err).Msg("Request rejected")
		return nil, err
	}

	n := Normalize(req)
	out := &model.ProcessedRequest{
		Request:   n,
		SessionID: n.SessionID,
		Route:     DetermineRoute(n),
		Cache:     p.checkCache(ctx, n),
	}
	out.Duration = time.Since(start)

	logx.Debug().
		Str("session_id", out.SessionID).
		Str("route", out.Route.String()).
		Bool("cache_hit", out.Cache.Hit).
		Dur("elapsed", out.Duration).
		Msg("Request preprocessed")
	return out, nil
}

// Remember stores a generated response under the request's cache key.
func (p *Preprocessor) Remember(ctx context.Context, processed *model.ProcessedRequest, response string) error {
	if !p.cfg.Cache.Enabled || processed == nil || strings.TrimSpace(response) == "" {
		return nil
	}
	key := processed.Cache.Key
	if key == "" {
		key = CacheKey(processed.Request)
	}
	if err := p.results.Put(ctx, key, response, p.cfg.Cache.TTL); err != nil {
		return fmt.Errorf("cache response: %w", err)
	}
	logx.Debug().Str("session_id", processed.SessionID).Str("key", key).Msg("Response cached")
	return nil
}

// checkCache reports a miss when the cache is disabled or unavailable.
func (p *Preprocessor) checkCache(ctx context.Context, n model.NormalizedRequest) model.CacheResult {
	res := model.CacheResult{Key: CacheKey(n), Timestamp: time.Now()}
	if !p.cfg.Cache.Enabled {
		return res
	}
	payload, ok, err := p.results.Get(ctx, res.Key)
	if err != nil {
		logx.Warn().Err(err).Str("key", res.Key).Msg("Request cache lookup failed - treating as miss")
		return res
	}
	if ok {
		res.Hit = true
		res.Payload = payload
	}
	return res
}

// Normalize trims the message, resolves flag defaults and assigns a session id.
func Normalize(req model.ChatRequest) model.NormalizedRequest {
	n := model.NormalizedRequest{
		Message:            strings.TrimSpace(req.Message),
		SessionID:          strings.TrimSpace(req.SessionID),
		SaveHistory:        true,
		EnableDeepThinking: false,
	}
	if req.SaveHistory != nil {
		n.SaveHistory = *req.SaveHistory
	}
	if req.EnableDeepThinking != nil {
		n.EnableDeepThinking = *req.EnableDeepThinking
	}
	if n.SessionID == "" {
		n.SessionID = NewSessionID()
	}
	return n
}

// NewSessionID returns "session-" followed by 8 hex characters.
func NewSessionID() string {
	return "session-" + uuid.NewString()[:8]
}

// CacheKey is a deterministic key over the message and both flags.
func CacheKey(n model.NormalizedRequest) string {
	sum := sha256.Sum256([]byte(n.Message))
	return fmt.Sprintf("req_%s_%t_%t", hex.EncodeToString(sum[:8]), n.EnableDeepThinking, n.SaveHistory)
}

// DetermineRoute classifies a normalized request. A deep-thinking request is
// never downgraded; the greeting check only applies without it.
func DetermineRoute(n model.NormalizedRequest) model.Route {
	switch {
	case n.EnableDeepThinking && isComplex(n.Message):
		return model.RouteDeepThinkingWithTools
	case n.EnableDeepThinking:
		return model.RouteDeepThinkingSimple
	case isSimple(n.Message):
		return model.RouteSimpleChat
	default:
		return model.RouteStandardChat
	}
}

func isSimple(msg string) bool {
	if utf8.RuneCountInString(msg) > simpleMaxRunes {
		return false
	}
	for _, kw := range greetingKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	words := strings.FieldsFunc(strings.ToLower(msg), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if greetingWords[w] {
			return true
		}
	}
	return false
}

func isComplex(msg string) bool {
	if utf8.RuneCountInString(msg) > complexMinRunes {
		return true
	}
	for _, kw := range complexKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
