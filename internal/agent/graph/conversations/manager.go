package conversations

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
	"github.com/Chative-core-poc-v1/assistant/pkg/cache"
	logx "github.com/Chative-core-poc-v1/assistant/pkg/logger"
)

// recencyDecay is the per-position exponential decay applied to lexical overlap.
const recencyDecay = 0.1

// MemoryManager loads, compresses and persists per-session conversation memory.
// Relevance snapshots are kept per session and expire after the snapshot TTL.
type MemoryManager struct {
	conversationRepo model.ConversationRepository
	cfg              model.MemoryConfig
	clock            cache.Clock
	snapshots        *cache.Cache[string, model.ContextRelevance]
}

// SessionStats summarizes stored memory for one session.
type SessionStats struct {
	SessionID        string    `json:"session_id"`
	MessageCount     int       `json:"message_count"`
	AverageRelevance float64   `json:"average_relevance"`
	Timestamp        time.Time `json:"timestamp"`
}

func NewMemoryManager(conversationRepo model.ConversationRepository, cfg model.MemoryConfig, clock cache.Clock) *MemoryManager {
	if clock == nil {
		clock = cache.SystemClock
	}
	def := model.DefaultMemoryConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = def.MaxHistory
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = def.KeepRecent
	}
	if cfg.CleanupKeepRecent <= 0 {
		cfg.CleanupKeepRecent = def.CleanupKeepRecent
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = def.SnapshotTTL
	}
	return &MemoryManager{
		conversationRepo: conversationRepo,
		cfg:              cfg,
		clock:            clock,
		snapshots: cache.New[string, model.ContextRelevance](
			cache.WithClock(clock),
			cache.WithTTL(cfg.SnapshotTTL),
		),
	}
}

// =========== Load ===========

// LoadContext loads the session history, scores it against message and
// compresses it. It never fails: any error yields a degraded empty context.
func (mm *MemoryManager) LoadContext(ctx context.Context, sessionID, message string) (out model.Outcome[*model.MemoryContext]) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("load context panic: %v", r)
			logx.Error().Str("session_id", sessionID).Err(err).Msg("Memory load recovered from panic")
			out = model.Degraded(mm.emptyContext(sessionID), err)
		}
	}()

	history, err := mm.conversationRepo.LoadHistory(ctx, sessionID)
	if err != nil {
		logx.Warn().Str("session_id", sessionID).Err(err).Msg("Failed to load history - using empty context")
		return model.Degraded(mm.emptyContext(sessionID), err)
	}

	now := mm.clock.Now()
	msgs := history.Messages
	rel := model.ContextRelevance{Scores: Relevance(message, msgs), Timestamp: now}
	mm.snapshots.Put(sessionID, rel)

	memCtx := &model.MemoryContext{
		SessionID:  sessionID,
		History:    msgs,
		Compressed: mm.Compress(msgs, rel),
		Relevance:  rel,
		Timestamp:  now,
	}
	logx.Debug().
		Str("session_id", sessionID).
		Int("history", len(msgs)).
		Int("compressed", len(memCtx.Compressed)).
		Float64("average_relevance", rel.Average()).
		Msg("Memory context loaded")
	return model.Ok(memCtx)
}

func (mm *MemoryManager) emptyContext(sessionID string) *model.MemoryContext {
	c := model.EmptyMemoryContext(sessionID)
	c.Timestamp = mm.clock.Now()
	c.Relevance.Timestamp = c.Timestamp
	return c
}

// Compress returns history unchanged when it fits the window. Otherwise it
// keeps up to WindowSize entries scoring at least the threshold plus the
// KeepRecent most recent entries, in chronological order.
func (mm *MemoryManager) Compress(history []*schema.Message, rel model.ContextRelevance) []*schema.Message {
	if len(history) <= mm.cfg.WindowSize {
		return append([]*schema.Message(nil), history...)
	}
	keep := rel.TopIndices(mm.cfg.WindowSize, mm.cfg.RelevanceThreshold)
	keep = withRecent(keep, len(history), mm.cfg.KeepRecent)

	out := make([]*schema.Message, 0, len(keep))
	for _, i := range keep {
		out = append(out, history[i])
	}
	return out
}

// =========== Save ===========

// SaveContext appends the turn to the session history, refreshes the
// relevance snapshot and runs cleanup.
func (mm *MemoryManager) SaveContext(ctx context.Context, sessionID string, memCtx *model.MemoryContext, userMessage, assistantResponse string) error {
	if err := mm.conversationRepo.AddMessage(ctx, sessionID, schema.UserMessage(userMessage)); err != nil {
		return fmt.Errorf("save user message: %w", err)
	}
	if err := mm.conversationRepo.AddMessage(ctx, sessionID, schema.AssistantMessage(assistantResponse, nil)); err != nil {
		return fmt.Errorf("save assistant message: %w", err)
	}

	history, err := mm.conversationRepo.LoadHistory(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("reload history: %w", err)
	}
	mm.snapshots.Put(sessionID, model.ContextRelevance{
		Scores:    Relevance(userMessage, history.Messages),
		Timestamp: mm.clock.Now(),
	})

	prev := 0
	if memCtx != nil {
		prev = len(memCtx.History)
	}
	logx.Debug().
		Str("session_id", sessionID).
		Int("before", prev).
		Int("after", len(history.Messages)).
		Msg("Memory context saved")

	return mm.Cleanup(ctx, sessionID)
}

// Cleanup trims a history longer than MaxHistory to the top
// MaxHistory-CleanupKeepRecent entries by cached relevance plus the
// CleanupKeepRecent most recent, in chronological order. Without a relevance
// snapshot it does nothing.
func (mm *MemoryManager) Cleanup(ctx context.Context, sessionID string) error {
	history, err := mm.conversationRepo.LoadHistory(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load history for cleanup: %w", err)
	}
	msgs := history.Messages
	if len(msgs) <= mm.cfg.MaxHistory {
		return nil
	}
	rel, ok := mm.snapshots.Get(sessionID)
	if !ok {
		logx.Debug().Str("session_id", sessionID).Msg("No relevance snapshot - skipping cleanup")
		return nil
	}

	keep := rel.TopIndices(mm.cfg.MaxHistory-mm.cfg.CleanupKeepRecent, mm.cfg.RelevanceThreshold)
	keep = withRecent(keep, len(msgs), mm.cfg.CleanupKeepRecent)

	kept := make([]*schema.Message, 0, len(keep))
	scores := make(map[int]float64, len(keep))
	for _, i := range keep {
		if i >= len(msgs) {
			continue
		}
		scores[len(kept)] = rel.Scores[i]
		kept = append(kept, msgs[i])
	}
	if err := mm.conversationRepo.ReplaceHistory(ctx, sessionID, kept); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	// indices shift after trimming
	mm.snapshots.Put(sessionID, model.ContextRelevance{Scores: scores, Timestamp: rel.Timestamp})

	logx.Info().
		Str("session_id", sessionID).
		Int("before", len(msgs)).
		Int("after", len(kept)).
		Msg("History cleanup done")
	return nil
}

// EvictExpiredSnapshots purges expired relevance snapshots and returns how many were removed.
func (mm *MemoryManager) EvictExpiredSnapshots() int {
	return mm.snapshots.EvictExpired()
}

// Snapshot returns the live relevance snapshot of a session.
func (mm *MemoryManager) Snapshot(sessionID string) (model.ContextRelevance, bool) {
	return mm.snapshots.Get(sessionID)
}

// Stats reports the stored message count and the average cached relevance.
func (mm *MemoryManager) Stats(ctx context.Context, sessionID string) (SessionStats, error) {
	n, err := mm.conversationRepo.GetMessageCount(ctx, sessionID)
	if err != nil {
		return SessionStats{}, err
	}
	st := SessionStats{SessionID: sessionID, MessageCount: n, Timestamp: mm.clock.Now()}
	if rel, ok := mm.snapshots.Get(sessionID); ok {
		st.AverageRelevance = rel.Average()
	}
	return st, nil
}

// ====================== Relevance ======================

// Relevance scores each history entry as the Jaccard overlap of its tokens
// with current, decayed by exp(-0.1 * gap) where gap is 0 for the last entry.
func Relevance(current string, history []*schema.Message) map[int]float64 {
	scores := make(map[int]float64, len(history))
	query := wordSet(current)
	n := len(history)
	for i, msg := range history {
		content := ""
		if msg != nil {
			content = msg.Content
		}
		gap := float64(n - 1 - i)
		scores[i] = jaccard(query, wordSet(content)) * math.Exp(-recencyDecay*gap)
	}
	return scores
}

// wordSet tokenizes s into lowercase words. Han characters are tokens of
// their own since Chinese text has no spaces.
func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			set[word.String()] = struct{}{}
			word.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			set[string(r)] = struct{}{}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// withRecent adds the last recent indices of an n-long history to keep and
// returns the deduplicated indices in ascending order.
func withRecent(keep []int, n, recent int) []int {
	seen := make(map[int]bool, len(keep)+recent)
	out := make([]int, 0, len(keep)+recent)
	for _, i := range keep {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	for i := max(0, n-recent); i < n; i++ {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}
