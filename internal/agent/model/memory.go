package model

import (
	"sort"
	"time"

	"github.com/cloudwego/eino/schema"
)

// ContextRelevance maps history indices to relevance scores in [0,1].
type ContextRelevance struct {
	Scores    map[int]float64 `json:"scores"`
	Timestamp time.Time       `json:"timestamp"`
}

// Average returns the mean score, 0 for an empty snapshot.
func (r ContextRelevance) Average() float64 {
	if len(r.Scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range r.Scores {
		sum += s
	}
	return sum / float64(len(r.Scores))
}

// TopIndices returns up to k indices scoring at least threshold, highest score
// first. Ties keep the more recent (higher) index first.
func (r ContextRelevance) TopIndices(k int, threshold float64) []int {
	if k <= 0 {
		return nil
	}
	idx := make([]int, 0, len(r.Scores))
	for i, s := range r.Scores {
		if s >= threshold {
			idx = append(idx, i)
		}
	}
	sort.Slice(idx, func(a, b int) bool {
		sa, sb := r.Scores[idx[a]], r.Scores[idx[b]]
		if sa != sb {
			return sa > sb
		}
		return idx[a] > idx[b]
	})
	if len(idx) > k {
		idx = idx[:k]
	}
	return idx
}

// MemoryContext is the session memory made available to generation.
type MemoryContext struct {
	SessionID  string            `json:"session_id"`
	History    []*schema.Message `json:"history"`
	Compressed []*schema.Message `json:"compressed"`
	Relevance  ContextRelevance  `json:"relevance"`
	Timestamp  time.Time         `json:"timestamp"`
}

// EmptyMemoryContext is the degraded default used when loading fails.
func EmptyMemoryContext(sessionID string) *MemoryContext {
	return &MemoryContext{
		SessionID: sessionID,
		Relevance: ContextRelevance{Scores: map[int]float64{}, Timestamp: time.Now()},
		Timestamp: time.Now(),
	}
}
