package parsers

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/assistant/internal/core/error"
	logx "github.com/Chative-core-poc-v1/assistant/pkg/logger"
)

const (
	titleOpen  = "【"
	titleClose = "】"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 128 * 1024 // 128KB
	maxSteps      = 50
	maxTitleRunes = 64
	// minStreamRunes is how long a finished section must be before it is
	// emitted while the model is still streaming.
	minStreamRunes = 10
)

// FallbackTitle is used when the model output has no 【title】 sections.
const FallbackTitle = "深度思考"

type section struct {
	Title   string
	Content string
	// Closed is true once another section has started after this one.
	Closed bool
}

// splitSections finds every 【title】content section of s. Text before the
// first title is ignored.
func splitSections(s string) []section {
	var out []section
	rest := s
	for len(out) < maxSteps {
		open := strings.Index(rest, titleOpen)
		if open < 0 {
			break
		}
		rest = rest[open+len(titleOpen):]
		end := strings.Index(rest, titleClose)
		if end < 0 {
			// title still streaming
			break
		}
		title := strings.TrimSpace(rest[:end])
		rest = rest[end+len(titleClose):]

		next := strings.Index(rest, titleOpen)
		sec := section{Title: title}
		if next >= 0 {
			sec.Content = strings.TrimSpace(rest[:next])
			sec.Closed = true
		} else {
			sec.Content = strings.TrimSpace(rest)
		}
		out = append(out, sec)
	}
	return out
}

func (s section) valid() bool {
	return s.Title != "" && s.Content != "" &&
		utf8.RuneCountInString(s.Title) <= maxTitleRunes &&
		utf8.ValidString(s.Title) && utf8.ValidString(s.Content)
}

func (s section) step() model.ThinkingStep {
	return model.NewThinkingStep(StepTypeFor(s.Title), s.Title, s.Content)
}

var stepTypeKeywords = []struct {
	Type     model.StepType
	Keywords []string
}{
	{model.StepAnalyze, []string{"分析", "理解"}},
	{model.StepResearch, []string{"搜集", "信息", "背景"}},
	{model.StepReason, []string{"推理", "思考", "逻辑"}},
	{model.StepSynthesize, []string{"综合", "整理", "整合"}},
	{model.StepValidate, []string{"验证", "检查", "确认"}},
}

// StepTypeFor classifies a step by keywords in its title; the first matching
// type wins and unmatched titles are reasoning steps.
func StepTypeFor(title string) model.StepType {
	for _, k := range stepTypeKeywords {
		for _, kw := range k.Keywords {
			if strings.Contains(title, kw) {
				return k.Type
			}
		}
	}
	return model.StepReason
}

func guardLength(content string) string {
	if len(content) <= maxContentLen {
		return content
	}
	logx.Warn().
		Str("component", "thinking_parser").
		Int("max_len", maxContentLen).
		Int("orig_len", len(content)).
		Msg("content truncated due to size limit")
	content = content[:maxContentLen]
	// do not cut a rune in half
	for !utf8.ValidString(content) && len(content) > 0 {
		content = content[:len(content)-1]
	}
	return content
}

// ParseThinkingSteps parses the complete thinking output. Output without any
// valid section becomes a single reasoning step carrying the raw text; empty
// output yields no steps.
func ParseThinkingSteps(content string) (steps []model.ThinkingStep, err error) {
	// panic safety
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "thinking_parser").Msgf("panic recovered: %v", r)
			err = errx.New(fmt.Errorf("thinking parser panic"), http.StatusInternalServerError, errx.SystemErrorMessage)
			steps = nil
		}
	}()

	content = strings.TrimSpace(guardLength(content))
	if content == "" {
		return nil, nil
	}
	for _, sec := range splitSections(content) {
		if sec.valid() {
			steps = append(steps, sec.step())
		}
	}
	if len(steps) == 0 {
		steps = []model.ThinkingStep{model.NewThinkingStep(model.StepReason, FallbackTitle, content)}
	}
	return steps, nil
}

// StepStream parses thinking output incrementally. Not safe for concurrent use.
type StepStream struct {
	buf     strings.Builder
	emitted []bool
}

func NewStepStream() *StepStream {
	return &StepStream{}
}

// Feed appends a streamed chunk and returns the sections that became complete
// and are long enough to show before the stream ends.
func (s *StepStream) Feed(chunk string) []model.ThinkingStep {
	if chunk == "" || s.buf.Len() >= maxContentLen {
		return nil
	}
	s.buf.WriteString(chunk)

	var out []model.ThinkingStep
	for i, sec := range splitSections(s.buf.String()) {
		if !sec.Closed {
			break
		}
		if s.isEmitted(i) || !sec.valid() {
			continue
		}
		// a short section waits for Finish; later ones must not overtake it
		if utf8.RuneCountInString(sec.Content) <= minStreamRunes {
			break
		}
		s.markEmitted(i)
		out = append(out, sec.step())
	}
	return out
}

// Finish returns the steps not yet emitted and the full parsed result.
func (s *StepStream) Finish() (pending, all []model.ThinkingStep) {
	text := strings.TrimSpace(guardLength(s.buf.String()))
	if text == "" {
		return nil, nil
	}
	for i, sec := range splitSections(text) {
		if !sec.valid() {
			continue
		}
		st := sec.step()
		all = append(all, st)
		if !s.isEmitted(i) {
			s.markEmitted(i)
			pending = append(pending, st)
		}
	}
	if len(all) == 0 {
		st := model.NewThinkingStep(model.StepReason, FallbackTitle, text)
		return []model.ThinkingStep{st}, []model.ThinkingStep{st}
	}
	return pending, all
}

// Text returns everything fed so far.
func (s *StepStream) Text() string {
	return s.buf.String()
}

func (s *StepStream) isEmitted(i int) bool {
	return i < len(s.emitted) && s.emitted[i]
}

func (s *StepStream) markEmitted(i int) {
	for len(s.emitted) <= i {
		s.emitted = append(s.emitted, false)
	}
	s.emitted[i] = true
}
