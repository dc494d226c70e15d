package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	errx "github.com/Chative-core-poc-v1/assistant/internal/core/error"
	logx "github.com/Chative-core-poc-v1/assistant/pkg/logger"
)

const typ = "OpenAICompatible"

const completionsPath = "chat/completions"

// Config configures a ChatModel for an OpenAI-compatible /chat/completions endpoint.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature *float32
	MaxTokens   *int
	// Timeout applies to each attempt including the streamed body.
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

// ChatModel implements eino's ToolCallingChatModel on top of the openai-go client.
type ChatModel struct {
	cfg    Config
	client openai.Client
	tools  []*schema.ToolInfo
}

func NewChatModel(cfg *Config) (*ChatModel, error) {
	if cfg == nil {
		return nil, errors.New("chat model config is nil")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("base url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("model is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, errors.New("max retries must not be negative")
	}

	opts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &ChatModel{cfg: *cfg, client: openai.NewClient(opts...)}, nil
}

func (cm *ChatModel) GetType() string { return typ }

// IsCallbacksEnabled tells eino this component fires its own callbacks.
func (cm *ChatModel) IsCallbacksEnabled() bool { return true }

// WithTools returns a copy of the model that advertises tools on every request.
func (cm *ChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if len(tools) == 0 {
		return nil, errors.New("no tools to bind")
	}
	out := *cm
	out.tools = append([]*schema.ToolInfo(nil), tools...)
	return &out, nil
}

func (cm *ChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (outMsg *schema.Message, err error) {
	ctx = callbacks.EnsureRunInfo(ctx, cm.GetType(), components.ComponentOfChatModel)

	params, cbIn, err := cm.buildParams(in, false, opts...)
	if err != nil {
		return nil, err
	}
	ctx = callbacks.OnStart(ctx, cbIn)
	defer func() {
		if err != nil {
			callbacks.OnError(ctx, err)
		}
	}()

	resp, err := cm.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, cm.upstreamError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errx.Upstream(errors.New("completion has no choices"))
	}

	choice := resp.Choices[0]
	outMsg = &schema.Message{
		Role:      schema.Assistant,
		Content:   choice.Message.Content,
		ToolCalls: toolCallsToSchema(choice.Message.ToolCalls),
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: choice.FinishReason,
		},
	}
	var usage *model.TokenUsage
	if resp.JSON.Usage.Valid() {
		outMsg.ResponseMeta.Usage = usageToSchema(resp.Usage)
		usage = usageToCallback(resp.Usage)
	}

	callbacks.OnEnd(ctx, &model.CallbackOutput{
		Message:    outMsg,
		Config:     cbIn.Config,
		TokenUsage: usage,
	})
	return outMsg, nil
}

// Stream posts a streaming request and returns a reader of delta messages.
// Malformed or null chunks are skipped; the stream ends at [DONE]. The last
// message carries usage when the server reports it.
func (cm *ChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (outStream *schema.StreamReader[*schema.Message], err error) {
	ctx = callbacks.EnsureRunInfo(ctx, cm.GetType(), components.ComponentOfChatModel)

	params, cbIn, err := cm.buildParams(in, true, opts...)
	if err != nil {
		return nil, err
	}
	ctx = callbacks.OnStart(ctx, cbIn)
	defer func() {
		if err != nil {
			callbacks.OnError(ctx, err)
		}
	}()

	// The raw body is read here: the client's own stream decoder stops at
	// the first undecodable event instead of skipping it.
	var resp *http.Response
	err = cm.client.Post(ctx, completionsPath, params, &resp,
		option.WithJSONSet("stream", true),
		option.WithHeader("Accept", "text/event-stream"),
	)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, cm.upstreamError(err)
	}

	sr, sw := schema.Pipe[*model.CallbackOutput](1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				sw.Send(nil, errx.Upstream(fmt.Errorf("stream panic: %v", r)))
			}
			resp.Body.Close()
			sw.Close()
		}()

		reader := newSSEReader(resp.Body)
		for {
			data, err := reader.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				sw.Send(nil, errx.Upstream(err))
				return
			}

			var chunk openai.ChatCompletionChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				logx.Warn().Err(err).Str("chunk", truncate(data, 200)).Msg("Skipping malformed stream chunk")
				continue
			}
			out, ok := chunkToCallback(chunk)
			if !ok {
				continue
			}
			out.Config = cbIn.Config
			if closed := sw.Send(out, nil); closed {
				// consumer stopped reading
				return
			}
		}
	}()

	_, nsr := callbacks.OnEndWithStreamOutput(ctx, sr)
	return schema.StreamReaderWithConvert(nsr, func(src *model.CallbackOutput) (*schema.Message, error) {
		if src.Message == nil {
			return nil, schema.ErrNoValue
		}
		return src.Message, nil
	}), nil
}

func (cm *ChatModel) buildParams(in []*schema.Message, stream bool, opts ...model.Option) (openai.ChatCompletionNewParams, *model.CallbackInput, error) {
	var params openai.ChatCompletionNewParams
	if len(in) == 0 {
		return params, nil, errors.New("no input messages")
	}
	o := model.GetCommonOptions(&model.Options{
		Temperature: cm.cfg.Temperature,
		MaxTokens:   cm.cfg.MaxTokens,
		Model:       &cm.cfg.Model,
		Tools:       cm.tools,
	}, opts...)

	conf := &model.Config{Model: cm.cfg.Model, Stop: o.Stop}
	if o.Model != nil && *o.Model != "" {
		conf.Model = *o.Model
	}
	params.Model = conf.Model
	if o.Temperature != nil {
		conf.Temperature = *o.Temperature
		params.Temperature = openai.Float(float64(*o.Temperature))
	}
	if o.MaxTokens != nil {
		conf.MaxTokens = *o.MaxTokens
		params.MaxTokens = openai.Int(int64(*o.MaxTokens))
	}
	if len(o.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: o.Stop}
	}
	if stream {
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	}

	for _, m := range in {
		if m == nil {
			continue
		}
		params.Messages = append(params.Messages, messageToParam(m))
	}
	for _, t := range o.Tools {
		tp, err := toolToParam(t)
		if err != nil {
			return params, nil, err
		}
		params.Tools = append(params.Tools, tp)
	}
	return params, &model.CallbackInput{Messages: in, Tools: o.Tools, Config: conf}, nil
}

// upstreamError maps client failures to a 502. API errors keep their status
// code in the message.
func (cm *ChatModel) upstreamError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		logx.Error().Int("status", apiErr.StatusCode).Str("model", cm.cfg.Model).Msg("Completion API returned an error")
		return errx.Upstream(fmt.Errorf("status %d: %w", apiErr.StatusCode, err))
	}
	logx.Error().Err(err).Str("model", cm.cfg.Model).Msg("Completion request failed")
	return errx.Upstream(err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ model.ToolCallingChatModel = (*ChatModel)(nil)
