// Package openaicompat is the shared implementation behind every adapter
// that speaks the OpenAI chat-completions wire format: OpenAI itself, xAI
// (api.x.ai is OpenAI-wire-compatible), and local servers (Ollama, vLLM,
// llama.cpp all expose an OpenAI-compatible /v1/chat/completions). The
// openai and xai packages return this Adapter configured with their own
// base URL and default model; local embeds it and replaces the health
// check.
package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/schema"
)

// Config configures one OpenAI-wire-compatible upstream.
type Config struct {
	ProviderName string
	BaseURL      string
	APIKey       string // empty for local upstreams; no Authorization header is sent
	DefaultModel string
	Timeout      time.Duration

	// HealthPath is kept on the Config and defaults to "/models".
	// HealthCheck does not read it: it lists models through the SDK's
	// Models.List call, which uses the SDK's own models route.
	HealthPath string

	// Models is the static capability list GetModels returns. Local
	// adapters populate this with just their configured default model,
	// since local models are dynamic (the operator pulls what they want).
	Models []schema.ModelCapabilities
}

// openaiClient is the seam mocked out in tests.
type openaiClient interface {
	createChatCompletion(ctx context.Context, params openaisdk.ChatCompletionNewParams) (*openaisdk.ChatCompletion, error)
	streamChatCompletion(ctx context.Context, params openaisdk.ChatCompletionNewParams, emit func(openaisdk.ChatCompletionChunk)) error
	createEmbedding(ctx context.Context, params openaisdk.EmbeddingNewParams) (*openaisdk.CreateEmbeddingResponse, error)
	listModels(ctx context.Context) error
}

// Adapter is returned by the openai and xai provider packages and
// embedded by the local one.
// Adapters built on it must not add retry loops of their own — retry and
// fallback belong to the router.
type Adapter struct {
	cfg    Config
	client openaiClient
}

// New builds the shared adapter core. Each wrapping package supplies a
// Config with its own base URL and defaults.
func New(cfg Config) *Adapter {
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/models"
	}
	return &Adapter{
		cfg:    cfg,
		client: &defaultClient{cfg: cfg},
	}
}

func (a *Adapter) Name() string { return a.cfg.ProviderName }

func (a *Adapter) Chat(ctx context.Context, req schema.ChatRequest) (schema.ChatResponse, error) {
	start := time.Now()
	params := a.buildParams(req)

	resp, err := a.client.createChatCompletion(ctx, params)
	if err != nil {
		return schema.ChatResponse{}, a.classify(err)
	}

	out := translateResponse(resp, a.cfg.ProviderName, req.Model)
	l := schema.NewLineage(a.cfg.ProviderName, out.Model, time.Since(start))
	out.Lineage = &l
	out.Normalize()
	return out, nil
}

func (a *Adapter) ChatStream(ctx context.Context, req schema.ChatRequest, emit provider.StreamFunc) error {
	params := a.buildParams(req)

	var emitErr error
	started := false
	toolCallNames := map[int64]string{}

	err := a.client.streamChatCompletion(ctx, params, func(chunk openaisdk.ChatCompletionChunk) {
		if emitErr != nil {
			return
		}
		if !started {
			started = true
			emitErr = emit(schema.StreamFrame{Type: schema.FrameStart, ID: chunk.ID, Model: chunk.Model})
			if emitErr != nil {
				return
			}
		}
		if len(chunk.Choices) == 0 {
			return
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			emitErr = emit(schema.StreamFrame{Type: schema.FrameContent, Content: choice.Delta.Content})
			if emitErr != nil {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			name := toolCallNames[tc.Index]
			if tc.Function.Name != "" {
				name = tc.Function.Name
				toolCallNames[tc.Index] = name
			}
			emitErr = emit(schema.StreamFrame{
				Type:          schema.FrameToolCall,
				ToolCallID:    tc.ID,
				ToolCallName:  name,
				ToolCallDelta: json.RawMessage(fmt.Sprintf("%q", tc.Function.Arguments)),
			})
			if emitErr != nil {
				return
			}
		}
		if choice.FinishReason != "" {
			emitErr = emit(schema.StreamFrame{Type: schema.FrameStop, FinishReason: mapFinishReason(choice.FinishReason)})
		}
	})
	if err != nil {
		_ = emit(schema.StreamFrame{Type: schema.FrameStop, FinishReason: schema.FinishError})
		return a.classify(err)
	}
	return emitErr
}

func (a *Adapter) Embed(ctx context.Context, req schema.EmbeddingRequest) (schema.EmbeddingResponse, error) {
	model := req.Model
	if model == "" {
		model = a.cfg.DefaultModel
	}
	params := openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(model),
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: req.Input},
	}
	resp, err := a.client.createEmbedding(ctx, params)
	if err != nil {
		return schema.EmbeddingResponse{}, a.classify(err)
	}

	embeddings := make([]schema.Embedding, 0, len(resp.Data))
	for _, d := range resp.Data {
		embeddings = append(embeddings, schema.Embedding{Vector: d.Embedding, Index: int(d.Index)})
	}

	return schema.EmbeddingResponse{
		Embeddings: embeddings,
		Model:      resp.Model,
		Provider:   a.cfg.ProviderName,
		Usage: schema.Usage{
			InputTokens: int(resp.Usage.PromptTokens),
			TotalTokens: int(resp.Usage.TotalTokens),
		},
		Timestamp: time.Now().UTC(),
	}, nil
}

func (a *Adapter) GetModels() []schema.ModelCapabilities { return a.cfg.Models }

func (a *Adapter) HealthCheck(ctx context.Context) provider.HealthStatus {
	start := time.Now()
	err := a.client.listModels(ctx)
	latency := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		return provider.HealthStatus{Status: "unhealthy", LatencyMS: latency, Error: err.Error()}
	}
	return provider.HealthStatus{Status: "healthy", LatencyMS: latency}
}

func (a *Adapter) Close() error { return nil }

func (a *Adapter) buildParams(req schema.ChatRequest) openaisdk.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = a.cfg.DefaultModel
	}
	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(model),
		Messages: convertMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openaisdk.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openaisdk.Float(*req.TopP)
	}
	if len(req.Stop) > 0 {
		params.Stop = openaisdk.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	if tc, ok := buildToolChoice(req.ToolChoice); ok {
		params.ToolChoice = tc
	}
	if req.Thinking != nil && req.Thinking.Enabled {
		params.ReasoningEffort = reasoningEffort(req.Thinking.BudgetTokens)
	}
	return params
}

// reasoningEffort maps the canonical thinking budget onto the discrete
// effort tiers the OpenAI-wire reasoning models accept. There is no
// budget floor to clamp to here; the tiers are the whole knob.
func reasoningEffort(budget int) shared.ReasoningEffort {
	switch {
	case budget > 0 && budget < 2048:
		return shared.ReasoningEffortLow
	case budget >= 16384:
		return shared.ReasoningEffortHigh
	default:
		return shared.ReasoningEffortMedium
	}
}

// buildToolChoice translates the canonical ToolChoice value into the
// OpenAI-wire ChatCompletionToolChoiceOptionUnionParam, which exposes its
// "auto"/"required"/"none" modes through the OfAuto string variant (the
// OpenAI-compatible APIs this package fronts pass these through verbatim;
// no per-provider remapping is needed the way Anthropic's tool_choice
// shape needs one). An explicit tool name or a raw per-upstream object is
// left untranslated rather than guessed at.
func buildToolChoice(raw json.RawMessage) (openaisdk.ChatCompletionToolChoiceOptionUnionParam, bool) {
	if len(raw) == 0 {
		return openaisdk.ChatCompletionToolChoiceOptionUnionParam{}, false
	}
	var mode string
	if err := json.Unmarshal(raw, &mode); err != nil {
		return openaisdk.ChatCompletionToolChoiceOptionUnionParam{}, false
	}
	switch mode {
	case "auto", "required", "none":
		return openaisdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openaisdk.String(mode)}, true
	default:
		return openaisdk.ChatCompletionToolChoiceOptionUnionParam{}, false
	}
}

func (a *Adapter) classify(err error) error {
	if apiErr, ok := err.(*openaisdk.Error); ok {
		return provider.NewError(a.cfg.ProviderName, apiErr.StatusCode, apiErr.Message, err)
	}
	return provider.NewError(a.cfg.ProviderName, 0, err.Error(), err)
}

func convertMessages(messages []schema.Message) []openaisdk.ChatCompletionMessageParamUnion {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		text := msg.Text
		if !msg.IsScalar() {
			var sb strings.Builder
			for _, b := range msg.Blocks {
				if b.Type == schema.ContentText {
					sb.WriteString(b.Text)
				}
			}
			text = sb.String()
		}
		switch msg.Role {
		case schema.RoleSystem:
			result = append(result, openaisdk.SystemMessage(text))
		case schema.RoleUser:
			result = append(result, userMessage(msg, text))
		case schema.RoleAssistant:
			result = append(result, openaisdk.AssistantMessage(text))
		case schema.RoleTool:
			result = append(result, openaisdk.ToolMessage(text, msg.ToolCallID))
		default:
			result = append(result, openaisdk.UserMessage(text))
		}
	}
	return result
}

// userMessage packages image content blocks into the SDK's multi-part
// message shape when present; text-only content collapses to a scalar
// string, which every OpenAI-compatible upstream accepts.
func userMessage(msg schema.Message, text string) openaisdk.ChatCompletionMessageParamUnion {
	if msg.IsScalar() {
		return openaisdk.UserMessage(text)
	}
	hasImage := false
	for _, b := range msg.Blocks {
		if b.Type == schema.ContentImage {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return openaisdk.UserMessage(text)
	}
	parts := make([]openaisdk.ChatCompletionContentPartUnionParam, 0, len(msg.Blocks))
	for _, b := range msg.Blocks {
		switch b.Type {
		case schema.ContentText:
			parts = append(parts, openaisdk.TextContentPart(b.Text))
		case schema.ContentImage:
			url := b.ImageURL
			if url == "" && b.ImageBase64 != "" {
				mediaType := b.MediaType
				if mediaType == "" {
					mediaType = "image/jpeg"
				}
				url = fmt.Sprintf("data:%s;base64,%s", mediaType, b.ImageBase64)
			}
			parts = append(parts, openaisdk.ImageContentPart(openaisdk.ChatCompletionContentPartImageImageURLParam{URL: url}))
		}
	}
	return openaisdk.UserMessage(parts)
}

func convertTools(tools []schema.Tool) []openaisdk.ChatCompletionToolParam {
	result := make([]openaisdk.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		var params map[string]any
		_ = json.Unmarshal(t.Parameters, &params)
		result = append(result, openaisdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openaisdk.String(t.Description),
				Parameters:  shared.FunctionParameters(params),
			},
		})
	}
	return result
}

func mapFinishReason(reason string) schema.FinishReason {
	switch reason {
	case "stop":
		return schema.FinishStop
	case "tool_calls", "function_call":
		return schema.FinishToolCalls
	case "length":
		return schema.FinishLength
	case "content_filter":
		return schema.FinishContentFilter
	default:
		return schema.FinishStop
	}
}

func translateResponse(resp *openaisdk.ChatCompletion, providerName, requestedModel string) schema.ChatResponse {
	out := schema.ChatResponse{ID: resp.ID, Provider: providerName, Model: resp.Model}
	if out.Model == "" {
		out.Model = requestedModel
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
			ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	out.FinishReason = mapFinishReason(choice.FinishReason)
	out.Usage = &schema.Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:  int(resp.Usage.TotalTokens),
	}
	if resp.Usage.CompletionTokensDetails.ReasoningTokens > 0 {
		v := int(resp.Usage.CompletionTokensDetails.ReasoningTokens)
		out.Usage.ReasoningTokens = &v
	}
	return out
}

// defaultClient wraps the real OpenAI SDK, pointed at whatever base URL
// the embedding family configured.
type defaultClient struct {
	cfg Config
}

func (c *defaultClient) sdkClient() openaisdk.Client {
	opts := []option.RequestOption{}
	if c.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.cfg.BaseURL))
	}
	if c.cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(c.cfg.APIKey))
	}
	return openaisdk.NewClient(opts...)
}

func (c *defaultClient) createChatCompletion(ctx context.Context, params openaisdk.ChatCompletionNewParams) (*openaisdk.ChatCompletion, error) {
	return c.sdkClient().Chat.Completions.New(ctx, params)
}

func (c *defaultClient) streamChatCompletion(ctx context.Context, params openaisdk.ChatCompletionNewParams, emit func(openaisdk.ChatCompletionChunk)) error {
	stream := c.sdkClient().Chat.Completions.NewStreaming(ctx, params)
	for stream.Next() {
		emit(stream.Current())
	}
	return stream.Err()
}

func (c *defaultClient) createEmbedding(ctx context.Context, params openaisdk.EmbeddingNewParams) (*openaisdk.CreateEmbeddingResponse, error) {
	return c.sdkClient().Embeddings.New(ctx, params)
}

func (c *defaultClient) listModels(ctx context.Context) error {
	_, err := c.sdkClient().Models.List(ctx)
	return err
}
