// Package anthropic adapts the canonical gateway schema to Anthropic's
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/schema"
)

const defaultModel = "claude-sonnet-4-5-20250929"

// anthropicClient is the seam mocked out in tests so no adapter test
// hits the network.
type anthropicClient interface {
	createMessage(ctx context.Context, p chatParams) (*anthropicsdk.Message, error)
	streamMessage(ctx context.Context, p chatParams, emit func(anthropicStreamEvent)) error
}

// chatParams bundles the fields buildParams translates into the SDK's
// MessageNewParams. Kept as one struct, rather than growing createMessage
// and streamMessage a new positional argument per translated field, every
// time ChatRequest gains one more sampling/tool-choice knob to forward.
type chatParams struct {
	model        string
	systemPrompt string
	messages     []schema.Message
	tools        []schema.Tool
	maxTokens    int
	thinking     *schema.ThinkingEnabled
	temperature  *float64
	topP         *float64
	stop         []string
	toolChoice   json.RawMessage
}

// anthropicStreamEvent is the narrow slice of the SDK's streaming event
// union this adapter actually coalesces into uniform frames.
type anthropicStreamEvent struct {
	messageStart bool
	id, model    string

	textDelta     string
	thinkingDelta string

	toolUseStart  bool
	toolUseID     string
	toolUseName   string
	toolJSONDelta string

	messageStop bool
	stopReason  string
}

// Adapter implements provider.Adapter for Anthropic Claude models.
type Adapter struct {
	cfg    provider.Config
	client anthropicClient
}

// New constructs an Anthropic adapter from configuration.
func New(cfg provider.Config) *Adapter {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultModel
	}
	return &Adapter{
		cfg:    cfg,
		client: &defaultClient{apiKey: cfg.APIKey, timeout: cfg.Timeout},
	}
}

func (a *Adapter) Name() string { return a.cfg.Name }

func (a *Adapter) Chat(ctx context.Context, req schema.ChatRequest) (schema.ChatResponse, error) {
	start := time.Now()
	systemPrompt, convo := extractSystem(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	msg, err := a.client.createMessage(ctx, chatParamsFromRequest(req, a.cfg.DefaultModel, systemPrompt, convo, maxTokens))
	if err != nil {
		return schema.ChatResponse{}, a.classify(err)
	}

	resp := translateResponse(msg, a.cfg.Name, req.Model)
	resp.Lineage = lineagePtr(schema.NewLineage(a.cfg.Name, resp.Model, time.Since(start)))
	resp.Normalize()
	return resp, nil
}

func (a *Adapter) ChatStream(ctx context.Context, req schema.ChatRequest, emit provider.StreamFunc) error {
	systemPrompt, convo := extractSystem(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	var emitErr error
	err := a.client.streamMessage(ctx, chatParamsFromRequest(req, a.cfg.DefaultModel, systemPrompt, convo, maxTokens), func(ev anthropicStreamEvent) {
		if emitErr != nil {
			return
		}
		switch {
		case ev.messageStart:
			emitErr = emit(schema.StreamFrame{Type: schema.FrameStart, ID: ev.id, Model: ev.model})
		case ev.textDelta != "":
			emitErr = emit(schema.StreamFrame{Type: schema.FrameContent, Content: ev.textDelta})
		case ev.thinkingDelta != "":
			emitErr = emit(schema.StreamFrame{Type: schema.FrameThinking, Thinking: ev.thinkingDelta})
		case ev.toolUseStart:
			emitErr = emit(schema.StreamFrame{Type: schema.FrameToolCall, ToolCallID: ev.toolUseID, ToolCallName: ev.toolUseName})
		case ev.toolJSONDelta != "":
			emitErr = emit(schema.StreamFrame{Type: schema.FrameToolCall, ToolCallDelta: json.RawMessage(ev.toolJSONDelta)})
		case ev.messageStop:
			emitErr = emit(schema.StreamFrame{Type: schema.FrameStop, FinishReason: mapStopReason(ev.stopReason)})
		}
	})
	if err != nil {
		_ = emit(schema.StreamFrame{Type: schema.FrameStop, FinishReason: schema.FinishError})
		return a.classify(err)
	}
	return emitErr
}

func (a *Adapter) Embed(ctx context.Context, req schema.EmbeddingRequest) (schema.EmbeddingResponse, error) {
	return schema.EmbeddingResponse{}, provider.Unsupported(a.cfg.Name, "embed")
}

func (a *Adapter) GetModels() []schema.ModelCapabilities {
	return []schema.ModelCapabilities{
		{
			ModelID: "claude-opus-4-5-20251101", Provider: a.cfg.Name, DisplayName: "Claude Opus 4.5",
			SupportsTools: true, SupportsVision: true, SupportsStreaming: true, SupportsThinking: true,
			ContextWindow: 200000, Categories: []string{"reasoning"},
		},
		{
			ModelID: "claude-sonnet-4-5-20250929", Provider: a.cfg.Name, DisplayName: "Claude Sonnet 4.5",
			SupportsTools: true, SupportsVision: true, SupportsStreaming: true, SupportsThinking: true,
			ContextWindow: 200000, Categories: []string{"code", "general"},
		},
		{
			ModelID: "claude-haiku-4-5-20251001", Provider: a.cfg.Name, DisplayName: "Claude Haiku 4.5",
			SupportsTools: true, SupportsVision: true, SupportsStreaming: true,
			ContextWindow: 200000, Categories: []string{"fast"},
		},
	}
}

func (a *Adapter) HealthCheck(ctx context.Context) provider.HealthStatus {
	start := time.Now()
	ping := chatParams{model: a.cfg.DefaultModel, messages: []schema.Message{{Role: schema.RoleUser, Text: "ping"}}, maxTokens: 1}
	_, err := a.client.createMessage(ctx, ping)
	latency := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		return provider.HealthStatus{Status: "unhealthy", LatencyMS: latency, Error: err.Error()}
	}
	return provider.HealthStatus{Status: "healthy", LatencyMS: latency}
}

func (a *Adapter) Close() error { return nil }

// classify maps a raw SDK/transport error into the canonical taxonomy.
// Only StatusCode is read off the SDK error; the nested error body stays
// wrapped and reachable through Unwrap for callers that want it.
func (a *Adapter) classify(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return provider.NewError(a.cfg.Name, apiErr.StatusCode, http.StatusText(apiErr.StatusCode), err)
	}
	return provider.NewError(a.cfg.Name, 0, err.Error(), err)
}

func lineagePtr(l schema.Lineage) *schema.Lineage { return &l }

// chatParamsFromRequest carries req's sampling and tool-choice fields
// through to buildParams alongside the already-separated system prompt and
// conversation (extractSystem has already pulled system messages out of
// messages by the time this is called).
func chatParamsFromRequest(req schema.ChatRequest, defaultModel, systemPrompt string, messages []schema.Message, maxTokens int) chatParams {
	model := req.Model
	if model == "" {
		model = defaultModel
	}
	return chatParams{
		model:        model,
		systemPrompt: systemPrompt,
		messages:     messages,
		tools:        req.Tools,
		maxTokens:    maxTokens,
		thinking:     req.Thinking,
		temperature:  req.Temperature,
		topP:         req.TopP,
		stop:         req.Stop,
		toolChoice:   req.ToolChoice,
	}
}

func extractSystem(messages []schema.Message) (string, []schema.Message) {
	var system string
	convo := make([]schema.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == schema.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Text
			continue
		}
		convo = append(convo, m)
	}
	return system, convo
}

func mapStopReason(reason string) schema.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return schema.FinishStop
	case "tool_use":
		return schema.FinishToolCalls
	case "max_tokens":
		return schema.FinishLength
	default:
		return schema.FinishStop
	}
}

func translateResponse(msg *anthropicsdk.Message, providerName, requestedModel string) schema.ChatResponse {
	resp := schema.ChatResponse{
		ID:       msg.ID,
		Model:    string(msg.Model),
		Provider: providerName,
	}
	if resp.Model == "" {
		resp.Model = requestedModel
	}

	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			if resp.Content != "" {
				resp.Content += "\n"
			}
			resp.Content += b.Text
		case anthropicsdk.ToolUseBlock:
			args, _ := json.Marshal(b.Input)
			resp.ToolCalls = append(resp.ToolCalls, schema.ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		case anthropicsdk.ThinkingBlock:
			resp.Thinking = append(resp.Thinking, schema.ContentBlock{
				Type: schema.ContentThinking, Text: b.Thinking, Signature: b.Signature,
			})
		}
	}

	resp.FinishReason = mapStopReason(string(msg.StopReason))

	resp.Usage = &schema.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	if msg.Usage.CacheReadInputTokens > 0 {
		v := int(msg.Usage.CacheReadInputTokens)
		resp.Usage.CacheReadTokens = &v
	}
	if msg.Usage.CacheCreationInputTokens > 0 {
		v := int(msg.Usage.CacheCreationInputTokens)
		resp.Usage.CacheWriteTokens = &v
	}

	return resp
}

// defaultClient wraps the real Anthropic SDK.
type defaultClient struct {
	apiKey  string
	timeout time.Duration
}

func (c *defaultClient) sdkClient() anthropicsdk.Client {
	opts := []option.RequestOption{option.WithAPIKey(c.apiKey)}
	return anthropicsdk.NewClient(opts...)
}

func (c *defaultClient) buildParams(p chatParams) (anthropicsdk.MessageNewParams, error) {
	msgParams, err := convertMessages(p.messages)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(p.model),
		Messages:  msgParams,
		MaxTokens: int64(p.maxTokens),
	}
	if p.systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: p.systemPrompt}}
	}
	if len(p.tools) > 0 {
		params.Tools = convertTools(p.tools)
	}
	// Anthropic rejects temperature when extended thinking is enabled;
	// thinking's own budget governs sampling instead.
	if p.temperature != nil && (p.thinking == nil || !p.thinking.Enabled) {
		params.Temperature = anthropicsdk.Float(*p.temperature)
	}
	if p.topP != nil {
		params.TopP = anthropicsdk.Float(*p.topP)
	}
	if len(p.stop) > 0 {
		params.StopSequences = p.stop
	}
	if tc, ok := buildToolChoice(p.toolChoice); ok {
		params.ToolChoice = tc
	}
	return params, nil
}

// buildToolChoice translates the canonical ToolChoice value into
// Anthropic's tool_choice param: "auto" needs no explicit param (the SDK
// default already behaves that way), "required" maps to ToolChoiceAny,
// "none" maps to ToolChoiceNone, and any other string is treated as an
// explicit tool name. A non-string ToolChoice (a raw per-upstream object)
// is left untranslated rather than guessed at.
func buildToolChoice(raw json.RawMessage) (anthropicsdk.ToolChoiceUnionParam, bool) {
	if len(raw) == 0 {
		return anthropicsdk.ToolChoiceUnionParam{}, false
	}
	var mode string
	if err := json.Unmarshal(raw, &mode); err != nil {
		return anthropicsdk.ToolChoiceUnionParam{}, false
	}
	switch mode {
	case "auto":
		return anthropicsdk.ToolChoiceUnionParam{}, false
	case "required":
		return anthropicsdk.ToolChoiceUnionParam{OfAny: &anthropicsdk.ToolChoiceAnyParam{}}, true
	case "none":
		none := anthropicsdk.NewToolChoiceNoneParam()
		return anthropicsdk.ToolChoiceUnionParam{OfNone: &none}, true
	default:
		return anthropicsdk.ToolChoiceParamOfTool(mode), true
	}
}

func (c *defaultClient) createMessage(ctx context.Context, p chatParams) (*anthropicsdk.Message, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	params, err := c.buildParams(p)
	if err != nil {
		return nil, err
	}
	if p.thinking != nil && p.thinking.Enabled {
		budget := p.thinking.BudgetTokens
		const floor = 1024 // Anthropic's documented minimum thinking budget
		if budget < floor {
			budget = floor
		}
		params.Thinking = anthropicsdk.ThinkingConfigParamOfEnabled(int64(budget))
	}
	return c.sdkClient().Messages.New(ctx, params)
}

func (c *defaultClient) streamMessage(ctx context.Context, p chatParams, emit func(anthropicStreamEvent)) error {
	if c.apiKey == "" {
		return fmt.Errorf("anthropic: API key is required")
	}
	params, err := c.buildParams(p)
	if err != nil {
		return err
	}
	if p.thinking != nil && p.thinking.Enabled {
		budget := p.thinking.BudgetTokens
		const floor = 1024
		if budget < floor {
			budget = floor
		}
		params.Thinking = anthropicsdk.ThinkingConfigParamOfEnabled(int64(budget))
	}

	stream := c.sdkClient().Messages.NewStreaming(ctx, params)
	for stream.Next() {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropicsdk.MessageStartEvent:
			emit(anthropicStreamEvent{messageStart: true, id: variant.Message.ID, model: string(variant.Message.Model)})
		case anthropicsdk.ContentBlockStartEvent:
			if tu, ok := variant.ContentBlock.AsAny().(anthropicsdk.ToolUseBlock); ok {
				emit(anthropicStreamEvent{toolUseStart: true, toolUseID: tu.ID, toolUseName: tu.Name})
			}
		case anthropicsdk.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropicsdk.TextDelta:
				emit(anthropicStreamEvent{textDelta: delta.Text})
			case anthropicsdk.ThinkingDelta:
				emit(anthropicStreamEvent{thinkingDelta: delta.Thinking})
			case anthropicsdk.InputJSONDelta:
				emit(anthropicStreamEvent{toolJSONDelta: delta.PartialJSON})
			}
		case anthropicsdk.MessageDeltaEvent:
			emit(anthropicStreamEvent{messageStop: true, stopReason: string(variant.Delta.StopReason)})
		}
	}
	return stream.Err()
}

func convertMessages(messages []schema.Message) ([]anthropicsdk.MessageParam, error) {
	result := make([]anthropicsdk.MessageParam, 0, len(messages))
	toolUseIndex := map[string]int{} // request-scoped tool-use-id -> position, for upstreams needing it

	for i, msg := range messages {
		switch msg.Role {
		case schema.RoleUser:
			result = append(result, anthropicsdk.NewUserMessage(blocksToParams(msg)...))
		case schema.RoleAssistant:
			result = append(result, anthropicsdk.NewAssistantMessage(blocksToParams(msg)...))
		case schema.RoleTool:
			// Anthropic carries tool results as a user message containing a
			// tool_result block addressed by tool_use_id.
			result = append(result, anthropicsdk.NewUserMessage(
				anthropicsdk.NewToolResultBlock(msg.ToolCallID, msg.Text, false),
			))
			toolUseIndex[msg.ToolCallID] = i
		default:
			result = append(result, anthropicsdk.NewUserMessage(blocksToParams(msg)...))
		}
	}
	return result, nil
}

func blocksToParams(msg schema.Message) []anthropicsdk.ContentBlockParamUnion {
	if msg.IsScalar() {
		return []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(msg.Text)}
	}
	out := make([]anthropicsdk.ContentBlockParamUnion, 0, len(msg.Blocks))
	for _, b := range msg.Blocks {
		switch b.Type {
		case schema.ContentText:
			out = append(out, anthropicsdk.NewTextBlock(b.Text))
		case schema.ContentImage:
			if b.ImageBase64 != "" {
				mediaType := b.MediaType
				if mediaType == "" {
					mediaType = "image/jpeg"
				}
				out = append(out, anthropicsdk.NewImageBlockBase64(mediaType, b.ImageBase64))
			} else if b.ImageURL != "" {
				out = append(out, anthropicsdk.NewImageBlock(anthropicsdk.URLImageSourceParam{URL: b.ImageURL}))
			}
		case schema.ContentToolUse:
			out = append(out, anthropicsdk.NewToolUseBlock(b.ToolUseID, json.RawMessage(b.ToolInput), b.ToolName))
		case schema.ContentToolResult:
			out = append(out, anthropicsdk.NewToolResultBlock(b.ToolUseID, string(b.ToolResult), false))
		}
	}
	return out
}

func convertTools(tools []schema.Tool) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var parsed map[string]any
		_ = json.Unmarshal(t.Parameters, &parsed)

		var properties any
		var required []string
		if parsed != nil {
			properties = parsed["properties"]
			if req, ok := parsed["required"].([]any); ok {
				for _, v := range req {
					if s, ok := v.(string); ok {
						required = append(required, s)
					}
				}
			}
		}

		result = append(result, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.String(t.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{Properties: properties, Required: required},
			},
		})
	}
	return result
}
