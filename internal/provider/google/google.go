// Package google adapts Google's Gemini API to the gateway's Adapter
// contract.
package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/schema"
)

const defaultModel = "gemini-2.5-flash"

// googleClient is the seam mocked out in tests.
type googleClient interface {
	generateContent(ctx context.Context, req schema.ChatRequest) (schema.ChatResponse, error)
	streamContent(ctx context.Context, req schema.ChatRequest, emit provider.StreamFunc) error
	embedContent(ctx context.Context, req schema.EmbeddingRequest) (schema.EmbeddingResponse, error)
}

// Adapter implements provider.Adapter for Gemini.
type Adapter struct {
	cfg    provider.Config
	client googleClient
}

// New builds the Google adapter from a provider.Config.
func New(cfg provider.Config) *Adapter {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultModel
	}
	return &Adapter{cfg: cfg, client: &defaultClient{apiKey: cfg.APIKey, defaultModel: cfg.DefaultModel}}
}

func (a *Adapter) Name() string { return "google" }

func (a *Adapter) Chat(ctx context.Context, req schema.ChatRequest) (schema.ChatResponse, error) {
	start := time.Now()
	resp, err := a.client.generateContent(ctx, req)
	if err != nil {
		return schema.ChatResponse{}, a.classify(err)
	}
	l := schema.NewLineage("google", resp.Model, time.Since(start))
	resp.Lineage = &l
	resp.Provider = "google"
	resp.Normalize()
	return resp, nil
}

func (a *Adapter) ChatStream(ctx context.Context, req schema.ChatRequest, emit provider.StreamFunc) error {
	err := a.client.streamContent(ctx, req, emit)
	if err != nil {
		_ = emit(schema.StreamFrame{Type: schema.FrameStop, FinishReason: schema.FinishError})
		return a.classify(err)
	}
	return nil
}

func (a *Adapter) Embed(ctx context.Context, req schema.EmbeddingRequest) (schema.EmbeddingResponse, error) {
	resp, err := a.client.embedContent(ctx, req)
	if err != nil {
		return schema.EmbeddingResponse{}, a.classify(err)
	}
	resp.Provider = "google"
	return resp, nil
}

func (a *Adapter) GetModels() []schema.ModelCapabilities {
	return []schema.ModelCapabilities{
		{Provider: "google", ModelID: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro", SupportsTools: true, SupportsVision: true, SupportsStreaming: true, SupportsThinking: true, ContextWindow: 2097152},
		{Provider: "google", ModelID: "gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash", SupportsTools: true, SupportsVision: true, SupportsStreaming: true, SupportsThinking: true, ContextWindow: 1048576},
	}
}

func (a *Adapter) HealthCheck(ctx context.Context) provider.HealthStatus {
	start := time.Now()
	_, err := a.client.generateContent(ctx, schema.ChatRequest{
		Messages:  []schema.Message{{Role: schema.RoleUser, Text: "ping"}},
		Model:     a.cfg.DefaultModel,
		MaxTokens: 1,
	})
	latency := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		return provider.HealthStatus{Status: "unhealthy", LatencyMS: latency, Error: err.Error()}
	}
	return provider.HealthStatus{Status: "healthy", LatencyMS: latency}
}

func (a *Adapter) Close() error { return nil }

func (a *Adapter) classify(err error) error {
	var safetyErr *SafetyFilterError
	if errors.As(err, &safetyErr) {
		return provider.NewError("google", 400, safetyErr.Error(), err)
	}
	var apiErr *googleAPIError
	if errors.As(err, &apiErr) {
		return provider.NewError("google", apiErr.statusCode, apiErr.message, err)
	}
	return provider.NewError("google", 0, err.Error(), err)
}

// googleAPIError carries a best-effort HTTP status inferred from the
// genai client's underlying googleapi.Error, when one is available.
type googleAPIError struct {
	statusCode int
	message    string
}

func (e *googleAPIError) Error() string { return e.message }

// SafetyFilterError represents a Gemini safety filter block. Mirrors the
// category names Gemini returns in FinishReason/SafetyRatings.
type SafetyFilterError struct {
	reason   string
	category string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

func (e *SafetyFilterError) Category() string { return e.category }
func (e *SafetyFilterError) Reason() string   { return e.reason }

// defaultClient wraps the official Gemini SDK.
type defaultClient struct {
	apiKey       string
	defaultModel string
}

func (c *defaultClient) buildModel(ctx context.Context, req schema.ChatRequest) (*genai.Client, *genai.GenerativeModel, string, error) {
	if c.apiKey == "" {
		return nil, nil, "", errors.New("google API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to create google client: %w", err)
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	genModel := client.GenerativeModel(model)

	if sys := extractSystem(req.Messages); sys != "" {
		genModel.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(sys)}}
	}
	if req.MaxTokens > 0 {
		genModel.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature != nil {
		genModel.SetTemperature(float32(*req.Temperature))
	}
	if req.TopP != nil {
		genModel.SetTopP(float32(*req.TopP))
	}
	if len(req.Stop) > 0 {
		genModel.SetStopSequences(req.Stop...)
	}
	if len(req.Tools) > 0 {
		genModel.Tools = convertTools(req.Tools)
	}
	if tc, ok := buildToolConfig(req.ToolChoice); ok {
		genModel.ToolConfig = tc
	}
	return client, genModel, model, nil
}

// buildToolConfig translates the canonical ToolChoice value into Gemini's
// ToolConfig: "auto" needs no explicit config (the SDK default already
// behaves that way), "required" maps to FunctionCallingAny, "none" maps to
// FunctionCallingNone, and any other string is treated as an explicit
// function name via AllowedFunctionNames alongside FunctionCallingAny. A
// non-string ToolChoice (a raw per-upstream object) is left untranslated
// rather than guessed at.
func buildToolConfig(raw json.RawMessage) (*genai.ToolConfig, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var mode string
	if err := json.Unmarshal(raw, &mode); err != nil {
		return nil, false
	}
	switch mode {
	case "auto":
		return nil, false
	case "required":
		return &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingAny}}, true
	case "none":
		return &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingNone}}, true
	default:
		return &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode:                 genai.FunctionCallingAny,
			AllowedFunctionNames: []string{mode},
		}}, true
	}
}

func (c *defaultClient) generateContent(ctx context.Context, req schema.ChatRequest) (schema.ChatResponse, error) {
	client, genModel, modelName, err := c.buildModel(ctx, req)
	if err != nil {
		return schema.ChatResponse{}, err
	}
	defer client.Close()

	resp, err := genModel.GenerateContent(ctx, convertMessages(req.Messages)...)
	if err != nil {
		return schema.ChatResponse{}, fmt.Errorf("google API error: %w", err)
	}
	if blocked := blockReason(resp); blocked != "" {
		return schema.ChatResponse{}, &SafetyFilterError{reason: "SAFETY", category: blocked}
	}

	out := convertResponse(resp)
	out.Model = modelName
	return out, nil
}

func (c *defaultClient) streamContent(ctx context.Context, req schema.ChatRequest, emit provider.StreamFunc) error {
	client, genModel, modelName, err := c.buildModel(ctx, req)
	if err != nil {
		return err
	}
	defer client.Close()

	iter := genModel.GenerateContentStream(ctx, convertMessages(req.Messages)...)

	if err := emit(schema.StreamFrame{Type: schema.FrameStart, Model: modelName}); err != nil {
		return err
	}
	for {
		resp, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return fmt.Errorf("google API error: %w", err)
		}
		if blocked := blockReason(resp); blocked != "" {
			return &SafetyFilterError{reason: "SAFETY", category: blocked}
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				if err := emit(schema.StreamFrame{Type: schema.FrameContent, Content: string(p)}); err != nil {
					return err
				}
			case genai.FunctionCall:
				args, _ := json.Marshal(p.Args)
				if err := emit(schema.StreamFrame{Type: schema.FrameToolCall, ToolCallName: p.Name, ToolCallDelta: args}); err != nil {
					return err
				}
			}
		}
	}
	return emit(schema.StreamFrame{Type: schema.FrameStop, FinishReason: schema.FinishStop})
}

func (c *defaultClient) embedContent(ctx context.Context, req schema.EmbeddingRequest) (schema.EmbeddingResponse, error) {
	if c.apiKey == "" {
		return schema.EmbeddingResponse{}, errors.New("google API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return schema.EmbeddingResponse{}, fmt.Errorf("failed to create google client: %w", err)
	}
	defer client.Close()

	model := req.Model
	if model == "" {
		model = "text-embedding-004"
	}
	em := client.EmbeddingModel(model)

	batch := em.NewBatch()
	for _, text := range req.Input {
		batch.AddContent(genai.Text(text))
	}
	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return schema.EmbeddingResponse{}, fmt.Errorf("google embedding error: %w", err)
	}

	embeddings := make([]schema.Embedding, 0, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vector := make([]float64, len(e.Values))
		for j, v := range e.Values {
			vector[j] = float64(v)
		}
		embeddings = append(embeddings, schema.Embedding{Vector: vector, Index: i})
	}
	return schema.EmbeddingResponse{Embeddings: embeddings, Model: model, Timestamp: time.Now().UTC()}, nil
}

func extractSystem(messages []schema.Message) string {
	var sys string
	for _, m := range messages {
		if m.Role == schema.RoleSystem {
			if sys != "" {
				sys += "\n\n"
			}
			sys += m.Text
		}
	}
	return sys
}

// convertMessages flattens the whole conversation (minus system
// messages, which ride on SystemInstruction) into a single part list —
// the shape Gemini's GenerateContent consumes. A tool-role message
// becomes a function-response part addressed by the call it answers.
func convertMessages(messages []schema.Message) []genai.Part {
	var parts []genai.Part
	for _, m := range messages {
		if m.Role == schema.RoleSystem {
			continue
		}
		parts = append(parts, messageParts(m)...)
	}
	return parts
}

func messageParts(m schema.Message) []genai.Part {
	if m.Role == schema.RoleTool {
		var result map[string]any
		_ = json.Unmarshal([]byte(m.Text), &result)
		if result == nil {
			result = map[string]any{"result": m.Text}
		}
		return []genai.Part{genai.FunctionResponse{Name: m.ToolCallID, Response: result}}
	}
	if m.IsScalar() {
		return []genai.Part{genai.Text(m.Text)}
	}
	var parts []genai.Part
	for _, b := range m.Blocks {
		switch b.Type {
		case schema.ContentText:
			parts = append(parts, genai.Text(b.Text))
		case schema.ContentImage:
			if b.ImageBase64 != "" {
				data, err := base64.StdEncoding.DecodeString(b.ImageBase64)
				if err == nil {
					parts = append(parts, genai.ImageData(imageFormat(b.MediaType), data))
				}
			} else if b.ImageURL != "" {
				parts = append(parts, genai.FileData{MIMEType: b.MediaType, URI: b.ImageURL})
			}
		case schema.ContentToolResult:
			var result map[string]any
			_ = json.Unmarshal(b.ToolResult, &result)
			parts = append(parts, genai.FunctionResponse{Name: b.ToolUseID, Response: result})
		}
	}
	return parts
}

// imageFormat extracts the subtype genai.ImageData expects ("jpeg",
// "png") from a full media type like "image/jpeg".
func imageFormat(mediaType string) string {
	if idx := strings.Index(mediaType, "/"); idx >= 0 {
		return mediaType[idx+1:]
	}
	if mediaType == "" {
		return "jpeg"
	}
	return mediaType
}

func convertTools(tools []schema.Tool) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		var params map[string]any
		_ = json.Unmarshal(t.Parameters, &params)
		declarations[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchemaToGenai(params),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertSchemaToGenai recursively converts a JSON-schema map into
// genai.Schema, handling nested object/array properties.
func convertSchemaToGenai(s map[string]any) *genai.Schema {
	if s == nil {
		return nil
	}
	result := &genai.Schema{}
	if typeStr, ok := s["type"].(string); ok {
		result.Type = convertTypeString(typeStr)
	}
	if desc, ok := s["description"].(string); ok {
		result.Description = desc
	}
	if props, ok := s["properties"].(map[string]any); ok {
		properties := make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			if propMap, ok := val.(map[string]any); ok {
				properties[key] = convertSchemaToGenai(propMap)
			}
		}
		result.Properties = properties
	}
	if items, ok := s["items"].(map[string]any); ok {
		result.Items = convertSchemaToGenai(items)
	}
	switch req := s["required"].(type) {
	case []string:
		result.Required = req
	case []any:
		for _, v := range req {
			if str, ok := v.(string); ok {
				result.Required = append(result.Required, str)
			}
		}
	}
	return result
}

func convertTypeString(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func blockReason(resp *genai.GenerateContentResponse) string {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return resp.PromptFeedback.BlockReason.String()
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "SAFETY"
	}
	return ""
}

func convertResponse(resp *genai.GenerateContentResponse) schema.ChatResponse {
	out := schema.ChatResponse{}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	candidate := resp.Candidates[0]
	var text string
	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text += string(p)
		case genai.FunctionCall:
			args, _ := json.Marshal(p.Args)
			out.ToolCalls = append(out.ToolCalls, schema.ToolCall{Name: p.Name, Arguments: args})
		}
	}
	out.Content = text
	out.FinishReason = mapFinishReason(candidate.FinishReason)
	if resp.UsageMetadata != nil {
		out.Usage = &schema.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out
}

func mapFinishReason(reason genai.FinishReason) schema.FinishReason {
	switch reason {
	case genai.FinishReasonStop:
		return schema.FinishStop
	case genai.FinishReasonMaxTokens:
		return schema.FinishLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return schema.FinishContentFilter
	default:
		return schema.FinishStop
	}
}
