package google

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/schema"
)

type mockClient struct {
	chatResp   schema.ChatResponse
	chatErr    error
	streamErr  error
	streamSend []schema.StreamFrame
	embedResp  schema.EmbeddingResponse
	embedErr   error
}

func (m *mockClient) generateContent(context.Context, schema.ChatRequest) (schema.ChatResponse, error) {
	return m.chatResp, m.chatErr
}

func (m *mockClient) streamContent(_ context.Context, _ schema.ChatRequest, emit provider.StreamFunc) error {
	for _, f := range m.streamSend {
		if err := emit(f); err != nil {
			return err
		}
	}
	return m.streamErr
}

func (m *mockClient) embedContent(context.Context, schema.EmbeddingRequest) (schema.EmbeddingResponse, error) {
	return m.embedResp, m.embedErr
}

func newTestAdapter(c googleClient) *Adapter {
	return &Adapter{cfg: provider.Config{Name: "google"}, client: c}
}

func TestChatStampsProviderAndLineage(t *testing.T) {
	a := newTestAdapter(&mockClient{chatResp: schema.ChatResponse{Content: "hi", Model: "gemini-2.5-flash"}})
	resp, err := a.Chat(context.Background(), schema.ChatRequest{Messages: []schema.Message{{Role: schema.RoleUser, Text: "hi"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "google" {
		t.Fatalf("expected provider stamped as google, got %q", resp.Provider)
	}
	if resp.Lineage == nil {
		t.Fatal("expected lineage populated")
	}
}

func TestChatClassifiesSafetyFilterError(t *testing.T) {
	a := newTestAdapter(&mockClient{chatErr: &SafetyFilterError{reason: "SAFETY", category: "HARASSMENT"}})
	_, err := a.Chat(context.Background(), schema.ChatRequest{})
	var perr *provider.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *provider.Error, got %T", err)
	}
	if perr.StatusCode != 400 {
		t.Fatalf("expected status 400 for a safety block, got %d", perr.StatusCode)
	}
}

func TestChatClassifiesGoogleAPIError(t *testing.T) {
	a := newTestAdapter(&mockClient{chatErr: &googleAPIError{statusCode: 401, message: "invalid API key"}})
	_, err := a.Chat(context.Background(), schema.ChatRequest{})
	var perr *provider.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *provider.Error, got %T", err)
	}
	if perr.Kind != provider.KindAuthentication {
		t.Fatalf("expected authentication_error kind, got %q", perr.Kind)
	}
}

func TestChatStreamPropagatesFramesThenClassifiesError(t *testing.T) {
	a := newTestAdapter(&mockClient{
		streamSend: []schema.StreamFrame{{Type: schema.FrameStart}, {Type: schema.FrameContent, Content: "partial"}},
		streamErr:  errors.New("connection dropped"),
	})
	var frames []schema.StreamFrame
	err := a.ChatStream(context.Background(), schema.ChatRequest{}, func(f schema.StreamFrame) error {
		frames = append(frames, f)
		return nil
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(frames) != 3 {
		t.Fatalf("expected 2 forwarded frames plus a synthesized error-stop frame, got %d", len(frames))
	}
	if frames[2].FinishReason != schema.FinishError {
		t.Fatalf("expected final frame to carry FinishError, got %+v", frames[2])
	}
}

func TestEmbedStampsProvider(t *testing.T) {
	a := newTestAdapter(&mockClient{embedResp: schema.EmbeddingResponse{Model: "text-embedding-004"}})
	resp, err := a.Embed(context.Background(), schema.EmbeddingRequest{Input: []string{"hello"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "google" {
		t.Fatalf("expected provider stamped as google, got %q", resp.Provider)
	}
}

func TestGetModelsIncludesProFlash(t *testing.T) {
	a := newTestAdapter(&mockClient{})
	models := a.GetModels()
	if len(models) != 2 {
		t.Fatalf("expected 2 known models, got %d", len(models))
	}
}

func TestHealthCheckReflectsClientError(t *testing.T) {
	a := newTestAdapter(&mockClient{chatErr: errors.New("timeout")})
	status := a.HealthCheck(context.Background())
	if status.Status != "unhealthy" {
		t.Fatalf("expected unhealthy, got %q", status.Status)
	}
}

func TestExtractSystemJoinsMultipleSystemMessages(t *testing.T) {
	got := extractSystem([]schema.Message{
		{Role: schema.RoleSystem, Text: "a"},
		{Role: schema.RoleSystem, Text: "b"},
		{Role: schema.RoleUser, Text: "c"},
	})
	if got != "a\n\nb" {
		t.Fatalf("expected joined system prompt, got %q", got)
	}
}

func TestBuildToolConfigTranslatesKnownModes(t *testing.T) {
	if _, ok := buildToolConfig(nil); ok {
		t.Error("expected no tool config for an empty value")
	}
	if _, ok := buildToolConfig(json.RawMessage(`"auto"`)); ok {
		t.Error("expected auto to need no explicit config")
	}
	tc, ok := buildToolConfig(json.RawMessage(`"required"`))
	if !ok || tc.FunctionCallingConfig == nil || tc.FunctionCallingConfig.Mode != genai.FunctionCallingAny {
		t.Errorf("expected required to map to FunctionCallingAny, got %+v", tc)
	}
	tc, ok = buildToolConfig(json.RawMessage(`"none"`))
	if !ok || tc.FunctionCallingConfig == nil || tc.FunctionCallingConfig.Mode != genai.FunctionCallingNone {
		t.Errorf("expected none to map to FunctionCallingNone, got %+v", tc)
	}
	tc, ok = buildToolConfig(json.RawMessage(`"lookup"`))
	if !ok || tc.FunctionCallingConfig == nil || len(tc.FunctionCallingConfig.AllowedFunctionNames) != 1 || tc.FunctionCallingConfig.AllowedFunctionNames[0] != "lookup" {
		t.Errorf("expected an explicit tool name to restrict AllowedFunctionNames, got %+v", tc)
	}
}

func TestConvertMessagesFlattensConversation(t *testing.T) {
	parts := convertMessages([]schema.Message{
		{Role: schema.RoleSystem, Text: "be terse"},
		{Role: schema.RoleUser, Text: "first question"},
		{Role: schema.RoleAssistant, Text: "first answer"},
		{Role: schema.RoleTool, ToolCallID: "lookup", Text: `{"answer": 42}`},
		{Role: schema.RoleUser, Text: "second question"},
	})
	if len(parts) != 4 {
		t.Fatalf("expected system messages excluded and the rest flattened, got %d parts", len(parts))
	}
	if _, ok := parts[2].(genai.FunctionResponse); !ok {
		t.Fatalf("expected a tool message to become a FunctionResponse part, got %T", parts[2])
	}
}

func TestConvertTypeStringMapsJSONSchemaTypes(t *testing.T) {
	cases := map[string]bool{"string": true, "number": true, "integer": true, "boolean": true, "array": true, "object": true, "nonsense": true}
	for typeStr := range cases {
		_ = convertTypeString(typeStr) // exercised for panics only; values are opaque genai constants
	}
}
