// Package schema defines the canonical request/response shapes every other
// gateway package consumes. Provider-specific structures never cross this
// boundary — each adapter translates to and from these types at its own
// edge.
package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FinishReason classifies why a ChatResponse stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// ContentType tags the variant carried by a ContentBlock.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentImage      ContentType = "image"
	ContentToolUse    ContentType = "tool_use"
	ContentToolResult ContentType = "tool_result"
	ContentThinking   ContentType = "thinking"
)

// ContentBlock is a tagged variant over {text, image, tool-use, tool-result,
// thinking}. Only the fields relevant to Type are populated; the rest are
// left at their zero value and omitted from the wire form.
type ContentBlock struct {
	Type ContentType `json:"type"`

	Text string `json:"text,omitempty"`

	ImageURL    string `json:"image_url,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	MediaType   string `json:"media_type,omitempty"`

	ToolUseID  string          `json:"tool_use_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolResult json.RawMessage `json:"tool_result,omitempty"`

	// Signature is an opaque, upstream-provided value attached to a
	// thinking block. It is preserved verbatim and never interpreted or
	// logged.
	Signature string `json:"signature,omitempty"`
}

// Message is one turn of a conversation. Content is either a scalar string
// (MarshalJSON emits it directly) or an ordered list of ContentBlock.
type Message struct {
	Role       Role
	Text       string         // used when Blocks is nil
	Blocks     []ContentBlock // used when non-nil; Text is ignored on marshal
	Name       string         `json:"-"`
	ToolCallID string         `json:"-"`
}

// IsScalar reports whether the message content is a plain string rather
// than a content-block list.
func (m Message) IsScalar() bool { return m.Blocks == nil }

type messageWire struct {
	Role       Role            `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// MarshalJSON implements the `{role, content, name?, tool_call_id?}` wire
// shape, collapsing scalar-text messages to a bare JSON string for content.
func (m Message) MarshalJSON() ([]byte, error) {
	var content json.RawMessage
	var err error
	if m.IsScalar() {
		content, err = json.Marshal(m.Text)
	} else {
		content, err = json.Marshal(m.Blocks)
	}
	if err != nil {
		return nil, fmt.Errorf("schema: marshal message content: %w", err)
	}
	return json.Marshal(messageWire{
		Role:       m.Role,
		Content:    content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	})
}

// UnmarshalJSON accepts either a string or a block-list for content, per
// the wire contract.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("schema: unmarshal message: %w", err)
	}
	m.Role = wire.Role
	m.Name = wire.Name
	m.ToolCallID = wire.ToolCallID

	var asString string
	if err := json.Unmarshal(wire.Content, &asString); err == nil {
		m.Text = asString
		m.Blocks = nil
		return nil
	}
	var asBlocks []ContentBlock
	if err := json.Unmarshal(wire.Content, &asBlocks); err != nil {
		return fmt.Errorf("schema: message content is neither string nor block list: %w", err)
	}
	m.Blocks = asBlocks
	m.Text = ""
	return nil
}

// Tool is a universal tool definition translated into each upstream's
// native schema shape by the owning adapter.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Strict      bool            `json:"strict,omitempty"`
}

// ToolCall is a single invocation emitted by the model in an assistant
// message. Ids are unique within one ChatResponse.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Usage carries token accounting as reported by the upstream; exactness is
// not guaranteed, only forwarding of whatever the upstream provided.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`

	CacheReadTokens  *int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens *int `json:"cache_write_tokens,omitempty"`
	ReasoningTokens  *int `json:"reasoning_tokens,omitempty"`
}

// Lineage is provenance metadata attached to every ChatResponse.
type Lineage struct {
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	ModelVersion string    `json:"model_version,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LatencyMS    float64   `json:"latency_ms"`

	// SourceSystem/SourceVersion identify the gateway itself, not the
	// upstream, so a consumer can tell which gateway build produced a
	// response.
	SourceSystem  string `json:"source_system"`
	SourceVersion string `json:"source_version"`
}

// NewLineage stamps a Lineage with the gateway's own identity and the
// current time.
func NewLineage(provider, model string, latency time.Duration) Lineage {
	return Lineage{
		Provider:      provider,
		Model:         model,
		CreatedAt:     time.Now().UTC(),
		LatencyMS:     float64(latency.Microseconds()) / 1000.0,
		SourceSystem:  "aratta-gateway",
		SourceVersion: "0.1.0",
	}
}

// ThinkingEnabled configures a provider's extended-reasoning toggle. Budget
// is clamped to each upstream's minimum by the owning adapter — never
// forwarded smaller than the upstream floor.
type ThinkingEnabled struct {
	Enabled      bool `json:"enabled"`
	BudgetTokens int  `json:"budget_tokens,omitempty"`
}

// ChatRequest is the canonical input to Adapter.Chat / Adapter.ChatStream.
type ChatRequest struct {
	Messages []Message `json:"messages"`

	// Model is a caller-supplied alias, explicit "provider:model", or bare
	// model id; resolved by the resolver package before an adapter ever
	// sees it in practice, but adapters also receive the resolved model
	// id directly via Model.
	Model    string `json:"model"`
	Provider string `json:"provider,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`

	Tools      []Tool          `json:"tools,omitempty"`
	ToolChoice json.RawMessage `json:"tool_choice,omitempty"`

	Stream bool `json:"stream,omitempty"`

	Thinking *ThinkingEnabled `json:"thinking,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// ChatResponse is the canonical output of Adapter.Chat.
type ChatResponse struct {
	ID           string         `json:"id"`
	Content      string         `json:"content"`
	Role         Role           `json:"role"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty"`
	Thinking     []ContentBlock `json:"thinking,omitempty"`
	Model        string         `json:"model"`
	Provider     string         `json:"provider"`
	FinishReason FinishReason   `json:"finish_reason"`
	Usage        *Usage         `json:"usage,omitempty"`
	Lineage      *Lineage       `json:"lineage,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Normalize enforces the finish-reason-coercion invariant: a non-empty
// ToolCalls list forces FinishToolCalls regardless of what the upstream
// reported. It also backfills an opaque id for the response and for any
// tool call the upstream omitted one for; an upstream-provided id is
// always preserved.
func (r *ChatResponse) Normalize() {
	if len(r.ToolCalls) > 0 {
		r.FinishReason = FinishToolCalls
	}
	if r.Role == "" {
		r.Role = RoleAssistant
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if r.ID == "" {
		r.ID = newOpaqueID()
	}
	for i := range r.ToolCalls {
		if r.ToolCalls[i].ID == "" {
			r.ToolCalls[i].ID = newOpaqueID()
		}
	}
}

// newOpaqueID generates a random id for upstreams that omit one.
func newOpaqueID() string {
	return uuid.NewString()
}

// EmbeddingRequest is the canonical input to Adapter.Embed.
type EmbeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Provider   string   `json:"provider,omitempty"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// Embedding is one vector paired with its position in the input order.
type Embedding struct {
	Vector []float64 `json:"embedding"`
	Index  int       `json:"index"`
}

// EmbeddingResponse is the canonical output of Adapter.Embed.
type EmbeddingResponse struct {
	Embeddings []Embedding `json:"embeddings"`
	Model      string      `json:"model"`
	Provider   string      `json:"provider"`
	Usage      Usage       `json:"usage"`
	Timestamp  time.Time   `json:"timestamp"`
}

// ModelCapabilities describes one model an adapter knows how to serve.
// Categories are free-form labels used only as routing hints, never
// interpreted by the core.
type ModelCapabilities struct {
	ModelID     string `json:"model_id"`
	Provider    string `json:"provider"`
	DisplayName string `json:"display_name"`

	SupportsTools     bool `json:"supports_tools"`
	SupportsVision    bool `json:"supports_vision"`
	SupportsStreaming bool `json:"supports_streaming"`
	SupportsJSONMode  bool `json:"supports_json_mode"`
	SupportsThinking  bool `json:"supports_thinking"`

	ContextWindow        int      `json:"context_window"`
	MaxOutputTokens      *int     `json:"max_output_tokens,omitempty"`
	InputCostPerMillion  *float64 `json:"input_cost_per_million,omitempty"`
	OutputCostPerMillion *float64 `json:"output_cost_per_million,omitempty"`
	Categories           []string `json:"categories,omitempty"`
}

// StreamFrameType enumerates the uniform SSE frame kinds every adapter
// coalesces its upstream's raw event stream into.
type StreamFrameType string

const (
	FrameStart    StreamFrameType = "start"
	FrameContent  StreamFrameType = "content"
	FrameThinking StreamFrameType = "thinking"
	FrameToolCall StreamFrameType = "tool_call"
	FrameStop     StreamFrameType = "stop"
)

// StreamFrame is one coalesced event in a chat-stream response. Fields
// outside the active Type are left zero and omitted on the wire.
type StreamFrame struct {
	Type StreamFrameType `json:"type"`

	ID    string `json:"id,omitempty"`
	Model string `json:"model,omitempty"`

	Content  string `json:"content,omitempty"`
	Thinking string `json:"thinking,omitempty"`

	ToolCallID    string          `json:"tool_call_id,omitempty"`
	ToolCallName  string          `json:"tool_call_name,omitempty"`
	ToolCallDelta json.RawMessage `json:"tool_call_delta,omitempty"`

	FinishReason FinishReason `json:"finish_reason,omitempty"`
}
