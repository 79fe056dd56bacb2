// Package heal implements the three-phase self-healing pipeline:
// diagnose a provider's recent failures with a local model, research a
// fix with a search-capable cloud model, then draft a concrete fix with
// the local model again. Every phase calls back into the gateway's own
// chat path, so a heal run is itself just another chat request — there
// is no separate "admin" code path to the providers.
package heal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MAXAPIPULL00/aratta-gateway/internal/health"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/reload"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/schema"
)

// ChatFunc performs one non-streaming chat call against the named provider
// and model through the gateway's router (Router.Call). The heal worker
// uses it for all three phases rather than calling any provider.Adapter
// directly, so a heal run is subject to the same circuit breakers and
// health recording as any other request. The call bypasses model
// resolution and does not fall back to another provider.
type ChatFunc func(ctx context.Context, providerName, model string, req schema.ChatRequest) (schema.ChatResponse, error)

// SourceFunc returns the current adapter source (or config patch) text
// for a provider, fed to the fix phase so the model can draft a concrete
// change. May return "" when no source snapshot is available.
type SourceFunc func(providerName string) string

// cloudProviderOrder is the fallback list the research phase walks when
// no explicit research provider is configured; xai leads because its
// models carry built-in web/X search.
var cloudProviderOrder = []string{"xai", "openai", "google", "anthropic"}

// noResearchFound is the research result used when every search-capable
// provider fails; the pipeline continues with it rather than aborting.
const noResearchFound = "No current documentation found."

// maxPromptSection caps the research findings and adapter source embedded
// in the fix prompt, so a long research report cannot blow out a local
// model's context window.
const maxPromptSection = 6000

// Config wires a Worker to the rest of the gateway.
type Config struct {
	Chat ChatFunc

	LocalProvider    string
	LocalModel       string
	ResearchProvider string // empty: walk cloudProviderOrder
	ResearchModel    string

	Source SourceFunc // optional; "" source when nil

	Reload *reload.Manager
}

// Worker runs heal pipelines and reports their outcome back to a
// health.Monitor.
type Worker struct {
	cfg Config
}

// New builds a Worker.
func New(cfg Config) *Worker {
	return &Worker{cfg: cfg}
}

// Run executes diagnose -> research -> fix for one triggering error event
// (plus up to five recent errors for context) and proposes the resulting
// Fix to the reload manager. It always reports completion back to
// monitor, successful or not, so the health.Monitor's healing flag is
// released either way. Returns whether the cycle ended in a verified
// state.
func (w *Worker) Run(ctx context.Context, providerName string, trigger health.Event, recent []health.Event, monitor *health.Monitor) bool {
	fix := w.heal(ctx, providerName, trigger, recent)

	status, err := w.cfg.Reload.Propose(ctx, fix)
	success := err == nil && status == reload.StatusVerified
	monitor.HandleHealComplete(success)
	return success
}

// heal never returns an error: every failure mode inside the pipeline
// degrades to a conservative proposal instead, so the caller always has
// a Fix to record.
func (w *Worker) heal(ctx context.Context, providerName string, trigger health.Event, recent []health.Event) reload.Fix {
	diagnosis, err := w.diagnose(ctx, providerName, trigger, recent)
	if errors.Is(err, errUnparseable) {
		return w.conservativeFix(providerName, trigger)
	}
	if err != nil {
		return w.failureFix(providerName, err)
	}
	if diagnosis.IsTransient {
		return reload.Fix{
			ID:         fixID(providerName, trigger),
			Provider:   providerName,
			Type:       reload.FixNoFixNeeded,
			Confidence: 0.8,
			Summary:    "Transient",
		}
	}

	report := w.research(ctx, providerName, diagnosis)

	fix, err := w.fix(ctx, providerName, trigger, diagnosis, report)
	if err != nil {
		return w.failureFix(providerName, err)
	}
	return fix
}

// diagnosis is the structured reply the diagnose phase's local model is
// instructed to produce.
type diagnosis struct {
	IsTransient   bool     `json:"is_transient"`
	Diagnosis     string   `json:"diagnosis"`
	SearchQueries []string `json:"search_queries"`
	WhatToLookFor string   `json:"what_to_look_for"`
}

const diagnoseSystemPrompt = `You diagnose recurring errors in AI provider integrations.
Reply with ONLY a JSON object of this exact shape:
{
  "is_transient": <bool>,
  "diagnosis": "<one sentence root cause>",
  "search_queries": ["<query>", ...],
  "what_to_look_for": "<what documentation or changelog entries would confirm the diagnosis>"
}
Set is_transient to true only if this looks like a self-resolving condition.`

func (w *Worker) diagnose(ctx context.Context, providerName string, trigger health.Event, recent []health.Event) (diagnosis, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Provider: %s\nError type: %s\nError message: %s\n", providerName, trigger.Type, trigger.Message)
	if len(recent) > 0 {
		sb.WriteString("\nRecent errors:\n")
		for _, ev := range recent {
			fmt.Fprintf(&sb, "- [%s] %s\n", ev.Type, ev.Message)
		}
	}

	resp, err := w.cfg.Chat(ctx, w.cfg.LocalProvider, w.cfg.LocalModel, schema.ChatRequest{
		Messages: []schema.Message{
			{Role: schema.RoleSystem, Text: diagnoseSystemPrompt},
			{Role: schema.RoleUser, Text: sb.String()},
		},
	})
	if err != nil {
		return diagnosis{}, err
	}

	var d diagnosis
	if err := extractJSON(resp.Content, &d); err != nil {
		return diagnosis{}, errUnparseable
	}
	return d, nil
}

const researchPromptTmpl = `Research the likely fix for this AI provider integration error.

Provider: %s
Diagnosis: %s
What to look for: %s
Suggested searches:
%s
Search for recent API changes, deprecations, or known issues that would explain this, and summarize concretely what changed and what the fix should look like.`

// research walks the search-capable cloud providers, skipping the
// provider under heal (its own circuit may be open, and asking a broken
// upstream to research itself is pointless). If every candidate fails the
// pipeline continues with a "no documentation found" placeholder instead
// of aborting.
func (w *Worker) research(ctx context.Context, providerName string, d diagnosis) string {
	prompt := fmt.Sprintf(researchPromptTmpl, providerName, d.Diagnosis, d.WhatToLookFor, "- "+strings.Join(d.SearchQueries, "\n- "))
	req := schema.ChatRequest{Messages: []schema.Message{{Role: schema.RoleUser, Text: prompt}}}

	candidates := cloudProviderOrder
	if w.cfg.ResearchProvider != "" {
		candidates = append([]string{w.cfg.ResearchProvider}, cloudProviderOrder...)
	}

	for _, candidate := range candidates {
		if candidate == providerName {
			continue
		}
		resp, err := w.cfg.Chat(ctx, candidate, w.cfg.ResearchModel, req)
		if err == nil && resp.Content != "" {
			return resp.Content
		}
	}
	return noResearchFound
}

// fixReply is the structured reply the fix phase's local model produces.
type fixReply struct {
	FixType       string  `json:"fix_type"`
	Confidence    float64 `json:"confidence"`
	ChangeSummary string  `json:"change_summary"`
	FixCode       string  `json:"fix_code"`
	Reasoning     string  `json:"reasoning"`
}

const fixSystemPrompt = `You draft fixes for AI provider integration errors.
Reply with ONLY a JSON object of this exact shape:
{
  "fix_type": "code_patch" | "config_change" | "workaround" | "no_fix_needed",
  "confidence": <float 0.0-1.0>,
  "change_summary": "<one sentence>",
  "fix_code": "<the concrete patch, config change, or workaround text>",
  "reasoning": "<why this fix follows from the research>"
}`

const fixPromptTmpl = `Provider: %s
Diagnosis: %s

Research findings:
%s

Current adapter source:
%s`

func (w *Worker) fix(ctx context.Context, providerName string, trigger health.Event, d diagnosis, report string) (reload.Fix, error) {
	source := ""
	if w.cfg.Source != nil {
		source = w.cfg.Source(providerName)
	}
	prompt := fmt.Sprintf(fixPromptTmpl, providerName, d.Diagnosis, truncate(report, maxPromptSection), truncate(source, maxPromptSection))

	resp, err := w.cfg.Chat(ctx, w.cfg.LocalProvider, w.cfg.LocalModel, schema.ChatRequest{
		Messages: []schema.Message{
			{Role: schema.RoleSystem, Text: fixSystemPrompt},
			{Role: schema.RoleUser, Text: prompt},
		},
	})
	if err != nil {
		return reload.Fix{}, err
	}

	var reply fixReply
	if err := extractJSON(resp.Content, &reply); err != nil {
		return w.conservativeFix(providerName, trigger), nil
	}

	return reload.Fix{
		ID:         fixID(providerName, trigger),
		Provider:   providerName,
		Type:       reload.FixType(reply.FixType),
		Confidence: reply.Confidence,
		Summary:    reply.ChangeSummary,
		Patch:      reply.FixCode,
		Reasoning:  reply.Reasoning,
	}, nil
}

// errUnparseable marks a model reply that could not be parsed as JSON.
var errUnparseable = errors.New("heal: model reply was not parseable")

// conservativeFix is the fallback proposal for an unparseable model
// reply: nothing actionable, low but non-zero confidence.
func (w *Worker) conservativeFix(providerName string, trigger health.Event) reload.Fix {
	return reload.Fix{
		ID:         fixID(providerName, trigger),
		Provider:   providerName,
		Type:       reload.FixNoFixNeeded,
		Confidence: 0.1,
		Summary:    "model reply was not parseable as a fix proposal",
	}
}

// failureFix builds a zero-confidence proposal when the heal pipeline
// itself fails (as opposed to diagnosing a real upstream error) — the
// attempt errored out, so there is no model-drafted guidance to act on,
// only a category for a human to triage by. Never masked as
// no_fix_needed.
func (w *Worker) failureFix(providerName string, cause error) reload.Fix {
	category := categorizeHealFailure(cause)
	return reload.Fix{
		ID:         fmt.Sprintf("%s-%s", providerName, category),
		Provider:   providerName,
		Type:       reload.FixWorkaround,
		Confidence: 0.0,
		Summary:    fmt.Sprintf("heal pipeline failed (%s): %v", category, cause),
	}
}

func fixID(providerName string, trigger health.Event) string {
	return providerName + "-" + trigger.Signature
}

// categorizeHealFailure classifies why the heal pipeline itself could not
// complete, by substring, so a human triaging the fix queue can tell a
// credentials problem from a flaky network from a genuine pipeline bug.
func categorizeHealFailure(err error) string {
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "auth"), strings.Contains(lower, "401"), strings.Contains(lower, "key"):
		return "auth_error"
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "connect"), strings.Contains(lower, "temporary"):
		return "transient_error"
	default:
		return "heal_error"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// extractJSON parses a model's reply into v, tolerating the common
// ```json ... ``` or bare ``` ... ``` fences models wrap structured
// replies in.
func extractJSON(content string, v any) error {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("heal: could not parse model reply as JSON: %w", err)
	}
	return nil
}
