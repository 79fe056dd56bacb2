// Package gatewayapi exposes the gateway's HTTP surface: chat, streaming
// chat, embeddings, model listing, health/dashboard, circuit controls,
// and the self-healing fix queue.
package gatewayapi

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MAXAPIPULL00/aratta-gateway/internal/breaker"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/health"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/metrics"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/provider"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/registry"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/reload"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/router"
	"github.com/MAXAPIPULL00/aratta-gateway/internal/schema"
)

// Server holds every dependency the HTTP handlers need and implements
// http.Handler via its Mux.
type Server struct {
	router   *router.Router
	registry *registry.Registry
	breakers *breaker.Registry
	health   *health.Registry
	reload   *reload.Manager
	metrics  *metrics.GatewayMetrics

	aliases map[string]string

	mux *http.ServeMux
}

// SetAliases supplies the configured alias table, echoed back by /models
// so callers can discover the short names alongside concrete model ids.
func (s *Server) SetAliases(aliases map[string]string) {
	s.aliases = aliases
}

// New builds a Server and registers every route.
func New(r *router.Router, reg *registry.Registry, breakers *breaker.Registry, healthReg *health.Registry, reloadMgr *reload.Manager, m *metrics.GatewayMetrics) *Server {
	s := &Server{router: r, registry: reg, breakers: breakers, health: healthReg, reload: reloadMgr, metrics: m, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("POST /chat/stream", s.handleChatStream)
	s.mux.HandleFunc("POST /embed", s.handleEmbed)
	s.mux.HandleFunc("GET /models", s.handleModels)

	s.mux.HandleFunc("GET /health", s.handleLiveness)
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealthDetail)
	s.mux.HandleFunc("GET /api/v1/dashboard", s.handleDashboard)

	s.mux.HandleFunc("GET /api/v1/circuits", s.handleCircuitsList)
	s.mux.HandleFunc("POST /api/v1/circuits/{provider}/open", s.handleCircuitForceOpen)
	s.mux.HandleFunc("POST /api/v1/circuits/{provider}/close", s.handleCircuitForceClose)
	s.mux.HandleFunc("POST /api/v1/circuits/{provider}/reset", s.handleCircuitReset)

	s.mux.HandleFunc("GET /api/v1/fixes/pending", s.handleFixesPending)
	s.mux.HandleFunc("POST /api/v1/fixes/{id}/approve", s.handleFixApprove)
	s.mux.HandleFunc("POST /api/v1/fixes/{id}/reject", s.handleFixReject)
	s.mux.HandleFunc("GET /api/v1/fixes/history/{provider}", s.handleFixHistory)
	s.mux.HandleFunc("POST /api/v1/fixes/{provider}/rollback/{version}", s.handleFixRollback)

	s.mux.HandleFunc("GET /api/v1/healing/status", s.handleHealingStatus)
	s.mux.HandleFunc("POST /api/v1/healing/{provider}/pause", s.handleHealingPause)
	s.mux.HandleFunc("POST /api/v1/healing/{provider}/resume", s.handleHealingResume)

	// Unprefixed aliases kept alongside the /api/v1 routes; some existing
	// clients address the control surface without the version prefix.
	s.mux.HandleFunc("GET /dashboard", s.handleDashboard)
	s.mux.HandleFunc("POST /circuit/{provider}/open", s.handleCircuitForceOpen)
	s.mux.HandleFunc("POST /circuit/{provider}/close", s.handleCircuitForceClose)
	s.mux.HandleFunc("POST /circuit/{provider}/reset", s.handleCircuitReset)
	s.mux.HandleFunc("GET /fixes/pending", s.handleFixesPending)
	s.mux.HandleFunc("POST /fixes/{id}/approve", s.handleFixApprove)
	s.mux.HandleFunc("POST /fixes/{id}/reject", s.handleFixReject)
	s.mux.HandleFunc("GET /fixes/history/{provider}", s.handleFixHistory)
	s.mux.HandleFunc("POST /fixes/{provider}/rollback/{version}", s.handleFixRollback)
	s.mux.HandleFunc("GET /healing/status", s.handleHealingStatus)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the uniform error body for every endpoint.
type errorResponse struct {
	Error struct {
		Kind     string `json:"kind"`
		Message  string `json:"message"`
		Provider string `json:"provider,omitempty"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{}
	status := http.StatusInternalServerError

	var perr *provider.Error
	if errors.As(err, &perr) {
		resp.Error.Kind = string(perr.Kind)
		resp.Error.Provider = perr.Provider
		resp.Error.Message = perr.Message
		switch perr.Kind {
		case provider.KindAuthentication:
			// An upstream auth failure is the gateway's misconfiguration,
			// not the caller's: reported as a bad gateway, never a 401
			// that would suggest the caller's own credentials were wrong.
			status = http.StatusBadGateway
		case provider.KindRateLimit:
			status = http.StatusTooManyRequests
		case provider.KindModelNotFound:
			status = http.StatusNotFound
		case provider.KindUnsupported:
			status = http.StatusBadRequest
		case provider.KindCircuitOpen:
			status = http.StatusServiceUnavailable
		default:
			status = http.StatusBadGateway
		}
	} else {
		resp.Error.Kind = "internal_error"
		resp.Error.Message = err.Error()
	}

	writeJSON(w, status, resp)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req schema.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", err.Error()))
		return
	}

	start := time.Now()
	resp, resolution, err := s.router.Chat(r.Context(), req)
	if err != nil {
		s.metrics.RecordRequest(resolution.Provider, resolution.Model, "error", time.Since(start), "chat")
		writeError(w, err)
		return
	}
	if resolution.Fallback {
		s.metrics.RecordFallback(resolution.RequestedModel, resolution.Provider)
	}
	if resp.Usage != nil {
		s.metrics.RecordTokens(resolution.Provider, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	s.metrics.RecordRequest(resolution.Provider, resolution.Model, "success", time.Since(start), "chat")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req schema.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", err.Error()))
		return
	}
	req.Stream = true

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	s.metrics.IncActiveStreams()
	defer s.metrics.DecActiveStreams()

	bw := bufio.NewWriter(w)
	start := time.Now()

	// Track whether the adapter already emitted a terminal stop frame:
	// every stream must end with a stop frame and the [DONE] sentinel,
	// error or not.
	sawStop := false
	writeFrame := func(frame schema.StreamFrame) error {
		if frame.Type == schema.FrameStop {
			sawStop = true
		}
		data, marshalErr := json.Marshal(frame)
		if marshalErr != nil {
			return marshalErr
		}
		if _, err := fmt.Fprintf(bw, "data: %s\n\n", data); err != nil {
			return err
		}
		return bw.Flush()
	}

	resolution, err := s.router.ChatStream(r.Context(), req, writeFrame)
	if err != nil {
		if !sawStop {
			_ = writeFrame(schema.StreamFrame{Type: schema.FrameStop, FinishReason: schema.FinishError})
		}
		s.metrics.RecordRequest(resolution.Provider, resolution.Model, "error", time.Since(start), "chat_stream")
	} else {
		s.metrics.RecordRequest(resolution.Provider, resolution.Model, "success", time.Since(start), "chat_stream")
	}

	fmt.Fprint(bw, "data: [DONE]\n\n")
	bw.Flush()
	flusher.Flush()
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req schema.EmbeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", err.Error()))
		return
	}
	resp, _, err := s.router.Embed(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	var models []schema.ModelCapabilities
	for _, name := range s.registry.AvailableInPriorityOrder() {
		adapter, err := s.registry.Get(name)
		if err != nil {
			continue
		}
		models = append(models, adapter.GetModels()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models, "aliases": s.aliases})
}

// handleLiveness is the unauthenticated liveness probe: always "ok" while
// the process serves requests, regardless of upstream state.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// handleHealthDetail reports per-provider adapter health alongside each
// provider's circuit state.
func (s *Server) handleHealthDetail(w http.ResponseWriter, r *http.Request) {
	type providerHealth struct {
		Status    string           `json:"status"`
		LatencyMS float64          `json:"latency_ms"`
		Error     string           `json:"error,omitempty"`
		Circuit   breaker.Snapshot `json:"circuit"`
	}
	providers := map[string]providerHealth{}
	for _, name := range s.registry.AvailableInPriorityOrder() {
		adapter, err := s.registry.Get(name)
		if err != nil {
			providers[name] = providerHealth{Status: "unhealthy", Error: err.Error(), Circuit: s.breakers.Get(name).Snapshot()}
			continue
		}
		hs := adapter.HealthCheck(r.Context())
		providers[name] = providerHealth{Status: hs.Status, LatencyMS: hs.LatencyMS, Error: hs.Error, Circuit: s.breakers.Get(name).Snapshot()}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": providers,
		"time":      time.Now().UTC(),
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"circuits":      s.breakers.All(),
		"health":        s.health.All(),
		"pending_fixes": s.reload.Pending(),
		"time":          time.Now().UTC(),
	})
}

func (s *Server) handleCircuitsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.breakers.All())
}

func (s *Server) handleCircuitForceOpen(w http.ResponseWriter, r *http.Request) {
	s.breakers.Get(r.PathValue("provider")).ForceOpen()
	writeJSON(w, http.StatusOK, map[string]string{"status": "opened"})
}

func (s *Server) handleCircuitForceClose(w http.ResponseWriter, r *http.Request) {
	s.breakers.Get(r.PathValue("provider")).ForceClose()
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	s.breakers.Get(r.PathValue("provider")).Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleFixesPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reload.Pending())
}

func (s *Server) handleFixApprove(w http.ResponseWriter, r *http.Request) {
	status, err := s.reload.ApproveFix(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not_found", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (s *Server) handleFixReject(w http.ResponseWriter, r *http.Request) {
	if err := s.reload.RejectFix(r.PathValue("id"), r.URL.Query().Get("reason")); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not_found", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleFixHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reload.History(r.PathValue("provider")))
}

func (s *Server) handleFixRollback(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_request", "version must be an integer"))
		return
	}
	if err := s.reload.RollbackToVersion(r.Context(), r.PathValue("provider"), n); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not_found", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(reload.StatusRolledBack)})
}

func (s *Server) handleHealingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.All())
}

func (s *Server) handleHealingPause(w http.ResponseWriter, r *http.Request) {
	s.health.PauseProvider(r.PathValue("provider"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleHealingResume(w http.ResponseWriter, r *http.Request) {
	s.health.ResumeProvider(r.PathValue("provider"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func errorBody(kind, message string) errorResponse {
	resp := errorResponse{}
	resp.Error.Kind = kind
	resp.Error.Message = message
	return resp
}
