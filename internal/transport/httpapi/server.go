// Package httpapi exposes the query pipeline as an OpenAI-compatible chat
// completions endpoint, so existing chat clients can point at it unchanged.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
	logpkg "github.com/kailas-cloud/recall/internal/logger"
	"github.com/kailas-cloud/recall/internal/metrics"
	healthuc "github.com/kailas-cloud/recall/internal/usecase/health"
	queryuc "github.com/kailas-cloud/recall/internal/usecase/query"
)

// Responder answers questions over the ingested corpus.
type Responder interface {
	Answer(ctx context.Context, question string) (string, []queryuc.Excerpt, error)
	AnswerStream(ctx context.Context, question string) (domain.TokenStream, []queryuc.Excerpt, error)
}

// HealthReporter aggregates component availability.
type HealthReporter interface {
	Check(ctx context.Context) healthuc.Report
}

// Server handles the chat completions API.
type Server struct {
	responder Responder
	health    HealthReporter
	model     string
	logger    *zap.Logger
}

// NewServer creates an HTTP API server. model is echoed back in responses
// the way OpenAI-compatible clients expect. health can be nil; /health then
// only confirms the process is serving.
func NewServer(responder Responder, health HealthReporter, model string, logger *zap.Logger) *Server {
	return &Server{
		responder: responder,
		health:    health,
		model:     model,
		logger:    logger,
	}
}

// Router builds the chi router with the full middleware chain.
func (s *Server) Router(apiKeys []string) chi.Router {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(corsMiddleware)
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())

	r.Get("/health", s.handleHealth)
	r.Post("/v1/chat/completions", s.handleChatCompletions)
	return r
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	report := s.health.Check(r.Context())
	status := http.StatusOK
	if report.Status != healthuc.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "Invalid request body: "+err.Error())
		return
	}

	question := lastUserMessage(req.Messages)
	if question == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "No user message in request")
		return
	}

	if req.Stream {
		s.streamCompletion(w, r, question)
		return
	}

	answer, _, err := s.responder.Answer(r.Context(), question)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	stop := "stop"
	writeJSON(w, http.StatusOK, chatCompletionResponse{
		ID:      completionID(r.Context()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   s.model,
		Choices: []chatChoice{{
			Message:      &chatMessage{Role: "assistant", Content: answer},
			FinishReason: &stop,
		}},
	})
}

func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, question string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "Streaming unsupported")
		return
	}

	stream, _, err := s.responder.AnswerStream(r.Context(), question)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	id := completionID(r.Context())
	created := time.Now().Unix()

	for {
		token, recvErr := stream.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			// Headers are gone; all we can do is log and drop the connection.
			logpkg.FromContext(r.Context()).Warn("Answer stream aborted", zap.Error(recvErr))
			return
		}

		s.writeStreamChunk(w, flusher, id, created, chatChoice{
			Delta:        &chatMessage{Role: "assistant", Content: token},
			FinishReason: nil,
		})
	}

	stop := "stop"
	s.writeStreamChunk(w, flusher, id, created, chatChoice{
		Delta:        &chatMessage{},
		FinishReason: &stop,
	})

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) writeStreamChunk(
	w http.ResponseWriter, flusher http.Flusher, id string, created int64, choice chatChoice,
) {
	chunk := chatCompletionResponse{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   s.model,
		Choices: []chatChoice{choice},
	}
	payload, err := json.Marshal(chunk)
	if err != nil {
		s.logger.Error("Failed to marshal stream chunk", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limit_error", "Upstream provider rate limited the request")
	case errors.Is(err, domain.ErrAuthentication):
		writeError(w, http.StatusBadGateway, "upstream_error", "Upstream provider rejected credentials")
	case errors.Is(err, domain.ErrEmbeddingProvider), errors.Is(err, domain.ErrInferenceProvider):
		writeError(w, http.StatusBadGateway, "upstream_error", "Upstream provider error")
	default:
		s.logger.Error("Unhandled error in chat completions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal error")
	}
}

// lastUserMessage returns the content of the most recent user-role message.
func lastUserMessage(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func completionID(ctx context.Context) string {
	if id := chiMiddleware.GetReqID(ctx); id != "" {
		return "chatcmpl-" + id
	}
	return fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano())
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, errorResponse{Error: apiError{Message: message, Type: errType}})
}
