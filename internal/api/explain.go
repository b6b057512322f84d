package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/pipeline"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/segment"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/store"
)

const maxExplainBody = 1 << 20

type explainRequest struct {
	MessageID string            `json:"message_id"`
	Reply     *pipeline.Message `json:"reply"`
	Content   []segment.Segment `json:"content"`
}

type explainResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Stage     string `json:"stage,omitempty"`
	Text      string `json:"text"`
}

type requestResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status"`
	Stage     string `json:"stage,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// explain answers synchronously. A command that cannot be answered is still
// a 200: the text is the message the host should deliver.
func (s *Server) explain(w http.ResponseWriter, r *http.Request) {
	var req explainRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExplainBody)).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	id := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.store.CreateRequest(r.Context(), store.Request{
		ID:        id,
		MessageID: strings.TrimSpace(req.MessageID),
		Status:    store.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	text, err := s.explainer.Explain(r.Context(), pipeline.Request{
		RequestID: id,
		MessageID: req.MessageID,
		Reply:     req.Reply,
		Content:   req.Content,
	})
	if err != nil {
		var failure *pipeline.Failure
		if !errors.As(err, &failure) {
			s.log.Error("explain failed", "request_id", id, "error", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSONStatus(w, explainResponse{RequestID: id, Status: store.StatusFailed, Stage: failure.Stage, Text: failure.Message}, http.StatusOK)
		return
	}
	writeJSONStatus(w, explainResponse{RequestID: id, Status: store.StatusAnswered, Text: text}, http.StatusOK)
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.store.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "request not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, toRequestResponse(*req), http.StatusOK)
}

func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(parsed, 500)
	}
	requests, err := s.store.ListRequests(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]requestResponse, 0, len(requests))
	for _, req := range requests {
		out = append(out, toRequestResponse(req))
	}
	writeJSONStatus(w, map[string]any{"requests": out}, http.StatusOK)
}

func toRequestResponse(req store.Request) requestResponse {
	return requestResponse{
		ID:        req.ID,
		MessageID: req.MessageID,
		Status:    req.Status,
		Stage:     req.Stage,
		CreatedAt: req.CreatedAt,
		UpdatedAt: req.UpdatedAt,
	}
}
