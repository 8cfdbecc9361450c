package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/apperrors"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/assistant"
)

const maxUploadBytes = 32 << 20

// AssistantHandler exposes the assistant API as thin private pass-throughs.
type AssistantHandler struct {
	client             assistant.Client
	defaultAssistantID string
	poll               assistant.PollOptions
	errors             *ErrorWriter
}

type AssistantHandlerConfig struct {
	Client             assistant.Client
	DefaultAssistantID string
	Poll               assistant.PollOptions
	Errors             *ErrorWriter
}

func NewAssistantHandler(cfg AssistantHandlerConfig) *AssistantHandler {
	if cfg.Client == nil {
		panic("handlers: assistant client cannot be nil")
	}
	if cfg.Errors == nil {
		cfg.Errors = NewErrorWriter(nil, false)
	}
	return &AssistantHandler{
		client:             cfg.Client,
		defaultAssistantID: cfg.DefaultAssistantID,
		poll:               cfg.Poll,
		errors:             cfg.Errors,
	}
}

func (h *AssistantHandler) CreateThread(w http.ResponseWriter, r *http.Request) {
	thread, err := h.client.CreateThread(r.Context())
	if err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "thread": thread})
}

type addMessageRequest struct {
	Content string `json:"content"`
}

func (h *AssistantHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	var in addMessageRequest
	if err := decodeJSON(r, &in); err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	msg, err := h.client.AddMessage(r.Context(), chi.URLParam(r, "threadId"), in.Content)
	if err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

type createRunRequest struct {
	AssistantID string `json:"assistantId"`
}

func (h *AssistantHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var in createRunRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &in); err != nil {
			h.errors.WriteError(w, r, err)
			return
		}
	}
	assistantID := strings.TrimSpace(in.AssistantID)
	if assistantID == "" {
		assistantID = h.defaultAssistantID
	}
	if assistantID == "" {
		h.errors.WriteError(w, r, apperrors.Validation("assistantId is required"))
		return
	}
	run, err := h.client.CreateRun(r.Context(), chi.URLParam(r, "threadId"), assistantID)
	if err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "run": run})
}

func (h *AssistantHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.client.GetRun(r.Context(), chi.URLParam(r, "threadId"), chi.URLParam(r, "runId"))
	if err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "run": run})
}

// WaitForRun blocks until the run settles. interval and timeout are
// milliseconds and override the configured defaults.
func (h *AssistantHandler) WaitForRun(w http.ResponseWriter, r *http.Request) {
	opts := h.poll
	q := r.URL.Query()
	var err error
	if opts.Interval, err = millisParam(q.Get("interval"), opts.Interval); err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	if opts.Timeout, err = millisParam(q.Get("timeout"), opts.Timeout); err != nil {
		h.errors.WriteError(w, r, err)
		return
	}

	run, err := assistant.WaitForRun(r.Context(), h.client, chi.URLParam(r, "threadId"), chi.URLParam(r, "runId"), opts)
	if err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "run": run})
}

func (h *AssistantHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.client.ListMessages(r.Context(), chi.URLParam(r, "threadId"))
	if err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []assistant.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(msgs), "messages": msgs})
}

func (h *AssistantHandler) LastMessage(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadId")
	msgs, err := h.client.ListMessages(r.Context(), threadID)
	if err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	msg, ok := assistant.LatestAssistantMessage(msgs)
	if !ok {
		h.errors.WriteError(w, r, apperrors.NotFound("assistant message in thread", threadID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

func (h *AssistantHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.errors.WriteError(w, r, apperrors.Validation("multipart form with a file field is required"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.errors.WriteError(w, r, apperrors.Validation("file field is required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		h.errors.WriteError(w, r, apperrors.Validation("failed to read uploaded file"))
		return
	}

	uploaded, err := h.client.UploadFile(r.Context(), header.Filename, data)
	if err != nil {
		h.errors.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "file": uploaded})
}

func millisParam(raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return 0, apperrors.Validation("invalid millisecond value %q", raw)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
