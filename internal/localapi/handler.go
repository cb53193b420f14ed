// Package localapi is the thin HTTP surface the surrounding UI consumes:
// enqueue a video post, list pending posts, read and send messages. It is
// bound to localhost; everything else stays behind the external services.
package localapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"snaporia/internal/chat"
	"snaporia/internal/queue"
)

// maxUpload bounds the raw media accepted from the composer.
const maxUpload = 512 << 20

type Handler struct {
	queue *queue.Manager
	chats *chat.Service
	log   *zap.Logger
}

func NewHandler(q *queue.Manager, chats *chat.Service, log *zap.Logger) *Handler {
	return &Handler{queue: q, chats: chats, log: log}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/api/queue/pending", h.pendingPosts)
	r.Get("/api/queue/status", h.queueStatus)
	r.Post("/api/queue/video", h.enqueueVideo)
	r.Get("/api/chat/messages", h.messages)
	r.Post("/api/chat/send", h.send)
	return r
}

func (h *Handler) pendingPosts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pendingPosts": h.queue.PendingPosts()})
}

func (h *Handler) queueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queue.Status())
}

func (h *Handler) enqueueVideo(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	media, err := io.ReadAll(io.LimitReader(file, maxUpload))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}
	mediaType := header.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = "video/mp4"
	}

	id := h.queue.Enqueue(media, mediaType, r.FormValue("content"), r.Form["imageUrls"], nil)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (h *Handler) messages(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversationId")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "missing conversationId")
		return
	}
	thread, err := h.chats.Open(r.Context(), conversationID)
	if err != nil {
		h.log.Warn("open conversation failed", zap.String("conversation_id", conversationID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not load conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": thread.Messages()})
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ConversationID string `json:"conversationId"`
		Content        string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ConversationID == "" || body.Content == "" {
		writeError(w, http.StatusBadRequest, "missing fields")
		return
	}
	thread, err := h.chats.Open(r.Context(), body.ConversationID)
	if err != nil {
		h.log.Warn("open conversation failed", zap.String("conversation_id", body.ConversationID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not load conversation")
		return
	}
	tempID := thread.Send(body.Content)
	writeJSON(w, http.StatusAccepted, map[string]string{"tempId": tempID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
