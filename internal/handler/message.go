package handler

import (
	"net/http"
	"time"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/store"
)

type MessageHandler struct {
	store *store.Store
}

func NewMessageHandler(st *store.Store) *MessageHandler {
	return &MessageHandler{store: st}
}

// GetMessages returns the full ordered message history.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("handler.GetMessages", time.Now())()
	writeJSON(w, http.StatusOK, h.store.All())
}

// Health is the static acknowledgment probe on GET /.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "chat relay is running"})
}
