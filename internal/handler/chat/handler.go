package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/medchat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/medchat/backend/internal/service/chat"
	"github.com/zhouzirui/medchat/backend/pkg/utils"
)

// listLimit caps GET /conversations.
const listLimit = 100

// Responder produces the bot reply for a conversation.
type Responder interface {
	GenerateResponse(ctx context.Context, messages []chat.Message) string
}

// Handler serves conversations and message exchange.
type Handler struct {
	store     chatService.Store
	responder Responder
	logger    zerolog.Logger
}

// New creates the chat handler.
func New(store chatService.Store, responder Responder, logger zerolog.Logger) *Handler {
	return &Handler{
		store:     store,
		responder: responder,
		logger:    logger,
	}
}

// RegisterRoutes mounts the chat routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/conversations", h.handleCreateConversation)
	r.Get("/conversations", h.handleListConversations)
	r.Get("/conversations/{conversationID}", h.handleGetConversation)
	r.Post("/messages", h.handleSendMessage)
}

func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.store.CreateConversation(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("create conversation failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.store.ListConversations(r.Context(), listLimit)
	if err != nil {
		h.logger.Error().Err(err).Msg("list conversations failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	utils.RespondJSON(w, http.StatusOK, convs)
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.store.GetConversation(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.respondStoreError(w, err, "get conversation failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

// handleSendMessage stores the user's turn, generates the reply from the full
// history and stores that too.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ConversationID string `json:"conversation_id"`
		Content        string `json:"content"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Content) == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	ctx := r.Context()
	if _, err := h.store.AppendMessage(ctx, payload.ConversationID, chat.Message{
		Sender:  chat.SenderUser,
		Content: payload.Content,
	}); err != nil {
		h.respondStoreError(w, err, "save user message failed")
		return
	}

	conv, err := h.store.GetConversation(ctx, payload.ConversationID)
	if err != nil {
		h.respondStoreError(w, err, "reload conversation failed")
		return
	}

	reply := h.responder.GenerateResponse(ctx, conv.Messages)

	botMessage, err := h.store.AppendMessage(ctx, conv.ID, chat.Message{
		Sender:  chat.SenderBot,
		Content: reply,
	})
	if err != nil {
		h.respondStoreError(w, err, "save bot message failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, botMessage)
}

func (h *Handler) respondStoreError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, chatService.ErrConversationNotFound):
		utils.RespondError(w, http.StatusNotFound, "Conversation not found")
	default:
		h.logger.Error().Err(err).Msg(msg)
		utils.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}
