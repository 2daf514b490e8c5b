package feedback

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

// tempIDPrefix marks ids the frontend minted for messages it never got an id for.
const tempIDPrefix = "temp-"

// Improver regenerates a bot reply from user feedback.
type Improver interface {
	GenerateImprovedResponse(ctx context.Context, messages []chat.Message, originalResponse, feedback string) string
}

// Handler serves ratings and the improve/accept/reject review loop.
type Handler struct {
	store    chatService.Store
	improver Improver
	logger   zerolog.Logger
}

// New creates the feedback handler.
func New(store chatService.Store, improver Improver, logger zerolog.Logger) *Handler {
	return &Handler{
		store:    store,
		improver: improver,
		logger:   logger,
	}
}

// RegisterRoutes mounts the feedback routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/messages/rate", h.handleRate)
	r.Post("/messages/improve", h.handleImprove)
	r.Post("/conversations/update-response", h.handleUpdateResponse)
}

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// handleRate records a thumbs up/down. Unknown and temporary ids still
// succeed so the client can keep its local state.
func (h *Handler) handleRate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MessageID string      `json:"messageId"`
		Rating    chat.Rating `json:"rating"`
		Feedback  string      `json:"feedback"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.HasPrefix(payload.MessageID, tempIDPrefix) {
		utils.RespondJSON(w, http.StatusOK, statusResponse{true, "Rating submitted successfully (local only)"})
		return
	}

	err := h.store.RateMessage(r.Context(), payload.MessageID, payload.Rating, payload.Feedback)
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, statusResponse{true, "Rating submitted successfully"})
	case errors.Is(err, chatService.ErrInvalidRating):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatService.ErrMessageNotFound):
		utils.RespondJSON(w, http.StatusOK, statusResponse{true, "Message not found in database, but rating saved locally"})
	default:
		h.logger.Error().Err(err).Str("message_id", payload.MessageID).Msg("rate message failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to save rating")
	}
}

type improveResponse struct {
	Success          bool   `json:"success"`
	ImprovedResponse string `json:"improvedResponse"`
	OriginalResponse string `json:"originalResponse"`
}

// handleImprove drafts a replacement for a bot reply. Nothing is persisted
// until the draft is accepted through update-response.
func (h *Handler) handleImprove(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ConversationID string `json:"conversationId"`
		MessageID      string `json:"messageId"`
		Feedback       string `json:"feedback"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	conv, err := h.store.GetConversation(ctx, payload.ConversationID)
	if errors.Is(err, chatService.ErrConversationNotFound) {
		utils.RespondError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("load conversation for improvement failed")
		utils.RespondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	idx := conv.IndexOf(payload.MessageID)
	if idx < 0 {
		utils.RespondError(w, http.StatusNotFound, "Message not found")
		return
	}
	target := conv.Messages[idx]

	improved := h.improver.GenerateImprovedResponse(ctx, conv.Messages[:idx+1], target.Content, payload.Feedback)

	utils.RespondJSON(w, http.StatusOK, improveResponse{
		Success:          true,
		ImprovedResponse: improved,
		OriginalResponse: target.Content,
	})
}

// handleUpdateResponse applies an accepted draft, or flags the conversation
// as negative when the draft is rejected.
func (h *Handler) handleUpdateResponse(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ConversationID   string `json:"conversationId"`
		MessageID        string `json:"messageId"`
		Accept           bool   `json:"accept"`
		ImprovedResponse string `json:"improvedResponse"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	if !payload.Accept {
		if err := h.store.MarkNegative(ctx, payload.ConversationID); err != nil {
			h.respondUpdateError(w, err, "Failed to update conversation")
			return
		}
		utils.RespondJSON(w, http.StatusOK, statusResponse{true, "Conversation marked as negative"})
		return
	}

	if err := h.store.ApplyImprovement(ctx, payload.ConversationID, payload.MessageID, payload.ImprovedResponse); err != nil {
		h.respondUpdateError(w, err, "Failed to update message")
		return
	}
	utils.RespondJSON(w, http.StatusOK, statusResponse{true, "Response updated successfully"})
}

func (h *Handler) respondUpdateError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, chatService.ErrConversationNotFound) || errors.Is(err, chatService.ErrMessageNotFound) {
		utils.RespondError(w, http.StatusBadRequest, msg)
		return
	}
	h.logger.Error().Err(err).Msg(strings.ToLower(msg))
	utils.RespondError(w, http.StatusInternalServerError, msg)
}
