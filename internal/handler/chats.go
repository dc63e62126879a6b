package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/conseiller-portal/messagerie/internal/middleware"
	"github.com/conseiller-portal/messagerie/internal/model"
	"github.com/conseiller-portal/messagerie/pkg/logger"
)

// ChatHandler serves the conversation metadata endpoints.
type ChatHandler struct {
	chats       ChatService
	credentials CredentialStore
	directory   Directory
	heartbeat   time.Duration
	logger      *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chats ChatService, credentials CredentialStore, directory Directory, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chats:       chats,
		credentials: credentials,
		directory:   directory,
		heartbeat:   DefaultHeartbeatInterval,
		logger:      log.Named("chat_handler"),
	}
}

// ToggleFlagRequest is the body of PUT /beneficiaires/{id}/chat/flag.
type ToggleFlagRequest struct {
	Flagged bool `json:"flagged"`
}

// UnreadCountsResponse maps beneficiary ids to their unread counter.
type UnreadCountsResponse struct {
	Counts map[string]int `json:"counts"`
}

// Stream handles GET /api/v1/beneficiaires/{id}/chat/stream
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counsellor, _ := middleware.GetCounsellor(ctx)
	accessToken := middleware.GetAccessToken(ctx)
	log := h.logger.WithContext(middleware.GetCorrelationID(ctx), counsellor.ID)

	beneficiaryID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(beneficiaryID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	creds, err := h.credentials.Get(ctx, counsellor.ID, accessToken)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	b, err := h.directory.GetBeneficiaire(ctx, beneficiaryID, accessToken)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	updates := make(chan model.BeneficiaireChat, 1)
	sub, err := h.chats.ObserveBeneficiaireChat(ctx, counsellor.ID, b, creds.Key, func(bc model.BeneficiaireChat) {
		pushLatest(updates, bc)
	})
	if err != nil {
		writeServiceError(w, log, err)
		return
	}
	defer sub.Close()

	flusher, ok := startSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	log.Debug("chat stream opened", zap.String("jeune_id", beneficiaryID))
	streamUpdates(ctx, w, flusher, "chat", updates, h.heartbeat)
	log.Debug("chat stream closed", zap.String("jeune_id", beneficiaryID))
}

// MarkAsRead handles PUT /api/v1/beneficiaires/{id}/chat/lu
func (h *ChatHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counsellorID := middleware.GetCounsellorID(ctx)

	beneficiaryID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(beneficiaryID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.chats.MarkAsRead(ctx, model.ChatIDFor(counsellorID, beneficiaryID)); err != nil {
		writeServiceError(w, h.logger.WithContext(middleware.GetCorrelationID(ctx), counsellorID), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleFlag handles PUT /api/v1/beneficiaires/{id}/chat/flag
func (h *ChatHandler) ToggleFlag(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counsellorID := middleware.GetCounsellorID(ctx)

	beneficiaryID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(beneficiaryID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req ToggleFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.chats.ToggleFlag(ctx, model.ChatIDFor(counsellorID, beneficiaryID), req.Flagged); err != nil {
		writeServiceError(w, h.logger.WithContext(middleware.GetCorrelationID(ctx), counsellorID), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnreadCounts handles GET /api/v1/messages/non-lus?ids=a,b
func (h *ChatHandler) UnreadCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counsellorID := middleware.GetCounsellorID(ctx)

	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if err := middleware.ValidateIDs(ids); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	counts, err := h.chats.CountUnreadByBeneficiaries(ctx, counsellorID, ids)
	if err != nil {
		writeServiceError(w, h.logger.WithContext(middleware.GetCorrelationID(ctx), counsellorID), err)
		return
	}
	writeJSON(w, http.StatusOK, &UnreadCountsResponse{Counts: counts})
}

// ResetCredentials handles DELETE /api/v1/session/chat
// The next stream or send exchanges the current access token again.
func (h *ChatHandler) ResetCredentials(w http.ResponseWriter, r *http.Request) {
	h.credentials.Invalidate(middleware.GetCounsellorID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
