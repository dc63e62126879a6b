package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/conseiller-portal/messagerie/internal/middleware"
	"github.com/conseiller-portal/messagerie/internal/model"
	"github.com/conseiller-portal/messagerie/internal/service"
	"github.com/conseiller-portal/messagerie/pkg/logger"
)

// MessageHandler serves the conversation message endpoints.
type MessageHandler struct {
	views       MessageViews
	chats       ChatService
	sender      MessageSender
	credentials CredentialStore
	heartbeat   time.Duration
	logger      *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(
	views MessageViews,
	chats ChatService,
	sender MessageSender,
	credentials CredentialStore,
	log *logger.Logger,
) *MessageHandler {
	return &MessageHandler{
		views:       views,
		chats:       chats,
		sender:      sender,
		credentials: credentials,
		heartbeat:   DefaultHeartbeatInterval,
		logger:      log.Named("message_handler"),
	}
}

var errAttachmentAndOffer = errors.New("a message carries either an attachment or an offer")

// SendMessageRequest is the body of POST /beneficiaires/{id}/messages. At
// most one of PieceJointe and Offre is set.
type SendMessageRequest struct {
	Content     string            `json:"content"`
	PieceJointe *model.Attachment `json:"pieceJointe,omitempty"`
	Offre       *model.Offer      `json:"offre,omitempty"`
}

// BroadcastRequest is the body of POST /messages/diffusion.
type BroadcastRequest struct {
	IDsBeneficiaires   []string          `json:"idsBeneficiaires"`
	IDsListesDiffusion []string          `json:"idsListesDiffusion,omitempty"`
	Content            string            `json:"content"`
	PieceJointe        *model.Attachment `json:"pieceJointe,omitempty"`
}

// SendMessageResponse acknowledges a persisted message.
type SendMessageResponse struct {
	ChatID string `json:"chatId,omitempty"`
	Status string `json:"status"`
}

// Stream handles GET /api/v1/beneficiaires/{id}/messages/stream
func (h *MessageHandler) Stream(w http.ResponseWriter, r *http.Request) {
	beneficiaryID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(beneficiaryID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	chatID := model.ChatIDFor(middleware.GetCounsellorID(r.Context()), beneficiaryID)

	h.streamDays(w, r, func(key string, onUpdate func([]model.MessagesOfADay)) (model.Subscription, error) {
		return h.views.ObserveMessagesOfDays(r.Context(), chatID, key, onUpdate)
	})
}

// StreamBroadcastList handles GET /api/v1/listes-diffusion/{id}/messages/stream
func (h *MessageHandler) StreamBroadcastList(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(listID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.streamDays(w, r, func(key string, onUpdate func([]model.MessagesOfADay)) (model.Subscription, error) {
		return h.views.ObserveBroadcastListMessagesOfDays(r.Context(), listID, key, onUpdate)
	})
}

type observeDays func(key string, onUpdate func([]model.MessagesOfADay)) (model.Subscription, error)

func (h *MessageHandler) streamDays(w http.ResponseWriter, r *http.Request, observe observeDays) {
	ctx := r.Context()
	counsellorID := middleware.GetCounsellorID(ctx)
	log := h.logger.WithContext(middleware.GetCorrelationID(ctx), counsellorID)

	creds, err := h.credentials.Get(ctx, counsellorID, middleware.GetAccessToken(ctx))
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	updates := make(chan []model.MessagesOfADay, 1)
	sub, err := observe(creds.Key, func(days []model.MessagesOfADay) {
		pushLatest(updates, days)
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

	streamUpdates(ctx, w, flusher, "messages", updates, h.heartbeat)
}

// Send handles POST /api/v1/beneficiaires/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counsellor, _ := middleware.GetCounsellor(ctx)
	accessToken := middleware.GetAccessToken(ctx)
	log := h.logger.WithContext(middleware.GetCorrelationID(ctx), counsellor.ID)

	beneficiaryID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(beneficiaryID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateSendRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	creds, err := h.credentials.Get(ctx, counsellor.ID, accessToken)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	bc, err := h.chats.CurrentBeneficiaireChat(ctx, counsellor.ID, model.Beneficiaire{ID: beneficiaryID}, creds.Key)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	switch {
	case req.PieceJointe != nil:
		err = h.sender.SendMessageWithAttachment(ctx, counsellor, bc, *req.PieceJointe, req.Content, accessToken, creds.Key)
	case req.Offre != nil:
		err = h.sender.SendOffer(ctx, counsellor, bc, *req.Offre, req.Content, accessToken, creds.Key)
	default:
		err = h.sender.SendMessage(ctx, counsellor, bc, req.Content, accessToken, creds.Key)
	}
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	log.Info("message sent", zap.String("chat_id", bc.ChatID))
	writeJSON(w, http.StatusCreated, &SendMessageResponse{ChatID: bc.ChatID, Status: "sent"})
}

// Broadcast handles POST /api/v1/messages/diffusion
func (h *MessageHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counsellor, _ := middleware.GetCounsellor(ctx)
	accessToken := middleware.GetAccessToken(ctx)
	log := h.logger.WithContext(middleware.GetCorrelationID(ctx), counsellor.ID)

	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateBroadcastRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	creds, err := h.credentials.Get(ctx, counsellor.ID, accessToken)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	err = h.sender.SendBroadcastMessage(ctx, counsellor, service.BroadcastRequest{
		BeneficiaryIDs:   req.IDsBeneficiaires,
		BroadcastListIDs: req.IDsListesDiffusion,
		Text:             req.Content,
		Attachment:       req.PieceJointe,
	}, accessToken, creds.Key)
	if err != nil {
		writeServiceError(w, log, err)
		return
	}

	writeJSON(w, http.StatusCreated, &SendMessageResponse{Status: "sent"})
}

func validateSendRequest(req *SendMessageRequest) error {
	if req.PieceJointe != nil && req.Offre != nil {
		return errAttachmentAndOffer
	}
	switch {
	case req.PieceJointe != nil:
		if err := middleware.ValidateID(req.PieceJointe.ID); err != nil {
			return err
		}
		return middleware.ValidateOptionalContent(req.Content)
	case req.Offre != nil:
		if err := middleware.ValidateID(req.Offre.ID); err != nil {
			return err
		}
		return middleware.ValidateOptionalContent(req.Content)
	}
	return middleware.ValidateMessageContent(req.Content)
}

func validateBroadcastRequest(req *BroadcastRequest) error {
	if err := middleware.ValidateIDs(req.IDsBeneficiaires); err != nil {
		return err
	}
	for _, id := range req.IDsListesDiffusion {
		if err := middleware.ValidateID(id); err != nil {
			return err
		}
	}
	if req.PieceJointe != nil {
		if err := middleware.ValidateID(req.PieceJointe.ID); err != nil {
			return err
		}
		return middleware.ValidateOptionalContent(req.Content)
	}
	return middleware.ValidateMessageContent(req.Content)
}
