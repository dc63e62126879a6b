package handler

import (
	"context"

	"github.com/conseiller-portal/messagerie/internal/model"
	natsclient "github.com/conseiller-portal/messagerie/internal/nats"
	"github.com/conseiller-portal/messagerie/internal/service"
	"github.com/conseiller-portal/messagerie/internal/session"
)

// CredentialStore returns the counsellor's chat credentials for the session.
type CredentialStore interface {
	Get(ctx context.Context, counsellorID, accessToken string) (model.ChatCredentials, error)
	Invalidate(counsellorID string)
}

// Directory resolves beneficiary identities.
type Directory interface {
	GetBeneficiaire(ctx context.Context, beneficiaryID, accessToken string) (model.Beneficiaire, error)
}

// ChatService is the conversation metadata side.
type ChatService interface {
	ObserveBeneficiaireChat(ctx context.Context, counsellorID string, b model.Beneficiaire, key string, onUpdate func(model.BeneficiaireChat)) (model.Subscription, error)
	CurrentBeneficiaireChat(ctx context.Context, counsellorID string, b model.Beneficiaire, key string) (model.BeneficiaireChat, error)
	MarkAsRead(ctx context.Context, chatID string) error
	ToggleFlag(ctx context.Context, chatID string, flagged bool) error
	CountUnreadByBeneficiaries(ctx context.Context, counsellorID string, beneficiaryIDs []string) (map[string]int, error)
}

// MessageViews streams decrypted, day-grouped conversations.
type MessageViews interface {
	ObserveMessagesOfDays(ctx context.Context, chatID, key string, onUpdate func([]model.MessagesOfADay)) (model.Subscription, error)
	ObserveBroadcastListMessagesOfDays(ctx context.Context, listID, key string, onUpdate func([]model.MessagesOfADay)) (model.Subscription, error)
}

// MessageSender sends counsellor messages.
type MessageSender interface {
	SendMessage(ctx context.Context, counsellor model.Counsellor, bc model.BeneficiaireChat, text, accessToken, key string) error
	SendMessageWithAttachment(ctx context.Context, counsellor model.Counsellor, bc model.BeneficiaireChat, attachment model.Attachment, text, accessToken, key string) error
	SendOffer(ctx context.Context, counsellor model.Counsellor, bc model.BeneficiaireChat, offer model.Offer, text, accessToken, key string) error
	SendBroadcastMessage(ctx context.Context, counsellor model.Counsellor, req service.BroadcastRequest, accessToken, key string) error
}

var (
	_ ReadinessChecker = (*natsclient.ChatStore)(nil)
	_ CredentialStore  = (*session.Credentials)(nil)
	_ ChatService   = (*service.Synchronizer)(nil)
	_ MessageViews  = (*service.Pipeline)(nil)
	_ MessageSender = (*service.Dispatcher)(nil)
)
