package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conseiller-portal/messagerie/internal/cipher"
	"github.com/conseiller-portal/messagerie/internal/model"
	"github.com/conseiller-portal/messagerie/pkg/logger"
	"github.com/conseiller-portal/messagerie/pkg/metrics"
)

// Synchronizer keeps a beneficiary's chat view model in step with the store.
type Synchronizer struct {
	store  ChatStore
	cipher Cipher
	now    func() time.Time
	logger *logger.Logger
}

// NewSynchronizer creates a new synchronizer.
func NewSynchronizer(store ChatStore, c Cipher, log *logger.Logger) *Synchronizer {
	return &Synchronizer{
		store:  store,
		cipher: c,
		now:    time.Now,
		logger: log.Named("synchronizer"),
	}
}

// Project merges b with a raw chat revision. A nil chat is a conversation
// that has not started yet.
func (s *Synchronizer) Project(counsellorID string, b model.Beneficiaire, chat *model.Chat, key string) model.BeneficiaireChat {
	view := model.BeneficiaireChat{
		Beneficiaire: b,
		ChatID:       model.ChatIDFor(counsellorID, b.ID),
	}
	if chat == nil {
		return view
	}

	view.Chat = *chat
	if chat.LastMessageIV != "" {
		plain, err := s.cipher.Decrypt(cipher.Encrypted{
			EncryptedText: chat.LastMessageContent,
			IV:            chat.LastMessageIV,
		}, key)
		if err != nil {
			metrics.DecryptionFailuresTotal.WithLabelValues("chat").Inc()
			s.logger.Warn("Failed to decrypt last message preview",
				zap.String("chat_id", view.ChatID),
				zap.Error(err),
			)
			plain = UnreadablePlaceholder
		}
		view.LastMessageContent = plain
		view.LastMessageIV = ""
	}
	return view
}

// ObserveBeneficiaireChat pushes a fresh view model on every chat revision.
// Redundant identical revisions yield equal view models.
func (s *Synchronizer) ObserveBeneficiaireChat(
	ctx context.Context,
	counsellorID string,
	b model.Beneficiaire,
	key string,
	onUpdate func(model.BeneficiaireChat),
) (model.Subscription, error) {
	chatID := model.ChatIDFor(counsellorID, b.ID)
	return s.store.ObserveChat(ctx, chatID, func(chat *model.Chat) {
		onUpdate(s.Project(counsellorID, b, chat, key))
	})
}

// CurrentBeneficiaireChat reads the view model once.
func (s *Synchronizer) CurrentBeneficiaireChat(ctx context.Context, counsellorID string, b model.Beneficiaire, key string) (model.BeneficiaireChat, error) {
	chat, _, err := s.store.GetChat(ctx, model.ChatIDFor(counsellorID, b.ID))
	if err != nil {
		return model.BeneficiaireChat{}, fmt.Errorf("failed to get chat: %w", err)
	}
	return s.Project(counsellorID, b, chat, key), nil
}

// MarkAsRead records that the counsellor has read the conversation.
func (s *Synchronizer) MarkAsRead(ctx context.Context, chatID string) error {
	seen := true
	now := s.now()
	err := s.store.UpdateChat(ctx, chatID, model.ChatUpdate{
		SeenByCounsellor:      &seen,
		LastCounsellorReading: &now,
	})
	if err != nil {
		return fmt.Errorf("failed to mark chat as read: %w", err)
	}
	return nil
}

// ToggleFlag sets or clears the counsellor's flag on a conversation.
func (s *Synchronizer) ToggleFlag(ctx context.Context, chatID string, flagged bool) error {
	if err := s.store.UpdateChat(ctx, chatID, model.ChatUpdate{FlaggedByCounsellor: &flagged}); err != nil {
		return fmt.Errorf("failed to flag chat: %w", err)
	}
	return nil
}

// CountUnreadByBeneficiaries returns the unread message counter of each
// beneficiary, 0 when no conversation exists.
func (s *Synchronizer) CountUnreadByBeneficiaries(ctx context.Context, counsellorID string, beneficiaryIDs []string) (map[string]int, error) {
	chats, err := s.store.GetChatsForBeneficiaries(ctx, counsellorID, beneficiaryIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get chats: %w", err)
	}

	counts := make(map[string]int, len(beneficiaryIDs))
	for _, id := range beneficiaryIDs {
		if chat, ok := chats[id]; ok && chat != nil {
			counts[id] = chat.NewCounsellorMessages
		} else {
			counts[id] = 0
		}
	}
	return counts, nil
}
