// Package service implements the messaging use cases on top of the chat store.
package service

import (
	"context"

	"github.com/conseiller-portal/messagerie/internal/cipher"
	"github.com/conseiller-portal/messagerie/internal/model"
)

// ChatStore is the subset of the chat record store the services use.
type ChatStore interface {
	ObserveChat(ctx context.Context, chatID string, onUpdate func(*model.Chat)) (model.Subscription, error)
	ObserveMessages(ctx context.Context, chatID string, onUpdate func([]model.Message)) (model.Subscription, error)
	ObserveBroadcastListMessages(ctx context.Context, listID string, onUpdate func([]model.Message)) (model.Subscription, error)
	AddMessage(ctx context.Context, chatID string, msg model.OutgoingMessage) error
	AddBroadcastListMessage(ctx context.Context, listID string, msg model.OutgoingMessage) error
	UpdateChat(ctx context.Context, chatID string, update model.ChatUpdate) error
	GetChat(ctx context.Context, chatID string) (*model.Chat, bool, error)
	GetChatsForBeneficiaries(ctx context.Context, counsellorID string, beneficiaryIDs []string) (map[string]*model.Chat, error)
}

// Cipher encrypts and decrypts message fields.
type Cipher interface {
	Encrypt(plaintext, key string) (cipher.Encrypted, error)
	EncryptWithIV(plaintext, key, iv string) (string, error)
	Decrypt(e cipher.Encrypted, key string) (string, error)
}

// Notifier carries the post-send side effects to the backend.
type Notifier interface {
	NotifyMessages(ctx context.Context, counsellorID string, beneficiaryIDs []string, accessToken string) error
	PostEvenement(ctx context.Context, evt model.Evenement, accessToken string) error
}

var _ Cipher = (*cipher.Cipher)(nil)
