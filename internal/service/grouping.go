package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/conseiller-portal/messagerie/internal/cipher"
	"github.com/conseiller-portal/messagerie/internal/model"
	"github.com/conseiller-portal/messagerie/pkg/logger"
	"github.com/conseiller-portal/messagerie/pkg/metrics"
)

// UnreadablePlaceholder replaces content that could not be decrypted.
const UnreadablePlaceholder = "Message illisible"

// Pipeline turns raw stored messages into decrypted, day-grouped views.
type Pipeline struct {
	store    ChatStore
	cipher   Cipher
	location *time.Location
	logger   *logger.Logger
}

// NewPipeline creates a pipeline bucketing days in loc.
func NewPipeline(store ChatStore, c Cipher, loc *time.Location, log *logger.Logger) *Pipeline {
	if loc == nil {
		loc = time.Local
	}
	return &Pipeline{
		store:    store,
		cipher:   c,
		location: loc,
		logger:   log.Named("grouping"),
	}
}

type dayKey struct {
	year  int
	month time.Month
	day   int
}

// GroupAndDecrypt drops counsellor-change markers, decrypts the rest with key
// and groups them by calendar day in the display location. Days come out in
// the order they first appear in raw; the store delivers messages in append
// order so no sort is applied.
func (p *Pipeline) GroupAndDecrypt(raw []model.Message, key string) []model.MessagesOfADay {
	days := []model.MessagesOfADay{}
	index := make(map[dayKey]int)

	for _, m := range raw {
		if m.Type == model.MessageTypeNewCounsellor {
			continue
		}
		m = p.decryptMessage(m, key)

		y, mo, d := m.CreationDate.In(p.location).Date()
		k := dayKey{y, mo, d}

		i, ok := index[k]
		if !ok {
			index[k] = len(days)
			days = append(days, model.MessagesOfADay{
				Date:     m.CreationDate,
				Messages: []model.Message{m},
			})
			continue
		}
		days[i].Messages = append(days[i].Messages, m)
	}

	return days
}

// ObserveMessagesOfDays regroups the conversation on every store snapshot.
func (p *Pipeline) ObserveMessagesOfDays(ctx context.Context, chatID, key string, onUpdate func([]model.MessagesOfADay)) (model.Subscription, error) {
	return p.store.ObserveMessages(ctx, chatID, func(raw []model.Message) {
		onUpdate(p.GroupAndDecrypt(raw, key))
	})
}

// ObserveBroadcastListMessagesOfDays is ObserveMessagesOfDays for a broadcast list.
func (p *Pipeline) ObserveBroadcastListMessagesOfDays(ctx context.Context, listID, key string, onUpdate func([]model.MessagesOfADay)) (model.Subscription, error) {
	return p.store.ObserveBroadcastListMessages(ctx, listID, func(raw []model.Message) {
		onUpdate(p.GroupAndDecrypt(raw, key))
	})
}

// decryptMessage returns a copy of m with content and attachment names in
// clear. Messages without an iv are legacy plaintext and pass through.
func (p *Pipeline) decryptMessage(m model.Message, key string) model.Message {
	if m.IV == "" {
		return m
	}

	iv := m.IV
	m.Content = p.decryptField(m.ID, m.Content, iv, key)
	if len(m.Attachments) > 0 {
		attachments := make([]model.Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			a.Name = p.decryptField(m.ID, a.Name, iv, key)
			attachments[i] = a
		}
		m.Attachments = attachments
	}
	m.IV = ""
	return m
}

func (p *Pipeline) decryptField(messageID, text, iv, key string) string {
	plain, err := p.cipher.Decrypt(cipher.Encrypted{EncryptedText: text, IV: iv}, key)
	if err != nil {
		metrics.DecryptionFailuresTotal.WithLabelValues("message").Inc()
		p.logger.Warn("Failed to decrypt message",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
		return UnreadablePlaceholder
	}
	return plain
}
