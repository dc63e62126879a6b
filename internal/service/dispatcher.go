package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conseiller-portal/messagerie/internal/model"
	"github.com/conseiller-portal/messagerie/pkg/logger"
	"github.com/conseiller-portal/messagerie/pkg/metrics"
)

var (
	// ErrEmptyMessage is returned when a message has neither text nor reference.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoRecipient is returned for a broadcast without beneficiaries.
	ErrNoRecipient = errors.New("broadcast has no recipient")
)

// BroadcastRequest describes one message sent to several beneficiaries.
type BroadcastRequest struct {
	BeneficiaryIDs   []string
	BroadcastListIDs []string
	Text             string
	Attachment       *model.Attachment
}

// draft is a message before encryption.
type draft struct {
	kind       string
	msgType    model.MessageType
	event      model.EventType
	text       string
	attachment *model.Attachment
	offer      *model.Offer
}

// Dispatcher persists counsellor messages and triggers their side effects.
type Dispatcher struct {
	store    ChatStore
	cipher   Cipher
	notifier Notifier
	now      func() time.Time
	tracer   trace.Tracer
	logger   *logger.Logger
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(store ChatStore, c Cipher, notifier Notifier, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		cipher:   c,
		notifier: notifier,
		now:      time.Now,
		tracer:   otel.Tracer("github.com/conseiller-portal/messagerie/internal/service"),
		logger:   log.Named("dispatcher"),
	}
}

// SendMessage sends a text message to one beneficiary.
func (d *Dispatcher) SendMessage(ctx context.Context, counsellor model.Counsellor, bc model.BeneficiaireChat, text, accessToken, key string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	return d.send(ctx, counsellor, bc, draft{
		kind:    "message",
		msgType: model.MessageTypeText,
		event:   model.EventMessageSent,
		text:    text,
	}, accessToken, key)
}

// SendMessageWithAttachment sends an uploaded file reference, with optional text.
func (d *Dispatcher) SendMessageWithAttachment(ctx context.Context, counsellor model.Counsellor, bc model.BeneficiaireChat, attachment model.Attachment, text, accessToken, key string) error {
	if attachment.ID == "" {
		return ErrEmptyMessage
	}
	return d.send(ctx, counsellor, bc, draft{
		kind:       "piece_jointe",
		msgType:    model.MessageTypeAttachment,
		event:      model.EventMessageSentWithAttachment,
		text:       text,
		attachment: &attachment,
	}, accessToken, key)
}

// SendOffer shares a job offer, with optional text.
func (d *Dispatcher) SendOffer(ctx context.Context, counsellor model.Counsellor, bc model.BeneficiaireChat, offer model.Offer, text, accessToken, key string) error {
	if offer.ID == "" {
		return ErrEmptyMessage
	}
	return d.send(ctx, counsellor, bc, draft{
		kind:    "offre",
		msgType: model.MessageTypeOffer,
		event:   model.EventOfferShared,
		text:    text,
		offer:   &offer,
	}, accessToken, key)
}

func (d *Dispatcher) send(ctx context.Context, counsellor model.Counsellor, bc model.BeneficiaireChat, m draft, accessToken, key string) error {
	ctx, span := d.tracer.Start(ctx, "dispatcher.send", trace.WithAttributes(
		attribute.String("message.type", string(m.msgType)),
		attribute.String("chat.id", bc.ChatID),
	))
	defer span.End()

	now := d.now()
	out, err := d.encrypt(counsellor, m, key, now)
	if err != nil {
		return failSpan(span, err)
	}

	if err := d.store.AddMessage(ctx, bc.ChatID, out); err != nil {
		return failSpan(span, fmt.Errorf("failed to add message: %w", err))
	}

	seen := true
	update := lastMessageUpdate(out, bc.NewCounsellorMessages+1)
	update.SeenByCounsellor = &seen
	update.LastCounsellorReading = &now
	if err := d.store.UpdateChat(ctx, bc.ChatID, update); err != nil {
		return failSpan(span, fmt.Errorf("failed to update chat: %w", err))
	}

	metrics.MessagesSentTotal.WithLabelValues(m.kind).Inc()
	d.logger.Debug("Message sent",
		zap.String("chat_id", bc.ChatID),
		zap.String("conseiller_id", counsellor.ID),
		zap.String("type", string(m.msgType)),
	)

	d.runSideEffects(ctx, counsellor, []string{bc.ID}, m.event, accessToken)
	return nil
}

// SendBroadcastMessage sends one message to every beneficiary of req. The
// recipients' read state is reset, not the counsellor's.
func (d *Dispatcher) SendBroadcastMessage(ctx context.Context, counsellor model.Counsellor, req BroadcastRequest, accessToken, key string) error {
	recipients := uniqueIDs(req.BeneficiaryIDs)
	if len(recipients) == 0 {
		return ErrNoRecipient
	}
	if strings.TrimSpace(req.Text) == "" && req.Attachment == nil {
		return ErrEmptyMessage
	}

	m := draft{
		kind:    "diffusion",
		msgType: model.MessageTypeText,
		event:   model.EventBroadcastSent,
		text:    req.Text,
	}
	if req.Attachment != nil {
		m.msgType = model.MessageTypeAttachment
		m.event = model.EventBroadcastSentWithAttachment
		m.attachment = req.Attachment
	}

	ctx, span := d.tracer.Start(ctx, "dispatcher.broadcast", trace.WithAttributes(
		attribute.Int("broadcast.recipients", len(recipients)),
		attribute.Int("broadcast.lists", len(req.BroadcastListIDs)),
	))
	defer span.End()

	now := d.now()
	out, err := d.encrypt(counsellor, m, key, now)
	if err != nil {
		return failSpan(span, err)
	}

	chats, err := d.store.GetChatsForBeneficiaries(ctx, counsellor.ID, recipients)
	if err != nil {
		return failSpan(span, fmt.Errorf("failed to get recipient chats: %w", err))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range recipients {
		id := id
		g.Go(func() error {
			chatID := model.ChatIDFor(counsellor.ID, id)
			if err := d.store.AddMessage(gctx, chatID, out); err != nil {
				return fmt.Errorf("failed to add message for %s: %w", id, err)
			}

			previous := 0
			if chat := chats[id]; chat != nil {
				previous = chat.NewCounsellorMessages
			}
			seen := false
			reading := model.Epoch
			update := lastMessageUpdate(out, previous+1)
			update.SeenByCounsellor = &seen
			update.LastCounsellorReading = &reading
			if err := d.store.UpdateChat(gctx, chatID, update); err != nil {
				return fmt.Errorf("failed to update chat for %s: %w", id, err)
			}
			return nil
		})
	}
	for _, listID := range uniqueIDs(req.BroadcastListIDs) {
		listID := listID
		g.Go(func() error {
			if err := d.store.AddBroadcastListMessage(gctx, listID, out); err != nil {
				return fmt.Errorf("failed to add message to list %s: %w", listID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failSpan(span, fmt.Errorf("failed to send broadcast: %w", err))
	}

	metrics.MessagesSentTotal.WithLabelValues(m.kind).Inc()
	d.logger.Info("Broadcast sent",
		zap.String("conseiller_id", counsellor.ID),
		zap.Int("recipients", len(recipients)),
		zap.Int("lists", len(req.BroadcastListIDs)),
	)

	d.runSideEffects(ctx, counsellor, recipients, m.event, accessToken)
	return nil
}

func (d *Dispatcher) encrypt(counsellor model.Counsellor, m draft, key string, now time.Time) (model.OutgoingMessage, error) {
	enc, err := d.cipher.Encrypt(m.text, key)
	if err != nil {
		return model.OutgoingMessage{}, fmt.Errorf("failed to encrypt message: %w", err)
	}

	out := model.OutgoingMessage{
		AuthorID: counsellor.ID,
		Content:  enc.EncryptedText,
		IV:       enc.IV,
		SentAt:   now,
		Type:     m.msgType,
		Offer:    m.offer,
	}
	if m.attachment != nil {
		name, err := d.cipher.EncryptWithIV(m.attachment.Name, key, enc.IV)
		if err != nil {
			return model.OutgoingMessage{}, fmt.Errorf("failed to encrypt attachment name: %w", err)
		}
		out.Attachment = &model.Attachment{ID: m.attachment.ID, Name: name}
	}
	return out, nil
}

// runSideEffects notifies the beneficiaries and posts the audit event
// concurrently and waits for both. Failures are logged only: the message is
// already persisted.
func (d *Dispatcher) runSideEffects(ctx context.Context, counsellor model.Counsellor, beneficiaryIDs []string, event model.EventType, accessToken string) {
	ctx = context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := d.notifier.NotifyMessages(ctx, counsellor.ID, beneficiaryIDs, accessToken); err != nil {
			metrics.SideEffectFailuresTotal.WithLabelValues("notification").Inc()
			d.logger.Warn("Failed to notify beneficiaries",
				zap.String("conseiller_id", counsellor.ID),
				zap.Strings("jeunes", beneficiaryIDs),
				zap.Error(err),
			)
		}
	}()
	go func() {
		defer wg.Done()
		if err := d.notifier.PostEvenement(ctx, model.CounsellorEvent(event, counsellor), accessToken); err != nil {
			metrics.SideEffectFailuresTotal.WithLabelValues("evenement").Inc()
			d.logger.Warn("Failed to post evenement",
				zap.String("conseiller_id", counsellor.ID),
				zap.String("type", string(event)),
				zap.Error(err),
			)
		}
	}()
	wg.Wait()
}

func lastMessageUpdate(out model.OutgoingMessage, count int) model.ChatUpdate {
	content := out.Content
	iv := out.IV
	sentAt := out.SentAt
	sentBy := model.SentByConseiller
	return model.ChatUpdate{
		LastMessageContent:    &content,
		LastMessageIV:         &iv,
		LastMessageSentAt:     &sentAt,
		LastMessageSentBy:     &sentBy,
		NewCounsellorMessages: &count,
	}
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
