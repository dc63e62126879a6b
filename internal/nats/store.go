package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conseiller-portal/messagerie/internal/model"
	"github.com/conseiller-portal/messagerie/pkg/logger"
	"github.com/conseiller-portal/messagerie/pkg/metrics"
)

// ErrStoreUnavailable wraps every failure reaching the real-time store.
var ErrStoreUnavailable = errors.New("chat store unavailable")

// ErrInvalidID is returned for ids that cannot be used as a subject token or key.
var ErrInvalidID = errors.New("invalid id")

const (
	DefaultChatsBucket    = "CHATS"
	DefaultMessagesStream = "CHAT_MESSAGES"

	chatsSubjectPrefix  = "chats"
	listesSubjectPrefix = "listes"

	batchReadConcurrency = 8
)

// StoreConfig names the JetStream resources backing the store.
type StoreConfig struct {
	ChatsBucket    string
	MessagesStream string
}

// ChatStore persists chat metadata in a KeyValue bucket and messages in a stream.
type ChatStore struct {
	client *Client
	cfg    StoreConfig
	chats  jetstream.KeyValue
	logger *logger.Logger
}

// NewChatStore returns a store over client. EnsureStore must run before use.
func NewChatStore(client *Client, cfg StoreConfig, log *logger.Logger) *ChatStore {
	if cfg.ChatsBucket == "" {
		cfg.ChatsBucket = DefaultChatsBucket
	}
	if cfg.MessagesStream == "" {
		cfg.MessagesStream = DefaultMessagesStream
	}
	return &ChatStore{
		client: client,
		cfg:    cfg,
		logger: log.Named("chat_store"),
	}
}

// MessageSubject returns the subject holding the messages of chatID.
func MessageSubject(chatID string) string {
	return fmt.Sprintf("%s.%s.messages", chatsSubjectPrefix, chatID)
}

// BroadcastListSubject returns the subject holding the messages of a broadcast list.
func BroadcastListSubject(listID string) string {
	return fmt.Sprintf("%s.%s.messages", listesSubjectPrefix, listID)
}

// EnsureStore creates the messages stream and the chats bucket if missing.
func (s *ChatStore) EnsureStore(ctx context.Context) error {
	js := s.client.JetStream()

	_, err := js.Stream(ctx, s.cfg.MessagesStream)
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        s.cfg.MessagesStream,
			Description: "Counsellor and beneficiary conversation messages",
			Subjects: []string{
				MessageSubject("*"),
				BroadcastListSubject("*"),
			},
			Retention:  jetstream.LimitsPolicy,
			Storage:    jetstream.FileStorage,
			Duplicates: 2 * time.Minute,
			DenyDelete: true,
		})
		if err != nil {
			return fmt.Errorf("%w: failed to create stream: %w", ErrStoreUnavailable, err)
		}
		s.logger.Info("Created stream", zap.String("stream", s.cfg.MessagesStream))
	} else if err != nil {
		return fmt.Errorf("%w: failed to get stream: %w", ErrStoreUnavailable, err)
	}

	kv, err := js.KeyValue(ctx, s.cfg.ChatsBucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      s.cfg.ChatsBucket,
			Description: "Live conversation metadata",
			History:     5,
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("%w: failed to create bucket: %w", ErrStoreUnavailable, err)
		}
		s.logger.Info("Created bucket", zap.String("bucket", s.cfg.ChatsBucket))
	} else if err != nil {
		return fmt.Errorf("%w: failed to get bucket: %w", ErrStoreUnavailable, err)
	}

	s.chats = kv
	return nil
}

// Ready reports whether the store can serve: the connection is up and both
// the messages stream and the chats bucket exist.
func (s *ChatStore) Ready(ctx context.Context) error {
	if !s.client.IsConnected() {
		return fmt.Errorf("%w: not connected", ErrStoreUnavailable)
	}
	if s.chats == nil {
		return fmt.Errorf("%w: chats bucket not initialized", ErrStoreUnavailable)
	}
	if _, err := s.client.JetStream().Stream(ctx, s.cfg.MessagesStream); err != nil {
		return fmt.Errorf("%w: messages stream: %w", ErrStoreUnavailable, err)
	}
	if _, err := s.chats.Status(ctx); err != nil {
		return fmt.Errorf("%w: chats bucket: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// ObserveChat pushes every revision of the chat document. A missing or
// deleted document is pushed as a default Chat.
func (s *ChatStore) ObserveChat(ctx context.Context, chatID string, onUpdate func(*model.Chat)) (model.Subscription, error) {
	if err := validateToken(chatID); err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	w, err := s.chats.Watch(watchCtx, chatID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to watch chat: %w", ErrStoreUnavailable, err)
	}

	sub := newSubscription("chat", s.logger)
	sub.stop = func() error {
		cancel()
		return w.Stop()
	}

	go func() {
		seen := false
		for {
			select {
			case <-watchCtx.Done():
				return
			case entry, ok := <-w.Updates():
				if !ok {
					return
				}
				if entry == nil {
					if !seen {
						sub.deliver(func() { onUpdate(&model.Chat{}) })
					}
					continue
				}
				seen = true

				chat := &model.Chat{}
				if entry.Operation() == jetstream.KeyValuePut {
					if err := json.Unmarshal(entry.Value(), chat); err != nil {
						s.logger.Warn("Skipping undecodable chat revision",
							zap.String("chat_id", chatID),
							zap.Uint64("revision", entry.Revision()),
							zap.Error(err),
						)
						continue
					}
				}
				sub.deliver(func() { onUpdate(chat) })
			}
		}
	}()

	return sub, nil
}

// ObserveMessages pushes the full ordered message list of chatID every time it
// changes, starting with the current state.
func (s *ChatStore) ObserveMessages(ctx context.Context, chatID string, onUpdate func([]model.Message)) (model.Subscription, error) {
	if err := validateToken(chatID); err != nil {
		return nil, err
	}
	return s.observeSubject(ctx, "messages", MessageSubject(chatID), onUpdate)
}

// ObserveBroadcastListMessages is ObserveMessages for a broadcast list.
func (s *ChatStore) ObserveBroadcastListMessages(ctx context.Context, listID string, onUpdate func([]model.Message)) (model.Subscription, error) {
	if err := validateToken(listID); err != nil {
		return nil, err
	}
	return s.observeSubject(ctx, "liste", BroadcastListSubject(listID), onUpdate)
}

func (s *ChatStore) observeSubject(ctx context.Context, kind, subject string, onUpdate func([]model.Message)) (model.Subscription, error) {
	js := s.client.JetStream()

	stream, err := js.Stream(ctx, s.cfg.MessagesStream)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get stream: %w", ErrStoreUnavailable, err)
	}

	empty := false
	if _, err := stream.GetLastMsgForSubject(ctx, subject); err != nil {
		if !errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, fmt.Errorf("%w: failed to read last message: %w", ErrStoreUnavailable, err)
		}
		empty = true
	}

	consumer, err := js.OrderedConsumer(ctx, s.cfg.MessagesStream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create consumer: %w", ErrStoreUnavailable, err)
	}

	sub := newSubscription(kind, s.logger)
	if empty {
		sub.deliver(func() { onUpdate([]model.Message{}) })
	}

	// Consume invokes the handler from a single goroutine.
	var snapshot []model.Message
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var m model.Message
		if err := json.Unmarshal(msg.Data(), &m); err != nil {
			s.logger.Warn("Skipping undecodable message",
				zap.String("subject", msg.Subject()),
				zap.Error(err),
			)
		} else {
			snapshot = append(snapshot, m)
		}

		meta, err := msg.Metadata()
		if err == nil && meta.NumPending > 0 {
			return
		}
		out := make([]model.Message, len(snapshot))
		copy(out, snapshot)
		sub.deliver(func() { onUpdate(out) })
	})
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("%w: failed to consume: %w", ErrStoreUnavailable, err)
	}
	sub.stop = func() error {
		cc.Stop()
		return nil
	}

	return sub, nil
}

// AddMessage appends msg to the conversation chatID.
func (s *ChatStore) AddMessage(ctx context.Context, chatID string, msg model.OutgoingMessage) error {
	if err := validateToken(chatID); err != nil {
		return err
	}
	return s.publish(ctx, "add_message", MessageSubject(chatID), msg)
}

// AddBroadcastListMessage appends msg to the broadcast list listID.
func (s *ChatStore) AddBroadcastListMessage(ctx context.Context, listID string, msg model.OutgoingMessage) error {
	if err := validateToken(listID); err != nil {
		return err
	}
	return s.publish(ctx, "add_liste_message", BroadcastListSubject(listID), msg)
}

func (s *ChatStore) publish(ctx context.Context, operation, subject string, out model.OutgoingMessage) error {
	start := time.Now()

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate message id: %w", err)
	}
	msg := out.ToMessage(id.String())

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = s.client.JetStream().Publish(ctx, subject, data, jetstream.WithMsgID(msg.ID))
	metrics.RecordStoreOperation(operation, err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: failed to publish message: %w", ErrStoreUnavailable, err)
	}

	s.logger.Debug("Published message",
		zap.String("subject", subject),
		zap.String("message_id", msg.ID),
		zap.String("type", string(msg.Type)),
	)
	return nil
}

// UpdateChat merges update into the stored chat document. Concurrent writers
// are not detected: the last put wins.
func (s *ChatStore) UpdateChat(ctx context.Context, chatID string, update model.ChatUpdate) error {
	if err := validateToken(chatID); err != nil {
		return err
	}
	start := time.Now()

	chat, _, err := s.getChat(ctx, chatID)
	if err != nil {
		metrics.RecordStoreOperation("update_chat", err, time.Since(start).Seconds())
		return err
	}
	if chat == nil {
		chat = &model.Chat{}
	}
	update.Apply(chat)

	data, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("failed to marshal chat: %w", err)
	}

	_, err = s.chats.Put(ctx, chatID, data)
	metrics.RecordStoreOperation("update_chat", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%w: failed to put chat: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// GetChat reads one chat document. A missing document returns (nil, false, nil).
func (s *ChatStore) GetChat(ctx context.Context, chatID string) (*model.Chat, bool, error) {
	if err := validateToken(chatID); err != nil {
		return nil, false, err
	}
	start := time.Now()
	chat, found, err := s.getChat(ctx, chatID)
	metrics.RecordStoreOperation("get_chat", err, time.Since(start).Seconds())
	return chat, found, err
}

func (s *ChatStore) getChat(ctx context.Context, chatID string) (*model.Chat, bool, error) {
	entry, err := s.chats.Get(ctx, chatID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to get chat: %w", ErrStoreUnavailable, err)
	}

	chat := &model.Chat{}
	if err := json.Unmarshal(entry.Value(), chat); err != nil {
		s.logger.Warn("Stored chat is undecodable, using default",
			zap.String("chat_id", chatID),
			zap.Error(err),
		)
		return &model.Chat{}, true, nil
	}
	return chat, true, nil
}

// GetChatsForBeneficiaries reads the chats of counsellorID with each
// beneficiary. Beneficiaries without a conversation are absent from the result.
func (s *ChatStore) GetChatsForBeneficiaries(ctx context.Context, counsellorID string, beneficiaryIDs []string) (map[string]*model.Chat, error) {
	start := time.Now()

	var mu sync.Mutex
	result := make(map[string]*model.Chat, len(beneficiaryIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchReadConcurrency)
	for _, id := range beneficiaryIDs {
		id := id
		g.Go(func() error {
			chat, found, err := s.getChat(gctx, model.ChatIDFor(counsellorID, id))
			if err != nil || !found {
				return err
			}
			mu.Lock()
			result[id] = chat
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	metrics.RecordStoreOperation("get_chats", err, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return result, nil
}

func validateToken(id string) error {
	if id == "" || strings.ContainsAny(id, ".*> \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
