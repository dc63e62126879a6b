package service

import (
	"context"
	"errors"
	"sync"

	"github.com/conseiller-portal/messagerie/internal/model"
)

const testKey = "0123456789abcdef0123456789abcdef"

type addedMessage struct {
	chatID string
	msg    model.OutgoingMessage
}

type chatUpdate struct {
	chatID string
	update model.ChatUpdate
}

type stubSubscription struct {
	closed int
}

func (s *stubSubscription) Close() error {
	s.closed++
	return nil
}

type stubStore struct {
	mu sync.Mutex

	chats        map[string]*model.Chat
	added        []addedMessage
	listAdded    []addedMessage
	updates      []chatUpdate
	addErr       error
	updateErr    error
	getChatsErr  error
	failAddFor   string
	onChat       func(*model.Chat)
	onMessages   func([]model.Message)
	observedChat string
}

func newStubStore() *stubStore {
	return &stubStore{chats: make(map[string]*model.Chat)}
}

func (s *stubStore) ObserveChat(ctx context.Context, chatID string, onUpdate func(*model.Chat)) (model.Subscription, error) {
	s.observedChat = chatID
	s.onChat = onUpdate
	return &stubSubscription{}, nil
}

func (s *stubStore) ObserveMessages(ctx context.Context, chatID string, onUpdate func([]model.Message)) (model.Subscription, error) {
	s.onMessages = onUpdate
	return &stubSubscription{}, nil
}

func (s *stubStore) ObserveBroadcastListMessages(ctx context.Context, listID string, onUpdate func([]model.Message)) (model.Subscription, error) {
	s.onMessages = onUpdate
	return &stubSubscription{}, nil
}

func (s *stubStore) AddMessage(ctx context.Context, chatID string, msg model.OutgoingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return s.addErr
	}
	if s.failAddFor != "" && s.failAddFor == chatID {
		return errors.New("store down")
	}
	s.added = append(s.added, addedMessage{chatID: chatID, msg: msg})
	return nil
}

func (s *stubStore) AddBroadcastListMessage(ctx context.Context, listID string, msg model.OutgoingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listAdded = append(s.listAdded, addedMessage{chatID: listID, msg: msg})
	return nil
}

func (s *stubStore) UpdateChat(ctx context.Context, chatID string, update model.ChatUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updates = append(s.updates, chatUpdate{chatID: chatID, update: update})
	chat, ok := s.chats[chatID]
	if !ok {
		chat = &model.Chat{}
		s.chats[chatID] = chat
	}
	update.Apply(chat)
	return nil
}

func (s *stubStore) GetChat(ctx context.Context, chatID string) (*model.Chat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return nil, false, nil
	}
	c := *chat
	return &c, true, nil
}

func (s *stubStore) GetChatsForBeneficiaries(ctx context.Context, counsellorID string, beneficiaryIDs []string) (map[string]*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getChatsErr != nil {
		return nil, s.getChatsErr
	}
	out := make(map[string]*model.Chat)
	for _, id := range beneficiaryIDs {
		if chat, ok := s.chats[model.ChatIDFor(counsellorID, id)]; ok {
			c := *chat
			out[id] = &c
		}
	}
	return out, nil
}

func (s *stubStore) updatesFor(chatID string) []model.ChatUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ChatUpdate
	for _, u := range s.updates {
		if u.chatID == chatID {
			out = append(out, u.update)
		}
	}
	return out
}

type stubNotifier struct {
	mu sync.Mutex

	notifyErr   error
	eventErr    error
	notified    [][]string
	evenements  []model.Evenement
	accessToken string
}

func (n *stubNotifier) NotifyMessages(ctx context.Context, counsellorID string, beneficiaryIDs []string, accessToken string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, beneficiaryIDs)
	n.accessToken = accessToken
	return n.notifyErr
}

func (n *stubNotifier) PostEvenement(ctx context.Context, evt model.Evenement, accessToken string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evenements = append(n.evenements, evt)
	return n.eventErr
}
