package service

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/conseiller-portal/messagerie/internal/cipher"
	"github.com/conseiller-portal/messagerie/internal/model"
	"github.com/conseiller-portal/messagerie/pkg/logger"
)

var jeune = model.Beneficiaire{ID: "jeune-1", FirstName: "Kenji", LastName: "Lefameux"}

func TestObserveBeneficiaireChatDecryptsPreview(t *testing.T) {
	store := newStubStore()
	s := NewSynchronizer(store, cipher.New(), logger.Nop())

	var got []model.BeneficiaireChat
	sub, err := s.ObserveBeneficiaireChat(context.Background(), "conseiller-1", jeune, testKey, func(bc model.BeneficiaireChat) {
		got = append(got, bc)
	})
	if err != nil {
		t.Fatalf("ObserveBeneficiaireChat: %v", err)
	}
	defer sub.Close()

	if store.observedChat != model.ChatIDFor("conseiller-1", "jeune-1") {
		t.Fatalf("observed wrong chat %q", store.observedChat)
	}

	enc, err := cipher.New().Encrypt("Bonjour", testKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	store.onChat(&model.Chat{
		FlaggedByCounsellor: true,
		LastMessageContent:  enc.EncryptedText,
		LastMessageIV:       enc.IV,
	})

	if len(got) != 1 {
		t.Fatalf("expected one update, got %d", len(got))
	}
	bc := got[0]
	if bc.ID != "jeune-1" || bc.FirstName != "Kenji" || bc.ChatID != store.observedChat {
		t.Fatalf("unexpected identity %+v", bc)
	}
	if bc.LastMessageContent != "Bonjour" || bc.LastMessageIV != "" || !bc.FlaggedByCounsellor {
		t.Fatalf("unexpected chat projection %+v", bc.Chat)
	}
}

func TestObserveBeneficiaireChatToleratesMissingChat(t *testing.T) {
	store := newStubStore()
	s := NewSynchronizer(store, cipher.New(), logger.Nop())

	var got []model.BeneficiaireChat
	if _, err := s.ObserveBeneficiaireChat(context.Background(), "conseiller-1", jeune, testKey, func(bc model.BeneficiaireChat) {
		got = append(got, bc)
	}); err != nil {
		t.Fatalf("ObserveBeneficiaireChat: %v", err)
	}

	store.onChat(&model.Chat{})
	store.onChat(nil)

	for _, bc := range got {
		if bc.Chat != (model.Chat{}) {
			t.Fatalf("expected default chat, got %+v", bc.Chat)
		}
	}
}

func TestProjectIsIdempotent(t *testing.T) {
	s := NewSynchronizer(newStubStore(), cipher.New(), logger.Nop())

	enc, err := cipher.New().Encrypt("Bonjour", testKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	sentAt := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	raw := model.Chat{
		NewCounsellorMessages: 2,
		LastMessageContent:    enc.EncryptedText,
		LastMessageIV:         enc.IV,
		LastMessageSentAt:     &sentAt,
	}

	first := s.Project("conseiller-1", jeune, &raw, testKey)
	second := s.Project("conseiller-1", jeune, &raw, testKey)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected equal projections, got %+v and %+v", first, second)
	}
}

func TestProjectUnreadablePreview(t *testing.T) {
	s := NewSynchronizer(newStubStore(), cipher.New(), logger.Nop())

	bc := s.Project("conseiller-1", jeune, &model.Chat{
		LastMessageContent: "garbage",
		LastMessageIV:      "AAECAwQFBgcICQoLDA0ODw==",
	}, testKey)
	if bc.LastMessageContent != UnreadablePlaceholder {
		t.Fatalf("expected placeholder, got %q", bc.LastMessageContent)
	}
}

func TestProjectLegacyPlaintextPreview(t *testing.T) {
	s := NewSynchronizer(newStubStore(), cipher.New(), logger.Nop())

	bc := s.Project("conseiller-1", jeune, &model.Chat{LastMessageContent: "en clair"}, testKey)
	if bc.LastMessageContent != "en clair" {
		t.Fatalf("expected plaintext preview kept, got %q", bc.LastMessageContent)
	}
}

func TestMarkAsReadAndToggleFlag(t *testing.T) {
	store := newStubStore()
	s := NewSynchronizer(store, cipher.New(), logger.Nop())
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if err := s.MarkAsRead(context.Background(), "c1"); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if err := s.ToggleFlag(context.Background(), "c1", true); err != nil {
		t.Fatalf("ToggleFlag: %v", err)
	}

	chat := store.chats["c1"]
	if !chat.SeenByCounsellor || !chat.FlaggedByCounsellor {
		t.Fatalf("unexpected chat %+v", chat)
	}
	if chat.LastCounsellorReading == nil || !chat.LastCounsellorReading.Equal(now) {
		t.Fatalf("expected reading at %v, got %v", now, chat.LastCounsellorReading)
	}
}

func TestMarkAsReadPropagatesStoreFailure(t *testing.T) {
	store := newStubStore()
	store.updateErr = errors.New("store down")
	s := NewSynchronizer(store, cipher.New(), logger.Nop())

	if err := s.MarkAsRead(context.Background(), "c1"); !errors.Is(err, store.updateErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestCountUnreadByBeneficiaries(t *testing.T) {
	store := newStubStore()
	store.chats[model.ChatIDFor("conseiller-1", "jeune-1")] = &model.Chat{NewCounsellorMessages: 4}
	s := NewSynchronizer(store, cipher.New(), logger.Nop())

	counts, err := s.CountUnreadByBeneficiaries(context.Background(), "conseiller-1", []string{"jeune-1", "jeune-2"})
	if err != nil {
		t.Fatalf("CountUnreadByBeneficiaries: %v", err)
	}
	if counts["jeune-1"] != 4 || counts["jeune-2"] != 0 || len(counts) != 2 {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestCurrentBeneficiaireChat(t *testing.T) {
	store := newStubStore()
	store.chats[model.ChatIDFor("conseiller-1", "jeune-1")] = &model.Chat{NewCounsellorMessages: 2}
	s := NewSynchronizer(store, cipher.New(), logger.Nop())

	bc, err := s.CurrentBeneficiaireChat(context.Background(), "conseiller-1", jeune, testKey)
	if err != nil {
		t.Fatalf("CurrentBeneficiaireChat: %v", err)
	}
	if bc.NewCounsellorMessages != 2 || bc.ChatID != model.ChatIDFor("conseiller-1", "jeune-1") {
		t.Fatalf("unexpected view %+v", bc)
	}
}
