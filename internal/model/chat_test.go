package model

import (
	"testing"
	"time"
)

func TestChatIDForIsStablePerPair(t *testing.T) {
	a := ChatIDFor("conseiller-1", "jeune-1")
	if a != ChatIDFor("conseiller-1", "jeune-1") {
		t.Fatalf("expected same id for the same pair")
	}
	if a == ChatIDFor("conseiller-2", "jeune-1") {
		t.Fatalf("expected distinct ids for distinct counsellors")
	}
	if a == ChatIDFor("conseiller-1", "jeune-2") {
		t.Fatalf("expected distinct ids for distinct beneficiaries")
	}
}

func TestChatUpdateApplyLeavesNilFieldsUntouched(t *testing.T) {
	sentAt := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	chat := Chat{
		FlaggedByCounsellor:   true,
		NewCounsellorMessages: 4,
		LastMessageContent:    "cipher",
		LastMessageIV:         "iv",
		LastMessageSentAt:     &sentAt,
	}

	seen := true
	ChatUpdate{SeenByCounsellor: &seen}.Apply(&chat)

	if !chat.SeenByCounsellor {
		t.Fatalf("expected seen flag set")
	}
	if !chat.FlaggedByCounsellor || chat.NewCounsellorMessages != 4 || chat.LastMessageIV != "iv" {
		t.Fatalf("expected other fields untouched, got %+v", chat)
	}
}

func TestChatUpdateApplyPlaintextPreviewClearsIV(t *testing.T) {
	chat := Chat{LastMessageContent: "cipher", LastMessageIV: "iv"}

	content := "plain"
	ChatUpdate{LastMessageContent: &content}.Apply(&chat)

	if chat.LastMessageContent != "plain" || chat.LastMessageIV != "" {
		t.Fatalf("expected plaintext preview without iv, got %+v", chat)
	}
}

func TestOutgoingMessageToMessage(t *testing.T) {
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	msg := OutgoingMessage{
		AuthorID:   "conseiller-1",
		Content:    "c",
		IV:         "iv",
		SentAt:     now,
		Attachment: &Attachment{ID: "pj-1", Name: "n"},
	}.ToMessage("m-1")

	if msg.Type != MessageTypeText {
		t.Fatalf("expected default type MESSAGE, got %s", msg.Type)
	}
	if msg.SentBy != SentByConseiller || msg.CounsellorID != "conseiller-1" {
		t.Fatalf("unexpected author fields %+v", msg)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].ID != "pj-1" {
		t.Fatalf("expected attachment carried over, got %+v", msg.Attachments)
	}
	if !msg.CreationDate.Equal(now) {
		t.Fatalf("expected creation date %v, got %v", now, msg.CreationDate)
	}
}
