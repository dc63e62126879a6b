// Package model defines the conversation data shared by the store, the
// services and the HTTP layer.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies who wrote a message.
type Sender string

const (
	SentByConseiller   Sender = "conseiller"
	SentByBeneficiaire Sender = "beneficiaire"
)

// chatNamespace seeds name-based chat ids.
var chatNamespace = uuid.MustParse("6f1c2b0e-4c1d-4f7a-9a43-2d3b8f0c5e71")

// ChatIDFor returns the stable, opaque chat id of a counsellor–beneficiary pair.
func ChatIDFor(counsellorID, beneficiaryID string) string {
	return uuid.NewSHA1(chatNamespace, []byte(counsellorID+":"+beneficiaryID)).String()
}

// Chat is the live metadata document summarizing a conversation.
//
// LastMessageIV is set iff LastMessageContent is ciphertext; legacy previews
// carry plaintext and no iv.
type Chat struct {
	SeenByCounsellor       bool       `json:"seenByConseiller"`
	FlaggedByCounsellor    bool       `json:"flaggedByConseiller"`
	NewCounsellorMessages  int        `json:"newConseillerMessageCount"`
	LastMessageContent     string     `json:"lastMessageContent,omitempty"`
	LastMessageIV          string     `json:"lastMessageIv,omitempty"`
	LastMessageSentAt      *time.Time `json:"lastMessageSentAt,omitempty"`
	LastMessageSentBy      Sender     `json:"lastMessageSentBy,omitempty"`
	LastCounsellorReading  *time.Time `json:"lastConseillerReading,omitempty"`
	LastBeneficiaryReading *time.Time `json:"lastJeuneReading,omitempty"`
}

// ChatUpdate is a partial chat write. Nil fields are left untouched.
type ChatUpdate struct {
	SeenByCounsellor      *bool
	FlaggedByCounsellor   *bool
	NewCounsellorMessages *int
	LastMessageContent    *string
	LastMessageIV         *string
	LastMessageSentAt     *time.Time
	LastMessageSentBy     *Sender
	LastCounsellorReading *time.Time
}

// Apply merges the update into c. Setting LastMessageContent without an iv
// clears the previous iv so a plaintext preview never keeps a stale one.
func (u ChatUpdate) Apply(c *Chat) {
	if u.SeenByCounsellor != nil {
		c.SeenByCounsellor = *u.SeenByCounsellor
	}
	if u.FlaggedByCounsellor != nil {
		c.FlaggedByCounsellor = *u.FlaggedByCounsellor
	}
	if u.NewCounsellorMessages != nil {
		c.NewCounsellorMessages = *u.NewCounsellorMessages
	}
	if u.LastMessageContent != nil {
		c.LastMessageContent = *u.LastMessageContent
		c.LastMessageIV = ""
	}
	if u.LastMessageIV != nil {
		c.LastMessageIV = *u.LastMessageIV
	}
	if u.LastMessageSentAt != nil {
		t := *u.LastMessageSentAt
		c.LastMessageSentAt = &t
	}
	if u.LastMessageSentBy != nil {
		c.LastMessageSentBy = *u.LastMessageSentBy
	}
	if u.LastCounsellorReading != nil {
		t := *u.LastCounsellorReading
		c.LastCounsellorReading = &t
	}
}

// Epoch is the "never read" reading timestamp.
var Epoch = time.Unix(0, 0).UTC()

// Subscription is a live observation handle. Close stops further updates and
// is safe to call more than once.
type Subscription interface {
	Close() error
}
