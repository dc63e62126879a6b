package model

import (
	"time"
)

// MessageType classifies stored messages.
type MessageType string

const (
	// MessageTypeNewCounsellor marks a counsellor change. It is a system marker,
	// never shown in the day-grouped view.
	MessageTypeNewCounsellor MessageType = "NOUVEAU_CONSEILLER"
	MessageTypeText          MessageType = "MESSAGE"
	MessageTypeAttachment    MessageType = "MESSAGE_PJ"
	MessageTypeOffer         MessageType = "MESSAGE_OFFRE"
)

// Attachment references an uploaded file. Name is encrypted with the message iv.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"nom"`
}

// Offer references a job offer shared in a message. Stored in clear.
type Offer struct {
	ID    string `json:"id"`
	Title string `json:"titre"`
	Type  string `json:"type,omitempty"`
}

// Message is a stored conversation message.
type Message struct {
	ID           string       `json:"id"`
	Content      string       `json:"content"`
	IV           string       `json:"iv,omitempty"`
	CreationDate time.Time    `json:"creationDate"`
	SentBy       Sender       `json:"sentBy"`
	CounsellorID string       `json:"conseillerId,omitempty"`
	Type         MessageType  `json:"type"`
	Attachments  []Attachment `json:"piecesJointes,omitempty"`
	Offer        *Offer       `json:"offre,omitempty"`
}

// OutgoingMessage is what a counsellor appends to a conversation. Content and
// attachment name are already encrypted with IV.
type OutgoingMessage struct {
	AuthorID   string
	Content    string
	IV         string
	SentAt     time.Time
	Type       MessageType
	Attachment *Attachment
	Offer      *Offer
}

// ToMessage builds the stored record for id.
func (o OutgoingMessage) ToMessage(id string) Message {
	msg := Message{
		ID:           id,
		Content:      o.Content,
		IV:           o.IV,
		CreationDate: o.SentAt,
		SentBy:       SentByConseiller,
		CounsellorID: o.AuthorID,
		Type:         o.Type,
		Offer:        o.Offer,
	}
	if msg.Type == "" {
		msg.Type = MessageTypeText
	}
	if o.Attachment != nil {
		msg.Attachments = []Attachment{*o.Attachment}
	}
	return msg
}

// MessagesOfADay is one calendar day of a conversation, derived on read.
type MessagesOfADay struct {
	Date     time.Time `json:"date"`
	Messages []Message `json:"messages"`
}
