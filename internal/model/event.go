package model

// EventType is an audit event code posted to the backend.
type EventType string

const (
	EventMessageSent                 EventType = "MESSAGE_ENVOYE"
	EventMessageSentWithAttachment   EventType = "MESSAGE_ENVOYE_PJ"
	EventOfferShared                 EventType = "MESSAGE_OFFRE_PARTAGEE"
	EventBroadcastSent               EventType = "MESSAGE_ENVOYE_MULTIPLE"
	EventBroadcastSentWithAttachment EventType = "MESSAGE_ENVOYE_MULTIPLE_PJ"
)

// Emetteur identifies who triggered an audit event.
type Emetteur struct {
	Type      string `json:"type"`
	Structure string `json:"structure"`
	ID        string `json:"id"`
}

// Evenement is the body of POST /evenements.
type Evenement struct {
	Type     EventType `json:"type"`
	Emetteur Emetteur  `json:"emetteur"`
}

// CounsellorEvent builds an event emitted by c.
func CounsellorEvent(t EventType, c Counsellor) Evenement {
	return Evenement{
		Type: t,
		Emetteur: Emetteur{
			Type:      "CONSEILLER",
			Structure: c.Structure,
			ID:        c.ID,
		},
	}
}
