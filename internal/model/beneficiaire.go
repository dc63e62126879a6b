package model

// Counsellor is the authenticated case manager.
type Counsellor struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Structure string `json:"structure"`
}

// Beneficiaire is the static identity of a case-managed person.
type Beneficiaire struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// BeneficiaireChat is the read-side projection of a beneficiary and the live
// chat metadata, with the last message preview decrypted.
type BeneficiaireChat struct {
	Beneficiaire
	ChatID string `json:"chatId"`
	Chat
}

// ChatCredentials are issued once per counsellor session. Key is the
// symmetric cleChiffrement; it is kept in memory only.
type ChatCredentials struct {
	Token string `json:"token"`
	Key   string `json:"cle"`
}
