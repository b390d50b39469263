package notify

// Payloads for the event kinds the core publishes. Mirrors what the UI and
// webhook consumers key on.

type QRPayload struct {
	AccountID string `json:"accountId"`
	QR        string `json:"qr"`
	UserID    string `json:"userId"`
}

type PairingCodePayload struct {
	AccountID string `json:"accountId"`
	Code      string `json:"code"`
	UserID    string `json:"userId"`
}

type IdentityInfo struct {
	PushName string `json:"pushname"`
	Number   string `json:"number"`
}

type StatusPayload struct {
	AccountID string        `json:"accountId"`
	Status    string        `json:"status"`
	UserID    string        `json:"userId"`
	Reason    string        `json:"reason,omitempty"`
	Info      *IdentityInfo `json:"info,omitempty"`
}

type MessagePayload struct {
	AccountID string `json:"accountId"`
	From      string `json:"from"`
	Message   string `json:"message"`
	UserID    string `json:"userId"`
}
