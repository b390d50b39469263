package model

import (
	"time"
)

// WaSession is the persisted session record: one row per user per attached
// account. The account ID is globally unique; the session token is generated
// once at creation and never changes for the life of the record.
type WaSession struct {
	AccountID      string        `db:"account_id" json:"accountId"`
	UserID         string        `db:"user_id" json:"userId"`
	SessionToken   string        `db:"session_token" json:"sessionToken"`
	Status         SessionStatus `db:"status" json:"status"`
	WebhookURL     *string       `db:"webhook_url" json:"webhookUrl,omitempty"`
	UsePairingCode bool          `db:"use_pairing_code" json:"usePairingCode"`
	LastUpdated    time.Time     `db:"last_updated" json:"lastUpdated"`
	CreatedAt      time.Time     `db:"created_at" json:"createdAt"`
}

type CreateWaSessionParams struct {
	AccountID      string
	UserID         string
	SessionToken   string
	Status         SessionStatus
	UsePairingCode bool
}
