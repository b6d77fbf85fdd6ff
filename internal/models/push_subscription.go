package models

import "time"

// PushSubscription stores a browser push channel registered by a user. The
// endpoint is the natural key: re-subscribing with a known endpoint updates
// the existing row instead of creating a duplicate, even when the endpoint
// moved to another user.
type PushSubscription struct {
	BaseModel

	UserID   string `gorm:"type:uuid;index;not null" json:"user_id"`
	Endpoint string `gorm:"size:500;uniqueIndex;not null" json:"endpoint"`

	// P256dh and Auth carry the client key material required to encrypt push
	// payloads. They are opaque to the server and only handed to the push
	// transport.
	P256dh string `gorm:"type:text;not null" json:"-"`
	Auth   string `gorm:"type:text;not null" json:"-"`

	UserAgent  string     `gorm:"type:varchar(255)" json:"user_agent"`
	LastUsedAt *time.Time `gorm:"index" json:"last_used_at"`
}
