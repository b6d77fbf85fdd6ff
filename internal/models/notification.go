package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification categories produced by the ticket pipeline. The column is an
// open string so unmodeled producers can introduce new categories without a
// schema change.
const (
	NotificationTypeNewTicket          = "new_ticket"
	NotificationTypeStatusChange       = "status_change"
	NotificationTypeNewReply           = "new_reply"
	NotificationTypeParticipantAdded   = "participant_added"
	NotificationTypeParticipantRemoved = "participant_removed"
	NotificationTypeTicketEscalated    = "ticket_escalated"
	NotificationTypeTicketDueSoon      = "ticket_due_soon"
)

// Notification priorities, ordered from least to most urgent.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ValidPriority reports whether p is one of the known priority levels.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Notification represents a persisted in-app notification for a single user.
// ReadAt stays null until the owner acknowledges the notification and is
// never cleared afterwards.
type Notification struct {
	BaseModel

	UserID   string `gorm:"type:uuid;index;not null" json:"user_id"`
	Type     string `gorm:"type:varchar(64);not null;index" json:"type"`
	Priority string `gorm:"type:varchar(16);not null;default:'medium'" json:"priority"`
	Title    string `gorm:"type:varchar(255);not null" json:"title"`
	Message  string `gorm:"type:text" json:"message"`

	TicketID   *string `gorm:"type:uuid;index" json:"ticket_id"`
	TicketCode string  `gorm:"type:varchar(32)" json:"ticket_code"`

	Metadata datatypes.JSON `json:"metadata"`

	ReadAt *time.Time `gorm:"index" json:"read_at"`
}

// IsRead reports whether the notification has been acknowledged.
func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}
