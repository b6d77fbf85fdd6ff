package notifications

import (
	"time"

	"github.com/deskwise/deskwise/internal/models"
)

// PushPayload is the JSON document encrypted into a web push message. Field
// names are camelCase because the service worker consumes them directly.
type PushPayload struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Message            string `json:"message"`
	Type               string `json:"type"`
	Priority           string `json:"priority"`
	TicketID           string `json:"ticketId,omitempty"`
	TicketCode         string `json:"ticketCode,omitempty"`
	URL                string `json:"url"`
	Timestamp          string `json:"timestamp"`
	RequireInteraction bool   `json:"requireInteraction"`
	Vibrate            []int  `json:"vibrate,omitempty"`
}

// BuildPushPayload renders the push payload for a stored notification. The
// target URL points at the originating ticket when one is referenced and at
// the application root otherwise.
func BuildPushPayload(n *models.Notification) PushPayload {
	payload := PushPayload{
		ID:         n.ID,
		Title:      n.Title,
		Message:    n.Message,
		Type:       n.Type,
		Priority:   n.Priority,
		TicketCode: n.TicketCode,
		URL:        "/",
		Timestamp:  n.CreatedAt.UTC().Format(time.RFC3339),
	}

	if n.TicketID != nil && *n.TicketID != "" {
		payload.TicketID = *n.TicketID
		payload.URL = "/tickets/" + *n.TicketID
	}

	switch n.Priority {
	case models.PriorityCritical:
		payload.RequireInteraction = true
		payload.Vibrate = []int{200, 100, 200}
	case models.PriorityHigh:
		payload.Vibrate = []int{100}
	}

	return payload
}
