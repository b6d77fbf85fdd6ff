package app

import (
	"strings"

	"github.com/deskwise/deskwise/internal/notifications"
)

const defaultVAPIDSubject = "mailto:admin@deskwise.local"

// WebPushConfig converts the push section into the sender's configuration.
// A subject is required by the VAPID handshake, so a placeholder contact is
// substituted when the deployment does not provide one.
func (c PushConfig) WebPushConfig() notifications.WebPushConfig {
	subject := strings.TrimSpace(c.VAPIDSubject)
	if subject == "" {
		subject = defaultVAPIDSubject
	}

	return notifications.WebPushConfig{
		PublicKey:  strings.TrimSpace(c.VAPIDPublicKey),
		PrivateKey: strings.TrimSpace(c.VAPIDPrivateKey),
		Subscriber: subject,
	}
}
