package routing

import (
	"strings"

	"github.com/soyeahso/chatform/internal/domain"
)

// SessionKey returns the session manager key for a channel visitor. Each
// sender on a channel gets their own session; IRC nicks compare
// case-insensitively.
func SessionKey(msg domain.InboundMessage) string {
	return msg.ChannelID + ":" + strings.ToLower(msg.From)
}
