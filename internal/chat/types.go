package chat

import (
	"fmt"
	"strings"
)

// Message is the canonical message shape used everywhere past the wire
// boundary. Wire payloads use several alias sets (sender_id/from_id,
// receiver_id/to_id, content/body); they are resolved on decode and
// re-populated on encode so no caller has to branch on naming.
type Message struct {
	ID        string
	ClientID  string
	FromID    int64
	ToID      int64
	Body      string
	CreatedAt int64 // unix ms
	Seen      bool
	Temporary bool
}

// Contact is a conversation partner with its unread counter.
type Contact struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Unread int    `json:"unread"`
	Active bool   `json:"active"`
}

// TempIDPrefix marks client-synthesized message ids awaiting server
// confirmation.
const TempIDPrefix = "temp-"

// TempID builds a temporary message id from a client timestamp in unix ms.
func TempID(unixMs int64) string {
	return fmt.Sprintf("%s%d", TempIDPrefix, unixMs)
}

// IsTempID reports whether id is a client-synthesized temporary id.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// ConversationKey builds the composite cache key for a (user, peer) pair.
func ConversationKey(userID, peerID int64) string {
	return fmt.Sprintf("%d_%d", userID, peerID)
}

// UserChannel returns the per-user push channel name.
func UserChannel(userID int64) string {
	return fmt.Sprintf("user.%d", userID)
}

// PrivateUserChannel returns the private variant of the per-user channel.
func PrivateUserChannel(userID int64) string {
	return fmt.Sprintf("private-user.%d", userID)
}

// ConversationChannels returns both orderings of the per-conversation
// channel name. The provider's channel naming is directional, so delivery
// is only guaranteed when both are subscribed.
func ConversationChannels(a, b int64) [2]string {
	return [2]string{
		fmt.Sprintf("chat.%d.%d", a, b),
		fmt.Sprintf("chat.%d.%d", b, a),
	}
}

// EventMessageSent is the push event name carrying a new message.
const EventMessageSent = "message.sent"
