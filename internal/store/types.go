package store

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientID     string
	PeerID       int64
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
}
