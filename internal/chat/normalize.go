package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// wireMessage mirrors every field alias observed across the backend's
// message endpoints and push payloads. Only one alias of each pair is
// usually populated; DecodeMessage collapses them.
type wireMessage struct {
	ID        flexID   `json:"id"`
	ClientID  string   `json:"client_id"`
	SenderID  flexID   `json:"sender_id"`
	FromID    flexID   `json:"from_id"`
	RecvID    flexID   `json:"receiver_id"`
	ToID      flexID   `json:"to_id"`
	Content   string   `json:"content"`
	Body      string   `json:"body"`
	CreatedAt flexTime `json:"created_at"`
	Seen      flexBool `json:"seen"`
	Temporary bool     `json:"temporary"`
}

// wireEnvelope covers the nesting variants: the message may arrive bare,
// under "message", or under "data.message".
type wireEnvelope struct {
	wireMessage
	Message *wireMessage `json:"message"`
	Data    *struct {
		Message *wireMessage `json:"message"`
	} `json:"data"`
}

// DecodeMessage normalizes a raw wire payload into the canonical Message.
// It tolerates the three envelope nestings and both field alias sets.
func DecodeMessage(raw []byte) (Message, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}

	wm := env.wireMessage
	if env.Data != nil && env.Data.Message != nil {
		wm = *env.Data.Message
	} else if env.Message != nil {
		wm = *env.Message
	}
	return wm.canonical(), nil
}

func (wm *wireMessage) canonical() Message {
	m := Message{
		ID:        wm.ID.String(),
		ClientID:  wm.ClientID,
		FromID:    firstID(wm.SenderID, wm.FromID),
		ToID:      firstID(wm.RecvID, wm.ToID),
		Body:      wm.Content,
		CreatedAt: int64(wm.CreatedAt),
		Seen:      bool(wm.Seen),
		Temporary: wm.Temporary,
	}
	if m.Body == "" {
		m.Body = wm.Body
	}
	return m
}

func firstID(a, b flexID) int64 {
	if n := a.Int64(); n != 0 {
		return n
	}
	return b.Int64()
}

// MarshalJSON emits every alias of each field so consumers written against
// either naming keep working.
func (m Message) MarshalJSON() ([]byte, error) {
	type out struct {
		ID         string `json:"id"`
		ClientID   string `json:"client_id,omitempty"`
		SenderID   int64  `json:"sender_id"`
		FromID     int64  `json:"from_id"`
		ReceiverID int64  `json:"receiver_id"`
		ToID       int64  `json:"to_id"`
		Content    string `json:"content"`
		Body       string `json:"body"`
		CreatedAt  int64  `json:"created_at"`
		Seen       bool   `json:"seen"`
		Temporary  bool   `json:"temporary,omitempty"`
	}
	return json.Marshal(out{
		ID:         m.ID,
		ClientID:   m.ClientID,
		SenderID:   m.FromID,
		FromID:     m.FromID,
		ReceiverID: m.ToID,
		ToID:       m.ToID,
		Content:    m.Body,
		Body:       m.Body,
		CreatedAt:  m.CreatedAt,
		Seen:       m.Seen,
		Temporary:  m.Temporary,
	})
}

// UnmarshalJSON accepts any of the wire alias sets for a bare message.
func (m *Message) UnmarshalJSON(raw []byte) error {
	var wm wireMessage
	if err := json.Unmarshal(raw, &wm); err != nil {
		return err
	}
	*m = wm.canonical()
	return nil
}

// flexID decodes a JSON number or string id.
type flexID string

func (f *flexID) UnmarshalJSON(raw []byte) error {
	if len(raw) == 0 || string(raw) == "null" {
		*f = ""
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) String() string { return string(f) }

func (f flexID) Int64() int64 {
	n, _ := strconv.ParseInt(string(f), 10, 64)
	return n
}

// flexBool decodes a JSON bool or 0/1 integer.
type flexBool bool

func (f *flexBool) UnmarshalJSON(raw []byte) error {
	switch string(raw) {
	case "true", "1":
		*f = true
	case "false", "0", "null":
		*f = false
	default:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("seen flag: unexpected value %s", raw)
		}
		*f = n != 0
	}
	return nil
}

// flexTime decodes a unix-ms number, a unix-seconds number, or an RFC 3339
// string into unix ms.
type flexTime int64

func (f *flexTime) UnmarshalJSON(raw []byte) error {
	if len(raw) == 0 || string(raw) == "null" {
		*f = 0
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("created_at: %w", err)
		}
		*f = flexTime(t.UnixMilli())
		return nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	// Heuristic: values before the year 2001 in ms are unix seconds.
	if n != 0 && n < 1_000_000_000_000 {
		n *= 1000
	}
	*f = flexTime(n)
	return nil
}

// wireContact mirrors the user-lookup response aliases.
type wireContact struct {
	ID     flexID   `json:"id"`
	UserID flexID   `json:"user_id"`
	Name   string   `json:"name"`
	Login  string   `json:"username"`
	Role   string   `json:"role"`
	Avatar string   `json:"avatar"`
	Unread int      `json:"unread"`
	Active flexBool `json:"active_status"`
}

// wireContactEnvelope covers the user-lookup nesting variants: bare,
// under "user", or under "data".
type wireContactEnvelope struct {
	wireContact
	User *wireContact `json:"user"`
	Data *wireContact `json:"data"`
}

// DecodeContact synthesizes a Contact from a user-lookup or directory
// payload, tolerating the three envelope shapes.
func DecodeContact(raw []byte) (Contact, error) {
	var env wireContactEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Contact{}, fmt.Errorf("decode contact: %w", err)
	}
	wc := env.wireContact
	if env.User != nil {
		wc = *env.User
	} else if env.Data != nil {
		wc = *env.Data
	}

	c := Contact{
		ID:     firstID(wc.ID, wc.UserID),
		Name:   wc.Name,
		Role:   wc.Role,
		Avatar: wc.Avatar,
		Unread: wc.Unread,
		Active: bool(wc.Active),
	}
	if c.Name == "" {
		c.Name = wc.Login
	}
	return c, nil
}
