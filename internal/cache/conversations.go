// Package cache holds the session-scoped conversation cache: the last
// known message list per (user, peer) pair. A cache hit short-circuits the
// backend fetch entirely, so every mutation of a visible list must be
// written back here or a later hit serves stale state.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ridelink/ridechat/internal/chat"
)

// DefaultCapacity bounds the number of cached conversations. The cache is
// LRU by conversation key; the original frontend kept an unbounded map,
// acceptable there only because sessions were short.
const DefaultCapacity = 64

// Conversations is an LRU-bounded map of conversation key to message list.
type Conversations struct {
	mu  sync.Mutex
	lru *lru.Cache[string, []chat.Message]
}

// New creates a cache bounded to capacity conversations.
func New(capacity int) (*Conversations, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l, err := lru.New[string, []chat.Message](capacity)
	if err != nil {
		return nil, err
	}
	return &Conversations{lru: l}, nil
}

// Get returns a copy of the cached message list for key.
func (c *Conversations) Get(key string) ([]chat.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return out, true
}

// Put replaces the cached list for key.
func (c *Conversations) Put(key string, msgs []chat.Message) {
	stored := make([]chat.Message, len(msgs))
	copy(stored, msgs)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, stored)
}

// Delete drops a conversation from the cache.
func (c *Conversations) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len returns the number of cached conversations.
func (c *Conversations) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Contains reports whether key is cached, without refreshing recency.
func (c *Conversations) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}

// Append merges msg into the cached list for key. The merge is idempotent:
// a message whose canonical ID is already present updates that entry in
// place, and a server-confirmed message that correlates with a pending
// temporary entry (same ClientID, falling back to sender+body) replaces it
// rather than duplicating. Returns false when the list was left unchanged
// in length and content position (pure duplicate).
func (c *Conversations) Append(key string, msg chat.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs, _ := c.lru.Get(key)

	for i := range msgs {
		if msgs[i].ID == msg.ID {
			if msgs[i] == msg {
				return false
			}
			msgs[i] = msg
			c.lru.Add(key, msgs)
			return true
		}
	}

	if !msg.Temporary && !chat.IsTempID(msg.ID) {
		if i := correlateTemp(msgs, msg); i >= 0 {
			msgs[i] = msg
			c.lru.Add(key, msgs)
			return true
		}
	}

	c.lru.Add(key, append(msgs, msg))
	return true
}

// Reconcile replaces the temporary entry tempID with the server-confirmed
// message. Returns false when no such entry exists (already reconciled via
// a push delivery, or rolled back).
func (c *Conversations) Reconcile(key, tempID string, server chat.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs, ok := c.lru.Get(key)
	if !ok {
		return false
	}
	for i := range msgs {
		if msgs[i].ID == tempID {
			server.Temporary = false
			msgs[i] = server
			c.lru.Add(key, msgs)
			return true
		}
		// The push channel may have delivered the confirmed message before
		// the send response arrived; drop the leftover temporary then.
		if msgs[i].ID == server.ID && !msgs[i].Temporary {
			c.removeLocked(key, msgs, tempID)
			return true
		}
	}
	return false
}

// Remove deletes the entry with the given id from the cached list.
func (c *Conversations) Remove(key, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs, ok := c.lru.Get(key)
	if !ok {
		return false
	}
	return c.removeLocked(key, msgs, id)
}

func (c *Conversations) removeLocked(key string, msgs []chat.Message, id string) bool {
	for i := range msgs {
		if msgs[i].ID == id {
			c.lru.Add(key, append(msgs[:i:i], msgs[i+1:]...))
			return true
		}
	}
	return false
}

// correlateTemp finds a temporary entry matching a server-confirmed
// message: ClientID when the server echoes it, otherwise sender plus
// identical body.
func correlateTemp(msgs []chat.Message, server chat.Message) int {
	if server.ClientID != "" {
		for i := range msgs {
			if msgs[i].Temporary && msgs[i].ClientID == server.ClientID {
				return i
			}
		}
		return -1
	}
	for i := range msgs {
		if msgs[i].Temporary && msgs[i].FromID == server.FromID && msgs[i].Body == server.Body {
			return i
		}
	}
	return -1
}
