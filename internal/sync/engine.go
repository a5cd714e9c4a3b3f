// Package sync routes push deliveries into the conversation cache and the
// contact directory, and owns the active-conversation lifecycle: channel
// subscriptions, history fetch on cache miss, read receipts and unread
// accounting.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/ridelink/ridechat/internal/bus"
	"github.com/ridelink/ridechat/internal/cache"
	"github.com/ridelink/ridechat/internal/chat"
	"github.com/ridelink/ridechat/internal/directory"
	"github.com/ridelink/ridechat/internal/push"
	"github.com/ridelink/ridechat/internal/status"
	"go.uber.org/zap"
)

// Gateway is the backend surface the engine needs.
type Gateway interface {
	Messages(ctx context.Context, peerID int64) ([]chat.Message, error)
	MarkRead(ctx context.Context, fromID int64) error
}

// Subscriber is the push-channel surface the engine needs.
type Subscriber interface {
	Subscribe(channel string) error
	Leave(channel string) error
}

// Upsert is the bus payload published whenever a message lands in a
// cached conversation.
type Upsert struct {
	Key     string
	Message chat.Message
}

// Engine ingests push deliveries and serves conversation opens. Exactly
// one conversation is active at a time; deliveries for any other peer
// only bump that peer's unread counter.
type Engine struct {
	userID  int64
	gw      Gateway
	sub     Subscriber
	cache   *cache.Conversations
	dir     *directory.Directory
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	mu         gosync.Mutex
	activePeer int64

	// Recently delivered message ids for conversations with no cache
	// entry, where the cache merge cannot dedupe re-deliveries before
	// they reach the unread counter.
	seenMu    gosync.Mutex
	seenIDs   map[string]bool
	seenOrder []string

	cancel context.CancelFunc
}

const seenCapacity = 256

// NewEngine creates an engine for the authenticated user.
func NewEngine(userID int64, gw Gateway, sub Subscriber, c *cache.Conversations, dir *directory.Directory, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Engine {
	return &Engine{
		userID:  userID,
		gw:      gw,
		sub:     sub,
		cache:   c,
		dir:     dir,
		bus:     b,
		machine: machine,
		logger:  logger,
		seenIDs: make(map[string]bool),
	}
}

// Start subscribes the user's own push channels and begins consuming
// push events off the bus.
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	for _, ch := range []string{chat.UserChannel(e.userID), chat.PrivateUserChannel(e.userID)} {
		if err := e.sub.Subscribe(ch); err != nil {
			return fmt.Errorf("subscribe %s: %w", ch, err)
		}
	}

	evts, unsub := e.bus.Subscribe("push.", 256)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-evts:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop stops the event loop.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// ActivePeer returns the peer of the currently open conversation, or 0.
func (e *Engine) ActivePeer() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activePeer
}

// OpenConversation makes peerID the active conversation and returns its
// messages. Cached history is served without touching the backend; a miss
// fetches the full thread. Both orderings of the conversation channel are
// subscribed, the previous peer's are released, and the peer's unread
// counter is cleared with a read receipt sent upstream.
func (e *Engine) OpenConversation(ctx context.Context, peerID int64) ([]chat.Message, error) {
	e.mu.Lock()
	prev := e.activePeer
	e.activePeer = peerID
	e.mu.Unlock()

	if prev != 0 && prev != peerID {
		e.leaveConversationChannels(prev)
	}
	for _, ch := range chat.ConversationChannels(e.userID, peerID) {
		if err := e.sub.Subscribe(ch); err != nil {
			e.logger.Warn("conversation channel subscribe failed", zap.String("channel", ch), zap.Error(err))
		}
	}

	key := chat.ConversationKey(e.userID, peerID)
	msgs, ok := e.cache.Get(key)
	if !ok {
		fetched, err := e.gw.Messages(ctx, peerID)
		if err != nil {
			return nil, fmt.Errorf("fetch conversation %d: %w", peerID, err)
		}
		e.cache.Put(key, fetched)
		msgs = fetched
	}

	e.dir.ResetUnread(peerID)
	go e.markRead(peerID)

	e.bus.Publish(bus.NewEvent("conversation.opened", map[string]int64{"peer_id": peerID}))
	return msgs, nil
}

// CloseConversation releases the active conversation's channels.
func (e *Engine) CloseConversation() {
	e.mu.Lock()
	peer := e.activePeer
	e.activePeer = 0
	e.mu.Unlock()

	if peer != 0 {
		e.leaveConversationChannels(peer)
		e.bus.Publish(bus.NewEvent("conversation.closed", map[string]int64{"peer_id": peer}))
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "push.message":
		d, ok := evt.Payload.(push.Delivery)
		if !ok {
			return
		}
		e.ingest(d.Message)
	case "push.connected":
		e.transition(status.Ready)
	case "push.disconnected":
		e.transition(status.Reconnecting)
	}
}

// ingest merges a delivered message. Channel fan-out means the same
// message can arrive several times (user channel plus both conversation
// orderings); the cache dedupes on canonical id so the unread counter is
// the only thing that needs guarding here.
func (e *Engine) ingest(msg chat.Message) {
	peer := msg.FromID
	if msg.FromID == e.userID {
		// Own message echoed back from another device or the send path.
		peer = msg.ToID
	}
	if peer == 0 {
		return
	}

	key := chat.ConversationKey(e.userID, peer)
	active := e.ActivePeer() == peer

	if active || e.cache.Contains(key) {
		if e.cache.Append(key, msg) {
			e.bus.Publish(bus.NewEvent("message.upserted", Upsert{Key: key, Message: msg}))
		} else {
			return
		}
	}

	if msg.FromID == e.userID {
		return
	}
	if active {
		// Reading it live; tell the backend rather than counting it.
		go e.markRead(peer)
		return
	}
	if e.firstDelivery(msg.ID) {
		e.dir.IncrementUnread(peer)
	}
}

// firstDelivery records id and reports whether it was new. Messages
// without an id cannot be deduplicated and count every time.
func (e *Engine) firstDelivery(id string) bool {
	if id == "" {
		return true
	}
	e.seenMu.Lock()
	defer e.seenMu.Unlock()
	if e.seenIDs[id] {
		return false
	}
	e.seenIDs[id] = true
	e.seenOrder = append(e.seenOrder, id)
	if len(e.seenOrder) > seenCapacity {
		delete(e.seenIDs, e.seenOrder[0])
		e.seenOrder = e.seenOrder[1:]
	}
	return true
}

func (e *Engine) leaveConversationChannels(peerID int64) {
	for _, ch := range chat.ConversationChannels(e.userID, peerID) {
		if err := e.sub.Leave(ch); err != nil {
			e.logger.Warn("conversation channel leave failed", zap.String("channel", ch), zap.Error(err))
		}
	}
}

// markRead is fire and forget: a lost receipt costs a stale counter on
// the next directory refresh, nothing more.
func (e *Engine) markRead(peerID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.gw.MarkRead(ctx, peerID); err != nil {
		e.logger.Warn("mark read failed", zap.Int64("peer_id", peerID), zap.Error(err))
	}
}

func (e *Engine) transition(to status.State) {
	if e.machine == nil {
		return
	}
	if err := e.machine.Transition(to); err != nil {
		e.logger.Debug("status transition skipped", zap.Error(err))
	}
}
