// Package outbox implements the optimistic send pipeline: a queued
// message appears in the conversation immediately under a temporary id,
// the durable outbox drains in the background, and the temporary entry is
// either reconciled with the server-confirmed message or rolled back with
// the composed text handed back to the caller.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/ridelink/ridechat/internal/bus"
	"github.com/ridelink/ridechat/internal/cache"
	"github.com/ridelink/ridechat/internal/chat"
	"github.com/ridelink/ridechat/internal/store"
	chatsync "github.com/ridelink/ridechat/internal/sync"
	"go.uber.org/zap"
)

var (
	// ErrEmptyBody rejects sends whose body is empty after trimming.
	ErrEmptyBody = errors.New("message body is empty")
	// ErrNoRecipient rejects sends without a peer.
	ErrNoRecipient = errors.New("no recipient selected")
	// ErrSendInFlight rejects a second send to a peer while one is still
	// queued or sending.
	ErrSendInFlight = errors.New("send already in flight for this peer")
)

// MessageSender is the backend surface the sender needs.
type MessageSender interface {
	Send(ctx context.Context, peerID int64, body, clientID string) (chat.Message, error)
}

// Ack is the bus payload for a confirmed send.
type Ack struct {
	Key     string
	TempID  string
	Message chat.Message
}

// Failure is the bus payload for a failed send. Body carries the composed
// text so the caller can restore it into the input instead of losing it.
type Failure struct {
	Key    string
	TempID string
	PeerID int64
	Body   string
	Err    string
}

// Sender queues messages durably and drains them against the backend.
type Sender struct {
	userID int64
	db     *store.DB
	gw     MessageSender
	cache  *cache.Conversations
	bus    *bus.Bus
	logger *zap.Logger

	mu      gosync.Mutex
	tempIDs map[string]string // client id -> temporary cache id

	wake   chan struct{}
	cancel context.CancelFunc
}

// NewSender creates a sender for the authenticated user.
func NewSender(userID int64, db *store.DB, gw MessageSender, c *cache.Conversations, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		userID:  userID,
		db:      db,
		gw:      gw,
		cache:   c,
		bus:     b,
		logger:  logger,
		tempIDs: make(map[string]string),
		wake:    make(chan struct{}, 1),
	}
}

// Start begins draining the outbox.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the drain loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Queue validates and enqueues a message to peerID, inserting the
// optimistic temporary entry into the conversation cache. It returns the
// temporary message so callers can render it without waiting for the
// drain loop.
func (s *Sender) Queue(peerID int64, body string) (chat.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return chat.Message{}, ErrEmptyBody
	}
	if peerID == 0 {
		return chat.Message{}, ErrNoRecipient
	}

	now := time.Now().UnixMilli()
	msg := chat.Message{
		ID:        chat.TempID(now),
		ClientID:  uuid.NewString(),
		FromID:    s.userID,
		ToID:      peerID,
		Body:      body,
		CreatedAt: now,
		Temporary: true,
	}

	// The in-flight check and the insert are one statement; concurrent
	// submissions for the same peer collapse to a single accepted entry.
	queued, err := s.db.QueueOutboxIfIdle(msg.ClientID, peerID, body)
	if err != nil {
		return chat.Message{}, fmt.Errorf("queue outbox: %w", err)
	}
	if !queued {
		return chat.Message{}, ErrSendInFlight
	}
	s.mu.Lock()
	s.tempIDs[msg.ClientID] = msg.ID
	s.mu.Unlock()

	key := chat.ConversationKey(s.userID, peerID)
	s.cache.Append(key, msg)
	s.bus.Publish(bus.NewEvent("message.upserted", chatsync.Upsert{Key: key, Message: msg}))

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return msg, nil
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.wake:
			s.processPending(ctx)
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.ClientID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_id", entry.ClientID))
			continue
		}

		key := chat.ConversationKey(s.userID, entry.PeerID)
		tempID := s.takeTempID(entry.ClientID)

		server, err := s.gw.Send(ctx, entry.PeerID, entry.Body, entry.ClientID)
		if err != nil {
			s.logger.Error("send failed", zap.Error(err), zap.String("client_id", entry.ClientID), zap.Int64("peer_id", entry.PeerID))
			_ = s.db.MarkOutboxFailed(entry.ClientID, err.Error())
			if tempID != "" {
				s.cache.Remove(key, tempID)
			}
			s.bus.Publish(bus.NewEvent("message.send_failed", Failure{
				Key:    key,
				TempID: tempID,
				PeerID: entry.PeerID,
				Body:   entry.Body,
				Err:    err.Error(),
			}))
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientID, server.ID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_id", entry.ClientID))
		}

		// A push echo may already have replaced the temporary entry;
		// both paths converge on a single confirmed message.
		if tempID != "" {
			s.cache.Reconcile(key, tempID, server)
		} else {
			s.cache.Append(key, server)
		}

		s.logger.Info("message sent", zap.String("client_id", entry.ClientID), zap.String("server_id", server.ID))
		s.bus.Publish(bus.NewEvent("message.send_ack", Ack{
			Key:     key,
			TempID:  tempID,
			Message: server,
		}))
	}
}

// takeTempID returns and forgets the temporary cache id for a client id.
// It is empty for entries queued by a previous daemon process; the cache
// correlation by client id covers those.
func (s *Sender) takeTempID(clientID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.tempIDs[clientID]
	delete(s.tempIDs, clientID)
	return id
}
