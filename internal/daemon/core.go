package daemon

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	gosync "sync"

	"github.com/ridelink/ridechat/internal/bus"
	"github.com/ridelink/ridechat/internal/cache"
	"github.com/ridelink/ridechat/internal/config"
	"github.com/ridelink/ridechat/internal/directory"
	"github.com/ridelink/ridechat/internal/gateway"
	"github.com/ridelink/ridechat/internal/metrics"
	"github.com/ridelink/ridechat/internal/outbox"
	"github.com/ridelink/ridechat/internal/push"
	"github.com/ridelink/ridechat/internal/status"
	"github.com/ridelink/ridechat/internal/store"
	chatsync "github.com/ridelink/ridechat/internal/sync"
	"go.uber.org/zap"
)

// ErrAuthRequired is returned by Core accessors before credentials are
// stored.
var ErrAuthRequired = errors.New("auth required: no credentials stored")

// Core owns the runtime pieces that depend on the authenticated
// identity. The daemon boots without credentials and serves only status
// and auth endpoints until Authenticate stores a token; everything
// downstream of the gateway is built at activation time.
type Core struct {
	cfg     *config.Config
	db      *store.DB
	bus     *bus.Bus
	machine *status.Machine
	cache   *cache.Conversations
	logger  *zap.Logger

	mu        gosync.Mutex
	userID    int64
	gw        *gateway.Client
	pushc     *push.Client
	dir       *directory.Directory
	engine    *chatsync.Engine
	sender    *outbox.Sender
	collector *metrics.Collector
	active    bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCore creates an inactive core.
func NewCore(cfg *config.Config, db *store.DB, b *bus.Bus, machine *status.Machine, c *cache.Conversations, logger *zap.Logger) *Core {
	return &Core{
		cfg:     cfg,
		db:      db,
		bus:     b,
		machine: machine,
		cache:   c,
		logger:  logger,
	}
}

// Start activates the core from stored credentials, or parks the daemon
// in AuthRequired when none exist.
func (c *Core) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	token, err := c.db.GetKV(store.KeyAuthToken)
	if err != nil {
		return fmt.Errorf("read auth token: %w", err)
	}
	rawID, err := c.db.GetKV(store.KeyUserID)
	if err != nil {
		return fmt.Errorf("read user id: %w", err)
	}
	if token == "" || rawID == "" {
		c.logger.Info("no credentials stored, auth required")
		return c.machine.Transition(status.AuthRequired)
	}
	userID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("stored user id %q: %w", rawID, err)
	}
	return c.activate(userID, token)
}

// Authenticate stores credentials and activates the core. Re-auth on an
// already active core refreshes the token in place.
func (c *Core) Authenticate(userID int64, token string) error {
	if userID == 0 || token == "" {
		return errors.New("user id and token are required")
	}
	if err := c.db.SetKV(store.KeyAuthToken, token); err != nil {
		return fmt.Errorf("store auth token: %w", err)
	}
	if err := c.db.SetKV(store.KeyUserID, strconv.FormatInt(userID, 10)); err != nil {
		return fmt.Errorf("store user id: %w", err)
	}

	c.mu.Lock()
	if c.active {
		if userID != c.userID {
			c.mu.Unlock()
			return errors.New("daemon is bound to another user; restart the session")
		}
		c.gw.SetToken(token)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.machine.Current() == status.AuthRequired {
		if err := c.machine.Transition(status.Connecting); err != nil {
			return err
		}
	}
	return c.activate(userID, token)
}

func (c *Core) activate(userID int64, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return nil
	}

	c.userID = userID
	c.gw = gateway.New(c.cfg.APIBaseURL, token)
	c.pushc = push.New(c.cfg.PushURL, token, c.bus, c.logger,
		push.WithMaxBackoff(c.cfg.ReconnectMax()))
	c.dir = directory.New(c.gw, c.db, c.bus, c.logger, c.cfg.ContactRefresh())
	c.engine = chatsync.NewEngine(userID, c.gw, c.pushc, c.cache, c.dir, c.bus, c.machine, c.logger)
	c.sender = outbox.NewSender(userID, c.db, c.gw, c.cache, c.bus, c.logger)
	if c.collector == nil {
		// Collector gauges register globally; build it once per process.
		c.collector = metrics.NewCollector(c.bus, c.cache, c.pushc)
	}

	if c.machine.Current() == status.Booting {
		if err := c.machine.Transition(status.Connecting); err != nil {
			return err
		}
	}
	if err := c.machine.Transition(status.Syncing); err != nil {
		return err
	}

	c.collector.Start(c.ctx)
	c.pushc.Start(c.ctx)
	if err := c.engine.Start(c.ctx); err != nil {
		return err
	}
	c.sender.Start(c.ctx)
	c.dir.Start(c.ctx)

	c.active = true
	c.logger.Info("core activated", zap.Int64("user_id", userID))
	return nil
}

// Stop tears down the runtime pieces in reverse start order.
func (c *Core) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		c.dir.Stop()
		c.sender.Stop()
		c.engine.Stop()
		c.pushc.Stop()
		c.collector.Stop()
		c.active = false
	}
	if c.cancel != nil {
		c.cancel()
	}
}

// Active reports whether the authenticated runtime is up.
func (c *Core) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// UserID returns the authenticated user, or 0 before activation.
func (c *Core) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// runtime returns the active components, or ErrAuthRequired.
func (c *Core) runtime() (*gateway.Client, *push.Client, *directory.Directory, *chatsync.Engine, *outbox.Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil, nil, nil, nil, nil, ErrAuthRequired
	}
	return c.gw, c.pushc, c.dir, c.engine, c.sender, nil
}
