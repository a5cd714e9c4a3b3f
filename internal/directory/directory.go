// Package directory maintains the ordered list of conversation partners
// with their unread counters. It refreshes from the backend on a fixed
// interval in the background and keeps the previous list on any failure;
// a transient fetch error must never blank the sidebar.
package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ridelink/ridechat/internal/bus"
	"github.com/ridelink/ridechat/internal/chat"
	"github.com/ridelink/ridechat/internal/store"
	"go.uber.org/zap"
)

// DefaultRefreshInterval is the background directory poll interval.
const DefaultRefreshInterval = 30 * time.Second

// Gateway is the backend surface the directory needs.
type Gateway interface {
	Contacts(ctx context.Context) ([]chat.Contact, error)
	ContactByID(ctx context.Context, id int64) (chat.Contact, error)
}

// Directory is the in-memory contact list plus its persisted snapshot.
type Directory struct {
	gw       Gateway
	db       *store.DB
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration

	mu       sync.RWMutex
	contacts map[int64]chat.Contact
	// resetAt version-stamps local unread resets so a refresh that was
	// already in flight cannot resurrect a counter the user just cleared.
	resetAt map[int64]time.Time

	cancel context.CancelFunc
}

// New creates a directory. The store may be nil in tests; the snapshot is
// then skipped.
func New(gw Gateway, db *store.DB, b *bus.Bus, logger *zap.Logger, interval time.Duration) *Directory {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Directory{
		gw:       gw,
		db:       db,
		bus:      b,
		logger:   logger,
		interval: interval,
		contacts: make(map[int64]chat.Contact),
		resetAt:  make(map[int64]time.Time),
	}
}

// Start seeds the directory from the persisted snapshot, then refreshes in
// the background on the configured interval.
func (d *Directory) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	if d.db != nil {
		if snapshot, err := d.db.ListContacts(); err == nil && len(snapshot) > 0 {
			d.mu.Lock()
			for _, c := range snapshot {
				d.contacts[c.ID] = c
			}
			d.mu.Unlock()
			d.logger.Info("directory seeded from snapshot", zap.Int("contacts", len(snapshot)))
		}
	}

	go func() {
		// Initial refresh, then the background interval; background runs
		// never surface a loading state.
		if err := d.Refresh(ctx); err != nil {
			d.logger.Warn("initial directory refresh failed", zap.Error(err))
		}
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := d.Refresh(ctx); err != nil {
					d.logger.Warn("directory refresh failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the background refresh.
func (d *Directory) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// Refresh fetches the directory and merges it into local state. On error
// the previous list is left untouched. Unread counters merge monotonically
// (max of local and fetched) so a slow fetch cannot clobber increments
// applied by push deliveries while it was in flight.
func (d *Directory) Refresh(ctx context.Context) error {
	fetchStart := time.Now()
	fetched, err := d.gw.Contacts(ctx)
	if err != nil {
		return fmt.Errorf("refresh contacts: %w", err)
	}

	d.mu.Lock()
	next := make(map[int64]chat.Contact, len(fetched))
	for _, in := range fetched {
		if cur, ok := d.contacts[in.ID]; ok {
			if d.resetAt[in.ID].After(fetchStart) {
				// A local read-reset postdates this fetch; its count wins.
				in.Unread = cur.Unread
			} else if cur.Unread > in.Unread {
				in.Unread = cur.Unread
			}
		}
		next[in.ID] = in
	}
	d.contacts = next
	d.mu.Unlock()

	d.persistSnapshot()
	d.publishUpdate()
	return nil
}

// List returns the contacts sorted by unread descending then name
// ascending.
func (d *Directory) List() []chat.Contact {
	d.mu.RLock()
	out := make([]chat.Contact, 0, len(d.contacts))
	for _, c := range d.contacts {
		out = append(out, c)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Unread != out[j].Unread {
			return out[i].Unread > out[j].Unread
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Get returns a contact from local state.
func (d *Directory) Get(id int64) (chat.Contact, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[id]
	return c, ok
}

// Lookup returns the contact for id, falling back to a backend user
// lookup when the directory has not seen the peer yet (direct navigation
// to a conversation URL).
func (d *Directory) Lookup(ctx context.Context, id int64) (chat.Contact, error) {
	if c, ok := d.Get(id); ok {
		return c, nil
	}

	c, err := d.gw.ContactByID(ctx, id)
	if err != nil {
		return chat.Contact{}, fmt.Errorf("lookup contact %d: %w", id, err)
	}

	d.mu.Lock()
	d.contacts[c.ID] = c
	d.mu.Unlock()
	d.publishUpdate()
	return c, nil
}

// IncrementUnread bumps a contact's unread counter by one, creating a
// placeholder entry for an unknown sender.
func (d *Directory) IncrementUnread(id int64) {
	d.mu.Lock()
	c := d.contacts[id]
	c.ID = id
	c.Unread++
	d.contacts[id] = c
	d.mu.Unlock()
	d.publishUpdate()
}

// ResetUnread clears a contact's unread counter, recording the reset time
// so concurrent refreshes cannot resurrect the old count.
func (d *Directory) ResetUnread(id int64) {
	d.mu.Lock()
	if c, ok := d.contacts[id]; ok && c.Unread != 0 {
		c.Unread = 0
		d.contacts[id] = c
	}
	d.resetAt[id] = time.Now()
	d.mu.Unlock()
	d.publishUpdate()
}

func (d *Directory) persistSnapshot() {
	if d.db == nil {
		return
	}
	if err := d.db.SnapshotContacts(d.List()); err != nil {
		d.logger.Warn("directory snapshot failed", zap.Error(err))
	}
}

func (d *Directory) publishUpdate() {
	if d.bus != nil {
		d.bus.Publish(bus.NewEvent("contact.updated", d.List()))
	}
}
