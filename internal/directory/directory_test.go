package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ridelink/ridechat/internal/chat"
	"go.uber.org/zap"
)

type fakeGateway struct {
	mu       sync.Mutex
	contacts []chat.Contact
	err      error
	byID     map[int64]chat.Contact
	calls    int
	onFetch  func()
}

func (f *fakeGateway) Contacts(ctx context.Context) ([]chat.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]chat.Contact, len(f.contacts))
	copy(out, f.contacts)
	return out, nil
}

func (f *fakeGateway) ContactByID(ctx context.Context, id int64) (chat.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.byID[id]; ok {
		return c, nil
	}
	return chat.Contact{}, errors.New("not found")
}

func newTestDirectory(gw Gateway) *Directory {
	return New(gw, nil, nil, zap.NewNop(), time.Hour)
}

func TestRefreshSortsByUnreadThenName(t *testing.T) {
	gw := &fakeGateway{contacts: []chat.Contact{
		{ID: 1, Name: "Zoe"},
		{ID: 2, Name: "Ana", Unread: 2},
		{ID: 3, Name: "Bia"},
		{ID: 4, Name: "Caio", Unread: 5},
	}}
	d := newTestDirectory(gw)

	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	got := d.List()
	want := []int64{4, 2, 3, 1}
	if len(got) != len(want) {
		t.Fatalf("got %d contacts, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got contact %d, want %d", i, got[i].ID, id)
		}
	}
}

func TestRefreshFailureKeepsPreviousList(t *testing.T) {
	gw := &fakeGateway{contacts: []chat.Contact{{ID: 1, Name: "Ana"}}}
	d := newTestDirectory(gw)

	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	gw.mu.Lock()
	gw.err = errors.New("backend down")
	gw.mu.Unlock()

	if err := d.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if got := d.List(); len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("previous list lost after failed refresh: %+v", got)
	}
}

func TestRefreshMergesUnreadMonotonically(t *testing.T) {
	gw := &fakeGateway{contacts: []chat.Contact{{ID: 1, Name: "Ana", Unread: 1}}}
	d := newTestDirectory(gw)
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// Push deliveries bumped the counter past what the backend reported.
	d.IncrementUnread(1)
	d.IncrementUnread(1)

	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if c, _ := d.Get(1); c.Unread != 3 {
		t.Fatalf("unread = %d, want 3", c.Unread)
	}
}

func TestResetUnreadWinsOverInFlightRefresh(t *testing.T) {
	gw := &fakeGateway{contacts: []chat.Contact{{ID: 1, Name: "Ana", Unread: 4}}}
	d := newTestDirectory(gw)
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// The reset lands while the refresh payload is in flight, so the stale
	// count from the backend must not come back.
	gw.mu.Lock()
	gw.onFetch = func() { d.ResetUnread(1) }
	gw.mu.Unlock()
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if c, _ := d.Get(1); c.Unread != 0 {
		t.Fatalf("unread resurrected: got %d, want 0", c.Unread)
	}
}

func TestLookupFallsBackToBackend(t *testing.T) {
	gw := &fakeGateway{byID: map[int64]chat.Contact{
		7: {ID: 7, Name: "Duda", Role: "driver"},
	}}
	d := newTestDirectory(gw)

	c, err := d.Lookup(context.Background(), 7)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if c.Name != "Duda" {
		t.Fatalf("name = %q, want Duda", c.Name)
	}
	// Now cached locally.
	if _, ok := d.Get(7); !ok {
		t.Fatal("looked-up contact not retained")
	}

	if _, err := d.Lookup(context.Background(), 99); err == nil {
		t.Fatal("expected error for unknown contact")
	}
}

func TestIncrementUnreadCreatesPlaceholder(t *testing.T) {
	d := newTestDirectory(&fakeGateway{})
	d.IncrementUnread(5)
	c, ok := d.Get(5)
	if !ok {
		t.Fatal("placeholder contact missing")
	}
	if c.Unread != 1 {
		t.Fatalf("unread = %d, want 1", c.Unread)
	}
}
