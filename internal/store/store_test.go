package store

import (
	"path/filepath"
	"testing"

	"github.com/ridelink/ridechat/internal/chat"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestContactSnapshotReplacesWholesale(t *testing.T) {
	db := testDB(t)

	first := []chat.Contact{
		{ID: 1, Name: "Alice", Role: "conducteur", Unread: 0},
		{ID: 2, Name: "Bruno", Role: "passager", Unread: 3},
	}
	if err := db.SnapshotContacts(first); err != nil {
		t.Fatal(err)
	}

	second := []chat.Contact{
		{ID: 2, Name: "Bruno", Role: "passager", Unread: 0},
		{ID: 3, Name: "Chloe", Role: "conducteur", Unread: 1},
	}
	if err := db.SnapshotContacts(second); err != nil {
		t.Fatal(err)
	}

	contacts, err := db.ListContacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 2 {
		t.Fatalf("got %d contacts, want 2 (wholesale replace)", len(contacts))
	}
	for _, c := range contacts {
		if c.ID == 1 {
			t.Error("contact 1 survived snapshot replace")
		}
	}
}

func TestListContactsOrder(t *testing.T) {
	db := testDB(t)

	if err := db.SnapshotContacts([]chat.Contact{
		{ID: 1, Name: "Zoe", Unread: 0},
		{ID: 2, Name: "Alice", Unread: 0},
		{ID: 3, Name: "Marc", Unread: 5},
	}); err != nil {
		t.Fatal(err)
	}

	contacts, err := db.ListContacts()
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{3, 2, 1} // unread desc, then name asc
	for i, c := range contacts {
		if c.ID != want[i] {
			t.Errorf("contacts[%d].ID = %d, want %d", i, c.ID, want[i])
		}
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("c1", 7, "hello"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientID != "c1" || pending[0].PeerID != 7 {
		t.Fatalf("pending = %+v, want one entry for peer 7", pending)
	}

	if err := db.MarkOutboxSending("c1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("c1", "42"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after sent, want 0", len(pending))
	}
}

func TestOutboxDuplicateClientIDRejected(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("c1", 7, "hello"); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("c1", 7, "hello"); err == nil {
		t.Error("duplicate client_id should violate the unique constraint")
	}
}

func TestHasActiveSend(t *testing.T) {
	db := testDB(t)

	active, err := db.HasActiveSend(7)
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Error("empty outbox reported active send")
	}

	if err := db.QueueOutbox("c1", 7, "hello"); err != nil {
		t.Fatal(err)
	}
	active, err = db.HasActiveSend(7)
	if err != nil {
		t.Fatal(err)
	}
	if !active {
		t.Error("queued entry not reported as active")
	}

	// Another peer is unaffected.
	active, err = db.HasActiveSend(8)
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Error("peer 8 reported active send owned by peer 7")
	}

	if err := db.MarkOutboxFailed("c1", "network error"); err != nil {
		t.Fatal(err)
	}
	active, err = db.HasActiveSend(7)
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Error("failed entry still reported active")
	}
}

func TestQueueOutboxIfIdle(t *testing.T) {
	db := testDB(t)

	queued, err := db.QueueOutboxIfIdle("c1", 7, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if !queued {
		t.Fatal("idle peer rejected a queue")
	}

	// A second attempt while c1 is still queued is suppressed.
	queued, err = db.QueueOutboxIfIdle("c2", 7, "again")
	if err != nil {
		t.Fatal(err)
	}
	if queued {
		t.Error("active peer accepted a second entry")
	}
	if err := db.MarkOutboxSending("c1"); err != nil {
		t.Fatal(err)
	}
	queued, err = db.QueueOutboxIfIdle("c3", 7, "still sending")
	if err != nil {
		t.Fatal(err)
	}
	if queued {
		t.Error("sending peer accepted a second entry")
	}

	// Another peer is unaffected.
	queued, err = db.QueueOutboxIfIdle("c4", 8, "other thread")
	if err != nil {
		t.Fatal(err)
	}
	if !queued {
		t.Error("idle peer 8 blocked by peer 7's send")
	}

	// A settled entry frees the peer.
	if err := db.MarkOutboxFailed("c1", "network error"); err != nil {
		t.Fatal(err)
	}
	queued, err = db.QueueOutboxIfIdle("c5", 7, "retry")
	if err != nil {
		t.Fatal(err)
	}
	if !queued {
		t.Error("failed entry still blocks the peer")
	}
}

func TestKV(t *testing.T) {
	db := testDB(t)

	v, err := db.GetKV(KeyAuthToken)
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("absent key = %q, want empty", v)
	}

	if err := db.SetKV(KeyAuthToken, "tok-1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetKV(KeyAuthToken, "tok-2"); err != nil {
		t.Fatal(err)
	}

	v, err = db.GetKV(KeyAuthToken)
	if err != nil {
		t.Fatal(err)
	}
	if v != "tok-2" {
		t.Errorf("value = %q, want tok-2 (overwritten)", v)
	}
}
