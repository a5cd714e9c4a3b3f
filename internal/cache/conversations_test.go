package cache

import (
	"fmt"
	"testing"

	"github.com/ridelink/ridechat/internal/chat"
)

func testCache(t *testing.T) *Conversations {
	t.Helper()
	c, err := New(8)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestGetMissThenPut(t *testing.T) {
	c := testCache(t)
	key := chat.ConversationKey(1, 2)

	if _, ok := c.Get(key); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Put(key, []chat.Message{{ID: "1", FromID: 2, ToID: 1, Body: "bonjour"}})
	msgs, ok := c.Get(key)
	if !ok || len(msgs) != 1 {
		t.Fatalf("hit = %v, len = %d, want 1 message", ok, len(msgs))
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c := testCache(t)
	c.Put("1_2", []chat.Message{{ID: "1", Body: "original"}})

	msgs, _ := c.Get("1_2")
	msgs[0].Body = "mutated"

	again, _ := c.Get("1_2")
	if again[0].Body != "original" {
		t.Error("caller mutation leaked into the cache")
	}
}

func TestAppendDedupesByID(t *testing.T) {
	c := testCache(t)
	key := "1_2"
	msg := chat.Message{ID: "42", FromID: 2, ToID: 1, Body: "hello"}

	// Same server id delivered via fetch, push chat.A.B and push chat.B.A.
	c.Append(key, msg)
	c.Append(key, msg)
	c.Append(key, msg)

	msgs, _ := c.Get(key)
	if len(msgs) != 1 {
		t.Fatalf("got %d entries for id 42, want exactly 1", len(msgs))
	}
}

func TestAppendReplacesCorrelatedTemp(t *testing.T) {
	c := testCache(t)
	key := "1_2"
	temp := chat.Message{ID: chat.TempID(1000), ClientID: "c-1", FromID: 1, ToID: 2, Body: "hello", Temporary: true}
	c.Append(key, temp)

	// Push delivery of the confirmed message, echoing the client id.
	c.Append(key, chat.Message{ID: "42", ClientID: "c-1", FromID: 1, ToID: 2, Body: "hello"})

	msgs, _ := c.Get(key)
	if len(msgs) != 1 {
		t.Fatalf("got %d entries, want 1 after correlation", len(msgs))
	}
	if msgs[0].ID != "42" || msgs[0].Temporary {
		t.Errorf("entry = %+v, want confirmed id 42", msgs[0])
	}
}

func TestAppendCorrelatesByBodyWithoutClientID(t *testing.T) {
	c := testCache(t)
	key := "1_2"
	c.Append(key, chat.Message{ID: chat.TempID(1000), FromID: 1, ToID: 2, Body: "hello", Temporary: true})
	c.Append(key, chat.Message{ID: "42", FromID: 1, ToID: 2, Body: "hello"})

	msgs, _ := c.Get(key)
	if len(msgs) != 1 || msgs[0].ID != "42" {
		t.Fatalf("got %v, want single confirmed entry", msgs)
	}
}

func TestReconcileReplacesTemp(t *testing.T) {
	c := testCache(t)
	key := "1_2"
	tempID := chat.TempID(1000)
	c.Put(key, []chat.Message{
		{ID: "40", FromID: 2, ToID: 1, Body: "salut"},
		{ID: tempID, FromID: 1, ToID: 2, Body: "hello", Temporary: true},
	})

	ok := c.Reconcile(key, tempID, chat.Message{ID: "42", FromID: 1, ToID: 2, Body: "hello"})
	if !ok {
		t.Fatal("Reconcile returned false")
	}

	msgs, _ := c.Get(key)
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[1].ID != "42" || msgs[1].Temporary {
		t.Errorf("reconciled entry = %+v", msgs[1])
	}
	for _, m := range msgs {
		if chat.IsTempID(m.ID) {
			t.Errorf("temp entry %q survived reconciliation", m.ID)
		}
	}
}

func TestReconcileAfterPushDeliveryDropsTemp(t *testing.T) {
	c := testCache(t)
	key := "1_2"
	tempID := chat.TempID(1000)
	// The push channel already delivered the confirmed message.
	c.Put(key, []chat.Message{
		{ID: "42", FromID: 1, ToID: 2, Body: "hello"},
		{ID: tempID, FromID: 1, ToID: 2, Body: "hello", Temporary: true},
	})

	if !c.Reconcile(key, tempID, chat.Message{ID: "42", FromID: 1, ToID: 2, Body: "hello"}) {
		t.Fatal("Reconcile returned false")
	}
	msgs, _ := c.Get(key)
	if len(msgs) != 1 || msgs[0].ID != "42" {
		t.Fatalf("msgs = %v, want just id 42", msgs)
	}
}

func TestRemoveRollsBackTemp(t *testing.T) {
	c := testCache(t)
	key := "1_2"
	tempID := chat.TempID(1000)
	c.Put(key, []chat.Message{{ID: "40", Body: "salut"}})
	c.Append(key, chat.Message{ID: tempID, FromID: 1, Body: "hello", Temporary: true})

	if !c.Remove(key, tempID) {
		t.Fatal("Remove returned false")
	}
	msgs, _ := c.Get(key)
	if len(msgs) != 1 || msgs[0].ID != "40" {
		t.Errorf("msgs = %v, want pre-send state", msgs)
	}
}

func TestLRUEviction(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("1_%d", i), []chat.Message{{ID: "1"}})
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want bound of 2", c.Len())
	}
	if c.Contains("1_0") {
		t.Error("oldest conversation should have been evicted")
	}
}
