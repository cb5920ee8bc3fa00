package chat

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type allowAllMatcher struct{}

func (allowAllMatcher) IsMatched(a, b string) bool { return true }

type denyAllMatcher struct{}

func (denyAllMatcher) IsMatched(a, b string) bool { return false }

func newTestStore(t *testing.T, matcher Matcher) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{Matcher: matcher})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

func TestAppendRequiresMatch(t *testing.T) {
	store := newTestStore(t, denyAllMatcher{})
	if _, err := store.Append("user-1", "user-2", "hi", ""); !errors.Is(err, ErrNotMatched) {
		t.Fatalf("expected not matched, got %v", err)
	}
}

func TestAppendAssignsSequentialIDs(t *testing.T) {
	store := newTestStore(t, allowAllMatcher{})

	first, err := store.Append("user-1", "user-2", "hello", "")
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if first.Seq != 1 {
		t.Fatalf("expected first sequence id 1, got %d", first.Seq)
	}
	second, err := store.Append("user-2", "user-1", "hey", "")
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if second.Seq != 2 {
		t.Fatalf("expected second sequence id 2, got %d", second.Seq)
	}
}

func TestConcurrentAppendsNeverCollide(t *testing.T) {
	store := newTestStore(t, allowAllMatcher{})

	const appends = 50
	var wg sync.WaitGroup
	seqs := make(chan int64, appends)
	for i := 0; i < appends; i++ {
		wg.Add(1)
		sender, receiver := "user-1", "user-2"
		if i%2 == 0 {
			sender, receiver = receiver, sender
		}
		go func() {
			defer wg.Done()
			message, err := store.Append(sender, receiver, "ping", "")
			if err != nil {
				t.Errorf("unexpected append error: %v", err)
				return
			}
			seqs <- message.Seq
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool, appends)
	for seq := range seqs {
		if seen[seq] {
			t.Fatalf("sequence id %d assigned twice", seq)
		}
		seen[seq] = true
	}
	for expected := int64(1); expected <= appends; expected++ {
		if !seen[expected] {
			t.Fatalf("expected sequence id %d to be assigned", expected)
		}
	}
}

func TestListActiveMarksReceiverMessagesRead(t *testing.T) {
	store := newTestStore(t, allowAllMatcher{})
	if _, err := store.Append("user-1", "user-2", "hello", ""); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	// The sender listing does not mark anything.
	listed := store.ListActive("user-1", "user-2", "user-1")
	if len(listed) != 1 || listed[0].IsRead {
		t.Fatalf("expected one unread message for the sender view, got %+v", listed)
	}
	if store.UnreadCount("user-1", "user-2", "user-2") != 1 {
		t.Fatal("expected one unread message for the receiver")
	}

	listed = store.ListActive("user-1", "user-2", "user-2")
	if len(listed) != 1 || !listed[0].IsRead {
		t.Fatalf("expected receiver fetch to mark the message read, got %+v", listed)
	}
	if store.UnreadCount("user-1", "user-2", "user-2") != 0 {
		t.Fatal("expected unread count to drop to zero")
	}
}

func TestMarkRead(t *testing.T) {
	store := newTestStore(t, allowAllMatcher{})
	if _, err := store.Append("user-1", "user-2", "hello", ""); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	if changed := store.MarkRead("user-1", "user-2", "user-2"); !changed {
		t.Fatal("expected mark read to report a change")
	}
	if changed := store.MarkRead("user-1", "user-2", "user-2"); changed {
		t.Fatal("expected repeated mark read to be a no-op")
	}
}

func TestSoftDeleteOnlyBySender(t *testing.T) {
	store := newTestStore(t, allowAllMatcher{})
	message, err := store.Append("user-1", "user-2", "secret", "img-1")
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	if _, err := store.SoftDelete("user-1", "user-2", message.Seq, "user-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for foreign delete, got %v", err)
	}
	untouched, ok := store.Get("user-1", "user-2", message.Seq)
	if !ok || untouched.Text != "secret" || untouched.IsDeleted {
		t.Fatalf("expected rejected delete to leave the message untouched, got %+v", untouched)
	}

	deleted, err := store.SoftDelete("user-1", "user-2", message.Seq, "user-1")
	if err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if !deleted.IsDeleted || deleted.Text != "" || deleted.ImageRef != "" {
		t.Fatalf("expected cleared payload, got %+v", deleted)
	}

	if _, err := store.SoftDelete("user-1", "user-2", message.Seq, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for repeated delete, got %v", err)
	}
	if listed := store.ListActive("user-1", "user-2", "user-2"); len(listed) != 0 {
		t.Fatalf("expected deleted message to vanish from listings, got %+v", listed)
	}
	if _, err := store.SoftDelete("user-1", "user-2", 99, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for missing message, got %v", err)
	}
}

func TestSequenceIDsNeverReusedAfterDeletion(t *testing.T) {
	store := newTestStore(t, allowAllMatcher{})
	message, err := store.Append("user-1", "user-2", "first", "")
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if _, err := store.SoftDelete("user-1", "user-2", message.Seq, "user-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	next, err := store.Append("user-1", "user-2", "second", "")
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if next.Seq != 2 {
		t.Fatalf("expected sequence to keep increasing past the deleted slot, got %d", next.Seq)
	}
}

func TestLastMessageSkipsDeleted(t *testing.T) {
	store := newTestStore(t, allowAllMatcher{})
	if _, err := store.Append("user-1", "user-2", "first", ""); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	second, err := store.Append("user-1", "user-2", "second", "")
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if _, err := store.SoftDelete("user-1", "user-2", second.Seq, "user-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	last, ok := store.LastMessage("user-1", "user-2")
	if !ok || last.Text != "first" {
		t.Fatalf("expected last active message to be the first one, got %+v", last)
	}
}

func TestStorePersistsAndReloads(t *testing.T) {
	dsn := fmt.Sprintf("file:ember_chat_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.AutoMigrate(&Message{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	store, err := NewStore(StoreConfig{Matcher: allowAllMatcher{}, Persistence: NewGormPersistence(db)})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	if _, err := store.Append("user-1", "user-2", "hello", ""); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if _, err := store.Append("user-2", "user-1", "hey", ""); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	reloaded, err := NewStore(StoreConfig{Matcher: allowAllMatcher{}, Persistence: NewGormPersistence(db)})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	if err := reloaded.Load(); err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	listed := reloaded.ListActive("user-1", "user-2", "user-1")
	if len(listed) != 2 {
		t.Fatalf("expected two reloaded messages, got %d", len(listed))
	}
	next, err := reloaded.Append("user-1", "user-2", "again", "")
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if next.Seq != 3 {
		t.Fatalf("expected sequence to continue after reload, got %d", next.Seq)
	}
}
