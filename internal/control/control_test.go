package control

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeCounters struct {
	users         int64
	groups        int64
	notifications int64
	conversations int64
	messages      int64
	documents     int64
	storage       map[string]int64

	calls atomic.Int64
	err   error
}

func (f *fakeCounters) count(v int64) (int64, error) {
	f.calls.Add(1)
	if f.err != nil {
		return 0, f.err
	}
	return v, nil
}

func (f *fakeCounters) CountUsers(context.Context) (int64, error)         { return f.count(f.users) }
func (f *fakeCounters) CountGroups(context.Context) (int64, error)        { return f.count(f.groups) }
func (f *fakeCounters) CountNotifications(context.Context) (int64, error) { return f.count(f.notifications) }
func (f *fakeCounters) CountConversations(context.Context) (int64, error) { return f.count(f.conversations) }
func (f *fakeCounters) CountMessages(context.Context) (int64, error)      { return f.count(f.messages) }
func (f *fakeCounters) CountDocuments(context.Context) (int64, error)     { return f.count(f.documents) }

func (f *fakeCounters) StorageByScope(context.Context) (map[string]int64, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.storage, nil
}

func newFake() *fakeCounters {
	return &fakeCounters{
		users:         12,
		groups:        3,
		notifications: 7,
		conversations: 40,
		messages:      900,
		documents:     25,
		storage: map[string]int64{
			"personal": 81920,
			"group":    163840,
		},
	}
}

func TestSnapshotCollectsAllCounts(t *testing.T) {
	fake := newFake()
	c := NewCollector(fake, fake, fake, time.Minute, nil)

	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	if snap.Users != 12 || snap.Groups != 3 || snap.UnreadNotifications != 7 {
		t.Errorf("tenant counts = %d/%d/%d, want 12/3/7",
			snap.Users, snap.Groups, snap.UnreadNotifications)
	}
	if snap.Conversations != 40 || snap.Messages != 900 || snap.Documents != 25 {
		t.Errorf("activity counts = %d/%d/%d, want 40/900/25",
			snap.Conversations, snap.Messages, snap.Documents)
	}
	if snap.TotalStorageBytes != 245760 {
		t.Errorf("TotalStorageBytes = %d, want 245760", snap.TotalStorageBytes)
	}
	if snap.GeneratedAt.IsZero() {
		t.Error("GeneratedAt is zero")
	}
}

func TestSnapshotServedFromCacheWithinTTL(t *testing.T) {
	fake := newFake()
	c := NewCollector(fake, fake, fake, time.Minute, nil)

	first, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("first Snapshot() error = %v", err)
	}

	callsAfterFirst := fake.calls.Load()

	second, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("second Snapshot() error = %v", err)
	}

	if second != first {
		t.Error("second snapshot is not the cached instance")
	}
	if got := fake.calls.Load(); got != callsAfterFirst {
		t.Errorf("cached snapshot issued %d extra queries", got-callsAfterFirst)
	}
}

func TestSnapshotRecomputesAfterTTL(t *testing.T) {
	fake := newFake()
	c := NewCollector(fake, fake, fake, 30*time.Second, nil)

	current := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return current }

	if _, err := c.Snapshot(context.Background()); err != nil {
		t.Fatalf("first Snapshot() error = %v", err)
	}
	callsAfterFirst := fake.calls.Load()

	current = current.Add(31 * time.Second)
	fake.messages = 901

	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("second Snapshot() error = %v", err)
	}

	if snap.Messages != 901 {
		t.Errorf("Messages = %d, want recomputed 901", snap.Messages)
	}
	if got := fake.calls.Load(); got == callsAfterFirst {
		t.Error("expired snapshot did not recompute")
	}
}

func TestSnapshotFailsWhenAnyCountFails(t *testing.T) {
	fake := newFake()
	fake.err = errors.New("connection refused")
	c := NewCollector(fake, fake, fake, time.Minute, nil)

	if _, err := c.Snapshot(context.Background()); err == nil {
		t.Fatal("Snapshot() error = nil, want failure")
	}
}

func TestInvalidateForcesRecompute(t *testing.T) {
	fake := newFake()
	c := NewCollector(fake, fake, fake, time.Minute, nil)

	if _, err := c.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	callsAfterFirst := fake.calls.Load()

	c.Invalidate()

	if _, err := c.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot() after Invalidate() error = %v", err)
	}
	if got := fake.calls.Load(); got == callsAfterFirst {
		t.Error("Invalidate() did not force a recompute")
	}
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	fake := newFake()
	c := NewCollector(fake, fake, fake, time.Minute, nil)

	const callers = 10

	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Snapshot(context.Background()); err != nil {
				t.Errorf("Snapshot() error = %v", err)
			}
		}()
	}
	wg.Wait()

	// One refresh issues exactly 7 queries.
	if got := fake.calls.Load(); got != 7 {
		t.Errorf("queries issued = %d, want 7 (single shared refresh)", got)
	}
}
