package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jervisd/jervis/app/database"
	"github.com/jervisd/jervis/app/source"
)

// scriptedClient returns canned descriptors and records the accounts and
// cursors it was asked about.
type scriptedClient struct {
	mu      sync.Mutex
	polled  []string
	cursors []*time.Time
	descs   []source.Descriptor
	err     error
}

func (c *scriptedClient) ListChanged(ctx context.Context, acct *source.Account, since *time.Time) ([]source.Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polled = append(c.polled, acct.Name)
	c.cursors = append(c.cursors, since)
	if c.err != nil {
		return nil, c.err
	}
	return c.descs, nil
}

func (c *scriptedClient) FetchFull(ctx context.Context, acct *source.Account, desc source.Descriptor) ([]byte, error) {
	return nil, errors.New("not used")
}

type mapResolver struct {
	accounts map[string]*source.Account
}

func (r *mapResolver) Resolve(ctx context.Context, connectionID string) (*source.Account, error) {
	acct, ok := r.accounts[connectionID]
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", connectionID, source.ErrUnknownAccount)
	}
	return acct, nil
}

type pollerFixture struct {
	conns    database.ConnectionRepository
	items    database.ItemRepository
	resolver *mapResolver
}

func newPollerFixture(t *testing.T) *pollerFixture {
	t.Helper()

	db, err := database.NewMemoryConnection()
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return &pollerFixture{
		conns:    database.NewConnectionRepository(db),
		items:    database.NewItemRepository(db),
		resolver: &mapResolver{accounts: make(map[string]*source.Account)},
	}
}

func (f *pollerFixture) addConnection(t *testing.T, sourceType, name string) string {
	t.Helper()
	id, err := f.conns.UpsertConnection(context.Background(), sourceType, name, "https://"+name+".example.com")
	if err != nil {
		t.Fatalf("Failed to register connection: %v", err)
	}
	f.resolver.accounts[id] = &source.Account{ID: id, Name: name, SourceType: sourceType}
	return id
}

func TestTick_DiscoversItemsAndAdvancesCursor(t *testing.T) {
	f := newPollerFixture(t)
	connID := f.addConnection(t, "jira", "team-jira")

	client := &scriptedClient{descs: []source.Descriptor{
		{ExternalKey: "ABC-1", Version: "v1", Title: "First"},
		{ExternalKey: "ABC-2", Version: "v1", Title: "Second"},
	}}
	p := NewPoller(f.conns, f.items, f.resolver, map[string]source.Client{"jira": client}, Config{})

	p.tick(context.Background())

	listed, err := f.items.ListNew(context.Background(), "jira", 10)
	if err != nil {
		t.Fatalf("ListNew failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("Expected 2 discovered items, got %d", len(listed))
	}

	conn, _ := f.conns.GetConnection(context.Background(), connID)
	if conn.LastPolledAt == nil {
		t.Error("Expected poll timestamp recorded")
	}
	if conn.LastSyncedAt == nil {
		t.Error("Expected sync cursor advanced after clean batch")
	}

	// First poll gets a nil cursor (full sync).
	if len(client.cursors) != 1 || client.cursors[0] != nil {
		t.Errorf("Expected nil cursor on first sync, got %v", client.cursors)
	}

	// Second tick passes the stored cursor through.
	p.tick(context.Background())
	if len(client.cursors) != 2 || client.cursors[1] == nil {
		t.Errorf("Expected stored cursor on second sync, got %v", client.cursors)
	}
}

func TestTick_PollsLeastRecentlyPolledFirst(t *testing.T) {
	f := newPollerFixture(t)
	oldID := f.addConnection(t, "jira", "old")
	recentID := f.addConnection(t, "jira", "recent")
	f.addConnection(t, "jira", "never")

	now := time.Now()
	f.conns.TouchPolled(context.Background(), oldID, now.Add(-2*time.Hour))
	f.conns.TouchPolled(context.Background(), recentID, now.Add(-time.Minute))

	client := &scriptedClient{}
	p := NewPoller(f.conns, f.items, f.resolver, map[string]source.Client{"jira": client}, Config{})
	p.tick(context.Background())

	if len(client.polled) != 3 {
		t.Fatalf("Expected all 3 connections polled, got %d", len(client.polled))
	}
	if client.polled[0] != "never" || client.polled[1] != "old" || client.polled[2] != "recent" {
		t.Errorf("Unexpected poll order: %v", client.polled)
	}
}

func TestTick_ListingErrorRecordedWithoutCursorAdvance(t *testing.T) {
	f := newPollerFixture(t)
	connID := f.addConnection(t, "jira", "team-jira")

	client := &scriptedClient{err: errors.New("HTTP 503 from upstream")}
	p := NewPoller(f.conns, f.items, f.resolver, map[string]source.Client{"jira": client}, Config{})
	p.tick(context.Background())

	conn, _ := f.conns.GetConnection(context.Background(), connID)
	if conn.LastSyncedAt != nil {
		t.Error("Cursor must not advance on a failed listing")
	}
	if conn.LastError == "" {
		t.Error("Expected listing error recorded on the connection")
	}
	if conn.Status != database.ConnActive {
		t.Errorf("Transient failure must not invalidate the connection, got %s", conn.Status)
	}
}

func TestTick_AuthErrorInvalidatesConnection(t *testing.T) {
	f := newPollerFixture(t)
	connID := f.addConnection(t, "jira", "team-jira")

	client := &scriptedClient{err: fmt.Errorf("HTTP 401: %w", source.ErrAuth)}
	p := NewPoller(f.conns, f.items, f.resolver, map[string]source.Client{"jira": client}, Config{})
	p.tick(context.Background())

	conn, _ := f.conns.GetConnection(context.Background(), connID)
	if conn.Status != database.ConnInvalid {
		t.Errorf("Expected connection invalidated on auth rejection, got %s", conn.Status)
	}

	// Invalidated connections drop out of later cycles.
	p.tick(context.Background())
	if len(client.polled) != 1 {
		t.Errorf("Expected invalid connection skipped, polled %v", client.polled)
	}
}

func TestTick_MissingClientRecorded(t *testing.T) {
	f := newPollerFixture(t)
	connID := f.addConnection(t, "email", "mailbox")

	p := NewPoller(f.conns, f.items, f.resolver, map[string]source.Client{}, Config{})
	p.tick(context.Background())

	conn, _ := f.conns.GetConnection(context.Background(), connID)
	if conn.LastError == "" {
		t.Error("Expected missing client recorded as connection error")
	}
}

// failingItemStore wraps the real repository and rejects one external key, to
// simulate a partially stored batch.
type failingItemStore struct {
	database.ItemRepository
	failKey string
}

func (s *failingItemStore) UpsertDiscovered(ctx context.Context, item database.Item) (database.UpsertOutcome, error) {
	if item.ExternalKey == s.failKey {
		return database.UpsertUnchanged, errors.New("disk full")
	}
	return s.ItemRepository.UpsertDiscovered(ctx, item)
}

func TestTick_PartialBatchKeepsCursor(t *testing.T) {
	f := newPollerFixture(t)
	connID := f.addConnection(t, "jira", "team-jira")

	client := &scriptedClient{descs: []source.Descriptor{
		{ExternalKey: "ABC-1", Version: "v1"},
		{ExternalKey: "ABC-2", Version: "v1"},
		{ExternalKey: "ABC-3", Version: "v1"},
	}}
	store := &failingItemStore{ItemRepository: f.items, failKey: "ABC-2"}
	p := NewPoller(f.conns, store, f.resolver, map[string]source.Client{"jira": client}, Config{})
	p.tick(context.Background())

	// The good items still land.
	listed, _ := f.items.ListNew(context.Background(), "jira", 10)
	if len(listed) != 2 {
		t.Errorf("Expected 2 stored items despite one failure, got %d", len(listed))
	}

	// But the cursor stays put so ABC-2 reappears next listing.
	conn, _ := f.conns.GetConnection(context.Background(), connID)
	if conn.LastSyncedAt != nil {
		t.Error("Cursor must not advance when part of the batch failed")
	}
	if conn.LastError == "" {
		t.Error("Expected partial failure recorded")
	}
}
