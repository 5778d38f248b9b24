// Package source defines the contracts between the polling/indexing core and
// the external systems it ingests from, plus one adapter per source type.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jervisd/jervis/app/cfg"
	"github.com/jervisd/jervis/app/database"
)

// ErrAuth marks 401/403 responses. The core reacts by invalidating the
// connection instead of retrying forever.
var ErrAuth = errors.New("authentication rejected")

// ErrNotReady marks content that cannot be fetched yet (e.g. a git mirror
// that has not finished cloning). The item stays in state new.
var ErrNotReady = errors.New("content not ready")

// ErrUnknownAccount marks items whose connection has no loaded definition.
var ErrUnknownAccount = errors.New("unknown account")

// ErrConnectionInvalid marks items whose connection was invalidated (auth
// rejected). Their processing halts until an operator reactivates it.
var ErrConnectionInvalid = errors.New("connection invalid")

// Descriptor is the minimal identity of one changed item as reported by a
// source listing.
type Descriptor struct {
	ExternalKey string // commit hash, issue key, page id, message UID, entry guid
	Version     string // opaque change token
	Title       string
	URL         string
	UpdatedAt   time.Time
}

// Client talks to one kind of external system. Implementations own the wire
// format; the core only sees descriptors and raw content.
type Client interface {
	// ListChanged returns items changed since the given time, or all
	// items when since is nil (first sync). Auth failures wrap ErrAuth.
	ListChanged(ctx context.Context, acct *Account, since *time.Time) ([]Descriptor, error)

	// FetchFull returns the raw content for one descriptor. Auth
	// failures wrap ErrAuth; content that is not available yet wraps
	// ErrNotReady.
	FetchFull(ctx context.Context, acct *Account, desc Descriptor) ([]byte, error)
}

// Account is a resolved connection: database identity plus the credentials
// and settings from its YAML definition.
type Account struct {
	ID         string // connection row id
	Name       string
	SourceType string
	BaseURL    string
	Timeout    time.Duration
	MaxBatch   int
	Username   string
	Token      string
}

// Result is what an adapter produced from one item's raw content.
type Result struct {
	Title string
	Text  string
}

// Adapter supplies the per-source-type behavior the generic indexing engine
// composes: fetch, transform, and task emission policy.
type Adapter interface {
	Type() string

	// FetchContent returns raw content for the item, or (nil, nil) when
	// the content is not ready yet and the item should stay in state new.
	FetchContent(ctx context.Context, item *database.Item, acct *Account) ([]byte, error)

	// Process transforms raw content into indexable text. A failure here
	// is terminal for the item.
	Process(ctx context.Context, item *database.Item, raw []byte) (Result, error)

	ShouldCreateTask(item *database.Item, res Result) bool
	TaskType() string
}

// Resolver maps an item's connection id to a full Account, joining the
// database row with the YAML definition that holds credentials.
type Resolver struct {
	cache *cfg.ConnCache
	conns database.ConnectionRepository
}

func NewResolver(cache *cfg.ConnCache, conns database.ConnectionRepository) *Resolver {
	return &Resolver{cache: cache, conns: conns}
}

func (r *Resolver) Resolve(ctx context.Context, connectionID string) (*Account, error) {
	conn, err := r.conns.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection %s: %w", connectionID, err)
	}
	if conn == nil {
		return nil, fmt.Errorf("connection %s: %w", connectionID, ErrUnknownAccount)
	}
	if conn.Status == database.ConnInvalid {
		return nil, fmt.Errorf("connection %s: %w", conn.Name, ErrConnectionInvalid)
	}

	def, err := r.cache.GetConn(conn.Name)
	if err != nil {
		return nil, fmt.Errorf("connection %s has no definition: %w", conn.Name, ErrUnknownAccount)
	}

	return &Account{
		ID:         conn.ID,
		Name:       conn.Name,
		SourceType: conn.SourceType,
		BaseURL:    conn.BaseURL,
		Timeout:    time.Duration(def.Settings.Timeout) * time.Second,
		MaxBatch:   def.Settings.MaxBatch,
		Username:   def.Credentials.Username,
		Token:      def.Credentials.Token(),
	}, nil
}

// descriptorOf rebuilds the descriptor for a stored item, for FetchFull.
func descriptorOf(item *database.Item) Descriptor {
	return Descriptor{
		ExternalKey: item.ExternalKey,
		Version:     item.Version,
		Title:       item.Title,
		URL:         item.ExternalURL,
	}
}
