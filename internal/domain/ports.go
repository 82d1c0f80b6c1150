package domain

import (
	"context"
	"time"
)

// MentionRepository defines persistence operations for mentions.
type MentionRepository interface {
	// GetBySourceAndTarget looks up the non-deleted mention for the exact
	// (source, target) pair. Returns (nil, nil) when none exists.
	GetBySourceAndTarget(ctx context.Context, source, target string) (*Mention, error)

	// GetPage retrieves a filtered, ordered page of non-deleted mentions.
	GetPage(ctx context.Context, opts ListOptions) (*Page, error)

	// Save upserts a mention by ID. A mention with Deleted set is persisted
	// as a removal and stops appearing in lookups and listings.
	Save(ctx context.Context, m *Mention) error
}

// TombstonePurger removes deleted mentions that have been tombstoned for
// longer than the given age. Returns the number of rows removed.
type TombstonePurger interface {
	PurgeDeleted(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Router answers whether a URL resolves to a page on this site.
type Router interface {
	PageExists(ctx context.Context, url string) (bool, error)
}

// ResourceResolver maps a URL to an internal content resource. The zero
// Resource means the URL does not correspond to any resource.
type ResourceResolver interface {
	ResolveURL(ctx context.Context, url string) (Resource, error)
}

// MetadataFetcher scrapes a source page for mention metadata. It fails when
// the page cannot be fetched or parsed.
type MetadataFetcher interface {
	Fetch(ctx context.Context, url string) (*SourceMetadata, error)
}

// RequestOptions controls a single transport fetch.
type RequestOptions struct {
	// MaxRedirects caps how many redirects are followed.
	MaxRedirects int

	// AllowErrorStatus makes the transport return the body of error-status
	// responses instead of failing.
	AllowErrorStatus bool
}

// Document is a fetched source page.
type Document struct {
	Body string
}

// Transport fetches raw documents over the network. Timeout and retry policy
// live here, not in the orchestrator.
type Transport interface {
	Request(ctx context.Context, url string, opts RequestOptions) (*Document, error)
}

// Mention event kinds reported to the notifier.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// MentionNotifier observes processed mentions, e.g. to fan them out to a
// live event stream. Implementations must not block.
type MentionNotifier interface {
	MentionProcessed(ctx context.Context, event string, m *Mention)
}
