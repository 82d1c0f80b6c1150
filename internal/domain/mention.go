package domain

import (
	"time"

	"github.com/google/uuid"
)

// ResourceTypePost is the only resource type that results in a mention being
// linked to an internal resource.
const ResourceTypePost = "post"

// Resource identifies an internal content entity that a target URL resolves
// to. The zero value means the URL did not resolve to anything.
type Resource struct {
	Type string
	ID   string
}

// SourceMetadata holds the values scraped from a mention's source page.
type SourceMetadata struct {
	Title         string
	SiteTitle     string
	Author        string
	Excerpt       string
	FeaturedImage string
	Favicon       string
}

// Mention is the persisted record of one processed webmention: an assertion
// that Source links to Target, together with verification state and metadata
// scraped from the source page.
type Mention struct {
	// ID is assigned at creation and never changes.
	ID string

	// Source is the URL of the linking page. Part of the identity key.
	Source string

	// Target is the URL of the linked page. Part of the identity key.
	Target string

	// CreatedAt is when the mention was first processed. It is not updated
	// when the same (source, target) pair is re-submitted.
	CreatedAt time.Time

	// Payload is opaque caller-supplied data, replaced on every update.
	Payload map[string]any

	// ResourceID and ResourceType link the mention to an internal resource.
	// They are set only when the target resolved to a post.
	ResourceID   string
	ResourceType string

	// Metadata scraped from the source page, overwritten on each successful
	// metadata fetch.
	SourceTitle         string
	SourceSiteTitle     string
	SourceAuthor        string
	SourceExcerpt       string
	SourceFavicon       string
	SourceFeaturedImage string

	// Verified reports whether the source document was last seen to contain
	// a link to the target. nil means verification was never attempted.
	Verified *bool

	// Deleted marks the mention as removed. Deleted mentions are excluded
	// from lookups and listings.
	Deleted bool
}

// NewMention creates a mention for the given pair with a fresh ID and the
// current time.
func NewMention(source, target string, payload map[string]any) *Mention {
	return &Mention{
		ID:        uuid.NewString(),
		Source:    source,
		Target:    target,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
}

// AttachResource records the resource linkage for a post target. Other
// resource types are ignored.
func (m *Mention) AttachResource(r Resource) {
	if r.Type != ResourceTypePost {
		return
	}
	m.ResourceType = r.Type
	m.ResourceID = r.ID
}

// ApplyMetadata overwrites the scraped source fields.
func (m *Mention) ApplyMetadata(md *SourceMetadata) {
	m.SourceTitle = md.Title
	m.SourceSiteTitle = md.SiteTitle
	m.SourceAuthor = md.Author
	m.SourceExcerpt = md.Excerpt
	m.SourceFavicon = md.Favicon
	m.SourceFeaturedImage = md.FeaturedImage
}

// ReplacePayload swaps the caller-supplied payload.
func (m *Mention) ReplacePayload(payload map[string]any) {
	m.Payload = payload
}

// MarkVerified records the outcome of the verification predicate.
func (m *Mention) MarkVerified(ok bool) {
	m.Verified = &ok
}

// MarkDeleted flags the mention for removal on the next save.
func (m *Mention) MarkDeleted() {
	m.Deleted = true
}
