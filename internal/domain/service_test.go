package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
)

// stubRepo is an in-memory MentionRepository that mimics the tombstone
// semantics of the real one: deleted mentions stay stored but disappear from
// lookups and listings.
type stubRepo struct {
	mu       sync.Mutex
	mentions []*Mention
	saves    int
}

func (r *stubRepo) GetBySourceAndTarget(_ context.Context, source, target string) (*Mention, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mentions {
		if m.Source == source && m.Target == target && !m.Deleted {
			copied := *m
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) GetPage(_ context.Context, opts ListOptions) (*Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var data []Mention
	for _, m := range r.mentions {
		if !m.Deleted {
			data = append(data, *m)
		}
	}
	return &Page{Data: data, Meta: NewPageMeta(len(data), opts.Pagination)}, nil
}

func (r *stubRepo) Save(_ context.Context, m *Mention) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	copied := *m
	for i, existing := range r.mentions {
		if existing.ID == m.ID {
			r.mentions[i] = &copied
			return nil
		}
	}
	r.mentions = append(r.mentions, &copied)
	return nil
}

type stubRouter struct {
	exists bool
	err    error
}

func (r *stubRouter) PageExists(context.Context, string) (bool, error) {
	return r.exists, r.err
}

type stubResolver struct {
	resource Resource
	err      error
}

func (r *stubResolver) ResolveURL(context.Context, string) (Resource, error) {
	return r.resource, r.err
}

type stubMetadata struct {
	meta *SourceMetadata
	err  error
}

func (f *stubMetadata) Fetch(context.Context, string) (*SourceMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	copied := *f.meta
	return &copied, nil
}

type stubTransport struct {
	doc *Document
	err error
}

func (t *stubTransport) Request(context.Context, string, RequestOptions) (*Document, error) {
	return t.doc, t.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) MentionProcessed(_ context.Context, event string, _ *Mention) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

const (
	testSource = "https://blog.example/links-to-us"
	testTarget = "https://site.example/posts/hello"
)

type fixture struct {
	repo      *stubRepo
	router    *stubRouter
	resolver  *stubResolver
	metadata  *stubMetadata
	transport *stubTransport
	notifier  *recordingNotifier
}

func newFixture() *fixture {
	return &fixture{
		repo:     &stubRepo{},
		router:   &stubRouter{exists: true},
		resolver: &stubResolver{resource: Resource{Type: ResourceTypePost, ID: "post-1"}},
		metadata: &stubMetadata{meta: &SourceMetadata{
			Title:     "A linking post",
			SiteTitle: "Blog",
			Author:    "Jo",
			Excerpt:   "an excerpt",
		}},
		transport: &stubTransport{doc: &Document{
			Body: fmt.Sprintf(`<html><body><a href=%q>hi</a></body></html>`, testTarget),
		}},
		notifier: &recordingNotifier{},
	}
}

func (f *fixture) service(t *testing.T) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewService(Collaborators{
		Repository: f.repo,
		Router:     f.router,
		Resources:  f.resolver,
		Metadata:   f.metadata,
		Transport:  f.transport,
		Notifier:   f.notifier,
	}, logger)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return s
}

func TestProcessWebmention_CreatesAndLists(t *testing.T) {
	f := newFixture()
	s := f.service(t)
	ctx := context.Background()

	m, err := s.ProcessWebmention(ctx, testSource, testTarget, map[string]any{"via": "test"})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if m.ID == "" {
		t.Fatal("expected an assigned id")
	}
	if m.SourceTitle != "A linking post" || m.SourceAuthor != "Jo" {
		t.Fatalf("expected scraped metadata applied, got %+v", m)
	}
	if m.Verified == nil || !*m.Verified {
		t.Fatalf("expected verified true, got %v", m.Verified)
	}
	if m.ResourceType != ResourceTypePost || m.ResourceID != "post-1" {
		t.Fatalf("expected post resource linkage, got type=%q id=%q", m.ResourceType, m.ResourceID)
	}
	if f.repo.saves != 1 {
		t.Fatalf("expected exactly one repository write, got %d", f.repo.saves)
	}

	page, err := s.ListMentions(ctx, ListOptions{Pagination: AllMentions()})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Data) != 1 || page.Data[0].ID != m.ID {
		t.Fatalf("expected listing to return the created mention, got %+v", page.Data)
	}
	if page.Meta.Total != 1 {
		t.Fatalf("expected total 1, got %d", page.Meta.Total)
	}
}

func TestProcessWebmention_ResubmitUpdatesSameMention(t *testing.T) {
	f := newFixture()
	s := f.service(t)
	ctx := context.Background()

	first, err := s.ProcessWebmention(ctx, testSource, testTarget, map[string]any{"n": "1"})
	if err != nil {
		t.Fatalf("first process: %v", err)
	}
	second, err := s.ProcessWebmention(ctx, testSource, testTarget, map[string]any{"n": "2"})
	if err != nil {
		t.Fatalf("second process: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected same mention id, got %s and %s", first.ID, second.ID)
	}
	if second.Payload["n"] != "2" {
		t.Fatalf("expected payload replaced, got %v", second.Payload)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("expected creation time to stay immutable on re-processing")
	}

	page, _ := s.ListMentions(ctx, ListOptions{})
	if page.Meta.Total != 1 {
		t.Fatalf("expected total to stay 1, got %d", page.Meta.Total)
	}
}

func TestProcessWebmention_InvalidTargetNewMention(t *testing.T) {
	f := newFixture()
	f.router.exists = false
	s := f.service(t)

	_, err := s.ProcessWebmention(context.Background(), testSource, testTarget, nil)
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
	if f.repo.saves != 0 {
		t.Fatal("expected no repository write on rejection")
	}
}

func TestProcessWebmention_TargetDisappearsDeletesMention(t *testing.T) {
	f := newFixture()
	s := f.service(t)
	ctx := context.Background()

	if _, err := s.ProcessWebmention(ctx, testSource, testTarget, nil); err != nil {
		t.Fatalf("first process: %v", err)
	}

	f.router.exists = false
	m, err := s.ProcessWebmention(ctx, testSource, testTarget, nil)
	if err != nil {
		t.Fatalf("second process should soft-fail into deletion, got %v", err)
	}
	if !m.Deleted {
		t.Fatal("expected mention marked deleted")
	}

	page, _ := s.ListMentions(ctx, ListOptions{})
	if page.Meta.Total != 0 {
		t.Fatalf("expected zero non-deleted mentions, got %d", page.Meta.Total)
	}
}

func TestProcessWebmention_MetadataFailureNewMention(t *testing.T) {
	f := newFixture()
	f.metadata.err = errors.New("scrape blew up")
	s := f.service(t)

	_, err := s.ProcessWebmention(context.Background(), testSource, testTarget, nil)
	if !errors.Is(err, ErrSourceUnreachable) {
		t.Fatalf("expected ErrSourceUnreachable, got %v", err)
	}
	if f.repo.saves != 0 {
		t.Fatal("expected no repository write on rejection")
	}
}

func TestProcessWebmention_MetadataFailureDeletesExisting(t *testing.T) {
	f := newFixture()
	s := f.service(t)
	ctx := context.Background()

	if _, err := s.ProcessWebmention(ctx, testSource, testTarget, nil); err != nil {
		t.Fatalf("first process: %v", err)
	}

	f.metadata.err = errors.New("site went away")
	m, err := s.ProcessWebmention(ctx, testSource, testTarget, nil)
	if err != nil {
		t.Fatalf("second process should soft-fail into deletion, got %v", err)
	}
	if !m.Deleted {
		t.Fatal("expected mention marked deleted")
	}

	page, _ := s.ListMentions(ctx, ListOptions{})
	if page.Meta.Total != 0 {
		t.Fatalf("expected zero non-deleted mentions, got %d", page.Meta.Total)
	}
}

func TestProcessWebmention_VerificationFailureIsAbsorbed(t *testing.T) {
	f := newFixture()
	f.transport.doc = nil
	f.transport.err = errors.New("connection refused")
	s := f.service(t)

	m, err := s.ProcessWebmention(context.Background(), testSource, testTarget, nil)
	if err != nil {
		t.Fatalf("verification failure must not fail the call, got %v", err)
	}
	if m.Verified != nil {
		t.Fatalf("expected verified unset after failed fetch, got %v", *m.Verified)
	}
}

func TestProcessWebmention_VerificationRecomputedEachPass(t *testing.T) {
	f := newFixture()
	s := f.service(t)
	ctx := context.Background()

	m, err := s.ProcessWebmention(ctx, testSource, testTarget, nil)
	if err != nil {
		t.Fatalf("first process: %v", err)
	}
	if m.Verified == nil || !*m.Verified {
		t.Fatal("expected verified true on first pass")
	}

	// The source dropped the link but is still reachable.
	f.transport.doc = &Document{Body: `<a href="https://elsewhere.example/">other</a>`}
	m, err = s.ProcessWebmention(ctx, testSource, testTarget, nil)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if m.Verified == nil || *m.Verified {
		t.Fatalf("expected verified recomputed to false, got %v", m.Verified)
	}
}

func TestProcessWebmention_NonPostResourceHasNoLinkage(t *testing.T) {
	f := newFixture()
	f.resolver.resource = Resource{Type: "page", ID: "about"}
	s := f.service(t)
	ctx := context.Background()

	m, err := s.ProcessWebmention(ctx, testSource, testTarget, nil)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if m.ResourceType != "" || m.ResourceID != "" {
		t.Fatalf("expected no resource linkage for non-post type, got type=%q id=%q", m.ResourceType, m.ResourceID)
	}

	// The mention is still created and listed.
	page, _ := s.ListMentions(ctx, ListOptions{})
	if page.Meta.Total != 1 {
		t.Fatalf("expected mention listed, got total %d", page.Meta.Total)
	}
}

func TestProcessWebmention_ResolverErrorDoesNotBlock(t *testing.T) {
	f := newFixture()
	f.resolver.err = errors.New("resource lookup down")
	s := f.service(t)

	m, err := s.ProcessWebmention(context.Background(), testSource, testTarget, nil)
	if err != nil {
		t.Fatalf("resolver failure must not block processing, got %v", err)
	}
	if m.ResourceType != "" {
		t.Fatal("expected no resource linkage after resolver failure")
	}
}

func TestProcessWebmention_NotifierObservesLifecycle(t *testing.T) {
	f := newFixture()
	s := f.service(t)
	ctx := context.Background()

	s.ProcessWebmention(ctx, testSource, testTarget, nil)
	s.ProcessWebmention(ctx, testSource, testTarget, nil)
	f.router.exists = false
	s.ProcessWebmention(ctx, testSource, testTarget, nil)

	want := []string{EventCreated, EventUpdated, EventDeleted}
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.events) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), f.notifier.events)
	}
	for i, e := range want {
		if f.notifier.events[i] != e {
			t.Fatalf("event %d: got %s, want %s", i, f.notifier.events[i], e)
		}
	}
}

func TestProcessWebmention_ConcurrentSamePairCreatesOnce(t *testing.T) {
	f := newFixture()
	s := f.service(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ProcessWebmention(ctx, testSource, testTarget, nil); err != nil {
				t.Errorf("process: %v", err)
			}
		}()
	}
	wg.Wait()

	page, _ := s.ListMentions(ctx, ListOptions{})
	if page.Meta.Total != 1 {
		t.Fatalf("expected a single mention for the pair, got %d", page.Meta.Total)
	}
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := newFixture()

	_, err := NewService(Collaborators{
		Router:    f.router,
		Resources: f.resolver,
		Metadata:  f.metadata,
		Transport: f.transport,
	}, logger)
	if err == nil {
		t.Fatal("expected error for missing repository")
	}
}
