package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrInvalidTarget is returned when a webmention names a target that is not a
// page on this site and no prior mention exists for the pair.
var ErrInvalidTarget = errors.New("target is not a page on this site")

// ErrSourceUnreachable is returned when the source page cannot be scraped and
// no prior mention exists for the pair.
var ErrSourceUnreachable = errors.New("source page could not be scraped")

const defaultMaxRedirects = 10

// Collaborators are the external services the mention service depends on.
// Notifier is optional; everything else is required.
type Collaborators struct {
	Repository MentionRepository
	Router     Router
	Resources  ResourceResolver
	Metadata   MetadataFetcher
	Transport  Transport
	Notifier   MentionNotifier
}

// Service is the core domain service. It owns the webmention processing
// state machine and the listing contract.
type Service struct {
	repo      MentionRepository
	router    Router
	resources ResourceResolver
	metadata  MetadataFetcher
	transport Transport
	notifier  MentionNotifier
	logger    *slog.Logger

	maxRedirects int

	// locks serializes processing per (source, target) pair so two
	// concurrent submissions cannot both create the same identity.
	mu    sync.Mutex
	locks map[string]*pairLock
}

type pairLock struct {
	sync.Mutex
	refs int
}

// NewService creates a mention service with the given collaborators.
func NewService(c Collaborators, logger *slog.Logger) (*Service, error) {
	switch {
	case c.Repository == nil:
		return nil, fmt.Errorf("mention service: repository is required")
	case c.Router == nil:
		return nil, fmt.Errorf("mention service: router is required")
	case c.Resources == nil:
		return nil, fmt.Errorf("mention service: resource resolver is required")
	case c.Metadata == nil:
		return nil, fmt.Errorf("mention service: metadata fetcher is required")
	case c.Transport == nil:
		return nil, fmt.Errorf("mention service: transport is required")
	}

	return &Service{
		repo:         c.Repository,
		router:       c.Router,
		resources:    c.Resources,
		metadata:     c.Metadata,
		transport:    c.Transport,
		notifier:     c.Notifier,
		logger:       logger,
		maxRedirects: defaultMaxRedirects,
		locks:        make(map[string]*pairLock),
	}, nil
}

// ProcessWebmention validates and enriches one webmention and persists the
// outcome. Given a (source, target) pair and caller-supplied payload it
// either creates a mention, updates the existing one, or deletes the
// existing one when the target or source has since broken.
//
// Only two failures reach the caller, both on the no-prior-mention path:
// ErrInvalidTarget when the target is not a page here, and
// ErrSourceUnreachable when the source cannot be scraped. Once a mention
// already exists, those conditions soft-fail into deletion instead.
// Verification failures never fail the call; they are logged and leave the
// verified flag untouched.
func (s *Service) ProcessWebmention(ctx context.Context, source, target string, payload map[string]any) (*Mention, error) {
	unlock := s.lockPair(source + "\x00" + target)
	defer unlock()

	existing, err := s.repo.GetBySourceAndTarget(ctx, source, target)
	if err != nil {
		return nil, fmt.Errorf("look up mention: %w", err)
	}
	if existing != nil {
		existing.ReplacePayload(payload)
	}

	exists, err := s.router.PageExists(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("check target page: %w", err)
	}
	if !exists {
		if existing == nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidTarget, target)
		}
		// The target went away after the mention was created. Delete it,
		// but keep going so the remaining steps stay observable.
		existing.MarkDeleted()
	}

	resource, err := s.resources.ResolveURL(ctx, target)
	if err != nil {
		s.logger.Warn("resource lookup failed", "target", target, "error", err)
		resource = Resource{}
	}

	meta, err := s.metadata.Fetch(ctx, source)
	if err != nil {
		if existing == nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
		}
		// A source that can no longer be scraped is no longer a valid
		// mention.
		s.logger.Info("source no longer scrapeable, deleting mention",
			"source", source, "target", target, "error", err)
		existing.MarkDeleted()
		meta = nil
	}

	verified, verifyErr := s.verifySource(ctx, source, target)
	if verifyErr != nil {
		s.logger.Warn("verification fetch failed",
			"source", source, "target", target, "error", verifyErr)
	}

	m := existing
	event := EventUpdated
	if m == nil {
		m = NewMention(source, target, payload)
		m.AttachResource(resource)
		event = EventCreated
	} else if m.Deleted {
		event = EventDeleted
	}
	if meta != nil {
		m.ApplyMetadata(meta)
	}
	if verifyErr == nil {
		m.MarkVerified(verified)
	}

	if err := s.repo.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("save mention: %w", err)
	}

	if s.notifier != nil {
		s.notifier.MentionProcessed(ctx, event, m)
	}

	return m, nil
}

// ListMentions retrieves mentions according to the filter, order, and
// pagination in opts. Deleted mentions are never returned.
func (s *Service) ListMentions(ctx context.Context, opts ListOptions) (*Page, error) {
	page, err := s.repo.GetPage(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list mentions: %w", err)
	}
	return page, nil
}

// StartPurgeJob runs a background loop that removes tombstoned mentions
// older than maxAge. It runs immediately on start and then repeats at the
// given interval. It blocks until ctx is cancelled.
func (s *Service) StartPurgeJob(ctx context.Context, purger TombstonePurger, interval, maxAge time.Duration) {
	s.runPurge(ctx, purger, maxAge)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runPurge(ctx, purger, maxAge)
		}
	}
}

func (s *Service) runPurge(ctx context.Context, purger TombstonePurger, maxAge time.Duration) {
	purged, err := purger.PurgeDeleted(ctx, maxAge)
	if err != nil {
		s.logger.Error("tombstone purge failed", "error", err)
	} else if purged > 0 {
		s.logger.Info("tombstone purge complete", "purged", purged)
	}
}

// verifySource fetches the source document and runs the verification
// predicate against it. The fetch tolerates error statuses so a page served
// with an odd status can still be inspected.
func (s *Service) verifySource(ctx context.Context, source, target string) (bool, error) {
	doc, err := s.transport.Request(ctx, source, RequestOptions{
		MaxRedirects:     s.maxRedirects,
		AllowErrorStatus: true,
	})
	if err != nil {
		return false, fmt.Errorf("fetch source document: %w", err)
	}
	return VerifyTargetInSource(doc, target), nil
}

// lockPair acquires the mutex for one (source, target) identity and returns
// the release func. Locks are reference counted so the map does not grow
// with every pair ever seen.
func (s *Service) lockPair(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &pairLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}
