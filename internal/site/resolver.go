// Package site answers questions about this site's own pages: whether a URL
// resolves to a page here, and which internal resource it corresponds to.
package site

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/blackmichael/webmentions/internal/domain"
)

// ResourceStore is the lookup surface the resolver needs from persistence.
type ResourceStore interface {
	GetResourceByURL(ctx context.Context, url string) (domain.Resource, bool, error)
}

// Resolver implements domain.Router and domain.ResourceResolver against the
// resource store for a single configured hostname.
type Resolver struct {
	hostname string
	store    ResourceStore
}

// NewResolver creates a resolver for the given site hostname.
func NewResolver(hostname string, store ResourceStore) *Resolver {
	return &Resolver{
		hostname: strings.ToLower(hostname),
		store:    store,
	}
}

// PageExists reports whether rawURL resolves to a page on this site: the
// host has to match the configured hostname and the URL has to be registered
// as a resource.
func (r *Resolver) PageExists(ctx context.Context, rawURL string) (bool, error) {
	if !r.onSite(rawURL) {
		return false, nil
	}
	_, found, err := r.store.GetResourceByURL(ctx, rawURL)
	if err != nil {
		return false, fmt.Errorf("look up page: %w", err)
	}
	return found, nil
}

// ResolveURL maps rawURL to its internal resource. Off-site and unregistered
// URLs yield the zero resource.
func (r *Resolver) ResolveURL(ctx context.Context, rawURL string) (domain.Resource, error) {
	if !r.onSite(rawURL) {
		return domain.Resource{}, nil
	}
	res, _, err := r.store.GetResourceByURL(ctx, rawURL)
	if err != nil {
		return domain.Resource{}, fmt.Errorf("resolve resource: %w", err)
	}
	return res, nil
}

func (r *Resolver) onSite(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.ToLower(u.Hostname()) == r.hostname
}
