package site

import (
	"context"
	"errors"
	"testing"

	"github.com/blackmichael/webmentions/internal/domain"
)

type stubStore struct {
	resources map[string]domain.Resource
	err       error
}

func (s *stubStore) GetResourceByURL(_ context.Context, url string) (domain.Resource, bool, error) {
	if s.err != nil {
		return domain.Resource{}, false, s.err
	}
	res, ok := s.resources[url]
	return res, ok, nil
}

func TestPageExists(t *testing.T) {
	store := &stubStore{resources: map[string]domain.Resource{
		"https://site.example/posts/hello": {Type: domain.ResourceTypePost, ID: "post-1"},
	}}
	r := NewResolver("site.example", store)
	ctx := context.Background()

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{name: "registered page", url: "https://site.example/posts/hello", want: true},
		{name: "unregistered path", url: "https://site.example/nope", want: false},
		{name: "off-site host", url: "https://other.example/posts/hello", want: false},
		{name: "unparseable", url: "://not a url", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.PageExists(ctx, tt.url)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("PageExists(%s): got %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestPageExists_HostComparisonIsCaseInsensitive(t *testing.T) {
	store := &stubStore{resources: map[string]domain.Resource{
		"https://SITE.example/p": {Type: "page", ID: "p"},
	}}
	r := NewResolver("Site.Example", store)

	got, err := r.PageExists(context.Background(), "https://SITE.example/p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Fatal("expected host match regardless of case")
	}
}

func TestResolveURL(t *testing.T) {
	store := &stubStore{resources: map[string]domain.Resource{
		"https://site.example/posts/hello": {Type: domain.ResourceTypePost, ID: "post-1"},
	}}
	r := NewResolver("site.example", store)
	ctx := context.Background()

	res, err := r.ResolveURL(ctx, "https://site.example/posts/hello")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Type != domain.ResourceTypePost || res.ID != "post-1" {
		t.Fatalf("unexpected resource: %+v", res)
	}

	res, err = r.ResolveURL(ctx, "https://other.example/posts/hello")
	if err != nil {
		t.Fatalf("resolve off-site: %v", err)
	}
	if res != (domain.Resource{}) {
		t.Fatalf("expected zero resource off-site, got %+v", res)
	}
}

func TestStoreErrorsPropagate(t *testing.T) {
	store := &stubStore{err: errors.New("db down")}
	r := NewResolver("site.example", store)

	if _, err := r.PageExists(context.Background(), "https://site.example/p"); err == nil {
		t.Fatal("expected store error to propagate")
	}
	if _, err := r.ResolveURL(context.Background(), "https://site.example/p"); err == nil {
		t.Fatal("expected store error to propagate")
	}
}
