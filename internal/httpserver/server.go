package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/blackmichael/webmentions/internal/config"
	"github.com/blackmichael/webmentions/internal/domain"
)

// Server is the HTTP server that receives webmentions and serves the
// mention listing API.
type Server struct {
	cfg        *config.Config
	mentions   *domain.Service
	stream     http.HandlerFunc
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new HTTP server. stream may be nil when no live event
// stream is wired.
func NewServer(cfg *config.Config, mentions *domain.Service, stream http.HandlerFunc, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		mentions: mentions,
		stream:   stream,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webmention", s.handleReceive)
	mux.HandleFunc("GET /mentions", s.handleList)
	mux.HandleFunc("GET /health", s.handleHealth)
	if stream != nil {
		mux.HandleFunc("GET /mentions/stream", stream)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      withLogging(logger, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReceive accepts a form-encoded webmention. source and target are
// required absolute URLs; any remaining form fields become the mention
// payload.
func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "request body must be form-encoded")
		return
	}

	source := r.PostForm.Get("source")
	target := r.PostForm.Get("target")
	if !isAbsoluteURL(source) || !isAbsoluteURL(target) {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "source and target must be absolute http(s) URLs")
		return
	}

	payload := make(map[string]any)
	for key, values := range r.PostForm {
		if key == "source" || key == "target" || len(values) == 0 {
			continue
		}
		payload[key] = values[0]
	}

	mention, err := s.mentions.ProcessWebmention(r.Context(), source, target, payload)
	switch {
	case errors.Is(err, domain.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, "InvalidTarget", err.Error())
		return
	case errors.Is(err, domain.ErrSourceUnreachable):
		writeError(w, http.StatusBadGateway, "SourceUnreachable", err.Error())
		return
	case err != nil:
		s.logger.Error("webmention processing failed",
			"source", source, "target", target, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to process webmention")
		return
	}

	writeJSON(w, http.StatusOK, toMentionResponse(mention))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	page, err := s.mentions.ListMentions(r.Context(), opts)
	if err != nil {
		s.logger.Error("mention listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to list mentions")
		return
	}

	data := make([]map[string]any, len(page.Data))
	for i := range page.Data {
		data[i] = toMentionResponse(&page.Data[i])
	}

	var limit any = page.Meta.Limit
	if opts.Pagination.Unbounded() {
		limit = "all"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": data,
		"meta": map[string]any{
			"pagination": map[string]any{
				"page":  page.Meta.Page,
				"pages": page.Meta.Pages,
				"limit": limit,
				"total": page.Meta.Total,
				"prev":  page.Meta.Prev,
				"next":  page.Meta.Next,
			},
		},
	})
}

func parseListOptions(q url.Values) (domain.ListOptions, error) {
	opts := domain.ListOptions{
		Order:      domain.DefaultOrder,
		Pagination: domain.AllMentions(),
	}

	if l := q.Get("limit"); l != "" && l != "all" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 {
			return opts, fmt.Errorf("limit must be a positive integer or 'all'")
		}

		page := 1
		if p := q.Get("page"); p != "" {
			page, err = strconv.Atoi(p)
			if err != nil || page < 1 {
				return opts, fmt.Errorf("page must be a positive integer")
			}
		}
		opts.Pagination = domain.PageOf(page, limit)
	}

	if o := q.Get("order"); o != "" {
		order, err := parseOrder(o)
		if err != nil {
			return opts, err
		}
		opts.Order = order
	}

	opts.Filter.SourceHost = q.Get("source_host")
	opts.Filter.Source = q.Get("source")
	opts.Filter.Target = q.Get("target")
	if v := q.Get("verified"); v != "" {
		verified, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("verified must be true or false")
		}
		opts.Filter.Verified = &verified
	}

	return opts, nil
}

// parseOrder parses "field" or "field asc|desc".
func parseOrder(raw string) (domain.Order, error) {
	parts := strings.Fields(raw)

	var order domain.Order
	if len(parts) == 0 {
		return order, fmt.Errorf("order must be 'field' or 'field asc|desc'")
	}
	switch domain.OrderField(parts[0]) {
	case domain.OrderCreatedAt, domain.OrderSource, domain.OrderTarget:
		order.Field = domain.OrderField(parts[0])
	default:
		return order, fmt.Errorf("unknown order field %q", parts[0])
	}

	switch {
	case len(parts) == 1:
	case len(parts) == 2 && parts[1] == "asc":
	case len(parts) == 2 && parts[1] == "desc":
		order.Desc = true
	default:
		return order, fmt.Errorf("order must be 'field' or 'field asc|desc'")
	}

	return order, nil
}

func toMentionResponse(m *domain.Mention) map[string]any {
	resp := map[string]any{
		"id":         m.ID,
		"source":     m.Source,
		"target":     m.Target,
		"created_at": m.CreatedAt,
		"payload":    m.Payload,
		"verified":   m.Verified,
		"deleted":    m.Deleted,
		"source_metadata": map[string]string{
			"title":          m.SourceTitle,
			"site_title":     m.SourceSiteTitle,
			"author":         m.SourceAuthor,
			"excerpt":        m.SourceExcerpt,
			"favicon":        m.SourceFavicon,
			"featured_image": m.SourceFeaturedImage,
		},
	}
	if m.ResourceType != "" {
		resp["resource"] = map[string]string{
			"type": m.ResourceType,
			"id":   m.ResourceID,
		}
	}
	return resp
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the stream endpoint upgrade connections through the logging
// middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
