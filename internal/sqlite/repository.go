package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/blackmichael/webmentions/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS mentions (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	source_host TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	resource_id TEXT NOT NULL DEFAULT '',
	resource_type TEXT NOT NULL DEFAULT '',
	source_title TEXT NOT NULL DEFAULT '',
	source_site_title TEXT NOT NULL DEFAULT '',
	source_author TEXT NOT NULL DEFAULT '',
	source_excerpt TEXT NOT NULL DEFAULT '',
	source_favicon TEXT NOT NULL DEFAULT '',
	source_featured_image TEXT NOT NULL DEFAULT '',
	verified INTEGER,
	deleted INTEGER NOT NULL DEFAULT 0,
	deleted_at TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS mentions_identity
	ON mentions (source, target) WHERE deleted = 0;

CREATE INDEX IF NOT EXISTS mentions_created_at ON mentions (created_at);

CREATE TABLE IF NOT EXISTS resources (
	url TEXT PRIMARY KEY,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL
);
`

const mentionColumns = `id, source, target, created_at, payload,
	resource_id, resource_type,
	source_title, source_site_title, source_author, source_excerpt,
	source_favicon, source_featured_image,
	verified, deleted`

// Repository implements domain.MentionRepository and the site resource store
// using SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository opens the SQLite database at path, verifies the connection,
// and applies the schema. The caller should call Close when the repository
// is no longer needed.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps in-memory databases coherent and sidesteps
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// GetBySourceAndTarget looks up the non-deleted mention for the exact pair.
func (r *Repository) GetBySourceAndTarget(ctx context.Context, source, target string) (*domain.Mention, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+mentionColumns+`
		FROM mentions
		WHERE source = ? AND target = ? AND deleted = 0`,
		source, target,
	)

	m, err := scanMention(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan mention: %w", err)
	}
	return m, nil
}

// Save upserts a mention by ID. Deletions are persisted as tombstones so a
// later purge can remove them for good.
func (r *Repository) Save(ctx context.Context, m *domain.Mention) error {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	var deletedAt any
	if m.Deleted {
		deletedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO mentions (
			id, source, target, source_host, created_at, payload,
			resource_id, resource_type,
			source_title, source_site_title, source_author, source_excerpt,
			source_favicon, source_featured_image,
			verified, deleted, deleted_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			payload = excluded.payload,
			source_title = excluded.source_title,
			source_site_title = excluded.source_site_title,
			source_author = excluded.source_author,
			source_excerpt = excluded.source_excerpt,
			source_favicon = excluded.source_favicon,
			source_featured_image = excluded.source_featured_image,
			verified = excluded.verified,
			deleted = excluded.deleted,
			deleted_at = excluded.deleted_at`,
		m.ID, m.Source, m.Target, hostOf(m.Source), m.CreatedAt, string(payload),
		m.ResourceID, m.ResourceType,
		m.SourceTitle, m.SourceSiteTitle, m.SourceAuthor, m.SourceExcerpt,
		m.SourceFavicon, m.SourceFeaturedImage,
		m.Verified, boolToInt(m.Deleted), deletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert mention: %w", err)
	}
	return nil
}

// GetPage retrieves a filtered, ordered page of non-deleted mentions along
// with pagination metadata.
func (r *Repository) GetPage(ctx context.Context, opts domain.ListOptions) (*domain.Page, error) {
	where, args := buildFilter(opts.Filter)

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mentions `+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count mentions: %w", err)
	}

	query := `SELECT ` + mentionColumns + ` FROM mentions ` + where + orderClause(opts.Order)
	if !opts.Pagination.Unbounded() {
		limit := opts.Pagination.Limit()
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, (opts.Pagination.Page()-1)*limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mentions: %w", err)
	}
	defer rows.Close()

	data := make([]domain.Mention, 0)
	for rows.Next() {
		m, err := scanMention(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		data = append(data, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mentions: %w", err)
	}

	return &domain.Page{
		Data: data,
		Meta: domain.NewPageMeta(total, opts.Pagination),
	}, nil
}

// PurgeDeleted removes tombstoned mentions older than the given age.
// Returns the number of rows removed.
func (r *Repository) PurgeDeleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM mentions WHERE deleted = 1 AND deleted_at < ?`,
		time.Now().UTC().Add(-olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("purge tombstones: %w", err)
	}
	return res.RowsAffected()
}

// CreateResource registers a site URL as an internal resource.
func (r *Repository) CreateResource(ctx context.Context, rawURL, resourceType, resourceID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO resources (url, resource_type, resource_id)
		VALUES (?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			resource_type = excluded.resource_type,
			resource_id = excluded.resource_id`,
		rawURL, resourceType, resourceID,
	)
	if err != nil {
		return fmt.Errorf("upsert resource: %w", err)
	}
	return nil
}

// GetResourceByURL resolves a URL to a registered resource. The second
// return value reports whether a resource was found.
func (r *Repository) GetResourceByURL(ctx context.Context, rawURL string) (domain.Resource, bool, error) {
	var res domain.Resource
	err := r.db.QueryRowContext(ctx,
		`SELECT resource_type, resource_id FROM resources WHERE url = ?`,
		rawURL,
	).Scan(&res.Type, &res.ID)
	if err == sql.ErrNoRows {
		return domain.Resource{}, false, nil
	}
	if err != nil {
		return domain.Resource{}, false, fmt.Errorf("query resource: %w", err)
	}
	return res, true, nil
}

func buildFilter(f domain.Filter) (string, []any) {
	clauses := []string{"deleted = 0"}
	var args []any

	if f.SourceHost != "" {
		clauses = append(clauses, "source_host = ?")
		args = append(args, f.SourceHost)
	}
	if f.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, f.Source)
	}
	if f.Target != "" {
		clauses = append(clauses, "target = ?")
		args = append(args, f.Target)
	}
	if f.Verified != nil {
		clauses = append(clauses, "verified = ?")
		args = append(args, boolToInt(*f.Verified))
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

func orderClause(o domain.Order) string {
	field := string(o.Field)
	switch domain.OrderField(field) {
	case domain.OrderCreatedAt, domain.OrderSource, domain.OrderTarget:
	default:
		field = string(domain.DefaultOrder.Field)
		o.Desc = domain.DefaultOrder.Desc
	}

	dir := "ASC"
	if o.Desc {
		dir = "DESC"
	}
	// rowid tie-break keeps equal keys in insertion order.
	return fmt.Sprintf(" ORDER BY %s %s, rowid %s", field, dir, dir)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMention(row rowScanner) (*domain.Mention, error) {
	var (
		m        domain.Mention
		payload  string
		verified sql.NullBool
		deleted  int
	)
	err := row.Scan(
		&m.ID, &m.Source, &m.Target, &m.CreatedAt, &payload,
		&m.ResourceID, &m.ResourceType,
		&m.SourceTitle, &m.SourceSiteTitle, &m.SourceAuthor, &m.SourceExcerpt,
		&m.SourceFavicon, &m.SourceFeaturedImage,
		&verified, &deleted,
	)
	if err != nil {
		return nil, err
	}

	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &m.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	if verified.Valid {
		m.Verified = &verified.Bool
	}
	m.Deleted = deleted != 0

	return &m, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
