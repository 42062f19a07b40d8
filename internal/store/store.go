package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no spec has the requested id.
var ErrNotFound = errors.New("spec not found")

// Status is the outcome of storing a spec.
type Status string

const (
	StatusCreated Status = "created"
	StatusExists  Status = "exists"
	StatusFailed  Status = "failed"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint.
const uniqueViolation = "23505"

// Spec is one stored conversion. The artifact columns are opaque payloads:
// they are stored and returned verbatim.
type Spec struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Version        string          `json:"version"`
	Provider       string          `json:"provider,omitempty"`
	Description    string          `json:"description,omitempty"`
	Filename       string          `json:"filename"`
	Format         string          `json:"format"`
	ContentHash    string          `json:"content_hash"`
	Original       []byte          `json:"-"`
	Markdown       string          `json:"-"`
	Chunks         json.RawMessage `json:"-"`
	Tools          json.RawMessage `json:"-"`
	Diagnostics    json.RawMessage `json:"diagnostics"`
	TokenCount     int             `json:"token_count"`
	FileSize       int             `json:"file_size"`
	OperationCount int             `json:"operation_count"`
	SchemaCount    int             `json:"schema_count"`
	Tags           []string        `json:"tags"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Summary is the listing view of a spec.
type Summary struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Version        string    `json:"version"`
	Provider       string    `json:"provider,omitempty"`
	Description    string    `json:"description,omitempty"`
	Format         string    `json:"format"`
	TokenCount     int       `json:"token_count"`
	FileSize       int       `json:"file_size"`
	OperationCount int       `json:"operation_count"`
	SchemaCount    int       `json:"schema_count"`
	Tags           []string  `json:"tags"`
	CreatedAt      time.Time `json:"created_at"`
}

// ListQuery selects one page of specs.
type ListQuery struct {
	Page     int    // 1-based
	PageSize int    // capped at MaxPageSize
	Tag      string // exact tag name, case-insensitive
	Q        string // case-insensitive match on name, provider or description
}

// Page is one page of a listing.
type Page struct {
	Items    []Summary `json:"items"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

// TagCount is a tag and how many specs carry it.
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Store reads and writes specs.
type Store struct {
	db *DB
}

func New(db *DB) *Store {
	return &Store{db: db}
}

// ContentHash identifies original content for deduplication.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Create stores s unless a spec with the same content or the same name and
// version exists. The returned id is the new or the existing spec.
func (st *Store) Create(ctx context.Context, s *Spec) (Status, int64, error) {
	if s.ContentHash == "" {
		s.ContentHash = ContentHash(s.Original)
	}
	if id, ok, err := st.existing(ctx, st.db.DB, s); err != nil {
		return StatusFailed, 0, err
	} else if ok {
		return StatusExists, id, nil
	}

	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return StatusFailed, 0, fmt.Errorf("begin: %w", err)
	}
	id, err := insertSpec(ctx, tx, s)
	if err != nil {
		_ = tx.Rollback()
		if isUniqueViolation(err) {
			// Lost a race with a concurrent insert of the same spec.
			if id, ok, lerr := st.existing(ctx, st.db.DB, s); lerr == nil && ok {
				return StatusExists, id, nil
			}
		}
		return StatusFailed, 0, err
	}
	if err := tx.Commit(); err != nil {
		return StatusFailed, 0, fmt.Errorf("commit: %w", err)
	}
	s.ID = id
	return StatusCreated, id, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (st *Store) existing(ctx context.Context, q querier, s *Spec) (int64, bool, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`SELECT id FROM specs WHERE content_hash=$1 OR (name=$2 AND version=$3) ORDER BY id LIMIT 1`,
		s.ContentHash, s.Name, s.Version).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("check existing: %w", err)
	}
	return id, true, nil
}

func insertSpec(ctx context.Context, tx *sql.Tx, s *Spec) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `INSERT INTO specs
		(name, version, provider, description, filename, format, content_hash,
		 original_content, markdown_content, chunks_json, tools_json, diagnostics_json,
		 token_count, file_size, operation_count, schema_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING id, created_at`,
		s.Name, s.Version, s.Provider, s.Description, s.Filename, s.Format, s.ContentHash,
		s.Original, s.Markdown, jsonOr(s.Chunks, "{}"), jsonOr(s.Tools, "[]"), jsonOr(s.Diagnostics, "[]"),
		s.TokenCount, s.FileSize, s.OperationCount, s.SchemaCount,
	).Scan(&id, &s.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert spec: %w", err)
	}

	for _, tag := range normalizeTags(s.Tags) {
		var tagID int64
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO tags(name) VALUES($1) ON CONFLICT (name) DO UPDATE SET name=EXCLUDED.name RETURNING id`,
			tag).Scan(&tagID); err != nil {
			return 0, fmt.Errorf("upsert tag %q: %w", tag, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO spec_tags(spec_id, tag_id) VALUES($1,$2) ON CONFLICT DO NOTHING`,
			id, tagID); err != nil {
			return 0, fmt.Errorf("link tag %q: %w", tag, err)
		}
	}
	return id, nil
}

// Get returns the full spec, artifacts included.
func (st *Store) Get(ctx context.Context, id int64) (*Spec, error) {
	s := &Spec{}
	var chunks, tools, diags []byte
	err := st.db.QueryRowContext(ctx, `SELECT id, name, version, provider, description, filename, format,
		content_hash, original_content, markdown_content, chunks_json, tools_json, diagnostics_json,
		token_count, file_size, operation_count, schema_count, created_at
		FROM specs WHERE id=$1`, id).Scan(
		&s.ID, &s.Name, &s.Version, &s.Provider, &s.Description, &s.Filename, &s.Format,
		&s.ContentHash, &s.Original, &s.Markdown, &chunks, &tools, &diags,
		&s.TokenCount, &s.FileSize, &s.OperationCount, &s.SchemaCount, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get spec %d: %w", id, err)
	}
	s.Chunks, s.Tools, s.Diagnostics = chunks, tools, diags

	s.Tags, err = st.specTags(ctx, id)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (st *Store) specTags(ctx context.Context, id int64) ([]string, error) {
	rows, err := st.db.QueryContext(ctx,
		`SELECT t.name FROM tags t JOIN spec_tags st ON st.tag_id=t.id WHERE st.spec_id=$1 ORDER BY t.name`, id)
	if err != nil {
		return nil, fmt.Errorf("spec tags: %w", err)
	}
	defer rows.Close()
	tags := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tags = append(tags, name)
	}
	return tags, rows.Err()
}

// List returns one page of summaries, newest first.
func (st *Store) List(ctx context.Context, q ListQuery) (*Page, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}

	var where []string
	var args []any
	if q.Tag != "" {
		args = append(args, strings.ToLower(strings.TrimSpace(q.Tag)))
		where = append(where, fmt.Sprintf(`EXISTS (SELECT 1 FROM spec_tags st JOIN tags t ON t.id=st.tag_id WHERE st.spec_id=s.id AND t.name=$%d)`, len(args)))
	}
	if text := strings.TrimSpace(q.Q); text != "" {
		args = append(args, "%"+escapeLike(text)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(`(s.name ILIKE $%d OR s.provider ILIKE $%d OR s.description ILIKE $%d)`, n, n, n))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := &Page{Items: []Summary{}, Page: q.Page, PageSize: q.PageSize}
	if err := st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM specs s`+clause, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("count specs: %w", err)
	}

	args = append(args, q.PageSize, (q.Page-1)*q.PageSize)
	rows, err := st.db.QueryContext(ctx, fmt.Sprintf(`SELECT s.id, s.name, s.version, s.provider, s.description, s.format,
		s.token_count, s.file_size, s.operation_count, s.schema_count, s.created_at,
		COALESCE((SELECT string_agg(t.name, E'\n' ORDER BY t.name) FROM tags t JOIN spec_tags st ON st.tag_id=t.id WHERE st.spec_id=s.id), '')
		FROM specs s%s ORDER BY s.created_at DESC, s.id DESC LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list specs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s Summary
		var tags string
		if err := rows.Scan(&s.ID, &s.Name, &s.Version, &s.Provider, &s.Description, &s.Format,
			&s.TokenCount, &s.FileSize, &s.OperationCount, &s.SchemaCount, &s.CreatedAt, &tags); err != nil {
			return nil, fmt.Errorf("scan spec: %w", err)
		}
		s.Tags = []string{}
		if tags != "" {
			s.Tags = strings.Split(tags, "\n")
		}
		page.Items = append(page.Items, s)
	}
	return page, rows.Err()
}

// Delete removes a spec and its tag links.
func (st *Store) Delete(ctx context.Context, id int64) error {
	res, err := st.db.ExecContext(ctx, `DELETE FROM specs WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete spec %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Tags returns every tag in use with its spec count, most used first.
func (st *Store) Tags(ctx context.Context) ([]TagCount, error) {
	rows, err := st.db.QueryContext(ctx, `SELECT t.name, COUNT(st.spec_id) AS n
		FROM tags t JOIN spec_tags st ON st.tag_id=t.id
		GROUP BY t.name ORDER BY n DESC, t.name`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()
	out := []TagCount{}
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Name, &tc.Count); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

func normalizeTags(tags []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func jsonOr(raw json.RawMessage, empty string) []byte {
	if len(raw) == 0 {
		return []byte(empty)
	}
	return raw
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
