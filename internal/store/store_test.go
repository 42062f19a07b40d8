package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return New(&DB{DB: sqlDB}), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func sampleSpec() *Spec {
	return &Spec{
		Name:     "Pets",
		Version:  "1",
		Filename: "pets.yaml",
		Format:   "yaml",
		Original: []byte("openapi: 3.0.0"),
		Markdown: "# Pets\n",
		Tags:     []string{"Pets", "pets", " ", "animals"},
	}
}

func TestCreate_NewSpec(t *testing.T) {
	st, mock := newMockStore(t)
	s := sampleSpec()
	hash := ContentHash(s.Original)
	now := time.Now()

	mock.ExpectQuery(q(`SELECT id FROM specs WHERE content_hash=$1`)).
		WithArgs(hash, "Pets", "1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectBegin()
	mock.ExpectQuery(q(`INSERT INTO specs`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), now))
	mock.ExpectQuery(q(`INSERT INTO tags(name)`)).WithArgs("pets").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectExec(q(`INSERT INTO spec_tags`)).WithArgs(int64(7), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q(`INSERT INTO tags(name)`)).WithArgs("animals").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectExec(q(`INSERT INTO spec_tags`)).WithArgs(int64(7), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	status, id, err := st.Create(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != StatusCreated || id != 7 {
		t.Errorf("got %s %d, want created 7", status, id)
	}
	if s.ContentHash != hash || !s.CreatedAt.Equal(now) {
		t.Errorf("spec not updated: %+v", s)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreate_ExistingSpec(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(q(`SELECT id FROM specs WHERE content_hash=$1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))

	status, id, err := st.Create(context.Background(), sampleSpec())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != StatusExists || id != 4 {
		t.Errorf("got %s %d, want exists 4", status, id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreate_InsertFails(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(q(`SELECT id FROM specs`)).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectBegin()
	mock.ExpectQuery(q(`INSERT INTO specs`)).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	status, _, err := st.Create(context.Background(), sampleSpec())
	if status != StatusFailed || err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("got %s, %v", status, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreate_ConcurrentDuplicate(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(q(`SELECT id FROM specs`)).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectBegin()
	mock.ExpectQuery(q(`INSERT INTO specs`)).WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})
	mock.ExpectRollback()
	mock.ExpectQuery(q(`SELECT id FROM specs`)).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	status, id, err := st.Create(context.Background(), sampleSpec())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != StatusExists || id != 9 {
		t.Errorf("got %s %d, want exists 9", status, id)
	}
}

func TestGet_NotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(q(`FROM specs WHERE id=$1`)).WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := st.Get(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_WithTags(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()
	cols := []string{"id", "name", "version", "provider", "description", "filename", "format",
		"content_hash", "original_content", "markdown_content", "chunks_json", "tools_json", "diagnostics_json",
		"token_count", "file_size", "operation_count", "schema_count", "created_at"}
	mock.ExpectQuery(q(`FROM specs WHERE id=$1`)).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(1), "Pets", "1", "acme", "Pet API", "pets.yaml", "yaml",
			"abc", []byte("openapi: 3.0.0"), "# Pets\n", []byte(`{"manifest":""}`), []byte(`[]`), []byte(`[]`),
			120, 14, 3, 2, now))
	mock.ExpectQuery(q(`SELECT t.name FROM tags t`)).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("animals").AddRow("pets"))

	s, err := st.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name != "Pets" || s.Markdown != "# Pets\n" || s.TokenCount != 120 || s.OperationCount != 3 {
		t.Errorf("unexpected spec: %+v", s)
	}
	if string(s.Chunks) != `{"manifest":""}` {
		t.Errorf("chunks = %s", s.Chunks)
	}
	if strings.Join(s.Tags, ",") != "animals,pets" {
		t.Errorf("tags = %v", s.Tags)
	}
}

func TestList_FiltersAndCapsPageSize(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(q(`SELECT COUNT(*) FROM specs s WHERE EXISTS`)).
		WithArgs("pets", `%pet\_store%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(q(`ORDER BY s.created_at DESC, s.id DESC LIMIT $3 OFFSET $4`)).
		WithArgs("pets", `%pet\_store%`, MaxPageSize, MaxPageSize).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "version", "provider", "description", "format",
			"token_count", "file_size", "operation_count", "schema_count", "created_at", "tags"}).
			AddRow(int64(1), "Pets", "1", "", "", "yaml", 10, 20, 1, 0, now, "animals\npets"))

	page, err := st.List(context.Background(), ListQuery{Page: 2, PageSize: 500, Tag: "pets", Q: " pet_store "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Total != 1 || page.PageSize != MaxPageSize || page.Page != 2 {
		t.Errorf("unexpected page: %+v", page)
	}
	if len(page.Items) != 1 || strings.Join(page.Items[0].Tags, ",") != "animals,pets" {
		t.Errorf("items = %+v", page.Items)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestList_Defaults(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(q(`SELECT COUNT(*) FROM specs s`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(q(`LIMIT $1 OFFSET $2`)).WithArgs(DefaultPageSize, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	page, err := st.List(context.Background(), ListQuery{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Page != 1 || page.PageSize != DefaultPageSize || len(page.Items) != 0 || page.Items == nil {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestDelete_NotFound(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec(q(`DELETE FROM specs WHERE id=$1`)).WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.Delete(context.Background(), 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTags(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(q(`GROUP BY t.name`)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "n"}).AddRow("pets", 3).AddRow("animals", 1))

	tags, err := st.Tags(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tags) != 2 || tags[0].Name != "pets" || tags[0].Count != 3 {
		t.Errorf("tags = %+v", tags)
	}
}

func TestMigrate_AppliesPending(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()
	db := &DB{DB: sqlDB}

	mock.ExpectExec(q(`CREATE TABLE IF NOT EXISTS schema_migrations`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`)).
		WithArgs("001_init.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(q(`CREATE TABLE IF NOT EXISTS specs`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q(`INSERT INTO schema_migrations(version) VALUES($1)`)).
		WithArgs("001_init.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMigrate_SkipsApplied(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()

	mock.ExpectExec(q(`CREATE TABLE IF NOT EXISTS schema_migrations`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(`SELECT EXISTS`)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if err := (&DB{DB: sqlDB}).Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestNormalizeTags(t *testing.T) {
	got := normalizeTags([]string{" Pets", "pets", "", "Cats"})
	if strings.Join(got, ",") != "pets,cats" {
		t.Errorf("normalizeTags = %v", got)
	}
}
