package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/apiingest/internal/config"
	"github.com/dgallion1/apiingest/internal/pipeline"
	"github.com/dgallion1/apiingest/internal/store"
)

const testKey = "secret"

const petstore = `openapi: 3.0.0
info:
  title: Petstore
  version: 1.0.0
tags:
  - name: pets
paths:
  /pets:
    get:
      operationId: listPets
      tags: [pets]
      parameters:
        - name: limit
          in: query
          schema: {type: integer}
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema:
                type: array
                items:
                  $ref: '#/components/schemas/Pet'
components:
  schemas:
    Pet:
      type: object
      required: [id]
      properties:
        id: {type: integer}
        name: {type: string}
`

// memCatalog is an in-memory spec store shared by the pipeline and the
// read handlers.
type memCatalog struct {
	mu    sync.Mutex
	specs map[int64]*store.Spec
	next  int64
}

func newMemCatalog() *memCatalog {
	return &memCatalog{specs: map[int64]*store.Spec{}}
}

func (m *memCatalog) Create(ctx context.Context, s *store.Spec) (store.Status, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.specs {
		if existing.ContentHash == s.ContentHash {
			return store.StatusExists, id, nil
		}
	}
	m.next++
	cp := *s
	cp.ID = m.next
	cp.CreatedAt = time.Now()
	m.specs[cp.ID] = &cp
	return store.StatusCreated, cp.ID, nil
}

func (m *memCatalog) Get(ctx context.Context, id int64) (*store.Spec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.specs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s, nil
}

func (m *memCatalog) List(ctx context.Context, q store.ListQuery) (*store.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := &store.Page{Items: []store.Summary{}, Page: max(q.Page, 1), PageSize: q.PageSize}
	for _, s := range m.specs {
		if q.Q != "" && !strings.Contains(strings.ToLower(s.Name), strings.ToLower(q.Q)) {
			continue
		}
		page.Items = append(page.Items, store.Summary{ID: s.ID, Name: s.Name, Version: s.Version, Tags: s.Tags})
	}
	page.Total = len(page.Items)
	return page, nil
}

func (m *memCatalog) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.specs[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.specs, id)
	return nil
}

func (m *memCatalog) Tags(ctx context.Context) ([]store.TagCount, error) {
	return []store.TagCount{{Name: "pets", Count: 1}}, nil
}

type testEnv struct {
	srv     *Server
	catalog *memCatalog
	orch    *pipeline.Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Config{
		APIKey:             testKey,
		WorkerCount:        1,
		MaxQueueSize:       4,
		MaxConcurrentStore: 1,
		MaxUploadBytes:     1 << 20,
		ConvertTimeout:     5 * time.Second,
		JobTTL:             time.Hour,
	}
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	catalog := newMemCatalog()
	orch := pipeline.NewOrchestrator(cfg, catalog, log)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)
	return &testEnv{srv: NewServer(orch, catalog, log, cfg), catalog: catalog, orch: orch}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+testKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth_Public(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestMetrics_Public(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuth_RejectsMissingAndWrongKey(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/specs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key: expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/specs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid api key") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestConvert_RawBody(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/convert", strings.NewReader(petstore), "application/yaml")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Title       string   `json:"title"`
		Operations  int      `json:"operations"`
		Schemas     int      `json:"schemas"`
		Tags        []string `json:"tags"`
		Markdown    string   `json:"markdown"`
		TokenCount  int      `json:"token_count"`
		Diagnostics []any    `json:"diagnostics"`
	}
	decode(t, rec, &resp)
	if resp.Title != "Petstore" || resp.Operations != 1 || resp.Schemas != 1 {
		t.Errorf("unexpected summary %+v", resp)
	}
	if !strings.HasPrefix(resp.Markdown, "# Petstore\n") {
		t.Errorf("unexpected markdown %q", resp.Markdown)
	}
	if resp.TokenCount <= 0 {
		t.Errorf("expected a token estimate, got %d", resp.TokenCount)
	}
	if resp.Diagnostics == nil || len(resp.Diagnostics) != 0 {
		t.Errorf("expected empty diagnostics, got %v", resp.Diagnostics)
	}
}

func TestConvert_Multipart(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, "petstore.yaml", petstore, nil)
	rec := env.do(t, http.MethodPost, "/api/convert", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestConvert_ParseErrorIs422(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/convert?format=json", strings.NewReader(`{"openapi": "3.0.0",`), "application/json")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	decode(t, rec, &resp)
	if resp["kind"] != "ParseError" || resp["format"] != "json" {
		t.Errorf("unexpected error body %v", resp)
	}
}

func TestConvert_InvalidDocumentIs422(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/convert", strings.NewReader(`{"hello": "world"}`), "application/json")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "InvalidDocumentError") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestConvert_RejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/convert", strings.NewReader(""), "application/yaml")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty body: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/convert?format=xml", strings.NewReader(petstore), "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad format: expected 400, got %d", rec.Code)
	}

	body, ct := multipartBody(t, "petstore.pdf", petstore, nil)
	rec = env.do(t, http.MethodPost, "/api/convert", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad extension: expected 400, got %d", rec.Code)
	}

	big := strings.Repeat("x", 2<<20)
	rec = env.do(t, http.MethodPost, "/api/convert", strings.NewReader(big), "application/yaml")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized: expected 413, got %d", rec.Code)
	}
}

func TestConvertChunks_FullMapAndFragment(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/convert/chunks", strings.NewReader(petstore), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var m struct {
		Manifest  string            `json:"manifest"`
		Endpoints map[string]string `json:"endpoints"`
	}
	decode(t, rec, &m)
	if _, ok := m.Endpoints["GET /pets"]; !ok {
		t.Fatalf("expected GET /pets fragment, got %v", m.Endpoints)
	}

	rec = env.do(t, http.MethodPost, "/api/convert/chunks?kind=schema&key=Pet", strings.NewReader(petstore), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var frag struct {
		Text   string `json:"text"`
		Tokens int    `json:"tokens"`
	}
	decode(t, rec, &frag)
	if !strings.Contains(frag.Text, "Pet") || frag.Tokens <= 0 {
		t.Errorf("unexpected fragment %+v", frag)
	}

	rec = env.do(t, http.MethodPost, "/api/convert/chunks?kind=schema&key=Missing", strings.NewReader(petstore), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown fragment, got %d", rec.Code)
	}
}

func TestConvertTools(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/convert/tools", strings.NewReader(petstore), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors"`
	}
	decode(t, rec, &resp)
	if len(resp.Tools) != 1 || resp.Tools[0].Name != "listPets" {
		t.Errorf("unexpected tools %+v", resp.Tools)
	}
	if !resp.Valid || len(resp.Errors) != 0 {
		t.Errorf("expected valid tools, got %v", resp.Errors)
	}
}

func waitForJob(t *testing.T, env *testEnv, id string) pipeline.JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job := env.orch.GetJob(id); job != nil {
			if snap := job.Snapshot(); snap.Status.Done() {
				return snap
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return pipeline.JobSnapshot{}
}

func ingest(t *testing.T, env *testEnv, content string, fields map[string]string) pipeline.JobSnapshot {
	t.Helper()
	body, ct := multipartBody(t, "petstore.yaml", content, fields)
	rec := env.do(t, http.MethodPost, "/api/specs", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		JobID   string `json:"job_id"`
		PollURL string `json:"poll_url"`
	}
	decode(t, rec, &resp)
	if resp.PollURL != "/api/ingest/"+resp.JobID+"/status" {
		t.Errorf("unexpected poll url %q", resp.PollURL)
	}
	return waitForJob(t, env, resp.JobID)
}

func TestIngest_StoresAndServesArtifacts(t *testing.T) {
	env := newTestEnv(t)
	snap := ingest(t, env, petstore, map[string]string{"provider": "acme", "tags": "animals, demo"})
	if snap.Status != pipeline.StatusCreated {
		t.Fatalf("expected created, got %q (%v)", snap.Status, snap.Progress.Errors)
	}

	rec := env.do(t, http.MethodGet, "/api/ingest/"+snap.ID+"/status", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"spec_url":"/api/specs/1"`) {
		t.Fatalf("unexpected status response %d %s", rec.Code, rec.Body.String())
	}

	stored := env.catalog.specs[1]
	if stored.Provider != "acme" {
		t.Errorf("expected provider acme, got %q", stored.Provider)
	}
	if strings.Join(stored.Tags, ",") != "animals,demo,pets" {
		t.Errorf("unexpected tags %v", stored.Tags)
	}

	rec = env.do(t, http.MethodGet, "/api/specs/1", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"name":"Petstore"`) {
		t.Errorf("get: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/specs/1/markdown", nil, "")
	if !strings.HasPrefix(rec.Body.String(), "# Petstore") {
		t.Errorf("markdown: %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("markdown content type %q", ct)
	}

	rec = env.do(t, http.MethodGet, "/api/specs/1/original", nil, "")
	if rec.Body.String() != petstore {
		t.Errorf("original not returned verbatim")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("original content type %q", ct)
	}

	rec = env.do(t, http.MethodGet, "/api/specs/1/html", nil, "")
	if !strings.Contains(rec.Body.String(), "<title>Petstore</title>") || !strings.Contains(rec.Body.String(), "<h1") {
		t.Errorf("html: %q", rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/specs/1/outline", nil, "")
	var outline struct {
		Title    string `json:"title"`
		Sections []struct {
			Title string `json:"title"`
		} `json:"sections"`
	}
	decode(t, rec, &outline)
	if outline.Title != "Petstore" || len(outline.Sections) == 0 {
		t.Errorf("outline: %+v", outline)
	}

	rec = env.do(t, http.MethodGet, "/api/specs/1/chunks", nil, "")
	var chunks struct {
		Manifest string `json:"manifest"`
		Entries  []struct {
			Kind string `json:"kind"`
			Key  string `json:"key"`
		} `json:"entries"`
	}
	decode(t, rec, &chunks)
	if chunks.Manifest == "" || len(chunks.Entries) == 0 {
		t.Errorf("chunks: %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), `"endpoints"`) {
		t.Errorf("expected fragment bodies to be omitted")
	}

	rec = env.do(t, http.MethodGet, "/api/specs/1/chunks/endpoint/GET%20%2Fpets", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "limit") {
		t.Errorf("endpoint chunk: %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, "/api/specs/1/chunks/endpoint/GET%20/pets", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("endpoint chunk with raw slash: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/specs/1/tools", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"listPets"`) {
		t.Errorf("tools: %d %s", rec.Code, rec.Body.String())
	}
}

func TestIngest_DuplicateReportsExisting(t *testing.T) {
	env := newTestEnv(t)
	first := ingest(t, env, petstore, nil)
	second := ingest(t, env, petstore, nil)
	if first.Status != pipeline.StatusCreated || second.Status != pipeline.StatusExists {
		t.Fatalf("expected created then exists, got %q and %q", first.Status, second.Status)
	}
	if second.SpecID != first.SpecID {
		t.Errorf("expected duplicate to point at spec %d, got %d", first.SpecID, second.SpecID)
	}
}

func TestIngest_ParseErrorFailsJob(t *testing.T) {
	env := newTestEnv(t)
	snap := ingest(t, env, "openapi: [unclosed", nil)
	if snap.Status != pipeline.StatusFailed || len(snap.Progress.Errors) == 0 {
		t.Fatalf("expected failed job with errors, got %+v", snap)
	}
}

func TestIngestStatus_UnknownJob(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/ingest/nope/status", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestSpecs_ListTagsDeleteAndErrors(t *testing.T) {
	env := newTestEnv(t)
	ingest(t, env, petstore, nil)

	rec := env.do(t, http.MethodGet, "/api/specs?q=pet&page=1&page_size=10", nil, "")
	var page store.Page
	decode(t, rec, &page)
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].Name != "Petstore" {
		t.Errorf("unexpected page %+v", page)
	}

	rec = env.do(t, http.MethodGet, "/api/specs?page=abc", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad page: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/tags", nil, "")
	if !strings.Contains(rec.Body.String(), `"pets"`) {
		t.Errorf("tags: %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/specs/x", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/specs/1", nil, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/specs/1", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("after delete: expected 404, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/api/specs/1", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	ingest(t, env, petstore, nil)

	rec := env.do(t, http.MethodGet, "/api/stats", nil, "")
	var resp struct {
		QueueDepth int                               `json:"queue_depth"`
		Latency    map[string]pipeline.StatsSnapshot `json:"latency"`
	}
	decode(t, rec, &resp)
	if resp.Latency[pipeline.StageTotal].Count != 1 {
		t.Errorf("expected one total sample, got %+v", resp.Latency)
	}
}

func TestSplitTags(t *testing.T) {
	got := splitTags([]string{"a, b", " c ", ",,"})
	if strings.Join(got, "|") != "a|b|c" {
		t.Errorf("unexpected tags %v", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"../../etc/passwd": "passwd",
		"dir/spec.yaml":    "spec.yaml",
		"":                 "unnamed",
		"a..b.json":        "a_b.json",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
