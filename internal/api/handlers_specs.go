package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/apiingest/internal/chunker"
	"github.com/dgallion1/apiingest/internal/render"
	"github.com/dgallion1/apiingest/internal/store"
)

func (s *Server) handleListSpecs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := store.ListQuery{Tag: q.Get("tag"), Q: q.Get("q")}
	var err error
	if query.Page, err = intParam(q, "page"); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if query.PageSize, err = intParam(q, "page_size"); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	page, err := s.specs.List(r.Context(), query)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.specs.Tags(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (s *Server) handleGetSpec(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.loadSpec(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func (s *Server) handleDeleteSpec(w http.ResponseWriter, r *http.Request) {
	id, ok := specID(w, r)
	if !ok {
		return
	}
	if err := s.specs.Delete(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	s.log.Info("deleted spec", "spec_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSpecMarkdown(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.loadSpec(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(spec.Markdown))
}

func (s *Server) handleSpecOriginal(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.loadSpec(w, r)
	if !ok {
		return
	}
	contentType := "application/yaml"
	if spec.Format == "json" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", spec.Filename))
	w.Write(spec.Original)
}

func (s *Server) handleSpecHTML(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.loadSpec(w, r)
	if !ok {
		return
	}
	page, err := render.Page(spec.Name, spec.Markdown)
	if err != nil {
		s.log.Error("render html failed", "spec_id", spec.ID, "error", err)
		jsonError(w, "failed to render html", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (s *Server) handleSpecOutline(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.loadSpec(w, r)
	if !ok {
		return
	}
	outline := render.Outline(spec.Markdown)
	writeJSON(w, http.StatusOK, map[string]any{
		"title":       outline.Title,
		"token_count": spec.TokenCount,
		"sections":    render.Sections(outline),
	})
}

// handleSpecChunks returns the manifest and entry list without the
// fragment bodies.
func (s *Server) handleSpecChunks(w http.ResponseWriter, r *http.Request) {
	m, ok := s.loadChunks(w, r)
	if !ok {
		return
	}
	entries := m.Entries
	if entries == nil {
		entries = []chunker.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"manifest": m.Manifest,
		"entries":  entries,
	})
}

// handleSpecChunk returns one fragment. Endpoint keys contain a space and
// slashes ("GET /pets/{id}"), so the key is the escaped path remainder.
func (s *Server) handleSpecChunk(w http.ResponseWriter, r *http.Request) {
	m, ok := s.loadChunks(w, r)
	if !ok {
		return
	}
	key, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		jsonError(w, "invalid fragment key", http.StatusBadRequest)
		return
	}
	writeFragment(w, m, chi.URLParam(r, "kind"), key)
}

func (s *Server) handleSpecTools(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.loadSpec(w, r)
	if !ok {
		return
	}
	tools := spec.Tools
	if len(tools) == 0 {
		tools = json.RawMessage("[]")
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(tools)
}

func (s *Server) loadSpec(w http.ResponseWriter, r *http.Request) (*store.Spec, bool) {
	id, ok := specID(w, r)
	if !ok {
		return nil, false
	}
	spec, err := s.specs.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return nil, false
	}
	return spec, true
}

func (s *Server) loadChunks(w http.ResponseWriter, r *http.Request) (*chunker.ChunkMap, bool) {
	spec, ok := s.loadSpec(w, r)
	if !ok {
		return nil, false
	}
	m := &chunker.ChunkMap{}
	if len(spec.Chunks) > 0 {
		if err := json.Unmarshal(spec.Chunks, m); err != nil {
			s.log.Error("decode stored chunks failed", "spec_id", spec.ID, "error", err)
			jsonError(w, "stored chunks are corrupt", http.StatusInternalServerError)
			return nil, false
		}
	}
	return m, true
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	s.log.Error("store request failed", "error", err)
	jsonError(w, "storage error", http.StatusInternalServerError)
}

func specID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "specID"), 10, 64)
	if err != nil || id <= 0 {
		jsonError(w, "invalid spec id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}
