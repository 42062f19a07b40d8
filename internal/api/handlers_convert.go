package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dgallion1/apiingest/internal/chunker"
	"github.com/dgallion1/apiingest/internal/convert"
	"github.com/dgallion1/apiingest/internal/diag"
	"github.com/dgallion1/apiingest/internal/loader"
	"github.com/dgallion1/apiingest/internal/metrics"
	"github.com/dgallion1/apiingest/internal/normalize"
	"github.com/dgallion1/apiingest/internal/tools"
)

// upload is one API description sent by a client.
type upload struct {
	data     []byte
	filename string
	format   loader.Format
	fields   map[string][]string
}

func (u *upload) field(name string) string {
	if v := u.fields[name]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// readUpload accepts either a multipart form with a "file" part or the
// description as the raw request body. It writes the error response itself
// and returns nil on failure.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) *upload {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	u := &upload{fields: map[string][]string{}}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
			return nil
		}
		defer r.MultipartForm.RemoveAll()
		u.fields = r.MultipartForm.Value

		file, header, err := r.FormFile("file")
		if err != nil {
			jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
			return nil
		}
		defer file.Close()
		u.filename = sanitizeFilename(header.Filename)
		if u.data, err = readLimited(file, s.cfg.MaxUploadBytes); err != nil {
			uploadError(w, err, s.cfg.MaxUploadBytes)
			return nil
		}
	} else {
		u.filename = sanitizeFilename(r.URL.Query().Get("filename"))
		var err error
		if u.data, err = readLimited(r.Body, s.cfg.MaxUploadBytes); err != nil {
			uploadError(w, err, s.cfg.MaxUploadBytes)
			return nil
		}
	}

	if ext := filepath.Ext(u.filename); ext != "" && !loader.IsSupportedExtension(u.filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", ext), http.StatusBadRequest)
		return nil
	}
	if len(u.data) == 0 {
		jsonError(w, "empty document", http.StatusBadRequest)
		return nil
	}

	hint := r.URL.Query().Get("format")
	if hint == "" {
		hint = u.field("format")
	}
	format, err := loader.ParseFormat(hint)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return nil
	}
	if format == loader.FormatAuto {
		format = loader.FormatForFile(u.filename)
	}
	u.format = format
	return u
}

var errTooLarge = errors.New("upload too large")

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, errTooLarge
		}
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errTooLarge
	}
	return data, nil
}

func uploadError(w http.ResponseWriter, err error, limit int64) {
	if errors.Is(err, errTooLarge) {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", limit), http.StatusRequestEntityTooLarge)
		return
	}
	jsonError(w, "failed to read file", http.StatusBadRequest)
}

// convertUpload runs a synchronous conversion bounded by ConvertTimeout.
func (s *Server) convertUpload(ctx context.Context, w http.ResponseWriter, u *upload) (*convert.Result, *convert.Artifacts, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConvertTimeout)
	defer cancel()

	res, err := convert.Convert(ctx, u.data, s.cfg.ConvertOptions(u.format, u.filename))
	if err != nil {
		conversionError(w, err)
		return nil, nil, false
	}
	art, err := convert.ProjectAll(ctx, res.API, s.cfg.ProjectOptions())
	if err != nil {
		conversionError(w, err)
		return nil, nil, false
	}
	metrics.IncConversion("ok")
	for _, d := range res.Diagnostics {
		metrics.AddDiagnostics(string(d.Kind), 1)
	}
	metrics.ObserveTokens("markdown", art.Tokens)
	return res, art, true
}

// conversionError maps a failed conversion to a response: malformed or
// unsupported documents are 422, a timeout is 504.
func conversionError(w http.ResponseWriter, err error) {
	var pe *loader.ParseError
	var ie *normalize.InvalidDocumentError
	switch {
	case errors.As(err, &pe):
		metrics.IncConversion("parse_error")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  pe.Error(),
			"kind":   "ParseError",
			"format": pe.Format,
			"line":   pe.Line,
			"column": pe.Column,
		})
	case errors.As(err, &ie):
		metrics.IncConversion("invalid_document")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": ie.Error(),
			"kind":  "InvalidDocumentError",
		})
	case errors.Is(err, context.DeadlineExceeded):
		metrics.IncConversion("timeout")
		jsonError(w, "conversion timed out", http.StatusGatewayTimeout)
	default:
		metrics.IncConversion("error")
		jsonError(w, "conversion failed: "+err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	u := s.readUpload(w, r)
	if u == nil {
		return
	}
	res, art, ok := s.convertUpload(r.Context(), w, u)
	if !ok {
		return
	}
	api := res.API
	writeJSON(w, http.StatusOK, map[string]any{
		"title":        api.Info.Title,
		"version":      api.Info.Version,
		"spec_version": api.SpecVersion,
		"operations":   len(api.Operations),
		"schemas":      len(api.Schemas),
		"tags":         api.TagNames(),
		"markdown":     art.Markdown,
		"token_count":  art.Tokens,
		"diagnostics":  res.Diagnostics,
		"warnings":     orEmpty(diag.Summarize(res.Diagnostics)),
	})
}

// handleConvertChunks returns the whole chunk map, or one fragment when
// kind and key are given.
func (s *Server) handleConvertChunks(w http.ResponseWriter, r *http.Request) {
	u := s.readUpload(w, r)
	if u == nil {
		return
	}
	_, art, ok := s.convertUpload(r.Context(), w, u)
	if !ok {
		return
	}
	kind, key := r.URL.Query().Get("kind"), r.URL.Query().Get("key")
	if kind == "" && key == "" {
		writeJSON(w, http.StatusOK, art.Chunks)
		return
	}
	writeFragment(w, art.Chunks, kind, key)
}

func (s *Server) handleConvertTools(w http.ResponseWriter, r *http.Request) {
	u := s.readUpload(w, r)
	if u == nil {
		return
	}
	_, art, ok := s.convertUpload(r.Context(), w, u)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toolsResponse(art.Tools))
}

func toolsResponse(descs []tools.Descriptor) map[string]any {
	problems := []string{}
	if err := tools.Validate(descs); err != nil {
		problems = strings.Split(err.Error(), "\n")
	}
	if descs == nil {
		descs = []tools.Descriptor{}
	}
	return map[string]any{
		"tools":  descs,
		"valid":  len(problems) == 0,
		"errors": problems,
	}
}

func writeFragment(w http.ResponseWriter, m *chunker.ChunkMap, kind, key string) {
	text, ok := m.Get(kind, key)
	if !ok {
		jsonError(w, fmt.Sprintf("no %s fragment %q", kind, key), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":   kind,
		"key":    key,
		"text":   text,
		"tokens": chunker.EstimateTokens(text),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
