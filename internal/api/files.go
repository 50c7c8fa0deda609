package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/contentflow/wfm/internal/artifact"
	"github.com/contentflow/wfm/internal/parallel"
	"github.com/contentflow/wfm/internal/prompt"
)

// collection is a folder of the artifact store exposed under /api/<path>.
type collection struct {
	path   string
	folder string
	ext    string
	label  string
	// document collections list a title and word count instead of a preview
	document bool
}

var collections = []collection{
	{path: "brand-data", folder: prompt.FolderBrandData, ext: ".json", label: "Brand data"},
	{path: "briefs", folder: prompt.FolderBriefs, ext: ".md", label: "Brief", document: true},
	{path: "drafts", folder: prompt.FolderDrafts, ext: ".md", label: "Draft", document: true},
}

func (c collection) json() bool {
	return c.ext == ".json"
}

func (c collection) kindError() string {
	if c.json() {
		return "Only JSON files are allowed"
	}
	return "Only Markdown files are allowed"
}

type FileEntry struct {
	artifact.FileInfo
	Words int `json:"words,omitempty"`
}

type FilesResponse struct {
	Files []FileEntry `json:"files"`
}

type ContentResponse struct {
	Content string `json:"content"`
}

type SaveRequest struct {
	Filename string          `json:"filename" validate:"required"`
	Content  json.RawMessage `json:"content" validate:"required"`
}

// previewReaders bounds the reads a listing issues at once.
const previewReaders = 8

var reHeading = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// title returns the first level one heading, or a title made of the name.
func title(name string, data []byte) string {
	if m := reHeading.FindSubmatch(data); m != nil {
		return strings.TrimSpace(string(m[1]))
	}
	return strings.TrimSuffix(strings.ReplaceAll(name, "_", " "), path.Ext(name))
}

func (h *Handler) listFiles(c collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := h.store.List(r.Context(), c.folder, "*"+c.ext)
		if err != nil {
			respondStoreError(w, r, err, "Failed to list files")
			return
		}
		out, err := parallel.Map(r.Context(), previewReaders, files, func(ctx context.Context, f artifact.FileInfo) FileEntry {
			return h.entry(ctx, c, f)
		})
		if err != nil {
			respondErrorAndLog(w, r, http.StatusInternalServerError, "Failed to list files", err)
			return
		}
		respondJSON(w, r, http.StatusOK, FilesResponse{Files: out})
	}
}

// entry reads a file to fill in its preview. A file that cannot be read is
// listed without one.
func (h *Handler) entry(ctx context.Context, c collection, f artifact.FileInfo) FileEntry {
	entry := FileEntry{FileInfo: f}
	data, err := h.store.Read(ctx, c.folder, f.Name)
	if err != nil {
		slog.WarnContext(ctx, "listing without preview", "folder", c.folder, "name", f.Name, "error", err)
		return entry
	}
	if c.document {
		entry.Preview = title(f.Name, data)
		entry.Words = len(strings.Fields(string(data)))
	} else {
		entry.Preview = artifact.Preview(f.Name, data)
	}
	return entry
}

func (h *Handler) getFile(c collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "filename")
		data, err := h.store.Read(r.Context(), c.folder, name)
		if err != nil {
			respondStoreError(w, r, err, "Failed to read file")
			return
		}
		if !c.json() {
			respondJSON(w, r, http.StatusOK, ContentResponse{Content: string(data)})
			return
		}
		if !json.Valid(data) {
			respondError(w, r, http.StatusInternalServerError, "Invalid JSON file")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// uploadFile stores a multipart "file" part, replacing a file of the same
// name.
func (h *Handler) uploadFile(c collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		file, hdr, err := r.FormFile("file")
		if err != nil {
			respondErrorAndLog(w, r, http.StatusBadRequest, "Missing file", err)
			return
		}
		defer file.Close()

		name := path.Base(strings.ReplaceAll(hdr.Filename, `\`, "/"))
		if path.Ext(name) != c.ext {
			respondError(w, r, http.StatusBadRequest, c.kindError())
			return
		}
		data, err := io.ReadAll(file)
		if err != nil {
			respondErrorAndLog(w, r, http.StatusBadRequest, "Failed to read upload", err)
			return
		}
		if c.json() && !json.Valid(data) {
			respondError(w, r, http.StatusBadRequest, "Invalid JSON format")
			return
		}
		if err := h.store.Write(r.Context(), c.folder, name, data); err != nil {
			respondStoreError(w, r, err, "Failed to save file")
			return
		}
		respondJSON(w, r, http.StatusOK, SuccessResponse{Success: true, Filename: name})
	}
}

// saveFile replaces the content of an existing file. JSON collections take
// a JSON object as content, the others a string.
func (h *Handler) saveFile(c collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SaveRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
			return
		}
		if err := h.validate.Struct(req); err != nil {
			respondErrorAndLog(w, r, http.StatusBadRequest, "Filename and content are required", err)
			return
		}
		if path.Ext(req.Filename) != c.ext {
			respondError(w, r, http.StatusBadRequest, "Filename must end with "+c.ext)
			return
		}

		data, err := saveContent(c, req.Content)
		if err != nil {
			respondErrorAndLog(w, r, http.StatusBadRequest, "Invalid content", err)
			return
		}

		ok, err := h.store.Exists(r.Context(), c.folder, req.Filename)
		if err != nil {
			respondStoreError(w, r, err, "Failed to save file")
			return
		}
		if !ok {
			respondError(w, r, http.StatusNotFound, "File not found")
			return
		}
		if err := h.store.Write(r.Context(), c.folder, req.Filename, data); err != nil {
			respondStoreError(w, r, err, "Failed to save file")
			return
		}
		respondJSON(w, r, http.StatusOK, SuccessResponse{
			Success: true,
			Message: c.label + " saved successfully",
		})
	}
}

func saveContent(c collection, raw json.RawMessage) ([]byte, error) {
	if c.json() {
		if t := bytes.TrimSpace(raw); len(t) == 0 || t[0] != '{' {
			return nil, errors.New("content must be a JSON object")
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.New("content must be a string")
	}
	return []byte(s), nil
}

func (h *Handler) deleteFile(c collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "filename")
		if err := h.store.Delete(r.Context(), c.folder, name); err != nil {
			respondStoreError(w, r, err, "Failed to delete file")
			return
		}
		respondJSON(w, r, http.StatusOK, SuccessResponse{Success: true})
	}
}
