package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const listLimit = 1000

// SupabaseStore keeps files in a Supabase Storage bucket using its REST API.
type SupabaseStore struct {
	baseURL *url.URL
	bucket  string
	key     string
	client  *http.Client
}

// NewSupabaseStore expects the project URL, e.g. https://xyz.supabase.co,
// and a service role key.
func NewSupabaseStore(projectURL, key, bucket string) (*SupabaseStore, error) {
	if key == "" {
		return nil, errors.New("supabase key is empty")
	}
	if bucket == "" {
		return nil, errors.New("supabase bucket is empty")
	}
	parsed, err := url.Parse(projectURL)
	if err != nil {
		return nil, err
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	if parsed.Scheme == "" || parsed.Host == "" || parsed.Path != "" {
		return nil, errors.New("please define the supabase url with a scheme and without path, e.g. `https://project.supabase.co`")
	}
	parsed.Path = "/storage/v1"

	return &SupabaseStore{
		baseURL: parsed,
		bucket:  bucket,
		key:     key,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *SupabaseStore) objectURL(folder, name string) string {
	u := *s.baseURL
	u.Path = path.Join(u.Path, "object", s.bucket, folder, name)
	return u.String()
}

func (s *SupabaseStore) do(ctx context.Context, method, target string, body []byte, hdr http.Header) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, err
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("apikey", s.key)
	return s.client.Do(req)
}

func (s *SupabaseStore) Exists(ctx context.Context, folder, name string) (bool, error) {
	if err := CheckName(folder, name); err != nil {
		return false, err
	}
	resp, err := s.do(ctx, http.MethodHead, s.objectURL(folder, name), nil, nil)
	if err != nil {
		return false, err
	}
	defer closeBody(resp)

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case notFound(resp.StatusCode):
		return false, nil
	}
	return false, statusError(resp)
}

type listRequest struct {
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	SortBy struct {
		Column string `json:"column"`
		Order  string `json:"order"`
	} `json:"sortBy"`
}

type listEntry struct {
	Name      string     `json:"name"`
	ID        *string    `json:"id"` // nil for folders
	UpdatedAt *time.Time `json:"updated_at"`
	CreatedAt *time.Time `json:"created_at"`
	Metadata  struct {
		Size int64 `json:"size"`
	} `json:"metadata"`
}

func (s *SupabaseStore) List(ctx context.Context, folder, pattern string) ([]FileInfo, error) {
	if err := CheckName(folder, "list"); err != nil {
		return nil, err
	}
	match, err := matcher(pattern)
	if err != nil {
		return nil, err
	}

	var lr = listRequest{Prefix: folder, Limit: listLimit}
	lr.SortBy.Column = "updated_at"
	lr.SortBy.Order = "desc"
	body, err := json.Marshal(lr)
	if err != nil {
		return nil, err
	}

	u := *s.baseURL
	u.Path = path.Join(u.Path, "object", "list", s.bucket)
	resp, err := s.do(ctx, http.MethodPost, u.String(), body, http.Header{
		"Content-Type": []string{"application/json"},
	})
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var entries []listEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding json response failed: %w", err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.ID == nil || !match.Match(e.Name) {
			continue
		}
		var mod time.Time
		switch {
		case e.UpdatedAt != nil:
			mod = *e.UpdatedAt
		case e.CreatedAt != nil:
			mod = *e.CreatedAt
		}
		files = append(files, newFileInfo(e.Name, e.Metadata.Size, mod))
	}
	if len(entries) == listLimit {
		slog.WarnContext(ctx, "listing truncated", "folder", folder, "limit", listLimit)
	}
	sortNewest(files)
	return files, nil
}

func (s *SupabaseStore) Read(ctx context.Context, folder, name string) ([]byte, error) {
	if err := CheckName(folder, name); err != nil {
		return nil, err
	}
	resp, err := s.do(ctx, http.MethodGet, s.objectURL(folder, name), nil, nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch {
	case resp.StatusCode == http.StatusOK:
		return io.ReadAll(resp.Body)
	case notFound(resp.StatusCode):
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, folder, name)
	}
	return nil, statusError(resp)
}

func (s *SupabaseStore) Write(ctx context.Context, folder, name string, data []byte) error {
	if err := CheckName(folder, name); err != nil {
		return err
	}
	resp, err := s.do(ctx, http.MethodPost, s.objectURL(folder, name), data, http.Header{
		"Content-Type": []string{contentType(name)},
		"X-Upsert":     []string{"true"},
	})
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusError(resp)
	}
	slog.DebugContext(ctx, "file uploaded", "bucket", s.bucket, "folder", folder, "name", name, "size", len(data))
	return nil
}

func (s *SupabaseStore) Delete(ctx context.Context, folder, name string) error {
	if err := CheckName(folder, name); err != nil {
		return err
	}
	resp, err := s.do(ctx, http.MethodDelete, s.objectURL(folder, name), nil, nil)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		return nil
	case notFound(resp.StatusCode):
		return fmt.Errorf("%w: %s/%s", ErrNotFound, folder, name)
	}
	return statusError(resp)
}

// Supabase answers 400 with a not_found body for missing objects.
func notFound(code int) bool {
	return code == http.StatusNotFound || code == http.StatusBadRequest
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".json":
		return "application/json"
	case ".md":
		return "text/markdown; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("unknown error, status: %d, body: %s", resp.StatusCode, string(body))
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
