package artifact_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/contentflow/wfm/internal/artifact"
	"github.com/stretchr/testify/require"
)

// fakeBucket is a minimal in memory Supabase Storage.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer service-key" || r.Header.Get("apikey") != "service-key" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.Method == http.MethodPost && r.URL.Path == "/storage/v1/object/list/workflow-files" {
		var req struct {
			Prefix string `json:"prefix"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var out []map[string]any
		for key, data := range b.objects {
			folder, name, _ := strings.Cut(key, "/")
			if folder != req.Prefix {
				continue
			}
			out = append(out, map[string]any{
				"name":       name,
				"id":         key,
				"updated_at": "2025-01-0" + string(rune('1'+len(data)%9)) + "T10:00:00Z",
				"metadata":   map[string]any{"size": len(data)},
			})
		}
		out = append(out, map[string]any{"name": "nested", "id": nil})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
		return
	}

	key, ok := strings.CutPrefix(r.URL.Path, "/storage/v1/object/workflow-files/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	data, exists := b.objects[key]
	switch r.Method {
	case http.MethodHead, http.MethodGet:
		if !exists {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"statusCode":"404","error":"not_found"}`)
			return
		}
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	case http.MethodPost:
		if r.Header.Get("X-Upsert") != "true" && exists {
			http.Error(w, "duplicate", http.StatusConflict)
			return
		}
		body, _ := io.ReadAll(r.Body)
		b.objects[key] = body
		b.types[key] = r.Header.Get("Content-Type")
	case http.MethodDelete:
		if !exists {
			http.NotFound(w, r)
			return
		}
		delete(b.objects, key)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newSupabase(t *testing.T) (*artifact.SupabaseStore, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	store, err := artifact.NewSupabaseStore(srv.URL, "service-key", "workflow-files")
	require.NoError(t, err)
	return store, bucket
}

func TestNewSupabaseStore(t *testing.T) {
	t.Parallel()
	_, err := artifact.NewSupabaseStore("https://x.supabase.co/api", "k", "b")
	require.Error(t, err)
	_, err = artifact.NewSupabaseStore("x.supabase.co", "k", "b")
	require.Error(t, err)
	_, err = artifact.NewSupabaseStore("https://x.supabase.co", "", "b")
	require.Error(t, err)
	_, err = artifact.NewSupabaseStore("https://x.supabase.co/", "k", "b")
	require.NoError(t, err)
}

func TestSupabaseStore(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store, bucket := newSupabase(t)

	ok, err := store.Exists(ctx, "brand-data", "acme_brand_data.json")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Write(ctx, "brand-data", "acme_brand_data.json", []byte(`{"a":1}`)))
	require.Equal(t, "application/json", bucket.types["brand-data/acme_brand_data.json"])

	ok, err = store.Exists(ctx, "brand-data", "acme_brand_data.json")
	require.NoError(t, err)
	require.True(t, ok)

	// upsert overwrites
	require.NoError(t, store.Write(ctx, "brand-data", "acme_brand_data.json", []byte(`{"a":2}`)))
	data, err := store.Read(ctx, "brand-data", "acme_brand_data.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"a":2}`, string(data))

	require.NoError(t, store.Delete(ctx, "brand-data", "acme_brand_data.json"))
	_, err = store.Read(ctx, "brand-data", "acme_brand_data.json")
	require.ErrorIs(t, err, artifact.ErrNotFound)
	require.ErrorIs(t, store.Delete(ctx, "brand-data", "acme_brand_data.json"), artifact.ErrNotFound)
}

func TestSupabaseStore_List(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	store, _ := newSupabase(t)

	require.NoError(t, store.Write(ctx, "brief-outputs", "a_brief.md", []byte("1")))
	require.NoError(t, store.Write(ctx, "brief-outputs", "b_brief.md", []byte("123")))
	require.NoError(t, store.Write(ctx, "brief-outputs", "c.txt", []byte("12")))
	require.NoError(t, store.Write(ctx, "draft-outputs", "d_draft.md", []byte("1")))

	files, err := store.List(ctx, "brief-outputs", "*.md")
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "b_brief.md", files[0].Name)
	require.Equal(t, int64(3), files[0].Size)
	require.Equal(t, "a_brief.md", files[1].Name)
}
