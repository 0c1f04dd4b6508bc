package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSupabasePutSendsHeaders(t *testing.T) {
	var gotPath, gotAuth, gotKey, gotUpsert, gotCache, gotType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("apikey")
		gotUpsert = r.Header.Get("x-upsert")
		gotCache = r.Header.Get("cache-control")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"Key":"videos/u1/1.webm"}`))
	}))
	defer server.Close()

	b := NewSupabaseBucket(server.URL+"/", "secret", "videos", server.Client())
	err := b.Put(context.Background(), Object{
		Path:         "u1/1.webm",
		Body:         bytes.NewReader([]byte("payload")),
		Size:         7,
		ContentType:  "video/webm",
		CacheControl: DefaultCacheControl,
	})
	require.NoError(t, err)
	require.Equal(t, "/storage/v1/object/videos/u1/1.webm", gotPath)
	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, "secret", gotKey)
	require.Equal(t, "false", gotUpsert)
	require.Equal(t, "max-age=3600", gotCache)
	require.Equal(t, "video/webm", gotType)
	require.Equal(t, "payload", string(gotBody))
}

func TestSupabasePutStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
		detail string
	}{
		{name: "duplicate", status: http.StatusConflict, body: `{"statusCode":"409","error":"Duplicate","message":"The resource already exists"}`, want: ErrUploadRejected, detail: "The resource already exists"},
		{name: "too large", status: http.StatusRequestEntityTooLarge, body: `{"error":"Payload too large"}`, want: ErrUploadRejected, detail: "Payload too large"},
		{name: "server error", status: http.StatusBadGateway, body: "upstream down", want: ErrStorageUnavailable, detail: "upstream down"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			b := NewSupabaseBucket(server.URL, "k", "videos", server.Client())
			err := b.Put(context.Background(), Object{Path: "a/b.mp4", Body: bytes.NewReader(nil)})
			require.ErrorIs(t, err, tc.want)
			require.Contains(t, err.Error(), tc.detail)
		})
	}
}

func TestSupabaseUnreachableAndUnconfigured(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := NewSupabaseBucket(url, "k", "videos", nil).Put(context.Background(), Object{Path: "a/1.mp4", Body: bytes.NewReader(nil)})
	require.ErrorIs(t, err, ErrStorageUnavailable)

	err = NewSupabaseBucket("", "", "videos", nil).Put(context.Background(), Object{Path: "a/1.mp4", Body: bytes.NewReader(nil)})
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.Contains(t, err.Error(), "not configured")
}

func TestSupabasePublicURL(t *testing.T) {
	b := NewSupabaseBucket("https://proj.supabase.co", "k", "videos", nil)
	got, err := b.PublicURL("user 1/17.webm")
	require.NoError(t, err)
	require.Equal(t, "https://proj.supabase.co/storage/v1/object/public/videos/user%201/17.webm", got)
}

func TestSupabaseRemoveAndList(t *testing.T) {
	var removeBody map[string][]string
	var listBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete && r.URL.Path == "/storage/v1/object/videos":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&removeBody))
			_, _ = w.Write([]byte(`[]`))
		case r.Method == http.MethodPost && r.URL.Path == "/storage/v1/object/list/videos":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&listBody))
			_, _ = w.Write([]byte(`[
				{"name":"2.webm","id":"b","created_at":"2024-05-01T10:00:00Z","metadata":{"size":20}},
				{"name":"nested","id":null,"metadata":null},
				{"name":"1.mp4","id":"a","created_at":"2024-04-01T10:00:00Z","metadata":{"size":10}}
			]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	b := NewSupabaseBucket(server.URL, "k", "videos", server.Client())
	require.NoError(t, b.Remove(context.Background(), "u1/1.webm"))
	require.Equal(t, []string{"u1/1.webm"}, removeBody["prefixes"])

	items, err := b.List(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Equal(t, "u1", listBody["prefix"])
	require.EqualValues(t, 100, listBody["limit"])
	require.Len(t, items, 2)
	require.Equal(t, "u1/2.webm", items[0].Path)
	require.Equal(t, int64(20), items[0].Size)
	require.Equal(t, 2024, items[0].CreatedAt.Year())
}

func TestSupabaseEnsureBucket(t *testing.T) {
	var created map[string]any
	exists := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/storage/v1/bucket/videos":
			if !exists {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"Bucket not found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"videos"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/storage/v1/bucket":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			exists = true
			_, _ = w.Write([]byte(`{"name":"videos"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	b := NewSupabaseBucket(server.URL, "k", "videos", server.Client())
	policy := BucketPolicy{Public: true, FileSizeLimit: 500 << 20, AllowedMimeTypes: []string{"video/webm"}}

	didCreate, err := b.EnsureBucket(context.Background(), policy)
	require.NoError(t, err)
	require.True(t, didCreate)
	require.Equal(t, true, created["public"])
	require.EqualValues(t, 500<<20, created["file_size_limit"])

	didCreate, err = b.EnsureBucket(context.Background(), policy)
	require.NoError(t, err)
	require.False(t, didCreate)
}
