package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aldaxho/couchoratorariaweb/internal/version"
)

// SupabaseBucket talks to the Supabase Storage REST API.
type SupabaseBucket struct {
	baseURL string
	apiKey  string
	bucket  string
	client  *http.Client
}

// BucketPolicy is applied when EnsureBucket has to create the bucket.
type BucketPolicy struct {
	Public           bool
	FileSizeLimit    int64
	AllowedMimeTypes []string
}

func NewSupabaseBucket(baseURL string, apiKey string, bucket string, client *http.Client) *SupabaseBucket {
	if client == nil {
		client = &http.Client{}
	}
	return &SupabaseBucket{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		bucket:  strings.TrimSpace(bucket),
		client:  client,
	}
}

func (b *SupabaseBucket) Name() string { return b.bucket }

func (b *SupabaseBucket) Put(ctx context.Context, obj Object) error {
	if err := b.configured(); err != nil {
		return err
	}

	req, err := b.newRequest(ctx, http.MethodPost, "/storage/v1/object/"+b.bucket+"/"+escapePath(obj.Path), obj.Body)
	if err != nil {
		return err
	}
	if obj.Size >= 0 {
		req.ContentLength = obj.Size
	}
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")
	if obj.CacheControl != "" {
		req.Header.Set("cache-control", "max-age="+obj.CacheControl)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer resp.Body.Close()
	return statusError(resp)
}

func (b *SupabaseBucket) PublicURL(path string) (string, error) {
	if b.baseURL == "" || b.bucket == "" {
		return "", fmt.Errorf("%w: supabase url or bucket not configured", ErrStorageUnavailable)
	}
	return b.baseURL + "/storage/v1/object/public/" + b.bucket + "/" + escapePath(path), nil
}

func (b *SupabaseBucket) Remove(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := b.configured(); err != nil {
		return err
	}

	body, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return fmt.Errorf("encode remove request: %w", err)
	}
	req, err := b.newRequest(ctx, http.MethodDelete, "/storage/v1/object/"+b.bucket, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer resp.Body.Close()
	return statusError(resp)
}

type listEntry struct {
	Name      string `json:"name"`
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Metadata  struct {
		Size int64 `json:"size"`
	} `json:"metadata"`
}

func (b *SupabaseBucket) List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	if err := b.configured(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	payload := map[string]any{
		"prefix": prefix,
		"limit":  limit,
		"offset": 0,
		"sortBy": map[string]string{"column": "created_at", "order": "desc"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode list request: %w", err)
	}
	req, err := b.newRequest(ctx, http.MethodPost, "/storage/v1/object/list/"+b.bucket, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return nil, err
	}

	var entries []listEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}

	out := make([]ObjectInfo, 0, len(entries))
	for _, entry := range entries {
		// Folder placeholders come back without an id.
		if entry.ID == "" {
			continue
		}
		info := ObjectInfo{Path: joinKey(prefix, entry.Name), Size: entry.Metadata.Size}
		if ts, err := time.Parse(time.RFC3339Nano, entry.CreatedAt); err == nil {
			info.CreatedAt = ts
		}
		out = append(out, info)
	}
	return out, nil
}

// EnsureBucket creates the bucket with policy when it does not exist yet.
func (b *SupabaseBucket) EnsureBucket(ctx context.Context, policy BucketPolicy) (bool, error) {
	exists, err := b.Exists(ctx)
	if err != nil || exists {
		return false, err
	}

	payload := map[string]any{
		"id":     b.bucket,
		"name":   b.bucket,
		"public": policy.Public,
	}
	if policy.FileSizeLimit > 0 {
		payload["file_size_limit"] = policy.FileSizeLimit
	}
	if len(policy.AllowedMimeTypes) > 0 {
		payload["allowed_mime_types"] = policy.AllowedMimeTypes
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode bucket request: %w", err)
	}
	req, err := b.newRequest(ctx, http.MethodPost, "/storage/v1/bucket", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return false, err
	}
	return true, nil
}

// Exists reports whether the configured bucket is present.
func (b *SupabaseBucket) Exists(ctx context.Context) (bool, error) {
	if err := b.configured(); err != nil {
		return false, err
	}
	req, err := b.newRequest(ctx, http.MethodGet, "/storage/v1/bucket/"+b.bucket, nil)
	if err != nil {
		return false, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusBadRequest:
		// Supabase answers a missing bucket with 400 "Bucket not found".
		return false, nil
	default:
		return false, statusError(resp)
	}
}

func (b *SupabaseBucket) configured() error {
	if b.baseURL == "" || b.apiKey == "" || b.bucket == "" {
		return fmt.Errorf("%w: supabase url, key or bucket not configured", ErrStorageUnavailable)
	}
	return nil
}

func (b *SupabaseBucket) newRequest(ctx context.Context, method string, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrStorageUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("apikey", b.apiKey)
	req.Header.Set("User-Agent", version.UserAgent())
	return req, nil
}

type errorBody struct {
	StatusCode string `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// statusError maps non-2xx answers: 5xx is the store being unavailable,
// anything else is the store declining the request.
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(raw))
	var parsed errorBody
	if json.Unmarshal(raw, &parsed) == nil {
		switch {
		case parsed.Message != "":
			detail = parsed.Message
		case parsed.Error != "":
			detail = parsed.Error
		}
	}
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: HTTP %d: %s", ErrStorageUnavailable, resp.StatusCode, detail)
	}
	return fmt.Errorf("%w: HTTP %d: %s", ErrUploadRejected, resp.StatusCode, detail)
}

func escapePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func joinKey(prefix string, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
