// Package backend is the REST client for the practice analysis service.
package backend

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
	"strings"

	"github.com/aldaxho/couchoratorariaweb/internal/version"
)

var (
	ErrSessionOpenFailed     = errors.New("could not start practice session")
	ErrSessionFinalizeFailed = errors.New("could not finalize practice session")
	ErrRequestFailed         = errors.New("backend request failed")
)

// Client calls the practice endpoints. Requests carry no client-side
// timeout; they end when the backend answers or ctx is cancelled.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    httpClient,
		logger:  logger,
	}
}

type openResponse struct {
	SessionID identifier `json:"idSesion"`
}

type finalizeRequest struct {
	SessionID   string `json:"idSesion"`
	ArtifactURL string `json:"urlArchivo"`
}

type finalizeResponse struct {
	PracticeID identifier `json:"idPractica"`
}

// OpenSession asks the backend for a new practice session handle.
func (c *Client) OpenSession(ctx context.Context) (string, error) {
	var out openResponse
	if err := c.do(ctx, http.MethodPost, "/practica/iniciar", nil, &out); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSessionOpenFailed, err)
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("%w: response carried no idSesion", ErrSessionOpenFailed)
	}
	c.logInfo("practice session opened", slog.String("session_id", string(out.SessionID)))
	return string(out.SessionID), nil
}

// FinalizeSession hands the stored artifact URL to the backend and returns
// the practice result id.
func (c *Client) FinalizeSession(ctx context.Context, sessionID string, artifactURL string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("%w: session id is empty", ErrSessionFinalizeFailed)
	}

	var out finalizeResponse
	body := finalizeRequest{SessionID: sessionID, ArtifactURL: artifactURL}
	if err := c.do(ctx, http.MethodPost, "/practica/finalizar", body, &out); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSessionFinalizeFailed, err)
	}
	if out.PracticeID == "" {
		return "", fmt.Errorf("%w: response carried no idPractica", ErrSessionFinalizeFailed)
	}
	c.logInfo("practice session finalized",
		slog.String("session_id", sessionID),
		slog.String("result_id", string(out.PracticeID)),
	)
	return string(out.PracticeID), nil
}

// Analysis fetches the analysis document produced for a finalized practice.
func (c *Client) Analysis(ctx context.Context, practiceID string) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/practica/"+url.PathEscape(practiceID)+"/analisis", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History lists the practices the backend knows for the authenticated user.
func (c *Client) History(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	if err := c.do(ctx, http.MethodGet, "/practica/historial", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method string, path string, in any, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: backend base url not configured", ErrRequestFailed)
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(resp.Body, resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// StatusError is a non-2xx backend answer.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

// errorMessage prefers the backend's {"message"} or {"error"} text.
func errorMessage(r io.Reader, code int) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 8192))
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		if msg := strings.TrimSpace(parsed.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(parsed.Error); msg != "" {
			return msg
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) <= 200 {
		return text
	}
	return http.StatusText(code)
}

func (c *Client) logInfo(msg string, attrs ...any) {
	if c.logger != nil {
		c.logger.Info(msg, attrs...)
	}
}

// identifier accepts ids encoded as JSON strings or numbers.
type identifier string

func (id *identifier) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*id = identifier(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*id = identifier(n.String())
	return nil
}
