package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/practica/iniciar", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"idSesion": 17}`))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/api/", "tok", server.Client(), nil)
	id, err := c.OpenSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, "17", id)
}

func TestOpenSessionFailureSurfacesBackendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Token inválido"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "", server.Client(), nil).OpenSession(context.Background())
	require.ErrorIs(t, err, ErrSessionOpenFailed)
	require.Contains(t, err.Error(), "Token inválido")

	var status *StatusError
	require.True(t, errors.As(err, &status))
	require.Equal(t, http.StatusUnauthorized, status.Code)
}

func TestOpenSessionMissingID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"idSesion": null}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "", server.Client(), nil).OpenSession(context.Background())
	require.ErrorIs(t, err, ErrSessionOpenFailed)
	require.Contains(t, err.Error(), "no idSesion")
}

func TestFinalizeSession(t *testing.T) {
	var got finalizeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/practica/finalizar", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"idPractica":"p-9","mensaje":"ok"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok", server.Client(), nil)
	id, err := c.FinalizeSession(context.Background(), "s-1", "https://cdn/u/1.webm")
	require.NoError(t, err)
	require.Equal(t, "p-9", id)
	require.Equal(t, "s-1", got.SessionID)
	require.Equal(t, "https://cdn/u/1.webm", got.ArtifactURL)
}

func TestFinalizeSessionErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"database down"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "", server.Client(), nil)
	_, err := c.FinalizeSession(context.Background(), "s-1", "u")
	require.ErrorIs(t, err, ErrSessionFinalizeFailed)
	require.Contains(t, err.Error(), "database down")

	_, err = c.FinalizeSession(context.Background(), " ", "u")
	require.ErrorIs(t, err, ErrSessionFinalizeFailed)
}

func TestUnreachableAndUnconfigured(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	_, err := NewClient(base, "", nil, nil).OpenSession(context.Background())
	require.ErrorIs(t, err, ErrSessionOpenFailed)

	_, err = NewClient("", "", nil, nil).OpenSession(context.Background())
	require.ErrorIs(t, err, ErrSessionOpenFailed)
	require.ErrorIs(t, err, ErrRequestFailed)
}

func TestCancelledContextAbortsRequest(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(server.URL, "", server.Client(), nil).FinalizeSession(ctx, "s", "u")
	require.ErrorIs(t, err, ErrSessionFinalizeFailed)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAnalysisAndHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/practica/p-1/analisis":
			_, _ = w.Write([]byte(`{"puntuacion": 8.5}`))
		case "/practica/historial":
			_, _ = w.Write([]byte(`[{"id":"p-1"},{"id":"p-2"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, "", server.Client(), nil)
	analysis, err := c.Analysis(context.Background(), "p-1")
	require.NoError(t, err)
	require.Equal(t, 8.5, analysis["puntuacion"])

	history, err := c.History(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 2)

	_, err = c.Analysis(context.Background(), "missing")
	var status *StatusError
	require.True(t, errors.As(err, &status))
	require.Equal(t, http.StatusNotFound, status.Code)
}

func TestIdentifierDecoding(t *testing.T) {
	var id identifier
	require.NoError(t, json.Unmarshal([]byte(`"  abc "`), &id))
	require.Equal(t, identifier("abc"), id)
	require.NoError(t, json.Unmarshal([]byte(`12345678901234`), &id))
	require.Equal(t, identifier("12345678901234"), id)
	require.Error(t, json.Unmarshal([]byte(`{}`), &id))
}
