package searchindex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openpubs/publications-api/internal/models"
)

func TestClientSkipsWhenUnconfigured(t *testing.T) {
	client := New(Config{}, nil)
	pub := &models.Publication{ID: "pub-1", Status: models.PublicationStatusPublished}

	result, err := client.IndexPublication(context.Background(), pub)
	require.NoError(t, err)
	require.Equal(t, ResultSkipped, result)
}

func TestClientSkipsNonPublishedEntities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call to %s", r.URL.Path)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, nil)

	result, err := client.IndexPublication(context.Background(), &models.Publication{
		ID: "pub-1", Status: models.PublicationStatusConcept,
	})
	require.NoError(t, err)
	require.Equal(t, ResultSkipped, result)

	result, err = client.RemovePublication(context.Background(), &models.Publication{
		ID: "pub-1", Status: models.PublicationStatusPublished,
	}, false)
	require.NoError(t, err)
	require.Equal(t, ResultSkipped, result)
}

func TestClientForceRemovesPublishedEntity(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, nil)
	result, err := client.RemovePublication(context.Background(), &models.Publication{
		ID: "pub-1", Status: models.PublicationStatusPublished,
	}, true)
	require.NoError(t, err)
	require.Equal(t, ResultSent, result)
	require.Equal(t, http.MethodDelete, method)
	require.Equal(t, "/publications/pub-1", path)
}

func TestClientIndexDocumentSendsDownloadURL(t *testing.T) {
	var auth string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		body = buf
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, APIKey: "secret"}, nil)
	doc := &models.Document{ID: "doc-1", Status: models.DocumentStatusPublished}
	result, err := client.IndexDocument(context.Background(), doc, "https://pub.example/download/doc-1")
	require.NoError(t, err)
	require.Equal(t, ResultSent, result)
	require.Equal(t, "Token secret", auth)
	require.Contains(t, string(body), "https://pub.example/download/doc-1")
}

func TestClientRemoveTolerates404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, nil)
	result, err := client.RemoveDocument(context.Background(), &models.Document{
		ID: "doc-1", Status: models.DocumentStatusRevoked,
	}, false)
	require.NoError(t, err)
	require.Equal(t, ResultSent, result)
}
