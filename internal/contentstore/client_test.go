package contentstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientCreateObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/objects", r.URL.Path)
		require.Equal(t, "Token secret", r.Header.Get("Authorization"))

		var meta ObjectMetadata
		require.NoError(t, json.NewDecoder(r.Body).Decode(&meta))
		require.Equal(t, "besluit.pdf", meta.FileName)

		_ = json.NewEncoder(w).Encode(CreatedObject{
			ObjectID:  "obj-1",
			LockToken: "lock-1",
			Parts: []Part{
				{Seq: 1, SizeBytes: 1024, URL: "http://store/parts/1"},
				{Seq: 2, SizeBytes: 512, URL: "http://store/parts/2"},
			},
		})
	}))
	defer srv.Close()

	client := New(Config{StoreID: "store-1", BaseURL: srv.URL, APIKey: "secret"})
	created, err := client.CreateObject(context.Background(), ObjectMetadata{
		FileName: "besluit.pdf", Format: "application/pdf", SizeBytes: 1536,
	})
	require.NoError(t, err)
	require.Equal(t, "obj-1", created.ObjectID)
	require.Equal(t, "lock-1", created.LockToken)
	require.Len(t, created.Parts, 2)
}

func TestClientUploadPartSendsLockToken(t *testing.T) {
	var lock string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/objects/obj-1/parts/2", r.URL.Path)
		lock = r.Header.Get("X-Lock-Token")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	err := client.UploadPart(context.Background(), "obj-1", 2, "lock-1", []byte("chunk"))
	require.NoError(t, err)
	require.Equal(t, "lock-1", lock)
	require.Equal(t, []byte("chunk"), body)
}

func TestClientRetrieveObjectByURLAndID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(StoredObject{ObjectID: "obj-9", Complete: true})
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})

	byID, err := client.RetrieveObject(context.Background(), "obj-9")
	require.NoError(t, err)
	require.Equal(t, "obj-9", byID.ObjectID)

	byURL, err := client.RetrieveObject(context.Background(), srv.URL+"/objects/obj-9")
	require.NoError(t, err)
	require.True(t, byURL.Complete)
}

func TestClientDownloadPropagatesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	_, _, err := client.Download(context.Background(), "obj-1")
	require.Error(t, err)
}

func TestClientPartsCompleteAndUnlock(t *testing.T) {
	var unlocked string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/objects/obj-1/status":
			_ = json.NewEncoder(w).Encode(map[string]bool{"complete": true})
		case "/objects/obj-1/unlock":
			var payload map[string]string
			_ = json.NewDecoder(r.Body).Decode(&payload)
			unlocked = payload["lock"]
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	complete, err := client.PartsComplete(context.Background(), "obj-1")
	require.NoError(t, err)
	require.True(t, complete)

	require.NoError(t, client.Unlock(context.Background(), "obj-1", "lock-1"))
	require.Equal(t, "lock-1", unlocked)
}
