package contextual

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddit_agent/internal/config"
	"reddit_agent/internal/domain"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(config.DatastoreConfig{
		BaseURL:     srv.URL,
		APIKey:      "key",
		DatastoreID: "ds-1",
		Timeout:     5 * time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
	}, logger)
}

func testSnapshot() *domain.ThreadSnapshot {
	return &domain.ThreadSnapshot{
		ID:          "abc",
		Subreddit:   "RAG",
		Author:      "asker",
		Title:       "Chunking strategies",
		SelfText:    "What works for long transcripts?",
		Permalink:   "/r/RAG/comments/abc/chunking/",
		Score:       42,
		UpvoteRatio: 0.93,
		NumComments: 1,
		IsSelf:      true,
		Flair:       "Question",
		CreatedUTC:  time.Date(2025, 6, 30, 18, 30, 0, 0, time.UTC),
		Comments: []domain.Comment{
			{ID: "c1", Author: "alice", Body: "Semantic splits.", Score: 4},
		},
	}
}

func TestIngestUploadsHTMLDocument(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/datastores/ds-1/documents", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		assert.Equal(t, "reddit_post_abc.html", header.Filename)
		body, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Contains(t, string(body), "Chunking strategies")
		assert.Contains(t, string(body), "Semantic splits.")

		fmt.Fprint(w, `{"id": "doc-123"}`)
	})

	id, err := c.Ingest(context.Background(), testSnapshot())

	require.NoError(t, err)
	assert.Equal(t, "doc-123", id)
}

func TestIngestReturnsEmptyIDWhenResponseOmitsIt(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})

	id, err := c.Ingest(context.Background(), testSnapshot())

	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestUpdateMetadataPostsCustomMetadata(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/datastores/ds-1/documents/doc-123/metadata", r.URL.Path)

		var payload struct {
			CustomMetadata map[string]any `json:"custom_metadata"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		assert.Equal(t, "RAG", payload.CustomMetadata["subreddit"])
		assert.Equal(t, float64(42), payload.CustomMetadata["score"])
		assert.Equal(t, float64(9300), payload.CustomMetadata["upvote_ratio_bp"])
		assert.Equal(t, "Question", payload.CustomMetadata["flair"])

		w.WriteHeader(http.StatusOK)
	})

	err := c.UpdateMetadata(context.Background(), "doc-123", testSnapshot())

	require.NoError(t, err)
}

func TestDeleteMapsNotFoundToDocumentAbsent(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	})

	err := c.Delete(context.Background(), "doc-gone")

	require.ErrorIs(t, err, domain.ErrDocumentAbsent)
	assert.Equal(t, int32(1), calls.Load(), "404 must not be retried")
}

func TestDeleteRemovesDocument(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/v1/datastores/ds-1/documents/doc-123", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.Delete(context.Background(), "doc-123"))
}

func TestRejectedCredentialsAreFatal(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Ingest(context.Background(), testSnapshot())

	require.ErrorIs(t, err, domain.ErrFatal)
	assert.Equal(t, int32(1), calls.Load())
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		// The multipart body must be rebuilt on every attempt.
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "reddit_post_abc.html", header.Filename)
		fmt.Fprint(w, `{"id": "doc-123"}`)
	})

	id, err := c.Ingest(context.Background(), testSnapshot())

	require.NoError(t, err)
	assert.Equal(t, "doc-123", id)
	assert.Equal(t, int32(3), calls.Load())
}
