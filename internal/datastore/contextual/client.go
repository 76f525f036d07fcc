package contextual

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/codeGROOVE-dev/retry"

	"reddit_agent/internal/config"
	"reddit_agent/internal/domain"
)

var errNotFound = errors.New("not found")

// Client talks to the Contextual AI datastore REST API. Documents are
// ingested as HTML files; metadata is set separately and can be updated
// without re-ingestion. Credential rejections carry domain.ErrFatal.
type Client struct {
	httpClient *http.Client
	cfg        config.DatastoreConfig
	logger     *slog.Logger
	baseURL    string
}

func New(cfg config.DatastoreConfig, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger.With("datastore", cfg.DatastoreID),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
	}
}

type ingestResponse struct {
	ID string `json:"id"`
}

// Ingest uploads the snapshot as an HTML document and returns the document
// id reported by the store. The id may be empty when the response omits it;
// identity resolution is the caller's concern.
func (c *Client) Ingest(ctx context.Context, snap *domain.ThreadSnapshot) (string, error) {
	doc := renderDocument(snap)
	filename := fmt.Sprintf("reddit_post_%s.html", snap.ID)
	reqURL := fmt.Sprintf("%s/v1/datastores/%s/documents", c.baseURL, c.cfg.DatastoreID)

	makeBody := func() (io.Reader, string, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
		header.Set("Content-Type", "text/html")
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("create multipart: %w", err)
		}
		if _, err := io.WriteString(part, doc); err != nil {
			return nil, "", fmt.Errorf("write document: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("close multipart: %w", err)
		}
		return &buf, w.FormDataContentType(), nil
	}

	var out ingestResponse
	if err := c.do(ctx, http.MethodPost, reqURL, makeBody, &out); err != nil {
		if errors.Is(err, errNotFound) {
			return "", fmt.Errorf("datastore %s not found: %w", c.cfg.DatastoreID, domain.ErrFatal)
		}
		return "", fmt.Errorf("ingest %s: %w", snap.ID, err)
	}

	c.logger.Info("document ingested",
		"thread_id", snap.ID,
		"document_id", out.ID,
		"size_bytes", len(doc),
	)
	return out.ID, nil
}

// UpdateMetadata sets the filterable metadata on an existing document
// without touching its content.
func (c *Client) UpdateMetadata(ctx context.Context, documentID string, snap *domain.ThreadSnapshot) error {
	reqURL := fmt.Sprintf("%s/v1/datastores/%s/documents/%s/metadata", c.baseURL, c.cfg.DatastoreID, documentID)

	payload, err := json.Marshal(map[string]any{
		"custom_metadata": documentMetadata(snap),
	})
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	makeBody := func() (io.Reader, string, error) {
		return bytes.NewReader(payload), "application/json", nil
	}

	if err := c.do(ctx, http.MethodPost, reqURL, makeBody, nil); err != nil {
		if errors.Is(err, errNotFound) {
			return fmt.Errorf("document %s not found for metadata update", documentID)
		}
		return fmt.Errorf("update metadata %s: %w", documentID, err)
	}

	c.logger.Debug("metadata updated",
		"thread_id", snap.ID,
		"document_id", documentID,
	)
	return nil
}

// Delete removes a document. Deleting a document that is already gone
// returns domain.ErrDocumentAbsent, which callers treat as success.
func (c *Client) Delete(ctx context.Context, documentID string) error {
	reqURL := fmt.Sprintf("%s/v1/datastores/%s/documents/%s", c.baseURL, c.cfg.DatastoreID, documentID)

	err := c.do(ctx, http.MethodDelete, reqURL, nil, nil)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return fmt.Errorf("delete %s: %w", documentID, domain.ErrDocumentAbsent)
		}
		return fmt.Errorf("delete %s: %w", documentID, err)
	}

	c.logger.Info("document deleted", "document_id", documentID)
	return nil
}

// do runs one request with the configured retry policy. makeBody is invoked
// per attempt so request bodies are fresh on every retry; it may be nil for
// bodyless requests.
func (c *Client) do(ctx context.Context, method, reqURL string, makeBody func() (io.Reader, string, error), v any) error {
	return retry.Do(
		func() error {
			var body io.Reader = http.NoBody
			contentType := ""
			if makeBody != nil {
				b, ct, err := makeBody()
				if err != nil {
					return retry.Unrecoverable(err)
				}
				body, contentType = b, ct
			}

			req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
			req.Header.Set("Accept", "application/json")
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("execute request: %w", err)
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				if v != nil {
					if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
						return fmt.Errorf("decode response: %w", err)
					}
				}
				return nil
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				return retry.Unrecoverable(fmt.Errorf("datastore rejected credentials (status %d): %w", resp.StatusCode, domain.ErrFatal))
			case resp.StatusCode == http.StatusNotFound:
				return retry.Unrecoverable(errNotFound)
			case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
				return fmt.Errorf("unexpected status: %d", resp.StatusCode)
			default:
				return retry.Unrecoverable(fmt.Errorf("unexpected status: %d", resp.StatusCode))
			}
		},
		retry.Attempts(c.cfg.Retry.MaxAttempts),
		retry.Delay(c.cfg.Retry.InitialBackoff),
		retry.MaxDelay(c.cfg.Retry.MaxBackoff),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("datastore request retried",
				"attempt", n,
				"method", method,
				"url", reqURL,
				"error", err,
			)
		}),
	)
}
