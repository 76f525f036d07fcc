package contextual

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddit_agent/internal/domain"
)

func TestRenderDocumentStructure(t *testing.T) {
	snap := &domain.ThreadSnapshot{
		ID:          "abc",
		Subreddit:   "RAG",
		Author:      "asker",
		Title:       "Vector DBs <and> chunking",
		SelfText:    "Some <b>markup</b> in the body",
		Permalink:   "/r/RAG/comments/abc/thread/",
		Score:       10,
		NumComments: 2,
		IsSelf:      true,
		CreatedUTC:  time.Date(2025, 6, 30, 18, 30, 0, 0, time.UTC),
		Comments: []domain.Comment{
			{ID: "c1", Author: "low", Body: "minor point", Score: 1, Depth: 1},
			{ID: "c2", Author: "high", Body: "the good answer", Score: 9, IsSubmitter: true, Edited: true},
		},
	}

	doc := renderDocument(snap)

	// User content is escaped, never raw.
	assert.Contains(t, doc, "Vector DBs &lt;and&gt; chunking")
	assert.Contains(t, doc, "Some &lt;b&gt;markup&lt;/b&gt; in the body")
	assert.NotContains(t, doc, "<b>markup</b>")

	assert.Contains(t, doc, `data-post-id="abc"`)
	assert.Contains(t, doc, "https://reddit.com/r/RAG/comments/abc/thread/")

	// Comments are ordered by score, highest first.
	high := strings.Index(doc, "the good answer")
	low := strings.Index(doc, "minor point")
	require.Greater(t, high, 0)
	require.Greater(t, low, 0)
	assert.Less(t, high, low)

	assert.Contains(t, doc, "Comment #1 by u/high")
	assert.Contains(t, doc, "[OP, edited]")
	assert.Contains(t, doc, "[reply depth 1]")
}

func TestRenderDocumentLinkPost(t *testing.T) {
	snap := &domain.ThreadSnapshot{
		ID:        "lnk",
		Subreddit: "RAG",
		Author:    "poster",
		Title:     "Interesting paper",
		URL:       "https://example.com/paper.pdf",
		Permalink: "/r/RAG/comments/lnk/paper/",
		IsSelf:    false,
	}

	doc := renderDocument(snap)

	assert.Contains(t, doc, "Link post with no text.")
	assert.Contains(t, doc, "https://example.com/paper.pdf")
}

func TestDocumentMetadataFields(t *testing.T) {
	snap := &domain.ThreadSnapshot{
		ID:          "abc",
		Subreddit:   "RAG",
		Author:      "asker",
		Title:       "Chunking",
		Permalink:   "/r/RAG/comments/abc/",
		Score:       42,
		UpvoteRatio: 0.937,
		NumComments: 7,
		IsSelf:      true,
		Flair:       "Question",
		CreatedUTC:  time.Date(2025, 6, 30, 18, 30, 0, 0, time.UTC),
	}

	md := documentMetadata(snap)

	assert.Equal(t, "https://reddit.com/r/RAG/comments/abc/", md["url"])
	assert.Equal(t, "RAG", md["subreddit"])
	assert.Equal(t, 42, md["score"])
	assert.Equal(t, 9370, md["upvote_ratio_bp"])
	assert.Equal(t, "abc", md["post_id"])
	assert.Equal(t, "Question", md["flair"])
	assert.Equal(t, "2025-06-30T18:30:00Z", md["created_utc"])
	assert.NotContains(t, md, "external_url")
}

func TestDocumentMetadataLinkPost(t *testing.T) {
	snap := &domain.ThreadSnapshot{
		ID:        "lnk",
		Subreddit: "RAG",
		URL:       "https://example.com/paper.pdf",
		Permalink: "/r/RAG/comments/lnk/",
		IsSelf:    false,
	}

	md := documentMetadata(snap)

	assert.Equal(t, "https://example.com/paper.pdf", md["external_url"])
	assert.NotContains(t, md, "flair")
}
