package contextual

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"reddit_agent/internal/domain"
)

// pacific is used alongside UTC in rendered timestamps so date-based user
// queries match the community's working hours.
var pacific = func() *time.Location {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		return time.UTC
	}
	return loc
}()

func formatDualTime(t time.Time) string {
	utc := t.UTC()
	local := utc.In(pacific)
	return fmt.Sprintf("%s (%s)",
		local.Format("Jan 02, 2006 at 03:04 PM MST"),
		utc.Format("2006-01-02 15:04 UTC"),
	)
}

// renderDocument converts a thread snapshot to an HTML document for
// ingestion. The structure is tuned for retrieval: explicit post/comment
// labels, comment metadata inline, comments ordered by score so the most
// substantive replies chunk first.
func renderDocument(snap *domain.ThreadSnapshot) string {
	var b strings.Builder

	title := html.EscapeString(snap.Title)
	author := html.EscapeString(snap.Author)

	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString("    <meta charset=\"UTF-8\">\n")
	fmt.Fprintf(&b, "    <title>%s</title>\n", title)
	b.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&b, "    <article data-post-id=%q data-subreddit=%q>\n", snap.ID, snap.Subreddit)

	b.WriteString("        <header>\n")
	fmt.Fprintf(&b, "            <h1>[POST] %s</h1>\n", title)
	fmt.Fprintf(&b, "            <p><strong>Subreddit:</strong> r/%s</p>\n", snap.Subreddit)
	fmt.Fprintf(&b, "            <p><strong>Author:</strong> u/%s</p>\n", author)
	fmt.Fprintf(&b, "            <p><strong>Posted:</strong> %s</p>\n", formatDualTime(snap.CreatedUTC))
	fmt.Fprintf(&b, "            <p><strong>Reddit URL:</strong> <a href=%q>%s</a></p>\n", snap.FullURL(), snap.FullURL())
	if !snap.IsSelf && snap.URL != "" && snap.URL != snap.FullURL() {
		fmt.Fprintf(&b, "            <p><strong>External Link:</strong> <a href=%q>%s</a></p>\n", snap.URL, html.EscapeString(snap.URL))
	}
	fmt.Fprintf(&b, "            <p><strong>Stats:</strong> %d upvotes, %d comments</p>\n", snap.Score, snap.NumComments)
	b.WriteString("        </header>\n")

	b.WriteString("        <section class=\"main-post-content\">\n")
	b.WriteString("            <h2>Post Content</h2>\n")
	if snap.SelfText != "" {
		fmt.Fprintf(&b, "            <div class=\"post-body\">%s</div>\n", html.EscapeString(snap.SelfText))
	} else {
		b.WriteString("            <p><em>Link post with no text.</em></p>\n")
	}
	b.WriteString("        </section>\n")

	if len(snap.Comments) > 0 {
		sorted := make([]domain.Comment, len(snap.Comments))
		copy(sorted, snap.Comments)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Score > sorted[j].Score
		})

		b.WriteString("        <section class=\"comments\">\n")
		fmt.Fprintf(&b, "            <h2>Community Discussion (%d comments)</h2>\n", len(sorted))
		b.WriteString("            <p><em>These are replies to the post above. Users can reply at the Reddit link.</em></p>\n")

		for i, c := range sorted {
			var tags []string
			if c.IsSubmitter {
				tags = append(tags, "OP")
			}
			if c.Edited {
				tags = append(tags, "edited")
			}
			if c.Depth > 0 {
				tags = append(tags, fmt.Sprintf("reply depth %d", c.Depth))
			}
			tagsStr := ""
			if len(tags) > 0 {
				tagsStr = " [" + strings.Join(tags, ", ") + "]"
			}

			fmt.Fprintf(&b, "            <div class=\"comment\" data-comment-id=%q data-depth=\"%d\">\n", c.ID, c.Depth)
			fmt.Fprintf(&b, "                <p><strong>Comment #%d by u/%s</strong> (%d points)%s</p>\n",
				i+1, html.EscapeString(c.Author), c.Score, tagsStr)
			fmt.Fprintf(&b, "                <p><small>Posted: %s</small></p>\n", formatDualTime(c.CreatedUTC))
			fmt.Fprintf(&b, "                <blockquote>%s</blockquote>\n", html.EscapeString(c.Body))
			b.WriteString("            </div>\n")
		}
		b.WriteString("        </section>\n")
	}

	b.WriteString("    </article>\n</body>\n</html>\n")
	return b.String()
}

// documentMetadata builds the filterable metadata for a snapshot. The
// upvote ratio is stored in basis points because the metadata API only
// takes integers and strings.
func documentMetadata(snap *domain.ThreadSnapshot) map[string]any {
	utc := snap.CreatedUTC.UTC()
	local := utc.In(pacific)

	md := map[string]any{
		"url":             snap.FullURL(),
		"subreddit":       snap.Subreddit,
		"author":          snap.Author,
		"title":           snap.Title,
		"score":           snap.Score,
		"num_comments":    snap.NumComments,
		"upvote_ratio_bp": int(snap.UpvoteRatio*10000 + 0.5),
		"created_utc":     utc.Format(time.RFC3339),
		"created_pacific": local.Format(time.RFC3339),
		"date_pacific":    local.Format("2006-01-02"),
		"post_id":         snap.ID,
		"is_self":         snap.IsSelf,
	}

	if !snap.IsSelf && snap.URL != "" && snap.URL != snap.FullURL() {
		md["external_url"] = snap.URL
	}
	if snap.Flair != "" {
		md["flair"] = snap.Flair
	}

	return md
}
