package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"

	"reddit_agent/internal/config"
	"reddit_agent/internal/domain"
)

const (
	defaultTokenURL = "https://www.reddit.com/api/v1/access_token"
	defaultBaseURL  = "https://oauth.reddit.com"

	// Reddit's maximum listing page size.
	pageSize = 100

	// Extra posts pulled from the hot feed to catch high-engagement
	// threads the chronological walk may have missed.
	hotFeedLimit = 50

	deletedAuthor = "[deleted]"
)

// excludedAuthors are dropped from comment lists: bots and service accounts
// that add noise without content. Matched case-insensitively.
var excludedAuthors = map[string]struct{}{
	"automoderator":     {},
	"moderatorbot":      {},
	"botdefense":        {},
	"remindmebot":       {},
	"savevideo":         {},
	"vredditdownloader": {},
	"[deleted]":         {},
}

var errNotFound = errors.New("thread not found")

// Client fetches thread snapshots from the reddit API using an
// application-only OAuth2 token. All requests go through a shared rate
// limiter and the retry policy from the config; credential rejections are
// surfaced as domain.ErrFatal so a run aborts instead of hammering the API.
type Client struct {
	httpClient *http.Client
	cfg        config.RedditConfig
	limiter    *rate.Limiter
	logger     *slog.Logger

	baseURL  string
	tokenURL string
	now      func() time.Time

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func New(cfg config.RedditConfig, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		logger:     logger.With("source", "reddit"),
		baseURL:    defaultBaseURL,
		tokenURL:   defaultTokenURL,
		now:        time.Now,
	}
}

// DiscoverWindow walks the new feed of every configured subreddit back
// through the time window and returns full snapshots, comments included.
// Individual thread fetch failures are logged and skipped; a failing
// subreddit listing fails the whole discovery.
func (c *Client) DiscoverWindow(ctx context.Context) ([]domain.ThreadSnapshot, error) {
	cutoff := c.now().Add(-c.cfg.TimeWindow)

	var ids []string
	seen := make(map[string]struct{})

	for _, sub := range c.cfg.Subreddits {
		subIDs, err := c.listWindow(ctx, sub, cutoff)
		if err != nil {
			return nil, fmt.Errorf("list r/%s: %w", sub, err)
		}
		for _, id := range subIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		c.logger.Info("subreddit window listed",
			"subreddit", sub,
			"threads", len(subIDs),
		)
	}

	snapshots := make([]domain.ThreadSnapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := c.FetchThread(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrFatal) || ctx.Err() != nil {
				return nil, err
			}
			c.logger.Warn("thread fetch failed during discovery",
				"thread_id", id,
				"error", err,
			)
			continue
		}
		snapshots = append(snapshots, *snap)
	}

	return snapshots, nil
}

// FetchThread fetches one thread with its comment tree. A vanished thread
// (404) is not an error: it comes back as a snapshot with Removed set.
func (c *Client) FetchThread(ctx context.Context, threadID string) (*domain.ThreadSnapshot, error) {
	reqURL := fmt.Sprintf("%s/comments/%s?limit=%d&raw_json=1", c.baseURL, threadID, c.cfg.MaxComments)

	var pages []thing
	if err := c.getJSON(ctx, reqURL, &pages); err != nil {
		if errors.Is(err, errNotFound) {
			return &domain.ThreadSnapshot{ID: threadID, Removed: true}, nil
		}
		return nil, fmt.Errorf("fetch thread %s: %w", threadID, err)
	}
	if len(pages) < 2 {
		return nil, fmt.Errorf("fetch thread %s: malformed response", threadID)
	}

	var postListing listingData
	if err := json.Unmarshal(pages[0].Data, &postListing); err != nil {
		return nil, fmt.Errorf("fetch thread %s: decode post listing: %w", threadID, err)
	}
	if len(postListing.Children) == 0 {
		return &domain.ThreadSnapshot{ID: threadID, Removed: true}, nil
	}

	var pd postData
	if err := json.Unmarshal(postListing.Children[0].Data, &pd); err != nil {
		return nil, fmt.Errorf("fetch thread %s: decode post: %w", threadID, err)
	}

	var commentListing listingData
	if err := json.Unmarshal(pages[1].Data, &commentListing); err != nil {
		return nil, fmt.Errorf("fetch thread %s: decode comments: %w", threadID, err)
	}

	var comments []domain.Comment
	c.flattenComments(commentListing.Children, 0, &comments)

	return c.snapshotFromPost(pd, comments), nil
}

// listWindow pages through /r/<sub>/new until it hits posts older than the
// cutoff, then supplements from the hot feed so high-engagement threads are
// never missed.
func (c *Client) listWindow(ctx context.Context, subreddit string, cutoff time.Time) ([]string, error) {
	var ids []string
	seen := make(map[string]struct{})
	after := ""

	for {
		reqURL := fmt.Sprintf("%s/r/%s/new?limit=%d&raw_json=1", c.baseURL, subreddit, pageSize)
		if after != "" {
			reqURL += "&after=" + url.QueryEscape(after)
		}

		var page thing
		if err := c.getJSON(ctx, reqURL, &page); err != nil {
			return nil, err
		}

		var ld listingData
		if err := json.Unmarshal(page.Data, &ld); err != nil {
			return nil, fmt.Errorf("decode listing: %w", err)
		}
		if len(ld.Children) == 0 {
			break
		}

		reachedCutoff := false
		for _, child := range ld.Children {
			var pd postData
			if err := json.Unmarshal(child.Data, &pd); err != nil {
				continue
			}
			if time.Unix(int64(pd.CreatedUTC), 0).Before(cutoff) {
				reachedCutoff = true
				break
			}
			if _, ok := seen[pd.ID]; !ok {
				seen[pd.ID] = struct{}{}
				ids = append(ids, pd.ID)
			}
		}

		if reachedCutoff || len(ld.Children) < pageSize || ld.After == "" {
			break
		}
		after = ld.After
	}

	hotURL := fmt.Sprintf("%s/r/%s/hot?limit=%d&raw_json=1", c.baseURL, subreddit, hotFeedLimit)
	var hotPage thing
	if err := c.getJSON(ctx, hotURL, &hotPage); err != nil {
		// The chronological walk already covered the window.
		c.logger.Warn("hot feed fetch failed", "subreddit", subreddit, "error", err)
		return ids, nil
	}

	var hot listingData
	if err := json.Unmarshal(hotPage.Data, &hot); err != nil {
		return ids, nil
	}
	for _, child := range hot.Children {
		var pd postData
		if err := json.Unmarshal(child.Data, &pd); err != nil {
			continue
		}
		if time.Unix(int64(pd.CreatedUTC), 0).Before(cutoff) {
			continue
		}
		if _, ok := seen[pd.ID]; !ok {
			seen[pd.ID] = struct{}{}
			ids = append(ids, pd.ID)
		}
	}

	return ids, nil
}

func (c *Client) flattenComments(children []thing, depth int, out *[]domain.Comment) {
	for _, child := range children {
		if len(*out) >= c.cfg.MaxComments {
			return
		}
		// "more" stubs are not expanded; the comment cap applies anyway.
		if child.Kind != "t1" {
			continue
		}

		var cd commentData
		if err := json.Unmarshal(child.Data, &cd); err != nil {
			c.logger.Warn("comment decode failed", "error", err)
			continue
		}

		author := cd.Author
		if author == "" {
			author = deletedAuthor
		}
		if _, banned := excludedAuthors[strings.ToLower(author)]; !banned {
			*out = append(*out, domain.Comment{
				ID:          cd.ID,
				Author:      author,
				Body:        cd.Body,
				Score:       cd.Score,
				Depth:       depth,
				ParentID:    cd.ParentID,
				IsSubmitter: cd.IsSubmitter,
				Edited:      bool(cd.Edited),
				CreatedUTC:  time.Unix(int64(cd.CreatedUTC), 0).UTC(),
			})
		}

		if len(cd.Replies) == 0 || string(cd.Replies) == `""` {
			continue
		}
		var replies thing
		if err := json.Unmarshal(cd.Replies, &replies); err != nil {
			continue
		}
		var rl listingData
		if err := json.Unmarshal(replies.Data, &rl); err != nil {
			continue
		}
		c.flattenComments(rl.Children, depth+1, out)
	}
}

func (c *Client) snapshotFromPost(pd postData, comments []domain.Comment) *domain.ThreadSnapshot {
	snap := &domain.ThreadSnapshot{
		ID:          pd.ID,
		Subreddit:   pd.Subreddit,
		Author:      pd.Author,
		Title:       pd.Title,
		SelfText:    pd.SelfText,
		URL:         pd.URL,
		Permalink:   pd.Permalink,
		Score:       pd.Score,
		UpvoteRatio: pd.UpvoteRatio,
		NumComments: pd.NumComments,
		Edited:      bool(pd.Edited),
		IsSelf:      pd.IsSelf,
		CreatedUTC:  time.Unix(int64(pd.CreatedUTC), 0).UTC(),
		Comments:    comments,
	}
	if snap.Author == "" {
		snap.Author = deletedAuthor
	}
	if pd.LinkFlairText != nil {
		snap.Flair = *pd.LinkFlairText
	}

	switch {
	case pd.RemovedByCategory != nil:
		snap.Removed = true
	case pd.SelfText == "[removed]" || pd.SelfText == "[deleted]":
		snap.Removed = true
	case snap.Author == deletedAuthor && pd.IsSelf:
		snap.Removed = true
	}

	return snap
}

// getJSON runs one authenticated GET with rate limiting and retries. An
// expired token is refreshed transparently on the next attempt; rejected
// credentials stop the retry loop and carry domain.ErrFatal.
func (c *Client) getJSON(ctx context.Context, reqURL string, v any) error {
	return retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}

			token, err := c.token(ctx)
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("User-Agent", c.cfg.UserAgent)
			req.Header.Set("Accept", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("execute request: %w", err)
			}
			defer resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusOK:
			case http.StatusUnauthorized:
				// Expired token; refresh and retry.
				c.invalidateToken()
				return fmt.Errorf("token rejected, refreshing")
			case http.StatusForbidden:
				return retry.Unrecoverable(fmt.Errorf("access forbidden (status %d): %w", resp.StatusCode, domain.ErrFatal))
			case http.StatusNotFound:
				return retry.Unrecoverable(errNotFound)
			default:
				return fmt.Errorf("unexpected status: %d", resp.StatusCode)
			}

			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		},
		retry.Attempts(c.cfg.Retry.MaxAttempts),
		retry.Delay(c.cfg.Retry.InitialBackoff),
		retry.MaxDelay(c.cfg.Retry.MaxBackoff),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("reddit request retried",
				"attempt", n,
				"url", reqURL,
				"error", err,
			)
		}),
	)
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", retry.Unrecoverable(fmt.Errorf("reddit rejected credentials (status %d): %w", resp.StatusCode, domain.ErrFatal))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token status: %d", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("empty access token")
	}

	c.accessToken = tok.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)

	c.logger.Debug("access token refreshed", "expires_in", tok.ExpiresIn)
	return c.accessToken, nil
}

func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.accessToken = ""
	c.tokenMu.Unlock()
}
