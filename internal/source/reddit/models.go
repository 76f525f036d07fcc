package reddit

import "encoding/json"

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// thing is reddit's envelope: every API object is a kind tag plus a payload
// whose shape depends on the kind ("Listing", "t1" comment, "t3" post).
type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type listingData struct {
	After    string  `json:"after"`
	Children []thing `json:"children"`
}

type postData struct {
	ID                string     `json:"id"`
	Subreddit         string     `json:"subreddit"`
	Author            string     `json:"author"`
	Title             string     `json:"title"`
	SelfText          string     `json:"selftext"`
	URL               string     `json:"url"`
	Permalink         string     `json:"permalink"`
	Score             int        `json:"score"`
	UpvoteRatio       float64    `json:"upvote_ratio"`
	NumComments       int        `json:"num_comments"`
	Edited            editedFlag `json:"edited"`
	IsSelf            bool       `json:"is_self"`
	LinkFlairText     *string    `json:"link_flair_text"`
	CreatedUTC        float64    `json:"created_utc"`
	RemovedByCategory *string    `json:"removed_by_category"`
}

type commentData struct {
	ID          string          `json:"id"`
	Author      string          `json:"author"`
	Body        string          `json:"body"`
	Score       int             `json:"score"`
	ParentID    string          `json:"parent_id"`
	IsSubmitter bool            `json:"is_submitter"`
	Edited      editedFlag      `json:"edited"`
	CreatedUTC  float64         `json:"created_utc"`
	Replies     json.RawMessage `json:"replies"`
}

// editedFlag models reddit's edited field, which is either false or the
// timestamp of the last edit.
type editedFlag bool

func (e *editedFlag) UnmarshalJSON(data []byte) error {
	s := string(data)
	*e = s != "false" && s != "null" && s != `""`
	return nil
}
