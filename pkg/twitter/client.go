// Package twitter is a small X API v2 client covering what the mention bot
// needs: identity, mentions, replies and photo download.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"

	"github.com/artcritic/artcritic/pkg/logger"
	"github.com/artcritic/artcritic/pkg/media"
	"github.com/artcritic/artcritic/pkg/utils"
)

const (
	DefaultAPIBase = "https://api.twitter.com"
	// MaxTweetLength is counted in runes.
	MaxTweetLength = 280

	maxPages = 10
)

type Credentials struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	BearerToken  string
}

// NewHTTPClient returns an http.Client that authorises every request. With a
// refresh token and client id the access token is refreshed through the
// OAuth2 token endpoint; otherwise the token is used as-is.
func NewHTTPClient(ctx context.Context, apiBase string, creds Credentials) *http.Client {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: creds.BearerToken,
			TokenType:   "Bearer",
		}))
	}

	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
	}
	if creds.RefreshToken == "" || creds.ClientID == "" {
		return oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	}

	// The stored access token has no known expiry; refresh on first use.
	tok.Expiry = time.Now().Add(-time.Minute)
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  strings.TrimSuffix(apiBase, "/") + "/2/oauth2/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	return conf.Client(ctx, tok)
}

// APIError is a non-2xx reply from the X API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitter API returned %d: %s", e.StatusCode, e.Body)
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Mention is a tweet that mentions the bot, with its photo URLs resolved.
type Mention struct {
	ID             string
	Text           string
	AuthorID       string
	AuthorUsername string
	PhotoURLs      []string
}

type Options struct {
	APIBase    string
	HTTPClient *http.Client
	// MaxResults per mentions page, 5..100.
	MaxResults int
	Timeout    time.Duration
	// Fetcher downloads photos; media URLs are public so it need not carry auth.
	Fetcher *media.Fetcher
}

type Client struct {
	api        *resty.Client
	fetcher    *media.Fetcher
	maxResults int

	mu sync.Mutex
	me *User
}

func NewClient(opts Options) *Client {
	if opts.APIBase == "" {
		opts.APIBase = DefaultAPIBase
	}
	if opts.MaxResults < 5 || opts.MaxResults > 100 {
		opts.MaxResults = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	var api *resty.Client
	if opts.HTTPClient != nil {
		api = resty.NewWithClient(opts.HTTPClient)
	} else {
		api = resty.New()
	}
	api.SetBaseURL(strings.TrimSuffix(opts.APIBase, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = media.NewFetcher(media.FetchOptions{LoggerPrefix: "twitter"})
	}
	return &Client{api: api, fetcher: fetcher, maxResults: opts.MaxResults}
}

type apiTweet struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	AuthorID    string `json:"author_id"`
	Attachments struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
}

type apiMedia struct {
	MediaKey string `json:"media_key"`
	Type     string `json:"type"`
	URL      string `json:"url"`
}

type apiIncludes struct {
	Media []apiMedia `json:"media"`
	Users []User     `json:"users"`
}

type tweetsPage struct {
	Data     []apiTweet  `json:"data"`
	Includes apiIncludes `json:"includes"`
	Meta     struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, out interface{}) error {
	resp, err := c.api.R().SetContext(ctx).SetQueryParams(query).Get(path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return &APIError{StatusCode: resp.StatusCode(), Body: strings.TrimSpace(string(resp.Body()))}
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Me returns the authenticated account. The result is cached.
func (c *Client) Me(ctx context.Context) (*User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.me != nil {
		return c.me, nil
	}

	var out struct {
		Data User `json:"data"`
	}
	if err := c.get(ctx, "/2/users/me", nil, &out); err != nil {
		return nil, err
	}
	if out.Data.ID == "" {
		return nil, fmt.Errorf("users/me returned no id")
	}
	c.me = &out.Data
	return c.me, nil
}

// MentionsSince returns mentions newer than sinceID, oldest first. With an
// empty sinceID only the most recent page is fetched so a fresh bot does not
// walk the whole mention history.
func (c *Client) MentionsSince(ctx context.Context, sinceID string) ([]Mention, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return nil, err
	}

	query := map[string]string{
		"max_results":  strconv.Itoa(c.maxResults),
		"expansions":   "attachments.media_keys,author_id",
		"media.fields": "url,type",
		"user.fields":  "username",
		"tweet.fields": "author_id,attachments",
	}
	if sinceID != "" {
		query["since_id"] = sinceID
	}

	var mentions []Mention
	for page := 0; page < maxPages; page++ {
		var p tweetsPage
		if err := c.get(ctx, "/2/users/"+me.ID+"/mentions", query, &p); err != nil {
			return nil, err
		}
		mentions = append(mentions, flatten(p)...)

		if p.Meta.NextToken == "" || sinceID == "" {
			break
		}
		query["pagination_token"] = p.Meta.NextToken
	}

	sort.SliceStable(mentions, func(i, j int) bool {
		return CompareIDs(mentions[i].ID, mentions[j].ID) < 0
	})
	return mentions, nil
}

func flatten(p tweetsPage) []Mention {
	photos := make(map[string]string, len(p.Includes.Media))
	for _, m := range p.Includes.Media {
		if m.Type == "photo" && m.URL != "" {
			photos[m.MediaKey] = m.URL
		}
	}
	users := make(map[string]string, len(p.Includes.Users))
	for _, u := range p.Includes.Users {
		users[u.ID] = u.Username
	}

	out := make([]Mention, 0, len(p.Data))
	for _, t := range p.Data {
		m := Mention{
			ID:             t.ID,
			Text:           t.Text,
			AuthorID:       t.AuthorID,
			AuthorUsername: users[t.AuthorID],
		}
		for _, key := range t.Attachments.MediaKeys {
			if u, ok := photos[key]; ok {
				m.PhotoURLs = append(m.PhotoURLs, u)
			}
		}
		out = append(out, m)
	}
	return out
}

// Tweet looks up a single tweet with its photos.
func (c *Client) Tweet(ctx context.Context, id string) (*Mention, error) {
	var out struct {
		Data     *apiTweet   `json:"data"`
		Includes apiIncludes `json:"includes"`
	}
	err := c.get(ctx, "/2/tweets/"+id, map[string]string{
		"expansions":   "attachments.media_keys,author_id",
		"media.fields": "url,type",
		"user.fields":  "username",
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Data == nil {
		return nil, fmt.Errorf("tweet %s not found", id)
	}
	ms := flatten(tweetsPage{Data: []apiTweet{*out.Data}, Includes: out.Includes})
	return &ms[0], nil
}

type replyRequest struct {
	Text  string `json:"text"`
	Reply struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	} `json:"reply"`
}

// PostReply threads text under inReplyTo and returns the new tweet id.
func (c *Client) PostReply(ctx context.Context, text, inReplyTo string) (string, error) {
	body := replyRequest{Text: utils.Truncate(text, MaxTweetLength)}
	body.Reply.InReplyToTweetID = inReplyTo

	resp, err := c.api.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/2/tweets")
	if err != nil {
		return "", fmt.Errorf("POST /2/tweets: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return "", &APIError{StatusCode: resp.StatusCode(), Body: strings.TrimSpace(string(resp.Body()))}
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode reply: %w", err)
	}
	logger.DebugCF("twitter", "Reply posted", map[string]interface{}{
		"tweet_id":    out.Data.ID,
		"in_reply_to": inReplyTo,
	})
	return out.Data.ID, nil
}

func (c *Client) DownloadMedia(ctx context.Context, url string) (*media.Fetched, error) {
	return c.fetcher.Fetch(ctx, url)
}
