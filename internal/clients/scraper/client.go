// Package scraper fetches social-media group posts from the scraping API.
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "immo-alerts/internal/common/errors"
	apphttp "immo-alerts/internal/common/http"
)

// Post is one scraped group post. ID is the external dedup key.
type Post struct {
	ID       string     `json:"id"`
	Text     string     `json:"text"`
	Images   []string   `json:"images"`
	Author   string     `json:"author"`
	URL      string     `json:"url"`
	PostedAt *time.Time `json:"postedAt"`
}

type Page struct {
	Posts         []Post `json:"posts"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

type Client struct {
	baseURL string
	http    *apphttp.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	c := apphttp.NewClient(timeout)
	if apiKey != "" {
		c.WithHeader("Authorization", "Bearer "+apiKey)
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: c}
}

// wirePost accepts the loose shapes the API has been seen to return.
type wirePost struct {
	ID        json.RawMessage `json:"id"`
	PostID    json.RawMessage `json:"post_id"`
	Text      string          `json:"text"`
	Message   string          `json:"message"`
	Images    []string        `json:"images"`
	Author    string          `json:"author"`
	URL       string          `json:"url"`
	PostedAt  json.RawMessage `json:"postedAt"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type wirePage struct {
	Posts         []wirePost `json:"posts"`
	NextPageToken string     `json:"nextPageToken"`
	Cursor        string     `json:"cursor"`
}

// FetchPosts returns one page of posts for a group. An empty page is not an error.
func (c *Client) FetchPosts(ctx context.Context, group, pageToken string) (*Page, error) {
	q := url.Values{}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	endpoint := fmt.Sprintf("%s/groups/%s/posts", c.baseURL, url.PathEscape(group))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var raw wirePage
	if err := c.http.DoJSON(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
		return nil, classify(group, err)
	}

	page := &Page{NextPageToken: raw.NextPageToken, Posts: make([]Post, 0, len(raw.Posts))}
	if page.NextPageToken == "" {
		page.NextPageToken = raw.Cursor
	}
	for _, p := range raw.Posts {
		id := rawString(p.ID)
		if id == "" {
			id = rawString(p.PostID)
		}
		text := p.Text
		if text == "" {
			text = p.Message
		}
		postedAt := parseTime(p.PostedAt)
		if postedAt == nil {
			postedAt = parseTime(p.Timestamp)
		}
		page.Posts = append(page.Posts, Post{
			ID:       id,
			Text:     strings.TrimSpace(text),
			Images:   nonEmpty(p.Images),
			Author:   p.Author,
			URL:      p.URL,
			PostedAt: postedAt,
		})
	}
	return page, nil
}

func classify(group string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewScraperTimeoutError(group, err)
	}
	if errors.Is(err, apphttp.ErrDecodeResponse) {
		return apperrors.NewMalformedPayloadError("scraper", err)
	}
	return apperrors.NewScraperFetchFailedError(group, err)
}

// rawString reads an id given as a JSON string or number.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// parseTime reads RFC 3339 strings or unix seconds.
func parseTime(raw json.RawMessage) *time.Time {
	s := rawString(raw)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		t := time.Unix(secs, 0).UTC()
		return &t
	}
	return nil
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
