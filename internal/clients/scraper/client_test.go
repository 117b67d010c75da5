package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "immo-alerts/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/groups/lyon-immo/posts", r.URL.Path)
		assert.Equal(t, "tok-1", r.URL.Query().Get("pageToken"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"posts": [
				{"id": "p1", "text": " Maison à vendre ", "images": ["a.jpg", ""], "author": "Jean", "postedAt": "2026-10-01T10:00:00+02:00"},
				{"post_id": 42, "message": "T2 Villeurbanne", "timestamp": 1790000000},
				{"text": "sans id"}
			],
			"cursor": "tok-2"
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", time.Second)
	page, err := c.FetchPosts(context.Background(), "lyon-immo", "tok-1")
	require.NoError(t, err)

	assert.Equal(t, "tok-2", page.NextPageToken)
	require.Len(t, page.Posts, 3)

	p := page.Posts[0]
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, "Maison à vendre", p.Text)
	assert.Equal(t, []string{"a.jpg"}, p.Images)
	require.NotNil(t, p.PostedAt)
	assert.Equal(t, 8, p.PostedAt.Hour())

	assert.Equal(t, "42", page.Posts[1].ID)
	assert.Equal(t, "T2 Villeurbanne", page.Posts[1].Text)
	require.NotNil(t, page.Posts[1].PostedAt)
	assert.Equal(t, int64(1790000000), page.Posts[1].PostedAt.Unix())

	assert.Empty(t, page.Posts[2].ID)
	assert.Empty(t, page.Posts[2].Images)
}

func TestFetchPosts_EmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"posts": null}`))
	}))
	defer srv.Close()

	page, err := NewClient(srv.URL, "", time.Second).FetchPosts(context.Background(), "g", "")
	require.NoError(t, err)
	assert.Empty(t, page.Posts)
	assert.Empty(t, page.NextPageToken)
}

func TestFetchPosts_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
		code    apperrors.ErrorCode
	}{
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			timeout: time.Second,
			code:    apperrors.ErrCodeScraperFetchFailed,
		},
		{
			name:    "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("not json")) },
			timeout: time.Second,
			code:    apperrors.ErrCodeMalformedPayload,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
			},
			timeout: 5 * time.Second,
			code:    apperrors.ErrCodeScraperTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, err := NewClient(srv.URL, "", tt.timeout).FetchPosts(ctx, "g", "")
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}
