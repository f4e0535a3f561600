package scrape

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDataset = `[
	{
		"id": "7312345",
		"text": "morning routine that changed my life #productivity",
		"createTime": 1700000000,
		"webVideoUrl": "https://www.tiktok.com/@creator/video/7312345",
		"authorMeta": {"name": "creator"},
		"videoMeta": {"coverUrl": "https://cdn.example.com/c1.jpg", "downloadAddr": "https://cdn.example.com/v1.mp4"},
		"hashtags": [{"name": "productivity"}, {"name": ""}],
		"playCount": 1200000,
		"diggCount": 90000,
		"commentCount": 1500,
		"shareCount": 4000
	},
	{
		"id": "",
		"text": "malformed item without id"
	},
	{
		"id": "7312346",
		"text": "second video",
		"createTime": 0,
		"webVideoUrl": "https://www.tiktok.com/@other/video/7312346",
		"authorMeta": {"name": "other"},
		"playCount": 300
	}
]`

func TestScrape_ParsesDataset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var input actorInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&input))
		assert.Equal(t, []string{"productivity"}, input.SearchQueries)
		assert.Equal(t, 50, input.ResultsPerPage)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleDataset))
	}))
	defer srv.Close()

	client := NewClient("test-token", "test~actor", 5*time.Second, WithBaseURL(srv.URL))
	videos, err := client.Scrape(context.Background(), []string{"productivity"}, 50)
	require.NoError(t, err)
	require.Len(t, videos, 2, "item without id must be dropped")

	first := videos[0]
	assert.Equal(t, "7312345", first.ID)
	assert.Equal(t, "creator", first.Author)
	assert.Equal(t, int64(1200000), first.Stats.PlayCount)
	assert.Equal(t, []string{"productivity"}, first.Hashtags, "empty hashtag names must be dropped")
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), first.CreatedAt)

	second := videos[1]
	assert.True(t, second.CreatedAt.IsZero(), "missing createTime stays zero")
}

func TestScrape_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"actor failed"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient("test-token", "test~actor", 5*time.Second, WithBaseURL(srv.URL))
	_, err := client.Scrape(context.Background(), []string{"anything"}, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScrapeFailure)
}

func TestScrape_HardCapAppliesToLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var input actorInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&input))
		assert.Equal(t, 3, input.ResultsPerPage, "limit above the cap must be clamped")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewClient("t", "a", 5*time.Second, WithBaseURL(srv.URL), WithHardCap(3))
	videos, err := client.Scrape(context.Background(), []string{"k"}, 500)
	require.NoError(t, err)
	assert.Empty(t, videos)
}

func TestParseItems_TruncatesAtLimit(t *testing.T) {
	items := make([]actorItem, 10)
	for i := range items {
		items[i].ID = "vid"
	}
	videos := ParseItems(items, 4)
	assert.Len(t, videos, 4)
}
