package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clipscope/clipscope-go/internal/model"
)

// ErrScrapeFailure marks upstream actor errors and timeouts. The
// orchestrator treats any scrape failure as a whole-run failure.
var ErrScrapeFailure = errors.New("scrape: upstream failure")

const defaultBaseURL = "https://api.apify.com"

// HardCap bounds the number of records accepted from the actor regardless
// of the requested limit, to bound downstream scoring cost.
const HardCap = 200

// Client runs the scraping actor synchronously and returns normalized
// candidate videos.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	actorID    string
	hardCap    int
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the actor platform URL (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHardCap overrides the record cap.
func WithHardCap(n int) Option {
	return func(c *Client) { c.hardCap = n }
}

func NewClient(token, actorID string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    defaultBaseURL,
		token:      token,
		actorID:    actorID,
		hardCap:    HardCap,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type actorInput struct {
	SearchQueries      []string `json:"searchQueries"`
	ResultsPerPage     int      `json:"resultsPerPage"`
	ExcludePinnedPosts bool     `json:"excludePinnedPosts"`
}

// actorItem mirrors the actor's dataset item shape. Only the fields the
// pipeline needs are decoded.
type actorItem struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	CreateTime  int64  `json:"createTime"`
	WebVideoURL string `json:"webVideoUrl"`
	AuthorMeta  struct {
		Name string `json:"name"`
	} `json:"authorMeta"`
	VideoMeta struct {
		CoverURL     string `json:"coverUrl"`
		DownloadAddr string `json:"downloadAddr"`
	} `json:"videoMeta"`
	Hashtags []struct {
		Name string `json:"name"`
	} `json:"hashtags"`
	PlayCount    int64 `json:"playCount"`
	DiggCount    int64 `json:"diggCount"`
	CommentCount int64 `json:"commentCount"`
	ShareCount   int64 `json:"shareCount"`
}

// Scrape runs the actor for the given keywords and returns up to limit
// normalized videos. Items without a platform id are dropped.
func (c *Client) Scrape(ctx context.Context, keywords []string, limit int) ([]model.RawVideo, error) {
	if limit <= 0 || limit > c.hardCap {
		limit = c.hardCap
	}

	input, err := json.Marshal(actorInput{
		SearchQueries:      keywords,
		ResultsPerPage:     limit,
		ExcludePinnedPosts: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode input: %v", ErrScrapeFailure, err)
	}

	url := fmt.Sprintf("%s/v2/acts/%s/run-sync-get-dataset-items?token=%s&format=json",
		c.baseURL, c.actorID, c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrScrapeFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScrapeFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: actor returned %d: %s", ErrScrapeFailure, resp.StatusCode, body)
	}

	var items []actorItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: decode dataset: %v", ErrScrapeFailure, err)
	}

	videos := ParseItems(items, limit)
	log.Debug().Int("requested", limit).Int("returned", len(videos)).Msg("scrape complete")
	return videos, nil
}

// ParseItems normalizes raw actor items, dropping malformed ones.
func ParseItems(items []actorItem, limit int) []model.RawVideo {
	videos := make([]model.RawVideo, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}

		var createdAt time.Time
		if it.CreateTime > 0 {
			createdAt = time.Unix(it.CreateTime, 0).UTC()
		}

		hashtags := make([]string, 0, len(it.Hashtags))
		for _, h := range it.Hashtags {
			if h.Name != "" {
				hashtags = append(hashtags, h.Name)
			}
		}

		videos = append(videos, model.RawVideo{
			ID:          it.ID,
			Description: it.Text,
			Author:      it.AuthorMeta.Name,
			CoverURL:    it.VideoMeta.CoverURL,
			VideoURL:    it.WebVideoURL,
			PlayAddr:    it.VideoMeta.DownloadAddr,
			Hashtags:    hashtags,
			Stats: model.VideoStats{
				PlayCount:    it.PlayCount,
				DiggCount:    it.DiggCount,
				CommentCount: it.CommentCount,
				ShareCount:   it.ShareCount,
			},
			CreatedAt: createdAt,
		})
		if len(videos) == limit {
			break
		}
	}
	return videos
}
