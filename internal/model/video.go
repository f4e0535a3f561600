package model

import "time"

// VideoStats are the engagement counters reported by the platform.
// Field names match the scraper's JSON output.
type VideoStats struct {
	PlayCount    int64 `json:"playCount"`
	DiggCount    int64 `json:"diggCount"`
	CommentCount int64 `json:"commentCount"`
	ShareCount   int64 `json:"shareCount"`
}

// RawVideo is a normalized candidate video as returned by the scrape
// client, before any filtering or scoring.
type RawVideo struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Author      string     `json:"author"`
	CoverURL    string     `json:"cover_url"`
	VideoURL    string     `json:"video_url"`
	PlayAddr    string     `json:"play_addr"`
	Hashtags    []string   `json:"hashtags"`
	Stats       VideoStats `json:"stats"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TextScore is the outcome of the metadata relevance stage for one video.
type TextScore struct {
	VideoID string
	Score   int
	Reason  string
}

// VisionScore is the outcome of the vision stage for one video.
type VisionScore struct {
	VideoID     string
	Score       int
	MatchReason string
	Analysis    string
}

// ScoredVideo pairs a candidate with its accumulated scores on the way
// through the pipeline. Vision is nil for videos outside the vision budget
// or whose vision call failed.
type ScoredVideo struct {
	Video  RawVideo
	Text   TextScore
	Vision *VisionScore
}
