package model

import (
	"fmt"
	"time"
)

// Config statuses. A config only reaches StatusError through the
// consecutive-error trip threshold, never directly.
const (
	StatusDraft  = "draft"
	StatusActive = "active"
	StatusPaused = "paused"
	StatusError  = "error"
)

// Outcome of the most recent pipeline run.
const (
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// Range limits enforced on config fields.
const (
	MinDateRangeDays    = 1
	MaxDateRangeDays    = 90
	MinScanIntervalHrs  = 8
	MaxScanIntervalHrs  = 168
	MaxVisionVideosCap  = 10
	MaxScoreThreshold   = 100
	MaxCustomKeywords   = 20
)

// SuperVisionConfig is the per-project scan configuration plus the run
// state the orchestrator maintains (status, error counters, timestamps).
type SuperVisionConfig struct {
	ID                 int64      `json:"id"`
	ProjectID          int64      `json:"project_id"`
	Status             string     `json:"status"`
	MinViews           int        `json:"min_views"`
	DateRangeDays      int        `json:"date_range_days"`
	ScanIntervalHours  int        `json:"scan_interval_hours"`
	MaxVisionVideos    int        `json:"max_vision_videos"`
	CustomKeywords     []string   `json:"custom_keywords"`
	TextScoreThreshold int        `json:"text_score_threshold"`
	ConsecutiveErrors  int        `json:"consecutive_errors"`
	LastRunAt          *time.Time `json:"last_run_at,omitempty"`
	NextRunAt          *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus      *string    `json:"last_run_status,omitempty"`
	LastRunStats       *RunStats  `json:"last_run_stats,omitempty"`
	LastError          *string    `json:"last_error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Validate checks the field ranges shared by create and update paths.
func (c *SuperVisionConfig) Validate() error {
	if c.MinViews < 0 {
		return fmt.Errorf("min_views must be >= 0, got %d", c.MinViews)
	}
	if c.DateRangeDays < MinDateRangeDays || c.DateRangeDays > MaxDateRangeDays {
		return fmt.Errorf("date_range_days must be in [%d,%d], got %d", MinDateRangeDays, MaxDateRangeDays, c.DateRangeDays)
	}
	if c.ScanIntervalHours < MinScanIntervalHrs || c.ScanIntervalHours > MaxScanIntervalHrs {
		return fmt.Errorf("scan_interval_hours must be in [%d,%d], got %d", MinScanIntervalHrs, MaxScanIntervalHrs, c.ScanIntervalHours)
	}
	if c.MaxVisionVideos < 0 || c.MaxVisionVideos > MaxVisionVideosCap {
		return fmt.Errorf("max_vision_videos must be in [0,%d], got %d", MaxVisionVideosCap, c.MaxVisionVideos)
	}
	if c.TextScoreThreshold < 0 || c.TextScoreThreshold > MaxScoreThreshold {
		return fmt.Errorf("text_score_threshold must be in [0,%d], got %d", MaxScoreThreshold, c.TextScoreThreshold)
	}
	if len(c.CustomKeywords) > MaxCustomKeywords {
		return fmt.Errorf("custom_keywords must have at most %d entries, got %d", MaxCustomKeywords, len(c.CustomKeywords))
	}
	return nil
}

// Schedulable reports whether the scheduler may fire runs for this config.
func (c *SuperVisionConfig) Schedulable() bool {
	return c.Status == StatusActive
}

// RunStats is the per-run telemetry, written once when a run finishes.
type RunStats struct {
	Scraped         int `json:"scraped"`
	Filtered        int `json:"filtered"`
	TextScored      int `json:"text_scored"`
	VisionAnalyzed  int `json:"vision_analyzed"`
	FinalResults    int `json:"final_results"`
	CreditsUsed     int `json:"credits_used"`
	DurationSeconds int `json:"duration_seconds"`
}

// SuperVisionResult is one discovered video for a project. Unique per
// (project_id, video_id); re-discovery updates scores in place.
type SuperVisionResult struct {
	ID                int64      `json:"id"`
	ProjectID         int64      `json:"project_id"`
	VideoID           string     `json:"video_id"`
	VideoURL          string     `json:"video_url"`
	VideoAuthor       string     `json:"video_author"`
	VideoCoverURL     string     `json:"video_cover_url"`
	VideoPlayAddr     string     `json:"video_play_addr,omitempty"`
	VideoDescription  string     `json:"video_description"`
	VideoStats        VideoStats `json:"video_stats"`
	TextScore         int        `json:"text_score"`
	TextReason        string     `json:"text_reason"`
	VisionScore       *int       `json:"vision_score"`
	VisionMatchReason *string    `json:"vision_match_reason,omitempty"`
	VisionAnalysis    *string    `json:"vision_analysis,omitempty"`
	FinalScore        int        `json:"final_score"`
	ScanBatchID       string     `json:"scan_batch_id"`
	IsSaved           bool       `json:"is_saved"`
	IsDismissed       bool       `json:"is_dismissed"`
	FoundAt           time.Time  `json:"found_at"`
}

// ResultPage is a paginated slice of results.
type ResultPage struct {
	Items   []SuperVisionResult `json:"items"`
	Total   int                 `json:"total"`
	Page    int                 `json:"page"`
	PerPage int                 `json:"per_page"`
	HasMore bool                `json:"has_more"`
}

// ConfigOverview is a config plus listing metadata for the dashboard.
type ConfigOverview struct {
	SuperVisionConfig
	ProjectName  string `json:"project_name"`
	ResultsCount int    `json:"results_count"`
}
