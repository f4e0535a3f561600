package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clipscope/clipscope-go/internal/metrics"
	"github.com/clipscope/clipscope-go/internal/model"
)

// ErrRunInProgress is returned when a run is triggered for a project that
// already has one in flight. Concurrent triggers are rejected, not queued.
var ErrRunInProgress = errors.New("pipeline: run already in progress for this project")

// Scraper fetches candidate videos for a keyword set.
type Scraper interface {
	Scrape(ctx context.Context, keywords []string, limit int) ([]model.RawVideo, error)
}

// TextScorer scores metadata relevance. Implementations tolerate partial
// failure: a video that cannot be scored comes back with score 0.
type TextScorer interface {
	ScoreText(ctx context.Context, videos []model.RawVideo, profile *model.ProjectProfile) ([]model.TextScore, error)
}

// VisionScorer scores one video by watching it.
type VisionScorer interface {
	ScoreVision(ctx context.Context, video model.RawVideo, profile *model.ProjectProfile) (*model.VisionScore, error)
}

// ConfigStore is the run-state side of the config repository.
type ConfigStore interface {
	GetByProject(ctx context.Context, projectID int64) (*model.SuperVisionConfig, error)
	RecordRunSuccess(ctx context.Context, projectID int64, stats model.RunStats, finishedAt, nextRunAt time.Time) error
	RecordRunFailure(ctx context.Context, projectID int64, runErr string, finishedAt, nextRunAt time.Time, tripThreshold int) (int, error)
	ListDue(ctx context.Context, now time.Time) ([]model.SuperVisionConfig, error)
}

// ResultStore persists a run's ranked results atomically.
type ResultStore interface {
	CommitRun(ctx context.Context, projectID int64, batchID string, results []model.SuperVisionResult) error
	RecentTextScores(ctx context.Context, projectID int64, cutoff time.Time) (map[string]model.TextScore, error)
}

// ProfileStore reads project profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, projectID int64) (*model.ProjectProfile, error)
}

// Policy bundles the run-level policy knobs.
type Policy struct {
	ScrapeLimit       int
	TextWeight        float64
	VisionWeight      float64
	TripThreshold     int
	ScrapeTimeout     time.Duration
	TextTimeout       time.Duration
	VisionTimeout     time.Duration
	TextScoreCacheTTL time.Duration
	Credits           CreditPolicy
}

// Runner executes the scan-score-fuse-persist pipeline. At most one run
// per project is in flight at a time; runs for different projects may
// overlap.
type Runner struct {
	scraper  Scraper
	text     TextScorer
	vision   VisionScorer
	configs  ConfigStore
	results  ResultStore
	projects ProfileStore
	policy   Policy

	mu      sync.Mutex
	running map[int64]struct{}

	now func() time.Time
}

func NewRunner(scraper Scraper, text TextScorer, vision VisionScorer, configs ConfigStore, results ResultStore, projects ProfileStore, policy Policy) *Runner {
	if policy.TextScoreCacheTTL == 0 {
		policy.TextScoreCacheTTL = 24 * time.Hour
	}
	return &Runner{
		scraper:  scraper,
		text:     text,
		vision:   vision,
		configs:  configs,
		results:  results,
		projects: projects,
		policy:   policy,
		running:  make(map[int64]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes a full pipeline run synchronously. Returns ErrRunInProgress
// if the project already has one in flight.
func (r *Runner) Run(ctx context.Context, projectID int64) error {
	if !r.reserve(projectID) {
		return ErrRunInProgress
	}
	defer r.release(projectID)
	return r.execute(ctx, projectID)
}

// TryRunAsync reserves the project's run slot and executes the run in the
// background. The reservation happens synchronously so callers get a
// reliable ErrRunInProgress for concurrent triggers.
func (r *Runner) TryRunAsync(projectID int64) error {
	if !r.reserve(projectID) {
		return ErrRunInProgress
	}

	go func() {
		defer r.release(projectID)
		if err := r.execute(context.Background(), projectID); err != nil {
			log.Error().Err(err).Int64("project_id", projectID).Msg("pipeline run failed")
		}
	}()
	return nil
}

// Running reports whether a run is in flight for the project.
func (r *Runner) Running(projectID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[projectID]
	return ok
}

func (r *Runner) reserve(projectID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[projectID]; ok {
		return false
	}
	r.running[projectID] = struct{}{}
	return true
}

func (r *Runner) release(projectID int64) {
	r.mu.Lock()
	delete(r.running, projectID)
	r.mu.Unlock()
}

// execute runs the pipeline stages in order. Scrape and persistence
// failures abort the run; per-item scoring failures are absorbed.
func (r *Runner) execute(ctx context.Context, projectID int64) error {
	start := r.now()
	logger := log.With().Int64("project_id", projectID).Logger()

	cfg, err := r.configs.GetByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load config for project %d: %w", projectID, err)
	}

	profile, err := r.projects.GetProfile(ctx, projectID)
	if err != nil {
		return r.fail(ctx, cfg, start, fmt.Errorf("load profile: %w", err))
	}

	keywords := profile.SearchKeywords(cfg.CustomKeywords)
	batchID := fmt.Sprintf("sv_%d_%d", projectID, start.Unix())
	logger.Info().Strs("keywords", keywords).Str("batch_id", batchID).Msg("scan starting")

	var stats model.RunStats

	// Stage 1: scrape. Any upstream failure is a whole-run failure.
	scrapeCtx, cancel := context.WithTimeout(ctx, r.policy.ScrapeTimeout)
	videos, err := r.scraper.Scrape(scrapeCtx, keywords, r.policy.ScrapeLimit)
	cancel()
	if err != nil {
		return r.fail(ctx, cfg, start, err)
	}
	stats.Scraped = len(videos)

	// Stage 2: pure filter.
	cutoff := start.AddDate(0, 0, -cfg.DateRangeDays)
	filtered := Filter(videos, int64(cfg.MinViews), cutoff, profile.ExcludeWords())
	stats.Filtered = len(filtered)

	// Stage 3: text relevance, reusing scores from recent runs.
	scored, freshCount, err := r.textStage(ctx, cfg, profile, filtered, start)
	if err != nil {
		return r.fail(ctx, cfg, start, err)
	}
	stats.TextScored = len(filtered)

	// Threshold filter, rank by text score, truncate to the vision budget.
	candidates := thresholdCandidates(scored, cfg.TextScoreThreshold, cfg.MaxVisionVideos)

	// Stage 4: vision on the top candidates. Single-video failures skip
	// that video only.
	if cfg.MaxVisionVideos > 0 {
		stats.VisionAnalyzed = r.visionStage(ctx, profile, candidates)
	}

	// Stage 5: fuse, dedup, rank.
	results := BuildResults(projectID, batchID, candidates, r.policy.TextWeight, r.policy.VisionWeight)
	stats.FinalResults = len(results)

	finished := r.now()
	stats.CreditsUsed = r.policy.Credits.RunCost(freshCount, stats.VisionAnalyzed)
	stats.DurationSeconds = int(finished.Sub(start).Seconds())

	// Stage 6: persist results and telemetry. The result commit is
	// all-or-none; a failed commit counts as a failed run.
	if err := r.results.CommitRun(ctx, projectID, batchID, results); err != nil {
		return r.fail(ctx, cfg, start, fmt.Errorf("commit results: %w", err))
	}

	nextRun := finished.Add(time.Duration(cfg.ScanIntervalHours) * time.Hour)
	if err := r.configs.RecordRunSuccess(ctx, projectID, stats, finished, nextRun); err != nil {
		return fmt.Errorf("record run success: %w", err)
	}

	metrics.RunsTotal.WithLabelValues(model.RunStatusSuccess).Inc()
	metrics.RunDuration.Observe(finished.Sub(start).Seconds())
	metrics.CreditsUsed.Add(float64(stats.CreditsUsed))

	logger.Info().
		Int("scraped", stats.Scraped).
		Int("filtered", stats.Filtered).
		Int("text_scored", stats.TextScored).
		Int("vision_analyzed", stats.VisionAnalyzed).
		Int("final_results", stats.FinalResults).
		Int("credits_used", stats.CreditsUsed).
		Msg("scan complete")
	return nil
}

// textStage attaches a text score to every filtered video, reusing scores
// recorded within the cache TTL. Returns the scored set in input order
// and the number of videos actually sent to the model (for billing).
func (r *Runner) textStage(ctx context.Context, cfg *model.SuperVisionConfig, profile *model.ProjectProfile, filtered []model.RawVideo, start time.Time) ([]model.ScoredVideo, int, error) {
	cached, err := r.results.RecentTextScores(ctx, cfg.ProjectID, start.Add(-r.policy.TextScoreCacheTTL))
	if err != nil {
		// Cache miss path only; a broken cache read must not fail the run.
		log.Warn().Err(err).Int64("project_id", cfg.ProjectID).Msg("text score cache read failed")
		cached = nil
	}

	var toScore []model.RawVideo
	for _, v := range filtered {
		if _, ok := cached[v.ID]; !ok {
			toScore = append(toScore, v)
		}
	}

	var fresh []model.TextScore
	if len(toScore) > 0 {
		textCtx, cancel := context.WithTimeout(ctx, r.policy.TextTimeout)
		fresh, err = r.text.ScoreText(textCtx, toScore, profile)
		cancel()
		if err != nil {
			return nil, 0, fmt.Errorf("text scoring: %w", err)
		}
	}

	freshByID := make(map[string]model.TextScore, len(fresh))
	for _, ts := range fresh {
		freshByID[ts.VideoID] = ts
	}

	scored := make([]model.ScoredVideo, 0, len(filtered))
	for _, v := range filtered {
		ts, ok := cached[v.ID]
		if !ok {
			ts, ok = freshByID[v.ID]
		}
		if !ok {
			ts = model.TextScore{VideoID: v.ID, Score: 0, Reason: "unscored"}
		}
		scored = append(scored, model.ScoredVideo{Video: v, Text: ts})
	}
	return scored, len(toScore), nil
}

// thresholdCandidates keeps videos at or above the text threshold, sorts
// them by text score descending (stable), and truncates to the vision
// budget. A budget of 0 keeps every above-threshold video text-only.
func thresholdCandidates(scored []model.ScoredVideo, threshold, maxVision int) []model.ScoredVideo {
	candidates := make([]model.ScoredVideo, 0, len(scored))
	for _, sv := range scored {
		if sv.Text.Score >= threshold {
			candidates = append(candidates, sv)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Text.Score > candidates[j].Text.Score
	})

	if maxVision > 0 && len(candidates) > maxVision {
		candidates = candidates[:maxVision]
	}
	return candidates
}

func (r *Runner) visionStage(ctx context.Context, profile *model.ProjectProfile, candidates []model.ScoredVideo) int {
	analyzed := 0
	for i := range candidates {
		visionCtx, cancel := context.WithTimeout(ctx, r.policy.VisionTimeout)
		vs, err := r.vision.ScoreVision(visionCtx, candidates[i].Video, profile)
		cancel()
		if err != nil {
			// Skip this video; a single bad video must not cost the run.
			metrics.VisionCalls.WithLabelValues("error").Inc()
			log.Warn().Err(err).Str("video_id", candidates[i].Video.ID).Msg("vision analysis skipped")
			continue
		}
		candidates[i].Vision = vs
		analyzed++
		metrics.VisionCalls.WithLabelValues("ok").Inc()
	}
	return analyzed
}

// fail records a failed run: error counter up, auto-pause at the trip
// threshold, next attempt at the regular interval otherwise.
func (r *Runner) fail(ctx context.Context, cfg *model.SuperVisionConfig, start time.Time, runErr error) error {
	finished := r.now()
	nextRun := finished.Add(time.Duration(cfg.ScanIntervalHours) * time.Hour)

	count, recErr := r.configs.RecordRunFailure(ctx, cfg.ProjectID,
		truncate(runErr.Error(), 500), finished, nextRun, r.policy.TripThreshold)
	if recErr != nil {
		log.Error().Err(recErr).Int64("project_id", cfg.ProjectID).Msg("failed to record run failure")
	}

	metrics.RunsTotal.WithLabelValues(model.RunStatusError).Inc()

	evt := log.Error().Err(runErr).Int64("project_id", cfg.ProjectID).Int("consecutive_errors", count)
	if count >= r.policy.TripThreshold {
		evt.Msg("scan failed, auto-pausing after repeated errors")
	} else {
		evt.Msg("scan failed")
	}
	return runErr
}
