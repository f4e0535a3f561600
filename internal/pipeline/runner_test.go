package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipscope/clipscope-go/internal/model"
	"github.com/clipscope/clipscope-go/internal/scrape"
)

// ---- deterministic fakes ----

type fakeScraper struct {
	mu      sync.Mutex
	videos  []model.RawVideo
	err     error
	calls   int
	blockCh chan struct{} // when set, Scrape blocks until closed
}

func (f *fakeScraper) Scrape(ctx context.Context, keywords []string, limit int) ([]model.RawVideo, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.blockCh != nil {
		<-f.blockCh
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.videos, nil
}

func (f *fakeScraper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTextScorer struct {
	scores map[string]int
	calls  int
	sent   []string
}

func (f *fakeTextScorer) ScoreText(ctx context.Context, videos []model.RawVideo, profile *model.ProjectProfile) ([]model.TextScore, error) {
	f.calls++
	out := make([]model.TextScore, 0, len(videos))
	for _, v := range videos {
		f.sent = append(f.sent, v.ID)
		out = append(out, model.TextScore{VideoID: v.ID, Score: f.scores[v.ID], Reason: "fake"})
	}
	return out, nil
}

type fakeVisionScorer struct {
	mu      sync.Mutex
	scores  map[string]int
	failIDs map[string]bool
	calls   int
}

func (f *fakeVisionScorer) ScoreVision(ctx context.Context, video model.RawVideo, profile *model.ProjectProfile) (*model.VisionScore, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failIDs[video.ID] {
		return nil, errors.New("vision timeout")
	}
	return &model.VisionScore{VideoID: video.ID, Score: f.scores[video.ID], MatchReason: "fake match"}, nil
}

func (f *fakeVisionScorer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeConfigStore struct {
	mu        sync.Mutex
	cfg       *model.SuperVisionConfig
	successes []model.RunStats
	failures  []string
}

func (f *fakeConfigStore) GetByProject(ctx context.Context, projectID int64) (*model.SuperVisionConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *f.cfg
	return &c, nil
}

func (f *fakeConfigStore) RecordRunSuccess(ctx context.Context, projectID int64, stats model.RunStats, finishedAt, nextRunAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes = append(f.successes, stats)
	f.cfg.ConsecutiveErrors = 0
	f.cfg.LastRunAt = &finishedAt
	if f.cfg.Status == model.StatusActive {
		f.cfg.NextRunAt = &nextRunAt
	} else {
		f.cfg.NextRunAt = nil
	}
	return nil
}

func (f *fakeConfigStore) RecordRunFailure(ctx context.Context, projectID int64, runErr string, finishedAt, nextRunAt time.Time, tripThreshold int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, runErr)
	f.cfg.ConsecutiveErrors++
	if f.cfg.ConsecutiveErrors >= tripThreshold {
		f.cfg.Status = model.StatusError
		f.cfg.NextRunAt = nil
	}
	return f.cfg.ConsecutiveErrors, nil
}

func (f *fakeConfigStore) ListDue(ctx context.Context, now time.Time) ([]model.SuperVisionConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cfg.Status == model.StatusActive && f.cfg.NextRunAt != nil && !f.cfg.NextRunAt.After(now) {
		return []model.SuperVisionConfig{*f.cfg}, nil
	}
	return nil, nil
}

type fakeResultStore struct {
	mu        sync.Mutex
	committed [][]model.SuperVisionResult
	recent    map[string]model.TextScore
	commitErr error
}

func (f *fakeResultStore) CommitRun(ctx context.Context, projectID int64, batchID string, results []model.SuperVisionResult) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, results)
	return nil
}

func (f *fakeResultStore) RecentTextScores(ctx context.Context, projectID int64, cutoff time.Time) (map[string]model.TextScore, error) {
	return f.recent, nil
}

func (f *fakeResultStore) lastCommit() []model.SuperVisionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.committed) == 0 {
		return nil
	}
	return f.committed[len(f.committed)-1]
}

// upsertResultStore mirrors the repository's ON CONFLICT semantics: one
// row per video, user flags survive re-discovery, and vision fields only
// overwrite when the new run produced them.
type upsertResultStore struct {
	mu   sync.Mutex
	rows map[string]model.SuperVisionResult
}

func (f *upsertResultStore) CommitRun(ctx context.Context, projectID int64, batchID string, results []model.SuperVisionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows == nil {
		f.rows = make(map[string]model.SuperVisionResult)
	}
	for _, res := range results {
		if old, ok := f.rows[res.VideoID]; ok {
			res.IsSaved = old.IsSaved
			res.IsDismissed = old.IsDismissed
			if res.VisionScore == nil {
				res.VisionScore = old.VisionScore
				res.VisionMatchReason = old.VisionMatchReason
				res.VisionAnalysis = old.VisionAnalysis
			}
		}
		f.rows[res.VideoID] = res
	}
	return nil
}

func (f *upsertResultStore) RecentTextScores(ctx context.Context, projectID int64, cutoff time.Time) (map[string]model.TextScore, error) {
	return nil, nil
}

type fakeProfileStore struct {
	profile *model.ProjectProfile
}

func (f *fakeProfileStore) GetProfile(ctx context.Context, projectID int64) (*model.ProjectProfile, error) {
	return f.profile, nil
}

// ---- helpers ----

func testPolicy() Policy {
	return Policy{
		ScrapeLimit:   50,
		TextWeight:    DefaultTextWeight,
		VisionWeight:  DefaultVisionWeight,
		TripThreshold: 3,
		ScrapeTimeout: time.Second,
		TextTimeout:   time.Second,
		VisionTimeout: time.Second,
		Credits:       CreditPolicy{ScrapeCost: 2, TextBatchCost: 2, TextBatchSize: 8, VisionCost: 5},
	}
}

func activeConfig() *model.SuperVisionConfig {
	return &model.SuperVisionConfig{
		ID:                 1,
		ProjectID:          42,
		Status:             model.StatusActive,
		MinViews:           500000,
		DateRangeDays:      7,
		ScanIntervalHours:  12,
		MaxVisionVideos:    5,
		TextScoreThreshold: 70,
	}
}

// scrapeSet builds 50 candidates where only the first 10 clear 500k views.
func scrapeSet() []model.RawVideo {
	videos := make([]model.RawVideo, 0, 50)
	for i := 0; i < 50; i++ {
		views := int64(100000)
		if i < 10 {
			views = int64(600000 + i*1000)
		}
		videos = append(videos, model.RawVideo{
			ID:        fmt.Sprintf("vid%02d", i),
			Stats:     model.VideoStats{PlayCount: views},
			CreatedAt: time.Now().UTC().Add(-24 * time.Hour),
			VideoURL:  fmt.Sprintf("https://example.com/%d", i),
		})
	}
	return videos
}

func newTestRunner(scraper *fakeScraper, text *fakeTextScorer, vision *fakeVisionScorer, configs *fakeConfigStore, results *fakeResultStore) *Runner {
	return NewRunner(scraper, text, vision, configs, results,
		&fakeProfileStore{profile: &model.ProjectProfile{ProjectID: 42, Niche: "fitness", Keywords: []string{"home workout"}}},
		testPolicy())
}

// ---- tests ----

// Full pipeline walkthrough: 50 scraped, 10 pass the view filter, 6 clear
// the text threshold, truncated to 5 for vision, 5 rows committed.
func TestRun_FullPipelineStats(t *testing.T) {
	textScores := map[string]int{}
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("vid%02d", i)
		if i < 6 {
			textScores[id] = 70 + i // vid00..vid05 clear threshold 70
		} else {
			textScores[id] = 40
		}
	}
	visionScores := map[string]int{}
	for id := range textScores {
		visionScores[id] = 90
	}

	scraper := &fakeScraper{videos: scrapeSet()}
	text := &fakeTextScorer{scores: textScores}
	vision := &fakeVisionScorer{scores: visionScores}
	configs := &fakeConfigStore{cfg: activeConfig()}
	results := &fakeResultStore{}

	runner := newTestRunner(scraper, text, vision, configs, results)
	require.NoError(t, runner.Run(context.Background(), 42))

	require.Len(t, configs.successes, 1)
	stats := configs.successes[0]
	assert.Equal(t, 50, stats.Scraped)
	assert.Equal(t, 10, stats.Filtered)
	assert.Equal(t, 10, stats.TextScored)
	assert.Equal(t, 5, stats.VisionAnalyzed)
	assert.Equal(t, 5, stats.FinalResults)
	// 2 scrape + ceil(10/8)*2 text + 5*5 vision
	assert.Equal(t, 31, stats.CreditsUsed)

	committed := results.lastCommit()
	require.Len(t, committed, 5)
	for _, res := range committed {
		require.NotNil(t, res.VisionScore)
		want := FinalScore(res.TextScore, res.VisionScore, DefaultTextWeight, DefaultVisionWeight)
		assert.Equal(t, want, res.FinalScore)
	}
	// Highest text score (vid05 = 75) fused with vision 90 ranks first.
	assert.Equal(t, "vid05", committed[0].VideoID)
}

// A single vision failure keeps the run green: 4 fused rows plus 1
// text-only row.
func TestRun_VisionPartialFailure(t *testing.T) {
	textScores := map[string]int{}
	visionScores := map[string]int{}
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("vid%02d", i)
		textScores[id] = 75
		visionScores[id] = 85
	}

	scraper := &fakeScraper{videos: scrapeSet()}
	text := &fakeTextScorer{scores: textScores}
	vision := &fakeVisionScorer{scores: visionScores, failIDs: map[string]bool{"vid02": true}}
	configs := &fakeConfigStore{cfg: activeConfig()}
	results := &fakeResultStore{}

	runner := newTestRunner(scraper, text, vision, configs, results)
	require.NoError(t, runner.Run(context.Background(), 42))

	require.Len(t, configs.successes, 1, "run must still succeed")
	assert.Equal(t, 4, configs.successes[0].VisionAnalyzed)

	committed := results.lastCommit()
	require.Len(t, committed, 5)

	var withVision, withoutVision int
	for _, res := range committed {
		if res.VisionScore != nil {
			withVision++
		} else {
			withoutVision++
			assert.Equal(t, res.TextScore, res.FinalScore, "text-only row keeps its text score")
		}
	}
	assert.Equal(t, 4, withVision)
	assert.Equal(t, 1, withoutVision)
}

func TestRun_ScrapeFailureAbortsRun(t *testing.T) {
	scraper := &fakeScraper{err: fmt.Errorf("%w: actor 500", scrape.ErrScrapeFailure)}
	configs := &fakeConfigStore{cfg: activeConfig()}
	results := &fakeResultStore{}

	runner := newTestRunner(scraper, &fakeTextScorer{}, &fakeVisionScorer{}, configs, results)
	err := runner.Run(context.Background(), 42)

	require.Error(t, err)
	assert.ErrorIs(t, err, scrape.ErrScrapeFailure)
	assert.Len(t, configs.failures, 1)
	assert.Empty(t, results.committed, "failed run must not commit results")
	assert.Equal(t, 1, configs.cfg.ConsecutiveErrors)
}

// Exactly trip-threshold consecutive failures flip the config to error;
// a success in between resets the counter.
func TestRun_AutoPauseBoundary(t *testing.T) {
	scraper := &fakeScraper{err: errors.New("upstream down")}
	configs := &fakeConfigStore{cfg: activeConfig()}
	results := &fakeResultStore{}
	runner := newTestRunner(scraper, &fakeTextScorer{scores: map[string]int{}}, &fakeVisionScorer{}, configs, results)

	for i := 1; i <= 2; i++ {
		require.Error(t, runner.Run(context.Background(), 42))
		assert.Equal(t, i, configs.cfg.ConsecutiveErrors)
		assert.Equal(t, model.StatusActive, configs.cfg.Status, "must not trip before threshold")
	}

	// Intervening success resets the trip counter.
	scraper.err = nil
	scraper.videos = scrapeSet()
	require.NoError(t, runner.Run(context.Background(), 42))
	assert.Equal(t, 0, configs.cfg.ConsecutiveErrors)

	// Three fresh failures trip the breaker.
	scraper.err = errors.New("upstream down again")
	for i := 1; i <= 3; i++ {
		require.Error(t, runner.Run(context.Background(), 42))
	}
	assert.Equal(t, model.StatusError, configs.cfg.Status)
	assert.Nil(t, configs.cfg.NextRunAt, "tripped config must leave the schedule")
}

// Triggering a project mid-run is rejected and must not double-charge
// vision credits.
func TestRun_AtMostOnePerProject(t *testing.T) {
	block := make(chan struct{})
	scraper := &fakeScraper{videos: scrapeSet(), blockCh: block}
	text := &fakeTextScorer{scores: map[string]int{"vid00": 90}}
	vision := &fakeVisionScorer{scores: map[string]int{"vid00": 80}}
	configs := &fakeConfigStore{cfg: activeConfig()}
	results := &fakeResultStore{}

	runner := newTestRunner(scraper, text, vision, configs, results)

	require.NoError(t, runner.TryRunAsync(42))

	// Wait for the first run to reach the blocking scrape.
	require.Eventually(t, func() bool { return scraper.callCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, runner.Running(42))

	err := runner.TryRunAsync(42)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(block)
	require.Eventually(t, func() bool { return !runner.Running(42) }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, scraper.callCount(), "second trigger must not start a run")
	assert.Equal(t, 1, vision.callCount(), "vision credits must not be double-charged")

	// A different project may run concurrently rules aside, after release
	// the same project is triggerable again.
	require.NoError(t, runner.TryRunAsync(42))
	require.Eventually(t, func() bool { return !runner.Running(42) }, time.Second, 5*time.Millisecond)
}

func TestRun_SkipsVisionWhenNothingClearsThreshold(t *testing.T) {
	textScores := map[string]int{}
	for i := 0; i < 10; i++ {
		textScores[fmt.Sprintf("vid%02d", i)] = 10
	}

	scraper := &fakeScraper{videos: scrapeSet()}
	vision := &fakeVisionScorer{}
	configs := &fakeConfigStore{cfg: activeConfig()}
	results := &fakeResultStore{}

	runner := newTestRunner(scraper, &fakeTextScorer{scores: textScores}, vision, configs, results)
	require.NoError(t, runner.Run(context.Background(), 42))

	assert.Equal(t, 0, vision.callCount())
	assert.Empty(t, results.lastCommit())
	assert.Equal(t, 0, configs.successes[0].FinalResults)
}

func TestRun_ZeroVisionBudgetStoresTextOnly(t *testing.T) {
	cfg := activeConfig()
	cfg.MaxVisionVideos = 0
	textScores := map[string]int{}
	for i := 0; i < 10; i++ {
		textScores[fmt.Sprintf("vid%02d", i)] = 80
	}

	scraper := &fakeScraper{videos: scrapeSet()}
	vision := &fakeVisionScorer{}
	configs := &fakeConfigStore{cfg: cfg}
	results := &fakeResultStore{}

	runner := newTestRunner(scraper, &fakeTextScorer{scores: textScores}, vision, configs, results)
	require.NoError(t, runner.Run(context.Background(), 42))

	assert.Equal(t, 0, vision.callCount(), "zero budget must skip vision entirely")
	committed := results.lastCommit()
	require.Len(t, committed, 10)
	for _, res := range committed {
		assert.Nil(t, res.VisionScore)
		assert.Equal(t, res.TextScore, res.FinalScore)
	}
}

func TestRun_ReusesCachedTextScores(t *testing.T) {
	textScores := map[string]int{}
	for i := 0; i < 10; i++ {
		textScores[fmt.Sprintf("vid%02d", i)] = 75
	}

	scraper := &fakeScraper{videos: scrapeSet()}
	text := &fakeTextScorer{scores: textScores}
	vision := &fakeVisionScorer{scores: map[string]int{}}
	configs := &fakeConfigStore{cfg: activeConfig()}
	results := &fakeResultStore{recent: map[string]model.TextScore{
		"vid00": {VideoID: "vid00", Score: 95, Reason: "cached"},
		"vid01": {VideoID: "vid01", Score: 92, Reason: "cached"},
	}}

	runner := newTestRunner(scraper, text, vision, configs, results)
	require.NoError(t, runner.Run(context.Background(), 42))

	assert.NotContains(t, text.sent, "vid00", "cached video must not be re-scored")
	assert.NotContains(t, text.sent, "vid01")
	assert.Len(t, text.sent, 8)

	// Billing covers only the freshly scored videos: 2 + ceil(8/8)*2.
	assert.Equal(t, 4+configs.successes[0].VisionAnalyzed*5, configs.successes[0].CreditsUsed)

	// Cached scores rank ahead of the fresh 75s.
	committed := results.lastCommit()
	assert.Equal(t, "vid00", committed[0].VideoID)
	assert.Equal(t, 95, committed[0].TextScore)
}

// Re-discovering a video on a later run updates its row in place: scores
// refresh, user flags survive, and a vision score from an earlier run is
// kept when the new run could not produce one.
func TestRun_RediscoveryUpdatesInPlace(t *testing.T) {
	scraper := &fakeScraper{videos: scrapeSet()[:1]} // vid00 only
	text := &fakeTextScorer{scores: map[string]int{"vid00": 90}}
	vision := &fakeVisionScorer{scores: map[string]int{"vid00": 88}}
	configs := &fakeConfigStore{cfg: activeConfig()}
	results := &upsertResultStore{}

	runner := NewRunner(scraper, text, vision, configs, results,
		&fakeProfileStore{profile: &model.ProjectProfile{ProjectID: 42, Niche: "fitness"}},
		testPolicy())

	require.NoError(t, runner.Run(context.Background(), 42))
	require.Len(t, results.rows, 1)
	first := results.rows["vid00"]
	require.NotNil(t, first.VisionScore)
	assert.Equal(t, 88, *first.VisionScore)

	// The user saves the row between runs.
	first.IsSaved = true
	results.rows["vid00"] = first

	// Second run: fresher text score, vision unavailable this time.
	text.scores["vid00"] = 95
	vision.failIDs = map[string]bool{"vid00": true}

	require.NoError(t, runner.Run(context.Background(), 42))

	require.Len(t, results.rows, 1, "re-discovery must not create a second row")
	updated := results.rows["vid00"]
	assert.Equal(t, 95, updated.TextScore, "text score refreshes")
	require.NotNil(t, updated.VisionScore, "earlier vision score survives a failed vision call")
	assert.Equal(t, 88, *updated.VisionScore)
	assert.True(t, updated.IsSaved, "user flags survive re-discovery")
	assert.Equal(t, 95, updated.FinalScore, "final score reflects the new run")
}

func TestRun_CommitFailureIsRunFailure(t *testing.T) {
	textScores := map[string]int{"vid00": 90}
	scraper := &fakeScraper{videos: scrapeSet()}
	configs := &fakeConfigStore{cfg: activeConfig()}
	results := &fakeResultStore{commitErr: errors.New("connection reset")}

	runner := newTestRunner(scraper, &fakeTextScorer{scores: textScores}, &fakeVisionScorer{scores: map[string]int{"vid00": 50}}, configs, results)
	err := runner.Run(context.Background(), 42)

	require.Error(t, err)
	assert.Len(t, configs.failures, 1)
	assert.Empty(t, configs.successes)
}

func TestScheduler_TickTriggersDueRuns(t *testing.T) {
	cfg := activeConfig()
	due := time.Now().UTC().Add(-time.Minute)
	cfg.NextRunAt = &due

	scraper := &fakeScraper{videos: scrapeSet()}
	text := &fakeTextScorer{scores: map[string]int{}}
	configs := &fakeConfigStore{cfg: cfg}
	results := &fakeResultStore{}

	runner := newTestRunner(scraper, text, &fakeVisionScorer{}, configs, results)
	sched := NewScheduler(runner, configs, time.Minute)

	sched.tickOnce(context.Background())
	require.Eventually(t, func() bool {
		configs.mu.Lock()
		defer configs.mu.Unlock()
		return len(configs.successes) == 1
	}, time.Second, 5*time.Millisecond)

	// Config is re-armed in the future: the next tick finds nothing due.
	sched.tickOnce(context.Background())
	time.Sleep(20 * time.Millisecond)
	configs.mu.Lock()
	defer configs.mu.Unlock()
	assert.Len(t, configs.successes, 1)
}

func TestScheduler_SkipsPausedConfigs(t *testing.T) {
	cfg := activeConfig()
	cfg.Status = model.StatusPaused

	scraper := &fakeScraper{videos: scrapeSet()}
	configs := &fakeConfigStore{cfg: cfg}
	runner := newTestRunner(scraper, &fakeTextScorer{scores: map[string]int{}}, &fakeVisionScorer{}, configs, &fakeResultStore{})
	sched := NewScheduler(runner, configs, time.Minute)

	sched.tickOnce(context.Background())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, scraper.callCount())
}
