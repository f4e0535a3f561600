package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/clipscope/clipscope-go/internal/model"
	"github.com/clipscope/clipscope-go/internal/pipeline"
	"github.com/clipscope/clipscope-go/internal/repository"
)

// ErrConfigExists is returned when a project already has a scan config.
var ErrConfigExists = errors.New("config already exists for this project")

// A freshly activated config gets its first run almost immediately instead
// of waiting a full scan interval.
const firstRunDelay = time.Minute

// SuperVisionService owns the config lifecycle and result listings. Runs
// themselves are delegated to the pipeline runner.
type SuperVisionService struct {
	configs  *repository.ConfigRepo
	results  *repository.ResultRepo
	projects *repository.ProjectRepo
	cache    *CacheService
	runner   *pipeline.Runner
}

func NewSuperVisionService(configs *repository.ConfigRepo, results *repository.ResultRepo, projects *repository.ProjectRepo, cache *CacheService, runner *pipeline.Runner) *SuperVisionService {
	return &SuperVisionService{
		configs:  configs,
		results:  results,
		projects: projects,
		cache:    cache,
		runner:   runner,
	}
}

// GetConfig returns a project's config, or pgx.ErrNoRows.
func (s *SuperVisionService) GetConfig(ctx context.Context, projectID int64) (*model.SuperVisionConfig, error) {
	return s.configs.GetByProject(ctx, projectID)
}

// CreateConfig validates and stores a new config in draft status. The
// project must exist; one config per project.
func (s *SuperVisionService) CreateConfig(ctx context.Context, cfg *model.SuperVisionConfig) (*model.SuperVisionConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.projects.GetProfile(ctx, cfg.ProjectID); err != nil {
		return nil, err
	}

	created, err := s.configs.Create(ctx, cfg)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrConfigExists
		}
		return nil, err
	}
	return created, nil
}

// UpdateConfig validates and applies new filter settings. Schedule and run
// state are untouched; the next run picks the new filters up.
func (s *SuperVisionService) UpdateConfig(ctx context.Context, cfg *model.SuperVisionConfig) (*model.SuperVisionConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return s.configs.UpdateFilters(ctx, cfg)
}

// Activate flips a config to active and schedules the first run shortly.
// Activating an errored config clears the trip state.
func (s *SuperVisionService) Activate(ctx context.Context, projectID int64) (*model.SuperVisionConfig, error) {
	next := time.Now().UTC().Add(firstRunDelay)
	return s.configs.SetStatus(ctx, projectID, model.StatusActive, &next)
}

// Pause stops the schedule. A run already in flight finishes normally.
func (s *SuperVisionService) Pause(ctx context.Context, projectID int64) (*model.SuperVisionConfig, error) {
	return s.configs.SetStatus(ctx, projectID, model.StatusPaused, nil)
}

// Trigger fires a run immediately in the background. Returns
// pipeline.ErrRunInProgress if the project already has one in flight.
func (s *SuperVisionService) Trigger(ctx context.Context, projectID int64) error {
	// Resolve the config first so a missing one surfaces as a 404, not a
	// background failure.
	if _, err := s.configs.GetByProject(ctx, projectID); err != nil {
		return err
	}
	return s.runner.TryRunAsync(projectID)
}

// Delete removes a config and all its results.
func (s *SuperVisionService) Delete(ctx context.Context, projectID int64) error {
	if err := s.configs.Delete(ctx, projectID); err != nil {
		return err
	}
	if err := s.cache.InvalidateResults(ctx, projectID); err != nil {
		log.Warn().Err(err).Int64("project_id", projectID).Msg("cache invalidation failed")
	}
	return nil
}

// Overview returns every config with its project name and active result
// count, for the dashboard.
func (s *SuperVisionService) Overview(ctx context.Context) ([]model.ConfigOverview, error) {
	configs, err := s.configs.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	overviews := make([]model.ConfigOverview, 0, len(configs))
	for _, cfg := range configs {
		ov := model.ConfigOverview{SuperVisionConfig: cfg}

		if profile, err := s.projects.GetProfile(ctx, cfg.ProjectID); err == nil {
			ov.ProjectName = profile.Name
		}
		count, err := s.results.CountActive(ctx, cfg.ProjectID)
		if err != nil {
			return nil, err
		}
		ov.ResultsCount = count

		overviews = append(overviews, ov)
	}
	return overviews, nil
}

// ListResults returns one page of results, cache-aside over Redis. The
// returned bytes are the JSON-encoded page, ready to serve.
func (s *SuperVisionService) ListResults(ctx context.Context, projectID int64, page, perPage int, sortBy string, includeDismissed bool) ([]byte, error) {
	key := ResultPageKey(projectID, page, perPage, sortBy, includeDismissed)

	if cached, err := s.cache.GetResultPage(ctx, key); err == nil && cached != nil {
		return cached, nil
	} else if err != nil {
		log.Warn().Err(err).Msg("result page cache read failed")
	}

	pageData, err := s.results.ListByProject(ctx, projectID, page, perPage, sortBy, includeDismissed)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(pageData)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetResultPage(ctx, key, pageData); err != nil {
		log.Warn().Err(err).Msg("result page cache write failed")
	}
	return body, nil
}

// Dismiss hides a result from default listings.
func (s *SuperVisionService) Dismiss(ctx context.Context, resultID int64) error {
	projectID, err := s.results.Dismiss(ctx, resultID)
	if err != nil {
		return err
	}
	return s.cache.InvalidateResults(ctx, projectID)
}

// Save marks a result as saved.
func (s *SuperVisionService) Save(ctx context.Context, resultID int64) error {
	projectID, err := s.results.Save(ctx, resultID)
	if err != nil {
		return err
	}
	return s.cache.InvalidateResults(ctx, projectID)
}

// ClearResults purges every stored result for a project and returns the
// number of rows removed.
func (s *SuperVisionService) ClearResults(ctx context.Context, projectID int64) (int64, error) {
	deleted, err := s.results.Clear(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if err := s.cache.InvalidateResults(ctx, projectID); err != nil {
		log.Warn().Err(err).Int64("project_id", projectID).Msg("cache invalidation failed")
	}
	return deleted, nil
}
