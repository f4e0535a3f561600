package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clipscope/clipscope-go/internal/model"
)

const configColumns = `
	id, project_id, status, min_views, date_range_days, scan_interval_hours,
	max_vision_videos, custom_keywords, text_score_threshold,
	consecutive_errors, last_run_at, next_run_at, last_run_status,
	last_run_stats, last_error, created_at, updated_at`

type ConfigRepo struct {
	pool *pgxpool.Pool
}

func NewConfigRepo(pool *pgxpool.Pool) *ConfigRepo {
	return &ConfigRepo{pool: pool}
}

// GetByProject returns the config for a project, or pgx.ErrNoRows.
func (r *ConfigRepo) GetByProject(ctx context.Context, projectID int64) (*model.SuperVisionConfig, error) {
	query := `SELECT` + configColumns + `
		FROM super_vision_configs
		WHERE project_id = $1`

	row := r.pool.QueryRow(ctx, query, projectID)
	return scanConfig(row)
}

// Create inserts a new config in draft status and returns the stored row.
func (r *ConfigRepo) Create(ctx context.Context, c *model.SuperVisionConfig) (*model.SuperVisionConfig, error) {
	query := `
		INSERT INTO super_vision_configs
			(project_id, status, min_views, date_range_days, scan_interval_hours,
			 max_vision_videos, custom_keywords, text_score_threshold)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING` + configColumns

	row := r.pool.QueryRow(ctx, query,
		c.ProjectID, model.StatusDraft, c.MinViews, c.DateRangeDays,
		c.ScanIntervalHours, c.MaxVisionVideos, c.CustomKeywords, c.TextScoreThreshold,
	)
	return scanConfig(row)
}

// UpdateFilters updates the user-editable filter fields.
func (r *ConfigRepo) UpdateFilters(ctx context.Context, c *model.SuperVisionConfig) (*model.SuperVisionConfig, error) {
	query := `
		UPDATE super_vision_configs
		SET min_views = $2, date_range_days = $3, scan_interval_hours = $4,
		    max_vision_videos = $5, custom_keywords = $6, text_score_threshold = $7,
		    updated_at = NOW()
		WHERE project_id = $1
		RETURNING` + configColumns

	row := r.pool.QueryRow(ctx, query,
		c.ProjectID, c.MinViews, c.DateRangeDays, c.ScanIntervalHours,
		c.MaxVisionVideos, c.CustomKeywords, c.TextScoreThreshold,
	)
	return scanConfig(row)
}

// SetStatus transitions a config's status. Activation supplies the next
// run time; pausing clears it. Activating also resets the error trip.
func (r *ConfigRepo) SetStatus(ctx context.Context, projectID int64, status string, nextRunAt *time.Time) (*model.SuperVisionConfig, error) {
	query := `
		UPDATE super_vision_configs
		SET status = $2,
		    next_run_at = $3,
		    consecutive_errors = CASE WHEN $2 = 'active' THEN 0 ELSE consecutive_errors END,
		    last_error = CASE WHEN $2 = 'active' THEN NULL ELSE last_error END,
		    updated_at = NOW()
		WHERE project_id = $1
		RETURNING` + configColumns

	row := r.pool.QueryRow(ctx, query, projectID, status, nextRunAt)
	return scanConfig(row)
}

// Delete removes a config and all its results in one transaction.
func (r *ConfigRepo) Delete(ctx context.Context, projectID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM super_vision_results WHERE project_id = $1`, projectID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM super_vision_configs WHERE project_id = $1`, projectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	return tx.Commit(ctx)
}

// ListDue returns active configs whose next run time has elapsed.
func (r *ConfigRepo) ListDue(ctx context.Context, now time.Time) ([]model.SuperVisionConfig, error) {
	query := `SELECT` + configColumns + `
		FROM super_vision_configs
		WHERE status = 'active' AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at ASC`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanConfigs(rows)
}

// ListAll returns every config, for the dashboard overview.
func (r *ConfigRepo) ListAll(ctx context.Context) ([]model.SuperVisionConfig, error) {
	query := `SELECT` + configColumns + `
		FROM super_vision_configs
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanConfigs(rows)
}

// RecordRunSuccess writes the run telemetry for a completed run, resets
// the error trip, and re-arms the schedule while the config is active.
func (r *ConfigRepo) RecordRunSuccess(ctx context.Context, projectID int64, stats model.RunStats, finishedAt, nextRunAt time.Time) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		UPDATE super_vision_configs
		SET consecutive_errors = 0,
		    last_error = NULL,
		    last_run_status = 'success',
		    last_run_at = $2,
		    last_run_stats = $3,
		    next_run_at = CASE WHEN status = 'active' THEN $4 ELSE NULL END,
		    updated_at = NOW()
		WHERE project_id = $1`,
		projectID, finishedAt, statsJSON, nextRunAt)
	return err
}

// RecordRunFailure increments the consecutive-error counter and, once the
// trip threshold is reached, flips the config to error status and stops
// the schedule. Returns the updated error count.
func (r *ConfigRepo) RecordRunFailure(ctx context.Context, projectID int64, runErr string, finishedAt, nextRunAt time.Time, tripThreshold int) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		UPDATE super_vision_configs
		SET consecutive_errors = consecutive_errors + 1,
		    last_error = $2,
		    last_run_status = 'error',
		    last_run_at = $3,
		    status = CASE WHEN consecutive_errors + 1 >= $5 THEN 'error' ELSE status END,
		    next_run_at = CASE
		        WHEN consecutive_errors + 1 >= $5 THEN NULL
		        WHEN status = 'active' THEN $4
		        ELSE NULL END,
		    updated_at = NOW()
		WHERE project_id = $1
		RETURNING consecutive_errors`,
		projectID, runErr, finishedAt, nextRunAt, tripThreshold).Scan(&count)
	return count, err
}

func scanConfig(row pgx.Row) (*model.SuperVisionConfig, error) {
	var c model.SuperVisionConfig
	var statsJSON []byte
	err := row.Scan(
		&c.ID, &c.ProjectID, &c.Status, &c.MinViews, &c.DateRangeDays,
		&c.ScanIntervalHours, &c.MaxVisionVideos, &c.CustomKeywords,
		&c.TextScoreThreshold, &c.ConsecutiveErrors, &c.LastRunAt, &c.NextRunAt,
		&c.LastRunStatus, &statsJSON, &c.LastError, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(statsJSON) > 0 {
		var stats model.RunStats
		if err := json.Unmarshal(statsJSON, &stats); err == nil {
			c.LastRunStats = &stats
		}
	}
	if c.CustomKeywords == nil {
		c.CustomKeywords = []string{}
	}
	return &c, nil
}

func scanConfigs(rows pgx.Rows) ([]model.SuperVisionConfig, error) {
	var configs []model.SuperVisionConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *c)
	}
	return configs, rows.Err()
}
