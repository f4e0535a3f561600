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

// Whitelisted sort columns for result listings.
var resultSortColumns = map[string]string{
	"final_score":  "final_score",
	"vision_score": "vision_score",
	"found_at":     "found_at",
}

const resultColumns = `
	id, project_id, video_id, video_url, video_author, video_cover_url,
	video_play_addr, video_description, video_stats, text_score, text_reason,
	vision_score, vision_match_reason, vision_analysis, final_score,
	scan_batch_id, is_saved, is_dismissed, found_at`

// resultOrderClause ranks by the chosen column with play count as the
// tie-break. NULLS LAST keeps text-only rows behind vision-scored ones
// when sorting by vision_score. playCount lives inside jsonb and ->>
// yields text, so it must be cast to sort numerically instead of
// lexicographically.
func resultOrderClause(col string) string {
	return fmt.Sprintf(
		"%s DESC NULLS LAST, (video_stats->>'playCount')::bigint DESC NULLS LAST", col)
}

type ResultRepo struct {
	pool *pgxpool.Pool
}

func NewResultRepo(pool *pgxpool.Pool) *ResultRepo {
	return &ResultRepo{pool: pool}
}

// ListByProject returns one page of results. Dismissed rows are excluded
// unless requested; sortBy falls back to final_score for unknown values.
func (r *ResultRepo) ListByProject(ctx context.Context, projectID int64, page, perPage int, sortBy string, includeDismissed bool) (*model.ResultPage, error) {
	col, ok := resultSortColumns[sortBy]
	if !ok {
		col = "final_score"
	}

	where := `WHERE project_id = $1`
	if !includeDismissed {
		where += ` AND is_dismissed = false`
	}

	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM super_vision_results `+where, projectID).Scan(&total)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s
		FROM super_vision_results %s
		ORDER BY %s
		LIMIT $2 OFFSET $3`, resultColumns, where, resultOrderClause(col))

	rows, err := r.pool.Query(ctx, query, projectID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.SuperVisionResult{}
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &model.ResultPage{
		Items:   items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		HasMore: total > page*perPage,
	}, nil
}

// CommitRun persists a run's ranked results in a single transaction.
// Re-discovered (project, video) pairs are updated in place; user state
// (is_saved, is_dismissed) survives rescoring.
func (r *ResultRepo) CommitRun(ctx context.Context, projectID int64, batchID string, results []model.SuperVisionResult) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, res := range results {
		statsJSON, err := json.Marshal(res.VideoStats)
		if err != nil {
			return fmt.Errorf("marshal video stats: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO super_vision_results
				(project_id, video_id, video_url, video_author, video_cover_url,
				 video_play_addr, video_description, video_stats, text_score,
				 text_reason, vision_score, vision_match_reason, vision_analysis,
				 final_score, scan_batch_id, found_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
			ON CONFLICT (project_id, video_id) DO UPDATE
			SET text_score = EXCLUDED.text_score,
			    text_reason = EXCLUDED.text_reason,
			    vision_score = COALESCE(EXCLUDED.vision_score, super_vision_results.vision_score),
			    vision_match_reason = COALESCE(EXCLUDED.vision_match_reason, super_vision_results.vision_match_reason),
			    vision_analysis = COALESCE(EXCLUDED.vision_analysis, super_vision_results.vision_analysis),
			    final_score = EXCLUDED.final_score,
			    video_stats = EXCLUDED.video_stats,
			    scan_batch_id = EXCLUDED.scan_batch_id`,
			projectID, res.VideoID, res.VideoURL, res.VideoAuthor, res.VideoCoverURL,
			res.VideoPlayAddr, res.VideoDescription, statsJSON, res.TextScore,
			res.TextReason, res.VisionScore, res.VisionMatchReason, res.VisionAnalysis,
			res.FinalScore, batchID)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// RecentTextScores returns text scores recorded for a project since the
// cutoff, keyed by video id. Used to skip re-scoring fresh videos.
func (r *ResultRepo) RecentTextScores(ctx context.Context, projectID int64, cutoff time.Time) (map[string]model.TextScore, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT video_id, text_score, text_reason
		FROM super_vision_results
		WHERE project_id = $1 AND found_at > $2`,
		projectID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := make(map[string]model.TextScore)
	for rows.Next() {
		var ts model.TextScore
		if err := rows.Scan(&ts.VideoID, &ts.Score, &ts.Reason); err != nil {
			return nil, err
		}
		scores[ts.VideoID] = ts
	}
	return scores, rows.Err()
}

// Dismiss soft-hides a result from default listings. Returns the owning
// project id so callers can invalidate cached listings.
func (r *ResultRepo) Dismiss(ctx context.Context, resultID int64) (int64, error) {
	return r.setFlag(ctx, resultID, "is_dismissed")
}

// Save marks a result as saved by the user.
func (r *ResultRepo) Save(ctx context.Context, resultID int64) (int64, error) {
	return r.setFlag(ctx, resultID, "is_saved")
}

func (r *ResultRepo) setFlag(ctx context.Context, resultID int64, column string) (int64, error) {
	var projectID int64
	err := r.pool.QueryRow(ctx,
		fmt.Sprintf(`UPDATE super_vision_results SET %s = true WHERE id = $1 RETURNING project_id`, column),
		resultID).Scan(&projectID)
	if err != nil {
		return 0, err
	}
	return projectID, nil
}

// Clear hard-deletes all results for a project and returns the count.
func (r *ResultRepo) Clear(ctx context.Context, projectID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM super_vision_results WHERE project_id = $1`, projectID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountActive returns the number of non-dismissed results for a project.
func (r *ResultRepo) CountActive(ctx context.Context, projectID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM super_vision_results
		WHERE project_id = $1 AND is_dismissed = false`,
		projectID).Scan(&count)
	return count, err
}

func scanResult(row pgx.Row) (*model.SuperVisionResult, error) {
	var res model.SuperVisionResult
	var statsJSON []byte
	err := row.Scan(
		&res.ID, &res.ProjectID, &res.VideoID, &res.VideoURL, &res.VideoAuthor,
		&res.VideoCoverURL, &res.VideoPlayAddr, &res.VideoDescription, &statsJSON,
		&res.TextScore, &res.TextReason, &res.VisionScore, &res.VisionMatchReason,
		&res.VisionAnalysis, &res.FinalScore, &res.ScanBatchID, &res.IsSaved,
		&res.IsDismissed, &res.FoundAt,
	)
	if err != nil {
		return nil, err
	}
	if len(statsJSON) > 0 {
		_ = json.Unmarshal(statsJSON, &res.VideoStats)
	}
	return &res, nil
}
