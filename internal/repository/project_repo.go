package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clipscope/clipscope-go/internal/model"
)

// ProjectRepo reads project profiles. Projects are owned by the project
// subsystem; this service never writes them.
type ProjectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

// GetProfile returns the content profile for a project, or pgx.ErrNoRows.
func (r *ProjectRepo) GetProfile(ctx context.Context, projectID int64) (*model.ProjectProfile, error) {
	var name string
	var profileJSON []byte
	err := r.pool.QueryRow(ctx, `
		SELECT name, profile_data
		FROM projects
		WHERE id = $1`,
		projectID).Scan(&name, &profileJSON)
	if err != nil {
		return nil, err
	}

	profile := &model.ProjectProfile{ProjectID: projectID, Name: name}
	if len(profileJSON) > 0 {
		if err := json.Unmarshal(profileJSON, profile); err != nil {
			return nil, fmt.Errorf("decode profile for project %d: %w", projectID, err)
		}
	}
	// Unmarshal may clobber the identifiers if the JSON carries them.
	profile.ProjectID = projectID
	profile.Name = name
	return profile, nil
}
