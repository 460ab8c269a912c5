package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/browser_downloader/internal/storage"
	"github.com/italolelis/browser_downloader/internal/telemetry"
)

// InstrumentedArtifactRepository wraps ArtifactRepository with telemetry.
type InstrumentedArtifactRepository struct {
	repo      *ArtifactRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedArtifactRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedArtifactRepository {
	return &InstrumentedArtifactRepository{
		repo:      NewArtifactRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedArtifactRepository) GetArtifacts() ([]storage.ArtifactRecord, error) {
	var result []storage.ArtifactRecord

	err := r.telemetry.InstrumentDBOperation(context.Background(), "get_artifacts", func(ctx context.Context) error {
		var opErr error
		result, opErr = r.repo.GetArtifacts()

		return opErr
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedArtifactRepository) GetContextArtifacts(contextID string) ([]storage.ArtifactRecord, error) {
	var result []storage.ArtifactRecord

	err := r.telemetry.InstrumentDBOperation(context.Background(), "get_context_artifacts", func(ctx context.Context) error {
		var opErr error
		result, opErr = r.repo.GetContextArtifacts(contextID)

		return opErr
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedArtifactRepository) TrackArtifact(downloadID, contextID, filePath string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "track_artifact", func(ctx context.Context) error {
		return r.repo.TrackArtifact(downloadID, contextID, filePath)
	})
}

func (r *InstrumentedArtifactRepository) UpdateArtifactStatus(downloadID, status string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "update_artifact_status", func(ctx context.Context) error {
		return r.repo.UpdateArtifactStatus(downloadID, status)
	})
}

func (r *InstrumentedArtifactRepository) DeleteContextArtifacts(contextID string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "delete_context_artifacts", func(ctx context.Context) error {
		return r.repo.DeleteContextArtifacts(contextID)
	})
}
