package sqlite

import (
	"database/sql"
	"time"

	"github.com/italolelis/browser_downloader/internal/storage"
)

// ArtifactRepository stores artifact records in SQLite. It implements
// both storage.ArtifactReadRepository and storage.ArtifactWriteRepository.
type ArtifactRepository struct {
	db *sql.DB
}

func NewArtifactRepository(dbConn *sql.DB) *ArtifactRepository {
	return &ArtifactRepository{db: dbConn}
}

func (r *ArtifactRepository) GetArtifacts() ([]storage.ArtifactRecord, error) {
	rows, err := r.db.Query(`SELECT download_id, context_id, file_path, started_at, status FROM artifacts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanArtifacts(rows)
}

func (r *ArtifactRepository) GetContextArtifacts(contextID string) ([]storage.ArtifactRecord, error) {
	rows, err := r.db.Query(
		`SELECT download_id, context_id, file_path, started_at, status FROM artifacts WHERE context_id = ?`,
		contextID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanArtifacts(rows)
}

// TrackArtifact records a new artifact the moment the backend reports
// the download starting. Re-tracking the same download id is an upsert,
// so a replayed begin event does not fail.
func (r *ArtifactRepository) TrackArtifact(downloadID, contextID, filePath string) error {
	_, err := r.db.Exec(
		`INSERT INTO artifacts (download_id, context_id, file_path, started_at, status)
		VALUES (?, ?, ?, ?, 'in_progress')
		ON CONFLICT(download_id) DO UPDATE SET
			context_id = excluded.context_id,
			file_path = excluded.file_path`,
		downloadID, contextID, filePath, time.Now().Format(time.RFC3339),
	)

	return err
}

// UpdateArtifactStatus sets the status for a download.
func (r *ArtifactRepository) UpdateArtifactStatus(downloadID, status string) error {
	_, err := r.db.Exec(`UPDATE artifacts SET status = ? WHERE download_id = ?`, status, downloadID)

	return err
}

// DeleteContextArtifacts releases every record owned by a browsing
// context when it closes.
func (r *ArtifactRepository) DeleteContextArtifacts(contextID string) error {
	_, err := r.db.Exec(`DELETE FROM artifacts WHERE context_id = ?`, contextID)

	return err
}

func scanArtifacts(rows *sql.Rows) ([]storage.ArtifactRecord, error) {
	var artifacts []storage.ArtifactRecord

	for rows.Next() {
		var record storage.ArtifactRecord
		if err := rows.Scan(&record.DownloadID, &record.ContextID, &record.FilePath, &record.StartedAt, &record.Status); err != nil {
			return nil, err
		}

		artifacts = append(artifacts, record)
	}

	return artifacts, rows.Err()
}
