package cleanup

import (
	"context"
	"os"
	"time"

	"github.com/italolelis/browser_downloader/internal/download"
	"github.com/italolelis/browser_downloader/internal/logctx"
	"github.com/italolelis/browser_downloader/internal/storage"
)

// DeleteExpiredArtifacts removes artifacts older than keepDuration based
// on tracked records. Records still in progress are skipped; the backend
// is still writing those files.
func DeleteExpiredArtifacts(ctx context.Context, records []storage.ArtifactRecord, keepDuration time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	for _, rec := range records {
		if rec.Status == string(download.StateInProgress) || rec.FilePath == "" {
			continue
		}

		info, err := os.Stat(rec.FilePath)
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			logger.Error("failed to stat artifact", "file", rec.FilePath, "err", err)

			return err
		}

		startedAt, err := time.Parse(time.RFC3339, rec.StartedAt)
		if err != nil {
			// fallback: use file mod time
			logger.Warn("failed to parse artifact start time, using file mod time", "file", rec.FilePath, "err", err)

			startedAt = info.ModTime()
		}

		if now.Sub(startedAt) > keepDuration {
			if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
				logger.Error("failed to delete expired artifact", "file", rec.FilePath, "err", err)

				return err
			}

			logger.Info("deleted expired artifact", "file", rec.FilePath, "download_id", rec.DownloadID)
		}
	}

	return nil
}
