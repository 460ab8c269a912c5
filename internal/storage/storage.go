package storage

// ArtifactRecord is the durable trace of one downloaded artifact. The
// in-memory registry is authoritative while the process runs; records
// survive restarts so retention cleanup can find orphaned files.
type ArtifactRecord struct {
	DownloadID string
	ContextID  string
	FilePath   string
	StartedAt  string
	Status     string
}

type ArtifactReadRepository interface {
	GetArtifacts() ([]ArtifactRecord, error)
	GetContextArtifacts(contextID string) ([]ArtifactRecord, error)
}

type ArtifactWriteRepository interface {
	TrackArtifact(downloadID, contextID, filePath string) error
	UpdateArtifactStatus(downloadID, status string) error
	DeleteContextArtifacts(contextID string) error
}
