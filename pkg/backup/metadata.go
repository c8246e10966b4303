// Package backup keeps compressed, checksummed archives of project trees
// and restores them, including chains of incremental backups.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// Type describes what a backup contains.
type Type string

const (
	TypeFull        Type = "full"
	TypeIncremental Type = "incremental"
	TypeSnapshot    Type = "snapshot"
	TypeCheckpoint  Type = "checkpoint"
)

// Status is the lifecycle state of a backup.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusValidating Status = "validating"
	StatusRestoring  Status = "restoring"
)

const (
	metadataFile = "metadata.json"
	archiveBase  = "data.tar"
)

var (
	ErrNotFound      = errors.New("backup not found")
	ErrInvalidName   = errors.New("invalid name")
	ErrNoParent      = errors.New("incremental backup needs a completed parent")
	ErrHasDependents = errors.New("backup is the parent of other backups")
	ErrChecksum      = errors.New("checksum mismatch")
)

// validName accepts a single path segment that is not hidden.
var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Metadata describes one backup. It is stored next to the archive.
type Metadata struct {
	ID            string            `json:"id"`
	Project       string            `json:"project"`
	Type          Type              `json:"type"`
	Status        Status            `json:"status"`
	Source        string            `json:"source"`
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	Compression   Compression       `json:"compression"`
	Level         int               `json:"level,omitempty"`
	SizeBytes     int64             `json:"size_bytes"`
	OriginalBytes int64             `json:"original_bytes"`
	Checksum      string            `json:"checksum,omitempty"`
	Parent        string            `json:"parent_backup_id,omitempty"`
	Files         int               `json:"files_count"`
	Error         string            `json:"error_message,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	Extra         map[string]any    `json:"extra,omitempty"`
}

// Ratio is the archive size over the size of the files it holds.
func (m Metadata) Ratio() float64 {
	if m.OriginalBytes == 0 {
		return 0
	}
	return float64(m.SizeBytes) / float64(m.OriginalBytes)
}

func (m Metadata) archiveName() string {
	return archiveBase + m.Compression.ext()
}

func checkName(kind, name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %s %q", ErrInvalidName, kind, name)
	}
	return nil
}

func readMetadata(dir string) (Metadata, error) {
	var md Metadata
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return md, err
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return md, fmt.Errorf("decode %s: %w", metadataFile, err)
	}
	return md, nil
}

// writeMetadata replaces the metadata file through a rename so readers
// never see a partial document.
func writeMetadata(dir string, md Metadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, metadataFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, metadataFile))
}
