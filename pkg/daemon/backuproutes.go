package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modoterra/nexus/pkg/backup"
	"github.com/modoterra/nexus/pkg/manifest"
	"github.com/modoterra/nexus/pkg/transport/httpapi"
)

const backupTimeout = 30 * time.Minute

// Backups returns the backup manager.
func (d *Daemon) Backups() *backup.Manager {
	return d.backups
}

func (d *Daemon) configureBackups(cfg manifest.BackupConfig) {
	c, err := backup.ParseCompression(cfg.Compression)
	if err != nil {
		// Validate rejects unknown codecs before this runs.
		c = backup.CompressionGzip
	}
	dir := cfg.Dir
	if dir == "" {
		dir = manifest.DefaultBackupDir
	}
	d.backups.Configure(dir, c, cfg.Level)
}

// backupStatus maps backup errors onto HTTP statuses.
func backupStatus(err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, backup.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, backup.ErrInvalidName):
		code = http.StatusBadRequest
	case errors.Is(err, backup.ErrNoParent), errors.Is(err, backup.ErrHasDependents):
		code = http.StatusConflict
	case errors.Is(err, backup.ErrChecksum):
		code = http.StatusUnprocessableEntity
	}
	return &httpapi.StatusError{Code: code, Err: err}
}

func (d *Daemon) handleBackupCreate(r *http.Request) (any, error) {
	var req httpapi.BackupCreateRequest
	if err := httpapi.Decode(r, &req); err != nil {
		return nil, err
	}
	if req.Project == "" {
		return nil, httpapi.Errorf(http.StatusBadRequest, "project is required")
	}
	source := req.Source
	if source == "" {
		repo, ok := d.scanner.Lookup(req.Project)
		if !ok {
			return nil, httpapi.Errorf(http.StatusBadRequest, "no source given and no repository named %q", req.Project)
		}
		source = repo.Path
	}

	ctx, cancel := context.WithTimeout(r.Context(), backupTimeout)
	defer cancel()
	md, err := d.backups.Create(ctx, req.Project, source, backup.Options{
		Type:   req.Type,
		Parent: req.Parent,
		Tags:   req.Tags,
	})
	if err != nil {
		return nil, backupStatus(err)
	}
	return httpapi.BackupResponse{Success: true, Backup: &md}, nil
}

func (d *Daemon) handleBackupRestore(r *http.Request) (any, error) {
	var req httpapi.BackupRestoreRequest
	if err := httpapi.Decode(r, &req); err != nil {
		return nil, err
	}
	if req.Project == "" || req.BackupID == "" {
		return nil, httpapi.Errorf(http.StatusBadRequest, "project and backup_id are required")
	}

	ctx, cancel := context.WithTimeout(r.Context(), backupTimeout)
	defer cancel()
	md, err := d.backups.Restore(ctx, req.Project, req.BackupID, req.Target)
	if err != nil {
		return nil, backupStatus(err)
	}
	return httpapi.BackupResponse{Success: true, Backup: &md}, nil
}

func (d *Daemon) handleBackupList(r *http.Request) (any, error) {
	list, err := d.backups.List(r.PathValue("project"))
	if err != nil {
		return nil, backupStatus(err)
	}
	return httpapi.BackupListResponse{Success: true, Backups: list}, nil
}

func (d *Daemon) handleBackupInfo(r *http.Request) (any, error) {
	md, err := d.backups.Info(r.PathValue("project"), r.PathValue("id"))
	if err != nil {
		return nil, backupStatus(err)
	}
	return httpapi.BackupResponse{Success: true, Backup: &md}, nil
}

func (d *Daemon) handleBackupValidate(r *http.Request) (any, error) {
	md, err := d.backups.Validate(r.PathValue("project"), r.PathValue("id"))
	if errors.Is(err, backup.ErrNotFound) || errors.Is(err, backup.ErrInvalidName) {
		return nil, backupStatus(err)
	}
	if err != nil {
		return httpapi.BackupResponse{Success: false, Backup: &md, Error: err.Error()}, nil
	}
	return httpapi.BackupResponse{Success: true, Backup: &md}, nil
}

func (d *Daemon) handleBackupDelete(r *http.Request) (any, error) {
	if err := d.backups.Delete(r.PathValue("project"), r.PathValue("id")); err != nil {
		return nil, backupStatus(err)
	}
	return httpapi.ActionResponse{Success: true}, nil
}

func (d *Daemon) handleBackupLogs(r *http.Request) (any, error) {
	var f backup.Filter
	if err := httpapi.Decode(r, &f); err != nil {
		return nil, err
	}
	logs, err := d.backups.Logs(f)
	if err != nil {
		return nil, err
	}
	return httpapi.BackupLogsResponse{Success: true, Logs: logs}, nil
}
