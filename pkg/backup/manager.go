package backup

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options tune a new backup.
type Options struct {
	Type Type
	// Parent is the backup an incremental one builds on. Empty selects the
	// newest completed backup of the project.
	Parent string
	Tags   map[string]string
	Extra  map[string]any
}

// Manager creates and restores backups under one store directory laid out
// as <dir>/<project>/<id>/{metadata.json,data.tar[.ext]}.
type Manager struct {
	mu          sync.Mutex
	dir         string
	compression Compression
	level       int
	journal     *Journal
	logger      *slog.Logger
	now         func() time.Time
}

// NewManager creates a manager storing backups under dir.
func NewManager(dir string, compression Compression, level int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{logger: logger, now: time.Now}
	m.Configure(dir, compression, level)
	return m
}

// Configure changes the store directory and the codec of new backups.
// Existing backups keep the codec they were written with.
func (m *Manager) Configure(dir string, compression Compression, level int) {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	if compression == "" {
		compression = CompressionGzip
	}
	m.mu.Lock()
	m.dir = dir
	m.compression = compression
	m.level = level
	m.journal = NewJournal(filepath.Join(dir, journalDir))
	m.mu.Unlock()
}

// Dir returns the store directory.
func (m *Manager) Dir() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dir
}

func (m *Manager) backupDir(project, id string) string {
	return filepath.Join(m.dir, project, id)
}

func (m *Manager) record(e Entry) {
	e.Time = m.now()
	if e.Level == "" {
		e.Level = LevelInfo
		if e.Status == OutcomeFailed {
			e.Level = LevelError
		}
	}
	if err := m.journal.Append(e); err != nil {
		m.logger.Warn("backup journal", "err", err)
	}
}

// Create archives the tree at source as a new backup of project.
// A failed backup leaves nothing behind but its journal entries.
func (m *Manager) Create(ctx context.Context, project, source string, opts Options) (Metadata, error) {
	if err := checkName("project", project); err != nil {
		return Metadata{}, err
	}
	if opts.Type == "" {
		opts.Type = TypeFull
	}
	switch opts.Type {
	case TypeFull, TypeIncremental, TypeSnapshot, TypeCheckpoint:
	default:
		return Metadata{}, fmt.Errorf("unknown backup type %q", opts.Type)
	}
	source, err := filepath.Abs(source)
	if err != nil {
		return Metadata{}, err
	}
	if info, err := os.Stat(source); err != nil {
		return Metadata{}, fmt.Errorf("source: %w", err)
	} else if !info.IsDir() {
		return Metadata{}, fmt.Errorf("source %s is not a directory", source)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var since time.Time
	if opts.Type == TypeIncremental {
		parent, err := m.parentFor(project, opts.Parent)
		if err != nil {
			return Metadata{}, err
		}
		opts.Parent = parent.ID
		since = parent.CreatedAt
	} else {
		opts.Parent = ""
	}

	created := m.now()
	md := Metadata{
		ID:          m.newID(project, created),
		Project:     project,
		Type:        opts.Type,
		Status:      StatusRunning,
		Source:      source,
		CreatedAt:   created,
		Compression: m.compression,
		Level:       m.level,
		Parent:      opts.Parent,
		Tags:        opts.Tags,
		Extra:       opts.Extra,
	}
	dir := m.backupDir(project, md.ID)
	m.record(Entry{Project: project, BackupID: md.ID, Action: ActionCreate, Status: OutcomeStarted,
		Message: "backup started", Details: map[string]any{"type": md.Type, "source": source}})

	if err := m.create(ctx, dir, &md, since); err != nil {
		_ = os.RemoveAll(dir)
		m.record(Entry{Project: project, BackupID: md.ID, Action: ActionCreate, Status: OutcomeFailed,
			Message: "backup failed", Error: err.Error()})
		m.logger.Error("backup failed", "project", project, "id", md.ID, "err", err)
		return Metadata{}, err
	}

	m.record(Entry{Project: project, BackupID: md.ID, Action: ActionCreate, Status: OutcomeCompleted,
		Message: "backup completed", Details: map[string]any{"files": md.Files, "size_bytes": md.SizeBytes}})
	m.logger.Info("backup created", "project", project, "id", md.ID, "files", md.Files, "bytes", md.SizeBytes)
	return md, nil
}

func (m *Manager) create(ctx context.Context, dir string, md *Metadata, since time.Time) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeMetadata(dir, *md); err != nil {
		return err
	}

	archive := filepath.Join(dir, md.archiveName())
	f, err := os.Create(archive)
	if err != nil {
		return err
	}
	h := sha256.New()
	cw, err := md.Compression.compressor(io.MultiWriter(f, h), md.Level)
	if err != nil {
		f.Close()
		return err
	}
	tw := tar.NewWriter(cw)
	st, err := writeTree(ctx, tw, md.Source, m.dir, since)
	if err == nil {
		err = tw.Close()
	}
	if err == nil {
		err = cw.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	info, err := os.Stat(archive)
	if err != nil {
		return err
	}
	done := m.now()
	md.Status = StatusCompleted
	md.CompletedAt = &done
	md.Files = st.files
	md.OriginalBytes = st.bytes
	md.SizeBytes = info.Size()
	md.Checksum = hex.EncodeToString(h.Sum(nil))
	return writeMetadata(dir, *md)
}

func (m *Manager) newID(project string, at time.Time) string {
	id := fmt.Sprintf("backup_%s_%s", project, at.Format("20060102_150405"))
	if _, err := os.Stat(m.backupDir(project, id)); err == nil {
		id += "_" + uuid.NewString()[:8]
	}
	return id
}

// parentFor resolves the parent of an incremental backup. Caller holds m.mu.
func (m *Manager) parentFor(project, id string) (Metadata, error) {
	if id == "" {
		list, err := m.list(project)
		if err != nil {
			return Metadata{}, err
		}
		for _, md := range list {
			if md.Status == StatusCompleted {
				return md, nil
			}
		}
		return Metadata{}, ErrNoParent
	}
	md, err := m.info(project, id)
	if err != nil {
		return Metadata{}, err
	}
	if md.Status != StatusCompleted {
		return Metadata{}, fmt.Errorf("%w: %s is %s", ErrNoParent, id, md.Status)
	}
	return md, nil
}

// Restore replaces target with the content of backup id. An empty target
// restores to the directory the backup was taken from. Incremental backups
// are applied on top of their parents. target is only replaced once the
// whole chain is unpacked.
func (m *Manager) Restore(ctx context.Context, project, id, target string) (Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	md, err := m.info(project, id)
	if err != nil {
		return Metadata{}, err
	}
	if target == "" {
		target = md.Source
	}
	if target, err = filepath.Abs(target); err != nil {
		return Metadata{}, err
	}
	if err := m.checkTarget(target); err != nil {
		return Metadata{}, err
	}

	m.record(Entry{Project: project, BackupID: id, Action: ActionRestore, Status: OutcomeStarted,
		Message: "restore started", Details: map[string]any{"target": target}})
	if err := m.restore(ctx, project, id, target); err != nil {
		m.record(Entry{Project: project, BackupID: id, Action: ActionRestore, Status: OutcomeFailed,
			Message: "restore failed", Error: err.Error()})
		m.logger.Error("restore failed", "project", project, "id", id, "err", err)
		return Metadata{}, err
	}
	m.record(Entry{Project: project, BackupID: id, Action: ActionRestore, Status: OutcomeCompleted,
		Message: "restore completed", Details: map[string]any{"target": target}})
	m.logger.Info("backup restored", "project", project, "id", id, "target", target)
	return md, nil
}

func (m *Manager) restore(ctx context.Context, project, id, target string) error {
	chain, err := m.restoreChain(project, id)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	staging, err := os.MkdirTemp(filepath.Dir(target), "."+filepath.Base(target)+".restore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)
	if err := os.Chmod(staging, 0o755); err != nil {
		return err
	}

	x := newExtractor(staging)
	for _, md := range chain {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := m.unpack(md, x); err != nil {
			return fmt.Errorf("unpack %s: %w", md.ID, err)
		}
	}
	if err := x.finish(); err != nil {
		return err
	}

	if err := os.RemoveAll(target); err != nil {
		return err
	}
	return os.Rename(staging, target)
}

func (m *Manager) unpack(md Metadata, x *extractor) error {
	f, err := os.Open(filepath.Join(m.backupDir(md.Project, md.ID), md.archiveName()))
	if err != nil {
		return err
	}
	defer f.Close()
	r, err := md.Compression.decompressor(f)
	if err != nil {
		return err
	}
	defer r.Close()
	return x.extract(tar.NewReader(r))
}

// checkTarget refuses restore targets that would wipe the filesystem root
// or the backup store itself.
func (m *Manager) checkTarget(target string) error {
	if target == filepath.Dir(target) {
		return fmt.Errorf("refusing to restore over %s", target)
	}
	if within(m.dir, target) {
		return fmt.Errorf("restore target %s contains the backup store", target)
	}
	if within(target, m.dir) {
		return fmt.Errorf("restore target %s is inside the backup store", target)
	}
	return nil
}

// within reports whether path is dir or lies under it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && (rel == "." || filepath.IsLocal(rel))
}

// restoreChain returns the backups to unpack for id, oldest first, after
// validating each of them.
func (m *Manager) restoreChain(project, id string) ([]Metadata, error) {
	var chain []Metadata
	seen := make(map[string]bool)
	for id != "" {
		if seen[id] {
			return nil, fmt.Errorf("backup %s: parent cycle", id)
		}
		seen[id] = true
		md, err := m.validate(project, id)
		if err != nil {
			return nil, err
		}
		chain = append(chain, md)
		if md.Type != TypeIncremental {
			break
		}
		if md.Parent == "" {
			return nil, fmt.Errorf("%w: %s", ErrNoParent, md.ID)
		}
		id = md.Parent
	}
	slices.Reverse(chain)
	return chain, nil
}

// Validate checks that a backup is complete and its archive matches the
// recorded checksum.
func (m *Manager) Validate(project, id string) (Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validate(project, id)
}

func (m *Manager) validate(project, id string) (Metadata, error) {
	md, err := m.info(project, id)
	if err != nil {
		return Metadata{}, err
	}
	if md.Status != StatusCompleted {
		return md, fmt.Errorf("backup %s is %s", id, md.Status)
	}
	f, err := os.Open(filepath.Join(m.backupDir(project, id), md.archiveName()))
	if errors.Is(err, fs.ErrNotExist) {
		return md, fmt.Errorf("backup %s: archive not found", id)
	}
	if err != nil {
		return md, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return md, err
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != md.Checksum {
		return md, fmt.Errorf("%w: backup %s", ErrChecksum, id)
	}
	return md, nil
}

// List returns the backups of project, newest first.
func (m *Manager) List(project string) ([]Metadata, error) {
	if err := checkName("project", project); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(project)
}

func (m *Manager) list(project string) ([]Metadata, error) {
	entries, err := os.ReadDir(filepath.Join(m.dir, project))
	if errors.Is(err, fs.ErrNotExist) {
		return []Metadata{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := []Metadata{}
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		md, err := readMetadata(filepath.Join(m.dir, project, de.Name()))
		if err != nil {
			m.logger.Warn("skip unreadable backup", "project", project, "id", de.Name(), "err", err)
			continue
		}
		out = append(out, md)
	}
	slices.SortFunc(out, func(a, b Metadata) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// Info returns the metadata of one backup.
func (m *Manager) Info(project, id string) (Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info(project, id)
}

func (m *Manager) info(project, id string) (Metadata, error) {
	if err := checkName("project", project); err != nil {
		return Metadata{}, err
	}
	if err := checkName("backup id", id); err != nil {
		return Metadata{}, err
	}
	md, err := readMetadata(m.backupDir(project, id))
	if errors.Is(err, fs.ErrNotExist) {
		return Metadata{}, fmt.Errorf("%w: %s/%s", ErrNotFound, project, id)
	}
	return md, err
}

// Delete removes a backup. Backups other incremental backups build on
// cannot be deleted.
func (m *Manager) Delete(project, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.info(project, id); err != nil {
		return err
	}
	list, err := m.list(project)
	if err != nil {
		return err
	}
	for _, md := range list {
		if md.Parent == id {
			return fmt.Errorf("%w: %s", ErrHasDependents, md.ID)
		}
	}

	m.record(Entry{Project: project, BackupID: id, Action: ActionDelete, Status: OutcomeStarted, Message: "delete started"})
	if err := os.RemoveAll(m.backupDir(project, id)); err != nil {
		m.record(Entry{Project: project, BackupID: id, Action: ActionDelete, Status: OutcomeFailed,
			Message: "delete failed", Error: err.Error()})
		return err
	}
	m.record(Entry{Project: project, BackupID: id, Action: ActionDelete, Status: OutcomeCompleted, Message: "backup deleted"})
	m.logger.Info("backup deleted", "project", project, "id", id)
	return nil
}

// Logs queries the journal.
func (m *Manager) Logs(f Filter) ([]Entry, error) {
	m.mu.Lock()
	j := m.journal
	m.mu.Unlock()
	return j.Query(f)
}
