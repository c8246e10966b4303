package backup

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// Level grades a journal entry.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Operations recorded in the journal.
const (
	ActionCreate  = "create"
	ActionRestore = "restore"
	ActionDelete  = "delete"
)

// Outcomes recorded in the journal.
const (
	OutcomeStarted   = "started"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

const journalDir = ".journal"

// Entry is one journal record.
type Entry struct {
	Time     time.Time      `json:"time"`
	Level    Level          `json:"level"`
	Project  string         `json:"project"`
	BackupID string         `json:"backup_id,omitempty"`
	Action   string         `json:"action"`
	Status   string         `json:"status"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Filter selects journal entries. Zero fields match everything.
type Filter struct {
	Project  string    `json:"project,omitempty"`
	BackupID string    `json:"backup_id,omitempty"`
	Level    Level     `json:"level,omitempty"`
	Since    time.Time `json:"since,omitzero"`
	Until    time.Time `json:"until,omitzero"`
	Limit    int       `json:"limit,omitempty"`
}

func (f Filter) match(e Entry) bool {
	switch {
	case f.Project != "" && e.Project != f.Project:
		return false
	case f.BackupID != "" && e.BackupID != f.BackupID:
		return false
	case f.Level != "" && e.Level != f.Level:
		return false
	case !f.Since.IsZero() && e.Time.Before(f.Since):
		return false
	case !f.Until.IsZero() && e.Time.After(f.Until):
		return false
	}
	return true
}

// Journal appends backup events as JSON lines, one file per project and day.
type Journal struct {
	mu  sync.Mutex
	dir string
}

// NewJournal stores its files under dir.
func NewJournal(dir string) *Journal {
	return &Journal{dir: dir}
}

func (j *Journal) file(project string, day time.Time) string {
	return filepath.Join(j.dir, fmt.Sprintf("%s_%s.log", project, day.Format(time.DateOnly)))
}

// Append writes e.
func (j *Journal) Append(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(j.file(e.Project, e.Time), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Query returns the matching entries, newest first.
func (j *Journal) Query(f Filter) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	files, err := os.ReadDir(j.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := []Entry{}
	for _, de := range files {
		project, day, ok := parseJournalName(de.Name())
		if !ok || (f.Project != "" && project != f.Project) {
			continue
		}
		// Whole days outside the range can be skipped unread.
		if !f.Since.IsZero() && day.Add(24*time.Hour).Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && day.After(f.Until) {
			continue
		}
		entries, err := readJournal(filepath.Join(j.dir, de.Name()))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if f.match(e) {
				out = append(out, e)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b Entry) int { return b.Time.Compare(a.Time) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func parseJournalName(name string) (string, time.Time, bool) {
	base, ok := strings.CutSuffix(name, ".log")
	if !ok {
		return "", time.Time{}, false
	}
	i := strings.LastIndexByte(base, '_')
	if i <= 0 {
		return "", time.Time{}, false
	}
	day, err := time.ParseInLocation(time.DateOnly, base[i+1:], time.Local)
	if err != nil {
		return "", time.Time{}, false
	}
	return base[:i], day, true
}

// readJournal decodes a journal file, skipping lines that do not parse.
func readJournal(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var e Entry
		if json.Unmarshal(sc.Bytes(), &e) == nil {
			entries = append(entries, e)
		}
	}
	return entries, sc.Err()
}
