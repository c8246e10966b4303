package repos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"
)

// DefaultHistory is how many commits History returns when n <= 0.
const DefaultHistory = 20

const (
	// commitStamp is appended to every commit message.
	commitStamp = "02/01/2006 15:04:05"
	fieldSep    = "\x1f"
	recordSep   = "\x1e"
	logFormat   = "--format=%H" + fieldSep + "%an" + fieldSep + "%aI" + fieldSep + "%s" + recordSep
)

var (
	ErrUnknownRepo     = errors.New("unknown repository")
	ErrEmptyMessage    = errors.New("commit message is required")
	ErrNothingToCommit = errors.New("nothing to commit")

	errNoCommits = errors.New("no commits")
)

var changeStatus = map[byte]string{
	'M': "modified",
	'T': "modified",
	'A': "added",
	'D': "deleted",
	'R': "renamed",
	'C': "copied",
	'U': "conflicted",
}

// Change is one path that differs from HEAD.
type Change struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// Commit is one entry of a repository history.
type Commit struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

// CommitResult reports what CommitAndPush did.
type CommitResult struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
	Pushed  bool   `json:"pushed"`
}

// Lookup finds a scanned repository by path or, failing that, by name.
func (s *Scanner) Lookup(key string) (Repo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.repos {
		if r.Path == key {
			return r, true
		}
	}
	for _, r := range s.repos {
		if r.Name == key {
			return r, true
		}
	}
	return Repo{}, false
}

// Changes lists staged, unstaged and untracked paths of the working tree at dir.
func Changes(ctx context.Context, dir string) ([]Change, error) {
	out, err := git(ctx, dir, "status", "--porcelain=v1", "-z", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	return parseStatus(out), nil
}

func parseStatus(out string) []Change {
	var changes []Change
	fields := strings.Split(out, "\x00")
	for i := 0; i < len(fields); i++ {
		entry := fields[i]
		if len(entry) < 4 {
			continue
		}
		x, y, path := entry[0], entry[1], entry[3:]
		if x == 'R' || x == 'C' {
			// The source path follows as its own field.
			i++
		}
		if x == '?' {
			changes = append(changes, Change{Path: path, Status: "untracked"})
			continue
		}
		code := y
		if code == ' ' {
			code = x
		}
		if x == 'U' || y == 'U' || (x == y && (x == 'A' || x == 'D')) {
			code = 'U'
		}
		status, ok := changeStatus[code]
		if !ok {
			status = "modified"
		}
		changes = append(changes, Change{Path: path, Status: status})
	}
	slices.SortFunc(changes, func(a, b Change) int { return strings.Compare(a.Path, b.Path) })
	return changes
}

// History returns the last n commits reachable from HEAD, newest first.
// A repository without commits has an empty history.
func History(ctx context.Context, dir string, n int) ([]Commit, error) {
	if n <= 0 {
		n = DefaultHistory
	}
	if err := hasCommits(ctx, dir); errors.Is(err, errNoCommits) {
		return []Commit{}, nil
	} else if err != nil {
		return nil, err
	}
	out, err := git(ctx, dir, "log", "-n", fmt.Sprint(n), logFormat)
	if err != nil {
		return nil, err
	}
	return parseLog(out), nil
}

func parseLog(out string) []Commit {
	commits := []Commit{}
	for _, rec := range strings.Split(out, recordSep) {
		rec = strings.TrimLeft(rec, "\n")
		if rec == "" {
			continue
		}
		parts := strings.SplitN(rec, fieldSep, 4)
		if len(parts) != 4 {
			continue
		}
		date, _ := time.Parse(time.RFC3339, parts[2])
		commits = append(commits, Commit{
			Hash:    shortCommit(parts[0]),
			Author:  parts[1],
			Date:    date,
			Message: parts[3],
		})
	}
	return commits
}

// CommitAndPush stages every change in dir, commits it with message
// stamped with at, and pushes HEAD to origin when that remote exists.
func CommitAndPush(ctx context.Context, dir, message string, at time.Time) (CommitResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return CommitResult{}, ErrEmptyMessage
	}
	if _, err := git(ctx, dir, "add", "--all"); err != nil {
		return CommitResult{}, err
	}
	staged, err := git(ctx, dir, "diff", "--cached", "--name-only")
	if err != nil {
		return CommitResult{}, err
	}
	if strings.TrimSpace(staged) == "" {
		return CommitResult{}, ErrNothingToCommit
	}

	full := message + " - " + at.Format(commitStamp)
	if _, err := git(ctx, dir, "commit", "--quiet", "-m", full); err != nil {
		return CommitResult{}, err
	}
	hash, err := git(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return CommitResult{}, err
	}
	res := CommitResult{Hash: shortCommit(strings.TrimSpace(hash)), Message: full}

	remotes, err := git(ctx, dir, "remote")
	if err != nil {
		return res, err
	}
	if !slices.Contains(strings.Fields(remotes), "origin") {
		return res, nil
	}
	if _, err := git(ctx, dir, "push", "--quiet", "origin", "HEAD"); err != nil {
		return res, fmt.Errorf("committed %s but push failed: %w", res.Hash, err)
	}
	res.Pushed = true
	return res, nil
}

func hasCommits(ctx context.Context, dir string) error {
	if _, err := git(ctx, dir, "rev-parse", "--git-dir"); err != nil {
		return err
	}
	if _, err := git(ctx, dir, "rev-parse", "--verify", "--quiet", "HEAD"); err != nil {
		return errNoCommits
	}
	return nil
}

// git runs a git subcommand in dir and returns its standard output.
func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return string(out), nil
}

func shortCommit(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
