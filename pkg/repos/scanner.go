// Package repos discovers git repositories under configured root directories.
package repos

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DefaultMaxDepth bounds how far below a root the scanner descends.
const DefaultMaxDepth = 4

// Repo is a git working tree found during a scan.
type Repo struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
}

var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	".cache":       true,
	"__pycache__":  true,
	".venv":        true,
}

// Scanner walks roots for repositories and keeps the last result.
type Scanner struct {
	mu       sync.RWMutex
	roots    []string
	maxDepth int
	repos    []Repo
	logger   *slog.Logger
}

// NewScanner creates a scanner. A maxDepth of zero uses DefaultMaxDepth.
func NewScanner(roots []string, maxDepth int, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{logger: logger}
	s.SetRoots(roots, maxDepth)
	return s
}

// SetRoots replaces the scan roots. The previous result is kept until the next Refresh.
func (s *Scanner) SetRoots(roots []string, maxDepth int) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	s.mu.Lock()
	s.roots = append([]string(nil), roots...)
	s.maxDepth = maxDepth
	s.mu.Unlock()
}

// Repos returns the result of the last Refresh, sorted by path.
func (s *Scanner) Repos() []Repo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Repo(nil), s.repos...)
}

// Refresh rescans every root and replaces the stored result.
// A missing root is logged and skipped; other walk errors fail the refresh.
func (s *Scanner) Refresh(ctx context.Context) ([]Repo, error) {
	s.mu.RLock()
	roots := append([]string(nil), s.roots...)
	maxDepth := s.maxDepth
	s.mu.RUnlock()

	seen := make(map[string]bool)
	var found []Repo
	for _, root := range roots {
		repos, err := scanRoot(ctx, root, maxDepth)
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("repo root missing", "root", root)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
		for _, r := range repos {
			if !seen[r.Path] {
				seen[r.Path] = true
				found = append(found, r)
			}
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })

	s.mu.Lock()
	s.repos = found
	s.mu.Unlock()

	s.logger.Info("repos refreshed", "roots", len(roots), "repos", len(found))
	return append([]Repo(nil), found...), nil
}

func scanRoot(ctx context.Context, root string, maxDepth int) ([]Repo, error) {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}

	var repos []Repo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (skipDirs[d.Name()] || (strings.HasPrefix(d.Name(), ".") && d.Name() != ".git")) {
			return filepath.SkipDir
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		if depth(root, path) > maxDepth {
			return filepath.SkipDir
		}

		gitDir, ok := resolveGitDir(path)
		if !ok {
			return nil
		}
		branch, commit := readHead(gitDir)
		repos = append(repos, Repo{
			Name:   filepath.Base(path),
			Path:   path,
			Branch: branch,
			Commit: commit,
		})
		// Nested repositories are submodules; leave them to their parent.
		return filepath.SkipDir
	})
	return repos, err
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// resolveGitDir returns the git directory of a working tree, following
// the "gitdir:" indirection used by worktrees and submodules.
func resolveGitDir(dir string) (string, bool) {
	dotGit := filepath.Join(dir, ".git")
	info, err := os.Stat(dotGit)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		return dotGit, true
	}
	data, err := os.ReadFile(dotGit)
	if err != nil {
		return "", false
	}
	line := strings.TrimSpace(string(data))
	target, ok := strings.CutPrefix(line, "gitdir:")
	if !ok {
		return "", false
	}
	target = strings.TrimSpace(target)
	if !filepath.IsAbs(target) {
		target = filepath.Join(dir, target)
	}
	return target, true
}

// readHead returns the checked out branch (empty when detached) and the
// commit HEAD points at, when it can be resolved.
func readHead(gitDir string) (branch, commit string) {
	data, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return "", ""
	}
	head := strings.TrimSpace(string(data))
	ref, ok := strings.CutPrefix(head, "ref: ")
	if !ok {
		return "", shortHash(head)
	}
	branch = strings.TrimPrefix(ref, "refs/heads/")
	return branch, shortHash(resolveRef(gitDir, ref))
}

func resolveRef(gitDir, ref string) string {
	if data, err := os.ReadFile(filepath.Join(gitDir, filepath.FromSlash(ref))); err == nil {
		return strings.TrimSpace(string(data))
	}
	f, err := os.Open(filepath.Join(gitDir, "packed-refs"))
	if err != nil {
		return ""
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' || line[0] == '^' {
			continue
		}
		hash, name, ok := strings.Cut(line, " ")
		if ok && name == ref {
			return hash
		}
	}
	return ""
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
