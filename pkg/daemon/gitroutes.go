package daemon

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/modoterra/nexus/pkg/repos"
	"github.com/modoterra/nexus/pkg/transport/httpapi"
)

const gitTimeout = time.Minute

// lookupRepo resolves the {repo} path value against the last scan.
func (d *Daemon) lookupRepo(r *http.Request) (repos.Repo, error) {
	key := r.PathValue("repo")
	repo, ok := d.scanner.Lookup(key)
	if !ok {
		return repos.Repo{}, httpapi.Errorf(http.StatusNotFound, "%s: %s", repos.ErrUnknownRepo, key)
	}
	return repo, nil
}

func (d *Daemon) handleRepoChanges(r *http.Request) (any, error) {
	repo, err := d.lookupRepo(r)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(r.Context(), gitTimeout)
	defer cancel()

	changes, err := repos.Changes(ctx, repo.Path)
	if err != nil {
		d.logger.Warn("repo changes", "repo", repo.Path, "err", err)
		return httpapi.ChangesResponse{Success: false, Changes: []httpapi.Change{}, Error: err.Error()}, nil
	}
	out := make([]httpapi.Change, len(changes))
	for i, c := range changes {
		out[i] = httpapi.Change{Path: c.Path, Status: c.Status}
	}
	return httpapi.ChangesResponse{Success: true, Changes: out}, nil
}

func (d *Daemon) handleRepoHistory(r *http.Request) (any, error) {
	repo, err := d.lookupRepo(r)
	if err != nil {
		return nil, err
	}
	n, err := lineCount(r, repos.DefaultHistory)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(r.Context(), gitTimeout)
	defer cancel()

	commits, err := repos.History(ctx, repo.Path, n)
	if err != nil {
		d.logger.Warn("repo history", "repo", repo.Path, "err", err)
		return httpapi.HistoryResponse{Success: false, Commits: []httpapi.Commit{}, Error: err.Error()}, nil
	}
	out := make([]httpapi.Commit, len(commits))
	for i, c := range commits {
		out[i] = httpapi.Commit{Hash: c.Hash, Author: c.Author, Date: c.Date, Message: c.Message}
	}
	return httpapi.HistoryResponse{Success: true, Commits: out}, nil
}

func (d *Daemon) handleRepoCommit(r *http.Request) (any, error) {
	repo, err := d.lookupRepo(r)
	if err != nil {
		return nil, err
	}
	var req httpapi.CommitRequest
	if err := httpapi.Decode(r, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, httpapi.Errorf(http.StatusBadRequest, "%s", repos.ErrEmptyMessage)
	}

	ctx, cancel := context.WithTimeout(r.Context(), gitTimeout)
	defer cancel()
	res, err := repos.CommitAndPush(ctx, repo.Path, req.Message, time.Now())
	resp := httpapi.CommitResponse{Success: err == nil, Hash: res.Hash, Message: res.Message, Pushed: res.Pushed}
	if err != nil {
		resp.Error = err.Error()
		if !errors.Is(err, repos.ErrNothingToCommit) {
			d.logger.Error("repo commit", "repo", repo.Path, "err", err)
		}
	}
	if res.Hash != "" {
		d.logger.Info("repo committed", "repo", repo.Path, "hash", res.Hash, "pushed", res.Pushed)
		if _, err := d.scanner.Refresh(ctx); err != nil {
			d.logger.Warn("refresh repos after commit", "err", err)
		}
	}
	return resp, nil
}
