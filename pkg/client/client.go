// Package client talks to the nexusd HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/modoterra/nexus/pkg/backup"
	"github.com/modoterra/nexus/pkg/core"
	"github.com/modoterra/nexus/pkg/transport/httpapi"
)

const (
	// DefaultAddr is where nexusd listens unless configured otherwise.
	DefaultAddr    = "http://127.0.0.1:5000"
	DefaultTimeout = 10 * time.Second
	// DefaultLogLines matches the backend default for n.
	DefaultLogLines = 100

	maxResponseBytes = 10 << 20
)

// Client is a nexusd API client.
type Client struct {
	base     string
	http     *http.Client
	logLines int
}

// New creates a client for the daemon at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultAddr
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base:     strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		logLines: DefaultLogLines,
	}
}

// BaseURL returns the daemon address.
func (c *Client) BaseURL() string { return c.base }

// SetLogLines changes how many lines Fetch asks for.
func (c *Client) SetLogLines(n int) {
	if n > 0 {
		c.logLines = n
	}
}

// Fetch returns the current log snapshot of pid.
func (c *Client) Fetch(ctx context.Context, pid core.ProcessID) (core.LogSnapshot, error) {
	path := httpapi.LogsPath(pid) + "?n=" + strconv.Itoa(c.logLines)
	var resp httpapi.LogsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &core.BackendError{Message: resp.Error}
	}
	if resp.Logs == nil {
		return core.LogSnapshot{}, nil
	}
	return core.LogSnapshot(resp.Logs), nil
}

// GlobalLogs returns the last n lines of the daemon-wide log.
func (c *Client) GlobalLogs(ctx context.Context, n int) (core.LogSnapshot, error) {
	path := httpapi.PathGlobalLogs
	if n > 0 {
		path += "?n=" + strconv.Itoa(n)
	}
	var resp httpapi.LogsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &core.BackendError{Message: resp.Error}
	}
	if resp.Logs == nil {
		return core.LogSnapshot{}, nil
	}
	return core.LogSnapshot(resp.Logs), nil
}

// Ping checks the daemon is reachable.
func (c *Client) Ping(ctx context.Context) (httpapi.PingResponse, error) {
	var resp httpapi.PingResponse
	err := c.do(ctx, http.MethodGet, httpapi.PathPing, nil, &resp)
	return resp, err
}

// Services lists the managed services.
func (c *Client) Services(ctx context.Context) ([]core.Item, error) {
	var resp httpapi.ServicesResponse
	if err := c.do(ctx, http.MethodGet, httpapi.PathServices, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Services, nil
}

// Action runs start, stop or restart on a service.
func (c *Client) Action(ctx context.Context, pid core.ProcessID, action string) error {
	var resp httpapi.ActionResponse
	if err := c.do(ctx, http.MethodPost, httpapi.ActionPath(pid, action), nil, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &core.BackendError{Message: resp.Error}
	}
	return nil
}

// RefreshRepos asks the daemon to rescan repositories.
func (c *Client) RefreshRepos(ctx context.Context) (int, error) {
	var resp httpapi.RefreshResponse
	if err := c.do(ctx, http.MethodPost, httpapi.PathRefreshRepos, nil, &resp); err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, &core.BackendError{Message: resp.Error}
	}
	return resp.Repos, nil
}

// Repos lists the last scanned repositories.
func (c *Client) Repos(ctx context.Context) ([]httpapi.Repo, error) {
	var resp httpapi.ReposResponse
	if err := c.do(ctx, http.MethodGet, httpapi.PathRepos, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Repos, nil
}

// RepoChanges lists the uncommitted changes of a scanned repository.
func (c *Client) RepoChanges(ctx context.Context, repo string) ([]httpapi.Change, error) {
	var resp httpapi.ChangesResponse
	if err := c.do(ctx, http.MethodGet, httpapi.RepoPath(repo, "changes"), nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &core.BackendError{Message: resp.Error}
	}
	return resp.Changes, nil
}

// RepoHistory returns the last n commits of a scanned repository.
func (c *Client) RepoHistory(ctx context.Context, repo string, n int) ([]httpapi.Commit, error) {
	path := httpapi.RepoPath(repo, "history")
	if n > 0 {
		path += "?n=" + strconv.Itoa(n)
	}
	var resp httpapi.HistoryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &core.BackendError{Message: resp.Error}
	}
	return resp.Commits, nil
}

// Commit stages, commits and pushes every change of a scanned repository.
// A failed push still returns the commit that was made.
func (c *Client) Commit(ctx context.Context, repo, message string) (httpapi.CommitResponse, error) {
	var resp httpapi.CommitResponse
	if err := c.do(ctx, http.MethodPost, httpapi.RepoPath(repo, "commit"), httpapi.CommitRequest{Message: message}, &resp); err != nil {
		return resp, err
	}
	if !resp.Success {
		return resp, &core.BackendError{Message: resp.Error}
	}
	return resp, nil
}

// CreateBackup archives a project. An empty source backs up the scanned
// repository of that name.
func (c *Client) CreateBackup(ctx context.Context, req httpapi.BackupCreateRequest) (backup.Metadata, error) {
	var resp httpapi.BackupResponse
	if err := c.do(ctx, http.MethodPost, httpapi.PathBackupCreate, req, &resp); err != nil {
		return backup.Metadata{}, err
	}
	return backupOf(resp)
}

// RestoreBackup restores a backup over target, or over its source when
// target is empty.
func (c *Client) RestoreBackup(ctx context.Context, project, id, target string) (backup.Metadata, error) {
	req := httpapi.BackupRestoreRequest{Project: project, BackupID: id, Target: target}
	var resp httpapi.BackupResponse
	if err := c.do(ctx, http.MethodPost, httpapi.PathBackupRestore, req, &resp); err != nil {
		return backup.Metadata{}, err
	}
	return backupOf(resp)
}

// Backups lists the backups of a project, newest first.
func (c *Client) Backups(ctx context.Context, project string) ([]backup.Metadata, error) {
	var resp httpapi.BackupListResponse
	if err := c.do(ctx, http.MethodGet, httpapi.BackupPath("list", project, ""), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Backups, nil
}

// BackupInfo returns the metadata of one backup.
func (c *Client) BackupInfo(ctx context.Context, project, id string) (backup.Metadata, error) {
	var resp httpapi.BackupResponse
	if err := c.do(ctx, http.MethodGet, httpapi.BackupPath("info", project, id), nil, &resp); err != nil {
		return backup.Metadata{}, err
	}
	return backupOf(resp)
}

// ValidateBackup checks a backup archive against its checksum.
func (c *Client) ValidateBackup(ctx context.Context, project, id string) (backup.Metadata, error) {
	var resp httpapi.BackupResponse
	if err := c.do(ctx, http.MethodGet, httpapi.BackupPath("validate", project, id), nil, &resp); err != nil {
		return backup.Metadata{}, err
	}
	return backupOf(resp)
}

// DeleteBackup removes a backup.
func (c *Client) DeleteBackup(ctx context.Context, project, id string) error {
	var resp httpapi.ActionResponse
	if err := c.do(ctx, http.MethodDelete, httpapi.BackupPath("", project, id), nil, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &core.BackendError{Message: resp.Error}
	}
	return nil
}

// BackupLogs queries the backup journal.
func (c *Client) BackupLogs(ctx context.Context, f backup.Filter) ([]backup.Entry, error) {
	var resp httpapi.BackupLogsResponse
	if err := c.do(ctx, http.MethodPost, httpapi.PathBackupLogs, f, &resp); err != nil {
		return nil, err
	}
	return resp.Logs, nil
}

func backupOf(resp httpapi.BackupResponse) (backup.Metadata, error) {
	var md backup.Metadata
	if resp.Backup != nil {
		md = *resp.Backup
	}
	if !resp.Success {
		return md, &core.BackendError{Message: resp.Error}
	}
	return md, nil
}

// Chat sends one message and returns the assistant reply.
func (c *Client) Chat(ctx context.Context, message string) (string, error) {
	var resp httpapi.ChatResponse
	if err := c.do(ctx, http.MethodPost, httpapi.PathChat, httpapi.ChatRequest{Message: message}, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e httpapi.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			// The logs endpoint reports unknown services as a backend failure.
			if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
				return &core.BackendError{Message: e.Error}
			}
			return &StatusError{Code: resp.StatusCode, Message: e.Error}
		}
		return &StatusError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is a non-2xx response without a backend error envelope.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

// IsUnreachable reports whether err means the daemon could not be contacted.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}
	var be *core.BackendError
	var se *StatusError
	return !errors.As(err, &be) && !errors.As(err, &se)
}
