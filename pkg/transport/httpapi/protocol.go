package httpapi

import (
	"net/url"
	"time"

	"github.com/modoterra/nexus/pkg/backup"
	"github.com/modoterra/nexus/pkg/core"
)

// Routes served by nexusd.
const (
	RoutePing          = "GET /ping"
	RouteServices      = "GET /services"
	RouteServiceLogs   = "GET /service/logs/{pid}"
	RouteGlobalLogs    = "GET /logs/global"
	RouteServiceAction = "POST /service/{pid}/{action}"
	RouteRefreshRepos  = "POST /refresh_repos"
	RouteRepos         = "GET /repos"
	RouteRepoChanges   = "GET /repos/{repo}/changes"
	RouteRepoHistory   = "GET /repos/{repo}/history"
	RouteRepoCommit    = "POST /repos/{repo}/commit"
	RouteChat          = "POST /api/chat"

	RouteBackupCreate   = "POST /api/v1/backup/create"
	RouteBackupRestore  = "POST /api/v1/backup/restore"
	RouteBackupList     = "GET /api/v1/backup/list/{project}"
	RouteBackupInfo     = "GET /api/v1/backup/info/{project}/{id}"
	RouteBackupValidate = "GET /api/v1/backup/validate/{project}/{id}"
	RouteBackupDelete   = "DELETE /api/v1/backup/{project}/{id}"
	RouteBackupLogs     = "POST /api/v1/backup/logs"
)

// Fixed request paths.
const (
	PathPing         = "/ping"
	PathServices     = "/services"
	PathGlobalLogs   = "/logs/global"
	PathRefreshRepos = "/refresh_repos"
	PathRepos        = "/repos"
	PathChat         = "/api/chat"

	PathBackupCreate  = "/api/v1/backup/create"
	PathBackupRestore = "/api/v1/backup/restore"
	PathBackupLogs    = "/api/v1/backup/logs"
)

// Service actions accepted by RouteServiceAction.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
)

// LogsPath returns the request path for the logs of pid.
func LogsPath(pid core.ProcessID) string {
	return "/service/logs/" + url.PathEscape(string(pid))
}

// ActionPath returns the request path for an action on pid.
func ActionPath(pid core.ProcessID, action string) string {
	return "/service/" + url.PathEscape(string(pid)) + "/" + url.PathEscape(action)
}

// RepoPath returns the request path for one of the repository routes.
func RepoPath(repo, op string) string {
	return "/repos/" + url.PathEscape(repo) + "/" + op
}

// BackupPath returns the request path of a per-backup route. op is "list",
// "info" or "validate"; an empty op addresses the backup itself.
func BackupPath(op, project, id string) string {
	p := "/api/v1/backup/"
	if op != "" {
		p += op + "/"
	}
	p += url.PathEscape(project)
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

// PingResponse is the response to a ping.
type PingResponse struct {
	Pong    bool   `json:"pong"`
	Version string `json:"version"`
}

// ErrorResponse is written for every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// LogsResponse carries the full current log buffer of one service.
type LogsResponse struct {
	Success bool     `json:"success"`
	Logs    []string `json:"logs"`
	Error   string   `json:"error,omitempty"`
}

// ServicesResponse lists every managed service.
type ServicesResponse struct {
	Success  bool        `json:"success"`
	Services []core.Item `json:"services"`
}

// ActionResponse reports the outcome of a service action.
type ActionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Repo is a git repository found under a configured root.
type Repo struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
}

// RefreshResponse reports a repository rescan.
type RefreshResponse struct {
	Success bool   `json:"success"`
	Repos   int    `json:"repos"`
	Error   string `json:"error,omitempty"`
}

// ReposResponse lists the last scanned repositories.
type ReposResponse struct {
	Success bool   `json:"success"`
	Repos   []Repo `json:"repos"`
}

// Change is one path that differs from HEAD.
type Change struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// ChangesResponse lists the working tree changes of a repository.
type ChangesResponse struct {
	Success bool     `json:"success"`
	Changes []Change `json:"changes"`
	Error   string   `json:"error,omitempty"`
}

// Commit is one history entry.
type Commit struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

// HistoryResponse lists recent commits of a repository.
type HistoryResponse struct {
	Success bool     `json:"success"`
	Commits []Commit `json:"commits"`
	Error   string   `json:"error,omitempty"`
}

// CommitRequest is the body of a commit-and-push.
type CommitRequest struct {
	Message string `json:"message"`
}

// CommitResponse reports a commit-and-push.
type CommitResponse struct {
	Success bool   `json:"success"`
	Hash    string `json:"hash,omitempty"`
	Message string `json:"message,omitempty"`
	Pushed  bool   `json:"pushed"`
	Error   string `json:"error,omitempty"`
}

// ChatRequest is the body of a chat message.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse carries the assistant reply.
type ChatResponse struct {
	Response string `json:"response"`
}

// BackupCreateRequest asks for a new backup of a project. An empty Source
// backs up the scanned repository named Project.
type BackupCreateRequest struct {
	Project string            `json:"project"`
	Source  string            `json:"source,omitempty"`
	Type    backup.Type       `json:"type,omitempty"`
	Parent  string            `json:"parent_backup_id,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// BackupRestoreRequest restores a backup. An empty Target restores to the
// directory the backup was taken from.
type BackupRestoreRequest struct {
	Project  string `json:"project"`
	BackupID string `json:"backup_id"`
	Target   string `json:"target,omitempty"`
}

// BackupResponse carries one backup.
type BackupResponse struct {
	Success bool             `json:"success"`
	Backup  *backup.Metadata `json:"backup,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// BackupListResponse lists the backups of a project, newest first.
type BackupListResponse struct {
	Success bool              `json:"success"`
	Backups []backup.Metadata `json:"backups"`
}

// BackupLogsResponse carries backup journal entries, newest first.
type BackupLogsResponse struct {
	Success bool           `json:"success"`
	Logs    []backup.Entry `json:"logs"`
}
