package daemon

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/modoterra/nexus/pkg/repos"
	"github.com/modoterra/nexus/pkg/transport/httpapi"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func gitDaemon(t *testing.T) (*Daemon, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	t.Setenv("GIT_CONFIG_GLOBAL", "/dev/null")
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	t.Setenv("GIT_AUTHOR_NAME", "Nexus Test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@nexus.local")
	t.Setenv("GIT_COMMITTER_NAME", "Nexus Test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@nexus.local")

	root := t.TempDir()
	dir := filepath.Join(root, "proj")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "init", "--quiet")
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", "--all")
	runGit(t, dir, "commit", "--quiet", "-m", "first")

	d := New("127.0.0.1:0", repos.NewScanner([]string{root}, 0, testLogger()), testLogger())
	if _, err := d.scanner.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	return d, dir
}

func TestHandleRepoHistoryAndChanges(t *testing.T) {
	d, dir := gitDaemon(t)

	_, out := do(t, d, http.MethodGet, httpapi.RepoPath("proj", "history"), "")
	commits, _ := out["commits"].([]any)
	if out["success"] != true || len(commits) != 1 {
		t.Fatalf("history: %v", out)
	}
	if msg := commits[0].(map[string]any)["message"]; msg != "first" {
		t.Errorf("message = %v", msg)
	}

	if err := os.WriteFile(filepath.Join(dir, "extra.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, out = do(t, d, http.MethodGet, httpapi.RepoPath("proj", "changes"), "")
	changes, _ := out["changes"].([]any)
	if out["success"] != true || len(changes) != 1 {
		t.Fatalf("changes: %v", out)
	}
	if c := changes[0].(map[string]any); c["path"] != "extra.txt" || c["status"] != "untracked" {
		t.Errorf("change = %v", c)
	}
}

func TestHandleRepoCommit(t *testing.T) {
	d, dir := gitDaemon(t)

	rec, _ := do(t, d, http.MethodPost, httpapi.RepoPath("proj", "commit"), `{"message":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank message: %d", rec.Code)
	}

	_, out := do(t, d, http.MethodPost, httpapi.RepoPath("proj", "commit"), `{"message":"nothing"}`)
	if out["success"] != false || out["error"] != repos.ErrNothingToCommit.Error() {
		t.Errorf("clean tree: %v", out)
	}

	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, out = do(t, d, http.MethodPost, httpapi.RepoPath("proj", "commit"), `{"message":"add main"}`)
	if out["success"] != true || out["pushed"] != false || out["hash"] == "" {
		t.Fatalf("commit: %v", out)
	}
	repo, _ := d.scanner.Lookup("proj")
	if repo.Commit == "" || out["hash"].(string) != repo.Commit[:7] {
		t.Errorf("scan not refreshed: %+v vs %v", repo, out["hash"])
	}
}

func TestHandleRepoUnknown(t *testing.T) {
	d := newTestDaemon(t, newFakeProvider())
	rec, out := do(t, d, http.MethodGet, httpapi.RepoPath("ghost", "changes"), "")
	if rec.Code != http.StatusNotFound || out["success"] != false {
		t.Errorf("got %d %v", rec.Code, out)
	}
}
