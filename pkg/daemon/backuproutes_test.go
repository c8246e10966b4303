package daemon

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/modoterra/nexus/pkg/manifest"
	"github.com/modoterra/nexus/pkg/transport/httpapi"
)

func backupDaemon(t *testing.T) (*Daemon, string) {
	t.Helper()
	d := newTestDaemon(t, newFakeProvider("api"))
	m := validManifest("api")
	m.Backup = manifest.BackupConfig{Dir: filepath.Join(t.TempDir(), "store"), Compression: "zlib"}
	if err := d.ApplyManifest(m); err != nil {
		t.Fatalf("apply: %v", err)
	}

	src := filepath.Join(t.TempDir(), "site")
	if err := os.MkdirAll(filepath.Join(src, "static"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "static", "index.html"), []byte("<h1>hi</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	return d, src
}

func TestApplyManifestConfiguresBackups(t *testing.T) {
	d, _ := backupDaemon(t)
	if filepath.Base(d.Backups().Dir()) != "store" {
		t.Errorf("backup dir = %s", d.Backups().Dir())
	}
}

func TestHandleBackupLifecycle(t *testing.T) {
	d, src := backupDaemon(t)

	rec, out := do(t, d, http.MethodPost, httpapi.PathBackupCreate, `{"project":"site","source":"`+src+`"}`)
	if rec.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("create: %d %v", rec.Code, out)
	}
	md := out["backup"].(map[string]any)
	id := md["id"].(string)
	if md["compression"] != "zlib" || md["files_count"] != float64(1) || md["status"] != "completed" {
		t.Errorf("metadata = %v", md)
	}

	_, out = do(t, d, http.MethodGet, httpapi.BackupPath("list", "site", ""), "")
	if list := out["backups"].([]any); len(list) != 1 {
		t.Fatalf("list = %v", out)
	}

	rec, out = do(t, d, http.MethodGet, httpapi.BackupPath("info", "site", id), "")
	if rec.Code != http.StatusOK || out["backup"].(map[string]any)["id"] != id {
		t.Errorf("info: %d %v", rec.Code, out)
	}
	_, out = do(t, d, http.MethodGet, httpapi.BackupPath("validate", "site", id), "")
	if out["success"] != true {
		t.Errorf("validate: %v", out)
	}

	if err := os.RemoveAll(filepath.Join(src, "static")); err != nil {
		t.Fatal(err)
	}
	rec, out = do(t, d, http.MethodPost, httpapi.PathBackupRestore, `{"project":"site","backup_id":"`+id+`"}`)
	if rec.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("restore: %d %v", rec.Code, out)
	}
	if data, err := os.ReadFile(filepath.Join(src, "static", "index.html")); err != nil || string(data) != "<h1>hi</h1>" {
		t.Errorf("restored file = %q, %v", data, err)
	}

	_, out = do(t, d, http.MethodPost, httpapi.PathBackupLogs, `{"project":"site","backup_id":"`+id+`"}`)
	if logs := out["logs"].([]any); len(logs) != 4 {
		t.Errorf("journal = %v", logs)
	}

	rec, _ = do(t, d, http.MethodDelete, httpapi.BackupPath("", "site", id), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	rec, _ = do(t, d, http.MethodGet, httpapi.BackupPath("info", "site", id), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("info after delete: %d", rec.Code)
	}
}

func TestHandleBackupErrors(t *testing.T) {
	d, _ := backupDaemon(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{"missing project", http.MethodPost, httpapi.PathBackupCreate, `{}`, http.StatusBadRequest},
		{"unknown repo", http.MethodPost, httpapi.PathBackupCreate, `{"project":"nope"}`, http.StatusBadRequest},
		{"bad project name", http.MethodGet, httpapi.BackupPath("list", "..hidden", ""), "", http.StatusBadRequest},
		{"unknown backup", http.MethodGet, httpapi.BackupPath("info", "site", "backup_x"), "", http.StatusNotFound},
		{"restore unknown", http.MethodPost, httpapi.PathBackupRestore, `{"project":"site","backup_id":"backup_x"}`, http.StatusNotFound},
		{"restore missing id", http.MethodPost, httpapi.PathBackupRestore, `{"project":"site"}`, http.StatusBadRequest},
		{"delete unknown", http.MethodDelete, httpapi.BackupPath("", "site", "backup_x"), "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := do(t, d, tt.method, tt.path, tt.body)
			if rec.Code != tt.code || out["success"] != false {
				t.Errorf("got %d %v, want %d", rec.Code, out, tt.code)
			}
		})
	}
}

func TestHandleBackupListEmpty(t *testing.T) {
	d, _ := backupDaemon(t)
	_, out := do(t, d, http.MethodGet, httpapi.BackupPath("list", "fresh", ""), "")
	if list, ok := out["backups"].([]any); !ok || len(list) != 0 {
		t.Errorf("list = %v", out)
	}
}
