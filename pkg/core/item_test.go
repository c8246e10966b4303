package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		want Severity
	}{
		{"ERROR: disk full", SeverityError},
		{"WARN low memory", SeverityWarning},
		{"informação: started", SeverityInfo},
		{"INFORMAÇÃO: started", SeverityInfo},
		{"debug tick", SeverityDebug},
		{"hello world", SeverityDefault},
		{"Erro ao conectar", SeverityError},
		{"java.lang.NullPointerException", SeverityError},
		{"aviso: disco quase cheio", SeverityWarning},
		{"info: warning suppressed", SeverityWarning},
		{"debug: error path", SeverityError},
		{"", SeverityDefault},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := Classify(tt.line); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.line, got, tt.want)
			}
		})
	}
}

func TestSnapshotEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b LogSnapshot
		want bool
	}{
		{"both nil", nil, nil, true},
		{"nil and empty", nil, LogSnapshot{}, true},
		{"same", LogSnapshot{"a", "b"}, LogSnapshot{"a", "b"}, true},
		{"prefix", LogSnapshot{"a"}, LogSnapshot{"a", "b"}, false},
		{"order", LogSnapshot{"b", "a"}, LogSnapshot{"a", "b"}, false},
	}
	for _, tt := range tests {
		if got := tt.a.Equal(tt.b); got != tt.want {
			t.Errorf("%s: Equal = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	orig := LogSnapshot{"a", "b"}
	c := orig.Clone()
	c[0] = "z"
	if orig[0] != "a" {
		t.Errorf("clone shares storage with original: %v", orig)
	}
}

func TestTexts(t *testing.T) {
	got := Texts([]LogLine{{Line: "one"}, {Line: "two"}})
	if !got.Equal(LogSnapshot{"one", "two"}) {
		t.Errorf("Texts = %v", got)
	}
}

func TestBackendErrorAs(t *testing.T) {
	err := fmt.Errorf("fetch logs: %w", &BackendError{Message: "timeout"})
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatal("expected BackendError in chain")
	}
	if be.Message != "timeout" {
		t.Errorf("message = %q", be.Message)
	}
}
