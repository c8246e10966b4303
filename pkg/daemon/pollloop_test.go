package daemon

import (
	"testing"

	"github.com/modoterra/nexus/pkg/core"
)

func TestComputeDelta_Added(t *testing.T) {
	old := map[string]core.Item{}
	new := map[string]core.Item{"a": {Name: "a", Status: core.StatusRunning}}
	d := computeDelta(old, new)
	if len(d.Added) != 1 {
		t.Errorf("expected 1 added, got %d", len(d.Added))
	}
}

func TestComputeDelta_Removed(t *testing.T) {
	old := map[string]core.Item{"a": {Name: "a"}}
	new := map[string]core.Item{}
	d := computeDelta(old, new)
	if len(d.Removed) != 1 || d.Removed[0] != "a" {
		t.Errorf("expected a removed, got %v", d.Removed)
	}
}

func TestComputeDelta_Updated(t *testing.T) {
	old := map[string]core.Item{"a": {Name: "a", Status: core.StatusRunning}}
	new := map[string]core.Item{"a": {Name: "a", Status: core.StatusStopped}}
	d := computeDelta(old, new)
	if len(d.Updated) != 1 {
		t.Errorf("expected 1 updated, got %d", len(d.Updated))
	}
}

func TestComputeDelta_PIDChange(t *testing.T) {
	old := map[string]core.Item{"a": {Name: "a", Status: core.StatusRunning, PIDs: []int{10}}}
	new := map[string]core.Item{"a": {Name: "a", Status: core.StatusRunning, PIDs: []int{11}}}
	if d := computeDelta(old, new); len(d.Updated) != 1 {
		t.Errorf("expected restart to count as update, got %+v", d)
	}
}

func TestComputeDelta_UptimeIgnored(t *testing.T) {
	old := map[string]core.Item{"a": {Name: "a", Status: core.StatusRunning, UptimeSec: 1}}
	new := map[string]core.Item{"a": {Name: "a", Status: core.StatusRunning, UptimeSec: 2}}
	if d := computeDelta(old, new); d.HasChanges() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestComputeDelta_NoChange(t *testing.T) {
	items := map[string]core.Item{"a": {Name: "a", Status: core.StatusRunning}}
	d := computeDelta(items, items)
	if d.HasChanges() {
		t.Error("expected no changes")
	}
}
