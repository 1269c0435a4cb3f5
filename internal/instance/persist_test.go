package instance

import (
	"path/filepath"
	"testing"

	"github.com/fleetd/fleetd/api/v1alpha1"
)

func TestLoadSkipsGhostEntries(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "instances.json"))
	ghost := v1alpha1.NewInstance("ghost")
	ghost.Spec.SSHUsername = ""

	valid := v1alpha1.NewInstance("web-1")
	valid.Spec.DefaultMACAddress = "52:54:00:00:00:01"
	valid.Spec.NumCores = 1
	valid.Spec.MemSize = 1
	valid.Spec.DiskSpace = 1

	if err := store.Save(map[string]*v1alpha1.Instance{"ghost": ghost, "web-1": valid}, nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	operative, _, err := store.Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := operative["ghost"]; ok {
		t.Fatal("ghost entry should have been skipped")
	}
	if _, ok := operative["web-1"]; !ok {
		t.Fatal("valid entry should have survived load")
	}
}

func TestLoadRejectsMissingMAC(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "instances.json"))
	noMAC := v1alpha1.NewInstance("no-mac")
	noMAC.Spec.NumCores = 1
	noMAC.Spec.MemSize = 1

	store.Save(map[string]*v1alpha1.Instance{"no-mac": noMAC}, nil)

	operative, deleted, err := store.Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(operative)+len(deleted) != 0 {
		t.Fatalf("expected no-mac entry rejected, got operative=%v deleted=%v", operative, deleted)
	}
}

func TestLoadRepairsStateDeletedContradiction(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "instances.json"))
	inst := v1alpha1.NewInstance("web-1")
	inst.Spec.DefaultMACAddress = "52:54:00:00:00:01"
	inst.Spec.NumCores = 1
	inst.Spec.MemSize = 1
	inst.Status.Deleted = true
	inst.Status.State = v1alpha1.StateRunning

	store.Save(nil, map[string]*v1alpha1.Instance{"web-1": inst})

	_, deleted, err := store.Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, ok := deleted["web-1"]
	if !ok {
		t.Fatal("expected web-1 in deleted map")
	}
	if got.Status.State != v1alpha1.StateStopped {
		t.Fatalf("State = %s, want stopped (repaired)", got.Status.State)
	}
}

type fakeImageChecker struct {
	missing map[string]bool
}

func (c fakeImageChecker) ImageExists(id string) bool {
	return !c.missing[id]
}

func TestLoadRejectsMissingImage(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "instances.json"))
	inst := v1alpha1.NewInstance("web-1")
	inst.Spec.DefaultMACAddress = "52:54:00:00:00:01"
	inst.Spec.NumCores = 1
	inst.Spec.MemSize = 1
	inst.Spec.ImageID = "deadbeef"

	store.Save(map[string]*v1alpha1.Instance{"web-1": inst}, nil)

	checker := fakeImageChecker{missing: map[string]bool{"deadbeef": true}}
	operative, _, err := store.Load(checker)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := operative["web-1"]; ok {
		t.Fatal("expected web-1 rejected due to missing image")
	}
}

func TestLoadMissingFileYieldsEmptyMaps(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "does-not-exist.json"))
	operative, deleted, err := store.Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(operative) != 0 || len(deleted) != 0 {
		t.Fatal("expected empty maps for missing file")
	}
}
