package settings

import (
	"testing"

	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/internal/snapshot"
)

type fakeSnapshotLookup struct {
	managers map[string]*snapshot.Manager
}

func (f *fakeSnapshotLookup) ManagerFor(instanceName string) (*snapshot.Manager, bool) {
	mgr, ok := f.managers[instanceName]
	return mgr, ok
}

func TestSnapshotSettingsGetSetName(t *testing.T) {
	mgr := snapshot.NewManager("web1")
	if _, err := mgr.TakeSnapshot(v1alpha1.InstanceSpec{}, "", "initial", ""); err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}

	lookup := &fakeSnapshotLookup{managers: map[string]*snapshot.Manager{"web1": mgr}}
	h := NewSnapshotSettingsHandler("local", lookup)

	val, err := h.Get("local.web1.snapshot1.comment")
	if err != nil || val != "initial" {
		t.Fatalf("Get comment = (%q, %v)", val, err)
	}

	if err := h.Set("local.web1.snapshot1.name", "baseline"); err != nil {
		t.Fatalf("Set name: %v", err)
	}
	if _, err := h.Get("local.web1.snapshot1.name"); err == nil {
		t.Fatal("expected old name to no longer resolve")
	}
	val, err = h.Get("local.web1.baseline.name")
	if err != nil || val != "baseline" {
		t.Fatalf("Get renamed name = (%q, %v)", val, err)
	}
}

func TestSnapshotSettingsRejectsEmptyName(t *testing.T) {
	mgr := snapshot.NewManager("web1")
	mgr.TakeSnapshot(v1alpha1.InstanceSpec{}, "", "", "")

	lookup := &fakeSnapshotLookup{managers: map[string]*snapshot.Manager{"web1": mgr}}
	h := NewSnapshotSettingsHandler("local", lookup)

	if err := h.Set("local.web1.snapshot1.name", ""); err == nil {
		t.Fatal("expected an error setting an empty snapshot name")
	}
}

func TestSnapshotSettingsUnknownInstance(t *testing.T) {
	lookup := &fakeSnapshotLookup{managers: map[string]*snapshot.Manager{}}
	h := NewSnapshotSettingsHandler("local", lookup)

	if _, err := h.Get("local.ghost.snapshot1.name"); err == nil {
		t.Fatal("expected an error for an unknown instance")
	}
}
