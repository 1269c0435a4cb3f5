package instance

import (
	"path/filepath"
	"testing"

	"github.com/fleetd/fleetd/api/v1alpha1"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "instances.json"))
	return NewRegistry(store)
}

func TestReserveCommitFind(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Reserve("web-1"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := r.Reserve("web-1"); err == nil {
		t.Fatal("expected error reserving an already-reserved name")
	}

	inst := v1alpha1.NewInstance("web-1")
	inst.Spec.DefaultMACAddress = "52:54:00:00:00:01"
	if err := r.Commit(inst); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	trail := r.Find("web-1")
	if trail.Bucket != BucketOperative {
		t.Fatalf("Find() bucket = %v, want operative", trail.Bucket)
	}
}

func TestCommitRejectsDuplicateMAC(t *testing.T) {
	r := newTestRegistry(t)

	r.Reserve("web-1")
	a := v1alpha1.NewInstance("web-1")
	a.Spec.DefaultMACAddress = "52:54:00:00:00:01"
	if err := r.Commit(a); err != nil {
		t.Fatalf("Commit a: %v", err)
	}

	r.Reserve("web-2")
	b := v1alpha1.NewInstance("web-2")
	b.Spec.DefaultMACAddress = "52:54:00:00:00:01"
	if err := r.Commit(b); err == nil {
		t.Fatal("expected MAC conflict error")
	}
}

func TestDeleteRecoverPurge(t *testing.T) {
	r := newTestRegistry(t)
	r.Reserve("web-1")
	inst := v1alpha1.NewInstance("web-1")
	inst.Spec.DefaultMACAddress = "52:54:00:00:00:01"
	r.Commit(inst)

	if err := r.Delete("web-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if trail := r.Find("web-1"); trail.Bucket != BucketDeleted {
		t.Fatalf("Find() bucket = %v, want deleted", trail.Bucket)
	}

	if err := r.Recover("web-1"); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if trail := r.Find("web-1"); trail.Bucket != BucketOperative {
		t.Fatalf("Find() bucket = %v, want operative after recover", trail.Bucket)
	}

	if err := r.Delete("web-1"); err != nil {
		t.Fatalf("Delete again: %v", err)
	}
	if err := r.Purge("web-1"); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if trail := r.Find("web-1"); trail.Bucket != BucketMissing {
		t.Fatalf("Find() bucket = %v, want missing after purge", trail.Bucket)
	}
}

func TestDeleteForcesStoppedState(t *testing.T) {
	r := newTestRegistry(t)
	r.Reserve("web-1")
	inst := v1alpha1.NewInstance("web-1")
	inst.Spec.DefaultMACAddress = "52:54:00:00:00:01"
	inst.Status.State = v1alpha1.StateRunning
	r.Commit(inst)

	if err := r.Delete("web-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	trail := r.Find("web-1")
	if trail.Instance.Status.State != v1alpha1.StateStopped {
		t.Fatalf("State = %s, want stopped", trail.Instance.Status.State)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.json")
	store := NewStore(path)
	r := NewRegistry(store)

	r.Reserve("web-1")
	inst := v1alpha1.NewInstance("web-1")
	inst.Spec.DefaultMACAddress = "52:54:00:00:00:01"
	inst.Spec.NumCores = 2
	r.Commit(inst)

	reloaded := NewRegistry(store)
	operative, deleted, err := store.Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_ = reloaded
	if _, ok := operative["web-1"]; !ok {
		t.Fatalf("expected web-1 in reloaded operative map, got %+v / %+v", operative, deleted)
	}
}
