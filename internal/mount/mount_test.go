package mount

import (
	"context"
	"testing"

	"github.com/fleetd/fleetd/api/v1alpha1"
)

type fakeBridge struct {
	started []string
	stopped []string
}

func (f *fakeBridge) StartBridge(ctx context.Context, instance, target string, spec v1alpha1.VMMount) error {
	f.started = append(f.started, target)
	return nil
}

func (f *fakeBridge) StopBridge(ctx context.Context, instance, target string, force bool) error {
	f.stopped = append(f.stopped, target)
	return nil
}

type fakeNative struct {
	created []string
	removed []string
}

func (f *fakeNative) CreateShare(ctx context.Context, instance, target string, spec v1alpha1.VMMount) error {
	f.created = append(f.created, target)
	return nil
}

func (f *fakeNative) RemoveShare(ctx context.Context, instance, target string, force bool) error {
	f.removed = append(f.removed, target)
	return nil
}

func TestValidateTargetPath(t *testing.T) {
	cases := []struct {
		target string
		roots  []string
		wantOK bool
	}{
		{"/home/ubuntu/project", []string{"/home"}, true},
		{"/etc", []string{"/home"}, false},
		{"/", nil, false},
		{"relative/path", nil, false},
		{"/home/../etc/passwd", []string{"/home"}, false},
	}
	for _, c := range cases {
		err := ValidateTargetPath(c.target, c.roots)
		if c.wantOK && err != nil {
			t.Errorf("ValidateTargetPath(%q) = %v, want nil", c.target, err)
		}
		if !c.wantOK && err == nil {
			t.Errorf("ValidateTargetPath(%q) = nil, want error", c.target)
		}
	}
}

func TestReconcileCreatesAndPrunes(t *testing.T) {
	r := NewRegistry("web-1", &fakeBridge{}, &fakeNative{})

	pruned := r.Reconcile(map[string]v1alpha1.VMMount{
		"/mnt/a": {SourcePath: "/home/user/a", Type: v1alpha1.MountTypeClassic},
	})
	if len(pruned) != 0 {
		t.Fatalf("expected no pruned targets on first reconcile, got %v", pruned)
	}
	if len(r.Targets()) != 1 {
		t.Fatalf("expected 1 target, got %v", r.Targets())
	}

	pruned = r.Reconcile(map[string]v1alpha1.VMMount{
		"/mnt/b": {SourcePath: "/home/user/b", Type: v1alpha1.MountTypeNative},
	})
	if len(pruned) != 1 || pruned[0] != "/mnt/a" {
		t.Fatalf("expected /mnt/a pruned, got %v", pruned)
	}
	targets := r.Targets()
	if len(targets) != 1 || targets[0] != "/mnt/b" {
		t.Fatalf("expected only /mnt/b registered, got %v", targets)
	}
}

func TestActivateAllSkipsBackendManaged(t *testing.T) {
	bridge := &fakeBridge{}
	native := &fakeNative{}
	r := NewRegistry("web-1", bridge, native)
	r.Reconcile(map[string]v1alpha1.VMMount{
		"/mnt/classic": {SourcePath: "/home/user/a", Type: v1alpha1.MountTypeClassic},
		"/mnt/native":  {SourcePath: "/home/user/b", Type: v1alpha1.MountTypeNative},
	})

	if err := r.ActivateAll(context.Background(), nil); err != nil {
		t.Fatalf("ActivateAll: %v", err)
	}
	if len(bridge.started) != 1 || bridge.started[0] != "/mnt/classic" {
		t.Fatalf("expected classic bridge started, got %v", bridge.started)
	}
	if len(native.created) != 0 {
		t.Fatalf("native share must not be auto-activated, got %v", native.created)
	}
}

func TestDeactivateAllForcesClassicOnly(t *testing.T) {
	bridge := &fakeBridge{}
	native := &fakeNative{}
	r := NewRegistry("web-1", bridge, native)
	r.Reconcile(map[string]v1alpha1.VMMount{
		"/mnt/classic": {SourcePath: "/home/user/a", Type: v1alpha1.MountTypeClassic},
		"/mnt/native":  {SourcePath: "/home/user/b", Type: v1alpha1.MountTypeNative},
	})
	r.ActivateAll(context.Background(), nil)

	if err := r.DeactivateAll(context.Background()); err != nil {
		t.Fatalf("DeactivateAll: %v", err)
	}
	if len(bridge.stopped) != 1 || bridge.stopped[0] != "/mnt/classic" {
		t.Fatalf("expected classic bridge stopped, got %v", bridge.stopped)
	}
	if len(native.removed) != 0 {
		t.Fatalf("native share must not be torn down on stop, got %v", native.removed)
	}
}
