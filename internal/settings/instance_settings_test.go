package settings

import (
	"context"
	"testing"

	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/internal/instance"
	"github.com/fleetd/fleetd/internal/memsize"
)

func newTestInstanceRegistry(t *testing.T, inst *v1alpha1.Instance) *instance.Registry {
	t.Helper()
	reg := instance.NewRegistry(nil)
	if err := reg.Reserve(inst.Name); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := reg.Commit(inst); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return reg
}

type fakeResizer struct {
	calls []uint64
}

func (f *fakeResizer) ResizeBootVolume(ctx context.Context, name string, size uint64) error {
	f.calls = append(f.calls, size)
	return nil
}

func testInstance(name string, state v1alpha1.InstanceState) *v1alpha1.Instance {
	inst := &v1alpha1.Instance{}
	inst.Name = name
	inst.Spec = v1alpha1.InstanceSpec{
		NumCores:          2,
		MemSize:           512 * memsize.MiB,
		DiskSpace:         5 * memsize.GiB,
		DefaultMACAddress: "52:54:00:00:00:01",
	}
	inst.Status.State = state
	return inst
}

func TestInstanceSettingsGetSet(t *testing.T) {
	reg := newTestInstanceRegistry(t, testInstance("web1", v1alpha1.StateStopped))
	h := NewInstanceSettingsHandler("local", reg, &fakeResizer{})

	val, err := h.Get("local.web1.cpus")
	if err != nil || val != "2" {
		t.Fatalf("Get cpus = (%q, %v)", val, err)
	}

	if err := h.Set("local.web1.cpus", "4"); err != nil {
		t.Fatalf("Set cpus: %v", err)
	}
	val, _ = h.Get("local.web1.cpus")
	if val != "4" {
		t.Fatalf("cpus after set = %q, want 4", val)
	}
}

func TestInstanceSettingsRequiresStoppedForCPU(t *testing.T) {
	reg := newTestInstanceRegistry(t, testInstance("web1", v1alpha1.StateRunning))
	h := NewInstanceSettingsHandler("local", reg, &fakeResizer{})

	if err := h.Set("local.web1.cpus", "4"); err == nil {
		t.Fatal("expected an error changing cpus while running")
	}
}

func TestInstanceSettingsDiskGrowOnly(t *testing.T) {
	reg := newTestInstanceRegistry(t, testInstance("web1", v1alpha1.StateStopped))
	h := NewInstanceSettingsHandler("local", reg, &fakeResizer{})

	if err := h.Set("local.web1.disk", "1GiB"); err == nil {
		t.Fatal("expected an error shrinking disk")
	}
	if err := h.Set("local.web1.disk", "10GiB"); err != nil {
		t.Fatalf("Set disk growing: %v", err)
	}
}

func TestInstanceSettingsDiskGrowResizesBootVolume(t *testing.T) {
	reg := newTestInstanceRegistry(t, testInstance("web1", v1alpha1.StateStopped))
	resizer := &fakeResizer{}
	h := NewInstanceSettingsHandler("local", reg, resizer)

	if err := h.Set("local.web1.disk", "10GiB"); err != nil {
		t.Fatalf("Set disk growing: %v", err)
	}
	if len(resizer.calls) != 1 || resizer.calls[0] != uint64(10*memsize.GiB) {
		t.Fatalf("ResizeBootVolume calls = %v, want [%d]", resizer.calls, uint64(10*memsize.GiB))
	}
}

func TestInstanceSettingsMemoryMinimum(t *testing.T) {
	reg := newTestInstanceRegistry(t, testInstance("web1", v1alpha1.StateStopped))
	h := NewInstanceSettingsHandler("local", reg, &fakeResizer{})

	if err := h.Set("local.web1.memory", "64MiB"); err == nil {
		t.Fatal("expected an error setting memory below the minimum")
	}
}

func TestInstanceSettingsBridgedIrreversible(t *testing.T) {
	reg := newTestInstanceRegistry(t, testInstance("web1", v1alpha1.StateStopped))
	h := NewInstanceSettingsHandler("local", reg, &fakeResizer{})

	if err := h.Set("local.web1.bridged", "true"); err != nil {
		t.Fatalf("Set bridged true: %v", err)
	}
	val, _ := h.Get("local.web1.bridged")
	if val != "true" {
		t.Fatalf("bridged = %q, want true", val)
	}
	if err := h.Set("local.web1.bridged", "false"); err == nil {
		t.Fatal("expected an error reverting bridged to false")
	}
}

func TestInstanceSettingsUnknownKey(t *testing.T) {
	reg := newTestInstanceRegistry(t, testInstance("web1", v1alpha1.StateStopped))
	h := NewInstanceSettingsHandler("local", reg, &fakeResizer{})

	if _, err := h.Get("other.web1.cpus"); err != ErrUnrecognized {
		t.Fatalf("Get with wrong root = %v, want ErrUnrecognized", err)
	}
}
