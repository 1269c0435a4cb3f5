package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/internal/ferrors"
	"github.com/fleetd/fleetd/internal/instance"
	"github.com/fleetd/fleetd/internal/memsize"
	"github.com/fleetd/fleetd/internal/netaddr"
)

// MinMemSize is the lowest memory size any instance may be configured
// with, per spec.md §3's "mem_size >= 128 MiB" invariant.
const MinMemSize = 128 * memsize.MiB

// InstanceFinder is the subset of *instance.Registry the instance
// settings handler depends on.
type InstanceFinder interface {
	Find(name string) instance.Trail
	Mutate(name string, fn func(inst *v1alpha1.Instance) error) error
	AllocatedMACs() map[string]struct{}
}

// Resizer grows an instance's boot volume on the hypervisor backend. The
// daemon's VMFactory satisfies this.
type Resizer interface {
	ResizeBootVolume(ctx context.Context, name string, size uint64) error
}

// InstanceSettingsHandler implements the "<root>.<instance>.{cpus|memory|
// disk|bridged}" key family described in spec.md §4.7.
type InstanceSettingsHandler struct {
	Root     string
	Registry InstanceFinder
	Resizer  Resizer
}

// NewInstanceSettingsHandler creates a handler rooted at root (typically
// "local" or the backend's name, per multipass-style settings keys).
// resizer performs the actual backing-volume grow for the "disk" field.
func NewInstanceSettingsHandler(root string, registry InstanceFinder, resizer Resizer) *InstanceSettingsHandler {
	return &InstanceSettingsHandler{Root: root, Registry: registry, Resizer: resizer}
}

func (h *InstanceSettingsHandler) parseKey(key string) (instanceName, field string, ok bool) {
	prefix := h.Root + "."
	if !strings.HasPrefix(key, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(key, prefix)
	i := strings.LastIndexByte(rest, '.')
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

var instanceFields = []string{"cpus", "memory", "disk", "bridged"}

// Keys implements settings.Handler. The instance registry doesn't expose
// enumeration here to keep this handler decoupled from a concrete
// registry type; Keys returns the field template only, matching the
// teacher's precedent of omitting instance-dependent leaves from the
// static key listing.
func (h *InstanceSettingsHandler) Keys() []string {
	out := make([]string, len(instanceFields))
	for i, f := range instanceFields {
		out[i] = fmt.Sprintf("%s.<instance name>.%s", h.Root, f)
	}
	return out
}

func (h *InstanceSettingsHandler) Get(key string) (string, error) {
	name, field, ok := h.parseKey(key)
	if !ok {
		return "", ErrUnrecognized
	}
	trail := h.Registry.Find(name)
	if trail.Bucket == instance.BucketMissing {
		return "", ferrors.New(ferrors.KindInstanceDoesNotExist, fmt.Sprintf("instance %q does not exist", name))
	}
	spec := trail.Instance.Spec

	switch field {
	case "cpus":
		return strconv.Itoa(spec.NumCores), nil
	case "memory":
		return spec.MemSize.String(), nil
	case "disk":
		return spec.DiskSpace.String(), nil
	case "bridged":
		return strconv.FormatBool(hasBridgeInterface(spec)), nil
	default:
		return "", ErrUnrecognized
	}
}

func (h *InstanceSettingsHandler) Set(key, value string) error {
	name, field, ok := h.parseKey(key)
	if !ok {
		return ErrUnrecognized
	}
	if _, known := indexOf(instanceFields, field); !known {
		return ErrUnrecognized
	}

	return h.Registry.Mutate(name, func(inst *v1alpha1.Instance) error {
		switch field {
		case "cpus":
			return h.setCPUs(inst, value)
		case "memory":
			return h.setMemory(inst, value)
		case "disk":
			return h.setDisk(inst, value)
		case "bridged":
			return h.setBridged(inst, value)
		}
		return ErrUnrecognized
	})
}

func requireStopped(inst *v1alpha1.Instance) error {
	if inst.Status.State != v1alpha1.StateStopped && inst.Status.State != v1alpha1.StateOff {
		return ferrors.New(ferrors.KindInstanceSettings, fmt.Sprintf("instance %q must be stopped to change this setting", inst.Name))
	}
	return nil
}

func (h *InstanceSettingsHandler) setCPUs(inst *v1alpha1.Instance, value string) error {
	if err := requireStopped(inst); err != nil {
		return err
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return ferrors.New(ferrors.KindInvalidSetting, fmt.Sprintf("invalid cpu count %q", value))
	}
	inst.Spec.NumCores = n
	return nil
}

func (h *InstanceSettingsHandler) setMemory(inst *v1alpha1.Instance, value string) error {
	if err := requireStopped(inst); err != nil {
		return err
	}
	size, err := memsize.Parse(value)
	if err != nil {
		return ferrors.New(ferrors.KindInvalidSetting, fmt.Sprintf("invalid memory size %q", value))
	}
	if !size.AtLeast(MinMemSize) {
		return ferrors.New(ferrors.KindInvalidMemorySize, fmt.Sprintf("memory size %s below minimum %s", size, MinMemSize))
	}
	inst.Spec.MemSize = size
	return nil
}

func (h *InstanceSettingsHandler) setDisk(inst *v1alpha1.Instance, value string) error {
	if err := requireStopped(inst); err != nil {
		return err
	}
	size, err := memsize.Parse(value)
	if err != nil {
		return ferrors.New(ferrors.KindInvalidSetting, fmt.Sprintf("invalid disk size %q", value))
	}
	if size < inst.Spec.DiskSpace {
		return ferrors.New(ferrors.KindInvalidDiskSize, "disk size may only grow")
	}
	if size > inst.Spec.DiskSpace {
		if err := h.Resizer.ResizeBootVolume(context.Background(), inst.Name, uint64(size)); err != nil {
			return ferrors.Wrap(ferrors.KindInvalidDiskSize, "resizing boot volume", err)
		}
	}
	inst.Spec.DiskSpace = size
	return nil
}

const autoBridgeID = "bridge0"

func hasBridgeInterface(spec v1alpha1.InstanceSpec) bool {
	for _, iface := range spec.ExtraInterfaces {
		if iface.ID == autoBridgeID {
			return true
		}
	}
	return false
}

func (h *InstanceSettingsHandler) setBridged(inst *v1alpha1.Instance, value string) error {
	want, err := strconv.ParseBool(value)
	if err != nil {
		return ferrors.New(ferrors.KindInvalidSetting, fmt.Sprintf("invalid bool %q", value))
	}
	already := hasBridgeInterface(inst.Spec)
	if !want {
		if already {
			return ferrors.New(ferrors.KindInstanceSettings, "bridged cannot be disabled once enabled")
		}
		return nil
	}
	if already {
		return nil
	}
	mac, err := netaddr.Generate(h.Registry.AllocatedMACs())
	if err != nil {
		return ferrors.Wrap(ferrors.KindInternal, "generating bridge MAC", err)
	}
	inst.Spec.ExtraInterfaces = append(inst.Spec.ExtraInterfaces, v1alpha1.ExtraInterface{
		ID:       autoBridgeID,
		MAC:      mac,
		AutoMode: true,
	})
	return nil
}

func indexOf(items []string, target string) (int, bool) {
	for i, item := range items {
		if item == target {
			return i, true
		}
	}
	return -1, false
}
