package daemon

import (
	"context"

	"github.com/fleetd/fleetd/api/rpc"
	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/internal/ferrors"
	"github.com/fleetd/fleetd/internal/instance"
	"github.com/fleetd/fleetd/internal/mount"
	"github.com/fleetd/fleetd/internal/vmstate"
)

// activateMounts activates every non-backend-managed mount registered for
// name, draining its progress lines (discarded here; callers that need
// them stream directly through the registry instead).
func (d *Daemon) activateMounts(ctx context.Context, name string) ([]string, error) {
	d.mu.Lock()
	r, ok := d.mounts[name]
	d.mu.Unlock()
	if !ok {
		return nil, nil
	}
	progress := make(chan string, 16)
	go func() {
		for range progress {
		}
	}()
	err := r.ActivateAll(ctx, progress)
	close(progress)
	return r.Targets(), err
}

// deactivateMounts force-deactivates every non-backend-managed mount
// registered for name.
func (d *Daemon) deactivateMounts(ctx context.Context, name string) error {
	d.mu.Lock()
	r, ok := d.mounts[name]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return r.DeactivateAll(ctx)
}

// handleMount implements "mount": validate and add a share to an
// instance's spec, then reconcile and (if running) activate it.
func (d *Daemon) handleMount(ctx context.Context, req *rpc.Request) *rpc.Status {
	if req.Mount == nil {
		return &rpc.Status{OK: false, Kind: "InvalidSetting", Message: "missing mount payload"}
	}
	m := req.Mount

	trail := d.instances.Find(m.Instance)
	if trail.Bucket == instance.BucketMissing {
		return notFoundStatus(m.Instance)
	}
	if trail.Bucket == instance.BucketDeleted {
		return statusFromError(ferrors.New(ferrors.KindInstanceDeleted, "instance is deleted"))
	}

	if err := mount.ValidateTargetPath(m.Target, nil); err != nil {
		return statusFromError(ferrors.Wrap(ferrors.KindInvalidSetting, "validating mount target", err))
	}

	if err := d.instances.Mutate(m.Instance, func(i *v1alpha1.Instance) error {
		if i.Spec.Mounts == nil {
			i.Spec.Mounts = make(map[string]v1alpha1.VMMount)
		}
		i.Spec.Mounts[m.Target] = m.Spec
		return nil
	}); err != nil {
		return statusFromError(err)
	}

	inst := trail.Instance
	registry := d.mountsFor(inst)
	registry.Reconcile(inst.Spec.Mounts)

	if d.machineFor(inst).State() == vmstate.StateRunning {
		if h, ok := registry.Get(m.Target); ok {
			if err := h.Activate(ctx, nil); err != nil {
				return statusFromError(err)
			}
		}
	}
	return &rpc.Status{OK: true}
}

// handleUmount implements "umount": remove one share (or all, when
// target is empty) and deactivate it if currently active.
func (d *Daemon) handleUmount(ctx context.Context, req *rpc.Request) *rpc.Status {
	if req.Umount == nil {
		return &rpc.Status{OK: false, Kind: "InvalidSetting", Message: "missing umount payload"}
	}
	u := req.Umount

	trail := d.instances.Find(u.Instance)
	if trail.Bucket == instance.BucketMissing {
		return notFoundStatus(u.Instance)
	}

	inst := trail.Instance
	if err := d.instances.Mutate(inst.Name, func(i *v1alpha1.Instance) error {
		if u.Target == "" {
			i.Spec.Mounts = nil
			return nil
		}
		delete(i.Spec.Mounts, u.Target)
		return nil
	}); err != nil {
		return statusFromError(err)
	}

	registry := d.mountsFor(inst)
	var removed []mount.Handler
	for _, target := range registry.Targets() {
		if u.Target == "" || target == u.Target {
			if h, ok := registry.Get(target); ok {
				removed = append(removed, h)
			}
		}
	}
	registry.Reconcile(inst.Spec.Mounts)
	for _, h := range removed {
		if err := h.Deactivate(ctx, true); err != nil {
			return statusFromError(err)
		}
	}
	return &rpc.Status{OK: true}
}
