package daemon

import (
	"context"

	"github.com/fleetd/fleetd/api/rpc"
	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/internal/ferrors"
	"github.com/fleetd/fleetd/internal/instance"
	"github.com/fleetd/fleetd/internal/snapshot"
)

// handleSnapshot implements "snapshot": capture an instance's current
// spec and running state under a name.
func (d *Daemon) handleSnapshot(ctx context.Context, req *rpc.Request) *rpc.Status {
	if req.Snapshot == nil {
		return &rpc.Status{OK: false, Kind: "InvalidSetting", Message: "missing snapshot payload"}
	}
	s := req.Snapshot

	trail := d.instances.Find(s.Instance)
	if trail.Bucket != instance.BucketOperative {
		return notFoundStatus(s.Instance)
	}
	inst := trail.Instance

	mgr, ok := d.ManagerFor(s.Instance)
	if !ok {
		return notFoundStatus(s.Instance)
	}

	machine := d.machineFor(inst)
	state := snapshot.State(machine.State())
	if _, err := mgr.TakeSnapshot(inst.Spec, s.Name, s.Comment, state); err != nil {
		return statusFromError(err)
	}
	return &rpc.Status{OK: true}
}

// handleRestore implements "restore": roll an instance's spec and mounts
// back to a prior snapshot. Non-destructive restores (the default) are
// gated behind a confirmation prompt before the automatic pre-restore
// snapshot is taken; a destructive restore discards current state
// outright with no automatic snapshot and proceeds without prompting.
func (d *Daemon) handleRestore(ctx context.Context, req *rpc.Request, stream *rpc.BidiStream[rpc.Request, rpc.Reply]) *rpc.Status {
	if req.Restore == nil {
		return &rpc.Status{OK: false, Kind: "InvalidSetting", Message: "missing restore payload"}
	}
	r := req.Restore

	trail := d.instances.Find(r.Instance)
	if trail.Bucket != instance.BucketOperative {
		return notFoundStatus(r.Instance)
	}
	inst := trail.Instance

	mgr, ok := d.ManagerFor(r.Instance)
	if !ok {
		return notFoundStatus(r.Instance)
	}

	if !r.Destructive {
		if err := stream.Send(&rpc.Reply{Confirm: &rpc.ConfirmPrompt{
			Kind:    "confirm_restore",
			Message: "restoring will take an automatic snapshot of the instance's current state first; continue?",
		}}); err != nil {
			return statusFromError(err)
		}
		answer, err := stream.Recv()
		if err != nil {
			return statusFromError(err)
		}
		if answer.Confirm == nil || !answer.Confirm.Accepted {
			return &rpc.Status{OK: false, Kind: "InvalidSetting", Message: "restore not confirmed"}
		}
	}

	result, err := mgr.RestoreSnapshot(r.Snapshot, inst.Spec, r.Destructive)
	if err != nil {
		return statusFromError(ferrors.Wrap(ferrors.KindNoSuchSnapshot, "restoring snapshot", err))
	}

	previousMounts := inst.Spec.Mounts
	if err := d.instances.Mutate(inst.Name, func(i *v1alpha1.Instance) error {
		i.Spec = result.RestoredSpec
		return nil
	}); err != nil {
		return statusFromError(err)
	}

	removed, _ := snapshot.PruneMounts(previousMounts, result.RestoredSpec.Mounts)
	registry := d.mountsFor(inst)
	for _, target := range removed {
		if h, ok := registry.Get(target); ok && h.IsActive() {
			_ = h.Deactivate(ctx, true)
		}
	}
	registry.Reconcile(result.RestoredSpec.Mounts)

	return &rpc.Status{OK: true}
}
