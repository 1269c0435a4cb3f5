package daemon

import (
	"context"
	"time"

	"github.com/fleetd/fleetd/api/rpc"
	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/internal/asyncop"
	"github.com/fleetd/fleetd/internal/ferrors"
	"github.com/fleetd/fleetd/internal/selection"
	"github.com/fleetd/fleetd/internal/vmstate"
)

var missingReaction = selection.Reaction{
	Missing: selection.ReactionEntry{Kind: ferrors.KindInstanceDoesNotExist, MessageTemplate: "instance %q does not exist"},
}

var deletedOrMissingReaction = selection.Reaction{
	Deleted: selection.ReactionEntry{Kind: ferrors.KindInstanceDeleted, MessageTemplate: "instance %q is deleted"},
	Missing: selection.ReactionEntry{Kind: ferrors.KindInstanceDoesNotExist, MessageTemplate: "instance %q does not exist"},
}

// handleStart implements "start": for each named instance, transition
// its state machine, wait for SSH, then activate its mounts. Unlike
// launch, it does not wait for cloud-init.
func (d *Daemon) handleStart(ctx context.Context, req *rpc.Request, send func(*rpc.Reply) error) *rpc.Status {
	report := selection.Select(d.instances, req.Names, selection.DefaultGroupOperative)
	if err := selection.React(report, deletedOrMissingReaction); err != nil {
		return statusFromError(err)
	}

	for _, inst := range report.Operative {
		key := inst.Name
		task, _ := d.runner.StartCoalesced(key, func(task *asyncop.Task) {
			machine := d.machineFor(inst)
			if err := machine.Start(ctx); err != nil {
				task.Finish(ferrors.Wrap(ferrors.KindStartException, "starting instance", err))
				return
			}
			if err := d.factory.WaitSSH(ctx, inst.Name); err != nil {
				task.Finish(ferrors.Wrap(ferrors.KindSSHProcessTimeout, "waiting for SSH", err))
				return
			}
			if err := d.instances.Mutate(inst.Name, func(i *v1alpha1.Instance) error {
				i.SetState(v1alpha1.StateRunning)
				return nil
			}); err != nil {
				task.Finish(err)
				return
			}
			d.mountsFor(inst)
			if _, err := d.activateMounts(ctx, inst.Name); err != nil {
				task.Finish(err)
				return
			}
			task.Finish(nil)
		})
		if err := drainProgress(ctx, task, send); err != nil {
			return statusFromError(err)
		}
		if status := waitResult(ctx, req.Timeout, task); !status.OK {
			return status
		}
	}
	return &rpc.Status{OK: true}
}

// handleStop implements "stop": stop the state machine for each named
// instance and, for an immediate stop, then deactivate its mounts.
// req.Stop.Delay seconds arms a delayed
// shutdown instead of stopping immediately; req.Stop.Cancel aborts a
// previously armed delayed shutdown and returns the instance to running.
// Neither is related to req.Timeout, which bounds the RPC call itself.
func (d *Daemon) handleStop(ctx context.Context, req *rpc.Request) *rpc.Status {
	report := selection.Select(d.instances, req.Names, selection.DefaultGroupOperative)
	if err := selection.React(report, deletedOrMissingReaction); err != nil {
		return statusFromError(err)
	}

	cancel := req.Stop != nil && req.Stop.Cancel
	var delay time.Duration
	if req.Stop != nil {
		delay = time.Duration(req.Stop.Delay) * time.Second
	}

	for _, inst := range report.Operative {
		machine := d.machineFor(inst)

		if cancel {
			if err := machine.CancelStop(); err != nil {
				return statusFromError(ferrors.Wrap(ferrors.KindStartException, "cancelling stop", err))
			}
			continue
		}

		if err := machine.Stop(ctx, delay); err != nil {
			return statusFromError(ferrors.Wrap(ferrors.KindStartException, "stopping instance", err))
		}
		if delay <= 0 {
			if err := d.deactivateMounts(ctx, inst.Name); err != nil {
				return statusFromError(err)
			}
			if err := d.instances.Mutate(inst.Name, func(i *v1alpha1.Instance) error {
				i.SetState(v1alpha1.StateStopped)
				return nil
			}); err != nil {
				return statusFromError(err)
			}
		}
	}
	return &rpc.Status{OK: true}
}

// handleSuspend implements "suspend": pause the guest and deactivate any
// non-backend-managed mounts.
func (d *Daemon) handleSuspend(ctx context.Context, req *rpc.Request) *rpc.Status {
	report := selection.Select(d.instances, req.Names, selection.DefaultGroupOperative)
	if err := selection.React(report, deletedOrMissingReaction); err != nil {
		return statusFromError(err)
	}
	for _, inst := range report.Operative {
		machine := d.machineFor(inst)
		if err := machine.Suspend(ctx); err != nil {
			return statusFromError(ferrors.Wrap(ferrors.KindStartException, "suspending instance", err))
		}
		if err := d.deactivateMounts(ctx, inst.Name); err != nil {
			return statusFromError(err)
		}
		if err := d.instances.Mutate(inst.Name, func(i *v1alpha1.Instance) error {
			i.SetState(v1alpha1.StateSuspended)
			return nil
		}); err != nil {
			return statusFromError(err)
		}
	}
	return &rpc.Status{OK: true}
}

// handleRestart implements "restart": reboot the guest in place, then wait
// until SSH accepts connections again before reporting success.
func (d *Daemon) handleRestart(ctx context.Context, req *rpc.Request) *rpc.Status {
	report := selection.Select(d.instances, req.Names, selection.DefaultGroupOperative)
	if err := selection.React(report, deletedOrMissingReaction); err != nil {
		return statusFromError(err)
	}
	for _, inst := range report.Operative {
		machine := d.machineFor(inst)
		if err := machine.Reboot(ctx); err != nil {
			return statusFromError(ferrors.Wrap(ferrors.KindStartException, "restarting instance", err))
		}
		if err := d.factory.WaitSSH(ctx, inst.Name); err != nil {
			return statusFromError(ferrors.Wrap(ferrors.KindSSHProcessTimeout, "waiting for SSH after restart", err))
		}
	}
	return &rpc.Status{OK: true}
}

// handleDelete implements "delete": force-stop, tear down mounts, soft
// delete the registry entry. The hypervisor definition is left intact so
// recover can bring the instance back without re-defining it.
func (d *Daemon) handleDelete(ctx context.Context, req *rpc.Request) *rpc.Status {
	report := selection.Select(d.instances, req.Names, selection.DefaultGroupOperative)
	if err := selection.React(report, missingReaction); err != nil {
		return statusFromError(err)
	}
	for _, inst := range report.Operative {
		machine := d.machineFor(inst)
		if machine.State().IsTransient() || machine.State() == vmstate.StateRunning {
			if err := machine.ForceStop(ctx); err != nil {
				return statusFromError(ferrors.Wrap(ferrors.KindStartException, "stopping instance before delete", err))
			}
		}
		if err := d.deactivateMounts(ctx, inst.Name); err != nil {
			return statusFromError(err)
		}
		d.dropMachine(inst.Name)
		d.dropMounts(inst.Name)
		if err := d.instances.Delete(inst.Name); err != nil {
			return statusFromError(err)
		}
	}
	return &rpc.Status{OK: true}
}

// handlePurge implements "purge": permanently remove a soft-deleted
// instance, undefining its hypervisor state and freeing its MACs.
func (d *Daemon) handlePurge(ctx context.Context, req *rpc.Request) *rpc.Status {
	report := selection.Select(d.instances, req.Names, selection.DefaultGroupDeleted)
	if err := selection.React(report, missingReaction); err != nil {
		return statusFromError(err)
	}
	for _, inst := range report.Deleted {
		if err := d.factory.Undefine(ctx, inst.Name); err != nil {
			return statusFromError(ferrors.Wrap(ferrors.KindInternal, "undefining instance", err))
		}
		if err := d.instances.Purge(inst.Name); err != nil {
			return statusFromError(err)
		}
	}
	return &rpc.Status{OK: true}
}

// handleRecover implements "recover": move a soft-deleted instance back
// to operative without touching its hypervisor definition.
func (d *Daemon) handleRecover(ctx context.Context, req *rpc.Request) *rpc.Status {
	report := selection.Select(d.instances, req.Names, selection.DefaultGroupDeleted)
	if err := selection.React(report, missingReaction); err != nil {
		return statusFromError(err)
	}
	for _, inst := range report.Deleted {
		if err := d.instances.Recover(inst.Name); err != nil {
			return statusFromError(err)
		}
	}
	return &rpc.Status{OK: true}
}
