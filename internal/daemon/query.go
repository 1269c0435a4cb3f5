package daemon

import (
	"context"
	"strconv"

	"github.com/fleetd/fleetd/api/rpc"
	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/internal/ferrors"
	"github.com/fleetd/fleetd/internal/selection"
)

// daemonVersion is the version string reported by "version"/"daemon_info".
const daemonVersion = "1.0.0"

func infoFor(ctx context.Context, d *Daemon, inst *v1alpha1.Instance) rpc.InstanceInfo {
	info := rpc.InstanceInfo{
		Name:      inst.Name,
		State:     inst.Status.State,
		Deleted:   inst.Status.Deleted,
		NumCores:  inst.Spec.NumCores,
		MemSize:   inst.Spec.MemSize.String(),
		DiskSpace: inst.Spec.DiskSpace.String(),
		ImageID:   inst.Spec.ImageID,
	}
	if addrs, err := d.factory.Addresses(ctx, inst.Name); err == nil {
		info.IPv4 = addrs
	}
	return info
}

// handleList implements "list": with no names, every instance, operative
// and deleted; with names, just those instances (missing names are skipped).
func (d *Daemon) handleList(ctx context.Context, req *rpc.Request) *rpc.Reply {
	report := selection.Select(d.instances, req.Names, selection.DefaultGroupAll)
	var infos []rpc.InstanceInfo
	for _, inst := range report.Operative {
		infos = append(infos, infoFor(ctx, d, inst))
	}
	for _, inst := range report.Deleted {
		infos = append(infos, infoFor(ctx, d, inst))
	}
	return &rpc.Reply{Instances: infos, Status: &rpc.Status{OK: true}}
}

// handleFind implements "find": resolve a name list. Operative and
// deleted instances both come back as InstanceInfo rows; if any name is
// missing, the reply's status is a DOES_NOT_EXIST error, with the rows
// that were found still attached.
func (d *Daemon) handleFind(ctx context.Context, req *rpc.Request) *rpc.Reply {
	report := selection.Select(d.instances, req.Names, selection.DefaultGroupAll)
	var infos []rpc.InstanceInfo
	for _, inst := range report.Operative {
		infos = append(infos, infoFor(ctx, d, inst))
	}
	for _, inst := range report.Deleted {
		infos = append(infos, infoFor(ctx, d, inst))
	}
	if len(report.Missing) > 0 {
		return &rpc.Reply{Instances: infos, Status: statusFromError(
			ferrors.New(ferrors.KindInstanceDoesNotExist, "one or more instances do not exist"))}
	}
	return &rpc.Reply{Instances: infos, Status: &rpc.Status{OK: true}}
}

// handleInfo implements "info": like find, but errors on any missing or
// deleted name instead of tolerating them.
func (d *Daemon) handleInfo(ctx context.Context, req *rpc.Request) *rpc.Reply {
	report := selection.Select(d.instances, req.Names, selection.DefaultGroupOperative)
	if err := selection.React(report, deletedOrMissingReaction); err != nil {
		return &rpc.Reply{Status: statusFromError(err)}
	}
	var infos []rpc.InstanceInfo
	for _, inst := range report.Operative {
		infos = append(infos, infoFor(ctx, d, inst))
	}
	return &rpc.Reply{Instances: infos, Status: &rpc.Status{OK: true}}
}

// handleSSHInfo implements "ssh_info": connection details for a single
// running instance.
func (d *Daemon) handleSSHInfo(ctx context.Context, req *rpc.Request) *rpc.Reply {
	if req.SSHInfo == nil {
		return &rpc.Reply{Status: &rpc.Status{OK: false, Kind: "InvalidSetting", Message: "missing ssh_info payload"}}
	}
	host, port, username, err := d.factory.SSHInfo(ctx, req.SSHInfo.Instance)
	if err != nil {
		return &rpc.Reply{Status: statusFromError(ferrors.Wrap(ferrors.KindSSHExecFailure, "resolving SSH info", err))}
	}
	return &rpc.Reply{
		ReplyMessage: host,
		Status: &rpc.Status{
			OK: true,
			Details: map[string]string{
				"host":     host,
				"port":     strconv.Itoa(port),
				"username": username,
			},
		},
	}
}

// handleNetworks implements "networks": the host-side networks available
// for an instance's extra interfaces.
func (d *Daemon) handleNetworks(ctx context.Context, req *rpc.Request) *rpc.Reply {
	networks, err := d.factory.Networks(ctx)
	if err != nil {
		return &rpc.Reply{Status: statusFromError(ferrors.Wrap(ferrors.KindInternal, "listing networks", err))}
	}
	return &rpc.Reply{Keys: networks, Status: &rpc.Status{OK: true}}
}

// handleVersion implements "version"/"daemon_info": a static banner.
func (d *Daemon) handleVersion(ctx context.Context, req *rpc.Request) *rpc.Reply {
	return &rpc.Reply{ReplyMessage: daemonVersion, Status: &rpc.Status{OK: true}}
}

// handlePing implements "ping": a liveness no-op.
func (d *Daemon) handlePing(ctx context.Context, req *rpc.Request) *rpc.Reply {
	return &rpc.Reply{Status: &rpc.Status{OK: true}}
}
