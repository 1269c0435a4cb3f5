package daemon

import (
	"context"
	"fmt"
	"os"

	"github.com/fleetd/fleetd/api/rpc"
	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/internal/asyncop"
	"github.com/fleetd/fleetd/internal/ferrors"
	"github.com/fleetd/fleetd/internal/imagehost"
	"github.com/fleetd/fleetd/internal/instance"
	"github.com/fleetd/fleetd/internal/memsize"
)

// buildInstance validates req and assembles the unstarted Instance it
// describes, allocating a fresh MAC for its default interface and (when
// requested) an auto-bridge extra interface.
func (d *Daemon) buildInstance(req *rpc.CreateRequest) (*v1alpha1.Instance, error) {
	if req.NumCores < MinCPUCores {
		return nil, ferrors.New(ferrors.KindInvalidSetting, fmt.Sprintf("num_cores must be >= %d", MinCPUCores))
	}
	memSize, err := memsize.Parse(req.MemSize)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindInvalidMemorySize, "parsing mem_size", err)
	}
	if !memSize.AtLeast(128 * memsize.MiB) {
		return nil, ferrors.New(ferrors.KindInvalidMemorySize, "mem_size must be >= 128MiB")
	}
	diskSpace, err := memsize.Parse(req.DiskSpace)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindInvalidDiskSize, "parsing disk_space", err)
	}

	record, err := d.images.InfoFor(imagehost.Query{AliasOrHash: req.Image, AllowPartial: true})
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindManifest, "resolving source image", err)
	}

	minSize, err := d.vault.MinimumImageSizeFor(context.Background(), record.Hash)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindCreateImageException, "resolving source image", err)
	}
	if uint64(diskSpace) < minSize {
		return nil, ferrors.New(ferrors.KindInvalidDiskSize, fmt.Sprintf("disk_space must be >= source image minimum (%d bytes)", minSize))
	}

	mac, err := d.allocateMAC()
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindInternal, "allocating MAC address", err)
	}

	inst := v1alpha1.NewInstance(req.Name)
	inst.Spec.NumCores = req.NumCores
	inst.Spec.MemSize = memSize
	inst.Spec.DiskSpace = diskSpace
	inst.Spec.DefaultMACAddress = mac
	inst.Spec.ImageID = record.Hash
	inst.Spec.Mounts = req.Mounts
	if req.CloudInit != nil {
		inst.Spec.Metadata = req.CloudInit
	}

	if req.Bridged {
		bridgeMAC, err := d.allocateMAC()
		if err != nil {
			return nil, ferrors.Wrap(ferrors.KindInternal, "allocating bridge MAC address", err)
		}
		inst.Spec.ExtraInterfaces = append(inst.Spec.ExtraInterfaces, v1alpha1.ExtraInterface{
			ID: "bridge0", MAC: bridgeMAC, AutoMode: true,
		})
	}

	for _, iface := range req.Interfaces {
		mac := iface.MAC
		if mac == "" {
			var err error
			mac, err = d.allocateMAC()
			if err != nil {
				return nil, ferrors.Wrap(ferrors.KindInternal, "allocating interface MAC address", err)
			}
		}
		inst.Spec.ExtraInterfaces = append(inst.Spec.ExtraInterfaces, v1alpha1.ExtraInterface{
			ID: iface.ID, MAC: mac,
		})
	}
	return inst, nil
}

// fetchSourceImage runs hash through the vault's fetch_image contract:
// a download is only issued the first time hash is requested anywhere
// (FetchImage coalesces concurrent callers onto a single in-flight
// preparation), after which factory.Define's storage.GetImagePath
// lookup finds it already imported. progress receives the vault's
// milestones: 50 once the download is done, 100 once it is imported.
func (d *Daemon) fetchSourceImage(ctx context.Context, hash string, progress func(percent int)) error {
	record, err := d.images.InfoFor(imagehost.Query{AliasOrHash: hash})
	if err != nil {
		return ferrors.Wrap(ferrors.KindManifest, "resolving source image", err)
	}

	fetch := func(ctx context.Context) (string, error) {
		data, err := d.downloader.Get(ctx, record.ImageURL)
		if err != nil {
			return "", err
		}
		f, err := os.CreateTemp("", "fleetd-image-*")
		if err != nil {
			return "", fmt.Errorf("creating temp file for download: %w", err)
		}
		defer f.Close()
		if _, err := f.Write(data); err != nil {
			os.Remove(f.Name())
			return "", fmt.Errorf("writing downloaded image: %w", err)
		}
		return f.Name(), nil
	}
	prepare := func(ctx context.Context, rawPath string) (string, uint64, error) {
		info, err := os.Stat(rawPath)
		if err != nil {
			return "", 0, fmt.Errorf("stat downloaded image: %w", err)
		}
		return rawPath, uint64(info.Size()), nil
	}

	_, err = d.vault.FetchImage(ctx, hash, fetch, prepare, progress)
	return err
}

// handleCreate implements the "create" RPC: reserve the name, define
// hypervisor state, commit to the registry. Unlike launch, the instance
// is left off.
func (d *Daemon) handleCreate(ctx context.Context, req *rpc.Request, send func(*rpc.Reply) error) *rpc.Status {
	return d.createOrLaunch(ctx, req, send, false)
}

// handleLaunch implements the "launch" RPC: create, then start and wait
// for SSH and cloud-init to come up.
func (d *Daemon) handleLaunch(ctx context.Context, req *rpc.Request, send func(*rpc.Reply) error) *rpc.Status {
	return d.createOrLaunch(ctx, req, send, true)
}

func (d *Daemon) createOrLaunch(ctx context.Context, req *rpc.Request, send func(*rpc.Reply) error, start bool) *rpc.Status {
	create := req.Create
	if req.Method == rpc.MethodLaunch {
		create = req.Launch
	}
	if create == nil {
		return &rpc.Status{OK: false, Kind: "InvalidSetting", Message: "missing create payload"}
	}

	inst, err := d.buildInstance(create)
	if err != nil {
		return statusFromError(err)
	}

	if err := d.instances.Reserve(inst.Name); err != nil {
		return statusFromError(err)
	}

	var task *asyncop.Task
	task, _ = d.runner.StartCoalesced(inst.Name, func(task *asyncop.Task) {
		task.Emit(asyncop.Progress{Kind: asyncop.ProgressLaunchProgress, Percent: 10, Type: "image"})

		if fetchErr := d.fetchSourceImage(ctx, inst.Spec.ImageID, func(percent int) {
			task.Emit(asyncop.Progress{Kind: asyncop.ProgressLaunchProgress, Percent: 10 + percent*40/100, Type: "downloading image"})
		}); fetchErr != nil {
			d.instances.Release(inst.Name)
			task.Finish(ferrors.Wrap(ferrors.KindDownload, "fetching source image", fetchErr))
			return
		}

		defineErr := d.factory.Define(ctx, inst)
		if defineErr != nil {
			d.instances.Release(inst.Name)
			task.Finish(ferrors.Wrap(ferrors.KindCreateImageException, "defining instance", defineErr))
			return
		}

		task.Emit(asyncop.Progress{Kind: asyncop.ProgressLaunchProgress, Percent: 60, Type: "configure"})

		if commitErr := d.instances.Commit(inst); commitErr != nil {
			_ = d.factory.Undefine(ctx, inst.Name)
			task.Finish(commitErr)
			return
		}

		if !start {
			task.Finish(nil)
			return
		}

		machine := d.machineFor(inst)
		if startErr := machine.Start(ctx); startErr != nil {
			task.Finish(ferrors.Wrap(ferrors.KindStartException, "starting instance", startErr))
			return
		}
		task.Emit(asyncop.Progress{Kind: asyncop.ProgressLaunchProgress, Percent: 80, Type: "waiting for SSH"})

		if err := d.factory.WaitSSH(ctx, inst.Name); err != nil {
			task.Finish(ferrors.Wrap(ferrors.KindSSHProcessTimeout, "waiting for SSH", err))
			return
		}
		task.Emit(asyncop.Progress{Kind: asyncop.ProgressLaunchProgress, Percent: 95, Type: "waiting for cloud-init"})
		if err := d.factory.WaitCloudInit(ctx, inst.Name); err != nil {
			task.Finish(ferrors.Wrap(ferrors.KindStartException, "waiting for cloud-init", err))
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

		task.Emit(asyncop.Progress{Kind: asyncop.ProgressLaunchProgress, Percent: 100, Type: "ready"})
		task.Finish(nil)
	})

	if err := drainProgress(ctx, task, send); err != nil {
		return statusFromError(err)
	}
	return waitResult(ctx, req.Timeout, task)
}

// handleClone implements the "clone" RPC: copy source's spec under a
// fresh name and clone its boot volume in the vault.
func (d *Daemon) handleClone(ctx context.Context, req *rpc.Request) *rpc.Status {
	if req.Clone == nil {
		return &rpc.Status{OK: false, Kind: "InvalidSetting", Message: "missing clone payload"}
	}

	trail := d.instances.Find(req.Clone.Source)
	if trail.Bucket == instance.BucketMissing {
		return notFoundStatus(req.Clone.Source)
	}
	src := trail.Instance

	target := req.Clone.Target
	if target == "" {
		target = src.NextCloneName()
	}
	if err := d.instances.Reserve(target); err != nil {
		return statusFromError(err)
	}

	clone := v1alpha1.NewInstance(target)
	clone.Spec = *src.Spec.DeepCopy()

	mac, err := d.allocateMAC()
	if err != nil {
		d.instances.Release(target)
		return statusFromError(err)
	}
	clone.Spec.DefaultMACAddress = mac
	for i := range clone.Spec.ExtraInterfaces {
		extraMAC, err := d.allocateMAC()
		if err != nil {
			d.instances.Release(target)
			return statusFromError(err)
		}
		clone.Spec.ExtraInterfaces[i].MAC = extraMAC
	}

	clonedHash, err := d.vault.Clone(ctx, src.Spec.ImageID)
	if err != nil {
		d.instances.Release(target)
		return statusFromError(err)
	}
	clone.Spec.ImageID = clonedHash

	if err := d.factory.Define(ctx, clone); err != nil {
		d.instances.Release(target)
		return statusFromError(ferrors.Wrap(ferrors.KindCreateImageException, "defining clone", err))
	}
	if err := d.instances.Commit(clone); err != nil {
		_ = d.factory.Undefine(ctx, target)
		return statusFromError(err)
	}
	return &rpc.Status{OK: true}
}
