// Package daemon implements the orchestrator that composes the image
// vault, instance registry, state machines, mount and snapshot managers,
// settings registry and async operation runner into the daemon's single
// RPC surface, per SPEC_FULL.md §4 and §6.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/api/rpc"
	"github.com/fleetd/fleetd/internal/asyncop"
	"github.com/fleetd/fleetd/internal/imagehost"
	"github.com/fleetd/fleetd/internal/imagevault"
	"github.com/fleetd/fleetd/internal/instance"
	"github.com/fleetd/fleetd/internal/mount"
	"github.com/fleetd/fleetd/internal/netaddr"
	"github.com/fleetd/fleetd/internal/rpcauth"
	"github.com/fleetd/fleetd/internal/settings"
	"github.com/fleetd/fleetd/internal/snapshot"
	"github.com/fleetd/fleetd/internal/vmstate"
)

// MinCPUCores is the smallest num_cores accepted by create/launch/clone,
// per spec.md §4's "positive integer >= min_cpu_cores".
const MinCPUCores = 1

// Daemon wires every C1-C11 component together and implements rpc.Handler
// by dispatching on Request.Method.
type Daemon struct {
	log *logrus.Entry

	instances  *instance.Registry
	factory    VMFactory
	vault      *imagevault.Vault
	images     *imagehost.Source
	downloader imagehost.Downloader
	settings   *settings.Registry
	auth       *rpcauth.Gate
	runner     *asyncop.Runner

	mu        sync.Mutex
	machines  map[string]*vmstate.Machine
	mounts    map[string]*mount.Registry
	snapshots map[string]*snapshot.Manager
}

// New creates a Daemon composing its collaborators. The caller owns
// registering an instance-settings and snapshot-settings handler onto
// settingsRegistry (internal/settings.Handler implementations that close
// back over instances/snapshots); the registry is shared by pointer, so
// this may happen after New returns, as it must for the snapshot-settings
// handler, which takes the returned Daemon as its lookup. downloader
// fetches source image bytes for the vault's fetch_image contract; it is
// typically the same imagehost.Downloader passed to imagehost.NewSource.
func New(
	instances *instance.Registry,
	factory VMFactory,
	vault *imagevault.Vault,
	images *imagehost.Source,
	downloader imagehost.Downloader,
	settingsRegistry *settings.Registry,
	auth *rpcauth.Gate,
) *Daemon {
	return &Daemon{
		log:        logrus.WithField("component", "daemon"),
		instances:  instances,
		factory:    factory,
		vault:      vault,
		images:     images,
		downloader: downloader,
		settings:   settingsRegistry,
		auth:       auth,
		runner:     asyncop.NewRunner(),
		machines:   make(map[string]*vmstate.Machine),
		mounts:     make(map[string]*mount.Registry),
		snapshots:  make(map[string]*snapshot.Manager),
	}
}

// machineFor returns the state machine for name, creating one seeded
// from the instance's persisted state on first access.
func (d *Daemon) machineFor(inst *v1alpha1.Instance) *vmstate.Machine {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.machines[inst.Name]; ok {
		return m
	}
	m := vmstate.New(inst.Name, d.factory.Backend(inst.Name), inst.Status.State)
	d.machines[inst.Name] = m
	return m
}

func (d *Daemon) dropMachine(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.machines, name)
}

// mountsFor returns the mount registry for name, creating and
// reconciling one against inst's current spec on first access.
func (d *Daemon) mountsFor(inst *v1alpha1.Instance) *mount.Registry {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.mounts[inst.Name]; ok {
		return r
	}
	r := mount.NewRegistry(inst.Name, d.factory, d.factory)
	r.Reconcile(inst.Spec.Mounts)
	d.mounts[inst.Name] = r
	return r
}

func (d *Daemon) dropMounts(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.mounts, name)
}

// ManagerFor implements settings.SnapshotManagerLookup and the daemon's
// own per-instance snapshot tree lookup.
func (d *Daemon) ManagerFor(instanceName string) (*snapshot.Manager, bool) {
	trail := d.instances.Find(instanceName)
	if trail.Bucket == instance.BucketMissing {
		return nil, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.snapshots[instanceName]
	if !ok {
		m = snapshot.NewManager(instanceName)
		d.snapshots[instanceName] = m
	}
	return m, true
}

// allocateMAC mints and reserves a fresh MAC address.
func (d *Daemon) allocateMAC() (string, error) {
	return netaddr.Generate(d.instances.AllocatedMACs())
}

// startAsync coalesces a long-running operation on key through the async
// runner and streams its progress/result back through send.
func (d *Daemon) startAsync(
	ctx context.Context,
	key string,
	send func(*rpc.Reply) error,
	fn func(ctx context.Context, task *asyncop.Task),
) error {
	task, _ := d.runner.StartCoalesced(key, func(task *asyncop.Task) {
		fn(ctx, task)
	})
	return drainProgress(ctx, task, send)
}

// drainProgress forwards task's progress stream through send until the
// task finishes or ctx is cancelled, leaving the terminal result for the
// caller to collect via task.Wait/waitResult.
func drainProgress(ctx context.Context, task *asyncop.Task, send func(*rpc.Reply) error) error {
	for {
		select {
		case p, ok := <-task.Progress():
			if !ok {
				return nil
			}
			if err := send(progressToReply(p)); err != nil {
				return err
			}
		case <-task.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func progressToReply(p asyncop.Progress) *rpc.Reply {
	switch p.Kind {
	case asyncop.ProgressLaunchProgress:
		return &rpc.Reply{LaunchProgress: &rpc.LaunchProgress{Percent: p.Percent, Type: p.Type}}
	case asyncop.ProgressReplyMessage:
		return &rpc.Reply{ReplyMessage: p.Message}
	default:
		return &rpc.Reply{LogLine: p.Message}
	}
}

// waitResult blocks for task to finish (respecting the request's
// configured timeout) and translates the outcome into a terminal Status.
func waitResult(ctx context.Context, timeoutSeconds int, task *asyncop.Task) *rpc.Status {
	waitCtx, cancel := asyncop.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	if err := task.Wait(waitCtx); err != nil {
		return statusFromError(err)
	}
	return &rpc.Status{OK: true}
}

func statusFromError(err error) *rpc.Status {
	if err == nil {
		return &rpc.Status{OK: true}
	}
	return &rpc.Status{OK: false, Kind: kindOf(err), Message: err.Error()}
}

func notFoundStatus(name string) *rpc.Status {
	return &rpc.Status{OK: false, Kind: "DOES_NOT_EXIST", Message: fmt.Sprintf("instance %q does not exist", name)}
}
