package daemon

import (
	"context"

	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/internal/mount"
	"github.com/fleetd/fleetd/internal/vmstate"
)

// VMFactory is the hypervisor-facing collaborator the daemon is built
// against, named in spec.md as an external boundary: "the core consumes
// a VMFactory interface". The libvirt-backed implementation lives in
// internal/libvirtfactory; tests substitute a fake.
type VMFactory interface {
	// Define creates on-disk/hypervisor state for inst (domain XML,
	// cloned boot volume, cloud-init ISO) without starting it.
	Define(ctx context.Context, inst *v1alpha1.Instance) error

	// Undefine tears down every hypervisor resource for name.
	Undefine(ctx context.Context, name string) error

	// Backend returns the vmstate.Backend driving name's state machine.
	Backend(name string) vmstate.Backend

	// Addresses returns the guest's currently observed IPv4 addresses
	// (via DHCP lease or guest agent), empty if unknown.
	Addresses(ctx context.Context, name string) ([]string, error)

	// WaitSSH blocks until the guest's SSH daemon answers or ctx expires.
	WaitSSH(ctx context.Context, name string) error

	// WaitCloudInit blocks until cloud-init reports completion or ctx
	// expires.
	WaitCloudInit(ctx context.Context, name string) error

	// SSHInfo returns the host/port/username a client should use to
	// reach name over SSH.
	SSHInfo(ctx context.Context, name string) (host string, port int, username string, err error)

	// ResizeBootVolume grows name's boot volume to size bytes, used by
	// the disk settings handler's grow-only resize.
	ResizeBootVolume(ctx context.Context, name string, size uint64) error

	// Networks lists the host-side networks ("networks" RPC) available
	// for an instance's extra interfaces to attach to.
	Networks(ctx context.Context) ([]string, error)

	mount.ClassicBridge
	mount.NativeShares
}
