package libvirtfactory

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/digitalocean/go-libvirt"

	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/internal/cloudinit"
	fleetdlibvirt "github.com/fleetd/fleetd/internal/libvirt"
	"github.com/fleetd/fleetd/internal/metadata"
	"github.com/fleetd/fleetd/internal/storage"
	"github.com/fleetd/fleetd/internal/vmstate"
)

// Define creates inst's boot/cloud-init volumes and libvirt domain,
// without starting it. Mirrors internal/vm.CreateFromConfig's staged
// pipeline, narrowed to this data model's single-source-image shape.
func (f *Factory) Define(ctx context.Context, inst *v1alpha1.Instance) error {
	if err := f.storage.EnsureDefaultPools(ctx); err != nil {
		return fmt.Errorf("libvirtfactory: ensuring storage pools: %w", err)
	}

	backingPath, err := f.storage.GetImagePath(ctx, inst.Spec.ImageID)
	if err != nil {
		return fmt.Errorf("libvirtfactory: locating source image %q: %w", inst.Spec.ImageID, err)
	}

	bootSpec := storage.VolumeSpec{
		Name:          fleetdlibvirt.BootVolumeName(inst),
		Type:          storage.VolumeTypeBoot,
		Format:        storage.VolumeFormatQCOW2,
		CapacityGB:    gbCeil(inst.Spec.DiskSpace.Bytes()),
		BackingVolume: backingPath,
	}
	if err := f.storage.CreateVolume(ctx, storage.DefaultVMsPool, bootSpec); err != nil {
		return fmt.Errorf("libvirtfactory: creating boot volume: %w", err)
	}

	isoData, err := cloudinit.GenerateISO(inst)
	if err != nil {
		_ = f.storage.DeleteVolume(ctx, storage.DefaultVMsPool, bootSpec.Name)
		return fmt.Errorf("libvirtfactory: generating cloud-init ISO: %w", err)
	}
	cloudInitSpec := storage.VolumeSpec{
		Name:       fleetdlibvirt.CloudInitVolumeName(inst),
		Type:       storage.VolumeTypeCloudInit,
		Format:     storage.VolumeFormatRaw,
		CapacityGB: gbCeil(uint64(len(isoData))),
	}
	if err := f.storage.CreateVolume(ctx, storage.DefaultVMsPool, cloudInitSpec); err != nil {
		_ = f.storage.DeleteVolume(ctx, storage.DefaultVMsPool, bootSpec.Name)
		return fmt.Errorf("libvirtfactory: creating cloud-init volume: %w", err)
	}
	if err := f.storage.WriteVolumeData(ctx, storage.DefaultVMsPool, cloudInitSpec.Name, isoData); err != nil {
		_ = f.storage.DeleteVolume(ctx, storage.DefaultVMsPool, bootSpec.Name)
		_ = f.storage.DeleteVolume(ctx, storage.DefaultVMsPool, cloudInitSpec.Name)
		return fmt.Errorf("libvirtfactory: writing cloud-init data: %w", err)
	}

	domainXML, err := fleetdlibvirt.GenerateDomainXML(inst)
	if err != nil {
		return fmt.Errorf("libvirtfactory: generating domain XML: %w", err)
	}
	domain, err := f.client.DomainDefineXML(domainXML)
	if err != nil {
		return fmt.Errorf("libvirtfactory: defining domain: %w", err)
	}
	if err := f.client.DomainSetAutostart(domain, 0); err != nil {
		return fmt.Errorf("libvirtfactory: setting autostart: %w", err)
	}
	if err := metadata.Store(f.client, domain, inst); err != nil {
		return fmt.Errorf("libvirtfactory: stashing instance metadata: %w", err)
	}
	return nil
}

// Undefine tears down name's domain and boot/cloud-init volumes.
// Mirrors internal/vm.destroyWithDeps, minus the data-disk sweep (this
// data model has no data disks).
func (f *Factory) Undefine(ctx context.Context, name string) error {
	domain, err := f.client.DomainLookupByName(name)
	if err == nil {
		if state, _, stateErr := f.client.DomainGetState(domain, 0); stateErr == nil && state == domainStateRunning {
			_ = f.client.DomainDestroy(domain)
		}
		_ = metadata.Delete(f.client, domain)
		if err := f.client.DomainUndefineFlags(domain, libvirt.DomainUndefineNvram); err != nil {
			if err := f.client.DomainUndefine(domain); err != nil {
				return fmt.Errorf("libvirtfactory: undefining domain: %w", err)
			}
		}
	}

	var firstErr error
	for _, vol := range []string{name + "_boot.qcow2", name + "_cloudinit.iso"} {
		if err := f.storage.DeleteVolume(ctx, storage.DefaultVMsPool, vol); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Backend returns the vmstate.Backend for name.
func (f *Factory) Backend(name string) vmstate.Backend {
	return &Backend{client: f.client, name: name}
}

// Addresses returns name's current IPv4 addresses, preferring the guest
// agent's view (covers interfaces without a DHCP lease) and falling back
// to the DHCP lease table.
func (f *Factory) Addresses(ctx context.Context, name string) ([]string, error) {
	domain, err := f.client.DomainLookupByName(name)
	if err != nil {
		return nil, fmt.Errorf("libvirtfactory: looking up domain: %w", err)
	}

	const (
		sourceAgent = 1
		sourceLease = 0
	)
	ifaces, err := f.client.DomainInterfaceAddresses(domain, sourceAgent, 0)
	if err != nil || len(ifaces) == 0 {
		ifaces, err = f.client.DomainInterfaceAddresses(domain, sourceLease, 0)
		if err != nil {
			return nil, nil
		}
	}

	var addrs []string
	for _, iface := range ifaces {
		for _, a := range iface.Addrs {
			if a.Type == 0 { // VIR_IP_ADDR_TYPE_IPV4
				addrs = append(addrs, a.Addr)
			}
		}
	}
	return addrs, nil
}

// WaitSSH blocks until name's SSH port accepts a TCP connection or ctx
// expires, polling the way internal/vm.destroyWithDeps polls domain
// state for graceful shutdown.
func (f *Factory) WaitSSH(ctx context.Context, name string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		addrs, _ := f.Addresses(ctx, name)
		for _, addr := range addrs {
			dialer := net.Dialer{Timeout: time.Second}
			conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr, fmt.Sprintf("%d", f.GuestSSHPort)))
			if err == nil {
				_ = conn.Close()
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("libvirtfactory: waiting for SSH: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// WaitCloudInit blocks until the guest agent reports the cloud-init
// boot-finished marker exists, or ctx expires.
func (f *Factory) WaitCloudInit(ctx context.Context, name string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	domain, err := f.client.DomainLookupByName(name)
	if err != nil {
		return fmt.Errorf("libvirtfactory: looking up domain: %w", err)
	}

	for {
		if done, _ := guestFileExists(f.client, domain, "/var/lib/cloud/instance/boot-finished"); done {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("libvirtfactory: waiting for cloud-init: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// SSHInfo resolves the host/port/username a client should use to reach
// name over SSH.
func (f *Factory) SSHInfo(ctx context.Context, name string) (host string, port int, username string, err error) {
	addrs, err := f.Addresses(ctx, name)
	if err != nil {
		return "", 0, "", err
	}
	if len(addrs) == 0 {
		return "", 0, "", fmt.Errorf("libvirtfactory: no known address for %q", name)
	}
	return addrs[0], f.GuestSSHPort, f.GuestUser, nil
}

// ResizeBootVolume grows name's boot volume to size bytes.
func (f *Factory) ResizeBootVolume(ctx context.Context, name string, size uint64) error {
	return f.storage.ResizeVolume(ctx, storage.DefaultVMsPool, name+"_boot.qcow2", size)
}

// Networks lists the host-side libvirt networks available for an
// instance's extra interfaces to attach to.
func (f *Factory) Networks(ctx context.Context) ([]string, error) {
	nets, _, err := f.client.ConnectListAllNetworks(1, 0)
	if err != nil {
		return nil, fmt.Errorf("libvirtfactory: listing networks: %w", err)
	}
	names := make([]string, 0, len(nets))
	for _, n := range nets {
		names = append(names, n.Name)
	}
	return names, nil
}

// gbCeil rounds byteSize up to the nearest whole gigabyte, minimum 1GB,
// matching internal/vm.CreateFromConfig's cloud-init ISO sizing.
func gbCeil(byteSize uint64) uint64 {
	const gb = 1024 * 1024 * 1024
	gbs := (byteSize + gb - 1) / gb
	if gbs == 0 {
		gbs = 1
	}
	return gbs
}
