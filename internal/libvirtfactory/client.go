package libvirtfactory

import (
	"sync"

	"github.com/digitalocean/go-libvirt"
	"golang.org/x/crypto/ssh"

	"github.com/fleetd/fleetd/internal/storage"
)

// domainClient is the subset of *libvirt.Libvirt the factory depends on,
// narrowed the way internal/vm.libvirtClient narrows it, so fakes can
// substitute for it in tests and *libvirt.Libvirt satisfies it directly
// in production.
type domainClient interface {
	DomainLookupByName(name string) (libvirt.Domain, error)
	DomainDefineXML(xml string) (libvirt.Domain, error)
	DomainSetAutostart(dom libvirt.Domain, autostart int32) error
	DomainCreate(dom libvirt.Domain) error
	DomainGetState(dom libvirt.Domain, flags uint32) (state int32, reason int32, err error)
	DomainShutdown(dom libvirt.Domain) error
	DomainDestroy(dom libvirt.Domain) error
	DomainSuspend(dom libvirt.Domain) error
	DomainResume(dom libvirt.Domain) error
	DomainReboot(dom libvirt.Domain, flags libvirt.DomainRebootFlagValues) error
	DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error
	DomainUndefine(dom libvirt.Domain) error
	DomainInterfaceAddresses(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error)
	DomainAttachDeviceFlags(dom libvirt.Domain, xml string, flags libvirt.DomainDeviceModifyFlags) error
	DomainDetachDeviceFlags(dom libvirt.Domain, xml string, flags libvirt.DomainDeviceModifyFlags) error
	DomainQemuAgentCommand(dom libvirt.Domain, cmd string, timeout int64, flags uint32) (string, error)
	ConnectListAllNetworks(needResults int32, flags libvirt.ConnectListAllNetworksFlags) ([]libvirt.Network, uint32, error)
	DomainSetMetadata(dom libvirt.Domain, typ int32, metadata libvirt.OptString, key libvirt.OptString, uri libvirt.OptString, flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error)
}

// Domain states, mirrored from internal/vm.destroy.go's local constants
// (VIR_DOMAIN_* from libvirt's public API).
const (
	domainStateRunning = 1
	domainStateShutoff = 5
)

// Factory is the concrete daemon.VMFactory: libvirt domain lifecycle
// backed by a pool-based storage.Manager for boot/cloud-init volumes.
type Factory struct {
	client  domainClient
	storage *storage.Manager

	// GuestUser is the SSH username WaitSSH/SSHInfo/the Classic mount
	// bridge connect as; images in this data model provision a single
	// cloud-init user.
	GuestUser string

	// GuestSSHPort is the port WaitSSH/SSHInfo/the mount bridge dial.
	GuestSSHPort int

	// GuestSSHSigner authenticates the Classic mount bridge's SSH
	// connection into the guest. Required only by StartBridge/StopBridge.
	GuestSSHSigner ssh.Signer

	bridgesMu sync.Mutex
	bridges   map[string]*ssh.Client
}

// New creates a Factory. client is typically (*libvirt.Libvirt)(nil)'s
// production counterpart obtained from internal/libvirt.Client.Libvirt().
func New(client domainClient, storageMgr *storage.Manager) *Factory {
	return &Factory{
		client:       client,
		storage:      storageMgr,
		GuestUser:    "root",
		GuestSSHPort: 22,
	}
}
