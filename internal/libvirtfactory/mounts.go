package libvirtfactory

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"libvirt.org/go/libvirtxml"

	"github.com/fleetd/fleetd/api/v1alpha1"
)

// classicBridgeBinary is the guest-resident helper that mounts the host
// share over a reverse SSH tunnel. Provisioned into cloud-init images
// alongside the agent; not part of this package.
const classicBridgeBinary = "/usr/libexec/fleetd/mount-bridge"

func bridgeKey(instance, target string) string {
	return instance + "\x00" + target
}

// StartBridge opens an SSH session into instance and launches the
// out-of-band mount-bridge process that serves spec.SourcePath at target,
// per mount.ClassicBridge. The SSH client is kept alive so StopBridge can
// tear the session down cleanly.
func (f *Factory) StartBridge(ctx context.Context, instance, target string, spec v1alpha1.VMMount) error {
	if f.GuestSSHSigner == nil {
		return fmt.Errorf("libvirtfactory: no guest SSH credential configured")
	}

	addrs, err := f.Addresses(ctx, instance)
	if err != nil || len(addrs) == 0 {
		return fmt.Errorf("libvirtfactory: no known address for %q", instance)
	}

	config := &ssh.ClientConfig{
		User:            f.GuestUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(f.GuestSSHSigner)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}

	var client *ssh.Client
	var dialErr error
	for _, addr := range addrs {
		client, dialErr = ssh.Dial("tcp", net.JoinHostPort(addr, fmt.Sprintf("%d", f.GuestSSHPort)), config)
		if dialErr == nil {
			break
		}
	}
	if client == nil {
		return fmt.Errorf("libvirtfactory: dialing guest SSH: %w", dialErr)
	}

	session, err := client.NewSession()
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("libvirtfactory: opening SSH session: %w", err)
	}

	args := []string{classicBridgeBinary, "--source", spec.SourcePath, "--target", target}
	for _, m := range spec.UIDMappings {
		args = append(args, "--uid-map", fmt.Sprintf("%d:%d", m.HostID, m.GuestID))
	}
	for _, m := range spec.GIDMappings {
		args = append(args, "--gid-map", fmt.Sprintf("%d:%d", m.HostID, m.GuestID))
	}

	if err := session.Start(strings.Join(args, " ")); err != nil {
		_ = session.Close()
		_ = client.Close()
		return fmt.Errorf("libvirtfactory: starting mount bridge: %w", err)
	}

	f.bridgesMu.Lock()
	if f.bridges == nil {
		f.bridges = make(map[string]*ssh.Client)
	}
	f.bridges[bridgeKey(instance, target)] = client
	f.bridgesMu.Unlock()

	return nil
}

// StopBridge closes the SSH session backing instance's target mount. A
// missing session is a no-op: Deactivate may be called on a handler that
// never finished activating.
func (f *Factory) StopBridge(ctx context.Context, instance, target string, force bool) error {
	key := bridgeKey(instance, target)

	f.bridgesMu.Lock()
	client, ok := f.bridges[key]
	if ok {
		delete(f.bridges, key)
	}
	f.bridgesMu.Unlock()

	if !ok {
		return nil
	}
	if err := client.Close(); err != nil && !force {
		return fmt.Errorf("libvirtfactory: closing mount bridge: %w", err)
	}
	return nil
}

// fsTag derives the virtiofs mount tag from a share target, since libvirt
// requires a short identifier rather than an arbitrary path.
func fsTag(instance, target string) string {
	tag := strings.ReplaceAll(strings.Trim(target, "/"), "/", "_")
	if tag == "" {
		tag = "root"
	}
	return instance + "_" + tag
}

// CreateShare hot-attaches a virtiofs passthrough device exporting
// spec.SourcePath at target, per mount.NativeShares. The guest still has
// to mount the tag itself; that's done by the in-guest agent once it
// observes the new device, not by this call.
func (f *Factory) CreateShare(ctx context.Context, instance, target string, spec v1alpha1.VMMount) error {
	domain, err := f.client.DomainLookupByName(instance)
	if err != nil {
		return fmt.Errorf("libvirtfactory: looking up domain: %w", err)
	}

	fs := &libvirtxml.DomainFilesystem{
		AccessMode: "passthrough",
		Driver: &libvirtxml.DomainFilesystemDriver{
			Type: "virtiofs",
		},
		Source: &libvirtxml.DomainFilesystemSource{
			Mount: &libvirtxml.DomainFilesystemSourceMount{
				Dir: spec.SourcePath,
			},
		},
		Target: &libvirtxml.DomainFilesystemTarget{
			Dir: fsTag(instance, target),
		},
	}
	if idmap := buildIDMap(spec); idmap != nil {
		fs.IDMap = idmap
	}

	xmlDoc, err := fs.Marshal()
	if err != nil {
		return fmt.Errorf("libvirtfactory: marshaling filesystem device: %w", err)
	}
	if err := f.client.DomainAttachDeviceFlags(domain, xmlDoc, 0); err != nil {
		return fmt.Errorf("libvirtfactory: attaching share: %w", err)
	}
	return nil
}

// RemoveShare hot-detaches target's virtiofs device from instance.
func (f *Factory) RemoveShare(ctx context.Context, instance, target string, force bool) error {
	domain, err := f.client.DomainLookupByName(instance)
	if err != nil {
		return fmt.Errorf("libvirtfactory: looking up domain: %w", err)
	}

	fs := &libvirtxml.DomainFilesystem{
		AccessMode: "passthrough",
		Driver: &libvirtxml.DomainFilesystemDriver{
			Type: "virtiofs",
		},
		Target: &libvirtxml.DomainFilesystemTarget{
			Dir: fsTag(instance, target),
		},
	}
	xmlDoc, err := fs.Marshal()
	if err != nil {
		return fmt.Errorf("libvirtfactory: marshaling filesystem device: %w", err)
	}
	if err := f.client.DomainDetachDeviceFlags(domain, xmlDoc, 0); err != nil && !force {
		return fmt.Errorf("libvirtfactory: detaching share: %w", err)
	}
	return nil
}

// buildIDMap turns spec's host/guest id mapping entries into the libvirt
// idmap ranges virtiofs expects, one range per entry.
func buildIDMap(spec v1alpha1.VMMount) *libvirtxml.DomainFilesystemIDMap {
	if len(spec.UIDMappings) == 0 && len(spec.GIDMappings) == 0 {
		return nil
	}
	idmap := &libvirtxml.DomainFilesystemIDMap{}
	for _, m := range spec.UIDMappings {
		idmap.UIDs = append(idmap.UIDs, libvirtxml.DomainFilesystemIDMapEntry{
			Start:  uint(m.HostID),
			Target: uint(m.GuestID),
			Count:  1,
		})
	}
	for _, m := range spec.GIDMappings {
		idmap.GIDs = append(idmap.GIDs, libvirtxml.DomainFilesystemIDMapEntry{
			Start:  uint(m.HostID),
			Target: uint(m.GuestID),
			Count:  1,
		})
	}
	return idmap
}
