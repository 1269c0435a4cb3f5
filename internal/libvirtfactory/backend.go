package libvirtfactory

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"
)

// Backend drives one instance's domain lifecycle calls for its
// vmstate.Machine. It also implements vmstate.GuestSSHHalter by asking
// the guest agent to stop sshd before a reboot, so Machine can detect
// reboot completion via an SSH-down-then-up transition.
type Backend struct {
	client domainClient
	name   string
}

func (b *Backend) lookup() (libvirt.Domain, error) {
	dom, err := b.client.DomainLookupByName(b.name)
	if err != nil {
		return libvirt.Domain{}, fmt.Errorf("libvirtfactory: looking up domain %q: %w", b.name, err)
	}
	return dom, nil
}

func (b *Backend) Start(ctx context.Context) error {
	dom, err := b.lookup()
	if err != nil {
		return err
	}
	if err := b.client.DomainCreate(dom); err != nil {
		return fmt.Errorf("libvirtfactory: starting domain: %w", err)
	}
	return nil
}

func (b *Backend) Shutdown(ctx context.Context) error {
	dom, err := b.lookup()
	if err != nil {
		return err
	}
	if err := b.client.DomainShutdown(dom); err != nil {
		return fmt.Errorf("libvirtfactory: shutting down domain: %w", err)
	}
	return nil
}

func (b *Backend) ForceStop(ctx context.Context) error {
	dom, err := b.lookup()
	if err != nil {
		return err
	}
	if err := b.client.DomainDestroy(dom); err != nil {
		return fmt.Errorf("libvirtfactory: force-stopping domain: %w", err)
	}
	return nil
}

func (b *Backend) Suspend(ctx context.Context) error {
	dom, err := b.lookup()
	if err != nil {
		return err
	}
	if err := b.client.DomainSuspend(dom); err != nil {
		return fmt.Errorf("libvirtfactory: suspending domain: %w", err)
	}
	return nil
}

func (b *Backend) Resume(ctx context.Context) error {
	dom, err := b.lookup()
	if err != nil {
		return err
	}
	if err := b.client.DomainResume(dom); err != nil {
		return fmt.Errorf("libvirtfactory: resuming domain: %w", err)
	}
	return nil
}

func (b *Backend) Reboot(ctx context.Context) error {
	dom, err := b.lookup()
	if err != nil {
		return err
	}
	if err := b.client.DomainReboot(dom, libvirt.DomainRebootFlagValues(0)); err != nil {
		return fmt.Errorf("libvirtfactory: rebooting domain: %w", err)
	}
	return nil
}

// HaltGuestSSH asks the guest agent to stop sshd. Best-effort: an agent
// that isn't installed or isn't responding yet just means the caller
// falls back to polling the SSH port directly.
func (b *Backend) HaltGuestSSH(ctx context.Context) error {
	dom, err := b.lookup()
	if err != nil {
		return err
	}
	return guestExec(b.client, dom, "/usr/bin/systemctl", []string{"stop", "ssh"})
}
