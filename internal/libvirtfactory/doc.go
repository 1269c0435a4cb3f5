// Package libvirtfactory is the concrete daemon.VMFactory: libvirt domain
// lifecycle, pool-backed boot/cloud-init volumes, SSH/guest-agent address
// discovery, and the Classic/Native mount bridges, per SPEC_FULL.md §4.1,
// §4.5 and §4.6.
package libvirtfactory
