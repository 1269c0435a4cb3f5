package libvirt

import (
	"fmt"

	"libvirt.org/go/libvirtxml"

	"github.com/fleetd/fleetd/api/v1alpha1"
)

const (
	// ImagePool is the pool content-addressed source images and their
	// clones live in.
	ImagePool = "fleetd-images"
	// InstancePool is the pool per-instance boot/cloud-init volumes live
	// in.
	InstancePool = "fleetd-vms"
	// BridgeInterfaceID matches settings.autoBridgeID; kept here too so
	// domain generation doesn't import internal/settings for one const.
	BridgeInterfaceID = "bridge0"
)

// BootVolumeName returns the volume name for inst's boot disk, a
// resizable clone of its source image.
func BootVolumeName(inst *v1alpha1.Instance) string {
	return fmt.Sprintf("%s_boot.qcow2", inst.Name)
}

// CloudInitVolumeName returns the volume name for inst's cloud-init ISO.
func CloudInitVolumeName(inst *v1alpha1.Instance) string {
	return fmt.Sprintf("%s_cloudinit.iso", inst.Name)
}

// GenerateDomainXML generates libvirt domain XML for inst.
func GenerateDomainXML(inst *v1alpha1.Instance) (string, error) {
	domain := &libvirtxml.Domain{
		Type: "kvm",
		Name: inst.Name,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(inst.Spec.MemSize.Bytes()),
			Unit:  "B",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(inst.Spec.NumCores),
		},
		OS: &libvirtxml.DomainOS{
			Firmware: "efi",
			Type: &libvirtxml.DomainOSType{
				Arch: "x86_64",
				Type: "hvm",
			},
			BIOS: &libvirtxml.DomainBIOS{
				UseSerial: "yes",
			},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
			PAE:  &libvirtxml.DomainFeature{},
		},
		CPU: &libvirtxml.DomainCPU{
			Mode: "host-model",
			Model: &libvirtxml.DomainCPUModel{
				Fallback: "allow",
			},
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
			Timer: []libvirtxml.DomainTimer{
				{Name: "rtc", TickPolicy: "catchup"},
				{Name: "pit", TickPolicy: "delay"},
				{Name: "hpet", Present: "no"},
			},
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "restart",
		Devices: &libvirtxml.DomainDeviceList{
			Controllers: []libvirtxml.DomainController{
				{
					Type:  "pci",
					Index: uintPtr(0),
					Model: "pci-root",
				},
			},
			MemBalloon: &libvirtxml.DomainMemBalloon{
				Model: "virtio",
			},
			RNGs: []libvirtxml.DomainRNG{
				{
					Model: "virtio",
					Backend: &libvirtxml.DomainRNGBackend{
						Random: &libvirtxml.DomainRNGBackendRandom{
							Device: "/dev/urandom",
						},
					},
				},
			},
		},
	}

	bootDisk := libvirtxml.DomainDisk{
		Device: "disk",
		Driver: &libvirtxml.DomainDiskDriver{
			Name:  "qemu",
			Type:  "qcow2",
			Cache: "none",
		},
		Source: &libvirtxml.DomainDiskSource{
			Volume: &libvirtxml.DomainDiskSourceVolume{
				Pool:   InstancePool,
				Volume: BootVolumeName(inst),
			},
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: "vda",
			Bus: "virtio",
		},
		Boot: &libvirtxml.DomainDeviceBoot{
			Order: 1,
		},
	}
	domain.Devices.Disks = append(domain.Devices.Disks, bootDisk)

	cdrom := libvirtxml.DomainDisk{
		Device: "cdrom",
		Driver: &libvirtxml.DomainDiskDriver{
			Name: "qemu",
			Type: "raw",
		},
		Source: &libvirtxml.DomainDiskSource{
			Volume: &libvirtxml.DomainDiskSourceVolume{
				Pool:   InstancePool,
				Volume: CloudInitVolumeName(inst),
			},
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: "sda",
			Bus: "sata",
		},
		ReadOnly: &libvirtxml.DomainDiskReadOnly{},
	}
	domain.Devices.Disks = append(domain.Devices.Disks, cdrom)

	primary := libvirtxml.DomainInterface{
		MAC: &libvirtxml.DomainInterfaceMAC{Address: inst.Spec.DefaultMACAddress},
		Source: &libvirtxml.DomainInterfaceSource{
			Network: &libvirtxml.DomainInterfaceSourceNetwork{Network: "default"},
		},
		Model: &libvirtxml.DomainInterfaceModel{Type: "virtio"},
	}
	domain.Devices.Interfaces = append(domain.Devices.Interfaces, primary)

	for _, iface := range inst.Spec.ExtraInterfaces {
		netIface := libvirtxml.DomainInterface{
			MAC:   &libvirtxml.DomainInterfaceMAC{Address: iface.MAC},
			Model: &libvirtxml.DomainInterfaceModel{Type: "virtio"},
		}
		if iface.ID == BridgeInterfaceID {
			netIface.Source = &libvirtxml.DomainInterfaceSource{
				Bridge: &libvirtxml.DomainInterfaceSourceBridge{Bridge: iface.ID},
			}
		} else {
			netIface.Source = &libvirtxml.DomainInterfaceSource{
				Network: &libvirtxml.DomainInterfaceSourceNetwork{Network: iface.ID},
			}
		}
		domain.Devices.Interfaces = append(domain.Devices.Interfaces, netIface)
	}

	domain.Devices.Serials = []libvirtxml.DomainSerial{
		{
			Source: &libvirtxml.DomainChardevSource{Pty: &libvirtxml.DomainChardevSourcePty{}},
			Target: &libvirtxml.DomainSerialTarget{Port: uintPtr(0)},
		},
	}
	domain.Devices.Consoles = []libvirtxml.DomainConsole{
		{
			Source: &libvirtxml.DomainChardevSource{Pty: &libvirtxml.DomainChardevSourcePty{}},
			Target: &libvirtxml.DomainConsoleTarget{Type: "serial", Port: uintPtr(0)},
		},
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}
	return xml, nil
}

func uintPtr(v uint) *uint { return &v }
