// Package storage provides libvirt storage pool and volume management.
//
// This package handles all storage operations including:
//   - Pool lifecycle (create, delete, refresh, list)
//   - Volume operations (create, delete, clone, list)
//   - Image management (import, list, delete, validation)
//   - Format detection and validation (QCOW2, RAW)
//
// Storage Architecture:
//
// Foundry uses a pool-based storage architecture with two default pools:
//   - foundry-images: Base OS images shared across VMs
//   - foundry-vms: VM-specific volumes (boot disks, data disks, cloud-init ISOs)
//
// Volume Naming Convention:
//
// Instance volumes are named by internal/libvirt (BootVolumeName,
// CloudInitVolumeName):
//   - Boot disk: {vm-name}_boot.qcow2
//   - Cloud-init: {vm-name}_cloudinit.iso
//
// Format Validation:
//
// DetectImageFormat performs pure Go magic byte detection of image formats:
//   - QCOW2: Magic bytes "QFI\xfb" at offset 0
//   - RAW: MBR signature 0x55aa at offset 510
//
// ImportImage does not call it: it picks the format from the file extension
// and does not check the file's content against that extension.
//
// Consumer-Side Interface:
//
// This package defines storage.LibvirtClient, the narrow set of libvirt
// operations the Manager uses; *libvirt.Libvirt satisfies it implicitly.
//
// Example usage:
//
//	// Connect to libvirt
//	client, err := libvirt.Connect("", 0) // default socket and timeout
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	// Create storage manager
//	mgr := storage.NewManager(client.Libvirt())
//
//	// Ensure default pools exist
//	if err := mgr.EnsureDefaultPools(ctx); err != nil {
//	    return err
//	}
//
//	// Import an image
//	if err := mgr.ImportImage(ctx, "/path/to/image.qcow2", "fedora-43.qcow2"); err != nil {
//	    return err
//	}
//
//	// Create a boot volume backed by the image file
//	backingPath, err := mgr.GetImagePath(ctx, "fedora-43.qcow2")
//	if err != nil {
//	    return err
//	}
//	spec := storage.VolumeSpec{
//	    Name:          "myvm_boot",
//	    Type:          storage.VolumeTypeBoot,
//	    Format:        storage.VolumeFormatQCOW2,
//	    CapacityGB:    20,
//	    BackingVolume: backingPath,
//	}
//	if err := mgr.CreateVolume(ctx, "foundry-vms", spec); err != nil {
//	    return err
//	}
package storage
