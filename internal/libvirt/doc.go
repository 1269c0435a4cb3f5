// Package libvirt provides a client wrapper for interacting with libvirt.
//
// This package wraps github.com/digitalocean/go-libvirt to provide:
//   - Connection management (connect, disconnect, ping)
//   - Domain XML generation from instance specs
//   - Utility functions for libvirt operations
//
// The Client type provides a high-level interface for libvirt operations,
// while exposing the underlying *libvirt.Libvirt for packages that need
// direct access to the libvirt API.
//
// Connection Management:
//
// The package establishes connections to the local libvirt daemon via Unix socket:
//
//	client, err := libvirt.Connect("", 0) // default socket and timeout
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	// Check connection
//	if err := client.Ping(); err != nil {
//	    return err
//	}
//
// Domain XML Generation:
//
// The package generates libvirt domain XML from an instance's spec:
//
//	inst := &v1alpha1.Instance{
//	    ObjectMeta: v1alpha1.ObjectMeta{Name: "myinstance"},
//	    Spec: v1alpha1.InstanceSpec{
//	        NumCores:  2,
//	        MemSize:   4 * memsize.GiB,
//	        DiskSpace: 20 * memsize.GiB,
//	    },
//	}
//
//	xml, err := libvirt.GenerateDomainXML(inst)
//	if err != nil {
//	    return err
//	}
//
//	// Define domain in libvirt
//	dom, err := client.Libvirt().DomainDefineXML(xml)
//	if err != nil {
//	    return err
//	}
//
// Consumer-Side Interfaces:
//
// This package does not define interfaces. Instead, consumers (internal/storage,
// internal/libvirtfactory, internal/metadata) define their own client interfaces
// specifying only the operations they need. The *libvirt.Libvirt type satisfies these
// interfaces implicitly, enabling clean dependency injection.
package libvirt
