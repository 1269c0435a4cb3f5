package v1alpha1

import "github.com/fleetd/fleetd/internal/memsize"

// Instance is a persisted, disposable Ubuntu-flavored virtual machine
// managed by the daemon.
//
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=inst;instances
// +kubebuilder:printcolumn:name="State",type=string,JSONPath=`.status.state`
// +kubebuilder:printcolumn:name="IP",type=string,JSONPath=`.status.addresses[0].address`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`
type Instance struct {
	TypeMeta `json:",inline" yaml:",inline"`

	// +optional
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Spec InstanceSpec `json:"spec" yaml:"spec"`

	// +optional
	Status InstanceStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// InstanceSpec defines the desired configuration of an Instance, per the
// persisted "Instance record" in SPEC_FULL.md §3.
//
// +k8s:deepcopy-gen=true
type InstanceSpec struct {
	// NumCores is the number of virtual CPUs. Must be >= the backend's
	// minimum core count.
	// +kubebuilder:validation:Minimum=1
	NumCores int `json:"numCores" yaml:"numCores"`

	// MemSize is the guest memory size. Must be >= 128 MiB.
	MemSize memsize.Size `json:"memSize" yaml:"memSize"`

	// DiskSpace is the boot disk size. Must be >= the source image's
	// minimum size.
	DiskSpace memsize.Size `json:"diskSpace" yaml:"diskSpace"`

	// DefaultMACAddress is the MAC address of the primary network
	// interface. Unique across the daemon.
	DefaultMACAddress string `json:"defaultMacAddress" yaml:"defaultMacAddress"`

	// ExtraInterfaces are additional network interfaces beyond the
	// default one, in attachment order.
	// +optional
	ExtraInterfaces []ExtraInterface `json:"extraInterfaces,omitempty" yaml:"extraInterfaces,omitempty"`

	// SSHUsername is the guest user cloud-init provisions for SSH
	// access. Defaults to "ubuntu".
	// +optional
	// +kubebuilder:default=ubuntu
	SSHUsername string `json:"sshUsername,omitempty" yaml:"sshUsername,omitempty"`

	// Mounts maps a guest target path to its mount specification.
	// +optional
	Mounts map[string]VMMount `json:"mounts,omitempty" yaml:"mounts,omitempty"`

	// ImageID is the content-address (full SHA-256 hash) of the source
	// image this instance was created from.
	ImageID string `json:"imageId" yaml:"imageId"`

	// Metadata is an opaque, client-supplied JSON object persisted
	// alongside the instance.
	// +optional
	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ExtraInterface is an additional network interface on an Instance.
//
// +k8s:deepcopy-gen=true
type ExtraInterface struct {
	// ID identifies the host-side network this interface attaches to
	// (e.g. a bridge or backend network name).
	ID string `json:"id" yaml:"id"`

	// MAC is this interface's MAC address. Unique across the daemon.
	MAC string `json:"mac" yaml:"mac"`

	// AutoMode indicates the interface address is assigned
	// automatically by the backend network rather than statically.
	// +optional
	AutoMode bool `json:"autoMode,omitempty" yaml:"autoMode,omitempty"`
}

// VMMount describes one guest directory share.
//
// +k8s:deepcopy-gen=true
type VMMount struct {
	// SourcePath is the host directory being shared.
	SourcePath string `json:"sourcePath" yaml:"sourcePath"`

	// UIDMappings maps host UIDs to guest UIDs, -1 meaning "default".
	// +optional
	UIDMappings []IDMapping `json:"uidMappings,omitempty" yaml:"uidMappings,omitempty"`

	// GIDMappings maps host GIDs to guest GIDs, -1 meaning "default".
	// +optional
	GIDMappings []IDMapping `json:"gidMappings,omitempty" yaml:"gidMappings,omitempty"`

	// Type selects the mount handler implementation.
	Type MountType `json:"type" yaml:"type"`
}

// IDMapping is a single host->guest id mapping entry.
//
// +k8s:deepcopy-gen=true
type IDMapping struct {
	HostID  int `json:"hostId" yaml:"hostId"`
	GuestID int `json:"guestId" yaml:"guestId"`
}

// MountType selects which mount handler implementation services a
// VMMount.
type MountType string

const (
	// MountTypeClassic is serviced by an out-of-band protocol bridge
	// process spawned inside the guest.
	MountTypeClassic MountType = "Classic"
	// MountTypeNative is serviced by a backend-managed share (e.g. a
	// virtiofs/9p export the hypervisor itself exposes).
	MountTypeNative MountType = "Native"
)

// InstanceStatus is the observed state of an Instance.
//
// +k8s:deepcopy-gen=true
type InstanceStatus struct {
	// State is the current lifecycle state, per the VM state machine.
	// +optional
	State InstanceState `json:"state,omitempty" yaml:"state,omitempty"`

	// Deleted marks the instance as soft-deleted (recoverable until
	// purged). Invariant: Deleted == true implies State is one of
	// {stopped, off}.
	// +optional
	Deleted bool `json:"deleted,omitempty" yaml:"deleted,omitempty"`

	// CloneCount is a monotonic counter used to generate clone names;
	// it only ever increases.
	// +optional
	CloneCount int `json:"cloneCount,omitempty" yaml:"cloneCount,omitempty"`

	// +optional
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// +optional
	Addresses []VMAddress `json:"addresses,omitempty" yaml:"addresses,omitempty"`

	// DomainUUID is the libvirt domain UUID, populated after creation.
	// +optional
	DomainUUID string `json:"domainUUID,omitempty" yaml:"domainUUID,omitempty"`
}

// InstanceState is the lifecycle state of an Instance, per SPEC_FULL.md
// §4.6's state machine.
type InstanceState string

const (
	StateOff              InstanceState = "off"
	StateStopped          InstanceState = "stopped"
	StateStarting         InstanceState = "starting"
	StateRunning          InstanceState = "running"
	StateRestarting       InstanceState = "restarting"
	StateDelayedShutdown  InstanceState = "delayed_shutdown"
	StateSuspending       InstanceState = "suspending"
	StateSuspended        InstanceState = "suspended"
	StateUnknown          InstanceState = "unknown"
)

// VMAddress is a network address assigned to the instance.
//
// +k8s:deepcopy-gen=true
type VMAddress struct {
	Type    string `json:"type" yaml:"type"`
	Address string `json:"address" yaml:"address"`
}

// Standard condition types for Instance resources.
const (
	ConditionReady           = "Ready"
	ConditionImagePrepared   = "ImagePrepared"
	ConditionNetworkAttached = "NetworkAttached"
	ConditionMountsActive    = "MountsActive"
)

// DeepCopy creates a deep copy of Instance.
func (in *Instance) DeepCopy() *Instance {
	if in == nil {
		return nil
	}
	out := new(Instance)
	out.TypeMeta = *in.TypeMeta.DeepCopy()
	out.ObjectMeta = *in.ObjectMeta.DeepCopy()
	out.Spec = *in.Spec.DeepCopy()
	out.Status = *in.Status.DeepCopy()
	return out
}

// DeepCopy creates a deep copy of InstanceSpec.
func (in *InstanceSpec) DeepCopy() *InstanceSpec {
	if in == nil {
		return nil
	}
	out := new(InstanceSpec)
	*out = *in

	if in.ExtraInterfaces != nil {
		out.ExtraInterfaces = make([]ExtraInterface, len(in.ExtraInterfaces))
		copy(out.ExtraInterfaces, in.ExtraInterfaces)
	}

	if in.Mounts != nil {
		out.Mounts = make(map[string]VMMount, len(in.Mounts))
		for k, v := range in.Mounts {
			out.Mounts[k] = *v.DeepCopy()
		}
	}

	if in.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}

	return out
}

// DeepCopy creates a deep copy of VMMount.
func (in *VMMount) DeepCopy() *VMMount {
	if in == nil {
		return nil
	}
	out := new(VMMount)
	*out = *in
	if in.UIDMappings != nil {
		out.UIDMappings = make([]IDMapping, len(in.UIDMappings))
		copy(out.UIDMappings, in.UIDMappings)
	}
	if in.GIDMappings != nil {
		out.GIDMappings = make([]IDMapping, len(in.GIDMappings))
		copy(out.GIDMappings, in.GIDMappings)
	}
	return out
}

// DeepCopy creates a deep copy of InstanceStatus.
func (in *InstanceStatus) DeepCopy() *InstanceStatus {
	if in == nil {
		return nil
	}
	out := new(InstanceStatus)
	*out = *in

	if in.Conditions != nil {
		out.Conditions = make([]Condition, len(in.Conditions))
		for i := range in.Conditions {
			out.Conditions[i] = *in.Conditions[i].DeepCopy()
		}
	}
	if in.Addresses != nil {
		out.Addresses = make([]VMAddress, len(in.Addresses))
		copy(out.Addresses, in.Addresses)
	}

	return out
}

// DeepCopy creates a deep copy of VMAddress.
func (in *VMAddress) DeepCopy() *VMAddress {
	if in == nil {
		return nil
	}
	out := new(VMAddress)
	*out = *in
	return out
}
