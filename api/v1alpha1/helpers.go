package v1alpha1

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	// GroupName is the API group for fleetd resources.
	GroupName = "fleetd.dev"

	// Version is the API version.
	Version = "v1alpha1"

	// InstanceKind is the kind string for Instance resources.
	InstanceKind = "Instance"
)

// NewInstance creates a new Instance with TypeMeta/ObjectMeta defaults
// and an "off" initial state.
func NewInstance(name string) *Instance {
	now := Time{Time: time.Now()}

	return &Instance{
		TypeMeta: TypeMeta{
			APIVersion: GroupName + "/" + Version,
			Kind:       InstanceKind,
		},
		ObjectMeta: ObjectMeta{
			Name:              name,
			UID:               uuid.New().String(),
			CreationTimestamp: now,
			Generation:        1,
		},
		Spec: InstanceSpec{
			SSHUsername: "ubuntu",
		},
		Status: InstanceStatus{
			State: StateOff,
		},
	}
}

// SetDefaultAPIVersion ensures the instance has the correct apiVersion
// and kind. Useful when loading records that might be missing these
// fields (e.g. older persisted registries).
func SetDefaultAPIVersion(inst *Instance) {
	if inst.APIVersion == "" {
		inst.APIVersion = GroupName + "/" + Version
	}
	if inst.Kind == "" {
		inst.Kind = InstanceKind
	}
}

// GetSSHUsername returns the configured SSH username, defaulting to
// "ubuntu" per SPEC_FULL.md §3.
func (inst *Instance) GetSSHUsername() string {
	if inst.Spec.SSHUsername == "" {
		return "ubuntu"
	}
	return inst.Spec.SSHUsername
}

// MACAddresses returns every MAC address attached to this instance: the
// default interface first, then extra interfaces in order.
func (inst *Instance) MACAddresses() []string {
	macs := make([]string, 0, 1+len(inst.Spec.ExtraInterfaces))
	if inst.Spec.DefaultMACAddress != "" {
		macs = append(macs, inst.Spec.DefaultMACAddress)
	}
	for _, iface := range inst.Spec.ExtraInterfaces {
		macs = append(macs, iface.MAC)
	}
	return macs
}

// SetState sets the instance's lifecycle state.
func (inst *Instance) SetState(state InstanceState) {
	inst.Status.State = state
}

// State returns the instance's current lifecycle state.
func (inst *Instance) State() InstanceState {
	return inst.Status.State
}

// IsOperative reports whether the instance is usable (not soft-deleted).
func (inst *Instance) IsOperative() bool {
	return !inst.Status.Deleted
}

// NextCloneName returns the name to use for the next clone of this
// instance and bumps CloneCount. Format: "<name>-clone-N".
func (inst *Instance) NextCloneName() string {
	inst.Status.CloneCount++
	return formatCloneName(inst.Name, inst.Status.CloneCount)
}

func formatCloneName(base string, n int) string {
	return base + "-clone-" + strconv.Itoa(n)
}
