// Package rpc defines the wire messages and gRPC service plumbing for
// the daemon's bidirectional-streaming RPC surface, per SPEC_FULL.md
// §4.11 and §6.
package rpc

import "github.com/fleetd/fleetd/api/v1alpha1"

// Method names mirror the RPC surface in spec.md §6.
const (
	MethodCreate       = "create"
	MethodLaunch       = "launch"
	MethodPurge        = "purge"
	MethodFind         = "find"
	MethodInfo         = "info"
	MethodList         = "list"
	MethodClone        = "clone"
	MethodNetworks     = "networks"
	MethodMount        = "mount"
	MethodRecover      = "recover"
	MethodSSHInfo      = "ssh_info"
	MethodStart        = "start"
	MethodStop         = "stop"
	MethodSuspend      = "suspend"
	MethodRestart      = "restart"
	MethodDelete       = "delete"
	MethodUmount       = "umount"
	MethodVersion      = "version"
	MethodGet          = "get"
	MethodSet          = "set"
	MethodKeys         = "keys"
	MethodAuthenticate = "authenticate"
	MethodSnapshot     = "snapshot"
	MethodRestore      = "restore"
	MethodDaemonInfo   = "daemon_info"
	MethodPing         = "ping"
)

// Request is the single envelope type carried over the bidi stream for
// every method; exactly one of the method-specific payload fields is set
// for the initial request message, after which follow-up messages on the
// same stream carry only Confirm (the client's answer to a confirmation
// or credential prompt).
type Request struct {
	Method    string `json:"method"`
	Names     []string `json:"names,omitempty"`
	Verbosity int    `json:"verbosity,omitempty"`
	Timeout   int    `json:"timeoutSeconds,omitempty"`

	Create       *CreateRequest       `json:"create,omitempty"`
	Launch       *LaunchRequest       `json:"launch,omitempty"`
	Clone        *CloneRequest        `json:"clone,omitempty"`
	Stop         *StopRequest         `json:"stop,omitempty"`
	Mount        *MountRequest        `json:"mount,omitempty"`
	Umount       *UmountRequest       `json:"umount,omitempty"`
	Get          *GetRequest          `json:"get,omitempty"`
	Set          *SetRequest          `json:"set,omitempty"`
	Authenticate *AuthenticateRequest `json:"authenticate,omitempty"`
	Snapshot     *SnapshotRequest     `json:"snapshot,omitempty"`
	Restore      *RestoreRequest      `json:"restore,omitempty"`
	SSHInfo      *SSHInfoRequest      `json:"sshInfo,omitempty"`

	Confirm *ConfirmAnswer `json:"confirm,omitempty"`
}

// CreateRequest describes a new, unstarted instance.
type CreateRequest struct {
	Name       string                        `json:"name"`
	Image      string                        `json:"image"`
	NumCores   int                           `json:"numCores"`
	MemSize    string                        `json:"memSize"`
	DiskSpace  string                        `json:"diskSpace"`
	Mounts     map[string]v1alpha1.VMMount  `json:"mounts,omitempty"`
	Bridged    bool                          `json:"bridged,omitempty"`
	Interfaces []CreateInterface             `json:"interfaces,omitempty"`
	CloudInit  map[string]interface{}        `json:"cloudInit,omitempty"`
}

// CreateInterface requests an extra network interface beyond the default
// one. MAC is optional; when empty the daemon mints one. A MAC already
// held by another instance is rejected on commit.
type CreateInterface struct {
	ID  string `json:"id"`
	MAC string `json:"mac,omitempty"`
}

// LaunchRequest is identical to CreateRequest but also starts the VM and
// waits for it to become ready.
type LaunchRequest = CreateRequest

// CloneRequest copies an existing instance's spec under a new name.
type CloneRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// StopRequest carries the stop RPC's delayed-shutdown and cancellation
// controls, distinct from Request.Timeout (the RPC call's own timeout).
// Cancel, when set, aborts a pending delayed shutdown and ignores Delay.
type StopRequest struct {
	Delay  int  `json:"delaySeconds,omitempty"`
	Cancel bool `json:"cancel,omitempty"`
}

// MountRequest attaches a guest directory share.
type MountRequest struct {
	Instance string         `json:"instance"`
	Target   string         `json:"target"`
	Spec     v1alpha1.VMMount `json:"spec"`
}

// UmountRequest detaches a guest directory share. Target empty means
// "all mounts".
type UmountRequest struct {
	Instance string `json:"instance"`
	Target   string `json:"target,omitempty"`
}

// GetRequest reads one settings key.
type GetRequest struct {
	Key string `json:"key"`
}

// SetRequest writes one settings key.
type SetRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// AuthenticateRequest exchanges a passphrase for client-cert trust.
type AuthenticateRequest struct {
	Passphrase string `json:"passphrase"`
}

// SnapshotRequest takes a snapshot of an instance.
type SnapshotRequest struct {
	Instance string `json:"instance"`
	Name     string `json:"name,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

// RestoreRequest restores an instance to a prior snapshot.
type RestoreRequest struct {
	Instance    string `json:"instance"`
	Snapshot    string `json:"snapshot"`
	Destructive bool   `json:"destructive,omitempty"`
}

// SSHInfoRequest asks for an instance's SSH connection details.
type SSHInfoRequest struct {
	Instance string `json:"instance"`
}

// ConfirmAnswer is the client's reply to a confirm_* prompt.
type ConfirmAnswer struct {
	Accepted bool   `json:"accepted"`
	Text     string `json:"text,omitempty"`
}

// Reply is the single envelope type streamed back from the server; a
// call produces zero or more Reply messages followed by exactly one with
// Status set (the terminal reply), per spec.md §6.
type Reply struct {
	LogLine        string          `json:"logLine,omitempty"`
	ReplyMessage   string          `json:"replyMessage,omitempty"`
	LaunchProgress *LaunchProgress `json:"launchProgress,omitempty"`
	UpdateInfo     *UpdateInfo     `json:"updateInfo,omitempty"`
	Confirm        *ConfirmPrompt  `json:"confirm,omitempty"`

	Instances []InstanceInfo `json:"instances,omitempty"`
	Settings  map[string]string `json:"settings,omitempty"`
	Keys      []string       `json:"keys,omitempty"`

	Status *Status `json:"status,omitempty"`
}

// LaunchProgress reports percent-complete progress for a long-running
// image fetch/prepare/configure step.
type LaunchProgress struct {
	Percent int    `json:"percent"`
	Type    string `json:"type"`
}

// UpdateInfo reports a newer image being available for an instance.
type UpdateInfo struct {
	Instance   string `json:"instance"`
	NewVersion string `json:"newVersion"`
}

// ConfirmPrompt asks the client to confirm a destructive or
// credential-requiring step before the operation proceeds.
type ConfirmPrompt struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// InstanceInfo is the public-facing projection of an Instance returned by
// list/info/find.
type InstanceInfo struct {
	Name      string              `json:"name"`
	State     v1alpha1.InstanceState `json:"state"`
	Deleted   bool                `json:"deleted"`
	IPv4      []string            `json:"ipv4,omitempty"`
	NumCores  int                 `json:"numCores"`
	MemSize   string              `json:"memSize"`
	DiskSpace string              `json:"diskSpace"`
	ImageID   string              `json:"imageId"`
}

// Status is the terminal reply for a call: ok, or a structured failure
// with a per-target detail map mirroring ferrors.Kind values.
type Status struct {
	OK      bool              `json:"ok"`
	Kind    string            `json:"kind,omitempty"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}
