// Package cloudinit provides cloud-init configuration generation for VM provisioning.
//
// This package generates cloud-init configuration files (user-data, meta-data, network-config)
// following the official cloud-init NoCloud datasource specification.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/fleetd/fleetd/api/v1alpha1"
)

// UserData represents the cloud-config user-data structure.
// This is marshaled to YAML and prefixed with "#cloud-config" header.
//
// See https://cloudinit.readthedocs.io/en/latest/explanation/format.html#cloud-config-data
type UserData struct {
	Hostname          string    `yaml:"hostname"`
	FQDN              string    `yaml:"fqdn"`
	SSHAuthorizedKeys []string  `yaml:"ssh_authorized_keys,omitempty"`
	Chpasswd          *Chpasswd `yaml:"chpasswd,omitempty"`
	SSHPasswordAuth   bool      `yaml:"ssh_pwauth"`
	Output            *Output   `yaml:"output,omitempty"`
}

// Chpasswd configures user password settings.
type Chpasswd struct {
	Expire bool   `yaml:"expire"` // Whether to expire passwords on first login
	List   string `yaml:"list"`   // Format: "username:hash"
}

// Output configures cloud-init output logging.
type Output struct {
	All string `yaml:"all"`
}

// MetaData represents the cloud-init meta-data structure.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// NetworkConfig represents the netplan v2 network configuration.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/network-config-format-v2.html
type NetworkConfig struct {
	Version   int                       `yaml:"version"`
	Ethernets map[string]EthernetConfig `yaml:"ethernets"`
}

// EthernetConfig represents a single ethernet interface configuration,
// matched by MAC address and brought up over DHCP4: every interface in
// this data model is assigned by the backend network (bridge/NAT), never
// a static address.
type EthernetConfig struct {
	Match MatchConfig `yaml:"match"`
	DHCP4 bool        `yaml:"dhcp4"`
}

// MatchConfig matches an interface by MAC address.
type MatchConfig struct {
	MACAddress string `yaml:"macaddress"`
}

// sshAuthorizedKeys reads an instance's SSH keys from its opaque
// metadata, the convention this daemon uses for fields spec.md leaves
// to the client (metadata["sshAuthorizedKeys"] : []interface{}{string...}).
func sshAuthorizedKeys(inst *v1alpha1.Instance) []string {
	raw, ok := inst.Spec.Metadata["sshAuthorizedKeys"]
	if !ok {
		return nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys
}

// GenerateUserData generates the user-data YAML content for inst.
//
// Returns the complete user-data file content including the "#cloud-config" header.
func GenerateUserData(inst *v1alpha1.Instance) (string, error) {
	if inst == nil {
		return "", fmt.Errorf("instance cannot be nil")
	}

	userData := UserData{
		Hostname:          inst.Name,
		FQDN:              inst.Name,
		SSHAuthorizedKeys: sshAuthorizedKeys(inst),
		SSHPasswordAuth:   false,
		Output: &Output{
			All: "| tee -a /var/log/cloud-init-output.log",
		},
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateMetaData generates the meta-data YAML content for inst.
//
// The instance-id is set to the instance name. Cloud-init uses
// instance-id to determine if this is a first boot, so recreating an
// instance under the same name re-runs cloud-init.
func GenerateMetaData(inst *v1alpha1.Instance) (string, error) {
	if inst == nil {
		return "", fmt.Errorf("instance cannot be nil")
	}

	metaData := MetaData{
		InstanceID:    inst.Name,
		LocalHostname: inst.Name,
	}

	yamlBytes, err := yaml.Marshal(&metaData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}

	return string(yamlBytes), nil
}

// GenerateNetworkConfig generates the network-config YAML content for
// inst, one DHCP4 ethernet entry per MAC address (default interface
// first, then extra interfaces in attachment order).
func GenerateNetworkConfig(inst *v1alpha1.Instance) (string, error) {
	if inst == nil {
		return "", fmt.Errorf("instance cannot be nil")
	}

	macs := inst.MACAddresses()
	if len(macs) == 0 {
		return "", fmt.Errorf("instance has no network interfaces")
	}

	networkConfig := NetworkConfig{
		Version:   2,
		Ethernets: make(map[string]EthernetConfig, len(macs)),
	}

	for i, mac := range macs {
		ethName := fmt.Sprintf("eth%d", i)
		networkConfig.Ethernets[ethName] = EthernetConfig{
			Match: MatchConfig{MACAddress: mac},
			DHCP4: true,
		}
	}

	yamlBytes, err := yaml.Marshal(&networkConfig)
	if err != nil {
		return "", fmt.Errorf("failed to marshal network-config to YAML: %w", err)
	}

	return string(yamlBytes), nil
}
