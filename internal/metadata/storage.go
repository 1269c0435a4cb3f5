// Package metadata stores an instance's spec alongside its libvirt
// domain using libvirt's custom XML metadata element, so the spec
// persists with the VM itself instead of relying solely on the
// instance store file.
package metadata

import (
	"encoding/xml"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"gopkg.in/yaml.v3"

	"github.com/fleetd/fleetd/api/v1alpha1"
)

const (
	// Namespace is the XML namespace fleetd's metadata element is
	// registered under, following the pattern Kubernetes and other
	// tools use for custom domain metadata.
	Namespace = "http://fleetd.dev/v1alpha1"

	// Key identifies fleetd's metadata block among any others a domain
	// might carry.
	Key = "fleetd-instance-spec"
)

// instanceMetadata is the XML structure wrapping the instance spec. The
// spec itself is carried as embedded YAML text for readability when
// inspecting the domain XML directly.
type instanceMetadata struct {
	XMLName  xml.Name `xml:"metadata"`
	Xmlns    string   `xml:"xmlns,attr"`
	SpecYAML string   `xml:",innerxml"`
}

// domainMetadataClient is the subset of *libvirt.Libvirt this package
// depends on, narrowed so libvirtfactory's domainClient interface can
// satisfy it without exposing the whole client.
type domainMetadataClient interface {
	DomainSetMetadata(Dom libvirt.Domain, Type int32, Metadata libvirt.OptString, Key libvirt.OptString, URI libvirt.OptString, Flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(Dom libvirt.Domain, Type int32, URI libvirt.OptString, Flags libvirt.DomainModificationImpact) (Metadata string, err error)
}

// Store writes inst's spec onto domain's metadata, replacing any prior
// value.
func Store(l domainMetadataClient, domain libvirt.Domain, inst *v1alpha1.Instance) error {
	yamlData, err := yaml.Marshal(inst)
	if err != nil {
		return fmt.Errorf("metadata: marshaling instance spec: %w", err)
	}

	meta := instanceMetadata{Xmlns: Namespace, SpecYAML: string(yamlData)}
	xmlData, err := xml.MarshalIndent(meta, "  ", "  ")
	if err != nil {
		return fmt.Errorf("metadata: marshaling metadata XML: %w", err)
	}

	if err := l.DomainSetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{string(xmlData)},
		libvirt.OptString{Key},
		libvirt.OptString{Namespace},
		libvirt.DomainModificationImpact(0),
	); err != nil {
		return fmt.Errorf("metadata: setting domain metadata: %w", err)
	}
	return nil
}

// Load reads back the instance spec stashed on domain by Store.
func Load(l domainMetadataClient, domain libvirt.Domain) (*v1alpha1.Instance, error) {
	xmlStr, err := l.DomainGetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{Namespace},
		libvirt.DomainModificationImpact(0),
	)
	if err != nil {
		return nil, fmt.Errorf("metadata: getting domain metadata: %w", err)
	}

	var meta instanceMetadata
	if err := xml.Unmarshal([]byte(xmlStr), &meta); err != nil {
		return nil, fmt.Errorf("metadata: unmarshaling metadata XML: %w", err)
	}

	var inst v1alpha1.Instance
	if err := yaml.Unmarshal([]byte(meta.SpecYAML), &inst); err != nil {
		return nil, fmt.Errorf("metadata: unmarshaling instance spec: %w", err)
	}
	return &inst, nil
}

// Delete removes fleetd's metadata block from domain, typically called
// during Undefine cleanup.
func Delete(l domainMetadataClient, domain libvirt.Domain) error {
	if err := l.DomainSetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{},
		libvirt.OptString{Key},
		libvirt.OptString{Namespace},
		libvirt.DomainModificationImpact(1),
	); err != nil {
		return fmt.Errorf("metadata: deleting domain metadata: %w", err)
	}
	return nil
}

// Exists reports whether domain carries fleetd metadata.
func Exists(l domainMetadataClient, domain libvirt.Domain) bool {
	_, err := l.DomainGetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{Namespace},
		libvirt.DomainModificationImpact(0),
	)
	return err == nil
}
