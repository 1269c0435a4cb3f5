package metadata

import (
	"encoding/xml"
	"errors"
	"testing"

	"github.com/digitalocean/go-libvirt"

	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/internal/memsize"
)

type mockLibvirtClient struct {
	setMetadataError error
	getMetadataError error
	getMetadataValue string

	lastSetMetadata  string
	lastSetKey       string
	lastSetURI       string
	lastSetFlags     libvirt.DomainModificationImpact
	setMetadataCalls int
	getMetadataCalls int
}

func (m *mockLibvirtClient) DomainSetMetadata(
	dom libvirt.Domain,
	typ int32,
	metadata libvirt.OptString,
	key libvirt.OptString,
	uri libvirt.OptString,
	flags libvirt.DomainModificationImpact,
) error {
	m.setMetadataCalls++
	if len(metadata) > 0 {
		m.lastSetMetadata = metadata[0]
	}
	if len(key) > 0 {
		m.lastSetKey = key[0]
	}
	if len(uri) > 0 {
		m.lastSetURI = uri[0]
	}
	m.lastSetFlags = flags
	return m.setMetadataError
}

func (m *mockLibvirtClient) DomainGetMetadata(
	dom libvirt.Domain,
	typ int32,
	uri libvirt.OptString,
	flags libvirt.DomainModificationImpact,
) (string, error) {
	m.getMetadataCalls++
	return m.getMetadataValue, m.getMetadataError
}

func newTestInstance(name string) *v1alpha1.Instance {
	return &v1alpha1.Instance{
		ObjectMeta: v1alpha1.ObjectMeta{Name: name},
		Spec: v1alpha1.InstanceSpec{
			NumCores:  2,
			MemSize:   4 * memsize.GiB,
			DiskSpace: 20 * memsize.GiB,
			ImageID:   "fedora-43",
		},
	}
}

func TestStore_ValidInstance(t *testing.T) {
	mock := &mockLibvirtClient{}
	domain := libvirt.Domain{}
	inst := newTestInstance("test-vm")

	if err := Store(mock, domain, inst); err != nil {
		t.Fatalf("Store() failed: %v", err)
	}
	if mock.setMetadataCalls != 1 {
		t.Errorf("expected 1 DomainSetMetadata call, got %d", mock.setMetadataCalls)
	}
	if mock.lastSetKey != Key {
		t.Errorf("expected key %q, got %q", Key, mock.lastSetKey)
	}
	if mock.lastSetURI != Namespace {
		t.Errorf("expected URI %q, got %q", Namespace, mock.lastSetURI)
	}
	if mock.lastSetFlags != 0 {
		t.Errorf("expected flags 0 (replace), got %d", mock.lastSetFlags)
	}

	var meta instanceMetadata
	if err := xml.Unmarshal([]byte(mock.lastSetMetadata), &meta); err != nil {
		t.Fatalf("failed to parse stored XML: %v", err)
	}
	if meta.Xmlns != Namespace {
		t.Errorf("expected xmlns %q, got %q", Namespace, meta.Xmlns)
	}
	if meta.SpecYAML == "" {
		t.Error("expected non-empty YAML spec")
	}
}

func TestStore_DomainSetMetadataError(t *testing.T) {
	mock := &mockLibvirtClient{setMetadataError: errors.New("libvirt error")}
	domain := libvirt.Domain{}
	inst := newTestInstance("test-vm")

	err := Store(mock, domain, inst)
	if err == nil {
		t.Fatal("expected error from Store(), got nil")
	}
	if !errors.Is(err, mock.setMetadataError) {
		t.Errorf("expected error to wrap libvirt error")
	}
}

func TestLoad_ValidMetadata(t *testing.T) {
	meta := instanceMetadata{
		Xmlns: Namespace,
		SpecYAML: `metadata:
  name: test-vm
spec:
  numCores: 2
  memSize: 4294967296
  diskSpace: 21474836480
  imageId: fedora-43
`,
	}
	xmlData, _ := xml.MarshalIndent(meta, "  ", "  ")

	mock := &mockLibvirtClient{getMetadataValue: string(xmlData)}
	domain := libvirt.Domain{}

	loaded, err := Load(mock, domain)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Name != "test-vm" {
		t.Errorf("expected name %q, got %q", "test-vm", loaded.Name)
	}
	if loaded.Spec.NumCores != 2 {
		t.Errorf("expected 2 cores, got %d", loaded.Spec.NumCores)
	}
	if mock.getMetadataCalls != 1 {
		t.Errorf("expected 1 DomainGetMetadata call, got %d", mock.getMetadataCalls)
	}
}

func TestLoad_DomainGetMetadataError(t *testing.T) {
	mock := &mockLibvirtClient{getMetadataError: errors.New("libvirt error")}
	domain := libvirt.Domain{}

	inst, err := Load(mock, domain)
	if err == nil {
		t.Fatal("expected error from Load(), got nil")
	}
	if inst != nil {
		t.Error("expected nil instance on error")
	}
}

func TestLoad_InvalidXML(t *testing.T) {
	mock := &mockLibvirtClient{getMetadataValue: "not valid xml"}
	domain := libvirt.Domain{}

	inst, err := Load(mock, domain)
	if err == nil {
		t.Fatal("expected error from Load() with invalid XML, got nil")
	}
	if inst != nil {
		t.Error("expected nil instance on XML parse error")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	meta := instanceMetadata{Xmlns: Namespace, SpecYAML: "not: valid: yaml: [[["}
	xmlData, _ := xml.MarshalIndent(meta, "  ", "  ")

	mock := &mockLibvirtClient{getMetadataValue: string(xmlData)}
	domain := libvirt.Domain{}

	inst, err := Load(mock, domain)
	if err == nil {
		t.Fatal("expected error from Load() with invalid YAML, got nil")
	}
	if inst != nil {
		t.Error("expected nil instance on YAML parse error")
	}
}

func TestDelete_Success(t *testing.T) {
	mock := &mockLibvirtClient{}
	domain := libvirt.Domain{}

	if err := Delete(mock, domain); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if mock.setMetadataCalls != 1 {
		t.Errorf("expected 1 DomainSetMetadata call, got %d", mock.setMetadataCalls)
	}
	if mock.lastSetFlags != 1 {
		t.Errorf("expected flags 1 (remove), got %d", mock.lastSetFlags)
	}
}

func TestDelete_Error(t *testing.T) {
	mock := &mockLibvirtClient{setMetadataError: errors.New("libvirt error")}
	domain := libvirt.Domain{}

	if err := Delete(mock, domain); err == nil {
		t.Fatal("expected error from Delete(), got nil")
	}
}

func TestExists_WithMetadata(t *testing.T) {
	mock := &mockLibvirtClient{getMetadataValue: "<metadata>some data</metadata>"}
	domain := libvirt.Domain{}

	if !Exists(mock, domain) {
		t.Error("expected Exists() to return true when metadata exists")
	}
}

func TestExists_WithoutMetadata(t *testing.T) {
	mock := &mockLibvirtClient{getMetadataError: errors.New("metadata not found")}
	domain := libvirt.Domain{}

	if Exists(mock, domain) {
		t.Error("expected Exists() to return false when metadata doesn't exist")
	}
}

func TestRoundTrip_StoreAndLoad(t *testing.T) {
	mock := &mockLibvirtClient{}
	domain := libvirt.Domain{}
	original := newTestInstance("roundtrip-vm")

	if err := Store(mock, domain, original); err != nil {
		t.Fatalf("Store() failed: %v", err)
	}
	mock.getMetadataValue = mock.lastSetMetadata

	loaded, err := Load(mock, domain)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Name != original.Name {
		t.Errorf("name mismatch: expected %q, got %q", original.Name, loaded.Name)
	}
	if loaded.Spec.NumCores != original.Spec.NumCores {
		t.Errorf("cores mismatch: expected %d, got %d", original.Spec.NumCores, loaded.Spec.NumCores)
	}
	if loaded.Spec.MemSize != original.Spec.MemSize {
		t.Errorf("memory mismatch: expected %d, got %d", original.Spec.MemSize, loaded.Spec.MemSize)
	}
}
