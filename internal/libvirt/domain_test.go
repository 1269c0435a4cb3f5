package libvirt

import (
	"strings"
	"testing"

	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/internal/memsize"
)

func testInstance() *v1alpha1.Instance {
	return &v1alpha1.Instance{
		ObjectMeta: v1alpha1.ObjectMeta{Name: "web-1"},
		Spec: v1alpha1.InstanceSpec{
			NumCores:          2,
			MemSize:           4 * memsize.GiB,
			DiskSpace:         20 * memsize.GiB,
			DefaultMACAddress: "52:54:00:aa:bb:cc",
		},
	}
}

func TestGenerateDomainXMLBasics(t *testing.T) {
	inst := testInstance()
	xml, err := GenerateDomainXML(inst)
	if err != nil {
		t.Fatalf("GenerateDomainXML: %v", err)
	}

	for _, want := range []string{
		"<name>web-1</name>",
		"52:54:00:aa:bb:cc",
		BootVolumeName(inst),
		CloudInitVolumeName(inst),
		"<vcpu placement=\"static\">2</vcpu>",
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("domain XML missing %q\n%s", want, xml)
		}
	}
}

func TestGenerateDomainXMLExtraInterfaces(t *testing.T) {
	inst := testInstance()
	inst.Spec.ExtraInterfaces = []v1alpha1.ExtraInterface{
		{ID: BridgeInterfaceID, MAC: "52:54:00:11:22:33", AutoMode: true},
		{ID: "isolated", MAC: "52:54:00:44:55:66"},
	}

	xml, err := GenerateDomainXML(inst)
	if err != nil {
		t.Fatalf("GenerateDomainXML: %v", err)
	}

	if !strings.Contains(xml, "<source bridge=\"bridge0\"") {
		t.Errorf("expected bridge0 source, got:\n%s", xml)
	}
	if !strings.Contains(xml, "<source network=\"isolated\"") {
		t.Errorf("expected isolated network source, got:\n%s", xml)
	}
	if !strings.Contains(xml, "52:54:00:11:22:33") || !strings.Contains(xml, "52:54:00:44:55:66") {
		t.Errorf("expected both extra interface MACs present, got:\n%s", xml)
	}
}

func TestBootAndCloudInitVolumeNames(t *testing.T) {
	inst := testInstance()
	if got, want := BootVolumeName(inst), "web-1_boot.qcow2"; got != want {
		t.Errorf("BootVolumeName() = %q, want %q", got, want)
	}
	if got, want := CloudInitVolumeName(inst), "web-1_cloudinit.iso"; got != want {
		t.Errorf("CloudInitVolumeName() = %q, want %q", got, want)
	}
}
