package cloudinit

import (
	"bytes"
	"io"
	"testing"

	"github.com/kdomanski/iso9660"

	"github.com/fleetd/fleetd/api/v1alpha1"
)

func readISOFile(t *testing.T, isoBytes []byte, name string) string {
	t.Helper()
	img, err := iso9660.OpenImage(bytes.NewReader(isoBytes))
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	root, err := img.RootDir()
	if err != nil {
		t.Fatalf("RootDir: %v", err)
	}
	children, err := root.GetChildren()
	if err != nil {
		t.Fatalf("GetChildren: %v", err)
	}
	for _, c := range children {
		if c.Name() == name {
			data, err := io.ReadAll(c.Reader())
			if err != nil {
				t.Fatalf("reading %s: %v", name, err)
			}
			return string(data)
		}
	}
	t.Fatalf("ISO missing file %q", name)
	return ""
}

func TestGenerateISOContainsAllThreeFiles(t *testing.T) {
	inst := testInstance()
	isoBytes, err := GenerateISO(inst)
	if err != nil {
		t.Fatalf("GenerateISO: %v", err)
	}

	userData := readISOFile(t, isoBytes, "user-data")
	if !bytes.HasPrefix([]byte(userData), []byte("#cloud-config")) {
		t.Errorf("user-data missing header: %q", userData)
	}

	metaData := readISOFile(t, isoBytes, "meta-data")
	if !bytes.Contains([]byte(metaData), []byte("web-1")) {
		t.Errorf("meta-data missing instance name: %q", metaData)
	}

	networkConfig := readISOFile(t, isoBytes, "network-config")
	if !bytes.Contains([]byte(networkConfig), []byte("dhcp4")) {
		t.Errorf("network-config missing dhcp4: %q", networkConfig)
	}
}

func TestGenerateISONilInstance(t *testing.T) {
	if _, err := GenerateISO(nil); err == nil {
		t.Fatal("expected error for nil instance")
	}
}

func TestGenerateISORequiresInterfaces(t *testing.T) {
	inst := &v1alpha1.Instance{ObjectMeta: v1alpha1.ObjectMeta{Name: "bare"}}
	if _, err := GenerateISO(inst); err == nil {
		t.Fatal("expected error when instance has no network interfaces")
	}
}
