package cloudinit

import (
	"strings"
	"testing"

	"github.com/fleetd/fleetd/api/v1alpha1"
)

func testInstance() *v1alpha1.Instance {
	return &v1alpha1.Instance{
		ObjectMeta: v1alpha1.ObjectMeta{Name: "web-1"},
		Spec: v1alpha1.InstanceSpec{
			DefaultMACAddress: "52:54:00:aa:bb:cc",
			ExtraInterfaces: []v1alpha1.ExtraInterface{
				{ID: "bridge0", MAC: "52:54:00:11:22:33"},
			},
			Metadata: map[string]interface{}{
				"sshAuthorizedKeys": []interface{}{"ssh-ed25519 AAAA... user@host"},
			},
		},
	}
}

func TestGenerateUserData(t *testing.T) {
	userData, err := GenerateUserData(testInstance())
	if err != nil {
		t.Fatalf("GenerateUserData: %v", err)
	}
	if !strings.HasPrefix(userData, "#cloud-config\n") {
		t.Fatalf("missing cloud-config header: %q", userData)
	}
	if !strings.Contains(userData, "ssh-ed25519 AAAA") {
		t.Errorf("expected SSH key present, got:\n%s", userData)
	}
	if !strings.Contains(userData, "hostname: web-1") {
		t.Errorf("expected hostname, got:\n%s", userData)
	}
}

func TestGenerateUserDataNilInstance(t *testing.T) {
	if _, err := GenerateUserData(nil); err == nil {
		t.Fatal("expected error for nil instance")
	}
}

func TestGenerateMetaData(t *testing.T) {
	metaData, err := GenerateMetaData(testInstance())
	if err != nil {
		t.Fatalf("GenerateMetaData: %v", err)
	}
	if !strings.Contains(metaData, "instance-id: web-1") {
		t.Errorf("expected instance-id, got:\n%s", metaData)
	}
}

func TestGenerateNetworkConfig(t *testing.T) {
	netConfig, err := GenerateNetworkConfig(testInstance())
	if err != nil {
		t.Fatalf("GenerateNetworkConfig: %v", err)
	}
	for _, want := range []string{"52:54:00:aa:bb:cc", "52:54:00:11:22:33", "dhcp4: true"} {
		if !strings.Contains(netConfig, want) {
			t.Errorf("network-config missing %q, got:\n%s", want, netConfig)
		}
	}
}

func TestGenerateNetworkConfigNoInterfaces(t *testing.T) {
	inst := &v1alpha1.Instance{ObjectMeta: v1alpha1.ObjectMeta{Name: "bare"}}
	if _, err := GenerateNetworkConfig(inst); err == nil {
		t.Fatal("expected error for instance with no interfaces")
	}
}
