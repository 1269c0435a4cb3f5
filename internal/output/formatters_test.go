package output

import (
	"strings"
	"testing"
	"time"

	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/internal/memsize"
)

// createTestInstance creates an Instance for testing.
func createTestInstance(name string, state v1alpha1.InstanceState, ip string) *v1alpha1.Instance {
	inst := &v1alpha1.Instance{
		TypeMeta: v1alpha1.TypeMeta{
			APIVersion: "fleetd.dev/v1alpha1",
			Kind:       "Instance",
		},
		ObjectMeta: v1alpha1.ObjectMeta{
			Name: name,
			CreationTimestamp: v1alpha1.Time{
				Time: time.Now().Add(-5 * time.Minute),
			},
		},
		Spec: v1alpha1.InstanceSpec{
			NumCores: 2,
			MemSize:  4 * memsize.GiB,
		},
		Status: v1alpha1.InstanceStatus{
			State: state,
		},
	}

	if ip != "" {
		inst.Status.Addresses = []v1alpha1.VMAddress{
			{
				Type:    "InternalIP",
				Address: ip,
			},
		}
	}

	return inst
}

func TestTableFormatter_FormatInstance(t *testing.T) {
	tests := []struct {
		name      string
		inst      *v1alpha1.Instance
		wantName  string
		wantState string
	}{
		{
			name:      "running instance with IP",
			inst:      createTestInstance("test-vm", v1alpha1.StateRunning, "10.0.0.1"),
			wantName:  "test-vm",
			wantState: "running",
		},
		{
			name:      "stopped instance without IP",
			inst:      createTestInstance("stopped-vm", v1alpha1.StateStopped, ""),
			wantName:  "stopped-vm",
			wantState: "stopped",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TableFormatter{}
			output, err := formatter.FormatInstance(tt.inst)
			if err != nil {
				t.Fatalf("FormatInstance() error = %v", err)
			}

			if !strings.Contains(output, tt.wantName) {
				t.Errorf("output missing instance name %q: %s", tt.wantName, output)
			}
			if !strings.Contains(output, tt.wantState) {
				t.Errorf("output missing state %q: %s", tt.wantState, output)
			}
		})
	}
}

func TestTableFormatter_FormatInstanceList(t *testing.T) {
	tests := []struct {
		name       string
		insts      []*v1alpha1.Instance
		noHeaders  bool
		wantCount  int
		wantHeader bool
	}{
		{
			name:      "empty list",
			insts:     []*v1alpha1.Instance{},
			wantCount: 0,
		},
		{
			name: "single instance",
			insts: []*v1alpha1.Instance{
				createTestInstance("vm1", v1alpha1.StateRunning, "10.0.0.1"),
			},
			wantCount:  1,
			wantHeader: true,
		},
		{
			name: "multiple instances",
			insts: []*v1alpha1.Instance{
				createTestInstance("vm1", v1alpha1.StateRunning, "10.0.0.1"),
				createTestInstance("vm2", v1alpha1.StateStopped, ""),
				createTestInstance("vm3", v1alpha1.StateStarting, ""),
			},
			wantCount:  3,
			wantHeader: true,
		},
		{
			name: "no headers",
			insts: []*v1alpha1.Instance{
				createTestInstance("vm1", v1alpha1.StateRunning, "10.0.0.1"),
			},
			noHeaders:  true,
			wantCount:  1,
			wantHeader: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TableFormatter{NoHeaders: tt.noHeaders}
			output, err := formatter.FormatInstanceList(tt.insts)
			if err != nil {
				t.Fatalf("FormatInstanceList() error = %v", err)
			}

			if tt.wantCount == 0 {
				if !strings.Contains(output, "No instances found") {
					t.Errorf("expected 'No instances found' message, got: %s", output)
				}
				return
			}

			hasHeader := strings.Contains(output, "NAME") && strings.Contains(output, "STATE")
			if tt.wantHeader && !hasHeader {
				t.Errorf("expected header in output, got: %s", output)
			}
			if !tt.wantHeader && hasHeader {
				t.Errorf("expected no header in output, got: %s", output)
			}

			lines := strings.Split(strings.TrimSpace(output), "\n")
			expectedLines := tt.wantCount
			if tt.wantHeader {
				expectedLines++
			}
			if len(lines) != expectedLines {
				t.Errorf("expected %d lines, got %d: %s", expectedLines, len(lines), output)
			}
		})
	}
}

func TestYAMLFormatter_FormatInstance(t *testing.T) {
	inst := createTestInstance("test-vm", v1alpha1.StateRunning, "10.0.0.1")

	formatter := &YAMLFormatter{}
	output, err := formatter.FormatInstance(inst)
	if err != nil {
		t.Fatalf("FormatInstance() error = %v", err)
	}

	requiredFields := []string{
		"apiVersion:",
		"kind:",
		"metadata:",
		"name: test-vm",
		"spec:",
		"numCores: 2",
		"status:",
		"state: running",
	}

	for _, field := range requiredFields {
		if !strings.Contains(output, field) {
			t.Errorf("output missing required field %q: %s", field, output)
		}
	}
}

func TestYAMLFormatter_FormatInstanceList(t *testing.T) {
	tests := []struct {
		name      string
		insts     []*v1alpha1.Instance
		wantEmpty bool
	}{
		{
			name:      "empty list",
			insts:     []*v1alpha1.Instance{},
			wantEmpty: true,
		},
		{
			name: "single instance",
			insts: []*v1alpha1.Instance{
				createTestInstance("vm1", v1alpha1.StateRunning, "10.0.0.1"),
			},
		},
		{
			name: "multiple instances",
			insts: []*v1alpha1.Instance{
				createTestInstance("vm1", v1alpha1.StateRunning, "10.0.0.1"),
				createTestInstance("vm2", v1alpha1.StateStopped, ""),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &YAMLFormatter{}
			output, err := formatter.FormatInstanceList(tt.insts)
			if err != nil {
				t.Fatalf("FormatInstanceList() error = %v", err)
			}

			if tt.wantEmpty {
				if output != "" {
					t.Errorf("expected empty output, got: %s", output)
				}
				return
			}

			if len(tt.insts) > 1 {
				if !strings.Contains(output, "---") {
					t.Errorf("expected document separator '---' in output")
				}
			}

			for _, inst := range tt.insts {
				if !strings.Contains(output, inst.Name) {
					t.Errorf("output missing instance name %q", inst.Name)
				}
			}
		})
	}
}

func TestJSONFormatter_FormatInstance(t *testing.T) {
	inst := createTestInstance("test-vm", v1alpha1.StateRunning, "10.0.0.1")

	formatter := &JSONFormatter{}
	output, err := formatter.FormatInstance(inst)
	if err != nil {
		t.Fatalf("FormatInstance() error = %v", err)
	}

	requiredFields := []string{
		`"apiVersion"`,
		`"kind"`,
		`"metadata"`,
		`"name": "test-vm"`,
		`"spec"`,
		`"numCores": 2`,
		`"status"`,
		`"state": "running"`,
	}

	for _, field := range requiredFields {
		if !strings.Contains(output, field) {
			t.Errorf("output missing required field %q: %s", field, output)
		}
	}
}

func TestJSONFormatter_FormatInstanceList(t *testing.T) {
	tests := []struct {
		name      string
		insts     []*v1alpha1.Instance
		wantEmpty bool
	}{
		{
			name:      "empty list",
			insts:     []*v1alpha1.Instance{},
			wantEmpty: true,
		},
		{
			name: "single instance",
			insts: []*v1alpha1.Instance{
				createTestInstance("vm1", v1alpha1.StateRunning, "10.0.0.1"),
			},
		},
		{
			name: "multiple instances",
			insts: []*v1alpha1.Instance{
				createTestInstance("vm1", v1alpha1.StateRunning, "10.0.0.1"),
				createTestInstance("vm2", v1alpha1.StateStopped, ""),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &JSONFormatter{}
			output, err := formatter.FormatInstanceList(tt.insts)
			if err != nil {
				t.Fatalf("FormatInstanceList() error = %v", err)
			}

			if tt.wantEmpty {
				expected := "[]\n"
				if output != expected {
					t.Errorf("expected %q, got: %q", expected, output)
				}
				return
			}

			if !strings.HasPrefix(strings.TrimSpace(output), "[") {
				t.Errorf("expected output to start with '[': %s", output)
			}

			for _, inst := range tt.insts {
				if !strings.Contains(output, inst.Name) {
					t.Errorf("output missing instance name %q", inst.Name)
				}
			}
		})
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{
			name: "table format",
			opts: Options{Format: FormatTable},
		},
		{
			name: "yaml format",
			opts: Options{Format: FormatYAML},
		},
		{
			name: "json format",
			opts: Options{Format: FormatJSON},
		},
		{
			name:    "invalid format",
			opts:    Options{Format: "invalid"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter, err := NewFormatter(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFormatter() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && formatter == nil {
				t.Error("NewFormatter() returned nil formatter")
			}
		})
	}
}

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		wantErr bool
	}{
		{
			name:   "valid table",
			format: "table",
		},
		{
			name:   "valid yaml",
			format: "yaml",
		},
		{
			name:   "valid json",
			format: "json",
		},
		{
			name:    "invalid format",
			format:  "xml",
			wantErr: true,
		},
		{
			name:    "empty format",
			format:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFormat(tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"5 seconds", 5 * time.Second, "5s"},
		{"30 seconds", 30 * time.Second, "30s"},
		{"2 minutes", 2 * time.Minute, "2m"},
		{"90 seconds", 90 * time.Second, "1m"},
		{"2 hours", 2 * time.Hour, "2h"},
		{"90 minutes", 90 * time.Minute, "1h"},
		{"2 days", 48 * time.Hour, "2d"},
		{"2 weeks", 14 * 24 * time.Hour, "2w"},
		{"50 days", 50 * 24 * time.Hour, "7w"},
		{"60 days", 60 * 24 * time.Hour, "60d"},
		{"400 days", 400 * 24 * time.Hour, "1y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatAge(tt.duration)
			if got != tt.want {
				t.Errorf("formatAge(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}
