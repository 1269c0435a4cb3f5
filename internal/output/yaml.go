package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/fleetd/fleetd/api/v1alpha1"
)

// YAMLFormatter formats resources as YAML.
type YAMLFormatter struct{}

// FormatInstance formats a single Instance as YAML.
func (f *YAMLFormatter) FormatInstance(inst *v1alpha1.Instance) (string, error) {
	v1alpha1.SetDefaultAPIVersion(inst)

	data, err := yaml.Marshal(inst)
	if err != nil {
		return "", fmt.Errorf("failed to marshal instance to YAML: %w", err)
	}

	return string(data), nil
}

// FormatInstanceList formats a list of Instances as YAML.
// Outputs as a YAML stream (multiple documents separated by ---).
func (f *YAMLFormatter) FormatInstanceList(insts []*v1alpha1.Instance) (string, error) {
	if len(insts) == 0 {
		return "", nil
	}

	var buf bytes.Buffer

	for i, inst := range insts {
		v1alpha1.SetDefaultAPIVersion(inst)

		data, err := yaml.Marshal(inst)
		if err != nil {
			return "", fmt.Errorf("failed to marshal instance %s to YAML: %w", inst.Name, err)
		}

		if i > 0 {
			buf.WriteString("---\n")
		}

		buf.Write(data)
	}

	return buf.String(), nil
}
