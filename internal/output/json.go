package output

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fleetd/fleetd/api/v1alpha1"
)

// JSONFormatter formats resources as JSON.
type JSONFormatter struct{}

// FormatInstance formats a single Instance as JSON.
func (f *JSONFormatter) FormatInstance(inst *v1alpha1.Instance) (string, error) {
	v1alpha1.SetDefaultAPIVersion(inst)

	data, err := json.MarshalIndent(inst, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal instance to JSON: %w", err)
	}

	return string(data) + "\n", nil
}

// FormatInstanceList formats a list of Instances as JSON.
// Outputs as a JSON array.
func (f *JSONFormatter) FormatInstanceList(insts []*v1alpha1.Instance) (string, error) {
	if len(insts) == 0 {
		return "[]\n", nil
	}

	for _, inst := range insts {
		v1alpha1.SetDefaultAPIVersion(inst)
	}

	data, err := json.MarshalIndent(insts, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal instances to JSON: %w", err)
	}

	return string(data) + "\n", nil
}

// FormatInstanceListAsItems formats a list of Instances as a JSON object
// with an items array, mimicking a Kubernetes List format:
//
//	{
//	  "apiVersion": "fleetd.dev/v1alpha1",
//	  "kind": "InstanceList",
//	  "items": [...]
//	}
func (f *JSONFormatter) FormatInstanceListAsItems(insts []*v1alpha1.Instance) (string, error) {
	for _, inst := range insts {
		v1alpha1.SetDefaultAPIVersion(inst)
	}

	wrapper := map[string]interface{}{
		"apiVersion": v1alpha1.GroupName + "/" + v1alpha1.Version,
		"kind":       "InstanceList",
		"items":      insts,
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(wrapper); err != nil {
		return "", fmt.Errorf("failed to marshal instance list to JSON: %w", err)
	}

	return buf.String(), nil
}
