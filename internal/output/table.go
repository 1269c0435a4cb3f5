package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fleetd/fleetd/api/v1alpha1"
)

// TableFormatter formats resources as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatInstance formats a single Instance as a table row.
func (f *TableFormatter) FormatInstance(inst *v1alpha1.Instance) (string, error) {
	return f.FormatInstanceList([]*v1alpha1.Instance{inst})
}

// FormatInstanceList formats a list of Instances as a table.
func (f *TableFormatter) FormatInstanceList(insts []*v1alpha1.Instance) (string, error) {
	if len(insts) == 0 {
		return "No instances found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tSTATE\tIP\tVCPUs\tMEMORY\tAGE")
	}

	for _, inst := range insts {
		name := inst.Name
		state := string(inst.Status.State)
		if state == "" {
			state = "-"
		}

		ip := "-"
		if len(inst.Status.Addresses) > 0 {
			ip = inst.Status.Addresses[0].Address
		}

		vcpus := fmt.Sprintf("%d", inst.Spec.NumCores)
		memory := inst.Spec.MemSize.String()

		age := "-"
		if !inst.CreationTimestamp.IsZero() {
			age = formatAge(time.Since(inst.CreationTimestamp.Time))
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			name, state, ip, vcpus, memory, age)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())

	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	weeks := days / 7
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}

	years := days / 365
	if years > 0 {
		return fmt.Sprintf("%dy", years)
	}

	return fmt.Sprintf("%dd", days)
}
