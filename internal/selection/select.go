// Package selection implements the name-list resolution and reaction
// pattern used by every multi-instance RPC: turning a client-supplied
// list of names into operative/deleted/missing buckets and composing
// diagnostics, per SPEC_FULL.md §4's unchanged spec.md §4.1 selection
// design (list of names -> Report -> React).
package selection

import (
	"fmt"
	"strings"

	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/internal/ferrors"
	"github.com/fleetd/fleetd/internal/instance"
)

// DefaultGroup controls how an empty name list expands.
type DefaultGroup int

const (
	DefaultGroupNone DefaultGroup = iota
	DefaultGroupOperative
	DefaultGroupDeleted
	DefaultGroupAll
)

// Finder is the subset of instance.Registry selection depends on.
type Finder interface {
	Find(name string) instance.Trail
	OperativeNames() []string
	DeletedNames() []string
}

// Report buckets a resolved name list.
type Report struct {
	Operative []*v1alpha1.Instance
	Deleted   []*v1alpha1.Instance
	Missing   []string
}

// Select resolves names into a Report. An empty names list expands to
// group. Duplicate names in the input are de-duplicated in the output,
// keeping first-seen order.
func Select(f Finder, names []string, group DefaultGroup) Report {
	if len(names) == 0 {
		names = expand(f, group)
	}

	seen := make(map[string]struct{}, len(names))
	var report Report
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		trail := f.Find(name)
		switch trail.Bucket {
		case instance.BucketOperative:
			report.Operative = append(report.Operative, trail.Instance)
		case instance.BucketDeleted:
			report.Deleted = append(report.Deleted, trail.Instance)
		default:
			report.Missing = append(report.Missing, name)
		}
	}
	return report
}

func expand(f Finder, group DefaultGroup) []string {
	switch group {
	case DefaultGroupOperative:
		return f.OperativeNames()
	case DefaultGroupDeleted:
		return f.DeletedNames()
	case DefaultGroupAll:
		return append(f.OperativeNames(), f.DeletedNames()...)
	default:
		return nil
	}
}

// ReactionEntry pairs an error kind with a message template taking the
// instance name as its sole %s verb.
type ReactionEntry struct {
	Kind            ferrors.Kind
	MessageTemplate string
}

// Reaction describes how to respond when a selection contains deleted or
// missing names. A zero-value entry (empty MessageTemplate) means that
// bucket is tolerated silently.
type Reaction struct {
	Deleted ReactionEntry
	Missing ReactionEntry
}

// React applies reaction to report, returning an aggregated error
// composed of every triggered bucket's message, or nil if nothing in the
// report warrants a reaction.
func React(report Report, reaction Reaction) error {
	var msgs []string
	var kind ferrors.Kind
	var kindSet bool

	for _, inst := range report.Deleted {
		if reaction.Deleted.MessageTemplate == "" {
			continue
		}
		msgs = append(msgs, fmt.Sprintf(reaction.Deleted.MessageTemplate, inst.Name))
		if !kindSet {
			kind = reaction.Deleted.Kind
			kindSet = true
		}
	}
	for _, name := range report.Missing {
		if reaction.Missing.MessageTemplate == "" {
			continue
		}
		msgs = append(msgs, fmt.Sprintf(reaction.Missing.MessageTemplate, name))
		if !kindSet {
			kind = reaction.Missing.Kind
			kindSet = true
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return ferrors.New(kind, strings.Join(msgs, "; "))
}
