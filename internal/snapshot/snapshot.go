// Package snapshot implements the per-instance snapshot forest: take,
// delete, rename, restore and topological listing, per SPEC_FULL.md §4.4.
package snapshot

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/internal/ferrors"
)

// State mirrors the captured VM state at snapshot time, informational
// only (restoring a snapshot never revives a captured running state).
type State string

// Snapshot is one node in an instance's snapshot forest.
type Snapshot struct {
	Name             string
	Parent           string // "" for a root snapshot
	Comment          string
	CreationTimestamp time.Time
	CapturedSpec     v1alpha1.InstanceSpec
	CapturedState    State
	id               string
}

// Manager owns the snapshot forest for a single instance.
type Manager struct {
	mu       sync.Mutex
	instance string
	byName   map[string]*Snapshot
	head     string // name of the most recently taken snapshot, "" if none
}

// NewManager creates an empty snapshot manager for instance.
func NewManager(instance string) *Manager {
	return &Manager{instance: instance, byName: make(map[string]*Snapshot)}
}

// TakeSnapshot captures spec under name (auto-assigned "snapshotN" if
// empty) with comment. New snapshots attach to the current head; if no
// snapshot has been taken yet, the new one is a tree root.
func (m *Manager) TakeSnapshot(spec v1alpha1.InstanceSpec, name, comment string, state State) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "" {
		name = m.nextAutoNameLocked()
	} else if _, exists := m.byName[name]; exists {
		return nil, ferrors.New(ferrors.KindSnapshotNameTaken, fmt.Sprintf("snapshot %q already exists", name))
	}

	snap := &Snapshot{
		Name:              name,
		Parent:            m.head,
		Comment:           comment,
		CreationTimestamp: time.Now(),
		CapturedSpec:      *spec.DeepCopy(),
		CapturedState:     state,
		id:                uuid.New().String(),
	}
	m.byName[name] = snap
	m.head = name
	return snap, nil
}

// nextAutoNameLocked returns "snapshotN" where N is one more than the
// highest existing numeric "snapshotN" name for this instance.
func (m *Manager) nextAutoNameLocked() string {
	max := 0
	for existing := range m.byName {
		if !strings.HasPrefix(existing, "snapshot") {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(existing, "snapshot")); err == nil && n > max {
			max = n
		}
	}
	return "snapshot" + strconv.Itoa(max+1)
}

// GetSnapshot returns the named snapshot, or *ferrors.Error{NoSuchSnapshot}.
func (m *Manager) GetSnapshot(name string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.byName[name]
	if !ok {
		return nil, ferrors.New(ferrors.KindNoSuchSnapshot, fmt.Sprintf("no such snapshot %q", name))
	}
	return snap, nil
}

// DeleteSnapshot removes name from the forest. Its children re-parent to
// its own parent.
func (m *Manager) DeleteSnapshot(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.byName[name]
	if !ok {
		return ferrors.New(ferrors.KindNoSuchSnapshot, fmt.Sprintf("no such snapshot %q", name))
	}
	for _, s := range m.byName {
		if s.Parent == name {
			s.Parent = target.Parent
		}
	}
	delete(m.byName, name)
	if m.head == name {
		m.head = target.Parent
	}
	return nil
}

// RenameSnapshot renames old to new. Fails if new is empty or already
// taken; no other check is made on the new name.
func (m *Manager) RenameSnapshot(old, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.byName[old]
	if !ok {
		return ferrors.New(ferrors.KindNoSuchSnapshot, fmt.Sprintf("no such snapshot %q", old))
	}
	if newName == "" {
		return ferrors.New(ferrors.KindInvalidHostname, "snapshot name must not be empty")
	}
	if _, exists := m.byName[newName]; exists {
		return ferrors.New(ferrors.KindSnapshotNameTaken, fmt.Sprintf("snapshot %q already exists", newName))
	}

	delete(m.byName, old)
	snap.Name = newName
	m.byName[newName] = snap

	for _, s := range m.byName {
		if s.Parent == old {
			s.Parent = newName
		}
	}
	if m.head == old {
		m.head = newName
	}
	return nil
}

// SetComment updates name's comment in place.
func (m *Manager) SetComment(name, comment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.byName[name]
	if !ok {
		return ferrors.New(ferrors.KindNoSuchSnapshot, fmt.Sprintf("no such snapshot %q", name))
	}
	snap.Comment = comment
	return nil
}

// RestoreResult reports the effect of a non-destructive restore: the
// automatic pre-restore snapshot taken before applying name's spec.
type RestoreResult struct {
	AutoSnapshot *Snapshot // nil for a destructive restore
	RestoredSpec v1alpha1.InstanceSpec
}

// RestoreSnapshot applies name's captured spec. If destructive is false,
// an automatically named ("snapshotN") snapshot with the comment
// "Before restoring <name>" is taken first from currentSpec and reported
// back to the caller.
func (m *Manager) RestoreSnapshot(name string, currentSpec v1alpha1.InstanceSpec, destructive bool) (*RestoreResult, error) {
	m.mu.Lock()
	target, ok := m.byName[name]
	if !ok {
		m.mu.Unlock()
		return nil, ferrors.New(ferrors.KindNoSuchSnapshot, fmt.Sprintf("no such snapshot %q", name))
	}
	restored := *target.CapturedSpec.DeepCopy()
	m.mu.Unlock()

	result := &RestoreResult{RestoredSpec: restored}
	if !destructive {
		auto, err := m.TakeSnapshot(currentSpec, "", fmt.Sprintf("Before restoring %s", name), "")
		if err != nil {
			return nil, fmt.Errorf("snapshot: auto pre-restore snapshot: %w", err)
		}
		result.AutoSnapshot = auto
	}
	return result, nil
}

// ViewSnapshots returns every snapshot in topological order (parents
// before children).
func (m *Manager) ViewSnapshots() []*Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	children := make(map[string][]*Snapshot)
	var roots []*Snapshot
	for _, s := range m.byName {
		if s.Parent == "" {
			roots = append(roots, s)
		} else {
			children[s.Parent] = append(children[s.Parent], s)
		}
	}
	sortByName := func(ss []*Snapshot) {
		sort.Slice(ss, func(i, j int) bool { return ss[i].Name < ss[j].Name })
	}
	sortByName(roots)
	for k := range children {
		sortByName(children[k])
	}

	var out []*Snapshot
	var walk func(*Snapshot)
	walk = func(s *Snapshot) {
		out = append(out, s)
		for _, c := range children[s.Name] {
			walk(c)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return out
}

// PruneMounts compares the restored spec's mounts against previousMounts
// and returns (removed, added) target paths: targets that changed or
// disappeared are removed, new targets are added. Callers feed this into
// the mount registry's Reconcile.
func PruneMounts(previousMounts, restoredMounts map[string]v1alpha1.VMMount) (removed, added []string) {
	for target, prev := range previousMounts {
		if next, ok := restoredMounts[target]; !ok || !reflect.DeepEqual(prev, next) {
			removed = append(removed, target)
		}
	}
	for target := range restoredMounts {
		if _, ok := previousMounts[target]; !ok {
			added = append(added, target)
		}
	}
	return removed, added
}
