package instance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/fleetd/fleetd/api/v1alpha1"
)

// Store persists the registry to the daemon's instance record file, per
// SPEC_FULL.md §6 (`multipassd-vm-instances.json` in spec.md's original
// naming, one JSON object keyed by instance name).
type Store struct {
	path string
	log  *logrus.Entry
}

// NewStore creates a Store writing to path.
func NewStore(path string) *Store {
	return &Store{path: path, log: logrus.WithField("component", "instance-store")}
}

// Save writes the full instance map atomically: operative and deleted
// instances share one file, distinguished by each record's own
// Status.Deleted field.
func (s *Store) Save(operative, deleted map[string]*v1alpha1.Instance) error {
	all := make(map[string]*v1alpha1.Instance, len(operative)+len(deleted))
	for name, inst := range operative {
		all[name] = inst
	}
	for name, inst := range deleted {
		all[name] = inst
	}

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("instance store: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".instances-*.json.tmp")
	if err != nil {
		return fmt.Errorf("instance store: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("instance store: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("instance store: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("instance store: rename temp file: %w", err)
	}
	return nil
}

// ImageExistsChecker is consulted during Load to reject instances whose
// backing image is no longer present on disk.
type ImageExistsChecker interface {
	ImageExists(id string) bool
}

// Load reads the instance record file and partitions its contents into
// operative and deleted maps, applying the load-tolerance rules from
// spec.md §4.1:
//   - ghost entries (zero cores, empty ssh user, no mem/disk) are skipped
//     with a warning that logs the full rejected record;
//   - entries with no MAC addresses are rejected;
//   - a deleted instance whose state isn't off/stopped has its state
//     forced to stopped;
//   - entries whose image is missing on disk are rejected, if checker is
//     non-nil.
//
// A missing file is not an error: it yields two empty maps (first run).
func (s *Store) Load(checker ImageExistsChecker) (operative, deleted map[string]*v1alpha1.Instance, err error) {
	operative = make(map[string]*v1alpha1.Instance)
	deleted = make(map[string]*v1alpha1.Instance)

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return operative, deleted, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("instance store: read %s: %w", s.path, err)
	}

	var all map[string]*v1alpha1.Instance
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, nil, fmt.Errorf("instance store: unmarshal %s: %w", s.path, err)
	}

	for name, inst := range all {
		if inst == nil {
			continue
		}
		v1alpha1.SetDefaultAPIVersion(inst)
		if inst.Name == "" {
			inst.Name = name
		}

		if isGhost(inst) {
			s.log.WithField("record", inst).Warn("skipping ghost instance record on load")
			continue
		}
		if len(inst.MACAddresses()) == 0 {
			s.log.WithField("record", inst).Warn("rejecting instance record with no MAC address")
			continue
		}
		if inst.Status.Deleted && inst.Status.State != v1alpha1.StateOff && inst.Status.State != v1alpha1.StateStopped {
			s.log.WithField("instance", name).WithField("state", inst.Status.State).
				Warn("repairing deleted instance with inconsistent state: forcing stopped")
			inst.Status.State = v1alpha1.StateStopped
		}
		if checker != nil && inst.Spec.ImageID != "" && !checker.ImageExists(inst.Spec.ImageID) {
			s.log.WithField("instance", name).WithField("image", inst.Spec.ImageID).
				Warn("rejecting instance record: backing image missing on disk")
			continue
		}

		if inst.Status.Deleted {
			deleted[name] = inst
		} else {
			operative[name] = inst
		}
	}
	return operative, deleted, nil
}

// isGhost reports whether inst looks like an empty/corrupt record: no
// cores, no SSH user, no memory or disk configured.
func isGhost(inst *v1alpha1.Instance) bool {
	return inst.Spec.NumCores == 0 &&
		inst.Spec.SSHUsername == "" &&
		inst.Spec.MemSize == 0 &&
		inst.Spec.DiskSpace == 0
}
