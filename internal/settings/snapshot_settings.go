package settings

import (
	"fmt"
	"strings"

	"github.com/fleetd/fleetd/internal/ferrors"
	"github.com/fleetd/fleetd/internal/snapshot"
)

// SnapshotManagerLookup resolves an instance name to its snapshot forest
// manager, if one exists.
type SnapshotManagerLookup interface {
	ManagerFor(instanceName string) (*snapshot.Manager, bool)
}

// SnapshotSettingsHandler implements the "<root>.<instance>.<snapshot>.
// {name|comment}" key family described in spec.md §4.7.
type SnapshotSettingsHandler struct {
	Root      string
	Snapshots SnapshotManagerLookup
}

// NewSnapshotSettingsHandler creates a handler rooted at root.
func NewSnapshotSettingsHandler(root string, snapshots SnapshotManagerLookup) *SnapshotSettingsHandler {
	return &SnapshotSettingsHandler{Root: root, Snapshots: snapshots}
}

// parseKey splits "<root>.<instance>.<snapshot>.<field>" into its parts.
func (h *SnapshotSettingsHandler) parseKey(key string) (instanceName, snapshotName, field string, ok bool) {
	prefix := h.Root + "."
	if !strings.HasPrefix(key, prefix) {
		return "", "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(key, prefix), ".")
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

var snapshotFields = []string{"name", "comment"}

func (h *SnapshotSettingsHandler) Keys() []string {
	return []string{
		fmt.Sprintf("%s.<instance name>.<snapshot name>.name", h.Root),
		fmt.Sprintf("%s.<instance name>.<snapshot name>.comment", h.Root),
	}
}

func (h *SnapshotSettingsHandler) Get(key string) (string, error) {
	instName, snapName, field, ok := h.parseKey(key)
	if !ok {
		return "", ErrUnrecognized
	}
	mgr, ok := h.Snapshots.ManagerFor(instName)
	if !ok {
		return "", ferrors.New(ferrors.KindInstanceDoesNotExist, fmt.Sprintf("instance %q does not exist", instName))
	}
	snap, err := mgr.GetSnapshot(snapName)
	if err != nil {
		return "", err
	}
	switch field {
	case "name":
		return snap.Name, nil
	case "comment":
		return snap.Comment, nil
	default:
		return "", ErrUnrecognized
	}
}

func (h *SnapshotSettingsHandler) Set(key, value string) error {
	instName, snapName, field, ok := h.parseKey(key)
	if !ok {
		return ErrUnrecognized
	}
	if _, known := indexOf(snapshotFields, field); !known {
		return ErrUnrecognized
	}
	mgr, ok := h.Snapshots.ManagerFor(instName)
	if !ok {
		return ferrors.New(ferrors.KindInstanceDoesNotExist, fmt.Sprintf("instance %q does not exist", instName))
	}

	switch field {
	case "name":
		if value == "" {
			return ferrors.New(ferrors.KindInvalidHostname, "snapshot name must not be empty")
		}
		return mgr.RenameSnapshot(snapName, value)
	case "comment":
		return mgr.SetComment(snapName, value)
	}
	return ErrUnrecognized
}
