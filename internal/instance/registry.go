// Package instance implements the daemon's instance registry: the three
// disjoint name containers (operative, deleted, preparing) and the
// find/select/react resolution pattern described in SPEC_FULL.md §4.1.
package instance

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fleetd/fleetd/api/v1alpha1"
	"github.com/fleetd/fleetd/internal/ferrors"
)

// Bucket identifies which of the three containers an instance name
// resolves to.
type Bucket int

const (
	BucketOperative Bucket = iota
	BucketDeleted
	BucketMissing
)

func (b Bucket) String() string {
	switch b {
	case BucketOperative:
		return "operative"
	case BucketDeleted:
		return "deleted"
	default:
		return "missing"
	}
}

// Trail is the result of resolving one instance name.
type Trail struct {
	Bucket   Bucket
	Instance *v1alpha1.Instance // nil when Bucket == BucketMissing
}

// Registry holds the daemon's in-memory instance containers. The zero
// value is not usable; construct with NewRegistry.
type Registry struct {
	mu sync.RWMutex

	operative map[string]*v1alpha1.Instance
	deleted   map[string]*v1alpha1.Instance
	preparing map[string]struct{}

	store *Store
	log   *logrus.Entry
}

// NewRegistry creates an empty registry backed by store for persistence.
// store may be nil, in which case mutations are in-memory only (used by
// tests).
func NewRegistry(store *Store) *Registry {
	return &Registry{
		operative: make(map[string]*v1alpha1.Instance),
		deleted:   make(map[string]*v1alpha1.Instance),
		preparing: make(map[string]struct{}),
		store:     store,
		log:       logrus.WithField("component", "instance-registry"),
	}
}

// Find resolves name to its current bucket. Cost is O(1).
func (r *Registry) Find(name string) Trail {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLocked(name)
}

func (r *Registry) findLocked(name string) Trail {
	if inst, ok := r.operative[name]; ok {
		return Trail{Bucket: BucketOperative, Instance: inst}
	}
	if inst, ok := r.deleted[name]; ok {
		return Trail{Bucket: BucketDeleted, Instance: inst}
	}
	return Trail{Bucket: BucketMissing}
}

// Reserve adds name to preparing, reserving it against concurrent
// create/launch requests. Fails if the name is already used in any of the
// three containers.
func (r *Registry) Reserve(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.operative[name]; ok {
		return ferrors.New(ferrors.KindInvalidHostname, fmt.Sprintf("instance %q already exists", name))
	}
	if _, ok := r.deleted[name]; ok {
		return ferrors.New(ferrors.KindInvalidHostname, fmt.Sprintf("instance %q already exists (deleted)", name))
	}
	if _, ok := r.preparing[name]; ok {
		return ferrors.New(ferrors.KindInvalidHostname, fmt.Sprintf("instance %q is already being prepared", name))
	}
	r.preparing[name] = struct{}{}
	return nil
}

// Release removes name from preparing without registering it. Used on
// rollback when the create/launch pipeline fails before commit.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.preparing, name)
}

// Commit moves a reserved name from preparing into operative and
// persists. Fails if any of inst's MAC addresses is already allocated to
// another instance.
func (r *Registry) Commit(inst *v1alpha1.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.preparing[inst.Name]; !ok {
		return ferrors.New(ferrors.KindInternal, fmt.Sprintf("instance %q was not reserved", inst.Name))
	}
	if conflict := r.macConflictLocked(inst); conflict != "" {
		return ferrors.New(ferrors.KindInvalidHostname, fmt.Sprintf("MAC address %s already allocated", conflict))
	}

	delete(r.preparing, inst.Name)
	r.operative[inst.Name] = inst
	return r.persistLocked()
}

func (r *Registry) macConflictLocked(candidate *v1alpha1.Instance) string {
	candidateMACs := make(map[string]struct{})
	for _, mac := range candidate.MACAddresses() {
		candidateMACs[mac] = struct{}{}
	}
	for _, bucket := range []map[string]*v1alpha1.Instance{r.operative, r.deleted} {
		for name, inst := range bucket {
			if name == candidate.Name {
				continue
			}
			for _, mac := range inst.MACAddresses() {
				if _, ok := candidateMACs[mac]; ok {
					return mac
				}
			}
		}
	}
	return ""
}

// AllocatedMACs returns every MAC address currently owned by an operative
// or deleted instance.
func (r *Registry) AllocatedMACs() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{})
	for _, bucket := range []map[string]*v1alpha1.Instance{r.operative, r.deleted} {
		for _, inst := range bucket {
			for _, mac := range inst.MACAddresses() {
				out[mac] = struct{}{}
			}
		}
	}
	return out
}

// Delete moves name from operative to deleted. Per the invariant in
// spec.md §3, a deleted instance's state must be off or stopped; if it
// isn't, the state is forced to stopped (the caller is responsible for
// having actually stopped the VM backend beforehand).
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.operative[name]
	if !ok {
		return ferrors.New(ferrors.KindInstanceDoesNotExist, fmt.Sprintf("instance %q does not exist", name))
	}
	delete(r.operative, name)
	inst.Status.Deleted = true
	if inst.Status.State != v1alpha1.StateOff && inst.Status.State != v1alpha1.StateStopped {
		r.log.WithField("instance", name).Warn("forcing state to stopped on delete")
		inst.Status.State = v1alpha1.StateStopped
	}
	r.deleted[name] = inst
	return r.persistLocked()
}

// Recover moves name from deleted back to operative with its spec and
// MACs intact.
func (r *Registry) Recover(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.deleted[name]
	if !ok {
		return ferrors.New(ferrors.KindInstanceDoesNotExist, fmt.Sprintf("instance %q is not deleted", name))
	}
	delete(r.deleted, name)
	inst.Status.Deleted = false
	r.operative[name] = inst
	return r.persistLocked()
}

// Purge permanently removes a deleted instance, freeing its name and MAC
// addresses for reuse.
func (r *Registry) Purge(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.deleted[name]; !ok {
		return ferrors.New(ferrors.KindInstanceDoesNotExist, fmt.Sprintf("instance %q is not deleted", name))
	}
	delete(r.deleted, name)
	return r.persistLocked()
}

// Mutate runs fn against the live operative instance named name and
// persists afterward. fn must not retain inst past its call.
func (r *Registry) Mutate(name string, fn func(inst *v1alpha1.Instance) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.operative[name]
	if !ok {
		return ferrors.New(ferrors.KindInstanceDoesNotExist, fmt.Sprintf("instance %q does not exist", name))
	}
	if err := fn(inst); err != nil {
		return err
	}
	return r.persistLocked()
}

func (r *Registry) persistLocked() error {
	if r.store == nil {
		return nil
	}
	return r.store.Save(r.operative, r.deleted)
}

// OperativeNames returns every operative instance name.
func (r *Registry) OperativeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.operative))
	for name := range r.operative {
		out = append(out, name)
	}
	return out
}

// DeletedNames returns every soft-deleted instance name.
func (r *Registry) DeletedNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.deleted))
	for name := range r.deleted {
		out = append(out, name)
	}
	return out
}

// Seed populates the registry from a freshly loaded Store.Load result.
// Only valid immediately after construction, before any caller has
// observed the registry.
func (r *Registry) Seed(operative, deleted map[string]*v1alpha1.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operative = operative
	r.deleted = deleted
}
