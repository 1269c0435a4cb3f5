// Package mount implements the per-instance mount spec registry and the
// Classic/Native mount handler lifecycle described in SPEC_FULL.md §4.5.
package mount

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fleetd/fleetd/api/v1alpha1"
)

// ErrOutsideAllowedRoot is returned by ValidateTargetPath when a mount
// target resolves outside every allowed root.
var ErrOutsideAllowedRoot = errors.New("mount: target path escapes allowed roots")

// disallowedTargets blocks mounting directly over well-known system
// directories inside the guest.
var disallowedTargets = []string{
	"/", "/bin", "/boot", "/dev", "/etc", "/lib", "/proc", "/sbin", "/sys", "/usr",
}

// ValidateTargetPath rejects mount targets that resolve outside roots or
// land on a disallowed system directory.
func ValidateTargetPath(target string, roots []string) error {
	clean := filepath.Clean(target)
	if !filepath.IsAbs(clean) {
		return fmt.Errorf("%w: %q is not absolute", ErrOutsideAllowedRoot, target)
	}
	for _, d := range disallowedTargets {
		if clean == d {
			return fmt.Errorf("%w: %q is a protected system directory", ErrOutsideAllowedRoot, target)
		}
	}
	if len(roots) == 0 {
		return nil
	}
	for _, root := range roots {
		rel, err := filepath.Rel(filepath.Clean(root), clean)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..") {
			return nil
		}
	}
	return fmt.Errorf("%w: %q is outside %v", ErrOutsideAllowedRoot, target, roots)
}

// Handler is the polymorphic capability set a mount implementation must
// provide. Classic handlers spawn an out-of-band protocol bridge inside
// the guest; Native handlers delegate the share to the hypervisor backend.
type Handler interface {
	Activate(ctx context.Context, progress chan<- string) error
	Deactivate(ctx context.Context, force bool) error
	IsActive() bool
	IsManagedByBackend() bool
	Spec() v1alpha1.VMMount
}

// ClassicBridge spawns and tears down the out-of-band bridge process used
// by Classic mount handlers. A single implementation is injected per
// daemon (SSH-exec against the guest in production).
type ClassicBridge interface {
	StartBridge(ctx context.Context, instance, target string, spec v1alpha1.VMMount) error
	StopBridge(ctx context.Context, instance, target string, force bool) error
}

// NativeShares manages hypervisor-backed filesystem passthrough shares.
type NativeShares interface {
	CreateShare(ctx context.Context, instance, target string, spec v1alpha1.VMMount) error
	RemoveShare(ctx context.Context, instance, target string, force bool) error
}

// Registry owns the live mount handlers for one instance: target path to
// handler.
type Registry struct {
	mu       sync.Mutex
	instance string
	bridge   ClassicBridge
	native   NativeShares
	log      *logrus.Entry

	handlers map[string]Handler
}

// NewRegistry creates an empty mount registry for instance.
func NewRegistry(instance string, bridge ClassicBridge, native NativeShares) *Registry {
	return &Registry{
		instance: instance,
		bridge:   bridge,
		native:   native,
		log:      logrus.WithField("instance", instance),
		handlers: make(map[string]Handler),
	}
}

// Reconcile prunes handlers whose spec no longer matches desired (or whose
// target was removed) and creates handlers for new targets. It never
// activates or deactivates a handler itself — callers do that via
// ActivateAll/DeactivateAll around instance start/stop.
func (r *Registry) Reconcile(desired map[string]v1alpha1.VMMount) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pruned []string
	for target, h := range r.handlers {
		spec, ok := desired[target]
		if !ok || !specEqual(spec, h.Spec()) {
			pruned = append(pruned, target)
			delete(r.handlers, target)
		}
	}
	for target, spec := range desired {
		if _, ok := r.handlers[target]; ok {
			continue
		}
		r.handlers[target] = r.newHandler(target, spec)
	}
	return pruned
}

func specEqual(a, b v1alpha1.VMMount) bool {
	if a.SourcePath != b.SourcePath || a.Type != b.Type {
		return false
	}
	if len(a.UIDMappings) != len(b.UIDMappings) || len(a.GIDMappings) != len(b.GIDMappings) {
		return false
	}
	for i := range a.UIDMappings {
		if a.UIDMappings[i] != b.UIDMappings[i] {
			return false
		}
	}
	for i := range a.GIDMappings {
		if a.GIDMappings[i] != b.GIDMappings[i] {
			return false
		}
	}
	return true
}

func (r *Registry) newHandler(target string, spec v1alpha1.VMMount) Handler {
	switch spec.Type {
	case v1alpha1.MountTypeNative:
		return &nativeHandler{instance: r.instance, target: target, spec: spec, shares: r.native}
	default:
		return &classicHandler{instance: r.instance, target: target, spec: spec, bridge: r.bridge}
	}
}

// ActivateAll activates every handler not already active and not
// backend-managed. Used on instance start.
func (r *Registry) ActivateAll(ctx context.Context, progress chan<- string) error {
	r.mu.Lock()
	handlers := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		if h.IsManagedByBackend() || h.IsActive() {
			continue
		}
		if err := h.Activate(ctx, progress); err != nil {
			return fmt.Errorf("mount: activate %s: %w", h.Spec().SourcePath, err)
		}
	}
	return nil
}

// DeactivateAll force-deactivates every non-backend-managed handler. Used
// on instance stop or suspend.
func (r *Registry) DeactivateAll(ctx context.Context) error {
	r.mu.Lock()
	handlers := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	var firstErr error
	for _, h := range handlers {
		if h.IsManagedByBackend() {
			continue
		}
		if err := h.Deactivate(ctx, true); err != nil {
			r.log.WithError(err).Warn("mount: deactivate failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Get returns the handler for target, if any.
func (r *Registry) Get(target string) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[target]
	return h, ok
}

// Targets returns every currently registered mount target.
func (r *Registry) Targets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
