package mount

import (
	"context"
	"sync"

	"github.com/fleetd/fleetd/api/v1alpha1"
)

// classicHandler bridges a directory into the guest via an out-of-band
// protocol process (e.g. sshfs-style) spawned by the ClassicBridge
// collaborator. It is never backend-managed.
type classicHandler struct {
	mu       sync.Mutex
	instance string
	target   string
	spec     v1alpha1.VMMount
	bridge   ClassicBridge
	active   bool
}

func (h *classicHandler) Activate(ctx context.Context, progress chan<- string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active {
		return nil
	}
	if progress != nil {
		select {
		case progress <- "activating mount " + h.target:
		default:
		}
	}
	if err := h.bridge.StartBridge(ctx, h.instance, h.target, h.spec); err != nil {
		return err
	}
	h.active = true
	return nil
}

func (h *classicHandler) Deactivate(ctx context.Context, force bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return nil
	}
	if err := h.bridge.StopBridge(ctx, h.instance, h.target, force); err != nil {
		if !force {
			return err
		}
	}
	h.active = false
	return nil
}

func (h *classicHandler) IsActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

func (h *classicHandler) IsManagedByBackend() bool { return false }

func (h *classicHandler) Spec() v1alpha1.VMMount { return h.spec }

// nativeHandler delegates the share to a hypervisor-managed filesystem
// passthrough. The backend itself manages activation across VM restarts,
// so the registry treats it as backend-managed once created.
type nativeHandler struct {
	mu       sync.Mutex
	instance string
	target   string
	spec     v1alpha1.VMMount
	shares   NativeShares
	active   bool
}

func (h *nativeHandler) Activate(ctx context.Context, progress chan<- string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active {
		return nil
	}
	if progress != nil {
		select {
		case progress <- "activating native share " + h.target:
		default:
		}
	}
	if err := h.shares.CreateShare(ctx, h.instance, h.target, h.spec); err != nil {
		return err
	}
	h.active = true
	return nil
}

func (h *nativeHandler) Deactivate(ctx context.Context, force bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return nil
	}
	if err := h.shares.RemoveShare(ctx, h.instance, h.target, force); err != nil {
		if !force {
			return err
		}
	}
	h.active = false
	return nil
}

func (h *nativeHandler) IsActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// IsManagedByBackend reports true: the hypervisor keeps native shares
// attached across guest reboots, so the registry's stop/suspend sweep
// must not tear them down.
func (h *nativeHandler) IsManagedByBackend() bool { return true }

func (h *nativeHandler) Spec() v1alpha1.VMMount { return h.spec }
