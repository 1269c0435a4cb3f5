// Package settings implements the daemon's keyed settings facade: a
// registry that multiplexes get/set/list/keys across independently
// registered Handler implementations, per SPEC_FULL.md §4.7.
package settings

import (
	"errors"
	"strconv"

	"github.com/fleetd/fleetd/internal/ferrors"
)

// ErrUnrecognized is returned by a Handler when it does not own key.
var ErrUnrecognized = errors.New("settings: unrecognized key")

// Handler owns a namespace of settings keys.
type Handler interface {
	// Keys returns every key this handler recognizes right now (the set
	// may depend on current daemon state, e.g. existing instance names).
	Keys() []string

	// Get returns the current value for key, or ErrUnrecognized if this
	// handler doesn't own key.
	Get(key string) (string, error)

	// Set applies value to key. Returns ErrUnrecognized if this handler
	// doesn't own key; any other error is surfaced immediately without
	// trying further handlers.
	Set(key, value string) error
}

// Registry dispatches settings operations across registered handlers in
// registration order.
type Registry struct {
	handlers []Handler
}

// NewRegistry creates an empty settings registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a handler to the registry.
func (r *Registry) Register(h Handler) {
	r.handlers = append(r.handlers, h)
}

// Keys returns the union of every handler's recognized keys.
func (r *Registry) Keys() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, h := range r.handlers {
		for _, k := range h.Keys() {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				out = append(out, k)
			}
		}
	}
	return out
}

// Get returns the first handler's successful response for key, or
// *ferrors.Error{Kind: KindUnrecognizedSetting} if every handler rejects
// it as unrecognized.
func (r *Registry) Get(key string) (string, error) {
	for _, h := range r.handlers {
		val, err := h.Get(key)
		if err == nil {
			return val, nil
		}
		if !errors.Is(err, ErrUnrecognized) {
			return "", err
		}
	}
	return "", ferrors.New(ferrors.KindUnrecognizedSetting, "unrecognized settings key: "+key)
}

// Set tries each handler in turn, succeeding on the first that
// recognizes key. Any non-ErrUnrecognized error from a handler surfaces
// immediately (invalid value, unsupported, state conflict).
func (r *Registry) Set(key, value string) error {
	for _, h := range r.handlers {
		err := h.Set(key, value)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrUnrecognized) {
			return err
		}
	}
	return ferrors.New(ferrors.KindUnrecognizedSetting, "unrecognized settings key: "+key)
}

// GetAsBool performs best-effort coercion of key's current value to
// bool, falling back to false on parse failure.
func (r *Registry) GetAsBool(key string) (bool, error) {
	raw, err := r.Get(key)
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, nil
	}
	return v, nil
}

// GetAsInt performs best-effort coercion of key's current value to int,
// falling back to 0 on parse failure.
func (r *Registry) GetAsInt(key string) (int, error) {
	raw, err := r.Get(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, nil
	}
	return v, nil
}

// GetAsString is Get with the UnsupportedSettingValueType contract:
// strings never fail coercion.
func (r *Registry) GetAsString(key string) (string, error) {
	return r.Get(key)
}
