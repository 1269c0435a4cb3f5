package daemon

import (
	"errors"

	"github.com/fleetd/fleetd/internal/ferrors"
)

// kindOf extracts the wire-level error kind string from err, falling
// back to the generic "Internal" kind for anything not typed through
// internal/ferrors.
func kindOf(err error) string {
	var ferr *ferrors.Error
	if errors.As(err, &ferr) {
		return ferr.Kind.String()
	}
	return "Internal"
}
