package daemon

import (
	"context"

	"github.com/fleetd/fleetd/api/rpc"
	"github.com/fleetd/fleetd/internal/ferrors"
)

// handleGet implements "get": read one settings key.
func (d *Daemon) handleGet(ctx context.Context, req *rpc.Request) *rpc.Reply {
	if req.Get == nil {
		return &rpc.Reply{Status: &rpc.Status{OK: false, Kind: "InvalidSetting", Message: "missing get payload"}}
	}
	value, err := d.settings.Get(req.Get.Key)
	if err != nil {
		return &rpc.Reply{Status: statusFromError(err)}
	}
	return &rpc.Reply{Settings: map[string]string{req.Get.Key: value}, Status: &rpc.Status{OK: true}}
}

// handleSet implements "set": write one settings key.
func (d *Daemon) handleSet(ctx context.Context, req *rpc.Request) *rpc.Status {
	if req.Set == nil {
		return &rpc.Status{OK: false, Kind: "InvalidSetting", Message: "missing set payload"}
	}
	if err := d.settings.Set(req.Set.Key, req.Set.Value); err != nil {
		return statusFromError(err)
	}
	return &rpc.Status{OK: true}
}

// handleKeys implements "keys": every settings key the daemon currently
// recognizes; per-instance and per-snapshot keys appear as templates with
// "<instance name>"/"<snapshot name>" placeholders.
func (d *Daemon) handleKeys(ctx context.Context, req *rpc.Request) *rpc.Reply {
	return &rpc.Reply{Keys: d.settings.Keys(), Status: &rpc.Status{OK: true}}
}

// handleAuthenticate implements "authenticate": trade a passphrase for
// client-cert trust, per spec.md's registration-passphrase flow.
func (d *Daemon) handleAuthenticate(ctx context.Context, req *rpc.Request, certFingerprint string) *rpc.Status {
	if req.Authenticate == nil {
		return &rpc.Status{OK: false, Kind: "InvalidSetting", Message: "missing authenticate payload"}
	}
	if err := d.auth.Authenticate(req.Authenticate.Passphrase, certFingerprint); err != nil {
		return statusFromError(ferrors.Wrap(ferrors.KindUnauthenticated, "authenticating", err))
	}
	return &rpc.Status{OK: true}
}
