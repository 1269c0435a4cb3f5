package daemon

import (
	"github.com/fleetd/fleetd/api/rpc"
)

// HandleCall implements rpc.Handler: receive the call's initial request,
// authorize it, and dispatch on its Method.
func (d *Daemon) HandleCall(stream *rpc.BidiStream[rpc.Request, rpc.Reply]) error {
	req, err := stream.Recv()
	if err != nil {
		return err
	}

	ctx := stream.Context()
	isUnixSocket, fingerprint := peerIdentity(ctx)
	if err := d.auth.Authorize(req.Method, isUnixSocket, fingerprint); err != nil {
		return stream.Send(&rpc.Reply{Status: statusFromError(err)})
	}

	send := func(r *rpc.Reply) error { return stream.Send(r) }

	switch req.Method {
	case rpc.MethodPing:
		return stream.Send(d.handlePing(ctx, req))
	case rpc.MethodAuthenticate:
		return stream.Send(&rpc.Reply{Status: d.handleAuthenticate(ctx, req, fingerprint)})

	case rpc.MethodCreate:
		return stream.Send(&rpc.Reply{Status: d.handleCreate(ctx, req, send)})
	case rpc.MethodLaunch:
		return stream.Send(&rpc.Reply{Status: d.handleLaunch(ctx, req, send)})
	case rpc.MethodClone:
		return stream.Send(&rpc.Reply{Status: d.handleClone(ctx, req)})

	case rpc.MethodStart:
		return stream.Send(&rpc.Reply{Status: d.handleStart(ctx, req, send)})
	case rpc.MethodStop:
		return stream.Send(&rpc.Reply{Status: d.handleStop(ctx, req)})
	case rpc.MethodSuspend:
		return stream.Send(&rpc.Reply{Status: d.handleSuspend(ctx, req)})
	case rpc.MethodRestart:
		return stream.Send(&rpc.Reply{Status: d.handleRestart(ctx, req)})
	case rpc.MethodDelete:
		return stream.Send(&rpc.Reply{Status: d.handleDelete(ctx, req)})
	case rpc.MethodPurge:
		return stream.Send(&rpc.Reply{Status: d.handlePurge(ctx, req)})
	case rpc.MethodRecover:
		return stream.Send(&rpc.Reply{Status: d.handleRecover(ctx, req)})

	case rpc.MethodMount:
		return stream.Send(&rpc.Reply{Status: d.handleMount(ctx, req)})
	case rpc.MethodUmount:
		return stream.Send(&rpc.Reply{Status: d.handleUmount(ctx, req)})

	case rpc.MethodList:
		return stream.Send(d.handleList(ctx, req))
	case rpc.MethodFind:
		return stream.Send(d.handleFind(ctx, req))
	case rpc.MethodInfo:
		return stream.Send(d.handleInfo(ctx, req))
	case rpc.MethodSSHInfo:
		return stream.Send(d.handleSSHInfo(ctx, req))
	case rpc.MethodNetworks:
		return stream.Send(d.handleNetworks(ctx, req))
	case rpc.MethodVersion, rpc.MethodDaemonInfo:
		return stream.Send(d.handleVersion(ctx, req))

	case rpc.MethodGet:
		return stream.Send(d.handleGet(ctx, req))
	case rpc.MethodSet:
		return stream.Send(&rpc.Reply{Status: d.handleSet(ctx, req)})
	case rpc.MethodKeys:
		return stream.Send(d.handleKeys(ctx, req))

	case rpc.MethodSnapshot:
		return stream.Send(&rpc.Reply{Status: d.handleSnapshot(ctx, req)})
	case rpc.MethodRestore:
		return stream.Send(&rpc.Reply{Status: d.handleRestore(ctx, req, stream)})

	default:
		return stream.Send(&rpc.Reply{Status: &rpc.Status{
			OK: false, Kind: "InvalidSetting", Message: "unrecognized method " + req.Method,
		}})
	}
}

var _ rpc.Handler = (*Daemon)(nil)
