package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
)

// peerIdentity reports whether ctx's transport is a unix socket and the
// hex SHA-256 fingerprint of its peer's leaf TLS certificate, the two
// inputs rpcauth.Gate.Authorize needs. Callers over a unix socket never
// present a client certificate, so fingerprint is empty in that case;
// Gate's bootstrap path keys off isUnixSocket instead.
func peerIdentity(ctx context.Context) (isUnixSocket bool, fingerprint string) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return false, ""
	}
	if p.Addr != nil && p.Addr.Network() == "unix" {
		isUnixSocket = true
	}
	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok || len(tlsInfo.State.PeerCertificates) == 0 {
		return isUnixSocket, ""
	}
	sum := sha256.Sum256(tlsInfo.State.PeerCertificates[0].Raw)
	return isUnixSocket, hex.EncodeToString(sum[:])
}
