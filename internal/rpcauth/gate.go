package rpcauth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"sync"

	"golang.org/x/crypto/scrypt"

	"github.com/fleetd/fleetd/internal/ferrors"
)

// PingMethod is the RPC method name that bypasses normal dispatch: it
// only ever reports whether the caller is already authenticated, per
// spec.md §4.9.
const PingMethod = "ping"

// AuthenticateMethod is the RPC that exchanges a passphrase for trust.
const AuthenticateMethod = "authenticate"

const scryptN = 1 << 15
const scryptR = 8
const scryptP = 1
const scryptKeyLen = 32
const saltLen = 16

// Gate enforces the client-certificate policy on every incoming call.
type Gate struct {
	mu    sync.RWMutex
	store *TrustStore

	salt []byte
	hash []byte
}

// NewGate creates a gate backed by store. Until SetPassphrase is called,
// Authenticate always fails.
func NewGate(store *TrustStore) *Gate {
	return &Gate{store: store}
}

// SetPassphrase derives and stores a scrypt hash for passphrase, the
// backing implementation of the daemon's "passphrase" setting.
func (g *Gate) SetPassphrase(passphrase string) error {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("rpcauth: generating salt: %w", err)
	}
	hash, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return fmt.Errorf("rpcauth: deriving passphrase hash: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.salt = salt
	g.hash = hash
	return nil
}

// HasPassphrase reports whether a passphrase has been configured.
func (g *Gate) HasPassphrase() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hash != nil
}

// Authenticate checks passphrase against the configured scrypt hash; on
// match it adds certFingerprint to the trust store.
func (g *Gate) Authenticate(passphrase, certFingerprint string) error {
	g.mu.RLock()
	salt, want := g.salt, g.hash
	g.mu.RUnlock()

	if want == nil {
		return ferrors.New(ferrors.KindUnauthenticated, "no passphrase configured")
	}
	got, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return fmt.Errorf("rpcauth: deriving passphrase hash: %w", err)
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ferrors.New(ferrors.KindUnauthenticated, "passphrase does not match")
	}
	return g.store.Trust(certFingerprint)
}

// Authorize applies the gate's policy to one incoming call. method ==
// PingMethod bypasses the bootstrap/trust-store dispatch entirely and
// only reports current authentication status; every other method either
// bootstraps (first connection over a unix socket with an empty trust
// store), matches an already-trusted fingerprint, or is rejected.
func (g *Gate) Authorize(method string, isUnixSocket bool, certFingerprint string) error {
	if method == PingMethod {
		if g.store.IsTrusted(certFingerprint) {
			return nil
		}
		return ferrors.New(ferrors.KindUnauthenticated, "client certificate not trusted")
	}

	if g.store.IsTrusted(certFingerprint) {
		return nil
	}
	if isUnixSocket && g.store.Empty() {
		return g.store.Trust(certFingerprint)
	}
	if method == AuthenticateMethod {
		// Deferred to Authenticate, which performs the passphrase check
		// and trusts the cert itself; the gate must let the call through
		// to reach it.
		return nil
	}
	return ferrors.New(ferrors.KindUnauthenticated, "client certificate not trusted")
}
