// Package rpcauth implements the RPC authentication gate: client
// certificate trust, unix-socket bootstrap acceptance, and scrypt-backed
// passphrase authentication, per SPEC_FULL.md §4.9.
package rpcauth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// TrustStore persists the set of trusted client certificate
// fingerprints, atomic-write-then-rename like internal/instance's
// registry persistence.
type TrustStore struct {
	mu      sync.RWMutex
	path    string
	trusted map[string]struct{}
	log     *logrus.Entry
}

// NewTrustStore creates a trust store backed by path. path may be empty,
// in which case the store is in-memory only (used by tests).
func NewTrustStore(path string) *TrustStore {
	return &TrustStore{
		path:    path,
		trusted: make(map[string]struct{}),
		log:     logrus.WithField("component", "rpcauth"),
	}
}

// Load reads the trust store from disk. A missing file is not an error.
func (s *TrustStore) Load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var fingerprints []string
	if err := json.Unmarshal(data, &fingerprints); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fp := range fingerprints {
		s.trusted[fp] = struct{}{}
	}
	return nil
}

func (s *TrustStore) saveLocked() error {
	if s.path == "" {
		return nil
	}
	fingerprints := make([]string, 0, len(s.trusted))
	for fp := range s.trusted {
		fingerprints = append(fingerprints, fp)
	}
	data, err := json.MarshalIndent(fingerprints, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".trust-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// IsTrusted reports whether fingerprint is in the trust store.
func (s *TrustStore) IsTrusted(fingerprint string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.trusted[fingerprint]
	return ok
}

// Empty reports whether the trust store currently holds no fingerprints
// (the bootstrap-acceptance condition).
func (s *TrustStore) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trusted) == 0
}

// Trust adds fingerprint to the trust store and persists it.
func (s *TrustStore) Trust(fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trusted[fingerprint] = struct{}{}
	if err := s.saveLocked(); err != nil {
		s.log.WithError(err).Warn("failed to persist trust store")
		return err
	}
	return nil
}

// Revoke removes fingerprint from the trust store and persists it.
func (s *TrustStore) Revoke(fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trusted, fingerprint)
	return s.saveLocked()
}
