package imagehost

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetd/fleetd/internal/ferrors"
)

// Downloader fetches a URL's body. The concrete implementation (plain
// net/http in production) is a named external collaborator; Source only
// depends on this interface so tests can substitute fakes.
type Downloader interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Remote is one configured image source.
type Remote struct {
	Name      string
	IndexURL  string
	MirrorURL string // optional; replaces the manifest URL named by IndexURL's index at fetch time.
}

// Query identifies the image a caller wants resolved: an alias or a
// (possibly partial) hash, scoped to a remote.
type Query struct {
	Remote       string
	AliasOrHash  string
	AllowPartial bool
}

// Source owns every configured remote's cached manifest and the
// background refresh schedule.
type Source struct {
	mu         sync.RWMutex
	remotes    []Remote
	manifests  map[string]*Manifest // remote name -> cached manifest
	downloader Downloader
	ttl        time.Duration
	log        *logrus.Entry

	refreshMu     sync.Mutex
	refreshing    bool
	refreshCancel context.CancelFunc
}

// NewSource creates a manifest source over remotes, fetched via
// downloader. ttl controls when a cached manifest is considered stale.
func NewSource(remotes []Remote, downloader Downloader, ttl time.Duration) *Source {
	return &Source{
		remotes:    remotes,
		manifests:  make(map[string]*Manifest),
		downloader: downloader,
		ttl:        ttl,
		log:        logrus.WithField("component", "imagehost"),
	}
}

// UpdateManifests fetches every configured remote in parallel. Per-remote
// failures are tolerated and logged; a total failure for a remote leaves
// its prior cached manifest in place. forceNetwork bypasses the TTL
// freshness check.
func (s *Source) UpdateManifests(ctx context.Context, forceNetwork bool) {
	var wg sync.WaitGroup
	for _, remote := range s.remotes {
		remote := remote
		if !forceNetwork && !s.isStale(remote.Name) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.refreshOne(ctx, remote)
		}()
	}
	wg.Wait()
}

func (s *Source) isStale(remoteName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manifests[remoteName]
	if !ok {
		return true
	}
	return m.Expired(s.ttl)
}

func (s *Source) refreshOne(ctx context.Context, remote Remote) {
	log := s.log.WithField("remote", remote.Name)

	idxData, err := s.downloader.Get(ctx, remote.IndexURL)
	if err != nil {
		log.WithError(err).Warn("failed to fetch manifest index, keeping cached manifest")
		return
	}
	var idx indexDoc
	if err := json.Unmarshal(idxData, &idx); err != nil {
		log.WithError(err).Warn("failed to parse manifest index, keeping cached manifest")
		return
	}

	manifestURL := idx.ManifestPath
	if remote.MirrorURL != "" {
		manifestURL = remote.MirrorURL
	}
	manifestData, err := s.downloader.Get(ctx, manifestURL)
	if err != nil {
		log.WithError(err).Warn("failed to fetch manifest, keeping cached manifest")
		return
	}

	manifest, err := parseSimpleStreams(manifestData, manifestURL)
	if err != nil {
		log.WithError(err).Warn("failed to decode manifest, keeping cached manifest")
		return
	}

	s.mu.Lock()
	s.manifests[remote.Name] = manifest
	s.mu.Unlock()
}

// remoteOrder returns the remote names to search: only query.Remote when
// it is set, otherwise every configured remote in configuration order.
func (s *Source) remoteOrder(query Query) []string {
	if query.Remote != "" {
		return []string{query.Remote}
	}
	names := make([]string, 0, len(s.remotes))
	for _, r := range s.remotes {
		names = append(names, r.Name)
	}
	return names
}

// InfoFor returns the first matching image in query's remote-search
// order. A partial hash that matches more than one entry across the
// searched remotes fails with "too many matches".
func (s *Source) InfoFor(query Query) (*ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var match *ImageRecord
	var matchCount int
	for _, remoteName := range s.remoteOrder(query) {
		manifest, ok := s.manifests[remoteName]
		if !ok {
			continue
		}
		if rec, ok := manifest.byAlias[query.AliasOrHash]; ok {
			return rec, nil
		}
		if rec, ok := manifest.byHash[query.AliasOrHash]; ok {
			return rec, nil
		}
		if query.AllowPartial {
			for hash, rec := range manifest.byHash {
				if len(query.AliasOrHash) > 0 && hasPrefixFold(hash, query.AliasOrHash) {
					match = rec
					matchCount++
				}
			}
		}
	}
	if matchCount > 1 {
		return nil, ferrors.New(ferrors.KindInvalidHostname, "too many matches")
	}
	if match != nil {
		return match, nil
	}
	return nil, ferrors.New(ferrors.KindManifest, fmt.Sprintf("no image matches %q", query.AliasOrHash))
}

func hasPrefixFold(s, prefix string) bool {
	if len(prefix) > len(s) {
		return false
	}
	return s[:len(prefix)] == prefix
}

// ForEachEntryDo enumerates every supported entry across all cached
// remotes.
func (s *Source) ForEachEntryDo(action func(remote string, rec *ImageRecord) error) error {
	s.mu.RLock()
	type entry struct {
		remote string
		rec    *ImageRecord
	}
	var entries []entry
	for remoteName, manifest := range s.manifests {
		for _, rec := range manifest.Images {
			if rec.Supported {
				entries = append(entries, entry{remoteName, rec})
			}
		}
	}
	s.mu.RUnlock()

	for _, e := range entries {
		if err := action(e.remote, e.rec); err != nil {
			return err
		}
	}
	return nil
}

// StartPeriodicRefresh arms a background refresh every interval. If a
// refresh is still in flight when the tick fires, that tick is skipped.
// Cancel ctx (or call Stop) to end the schedule.
func (s *Source) StartPeriodicRefresh(ctx context.Context, interval time.Duration) {
	s.refreshMu.Lock()
	if s.refreshCancel != nil {
		s.refreshCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.refreshCancel = cancel
	s.refreshMu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tryScheduledRefresh(ctx)
			}
		}
	}()
}

func (s *Source) tryScheduledRefresh(ctx context.Context) {
	s.refreshMu.Lock()
	if s.refreshing {
		s.refreshMu.Unlock()
		s.log.Debug("skipping scheduled refresh: previous run still in flight")
		return
	}
	s.refreshing = true
	s.refreshMu.Unlock()

	defer func() {
		s.refreshMu.Lock()
		s.refreshing = false
		s.refreshMu.Unlock()
	}()
	s.UpdateManifests(ctx, false)
}

// ForceRefresh cancels the periodic schedule, runs a synchronous refresh
// of every remote, then re-arms the schedule at interval.
func (s *Source) ForceRefresh(ctx context.Context, interval time.Duration) {
	s.refreshMu.Lock()
	if s.refreshCancel != nil {
		s.refreshCancel()
		s.refreshCancel = nil
	}
	s.refreshMu.Unlock()

	s.UpdateManifests(ctx, true)
	s.StartPeriodicRefresh(ctx, interval)
}

// Stop ends the periodic refresh schedule.
func (s *Source) Stop() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if s.refreshCancel != nil {
		s.refreshCancel()
		s.refreshCancel = nil
	}
}
