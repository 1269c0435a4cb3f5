// Package imagevault implements the content-addressed image store: fetch,
// prepare, clone and expire prepared VM images, per SPEC_FULL.md §4.2.
package imagevault

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetd/fleetd/internal/ferrors"
)

// QueryType selects how a fetch_image query resolves to bytes.
type QueryType int

const (
	QueryAlias QueryType = iota
	QueryLocalFile
	QueryHTTPDownload
)

// Query identifies the image a caller wants prepared.
type Query struct {
	Name             string
	AliasOrHash      string
	Remote           string
	AllowUnsupported bool
	Type             QueryType
}

// VMImage is a prepared, ready-to-attach disk image.
type VMImage struct {
	Hash      string
	Path      string // volume name within the images pool
	SizeBytes uint64
	LastUsed  time.Time
}

// Storage is the subset of internal/storage.Manager the vault depends
// on: pool-backed content-addressed volumes.
type Storage interface {
	ImageExists(ctx context.Context, imageName string) (bool, error)
	PullImage(ctx context.Context, url, imageName, checksum string) error
	ImportImage(ctx context.Context, filePath, imageName string) error
	GetImagePath(ctx context.Context, imageName string) (string, error)
	DeleteImage(ctx context.Context, imageName string, force bool) error
	ListImages(ctx context.Context) ([]StoredImage, error)
}

// StoredImage mirrors the fields imagevault needs from a storage-layer
// volume listing.
type StoredImage struct {
	Name      string
	SizeBytes uint64
}

// Prepare decodes/extracts a downloaded or imported image into its final
// on-disk form. A named external collaborator (ImageVaultUtils in
// spec.md's terms); the vault only needs its signature.
type Prepare func(ctx context.Context, rawPath string) (finalPath string, sizeBytes uint64, err error)

// Vault is the content-addressed image store.
type Vault struct {
	storage Storage
	log     *logrus.Entry

	mu       sync.Mutex
	locks    map[string]*sync.Mutex // per-hash coalescing locks
	cache    map[string]*VMImage
	cloneSeq map[string]int
	ttl      time.Duration
}

// NewVault creates a vault backed by storage, expiring unused images
// after ttl.
func NewVault(storage Storage, ttl time.Duration) *Vault {
	return &Vault{
		storage:  storage,
		log:      logrus.WithField("component", "imagevault"),
		locks:    make(map[string]*sync.Mutex),
		cache:    make(map[string]*VMImage),
		cloneSeq: make(map[string]int),
		ttl:      ttl,
	}
}

// ParseHash splits a checksum string into (algorithm, hexDigest).
// Defaults to sha256 when no "algo:" prefix is present.
func ParseHash(checksum string) (algo, digest string) {
	if i := strings.IndexByte(checksum, ':'); i >= 0 {
		return checksum[:i], checksum[i+1:]
	}
	return "sha256", checksum
}

// Hash computes the content hash of data using algo (sha256 or sha512).
func Hash(algo string, data []byte) (string, error) {
	switch algo {
	case "sha256", "":
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	case "sha512":
		sum := sha512.Sum512(data)
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("imagevault: unsupported hash algorithm %q", algo)
	}
}

// lockFor returns (creating if needed) the coalescing lock for hash.
func (v *Vault) lockFor(hash string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.locks[hash]
	if !ok {
		l = &sync.Mutex{}
		v.locks[hash] = l
	}
	return l
}

// FetchImage guarantees at-most-one concurrent preparation per content
// address: if another caller is already preparing hash, this call blocks
// until it finishes and returns the cached result instead of re-fetching.
func (v *Vault) FetchImage(ctx context.Context, hash string, fetch func(ctx context.Context) (rawPath string, err error), prepare Prepare, progress func(percent int)) (*VMImage, error) {
	lock := v.lockFor(hash)
	lock.Lock()
	defer lock.Unlock()

	v.mu.Lock()
	if cached, ok := v.cache[hash]; ok {
		cached.LastUsed = time.Now()
		v.mu.Unlock()
		return cached, nil
	}
	v.mu.Unlock()

	exists, err := v.storage.ImageExists(ctx, hash)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindCreateImageException, "checking existing image", err)
	}
	if !exists {
		rawPath, err := fetch(ctx)
		if err != nil {
			return nil, ferrors.Wrap(ferrors.KindDownload, "downloading image", err)
		}
		if progress != nil {
			progress(50)
		}
		if _, _, err := prepare(ctx, rawPath); err != nil {
			return nil, ferrors.Wrap(ferrors.KindCreateImageException, "preparing image", err)
		}
		if err := v.storage.ImportImage(ctx, rawPath, hash); err != nil {
			return nil, ferrors.Wrap(ferrors.KindCreateImageException, "importing image", err)
		}
		if progress != nil {
			progress(100)
		}
	}

	path, err := v.storage.GetImagePath(ctx, hash)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.KindCreateImageException, "resolving image path", err)
	}

	img := &VMImage{Hash: hash, Path: path, LastUsed: time.Now()}
	v.mu.Lock()
	v.cache[hash] = img
	v.mu.Unlock()
	return img, nil
}

// UpdateImages iterates every known image and re-downloads those whose
// manifest hash advanced (the caller passes the current authoritative
// hash per name); images whose hash is unchanged are skipped.
func (v *Vault) UpdateImages(ctx context.Context, currentHashes map[string]string, fetch func(ctx context.Context, name, hash string) (rawPath string, err error), prepare Prepare) {
	v.mu.Lock()
	names := make([]string, 0, len(v.cache))
	for name := range v.cache {
		names = append(names, name)
	}
	v.mu.Unlock()

	for _, name := range names {
		newHash, ok := currentHashes[name]
		if !ok || newHash == name {
			continue
		}
		if _, err := v.FetchImage(ctx, newHash, func(ctx context.Context) (string, error) {
			return fetch(ctx, name, newHash)
		}, prepare, nil); err != nil {
			v.log.WithField("image", name).WithError(err).Warn("image update failed")
		}
	}
}

// PruneExpiredImages removes images whose last-used timestamp is older
// than the vault's TTL and that aren't referenced by any instance in
// referenced.
func (v *Vault) PruneExpiredImages(ctx context.Context, referenced map[string]struct{}) []string {
	v.mu.Lock()
	var toRemove []string
	for hash, img := range v.cache {
		if _, used := referenced[hash]; used {
			continue
		}
		if time.Since(img.LastUsed) > v.ttl {
			toRemove = append(toRemove, hash)
		}
	}
	for _, hash := range toRemove {
		delete(v.cache, hash)
	}
	v.mu.Unlock()

	var removed []string
	for _, hash := range toRemove {
		if err := v.storage.DeleteImage(ctx, hash, false); err != nil {
			v.log.WithField("image", hash).WithError(err).Warn("failed to delete expired image")
			continue
		}
		removed = append(removed, hash)
	}
	return removed
}

// Clone duplicates the prepared image for srcHash under a fresh
// content-addressed entry reusing the same backing storage, returning the
// clone's own identity. Per the decided Open Question, clone naming never
// inspects the source's running state and always mints a new sequential
// suffix.
func (v *Vault) Clone(ctx context.Context, srcHash string) (string, error) {
	v.mu.Lock()
	v.cloneSeq[srcHash]++
	n := v.cloneSeq[srcHash]
	v.mu.Unlock()

	cloneName := fmt.Sprintf("%s-clone-%d", srcHash, n)
	path, err := v.storage.GetImagePath(ctx, srcHash)
	if err != nil {
		return "", ferrors.Wrap(ferrors.KindCreateImageException, "locating source image for clone", err)
	}
	if err := v.storage.ImportImage(ctx, path, cloneName); err != nil {
		return "", ferrors.Wrap(ferrors.KindCreateImageException, "cloning image", err)
	}

	v.mu.Lock()
	v.cache[cloneName] = &VMImage{Hash: cloneName, Path: path, LastUsed: time.Now()}
	v.mu.Unlock()
	return cloneName, nil
}

// MinimumImageSizeFor returns the minimum disk size the named image
// requires, used to reject under-sized disk requests.
func (v *Vault) MinimumImageSizeFor(ctx context.Context, hash string) (uint64, error) {
	images, err := v.storage.ListImages(ctx)
	if err != nil {
		return 0, fmt.Errorf("imagevault: listing images: %w", err)
	}
	for _, img := range images {
		if img.Name == hash {
			return img.SizeBytes, nil
		}
	}
	return 0, ferrors.New(ferrors.KindInvalidDiskSize, fmt.Sprintf("unknown image %q", hash))
}
