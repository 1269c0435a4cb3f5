package imagevault

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeStorage struct {
	mu      sync.Mutex
	images  map[string]bool
	deleted []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{images: make(map[string]bool)}
}

func (s *fakeStorage) ImageExists(ctx context.Context, imageName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images[imageName], nil
}

func (s *fakeStorage) PullImage(ctx context.Context, url, imageName, checksum string) error {
	return nil
}

func (s *fakeStorage) ImportImage(ctx context.Context, filePath, imageName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[imageName] = true
	return nil
}

func (s *fakeStorage) GetImagePath(ctx context.Context, imageName string) (string, error) {
	return "/var/lib/fleetd/images/" + imageName, nil
}

func (s *fakeStorage) DeleteImage(ctx context.Context, imageName string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.images, imageName)
	s.deleted = append(s.deleted, imageName)
	return nil
}

func (s *fakeStorage) ListImages(ctx context.Context) ([]StoredImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoredImage, 0, len(s.images))
	for name := range s.images {
		out = append(out, StoredImage{Name: name, SizeBytes: 5 << 30})
	}
	return out, nil
}

func TestFetchImageCoalescesConcurrentCallers(t *testing.T) {
	st := newFakeStorage()
	v := NewVault(st, time.Hour)

	var downloadCount int32
	fetch := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&downloadCount, 1)
		time.Sleep(20 * time.Millisecond)
		return "/tmp/raw.img", nil
	}
	prepare := func(ctx context.Context, rawPath string) (string, uint64, error) {
		return rawPath, 1024, nil
	}

	var wg sync.WaitGroup
	results := make([]*VMImage, 4)
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			img, err := v.FetchImage(context.Background(), "deadbeef", fetch, prepare, nil)
			if err != nil {
				t.Errorf("FetchImage: %v", err)
				return
			}
			results[i] = img
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&downloadCount) != 1 {
		t.Fatalf("downloadCount = %d, want 1 (coalesced)", downloadCount)
	}
	for _, img := range results {
		if img == nil || img.Hash != "deadbeef" {
			t.Fatalf("expected all callers to get the same image, got %+v", img)
		}
	}
}

func TestFetchImageSkipsDownloadIfAlreadyExists(t *testing.T) {
	st := newFakeStorage()
	st.images["deadbeef"] = true
	v := NewVault(st, time.Hour)

	called := false
	fetch := func(ctx context.Context) (string, error) {
		called = true
		return "", nil
	}
	_, err := v.FetchImage(context.Background(), "deadbeef", fetch, nil, nil)
	if err != nil {
		t.Fatalf("FetchImage: %v", err)
	}
	if called {
		t.Fatal("fetch should not be called when the image already exists in storage")
	}
}

func TestPruneExpiredImagesSkipsReferenced(t *testing.T) {
	st := newFakeStorage()
	v := NewVault(st, time.Millisecond)

	fetch := func(ctx context.Context) (string, error) { return "/tmp/raw.img", nil }
	prepare := func(ctx context.Context, rawPath string) (string, uint64, error) { return rawPath, 1, nil }

	v.FetchImage(context.Background(), "used", fetch, prepare, nil)
	v.FetchImage(context.Background(), "unused", fetch, prepare, nil)
	time.Sleep(5 * time.Millisecond)

	removed := v.PruneExpiredImages(context.Background(), map[string]struct{}{"used": {}})
	if len(removed) != 1 || removed[0] != "unused" {
		t.Fatalf("removed = %v, want [unused]", removed)
	}
}

func TestCloneMintsSequentialNames(t *testing.T) {
	st := newFakeStorage()
	st.images["base"] = true
	v := NewVault(st, time.Hour)

	c1, err := v.Clone(context.Background(), "base")
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	c2, err := v.Clone(context.Background(), "base")
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if c1 == c2 {
		t.Fatalf("expected distinct clone names, got %q twice", c1)
	}
}

func TestParseHash(t *testing.T) {
	algo, digest := ParseHash("sha512:abcd")
	if algo != "sha512" || digest != "abcd" {
		t.Fatalf("ParseHash = (%q, %q)", algo, digest)
	}
	algo, digest = ParseHash("abcd")
	if algo != "sha256" || digest != "abcd" {
		t.Fatalf("ParseHash = (%q, %q), want default sha256", algo, digest)
	}
}
