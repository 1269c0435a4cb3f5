package imagevault

import (
	"context"

	"github.com/fleetd/fleetd/internal/storage"
)

// StorageManagerAdapter adapts *storage.Manager's pool/volume API to the
// Storage interface imagevault depends on, narrowing ListImages' richer
// VolumeInfo down to the {Name, SizeBytes} the vault actually needs.
type StorageManagerAdapter struct {
	Manager *storage.Manager
}

func (a *StorageManagerAdapter) ImageExists(ctx context.Context, imageName string) (bool, error) {
	return a.Manager.ImageExists(ctx, imageName)
}

func (a *StorageManagerAdapter) PullImage(ctx context.Context, url, imageName, checksum string) error {
	return a.Manager.PullImage(ctx, url, imageName, checksum)
}

func (a *StorageManagerAdapter) ImportImage(ctx context.Context, filePath, imageName string) error {
	return a.Manager.ImportImage(ctx, filePath, imageName)
}

func (a *StorageManagerAdapter) GetImagePath(ctx context.Context, imageName string) (string, error) {
	return a.Manager.GetImagePath(ctx, imageName)
}

func (a *StorageManagerAdapter) DeleteImage(ctx context.Context, imageName string, force bool) error {
	return a.Manager.DeleteImage(ctx, imageName, force)
}

func (a *StorageManagerAdapter) ListImages(ctx context.Context) ([]StoredImage, error) {
	volumes, err := a.Manager.ListImages(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StoredImage, 0, len(volumes))
	for _, v := range volumes {
		out = append(out, StoredImage{Name: v.Name, SizeBytes: v.Capacity})
	}
	return out, nil
}
