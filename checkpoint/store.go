package checkpoint

import (
	"context"
	"fmt"

	"github.com/hupe1980/fdtable/blobstore"
)

// Save encodes img and writes it to store under name.
func Save(ctx context.Context, store blobstore.Store, name string, img *Image, optFns ...EncodeOption) error {
	data, err := Encode(img, optFns...)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, name, data); err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", name, err)
	}
	return nil
}

// Load reads and decodes the image stored under name.
// A missing image satisfies errors.Is(err, blobstore.ErrNotFound).
func Load(ctx context.Context, store blobstore.Store, name string, optFns ...DecodeOption) (*Image, error) {
	data, err := blobstore.ReadAll(ctx, store, name)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load %s: %w", name, err)
	}
	img, err := Decode(data, optFns...)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load %s: %w", name, err)
	}
	return img, nil
}
