package checkpoint

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/fdtable"
	"github.com/hupe1980/fdtable/internal/conv"
)

// ImageVersion is the current Image layout version.
const ImageVersion = 1

// ErrInvalidImage is returned for images that are malformed or
// inconsistent.
var ErrInvalidImage = errors.New("checkpoint: invalid image")

// Entry is one installed descriptor.
type Entry struct {
	FD int    `json:"fd"`
	ID string `json:"id"`
}

// Image is a serializable snapshot of a table's installed descriptors.
type Image struct {
	Version  int     `json:"version"`
	Capacity int     `json:"capacity"`
	Entries  []Entry `json:"entries"`
	// CloseOnExec is a serialized roaring bitmap of descriptors.
	CloseOnExec []byte `json:"close_on_exec"`
}

// IdentifyFunc maps a file to a stable identity.
type IdentifyFunc func(f fdtable.File) (string, error)

// ResolveFunc reopens a file by identity. The returned reference is
// handed to the restored table.
type ResolveFunc func(id string) (fdtable.File, error)

// Capture snapshots the installed descriptors of t. Reserved descriptors
// are not part of the image.
func Capture(t *fdtable.Table, idOf IdentifyFunc) (*Image, error) {
	descs := t.Descriptors()

	img := &Image{
		Version:  ImageVersion,
		Capacity: t.Capacity(),
		Entries:  make([]Entry, 0, len(descs)),
	}
	cloexec := roaring.New()
	for _, d := range descs {
		id, err := idOf(d.File)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: identify fd %d: %w", d.FD, err)
		}
		img.Entries = append(img.Entries, Entry{FD: d.FD, ID: id})
		if d.CloseOnExec {
			fd, err := conv.IntToUint32(d.FD)
			if err != nil {
				return nil, fmt.Errorf("checkpoint: fd %d: %w", d.FD, err)
			}
			cloexec.Add(fd)
		}
	}

	data, err := cloexec.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: serialize close-on-exec set: %w", err)
	}
	img.CloseOnExec = data
	return img, nil
}

// CloseOnExecSet decodes the image's close-on-exec bitmap.
func (img *Image) CloseOnExecSet() (*roaring.Bitmap, error) {
	bm := roaring.New()
	if len(img.CloseOnExec) == 0 {
		return bm, nil
	}
	if err := bm.UnmarshalBinary(img.CloseOnExec); err != nil {
		return nil, fmt.Errorf("%w: close-on-exec set: %w", ErrInvalidImage, err)
	}
	return bm, nil
}

// Validate checks that entries are strictly ascending and non-negative and
// that every close-on-exec descriptor has an entry.
func (img *Image) Validate() error {
	if img.Version != ImageVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidImage, img.Version)
	}
	installed := roaring.New()
	prev := -1
	for _, e := range img.Entries {
		if e.FD <= prev {
			return fmt.Errorf("%w: descriptor %d out of order", ErrInvalidImage, e.FD)
		}
		prev = e.FD
		fd, err := conv.IntToUint32(e.FD)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidImage, err)
		}
		installed.Add(fd)
	}
	if img.Capacity < 0 || (len(img.Entries) > 0 && prev >= img.Capacity) {
		return fmt.Errorf("%w: descriptor %d beyond capacity %d", ErrInvalidImage, prev, img.Capacity)
	}

	cloexec, err := img.CloseOnExecSet()
	if err != nil {
		return err
	}
	if extra := roaring.AndNot(cloexec, installed); !extra.IsEmpty() {
		return fmt.Errorf("%w: close-on-exec descriptor %d has no entry", ErrInvalidImage, extra.Minimum())
	}
	return nil
}

// Restore builds a new table holding the image's descriptors.
//
// resolve is called once per entry in ascending descriptor order. If any
// call fails, every file already installed is released and the error is
// returned. opts configure the new table; the image capacity is applied as
// its minimum heap capacity.
func Restore(img *Image, resolve ResolveFunc, opts ...fdtable.Option) (*fdtable.Table, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	cloexec, err := img.CloseOnExecSet()
	if err != nil {
		return nil, err
	}

	opts = append([]fdtable.Option{fdtable.WithMinCapacity(img.Capacity)}, opts...)
	t, err := fdtable.New(opts...)
	if err != nil {
		return nil, err
	}

	for _, e := range img.Entries {
		f, err := resolve(e.ID)
		if err != nil {
			_ = t.Drop()
			return nil, fmt.Errorf("checkpoint: resolve fd %d (%s): %w", e.FD, e.ID, err)
		}
		// Validate rejected descriptors outside the uint32 range.
		if err := t.InstallAt(e.FD, f, cloexec.Contains(uint32(e.FD))); err != nil {
			f.DecRef()
			_ = t.Drop()
			return nil, fmt.Errorf("checkpoint: restore fd %d: %w", e.FD, err)
		}
	}
	return t, nil
}
