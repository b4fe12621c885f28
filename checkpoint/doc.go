// Package checkpoint saves and restores descriptor tables.
//
// A checkpoint is an Image: the installed descriptors of a table, each
// mapped to a caller-defined file identity, plus the close-on-exec set.
// Files themselves are not serialized; Capture asks the caller for an
// identity per file and Restore asks the caller to reopen it.
//
// # Capture and Restore
//
//	img, err := checkpoint.Capture(tbl, func(f fdtable.File) (string, error) {
//	    return f.(*myFile).Path(), nil
//	})
//
//	restored, err := checkpoint.Restore(img, func(id string) (fdtable.File, error) {
//	    return reopen(id)
//	})
//
// # Encoding
//
// Encode frames an image with its codec name, compression and a CRC32C
// checksum, so Decode needs no options:
//
//	data, err := checkpoint.Encode(img,
//	    checkpoint.WithCodec(codec.GoJSON{}),
//	    checkpoint.WithCompression(checkpoint.CompressionZSTD),
//	)
//
// Save and Load do the same against a blobstore.Store.
package checkpoint
