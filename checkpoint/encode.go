package checkpoint

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/hupe1980/fdtable/codec"
	"github.com/hupe1980/fdtable/internal/hash"
)

// Frame layout:
//
//	magic "FDCP" | format u8 | compression u8 | codec name len u8 | codec name |
//	block (see compressBlock) | CRC32C of everything before it (u32 LE)
var magic = []byte("FDCP")

const formatVersion = 1

// ErrChecksum is returned by Decode when the frame checksum does not match.
var ErrChecksum = errors.New("checkpoint: checksum mismatch")

// ErrImageTooLarge is returned by Decode when a frame declares a payload
// above the decode limit.
var ErrImageTooLarge = errors.New("checkpoint: image too large")

const (
	// DefaultMaxImageSize is the default limit on a decoded image payload.
	DefaultMaxImageSize = 64 << 20

	// MaxImageSizeLimit is the largest limit WithMaxImageSize accepts.
	MaxImageSizeLimit = 1 << 30
)

type encodeOptions struct {
	codec       codec.Codec
	compression Compression
}

// EncodeOption configures Encode and Save.
type EncodeOption func(*encodeOptions)

// WithCodec selects the image codec. Defaults to codec.Default.
func WithCodec(c codec.Codec) EncodeOption {
	return func(o *encodeOptions) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithCompression selects the frame compression. Defaults to none.
func WithCompression(c Compression) EncodeOption {
	return func(o *encodeOptions) { o.compression = c }
}

// Encode serializes img into a self-describing frame.
func Encode(img *Image, optFns ...EncodeOption) ([]byte, error) {
	o := encodeOptions{codec: codec.Default, compression: CompressionNone}
	for _, fn := range optFns {
		fn(&o)
	}

	name := o.codec.Name()
	if _, ok := codec.ByName(name); !ok {
		return nil, fmt.Errorf("checkpoint: codec %q is not a built-in codec", name)
	}
	if len(name) > 255 {
		return nil, fmt.Errorf("checkpoint: codec name %q too long", name)
	}

	payload, err := o.codec.Marshal(img)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal with %s: %w", name, err)
	}
	block, err := compressBlock(payload, o.compression)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: compress with %s: %w", o.compression, err)
	}

	var buf bytes.Buffer
	buf.Grow(len(magic) + 3 + len(name) + len(block) + hash.Size)
	buf.Write(magic)
	buf.WriteByte(formatVersion)
	buf.WriteByte(byte(o.compression))
	buf.WriteByte(byte(len(name)))
	buf.WriteString(name)
	buf.Write(block)

	return hash.AppendCRC32C(buf.Bytes()), nil
}

type decodeOptions struct {
	maxSize int
}

// DecodeOption configures Decode and Load.
type DecodeOption func(*decodeOptions)

// WithMaxImageSize limits the uncompressed payload Decode accepts. Values
// below 1 select DefaultMaxImageSize; values above MaxImageSizeLimit are
// clamped to it.
func WithMaxImageSize(n int) DecodeOption {
	return func(o *decodeOptions) {
		switch {
		case n < 1:
			o.maxSize = DefaultMaxImageSize
		case n > MaxImageSizeLimit:
			o.maxSize = MaxImageSizeLimit
		default:
			o.maxSize = n
		}
	}
}

// Decode parses a frame produced by Encode and validates the image.
func Decode(data []byte, optFns ...DecodeOption) (*Image, error) {
	o := decodeOptions{maxSize: DefaultMaxImageSize}
	for _, fn := range optFns {
		fn(&o)
	}

	const fixed = 4 + 3
	if len(data) < fixed+blockHeaderSize+hash.Size || !bytes.Equal(data[:4], magic) {
		return nil, fmt.Errorf("%w: not a checkpoint frame", ErrInvalidImage)
	}

	body, ok := hash.VerifyCRC32C(data)
	if !ok {
		return nil, ErrChecksum
	}

	if v := body[4]; v != formatVersion {
		return nil, fmt.Errorf("%w: unsupported frame format %d", ErrInvalidImage, v)
	}
	compression := Compression(body[5])
	nameLen := int(body[6])
	if len(body) < fixed+nameLen+blockHeaderSize {
		return nil, fmt.Errorf("%w: truncated frame", ErrInvalidImage)
	}
	name := string(body[fixed : fixed+nameLen])
	c, ok := codec.ByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown codec %q", ErrInvalidImage, name)
	}

	payload, err := decompressBlock(body[fixed+nameLen:], compression, o.maxSize)
	if err != nil {
		if errors.Is(err, ErrImageTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}

	img := new(Image)
	if err := c.Unmarshal(payload, img); err != nil {
		return nil, fmt.Errorf("%w: unmarshal with %s: %w", ErrInvalidImage, name, err)
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}
