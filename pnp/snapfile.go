package pnp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how a snapshot file body is compressed.
type Compression uint8

// Snapshot file compression tags. The tag is the first byte of a file.
const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

// String returns the name of the compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses a compression name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// maxSnapshotSize bounds the uncompressed body a file may declare.
const maxSnapshotSize = 1 << 24

var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("pnp: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("pnp: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeSnapshotFile marshals s and frames it as a snapshot file: the
// compression tag, the uncompressed length as a uvarint, then the body.
// A body that does not shrink is stored uncompressed.
func EncodeSnapshotFile(s *Snapshot, comp Compression) ([]byte, error) {
	data, err := MarshalSnapshot(s)
	if err != nil {
		return nil, err
	}

	var body []byte
	switch comp {
	case CompressionNone:
		body = data
	case CompressionLZ4:
		body, err = compressLZ4(data)
	case CompressionZstd:
		body = zstdEncoder.EncodeAll(data, nil)
		if len(body) >= len(data) {
			err = errIncompressible
		}
	default:
		return nil, fmt.Errorf("unsupported compression: %s", comp)
	}
	if errors.Is(err, errIncompressible) {
		comp, body, err = CompressionNone, data, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]byte, 1, 1+binary.MaxVarintLen64+len(body))
	out[0] = byte(comp)
	out = binary.AppendUvarint(out, uint64(len(data)))
	return append(out, body...), nil
}

// DecodeSnapshotFile reverses EncodeSnapshotFile.
func DecodeSnapshotFile(file []byte) (*Snapshot, error) {
	if len(file) < 2 {
		return nil, errors.New("snapshot file: truncated header")
	}
	comp := Compression(file[0])
	size, n := binary.Uvarint(file[1:])
	if n <= 0 || size > maxSnapshotSize {
		return nil, errors.New("snapshot file: bad length")
	}
	body := file[1+n:]

	var data []byte
	switch comp {
	case CompressionNone:
		data = body
	case CompressionLZ4:
		data = make([]byte, size)
		read, err := lz4.UncompressBlock(body, data)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		data = data[:read]
	case CompressionZstd:
		var err error
		if data, err = zstdDecoder.DecodeAll(body, make([]byte, 0, size)); err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
	default:
		return nil, fmt.Errorf("snapshot file: unsupported compression %s", comp)
	}
	if uint64(len(data)) != size {
		return nil, fmt.Errorf("snapshot file: got %d bytes, expected %d", len(data), size)
	}
	return UnmarshalSnapshot(data)
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// Zero means the block is incompressible.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return dst[:written], nil
}
