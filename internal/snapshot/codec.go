package snapshot

import (
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Compression modes.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// Shared for EncodeAll/DecodeAll, which are safe for concurrent use.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) { return zstd.NewWriter(nil) })
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) { return zstd.NewReader(nil) })
)

func compress(mode string, data []byte) ([]byte, error) {
	switch mode {
	case CompressionNone, "":
		return data, nil
	case CompressionZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", mode)
	}
}

func decompress(mode string, data []byte) ([]byte, error) {
	switch mode {
	case CompressionNone, "":
		return data, nil
	case CompressionZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		return dec.DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("unknown compression %q", mode)
	}
}

func checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
