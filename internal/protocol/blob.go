package protocol

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(256<<20))
)

// PackBlob compresses a store image for transfer.
func PackBlob(blob []byte) []byte {
	return encoder.EncodeAll(blob, make([]byte, 0, len(blob)/4))
}

// UnpackBlob reverses PackBlob.
func UnpackBlob(packed []byte) ([]byte, error) {
	blob, err := decoder.DecodeAll(packed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress store: %w", err)
	}
	return blob, nil
}
