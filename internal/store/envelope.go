package store

import (
	"bytes"
	"fmt"

	"github.com/zeebo/blake3"
)

const (
	envelopeVersion = 1
	digestSize      = 32
	headerSize      = 1 + digestSize
)

// seal prefixes data with a version byte and its BLAKE3-256 digest.
func seal(data []byte) []byte {
	sum := blake3.Sum256(data)
	out := make([]byte, 0, headerSize+len(data))
	out = append(out, envelopeVersion)
	out = append(out, sum[:]...)
	return append(out, data...)
}

// unseal checks the envelope and returns the payload.
func unseal(sealed []byte) ([]byte, error) {
	if len(sealed) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrIntegrity, len(sealed))
	}
	if sealed[0] != envelopeVersion {
		return nil, fmt.Errorf("%w: unknown envelope version %d", ErrIntegrity, sealed[0])
	}
	data := sealed[headerSize:]
	sum := blake3.Sum256(data)
	if !bytes.Equal(sum[:], sealed[1:headerSize]) {
		return nil, fmt.Errorf("%w: digest mismatch", ErrIntegrity)
	}
	return data, nil
}
