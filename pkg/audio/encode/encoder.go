// ABOUTME: Encoder interface definition
// ABOUTME: File encodes a whole sample buffer frame by frame
package encode

import "fmt"

// Encoder encodes interleaved int16 samples
type Encoder interface {
	// Encode converts one block of samples to encoded bytes
	Encode(samples []int16) ([]byte, error)

	// Close releases encoder resources
	Close() error
}

// File encodes samples in blocks of blockSamples and concatenates the
// output. A short final block is zero padded.
func File(enc Encoder, samples []int16, blockSamples int) ([]byte, error) {
	if blockSamples <= 0 {
		return nil, fmt.Errorf("invalid block size %d", blockSamples)
	}
	var out []byte
	block := make([]int16, blockSamples)
	for off := 0; off < len(samples); off += blockSamples {
		end := off + blockSamples
		src := samples[off:min(end, len(samples))]
		n := copy(block, src)
		clear(block[n:])
		data, err := enc.Encode(block)
		if err != nil {
			return nil, fmt.Errorf("block at sample %d: %w", off, err)
		}
		out = append(out, data...)
	}
	return out, nil
}
