package audio

import (
	"encoding/base64"
	"fmt"
)

// DecodeChunk decodes a base64-encoded chunk of 16-bit little-endian PCM into
// a Buffer at the given source format. A trailing odd byte is dropped rather
// than treated as an error; truncated final bytes show up on lossy transports.
func DecodeChunk(data string, sampleRate, channels int) (Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: decode chunk: %w", err)
	}
	return Buffer{
		Samples:    bytesToInt16(raw),
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// bytesToInt16 reinterprets little-endian PCM bytes as int16 samples.
func bytesToInt16(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return samples
}

// PCM serializes the buffer's samples as 16-bit little-endian PCM bytes,
// the wire form expected by the live APIs.
func (b Buffer) PCM() []byte {
	return int16ToBytes(b.Samples)
}

// int16ToBytes serializes int16 samples as little-endian PCM bytes.
func int16ToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
