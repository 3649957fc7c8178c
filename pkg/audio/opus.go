package audio

import (
	"fmt"
	"sync"

	"layeh.com/gopus"
)

// frameSize is samples per channel per Opus frame at 48kHz (20ms).
const frameSize = 960

// OpusDecoder decodes Opus packets into PCM buffers for transports that ship
// Opus instead of raw PCM. Stateful; one per stream. Safe for concurrent use,
// though calls serialize on an internal mutex.
type OpusDecoder struct {
	mu      sync.Mutex
	dec     *gopus.Decoder
	rate    int
	channel int
}

// NewOpusDecoder creates a decoder producing PCM at the given rate and
// channel count.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, rate: sampleRate, channel: channels}, nil
}

// Decode decodes a single Opus packet into a Buffer.
func (d *OpusDecoder) Decode(packet []byte) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pcm, err := d.dec.Decode(packet, frameSize, false)
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: decode opus packet: %w", err)
	}
	return Buffer{Samples: pcm, SampleRate: d.rate, Channels: d.channel}, nil
}

// maxPacketBytes bounds the size of a single encoded Opus packet.
const maxPacketBytes = 4000

// OpusEncoder encodes PCM frames into Opus packets for streaming transports.
// Stateful; one per stream. Safe for concurrent use, though calls serialize
// on an internal mutex.
type OpusEncoder struct {
	mu  sync.Mutex
	enc *gopus.Encoder
}

// NewOpusEncoder creates an encoder consuming PCM at the given rate and
// channel count.
func NewOpusEncoder(sampleRate, channels int) (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc}, nil
}

// Encode encodes one frame of interleaved PCM into a single Opus packet.
// The frame must hold a whole number of samples per channel matching one of
// the Opus frame sizes (2.5 to 60 ms).
func (e *OpusEncoder) Encode(pcm []int16, channels int) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	packet, err := e.enc.Encode(pcm, len(pcm)/channels, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("audio: encode opus packet: %w", err)
	}
	return packet, nil
}
