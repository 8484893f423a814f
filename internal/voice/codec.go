// ABOUTME: Opus codec wrappers for the voice chat stream
// ABOUTME: Wraps libopus for 20ms mono frames at 48kHz
package voice

import (
	"fmt"
	"log"

	"gopkg.in/hraban/opus.v2"
)

// Voice frames are fixed: 48kHz mono, 20ms per frame
const (
	SampleRate     = 48000
	Channels       = 1
	FrameDuration  = 20 // milliseconds
	FrameSamples   = SampleRate * FrameDuration / 1000
	maxPacketBytes = 4000
)

// Encoder wraps the Opus encoder for voice capture
type Encoder struct {
	encoder *opus.Encoder
}

// NewEncoder creates a voice encoder in VoIP mode
func NewEncoder() (*Encoder, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	if err := enc.SetBitrate(32000); err != nil {
		log.Printf("Warning: Failed to set Opus bitrate: %v", err)
	}

	return &Encoder{encoder: enc}, nil
}

// Encode compresses one 20ms frame of PCM into an Opus packet
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != FrameSamples {
		return nil, fmt.Errorf("expected %d samples per frame, got %d", FrameSamples, len(pcm))
	}

	output := make([]byte, maxPacketBytes)
	n, err := e.encoder.Encode(pcm, output)
	if err != nil {
		return nil, fmt.Errorf("opus encode failed: %w", err)
	}
	return output[:n], nil
}

// Decoder wraps the Opus decoder for voice playback
type Decoder struct {
	decoder *opus.Decoder
}

// NewDecoder creates a voice decoder
func NewDecoder() (*Decoder, error) {
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &Decoder{decoder: dec}, nil
}

// Decode expands one Opus packet back into PCM samples
func (d *Decoder) Decode(packet []byte) ([]int16, error) {
	pcm := make([]int16, FrameSamples)
	n, err := d.decoder.Decode(packet, pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}
	return pcm[:n*Channels], nil
}
