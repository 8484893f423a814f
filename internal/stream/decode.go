// ABOUTME: Audio file decoding to the canonical PCM format
// ABOUTME: Supports MP3 and FLAC, with downmix to mono and resample to 44.1kHz
package stream

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// DecodeFile decodes an audio file to canonical 16-bit LE mono 44.1kHz bytes
func DecodeFile(path string) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var samples []int16
	var rate int
	var err error

	switch ext {
	case ".mp3":
		samples, rate, err = decodeMP3(path)
	case ".flac":
		samples, rate, err = decodeFLAC(path)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac)", ext)
	}
	if err != nil {
		return nil, err
	}

	if rate != SampleRate {
		samples = Resample(samples, rate, SampleRate)
	}

	return encodeS16LE(samples), nil
}

// decodeMP3 decodes a whole MP3 file to mono samples at its native rate.
// go-mp3 always outputs interleaved 16-bit stereo.
func decodeMP3(path string) ([]int16, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode MP3: %w", err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("mp3 decode error: %w", err)
	}

	// Interleaved stereo int16 frames: average the pair into one mono sample.
	frames := len(raw) / 4
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		left := int16(binary.LittleEndian.Uint16(raw[i*4:]))
		right := int16(binary.LittleEndian.Uint16(raw[i*4+2:]))
		mono[i] = int16((int32(left) + int32(right)) / 2)
	}

	return mono, decoder.SampleRate(), nil
}

// decodeFLAC decodes a whole FLAC file to mono samples at its native rate
func decodeFLAC(path string) ([]int16, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open FLAC file: %w", err)
	}
	defer f.Close()

	stream, err := flac.New(f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	channels := int(info.NChannels)
	bitDepth := int(info.BitsPerSample)

	var mono []int16
	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("flac frame error: %w", err)
		}

		for i := 0; i < int(frame.BlockSize); i++ {
			var sum int64
			for ch := 0; ch < channels; ch++ {
				sum += int64(toInt16(frame.Subframes[ch].Samples[i], bitDepth))
			}
			mono = append(mono, int16(sum/int64(channels)))
		}
	}

	return mono, int(info.SampleRate), nil
}

// toInt16 scales a FLAC sample of arbitrary bit depth into 16-bit range
func toInt16(sample int32, bitDepth int) int16 {
	switch {
	case bitDepth == 16:
		return int16(sample)
	case bitDepth > 16:
		return int16(sample >> (bitDepth - 16))
	default:
		return int16(sample << (16 - bitDepth))
	}
}

// encodeS16LE serializes samples as signed 16-bit little-endian bytes
func encodeS16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
