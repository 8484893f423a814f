// ABOUTME: Binds the voice capture and playback loops to a session
// ABOUTME: Decoded voice is resampled to the stream rate and mixed locally
package client

import (
	"encoding/binary"
	"log"

	"github.com/campfire-jams/jams-go/internal/stream"
	"github.com/campfire-jams/jams-go/internal/voice"
)

// PlayVoicePCM plays one decoded voice frame through the shared output
// device. Suitable as a voice.Playback sink.
func (s *Session) PlayVoicePCM(pcm []int16) {
	s.audio.WriteVoice(voicePCMToStream(pcm))
}

// AttachVoiceCapture runs a capture loop over source, shipping encoded
// frames and talking transitions through the session. The returned capture
// is started; the caller stops it on shutdown.
func (s *Session) AttachVoiceCapture(source voice.CaptureSource) (*voice.Capture, error) {
	capture, err := voice.NewCapture(source)
	if err != nil {
		return nil, err
	}
	capture.OnFrame = func(packet []byte) {
		if err := s.SendVoice(packet); err != nil {
			log.Printf("Voice frame send failed: %v", err)
		}
	}
	capture.OnTalking = func(talking bool) {
		if err := s.SetTalking(talking); err != nil {
			log.Printf("Talking state send failed: %v", err)
		}
	}
	capture.Start()
	return capture, nil
}

// voicePCMToStream converts a decoded voice frame to output-device bytes:
// resampled from the voice rate to the stream rate, then s16le.
func voicePCMToStream(pcm []int16) []byte {
	mixed := stream.Resample(pcm, voice.SampleRate, stream.SampleRate)
	out := make([]byte, len(mixed)*2)
	for i, sample := range mixed {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}
