// ABOUTME: Tests for the voice-to-output conversion and capture routing
package client

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/campfire-jams/jams-go/internal/protocol"
	"github.com/campfire-jams/jams-go/internal/voice"
)

func TestVoicePCMToStreamResamplesAndEncodes(t *testing.T) {
	// One 20ms frame at the voice rate, constant amplitude.
	frame := make([]int16, voice.FrameSamples)
	for i := range frame {
		frame[i] = 1000
	}

	out := voicePCMToStream(frame)

	// 960 samples at 48kHz resample to 882 at 44.1kHz, two bytes each.
	if len(out) != 882*2 {
		t.Fatalf("output length %d, want %d", len(out), 882*2)
	}
	for i := 0; i < len(out); i += 2 {
		if v := int16(binary.LittleEndian.Uint16(out[i:])); v != 1000 {
			t.Fatalf("sample %d = %d, want 1000", i/2, v)
		}
	}
}

// scriptedSource plays back a fixed set of frames, then reports EOF
type scriptedSource struct {
	frames [][]int16
	idx    int
}

func (s *scriptedSource) ReadFrame() ([]int16, error) {
	if s.idx >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.idx]
	s.idx++
	return f, nil
}

func (s *scriptedSource) Close() error { return nil }

func TestAttachVoiceCaptureRoutesFramesAndTalking(t *testing.T) {
	wsURL, conns := stubServer(t)

	s, err := Connect(wsURL, "alice", 0, Callbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(s.Close)

	srv := serverConn(t, conns)
	serverSend(t, srv, protocol.EventRoomCreated, protocol.RoomCreated{RoomCode: "ABC123"})

	// Two loud frames: one talking transition, then encoded voice.
	loud := make([]int16, voice.FrameSamples)
	for i := range loud {
		loud[i] = 2000
	}
	src := &scriptedSource{frames: [][]int16{loud, loud}}

	capture, err := s.AttachVoiceCapture(src)
	if err != nil {
		t.Fatalf("AttachVoiceCapture: %v", err)
	}
	t.Cleanup(capture.Stop)

	var talking protocol.UserTalkingState
	if err := serverExpect(t, srv, protocol.EventUserTalkingState).Decode(&talking); err != nil {
		t.Fatal(err)
	}
	if !talking.IsTalking || talking.Username != "alice" {
		t.Errorf("talking state: %+v", talking)
	}

	var frame protocol.VoiceData
	if err := serverExpect(t, srv, protocol.EventVoiceData).Decode(&frame); err != nil {
		t.Fatal(err)
	}
	if len(frame.Data) == 0 {
		t.Error("voice frame shipped empty")
	}
}

func TestWriteVoiceWithoutDevice(t *testing.T) {
	a := NewAudioStream(func(int) {})
	a.outFailed = true

	// No device: voice frames are swallowed without opening anything.
	a.WriteVoice(make([]byte, 1764))
	if a.out != nil {
		t.Error("output opened despite device failure")
	}
}
