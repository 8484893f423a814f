// ABOUTME: Tests for the streaming engine chunk math and serving
// ABOUTME: Covers chunk alignment, EOF, unload, and position formulas
package stream

import (
	"bytes"
	"testing"
)

func TestChunkIndexForPosition(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		want    int
	}{
		{"start", 0.0, 0},
		{"mid-first-chunk", 0.02, 0},
		{"pause position from scenario", 12.3, 264},
		{"seek position from scenario", 60.0, 1291},
		{"negative clamps to zero", -1.0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChunkIndexForPosition(tt.seconds); got != tt.want {
				t.Errorf("ChunkIndexForPosition(%v) = %d, want %d", tt.seconds, got, tt.want)
			}
		})
	}
}

func TestPositionForChunkRoundTrip(t *testing.T) {
	for _, idx := range []int{0, 1, 264, 1291, 5000} {
		pos := PositionForChunk(idx)
		if got := ChunkIndexForPosition(pos); got != idx {
			t.Errorf("chunk %d -> %.4fs -> chunk %d", idx, pos, got)
		}
	}
}

// fillBuffer loads a synthetic buffer directly, bypassing file decode.
func fillBuffer(e *Engine, roomCode string, chunks int, tail int) []byte {
	buf := make([]byte, chunks*ChunkSize+tail)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	e.LoadPCM(roomCode, buf)
	return buf
}

func TestServeChunkAlignment(t *testing.T) {
	e := NewEngine()
	buf := fillBuffer(e, "ROOM01", 3, 0)

	for i := 0; i < 3; i++ {
		chunk := e.Serve("ROOM01", i)
		if len(chunk) != ChunkSize {
			t.Fatalf("chunk %d: expected %d bytes, got %d", i, ChunkSize, len(chunk))
		}
		if !bytes.Equal(chunk, buf[i*ChunkSize:(i+1)*ChunkSize]) {
			t.Errorf("chunk %d bytes do not match buffer slice", i)
		}
	}
}

func TestServePastEOF(t *testing.T) {
	e := NewEngine()
	fillBuffer(e, "ROOM01", 2, 0)

	if chunk := e.Serve("ROOM01", 2); chunk != nil {
		t.Errorf("expected nil past EOF, got %d bytes", len(chunk))
	}
	if chunk := e.Serve("ROOM01", -1); chunk != nil {
		t.Error("expected nil for negative index")
	}
}

func TestServePartialFinalChunk(t *testing.T) {
	e := NewEngine()
	fillBuffer(e, "ROOM01", 1, 100)

	chunk := e.Serve("ROOM01", 1)
	if len(chunk) != 100 {
		t.Errorf("expected 100-byte tail chunk, got %d", len(chunk))
	}
	// Whole-chunk count excludes the partial tail.
	if got := e.TotalChunks("ROOM01"); got != 1 {
		t.Errorf("expected 1 total chunk, got %d", got)
	}
}

func TestServeUnknownRoom(t *testing.T) {
	e := NewEngine()
	if chunk := e.Serve("NOROOM", 0); chunk != nil {
		t.Error("expected nil for unloaded room")
	}
}

func TestUnload(t *testing.T) {
	e := NewEngine()
	fillBuffer(e, "ROOM01", 2, 0)

	if !e.Loaded("ROOM01") {
		t.Fatal("expected buffer loaded")
	}
	e.Unload("ROOM01")
	if e.Loaded("ROOM01") {
		t.Error("expected buffer dropped")
	}
	if chunk := e.Serve("ROOM01", 0); chunk != nil {
		t.Error("expected nil after unload")
	}
}

func TestLoadReplacesBuffer(t *testing.T) {
	e := NewEngine()
	fillBuffer(e, "ROOM01", 4, 0)
	fillBuffer(e, "ROOM01", 2, 0)

	if got := e.TotalChunks("ROOM01"); got != 2 {
		t.Errorf("expected replacement buffer with 2 chunks, got %d", got)
	}
}

func TestDecodeFileUnsupportedFormat(t *testing.T) {
	if _, err := DecodeFile("song.ogg"); err == nil {
		t.Error("expected error for unsupported extension")
	}
}
