// ABOUTME: Audio output device using oto
// ABOUTME: Streams canonical PCM through a pipe-fed player
package client

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/campfire-jams/jams-go/internal/stream"
)

// Output wraps an oto player fed by a pipe. Chunk writes land in the pipe;
// oto drains it on its own schedule.
type Output struct {
	otoCtx *oto.Context

	mu     sync.Mutex
	player *oto.Player
	pw     *io.PipeWriter

	// Voice rides a second player; oto mixes all players on one context
	voicePlayer *oto.Player
	voicePW     *io.PipeWriter
}

// NewOutput opens the audio device for the canonical stream format
func NewOutput() (*Output, error) {
	op := &oto.NewContextOptions{
		SampleRate:   stream.SampleRate,
		ChannelCount: stream.Channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-readyChan

	log.Printf("Audio output initialized: %dHz, %d channel",
		stream.SampleRate, stream.Channels)

	o := &Output{otoCtx: ctx}
	o.startPlayer()
	return o, nil
}

// startPlayer builds a fresh pipe and player. Callers hold the mutex or own
// the Output exclusively.
func (o *Output) startPlayer() {
	pr, pw := io.Pipe()
	o.pw = pw
	o.player = o.otoCtx.NewPlayer(pr)
	o.player.Play()
}

// Write feeds one chunk of PCM to the device
func (o *Output) Write(data []byte) {
	o.mu.Lock()
	pw := o.pw
	o.mu.Unlock()
	if pw == nil {
		return
	}
	if _, err := pw.Write(data); err != nil {
		log.Printf("Audio output write error: %v", err)
	}
}

// WriteVoice feeds one voice frame to the device, mixed over whatever the
// music player is doing. The voice player opens on first use and survives
// music resets.
func (o *Output) WriteVoice(data []byte) {
	o.mu.Lock()
	if o.voicePW == nil {
		pr, pw := io.Pipe()
		o.voicePW = pw
		o.voicePlayer = o.otoCtx.NewPlayer(pr)
		o.voicePlayer.Play()
	}
	pw := o.voicePW
	o.mu.Unlock()

	if _, err := pw.Write(data); err != nil {
		log.Printf("Voice output write error: %v", err)
	}
}

// Pause suspends the device without dropping buffered audio
func (o *Output) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player != nil {
		o.player.Pause()
	}
}

// Resume continues playback after a pause
func (o *Output) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player != nil {
		o.player.Play()
	}
}

// Reset discards buffered audio by replacing the player, for seeks and
// track changes.
func (o *Output) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.teardown()
	o.startPlayer()
}

// Close shuts the device down
func (o *Output) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.teardown()
	if o.voicePW != nil {
		o.voicePW.Close()
		o.voicePW = nil
	}
	if o.voicePlayer != nil {
		o.voicePlayer.Close()
		o.voicePlayer = nil
	}
}

// teardown closes the music player and pipe. Callers hold the mutex.
func (o *Output) teardown() {
	if o.pw != nil {
		o.pw.Close()
		o.pw = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
}
