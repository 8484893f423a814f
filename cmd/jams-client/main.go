// ABOUTME: Entry point for the jam session client TUI
// ABOUTME: Connects to a server (given or discovered), joins a room, runs the UI
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/campfire-jams/jams-go/internal/client"
	"github.com/campfire-jams/jams-go/internal/discovery"
	"github.com/campfire-jams/jams-go/internal/protocol"
	"github.com/campfire-jams/jams-go/internal/ui"
	"github.com/campfire-jams/jams-go/internal/voice"
)

var (
	serverURL = flag.String("server", "", "Server URL, e.g. ws://192.168.1.10:5000 (default: discover via mDNS)")
	username  = flag.String("username", "", "Display name, up to 6 characters (required)")
	colorIdx  = flag.Int("color", 0, "Color index 0-6")
	roomCode  = flag.String("room", "", "Room code to join (default: create a new room)")
	logFile   = flag.String("log-file", "jams-client.log", "Log file path")
)

func main() {
	flag.Parse()

	if *username == "" {
		fmt.Fprintln(os.Stderr, "-username is required")
		os.Exit(1)
	}
	name := *username
	if len(name) > 6 {
		name = name[:6]
	}

	// The TUI owns the terminal; logs go to the file only.
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	log.SetOutput(f)

	url := *serverURL
	if url == "" {
		url, err = discoverServer()
		if err != nil {
			fmt.Fprintf(os.Stderr, "no server found: %v\n", err)
			os.Exit(1)
		}
	}

	var program *tea.Program
	send := func(msg tea.Msg) {
		if program != nil {
			program.Send(msg)
		}
	}

	voicePlay, err := voice.NewPlayback()
	if err != nil {
		log.Printf("Voice playback unavailable: %v", err)
		voicePlay = nil
	}

	sess, err := client.Connect(url, name, *colorIdx, client.Callbacks{
		RoomEntered: func(code string) { send(ui.RoomMsg{Code: code}) },
		QueueChanged: func(queue []protocol.Track) {
			send(ui.QueueMsg{Queue: queue})
		},
		PlayersChanged: func(players []protocol.Player) {
			send(ui.PlayersMsg{Players: players})
		},
		PlayStateChanged: func(isPlaying, paused bool, currentIdx int) {
			send(ui.PlayStateMsg{IsPlaying: isPlaying, Paused: paused, CurrentIdx: currentIdx})
		},
		SongStarted: func(song protocol.Track, index int) {
			send(ui.SongMsg{Song: song, Index: index})
		},
		URLStatus: func(status, message string) {
			send(ui.URLStatusMsg{Status: status, Message: message})
		},
		TalkingChanged: func(username string, talking bool) {
			send(ui.TalkingMsg{Username: username, Talking: talking})
		},
		VoiceFrame: func(username string, frame []byte) {
			if voicePlay != nil && !voicePlay.Enqueue(frame) {
				log.Printf("Voice frame from %s dropped, playback queue full", username)
			}
		},
		Error: func(message string) { send(ui.ErrorMsg{Message: message}) },
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close()

	if voicePlay != nil {
		voicePlay.Sink = sess.PlayVoicePCM
		voicePlay.Start()
		defer voicePlay.Stop()
	}

	program = ui.Run(sess)

	if *roomCode != "" {
		err = sess.JoinRoom(*roomCode)
	} else {
		err = sess.CreateRoom()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to enter room: %v\n", err)
		os.Exit(1)
	}

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "UI error: %v\n", err)
		os.Exit(1)
	}
}

// discoverServer queries mDNS for the first advertised jams server
func discoverServer() (string, error) {
	info, err := discovery.Discover(5 * time.Second)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ws://%s:%d/jams", info.Host, info.Port), nil
}
