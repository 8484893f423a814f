// ABOUTME: Integration tests for the jam session server over real websockets
// ABOUTME: Covers room lifecycle, queue sync, stream control gating, and voice relay
package server

import (
	"encoding/json"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/campfire-jams/jams-go/internal/protocol"
	"github.com/campfire-jams/jams-go/internal/stream"
)

// startTestServer runs the event loop and serves /jams over httptest
func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	s, err := New(Config{DownloadsDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.mux.HandleFunc("/jams", s.handleWebSocket)
	go s.runLoop()

	ts := httptest.NewServer(s.mux)
	t.Cleanup(func() {
		s.Stop()
		ts.Close()
	})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/jams"
	return s, wsURL
}

// onLoop runs fn on the server event loop and waits for it
func onLoop(t *testing.T, s *Server, fn func()) {
	t.Helper()
	done := make(chan struct{})
	s.post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not run posted closure")
	}
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	msg, err := protocol.Encode(msgType, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", msgType, err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// expect reads messages until one of the wanted type arrives
func expect(t *testing.T, ws *websocket.Conn, msgType string) protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		ws.SetReadDeadline(deadline)
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad frame waiting for %s: %v", msgType, err)
		}
		if msg.Type == msgType {
			return msg
		}
	}
}

// expectNone fails if a message of the given type arrives within the window
func expectNone(t *testing.T, ws *websocket.Conn, msgType string, window time.Duration) {
	t.Helper()
	deadline := time.Now().Add(window)
	for {
		ws.SetReadDeadline(deadline)
		_, data, err := ws.ReadMessage()
		if err != nil {
			return // timeout means nothing arrived
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == msgType {
			t.Fatalf("unexpected %s: %s", msgType, string(msg.Data))
		}
	}
}

func createRoom(t *testing.T, ws *websocket.Conn, username string) string {
	t.Helper()
	send(t, ws, protocol.EventCreateRoom, protocol.CreateRoom{Username: username})
	var created protocol.RoomCreated
	if err := expect(t, ws, protocol.EventRoomCreated).Decode(&created); err != nil {
		t.Fatal(err)
	}
	return created.RoomCode
}

func joinRoom(t *testing.T, ws *websocket.Conn, code, username string) protocol.RoomJoined {
	t.Helper()
	send(t, ws, protocol.EventJoinRoom, protocol.JoinRoom{RoomCode: code, Username: username})
	var joined protocol.RoomJoined
	if err := expect(t, ws, protocol.EventRoomJoined).Decode(&joined); err != nil {
		t.Fatal(err)
	}
	return joined
}

func TestCreateRoom(t *testing.T) {
	_, wsURL := startTestServer(t)
	ws := dial(t, wsURL)

	code := createRoom(t, ws, "alice")
	if !regexp.MustCompile(`^[A-Z0-9]{6}$`).MatchString(code) {
		t.Errorf("bad room code: %q", code)
	}
}

func TestJoinRoomFlow(t *testing.T) {
	_, wsURL := startTestServer(t)
	host := dial(t, wsURL)
	joiner := dial(t, wsURL)

	code := createRoom(t, host, "alice")
	joined := joinRoom(t, joiner, code, "bob")

	if len(joined.Players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(joined.Players))
	}
	if joined.Players[1].Username != "bob" || joined.Players[1].Position != 1 {
		t.Errorf("joiner seated wrong: %+v", joined.Players[1])
	}

	// Joiner is brought up to date with queue and index.
	var synced protocol.QueueSynced
	if err := expect(t, joiner, protocol.EventQueueSynced).Decode(&synced); err != nil {
		t.Fatal(err)
	}
	if len(synced.Queue) != 0 {
		t.Errorf("expected empty queue, got %d", len(synced.Queue))
	}
	var idx protocol.CurrentIndexSynced
	if err := expect(t, joiner, protocol.EventCurrentIndexSynced).Decode(&idx); err != nil {
		t.Fatal(err)
	}
	if idx.CurrentIdx != -1 {
		t.Errorf("expected current index -1, got %d", idx.CurrentIdx)
	}

	// Host hears about the new arrival.
	var userJoined protocol.UserJoined
	if err := expect(t, host, protocol.EventUserJoined).Decode(&userJoined); err != nil {
		t.Fatal(err)
	}
	if userJoined.Username != "bob" || userJoined.PositionIdx != 1 {
		t.Errorf("user_joined: %+v", userJoined)
	}
	var roster protocol.PlayersUpdated
	if err := expect(t, host, protocol.EventPlayersUpdated).Decode(&roster); err != nil {
		t.Fatal(err)
	}
	if len(roster.Players) != 2 {
		t.Errorf("players_updated roster: %+v", roster.Players)
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	_, wsURL := startTestServer(t)
	ws := dial(t, wsURL)

	send(t, ws, protocol.EventJoinRoom, protocol.JoinRoom{RoomCode: "NOPE99", Username: "bob"})
	var errPayload protocol.ErrorPayload
	if err := expect(t, ws, protocol.EventError).Decode(&errPayload); err != nil {
		t.Fatal(err)
	}
	if errPayload.Message != "Room not found" {
		t.Errorf("error message: %q", errPayload.Message)
	}
}

func TestAddURLDeduplicatesAgainstLibrary(t *testing.T) {
	s, wsURL := startTestServer(t)

	known := protocol.Track{
		SongID:     "4uLU6hMCjMI75M1A2tKUQC",
		Name:       "Never Gonna Give You Up",
		Title:      "Never Gonna Give You Up",
		Artist:     "Rick Astley",
		URL:        "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC",
		Filepath:   "downloads/Rick Astley - Never Gonna Give You Up.mp3",
		CoverImage: []byte{0x89, 0x50, 0x4e, 0x47},
	}
	onLoop(t, s, func() {
		if err := s.lib.Insert(known); err != nil {
			t.Errorf("insert: %v", err)
		}
	})

	ws := dial(t, wsURL)
	code := createRoom(t, ws, "alice")

	send(t, ws, protocol.EventAddURLToQueue, protocol.AddURLToQueue{
		RoomCode: code,
		URL:      known.URL,
	})

	expect(t, ws, protocol.EventURLProcessing)

	var synced protocol.QueueSynced
	if err := expect(t, ws, protocol.EventQueueSynced).Decode(&synced); err != nil {
		t.Fatal(err)
	}
	if len(synced.Queue) != 1 || synced.Queue[0].SongID != known.SongID {
		t.Fatalf("queue_synced: %+v", synced.Queue)
	}
	// Covers are stripped on the wire, with the flag left behind.
	if len(synced.Queue[0].CoverImage) != 0 || !synced.Queue[0].HasCoverImage {
		t.Error("expected stripped cover with has_cover_image set")
	}

	var processed protocol.URLProcessed
	if err := expect(t, ws, protocol.EventURLProcessed).Decode(&processed); err != nil {
		t.Fatal(err)
	}
	if processed.Status != protocol.StatusSuccess {
		t.Errorf("status %q: %s", processed.Status, processed.Message)
	}
	if processed.Song == nil || processed.Song.SongID != known.SongID {
		t.Errorf("url_processed song: %+v", processed.Song)
	}
}

func TestAddURLInvalid(t *testing.T) {
	_, wsURL := startTestServer(t)
	ws := dial(t, wsURL)
	code := createRoom(t, ws, "alice")

	send(t, ws, protocol.EventAddURLToQueue, protocol.AddURLToQueue{
		RoomCode: code,
		URL:      "https://example.com/not-a-track",
	})

	expect(t, ws, protocol.EventURLProcessing)
	var processed protocol.URLProcessed
	if err := expect(t, ws, protocol.EventURLProcessed).Decode(&processed); err != nil {
		t.Fatal(err)
	}
	if processed.Status != protocol.StatusError {
		t.Errorf("expected error status, got %q", processed.Status)
	}
}

func TestQueueUpdatedBroadcastsToRoom(t *testing.T) {
	_, wsURL := startTestServer(t)
	host := dial(t, wsURL)
	other := dial(t, wsURL)

	code := createRoom(t, host, "alice")
	joinRoom(t, other, code, "bob")

	queue := []protocol.Track{
		{SongID: "s1", Name: "One", Title: "One"},
		{SongID: "s2", Name: "Two", Title: "Two"},
	}
	send(t, host, protocol.EventQueueUpdated, protocol.QueueUpdated{
		RoomCode: code,
		Queue:    queue,
	})

	for _, ws := range []*websocket.Conn{host, other} {
		var synced protocol.QueueSynced
		if err := expect(t, ws, protocol.EventQueueSynced).Decode(&synced); err != nil {
			t.Fatal(err)
		}
		if len(synced.Queue) != 2 || synced.Queue[0].SongID != "s1" || synced.Queue[1].SongID != "s2" {
			t.Errorf("queue mismatch: %+v", synced.Queue)
		}
		if synced.UpdatedBy != "alice" {
			t.Errorf("updated_by: %q", synced.UpdatedBy)
		}
	}
}

func TestPauseGatesChunkServing(t *testing.T) {
	s, wsURL := startTestServer(t)
	ws := dial(t, wsURL)
	code := createRoom(t, ws, "alice")

	pcm := make([]byte, stream.ChunkSize*4)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	onLoop(t, s, func() { s.engine.LoadPCM(code, pcm) })

	// Chunks flow while the room is not paused.
	send(t, ws, protocol.EventRequestAudioChunk, protocol.RequestAudioChunk{
		RoomCode: code, ChunkIndex: 0,
	})
	var chunk protocol.AudioChunk
	if err := expect(t, ws, protocol.EventAudioChunk).Decode(&chunk); err != nil {
		t.Fatal(err)
	}
	if chunk.ChunkIndex != 0 || len(chunk.AudioData) != stream.ChunkSize {
		t.Fatalf("chunk 0: index=%d len=%d", chunk.ChunkIndex, len(chunk.AudioData))
	}

	// Pause, then verify chunk requests go unanswered.
	send(t, ws, protocol.EventPauseStream, protocol.StreamControl{
		RoomCode: code, SongIndex: 0, Position: 12.3,
	})
	var paused protocol.StreamControl
	if err := expect(t, ws, protocol.EventStreamPaused).Decode(&paused); err != nil {
		t.Fatal(err)
	}
	if paused.Position != 12.3 {
		t.Errorf("paused position: %v", paused.Position)
	}

	send(t, ws, protocol.EventRequestAudioChunk, protocol.RequestAudioChunk{
		RoomCode: code, ChunkIndex: 1,
	})
	expectNone(t, ws, protocol.EventAudioChunk, 300*time.Millisecond)

	// Resume from the pause position; serving works again.
	send(t, ws, protocol.EventResumeStream, protocol.StreamControl{
		RoomCode: code, SongIndex: 0, Position: 12.3,
	})
	expect(t, ws, protocol.EventStreamResumed)

	send(t, ws, protocol.EventRequestAudioChunk, protocol.RequestAudioChunk{
		RoomCode: code, ChunkIndex: 1,
	})
	if err := expect(t, ws, protocol.EventAudioChunk).Decode(&chunk); err != nil {
		t.Fatal(err)
	}
	if chunk.ChunkIndex != 1 {
		t.Errorf("resumed chunk index: %d", chunk.ChunkIndex)
	}
}

func TestSeekBroadcast(t *testing.T) {
	_, wsURL := startTestServer(t)
	host := dial(t, wsURL)
	other := dial(t, wsURL)

	code := createRoom(t, host, "alice")
	joinRoom(t, other, code, "bob")

	send(t, host, protocol.EventSeekStream, protocol.StreamControl{
		RoomCode: code, SongIndex: 0, Position: 60.0,
	})

	for _, ws := range []*websocket.Conn{host, other} {
		var seeked protocol.StreamControl
		if err := expect(t, ws, protocol.EventStreamSeeked).Decode(&seeked); err != nil {
			t.Fatal(err)
		}
		if seeked.Position != 60.0 {
			t.Errorf("seek position: %v", seeked.Position)
		}
	}
}

func TestVoiceRelayExcludesSender(t *testing.T) {
	_, wsURL := startTestServer(t)
	host := dial(t, wsURL)
	other := dial(t, wsURL)

	code := createRoom(t, host, "alice")
	joinRoom(t, other, code, "bob")
	// Drain the membership traffic on the host side.
	expect(t, host, protocol.EventPlayersUpdated)

	frame := []byte{0x01, 0x02, 0x03}
	send(t, host, protocol.EventVoiceData, protocol.VoiceData{
		RoomCode: code, Username: "alice", Data: frame,
	})

	var voice protocol.VoiceData
	if err := expect(t, other, protocol.EventVoiceData).Decode(&voice); err != nil {
		t.Fatal(err)
	}
	if voice.Username != "alice" || len(voice.Data) != len(frame) {
		t.Errorf("voice relay: %+v", voice)
	}

	expectNone(t, host, protocol.EventVoiceData, 300*time.Millisecond)
}

func TestTalkingStateRelay(t *testing.T) {
	_, wsURL := startTestServer(t)
	host := dial(t, wsURL)
	other := dial(t, wsURL)

	code := createRoom(t, host, "alice")
	joinRoom(t, other, code, "bob")

	send(t, other, protocol.EventUserTalkingState, protocol.UserTalkingState{
		RoomCode: code, Username: "bob", IsTalking: true,
	})

	var update protocol.UserTalkingUpdate
	if err := expect(t, host, protocol.EventUserTalkingUpdate).Decode(&update); err != nil {
		t.Fatal(err)
	}
	if update.Username != "bob" || !update.IsTalking {
		t.Errorf("talking update: %+v", update)
	}
}

func TestDisconnectAnnouncesDeparture(t *testing.T) {
	_, wsURL := startTestServer(t)
	host := dial(t, wsURL)
	other := dial(t, wsURL)

	code := createRoom(t, host, "alice")
	joinRoom(t, other, code, "bob")

	other.Close()

	var left protocol.UserLeft
	if err := expect(t, host, protocol.EventUserLeft).Decode(&left); err != nil {
		t.Fatal(err)
	}
	if left.Username != "bob" {
		t.Errorf("user_left: %+v", left)
	}

	var roster protocol.PlayersUpdated
	// Two players_updated arrive: one from the join, one from the leave.
	expect(t, host, protocol.EventPlayersUpdated)
	if err := expect(t, host, protocol.EventPlayersUpdated).Decode(&roster); err != nil {
		t.Fatal(err)
	}
	if len(roster.Players) != 1 || roster.Players[0].Username != "alice" {
		t.Errorf("roster after leave: %+v", roster.Players)
	}
}

func TestPlaySongInvalidIndexIsDropped(t *testing.T) {
	s, wsURL := startTestServer(t)
	ws := dial(t, wsURL)
	code := createRoom(t, ws, "alice")

	send(t, ws, protocol.EventPlaySong, protocol.PlaySong{RoomCode: code, SongIndex: 0})

	// Out-of-range indices are logged and ignored; no error, no broadcast.
	deadline := time.Now().Add(300 * time.Millisecond)
	for {
		ws.SetReadDeadline(deadline)
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var msg protocol.Message
		if json.Unmarshal(data, &msg) == nil {
			if msg.Type == protocol.EventError || msg.Type == protocol.EventSongStarted {
				t.Fatalf("unexpected %s: %s", msg.Type, string(msg.Data))
			}
		}
	}

	onLoop(t, s, func() {
		r := s.rooms.Get(code)
		if r.CurrentIdx != -1 || r.IsPlaying {
			t.Errorf("room state moved: idx=%d playing=%v", r.CurrentIdx, r.IsPlaying)
		}
	})
}

func TestPlaySongLoadFailureLeavesRoomUntouched(t *testing.T) {
	s, wsURL := startTestServer(t)
	ws := dial(t, wsURL)
	code := createRoom(t, ws, "alice")

	ghost := protocol.Track{SongID: "g1", Name: "Ghost", Filepath: "/nonexistent/ghost.mp3"}
	onLoop(t, s, func() { s.rooms.Get(code).AppendTrack(ghost) })

	send(t, ws, protocol.EventPlaySong, protocol.PlaySong{RoomCode: code, SongIndex: 0})

	// The initiator gets a unicast error; no song_started or
	// audio_stream_ready reaches anyone.
	deadline := time.Now().Add(2 * time.Second)
	for {
		ws.SetReadDeadline(deadline)
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for error: %v", err)
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type == protocol.EventSongStarted || msg.Type == protocol.EventAudioStreamReady {
			t.Fatalf("broadcast %s despite load failure", msg.Type)
		}
		if msg.Type == protocol.EventError {
			var p protocol.ErrorPayload
			if err := msg.Decode(&p); err != nil {
				t.Fatal(err)
			}
			if p.Message != "Failed to load audio for song" {
				t.Errorf("error message: %q", p.Message)
			}
			break
		}
	}

	onLoop(t, s, func() {
		r := s.rooms.Get(code)
		if r.CurrentIdx != -1 || r.IsPlaying {
			t.Errorf("queue position moved: idx=%d playing=%v", r.CurrentIdx, r.IsPlaying)
		}
	})
}

func TestPlaySongRepeatForPlayingIndexIsNoOp(t *testing.T) {
	s, wsURL := startTestServer(t)
	ws := dial(t, wsURL)
	code := createRoom(t, ws, "alice")

	onLoop(t, s, func() {
		r := s.rooms.Get(code)
		r.AppendTrack(protocol.Track{SongID: "s1", Name: "One"})
		r.CurrentIdx = 0
		r.IsPlaying = true
	})

	// The index is already playing; a second play_song must not restart it.
	send(t, ws, protocol.EventPlaySong, protocol.PlaySong{RoomCode: code, SongIndex: 0})
	expectNone(t, ws, protocol.EventSongStarted, 300*time.Millisecond)
}

func TestUsernameTruncatedToSeatWidth(t *testing.T) {
	_, wsURL := startTestServer(t)
	host := dial(t, wsURL)
	joiner := dial(t, wsURL)

	code := createRoom(t, host, "alexandria")
	joined := joinRoom(t, joiner, code, "bartholomew")

	if joined.Players[0].Username != "alexan" {
		t.Errorf("host name: %q", joined.Players[0].Username)
	}
	if joined.Players[1].Username != "bartho" {
		t.Errorf("joiner name: %q", joined.Players[1].Username)
	}
}
