// ABOUTME: Jam session wire protocol message definitions
// ABOUTME: Defines the envelope and payload structs for every sync event
package protocol

import (
	"encoding/json"
	"fmt"
)

// Event type names as they appear on the wire.
const (
	EventCreateRoom         = "create_room"
	EventJoinRoom           = "join_room"
	EventRoomCreated        = "room_created"
	EventRoomJoined         = "room_joined"
	EventUserJoined         = "user_joined"
	EventUserLeft           = "user_left"
	EventPlayersUpdated     = "players_updated"
	EventAddURLToQueue      = "add_url_to_queue"
	EventURLProcessing      = "url_processing"
	EventURLProcessed       = "url_processed"
	EventQueueUpdated       = "queue_updated"
	EventQueueSynced        = "queue_synced"
	EventSyncCurrentIndex   = "sync_current_index"
	EventCurrentIndexSynced = "current_index_synced"
	EventPlaySong           = "play_song"
	EventSongStarted        = "song_started"
	EventPauseStream        = "pause_stream"
	EventResumeStream       = "resume_stream"
	EventSeekStream         = "seek_stream"
	EventStreamPaused       = "stream_paused"
	EventStreamResumed      = "stream_resumed"
	EventStreamSeeked       = "stream_seeked"
	EventAudioStreamReady   = "audio_stream_ready"
	EventRequestAudioChunk  = "request_audio_chunk"
	EventAudioChunk         = "audio_chunk"
	EventUserTalkingState   = "user_talking_state"
	EventUserTalkingUpdate  = "user_talking_update"
	EventVoiceData          = "voice_data"
	EventError              = "error"
)

// Status values for URLProcessed.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Message is the top-level wrapper for all protocol messages
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode wraps a payload into a Message
func Encode(msgType string, payload interface{}) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Data: data}, nil
}

// MustEncode wraps a payload and panics on marshal failure. Payload structs
// in this package always marshal; this keeps emit call sites flat.
func MustEncode(msgType string, payload interface{}) Message {
	msg, err := Encode(msgType, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the message payload into v
func (m Message) Decode(v interface{}) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("message %s has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Track describes one piece of music in the library or a queue.
// CoverImage rides the wire base64-encoded; a stripped queue entry clears it
// and sets HasCoverImage so the receiver can restore the bytes from its own
// library by SongID.
type Track struct {
	SongID        string `json:"song_id"`
	Name          string `json:"name"`
	Title         string `json:"title"`
	Artist        string `json:"artist"`
	Album         string `json:"album"`
	LengthSec     int    `json:"length"`
	URL           string `json:"url"`
	Filepath      string `json:"filepath"`
	CoverImage    []byte `json:"cover_image,omitempty"`
	HasCoverImage bool   `json:"has_cover_image,omitempty"`
}

// DisplayTitle returns the track title, falling back to the sidecar name.
func (t Track) DisplayTitle() string {
	if t.Title != "" {
		return t.Title
	}
	return t.Name
}

// Player is a room participant as seen by clients
type Player struct {
	Username string `json:"username"`
	ColorIdx int    `json:"color_idx"`
	Position int    `json:"position"`
}

// CreateRoom requests a new room (client to server)
type CreateRoom struct {
	Username string `json:"username"`
	ColorIdx int    `json:"color_idx"`
}

// JoinRoom requests membership in an existing room
type JoinRoom struct {
	RoomCode string `json:"room_code"`
	Username string `json:"username"`
	ColorIdx int    `json:"color_idx"`
}

// RoomCreated acknowledges room creation to the host
type RoomCreated struct {
	RoomCode string `json:"room_code"`
}

// RoomJoined acknowledges a join to the joiner with the current roster
type RoomJoined struct {
	RoomCode string   `json:"room_code"`
	Players  []Player `json:"players"`
}

// UserJoined announces a new participant to the room
type UserJoined struct {
	Username    string `json:"username"`
	ColorIdx    int    `json:"color_idx"`
	PositionIdx int    `json:"position_idx"`
}

// UserLeft announces a departure to the room
type UserLeft struct {
	Username string `json:"username"`
}

// PlayersUpdated carries the full roster after any membership change
type PlayersUpdated struct {
	Players []Player `json:"players"`
}

// AddURLToQueue submits a track URL for acquisition
type AddURLToQueue struct {
	RoomCode string `json:"room_code"`
	URL      string `json:"url"`
}

// URLProcessing tells the initiator a download has started
type URLProcessing struct {
	Message string `json:"message"`
}

// URLProcessed tells the initiator how acquisition ended
type URLProcessed struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Song    *Track `json:"song,omitempty"`
}

// QueueUpdated replaces a room's queue (client to server)
type QueueUpdated struct {
	RoomCode string  `json:"room_code"`
	Queue    []Track `json:"queue"`
}

// QueueSynced broadcasts the authoritative queue to the room
type QueueSynced struct {
	Queue     []Track `json:"queue"`
	UpdatedBy string  `json:"updated_by"`
}

// SyncCurrentIndex sets a room's current index (client to server)
type SyncCurrentIndex struct {
	RoomCode   string `json:"room_code"`
	CurrentIdx int    `json:"current_idx"`
}

// CurrentIndexSynced broadcasts the authoritative current index
type CurrentIndexSynced struct {
	RoomCode   string `json:"room_code"`
	CurrentIdx int    `json:"current_idx"`
	UpdatedBy  string `json:"updated_by"`
}

// PlaySong starts playback of a queue index (client to server)
type PlaySong struct {
	RoomCode  string `json:"room_code"`
	SongIndex int    `json:"song_index"`
}

// SongStarted announces the track now playing
type SongStarted struct {
	RoomCode  string `json:"room_code"`
	SongIndex int    `json:"song_index"`
	Song      Track  `json:"song"`
}

// StreamControl is the shared payload of pause/resume/seek requests and
// their stream_paused/stream_resumed/stream_seeked broadcasts.
// Position is in seconds from the start of the track.
type StreamControl struct {
	RoomCode  string  `json:"room_code"`
	SongIndex int     `json:"song_index"`
	Position  float64 `json:"position"`
}

// AudioStreamReady announces that PCM for the current track is servable
type AudioStreamReady struct {
	RoomCode    string `json:"room_code"`
	Song        Track  `json:"song"`
	TotalChunks int    `json:"total_chunks"`
}

// RequestAudioChunk asks the server for one chunk by index
type RequestAudioChunk struct {
	RoomCode   string `json:"room_code"`
	ChunkIndex int    `json:"chunk_index"`
}

// AudioChunk carries one 4096-byte slice of canonical PCM, base64 on the wire
type AudioChunk struct {
	RoomCode   string `json:"room_code"`
	ChunkIndex int    `json:"chunk_index"`
	AudioData  []byte `json:"audio_data"`
}

// UserTalkingState reports the local voice-activity flag (client to server)
type UserTalkingState struct {
	RoomCode  string `json:"room_code"`
	Username  string `json:"username"`
	IsTalking bool   `json:"is_talking"`
}

// UserTalkingUpdate relays a voice-activity change to the other participants
type UserTalkingUpdate struct {
	Username  string `json:"username"`
	IsTalking bool   `json:"is_talking"`
}

// VoiceData is an opaque voice frame relayed to the emitter's room
type VoiceData struct {
	RoomCode string `json:"room_code"`
	Username string `json:"username"`
	Data     []byte `json:"data"`
}

// ErrorPayload carries a human-readable failure to one client
type ErrorPayload struct {
	Message string `json:"message"`
}

// StripQueue returns a copy of the queue with cover bytes removed and
// HasCoverImage set, for shipping over the wire.
func StripQueue(queue []Track) []Track {
	stripped := make([]Track, len(queue))
	for i, t := range queue {
		t.HasCoverImage = len(t.CoverImage) > 0
		t.CoverImage = nil
		stripped[i] = t
	}
	return stripped
}

// RestoreQueue fills cover bytes back into a stripped queue using the local
// library. Tracks whose song_id is unknown locally keep the bare flag.
func RestoreQueue(queue []Track, lookup func(songID string) ([]byte, bool)) []Track {
	restored := make([]Track, len(queue))
	for i, t := range queue {
		if t.HasCoverImage && len(t.CoverImage) == 0 {
			if cover, ok := lookup(t.SongID); ok {
				t.CoverImage = cover
			}
		}
		restored[i] = t
	}
	return restored
}
