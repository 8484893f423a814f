// ABOUTME: Room record and participant seat management
// ABOUTME: Holds the authoritative queue, playback state, and host for one session
package room

import (
	"log"

	"github.com/campfire-jams/jams-go/internal/protocol"
)

// SeatCount is the number of rendered positions around the campfire.
// Joiners beyond SeatCount reuse seat 0 rather than being rejected.
const SeatCount = 4

// Participant is one connected member of a room
type Participant struct {
	SID      string
	Username string
	ColorIdx int
	Position int
}

// Room is the authoritative state for one jam session
type Room struct {
	Code       string
	Users      []*Participant // insertion order
	HostSID    string
	Queue      []protocol.Track
	CurrentIdx int
	IsPlaying  bool
	Paused     bool
}

// newRoom creates a room with its host seated at position 0
func newRoom(code, hostSID, username string, colorIdx int) *Room {
	return &Room{
		Code: code,
		Users: []*Participant{{
			SID:      hostSID,
			Username: username,
			ColorIdx: colorIdx,
			Position: 0,
		}},
		HostSID:    hostSID,
		CurrentIdx: -1,
	}
}

// Join seats a new participant at the smallest free position
func (r *Room) Join(sid, username string, colorIdx int) *Participant {
	p := &Participant{
		SID:      sid,
		Username: username,
		ColorIdx: colorIdx,
		Position: r.nextPosition(),
	}
	r.Users = append(r.Users, p)
	return p
}

// nextPosition returns the smallest seat not currently occupied.
// With all seats taken, seat 0 is reused (oversubscription is tolerated).
func (r *Room) nextPosition() int {
	used := make(map[int]bool, len(r.Users))
	for _, u := range r.Users {
		used[u.Position] = true
	}
	for pos := 0; pos < SeatCount; pos++ {
		if !used[pos] {
			return pos
		}
	}
	return 0
}

// Remove takes a participant out of the room by sid. If the host left, the
// first remaining participant inherits (seats are not reassigned).
// Returns the removed participant, or nil if the sid was not present.
func (r *Room) Remove(sid string) *Participant {
	for i, u := range r.Users {
		if u.SID != sid {
			continue
		}
		r.Users = append(r.Users[:i], r.Users[i+1:]...)
		if r.HostSID == sid && len(r.Users) > 0 {
			r.HostSID = r.Users[0].SID
			log.Printf("Room %s: host left, promoted %s", r.Code, r.Users[0].Username)
		}
		return u
	}
	return nil
}

// Member returns the participant with the given sid
func (r *Room) Member(sid string) *Participant {
	for _, u := range r.Users {
		if u.SID == sid {
			return u
		}
	}
	return nil
}

// Empty reports whether no participants remain
func (r *Room) Empty() bool {
	return len(r.Users) == 0
}

// Players returns the roster in wire form, insertion order
func (r *Room) Players() []protocol.Player {
	players := make([]protocol.Player, 0, len(r.Users))
	for _, u := range r.Users {
		players = append(players, protocol.Player{
			Username: u.Username,
			ColorIdx: u.ColorIdx,
			Position: u.Position,
		})
	}
	return players
}

// AppendTrack adds a track to the end of the queue
func (r *Room) AppendTrack(track protocol.Track) {
	r.Queue = append(r.Queue, track)
}

// ReplaceQueue installs a new queue verbatim. The client side resets its
// current index when an empty queue arrives; the server stores what it got.
func (r *Room) ReplaceQueue(queue []protocol.Track) {
	r.Queue = queue
}

// ValidIndex reports whether i addresses a track in the queue
func (r *Room) ValidIndex(i int) bool {
	return i >= 0 && i < len(r.Queue)
}
