// ABOUTME: Registry of live rooms keyed by 6-character code
// ABOUTME: Generates collision-free codes and runs membership transitions
package room

import (
	"log"
	"math/rand"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const codeLength = 6

// Manager owns all live rooms. It is mutated only from the server event
// loop, so it carries no locking of its own.
type Manager struct {
	rooms map[string]*Room
	rand  *rand.Rand
}

// NewManager creates an empty room registry. The random source drives room
// code generation; pass a seeded source in tests for determinism.
func NewManager(src rand.Source) *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
		rand:  rand.New(src),
	}
}

// Create makes a new room with the given host and returns it
func (m *Manager) Create(hostSID, username string, colorIdx int) *Room {
	code := m.generateCode()
	r := newRoom(code, hostSID, username, colorIdx)
	m.rooms[code] = r
	log.Printf("Room created: %s by %s", code, username)
	return r
}

// Get returns the room for a code, or nil
func (m *Manager) Get(code string) *Room {
	return m.rooms[code]
}

// Join adds a participant to an existing room. Returns the room and the
// seated participant, or (nil, nil) if the code names no live room.
func (m *Manager) Join(code, sid, username string, colorIdx int) (*Room, *Participant) {
	r := m.rooms[code]
	if r == nil {
		return nil, nil
	}
	p := r.Join(sid, username, colorIdx)
	log.Printf("User %s joined room %s at position %d", username, code, p.Position)
	return r, p
}

// RoomOf returns the room holding the sid, or nil
func (m *Manager) RoomOf(sid string) *Room {
	for _, r := range m.rooms {
		if r.Member(sid) != nil {
			return r
		}
	}
	return nil
}

// RemoveBySID removes a participant from whichever room holds the sid.
// Empty rooms are deleted. Returns the affected room (nil once deleted),
// the removed participant, and whether the room was deleted.
func (m *Manager) RemoveBySID(sid string) (*Room, *Participant, bool) {
	for code, r := range m.rooms {
		p := r.Remove(sid)
		if p == nil {
			continue
		}
		if r.Empty() {
			delete(m.rooms, code)
			log.Printf("Room %s deleted (no users left)", code)
			return nil, p, true
		}
		return r, p, false
	}
	return nil, nil, false
}

// Len returns the number of live rooms
func (m *Manager) Len() int {
	return len(m.rooms)
}

// generateCode draws 6-character uppercase-alphanumeric codes until one is
// free. Collisions are vanishingly rare at LAN scale but retried anyway.
func (m *Manager) generateCode() string {
	for {
		buf := make([]byte, codeLength)
		for i := range buf {
			buf[i] = codeAlphabet[m.rand.Intn(len(codeAlphabet))]
		}
		code := string(buf)
		if _, taken := m.rooms[code]; !taken {
			return code
		}
	}
}
