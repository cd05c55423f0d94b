package collab

import (
	"math/rand/v2"
	"sort"
)

// Palette is the fixed set of highlight colors handed out to participants.
var Palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4",
	"#FFEAA7", "#DDA0DD", "#98D8C8", "#F7DC6F",
	"#E74C3C", "#3498DB", "#2ECC71", "#9B59B6",
}

// Participant is one connection's presence inside a board room.
type Participant struct {
	ConnectionID  string `json:"connectionId"`
	ParticipantID string `json:"participantId"`
	UserID        int64  `json:"userId"`
	DisplayName   string `json:"displayName"`
	Color         string `json:"color"`
}

// Departure describes a connection leaving a room.
type Departure struct {
	BoardID     string
	Participant Participant
	// RoomEmptied is set when the departing connection was the last one.
	RoomEmptied bool
}

type member struct {
	Participant
	seq uint64
}

type room struct {
	members map[string]*member
	nextSeq uint64
}

// Registry tracks which connections are present in which board room. A
// connection is in at most one room at a time. Registry is not safe for
// concurrent use; Hub serializes access to it.
type Registry struct {
	rooms    map[string]*room
	connRoom map[string]string
	pick     func(n int) int
}

// NewRegistry 빈 룸 레지스트리 생성
func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]*room),
		connRoom: make(map[string]string),
		pick:     rand.IntN,
	}
}

// Join places the connection in boardID's room, first removing it from any
// other room. Rejoining the same room replaces the participant details but
// keeps its color and position.
func (r *Registry) Join(boardID string, p Participant) (Participant, *Departure) {
	var dep *Departure
	if prev, ok := r.connRoom[p.ConnectionID]; ok && prev != boardID {
		if d, left := r.Leave(prev, p.ConnectionID); left {
			dep = &d
		}
	}

	rm, ok := r.rooms[boardID]
	if !ok {
		rm = &room{members: make(map[string]*member)}
		r.rooms[boardID] = rm
	}

	if existing, ok := rm.members[p.ConnectionID]; ok {
		p.Color = existing.Color
		existing.Participant = p
		return p, dep
	}

	p.Color = Palette[r.pick(len(Palette))]
	rm.nextSeq++
	rm.members[p.ConnectionID] = &member{Participant: p, seq: rm.nextSeq}
	r.connRoom[p.ConnectionID] = boardID
	return p, dep
}

// Leave removes the connection from boardID's room. It reports false when the
// connection was not in that room.
func (r *Registry) Leave(boardID, connID string) (Departure, bool) {
	if r.connRoom[connID] != boardID {
		return Departure{}, false
	}
	rm, ok := r.rooms[boardID]
	if !ok {
		delete(r.connRoom, connID)
		return Departure{}, false
	}
	m, ok := rm.members[connID]
	if !ok {
		delete(r.connRoom, connID)
		return Departure{}, false
	}

	delete(rm.members, connID)
	delete(r.connRoom, connID)

	dep := Departure{BoardID: boardID, Participant: m.Participant}
	if len(rm.members) == 0 {
		delete(r.rooms, boardID)
		dep.RoomEmptied = true
	}
	return dep, true
}

// Disconnect leaves whatever room the connection is in.
func (r *Registry) Disconnect(connID string) (Departure, bool) {
	boardID, ok := r.connRoom[connID]
	if !ok {
		return Departure{}, false
	}
	return r.Leave(boardID, connID)
}

// Participants lists the room's participants in join order.
func (r *Registry) Participants(boardID string) []Participant {
	rm, ok := r.rooms[boardID]
	if !ok {
		return []Participant{}
	}

	members := make([]*member, 0, len(rm.members))
	for _, m := range rm.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })

	out := make([]Participant, len(members))
	for i, m := range members {
		out[i] = m.Participant
	}
	return out
}

// BoardOf returns the board the connection is currently joined to.
func (r *Registry) BoardOf(connID string) (string, bool) {
	boardID, ok := r.connRoom[connID]
	return boardID, ok
}

// HasRoom reports whether boardID has at least one participant.
func (r *Registry) HasRoom(boardID string) bool {
	_, ok := r.rooms[boardID]
	return ok
}

// RemoveRoom drops the room and all its memberships, returning the removed
// participants.
func (r *Registry) RemoveRoom(boardID string) []Participant {
	participants := r.Participants(boardID)
	for _, p := range participants {
		delete(r.connRoom, p.ConnectionID)
	}
	delete(r.rooms, boardID)
	return participants
}

// Rooms returns the number of non-empty rooms.
func (r *Registry) Rooms() int {
	return len(r.rooms)
}

// Connections returns the number of joined connections.
func (r *Registry) Connections() int {
	return len(r.connRoom)
}
