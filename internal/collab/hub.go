package collab

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"clinic-backend/internal/metrics"
)

// DefaultGracePeriod is how long a board's cache outlives its last participant.
const DefaultGracePeriod = 5 * time.Minute

var (
	ErrUnknownConnection = errors.New("connection is not registered")
	ErrNotJoined         = errors.New("connection is not joined to this board")
	// ErrNeedsSeed is returned by Join when ExpectCached is set but the
	// board's cache entry is gone. Load the durable elements and retry.
	ErrNeedsSeed = errors.New("board cache needs seeding")
	// ErrBoardClosed is returned by Join for a board closed by CloseBoard.
	ErrBoardClosed = errors.New("board is closed")
)

// Peer is an outbound channel to one connection. Send must not block; it
// reports false when the frame could not be queued.
type Peer interface {
	ID() string
	Send(frame []byte) bool
}

// PresenceSink receives room membership changes, e.g. to mirror them
// outside the process.
type PresenceSink interface {
	BoardJoined(boardID string, p Participant)
	BoardLeft(boardID string, p Participant)
	BoardClosed(boardID string)
}

// JoinRequest carries a connection's join details.
type JoinRequest struct {
	BoardID       string
	ParticipantID string
	UserID        int64
	DisplayName   string
	// Elements are the joiner's locally known elements, merged into the
	// board cache before the snapshot is replayed.
	Elements []Element

	// ExpectCached makes Join fail with ErrNeedsSeed instead of starting
	// from an empty cache entry.
	ExpectCached bool
	// Persisted seeds the cache when Seeded is set.
	Persisted []Element
	Seeded    bool
}

// HubStats 허브 현황
type HubStats struct {
	Rooms        int `json:"rooms"`
	Connections  int `json:"connections"`
	CachedBoards int `json:"cachedBoards"`
	Pending      int `json:"pendingEvictions"`
}

// Hub owns the room registry and board cache for the process. Every
// mutation runs under one lock so each operation is atomic with respect to
// the others; frames are only queued while the lock is held.
type Hub struct {
	mu       sync.Mutex
	registry *Registry
	cache    *Cache
	peers    map[string]Peer
	timers   map[string]*clock.Timer
	closed   map[string]struct{}

	clock    clock.Clock
	grace    time.Duration
	presence PresenceSink
	metrics  *metrics.Collectors
}

// HubOption configures a Hub.
type HubOption func(*Hub)

func WithClock(c clock.Clock) HubOption {
	return func(h *Hub) { h.clock = c }
}

func WithGracePeriod(d time.Duration) HubOption {
	return func(h *Hub) { h.grace = d }
}

func WithPresence(p PresenceSink) HubOption {
	return func(h *Hub) { h.presence = p }
}

func WithMetrics(m *metrics.Collectors) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub 보드 협업 허브 생성
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		registry: NewRegistry(),
		cache:    NewCache(),
		peers:    make(map[string]Peer),
		timers:   make(map[string]*clock.Timer),
		closed:   make(map[string]struct{}),
		clock:    clock.New(),
		grace:    DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register makes a connection known to the hub so it can receive frames.
func (h *Hub) Register(peer Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.peers[peer.ID()] = peer
}

// Join moves the connection into req.BoardID's room. The joiner receives the
// participant list and, when the cache is non-empty, a snapshot tagged with
// ServerOrigin; the rest of the room receives user-joined.
func (h *Hub) Join(connID string, req JoinRequest) (Participant, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peer, ok := h.peers[connID]
	if !ok {
		return Participant{}, ErrUnknownConnection
	}
	if _, ok := h.closed[req.BoardID]; ok {
		return Participant{}, ErrBoardClosed
	}
	if req.ExpectCached && !req.Seeded && !h.cache.Has(req.BoardID) {
		return Participant{}, ErrNeedsSeed
	}

	joined, dep := h.registry.Join(req.BoardID, Participant{
		ConnectionID:  connID,
		ParticipantID: req.ParticipantID,
		UserID:        req.UserID,
		DisplayName:   req.DisplayName,
	})
	if dep != nil {
		h.depart(*dep)
	}
	h.cancelEviction(req.BoardID)

	if req.Seeded {
		h.cache.Warm(req.BoardID, req.Persisted)
	}
	if len(req.Elements) > 0 {
		h.cache.Warm(req.BoardID, req.Elements)
	}

	h.send(peer, Encode(TypeCollaborators, CollaboratorsPayload{
		Participants: h.registry.Participants(req.BoardID),
	}))
	if snapshot := h.cache.Snapshot(req.BoardID); len(snapshot) > 0 {
		h.send(peer, elementsUpdate(snapshot, ServerOrigin))
	}
	h.broadcast(req.BoardID, connID, Encode(TypeUserJoined, UserJoinedPayload{Participant: joined}))

	if h.presence != nil {
		h.presence.BoardJoined(req.BoardID, joined)
	}
	h.metrics.Join()
	h.observe()

	log.Printf("[BoardHub] %s joined board %s (participants: %d)",
		connID, req.BoardID, len(h.registry.Participants(req.BoardID)))
	return joined, nil
}

// ChangeElements merges an edit batch into the board cache and broadcasts the
// full merged snapshot to every other participant, tagged with originID.
func (h *Hub) ChangeElements(connID, boardID, originID string, elements []Element) ([]Element, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.registry.BoardOf(connID); !ok || current != boardID {
		return nil, ErrNotJoined
	}
	if len(elements) == 0 {
		return h.cache.Snapshot(boardID), nil
	}

	merged := h.cache.Apply(boardID, elements)
	h.broadcast(boardID, connID, elementsUpdate(merged, originID))
	h.metrics.Broadcast()
	return merged, nil
}

// Leave removes the connection from boardID's room.
func (h *Hub) Leave(connID, boardID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	dep, ok := h.registry.Leave(boardID, connID)
	if !ok {
		return ErrNotJoined
	}
	h.depart(dep)
	h.observe()
	return nil
}

// Disconnect forgets the connection and leaves whatever room it was in. It
// is safe to call more than once.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.peers, connID)
	if dep, ok := h.registry.Disconnect(connID); ok {
		h.depart(dep)
	}
	h.observe()
}

// Participants lists the participants of boardID's room in join order.
func (h *Hub) Participants(boardID string) []Participant {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.registry.Participants(boardID)
}

// BoardOf returns the board the connection is joined to.
func (h *Hub) BoardOf(connID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.registry.BoardOf(connID)
}

// HasCache reports whether boardID has a cache entry.
func (h *Hub) HasCache(boardID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.cache.Has(boardID)
}

// Snapshot returns the cached elements of boardID.
func (h *Hub) Snapshot(boardID string) []Element {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.cache.Snapshot(boardID)
}

// CloseBoard tears down all live state of a deleted board. Participants are
// told with board:deleted and dropped from the room, and later joins fail
// with ErrBoardClosed.
func (h *Hub) CloseBoard(boardID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed[boardID] = struct{}{}

	frame := Encode(TypeBoardDeleted, BoardDeletedPayload{BoardID: boardID})
	removed := h.registry.RemoveRoom(boardID)
	for _, p := range removed {
		if peer, ok := h.peers[p.ConnectionID]; ok {
			h.send(peer, frame)
		}
	}

	h.cancelEviction(boardID)
	h.cache.Evict(boardID)
	if h.presence != nil {
		h.presence.BoardClosed(boardID)
	}
	h.observe()

	log.Printf("[BoardHub] Closed board %s (%d participants removed)", boardID, len(removed))
}

// Stats 허브 현황 조회
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return HubStats{
		Rooms:        h.registry.Rooms(),
		Connections:  h.registry.Connections(),
		CachedBoards: h.cache.Len(),
		Pending:      len(h.timers),
	}
}

// depart notifies the remaining room and schedules eviction once it is
// empty. Caller holds h.mu.
func (h *Hub) depart(dep Departure) {
	h.broadcast(dep.BoardID, dep.Participant.ConnectionID, Encode(TypeUserLeft, UserLeftPayload{
		ParticipantID: dep.Participant.ParticipantID,
		ConnectionID:  dep.Participant.ConnectionID,
	}))
	if h.presence != nil {
		h.presence.BoardLeft(dep.BoardID, dep.Participant)
	}

	log.Printf("[BoardHub] %s left board %s", dep.Participant.ConnectionID, dep.BoardID)

	if dep.RoomEmptied {
		h.scheduleEviction(dep.BoardID)
	}
}

// Caller holds h.mu.
func (h *Hub) scheduleEviction(boardID string) {
	h.cancelEviction(boardID)

	var timer *clock.Timer
	timer = h.clock.AfterFunc(h.grace, func() {
		h.evictIfIdle(boardID, &timer)
	})
	h.timers[boardID] = timer
}

// Caller holds h.mu.
func (h *Hub) cancelEviction(boardID string) {
	if timer, ok := h.timers[boardID]; ok {
		timer.Stop()
		delete(h.timers, boardID)
	}
}

// timer is read under h.mu since AfterFunc may fire before it is assigned.
func (h *Hub) evictIfIdle(boardID string, timer **clock.Timer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// A rejoin or a newer schedule replaced this timer.
	if h.timers[boardID] != *timer {
		return
	}
	delete(h.timers, boardID)

	if h.registry.HasRoom(boardID) {
		return
	}
	if h.cache.Evict(boardID) {
		h.metrics.Evicted()
		log.Printf("[BoardHub] Evicted cache for board %s", boardID)
	}
	h.observe()
}

// Caller holds h.mu.
func (h *Hub) broadcast(boardID, exceptConnID string, frame []byte) {
	for _, p := range h.registry.Participants(boardID) {
		if p.ConnectionID == exceptConnID {
			continue
		}
		if peer, ok := h.peers[p.ConnectionID]; ok {
			h.send(peer, frame)
		}
	}
}

func (h *Hub) send(peer Peer, frame []byte) {
	if frame == nil {
		return
	}
	if !peer.Send(frame) {
		h.metrics.Dropped()
		log.Printf("[BoardHub] Dropped frame for %s", peer.ID())
	}
}

// Caller holds h.mu.
func (h *Hub) observe() {
	h.metrics.SetLive(h.registry.Rooms(), h.registry.Connections(), h.cache.Len())
}
