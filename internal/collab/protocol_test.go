package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"clinic-backend/internal/session"
)

type fakeGate struct {
	mu        sync.Mutex
	forbidden map[string]bool
	persisted map[string][]Element
	loads     int
	onLoad    func(boardID string)
}

func (g *fakeGate) AuthorizeJoin(_ context.Context, _ int64, boardID string) error {
	if g.forbidden[boardID] {
		return ErrForbidden
	}
	if _, ok := g.persisted[boardID]; !ok {
		return ErrBoardNotFound
	}
	return nil
}

func (g *fakeGate) PersistedElements(_ context.Context, boardID string) ([]Element, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.loads++
	if g.onLoad != nil {
		g.onLoad(boardID)
	}
	return g.persisted[boardID], nil
}

func newTestClient(t *testing.T, h *Hub, gate Gate, id string) (*Client, *fakePeer, *session.Session) {
	t.Helper()

	sess := session.New()
	if err := sess.Authenticate(42, id+"@example.com", id); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	peer := newFakePeer(id)
	return NewClient(h, gate, sess, peer), peer, sess
}

func frame(t *testing.T, msgType string, payload any) []byte {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data, err := json.Marshal(Message{Type: msgType, Payload: body})
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	return data
}

func errorMessages(t *testing.T, p *fakePeer) []string {
	t.Helper()

	var out []string
	for _, m := range p.messages(TypeError) {
		var payload ErrorPayload
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			t.Fatalf("decode error payload: %v", err)
		}
		out = append(out, payload.Message)
	}
	return out
}

func TestClientJoinSeedsCacheFromStore(t *testing.T) {
	h, _ := newTestHub(t)
	gate := &fakeGate{persisted: map[string][]Element{"b1": {el("1", 3)}}}
	ctx := context.Background()

	a, peerA, sessA := newTestClient(t, h, gate, "a")
	b, peerB, _ := newTestClient(t, h, gate, "b")

	if err := a.Handle(ctx, frame(t, TypeJoin, JoinPayload{BoardID: "b1", DisplayName: "Ann"})); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if board, joined := sessA.BoardID(); !joined || board != "b1" {
		t.Fatalf("session board = %q, %v", board, joined)
	}

	replay := peerA.messages(TypeElementsUpdate)
	if len(replay) != 1 {
		t.Fatalf("joiner got %d snapshots, want 1", len(replay))
	}
	elements, origin := decodeUpdate(t, replay[0])
	if origin != ServerOrigin {
		t.Errorf("origin = %q, want server", origin)
	}
	assertSameElements(t, elements, []Element{el("1", 3)})

	local := json.RawMessage(`[{"id":"2","version":1}]`)
	if err := b.Handle(ctx, frame(t, TypeJoin, JoinPayload{BoardID: "b1", Elements: local})); err != nil {
		t.Fatalf("join b: %v", err)
	}
	if gate.loads != 1 {
		t.Fatalf("store loads = %d, want 1 when the cache is warm", gate.loads)
	}

	got := h.Participants("b1")
	if len(got) != 2 || got[0].DisplayName != "Ann" || got[1].DisplayName != "b" || got[1].ParticipantID != "42" {
		t.Fatalf("participants = %+v", got)
	}
	if snap := h.Snapshot("b1"); len(snap) != 2 {
		t.Fatalf("snapshot has %d elements, want 2", len(snap))
	}
	if len(peerB.messages(TypeElementsUpdate)) != 1 {
		t.Fatal("second joiner should get the merged snapshot")
	}
}

func TestClientJoinRejected(t *testing.T) {
	h, _ := newTestHub(t)
	gate := &fakeGate{
		forbidden: map[string]bool{"secret": true},
		persisted: map[string][]Element{"b1": nil, "secret": nil},
	}
	ctx := context.Background()
	c, peer, sess := newTestClient(t, h, gate, "a")

	tests := []struct {
		name    string
		data    []byte
		message string
		wantErr error
	}{
		{"forbidden", frame(t, TypeJoin, JoinPayload{BoardID: "secret"}), "forbidden", ErrForbidden},
		{"unknown board", frame(t, TypeJoin, JoinPayload{BoardID: "nope"}), "board not found", ErrBoardNotFound},
		{"missing board id", frame(t, TypeJoin, JoinPayload{}), "invalid join payload", ErrInvalidMessage},
		{"bad elements", frame(t, TypeJoin, JoinPayload{BoardID: "b1", Elements: json.RawMessage(`[{"version":1}]`)}), "invalid elements", ErrInvalidElement},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			peer.reset()
			err := c.Handle(ctx, tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if msgs := errorMessages(t, peer); len(msgs) != 1 || msgs[0] != tt.message {
				t.Fatalf("error frames = %v, want [%s]", msgs, tt.message)
			}
		})
	}

	if sess.GetState() != session.StateAuthenticated {
		t.Fatalf("state = %v, want authenticated", sess.GetState())
	}
	if stats := h.Stats(); stats.Rooms != 0 || stats.CachedBoards != 0 {
		t.Fatalf("rejected joins changed hub state: %+v", stats)
	}
}

func TestClientElementsChangeAndLeave(t *testing.T) {
	h, _ := newTestHub(t)
	gate := &fakeGate{persisted: map[string][]Element{"b1": nil}}
	ctx := context.Background()

	a, peerA, sessA := newTestClient(t, h, gate, "a")
	b, peerB, _ := newTestClient(t, h, gate, "b")
	for _, c := range []*Client{a, b} {
		if err := c.Handle(ctx, frame(t, TypeJoin, JoinPayload{BoardID: "b1"})); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	change := ElementsChangePayload{
		BoardID:  "b1",
		Elements: json.RawMessage(`[{"id":"x","version":2,"type":"rectangle"}]`),
		OriginID: "tab-a",
	}
	if err := a.Handle(ctx, frame(t, TypeElementsChange, change)); err != nil {
		t.Fatalf("elements-change: %v", err)
	}

	updates := peerB.messages(TypeElementsUpdate)
	if len(updates) != 1 {
		t.Fatalf("peer got %d updates, want 1", len(updates))
	}
	elements, origin := decodeUpdate(t, updates[0])
	if origin != "tab-a" || len(elements) != 1 || elements[0].ID != "x" {
		t.Fatalf("update = %v from %q", describe(elements), origin)
	}
	if len(peerA.messages(TypeElementsUpdate)) != 0 {
		t.Fatal("sender must not receive its own broadcast")
	}

	bad := ElementsChangePayload{BoardID: "b1", Elements: json.RawMessage(`[{"id":"y","version":"x"}]`)}
	if err := a.Handle(ctx, frame(t, TypeElementsChange, bad)); !errors.Is(err, ErrInvalidElement) {
		t.Fatalf("invalid change: err = %v", err)
	}
	if len(h.Snapshot("b1")) != 1 {
		t.Fatal("invalid batch must not reach the cache")
	}

	if err := a.Handle(ctx, frame(t, TypeLeave, LeavePayload{})); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if sessA.GetState() != session.StateAuthenticated {
		t.Fatalf("state after leave = %v", sessA.GetState())
	}
	if len(peerB.messages(TypeUserLeft)) != 1 {
		t.Fatal("peer should see user-left")
	}

	if err := a.Handle(ctx, frame(t, TypeElementsChange, change)); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("change after leave: err = %v, want ErrNotJoined", err)
	}
}

func TestClientPingAndUnknown(t *testing.T) {
	h, _ := newTestHub(t)
	c, peer, _ := newTestClient(t, h, &fakeGate{}, "a")
	ctx := context.Background()

	if err := c.Handle(ctx, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if len(peer.messages(TypePong)) != 1 {
		t.Fatal("ping must be answered with pong")
	}

	if err := c.Handle(ctx, []byte(`not json`)); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("garbage: err = %v", err)
	}
	if err := c.Handle(ctx, []byte(`{"type":"board:draw"}`)); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("unknown type: err = %v", err)
	}
}

func TestClientUnauthenticatedSession(t *testing.T) {
	h, _ := newTestHub(t)
	peer := newFakePeer("anon")
	c := NewClient(h, &fakeGate{}, session.New(), peer)

	err := c.Handle(context.Background(), []byte(`{"type":"ping"}`))
	if !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if msgs := errorMessages(t, peer); len(msgs) != 1 || msgs[0] != "invalid session" {
		t.Fatalf("error frames = %v", msgs)
	}
}

func TestClientCloseOnce(t *testing.T) {
	h, _ := newTestHub(t)
	gate := &fakeGate{persisted: map[string][]Element{"b1": nil}}
	ctx := context.Background()

	a, _, sessA := newTestClient(t, h, gate, "a")
	b, peerB, _ := newTestClient(t, h, gate, "b")
	a.Handle(ctx, frame(t, TypeJoin, JoinPayload{BoardID: "b1"}))
	b.Handle(ctx, frame(t, TypeJoin, JoinPayload{BoardID: "b1"}))

	a.Close()
	a.Close()

	if got := len(peerB.messages(TypeUserLeft)); got != 1 {
		t.Fatalf("user-left count = %d, want 1", got)
	}
	if !sessA.IsClosed() {
		t.Fatal("session should be closed")
	}
}

func TestClientJoinReloadsEvictedBoard(t *testing.T) {
	h, mock := newTestHub(t)
	gate := &fakeGate{persisted: map[string][]Element{"b1": {el("1", 3)}}}
	ctx := context.Background()

	a, _, _ := newTestClient(t, h, gate, "a")
	if err := a.Handle(ctx, frame(t, TypeJoin, JoinPayload{BoardID: "b1"})); err != nil {
		t.Fatalf("join: %v", err)
	}
	a.Close()
	mock.Add(6 * time.Minute)
	waitFor(t, func() bool { return !h.HasCache("b1") })

	b, peerB, _ := newTestClient(t, h, gate, "b")
	if err := b.Handle(ctx, frame(t, TypeJoin, JoinPayload{BoardID: "b1"})); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if gate.loads != 2 {
		t.Fatalf("store loads = %d, want 2 after eviction", gate.loads)
	}
	replay := peerB.messages(TypeElementsUpdate)
	if len(replay) != 1 {
		t.Fatalf("joiner got %d snapshots, want 1", len(replay))
	}
	elements, _ := decodeUpdate(t, replay[0])
	assertSameElements(t, elements, []Element{el("1", 3)})
}

func TestClientJoinDeletedWhileLoading(t *testing.T) {
	h, _ := newTestHub(t)
	gate := &fakeGate{persisted: map[string][]Element{"b1": {el("1", 1)}}}
	gate.onLoad = func(boardID string) { h.CloseBoard(boardID) }
	ctx := context.Background()

	c, peer, sess := newTestClient(t, h, gate, "a")
	err := c.Handle(ctx, frame(t, TypeJoin, JoinPayload{BoardID: "b1"}))
	if !errors.Is(err, ErrBoardClosed) {
		t.Fatalf("err = %v, want ErrBoardClosed", err)
	}
	if msgs := errorMessages(t, peer); len(msgs) != 1 || msgs[0] != "board not found" {
		t.Fatalf("error frames = %v", msgs)
	}
	if h.HasCache("b1") || len(h.Participants("b1")) != 0 {
		t.Fatal("deleted board must not get a room or cache back")
	}
	if sess.GetState() != session.StateAuthenticated {
		t.Fatalf("state = %v, want authenticated", sess.GetState())
	}
}

func TestClientSessionFollowsClosedBoard(t *testing.T) {
	h, _ := newTestHub(t)
	gate := &fakeGate{persisted: map[string][]Element{"b1": nil, "b2": nil}}
	ctx := context.Background()

	c, peer, sess := newTestClient(t, h, gate, "a")
	if err := c.Handle(ctx, frame(t, TypeJoin, JoinPayload{BoardID: "b1"})); err != nil {
		t.Fatalf("join: %v", err)
	}
	h.CloseBoard("b1")
	peer.reset()

	if err := c.Handle(ctx, frame(t, TypeLeave, LeavePayload{})); err != nil {
		t.Fatalf("leave after delete: %v", err)
	}
	if msgs := errorMessages(t, peer); len(msgs) != 0 {
		t.Fatalf("error frames = %v, want none", msgs)
	}
	if sess.GetState() != session.StateAuthenticated {
		t.Fatalf("state = %v, want authenticated", sess.GetState())
	}

	if err := c.Handle(ctx, frame(t, TypeJoin, JoinPayload{BoardID: "b2"})); err != nil {
		t.Fatalf("join another board: %v", err)
	}
	if board, joined := sess.BoardID(); !joined || board != "b2" {
		t.Fatalf("session board = %q, %v", board, joined)
	}
}
