package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"

	"clinic-backend/internal/session"
)

var (
	// ErrForbidden is returned by a Gate when the user may not join the board.
	ErrForbidden = errors.New("forbidden")
	// ErrBoardNotFound is returned by a Gate for an unknown board.
	ErrBoardNotFound = errors.New("board not found")
	// ErrInvalidMessage marks a frame that could not be understood.
	ErrInvalidMessage = errors.New("invalid message")
)

// Gate authorizes joins and loads durable board content for the realtime
// path.
type Gate interface {
	AuthorizeJoin(ctx context.Context, userID int64, boardID string) error
	PersistedElements(ctx context.Context, boardID string) ([]Element, error)
}

// Client drives one authenticated connection through the board protocol.
type Client struct {
	hub  *Hub
	gate Gate
	sess *session.Session
	peer Peer

	closeOnce sync.Once
}

// NewClient registers peer with the hub. sess must already be authenticated.
func NewClient(hub *Hub, gate Gate, sess *session.Session, peer Peer) *Client {
	hub.Register(peer)
	return &Client{hub: hub, gate: gate, sess: sess, peer: peer}
}

// Handle processes one inbound frame. Failures are reported to this
// connection only and returned for logging.
func (c *Client) Handle(ctx context.Context, data []byte) error {
	switch c.sess.GetState() {
	case session.StateAuthenticated, session.StateJoined:
	default:
		return c.fail("invalid session", session.ErrInvalidTransition)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return c.fail("invalid message format", ErrInvalidMessage)
	}
	c.syncSession()

	switch msg.Type {
	case TypePing:
		c.peer.Send(Encode(TypePong, nil))
		return nil
	case TypeJoin:
		return c.handleJoin(ctx, msg.Payload)
	case TypeElementsChange:
		return c.handleElementsChange(msg.Payload)
	case TypeLeave:
		return c.handleLeave(msg.Payload)
	default:
		return c.fail("unknown message type: "+msg.Type, ErrInvalidMessage)
	}
}

// Close leaves any joined room. Only the first call has an effect.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.hub.Disconnect(c.peer.ID())
		c.sess.Close()
	})
}

func (c *Client) handleJoin(ctx context.Context, raw json.RawMessage) error {
	var p JoinPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.BoardID == "" {
		return c.fail("invalid join payload", ErrInvalidMessage)
	}
	elements, err := DecodeElements(p.Elements)
	if err != nil {
		return c.fail("invalid elements", err)
	}

	userID, _, nickname := c.sess.User()
	if err := c.gate.AuthorizeJoin(ctx, userID, p.BoardID); err != nil {
		switch {
		case errors.Is(err, ErrForbidden):
			return c.fail("forbidden", err)
		case errors.Is(err, ErrBoardNotFound):
			return c.fail("board not found", err)
		default:
			log.Printf("[BoardWS] Join check failed for board %s: %v", p.BoardID, err)
			return c.fail("failed to join board", err)
		}
	}

	if p.ParticipantID == "" {
		p.ParticipantID = strconv.FormatInt(userID, 10)
	}
	if p.DisplayName == "" {
		p.DisplayName = nickname
	}

	req := JoinRequest{
		BoardID:       p.BoardID,
		ParticipantID: p.ParticipantID,
		UserID:        userID,
		DisplayName:   p.DisplayName,
		Elements:      elements,
		ExpectCached:  c.hub.HasCache(p.BoardID),
	}
	if !req.ExpectCached {
		if err := c.seed(ctx, &req); err != nil {
			return err
		}
	}

	_, err = c.hub.Join(c.peer.ID(), req)
	if errors.Is(err, ErrNeedsSeed) {
		// The cache was evicted after the check above.
		if err := c.seed(ctx, &req); err != nil {
			return err
		}
		_, err = c.hub.Join(c.peer.ID(), req)
	}
	switch {
	case errors.Is(err, ErrBoardClosed):
		return c.fail("board not found", err)
	case err != nil:
		return c.fail("failed to join board", err)
	}

	if err := c.sess.Join(p.BoardID); err != nil {
		c.hub.Leave(c.peer.ID(), p.BoardID)
		return c.fail("invalid session", err)
	}
	return nil
}

// seed loads the durable elements of the board into req.
func (c *Client) seed(ctx context.Context, req *JoinRequest) error {
	persisted, err := c.gate.PersistedElements(ctx, req.BoardID)
	if err != nil {
		log.Printf("[BoardWS] Failed to load board %s: %v", req.BoardID, err)
		return c.fail("failed to load board", err)
	}
	req.Persisted = persisted
	req.Seeded = true
	return nil
}

// syncSession drops the session's board when the hub no longer has the
// connection in that room, e.g. after the board was deleted.
func (c *Client) syncSession() {
	boardID, joined := c.sess.BoardID()
	if !joined {
		return
	}
	if current, ok := c.hub.BoardOf(c.peer.ID()); !ok || current != boardID {
		c.sess.Leave()
	}
}

func (c *Client) handleElementsChange(raw json.RawMessage) error {
	var p ElementsChangePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return c.fail("invalid elements payload", ErrInvalidMessage)
	}
	if p.BoardID == "" {
		p.BoardID, _ = c.sess.BoardID()
	}
	elements, err := DecodeElements(p.Elements)
	if err != nil {
		return c.fail("invalid elements", err)
	}
	if p.OriginID == "" {
		p.OriginID = c.peer.ID()
	}

	if _, err := c.hub.ChangeElements(c.peer.ID(), p.BoardID, p.OriginID, elements); err != nil {
		return c.fail("not joined to board", err)
	}
	return nil
}

func (c *Client) handleLeave(raw json.RawMessage) error {
	var p LeavePayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return c.fail("invalid leave payload", ErrInvalidMessage)
		}
	}
	if p.BoardID == "" {
		var joined bool
		if p.BoardID, joined = c.sess.BoardID(); !joined {
			return nil
		}
	}

	if err := c.hub.Leave(c.peer.ID(), p.BoardID); err != nil {
		return c.fail("not joined to board", err)
	}
	c.sess.Leave()
	return nil
}

func (c *Client) fail(message string, err error) error {
	c.peer.Send(errorFrame(message))
	return err
}
