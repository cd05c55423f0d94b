package handler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"clinic-backend/internal/auth"
	"clinic-backend/internal/collab"
	"clinic-backend/internal/session"
)

const joinCheckTimeout = 10 * time.Second

// BoardWSHandler 보드 실시간 협업 WebSocket 핸들러
type BoardWSHandler struct {
	hub          *collab.Hub
	gate         collab.Gate
	jwtManager   *auth.JWTManager
	sendBuffer   int
	writeTimeout time.Duration
}

// NewBoardWSHandler BoardWSHandler 생성
func NewBoardWSHandler(hub *collab.Hub, gate collab.Gate, jwtManager *auth.JWTManager, sendBuffer int, writeTimeout time.Duration) *BoardWSHandler {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &BoardWSHandler{
		hub:          hub,
		gate:         gate,
		jwtManager:   jwtManager,
		sendBuffer:   sendBuffer,
		writeTimeout: writeTimeout,
	}
}

// Upgrade 업그레이드 전 토큰 검증 (실패 시 연결 거부, 상태 미생성)
func (h *BoardWSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	token, err := auth.ExtractToken(c)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	claims, err := h.jwtManager.ValidateAccessToken(token)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Locals("claims", claims)
	return c.Next()
}

// HandleWebSocket 보드 협업 연결 처리
func (h *BoardWSHandler) HandleWebSocket(c *websocket.Conn) {
	claims, ok := c.Locals("claims").(*auth.Claims)
	if !ok {
		c.WriteMessage(websocket.TextMessage, collab.Encode(collab.TypeError, collab.ErrorPayload{Message: "invalid session"}))
		c.Close()
		return
	}

	sess := session.New()
	if err := sess.Authenticate(claims.UserID, claims.Email, claims.Nickname); err != nil {
		c.Close()
		return
	}

	peer := newWSPeer(sess.ID, c, h.sendBuffer, h.writeTimeout)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		peer.writeLoop()
	}()

	client := collab.NewClient(h.hub, h.gate, sess, peer)
	log.Printf("[BoardWS] Connected: conn=%s user=%d", sess.ID, claims.UserID)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[BoardWS] Recovered from panic on conn=%s: %v", sess.ID, r)
		}
		client.Close()
		peer.close()
		wg.Wait()
		c.Close()
		log.Printf("[BoardWS] Disconnected: conn=%s user=%d (%s)", sess.ID, claims.UserID, sess.Duration().Round(time.Second))
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[BoardWS] Read error on conn=%s: %v", sess.ID, err)
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), joinCheckTimeout)
		err = client.Handle(ctx, data)
		cancel()
		if err != nil && !errors.Is(err, collab.ErrInvalidMessage) {
			log.Printf("[BoardWS] conn=%s: %v", sess.ID, err)
		}
		select {
		case <-peer.done:
			return
		default:
		}
	}
}

// wsPeer collab.Peer 구현 (연결별 송신 큐 + writer goroutine)
type wsPeer struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
}

func newWSPeer(id string, conn *websocket.Conn, buffer int, writeTimeout time.Duration) *wsPeer {
	return &wsPeer{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

func (p *wsPeer) ID() string { return p.id }

// Send 송신 큐에 프레임 추가 (큐가 가득 차거나 종료된 경우 false)
func (p *wsPeer) Send(frame []byte) bool {
	if frame == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

func (p *wsPeer) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *wsPeer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.send:
			if p.writeTimeout > 0 {
				p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("[BoardWS] Write failed on conn=%s: %v", p.id, err)
				p.close()
				p.conn.Close()
				return
			}
		}
	}
}
