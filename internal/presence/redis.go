package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"clinic-backend/internal/collab"
)

const (
	// Channel 보드 presence 변경 이벤트 채널
	Channel = "board_presence"

	// KeyTTL is refreshed on every join or leave of the board.
	KeyTTL = 10 * time.Minute

	defaultQueueSize = 256
)

// EventKind 이벤트 종류
type EventKind string

const (
	EventJoined EventKind = "JOINED"
	EventLeft   EventKind = "LEFT"
	EventClosed EventKind = "CLOSED"
)

// Event Redis에 발행되는 보드 presence 이벤트
type Event struct {
	Kind        EventKind           `json:"kind"`
	BoardID     string              `json:"board_id"`
	Participant *collab.Participant `json:"participant,omitempty"`
	ServerID    string              `json:"server_id"`
	At          int64               `json:"at"`
}

// Mirror 허브의 참가/퇴장을 Redis에 미러링 (collab.PresenceSink 구현)
//
// Hub callbacks run under the hub lock, so they only enqueue; Run performs
// the Redis writes. Events are dropped when the queue is full.
type Mirror struct {
	client   *redis.Client
	serverID string
	events   chan Event
	now      func() time.Time
}

// NewMirror 생성자
func NewMirror(client *redis.Client, serverID string) *Mirror {
	return &Mirror{
		client:   client,
		serverID: serverID,
		events:   make(chan Event, defaultQueueSize),
		now:      time.Now,
	}
}

// NewClient Redis 클라이언트 생성
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// BoardKey 보드 presence 해시 키
func BoardKey(boardID string) string {
	return fmt.Sprintf("presence:board:%s", boardID)
}

// BoardJoined collab.PresenceSink
func (m *Mirror) BoardJoined(boardID string, p collab.Participant) {
	m.enqueue(Event{Kind: EventJoined, BoardID: boardID, Participant: &p})
}

// BoardLeft collab.PresenceSink
func (m *Mirror) BoardLeft(boardID string, p collab.Participant) {
	m.enqueue(Event{Kind: EventLeft, BoardID: boardID, Participant: &p})
}

// BoardClosed collab.PresenceSink
func (m *Mirror) BoardClosed(boardID string) {
	m.enqueue(Event{Kind: EventClosed, BoardID: boardID})
}

func (m *Mirror) enqueue(ev Event) {
	ev.ServerID = m.serverID
	ev.At = m.now().Unix()
	select {
	case m.events <- ev:
	default:
		log.Printf("[Presence] Queue full, dropping %s event for board %s", ev.Kind, ev.BoardID)
	}
}

// Run 이벤트 큐를 Redis에 반영 (ctx 종료 시 반환)
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			if err := m.apply(ctx, ev); err != nil {
				log.Printf("[Presence] Failed to mirror %s for board %s: %v", ev.Kind, ev.BoardID, err)
			}
		}
	}
}

func (m *Mirror) apply(ctx context.Context, ev Event) error {
	key := BoardKey(ev.BoardID)
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		switch ev.Kind {
		case EventJoined:
			participant, err := json.Marshal(ev.Participant)
			if err != nil {
				return err
			}
			pipe.HSet(ctx, key, ev.Participant.ConnectionID, participant)
			pipe.Expire(ctx, key, KeyTTL)
		case EventLeft:
			pipe.HDel(ctx, key, ev.Participant.ConnectionID)
			pipe.Expire(ctx, key, KeyTTL)
		case EventClosed:
			pipe.Del(ctx, key)
		}
		pipe.Publish(ctx, Channel, payload)
		return nil
	})
	return err
}

// Ping Redis 연결 확인
func (m *Mirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close Redis 연결 종료
func (m *Mirror) Close() error {
	return m.client.Close()
}
