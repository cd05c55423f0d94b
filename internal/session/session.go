package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition 허용되지 않는 상태 전환
var ErrInvalidTransition = errors.New("invalid session state transition")

// State WebSocket 연결 상태
type State int

const (
	StateUnauthenticated State = iota // 핸드셰이크 인증 전
	StateAuthenticated                // 인증 완료, 보드 미참여
	StateJoined                       // 보드 룸 참여 중
	StateClosed                       // 연결 종료
)

// String 상태를 문자열로 반환
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session 클라이언트 세션 (Thread-Safe)
type Session struct {
	ID          string
	ConnectedAt time.Time

	userID   int64
	email    string
	nickname string
	state    State
	boardID  string

	mu sync.RWMutex
}

// New 새 세션 생성
func New() *Session {
	return &Session{
		ID:          uuid.New().String(),
		ConnectedAt: time.Now(),
		state:       StateUnauthenticated,
	}
}

// Authenticate 검증된 사용자 정보 설정 및 상태 전환
func (s *Session) Authenticate(userID int64, email, nickname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnauthenticated {
		return ErrInvalidTransition
	}
	s.userID = userID
	s.email = email
	s.nickname = nickname
	s.state = StateAuthenticated
	return nil
}

// Join 보드 참여 (다른 보드에 참여 중이면 그대로 전환)
func (s *Session) Join(boardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAuthenticated && s.state != StateJoined {
		return ErrInvalidTransition
	}
	s.boardID = boardID
	s.state = StateJoined
	return nil
}

// Leave 보드 이탈 후 인증 상태로 복귀
func (s *Session) Leave() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateJoined {
		return "", false
	}
	boardID := s.boardID
	s.boardID = ""
	s.state = StateAuthenticated
	return boardID, true
}

// User 인증된 사용자 정보 조회
func (s *Session) User() (userID int64, email, nickname string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.userID, s.email, s.nickname
}

// BoardID 현재 참여 중인 보드 조회
func (s *Session) BoardID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.boardID, s.state == StateJoined
}

// GetState 현재 상태 조회
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// Duration 연결 유지 시간
func (s *Session) Duration() time.Duration {
	return time.Since(s.ConnectedAt)
}

// Close 세션 종료. 이미 종료된 경우 false
func (s *Session) Close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	s.boardID = ""
	return true
}

// IsClosed 세션 종료 여부 확인
func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state == StateClosed
}
