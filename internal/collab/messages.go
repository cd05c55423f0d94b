package collab

import (
	"encoding/json"
	"log"
)

// Realtime message types.
const (
	TypeJoin           = "board:join"
	TypeElementsChange = "board:elements-change"
	TypeLeave          = "board:leave"
	TypePing           = "ping"

	TypeCollaborators  = "board:collaborators"
	TypeUserJoined     = "board:user-joined"
	TypeUserLeft       = "board:user-left"
	TypeElementsUpdate = "board:elements-update"
	TypeBoardDeleted   = "board:deleted"
	TypePong           = "pong"
	TypeError          = "error"
)

// ServerOrigin tags snapshots pushed by the server rather than a peer.
const ServerOrigin = "server"

// Message WebSocket 메시지 봉투
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload board:join
type JoinPayload struct {
	BoardID       string          `json:"boardId"`
	ParticipantID string          `json:"participantId"`
	DisplayName   string          `json:"displayName"`
	Elements      json.RawMessage `json:"elements,omitempty"`
}

// ElementsChangePayload board:elements-change
type ElementsChangePayload struct {
	BoardID  string          `json:"boardId"`
	Elements json.RawMessage `json:"elements"`
	OriginID string          `json:"originId"`
}

// LeavePayload board:leave
type LeavePayload struct {
	BoardID string `json:"boardId"`
}

// CollaboratorsPayload board:collaborators
type CollaboratorsPayload struct {
	Participants []Participant `json:"participants"`
}

// UserJoinedPayload board:user-joined
type UserJoinedPayload struct {
	Participant Participant `json:"participant"`
}

// UserLeftPayload board:user-left
type UserLeftPayload struct {
	ParticipantID string `json:"participantId"`
	ConnectionID  string `json:"connectionId"`
}

// ElementsUpdatePayload board:elements-update
type ElementsUpdatePayload struct {
	Elements json.RawMessage `json:"elements"`
	OriginID string          `json:"originId"`
}

// BoardDeletedPayload board:deleted
type BoardDeletedPayload struct {
	BoardID string `json:"boardId"`
}

// ErrorPayload error
type ErrorPayload struct {
	Message string `json:"message"`
}

type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Encode renders a server-to-client frame.
func Encode(msgType string, payload any) []byte {
	frame, err := json.Marshal(outbound{Type: msgType, Payload: payload})
	if err != nil {
		log.Printf("[BoardHub] Failed to encode %s: %v", msgType, err)
		return nil
	}
	return frame
}

func elementsUpdate(elements []Element, originID string) []byte {
	return Encode(TypeElementsUpdate, ElementsUpdatePayload{
		Elements: EncodeElements(elements),
		OriginID: originID,
	})
}

func errorFrame(message string) []byte {
	return Encode(TypeError, ErrorPayload{Message: message})
}
