package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// 客户端 → 服务端事件
const (
	EventJoinGame         = "join-game"
	EventCellClick        = "cell-click"
	EventRequestGameState = "request-game-state"
	EventLeaveGame        = "leave-game"
	EventResetGrid        = "reset-grid"
)

const (
	maxRoomIDLen     = 64
	maxPlayerNameLen = 20
	defaultName      = "Player"
)

var (
	ErrMalformed     = errors.New("malformed message")
	ErrUnknownEvent  = errors.New("unknown event")
	ErrInvalidRoomID = errors.New("invalid room id")
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Envelope 入站消息外壳（WebSocket 文本消息）
// 示例：{"event":"cell-click","data":{"roomId":"ABC123","cellId":3}}
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ClientMessage 已校验的入站消息，每种事件一个具体类型
type ClientMessage interface {
	EventName() string
}

type JoinGame struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName"`
}

type CellClick struct {
	RoomID string `json:"roomId"`
	CellID int    `json:"cellId"`
}

type RequestGameState struct {
	RoomID string `json:"roomId"`
}

type LeaveGame struct {
	RoomID string `json:"roomId"`
}

type ResetGrid struct {
	RoomID    string `json:"roomId"`
	PrizeMode string `json:"prizeMode,omitempty"`
}

func (JoinGame) EventName() string         { return EventJoinGame }
func (CellClick) EventName() string        { return EventCellClick }
func (RequestGameState) EventName() string { return EventRequestGameState }
func (LeaveGame) EventName() string        { return EventLeaveGame }
func (ResetGrid) EventName() string        { return EventResetGrid }

// DecodeClientMessage 解析并校验一条入站消息。
// cellId 的取值范围不在这里检查，越界交给翻开逻辑当作 no-op。
func DecodeClientMessage(b []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch strings.ToLower(strings.TrimSpace(env.Event)) {
	case EventJoinGame:
		var m JoinGame
		if err := decodeData(env.Data, &m); err != nil {
			return nil, err
		}
		roomID, err := normalizeRoomID(m.RoomID, true)
		if err != nil {
			return nil, err
		}
		m.RoomID = roomID
		m.PlayerName = normalizeName(m.PlayerName)
		return m, nil

	case EventCellClick:
		var raw struct {
			RoomID string `json:"roomId"`
			CellID *int   `json:"cellId"`
		}
		if err := decodeData(env.Data, &raw); err != nil {
			return nil, err
		}
		if raw.CellID == nil {
			return nil, fmt.Errorf("%w: cellId required", ErrMalformed)
		}
		roomID, err := normalizeRoomID(raw.RoomID, false)
		if err != nil {
			return nil, err
		}
		return CellClick{RoomID: roomID, CellID: *raw.CellID}, nil

	case EventRequestGameState:
		var m RequestGameState
		if err := decodeData(env.Data, &m); err != nil {
			return nil, err
		}
		roomID, err := normalizeRoomID(m.RoomID, false)
		if err != nil {
			return nil, err
		}
		m.RoomID = roomID
		return m, nil

	case EventLeaveGame:
		var m LeaveGame
		if err := decodeData(env.Data, &m); err != nil {
			return nil, err
		}
		roomID, err := normalizeRoomID(m.RoomID, false)
		if err != nil {
			return nil, err
		}
		m.RoomID = roomID
		return m, nil

	case EventResetGrid:
		var m ResetGrid
		if err := decodeData(env.Data, &m); err != nil {
			return nil, err
		}
		roomID, err := normalizeRoomID(m.RoomID, false)
		if err != nil {
			return nil, err
		}
		m.RoomID = roomID
		return m, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func normalizeRoomID(id string, required bool) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		if required {
			return "", fmt.Errorf("%w: roomId required", ErrInvalidRoomID)
		}
		return "", nil
	}
	if len(id) > maxRoomIDLen || !roomIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoomID, id)
	}
	return id, nil
}

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultName
	}
	if r := []rune(name); len(r) > maxPlayerNameLen {
		name = string(r[:maxPlayerNameLen])
	}
	return name
}
