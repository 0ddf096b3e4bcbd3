package server

import (
	"encoding/json"
	"errors"

	"bongobox/game"
)

// 服务端 → 客户端事件
const (
	EventGameStateUpdate = "game-state-update"
	EventCellRevealed    = "cell-revealed"
	EventPlayerJoined    = "player-joined"
	EventPlayerLeft      = "player-left"
	EventWelcome         = "welcome"
	EventError           = "error"
)

// GameState 房间完整状态，每次都整份下发（不做增量）
type GameState struct {
	RoomID        string      `json:"roomId"`
	Cells         []game.Cell `json:"cells"`
	GameStatus    string      `json:"gameStatus"`
	RevealedCount int         `json:"revealedCount"`
	PlayerCount   int         `json:"playerCount"`
	Generation    int         `json:"generation"`
}

type PlayerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Membership player-joined / player-left 的载荷
type Membership struct {
	PlayerID    string       `json:"playerId"`
	PlayerName  string       `json:"playerName"`
	PlayerCount int          `json:"playerCount"`
	Players     []PlayerInfo `json:"players"`
}

type Welcome struct {
	ConnectionID string `json:"connectionId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func encodeEvent(event string, data any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: data})
}

// errorCode 把内部错误映射成稳定的错误码
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrMalformed):
		return "bad-message"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown-event"
	case errors.Is(err, ErrInvalidRoomID):
		return "invalid-room"
	case errors.Is(err, ErrAlreadyInRoom):
		return "already-in-room"
	case errors.Is(err, ErrRoomFull):
		return "room-full"
	case errors.Is(err, ErrNotInRoom):
		return "not-in-room"
	case errors.Is(err, game.ErrUnknownMode):
		return "bad-prize-mode"
	}
	return "internal"
}
