package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bongobox/game"
)

var (
	ErrAlreadyInRoom = errors.New("already in a room")
	ErrNotInRoom     = errors.New("not in a room")
	ErrRoomFull      = errors.New("room is full")
	ErrSessionClosed = errors.New("session closed")
)

// Session 一条连接在服务端的会话：未绑定 → 绑定到某个房间 → 断开。
// 同一时刻最多绑定一个房间。锁顺序：Session.mu → Registry.mu → Room.mu。
type Session struct {
	ID string

	out      Outbox
	registry *Registry
	router   *Router
	limiter  *rate.Limiter // nil 表示不限流
	metrics  *Metrics
	log      *zap.SugaredLogger

	mu     sync.Mutex
	room   *Room
	closed bool
}

// NewSession id 为空时生成 uuid
func NewSession(id string, out Outbox, registry *Registry, router *Router, limiter *rate.Limiter) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:       id,
		out:      out,
		registry: registry,
		router:   router,
		limiter:  limiter,
		metrics:  registry.metrics,
		log:      registry.log.With("conn", id),
	}
}

// RoomID 已绑定房间号；未绑定返回空串
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return ""
	}
	return s.room.ID
}

// Join 加入房间（不存在则创建）。
// 已绑定到其他房间时拒绝（ErrAlreadyInRoom）；已在同一房间时只重发完整状态。
func (s *Session) Join(roomID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if roomID == "" {
		return fmt.Errorf("%w: roomId required", ErrInvalidRoomID)
	}
	if name == "" {
		name = defaultName
	}

	if cur := s.room; cur != nil {
		if cur.ID != roomID {
			s.metrics.IncJoinRejected()
			return fmt.Errorf("%w: %s", ErrAlreadyInRoom, cur.ID)
		}
		cur.mu.Lock()
		s.router.SendStateTo(s, cur)
		cur.mu.Unlock()
		return nil
	}

	full := false
	r := s.registry.bind(roomID, func(r *Room) {
		if limit := s.registry.MaxMembers(); limit > 0 && len(r.members) >= limit {
			full = true
			return
		}
		r.addMemberLocked(s, name, s.registry.now())
		s.router.SendStateTo(s, r)
		s.router.BroadcastMembershipToRoom(r, EventPlayerJoined, s, name)
	})
	if full {
		s.metrics.IncJoinRejected()
		return fmt.Errorf("%w: %s", ErrRoomFull, roomID)
	}
	s.room = r
	s.metrics.IncJoinAccepted()
	s.log.Infow("joined room", "room", roomID, "name", name)
	return nil
}

// RevealCell 翻开一个格子；只有状态真的变化时才广播（含发起者自己）
func (s *Session) RevealCell(cellID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room
	if r == nil {
		s.metrics.IncRevealIgnored()
		return false, ErrNotInRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.revealLocked(game.Reveal{CellID: cellID, By: s.ID, At: s.registry.now()}) {
		s.metrics.IncRevealIgnored()
		return false, nil
	}
	s.metrics.IncRevealAccepted()
	s.router.BroadcastCellRevealed(r, cellID)
	s.router.BroadcastStateToRoom(r)
	return true, nil
}

// RequestState 单播房间状态：roomID 为空取已绑定房间；未知房间按需创建
func (s *Session) RequestState(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	r := s.room
	if roomID != "" && (r == nil || r.ID != roomID) {
		var ok bool
		if r, ok = s.registry.GetRoom(roomID); !ok {
			r = s.registry.GetOrCreateRoom(roomID)
		}
	}
	if r == nil {
		return ErrNotInRoom
	}
	r.mu.Lock()
	s.router.SendStateTo(s, r)
	r.mu.Unlock()
	return nil
}

// ResetGrid 用新一代网格替换整个房间的格子（全部未翻开），并广播给所有成员
func (s *Session) ResetGrid(prizeMode string) error {
	mode, err := game.ParseMode(prizeMode)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room
	if r == nil {
		return ErrNotInRoom
	}
	prizes := s.registry.prizes.Assign(mode, game.CellCount)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked(prizes)
	s.metrics.IncReset()
	s.log.Infow("grid reset", "room", r.ID, "generation", r.generation, "mode", mode)
	s.router.BroadcastStateToRoom(r)
	return nil
}

// Leave 离开当前房间；房间空了由注册表立即销毁
func (s *Session) Leave() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaveLocked()
}

func (s *Session) leaveLocked() error {
	r := s.room
	if r == nil {
		return ErrNotInRoom
	}
	destroyed := s.registry.unbind(r, func() {
		m, ok := r.removeMemberLocked(s.ID, s.registry.now())
		if !ok {
			return
		}
		s.router.BroadcastMembershipToRoom(r, EventPlayerLeft, s, m.name)
	})
	s.room = nil
	s.log.Infow("left room", "room", r.ID, "roomDestroyed", destroyed)
	return nil
}

// Close 连接断开时调用：离开房间并进入终态，可重复调用
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.room != nil {
		_ = s.leaveLocked()
	}
}

// Handle 分发一条已校验的入站消息。
// 无效目标（未绑定时点击、点击别的房间、越界格子）静默忽略；其余错误回给发送者。
func (s *Session) Handle(msg ClientMessage) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.IncRateLimited()
		return
	}

	var err error
	switch m := msg.(type) {
	case JoinGame:
		err = s.Join(m.RoomID, m.PlayerName)
	case CellClick:
		if m.RoomID != "" && m.RoomID != s.RoomID() {
			s.metrics.IncRevealIgnored()
			s.log.Debugw("cell-click for another room ignored", "room", m.RoomID, "cell", m.CellID)
			return
		}
		if _, err = s.RevealCell(m.CellID); errors.Is(err, ErrNotInRoom) {
			err = nil
		}
	case RequestGameState:
		err = s.RequestState(m.RoomID)
	case LeaveGame:
		if m.RoomID != "" && m.RoomID != s.RoomID() {
			return
		}
		if err = s.Leave(); errors.Is(err, ErrNotInRoom) {
			err = nil
		}
	case ResetGrid:
		if m.RoomID != "" && m.RoomID != s.RoomID() {
			return
		}
		err = s.ResetGrid(m.PrizeMode)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownEvent, msg)
	}

	if err != nil && !errors.Is(err, ErrSessionClosed) {
		s.log.Debugw("action rejected", "event", msg.EventName(), "err", err)
		s.router.SendError(s, err)
	}
}
