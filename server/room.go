package server

import (
	"sort"
	"sync"
	"time"

	"bongobox/game"
)

// member 房间成员：会话 + 加入时的展示名
type member struct {
	session  *Session
	name     string
	joinedAt time.Time
}

// Room 一个房间的网格与成员。
// 所有读改写都在 mu 内完成，广播也在 mu 内入队，保证同一房间内的顺序。
type Room struct {
	ID string

	mu         sync.Mutex
	cells      []game.Cell // 只整体替换，从不原地修改
	members    map[string]*member
	generation int
	createdAt  time.Time
	emptySince time.Time // 成员数归零的时刻；有成员时为零值

	observers *Broadcaster
}

// RoomSummary 管理接口用的房间概要
type RoomSummary struct {
	RoomID        string    `json:"roomId"`
	PlayerCount   int       `json:"playerCount"`
	RevealedCount int       `json:"revealedCount"`
	GameStatus    string    `json:"gameStatus"`
	Generation    int       `json:"generation"`
	Observers     int       `json:"observers"`
	CreatedAt     time.Time `json:"createdAt"`
}

func newRoom(id string, prizes []game.Prize, now time.Time) *Room {
	return &Room{
		ID:         id,
		cells:      game.NewGrid(prizes),
		members:    make(map[string]*member),
		generation: 1,
		createdAt:  now,
		emptySince: now,
		observers:  NewBroadcaster(),
	}
}

// Snapshot 房间当前完整状态
func (r *Room) Snapshot() GameState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() GameState {
	return GameState{
		RoomID:        r.ID,
		Cells:         r.cells,
		GameStatus:    game.Status(r.cells),
		RevealedCount: game.RevealedCount(r.cells),
		PlayerCount:   len(r.members),
		Generation:    r.generation,
	}
}

// MemberCount 当前成员数
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Subscribe 以观察者身份订阅房间广播
func (r *Room) Subscribe() *Subscription {
	return r.observers.Subscribe()
}

func (r *Room) Summary() RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked()
}

func (r *Room) summaryLocked() RoomSummary {
	return RoomSummary{
		RoomID:        r.ID,
		PlayerCount:   len(r.members),
		RevealedCount: game.RevealedCount(r.cells),
		GameStatus:    game.Status(r.cells),
		Generation:    r.generation,
		Observers:     r.observers.Len(),
		CreatedAt:     r.createdAt,
	}
}

func (r *Room) addMemberLocked(s *Session, name string, now time.Time) {
	r.members[s.ID] = &member{session: s, name: name, joinedAt: now}
	r.emptySince = time.Time{}
}

func (r *Room) removeMemberLocked(connID string, now time.Time) (*member, bool) {
	m, ok := r.members[connID]
	if !ok {
		return nil, false
	}
	delete(r.members, connID)
	if len(r.members) == 0 {
		r.emptySince = now
	}
	return m, true
}

// playersLocked 按加入顺序列出成员
func (r *Room) playersLocked() []PlayerInfo {
	ms := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].joinedAt.Equal(ms[j].joinedAt) {
			return ms[i].session.ID < ms[j].session.ID
		}
		return ms[i].joinedAt.Before(ms[j].joinedAt)
	})
	out := make([]PlayerInfo, 0, len(ms))
	for _, m := range ms {
		out = append(out, PlayerInfo{ID: m.session.ID, Name: m.name})
	}
	return out
}

// revealLocked 经由翻开逻辑更新网格，返回是否有变化
func (r *Room) revealLocked(rv game.Reveal) bool {
	next, changed := game.Apply(r.cells, rv)
	if changed {
		r.cells = next
	}
	return changed
}

// resetLocked 换一代全新网格，所有格子回到未翻开
func (r *Room) resetLocked(prizes []game.Prize) {
	r.cells = game.NewGrid(prizes)
	r.generation++
}
