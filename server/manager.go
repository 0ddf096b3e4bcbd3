package server

import (
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"bongobox/game"
)

const (
	roomCodeLetters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	roomCodeLen     = 6
)

// Registry 管理全部房间的生命周期：首次引用时创建，最后一个成员离开时销毁。
// 加入/离开在 mu 内串行；锁顺序固定为 Registry.mu → Room.mu。
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	prizes     game.Assigner
	maxMembers atomic.Int64
	metrics    *Metrics
	log        *zap.SugaredLogger
	now        func() time.Time
}

func NewRegistry(prizes game.Assigner, metrics *Metrics, log *zap.SugaredLogger) *Registry {
	if prizes == nil {
		prizes = game.NewDealer(game.ModeRandom, time.Now().UnixNano())
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{
		rooms:   make(map[string]*Room),
		prizes:  prizes,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// GetOrCreateRoom 获取或创建房间；新房间带一份全新网格
func (g *Registry) GetOrCreateRoom(id string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getOrCreateLocked(id)
}

// GetRoom 只查找，不创建
func (g *Registry) GetRoom(id string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[id]
	return r, ok
}

// CreateRoom 分配一个未被占用的房间码并登记空房间
func (g *Registry) CreateRoom() *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		code := randCode(roomCodeLen)
		if _, taken := g.rooms[code]; !taken {
			return g.getOrCreateLocked(code)
		}
	}
}

// RemoveRoomIfEmpty 房间无成员时删除；房间不存在或仍有成员则不做任何事。
// 成员离开走 unbind，在同一把锁里完成同样的检查与删除。
func (g *Registry) RemoveRoomIfEmpty(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[id]
	if !ok {
		return false
	}
	r.mu.Lock()
	empty := len(r.members) == 0
	r.mu.Unlock()
	if !empty {
		return false
	}
	return g.removeLocked(r, "empty")
}

// RoomCount 当前房间数
func (g *Registry) RoomCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// Rooms 全部房间概要，按房间号排序
func (g *Registry) Rooms() []RoomSummary {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]RoomSummary, 0, len(g.rooms))
	for _, r := range g.rooms {
		r.mu.Lock()
		out = append(out, r.summaryLocked())
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// SetMaxMembers 每个房间的人数上限，0 表示不限
func (g *Registry) SetMaxMembers(n int) {
	if n < 0 {
		n = 0
	}
	g.maxMembers.Store(int64(n))
}

func (g *Registry) MaxMembers() int {
	return int(g.maxMembers.Load())
}

// SweepIdle 清理空置超过 ttl 的房间（只被查询过、从未有人加入的房间）
func (g *Registry) SweepIdle(now time.Time, ttl time.Duration) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, r := range g.rooms {
		r.mu.Lock()
		idle := len(r.members) == 0 && !r.emptySince.IsZero() && now.Sub(r.emptySince) >= ttl
		r.mu.Unlock()
		if idle && g.removeLocked(r, "idle") {
			n++
		}
	}
	return n
}

// bind 在注册表锁内取得（或创建）房间，并在房间锁内执行 fn
func (g *Registry) bind(id string, fn func(r *Room)) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.getOrCreateLocked(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
	return r
}

// unbind 在房间锁内执行 fn；之后房间若已无成员则立即销毁
func (g *Registry) unbind(r *Room, fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	r.mu.Lock()
	fn()
	empty := len(r.members) == 0
	r.mu.Unlock()
	if !empty {
		return false
	}
	return g.removeLocked(r, "empty")
}

func (g *Registry) getOrCreateLocked(id string) *Room {
	if r, ok := g.rooms[id]; ok {
		return r
	}
	r := newRoom(id, g.prizes.Assign("", game.CellCount), g.now())
	g.rooms[id] = r
	g.metrics.IncRoomCreated()
	g.log.Infow("room created", "room", id)
	return r
}

// removeLocked 只删除仍登记在表中的同一个房间实例
func (g *Registry) removeLocked(r *Room, reason string) bool {
	if cur, ok := g.rooms[r.ID]; !ok || cur != r {
		return false
	}
	delete(g.rooms, r.ID)
	r.observers.Close()
	g.metrics.IncRoomDestroyed()
	g.log.Infow("room destroyed", "room", r.ID, "reason", reason)
	return true
}

func randCode(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = roomCodeLetters[rand.IntN(len(roomCodeLetters))]
	}
	return string(b)
}
