package server

import (
	"go.uber.org/zap"
)

// Outbox 一条连接的发送端；Enqueue 不阻塞，队列满时返回 false
type Outbox interface {
	Enqueue(b []byte) bool
	Close()
}

// Router 把房间事件扇出给房间内的会话。
// 除 SendError 外，所有方法都要求调用方持有 r.mu：
// 入队发生在房间锁内，每个成员看到的顺序就是状态被应用的顺序。
type Router struct {
	log     *zap.SugaredLogger
	metrics *Metrics
}

func NewRouter(log *zap.SugaredLogger, metrics *Metrics) *Router {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Router{log: log, metrics: metrics}
}

// SendStateTo 单播完整房间状态（加入、显式请求时）
func (rt *Router) SendStateTo(s *Session, r *Room) {
	b, err := encodeEvent(EventGameStateUpdate, r.snapshotLocked())
	if err != nil {
		rt.log.Errorw("encode state failed", "room", r.ID, "err", err)
		return
	}
	rt.deliver(s, b)
}

// BroadcastStateToRoom 向房间内所有成员（含发起者）下发完整状态
func (rt *Router) BroadcastStateToRoom(r *Room) {
	rt.fanout(r, nil, EventGameStateUpdate, r.snapshotLocked())
}

// BroadcastCellRevealed 通知房间某个格子刚被翻开
func (rt *Router) BroadcastCellRevealed(r *Room, cellID int) {
	rt.fanout(r, nil, EventCellRevealed, cellID)
}

// BroadcastMembershipToRoom 人数变化通知，发给除 subject 本人以外的成员
func (rt *Router) BroadcastMembershipToRoom(r *Room, event string, subject *Session, name string) {
	rt.fanout(r, subject, event, Membership{
		PlayerID:    subject.ID,
		PlayerName:  name,
		PlayerCount: len(r.members),
		Players:     r.playersLocked(),
	})
}

// SendError 给单个会话发送错误事件，不需要任何房间锁
func (rt *Router) SendError(s *Session, err error) {
	b, encErr := encodeEvent(EventError, ErrorPayload{Code: errorCode(err), Message: err.Error()})
	if encErr != nil {
		return
	}
	rt.deliver(s, b)
}

func (rt *Router) fanout(r *Room, skip *Session, event string, data any) {
	b, err := encodeEvent(event, data)
	if err != nil {
		rt.log.Errorw("encode event failed", "room", r.ID, "event", event, "err", err)
		return
	}
	rt.metrics.IncBroadcast()
	for _, m := range r.members {
		if m.session == skip {
			continue
		}
		rt.deliver(m.session, b)
	}
	if dropped := r.observers.Publish(Frame{Event: event, Data: b}); dropped > 0 {
		rt.log.Debugw("observer lagging, frame dropped", "room", r.ID, "event", event, "dropped", dropped)
	}
}

// deliver 队列满说明对端跟不上：断开它，让客户端重连后整份重同步
func (rt *Router) deliver(s *Session, b []byte) {
	if s.out.Enqueue(b) {
		return
	}
	rt.metrics.IncSendQueueOverrun()
	rt.log.Warnw("send queue full, closing connection", "conn", s.ID)
	s.out.Close()
}
