package server

import (
	"sync/atomic"
)

// Metrics 记录服务运行期的关键指标（用于监控与调试）
type Metrics struct {
	Connections      int64 // 当前连接数
	JoinsAccepted    int64
	JoinsRejected    int64 // 已在其他房间 / 房间已满
	RevealsAccepted  int64
	RevealsIgnored   int64 // 越界、已翻开、未绑定房间
	Resets           int64
	RateLimited      int64 // 因限流被丢弃的动作或连接
	BadMessages      int64 // 无法解析的入站消息
	Broadcasts       int64 // 房间广播次数（一次广播多人只计一次）
	SendQueueOverrun int64 // 发送队列满而被断开的连接
	RoomsCreated     int64
	RoomsDestroyed   int64
}

func (m *Metrics) ConnOpened()          { atomic.AddInt64(&m.Connections, 1) }
func (m *Metrics) ConnClosed()          { atomic.AddInt64(&m.Connections, -1) }
func (m *Metrics) IncJoinAccepted()     { atomic.AddInt64(&m.JoinsAccepted, 1) }
func (m *Metrics) IncJoinRejected()     { atomic.AddInt64(&m.JoinsRejected, 1) }
func (m *Metrics) IncRevealAccepted()   { atomic.AddInt64(&m.RevealsAccepted, 1) }
func (m *Metrics) IncRevealIgnored()    { atomic.AddInt64(&m.RevealsIgnored, 1) }
func (m *Metrics) IncReset()            { atomic.AddInt64(&m.Resets, 1) }
func (m *Metrics) IncRateLimited()      { atomic.AddInt64(&m.RateLimited, 1) }
func (m *Metrics) IncBadMessage()       { atomic.AddInt64(&m.BadMessages, 1) }
func (m *Metrics) IncBroadcast()        { atomic.AddInt64(&m.Broadcasts, 1) }
func (m *Metrics) IncSendQueueOverrun() { atomic.AddInt64(&m.SendQueueOverrun, 1) }
func (m *Metrics) IncRoomCreated()      { atomic.AddInt64(&m.RoomsCreated, 1) }
func (m *Metrics) IncRoomDestroyed()    { atomic.AddInt64(&m.RoomsDestroyed, 1) }

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"connections":        atomic.LoadInt64(&m.Connections),
		"joins_accepted":     atomic.LoadInt64(&m.JoinsAccepted),
		"joins_rejected":     atomic.LoadInt64(&m.JoinsRejected),
		"reveals_accepted":   atomic.LoadInt64(&m.RevealsAccepted),
		"reveals_ignored":    atomic.LoadInt64(&m.RevealsIgnored),
		"resets":             atomic.LoadInt64(&m.Resets),
		"rate_limited":       atomic.LoadInt64(&m.RateLimited),
		"bad_messages":       atomic.LoadInt64(&m.BadMessages),
		"broadcasts":         atomic.LoadInt64(&m.Broadcasts),
		"send_queue_overrun": atomic.LoadInt64(&m.SendQueueOverrun),
		"rooms_created":      atomic.LoadInt64(&m.RoomsCreated),
		"rooms_destroyed":    atomic.LoadInt64(&m.RoomsDestroyed),
	}
}
