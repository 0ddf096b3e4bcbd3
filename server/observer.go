package server

import "sync"

// Frame 一条已编码的房间广播
type Frame struct {
	Event string
	Data  []byte // 完整的 {"event":...,"data":...} JSON
}

// Subscription 订阅句柄；C 在 Cancel 或房间销毁后关闭
type Subscription struct {
	C  <-chan Frame
	ch chan Frame
	b  *Broadcaster
}

// Cancel 退订，可重复调用
func (s *Subscription) Cancel() {
	s.b.remove(s)
}

// Broadcaster 房间广播的旁路观察者（不是房间成员，不计入人数）
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*Subscription]struct{})}
}

// Subscribe 注册一个观察者。已关闭的 Broadcaster 返回立即关闭的订阅。
func (b *Broadcaster) Subscribe() *Subscription {
	ch := make(chan Frame, 16)
	s := &Subscription{C: ch, ch: ch, b: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish 投递给所有观察者；落后的观察者直接丢弃本条，返回丢弃数
func (b *Broadcaster) Publish(f Frame) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := 0
	for s := range b.subs {
		select {
		case s.ch <- f:
		default:
			dropped++
		}
	}
	return dropped
}

// Len 当前观察者数量
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close 关闭全部订阅，之后的 Subscribe 立即返回已关闭的订阅
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
}

func (b *Broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}
