package server

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"bongobox/game"
)

// recorder 记录发给一个会话的全部帧
type recorder struct {
	mu     sync.Mutex
	frames []frame
	full   bool
	closed bool
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (r *recorder) Enqueue(b []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return false
	}
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		panic(err)
	}
	r.frames = append(r.frames, f)
	return true
}

func (r *recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, f.Event)
	}
	return out
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.events() {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *recorder) clear() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

// lastState 最近一次收到的 game-state-update
func (r *recorder) lastState(t *testing.T) GameState {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].Event != EventGameStateUpdate {
			continue
		}
		var st GameState
		if err := json.Unmarshal(r.frames[i].Data, &st); err != nil {
			t.Fatalf("decode state: %v", err)
		}
		return st
	}
	t.Fatal("no game-state-update received")
	return GameState{}
}

// revealedIDs 按收到顺序列出 cell-revealed 的格子
func (r *recorder) revealedIDs(t *testing.T) []int {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int
	for _, f := range r.frames {
		if f.Event != EventCellRevealed {
			continue
		}
		var id int
		if err := json.Unmarshal(f.Data, &id); err != nil {
			t.Fatalf("decode cell-revealed: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func (r *recorder) lastError(t *testing.T) ErrorPayload {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.frames) - 1; i >= 0; i-- {
		if r.frames[i].Event != EventError {
			continue
		}
		var p ErrorPayload
		if err := json.Unmarshal(r.frames[i].Data, &p); err != nil {
			t.Fatalf("decode error payload: %v", err)
		}
		return p
	}
	t.Fatal("no error event received")
	return ErrorPayload{}
}

type testEnv struct {
	registry *Registry
	router   *Router
	metrics  *Metrics
}

func newTestEnv() *testEnv {
	metrics := &Metrics{}
	log := zap.NewNop().Sugar()
	return &testEnv{
		registry: NewRegistry(game.NewDealer(game.ModeClassic, 1), metrics, log),
		router:   NewRouter(log, metrics),
		metrics:  metrics,
	}
}

func (e *testEnv) session(id string) (*Session, *recorder) {
	rec := &recorder{}
	return NewSession(id, rec, e.registry, e.router, nil), rec
}

// waitFor 轮询直到 cond 成立或超时
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
