package server

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"bongobox/game"
)

func TestSession_JoinSendsStateAndNotifiesOthers(t *testing.T) {
	env := newTestEnv()
	p1, rec1 := env.session("p1")
	p2, rec2 := env.session("p2")

	if err := p1.Join("ABC123", "alice"); err != nil {
		t.Fatalf("p1 join: %v", err)
	}
	if got := rec1.events(); len(got) != 1 || got[0] != EventGameStateUpdate {
		t.Fatalf("p1 events = %v, want [game-state-update]", got)
	}

	if err := p2.Join("ABC123", "bob"); err != nil {
		t.Fatalf("p2 join: %v", err)
	}
	if got := rec2.count(EventPlayerJoined); got != 0 {
		t.Errorf("joiner got %d player-joined, want 0", got)
	}
	if got := rec1.count(EventPlayerJoined); got != 1 {
		t.Errorf("existing member got %d player-joined, want 1", got)
	}
	if st := rec2.lastState(t); st.PlayerCount != 2 || st.RoomID != "ABC123" {
		t.Errorf("p2 state = room %q count %d, want ABC123/2", st.RoomID, st.PlayerCount)
	}
	if p1.RoomID() != "ABC123" || p2.RoomID() != "ABC123" {
		t.Error("both sessions should be bound to ABC123")
	}
}

// 场景：P1 翻开 3，之后加入的 P2 看到的状态里 3 已翻开
func TestSession_RevealVisibleToLateJoiner(t *testing.T) {
	env := newTestEnv()
	p1, rec1 := env.session("p1")
	p2, rec2 := env.session("p2")

	if err := p1.Join("ABC123", "alice"); err != nil {
		t.Fatal(err)
	}
	changed, err := p1.RevealCell(3)
	if err != nil || !changed {
		t.Fatalf("RevealCell(3) = %v, %v; want true, nil", changed, err)
	}
	if ids := rec1.revealedIDs(t); len(ids) != 1 || ids[0] != 3 {
		t.Errorf("p1 cell-revealed = %v, want [3]", ids)
	}
	st := rec1.lastState(t)
	if !st.Cells[3].IsRevealed || st.Cells[3].RevealedBy != "p1" || st.Cells[3].RevealedAt == nil {
		t.Errorf("cell 3 after reveal = %+v", st.Cells[3])
	}

	if err := p2.Join("ABC123", "bob"); err != nil {
		t.Fatal(err)
	}
	st = rec2.lastState(t)
	if !st.Cells[3].IsRevealed {
		t.Error("late joiner should see cell 3 revealed")
	}
	if st.RevealedCount != 1 || st.GameStatus != game.StatusPlaying {
		t.Errorf("revealedCount=%d status=%q, want 1/playing", st.RevealedCount, st.GameStatus)
	}
}

// 场景：同一格连点两次只广播一次
func TestSession_DoubleClickBroadcastsOnce(t *testing.T) {
	env := newTestEnv()
	p1, rec1 := env.session("p1")
	p2, rec2 := env.session("p2")
	_ = p1.Join("ABC123", "alice")
	_ = p2.Join("ABC123", "bob")
	rec1.clear()
	rec2.clear()

	_, _ = p1.RevealCell(3)
	changed, err := p2.RevealCell(3)
	if err != nil || changed {
		t.Errorf("second reveal = %v, %v; want false, nil", changed, err)
	}

	for name, rec := range map[string]*recorder{"p1": rec1, "p2": rec2} {
		if got := rec.count(EventCellRevealed); got != 1 {
			t.Errorf("%s got %d cell-revealed, want 1", name, got)
		}
		if got := rec.count(EventGameStateUpdate); got != 1 {
			t.Errorf("%s got %d game-state-update, want 1", name, got)
		}
	}
	if got := env.metrics.Snapshot()["reveals_ignored"]; got != int64(1) {
		t.Errorf("reveals_ignored = %v, want 1", got)
	}
}

func TestSession_OutOfRangeIsSilent(t *testing.T) {
	env := newTestEnv()
	p1, rec := env.session("p1")
	_ = p1.Join("ABC123", "alice")
	rec.clear()

	for _, id := range []int{-1, game.CellCount, 99} {
		changed, err := p1.RevealCell(id)
		if changed || err != nil {
			t.Errorf("RevealCell(%d) = %v, %v; want false, nil", id, changed, err)
		}
	}
	if got := rec.events(); len(got) != 0 {
		t.Errorf("out-of-range reveals produced events %v", got)
	}
}

func TestSession_CompletedWhenAllRevealed(t *testing.T) {
	env := newTestEnv()
	p1, rec := env.session("p1")
	_ = p1.Join("ROOM", "alice")
	for i := 0; i < game.CellCount; i++ {
		_, _ = p1.RevealCell(i)
	}
	st := rec.lastState(t)
	if st.GameStatus != game.StatusCompleted || st.RevealedCount != game.CellCount {
		t.Errorf("status=%q revealed=%d, want completed/%d", st.GameStatus, st.RevealedCount, game.CellCount)
	}
}

func TestSession_JoinPolicy(t *testing.T) {
	env := newTestEnv()
	p1, rec := env.session("p1")
	if err := p1.Join("A", "alice"); err != nil {
		t.Fatal(err)
	}

	err := p1.Join("B", "alice")
	if !errors.Is(err, ErrAlreadyInRoom) {
		t.Fatalf("join other room: err = %v, want ErrAlreadyInRoom", err)
	}
	if _, ok := env.registry.GetRoom("B"); ok {
		t.Error("rejected join must not create the target room")
	}

	rec.clear()
	if err := p1.Join("A", "alice"); err != nil {
		t.Fatalf("rejoin same room: %v", err)
	}
	if got := rec.events(); len(got) != 1 || got[0] != EventGameStateUpdate {
		t.Errorf("rejoin events = %v, want a single state resync", got)
	}
	r, _ := env.registry.GetRoom("A")
	if r.MemberCount() != 1 {
		t.Errorf("member count after rejoin = %d, want 1", r.MemberCount())
	}
}

func TestSession_RoomFull(t *testing.T) {
	env := newTestEnv()
	env.registry.SetMaxMembers(1)
	p1, _ := env.session("p1")
	p2, _ := env.session("p2")

	if err := p1.Join("A", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := p2.Join("A", "bob"); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("err = %v, want ErrRoomFull", err)
	}
	if p2.RoomID() != "" {
		t.Error("rejected session should stay unbound")
	}
	if got := env.metrics.Snapshot()["joins_rejected"]; got != int64(1) {
		t.Errorf("joins_rejected = %v, want 1", got)
	}
}

func TestSession_LeaveNotifiesAndDestroysEmptyRoom(t *testing.T) {
	env := newTestEnv()
	p1, rec1 := env.session("p1")
	p2, rec2 := env.session("p2")
	_ = p1.Join("A", "alice")
	_ = p2.Join("A", "bob")

	if err := p2.Leave(); err != nil {
		t.Fatal(err)
	}
	if got := rec1.count(EventPlayerLeft); got != 1 {
		t.Errorf("remaining member got %d player-left, want 1", got)
	}
	if got := rec2.count(EventPlayerLeft); got != 0 {
		t.Errorf("leaver got %d player-left, want 0", got)
	}
	if env.registry.RoomCount() != 1 {
		t.Fatalf("room should survive while p1 is in it")
	}

	p1.Close()
	if env.registry.RoomCount() != 0 {
		t.Error("last member leaving should destroy the room")
	}
	if err := p1.Leave(); !errors.Is(err, ErrNotInRoom) {
		t.Errorf("leave after close: err = %v, want ErrNotInRoom", err)
	}
	if err := p1.Join("A", "alice"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("join after close: err = %v, want ErrSessionClosed", err)
	}
	p1.Close()
}

func TestSession_ResetGrid(t *testing.T) {
	env := newTestEnv()
	p1, rec1 := env.session("p1")
	p2, rec2 := env.session("p2")
	_ = p1.Join("A", "alice")
	_ = p2.Join("A", "bob")
	_, _ = p1.RevealCell(0)
	_, _ = p1.RevealCell(7)

	if err := p2.ResetGrid("friendly"); err != nil {
		t.Fatal(err)
	}
	for name, rec := range map[string]*recorder{"p1": rec1, "p2": rec2} {
		st := rec.lastState(t)
		if st.RevealedCount != 0 || st.Generation != 2 {
			t.Errorf("%s after reset: revealed=%d generation=%d, want 0/2", name, st.RevealedCount, st.Generation)
		}
		if st.Cells[0].PrizeItem == nil || st.Cells[0].PrizeItem.Name != "Bonus Time" {
			t.Errorf("%s cell 0 prize = %+v, want friendly preset", name, st.Cells[0].PrizeItem)
		}
	}

	if err := p1.ResetGrid("nope"); !errors.Is(err, game.ErrUnknownMode) {
		t.Errorf("bad mode: err = %v, want ErrUnknownMode", err)
	}
	lone, _ := env.session("lone")
	if err := lone.ResetGrid(""); !errors.Is(err, ErrNotInRoom) {
		t.Errorf("unbound reset: err = %v, want ErrNotInRoom", err)
	}
}

func TestSession_RequestStateCreatesMemberlessRoom(t *testing.T) {
	env := newTestEnv()
	s, rec := env.session("p1")

	if err := s.RequestState("LOBBY"); err != nil {
		t.Fatal(err)
	}
	st := rec.lastState(t)
	if st.RoomID != "LOBBY" || st.PlayerCount != 0 || len(st.Cells) != game.CellCount {
		t.Errorf("state = %+v", st)
	}
	if s.RoomID() != "" {
		t.Error("requesting state must not bind the session")
	}
	if env.registry.RoomCount() != 1 {
		t.Errorf("room count = %d, want 1", env.registry.RoomCount())
	}
	if err := s.RequestState(""); !errors.Is(err, ErrNotInRoom) {
		t.Errorf("unbound empty request: err = %v, want ErrNotInRoom", err)
	}
}

func TestSession_HandleDispatch(t *testing.T) {
	env := newTestEnv()
	s, rec := env.session("p1")

	// 未绑定时点击：静默忽略
	s.Handle(CellClick{RoomID: "A", CellID: 1})
	if got := rec.events(); len(got) != 0 {
		t.Fatalf("unbound click produced %v", got)
	}

	s.Handle(JoinGame{RoomID: "A", PlayerName: "alice"})
	if s.RoomID() != "A" {
		t.Fatal("join-game should bind the session")
	}

	rec.clear()
	s.Handle(CellClick{RoomID: "B", CellID: 1})
	if got := rec.events(); len(got) != 0 {
		t.Errorf("click for another room produced %v", got)
	}

	s.Handle(CellClick{RoomID: "A", CellID: 1})
	if ids := rec.revealedIDs(t); len(ids) != 1 || ids[0] != 1 {
		t.Errorf("cell-revealed = %v, want [1]", ids)
	}

	s.Handle(JoinGame{RoomID: "B", PlayerName: "alice"})
	if p := rec.lastError(t); p.Code != "already-in-room" {
		t.Errorf("error code = %q, want already-in-room", p.Code)
	}

	s.Handle(ResetGrid{PrizeMode: "bogus"})
	if p := rec.lastError(t); p.Code != "bad-prize-mode" {
		t.Errorf("error code = %q, want bad-prize-mode", p.Code)
	}

	rec.clear()
	s.Handle(LeaveGame{RoomID: "B"})
	if s.RoomID() != "A" {
		t.Error("leave-game for another room must not unbind")
	}
	if got := rec.events(); len(got) != 0 {
		t.Errorf("leave for another room produced %v", got)
	}

	s.Handle(LeaveGame{RoomID: "A"})
	if s.RoomID() != "" {
		t.Error("leave-game should unbind")
	}
	rec.clear()
	s.Handle(LeaveGame{})
	if got := rec.events(); len(got) != 0 {
		t.Errorf("leave while unbound produced %v", got)
	}
}

func TestSession_HandleRateLimited(t *testing.T) {
	env := newTestEnv()
	rec := &recorder{}
	s := NewSession("p1", rec, env.registry, env.router, rate.NewLimiter(rate.Every(time.Hour), 1))

	s.Handle(JoinGame{RoomID: "A", PlayerName: "alice"})
	s.Handle(CellClick{RoomID: "A", CellID: 0})

	if got := rec.count(EventCellRevealed); got != 0 {
		t.Errorf("rate-limited click was applied")
	}
	if got := env.metrics.Snapshot()["rate_limited"]; got != int64(1) {
		t.Errorf("rate_limited = %v, want 1", got)
	}
}

// 并发点击：每个成员都恰好收到 12 次 cell-revealed，最终状态一致
func TestSession_ConcurrentRevealsConverge(t *testing.T) {
	env := newTestEnv()
	const players = 8
	sessions := make([]*Session, players)
	recs := make([]*recorder, players)
	for i := range sessions {
		sessions[i], recs[i] = env.session(fmt.Sprintf("p%d", i))
		if err := sessions[i].Join("RACE", "p"); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(s *Session, seed int64) {
			defer wg.Done()
			order := rand.New(rand.NewSource(seed)).Perm(game.CellCount)
			for _, id := range order {
				_, _ = s.RevealCell(id)
			}
		}(s, int64(i))
	}
	wg.Wait()

	r, _ := env.registry.GetRoom("RACE")
	final := r.Snapshot()
	if final.RevealedCount != game.CellCount {
		t.Fatalf("revealed = %d, want %d", final.RevealedCount, game.CellCount)
	}
	for i, rec := range recs {
		ids := rec.revealedIDs(t)
		if len(ids) != game.CellCount {
			t.Errorf("p%d got %d cell-revealed, want %d", i, len(ids), game.CellCount)
		}
		seen := map[int]bool{}
		for _, id := range ids {
			if seen[id] {
				t.Errorf("p%d saw cell %d revealed twice", i, id)
			}
			seen[id] = true
		}
		if st := rec.lastState(t); st.RevealedCount != game.CellCount {
			t.Errorf("p%d last state revealed = %d", i, st.RevealedCount)
		}
		for _, c := range rec.lastState(t).Cells {
			if c.RevealedBy != final.Cells[c.ID].RevealedBy {
				t.Errorf("p%d cell %d revealedBy %q, room has %q", i, c.ID, c.RevealedBy, final.Cells[c.ID].RevealedBy)
			}
		}
	}
}

// 并发加入/离开后：会话绑定的房间 ⇔ 房间成员表
func TestSession_MembershipBijection(t *testing.T) {
	env := newTestEnv()
	rooms := []string{"A", "B", "C"}
	const n = 30
	sessions := make([]*Session, n)
	for i := range sessions {
		sessions[i], _ = env.session(fmt.Sprintf("s%02d", i))
	}

	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(int64(i)))
			for k := 0; k < 50; k++ {
				switch rnd.Intn(3) {
				case 0:
					_ = s.Join(rooms[rnd.Intn(len(rooms))], "x")
				case 1:
					_ = s.Leave()
				default:
					_, _ = s.RevealCell(rnd.Intn(game.CellCount))
				}
			}
		}(i, s)
	}
	wg.Wait()

	bound := map[string]string{}
	for _, s := range sessions {
		if id := s.RoomID(); id != "" {
			bound[s.ID] = id
		}
	}
	members := map[string]string{}
	for _, id := range rooms {
		r, ok := env.registry.GetRoom(id)
		if !ok {
			continue
		}
		r.mu.Lock()
		if len(r.members) == 0 {
			t.Errorf("room %s is registered with no members", id)
		}
		for connID := range r.members {
			members[connID] = id
		}
		r.mu.Unlock()
	}
	if len(bound) != len(members) {
		t.Fatalf("bound sessions = %d, room members = %d", len(bound), len(members))
	}
	for connID, roomID := range bound {
		if members[connID] != roomID {
			t.Errorf("session %s bound to %q but member of %q", connID, roomID, members[connID])
		}
	}
}
