package game

import "time"

// Reveal 一次翻开动作：目标格子及可选的署名与时间
type Reveal struct {
	CellID int
	By     string
	At     time.Time
}

// ApplyReveal 纯函数：翻开 cellID，返回下一份网格以及是否发生变化。
// 越界或已翻开均为 no-op，原切片原样返回。
func ApplyReveal(cells []Cell, cellID int) ([]Cell, bool) {
	return Apply(cells, Reveal{CellID: cellID})
}

// Apply 同 ApplyReveal，额外在被接受的翻开上记录 By/At。
// 入参切片永远不会被修改。
func Apply(cells []Cell, r Reveal) ([]Cell, bool) {
	if r.CellID < 0 || r.CellID >= len(cells) || r.CellID >= CellCount {
		return cells, false
	}
	if cells[r.CellID].IsRevealed {
		// 先到先得：重复或竞争的翻开直接忽略
		return cells, false
	}
	next := make([]Cell, len(cells))
	copy(next, cells)
	c := &next[r.CellID]
	c.IsRevealed = true
	c.RevealedBy = r.By
	if !r.At.IsZero() {
		at := r.At
		c.RevealedAt = &at
	}
	return next, true
}
