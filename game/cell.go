package game

import (
	"fmt"
	"time"
)

const (
	// Rows × Cols 固定网格：3 行 4 列
	Rows      = 3
	Cols      = 4
	CellCount = Rows * Cols
)

// 网格状态（派生视图，不是核心不变量）
const (
	StatusPlaying   = "playing"
	StatusCompleted = "completed"
)

// Prize 格子背后的奖品，对同步核心是不透明的
type Prize struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Image       string `json:"img"`
	Description string `json:"description,omitempty"`
}

// Cell 单个格子；ID 即下标，X/Y 由 ID 推导
type Cell struct {
	ID         int        `json:"id"`
	X          int        `json:"x"`
	Y          int        `json:"y"`
	Value      int        `json:"value"` // 展示用编号 1..12
	IsRevealed bool       `json:"isRevealed"`
	RevealedBy string     `json:"revealedBy,omitempty"`
	RevealedAt *time.Time `json:"revealedAt,omitempty"`
	PrizeItem  *Prize     `json:"prizeItem,omitempty"`
}

// NewGrid 生成一代全新网格（全部未翻开），按顺序把奖品挂到格子上
func NewGrid(prizes []Prize) []Cell {
	cells := make([]Cell, CellCount)
	for id := range cells {
		cells[id] = Cell{
			ID:    id,
			X:     id % Cols,
			Y:     id / Cols,
			Value: id + 1,
		}
		if id < len(prizes) {
			p := prizes[id]
			cells[id].PrizeItem = &p
		}
	}
	return cells
}

// RevealedCount 已翻开格子数
func RevealedCount(cells []Cell) int {
	n := 0
	for i := range cells {
		if cells[i].IsRevealed {
			n++
		}
	}
	return n
}

// Status 全部翻开即 completed
func Status(cells []Cell) string {
	if len(cells) > 0 && RevealedCount(cells) == len(cells) {
		return StatusCompleted
	}
	return StatusPlaying
}

// Validate 检查网格形状：恰好 12 格，且 id/x/y 一致
func Validate(cells []Cell) error {
	if len(cells) != CellCount {
		return fmt.Errorf("grid has %d cells, want %d", len(cells), CellCount)
	}
	for i, c := range cells {
		if c.ID != i {
			return fmt.Errorf("cell at index %d has id %d", i, c.ID)
		}
		if c.X != c.ID%Cols || c.Y != c.ID/Cols {
			return fmt.Errorf("cell %d at (%d,%d), want (%d,%d)", c.ID, c.X, c.Y, c.ID%Cols, c.ID/Cols)
		}
	}
	return nil
}
