package game

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// Mode 奖品分配方式
type Mode string

const (
	ModeRandom   Mode = "random"
	ModeClassic  Mode = "classic"
	ModeHighRisk Mode = "high-risk"
	ModeFriendly Mode = "friendly"
)

var ErrUnknownMode = errors.New("unknown prize mode")

// Catalog 全部可用奖品
var Catalog = []Prize{
	{ID: 1, Name: "Bonus Time", Image: "/assets/items/BonusTime.png", Description: "Extra time added to your turn"},
	{ID: 2, Name: "Borrowed Brain", Image: "/assets/items/BorrowedBrain.png", Description: "Steal an answer from another player"},
	{ID: 3, Name: "Disqualified", Image: "/assets/items/Disqualified.png", Description: "You are disqualified from this round"},
	{ID: 4, Name: "Double Or Nothing", Image: "/assets/items/DoubleorNothing.png", Description: "Risk your points for double or nothing"},
	{ID: 5, Name: "Double Points", Image: "/assets/items/DoublePoints2.png", Description: "Earn double points for your next answer"},
	{ID: 6, Name: "Freeze Frame", Image: "/assets/items/FreezeFrame.png", Description: "Freeze another player's turn"},
	{ID: 7, Name: "Insurance", Image: "/assets/items/insurance.png", Description: "Protect your points from being stolen"},
	{ID: 8, Name: "Mirror Effect", Image: "/assets/items/MirrorEffect.png", Description: "Mirror another player's score"},
	{ID: 9, Name: "No Penalty", Image: "/assets/items/nopenalty.png", Description: "Avoid penalty for wrong answer"},
	{ID: 10, Name: "Point Chance Brain", Image: "/assets/items/pointChanceBrain.png", Description: "50% chance to double your points"},
	{ID: 11, Name: "Point Gamble", Image: "/assets/items/PointGamble.png", Description: "Gamble your points on the next question"},
	{ID: 12, Name: "Question Swap", Image: "/assets/items/questionswap.png", Description: "Swap the current question"},
	{ID: 13, Name: "Second Chance", Image: "/assets/items/secondchance.png", Description: "Get a second chance on wrong answer"},
	{ID: 14, Name: "Steal A Point", Image: "/assets/items/StealAPoint.png", Description: "Steal a point from another player"},
	{ID: 15, Name: "Sudden Death Disqualified", Image: "/assets/items/SuddenDeathDisqualified.png", Description: "Sudden death - next wrong answer loses"},
	{ID: 16, Name: "Swap Fate", Image: "/assets/items/SwapFate.png", Description: "Swap scores with another player"},
	{ID: 17, Name: "Time Tax", Image: "/assets/items/TimeTax.png", Description: "Pay time penalty for advantage"},
}

// 预设列表，按名称引用 Catalog
var presets = map[Mode][]string{
	ModeClassic: {
		"Double Points", "Second Chance", "Steal A Point", "Insurance",
		"Freeze Frame", "No Penalty", "Bonus Time", "Question Swap",
		"Mirror Effect", "Point Gamble", "Swap Fate", "Time Tax",
	},
	ModeHighRisk: {
		"Double Or Nothing", "Point Gamble", "Sudden Death Disqualified", "Disqualified",
		"Double Points", "Steal A Point", "Swap Fate", "Time Tax",
		"Borrowed Brain", "Mirror Effect", "Point Chance Brain", "Freeze Frame",
	},
	ModeFriendly: {
		"Bonus Time", "Second Chance", "No Penalty", "Insurance",
		"Double Points", "Question Swap", "Time Tax", "Point Chance Brain",
		"Borrowed Brain", "Steal A Point", "Freeze Frame", "Mirror Effect",
	},
}

// ParseMode 解析模式名；空串返回 ""（表示使用默认模式），兼容旧客户端的 custom1..3
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "random":
		return ModeRandom, nil
	case "classic", "custom1":
		return ModeClassic, nil
	case "high-risk", "highrisk", "custom2":
		return ModeHighRisk, nil
	case "friendly", "custom3":
		return ModeFriendly, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Assigner 生成网格时的奖品分配方（外部协作者）
type Assigner interface {
	Assign(mode Mode, n int) []Prize
}

// Dealer 默认的 Assigner：预设列表或随机洗牌。默认模式可热更新。
type Dealer struct {
	mu   sync.Mutex
	mode Mode
	rnd  *rand.Rand
}

func NewDealer(mode Mode, seed int64) *Dealer {
	if mode == "" {
		mode = ModeRandom
	}
	return &Dealer{mode: mode, rnd: rand.New(rand.NewSource(seed))}
}

// DefaultMode 当前默认模式
func (d *Dealer) DefaultMode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// SetDefaultMode 修改默认模式（管理接口使用）
func (d *Dealer) SetDefaultMode(m Mode) {
	if m == "" {
		return
	}
	d.mu.Lock()
	d.mode = m
	d.mu.Unlock()
}

// Assign 按模式取前 n 个奖品；mode 为空时用默认模式
func (d *Dealer) Assign(mode Mode, n int) []Prize {
	if n <= 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if mode == "" {
		mode = d.mode
	}
	names, ok := presets[mode]
	if !ok {
		return d.shuffledLocked(n)
	}
	out := make([]Prize, 0, n)
	for _, name := range names {
		if len(out) == n {
			break
		}
		if p, ok := prizeByName(name); ok {
			out = append(out, p)
		}
	}
	return out
}

func (d *Dealer) shuffledLocked(n int) []Prize {
	all := make([]Prize, len(Catalog))
	copy(all, Catalog)
	d.rnd.Shuffle(len(all), func(i, j int) {
		all[i], all[j] = all[j], all[i]
	})
	if n > len(all) {
		n = len(all)
	}
	return all[:n]
}

func prizeByName(name string) (Prize, bool) {
	for _, p := range Catalog {
		if p.Name == name {
			return p, true
		}
	}
	return Prize{}, false
}
