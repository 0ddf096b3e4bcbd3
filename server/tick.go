package server

import (
	"context"
	"time"
)

// StartSweeper 定期清理长时间无人的房间（只被查询或通过 POST /rooms 创建、始终没人加入的房间）。
// 阻塞直到 ctx 取消。
func (g *Registry) StartSweeper(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 || ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := g.SweepIdle(now, ttl); n > 0 {
				g.log.Infow("swept idle rooms", "count", n, "remaining", g.RoomCount())
			}
		}
	}
}
