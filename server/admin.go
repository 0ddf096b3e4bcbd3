package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bongobox/game"
)

// adminConfig 可热更新的规则；POST 时只更新出现的字段
type adminConfig struct {
	PrizeMode         *string `json:"prizeMode,omitempty"`
	MaxMembersPerRoom *int    `json:"maxMembersPerRoom,omitempty"`
}

// handleGetConfig GET /admin/config 返回当前配置
func (s *Server) handleGetConfig(c *gin.Context) {
	mode := string(s.dealer.DefaultMode())
	limit := s.registry.MaxMembers()
	c.JSON(http.StatusOK, adminConfig{PrizeMode: &mode, MaxMembersPerRoom: &limit})
}

// handleUpdateConfig POST /admin/config 以 JSON 载荷更新部分字段。
// 新的奖品模式只影响之后创建或重置的网格。
func (s *Server) handleUpdateConfig(c *gin.Context) {
	var body adminConfig
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var mode game.Mode
	if body.PrizeMode != nil {
		m, err := game.ParseMode(*body.PrizeMode)
		if err != nil || m == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown prizeMode"})
			return
		}
		mode = m
	}
	if body.MaxMembersPerRoom != nil && *body.MaxMembersPerRoom < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "maxMembersPerRoom must be >= 0"})
		return
	}

	if mode != "" {
		s.dealer.SetDefaultMode(mode)
	}
	if body.MaxMembersPerRoom != nil {
		s.registry.SetMaxMembers(*body.MaxMembersPerRoom)
	}
	s.log.Infow("config updated", "prizeMode", s.dealer.DefaultMode(), "maxMembersPerRoom", s.registry.MaxMembers())
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
