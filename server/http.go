package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bongobox/game"
)

const shutdownTimeout = 10 * time.Second

// Server 把注册表、路由、限流与 HTTP 入口装配在一起
type Server struct {
	cfg      *Config
	log      *zap.SugaredLogger
	metrics  *Metrics
	dealer   *game.Dealer
	registry *Registry
	router   *Router
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	engine   *gin.Engine
	started  time.Time

	connMu sync.Mutex
	conns  map[*ClientConn]struct{}
}

func New(cfg *Config, log *zap.SugaredLogger) (*Server, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	mode, err := game.ParseMode(cfg.PrizeMode)
	if err != nil {
		return nil, fmt.Errorf("prize mode: %w", err)
	}
	if mode == "" {
		mode = game.ModeRandom
	}

	metrics := &Metrics{}
	dealer := game.NewDealer(mode, time.Now().UnixNano())
	registry := NewRegistry(dealer, metrics, log)
	registry.SetMaxMembers(cfg.MaxMembersPerRoom)

	s := &Server{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		dealer:   dealer,
		registry: registry,
		router:   NewRouter(log, metrics),
		limiter:  NewRateLimiter(cfg.RateLimitPerIP),
		upgrader: newUpgrader(),
		started:  time.Now(),
		conns:    make(map[*ClientConn]struct{}),
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Registry() *Registry { return s.registry }

func (s *Server) Metrics() *Metrics { return s.metrics }

// Run 监听 cfg.Addr 并服务，ctx 取消后优雅退出
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve 在给定 listener 上启动 HTTP 服务与后台清理协程。
// 请求的 context 派生自 ctx，取消时 SSE 这类长连接请求也会随之结束。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go s.limiter.Run(ctx)
	go s.registry.StartSweeper(ctx, s.cfg.SweepInterval, s.cfg.EmptyRoomTTL)

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("listening", "addr", ln.Addr().String(), "prizeMode", s.dealer.DefaultMode(), "maxMembers", s.registry.MaxMembers())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	s.closeConns()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/ws", s.handleWS)
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", s.handleMetrics)

	rooms := r.Group("/rooms")
	rooms.GET("", s.handleListRooms)
	rooms.POST("", s.handleCreateRoom)
	rooms.GET("/:id", s.handleGetRoom)
	rooms.GET("/:id/events", s.handleRoomEvents)

	admin := r.Group("/admin")
	admin.GET("/config", s.handleGetConfig)
	admin.POST("/config", s.handleUpdateConfig)

	// 前后端分离：其余路径映射到 web 目录的静态资源
	r.NoRoute(gin.WrapH(http.FileServer(http.Dir(s.cfg.WebDir))))
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugw("http",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"ip", c.ClientIP(),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"activeRooms": s.registry.RoomCount(),
		"uptime":      time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"rooms":      s.registry.RoomCount(),
		"trackedIPs": s.limiter.Len(),
		"metrics":    s.metrics.Snapshot(),
	})
}

func (s *Server) handleListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": s.registry.Rooms()})
}

// handleCreateRoom 分配一个新房间码；房间在有人加入前可被清理协程回收
func (s *Server) handleCreateRoom(c *gin.Context) {
	r := s.registry.CreateRoom()
	c.JSON(http.StatusCreated, gin.H{
		"roomId": r.ID,
		"state":  r.Snapshot(),
	})
}

// handleGetRoom 只读查询，不会创建房间
func (s *Server) handleGetRoom(c *gin.Context) {
	r, ok := s.registry.GetRoom(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary": r.Summary(),
		"state":   r.Snapshot(),
	})
}

// handleRoomEvents 旁观者的 SSE 流：先推一次完整状态，之后镜像房间广播
func (s *Server) handleRoomEvents(c *gin.Context) {
	r, ok := s.registry.GetRoom(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	sub := r.Subscribe()
	defer sub.Cancel()

	initial, err := encodeEvent(EventGameStateUpdate, r.Snapshot())
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	first := true
	c.Stream(func(w io.Writer) bool {
		if first {
			first = false
			c.SSEvent(EventGameStateUpdate, string(initial))
			return true
		}
		select {
		case <-c.Request.Context().Done():
			return false
		case f, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(f.Event, string(f.Data))
			return true
		}
	})
}
