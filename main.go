package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"bongobox/server"
)

// 入口：启动 HTTP + WebSocket 服务，Ctrl+C 优雅退出
func main() {
	cfg := server.LoadConfig()
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "server listen address, e.g. :3001")
	flag.Parse()

	log, err := server.InitLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer server.SyncLogger(log)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Errorw("init server", "err", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Errorw("server stopped", "err", err)
		return
	}
	log.Info("bye")
}
